package operators

import (
	"errors"
	"fmt"
	"math"

	"github.com/VanDung-dev/OMEGA-Engine/omega-engine/core"
)

// ScheduleKind selects the shape of the sweep threshold over time.
type ScheduleKind string

const (
	ScheduleCosine ScheduleKind = "cosine"
	ScheduleLinear ScheduleKind = "linear"
)

// ResonanceParams configures frequency matching.
type ResonanceParams struct {
	// Epsilon is the receive tolerance around the local frequency.
	Epsilon float64 `toml:"epsilon" json:"epsilon"`
	// Wrap, when positive, makes frequency distance modular with this period.
	Wrap float64 `toml:"wrap" json:"wrap"`
}

// SweepParams configures the time-dependent band threshold.
type SweepParams struct {
	Tau0          float64      `toml:"tau0" json:"tau0"`
	Beta          float64      `toml:"beta" json:"beta"`
	Schedule      ScheduleKind `toml:"schedule" json:"schedule"`
	PeriodSeconds float64      `toml:"period_seconds" json:"period_seconds"`
}

// PfadinvarianzParams holds the spanning set of the invariant subspace over
// the network-state coordinates (tag, micro, meso, macro).
type PfadinvarianzParams struct {
	Basis [][]float64 `toml:"basis" json:"basis"`
}

// LevelWeights are the convex weights of the three scale levels.
type LevelWeights struct {
	Micro float64 `toml:"micro" json:"micro"`
	Meso  float64 `toml:"meso" json:"meso"`
	Macro float64 `toml:"macro" json:"macro"`
}

// WeightTransferParams configures the band mixing.
type WeightTransferParams struct {
	Gamma  float64      `toml:"gamma" json:"gamma"`
	Levels LevelWeights `toml:"levels" json:"levels"`
}

// DoubleKickParams configures the two orthogonal impulses. Empty directions
// select the defaults (1,1,1)/√3 and (1,-1,0)/√2.
type DoubleKickParams struct {
	Alpha1     float64   `toml:"alpha1" json:"alpha1"`
	Alpha2     float64   `toml:"alpha2" json:"alpha2"`
	Direction1 []float64 `toml:"direction1" json:"direction1,omitempty"`
	Direction2 []float64 `toml:"direction2" json:"direction2,omitempty"`
}

// OperatorParams bundles the parameters of every vector operator.
type OperatorParams struct {
	Resonance      ResonanceParams      `toml:"resonance" json:"resonance"`
	Sweep          SweepParams          `toml:"sweep" json:"sweep"`
	Pfadinvarianz  PfadinvarianzParams  `toml:"pfadinvarianz" json:"pfadinvarianz"`
	WeightTransfer WeightTransferParams `toml:"weight_transfer" json:"weight_transfer"`
	DoubleKick     DoubleKickParams     `toml:"doublekick" json:"doublekick"`
}

// DefaultOperatorParams returns the reference parameter set.
func DefaultOperatorParams() OperatorParams {
	return OperatorParams{
		Resonance: ResonanceParams{
			Epsilon: 0.1,
		},
		Sweep: SweepParams{
			Tau0:          0.5,
			Beta:          0.1,
			Schedule:      ScheduleCosine,
			PeriodSeconds: 60,
		},
		Pfadinvarianz: PfadinvarianzParams{
			Basis: [][]float64{{1, 0, 0, 0}},
		},
		WeightTransfer: WeightTransferParams{
			Gamma: 0.3,
			Levels: LevelWeights{
				Micro: 0.2,
				Meso:  0.5,
				Macro: 0.3,
			},
		},
		DoubleKick: DoubleKickParams{
			Alpha1: 0.05,
			Alpha2: -0.03,
		},
	}
}

// Validate checks every operator's parameters and joins the failures.
func (p OperatorParams) Validate() error {
	return errors.Join(
		p.Resonance.Validate(),
		p.Sweep.Validate(),
		p.Pfadinvarianz.Validate(),
		p.WeightTransfer.Validate(),
		p.DoubleKick.Validate(),
	)
}

func (p ResonanceParams) Validate() error {
	if !(p.Epsilon > 0) || isInf(p.Epsilon) {
		return invalid("resonance epsilon must be positive and finite, got %g", p.Epsilon)
	}
	if !(p.Wrap >= 0) || isInf(p.Wrap) {
		return invalid("resonance wrap must be non-negative and finite, got %g", p.Wrap)
	}
	return nil
}

func (p SweepParams) Validate() error {
	if !(p.Tau0 > 0) || isInf(p.Tau0) {
		return invalid("sweep tau0 must be positive and finite, got %g", p.Tau0)
	}
	// |β| < 1 keeps τ(t) = τ0(1 + β·s(t)) > 0 for s(t) ∈ [-1, 1].
	if !(p.Beta > -1 && p.Beta < 1) {
		return invalid("sweep beta must lie in (-1, 1), got %g", p.Beta)
	}
	if p.Schedule != ScheduleCosine && p.Schedule != ScheduleLinear {
		return invalid("unknown sweep schedule %q", p.Schedule)
	}
	if !(p.PeriodSeconds > 0) || isInf(p.PeriodSeconds) {
		return invalid("sweep period must be positive, got %g", p.PeriodSeconds)
	}
	return nil
}

func (p PfadinvarianzParams) Validate() error {
	if len(p.Basis) == 0 {
		return invalid("pfadinvarianz basis is empty")
	}
	if len(p.Basis) > core.NetworkStateDims {
		return invalid("pfadinvarianz basis has %d vectors, at most %d", len(p.Basis), core.NetworkStateDims)
	}
	for i, b := range p.Basis {
		if len(b) != core.NetworkStateDims {
			return invalid("pfadinvarianz basis vector %d has %d coordinates, want %d", i, len(b), core.NetworkStateDims)
		}
	}
	return nil
}

func (p WeightTransferParams) Validate() error {
	if !(p.Gamma >= 0 && p.Gamma <= 1) {
		return invalid("weight transfer gamma must lie in [0, 1], got %g", p.Gamma)
	}
	l := p.Levels
	if !(l.Micro >= 0 && l.Meso >= 0 && l.Macro >= 0) {
		return invalid("level weights must be non-negative, got %+v", l)
	}
	if sum := l.Micro + l.Meso + l.Macro; sum < 1-1e-9 || sum > 1+1e-9 {
		return invalid("level weights must sum to 1, got %g", sum)
	}
	return nil
}

func (p DoubleKickParams) Validate() error {
	if isInf(p.Alpha1) || isInf(p.Alpha2) || math.IsNaN(p.Alpha1) || math.IsNaN(p.Alpha2) {
		return invalid("doublekick magnitudes must be finite")
	}
	if p.Alpha1 == 0 && p.Alpha2 == 0 {
		return invalid("doublekick needs at least one non-zero impulse")
	}
	for i, d := range [][]float64{p.Direction1, p.Direction2} {
		if d != nil && len(d) != core.KineticBands {
			return invalid("doublekick direction%d has %d coordinates, want %d", i+1, len(d), core.KineticBands)
		}
	}
	return nil
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", core.ErrInvalidParams, fmt.Sprintf(format, args...))
}

func isInf(x float64) bool {
	return math.IsInf(x, 0)
}
