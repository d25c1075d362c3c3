package operators

import (
	"math"
	"time"

	"github.com/VanDung-dev/OMEGA-Engine/omega-engine/core"
)

// SweepOperator clips the kinetic bands to a time-dependent threshold τ(t).
type SweepOperator struct {
	params SweepParams
}

// NewSweepOperator validates p. Valid parameters keep τ(t) > 0 for every t.
func NewSweepOperator(p SweepParams) (*SweepOperator, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &SweepOperator{params: p}, nil
}

// Threshold returns τ(t).
func (s *SweepOperator) Threshold(t time.Duration) float64 {
	phase := t.Seconds() / s.params.PeriodSeconds
	var shape float64
	switch s.params.Schedule {
	case ScheduleLinear:
		shape = 1 - 2*(phase-math.Floor(phase))
	default:
		shape = math.Cos(2 * math.Pi * phase)
	}
	return s.params.Tau0 * (1 + s.params.Beta*shape)
}

// Apply clips every band whose magnitude exceeds τ(t) to ±τ(t).
func (s *SweepOperator) Apply(v core.Vector, t time.Duration) core.Vector {
	tau := s.Threshold(t)
	b := v.Bands()
	for i, x := range b {
		switch {
		case x > tau:
			b[i] = tau
		case x < -tau:
			b[i] = -tau
		}
	}
	v.SetBands(b)
	return v
}

// Lipschitz: clipping is 1-Lipschitz and the invariant subspace is untouched.
func (s *SweepOperator) Lipschitz() Bound {
	return Identity
}
