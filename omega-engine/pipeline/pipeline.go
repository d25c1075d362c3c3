// Package pipeline composes the OMEGA operators into the transmit and
// receive state machines.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/VanDung-dev/OMEGA-Engine/omega-engine/core"
	"github.com/VanDung-dev/OMEGA-Engine/omega-engine/operators"
)

// Outcome is the result of a receive run that did not fail.
type Outcome struct {
	State   State
	Payload []byte
	// Distance between the vector's tag and the local frequency.
	Distance float64
}

// Delivered reports whether the payload was recovered.
func (o Outcome) Delivered() bool {
	return o.State == StateDelivered
}

// Pipeline owns one instance of every operator. It holds no per-run state
// and is safe for concurrent use.
type Pipeline struct {
	codec     core.VectorCodec
	masking   *operators.MaskingOperator
	resonance *operators.ResonanceOperator
	sweep     *operators.SweepOperator
	pfad      *operators.PfadinvarianzOperator
	weight    *operators.WeightTransferOperator
	kick      *operators.DoubleKickOperator
	observer  Observer
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithObserver registers a callback for state transitions.
func WithObserver(o Observer) Option {
	return func(p *Pipeline) {
		p.observer = o
	}
}

// New validates params and builds every operator. Any configuration failure
// wraps core.ErrInvalidParams.
func New(params operators.OperatorParams, keys *operators.Keyring, opts ...Option) (*Pipeline, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	p := &Pipeline{}
	var err error
	if p.masking, err = operators.NewMaskingOperator(keys); err != nil {
		return nil, err
	}
	if p.resonance, err = operators.NewResonanceOperator(params.Resonance); err != nil {
		return nil, err
	}
	if p.sweep, err = operators.NewSweepOperator(params.Sweep); err != nil {
		return nil, err
	}
	if p.pfad, err = operators.NewPfadinvarianzOperator(params.Pfadinvarianz); err != nil {
		return nil, err
	}
	if p.weight, err = operators.NewWeightTransferOperator(params.WeightTransfer); err != nil {
		return nil, err
	}
	if p.kick, err = operators.NewDoubleKickOperator(params.DoubleKick); err != nil {
		return nil, err
	}

	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func (p *Pipeline) enter(ctx context.Context, s State) error {
	if !s.Terminal() && s != StateIdle {
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	if p.observer != nil {
		p.observer(s)
	}
	return nil
}

// Transmit turns payload into a broadcastable vector addressed to target.
// t is the sender's elapsed schedule time.
func (p *Pipeline) Transmit(ctx context.Context, payload []byte, target float64, nonce core.Nonce, t time.Duration) (core.Vector, error) {
	_ = p.enter(ctx, StateIdle)

	if err := p.enter(ctx, StateEncoding); err != nil {
		return core.Vector{}, err
	}
	v, err := p.codec.Encode(payload)
	if err != nil {
		return core.Vector{}, err
	}
	v.Nonce = nonce

	if err := p.enter(ctx, StateMasking); err != nil {
		return core.Vector{}, err
	}
	params, err := p.masking.Derive(target, nonce)
	if err != nil {
		return core.Vector{}, err
	}
	v = p.masking.Mask(v, params)
	v = p.resonance.EncodeTarget(v, target)

	if err := p.enter(ctx, StateSweeping); err != nil {
		return core.Vector{}, err
	}
	v = p.sweep.Apply(v, t)

	if err := p.enter(ctx, StateProjectingInvariant); err != nil {
		return core.Vector{}, err
	}
	v = p.pfad.Project(v)

	if err := p.enter(ctx, StateTransferringWeight); err != nil {
		return core.Vector{}, err
	}
	v = p.weight.Apply(v)

	if err := p.enter(ctx, StateKicking); err != nil {
		return core.Vector{}, err
	}
	v = p.kick.Apply(v)

	_ = p.enter(ctx, StateBroadcast)
	return v, nil
}

// Receive runs an inbound vector against the local frequency. A vector that
// does not resonate ends in StateDiscarded without error. A resonant vector
// that does not carry a valid codeword returns core.ErrMalformedVector, and
// so does any vector with a NaN or Inf component, resonant or not.
func (p *Pipeline) Receive(ctx context.Context, v core.Vector, local float64) (Outcome, error) {
	_ = p.enter(ctx, StateIdle)

	if err := p.enter(ctx, StateProjectingInvariant); err != nil {
		return Outcome{}, err
	}
	// The projection would turn an infinite band into a NaN tag.
	if !v.IsFinite() {
		return Outcome{}, fmt.Errorf("%w: non-finite component", core.ErrMalformedVector)
	}
	v = p.pfad.Project(v)

	if err := p.enter(ctx, StateMatchingResonance); err != nil {
		return Outcome{}, err
	}
	out := Outcome{Distance: p.resonance.Distance(v.Tag(), local)}
	if !p.resonance.Matches(v, local, p.resonance.Tolerance()) {
		out.State = StateDiscarded
		_ = p.enter(ctx, StateDiscarded)
		return out, nil
	}

	if err := p.enter(ctx, StateDecoding); err != nil {
		return Outcome{}, err
	}
	if err := p.codec.Validate(v); err != nil {
		return Outcome{}, err
	}

	if err := p.enter(ctx, StateUnmasking); err != nil {
		return Outcome{}, err
	}
	// The sender keyed the mask to the tag it wrote, not to our frequency.
	params, err := p.masking.Derive(v.Tag(), v.Nonce)
	if err != nil {
		return Outcome{}, err
	}
	payload, err := p.codec.Decode(p.masking.Unmask(v, params))
	if err != nil {
		return Outcome{}, err
	}

	out.State = StateDelivered
	out.Payload = payload
	_ = p.enter(ctx, StateDelivered)
	return out, nil
}

// Compose applies Ω = Resonance ∘ Sweep ∘ Pfadinvarianz ∘ WeightTransfer ∘
// DoubleKick to v. The payload passes through unchanged.
func (p *Pipeline) Compose(v core.Vector, target float64, t time.Duration) core.Vector {
	v = p.kick.Apply(v)
	v = p.weight.Apply(v)
	v = p.pfad.Project(v)
	v = p.sweep.Apply(v, t)
	return p.resonance.EncodeTarget(v, target)
}

// ContractionBound is the Lipschitz bound of Compose per subspace. The
// projection annihilates the bands, so the kinetic bound is zero and Ω
// reaches its fixed point there in one step. On the invariant subspace the
// bound is one; convergence there follows from Ω∘Ω = Ω.
func (p *Pipeline) ContractionBound() operators.Bound {
	return p.kick.Lipschitz().
		Then(p.weight.Lipschitz()).
		Then(p.pfad.Lipschitz()).
		Then(p.sweep.Lipschitz()).
		Then(p.resonance.Lipschitz())
}

// Tolerance is the receive tolerance around the local frequency.
func (p *Pipeline) Tolerance() float64 {
	return p.resonance.Tolerance()
}

// Threshold exposes the sweep threshold at schedule time t.
func (p *Pipeline) Threshold(t time.Duration) float64 {
	return p.sweep.Threshold(t)
}
