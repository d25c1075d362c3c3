package operators

import (
	"math"

	"github.com/VanDung-dev/OMEGA-Engine/omega-engine/core"
)

// matchSlack absorbs float rounding when a receiver sits exactly at the
// tolerance edge.
const matchSlack = 1e-9

// ResonanceOperator tags vectors with a target frequency and decides
// delivery by frequency distance. There is no address field.
type ResonanceOperator struct {
	params ResonanceParams
}

// NewResonanceOperator validates p.
func NewResonanceOperator(p ResonanceParams) (*ResonanceOperator, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &ResonanceOperator{params: p}, nil
}

// EncodeTarget writes f into the tag axis.
func (r *ResonanceOperator) EncodeTarget(v core.Vector, f float64) core.Vector {
	v.SetTag(f)
	return v
}

// Matches reports whether v resonates with a receiver tuned to local.
func (r *ResonanceOperator) Matches(v core.Vector, local, tol float64) bool {
	tag := v.Tag()
	if math.IsNaN(tag) || math.IsInf(tag, 0) {
		return false
	}
	return r.Distance(tag, local) <= tol+matchSlack*math.Max(1, math.Abs(tol))
}

// Distance is |tag - local|, or the modular distance when a wrap period is
// configured.
func (r *ResonanceOperator) Distance(tag, local float64) float64 {
	d := math.Abs(tag - local)
	if w := r.params.Wrap; w > 0 {
		d = math.Mod(d, w)
		d = math.Min(d, w-d)
	}
	return d
}

// Tolerance is the configured receive tolerance.
func (r *ResonanceOperator) Tolerance() float64 {
	return r.params.Epsilon
}

// Lipschitz: the tag becomes a constant and nothing else moves.
func (r *ResonanceOperator) Lipschitz() Bound {
	return Identity
}
