package operators

import (
	"math"

	"github.com/VanDung-dev/OMEGA-Engine/omega-engine/core"
)

var (
	defaultKick1 = []float64{1, 1, 1}
	defaultKick2 = []float64{1, -1, 0}
)

// DoubleKickOperator adds two orthogonal impulses to the kinetic bands.
type DoubleKickOperator struct {
	impulse [core.KineticBands]float64
	norm    float64
}

// NewDoubleKickOperator normalises the directions and requires them to be
// orthogonal.
func NewDoubleKickOperator(p DoubleKickParams) (*DoubleKickOperator, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	d1, d2 := p.Direction1, p.Direction2
	if d1 == nil {
		d1 = defaultKick1
	}
	if d2 == nil {
		d2 = defaultKick2
	}
	u1, ok1 := unit(d1)
	u2, ok2 := unit(d2)
	if !ok1 || !ok2 {
		return nil, invalid("doublekick directions must be non-zero and finite")
	}
	var dot float64
	for i := range u1 {
		dot += u1[i] * u2[i]
	}
	if math.Abs(dot) > 1e-9 {
		return nil, invalid("doublekick directions are not orthogonal (dot %g)", dot)
	}

	k := &DoubleKickOperator{norm: math.Hypot(p.Alpha1, p.Alpha2)}
	for i := range k.impulse {
		k.impulse[i] = p.Alpha1*u1[i] + p.Alpha2*u2[i]
	}
	return k, nil
}

func unit(d []float64) ([core.KineticBands]float64, bool) {
	var u [core.KineticBands]float64
	var n float64
	for _, x := range d {
		n += x * x
	}
	n = math.Sqrt(n)
	if n == 0 || math.IsNaN(n) || math.IsInf(n, 0) {
		return u, false
	}
	for i, x := range d {
		u[i] = x / n
	}
	return u, true
}

// Apply returns v + α1·u1 + α2·u2 on the bands.
func (k *DoubleKickOperator) Apply(v core.Vector) core.Vector {
	b := v.Bands()
	for i := range b {
		b[i] += k.impulse[i]
	}
	v.SetBands(b)
	return v
}

// Impulse is the combined band increment.
func (k *DoubleKickOperator) Impulse() [core.KineticBands]float64 {
	return k.impulse
}

// IncrementNorm is ‖Apply(v) − v‖ = √(α1² + α2²).
func (k *DoubleKickOperator) IncrementNorm() float64 {
	return k.norm
}

// Lipschitz: a translation.
func (k *DoubleKickOperator) Lipschitz() Bound {
	return Identity
}
