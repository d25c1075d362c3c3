package operators

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/VanDung-dev/OMEGA-Engine/omega-engine/core"
)

// WeightTransferOperator redistributes amplitude between the scale bands with
// an orthogonal mixing matrix, so band energy is conserved.
type WeightTransferOperator struct {
	params WeightTransferParams
	mix    *mat.Dense
}

// NewWeightTransferOperator builds the mixing matrix from three Givens
// rotations: micro↔meso by γπ·w_micro, meso↔macro by γπ·w_macro, then
// micro↔macro by γπ·w_meso.
func NewWeightTransferOperator(p WeightTransferParams) (*WeightTransferOperator, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	n := core.KineticBands
	mix := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		mix.Set(i, i, 1)
	}
	steps := []struct {
		i, j   core.Band
		weight float64
	}{
		{core.Micro, core.Meso, p.Levels.Micro},
		{core.Meso, core.Macro, p.Levels.Macro},
		{core.Micro, core.Macro, p.Levels.Meso},
	}
	for _, s := range steps {
		g := givens(n, int(s.i), int(s.j), p.Gamma*math.Pi*s.weight)
		var next mat.Dense
		next.Mul(g, mix)
		mix = &next
	}

	return &WeightTransferOperator{params: p, mix: mix}, nil
}

func givens(n, i, j int, angle float64) *mat.Dense {
	g := mat.NewDense(n, n, nil)
	for k := 0; k < n; k++ {
		g.Set(k, k, 1)
	}
	c, s := math.Cos(angle), math.Sin(angle)
	g.Set(i, i, c)
	g.Set(j, j, c)
	g.Set(i, j, -s)
	g.Set(j, i, s)
	return g
}

// Apply mixes the bands. The payload subspace and the tag are untouched.
func (w *WeightTransferOperator) Apply(v core.Vector) core.Vector {
	b := v.Bands()
	var y mat.VecDense
	y.MulVec(w.mix, mat.NewVecDense(core.KineticBands, b[:]))
	for i := range b {
		b[i] = y.AtVec(i)
	}
	v.SetBands(b)
	return v
}

// Weights returns the convex level weights.
func (w *WeightTransferOperator) Weights() map[core.Band]float64 {
	return map[core.Band]float64{
		core.Micro: w.params.Levels.Micro,
		core.Meso:  w.params.Levels.Meso,
		core.Macro: w.params.Levels.Macro,
	}
}

// Lipschitz: the mixing matrix is orthogonal.
func (w *WeightTransferOperator) Lipschitz() Bound {
	return Identity
}
