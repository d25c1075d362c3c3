package operators

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/VanDung-dev/OMEGA-Engine/omega-engine/core"
)

const (
	rankTolerance  = 1e-12
	projectionSnap = 1e-9
	tagAxis        = 0
)

// PfadinvarianzOperator projects the network-state coordinates onto the
// invariant subspace Γ. The payload subspace passes through unchanged.
type PfadinvarianzOperator struct {
	proj *mat.Dense
	rank int
}

// NewPfadinvarianzOperator orthonormalises the basis with a QR factorisation
// and builds the projection B·Bᵀ. The basis must be linearly independent,
// contain the tag axis and be orthogonal to every kinetic band.
func NewPfadinvarianzOperator(p PfadinvarianzParams) (*PfadinvarianzOperator, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	n, k := core.NetworkStateDims, len(p.Basis)
	cols := mat.NewDense(n, k, nil)
	for j, b := range p.Basis {
		for i, x := range b {
			if math.IsNaN(x) || math.IsInf(x, 0) {
				return nil, invalid("pfadinvarianz basis vector %d is not finite", j)
			}
			cols.Set(i, j, x)
		}
	}

	var qr mat.QR
	qr.Factorize(cols)
	var r, q mat.Dense
	qr.RTo(&r)
	qr.QTo(&q)
	for i := 0; i < k; i++ {
		if math.Abs(r.At(i, i)) < rankTolerance {
			return nil, invalid("pfadinvarianz basis is linearly dependent")
		}
	}

	orth := q.Slice(0, n, 0, k)
	proj := mat.NewDense(n, n, nil)
	proj.Mul(orth, orth.T())

	// Γ must hold the tag and be invariant under the band operators.
	if math.Abs(proj.At(tagAxis, tagAxis)-1) > 1e-9 {
		return nil, invalid("pfadinvarianz basis does not contain the tag axis")
	}
	for band := 1; band < n; band++ {
		for i := 0; i < n; i++ {
			if math.Abs(proj.At(i, band)) > 1e-9 {
				return nil, invalid("pfadinvarianz basis is not orthogonal to the %s band", core.Band(band-1))
			}
		}
	}

	// Snap rounding noise so the tag passes through bit-exact; the mask
	// derivation on the receive side is keyed by it.
	proj.Apply(func(_, _ int, v float64) float64 {
		if r := math.Round(v); math.Abs(v-r) < projectionSnap {
			return r
		}
		return v
	}, proj)
	return &PfadinvarianzOperator{proj: proj, rank: k}, nil
}

// Project applies the projection. It is idempotent.
func (p *PfadinvarianzOperator) Project(v core.Vector) core.Vector {
	ns := v.NetworkState()
	x := mat.NewVecDense(core.NetworkStateDims, ns[:])
	var y mat.VecDense
	y.MulVec(p.proj, x)

	for i := range ns {
		ns[i] = y.AtVec(i)
	}
	v.SetNetworkState(ns)
	return v
}

// Rank is the dimension of Γ within the network-state coordinates.
func (p *PfadinvarianzOperator) Rank() int {
	return p.rank
}

// Lipschitz: an orthogonal projection is 1-Lipschitz on Γ and annihilates
// the kinetic bands.
func (p *PfadinvarianzOperator) Lipschitz() Bound {
	return Bound{Invariant: 1, Kinetic: 0}
}
