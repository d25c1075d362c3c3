package operators

// Bound is a Lipschitz bound split by subspace. Invariant covers the payload
// torus and the resonance tag, Kinetic covers the three scale bands.
type Bound struct {
	Invariant float64 `json:"invariant"`
	Kinetic   float64 `json:"kinetic"`
}

// Then returns the bound of applying b after a.
func (a Bound) Then(b Bound) Bound {
	return Bound{
		Invariant: a.Invariant * b.Invariant,
		Kinetic:   a.Kinetic * b.Kinetic,
	}
}

// Identity is the bound of an operator that moves nothing.
var Identity = Bound{Invariant: 1, Kinetic: 1}
