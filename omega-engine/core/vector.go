package core

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"math"
	"math/cmplx"
)

const (
	// Dimension is the number of complex components of a Vector.
	Dimension = 5

	// PayloadSlots is the number of real torus coordinates carrying payload.
	PayloadSlots = 6

	// KineticBands is the number of scale bands in the network-state subspace.
	KineticBands = 3

	// NetworkStateDims counts the real network-state coordinates (tag + bands).
	NetworkStateDims = 1 + KineticBands

	// NonceSize is the length of the in-band per-message nonce.
	NonceSize = 16
)

// Nonce is the per-message salt carried next to the components.
type Nonce [NonceSize]byte

// NewNonce returns a nonce whose first eight bytes carry the epoch and whose
// remaining bytes are random.
func NewNonce(epoch uint64) (Nonce, error) {
	var n Nonce
	binary.BigEndian.PutUint64(n[:8], epoch)
	if _, err := rand.Read(n[8:]); err != nil {
		return Nonce{}, err
	}
	return n, nil
}

// Epoch returns the epoch stamped into the nonce.
func (n Nonce) Epoch() uint64 {
	return binary.BigEndian.Uint64(n[:8])
}

func (n Nonce) String() string {
	return hex.EncodeToString(n[:])
}

// Band identifies one of the kinetic scale bands.
type Band int

const (
	Micro Band = iota
	Meso
	Macro
)

func (b Band) String() string {
	switch b {
	case Micro:
		return "micro"
	case Meso:
		return "meso"
	case Macro:
		return "macro"
	default:
		return "unknown"
	}
}

// Vector is the broadcast unit.
//
// Components 0..2 hold the payload as six real slots on the unit torus.
// Component 3 holds the resonance tag (real) and the micro band (imaginary),
// component 4 holds the meso (real) and macro (imaginary) bands.
type Vector struct {
	Components [Dimension]complex128
	Nonce      Nonce
}

// Payload returns the six payload slots in order re(c0), im(c0), re(c1), ...
func (v Vector) Payload() [PayloadSlots]float64 {
	var s [PayloadSlots]float64
	for i := 0; i < PayloadSlots/2; i++ {
		s[2*i] = real(v.Components[i])
		s[2*i+1] = imag(v.Components[i])
	}
	return s
}

// SetPayload overwrites the payload subspace.
func (v *Vector) SetPayload(s [PayloadSlots]float64) {
	for i := 0; i < PayloadSlots/2; i++ {
		v.Components[i] = complex(s[2*i], s[2*i+1])
	}
}

// Tag returns the resonance tag.
func (v Vector) Tag() float64 {
	return real(v.Components[3])
}

// SetTag overwrites the resonance tag.
func (v *Vector) SetTag(f float64) {
	v.Components[3] = complex(f, imag(v.Components[3]))
}

// Bands returns the micro, meso and macro amplitudes.
func (v Vector) Bands() [KineticBands]float64 {
	return [KineticBands]float64{
		imag(v.Components[3]),
		real(v.Components[4]),
		imag(v.Components[4]),
	}
}

// SetBands overwrites the kinetic subspace.
func (v *Vector) SetBands(b [KineticBands]float64) {
	v.Components[3] = complex(real(v.Components[3]), b[Micro])
	v.Components[4] = complex(b[Meso], b[Macro])
}

// NetworkState returns (tag, micro, meso, macro).
func (v Vector) NetworkState() [NetworkStateDims]float64 {
	b := v.Bands()
	return [NetworkStateDims]float64{v.Tag(), b[Micro], b[Meso], b[Macro]}
}

// SetNetworkState overwrites (tag, micro, meso, macro).
func (v *Vector) SetNetworkState(s [NetworkStateDims]float64) {
	v.Components[3] = complex(s[0], s[1])
	v.Components[4] = complex(s[2], s[3])
}

// BandEnergy is the sum of squared band amplitudes.
func (v Vector) BandEnergy() float64 {
	var e float64
	for _, b := range v.Bands() {
		e += b * b
	}
	return e
}

// IsFinite reports whether every component is free of NaN and Inf.
func (v Vector) IsFinite() bool {
	for _, c := range v.Components {
		if cmplx.IsNaN(c) || cmplx.IsInf(c) {
			return false
		}
	}
	return true
}

// Distance is the Euclidean distance over the ten real coordinates.
func Distance(a, b Vector) float64 {
	var sum float64
	for i := range a.Components {
		d := cmplx.Abs(a.Components[i] - b.Components[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

// PayloadDistance is the largest torus distance between matching payload slots.
func PayloadDistance(a, b Vector) float64 {
	pa, pb := a.Payload(), b.Payload()
	var worst float64
	for i := range pa {
		if d := TorusDistance(pa[i], pb[i]); d > worst {
			worst = d
		}
	}
	return worst
}

// Wrap reduces x onto the unit torus [0, 1).
func Wrap(x float64) float64 {
	y := x - math.Floor(x)
	if y >= 1 {
		return 0
	}
	return y
}

// TorusDistance is the shortest distance between a and b on the unit circle.
func TorusDistance(a, b float64) float64 {
	d := math.Abs(Wrap(a) - Wrap(b))
	return math.Min(d, 1-d)
}
