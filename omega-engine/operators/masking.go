package operators

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/sha3"

	"github.com/VanDung-dev/OMEGA-Engine/omega-engine/core"
)

const (
	// MinSecretBytes is the shortest accepted derivation secret.
	MinSecretBytes = 16

	deriveInfo     = "omega-mask-v1"
	scheduleDomain = "omega-mask-schedule-v1"
)

// EphemeralParams are the per-message masking parameters. Theta is the
// rotation angle, Sigma seeds the slot permutation and the keyed pad.
type EphemeralParams struct {
	Theta float64
	Sigma [32]byte
}

// Keyring maps target frequencies to pre-shared derivation secrets. A
// frequency without an entry uses the default network secret.
type Keyring struct {
	def    []byte
	byFreq map[uint64][]byte
}

// NewKeyring validates and copies the secrets. The keyring is immutable
// afterwards.
func NewKeyring(defaultSecret []byte, perFrequency map[float64][]byte) (*Keyring, error) {
	if err := validateSecret(defaultSecret); err != nil {
		return nil, fmt.Errorf("default secret: %w", err)
	}
	k := &Keyring{
		def:    bytes.Clone(defaultSecret),
		byFreq: make(map[uint64][]byte, len(perFrequency)),
	}
	for f, s := range perFrequency {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, invalid("keyring frequency %g is not finite", f)
		}
		if err := validateSecret(s); err != nil {
			return nil, fmt.Errorf("secret for frequency %g: %w", f, err)
		}
		k.byFreq[frequencyKey(f)] = bytes.Clone(s)
	}
	return k, nil
}

// Secret returns the secret bound to frequency f.
func (k *Keyring) Secret(f float64) []byte {
	if s, ok := k.byFreq[frequencyKey(f)]; ok {
		return s
	}
	return k.def
}

// Len is the number of frequency-specific secrets.
func (k *Keyring) Len() int {
	return len(k.byFreq)
}

func validateSecret(s []byte) error {
	if len(s) < MinSecretBytes {
		return invalid("secret has %d bytes, need at least %d", len(s), MinSecretBytes)
	}
	for _, b := range s {
		if b != 0 {
			return nil
		}
	}
	return invalid("secret is all zero")
}

// frequencyKey folds -0 into +0 so both spellings share a key.
func frequencyKey(f float64) uint64 {
	if f == 0 {
		f = 0
	}
	return math.Float64bits(f)
}

// MaskingOperator derives per-message parameters from a keyring and masks
// the payload subspace with them. Masking is a bijection of the payload
// torus: exact on the codec lattice and accurate to rounding elsewhere.
type MaskingOperator struct {
	keys *Keyring
}

// NewMaskingOperator builds the operator and checks that the derivation
// produces a usable, invertible mask.
func NewMaskingOperator(keys *Keyring) (*MaskingOperator, error) {
	if keys == nil {
		return nil, invalid("masking needs a keyring")
	}
	m := &MaskingOperator{keys: keys}

	probe, err := core.VectorCodec{}.Encode([]byte("omega probe"))
	if err != nil {
		return nil, err
	}
	p, err := m.Derive(1, core.Nonce{})
	if err != nil {
		return nil, err
	}
	masked := m.Mask(probe, p)
	if core.PayloadDistance(masked, probe) == 0 {
		return nil, invalid("derived mask is the identity")
	}
	if core.PayloadDistance(m.Unmask(masked, p), probe) != 0 {
		return nil, invalid("derived mask is not invertible")
	}
	return m, nil
}

// Derive returns the parameters for a message to frequency f with the given
// nonce. It is deterministic for a fixed keyring.
func (m *MaskingOperator) Derive(f float64, nonce core.Nonce) (EphemeralParams, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return EphemeralParams{}, invalid("cannot derive for frequency %g", f)
	}

	info := make([]byte, 0, len(deriveInfo)+8)
	info = append(info, deriveInfo...)
	info = binary.BigEndian.AppendUint64(info, frequencyKey(f))

	kdf := hkdf.New(sha256.New, m.keys.Secret(f), nonce[:], info)
	var out [8 + 32]byte
	if _, err := io.ReadFull(kdf, out[:]); err != nil {
		return EphemeralParams{}, fmt.Errorf("derive: %w", err)
	}

	var p EphemeralParams
	// 53 random bits give a uniform angle in [0, 2π).
	u := float64(binary.BigEndian.Uint64(out[:8])>>11) / (1 << 53)
	p.Theta = 2 * math.Pi * u
	copy(p.Sigma[:], out[8:])
	return p, nil
}

// Mask permutes the payload slots, adds the keyed pad and rotates slot pairs
// by Theta. Network-state coordinates and the nonce are untouched.
//
// Slots are points on the unit torus: a slot outside [0, 1) is reduced
// modulo 1 first, so Unmask(Mask(v)) returns the reduced value (1.25 comes
// back as 0.25). Vectors produced by the codec always lie in [0, 1).
func (m *MaskingOperator) Mask(v core.Vector, p EphemeralParams) core.Vector {
	perm, pad := p.schedule()
	in := v.Payload()

	var s [core.PayloadSlots]float64
	for i, x := range in {
		s[perm[i]] = x
	}
	for i := range s {
		s[i] = core.Wrap(s[i] + pad[i])
	}
	for _, pr := range rotationPairs {
		s[pr[0]], s[pr[1]] = rotatePair(s[pr[0]], s[pr[1]], p.Theta)
	}

	v.SetPayload(s)
	return v
}

// Unmask inverts Mask for the same parameters.
func (m *MaskingOperator) Unmask(v core.Vector, p EphemeralParams) core.Vector {
	perm, pad := p.schedule()
	s := v.Payload()

	for i := len(rotationPairs) - 1; i >= 0; i-- {
		pr := rotationPairs[i]
		s[pr[0]], s[pr[1]] = unrotatePair(s[pr[0]], s[pr[1]], p.Theta)
	}
	for i := range s {
		s[i] = core.Wrap(s[i] - pad[i])
	}
	var out [core.PayloadSlots]float64
	for i := range out {
		out[i] = s[perm[i]]
	}

	v.SetPayload(out)
	return v
}

// Lipschitz reports the bound of Mask. It is an isometry of the torus up to
// lattice rounding and leaves the bands alone.
func (m *MaskingOperator) Lipschitz() Bound {
	return Identity
}

// rotationPairs lists the slot pairs in application order: the first three
// pairs are disjoint, the last three link them into a ring.
var rotationPairs = [...][2]int{{0, 1}, {2, 3}, {4, 5}, {1, 2}, {3, 4}, {5, 0}}

// schedule expands Sigma into the slot permutation and the lattice pad.
func (p EphemeralParams) schedule() (perm [core.PayloadSlots]int, pad [core.PayloadSlots]float64) {
	xof := sha3.NewShake256()
	_, _ = xof.Write([]byte(scheduleDomain))
	_, _ = xof.Write(p.Sigma[:])

	for i := range perm {
		perm[i] = i
	}
	for i := core.PayloadSlots - 1; i > 0; i-- {
		j := uniformIndex(xof, i+1)
		perm[i], perm[j] = perm[j], perm[i]
	}

	var buf [core.SlotBytes]byte
	for i := range pad {
		_, _ = io.ReadFull(xof, buf[:])
		var k uint64
		for _, b := range buf {
			k = k<<8 | uint64(b)
		}
		pad[i] = float64(k) / core.LatticeScale
	}
	return perm, pad
}

// uniformIndex draws an unbiased value in [0, n) by rejection sampling bytes.
func uniformIndex(r io.Reader, n int) int {
	limit := 256 - 256%n
	var b [1]byte
	for {
		_, _ = io.ReadFull(r, b[:])
		if int(b[0]) < limit {
			return int(b[0]) % n
		}
	}
}

// reduceAngle maps theta into [-π/2, π/2] and reports whether a half turn
// was split off. A half turn on the torus is exact negation.
func reduceAngle(theta float64) (flip bool, t float64) {
	t = math.Remainder(theta, 2*math.Pi)
	switch {
	case t > math.Pi/2:
		return true, t - math.Pi
	case t < -math.Pi/2:
		return true, t + math.Pi
	default:
		return false, t
	}
}

// rotatePair is a lifting rotation: three shears, each rounded to the
// lattice and reduced mod 1, so every step is exactly invertible.
func rotatePair(a, b, theta float64) (float64, float64) {
	flip, t := reduceAngle(theta)
	if flip {
		a, b = core.Wrap(-a), core.Wrap(-b)
	}
	p, q := -math.Tan(t/2), math.Sin(t)
	a = core.Wrap(a + core.RoundLattice(p*b))
	b = core.Wrap(b + core.RoundLattice(q*a))
	a = core.Wrap(a + core.RoundLattice(p*b))
	return a, b
}

func unrotatePair(a, b, theta float64) (float64, float64) {
	flip, t := reduceAngle(theta)
	p, q := -math.Tan(t/2), math.Sin(t)
	a = core.Wrap(a - core.RoundLattice(p*b))
	b = core.Wrap(b - core.RoundLattice(q*a))
	a = core.Wrap(a - core.RoundLattice(p*b))
	if flip {
		a, b = core.Wrap(-a), core.Wrap(-b)
	}
	return a, b
}
