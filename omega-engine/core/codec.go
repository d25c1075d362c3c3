package core

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/cespare/xxhash/v2"
)

const (
	// SlotBytes is the number of codeword bytes stored per payload slot.
	SlotBytes = 6

	// CodewordBytes is the total codeword capacity of the payload subspace.
	CodewordBytes = PayloadSlots * SlotBytes

	checksumBytes = 4

	// MaxPayloadBytes is the largest payload a single vector carries.
	MaxPayloadBytes = CodewordBytes - 1 - checksumBytes

	// LatticeBits is the resolution of a slot: slot values are k / 2^LatticeBits.
	LatticeBits = 48

	latticeTolerance = 1e-6
)

// LatticeScale is 2^LatticeBits as a float.
var LatticeScale = math.Ldexp(1, LatticeBits)

// RoundLattice rounds x to the nearest multiple of 2^-LatticeBits.
func RoundLattice(x float64) float64 {
	return math.Round(x*LatticeScale) / LatticeScale
}

// VectorCodec maps payloads of at most MaxPayloadBytes onto the payload
// subspace of a Vector and back.
//
// Codeword layout: [len:1][payload][zero pad][checksum:4], where the checksum
// is the xxhash64 of len||payload truncated to 32 bits. Each six-byte group
// becomes one slot k / 2^48 on the unit torus.
type VectorCodec struct{}

// Encode writes payload into a fresh vector. Network-state coordinates and
// the nonce are left zero.
func (VectorCodec) Encode(payload []byte) (Vector, error) {
	if len(payload) > MaxPayloadBytes {
		return Vector{}, fmt.Errorf("%w: %d bytes, limit %d", ErrPayloadTooLarge, len(payload), MaxPayloadBytes)
	}

	var buf [CodewordBytes]byte
	buf[0] = byte(len(payload))
	copy(buf[1:], payload)
	binary.BigEndian.PutUint32(buf[CodewordBytes-checksumBytes:], checksum(buf[:1+len(payload)]))

	var slots [PayloadSlots]float64
	for i := range slots {
		slots[i] = float64(getUint48(buf[i*SlotBytes:])) / LatticeScale
	}

	var v Vector
	v.SetPayload(slots)
	return v, nil
}

// Decode recovers the payload written by Encode.
func (VectorCodec) Decode(v Vector) ([]byte, error) {
	var buf [CodewordBytes]byte
	for i, s := range v.Payload() {
		k, err := slotToLattice(s)
		if err != nil {
			return nil, fmt.Errorf("%w: slot %d: %v", ErrMalformedVector, i, err)
		}
		putUint48(buf[i*SlotBytes:], k)
	}

	n := int(buf[0])
	if n > MaxPayloadBytes {
		return nil, fmt.Errorf("%w: length byte %d exceeds %d", ErrMalformedVector, n, MaxPayloadBytes)
	}
	for _, b := range buf[1+n : CodewordBytes-checksumBytes] {
		if b != 0 {
			return nil, fmt.Errorf("%w: non-zero padding", ErrMalformedVector)
		}
	}
	want := binary.BigEndian.Uint32(buf[CodewordBytes-checksumBytes:])
	if got := checksum(buf[:1+n]); got != want {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrMalformedVector)
	}

	out := make([]byte, n)
	copy(out, buf[1:1+n])
	return out, nil
}

// Validate checks the shape of v without interpreting the codeword: every
// component finite and every payload slot on the unit torus.
func (VectorCodec) Validate(v Vector) error {
	if !v.IsFinite() {
		return fmt.Errorf("%w: non-finite component", ErrMalformedVector)
	}
	for i, s := range v.Payload() {
		if s < 0 || s >= 1 {
			return fmt.Errorf("%w: slot %d off the torus (%g)", ErrMalformedVector, i, s)
		}
	}
	return nil
}

func slotToLattice(s float64) (uint64, error) {
	if math.IsNaN(s) || math.IsInf(s, 0) {
		return 0, fmt.Errorf("non-finite value")
	}
	if s < 0 || s >= 1 {
		return 0, fmt.Errorf("value %g off the torus", s)
	}
	y := s * LatticeScale
	r := math.Round(y)
	if math.Abs(y-r) > latticeTolerance || r >= LatticeScale {
		return 0, fmt.Errorf("value %g off the lattice", s)
	}
	return uint64(r), nil
}

func checksum(b []byte) uint32 {
	return uint32(xxhash.Sum64(b))
}

func getUint48(b []byte) uint64 {
	_ = b[5]
	return uint64(b[0])<<40 | uint64(b[1])<<32 | uint64(b[2])<<24 |
		uint64(b[3])<<16 | uint64(b[4])<<8 | uint64(b[5])
}

func putUint48(b []byte, k uint64) {
	_ = b[5]
	b[0] = byte(k >> 40)
	b[1] = byte(k >> 32)
	b[2] = byte(k >> 24)
	b[3] = byte(k >> 16)
	b[4] = byte(k >> 8)
	b[5] = byte(k)
}
