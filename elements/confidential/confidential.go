// Copyright (c) 2025 The embit developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package confidential implements the commitment arithmetic behind
// Elements confidential transactions: asset generators, Pedersen value
// commitments, blinding factor balancing and the proof records carried
// in transaction witnesses.
package confidential

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	"github.com/diybitcoinhardware/embit/ecc"
)

const (
	// CommitmentSize is the serialized size of a generator or value
	// commitment.
	CommitmentSize = 33

	// BlindingFactorSize is the size of asset and value blinding
	// factors.
	BlindingFactorSize = 32
)

var (
	// ErrInvalidCommitment is returned for malformed commitment
	// encodings.
	ErrInvalidCommitment = errors.New("invalid commitment")

	// ErrInvalidBlindingFactor is returned for out-of-range blinding
	// factors.
	ErrInvalidBlindingFactor = errors.New("invalid blinding factor")

	// ErrCommitmentMismatch is returned when commitments fail to
	// verify against their openings.
	ErrCommitmentMismatch = errors.New("commitment verification failed")
)

// Generator is an asset-specific generator point H.
type Generator struct {
	point *ecc.PublicKey
}

// hashToCurve lifts a 32-byte seed to a curve point by incrementing a
// counter until the x coordinate decodes.
func hashToCurve(seed []byte) *ecc.PublicKey {
	for counter := uint32(0); ; counter++ {
		h := sha256.New()
		h.Write(seed)
		var c [4]byte
		binary.LittleEndian.PutUint32(c[:], counter)
		h.Write(c[:])
		candidate := h.Sum(nil)
		if pub, err := ecc.ParseXOnlyPublicKey(candidate); err == nil {
			return pub
		}
	}
}

// GenerateBlinded derives the blinded generator for an asset:
// H = hash_to_curve(asset) + abf*G.
func GenerateBlinded(asset, abf []byte) (*Generator, error) {
	if len(asset) != 32 || len(abf) != BlindingFactorSize {
		return nil, ErrInvalidBlindingFactor
	}
	base := hashToCurve(asset)
	point := base
	if !isZero(abf) {
		var err error
		point, err = base.TweakAdd(abf)
		if err != nil {
			return nil, err
		}
	}
	return &Generator{point: point}, nil
}

// Serialize returns the 33-byte generator encoding.
func (g *Generator) Serialize() []byte {
	return g.point.SerializeCompressed()
}

// ParseGenerator reads a serialized generator.
func ParseGenerator(b []byte) (*Generator, error) {
	if len(b) != CommitmentSize {
		return nil, ErrInvalidCommitment
	}
	point, err := ecc.ParsePublicKey(b)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCommitment, err)
	}
	return &Generator{point: point}, nil
}

// Commitment is a Pedersen commitment C = v*H + r*G.
type Commitment struct {
	point *ecc.PublicKey
}

// Commit builds the Pedersen commitment to value under the generator
// with blinding factor vbf.
func Commit(vbf []byte, value uint64, gen *Generator) (*Commitment, error) {
	if len(vbf) != BlindingFactorSize {
		return nil, ErrInvalidBlindingFactor
	}
	var parts []*ecc.PublicKey
	if value > 0 {
		var scalar [32]byte
		binary.BigEndian.PutUint64(scalar[24:], value)
		vH, err := gen.point.TweakMul(scalar[:])
		if err != nil {
			return nil, err
		}
		parts = append(parts, vH)
	}
	if !isZero(vbf) {
		blind, err := ecc.NewPrivateKey(vbf)
		if err != nil {
			return nil, ErrInvalidBlindingFactor
		}
		parts = append(parts, blind.PublicKey())
	}
	if len(parts) == 0 {
		return nil, ErrInvalidBlindingFactor
	}
	sum, err := ecc.Combine(parts...)
	if err != nil {
		return nil, err
	}
	return &Commitment{point: sum}, nil
}

// Serialize returns the 33-byte commitment encoding.
func (c *Commitment) Serialize() []byte {
	return c.point.SerializeCompressed()
}

// ParseCommitment reads a serialized commitment.
func ParseCommitment(b []byte) (*Commitment, error) {
	if len(b) != CommitmentSize {
		return nil, ErrInvalidCommitment
	}
	point, err := ecc.ParsePublicKey(b)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCommitment, err)
	}
	return &Commitment{point: point}, nil
}

// Verify reopens the commitment against value, generator and blinding
// factor.
func (c *Commitment) Verify(vbf []byte, value uint64, gen *Generator) bool {
	expected, err := Commit(vbf, value, gen)
	if err != nil {
		return false
	}
	return c.point.Equal(expected.point)
}

// Add combines two commitments homomorphically.
func (c *Commitment) Add(other *Commitment) (*Commitment, error) {
	sum, err := ecc.Combine(c.point, other.point)
	if err != nil {
		return nil, err
	}
	return &Commitment{point: sum}, nil
}

// BlindGeneratorBlindSum computes the final value blinding factor so
// the commitments of a transaction balance. values, abfs and vbfs hold
// every input followed by every output; vbfs omits the last output,
// whose factor is returned:
//
//	vbf_last = sum_in(vbf + v*abf) - sum_out'(vbf + v*abf) - v_last*abf_last
func BlindGeneratorBlindSum(values []uint64, abfs, vbfs [][]byte, numInputs int) ([]byte, error) {
	if len(values) != len(abfs) || len(vbfs) != len(values)-1 {
		return nil, ErrInvalidBlindingFactor
	}
	var acc secp256k1.ModNScalar
	for i := range values {
		var term secp256k1.ModNScalar
		// v*abf
		var vScalar secp256k1.ModNScalar
		var vBytes [32]byte
		binary.BigEndian.PutUint64(vBytes[24:], values[i])
		vScalar.SetBytes(&vBytes)
		if overflow := term.SetByteSlice(abfs[i]); overflow {
			return nil, ErrInvalidBlindingFactor
		}
		term.Mul(&vScalar)
		// + vbf, for all but the solved-for entry
		if i < len(vbfs) {
			var blind secp256k1.ModNScalar
			if overflow := blind.SetByteSlice(vbfs[i]); overflow {
				return nil, ErrInvalidBlindingFactor
			}
			term.Add(&blind)
		}
		if i < numInputs {
			acc.Add(&term)
		} else {
			term.Negate()
			acc.Add(&term)
		}
	}
	// acc now holds sum_in - sum_out(partial); the last output's total
	// factor must equal it, so vbf_last = acc (its v*abf part was
	// already subtracted above).
	out := acc.Bytes()
	result := make([]byte, 32)
	copy(result, out[:])
	return result, nil
}

// VerifyTally checks that input and output commitments sum to the same
// point.
func VerifyTally(inputs, outputs []*Commitment) bool {
	sum := func(cs []*Commitment) (*ecc.PublicKey, error) {
		points := make([]*ecc.PublicKey, len(cs))
		for i, c := range cs {
			points[i] = c.point
		}
		return ecc.Combine(points...)
	}
	in, err := sum(inputs)
	if err != nil {
		return false
	}
	out, err := sum(outputs)
	if err != nil {
		return false
	}
	return in.Equal(out)
}

// MusigPubkeyCombine aggregates blinding public keys by point addition.
// This is the simple aggregation used for blinding key derivation, not
// a full MuSig2 session.
func MusigPubkeyCombine(keys ...*ecc.PublicKey) (*ecc.PublicKey, error) {
	return ecc.Combine(keys...)
}

func isZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}
