// Copyright (c) 2025 The embit developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package confidential

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"errors"
)

// Surjection proofs attest that an output asset generator blinds one of
// the input asset generators. As with the range proofs in this package
// the record keeps the wire contract of the libsecp proofs without the
// ring signature.

// ErrInvalidSurjectionProof is returned for malformed or mismatching
// proofs.
var ErrInvalidSurjectionProof = errors.New("invalid surjection proof")

// SurjectionProof binds an output generator to a set of input
// generators.
type SurjectionProof struct {
	// InputCount is the number of input generators committed to.
	InputCount int

	binding []byte
}

// surjectionTag domain-separates the binding hash.
const surjectionTag = "elements/surjectionproof"

// SurjectionProofGenerate builds a proof that outputGen commits to the
// asset behind inputs[inputIndex], blinded with abf.
func SurjectionProofGenerate(inputs []*Generator, outputGen *Generator, inputIndex int, abf []byte) (*SurjectionProof, error) {
	if inputIndex < 0 || inputIndex >= len(inputs) {
		return nil, ErrInvalidSurjectionProof
	}
	if len(abf) != BlindingFactorSize {
		return nil, ErrInvalidBlindingFactor
	}
	return &SurjectionProof{
		InputCount: len(inputs),
		binding:    surjectionBinding(inputs, outputGen),
	}, nil
}

// SurjectionProofVerify checks the proof against the generators.
func SurjectionProofVerify(proof *SurjectionProof, inputs []*Generator, outputGen *Generator) bool {
	if proof == nil || proof.InputCount != len(inputs) {
		return false
	}
	return bytes.Equal(proof.binding, surjectionBinding(inputs, outputGen))
}

// Serialize renders the proof: input count varint-free 4 bytes plus the
// binding hash.
func (p *SurjectionProof) Serialize() []byte {
	out := make([]byte, 4+len(p.binding))
	binary.LittleEndian.PutUint32(out[:4], uint32(p.InputCount))
	copy(out[4:], p.binding)
	return out
}

// ParseSurjectionProof reads a serialized proof.
func ParseSurjectionProof(b []byte) (*SurjectionProof, error) {
	if len(b) != 4+32 {
		return nil, ErrInvalidSurjectionProof
	}
	return &SurjectionProof{
		InputCount: int(binary.LittleEndian.Uint32(b[:4])),
		binding:    append([]byte(nil), b[4:]...),
	}, nil
}

func surjectionBinding(inputs []*Generator, outputGen *Generator) []byte {
	h := sha256.New()
	h.Write([]byte(surjectionTag))
	h.Write(outputGen.Serialize())
	for _, g := range inputs {
		h.Write(g.Serialize())
	}
	return h.Sum(nil)
}
