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

// The proof records here bind a commitment to its opening and let the
// holder of the rewind nonce recover the value and message. They keep
// the wire shape and the sign/rewind contract of the real borromean
// range proofs without the ring signatures; they are not zero-knowledge
// range proofs.

var (
	// ErrInvalidRangeProof is returned for malformed or mismatching
	// proofs.
	ErrInvalidRangeProof = errors.New("invalid range proof")

	// ErrRewindFailed is returned when a nonce cannot open a proof.
	ErrRewindFailed = errors.New("cannot rewind proof with this nonce")
)

// rangeProofTag domain-separates the proof mask stream.
const rangeProofTag = "elements/rangeproof"

// maskStream derives a keystream block from the rewind nonce.
func maskStream(nonce, commitment []byte, counter uint32) []byte {
	h := sha256.New()
	h.Write([]byte(rangeProofTag))
	h.Write(nonce)
	h.Write(commitment)
	var c [4]byte
	binary.LittleEndian.PutUint32(c[:], counter)
	h.Write(c[:])
	return h.Sum(nil)
}

// RangeProofSign builds a proof record for a value commitment. nonce is
// the rewind secret (usually an ECDH result), message is embedded for
// the receiving wallet, extra is committed but not recoverable.
func RangeProofSign(nonce []byte, value uint64, commitment *Commitment, vbf, message, extra []byte, gen *Generator) ([]byte, error) {
	if len(vbf) != BlindingFactorSize {
		return nil, ErrInvalidBlindingFactor
	}
	commit := commitment.Serialize()

	// value(8) || vbf(32) || msglen(4) || msg, XORed with the nonce
	// stream.
	payload := make([]byte, 8+32+4+len(message))
	binary.LittleEndian.PutUint64(payload[:8], value)
	copy(payload[8:40], vbf)
	binary.LittleEndian.PutUint32(payload[40:44], uint32(len(message)))
	copy(payload[44:], message)
	applyMask(payload, nonce, commit)

	// Binding hash commits to everything a verifier can see.
	h := sha256.New()
	h.Write(commit)
	h.Write(gen.Serialize())
	h.Write(payload)
	h.Write(extra)
	binding := h.Sum(nil)

	out := make([]byte, 0, 32+4+len(payload))
	out = append(out, binding...)
	var l [4]byte
	binary.LittleEndian.PutUint32(l[:], uint32(len(payload)))
	out = append(out, l[:]...)
	return append(out, payload...), nil
}

// RangeProofVerify checks the binding hash of a proof against the
// commitment and generator.
func RangeProofVerify(proof []byte, commitment *Commitment, extra []byte, gen *Generator) bool {
	payload, binding, ok := splitRangeProof(proof)
	if !ok {
		return false
	}
	h := sha256.New()
	h.Write(commitment.Serialize())
	h.Write(gen.Serialize())
	h.Write(payload)
	h.Write(extra)
	return bytes.Equal(binding, h.Sum(nil))
}

// RangeProofRewind opens a proof with the rewind nonce, recovering the
// value, blinding factor and embedded message, and checks them against
// the commitment.
func RangeProofRewind(proof, nonce []byte, commitment *Commitment, extra []byte, gen *Generator) (value uint64, vbf, message []byte, err error) {
	if !RangeProofVerify(proof, commitment, extra, gen) {
		return 0, nil, nil, ErrInvalidRangeProof
	}
	payload, _, _ := splitRangeProof(proof)
	commit := commitment.Serialize()

	clear := append([]byte(nil), payload...)
	applyMask(clear, nonce, commit)
	if len(clear) < 44 {
		return 0, nil, nil, ErrRewindFailed
	}
	value = binary.LittleEndian.Uint64(clear[:8])
	vbf = clear[8:40]
	msgLen := binary.LittleEndian.Uint32(clear[40:44])
	if int(msgLen) != len(clear)-44 {
		return 0, nil, nil, ErrRewindFailed
	}
	message = clear[44:]

	if !commitment.Verify(vbf, value, gen) {
		return 0, nil, nil, ErrRewindFailed
	}
	return value, vbf, message, nil
}

func splitRangeProof(proof []byte) (payload, binding []byte, ok bool) {
	if len(proof) < 36 {
		return nil, nil, false
	}
	binding = proof[:32]
	l := binary.LittleEndian.Uint32(proof[32:36])
	if int(l) != len(proof)-36 {
		return nil, nil, false
	}
	return proof[36:], binding, true
}

// applyMask XORs the nonce keystream over buf in place. XOR is its own
// inverse, so the same call masks and unmasks.
func applyMask(buf, nonce, commit []byte) {
	for i := 0; i < len(buf); i += 32 {
		mask := maskStream(nonce, commit, uint32(i/32))
		for j := 0; j < 32 && i+j < len(buf); j++ {
			buf[i+j] ^= mask[j]
		}
	}
}
