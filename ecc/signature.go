// Copyright (c) 2025 The embit developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package ecc

import (
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
)

// Signature is an ECDSA signature over secp256k1. Signatures produced by
// this package are always low-S normalized.
type Signature struct {
	r secp256k1.ModNScalar
	s secp256k1.ModNScalar
}

// Sign produces a deterministic RFC-6979 ECDSA signature of the 32-byte
// message hash.
func (k *PrivateKey) Sign(msg []byte) (*Signature, error) {
	return k.SignWithEntropy(msg, nil)
}

// SignWithEntropy mixes extra entropy into the RFC-6979 nonce. A nil
// extra reproduces plain deterministic signing.
func (k *PrivateKey) SignWithEntropy(msg, extra []byte) (*Signature, error) {
	if len(msg) != 32 {
		return nil, ErrInvalidSignature
	}
	if extra != nil && len(extra) != 32 {
		return nil, ErrInvalidSignature
	}
	var e secp256k1.ModNScalar
	e.SetByteSlice(msg)
	priv := k.Serialize()
	defer zeroize(priv)

	for iteration := uint32(0); ; iteration++ {
		nonce := secp256k1.NonceRFC6979(priv, msg, extra, nil, iteration)

		var kG secp256k1.JacobianPoint
		secp256k1.ScalarBaseMultNonConst(nonce, &kG)
		kG.ToAffine()

		var sig Signature
		sig.r.SetBytes(kG.X.Bytes())
		if sig.r.IsZero() {
			nonce.Zero()
			continue
		}
		// s = k^-1 (e + r*d)
		kInv := new(secp256k1.ModNScalar).Set(nonce)
		kInv.InverseNonConst()
		sig.s.Set(&sig.r).Mul(&k.scalar).Add(&e).Mul(kInv)
		nonce.Zero()
		kInv.Zero()
		if sig.s.IsZero() {
			continue
		}
		sig.normalizeS()
		return &sig, nil
	}
}

// normalizeS flips s to the low half of the group order if necessary.
func (sig *Signature) normalizeS() {
	if sig.s.IsOverHalfOrder() {
		sig.s.Negate()
	}
}

// Normalize returns a copy of the signature with low-S enforced.
func (sig *Signature) Normalize() *Signature {
	out := &Signature{r: sig.r, s: sig.s}
	out.normalizeS()
	return out
}

// Verify checks the signature against a 32-byte message hash and a public
// key. High-S signatures are rejected.
func (sig *Signature) Verify(msg []byte, pub *PublicKey) bool {
	if len(msg) != 32 || sig.s.IsOverHalfOrder() {
		return false
	}
	return ecdsa.NewSignature(&sig.r, &sig.s).Verify(msg, pub.key)
}

// Compact returns the fixed 64-byte r||s serialization.
func (sig *Signature) Compact() []byte {
	out := make([]byte, 64)
	r := sig.r.Bytes()
	s := sig.s.Bytes()
	copy(out[:32], r[:])
	copy(out[32:], s[:])
	return out
}

// ParseCompact reads a 64-byte r||s signature.
func ParseCompact(b []byte) (*Signature, error) {
	if len(b) != 64 {
		return nil, ErrInvalidSignature
	}
	var sig Signature
	if overflow := sig.r.SetByteSlice(b[:32]); overflow || sig.r.IsZero() {
		return nil, ErrInvalidSignature
	}
	if overflow := sig.s.SetByteSlice(b[32:]); overflow || sig.s.IsZero() {
		return nil, ErrInvalidSignature
	}
	return &sig, nil
}

// Serialize returns the DER encoding, at most 71 bytes for low-S
// signatures.
func (sig *Signature) Serialize() []byte {
	r := sig.r.Bytes()
	s := sig.s.Bytes()
	rb := trimScalar(r[:])
	sb := trimScalar(s[:])
	out := make([]byte, 0, 6+len(rb)+len(sb))
	out = append(out, 0x30, byte(4+len(rb)+len(sb)))
	out = append(out, 0x02, byte(len(rb)))
	out = append(out, rb...)
	out = append(out, 0x02, byte(len(sb)))
	out = append(out, sb...)
	return out
}

// trimScalar strips leading zero bytes from a big-endian scalar and adds
// a padding zero when the top bit would flip the DER sign.
func trimScalar(b []byte) []byte {
	i := 0
	for i < len(b)-1 && b[i] == 0 {
		i++
	}
	b = b[i:]
	if b[0]&0x80 != 0 {
		return append([]byte{0x00}, b...)
	}
	return b
}

// ParseDER decodes a DER signature with the strictness of BIP-66: exact
// length accounting, minimal integer encodings, no negative values.
func ParseDER(b []byte) (*Signature, error) {
	if len(b) < 8 || len(b) > 72 {
		return nil, ErrInvalidSignature
	}
	if b[0] != 0x30 || int(b[1]) != len(b)-2 {
		return nil, ErrInvalidSignature
	}
	rb, rest, err := readDERInt(b[2:])
	if err != nil {
		return nil, err
	}
	sb, rest, err := readDERInt(rest)
	if err != nil {
		return nil, err
	}
	if len(rest) != 0 {
		return nil, ErrInvalidSignature
	}
	var sig Signature
	if overflow := sig.r.SetByteSlice(rb); overflow || sig.r.IsZero() {
		return nil, ErrInvalidSignature
	}
	if overflow := sig.s.SetByteSlice(sb); overflow || sig.s.IsZero() {
		return nil, ErrInvalidSignature
	}
	return &sig, nil
}

// readDERInt consumes one strictly-encoded DER integer.
func readDERInt(b []byte) (value, rest []byte, err error) {
	if len(b) < 2 || b[0] != 0x02 {
		return nil, nil, ErrInvalidSignature
	}
	l := int(b[1])
	if l == 0 || len(b) < 2+l {
		return nil, nil, ErrInvalidSignature
	}
	v := b[2 : 2+l]
	if v[0]&0x80 != 0 {
		return nil, nil, ErrInvalidSignature
	}
	if l > 1 && v[0] == 0x00 && v[1]&0x80 == 0 {
		return nil, nil, ErrInvalidSignature
	}
	if l > 33 {
		return nil, nil, ErrInvalidSignature
	}
	return v, b[2+l:], nil
}

// zeroize overwrites a byte slice holding secret material.
func zeroize(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
