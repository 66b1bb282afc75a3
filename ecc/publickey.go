// Copyright (c) 2025 The embit developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package ecc

import (
	"bytes"
	"sort"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// PublicKey is an affine secp256k1 point, never the identity. The
// Compressed flag selects the default SEC serialization.
type PublicKey struct {
	key        *btcec.PublicKey
	Compressed bool
}

// ParsePublicKey accepts compressed (33-byte), uncompressed (65-byte) and
// hybrid SEC encodings.
func ParsePublicKey(b []byte) (*PublicKey, error) {
	key, err := btcec.ParsePubKey(b)
	if err != nil {
		return nil, ErrPointNotOnCurve
	}
	return &PublicKey{key: key, Compressed: len(b) == 33}, nil
}

// ParseXOnlyPublicKey lifts a 32-byte x coordinate to the point with even
// y per BIP-340.
func ParseXOnlyPublicKey(b []byte) (*PublicKey, error) {
	key, err := schnorr.ParsePubKey(b)
	if err != nil {
		return nil, ErrPointNotOnCurve
	}
	return &PublicKey{key: key, Compressed: true}, nil
}

// Sec returns the SEC serialization selected by the Compressed flag.
func (p *PublicKey) Sec() []byte {
	if p.Compressed {
		return p.key.SerializeCompressed()
	}
	return p.key.SerializeUncompressed()
}

// SerializeCompressed returns the 33-byte SEC encoding regardless of the
// Compressed flag.
func (p *PublicKey) SerializeCompressed() []byte {
	return p.key.SerializeCompressed()
}

// SerializeUncompressed returns the 65-byte SEC encoding.
func (p *PublicKey) SerializeUncompressed() []byte {
	return p.key.SerializeUncompressed()
}

// XOnly returns the 32-byte x coordinate and whether the point has odd y.
func (p *PublicKey) XOnly() (xonly []byte, oddY bool) {
	return schnorr.SerializePubKey(p.key), p.key.SerializeCompressed()[0] == 0x03
}

// Equal is byte equality over the compressed SEC form.
func (p *PublicKey) Equal(other *PublicKey) bool {
	return p.key.IsEqual(other.key)
}

// jacobian returns the point in Jacobian form for group arithmetic.
func (p *PublicKey) jacobian() secp256k1.JacobianPoint {
	var j secp256k1.JacobianPoint
	p.key.AsJacobian(&j)
	return j
}

// fromJacobian normalizes a Jacobian point back into a PublicKey,
// rejecting the identity.
func fromJacobian(j *secp256k1.JacobianPoint, compressed bool) (*PublicKey, error) {
	if (j.X.IsZero() && j.Y.IsZero()) || j.Z.IsZero() {
		return nil, ErrInfinity
	}
	j.ToAffine()
	return &PublicKey{
		key:        secp256k1.NewPublicKey(&j.X, &j.Y),
		Compressed: compressed,
	}, nil
}

// TweakAdd returns P + t*G.
func (p *PublicKey) TweakAdd(tweak []byte) (*PublicKey, error) {
	var t secp256k1.ModNScalar
	if len(tweak) != 32 {
		return nil, ErrInvalidScalar
	}
	if overflow := t.SetByteSlice(tweak); overflow {
		return nil, ErrInvalidScalar
	}
	var tG, sum secp256k1.JacobianPoint
	secp256k1.ScalarBaseMultNonConst(&t, &tG)
	pj := p.jacobian()
	secp256k1.AddNonConst(&pj, &tG, &sum)
	return fromJacobian(&sum, p.Compressed)
}

// TweakMul returns t*P.
func (p *PublicKey) TweakMul(tweak []byte) (*PublicKey, error) {
	var t secp256k1.ModNScalar
	if len(tweak) != 32 {
		return nil, ErrInvalidScalar
	}
	if overflow := t.SetByteSlice(tweak); overflow || t.IsZero() {
		return nil, ErrInvalidScalar
	}
	pj := p.jacobian()
	var prod secp256k1.JacobianPoint
	secp256k1.ScalarMultNonConst(&t, &pj, &prod)
	return fromJacobian(&prod, p.Compressed)
}

// Negate mirrors the point over the x axis.
func (p *PublicKey) Negate() *PublicKey {
	pj := p.jacobian()
	pj.Y.Negate(1).Normalize()
	out, _ := fromJacobian(&pj, p.Compressed)
	return out
}

// Combine sums a set of public keys. The identity sum is an error.
func Combine(keys ...*PublicKey) (*PublicKey, error) {
	if len(keys) == 0 {
		return nil, ErrInfinity
	}
	sum := keys[0].jacobian()
	for _, k := range keys[1:] {
		kj := k.jacobian()
		var next secp256k1.JacobianPoint
		secp256k1.AddNonConst(&sum, &kj, &next)
		sum = next
	}
	return fromJacobian(&sum, keys[0].Compressed)
}

// SortKeys orders keys ascending by compressed SEC serialization, the
// BIP-67 order used by sortedmulti.
func SortKeys(keys []*PublicKey) {
	sort.Slice(keys, func(i, j int) bool {
		return bytes.Compare(keys[i].SerializeCompressed(), keys[j].SerializeCompressed()) < 0
	})
}
