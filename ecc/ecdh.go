// Copyright (c) 2025 The embit developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package ecc

import (
	"crypto/sha256"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// ECDHHashFunc maps the shared point to the final secret. x and y are the
// 32-byte affine coordinates of k*P.
type ECDHHashFunc func(x, y []byte, data []byte) []byte

// ECDH computes the shared secret sha256(compressed(k*P)), the libsecp
// default key derivation.
func (k *PrivateKey) ECDH(pub *PublicKey) ([]byte, error) {
	shared, err := pub.TweakMul(k.Serialize())
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(shared.SerializeCompressed())
	return sum[:], nil
}

// ECDHWithHash computes k*P and applies a caller-supplied hash to the
// affine coordinates, matching the libsecp custom-hash ECDH contract.
func (k *PrivateKey) ECDHWithHash(pub *PublicKey, hash ECDHHashFunc, data []byte) ([]byte, error) {
	shared, err := pub.TweakMul(k.Serialize())
	if err != nil {
		return nil, err
	}
	var j secp256k1.JacobianPoint
	shared.key.AsJacobian(&j)
	j.ToAffine()
	x := j.X.Bytes()
	y := j.Y.Bytes()
	return hash(x[:], y[:], data), nil
}

// ECDHXOnly returns sha256 of the 32-byte x coordinate of k*P. BIP-47
// payment code derivation uses this form.
func (k *PrivateKey) ECDHXOnly(pub *PublicKey) ([]byte, error) {
	shared, err := pub.TweakMul(k.Serialize())
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(shared.SerializeCompressed()[1:33])
	return sum[:], nil
}
