// Copyright (c) 2025 The embit developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package ecc wraps the secp256k1 backend with the key, signature and
// point operations the rest of the module is built on: ECDSA with low-S
// normalization, BIP-340 Schnorr, ECDH and the additive tweaks used by
// BIP-32 derivation and taproot outputs.
package ecc

import (
	"crypto/rand"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	"github.com/diybitcoinhardware/embit/chaincfg"
)

// PrivateKey is a secp256k1 secret scalar in [1, n-1]. The Compressed
// flag only affects WIF encoding and the SEC serialization of the
// derived public key.
type PrivateKey struct {
	scalar     secp256k1.ModNScalar
	Compressed bool
}

// NewPrivateKey builds a private key from 32 raw bytes. Zero and values
// not below the group order are rejected.
func NewPrivateKey(b []byte) (*PrivateKey, error) {
	if len(b) != 32 {
		return nil, ErrInvalidScalar
	}
	var k PrivateKey
	if overflow := k.scalar.SetByteSlice(b); overflow || k.scalar.IsZero() {
		return nil, ErrInvalidScalar
	}
	k.Compressed = true
	return &k, nil
}

// GeneratePrivateKey returns a new random private key drawn from the OS
// entropy source.
func GeneratePrivateKey() (*PrivateKey, error) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, err
	}
	defer priv.Zero()
	return NewPrivateKey(priv.Serialize())
}

// SecKeyVerify reports whether b is a valid 32-byte secret scalar.
func SecKeyVerify(b []byte) bool {
	_, err := NewPrivateKey(b)
	return err == nil
}

// Serialize returns the 32-byte big-endian scalar.
func (k *PrivateKey) Serialize() []byte {
	b := k.scalar.Bytes()
	out := make([]byte, 32)
	copy(out, b[:])
	return out
}

// Zero clears the secret scalar. The key must not be used afterwards.
func (k *PrivateKey) Zero() {
	k.scalar.Zero()
}

// PublicKey returns the public key P = k*G.
func (k *PrivateKey) PublicKey() *PublicKey {
	var result secp256k1.JacobianPoint
	secp256k1.ScalarBaseMultNonConst(&k.scalar, &result)
	result.ToAffine()
	pub := secp256k1.NewPublicKey(&result.X, &result.Y)
	return &PublicKey{key: pub, Compressed: k.Compressed}
}

// TweakAdd returns (k + t) mod n. Deriving the zero scalar is an error so
// that BIP-32 callers can skip to the next index.
func (k *PrivateKey) TweakAdd(tweak []byte) (*PrivateKey, error) {
	var t secp256k1.ModNScalar
	if len(tweak) != 32 {
		return nil, ErrInvalidScalar
	}
	if overflow := t.SetByteSlice(tweak); overflow {
		return nil, ErrInvalidScalar
	}
	sum := new(PrivateKey)
	sum.Compressed = k.Compressed
	sum.scalar.Set(&k.scalar).Add(&t)
	t.Zero()
	if sum.scalar.IsZero() {
		return nil, ErrInvalidScalar
	}
	return sum, nil
}

// TweakMul returns (k * t) mod n.
func (k *PrivateKey) TweakMul(tweak []byte) (*PrivateKey, error) {
	var t secp256k1.ModNScalar
	if len(tweak) != 32 {
		return nil, ErrInvalidScalar
	}
	if overflow := t.SetByteSlice(tweak); overflow || t.IsZero() {
		return nil, ErrInvalidScalar
	}
	prod := new(PrivateKey)
	prod.Compressed = k.Compressed
	prod.scalar.Set(&k.scalar).Mul(&t)
	t.Zero()
	if prod.scalar.IsZero() {
		return nil, ErrInvalidScalar
	}
	return prod, nil
}

// Negate returns n - k.
func (k *PrivateKey) Negate() *PrivateKey {
	neg := new(PrivateKey)
	neg.Compressed = k.Compressed
	neg.scalar.Set(&k.scalar).Negate()
	return neg
}

// Equal reports whether both keys hold the same scalar. Comparison is not
// constant-time; it is meant for tests and map bookkeeping, not secrets.
func (k *PrivateKey) Equal(other *PrivateKey) bool {
	return k.scalar.Equals(&other.scalar)
}

// btcecKey converts to the backend key type for signing.
func (k *PrivateKey) btcecKey() *btcec.PrivateKey {
	return &btcec.PrivateKey{Key: k.scalar}
}

// WIF encodes the key in wallet import format for the given network:
// base58check(version || secret || [0x01 if compressed]).
func (k *PrivateKey) WIF(net *chaincfg.Params) string {
	payload := make([]byte, 0, 34)
	payload = append(payload, k.Serialize()...)
	if k.Compressed {
		payload = append(payload, 0x01)
	}
	return base58.CheckEncode(payload, net.PrivateKeyID)
}

// PrivateKeyFromWIF decodes a WIF string, returning the key and the
// network its version byte belongs to.
func PrivateKeyFromWIF(wif string) (*PrivateKey, *chaincfg.Params, error) {
	payload, version, err := base58.CheckDecode(wif)
	if err != nil {
		return nil, nil, ErrInvalidWIF
	}
	compressed := false
	switch len(payload) {
	case 32:
	case 33:
		if payload[32] != 0x01 {
			return nil, nil, ErrInvalidWIF
		}
		compressed = true
	default:
		return nil, nil, ErrInvalidWIF
	}
	key, err := NewPrivateKey(payload[:32])
	if err != nil {
		return nil, nil, err
	}
	key.Compressed = compressed
	for _, net := range chaincfg.Networks() {
		if net.PrivateKeyID == version {
			return key, net, nil
		}
	}
	return nil, nil, ErrInvalidWIF
}

// readRand fills b from the OS entropy source.
func readRand(b []byte) error {
	_, err := rand.Read(b)
	return err
}
