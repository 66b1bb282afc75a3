// Copyright (c) 2025 The embit developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package ecc

import (
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
)

// SchnorrSignature is a 64-byte BIP-340 signature.
type SchnorrSignature struct {
	sig *schnorr.Signature
}

// SchnorrSign signs a 32-byte message hash per BIP-340. aux, when
// non-nil, is the 32-byte auxiliary randomness mixed into the nonce;
// callers that need misuse resistance pass fresh entropy from their own
// RNG.
func (k *PrivateKey) SchnorrSign(msg, aux []byte) (*SchnorrSignature, error) {
	if len(msg) != 32 {
		return nil, ErrInvalidSignature
	}
	opts := []schnorr.SignOption{}
	if aux != nil {
		if len(aux) != 32 {
			return nil, ErrInvalidSignature
		}
		var a [32]byte
		copy(a[:], aux)
		opts = append(opts, schnorr.CustomNonce(a))
	}
	priv := k.btcecKey()
	sig, err := schnorr.Sign(priv, msg, opts...)
	if err != nil {
		return nil, err
	}
	return &SchnorrSignature{sig: sig}, nil
}

// Verify checks a BIP-340 signature against the x-only form of
// the public key.
func (sig *SchnorrSignature) Verify(msg []byte, pub *PublicKey) bool {
	if len(msg) != 32 {
		return false
	}
	xonly, _ := pub.XOnly()
	evenKey, err := schnorr.ParsePubKey(xonly)
	if err != nil {
		return false
	}
	return sig.sig.Verify(msg, evenKey)
}

// Serialize returns the 64-byte r||s encoding.
func (sig *SchnorrSignature) Serialize() []byte {
	return sig.sig.Serialize()
}

// ParseSchnorr reads a 64-byte BIP-340 signature.
func ParseSchnorr(b []byte) (*SchnorrSignature, error) {
	sig, err := schnorr.ParseSignature(b)
	if err != nil {
		return nil, ErrInvalidSignature
	}
	return &SchnorrSignature{sig: sig}, nil
}
