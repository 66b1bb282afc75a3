// Copyright (c) 2025 The embit developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package elements

import (
	"github.com/diybitcoinhardware/embit/chaincfg"
	"github.com/diybitcoinhardware/embit/ecc"
	"github.com/diybitcoinhardware/embit/hashes"
	"github.com/diybitcoinhardware/embit/hdkeychain"
)

// blindingSeedKey is the HMAC key of the blinding key tree seed.
const blindingSeedKey = "Elements blinding seed"

// MasterBlindingKey derives the wallet's master blinding key from its
// seed.
type MasterBlindingKey struct {
	key [32]byte
}

// NewMasterBlindingKey derives the SLIP-77 style master blinding key:
// the left half of HMAC-SHA512("Elements blinding seed", seed).
func NewMasterBlindingKey(seed []byte) *MasterBlindingKey {
	raw := hashes.HMACSHA512([]byte(blindingSeedKey), seed)
	mbk := &MasterBlindingKey{}
	copy(mbk.key[:], raw[:32])
	for i := range raw {
		raw[i] = 0
	}
	return mbk
}

// BlindingKey derives the per-output blinding private key:
// HMAC-SHA256(master, scriptPubkey).
func (mbk *MasterBlindingKey) BlindingKey(scriptPubkey []byte) (*ecc.PrivateKey, error) {
	raw := hashes.HMACSHA256(mbk.key[:], scriptPubkey)
	return ecc.NewPrivateKey(raw)
}

// BlindingPubKey returns the blinding public key for an output script.
func (mbk *MasterBlindingKey) BlindingPubKey(scriptPubkey []byte) (*ecc.PublicKey, error) {
	priv, err := mbk.BlindingKey(scriptPubkey)
	if err != nil {
		return nil, err
	}
	defer priv.Zero()
	return priv.PublicKey(), nil
}

// Zero wipes the master key.
func (mbk *MasterBlindingKey) Zero() {
	for i := range mbk.key {
		mbk.key[i] = 0
	}
}

// NewBlindingRoot derives a full BIP-32 root for blinding keys from a
// seed, using the Elements blinding HMAC key in place of the Bitcoin
// one.
func NewBlindingRoot(seed []byte, net *chaincfg.Params) (*hdkeychain.ExtendedKey, error) {
	raw := hashes.HMACSHA512([]byte(blindingSeedKey), seed)
	defer func() {
		for i := range raw {
			raw[i] = 0
		}
	}()
	priv, err := ecc.NewPrivateKey(raw[:32])
	if err != nil {
		return nil, err
	}
	var chain [32]byte
	copy(chain[:], raw[32:])
	return hdkeychain.NewExtendedKey(
		net.HDPrivVersion(chaincfg.HDKeyStandard),
		0, [4]byte{}, 0, chain, priv, nil,
	)
}

// TweakBlindingKey derives a deterministic blinding key from a plain
// key and a script using the "elements/blindingkey" tagged hash.
func TweakBlindingKey(priv *ecc.PrivateKey, scriptPubkey []byte) (*ecc.PrivateKey, error) {
	tweak := hashes.TaggedHash("elements/blindingkey", scriptPubkey)
	return priv.TweakAdd(tweak)
}
