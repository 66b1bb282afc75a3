// Copyright (c) 2025 The embit developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package chaincfg defines the per-network parameters a wallet needs to
// encode keys, addresses and transactions: address version bytes, bech32
// prefixes, WIF prefixes and the SLIP-132 extended key version matrix.
package chaincfg

import (
	"errors"
)

// HDKeyType identifies the script family an extended key version byte
// prefix is associated with per SLIP-132.
type HDKeyType string

const (
	// HDKeyStandard is the plain BIP-44 xprv/xpub pair.
	HDKeyStandard HDKeyType = "x"

	// HDKeyNestedSegwit is the BIP-49 yprv/ypub pair (p2sh-p2wpkh).
	HDKeyNestedSegwit HDKeyType = "y"

	// HDKeyNativeSegwit is the BIP-84 zprv/zpub pair (p2wpkh).
	HDKeyNativeSegwit HDKeyType = "z"

	// HDKeyNestedMultisig is the capitalized Yprv/Ypub pair
	// (p2sh-p2wsh multisig).
	HDKeyNestedMultisig HDKeyType = "Y"

	// HDKeyNativeMultisig is the capitalized Zprv/Zpub pair
	// (p2wsh multisig).
	HDKeyNativeMultisig HDKeyType = "Z"
)

// HDVersionPair holds the private and public 4-byte version prefixes for
// one SLIP-132 key type on one network.
type HDVersionPair struct {
	Priv [4]byte
	Pub  [4]byte
}

// Params defines the wallet-relevant parameters of a Bitcoin or Elements
// network.
type Params struct {
	// Name is the canonical short name of the network.
	Name string

	// Bech32HRP is the human-readable part for segwit addresses.
	Bech32HRP string

	// PubKeyHashAddrID is the base58 version byte for p2pkh addresses.
	PubKeyHashAddrID byte

	// ScriptHashAddrID is the base58 version byte for p2sh addresses.
	ScriptHashAddrID byte

	// PrivateKeyID is the WIF version byte.
	PrivateKeyID byte

	// HDVersions maps each SLIP-132 key type to its version prefixes.
	HDVersions map[HDKeyType]HDVersionPair

	// HDCoinType is the BIP-44 coin type used in derivation paths.
	HDCoinType uint32

	// Elements is set for Liquid-family networks. It enables the
	// confidential transaction format and PSET fields.
	Elements bool

	// BlindedPrefix is the base58 prefix byte for confidential
	// addresses on Elements networks.
	BlindedPrefix byte
}

// HDPrivVersion returns the private extended key version prefix for the
// given key type, falling back to the standard pair for unknown types.
func (p *Params) HDPrivVersion(t HDKeyType) [4]byte {
	if pair, ok := p.HDVersions[t]; ok {
		return pair.Priv
	}
	return p.HDVersions[HDKeyStandard].Priv
}

// HDPubVersion returns the public extended key version prefix for the
// given key type, falling back to the standard pair for unknown types.
func (p *Params) HDPubVersion(t HDKeyType) [4]byte {
	if pair, ok := p.HDVersions[t]; ok {
		return pair.Pub
	}
	return p.HDVersions[HDKeyStandard].Pub
}

// MainNetParams defines the network parameters for the main Bitcoin
// network.
var MainNetParams = Params{
	Name:             "main",
	Bech32HRP:        "bc",
	PubKeyHashAddrID: 0x00,
	ScriptHashAddrID: 0x05,
	PrivateKeyID:     0x80,
	HDVersions: map[HDKeyType]HDVersionPair{
		HDKeyStandard:       {Priv: [4]byte{0x04, 0x88, 0xad, 0xe4}, Pub: [4]byte{0x04, 0x88, 0xb2, 0x1e}},
		HDKeyNestedSegwit:   {Priv: [4]byte{0x04, 0x9d, 0x78, 0x78}, Pub: [4]byte{0x04, 0x9d, 0x7c, 0xb2}},
		HDKeyNativeSegwit:   {Priv: [4]byte{0x04, 0xb2, 0x43, 0x0c}, Pub: [4]byte{0x04, 0xb2, 0x47, 0x46}},
		HDKeyNestedMultisig: {Priv: [4]byte{0x02, 0x95, 0xb0, 0x05}, Pub: [4]byte{0x02, 0x95, 0xb4, 0x3f}},
		HDKeyNativeMultisig: {Priv: [4]byte{0x02, 0xaa, 0x7a, 0x99}, Pub: [4]byte{0x02, 0xaa, 0x7e, 0xd3}},
	},
	HDCoinType: 0,
}

// testHDVersions is shared by every test-family network. Testnet, regtest
// and signet all use the tprv/tpub version matrix.
var testHDVersions = map[HDKeyType]HDVersionPair{
	HDKeyStandard:       {Priv: [4]byte{0x04, 0x35, 0x83, 0x94}, Pub: [4]byte{0x04, 0x35, 0x87, 0xcf}},
	HDKeyNestedSegwit:   {Priv: [4]byte{0x04, 0x4a, 0x4e, 0x28}, Pub: [4]byte{0x04, 0x4a, 0x52, 0x62}},
	HDKeyNativeSegwit:   {Priv: [4]byte{0x04, 0x5f, 0x18, 0xbc}, Pub: [4]byte{0x04, 0x5f, 0x1c, 0xf6}},
	HDKeyNestedMultisig: {Priv: [4]byte{0x02, 0x42, 0x85, 0xb5}, Pub: [4]byte{0x02, 0x42, 0x89, 0xef}},
	HDKeyNativeMultisig: {Priv: [4]byte{0x02, 0x57, 0x50, 0x48}, Pub: [4]byte{0x02, 0x57, 0x54, 0x83}},
}

// TestNet3Params defines the network parameters for the test Bitcoin
// network (version 3).
var TestNet3Params = Params{
	Name:             "test",
	Bech32HRP:        "tb",
	PubKeyHashAddrID: 0x6f,
	ScriptHashAddrID: 0xc4,
	PrivateKeyID:     0xef,
	HDVersions:       testHDVersions,
	HDCoinType:       1,
}

// RegressionNetParams defines the network parameters for the regression
// test network.
var RegressionNetParams = Params{
	Name:             "regtest",
	Bech32HRP:        "bcrt",
	PubKeyHashAddrID: 0x6f,
	ScriptHashAddrID: 0xc4,
	PrivateKeyID:     0xef,
	HDVersions:       testHDVersions,
	HDCoinType:       1,
}

// SigNetParams defines the network parameters for the signet test
// network.
var SigNetParams = Params{
	Name:             "signet",
	Bech32HRP:        "tb",
	PubKeyHashAddrID: 0x6f,
	ScriptHashAddrID: 0xc4,
	PrivateKeyID:     0xef,
	HDVersions:       testHDVersions,
	HDCoinType:       1,
}

// LiquidV1Params defines the network parameters for the Liquid
// production network.
var LiquidV1Params = Params{
	Name:             "liquidv1",
	Bech32HRP:        "ex",
	PubKeyHashAddrID: 0x39,
	ScriptHashAddrID: 0x27,
	PrivateKeyID:     0x80,
	HDVersions:       MainNetParams.HDVersions,
	HDCoinType:       1776,
	Elements:         true,
	BlindedPrefix:    0x0c,
}

// ElementsRegtestParams defines the network parameters for a local
// Elements regtest network.
var ElementsRegtestParams = Params{
	Name:             "elementsregtest",
	Bech32HRP:        "ert",
	PubKeyHashAddrID: 0xeb,
	ScriptHashAddrID: 0x4b,
	PrivateKeyID:     0xef,
	HDVersions:       testHDVersions,
	HDCoinType:       1,
	Elements:         true,
	BlindedPrefix:    0x04,
}

// registeredNets is scanned in order by the lookup helpers. Mainnet goes
// first so that ambiguous version bytes resolve to it.
var registeredNets = []*Params{
	&MainNetParams,
	&TestNet3Params,
	&RegressionNetParams,
	&SigNetParams,
	&LiquidV1Params,
	&ElementsRegtestParams,
}

// ErrUnknownHDVersion is returned when a 4-byte extended key prefix does
// not belong to any registered network.
var ErrUnknownHDVersion = errors.New("unknown extended key version")

// ErrUnknownNetwork is returned when a network name lookup fails.
var ErrUnknownNetwork = errors.New("unknown network")

// HDVersion resolves a 4-byte extended key version prefix to the network
// and SLIP-132 key type it belongs to. The first registered network that
// matches wins.
func HDVersion(version [4]byte) (net *Params, keyType HDKeyType, private bool, err error) {
	for _, p := range registeredNets {
		for t, pair := range p.HDVersions {
			if pair.Priv == version {
				return p, t, true, nil
			}
			if pair.Pub == version {
				return p, t, false, nil
			}
		}
	}
	return nil, "", false, ErrUnknownHDVersion
}

// ByName returns the registered network with the given short name.
func ByName(name string) (*Params, error) {
	for _, p := range registeredNets {
		if p.Name == name {
			return p, nil
		}
	}
	return nil, ErrUnknownNetwork
}

// Networks returns all registered networks in lookup order.
func Networks() []*Params {
	out := make([]*Params, len(registeredNets))
	copy(out, registeredNets)
	return out
}
