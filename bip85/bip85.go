// Copyright (c) 2025 The embit developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package bip85 derives deterministic entropy from a BIP-32 root key:
// HMAC-SHA512("bip-entropy-from-k") over the private key at an
// application-specific hardened path.
package bip85

import (
	"errors"
	"fmt"

	"github.com/diybitcoinhardware/embit/bip39"
	"github.com/diybitcoinhardware/embit/ecc"
	"github.com/diybitcoinhardware/embit/hashes"
	"github.com/diybitcoinhardware/embit/hdkeychain"
)

// purposePath is the path of the hardened BIP-85 purpose index 83696968'
// ("SEED" on a phone keypad).
const purposePath = "m/83696968h"

// hmacKey is the fixed HMAC key entropy derivation uses.
const hmacKey = "bip-entropy-from-k"

// ErrInvalidLength is returned for unsupported entropy or word counts.
var ErrInvalidLength = errors.New("unsupported length")

// DeriveEntropy derives 64 bytes of application entropy at the given
// path below the BIP-85 purpose. appPath is appended as written; its
// components are not hardened automatically.
func DeriveEntropy(root *hdkeychain.ExtendedKey, appPath string) ([]byte, error) {
	node, err := root.DerivePath(purposePath + "/" + appPath)
	if err != nil {
		return nil, err
	}
	priv, err := node.PrivateKey()
	if err != nil {
		return nil, err
	}
	return hashes.HMACSHA512([]byte(hmacKey), priv.Serialize()), nil
}

// DeriveMnemonic derives a child BIP-39 mnemonic (application 39') for
// the English wordlist. numWords must be 12, 18 or 24.
func DeriveMnemonic(root *hdkeychain.ExtendedKey, numWords, index uint32) (string, error) {
	var entropyBytes int
	switch numWords {
	case 12:
		entropyBytes = 16
	case 18:
		entropyBytes = 24
	case 24:
		entropyBytes = 32
	default:
		return "", ErrInvalidLength
	}
	// m/83696968h/39h/{language}h/{words}h/{index}h with language 0
	// (English).
	app := fmt.Sprintf("39h/0h/%dh/%dh", numWords, index)
	entropy, err := DeriveEntropy(root, app)
	if err != nil {
		return "", err
	}
	return bip39.FromEntropy(entropy[:entropyBytes])
}

// DeriveXprv derives a child extended root key (application 32').
func DeriveXprv(root *hdkeychain.ExtendedKey, index uint32) (*hdkeychain.ExtendedKey, error) {
	entropy, err := DeriveEntropy(root, fmt.Sprintf("32h/%dh", index))
	if err != nil {
		return nil, err
	}
	// Left half is the chain code, right half the secret per BIP-85.
	var chain [32]byte
	copy(chain[:], entropy[:32])
	priv, err := ecc.NewPrivateKey(entropy[32:])
	if err != nil {
		return nil, err
	}
	return hdkeychain.NewExtendedKey(
		root.Version(), 0, [4]byte{}, 0, chain, priv, nil,
	)
}

// DeriveHex derives numBytes (16-64) of raw hex-style entropy
// (application 128169').
func DeriveHex(root *hdkeychain.ExtendedKey, numBytes, index uint32) ([]byte, error) {
	if numBytes < 16 || numBytes > 64 {
		return nil, ErrInvalidLength
	}
	entropy, err := DeriveEntropy(root, fmt.Sprintf("128169h/%dh/%dh", numBytes, index))
	if err != nil {
		return nil, err
	}
	return entropy[:numBytes], nil
}
