// Copyright (c) 2025 The embit developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package bip85

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diybitcoinhardware/embit/chaincfg"
	"github.com/diybitcoinhardware/embit/hdkeychain"
)

func testRoot(t *testing.T) *hdkeychain.ExtendedKey {
	t.Helper()
	seed, err := hex.DecodeString("000102030405060708090a0b0c0d0e0f")
	require.NoError(t, err)
	root, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	require.NoError(t, err)
	return root
}

func TestDeriveEntropy(t *testing.T) {
	root := testRoot(t)
	entropy, err := DeriveEntropy(root, "0h/0h")
	require.NoError(t, err)
	assert.Equal(t,
		"d59a1479afe7d1655cf02f800595903002190213460e8ddb966454e36de854756c408d639a2564920c22389b12e8bc6844ecf85a2ce0de037a3166cd9031bebf",
		hex.EncodeToString(entropy))

	// Different application paths diverge.
	other, err := DeriveEntropy(root, "0h/1h")
	require.NoError(t, err)
	assert.NotEqual(t, entropy, other)
}

func TestDeriveMnemonic(t *testing.T) {
	root := testRoot(t)
	mnemonic, err := DeriveMnemonic(root, 12, 0)
	require.NoError(t, err)
	assert.Equal(t,
		"pool message slab fatigue summer height valid royal offer wait transfer expand",
		mnemonic)

	_, err = DeriveMnemonic(root, 13, 0)
	assert.ErrorIs(t, err, ErrInvalidLength)
}

func TestDeriveHex(t *testing.T) {
	root := testRoot(t)
	entropy, err := DeriveHex(root, 32, 0)
	require.NoError(t, err)
	assert.Equal(t,
		"2b98ad5fb5e64b2dbfc42150f7c912d237fe8c249f78f04b41df0fbeb0427690",
		hex.EncodeToString(entropy))

	_, err = DeriveHex(root, 15, 0)
	assert.ErrorIs(t, err, ErrInvalidLength)
	_, err = DeriveHex(root, 65, 0)
	assert.ErrorIs(t, err, ErrInvalidLength)
}

func TestDeriveXprv(t *testing.T) {
	root := testRoot(t)
	child, err := DeriveXprv(root, 0)
	require.NoError(t, err)
	assert.Equal(t,
		"xprv9s21ZrQH143K44pVjrF5JcEvJVVo8vyz6K7ViG2CQptNFS5f8ni2PGFXHCjUM2BCaUaZEqRnv9eGqq8qiAzwFZNSG2TPPsxdwQ7pApgKBFC",
		child.String())
}

func TestRequiresPrivateKey(t *testing.T) {
	root := testRoot(t)
	pub, err := root.Neuter()
	require.NoError(t, err)
	_, err = DeriveEntropy(pub, "0h/0h")
	assert.Error(t, err)
}
