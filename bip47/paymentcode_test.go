// Copyright (c) 2025 The embit developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package bip47

import (
	"bytes"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diybitcoinhardware/embit/bip39"
	"github.com/diybitcoinhardware/embit/chaincfg"
	"github.com/diybitcoinhardware/embit/ecc"
	"github.com/diybitcoinhardware/embit/hdkeychain"
	"github.com/diybitcoinhardware/embit/wire"
)

// Test vectors from the reference BIP-47 test data.
const (
	aliceMnemonic    = "response seminar brave tip suit recall often sound stick owner lottery motion"
	alicePaymentCode = "PM8TJTLJbPRGxSbc8EJi42Wrr6QbNSaSSVJ5Y3E4pbCYiTHUskHg13935Ubb7q8tx9GVbh2UuRnBc3WSyJHhUrw8KhprKnn9eDznYGieTzFcwQRya4GA"
	aliceNotifAddr   = "1JDdmqFLhpzcUwPeinhJbUPw4Co3aWLyzW"

	bobMnemonic    = "reward upper indicate eight swift arch injury crystal super wrestle already dentist"
	bobPaymentCode = "PM8TJS2JxQ5ztXUpBBRnpTbcUXbUHy2T1abfrb3KkAAtMEGNbey4oumH7Hc578WgQJhPjBxteQ5GHHToTYHE3A1w6p7tU6KSoFmWBVbFGjKPisZDbP97"
	bobNotifAddr   = "1ChvUUvht2hUQufHBXF8NgLhW8SwE2ecGV"

	aliceNotifInputWIF      = "Kx983SRhAZpAhj7Aac1wUXMJ6XZeyJKqCxJJ49dxEbYCT4a1ozRD"
	aliceNotifInputOutpoint = "86f411ab1c8e70ae8a0795ab7a6757aea6e4d5ae1826fc7b8f00c597d500609c01000000"
	aliceBlindedPayload     = "010002063e4eb95e62791b06c50e1a3a942e1ecaaa9afbbeb324d16ae6821e091611fa96c0cf048f607fe51a0327f5e2528979311c78cb2de0d682c61e1180fc3d543b00000000000000000000000000"

	aliceNotifTxHex = "010000000186f411ab1c8e70ae8a0795ab7a6757aea6e4d5ae1826fc7b8f00c597d500609c010000006b483045022100ac8c6dbc482c79e86c18928a8b364923c774bfdbd852059f6b3778f2319b59a7022029d7cc5724e2f41ab1fcfc0ba5a0d4f57ca76f72f19530ba97c860c70a6bf0a801210272d83d8a1fa323feab1c085157a0791b46eba34afb8bfbfaeb3a3fcc3f2c9ad8ffffffff0210270000000000001976a9148066a8e7ee82e5c5b9b7dc1765038340dc5420a988ac1027000000000000536a4c50010002063e4eb95e62791b06c50e1a3a942e1ecaaa9afbbeb324d16ae6821e091611fa96c0cf048f607fe51a0327f5e2528979311c78cb2de0d682c61e1180fc3d543b0000000000000000000000000000000000"
)

// The first mainnet p2pkh payment addresses Alice derives for Bob.
var alicePaysBobP2PKH = []string{
	"141fi7TY3h936vRUKh1qfUZr8rSBuYbVBK",
	"12u3Uued2fuko2nY4SoSFGCoGLCBUGPkk6",
	"1FsBVhT5dQutGwaPePTYMe5qvYqqjxyftc",
	"1CZAmrbKL6fJ7wUxb99aETwXhcGeG3CpeA",
	"1KQvRShk6NqPfpr4Ehd53XUhpemBXtJPTL",
}

var alicePaysBobP2WPKH = []string{
	"bc1qyyytpxv60e6hwh5jqkj2dcenckdsw6ekn2htfq",
	"bc1qzn8a8drxv6ln7rztjsw660gzf3hnrfwupzmsfh",
	"bc1q5v84r4dq2vkdku8h7ewfkj6c00eh20gmf0amr5",
}

func rootFromMnemonic(t *testing.T, mnemonic string) *hdkeychain.ExtendedKey {
	t.Helper()
	seed := bip39.Seed(mnemonic, "")
	root, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	require.NoError(t, err)
	return root
}

func TestPaymentCodes(t *testing.T) {
	alice := rootFromMnemonic(t, aliceMnemonic)
	code, err := PaymentCode(alice, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, alicePaymentCode, code)

	bob := rootFromMnemonic(t, bobMnemonic)
	code, err = PaymentCode(bob, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, bobPaymentCode, code)
}

func TestNotificationAddresses(t *testing.T) {
	addr, err := NotificationAddress(alicePaymentCode, ScriptP2PKH, &chaincfg.MainNetParams)
	require.NoError(t, err)
	assert.Equal(t, aliceNotifAddr, addr)

	addr, err = NotificationAddress(bobPaymentCode, ScriptP2PKH, &chaincfg.MainNetParams)
	require.NoError(t, err)
	assert.Equal(t, bobNotifAddr, addr)
}

func TestPaymentAddresses(t *testing.T) {
	alice := rootFromMnemonic(t, aliceMnemonic)
	for i, expected := range alicePaysBobP2PKH {
		addr, err := PaymentAddress(alice, bobPaymentCode, uint32(i), 0, 0, &chaincfg.MainNetParams, ScriptP2PKH)
		require.NoError(t, err)
		assert.Equal(t, expected, addr, "index %d", i)
	}
	for i, expected := range alicePaysBobP2WPKH {
		addr, err := PaymentAddress(alice, bobPaymentCode, uint32(i), 0, 0, &chaincfg.MainNetParams, ScriptP2WPKH)
		require.NoError(t, err)
		assert.Equal(t, expected, addr, "index %d", i)
	}
}

func TestReceiveAddresses(t *testing.T) {
	bob := rootFromMnemonic(t, bobMnemonic)
	for i, expected := range alicePaysBobP2PKH {
		addr, spendKey, err := ReceiveAddress(bob, alicePaymentCode, uint32(i), 0, 0, &chaincfg.MainNetParams, ScriptP2PKH)
		require.NoError(t, err)
		assert.Equal(t, expected, addr, "index %d", i)
		require.NotNil(t, spendKey)

		// The spending key controls the address.
		derived := p2pkhAddress(t, spendKey.PublicKey())
		assert.Equal(t, expected, derived, "index %d", i)
	}
}

func p2pkhAddress(t *testing.T, pub *ecc.PublicKey) string {
	t.Helper()
	addr, err := renderAddress(pub, ScriptP2PKH, &chaincfg.MainNetParams)
	require.NoError(t, err)
	return addr
}

func TestBlindPaymentCode(t *testing.T) {
	inputKey, _, err := ecc.PrivateKeyFromWIF(aliceNotifInputWIF)
	require.NoError(t, err)

	raw, err := hex.DecodeString(aliceNotifInputOutpoint)
	require.NoError(t, err)
	var op wire.OutPoint
	copy(op.Hash[:], raw[:32])
	op.Index = uint32(raw[32]) | uint32(raw[33])<<8 | uint32(raw[34])<<16 | uint32(raw[35])<<24

	blinded, err := BlindPaymentCode(alicePaymentCode, inputKey, op, bobPaymentCode)
	require.NoError(t, err)
	assert.Equal(t, aliceBlindedPayload, hex.EncodeToString(blinded))
}

func TestPaymentCodeFromNotificationTx(t *testing.T) {
	raw, err := hex.DecodeString(aliceNotifTxHex)
	require.NoError(t, err)
	tx := &wire.MsgTx{}
	require.NoError(t, tx.Deserialize(bytes.NewReader(raw)))

	bob := rootFromMnemonic(t, bobMnemonic)
	code, err := PaymentCodeFromNotificationTx(tx, bob, 0, 0, &chaincfg.MainNetParams)
	require.NoError(t, err)
	assert.Equal(t, alicePaymentCode, code)

	// A different recipient cannot decode it.
	other := rootFromMnemonic(t, "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about")
	_, err = PaymentCodeFromNotificationTx(tx, other, 0, 0, &chaincfg.MainNetParams)
	assert.Error(t, err)
}

func TestPaymentCodeValidation(t *testing.T) {
	_, err := DerivedNode("PMnotavalidcode", 0)
	assert.ErrorIs(t, err, ErrInvalidPaymentCode)
}
