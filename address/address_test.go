// Copyright (c) 2025 The embit developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package address

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diybitcoinhardware/embit/chaincfg"
	"github.com/diybitcoinhardware/embit/ecc"
	"github.com/diybitcoinhardware/embit/txscript"
)

// The regtest addresses of one fixed key, in all three common forms.
const testWIF = "L2e5y14ZD3U1J7Yr62t331RtYe2hRW2TBBP8qNQHB8nSPBNgt6dM"

func testKey(t *testing.T) *ecc.PublicKey {
	t.Helper()
	priv, _, err := ecc.PrivateKeyFromWIF(testWIF)
	require.NoError(t, err)
	return priv.PublicKey()
}

func TestKeyAddresses(t *testing.T) {
	pub := testKey(t)
	net := &chaincfg.RegressionNetParams

	t.Run("p2pkh", func(t *testing.T) {
		addr := NewPubKeyHashFromKey(pub, net)
		assert.Equal(t, "mnAn9XUpC3By62rUEKbe5fJVM3p2xGr1Ck", addr.String())
	})

	t.Run("p2wpkh", func(t *testing.T) {
		addr, err := NewWitnessPubKeyHash(pub, net)
		require.NoError(t, err)
		assert.Equal(t, "bcrt1qfrupw3afwdlzqsa477hn9yehhtfvwpsp02lahk", addr.String())
	})

	t.Run("p2sh-p2wpkh", func(t *testing.T) {
		redeem := txscript.PayToWitnessPubKeyHashScript(pub)
		addr := NewScriptHashFromScript(redeem, net)
		assert.Equal(t, "2NE38cntpYp2juGYf3hPNhstg9FEkedmX2w", addr.String())
	})
}

func TestScriptRoundTrip(t *testing.T) {
	pub := testKey(t)
	net := &chaincfg.RegressionNetParams

	scripts := [][]byte{
		txscript.PayToPubKeyHashScript(pub),
		txscript.PayToWitnessPubKeyHashScript(pub),
		txscript.PayToScriptHashScript(txscript.PayToWitnessPubKeyHashScript(pub)),
		txscript.PayToWitnessScriptHashScript([]byte{txscript.OP_1}),
	}
	for _, script := range scripts {
		addr, err := FromScript(script, net)
		require.NoError(t, err)

		// address -> script -> address round trip.
		back, err := PayToAddrScript(addr.String(), net)
		require.NoError(t, err)
		assert.Equal(t, hex.EncodeToString(script), hex.EncodeToString(back))

		decoded, err := Decode(addr.String(), net)
		require.NoError(t, err)
		assert.Equal(t, addr.String(), decoded.String())
		assert.True(t, decoded.IsForNet(net))
	}
}

func TestTaprootAddress(t *testing.T) {
	pub := testKey(t)
	net := &chaincfg.RegressionNetParams

	addr, err := NewTaproot(pub, nil, net)
	require.NoError(t, err)
	assert.Equal(t, byte(1), addr.WitnessVersion())

	// The rendered address decodes back to the same program and the
	// script form matches the p2tr template.
	decoded, err := Decode(addr.String(), net)
	require.NoError(t, err)
	seg, ok := decoded.(*SegWit)
	require.True(t, ok)
	assert.Equal(t, addr.ScriptAddress(), seg.ScriptAddress())
	assert.True(t, txscript.IsPayToTaproot(addr.PkScript()))
}

func TestDecodeErrors(t *testing.T) {
	net := &chaincfg.RegressionNetParams

	// Mainnet address on regtest.
	_, err := Decode("1JDdmqFLhpzcUwPeinhJbUPw4Co3aWLyzW", net)
	assert.Error(t, err)

	// Mainnet bech32 prefix on regtest.
	_, err = Decode("bc1qfrupw3afwdlzqsa477hn9yehhtfvwpsp0eyhsq", net)
	assert.Error(t, err)

	// Garbage.
	_, err = Decode("notanaddress", net)
	assert.Error(t, err)

	// A v0 program with a bech32 checksum decodes.
	witnessV0, err := Decode("bcrt1qfrupw3afwdlzqsa477hn9yehhtfvwpsp02lahk", net)
	require.NoError(t, err)
	_ = witnessV0
}

func TestProgramValidation(t *testing.T) {
	net := &chaincfg.MainNetParams
	_, err := NewSegWit(0, make([]byte, 25), net)
	assert.Error(t, err)
	_, err = NewSegWit(1, make([]byte, 20), net)
	assert.Error(t, err)
	_, err = NewSegWit(17, make([]byte, 32), net)
	assert.ErrorIs(t, err, ErrUnsupportedWitnessVersion)
	_, err = NewSegWit(2, make([]byte, 32), net)
	assert.NoError(t, err)
}
