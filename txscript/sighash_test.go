// Copyright (c) 2025 The embit developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package txscript

import (
	"encoding/hex"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diybitcoinhardware/embit/wire"
)

// sighashTestTx builds the fixed transaction the digest goldens were
// computed for: two inputs, a p2pkh and a p2wpkh output, locktime
// 500000.
func sighashTestTx(t *testing.T) (*wire.MsgTx, []byte, []byte, *MultiPrevOutFetcher) {
	t.Helper()
	pub := testPub(t)
	spk1 := PayToPubKeyHashScript(pub)
	spk2 := PayToWitnessPubKeyHashScript(pub)

	tx := wire.NewMsgTx(2)
	var h1, h2 chainhash.Hash
	for i := range h1 {
		h1[i] = byte(i)
		h2[i] = byte(i + 32)
	}
	in1 := wire.NewTxIn(wire.OutPoint{Hash: h1, Index: 0}, nil)
	in1.Sequence = 0xfffffffd
	in2 := wire.NewTxIn(wire.OutPoint{Hash: h2, Index: 1}, nil)
	tx.AddTxIn(in1)
	tx.AddTxIn(in2)
	tx.AddTxOut(wire.NewTxOut(150000, spk1))
	tx.AddTxOut(wire.NewTxOut(250000, spk2))
	tx.LockTime = 500000

	fetcher := NewMultiPrevOutFetcher()
	fetcher.AddPrevOut(in1.PreviousOutPoint, wire.NewTxOut(150000, spk2))
	taprootSpk := append([]byte{OP_1, 0x20}, make([]byte, 32)...)
	fetcher.AddPrevOut(in2.PreviousOutPoint, wire.NewTxOut(250000, taprootSpk))
	return tx, spk1, spk2, fetcher
}

func TestLegacySighash(t *testing.T) {
	tx, spk1, _, _ := sighashTestTx(t)
	tests := []struct {
		hashType SigHashType
		want     string
	}{
		{SigHashAll, "9db422e8cf19526ade779600114a9aa1e0b8fa643e8cf5b57ce60d310061898b"},
		{SigHashNone, "efb1b2e7d82dbd68d2ccab4a38e086de56af38751b515ba7349e7b96ac1f9bf5"},
		{SigHashSingle, "5a904f61bcaaf5e70e1851a324169732aab4e00e08a6ec5d53a4b160b978bd04"},
		{SigHashAll | SigHashAnyOneCanPay, "71de11fe1b9b17088f7350045292ec090d8e6bc463d76483ef70933ca201455f"},
		{SigHashSingle | SigHashAnyOneCanPay, "5e30bd4bd9cd374ec69bfdf6da48832711e29a2f4cc9fd0f385d2badcc79cec8"},
	}
	for _, test := range tests {
		got, err := CalcSignatureHash(spk1, test.hashType, tx, 0)
		require.NoError(t, err)
		assert.Equal(t, test.want, hex.EncodeToString(got), "type %#x", test.hashType)
	}
}

func TestLegacySighashSingleOutOfRange(t *testing.T) {
	tx, spk1, _, _ := sighashTestTx(t)
	// Drop the second output so input 1 has no matching output.
	tx.TxOut = tx.TxOut[:1]
	got, err := CalcSignatureHash(spk1, SigHashSingle, tx, 1)
	require.NoError(t, err)
	want := make([]byte, 32)
	want[31] = 0x01
	assert.Equal(t, want, got)
}

func TestWitnessSighash(t *testing.T) {
	tx, spk1, _, _ := sighashTestTx(t)
	sigHashes := NewTxSigHashes(tx, nil)
	tests := []struct {
		hashType SigHashType
		want     string
	}{
		{SigHashAll, "97ef982df9842fc003fb507f204e4d7ed1f0ae07f0973b5151a151d5e858757c"},
		{SigHashSingle, "fdf8da12f59bf8951659558cf52206e4b655d66135837dad9114069b5251587b"},
		{SigHashAll | SigHashAnyOneCanPay, "6535fd7c7a7b792a763c8260c68f9eb7b7a217146b8314e11179be6a45343d02"},
	}
	for _, test := range tests {
		got, err := CalcWitnessSigHash(spk1, sigHashes, test.hashType, tx, 1, 250000)
		require.NoError(t, err)
		assert.Equal(t, test.want, hex.EncodeToString(got), "type %#x", test.hashType)
	}
}

func TestTaprootSighash(t *testing.T) {
	tx, _, _, fetcher := sighashTestTx(t)
	sigHashes := NewTxSigHashes(tx, fetcher)
	tests := []struct {
		hashType SigHashType
		want     string
	}{
		{SigHashDefault, "a66a105f4a1651d2a9068e741ee50ebfcb31fc3ef70bc8562382faba4b42710e"},
		{SigHashAll, "06140e610da1769f15a2a1aed14f966360babd1e7e6427bb11c5479fc60d6529"},
		{SigHashSingle, "f78d0e56f39b333786e768488e6386927dadd012fe17a4b42a45cacd92f97a0f"},
		{SigHashAll | SigHashAnyOneCanPay, "4f76305a09fac6f329107a2efd6f5fd895a9cfff7e999c021a97dfd603224772"},
	}
	for _, test := range tests {
		got, err := CalcTaprootSignatureHash(sigHashes, test.hashType, tx, 0, fetcher, nil)
		require.NoError(t, err)
		assert.Equal(t, test.want, hex.EncodeToString(got), "type %#x", test.hashType)
	}

	// Invalid types are rejected.
	_, err := CalcTaprootSignatureHash(sigHashes, SigHashType(0x04), tx, 0, fetcher, nil)
	assert.ErrorIs(t, err, ErrInvalidSigHashType)

	// A script-path digest differs from the key-path one.
	leaf := NewBaseTapLeaf([]byte{OP_1})
	scriptPath, err := CalcTaprootSignatureHash(sigHashes, SigHashDefault, tx, 0, fetcher, leaf.TapLeafHash())
	require.NoError(t, err)
	keyPath, _ := hex.DecodeString(tests[0].want)
	assert.NotEqual(t, keyPath, scriptPath)
}

func TestSigHashTypeHelpers(t *testing.T) {
	assert.Equal(t, SigHashAll, (SigHashAll | SigHashAnyOneCanPay).Base())
	assert.True(t, (SigHashNone | SigHashAnyOneCanPay).AnyOneCanPay())
	assert.False(t, SigHashAll.AnyOneCanPay())
}
