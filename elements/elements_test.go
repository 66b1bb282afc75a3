// Copyright (c) 2025 The embit developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package elements

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/diybitcoinhardware/embit/chaincfg"
	"github.com/diybitcoinhardware/embit/ecc"
	"github.com/diybitcoinhardware/embit/elements/confidential"
	"github.com/diybitcoinhardware/embit/txscript"
	"github.com/diybitcoinhardware/embit/wire"
)

// explicitAsset renders an asset tag in the explicit 0x01-prefixed
// form.
func explicitAsset(tag byte) []byte {
	out := make([]byte, 33)
	out[0] = 0x01
	for i := 1; i < 33; i++ {
		out[i] = tag
	}
	return out
}

func sampleTx(t *testing.T, blinded bool) *Transaction {
	t.Helper()
	var prev chainhash.Hash
	prev[0] = 0xaa

	tx := &Transaction{Version: 2}
	tx.TxIn = []*TxIn{{
		PreviousOutPoint: wire.OutPoint{Hash: prev, Index: 1},
		Sequence:         0xfffffffd,
	}}
	out := &TxOut{
		Asset:    explicitAsset(0x11),
		Value:    ConfValue{Explicit: 100000},
		PkScript: []byte{txscript.OP_0, 0x14, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16, 17, 18, 19, 20},
	}
	if blinded {
		gen, err := confidential.GenerateBlinded(out.Asset[1:], make([]byte, 32))
		require.NoError(t, err)
		commit, err := confidential.Commit(testFactor(7), 100000, gen)
		require.NoError(t, err)
		out.Value = ConfValue{Commitment: commit.Serialize()}
		out.Asset = gen.Serialize()
		out.Nonce = gen.Serialize()
		out.Witness = TxOutWitness{RangeProof: []byte{0x01, 0x02}}
	}
	tx.TxOut = []*TxOut{out}
	return tx
}

func testFactor(b byte) []byte {
	out := make([]byte, 32)
	out[31] = b
	return out
}

func TestTransactionRoundTrip(t *testing.T) {
	for _, blinded := range []bool{false, true} {
		tx := sampleTx(t, blinded)
		raw := tx.Bytes()

		decoded := &Transaction{}
		require.NoError(t, decoded.Deserialize(bytes.NewReader(raw)))
		assert.Equal(t, raw, decoded.Bytes())
		assert.Equal(t, blinded, decoded.HasWitness())

		// The txid ignores witness data.
		assert.Equal(t, tx.TxHash(), decoded.TxHash())
	}
}

func TestIssuanceAndPeginFlags(t *testing.T) {
	tx := sampleTx(t, false)
	tx.TxIn[0].IsPegin = true
	tx.TxIn[0].Issuance = &AssetIssuance{
		AmountCommitment: ConfValue{Explicit: 21000},
		TokenCommitment:  ConfValue{Null: true},
	}
	raw := tx.Bytes()

	decoded := &Transaction{}
	require.NoError(t, decoded.Deserialize(bytes.NewReader(raw)))
	require.NotNil(t, decoded.TxIn[0].Issuance)
	assert.True(t, decoded.TxIn[0].IsPegin)
	assert.Equal(t, uint64(21000), decoded.TxIn[0].Issuance.AmountCommitment.Explicit)
	assert.True(t, decoded.TxIn[0].Issuance.TokenCommitment.Null)
	// The flag bits never leak into the parsed index.
	assert.Equal(t, uint32(1), decoded.TxIn[0].PreviousOutPoint.Index)
}

func TestReadVoutStreaming(t *testing.T) {
	tx := sampleTx(t, true)
	raw := tx.Bytes()

	out, txid, err := ReadVout(bytes.NewReader(raw), 0)
	require.NoError(t, err)
	expected := tx.TxHash()
	assert.Equal(t, expected[:], txid[:])
	assert.Equal(t, tx.TxOut[0].Serialize(), out.Serialize())

	_, _, err = ReadVout(bytes.NewReader(raw), 3)
	assert.ErrorIs(t, err, ErrBadFormat)
}

func TestSighashRangeproofBit(t *testing.T) {
	tx := sampleTx(t, true)
	sc := []byte{txscript.OP_DUP}
	value := tx.TxOut[0].Value.Commitment

	base, err := tx.SighashSegwit(0, sc, value, txscript.SigHashAll)
	require.NoError(t, err)
	withProofs, err := tx.SighashSegwit(0, sc, value, txscript.SigHashAll|txscript.SigHashRangeproof)
	require.NoError(t, err)
	assert.NotEqual(t, base, withProofs)

	// The legacy digest commits to the whole transaction too.
	legacy, err := tx.SighashLegacy(0, sc, txscript.SigHashAll)
	require.NoError(t, err)
	assert.Len(t, legacy, 32)
	assert.NotEqual(t, base, legacy)
}

func TestSlip77(t *testing.T) {
	seed := bytes.Repeat([]byte{0x42}, 64)
	mbk := NewMasterBlindingKey(seed)
	script := []byte{0x00, 0x14, 0xaa}

	key1, err := mbk.BlindingKey(script)
	require.NoError(t, err)
	key2, err := mbk.BlindingKey(script)
	require.NoError(t, err)
	assert.True(t, key1.Equal(key2))

	other, err := mbk.BlindingKey([]byte{0x00, 0x14, 0xbb})
	require.NoError(t, err)
	assert.False(t, key1.Equal(other))

	pub, err := mbk.BlindingPubKey(script)
	require.NoError(t, err)
	assert.True(t, pub.Equal(key1.PublicKey()))

	// The blinding HD root is deterministic and distinct from the
	// Bitcoin root of the same seed.
	root, err := NewBlindingRoot(seed, &chaincfg.LiquidV1Params)
	require.NoError(t, err)
	root2, err := NewBlindingRoot(seed, &chaincfg.LiquidV1Params)
	require.NoError(t, err)
	assert.Equal(t, root.String(), root2.String())
}

func TestTweakBlindingKey(t *testing.T) {
	priv, err := ecc.GeneratePrivateKey()
	require.NoError(t, err)
	script := []byte{0x51}

	k1, err := TweakBlindingKey(priv, script)
	require.NoError(t, err)
	k2, err := TweakBlindingKey(priv, script)
	require.NoError(t, err)
	assert.True(t, k1.Equal(k2))

	k3, err := TweakBlindingKey(priv, []byte{0x52})
	require.NoError(t, err)
	assert.False(t, k1.Equal(k3))
}

func TestConfidentialAddress(t *testing.T) {
	blinding, err := ecc.GeneratePrivateKey()
	require.NoError(t, err)
	spending, err := ecc.GeneratePrivateKey()
	require.NoError(t, err)
	net := &chaincfg.LiquidV1Params

	addr := NewConfidentialP2PKH(blinding.PublicKey(), spending.PublicKey(), net)
	encoded := addr.String()

	parsed, err := ParseConfidentialAddress(encoded, net)
	require.NoError(t, err)
	assert.True(t, parsed.BlindingKey.Equal(blinding.PublicKey()))
	assert.Equal(t, addr.Hash, parsed.Hash)
	assert.Equal(t, addr.UnconfidentialAddress(), parsed.UnconfidentialAddress())

	_, err = ParseConfidentialAddress(encoded, &chaincfg.ElementsRegtestParams)
	assert.ErrorIs(t, err, ErrInvalidConfidentialAddress)
}

func TestPSETRoundTrip(t *testing.T) {
	// Build a PSET around a one-input one-output blinded transaction
	// whose commitments verify.
	tx := sampleTx(t, false)
	abf := testFactor(3)
	vbf := testFactor(9)
	gen, err := confidential.GenerateBlinded(tx.TxOut[0].Asset[1:], abf)
	require.NoError(t, err)
	commit, err := confidential.Commit(vbf, tx.TxOut[0].Value.Explicit, gen)
	require.NoError(t, err)

	p := &PSET{
		Tx:      tx,
		Inputs:  []*Input{{}},
		Outputs: []*Output{{
			ValueCommitment:     commit.Serialize(),
			ValueBlindingFactor: vbf,
			AssetCommitment:     gen.Serialize(),
			AssetBlindingFactor: abf,
			NonceCommitment:     gen.Serialize(),
			RangeProof:          []byte{0xaa, 0xbb},
			SurjectionProof:     []byte{0xcc},
		}},
	}
	value := uint64(100000)
	p.Inputs[0].Value = &value
	p.Inputs[0].AssetBlindingFactor = testFactor(1)

	raw := p.Serialize()
	parsed, err := ParsePSET(raw)
	require.NoError(t, err)
	assert.Equal(t, raw, parsed.Serialize())
	assert.Equal(t, *p.Inputs[0].Value, *parsed.Inputs[0].Value)
	assert.Equal(t, p.Outputs[0].ValueCommitment, parsed.Outputs[0].ValueCommitment)

	// Corrupting the stored value commitment must fail verification.
	p.Outputs[0].ValueCommitment = append([]byte(nil), p.Outputs[0].ValueCommitment...)
	p.Outputs[0].ValueCommitment[5] ^= 0x01
	_, err = ParsePSET(p.Serialize())
	assert.Error(t, err)
}

func TestPSETv2RoundTrip(t *testing.T) {
	// A version 2 PSET carries no global transaction; the prevout and
	// output data live in the scopes.
	abf := testFactor(3)
	vbf := testFactor(9)
	assetTag := bytes.Repeat([]byte{0x11}, 32)
	gen, err := confidential.GenerateBlinded(assetTag, abf)
	require.NoError(t, err)
	commit, err := confidential.Commit(vbf, 100000, gen)
	require.NoError(t, err)

	txVersion := int32(2)
	locktime := uint32(0)
	p := &PSET{
		Version:          2,
		TxVersion:        &txVersion,
		FallbackLocktime: &locktime,
		Inputs:           []*Input{{}},
		Outputs: []*Output{{
			Asset:               assetTag,
			ValueCommitment:     commit.Serialize(),
			ValueBlindingFactor: vbf,
			AssetCommitment:     gen.Serialize(),
			AssetBlindingFactor: abf,
			NonceCommitment:     gen.Serialize(),
			RangeProof:          []byte{0xaa, 0xbb},
			SurjectionProof:     []byte{0xcc},
			BlindingPubKey:      gen.Serialize(),
		}},
	}
	var prev chainhash.Hash
	prev[0] = 0xaa
	idx := uint32(1)
	seq := uint32(0xfffffffd)
	p.Inputs[0].PreviousTxid = &prev
	p.Inputs[0].OutputIndex = &idx
	p.Inputs[0].Sequence = &seq
	amount := uint64(100000)
	p.Outputs[0].Amount = &amount
	p.Outputs[0].Script = []byte{txscript.OP_0, 0x14, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16, 17, 18, 19, 20}

	raw := p.Serialize()
	parsed, err := ParsePSET(raw)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), parsed.Version)
	assert.Nil(t, parsed.Tx)
	assert.Equal(t, raw, parsed.Serialize())
	assert.Equal(t, assetTag, parsed.Outputs[0].Asset)
	assert.Equal(t, p.Outputs[0].ValueCommitment, parsed.Outputs[0].ValueCommitment)
	assert.Equal(t, p.Outputs[0].BlindingPubKey, parsed.Outputs[0].BlindingPubKey)

	// The assembled transaction matches the scope fields.
	tx, err := parsed.UnsignedTx()
	require.NoError(t, err)
	require.Len(t, tx.TxIn, 1)
	require.Len(t, tx.TxOut, 1)
	assert.Equal(t, prev, tx.TxIn[0].PreviousOutPoint.Hash)
	assert.Equal(t, idx, tx.TxIn[0].PreviousOutPoint.Index)
	assert.Equal(t, seq, tx.TxIn[0].Sequence)
	assert.Equal(t, amount, tx.TxOut[0].Value.Explicit)
	assert.Equal(t, byte(0x01), tx.TxOut[0].Asset[0])

	// Commitment verification applies to v2 as well.
	parsed.Outputs[0].ValueCommitment = append([]byte(nil), parsed.Outputs[0].ValueCommitment...)
	parsed.Outputs[0].ValueCommitment[5] ^= 0x01
	_, err = ParsePSET(parsed.Serialize())
	assert.Error(t, err)
}

func TestSighashIssuanceMasking(t *testing.T) {
	// With ANYONECANPAY, a signer must not commit to the other inputs'
	// issuances.
	tx := sampleTx(t, false)
	var prev chainhash.Hash
	prev[0] = 0xbb
	tx.TxIn = append(tx.TxIn, &TxIn{
		PreviousOutPoint: wire.OutPoint{Hash: prev, Index: 0},
		Sequence:         0xffffffff,
	})
	sc := []byte{txscript.OP_DUP}
	value := []byte{0x01, 0, 0, 0, 0, 0, 1, 0x86, 0xa0}

	acp := txscript.SigHashAll | txscript.SigHashAnyOneCanPay
	before, err := tx.SighashSegwit(0, sc, value, acp)
	require.NoError(t, err)
	all, err := tx.SighashSegwit(0, sc, value, txscript.SigHashAll)
	require.NoError(t, err)

	tx.TxIn[1].Issuance = &AssetIssuance{
		AmountCommitment: ConfValue{Explicit: 5000},
		TokenCommitment:  ConfValue{Null: true},
	}
	afterACP, err := tx.SighashSegwit(0, sc, value, acp)
	require.NoError(t, err)
	afterAll, err := tx.SighashSegwit(0, sc, value, txscript.SigHashAll)
	require.NoError(t, err)

	assert.Equal(t, before, afterACP)
	assert.NotEqual(t, all, afterAll)
}
