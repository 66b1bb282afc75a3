// Copyright (c) 2025 The embit developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package txscript

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diybitcoinhardware/embit/ecc"
)

const testWIF = "L2e5y14ZD3U1J7Yr62t331RtYe2hRW2TBBP8qNQHB8nSPBNgt6dM"

func testPub(t *testing.T) *ecc.PublicKey {
	t.Helper()
	priv, _, err := ecc.PrivateKeyFromWIF(testWIF)
	require.NoError(t, err)
	return priv.PublicKey()
}

func TestClassification(t *testing.T) {
	pub := testPub(t)

	tests := []struct {
		name   string
		script []byte
		class  ScriptClass
	}{
		{"p2pkh", PayToPubKeyHashScript(pub), PubKeyHashTy},
		{"p2sh", PayToScriptHashScript([]byte{OP_1}), ScriptHashTy},
		{"p2wpkh", PayToWitnessPubKeyHashScript(pub), WitnessV0PubKeyHashTy},
		{"p2wsh", PayToWitnessScriptHashScript([]byte{OP_1}), WitnessV0ScriptHashTy},
		{"empty", nil, NonStandardTy},
		{"truncated p2pkh", PayToPubKeyHashScript(pub)[:20], NonStandardTy},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.class, GetScriptClass(test.script))
		})
	}

	t.Run("p2tr", func(t *testing.T) {
		script, err := PayToTaprootKey(pub, nil)
		require.NoError(t, err)
		assert.Equal(t, TaprootTy, GetScriptClass(script))
		version, program, ok := IsWitnessProgram(script)
		require.True(t, ok)
		assert.Equal(t, byte(1), version)
		assert.Len(t, program, 32)
	})

	t.Run("multisig", func(t *testing.T) {
		keys := testKeys(t, 3)
		script, err := MultiSigScript(2, keys)
		require.NoError(t, err)
		assert.Equal(t, MultiSigTy, GetScriptClass(script))

		m, pubKeys, err := ExtractMultiSig(script)
		require.NoError(t, err)
		assert.Equal(t, 2, m)
		require.Len(t, pubKeys, 3)
		for i, pk := range pubKeys {
			assert.Equal(t, keys[i].SerializeCompressed(), pk)
		}
	})

	t.Run("nulldata", func(t *testing.T) {
		script, err := NullDataScript([]byte("hello"))
		require.NoError(t, err)
		assert.Equal(t, NullDataTy, GetScriptClass(script))
		_, err = NullDataScript(make([]byte, 81))
		assert.Error(t, err)
	})
}

func testKeys(t *testing.T, n int) []*ecc.PublicKey {
	t.Helper()
	keys := make([]*ecc.PublicKey, n)
	for i := range keys {
		b := make([]byte, 32)
		b[31] = byte(i + 10)
		k, err := ecc.NewPrivateKey(b)
		require.NoError(t, err)
		keys[i] = k.PublicKey()
	}
	return keys
}

func TestSortedMultiSig(t *testing.T) {
	keys := testKeys(t, 3)

	// sortedmulti is invariant under permutation of the input keys.
	a, err := SortedMultiSigScript(2, []*ecc.PublicKey{keys[2], keys[0], keys[1]})
	require.NoError(t, err)
	b, err := SortedMultiSigScript(2, []*ecc.PublicKey{keys[1], keys[2], keys[0]})
	require.NoError(t, err)
	assert.Equal(t, a, b)

	// And equals multi() over pre-sorted keys.
	sorted := append([]*ecc.PublicKey(nil), keys...)
	ecc.SortKeys(sorted)
	c, err := MultiSigScript(2, sorted)
	require.NoError(t, err)
	assert.Equal(t, a, c)

	_, err = MultiSigScript(4, keys)
	assert.Error(t, err)
	_, err = MultiSigScript(0, keys)
	assert.Error(t, err)
}

func TestP2PKHFromP2WPKH(t *testing.T) {
	pub := testPub(t)
	wpkh := PayToWitnessPubKeyHashScript(pub)
	pkh, err := P2PKHFromP2WPKH(wpkh)
	require.NoError(t, err)
	assert.Equal(t, PayToPubKeyHashScript(pub), pkh)

	_, err = P2PKHFromP2WPKH(pkh)
	assert.ErrorIs(t, err, ErrUnsupportedScript)
}

func TestScriptBuilder(t *testing.T) {
	// Minimal pushes: small ints become OP_N.
	script, err := NewScriptBuilder().AddData([]byte{0x05}).Script()
	require.NoError(t, err)
	assert.Equal(t, []byte{OP_5}, script)

	script, err = NewScriptBuilder().AddData([]byte{}).Script()
	require.NoError(t, err)
	assert.Equal(t, []byte{OP_0}, script)

	// 75 bytes is a direct push, 76 needs OP_PUSHDATA1.
	script, err = NewScriptBuilder().AddData(make([]byte, 75)).Script()
	require.NoError(t, err)
	assert.Equal(t, byte(75), script[0])
	script, err = NewScriptBuilder().AddData(make([]byte, 76)).Script()
	require.NoError(t, err)
	assert.Equal(t, byte(OP_PUSHDATA1), script[0])

	// Script numbers.
	assert.Equal(t, []byte(nil), ScriptNum(0))
	assert.Equal(t, []byte{0x20}, ScriptNum(32))
	assert.Equal(t, []byte{0x90, 0x00}, ScriptNum(144))
	assert.Equal(t, []byte{0xe8, 0x03}, ScriptNum(1000))
	assert.Equal(t, []byte{0x81}, ScriptNum(-1))
}

func TestTaprootTweak(t *testing.T) {
	priv, _, err := ecc.PrivateKeyFromWIF(testWIF)
	require.NoError(t, err)
	pub := priv.PublicKey()

	// Tweaking the private key and the public key must agree.
	tweakedPriv, err := TweakTaprootPrivKey(priv, nil)
	require.NoError(t, err)
	outputKey, err := ComputeTaprootOutputKey(pub, nil)
	require.NoError(t, err)
	gotX, _ := tweakedPriv.PublicKey().XOnly()
	wantX, _ := outputKey.XOnly()
	assert.Equal(t, hex.EncodeToString(wantX), hex.EncodeToString(gotX))

	// A key-path signature under the tweaked key verifies against the
	// output key.
	msg := make([]byte, 32)
	msg[31] = 7
	sig, err := tweakedPriv.SchnorrSign(msg, nil)
	require.NoError(t, err)
	assert.True(t, sig.Verify(msg, outputKey))
}

func TestTapLeafAndBranch(t *testing.T) {
	leafA := NewBaseTapLeaf([]byte{OP_1})
	leafB := NewBaseTapLeaf([]byte{OP_2})
	hashA := leafA.TapLeafHash()
	hashB := leafB.TapLeafHash()
	require.Len(t, hashA, 32)
	assert.NotEqual(t, hashA, hashB)

	// Branch hashing sorts its children.
	assert.Equal(t, TapBranchHash(hashA, hashB), TapBranchHash(hashB, hashA))
}

func TestControlBlockRoundTrip(t *testing.T) {
	pub := testPub(t)
	cb := &ControlBlock{
		InternalKey:    pub,
		OutputParity:   true,
		LeafVersion:    BaseLeafVersion,
		InclusionProof: make([]byte, 64),
	}
	raw := cb.Serialize()
	parsed, err := ParseControlBlock(raw)
	require.NoError(t, err)
	assert.Equal(t, raw, parsed.Serialize())

	_, err = ParseControlBlock(raw[:34])
	assert.Error(t, err)
}
