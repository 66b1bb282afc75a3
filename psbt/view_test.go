// Copyright (c) 2025 The embit developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package psbt

import (
	"bytes"
	"encoding/base64"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diybitcoinhardware/embit/txscript"
)

// serializeInput renders one scope for comparison between the
// in-memory and streaming parsers.
func serializeInput(t *testing.T, in *Input, version uint32) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, in.write(&buf, version))
	return buf.Bytes()
}

func serializeOutput(t *testing.T, out *Output, version uint32) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, out.write(&buf, version))
	return buf.Bytes()
}

func TestViewEquivalence(t *testing.T) {
	for n, b64 := range testPSBTs {
		p, err := FromString(b64)
		require.NoError(t, err, "psbt %d", n)
		raw, err := base64.StdEncoding.DecodeString(b64)
		require.NoError(t, err)

		v, err := ViewFrom(bytes.NewReader(raw))
		require.NoError(t, err, "psbt %d", n)
		assert.Equal(t, len(p.Inputs), v.NumInputs)
		assert.Equal(t, len(p.Outputs), v.NumOutputs)
		assert.Equal(t, p.Version, v.Version)

		// Scope-by-scope byte equality with the in-memory parser.
		for i, in := range p.Inputs {
			scope, err := v.Input(i)
			require.NoError(t, err)
			assert.Equal(t,
				serializeInput(t, in, p.Version),
				serializeInput(t, scope, p.Version),
				"psbt %d input %d", n, i)

			// Minimal vin matches the unsigned transaction.
			tx, err := p.UnsignedTx()
			require.NoError(t, err)
			vin, err := v.Vin(i)
			require.NoError(t, err)
			assert.Equal(t, tx.TxIn[i].PreviousOutPoint, vin.PreviousOutPoint)
			assert.Equal(t, tx.TxIn[i].Sequence, vin.Sequence)
		}
		for i, out := range p.Outputs {
			scope, err := v.Output(i)
			require.NoError(t, err)
			assert.Equal(t,
				serializeOutput(t, out, p.Version),
				serializeOutput(t, scope, p.Version),
				"psbt %d output %d", n, i)

			tx, err := p.UnsignedTx()
			require.NoError(t, err)
			vout, err := v.Vout(i)
			require.NoError(t, err)
			assert.Equal(t, tx.TxOut[i].Value, vout.Value)
			assert.Equal(t, tx.TxOut[i].PkScript, vout.PkScript)
		}

		// Seeking past the last scope leaves nothing in the stream.
		require.NoError(t, v.SeekToScope(v.NumInputs+v.NumOutputs))
		reader := bytes.NewReader(raw)
		v2, err := ViewFrom(reader)
		require.NoError(t, err)
		require.NoError(t, v2.SeekToScope(v2.NumInputs+v2.NumOutputs))
		one := make([]byte, 1)
		_, err = reader.Read(one)
		assert.Error(t, err, "psbt %d: bytes left after last scope", n)
	}
}

func TestViewTxFields(t *testing.T) {
	for n, b64 := range testPSBTs {
		p, err := FromString(b64)
		require.NoError(t, err)
		raw, _ := base64.StdEncoding.DecodeString(b64)
		v, err := ViewFrom(bytes.NewReader(raw))
		require.NoError(t, err)

		tx, err := p.UnsignedTx()
		require.NoError(t, err)

		gotVersion, err := v.TxVersion()
		require.NoError(t, err)
		assert.Equal(t, tx.Version, gotVersion, "psbt %d", n)
		gotLocktime, err := v.Locktime()
		require.NoError(t, err)
		assert.Equal(t, tx.LockTime, gotLocktime, "psbt %d", n)
	}
}

func TestViewSighashMatchesPacket(t *testing.T) {
	for _, b64 := range testPSBTs[:4] {
		p, err := FromString(b64)
		require.NoError(t, err)
		raw, _ := base64.StdEncoding.DecodeString(b64)
		v, err := ViewFrom(bytes.NewReader(raw))
		require.NoError(t, err)

		ctx, err := p.newSignContext()
		require.NoError(t, err)
		for i, in := range p.Inputs {
			utxo, err := p.InputUtxo(i)
			require.NoError(t, err)
			sc, segwit := in.scriptCode(utxo)
			require.True(t, segwit)

			want, err := txscript.CalcWitnessSigHash(sc, ctx.sigHashes, txscript.SigHashAll, ctx.tx, i, utxo.Value)
			require.NoError(t, err)
			got, err := v.Sighash(i, txscript.SigHashAll, nil)
			require.NoError(t, err)
			assert.Equal(t, want, got, "input %d", i)
		}
	}
}

func TestViewSignAndWrite(t *testing.T) {
	b64 := testPSBTs[0]
	raw, _ := base64.StdEncoding.DecodeString(b64)
	v, err := ViewFrom(bytes.NewReader(raw))
	require.NoError(t, err)
	root := segwitRoot(t)

	var sigs bytes.Buffer
	count, err := v.SignWith(root, &sigs, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	// Replaying the signature stream through WriteTo produces a PSBT
	// equal to signing the in-memory packet.
	var out bytes.Buffer
	_, err = v.WriteTo(&out, false, []io.Reader{bytes.NewReader(sigs.Bytes())}, nil)
	require.NoError(t, err)

	expected, err := FromString(b64)
	require.NoError(t, err)
	_, err = expected.SignWithRoot(root)
	require.NoError(t, err)

	merged, err := Parse(out.Bytes())
	require.NoError(t, err)
	assert.Equal(t, expected.String(), merged.String())

	// Compressed output drops derivations but keeps signatures.
	v2, err := ViewFrom(bytes.NewReader(raw))
	require.NoError(t, err)
	var compressed bytes.Buffer
	_, err = v2.WriteTo(&compressed, true, []io.Reader{bytes.NewReader(sigs.Bytes())}, nil)
	require.NoError(t, err)
	small, err := Parse(compressed.Bytes())
	require.NoError(t, err)
	assert.Less(t, compressed.Len(), out.Len())
	for i := range small.Inputs {
		assert.Empty(t, small.Inputs[i].Bip32Derivations)
		assert.Len(t, small.Inputs[i].PartialSigs, 1, "input %d", i)
	}
}
