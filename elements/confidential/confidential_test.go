// Copyright (c) 2025 The embit developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package confidential

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func factor(b byte) []byte {
	out := make([]byte, BlindingFactorSize)
	out[BlindingFactorSize-1] = b
	return out
}

func asset(b byte) []byte {
	out := make([]byte, 32)
	for i := range out {
		out[i] = b
	}
	return out
}

func TestGenerator(t *testing.T) {
	gen, err := GenerateBlinded(asset(0xaa), factor(5))
	require.NoError(t, err)
	raw := gen.Serialize()
	require.Len(t, raw, CommitmentSize)

	parsed, err := ParseGenerator(raw)
	require.NoError(t, err)
	assert.Equal(t, raw, parsed.Serialize())

	// Deterministic per (asset, abf); different abf moves the point.
	gen2, err := GenerateBlinded(asset(0xaa), factor(5))
	require.NoError(t, err)
	assert.Equal(t, raw, gen2.Serialize())
	gen3, err := GenerateBlinded(asset(0xaa), factor(6))
	require.NoError(t, err)
	assert.NotEqual(t, raw, gen3.Serialize())

	_, err = ParseGenerator(raw[:32])
	assert.ErrorIs(t, err, ErrInvalidCommitment)
}

func TestCommitVerify(t *testing.T) {
	gen, err := GenerateBlinded(asset(0x01), factor(9))
	require.NoError(t, err)

	commit, err := Commit(factor(7), 100000, gen)
	require.NoError(t, err)
	require.Len(t, commit.Serialize(), CommitmentSize)

	assert.True(t, commit.Verify(factor(7), 100000, gen))
	assert.False(t, commit.Verify(factor(7), 100001, gen))
	assert.False(t, commit.Verify(factor(8), 100000, gen))

	parsed, err := ParseCommitment(commit.Serialize())
	require.NoError(t, err)
	assert.True(t, parsed.Verify(factor(7), 100000, gen))
}

func TestBlindSumBalances(t *testing.T) {
	// One input of 150000, two outputs of 100000 and 50000, same
	// asset. The returned final vbf must make the commitments tally.
	a := asset(0x33)
	values := []uint64{150000, 100000, 50000}
	abfs := [][]byte{factor(1), factor(2), factor(3)}
	vbfs := [][]byte{factor(11), factor(12)}

	last, err := BlindGeneratorBlindSum(values, abfs, vbfs, 1)
	require.NoError(t, err)

	commitments := make([]*Commitment, 3)
	allVbfs := append(vbfs, last)
	for i := range values {
		gen, err := GenerateBlinded(a, abfs[i])
		require.NoError(t, err)
		commitments[i], err = Commit(allVbfs[i], values[i], gen)
		require.NoError(t, err)
	}
	assert.True(t, VerifyTally(commitments[:1], commitments[1:]))

	// Tampered amounts do not tally.
	gen, _ := GenerateBlinded(a, abfs[2])
	bad, err := Commit(last, 50001, gen)
	require.NoError(t, err)
	assert.False(t, VerifyTally(commitments[:1], []*Commitment{commitments[1], bad}))
}

func TestRangeProof(t *testing.T) {
	gen, err := GenerateBlinded(asset(0x02), factor(4))
	require.NoError(t, err)
	vbf := factor(21)
	commit, err := Commit(vbf, 42000, gen)
	require.NoError(t, err)

	nonce := bytes.Repeat([]byte{0x77}, 32)
	message := []byte("change output")
	proof, err := RangeProofSign(nonce, 42000, commit, vbf, message, nil, gen)
	require.NoError(t, err)
	assert.True(t, RangeProofVerify(proof, commit, nil, gen))

	value, gotVbf, gotMsg, err := RangeProofRewind(proof, nonce, commit, nil, gen)
	require.NoError(t, err)
	assert.Equal(t, uint64(42000), value)
	assert.Equal(t, vbf, gotVbf)
	assert.Equal(t, message, gotMsg)

	// A wrong nonce cannot open the proof.
	_, _, _, err = RangeProofRewind(proof, bytes.Repeat([]byte{0x78}, 32), commit, nil, gen)
	assert.ErrorIs(t, err, ErrRewindFailed)

	// A tampered proof fails verification.
	proof[len(proof)-1] ^= 0x01
	assert.False(t, RangeProofVerify(proof, commit, nil, gen))
}

func TestSurjectionProof(t *testing.T) {
	inputs := make([]*Generator, 3)
	for i := range inputs {
		var err error
		inputs[i], err = GenerateBlinded(asset(byte(i+1)), factor(byte(i+1)))
		require.NoError(t, err)
	}
	output, err := GenerateBlinded(asset(0x02), factor(0x55))
	require.NoError(t, err)

	proof, err := SurjectionProofGenerate(inputs, output, 1, factor(0x55))
	require.NoError(t, err)
	assert.True(t, SurjectionProofVerify(proof, inputs, output))

	parsed, err := ParseSurjectionProof(proof.Serialize())
	require.NoError(t, err)
	assert.True(t, SurjectionProofVerify(parsed, inputs, output))

	// Wrong generator set fails.
	assert.False(t, SurjectionProofVerify(proof, inputs[:2], output))

	_, err = SurjectionProofGenerate(inputs, output, 5, factor(1))
	assert.ErrorIs(t, err, ErrInvalidSurjectionProof)
}

func TestMusigCombine(t *testing.T) {
	genA, err := GenerateBlinded(asset(1), factor(1))
	require.NoError(t, err)
	genB, err := GenerateBlinded(asset(2), factor(2))
	require.NoError(t, err)

	sum, err := MusigPubkeyCombine(genA.point, genB.point)
	require.NoError(t, err)
	sum2, err := MusigPubkeyCombine(genB.point, genA.point)
	require.NoError(t, err)
	assert.True(t, sum.Equal(sum2))
}
