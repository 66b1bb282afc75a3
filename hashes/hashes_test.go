// Copyright (c) 2025 The embit developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package hashes

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDigests(t *testing.T) {
	msg := []byte("embit")
	assert.Equal(t,
		"96bc925d0bd5308e594dc69e4c86a8274381c3fcfe8d59b6ac792fce0e577de5",
		hex.EncodeToString(DoubleSHA256(msg)))
	assert.Equal(t,
		"611a08ad88671b0fa6516b7e8c5fb530fc7f7de8",
		hex.EncodeToString(Hash160(msg)))
}

func TestTaggedHash(t *testing.T) {
	data := make([]byte, 32)
	for i := range data {
		data[i] = 0x01
	}
	assert.Equal(t,
		"003bbea760c3d01b88a94a68b127eb4be2f0eef3fea8aef297209f2f73f9c754",
		hex.EncodeToString(TaggedHash("TapTweak", data)))

	// Multi-part messages concatenate.
	assert.Equal(t,
		TaggedHash("TapTweak", data),
		TaggedHash("TapTweak", data[:16], data[16:]))
}

func TestPBKDF2(t *testing.T) {
	// The BIP-39 seed stretch of the all-abandon mnemonic.
	mnemonic := "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"
	seed := PBKDF2SHA512([]byte(mnemonic), []byte("mnemonic"), 2048, 64)
	require.Len(t, seed, 64)
	assert.Equal(t,
		"5eb00bbddcf069084889a8ab9155568165f5c453ccb85e70811aaed6f6da5fc1",
		hex.EncodeToString(seed[:32]))
}
