// Copyright (c) 2025 The embit developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chaincfg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHDVersionLookup(t *testing.T) {
	// Mainnet xprv.
	net, keyType, private, err := HDVersion([4]byte{0x04, 0x88, 0xad, 0xe4})
	require.NoError(t, err)
	assert.Equal(t, "main", net.Name)
	assert.Equal(t, HDKeyStandard, keyType)
	assert.True(t, private)

	// Testnet zpub equivalent (vpub).
	net, keyType, private, err = HDVersion([4]byte{0x04, 0x5f, 0x1c, 0xf6})
	require.NoError(t, err)
	assert.Equal(t, "test", net.Name)
	assert.Equal(t, HDKeyNativeSegwit, keyType)
	assert.False(t, private)

	_, _, _, err = HDVersion([4]byte{0xde, 0xad, 0xbe, 0xef})
	assert.ErrorIs(t, err, ErrUnknownHDVersion)
}

func TestByName(t *testing.T) {
	for _, name := range []string{"main", "test", "regtest", "signet", "liquidv1", "elementsregtest"} {
		net, err := ByName(name)
		require.NoError(t, err)
		assert.Equal(t, name, net.Name)
	}
	_, err := ByName("nope")
	assert.ErrorIs(t, err, ErrUnknownNetwork)
}

func TestElementsFlags(t *testing.T) {
	assert.False(t, MainNetParams.Elements)
	assert.True(t, LiquidV1Params.Elements)
	assert.True(t, ElementsRegtestParams.Elements)
	assert.NotZero(t, LiquidV1Params.BlindedPrefix)
}

func TestVersionFallback(t *testing.T) {
	// Unknown key types fall back to the standard pair.
	v := MainNetParams.HDPrivVersion(HDKeyType("bogus"))
	assert.Equal(t, MainNetParams.HDVersions[HDKeyStandard].Priv, v)
}
