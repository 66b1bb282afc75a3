// Copyright (c) 2025 The embit developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package psbt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diybitcoinhardware/embit/bip39"
	"github.com/diybitcoinhardware/embit/chaincfg"
	"github.com/diybitcoinhardware/embit/ecc"
	"github.com/diybitcoinhardware/embit/hdkeychain"
	"github.com/diybitcoinhardware/embit/txscript"
)

// The wallet behind the segwit test PSBTs.
const testMnemonic = "toy fault beef holiday later unit boring merge shield detail scrap negative"

// The wallet behind the taproot test PSBT.
const taprootKey = "tprv8ZgxMBicQKsPf27gmh4DbQqN2K6xnXA7m7AeceqQVGkRYny3X49sgcufzbJcq4k5eaGZDMijccdDzvQga2Saqd78dKqN52QwLyqgY8apX3j"

// An unsigned PSBT with two taproot key-path inputs controlled by
// taprootKey at m/0/0 and m/0/1.
const taprootPSBT = "cHNidP8BAKYCAAAAAsBlMEaxkJwNZ6V+BZ06bKIb5q2CpF9sHDDj0/eJfzA1AAAAAAD+////kqnvuD+I8rLf8eELSAqvqBiEy5+IpOKpn/acu+gs0E8BAAAAAP7///8CAA4nBwAAAAAWABStYQVCeoRPwINTcqOPmDkTReYZVbjCyQEAAAAAIlEgDTyyEUjN1Oyxc6Z5xifyM3Kamy+Hrt0UdV86CeDMvf8AAAAAAAEAfQIAAAABRL1RocN1LnP4aONGuWFAJm0+Hej0SWAqlSlJ9caTP/gBAAAAAP7///8CAOH1BQAAAAAiUSBCFZNDTJDvmyVvyzL/thnwUyHGSdn0HDwInUIk/SHzmc4uGh4BAAAAFgAU1ZjhFjq1hmtoVb2+6O7jHrtqYsDLAAAAAQErAOH1BQAAAAAiUSBCFZNDTJDvmyVvyzL/thnwUyHGSdn0HDwInUIk/SHzmQABAH0CAAAAAcBlMEaxkJwNZ6V+BZ06bKIb5q2CpF9sHDDj0/eJfzA1AQAAAAD+////ArU9HxsBAAAAFgAUOGUymdaBcR3nQVoZ804qGf9H9iKA8PoCAAAAACJRIDrGIL80dDh9Y5xIBek776O9xpVrAtiuyiy8HXZSuTUZzAAAAAEBK4Dw+gIAAAAAIlEgOsYgvzR0OH1jnEgF6Tvvo73GlWsC2K7KLLwddlK5NRkAAAA="

// The BIP-371 test vector: one taproot key-path input with
// PSBT_IN_TAP_BIP32_DERIVATION and PSBT_IN_TAP_INTERNAL_KEY.
const bip371Hex = "70736274ff010052020000000127744ababf3027fe0d6cf23a96eee2efb188ef52301954585883e69b6624b2420000000000ffffffff0148e6052a01000000160014768e1eeb4cf420866033f80aceff0f9720744969000000000001012b00f2052a010000002251205a2c2cf5b52cf31f83ad2e8da63ff03183ecd8f609c7510ae8a48e03910a07572116fe349064c98d6e2a853fa3c9b12bd8b304a19c195c60efa7ee2393046d3fa2321900772b2da75600008001000080000000800100000000000000011720fe349064c98d6e2a853fa3c9b12bd8b304a19c195c60efa7ee2393046d3fa232002202036b772a6db74d8753c98a827958de6c78ab3312109f37d3e0304484242ece73d818772b2da7540000800100008000000080000000000000000000"

func segwitRoot(t *testing.T) *hdkeychain.ExtendedKey {
	t.Helper()
	seed := bip39.Seed(testMnemonic, "")
	root, err := hdkeychain.NewMasterWithVersion(seed,
		chaincfg.TestNet3Params.HDPrivVersion(chaincfg.HDKeyStandard))
	require.NoError(t, err)
	return root
}

func TestSignSegwit(t *testing.T) {
	for _, b64 := range testPSBTs[:2] {
		p, err := FromString(b64)
		require.NoError(t, err)
		root := segwitRoot(t)

		count, err := p.SignWithRoot(root)
		require.NoError(t, err)
		assert.Equal(t, 3, count)

		// Every signature must verify against its derivation's pubkey
		// over our recomputed digest.
		ctx, err := p.newSignContext()
		require.NoError(t, err)
		for i, in := range p.Inputs {
			require.Len(t, in.PartialSigs, 1, "input %d", i)
			ps := in.PartialSigs[0]
			assert.Equal(t, byte(txscript.SigHashAll), ps.Signature[len(ps.Signature)-1])

			utxo, err := p.InputUtxo(i)
			require.NoError(t, err)
			sc, segwit := in.scriptCode(utxo)
			require.True(t, segwit)
			digest, err := txscript.CalcWitnessSigHash(sc, ctx.sigHashes, txscript.SigHashAll, ctx.tx, i, utxo.Value)
			require.NoError(t, err)

			pub, err := ecc.ParsePublicKey(ps.PubKey)
			require.NoError(t, err)
			sig, err := ecc.ParseDER(ps.Signature[:len(ps.Signature)-1])
			require.NoError(t, err)
			assert.True(t, sig.Verify(digest, pub), "input %d", i)
		}

		// Signing again must not duplicate signatures.
		count, err = p.SignWithRoot(root)
		require.NoError(t, err)
		assert.Zero(t, count)
	}
}

func TestSignTaprootKeyPath(t *testing.T) {
	p, err := FromString(taprootPSBT)
	require.NoError(t, err)
	root, err := hdkeychain.NewKeyFromString(taprootKey)
	require.NoError(t, err)
	fp := root.Fingerprint()

	// The PSBT carries no derivations; add them the way a wallet that
	// recognizes its own inputs would.
	for i := range p.Inputs {
		child, err := root.Derive([]uint32{0, uint32(i)})
		require.NoError(t, err)
		var xonly [32]byte
		x, _ := child.PublicKey().XOnly()
		copy(xonly[:], x)
		p.Inputs[i].TapBip32Derivations = []TapBip32Derivation{{
			XOnlyPubKey: xonly,
			Origin:      KeyOrigin{Fingerprint: fp, Path: []uint32{0, uint32(i)}},
		}}
	}

	count, err := p.SignWithRoot(root)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	for i, in := range p.Inputs {
		require.Len(t, in.TapKeySig, 64, "input %d", i)

		// The signature must verify against the output key embedded in
		// the utxo script, which also proves the tweak was applied.
		utxo, err := p.InputUtxo(i)
		require.NoError(t, err)
		outputKey, err := ecc.ParseXOnlyPublicKey(utxo.PkScript[2:])
		require.NoError(t, err)

		ctx, err := p.newSignContext()
		require.NoError(t, err)
		digest, err := txscript.CalcTaprootSignatureHash(ctx.sigHashes, txscript.SigHashDefault, ctx.tx, i, ctx.fetcher, nil)
		require.NoError(t, err)
		sig, err := ecc.ParseSchnorr(in.TapKeySig)
		require.NoError(t, err)
		assert.True(t, sig.Verify(digest, outputKey), "input %d", i)
	}

	// Finalize and extract.
	require.NoError(t, p.Finalize())
	tx, err := p.ExtractTx()
	require.NoError(t, err)
	for _, ti := range tx.TxIn {
		require.Len(t, ti.Witness, 1)
		assert.Len(t, ti.Witness[0], 64)
	}
}

func TestBIP371Fields(t *testing.T) {
	p, err := FromString(bip371Hex)
	require.NoError(t, err)
	require.Len(t, p.Inputs, 1)
	in := p.Inputs[0]

	require.Len(t, in.TapBip32Derivations, 1)
	der := in.TapBip32Derivations[0]
	assert.Empty(t, der.LeafHashes)
	assert.Equal(t, [4]byte{0x77, 0x2b, 0x2d, 0xa7}, der.Origin.Fingerprint)
	assert.Equal(t, []uint32{
		86 + hdkeychain.HardenedKeyStart,
		1 + hdkeychain.HardenedKeyStart,
		hdkeychain.HardenedKeyStart,
		1, 0,
	}, der.Origin.Path)
	assert.Len(t, in.TapInternalKey, 32)
	assert.Equal(t, der.XOnlyPubKey[:], in.TapInternalKey)

	// Round trip.
	p2, err := Parse(p.Serialize())
	require.NoError(t, err)
	assert.Equal(t, p.String(), p2.String())
}

func TestFinalizeMultisig(t *testing.T) {
	// The native segwit multisig PSBT: every input is 1-of-2 with one key
	// from each cosigner root.
	p, err := FromString(testPSBTs[4])
	require.NoError(t, err)

	// Nobody signed yet, finalization must fail.
	err = p.Finalize()
	assert.ErrorIs(t, err, ErrIncompleteSignatures)

	root := segwitRoot(t)
	count, err := p.SignWithRoot(root)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	// One cosigner's signature meets the 1-of-2 threshold.
	require.NoError(t, p.Finalize())
}

func TestSignWithPrivateKey(t *testing.T) {
	p, err := FromString(testPSBTs[0])
	require.NoError(t, err)
	root := segwitRoot(t)

	// Use the individual key of the first input.
	child, err := root.Derive(p.Inputs[0].Bip32Derivations[0].Origin.Path)
	require.NoError(t, err)
	priv, err := child.PrivateKey()
	require.NoError(t, err)

	count, err := p.SignWithPrivateKey(priv)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Len(t, p.Inputs[0].PartialSigs, 1)
}
