// Copyright (c) 2025 The embit developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package psbt

import (
	"bytes"
	"fmt"

	"github.com/diybitcoinhardware/embit/ecc"
	"github.com/diybitcoinhardware/embit/hashes"
	"github.com/diybitcoinhardware/embit/hdkeychain"
	"github.com/diybitcoinhardware/embit/txscript"
	"github.com/diybitcoinhardware/embit/wire"
)

// signContext caches the transaction-wide state shared by every input
// during one signing pass.
type signContext struct {
	tx        *wire.MsgTx
	fetcher   *txscript.MultiPrevOutFetcher
	sigHashes *txscript.TxSigHashes
}

func (p *Packet) newSignContext() (*signContext, error) {
	tx, err := p.UnsignedTx()
	if err != nil {
		return nil, err
	}
	fetcher := txscript.NewMultiPrevOutFetcher()
	haveAll := true
	for i := range p.Inputs {
		utxo, err := p.InputUtxo(i)
		if err != nil {
			haveAll = false
			continue
		}
		fetcher.AddPrevOut(tx.TxIn[i].PreviousOutPoint, utxo)
	}
	ctx := &signContext{tx: tx, fetcher: fetcher}
	if haveAll {
		ctx.sigHashes = txscript.NewTxSigHashes(tx, fetcher)
	} else {
		ctx.sigHashes = txscript.NewTxSigHashes(tx, nil)
	}
	return ctx, nil
}

// scriptCode resolves the script an input signature commits to: the
// witness script if present, else the redeem script, else the utxo's
// script, with p2wpkh rewritten to its p2pkh form per BIP-143.
func (in *Input) scriptCode(utxo *wire.TxOut) ([]byte, bool) {
	sc := utxo.PkScript
	if in.RedeemScript != nil {
		sc = in.RedeemScript
	}
	if in.WitnessScript != nil {
		sc = in.WitnessScript
	}
	segwit := in.WitnessScript != nil || in.WitnessUtxo != nil
	switch txscript.GetScriptClass(utxo.PkScript) {
	case txscript.WitnessV0PubKeyHashTy, txscript.WitnessV0ScriptHashTy:
		segwit = true
	}
	if in.RedeemScript != nil {
		switch txscript.GetScriptClass(in.RedeemScript) {
		case txscript.WitnessV0PubKeyHashTy, txscript.WitnessV0ScriptHashTy:
			segwit = true
		}
	}
	if rewritten, err := txscript.P2PKHFromP2WPKH(sc); err == nil {
		sc = rewritten
	}
	return sc, segwit
}

// defaultSighash picks the type to sign with when the scope does not
// pin one.
func (in *Input) defaultSighash(taproot bool) txscript.SigHashType {
	if in.SighashType != nil {
		return *in.SighashType
	}
	if taproot {
		return txscript.SigHashDefault
	}
	return txscript.SigHashAll
}

// SignWithRoot signs every input whose BIP-32 derivation fields match
// the root key's fingerprint, inserting partial signatures (or taproot
// signatures) into the scopes. Inputs that cannot be signed are skipped
// so that cosigners contribute what they can. Returns the number of
// signatures added.
func (p *Packet) SignWithRoot(root *hdkeychain.ExtendedKey) (int, error) {
	return p.Sign(root, nil)
}

// Sign behaves like SignWithRoot but, when requested is non-nil, skips
// inputs whose sighash type differs from requested: the pinned type, or
// SIGHASH_ALL (SIGHASH_DEFAULT for taproot) when none is pinned.
func (p *Packet) Sign(root *hdkeychain.ExtendedKey, requested *txscript.SigHashType) (int, error) {
	ctx, err := p.newSignContext()
	if err != nil {
		return 0, err
	}
	fingerprint := root.Fingerprint()
	total := 0
	for i := range p.Inputs {
		n, err := p.signInput(ctx, i, root, fingerprint, requested)
		if err != nil {
			return total, fmt.Errorf("input %d: %w", i, err)
		}
		total += n
	}
	return total, nil
}

func (p *Packet) signInput(ctx *signContext, i int, root *hdkeychain.ExtendedKey, fingerprint [4]byte, requested *txscript.SigHashType) (int, error) {
	in := p.Inputs[i]
	utxo, err := p.InputUtxo(i)
	if err != nil {
		// A watch-only cosigner may know nothing about this input.
		log.Debugf("skipping input %d: %v", i, err)
		return 0, nil
	}
	taproot := txscript.IsPayToTaproot(utxo.PkScript)
	sighash := in.defaultSighash(taproot)
	if requested != nil && sighash != *requested {
		return 0, nil
	}

	if taproot {
		return p.signTaprootInput(ctx, i, root, fingerprint, sighash)
	}

	sc, segwit := in.scriptCode(utxo)
	var digest []byte
	if segwit {
		digest, err = txscript.CalcWitnessSigHash(sc, ctx.sigHashes, sighash, ctx.tx, i, utxo.Value)
	} else {
		digest, err = txscript.CalcSignatureHash(sc, sighash, ctx.tx, i)
	}
	if err != nil {
		return 0, err
	}

	count := 0
	for _, der := range in.Bip32Derivations {
		if der.Origin.Fingerprint != fingerprint {
			continue
		}
		if in.hasPartialSig(der.PubKey) {
			continue
		}
		hd, err := root.Derive(der.Origin.Path)
		if err != nil {
			return count, err
		}
		priv, err := hd.PrivateKey()
		if err != nil {
			return count, err
		}
		pub := priv.PublicKey()
		pub.Compressed = len(der.PubKey) == 33
		if !bytes.Equal(pub.Sec(), der.PubKey) {
			return count, ErrDerivationMismatch
		}
		sig, err := priv.Sign(digest)
		if err != nil {
			return count, err
		}
		in.PartialSigs = append(in.PartialSigs, PartialSig{
			PubKey:    der.PubKey,
			Signature: append(sig.Serialize(), byte(sighash)),
		})
		count++
	}
	return count, nil
}

func (p *Packet) signTaprootInput(ctx *signContext, i int, root *hdkeychain.ExtendedKey, fingerprint [4]byte, sighash txscript.SigHashType) (int, error) {
	in := p.Inputs[i]
	count := 0
	for _, der := range in.TapBip32Derivations {
		if der.Origin.Fingerprint != fingerprint {
			continue
		}
		hd, err := root.Derive(der.Origin.Path)
		if err != nil {
			return count, err
		}
		priv, err := hd.PrivateKey()
		if err != nil {
			return count, err
		}
		xonly, _ := priv.PublicKey().XOnly()
		if !bytes.Equal(xonly, der.XOnlyPubKey[:]) {
			return count, ErrDerivationMismatch
		}

		if len(der.LeafHashes) == 0 {
			// Key path: apply the taproot tweak before signing.
			if in.TapKeySig != nil {
				continue
			}
			tweaked, err := txscript.TweakTaprootPrivKey(priv, in.TapMerkleRoot)
			if err != nil {
				return count, err
			}
			digest, err := txscript.CalcTaprootSignatureHash(ctx.sigHashes, sighash, ctx.tx, i, ctx.fetcher, nil)
			if err != nil {
				return count, err
			}
			sig, err := tweaked.SchnorrSign(digest, nil)
			if err != nil {
				return count, err
			}
			raw := sig.Serialize()
			if sighash != txscript.SigHashDefault {
				raw = append(raw, byte(sighash))
			}
			in.TapKeySig = raw
			count++
			continue
		}

		// Script path: plain Schnorr under each leaf the key appears
		// in.
		for _, leafHash := range der.LeafHashes {
			if in.hasTapScriptSig(der.XOnlyPubKey, leafHash) {
				continue
			}
			digest, err := txscript.CalcTaprootSignatureHash(ctx.sigHashes, sighash, ctx.tx, i, ctx.fetcher, leafHash[:])
			if err != nil {
				return count, err
			}
			sig, err := priv.SchnorrSign(digest, nil)
			if err != nil {
				return count, err
			}
			raw := sig.Serialize()
			if sighash != txscript.SigHashDefault {
				raw = append(raw, byte(sighash))
			}
			in.TapScriptSigs = append(in.TapScriptSigs, TapScriptSig{
				XOnlyPubKey: der.XOnlyPubKey,
				LeafHash:    leafHash,
				Signature:   raw,
			})
			count++
		}
	}
	return count, nil
}

// SignWithPrivateKey signs the inputs whose script code mentions the
// key's SEC serialization or its hash160, the path a WIF-only signer
// takes.
func (p *Packet) SignWithPrivateKey(priv *ecc.PrivateKey) (int, error) {
	ctx, err := p.newSignContext()
	if err != nil {
		return 0, err
	}
	pub := priv.PublicKey()
	sec := pub.Sec()
	pkh := hashes.Hash160(sec)

	total := 0
	for i, in := range p.Inputs {
		utxo, err := p.InputUtxo(i)
		if err != nil {
			continue
		}
		if txscript.IsPayToTaproot(utxo.PkScript) {
			continue
		}
		sc, segwit := in.scriptCode(utxo)
		if !bytes.Contains(sc, sec) && !bytes.Contains(sc, pkh) {
			continue
		}
		sighash := in.defaultSighash(false)
		var digest []byte
		if segwit {
			digest, err = txscript.CalcWitnessSigHash(sc, ctx.sigHashes, sighash, ctx.tx, i, utxo.Value)
		} else {
			digest, err = txscript.CalcSignatureHash(sc, sighash, ctx.tx, i)
		}
		if err != nil {
			return total, err
		}
		sig, err := priv.Sign(digest)
		if err != nil {
			return total, err
		}
		in.PartialSigs = append(in.PartialSigs, PartialSig{
			PubKey:    sec,
			Signature: append(sig.Serialize(), byte(sighash)),
		})
		total++
	}
	return total, nil
}

func (in *Input) hasPartialSig(pubKey []byte) bool {
	for _, ps := range in.PartialSigs {
		if bytes.Equal(ps.PubKey, pubKey) {
			return true
		}
	}
	return false
}

func (in *Input) hasTapScriptSig(xonly [32]byte, leafHash [32]byte) bool {
	for _, s := range in.TapScriptSigs {
		if s.XOnlyPubKey == xonly && s.LeafHash == leafHash {
			return true
		}
	}
	return false
}
