// Copyright (c) 2025 The embit developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package psbt

import (
	"bytes"
	"fmt"

	"github.com/diybitcoinhardware/embit/hashes"
	"github.com/diybitcoinhardware/embit/txscript"
	"github.com/diybitcoinhardware/embit/wire"
)

// Finalize builds final scriptSigs and witnesses for every input. Each
// input is all-or-nothing; the first input that cannot be satisfied
// aborts with ErrIncompleteSignatures. Arbitrary miniscript inputs are
// finalized by the descriptor package; this handles the standard
// single-key and multisig templates.
func (p *Packet) Finalize() error {
	for i := range p.Inputs {
		if err := p.FinalizeInput(i); err != nil {
			log.Debugf("cannot finalize input %d: %v", i, err)
			return fmt.Errorf("input %d: %w", i, err)
		}
	}
	return nil
}

// FinalizeInput finalizes a single input.
func (p *Packet) FinalizeInput(i int) error {
	if i < 0 || i >= len(p.Inputs) {
		return ErrInvalidScopeIndex
	}
	in := p.Inputs[i]
	if in.FinalScriptSig != nil || in.FinalScriptWitness != nil {
		return nil
	}
	utxo, err := p.InputUtxo(i)
	if err != nil {
		return err
	}

	class := txscript.GetScriptClass(utxo.PkScript)
	switch class {
	case txscript.PubKeyHashTy:
		sig, pub, err := in.sigForScript(utxo.PkScript)
		if err != nil {
			return err
		}
		b := txscript.NewScriptBuilder()
		b.AddData(sig).AddData(pub)
		in.FinalScriptSig, err = b.Script()
		if err != nil {
			return err
		}

	case txscript.WitnessV0PubKeyHashTy:
		sig, pub, err := in.sigForScript(utxo.PkScript)
		if err != nil {
			return err
		}
		in.FinalScriptWitness = wire.TxWitness{sig, pub}

	case txscript.ScriptHashTy:
		if in.RedeemScript == nil {
			return ErrIncompleteSignatures
		}
		switch txscript.GetScriptClass(in.RedeemScript) {
		case txscript.WitnessV0PubKeyHashTy:
			sig, pub, err := in.sigForScript(in.RedeemScript)
			if err != nil {
				return err
			}
			in.FinalScriptWitness = wire.TxWitness{sig, pub}
		case txscript.WitnessV0ScriptHashTy:
			witness, err := in.multisigWitness()
			if err != nil {
				return err
			}
			in.FinalScriptWitness = witness
		case txscript.MultiSigTy:
			scriptSig, err := in.multisigScriptSig()
			if err != nil {
				return err
			}
			in.FinalScriptSig = scriptSig
		default:
			return ErrIncompleteSignatures
		}
		if in.FinalScriptSig == nil {
			// Nested segwit: the scriptSig is just the redeem script
			// push.
			b := txscript.NewScriptBuilder()
			b.AddData(in.RedeemScript)
			var err error
			in.FinalScriptSig, err = b.Script()
			if err != nil {
				return err
			}
		}

	case txscript.WitnessV0ScriptHashTy:
		witness, err := in.multisigWitness()
		if err != nil {
			return err
		}
		in.FinalScriptWitness = witness

	case txscript.TaprootTy:
		if in.TapKeySig != nil {
			in.FinalScriptWitness = wire.TxWitness{in.TapKeySig}
			break
		}
		witness, err := in.tapScriptWitness()
		if err != nil {
			return err
		}
		in.FinalScriptWitness = witness

	default:
		return ErrIncompleteSignatures
	}

	in.clearAfterFinalize()
	log.Tracef("finalized input %d as %v", i, class)
	return nil
}

// sigForScript finds the partial signature whose public key appears in
// the script (directly or by hash160).
func (in *Input) sigForScript(script []byte) (sig, pub []byte, err error) {
	for _, ps := range in.PartialSigs {
		if bytes.Contains(script, ps.PubKey) ||
			bytes.Contains(script, hashes.Hash160(ps.PubKey)) {
			return ps.Signature, ps.PubKey, nil
		}
	}
	return nil, nil, ErrIncompleteSignatures
}

// multisigSigs orders the collected signatures by the key order of the
// multisig script and checks the threshold is met.
func (in *Input) multisigSigs(script []byte) ([][]byte, error) {
	m, pubKeys, err := txscript.ExtractMultiSig(script)
	if err != nil {
		return nil, ErrIncompleteSignatures
	}
	var sigs [][]byte
	for _, pk := range pubKeys {
		for _, ps := range in.PartialSigs {
			if bytes.Equal(ps.PubKey, pk) {
				sigs = append(sigs, ps.Signature)
				break
			}
		}
		if len(sigs) == m {
			break
		}
	}
	if len(sigs) < m {
		return nil, ErrIncompleteSignatures
	}
	return sigs, nil
}

// multisigScriptSig builds OP_0 <sig>... <redeem> for legacy p2sh
// multisig. The leading OP_0 absorbs the historical CHECKMULTISIG
// off-by-one.
func (in *Input) multisigScriptSig() ([]byte, error) {
	sigs, err := in.multisigSigs(in.RedeemScript)
	if err != nil {
		return nil, err
	}
	b := txscript.NewScriptBuilder()
	b.AddOp(txscript.OP_0)
	for _, sig := range sigs {
		b.AddData(sig)
	}
	b.AddData(in.RedeemScript)
	return b.Script()
}

// multisigWitness builds the p2wsh multisig witness stack.
func (in *Input) multisigWitness() (wire.TxWitness, error) {
	if in.WitnessScript == nil {
		return nil, ErrIncompleteSignatures
	}
	sigs, err := in.multisigSigs(in.WitnessScript)
	if err != nil {
		return nil, err
	}
	witness := make(wire.TxWitness, 0, len(sigs)+2)
	witness = append(witness, []byte{})
	witness = append(witness, sigs...)
	return append(witness, in.WitnessScript), nil
}

// tapScriptWitness assembles a script-path spend from the first leaf
// with a usable signature: [sig..., script, control block].
func (in *Input) tapScriptWitness() (wire.TxWitness, error) {
	for _, leaf := range in.TapLeafScripts {
		tl := txscript.TapLeaf{LeafVersion: leaf.LeafVersion, Script: leaf.Script}
		leafHash := tl.TapLeafHash()
		var sigs wire.TxWitness
		for _, s := range in.TapScriptSigs {
			if bytes.Equal(s.LeafHash[:], leafHash) {
				sigs = append(sigs, s.Signature)
			}
		}
		if len(sigs) == 0 {
			continue
		}
		witness := append(wire.TxWitness{}, sigs...)
		witness = append(witness, leaf.Script, leaf.ControlBlock)
		return witness, nil
	}
	return nil, ErrIncompleteSignatures
}

// clearAfterFinalize drops the fields BIP-174 says a finalized input no
// longer carries.
func (in *Input) clearAfterFinalize() {
	in.PartialSigs = nil
	in.SighashType = nil
	in.RedeemScript = nil
	in.WitnessScript = nil
	in.Bip32Derivations = nil
	in.TapKeySig = nil
	in.TapScriptSigs = nil
	in.TapLeafScripts = nil
	in.TapBip32Derivations = nil
	in.TapInternalKey = nil
	in.TapMerkleRoot = nil
}
