// Copyright (c) 2025 The embit developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package descriptor

import (
	"fmt"

	"github.com/diybitcoinhardware/embit/psbt"
	"github.com/diybitcoinhardware/embit/txscript"
	"github.com/diybitcoinhardware/embit/wire"
)

// Finalize builds final scriptSigs/witnesses for the inputs of the
// packet in order, using the miniscript satisfier for arbitrary script
// expressions. Inputs of standard single-key types fall back to the
// template finalizer in the psbt package. It stops at the first input it
// cannot finalize, including an input whose script the descriptor does
// not produce, and returns that input's error.
func (d *Descriptor) Finalize(p *psbt.Packet) error {
	for i := range p.Inputs {
		if err := d.FinalizeInput(p, i); err != nil {
			log.Debugf("cannot finalize input %d: %v", i, err)
			return fmt.Errorf("input %d: %w", i, err)
		}
	}
	return nil
}

// FinalizeInput finalizes input i of the packet.
func (d *Descriptor) FinalizeInput(p *psbt.Packet, i int) error {
	in := p.Inputs[i]
	if in.FinalScriptSig != nil || in.FinalScriptWitness != nil {
		return nil
	}
	utxo, err := p.InputUtxo(i)
	if err != nil {
		return err
	}

	// Resolve the concrete descriptor instance for this input.
	concrete := d
	if hasTemplate(d) {
		idx, branch, ok := d.originFromScope(in)
		if !ok {
			log.Debugf("input %d: no derivation matches the descriptor origins", i)
			return psbt.ErrIncompleteSignatures
		}
		log.Tracef("input %d resolved to derivation index %d branch %d", i, idx, branch)
		concrete, err = d.Derive(idx, branch)
		if err != nil {
			return err
		}
	}
	script, err := concrete.ScriptPubkey()
	if err != nil {
		return err
	}
	if string(script) != string(utxo.PkScript) {
		return psbt.ErrIncompleteSignatures
	}

	// Key descriptors reduce to the standard templates.
	if concrete.Miniscript == nil && concrete.Tree == nil {
		return p.FinalizeInput(i)
	}
	if concrete.Taproot {
		// Key-path spend when available, else the template handler
		// walks the revealed leaves.
		return p.FinalizeInput(i)
	}

	// Miniscript satisfaction from the collected partial signatures.
	sigs := make(map[string][]byte, len(in.PartialSigs))
	for _, ps := range in.PartialSigs {
		sigs[string(ps.PubKey)] = ps.Signature
	}
	ctx := &SatisfyContext{Sig: sigLookup(sigs)}
	stack, err := concrete.Miniscript.Satisfy(ctx)
	if err != nil {
		log.Debugf("input %d: miniscript not satisfiable with %d partial sigs", i, len(in.PartialSigs))
		return psbt.ErrIncompleteSignatures
	}
	log.Tracef("input %d satisfied with a %d-element witness", i, len(stack))

	switch {
	case concrete.Wsh:
		witnessScript, err := concrete.WitnessScript()
		if err != nil {
			return err
		}
		witness := make(wire.TxWitness, 0, len(stack)+1)
		witness = append(witness, stack...)
		witness = append(witness, witnessScript)
		in.FinalScriptWitness = witness
		if concrete.Sh {
			redeem, err := concrete.RedeemScript()
			if err != nil {
				return err
			}
			b := txscript.NewScriptBuilder()
			b.AddData(redeem)
			in.FinalScriptSig, err = b.Script()
			if err != nil {
				return err
			}
		}
	case concrete.Sh:
		redeem, err := concrete.RedeemScript()
		if err != nil {
			return err
		}
		b := txscript.NewScriptBuilder()
		for _, e := range stack {
			b.AddData(e)
		}
		b.AddData(redeem)
		in.FinalScriptSig, err = b.Script()
		if err != nil {
			return err
		}
	default:
		// Bare miniscript output.
		b := txscript.NewScriptBuilder()
		for _, e := range stack {
			b.AddData(e)
		}
		in.FinalScriptSig, err = b.Script()
		if err != nil {
			return err
		}
	}

	in.PartialSigs = nil
	in.SighashType = nil
	in.RedeemScript = nil
	in.WitnessScript = nil
	in.Bip32Derivations = nil
	return nil
}

// hasTemplate reports whether any key still carries a derivation
// template.
func hasTemplate(d *Descriptor) bool {
	for _, k := range d.Keys() {
		if k.Derivation != nil {
			return true
		}
	}
	return false
}

// originFromScope extracts the wildcard/branch indices for this input
// from its derivation fields.
func (d *Descriptor) originFromScope(in *psbt.Input) (uint32, int, bool) {
	for _, der := range in.Bip32Derivations {
		if idx, branch, ok := d.matchOrigin(der.Origin); ok {
			return idx, branch, true
		}
	}
	for _, der := range in.TapBip32Derivations {
		if idx, branch, ok := d.matchOrigin(der.Origin); ok {
			return idx, branch, true
		}
	}
	return 0, 0, false
}
