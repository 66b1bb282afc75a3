// Copyright (c) 2025 The embit developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package descriptor implements output script descriptors with
// miniscript: parsing, type checking, script compilation, key
// derivation, address generation and PSBT input finalization.
package descriptor

import (
	"fmt"
	"strings"

	"github.com/diybitcoinhardware/embit/address"
	"github.com/diybitcoinhardware/embit/chaincfg"
	"github.com/diybitcoinhardware/embit/hdkeychain"
	"github.com/diybitcoinhardware/embit/psbt"
	"github.com/diybitcoinhardware/embit/txscript"
)

// Descriptor is a parsed output descriptor.
type Descriptor struct {
	// Sh/Wsh/Wpkh select the wrapper combination: sh(), wsh(),
	// sh(wsh()), wpkh(), sh(wpkh()) or bare pkh().
	Sh   bool
	Wsh  bool
	Wpkh bool

	// Key is the single key of key descriptors (pkh/wpkh/sh-wpkh) and
	// the internal key of tr().
	Key *Key

	// Miniscript is the script expression of sh/wsh descriptors.
	Miniscript *Miniscript

	// Taproot marks tr() descriptors; Tree is the optional script
	// tree.
	Taproot bool
	Tree    *TapTree
}

// FromString parses a descriptor, validating the checksum when present.
func FromString(s string) (*Descriptor, error) {
	body, err := splitChecksum(strings.TrimSpace(s))
	if err != nil {
		return nil, err
	}
	sc := newScanner(body)
	d, err := readDescriptor(sc)
	if err != nil {
		return nil, err
	}
	if !sc.done() {
		return nil, fmt.Errorf("%w: trailing garbage %q", ErrInvalidDescriptor, body[sc.pos:])
	}
	if err := d.verify(); err != nil {
		return nil, err
	}
	return d, nil
}

func readDescriptor(sc *scanner) (*Descriptor, error) {
	d := &Descriptor{}
	closers := 0
	switch {
	case sc.hasPrefix("sh(wsh("):
		sc.skip(7)
		d.Sh, d.Wsh = true, true
		closers = 2
	case sc.hasPrefix("sh(wpkh("):
		sc.skip(8)
		d.Sh, d.Wpkh = true, true
		closers = 2
	case sc.hasPrefix("wsh("):
		sc.skip(4)
		d.Wsh = true
		closers = 1
	case sc.hasPrefix("wpkh("):
		sc.skip(5)
		d.Wpkh = true
		closers = 1
	case sc.hasPrefix("pkh("):
		sc.skip(4)
		closers = 1
	case sc.hasPrefix("tr("):
		sc.skip(3)
		d.Taproot = true
		closers = 1
	case sc.hasPrefix("sh("):
		sc.skip(3)
		d.Sh = true
		closers = 1
	default:
		return nil, fmt.Errorf("%w: unknown top-level function", ErrInvalidDescriptor)
	}

	var err error
	switch {
	case d.Taproot:
		d.Key, err = parseKey(sc, false)
		if err != nil {
			return nil, err
		}
		if sc.expect(',') {
			d.Tree, err = parseTapTree(sc)
			if err != nil {
				return nil, err
			}
		}
	case d.Wpkh || (!d.Sh && !d.Wsh):
		// wpkh, sh(wpkh) and pkh take a bare key.
		d.Key, err = parseKey(sc, false)
		if err != nil {
			return nil, err
		}
	default:
		d.Miniscript, err = parseMiniscript(sc, false)
		if err != nil {
			return nil, err
		}
	}
	for i := 0; i < closers; i++ {
		if !sc.expect(')') {
			return nil, fmt.Errorf("%w: missing )", ErrInvalidDescriptor)
		}
	}
	return d, nil
}

// verify typechecks the miniscript and enforces the branch-set and
// x-only key rules.
func (d *Descriptor) verify() error {
	if !d.Taproot {
		for _, k := range d.Keys() {
			if k.IsXOnly() {
				return fmt.Errorf("%w: x-only keys are only valid in tr()", ErrInvalidKey)
			}
		}
	}
	if d.Miniscript != nil {
		if err := d.Miniscript.Verify(); err != nil {
			return err
		}
	}
	if d.Tree != nil {
		for _, leaf := range d.Tree.Leaves() {
			if err := leaf.Verify(); err != nil {
				return err
			}
		}
	}
	_, err := d.NumBranches()
	return err
}

// Keys returns every key of the descriptor, internal key first for
// tr().
func (d *Descriptor) Keys() []*Key {
	var keys []*Key
	if d.Key != nil {
		keys = append(keys, d.Key)
	}
	if d.Miniscript != nil {
		keys = append(keys, d.Miniscript.AllKeys()...)
	}
	keys = append(keys, d.Tree.Keys()...)
	return keys
}

// NumBranches returns the length of the shared branch set, or 1 when no
// key carries one. Keys with branch sets of different lengths are an
// error.
func (d *Descriptor) NumBranches() (int, error) {
	n := 0
	for _, k := range d.Keys() {
		b := k.Branches()
		if b == nil {
			continue
		}
		if n == 0 {
			n = len(b)
		} else if n != len(b) {
			return 0, ErrBranchMismatch
		}
	}
	if n == 0 {
		n = 1
	}
	return n, nil
}

// IsPrivate reports whether any key carries signing material.
func (d *Descriptor) IsPrivate() bool {
	for _, k := range d.Keys() {
		if k.IsPrivate() {
			return true
		}
	}
	return false
}

// Derive substitutes every wildcard with idx and every branch set with
// branch entry branchIdx (pass -1 for the first branch).
func (d *Descriptor) Derive(idx uint32, branchIdx int) (*Descriptor, error) {
	out := &Descriptor{
		Sh:      d.Sh,
		Wsh:     d.Wsh,
		Wpkh:    d.Wpkh,
		Taproot: d.Taproot,
	}
	var err error
	if d.Key != nil {
		out.Key, err = d.Key.Derive(idx, branchIdx)
		if err != nil {
			return nil, err
		}
	}
	if d.Miniscript != nil {
		out.Miniscript, err = d.Miniscript.Derive(idx, branchIdx)
		if err != nil {
			return nil, err
		}
	}
	if d.Tree != nil {
		out.Tree, err = d.Tree.Derive(idx, branchIdx)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// WitnessScript returns the compiled witness script for wsh
// descriptors.
func (d *Descriptor) WitnessScript() ([]byte, error) {
	if !d.Wsh || d.Miniscript == nil {
		return nil, nil
	}
	return d.Miniscript.Compile()
}

// RedeemScript returns the scriptSig payload of sh descriptors.
func (d *Descriptor) RedeemScript() ([]byte, error) {
	if !d.Sh {
		return nil, nil
	}
	switch {
	case d.Wpkh:
		pub, err := d.Key.PubKey()
		if err != nil {
			return nil, err
		}
		return txscript.PayToWitnessPubKeyHashScript(pub), nil
	case d.Wsh:
		witness, err := d.WitnessScript()
		if err != nil {
			return nil, err
		}
		return txscript.PayToWitnessScriptHashScript(witness), nil
	default:
		return d.Miniscript.Compile()
	}
}

// ScriptPubkey computes the output script of the (derived) descriptor.
func (d *Descriptor) ScriptPubkey() ([]byte, error) {
	switch {
	case d.Taproot:
		pub, err := d.Key.PubKey()
		if err != nil {
			return nil, err
		}
		root, err := d.Tree.MerkleRoot()
		if err != nil {
			return nil, err
		}
		return txscript.PayToTaprootKey(pub, root)
	case d.Sh:
		redeem, err := d.RedeemScript()
		if err != nil {
			return nil, err
		}
		return txscript.PayToScriptHashScript(redeem), nil
	case d.Wsh:
		witness, err := d.WitnessScript()
		if err != nil {
			return nil, err
		}
		return txscript.PayToWitnessScriptHashScript(witness), nil
	case d.Wpkh:
		pub, err := d.Key.PubKey()
		if err != nil {
			return nil, err
		}
		return txscript.PayToWitnessPubKeyHashScript(pub), nil
	case d.Miniscript != nil:
		return d.Miniscript.Compile()
	default:
		pub, err := d.Key.PubKey()
		if err != nil {
			return nil, err
		}
		return txscript.PayToPubKeyHashScript(pub), nil
	}
}

// Address renders the output script as an address on the given network.
func (d *Descriptor) Address(net *chaincfg.Params) (string, error) {
	script, err := d.ScriptPubkey()
	if err != nil {
		return "", err
	}
	addr, err := address.FromScript(script, net)
	if err != nil {
		return "", err
	}
	return addr.String(), nil
}

// DeriveAddress is the common derive-then-render path wallets use.
func (d *Descriptor) DeriveAddress(idx uint32, net *chaincfg.Params) (string, error) {
	derived, err := d.Derive(idx, -1)
	if err != nil {
		return "", err
	}
	return derived.Address(net)
}

// String renders the descriptor with its checksum.
func (d *Descriptor) String() string {
	body := d.body()
	checksum, err := Checksum(body)
	if err != nil {
		return body
	}
	return body + "#" + checksum
}

func (d *Descriptor) body() string {
	var inner string
	switch {
	case d.Taproot:
		inner = "tr(" + d.Key.String()
		if d.Tree != nil {
			inner += "," + d.Tree.String()
		}
		return inner + ")"
	case d.Wpkh:
		inner = "wpkh(" + d.Key.String() + ")"
	case d.Miniscript != nil:
		inner = d.Miniscript.String()
		if d.Wsh {
			inner = "wsh(" + inner + ")"
		}
	default:
		return "pkh(" + d.Key.String() + ")"
	}
	if d.Sh {
		inner = "sh(" + inner + ")"
	}
	return inner
}

// Owns reports whether the input's derivation fields, applied to this
// descriptor, reproduce the given output script.
func (d *Descriptor) Owns(in *psbt.Input, pkScript []byte) bool {
	check := func(origin psbt.KeyOrigin) bool {
		idx, branch, ok := d.matchOrigin(origin)
		if !ok {
			return false
		}
		derived, err := d.Derive(idx, branch)
		if err != nil {
			return false
		}
		script, err := derived.ScriptPubkey()
		if err != nil {
			return false
		}
		return string(script) == string(pkScript)
	}
	for _, der := range in.Bip32Derivations {
		if check(der.Origin) {
			return true
		}
	}
	for _, der := range in.TapBip32Derivations {
		if check(der.Origin) {
			return true
		}
	}
	return false
}

// OwnsOutput is the owns-check for change outputs.
func (d *Descriptor) OwnsOutput(out *psbt.Output, pkScript []byte) bool {
	in := &psbt.Input{
		Bip32Derivations:    out.Bip32Derivations,
		TapBip32Derivations: out.TapBip32Derivations,
	}
	return d.Owns(in, pkScript)
}

// matchOrigin finds a descriptor key whose origin prefix and derivation
// template shape match the PSBT origin, extracting the wildcard index
// and branch position.
func (d *Descriptor) matchOrigin(origin psbt.KeyOrigin) (idx uint32, branch int, ok bool) {
	for _, k := range d.Keys() {
		if k.Origin == nil || k.Derivation == nil {
			continue
		}
		if k.Origin.Fingerprint != origin.Fingerprint {
			continue
		}
		base := k.Origin.Path
		steps := k.Derivation.steps
		if len(origin.Path) != len(base)+len(steps) {
			continue
		}
		prefixOk := true
		for i, p := range base {
			if origin.Path[i] != p {
				prefixOk = false
				break
			}
		}
		if !prefixOk {
			continue
		}
		tail := origin.Path[len(base):]
		idx, branch = 0, -1
		match := true
		for i, s := range steps {
			switch {
			case s.wildcard:
				idx = tail[i]
			case s.branch != nil:
				branch = -1
				for bi, b := range s.branch {
					if b == tail[i] {
						branch = bi
						break
					}
				}
				if branch < 0 {
					match = false
				}
			default:
				if s.index != tail[i] {
					match = false
				}
			}
			if !match {
				break
			}
		}
		if match {
			return idx, branch, true
		}
	}
	return 0, 0, false
}

// CheckKeys validates that a signing root can serve this descriptor:
// some key's origin fingerprint matches the root.
func (d *Descriptor) CheckKeys(root *hdkeychain.ExtendedKey) bool {
	fp := root.Fingerprint()
	for _, k := range d.Keys() {
		if k.Origin != nil && k.Origin.Fingerprint == fp {
			return true
		}
		if k.CanDerive() && k.hd.Fingerprint() == fp {
			return true
		}
	}
	return false
}
