// Copyright (c) 2025 The embit developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package descriptor

import (
	"fmt"

	"github.com/diybitcoinhardware/embit/txscript"
)

// TapTree is a taproot script tree: either a single miniscript leaf or
// a branch of two subtrees.
type TapTree struct {
	Leaf  *Miniscript
	Left  *TapTree
	Right *TapTree
}

// parseTapTree reads a "{left,right}" tree or a single leaf expression.
func parseTapTree(sc *scanner) (*TapTree, error) {
	if sc.peek() == '{' {
		sc.next()
		left, err := parseTapTree(sc)
		if err != nil {
			return nil, err
		}
		if !sc.expect(',') {
			return nil, fmt.Errorf("%w: expected , in tap tree", ErrInvalidDescriptor)
		}
		right, err := parseTapTree(sc)
		if err != nil {
			return nil, err
		}
		if !sc.expect('}') {
			return nil, fmt.Errorf("%w: expected } in tap tree", ErrInvalidDescriptor)
		}
		return &TapTree{Left: left, Right: right}, nil
	}
	ms, err := parseMiniscript(sc, true)
	if err != nil {
		return nil, err
	}
	return &TapTree{Leaf: ms}, nil
}

// Keys collects the keys of every leaf.
func (t *TapTree) Keys() []*Key {
	if t == nil {
		return nil
	}
	if t.Leaf != nil {
		return t.Leaf.AllKeys()
	}
	return append(t.Left.Keys(), t.Right.Keys()...)
}

// Derive substitutes derivation templates in every leaf.
func (t *TapTree) Derive(idx uint32, branchIdx int) (*TapTree, error) {
	if t == nil {
		return nil, nil
	}
	if t.Leaf != nil {
		leaf, err := t.Leaf.Derive(idx, branchIdx)
		if err != nil {
			return nil, err
		}
		return &TapTree{Leaf: leaf}, nil
	}
	left, err := t.Left.Derive(idx, branchIdx)
	if err != nil {
		return nil, err
	}
	right, err := t.Right.Derive(idx, branchIdx)
	if err != nil {
		return nil, err
	}
	return &TapTree{Left: left, Right: right}, nil
}

// MerkleRoot computes the BIP-341 merkle root of the tree. A nil tree
// has an empty root.
func (t *TapTree) MerkleRoot() ([]byte, error) {
	if t == nil {
		return nil, nil
	}
	if t.Leaf != nil {
		script, err := t.Leaf.Compile()
		if err != nil {
			return nil, err
		}
		return txscript.NewBaseTapLeaf(script).TapLeafHash(), nil
	}
	left, err := t.Left.MerkleRoot()
	if err != nil {
		return nil, err
	}
	right, err := t.Right.MerkleRoot()
	if err != nil {
		return nil, err
	}
	return txscript.TapBranchHash(left, right), nil
}

// Leaves returns the leaf expressions left to right.
func (t *TapTree) Leaves() []*Miniscript {
	if t == nil {
		return nil
	}
	if t.Leaf != nil {
		return []*Miniscript{t.Leaf}
	}
	return append(t.Left.Leaves(), t.Right.Leaves()...)
}

// String renders the tree in descriptor syntax.
func (t *TapTree) String() string {
	if t == nil {
		return ""
	}
	if t.Leaf != nil {
		return t.Leaf.String()
	}
	return "{" + t.Left.String() + "," + t.Right.String() + "}"
}
