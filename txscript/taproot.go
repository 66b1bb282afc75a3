// Copyright (c) 2025 The embit developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package txscript

import (
	"bytes"
	"errors"

	"github.com/diybitcoinhardware/embit/ecc"
	"github.com/diybitcoinhardware/embit/hashes"
	"github.com/diybitcoinhardware/embit/wire"
)

const (
	// BaseLeafVersion is the initial tapscript leaf version per BIP-341.
	BaseLeafVersion = 0xc0

	// tagTapLeaf, tagTapBranch and tagTapTweak are the BIP-341 hash
	// tags.
	tagTapLeaf   = "TapLeaf"
	tagTapBranch = "TapBranch"
	tagTapTweak  = "TapTweak"
)

// ErrInvalidTweak is returned when a taproot tweak falls outside the
// group order; callers should treat the key as unusable.
var ErrInvalidTweak = errors.New("taproot tweak out of range")

// TapLeaf is one leaf of a taproot script tree.
type TapLeaf struct {
	LeafVersion byte
	Script      []byte
}

// NewBaseTapLeaf wraps a script with the default leaf version.
func NewBaseTapLeaf(script []byte) TapLeaf {
	return TapLeaf{LeafVersion: BaseLeafVersion, Script: script}
}

// TapLeafHash computes tagged_hash("TapLeaf", version || compact(len) ||
// script).
func (l TapLeaf) TapLeafHash() []byte {
	var buf bytes.Buffer
	buf.WriteByte(l.LeafVersion)
	_ = wire.WriteVarBytes(&buf, l.Script)
	return hashes.TaggedHash(tagTapLeaf, buf.Bytes())
}

// TapBranchHash combines two node hashes in lexicographic order.
func TapBranchHash(left, right []byte) []byte {
	if bytes.Compare(left, right) > 0 {
		left, right = right, left
	}
	return hashes.TaggedHash(tagTapBranch, left, right)
}

// TapTweakHash computes tagged_hash("TapTweak", xonly(P) || merkleRoot).
// merkleRoot is empty for key-path-only outputs.
func TapTweakHash(internal *ecc.PublicKey, merkleRoot []byte) []byte {
	xonly, _ := internal.XOnly()
	return hashes.TaggedHash(tagTapTweak, xonly, merkleRoot)
}

// ComputeTaprootOutputKey lifts the internal key to even y and adds the
// taproot tweak: Q = P + t*G.
func ComputeTaprootOutputKey(internal *ecc.PublicKey, merkleRoot []byte) (*ecc.PublicKey, error) {
	xonly, _ := internal.XOnly()
	even, err := ecc.ParseXOnlyPublicKey(xonly)
	if err != nil {
		return nil, err
	}
	t := TapTweakHash(internal, merkleRoot)
	if !ecc.SecKeyVerify(t) {
		log.Debugf("taproot tweak out of range for internal key %x", xonly)
		return nil, ErrInvalidTweak
	}
	return even.TweakAdd(t)
}

// PayToTaprootKey builds the p2tr output script for an internal key and
// optional script tree merkle root.
func PayToTaprootKey(internal *ecc.PublicKey, merkleRoot []byte) ([]byte, error) {
	output, err := ComputeTaprootOutputKey(internal, merkleRoot)
	if err != nil {
		return nil, err
	}
	return PayToTaprootScript(output), nil
}

// TweakTaprootPrivKey returns the key-path signing key q = p + t mod n,
// negating p first when its public key has odd y per BIP-341.
func TweakTaprootPrivKey(priv *ecc.PrivateKey, merkleRoot []byte) (*ecc.PrivateKey, error) {
	pub := priv.PublicKey()
	if _, oddY := pub.XOnly(); oddY {
		priv = priv.Negate()
	}
	t := TapTweakHash(pub, merkleRoot)
	if !ecc.SecKeyVerify(t) {
		log.Debug("taproot tweak out of range for signing key")
		return nil, ErrInvalidTweak
	}
	return priv.TweakAdd(t)
}

// ControlBlock is the first witness element of a tapscript spend: the
// internal key, output key parity, leaf version and merkle inclusion
// path.
type ControlBlock struct {
	InternalKey  *ecc.PublicKey
	OutputParity bool
	LeafVersion  byte
	InclusionProof []byte
}

// Serialize returns the witness encoding of the control block.
func (cb *ControlBlock) Serialize() []byte {
	first := cb.LeafVersion
	if cb.OutputParity {
		first |= 0x01
	}
	xonly, _ := cb.InternalKey.XOnly()
	out := make([]byte, 0, 33+len(cb.InclusionProof))
	out = append(out, first)
	out = append(out, xonly...)
	return append(out, cb.InclusionProof...)
}

// ParseControlBlock decodes a control block from witness bytes.
func ParseControlBlock(b []byte) (*ControlBlock, error) {
	if len(b) < 33 || (len(b)-33)%32 != 0 {
		return nil, errors.New("invalid control block length")
	}
	key, err := ecc.ParseXOnlyPublicKey(b[1:33])
	if err != nil {
		return nil, err
	}
	return &ControlBlock{
		InternalKey:    key,
		OutputParity:   b[0]&0x01 != 0,
		LeafVersion:    b[0] &^ 0x01,
		InclusionProof: append([]byte(nil), b[33:]...),
	}, nil
}
