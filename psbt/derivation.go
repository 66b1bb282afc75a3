// Copyright (c) 2025 The embit developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package psbt

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/diybitcoinhardware/embit/wire"
)

// KeyOrigin is the BIP-174 derivation payload: a 4-byte master key
// fingerprint followed by the path as 4-byte little-endian indices. The
// endianness differs from the big-endian child numbers inside extended
// keys; the two never mix.
type KeyOrigin struct {
	Fingerprint [4]byte
	Path        []uint32
}

// Serialize returns fingerprint || le32(index)*.
func (o *KeyOrigin) Serialize() []byte {
	out := make([]byte, 4+4*len(o.Path))
	copy(out, o.Fingerprint[:])
	for i, idx := range o.Path {
		binary.LittleEndian.PutUint32(out[4+4*i:], idx)
	}
	return out
}

// ParseKeyOrigin reads a derivation payload.
func ParseKeyOrigin(b []byte) (*KeyOrigin, error) {
	if len(b) < 4 || (len(b)-4)%4 != 0 {
		return nil, ErrInvalidField
	}
	o := &KeyOrigin{Path: make([]uint32, (len(b)-4)/4)}
	copy(o.Fingerprint[:], b[:4])
	for i := range o.Path {
		o.Path[i] = binary.LittleEndian.Uint32(b[4+4*i:])
	}
	return o, nil
}

// Bip32Derivation binds a public key to its origin within a scope.
type Bip32Derivation struct {
	// PubKey is the SEC-serialized key from the field key.
	PubKey []byte
	Origin KeyOrigin
}

// PartialSig is one signature keyed by its public key. The value is
// signature || sighash byte.
type PartialSig struct {
	PubKey    []byte
	Signature []byte
}

// TapScriptSig is a BIP-342 script-path signature keyed by the x-only
// key and the leaf hash it signs for.
type TapScriptSig struct {
	XOnlyPubKey [32]byte
	LeafHash    [32]byte
	Signature   []byte
}

// TapLeafScript is a tapscript revealed for script-path spending. The
// key holds the control block, the value script || leaf version.
type TapLeafScript struct {
	ControlBlock []byte
	Script       []byte
	LeafVersion  byte
}

// TapBip32Derivation extends Bip32Derivation with the leaf hashes the
// x-only key participates in.
type TapBip32Derivation struct {
	XOnlyPubKey [32]byte
	LeafHashes  [][32]byte
	Origin      KeyOrigin
}

// Serialize renders compact(n) || leafhash* || fingerprint || le32*.
func (d *TapBip32Derivation) Serialize() []byte {
	var buf bytes.Buffer
	_ = wire.WriteVarInt(&buf, uint64(len(d.LeafHashes)))
	for _, lh := range d.LeafHashes {
		buf.Write(lh[:])
	}
	buf.Write(d.Origin.Serialize())
	return buf.Bytes()
}

// ParseTapBip32Derivation reads the value of a TAP_BIP32_DERIVATION
// field.
func ParseTapBip32Derivation(b []byte) (*TapBip32Derivation, error) {
	r := bytes.NewReader(b)
	count, err := wire.ReadVarInt(r)
	if err != nil {
		return nil, ErrInvalidField
	}
	if count > uint64(r.Len())/32 {
		return nil, ErrInvalidField
	}
	d := &TapBip32Derivation{LeafHashes: make([][32]byte, count)}
	for i := range d.LeafHashes {
		if _, err := io.ReadFull(r, d.LeafHashes[i][:]); err != nil {
			return nil, ErrInvalidField
		}
	}
	rest := make([]byte, r.Len())
	if _, err := io.ReadFull(r, rest); err != nil {
		return nil, ErrInvalidField
	}
	origin, err := ParseKeyOrigin(rest)
	if err != nil {
		return nil, err
	}
	d.Origin = *origin
	return d, nil
}
