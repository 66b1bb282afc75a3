// Copyright (c) 2025 The embit developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package address converts between output scripts and their textual
// address forms: base58check for p2pkh/p2sh, bech32 for segwit v0 and
// bech32m for v1+.
package address

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/btcsuite/btcd/btcutil/bech32"

	"github.com/diybitcoinhardware/embit/chaincfg"
	"github.com/diybitcoinhardware/embit/ecc"
	"github.com/diybitcoinhardware/embit/hashes"
	"github.com/diybitcoinhardware/embit/txscript"
)

var (
	// ErrInvalidAddress is returned when an address string cannot be
	// decoded for the given network.
	ErrInvalidAddress = errors.New("invalid address")

	// ErrUnsupportedScript is returned when a script has no address
	// representation.
	ErrUnsupportedScript = errors.New("script has no address form")

	// ErrUnsupportedWitnessVersion is returned for witness programs
	// this package does not know how to render.
	ErrUnsupportedWitnessVersion = errors.New("unsupported witness version")
)

// Address is a parsed address bound to a network.
type Address interface {
	// String returns the textual address.
	String() string

	// ScriptAddress returns the hash or witness program the address
	// commits to.
	ScriptAddress() []byte

	// PkScript returns the output script paying to the address.
	PkScript() []byte

	// IsForNet reports whether the address belongs to the network.
	IsForNet(*chaincfg.Params) bool
}

// PubKeyHash is a legacy p2pkh address.
type PubKeyHash struct {
	hash [20]byte
	net  *chaincfg.Params
}

// NewPubKeyHash builds a p2pkh address from a 20-byte key hash.
func NewPubKeyHash(pkHash []byte, net *chaincfg.Params) (*PubKeyHash, error) {
	if len(pkHash) != 20 {
		return nil, fmt.Errorf("%w: pubkey hash must be 20 bytes", ErrInvalidAddress)
	}
	a := &PubKeyHash{net: net}
	copy(a.hash[:], pkHash)
	return a, nil
}

// NewPubKeyHashFromKey hashes the SEC serialization of pub.
func NewPubKeyHashFromKey(pub *ecc.PublicKey, net *chaincfg.Params) *PubKeyHash {
	a := &PubKeyHash{net: net}
	copy(a.hash[:], hashes.Hash160(pub.Sec()))
	return a
}

// String returns the base58check form.
func (a *PubKeyHash) String() string {
	return base58.CheckEncode(a.hash[:], a.net.PubKeyHashAddrID)
}

// ScriptAddress returns the pubkey hash.
func (a *PubKeyHash) ScriptAddress() []byte { return a.hash[:] }

// PkScript returns the p2pkh output script.
func (a *PubKeyHash) PkScript() []byte {
	b := txscript.NewScriptBuilder()
	b.AddOp(txscript.OP_DUP).AddOp(txscript.OP_HASH160).AddData(a.hash[:])
	b.AddOp(txscript.OP_EQUALVERIFY).AddOp(txscript.OP_CHECKSIG)
	script, _ := b.Script()
	return script
}

// IsForNet compares the p2pkh version byte.
func (a *PubKeyHash) IsForNet(net *chaincfg.Params) bool {
	return a.net.PubKeyHashAddrID == net.PubKeyHashAddrID
}

// ScriptHash is a p2sh address.
type ScriptHash struct {
	hash [20]byte
	net  *chaincfg.Params
}

// NewScriptHash builds a p2sh address from a 20-byte script hash.
func NewScriptHash(scriptHash []byte, net *chaincfg.Params) (*ScriptHash, error) {
	if len(scriptHash) != 20 {
		return nil, fmt.Errorf("%w: script hash must be 20 bytes", ErrInvalidAddress)
	}
	a := &ScriptHash{net: net}
	copy(a.hash[:], scriptHash)
	return a, nil
}

// NewScriptHashFromScript hashes the redeem script.
func NewScriptHashFromScript(redeem []byte, net *chaincfg.Params) *ScriptHash {
	a := &ScriptHash{net: net}
	copy(a.hash[:], hashes.Hash160(redeem))
	return a
}

// String returns the base58check form.
func (a *ScriptHash) String() string {
	return base58.CheckEncode(a.hash[:], a.net.ScriptHashAddrID)
}

// ScriptAddress returns the script hash.
func (a *ScriptHash) ScriptAddress() []byte { return a.hash[:] }

// PkScript returns the p2sh output script.
func (a *ScriptHash) PkScript() []byte {
	b := txscript.NewScriptBuilder()
	b.AddOp(txscript.OP_HASH160).AddData(a.hash[:]).AddOp(txscript.OP_EQUAL)
	script, _ := b.Script()
	return script
}

// IsForNet compares the p2sh version byte.
func (a *ScriptHash) IsForNet(net *chaincfg.Params) bool {
	return a.net.ScriptHashAddrID == net.ScriptHashAddrID
}

// SegWit is a bech32/bech32m address for any witness version.
type SegWit struct {
	version byte
	program []byte
	net     *chaincfg.Params
}

// NewSegWit builds a segwit address from a version and program.
func NewSegWit(version byte, program []byte, net *chaincfg.Params) (*SegWit, error) {
	if version > 16 {
		return nil, ErrUnsupportedWitnessVersion
	}
	if len(program) < 2 || len(program) > 40 {
		return nil, fmt.Errorf("%w: witness program must be 2-40 bytes", ErrInvalidAddress)
	}
	if version == 0 && len(program) != 20 && len(program) != 32 {
		return nil, fmt.Errorf("%w: v0 program must be 20 or 32 bytes", ErrInvalidAddress)
	}
	if version == 1 && len(program) != 32 {
		return nil, fmt.Errorf("%w: v1 program must be 32 bytes", ErrInvalidAddress)
	}
	return &SegWit{
		version: version,
		program: append([]byte(nil), program...),
		net:     net,
	}, nil
}

// NewWitnessPubKeyHash builds the p2wpkh address of pub.
func NewWitnessPubKeyHash(pub *ecc.PublicKey, net *chaincfg.Params) (*SegWit, error) {
	return NewSegWit(0, hashes.Hash160(pub.Sec()), net)
}

// NewWitnessScriptHash builds the p2wsh address of witnessScript.
func NewWitnessScriptHash(witnessScript []byte, net *chaincfg.Params) (*SegWit, error) {
	return NewSegWit(0, hashes.SHA256(witnessScript), net)
}

// NewTaproot builds the p2tr address for an internal key and optional
// script tree merkle root.
func NewTaproot(internal *ecc.PublicKey, merkleRoot []byte, net *chaincfg.Params) (*SegWit, error) {
	output, err := txscript.ComputeTaprootOutputKey(internal, merkleRoot)
	if err != nil {
		return nil, err
	}
	xonly, _ := output.XOnly()
	return NewSegWit(1, xonly, net)
}

// WitnessVersion returns the witness version.
func (a *SegWit) WitnessVersion() byte { return a.version }

// String encodes with bech32 for v0 and bech32m for later versions.
func (a *SegWit) String() string {
	conv, err := bech32.ConvertBits(a.program, 8, 5, true)
	if err != nil {
		return ""
	}
	data := append([]byte{a.version}, conv...)
	var encoded string
	if a.version == 0 {
		encoded, err = bech32.Encode(a.net.Bech32HRP, data)
	} else {
		encoded, err = bech32.EncodeM(a.net.Bech32HRP, data)
	}
	if err != nil {
		return ""
	}
	return encoded
}

// ScriptAddress returns the witness program.
func (a *SegWit) ScriptAddress() []byte { return a.program }

// PkScript returns the witness output script.
func (a *SegWit) PkScript() []byte {
	op := byte(txscript.OP_0)
	if a.version > 0 {
		op = txscript.OP_1 + a.version - 1
	}
	out := make([]byte, 0, 2+len(a.program))
	out = append(out, op, byte(len(a.program)))
	return append(out, a.program...)
}

// IsForNet compares the bech32 prefix.
func (a *SegWit) IsForNet(net *chaincfg.Params) bool {
	return a.net.Bech32HRP == net.Bech32HRP
}

// Decode parses an address string for the given network.
func Decode(addr string, net *chaincfg.Params) (Address, error) {
	// bech32 first: the separator and charset make it unambiguous.
	if hrp, data, bechErr := decodeBech32(addr); bechErr == nil {
		if hrp != net.Bech32HRP {
			return nil, fmt.Errorf("%w: prefix %q is not for network %s", ErrInvalidAddress, hrp, net.Name)
		}
		if len(data) < 1 {
			return nil, ErrInvalidAddress
		}
		program, err := bech32.ConvertBits(data[1:], 5, 8, false)
		if err != nil {
			return nil, ErrInvalidAddress
		}
		return NewSegWit(data[0], program, net)
	}

	payload, version, err := base58.CheckDecode(addr)
	if err != nil || len(payload) != 20 {
		return nil, ErrInvalidAddress
	}
	switch version {
	case net.PubKeyHashAddrID:
		return NewPubKeyHash(payload, net)
	case net.ScriptHashAddrID:
		return NewScriptHash(payload, net)
	}
	return nil, fmt.Errorf("%w: unknown version byte %d", ErrInvalidAddress, version)
}

// decodeBech32 decodes either checksum variant and enforces the
// version/encoding pairing from BIP-350: v0 must use bech32, v1+ must
// use bech32m.
func decodeBech32(addr string) (string, []byte, error) {
	hrp, data, version, err := bech32.DecodeGeneric(addr)
	if err != nil {
		return "", nil, err
	}
	if len(data) < 1 {
		return "", nil, ErrInvalidAddress
	}
	if data[0] == 0 && version != bech32.Version0 {
		return "", nil, ErrInvalidAddress
	}
	if data[0] != 0 && version != bech32.VersionM {
		return "", nil, ErrInvalidAddress
	}
	return hrp, data, nil
}

// FromScript returns the address form of an output script.
func FromScript(script []byte, net *chaincfg.Params) (Address, error) {
	switch txscript.GetScriptClass(script) {
	case txscript.PubKeyHashTy:
		return NewPubKeyHash(script[3:23], net)
	case txscript.ScriptHashTy:
		return NewScriptHash(script[2:22], net)
	case txscript.WitnessV0PubKeyHashTy, txscript.WitnessV0ScriptHashTy, txscript.TaprootTy:
		version, program, _ := txscript.IsWitnessProgram(script)
		return NewSegWit(version, program, net)
	}
	return nil, ErrUnsupportedScript
}

// PayToAddrScript decodes an address string and returns the output
// script paying to it.
func PayToAddrScript(addr string, net *chaincfg.Params) ([]byte, error) {
	a, err := Decode(addr, net)
	if err != nil {
		return nil, err
	}
	return a.PkScript(), nil
}
