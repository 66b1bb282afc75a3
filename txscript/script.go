// Copyright (c) 2025 The embit developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package txscript handles output scripts as opaque byte containers:
// classification by byte shape, the canonical output templates, taproot
// tweaking and the three signature hash algorithms.
package txscript

import (
	"errors"
	"fmt"

	"github.com/diybitcoinhardware/embit/ecc"
	"github.com/diybitcoinhardware/embit/hashes"
)

// ScriptClass is the syntactic type of an output script.
type ScriptClass int

const (
	// NonStandardTy is any script this package does not recognize.
	NonStandardTy ScriptClass = iota

	// PubKeyHashTy is p2pkh.
	PubKeyHashTy

	// ScriptHashTy is p2sh.
	ScriptHashTy

	// WitnessV0PubKeyHashTy is p2wpkh.
	WitnessV0PubKeyHashTy

	// WitnessV0ScriptHashTy is p2wsh.
	WitnessV0ScriptHashTy

	// TaprootTy is p2tr.
	TaprootTy

	// MultiSigTy is a bare m-of-n OP_CHECKMULTISIG script.
	MultiSigTy

	// NullDataTy is an OP_RETURN data carrier.
	NullDataTy
)

var scriptClassNames = map[ScriptClass]string{
	NonStandardTy:         "nonstandard",
	PubKeyHashTy:          "p2pkh",
	ScriptHashTy:          "p2sh",
	WitnessV0PubKeyHashTy: "p2wpkh",
	WitnessV0ScriptHashTy: "p2wsh",
	TaprootTy:             "p2tr",
	MultiSigTy:            "multisig",
	NullDataTy:            "nulldata",
}

// String returns the short lowercase name of the class.
func (c ScriptClass) String() string {
	if s, ok := scriptClassNames[c]; ok {
		return s
	}
	return "invalid"
}

// ErrUnsupportedScript is returned by constructors given out-of-range
// arguments, such as a multisig threshold above 16.
var ErrUnsupportedScript = errors.New("unsupported script")

// GetScriptClass classifies a script purely by its byte shape.
func GetScriptClass(script []byte) ScriptClass {
	switch {
	case IsPayToPubKeyHash(script):
		return PubKeyHashTy
	case IsPayToScriptHash(script):
		return ScriptHashTy
	case IsPayToWitnessPubKeyHash(script):
		return WitnessV0PubKeyHashTy
	case IsPayToWitnessScriptHash(script):
		return WitnessV0ScriptHashTy
	case IsPayToTaproot(script):
		return TaprootTy
	case isMultiSig(script):
		return MultiSigTy
	case len(script) > 0 && script[0] == OP_RETURN:
		return NullDataTy
	}
	return NonStandardTy
}

// IsPayToPubKeyHash matches OP_DUP OP_HASH160 <20> OP_EQUALVERIFY
// OP_CHECKSIG.
func IsPayToPubKeyHash(script []byte) bool {
	return len(script) == 25 &&
		script[0] == OP_DUP &&
		script[1] == OP_HASH160 &&
		script[2] == 0x14 &&
		script[23] == OP_EQUALVERIFY &&
		script[24] == OP_CHECKSIG
}

// IsPayToScriptHash matches OP_HASH160 <20> OP_EQUAL.
func IsPayToScriptHash(script []byte) bool {
	return len(script) == 23 &&
		script[0] == OP_HASH160 &&
		script[1] == 0x14 &&
		script[22] == OP_EQUAL
}

// IsPayToWitnessPubKeyHash matches OP_0 <20>.
func IsPayToWitnessPubKeyHash(script []byte) bool {
	return len(script) == 22 && script[0] == OP_0 && script[1] == 0x14
}

// IsPayToWitnessScriptHash matches OP_0 <32>.
func IsPayToWitnessScriptHash(script []byte) bool {
	return len(script) == 34 && script[0] == OP_0 && script[1] == 0x20
}

// IsPayToTaproot matches OP_1 <32>.
func IsPayToTaproot(script []byte) bool {
	return len(script) == 34 && script[0] == OP_1 && script[1] == 0x20
}

// IsWitnessProgram reports whether the script is a valid segwit output
// and returns its version and program.
func IsWitnessProgram(script []byte) (version byte, program []byte, ok bool) {
	if len(script) < 4 || len(script) > 42 {
		return 0, nil, false
	}
	if script[0] != OP_0 && (script[0] < OP_1 || script[0] > OP_16) {
		return 0, nil, false
	}
	if int(script[1]) != len(script)-2 || script[1] < 2 || script[1] > 40 {
		return 0, nil, false
	}
	version = script[0]
	if version >= OP_1 {
		version -= OP_1 - 1
	}
	return version, script[2:], true
}

// isMultiSig matches OP_m <pk>... OP_n OP_CHECKMULTISIG with compressed
// or uncompressed key pushes.
func isMultiSig(script []byte) bool {
	if len(script) < 3 || script[len(script)-1] != OP_CHECKMULTISIG {
		return false
	}
	m := script[0]
	n := script[len(script)-2]
	if m < OP_1 || m > OP_16 || n < OP_1 || n > OP_16 || m > n {
		return false
	}
	pos := 1
	count := 0
	for pos < len(script)-2 {
		l := int(script[pos])
		if l != 33 && l != 65 {
			return false
		}
		pos += 1 + l
		count++
	}
	return pos == len(script)-2 && count == int(n-OP_1+1)
}

// PayToPubKeyHashScript builds a p2pkh output script for the SEC-encoded
// public key.
func PayToPubKeyHashScript(pub *ecc.PublicKey) []byte {
	return pubKeyHashScript(hashes.Hash160(pub.Sec()))
}

func pubKeyHashScript(pkHash []byte) []byte {
	out := make([]byte, 0, 25)
	out = append(out, OP_DUP, OP_HASH160, 0x14)
	out = append(out, pkHash...)
	return append(out, OP_EQUALVERIFY, OP_CHECKSIG)
}

// PayToScriptHashScript builds a p2sh output script for the redeem
// script.
func PayToScriptHashScript(redeem []byte) []byte {
	out := make([]byte, 0, 23)
	out = append(out, OP_HASH160, 0x14)
	out = append(out, hashes.Hash160(redeem)...)
	return append(out, OP_EQUAL)
}

// PayToWitnessPubKeyHashScript builds a v0 p2wpkh output script.
func PayToWitnessPubKeyHashScript(pub *ecc.PublicKey) []byte {
	out := make([]byte, 0, 22)
	out = append(out, OP_0, 0x14)
	return append(out, hashes.Hash160(pub.Sec())...)
}

// PayToWitnessScriptHashScript builds a v0 p2wsh output script.
func PayToWitnessScriptHashScript(witnessScript []byte) []byte {
	out := make([]byte, 0, 34)
	out = append(out, OP_0, 0x20)
	return append(out, hashes.SHA256(witnessScript)...)
}

// PayToTaprootScript builds a p2tr output script from the already
// tweaked output key.
func PayToTaprootScript(outputKey *ecc.PublicKey) []byte {
	xonly, _ := outputKey.XOnly()
	out := make([]byte, 0, 34)
	out = append(out, OP_1, 0x20)
	return append(out, xonly...)
}

// P2PKHFromP2WPKH rewrites a p2wpkh output script as the p2pkh script
// BIP-143 uses as script code.
func P2PKHFromP2WPKH(script []byte) ([]byte, error) {
	if !IsPayToWitnessPubKeyHash(script) {
		return nil, ErrUnsupportedScript
	}
	return pubKeyHashScript(script[2:]), nil
}

// MultiSigScript builds an m-of-n OP_CHECKMULTISIG script in the given
// key order. 1 <= m <= n <= 16.
func MultiSigScript(m int, pubs []*ecc.PublicKey) ([]byte, error) {
	n := len(pubs)
	if m < 1 || m > 16 || n < m || n > 16 {
		return nil, fmt.Errorf("%w: %d-of-%d multisig", ErrUnsupportedScript, m, n)
	}
	b := NewScriptBuilder()
	b.AddOp(byte(OP_1 + m - 1))
	for _, pub := range pubs {
		b.AddData(pub.Sec())
	}
	b.AddOp(byte(OP_1 + n - 1))
	b.AddOp(OP_CHECKMULTISIG)
	return b.Script()
}

// SortedMultiSigScript builds a multisig script with the keys first
// ordered ascending by compressed SEC per BIP-67.
func SortedMultiSigScript(m int, pubs []*ecc.PublicKey) ([]byte, error) {
	sorted := make([]*ecc.PublicKey, len(pubs))
	copy(sorted, pubs)
	ecc.SortKeys(sorted)
	return MultiSigScript(m, sorted)
}

// NullDataScript builds an OP_RETURN output carrying data.
func NullDataScript(data []byte) ([]byte, error) {
	if len(data) > 80 {
		return nil, fmt.Errorf("%w: %d byte data carrier", ErrUnsupportedScript, len(data))
	}
	b := NewScriptBuilder()
	b.AddOp(OP_RETURN)
	b.AddData(data)
	return b.Script()
}

// ExtractPubKeyHash returns the 20-byte hash from a p2pkh or p2wpkh
// script, or nil.
func ExtractPubKeyHash(script []byte) []byte {
	switch {
	case IsPayToPubKeyHash(script):
		return script[3:23]
	case IsPayToWitnessPubKeyHash(script):
		return script[2:]
	}
	return nil
}

// ExtractWitnessProgram returns the witness program of a segwit script,
// or nil.
func ExtractWitnessProgram(script []byte) []byte {
	if _, prog, ok := IsWitnessProgram(script); ok {
		return prog
	}
	return nil
}

// ExtractMultiSig pulls the threshold and serialized keys out of a bare
// multisig script.
func ExtractMultiSig(script []byte) (m int, pubKeys [][]byte, err error) {
	if !isMultiSig(script) {
		return 0, nil, ErrUnsupportedScript
	}
	m = int(script[0]-OP_1) + 1
	pos := 1
	for pos < len(script)-2 {
		l := int(script[pos])
		pubKeys = append(pubKeys, script[pos+1:pos+1+l])
		pos += 1 + l
	}
	return m, pubKeys, nil
}
