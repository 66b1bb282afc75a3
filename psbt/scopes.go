// Copyright (c) 2025 The embit developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package psbt

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/diybitcoinhardware/embit/txscript"
	"github.com/diybitcoinhardware/embit/wire"
)

// Input scope field types per BIP-174/370.
const (
	InNonWitnessUtxo     = 0x00
	InWitnessUtxo        = 0x01
	InPartialSig         = 0x02
	InSighashType        = 0x03
	InRedeemScript       = 0x04
	InWitnessScript      = 0x05
	InBip32Derivation    = 0x06
	InFinalScriptSig     = 0x07
	InFinalScriptWitness = 0x08
	InPreviousTxid       = 0x0e
	InOutputIndex        = 0x0f
	InSequence           = 0x10
	InTapKeySig          = 0x13
	InTapScriptSig       = 0x14
	InTapLeafScript      = 0x15
	InTapBip32Derivation = 0x16
	InTapInternalKey     = 0x17
	InTapMerkleRoot      = 0x18
)

// Output scope field types.
const (
	OutRedeemScript       = 0x00
	OutWitnessScript      = 0x01
	OutBip32Derivation    = 0x02
	OutAmount             = 0x03
	OutScript             = 0x04
	OutTapInternalKey     = 0x05
	OutTapTree            = 0x06
	OutTapBip32Derivation = 0x07
)

// Input is one per-input scope of a PSBT.
type Input struct {
	NonWitnessUtxo     *wire.MsgTx
	WitnessUtxo        *wire.TxOut
	PartialSigs        []PartialSig
	SighashType        *txscript.SigHashType
	RedeemScript       []byte
	WitnessScript      []byte
	Bip32Derivations   []Bip32Derivation
	FinalScriptSig     []byte
	FinalScriptWitness wire.TxWitness

	// Version 2 fields.
	PreviousTxid *chainhash.Hash
	OutputIndex  *uint32
	Sequence     *uint32

	// Taproot fields.
	TapKeySig           []byte
	TapScriptSigs       []TapScriptSig
	TapLeafScripts      []TapLeafScript
	TapBip32Derivations []TapBip32Derivation
	TapInternalKey      []byte
	TapMerkleRoot       []byte

	// Unknown preserves unrecognized fields verbatim, in order.
	Unknown []kv
}

// Output is one per-output scope of a PSBT.
type Output struct {
	RedeemScript     []byte
	WitnessScript    []byte
	Bip32Derivations []Bip32Derivation

	// Version 2 fields.
	Amount *uint64
	Script []byte

	// Taproot fields.
	TapInternalKey      []byte
	TapTree             []byte
	TapBip32Derivations []TapBip32Derivation

	Unknown []kv
}

// dupSet tracks keys already seen in a scope.
type dupSet map[string]struct{}

func (d dupSet) add(key []byte) error {
	s := string(key)
	if _, ok := d[s]; ok {
		return fmt.Errorf("%w: %x", ErrDuplicateKey, key)
	}
	d[s] = struct{}{}
	return nil
}

// readInput parses one input scope up to and including its separator.
func readInput(r io.Reader) (*Input, error) {
	in := &Input{}
	seen := dupSet{}
	for {
		key, ok, err := readKey(r)
		if err != nil {
			return nil, err
		}
		if !ok {
			return in, nil
		}
		if err := seen.add(key); err != nil {
			return nil, err
		}
		value, err := readValue(r)
		if err != nil {
			return nil, err
		}
		if err := in.setField(key, value); err != nil {
			return nil, err
		}
	}
}

func (in *Input) setField(key, value []byte) error {
	keyType, keyData := key[0], key[1:]
	switch keyType {
	case InNonWitnessUtxo:
		if len(keyData) != 0 {
			return ErrInvalidField
		}
		tx := &wire.MsgTx{}
		if err := tx.Deserialize(bytes.NewReader(value)); err != nil {
			return err
		}
		in.NonWitnessUtxo = tx
	case InWitnessUtxo:
		if len(keyData) != 0 {
			return ErrInvalidField
		}
		out, err := wire.ReadTxOut(bytes.NewReader(value))
		if err != nil {
			return err
		}
		in.WitnessUtxo = out
	case InPartialSig:
		if len(keyData) != 33 && len(keyData) != 65 {
			return ErrInvalidField
		}
		in.PartialSigs = append(in.PartialSigs, PartialSig{
			PubKey:    keyData,
			Signature: value,
		})
	case InSighashType:
		if len(keyData) != 0 || len(value) != 4 {
			return ErrInvalidField
		}
		t := txscript.SigHashType(binary.BigEndian.Uint32(value))
		in.SighashType = &t
	case InRedeemScript:
		if len(keyData) != 0 {
			return ErrInvalidField
		}
		in.RedeemScript = value
	case InWitnessScript:
		if len(keyData) != 0 {
			return ErrInvalidField
		}
		in.WitnessScript = value
	case InBip32Derivation:
		if len(keyData) != 33 && len(keyData) != 65 {
			return ErrInvalidField
		}
		origin, err := ParseKeyOrigin(value)
		if err != nil {
			return err
		}
		in.Bip32Derivations = append(in.Bip32Derivations, Bip32Derivation{
			PubKey: keyData,
			Origin: *origin,
		})
	case InFinalScriptSig:
		if len(keyData) != 0 {
			return ErrInvalidField
		}
		in.FinalScriptSig = value
	case InFinalScriptWitness:
		if len(keyData) != 0 {
			return ErrInvalidField
		}
		witness, err := parseWitness(value)
		if err != nil {
			return err
		}
		in.FinalScriptWitness = witness
	case InPreviousTxid:
		if len(keyData) != 0 || len(value) != 32 {
			return ErrInvalidField
		}
		h := &chainhash.Hash{}
		copy(h[:], value)
		in.PreviousTxid = h
	case InOutputIndex:
		if len(keyData) != 0 || len(value) != 4 {
			return ErrInvalidField
		}
		v := binary.LittleEndian.Uint32(value)
		in.OutputIndex = &v
	case InSequence:
		if len(keyData) != 0 || len(value) != 4 {
			return ErrInvalidField
		}
		v := binary.LittleEndian.Uint32(value)
		in.Sequence = &v
	case InTapKeySig:
		if len(keyData) != 0 || (len(value) != 64 && len(value) != 65) {
			return ErrInvalidField
		}
		in.TapKeySig = value
	case InTapScriptSig:
		if len(keyData) != 64 {
			return ErrInvalidField
		}
		var sig TapScriptSig
		copy(sig.XOnlyPubKey[:], keyData[:32])
		copy(sig.LeafHash[:], keyData[32:])
		sig.Signature = value
		in.TapScriptSigs = append(in.TapScriptSigs, sig)
	case InTapLeafScript:
		if len(keyData) < 33 || len(value) < 1 {
			return ErrInvalidField
		}
		in.TapLeafScripts = append(in.TapLeafScripts, TapLeafScript{
			ControlBlock: keyData,
			Script:       value[:len(value)-1],
			LeafVersion:  value[len(value)-1],
		})
	case InTapBip32Derivation:
		if len(keyData) != 32 {
			return ErrInvalidField
		}
		d, err := ParseTapBip32Derivation(value)
		if err != nil {
			return err
		}
		copy(d.XOnlyPubKey[:], keyData)
		in.TapBip32Derivations = append(in.TapBip32Derivations, *d)
	case InTapInternalKey:
		if len(keyData) != 0 || len(value) != 32 {
			return ErrInvalidField
		}
		in.TapInternalKey = value
	case InTapMerkleRoot:
		if len(keyData) != 0 || len(value) != 32 {
			return ErrInvalidField
		}
		in.TapMerkleRoot = value
	default:
		in.Unknown = append(in.Unknown, kv{Key: key, Value: value})
	}
	return nil
}

// write serializes the scope including its trailing separator. v2 fields
// are emitted only for version 2 packets.
func (in *Input) write(w io.Writer, version uint32) error {
	if in.NonWitnessUtxo != nil {
		var buf bytes.Buffer
		_ = in.NonWitnessUtxo.Serialize(&buf)
		if err := writeKV(w, singleKey(InNonWitnessUtxo), buf.Bytes()); err != nil {
			return err
		}
	}
	if in.WitnessUtxo != nil {
		if err := writeKV(w, singleKey(InWitnessUtxo), in.WitnessUtxo.Serialize()); err != nil {
			return err
		}
	}
	for _, ps := range in.PartialSigs {
		if err := writeKV(w, keyWithPrefix(InPartialSig, ps.PubKey), ps.Signature); err != nil {
			return err
		}
	}
	if in.SighashType != nil {
		var v [4]byte
		binary.BigEndian.PutUint32(v[:], uint32(*in.SighashType))
		if err := writeKV(w, singleKey(InSighashType), v[:]); err != nil {
			return err
		}
	}
	if in.RedeemScript != nil {
		if err := writeKV(w, singleKey(InRedeemScript), in.RedeemScript); err != nil {
			return err
		}
	}
	if in.WitnessScript != nil {
		if err := writeKV(w, singleKey(InWitnessScript), in.WitnessScript); err != nil {
			return err
		}
	}
	for _, d := range in.Bip32Derivations {
		if err := writeKV(w, keyWithPrefix(InBip32Derivation, d.PubKey), d.Origin.Serialize()); err != nil {
			return err
		}
	}
	if in.FinalScriptSig != nil {
		if err := writeKV(w, singleKey(InFinalScriptSig), in.FinalScriptSig); err != nil {
			return err
		}
	}
	if in.FinalScriptWitness != nil {
		if err := writeKV(w, singleKey(InFinalScriptWitness), serializeWitness(in.FinalScriptWitness)); err != nil {
			return err
		}
	}
	if version == 2 {
		if in.PreviousTxid != nil {
			if err := writeKV(w, singleKey(InPreviousTxid), in.PreviousTxid[:]); err != nil {
				return err
			}
		}
		if in.OutputIndex != nil {
			var v [4]byte
			binary.LittleEndian.PutUint32(v[:], *in.OutputIndex)
			if err := writeKV(w, singleKey(InOutputIndex), v[:]); err != nil {
				return err
			}
		}
		if in.Sequence != nil {
			var v [4]byte
			binary.LittleEndian.PutUint32(v[:], *in.Sequence)
			if err := writeKV(w, singleKey(InSequence), v[:]); err != nil {
				return err
			}
		}
	}
	if in.TapKeySig != nil {
		if err := writeKV(w, singleKey(InTapKeySig), in.TapKeySig); err != nil {
			return err
		}
	}
	for _, s := range in.TapScriptSigs {
		key := make([]byte, 64)
		copy(key, s.XOnlyPubKey[:])
		copy(key[32:], s.LeafHash[:])
		if err := writeKV(w, keyWithPrefix(InTapScriptSig, key), s.Signature); err != nil {
			return err
		}
	}
	for _, l := range in.TapLeafScripts {
		value := append(append([]byte(nil), l.Script...), l.LeafVersion)
		if err := writeKV(w, keyWithPrefix(InTapLeafScript, l.ControlBlock), value); err != nil {
			return err
		}
	}
	for _, d := range in.TapBip32Derivations {
		if err := writeKV(w, keyWithPrefix(InTapBip32Derivation, d.XOnlyPubKey[:]), d.Serialize()); err != nil {
			return err
		}
	}
	if in.TapInternalKey != nil {
		if err := writeKV(w, singleKey(InTapInternalKey), in.TapInternalKey); err != nil {
			return err
		}
	}
	if in.TapMerkleRoot != nil {
		if err := writeKV(w, singleKey(InTapMerkleRoot), in.TapMerkleRoot); err != nil {
			return err
		}
	}
	for _, u := range in.Unknown {
		if err := writeKV(w, u.Key, u.Value); err != nil {
			return err
		}
	}
	return writeSeparator(w)
}

// Merge copies fields set in other into in, appending list fields.
// Existing singletons are kept.
func (in *Input) Merge(other *Input) {
	if in.NonWitnessUtxo == nil {
		in.NonWitnessUtxo = other.NonWitnessUtxo
	}
	if in.WitnessUtxo == nil {
		in.WitnessUtxo = other.WitnessUtxo
	}
	in.PartialSigs = append(in.PartialSigs, other.PartialSigs...)
	if in.SighashType == nil {
		in.SighashType = other.SighashType
	}
	if in.RedeemScript == nil {
		in.RedeemScript = other.RedeemScript
	}
	if in.WitnessScript == nil {
		in.WitnessScript = other.WitnessScript
	}
	in.Bip32Derivations = append(in.Bip32Derivations, other.Bip32Derivations...)
	if in.FinalScriptSig == nil {
		in.FinalScriptSig = other.FinalScriptSig
	}
	if in.FinalScriptWitness == nil {
		in.FinalScriptWitness = other.FinalScriptWitness
	}
	if in.PreviousTxid == nil {
		in.PreviousTxid = other.PreviousTxid
	}
	if in.OutputIndex == nil {
		in.OutputIndex = other.OutputIndex
	}
	if in.Sequence == nil {
		in.Sequence = other.Sequence
	}
	if in.TapKeySig == nil {
		in.TapKeySig = other.TapKeySig
	}
	in.TapScriptSigs = append(in.TapScriptSigs, other.TapScriptSigs...)
	in.TapLeafScripts = append(in.TapLeafScripts, other.TapLeafScripts...)
	in.TapBip32Derivations = append(in.TapBip32Derivations, other.TapBip32Derivations...)
	if in.TapInternalKey == nil {
		in.TapInternalKey = other.TapInternalKey
	}
	if in.TapMerkleRoot == nil {
		in.TapMerkleRoot = other.TapMerkleRoot
	}
	in.Unknown = append(in.Unknown, other.Unknown...)
}

// ClearMetadata drops the fields a signed PSBT no longer needs so the
// serialization shrinks: derivations, scripts and the non-witness utxo.
func (in *Input) ClearMetadata() {
	in.Bip32Derivations = nil
	in.TapBip32Derivations = nil
	in.RedeemScript = nil
	in.WitnessScript = nil
	in.NonWitnessUtxo = nil
	in.TapLeafScripts = nil
	in.TapInternalKey = nil
	in.TapMerkleRoot = nil
}

// Utxo resolves the spent output. For a non-witness utxo, prevIndex
// selects the output and prevTxid (when non-nil) is checked against the
// embedded transaction.
func (in *Input) Utxo(prevTxid *chainhash.Hash, prevIndex uint32) (*wire.TxOut, error) {
	if in.WitnessUtxo != nil {
		return in.WitnessUtxo, nil
	}
	if in.NonWitnessUtxo == nil {
		return nil, ErrMissingUtxo
	}
	if prevTxid != nil {
		h := in.NonWitnessUtxo.TxHash()
		if !h.IsEqual(prevTxid) {
			return nil, ErrInvalidUtxo
		}
	}
	if int(prevIndex) >= len(in.NonWitnessUtxo.TxOut) {
		return nil, ErrInvalidUtxo
	}
	return in.NonWitnessUtxo.TxOut[prevIndex], nil
}

// readOutput parses one output scope up to and including its separator.
func readOutput(r io.Reader) (*Output, error) {
	out := &Output{}
	seen := dupSet{}
	for {
		key, ok, err := readKey(r)
		if err != nil {
			return nil, err
		}
		if !ok {
			return out, nil
		}
		if err := seen.add(key); err != nil {
			return nil, err
		}
		value, err := readValue(r)
		if err != nil {
			return nil, err
		}
		if err := out.setField(key, value); err != nil {
			return nil, err
		}
	}
}

func (out *Output) setField(key, value []byte) error {
	keyType, keyData := key[0], key[1:]
	switch keyType {
	case OutRedeemScript:
		if len(keyData) != 0 {
			return ErrInvalidField
		}
		out.RedeemScript = value
	case OutWitnessScript:
		if len(keyData) != 0 {
			return ErrInvalidField
		}
		out.WitnessScript = value
	case OutBip32Derivation:
		if len(keyData) != 33 && len(keyData) != 65 {
			return ErrInvalidField
		}
		origin, err := ParseKeyOrigin(value)
		if err != nil {
			return err
		}
		out.Bip32Derivations = append(out.Bip32Derivations, Bip32Derivation{
			PubKey: keyData,
			Origin: *origin,
		})
	case OutAmount:
		if len(keyData) != 0 || len(value) != 8 {
			return ErrInvalidField
		}
		v := binary.LittleEndian.Uint64(value)
		out.Amount = &v
	case OutScript:
		if len(keyData) != 0 {
			return ErrInvalidField
		}
		out.Script = value
	case OutTapInternalKey:
		if len(keyData) != 0 || len(value) != 32 {
			return ErrInvalidField
		}
		out.TapInternalKey = value
	case OutTapTree:
		if len(keyData) != 0 {
			return ErrInvalidField
		}
		out.TapTree = value
	case OutTapBip32Derivation:
		if len(keyData) != 32 {
			return ErrInvalidField
		}
		d, err := ParseTapBip32Derivation(value)
		if err != nil {
			return err
		}
		copy(d.XOnlyPubKey[:], keyData)
		out.TapBip32Derivations = append(out.TapBip32Derivations, *d)
	default:
		out.Unknown = append(out.Unknown, kv{Key: key, Value: value})
	}
	return nil
}

// write serializes the scope including its trailing separator.
func (out *Output) write(w io.Writer, version uint32) error {
	if out.RedeemScript != nil {
		if err := writeKV(w, singleKey(OutRedeemScript), out.RedeemScript); err != nil {
			return err
		}
	}
	if out.WitnessScript != nil {
		if err := writeKV(w, singleKey(OutWitnessScript), out.WitnessScript); err != nil {
			return err
		}
	}
	for _, d := range out.Bip32Derivations {
		if err := writeKV(w, keyWithPrefix(OutBip32Derivation, d.PubKey), d.Origin.Serialize()); err != nil {
			return err
		}
	}
	if version == 2 {
		if out.Amount != nil {
			var v [8]byte
			binary.LittleEndian.PutUint64(v[:], *out.Amount)
			if err := writeKV(w, singleKey(OutAmount), v[:]); err != nil {
				return err
			}
		}
		if out.Script != nil {
			if err := writeKV(w, singleKey(OutScript), out.Script); err != nil {
				return err
			}
		}
	}
	if out.TapInternalKey != nil {
		if err := writeKV(w, singleKey(OutTapInternalKey), out.TapInternalKey); err != nil {
			return err
		}
	}
	if out.TapTree != nil {
		if err := writeKV(w, singleKey(OutTapTree), out.TapTree); err != nil {
			return err
		}
	}
	for _, d := range out.TapBip32Derivations {
		if err := writeKV(w, keyWithPrefix(OutTapBip32Derivation, d.XOnlyPubKey[:]), d.Serialize()); err != nil {
			return err
		}
	}
	for _, u := range out.Unknown {
		if err := writeKV(w, u.Key, u.Value); err != nil {
			return err
		}
	}
	return writeSeparator(w)
}

// Merge copies fields set in other into out.
func (out *Output) Merge(other *Output) {
	if out.RedeemScript == nil {
		out.RedeemScript = other.RedeemScript
	}
	if out.WitnessScript == nil {
		out.WitnessScript = other.WitnessScript
	}
	out.Bip32Derivations = append(out.Bip32Derivations, other.Bip32Derivations...)
	if out.Amount == nil {
		out.Amount = other.Amount
	}
	if out.Script == nil {
		out.Script = other.Script
	}
	if out.TapInternalKey == nil {
		out.TapInternalKey = other.TapInternalKey
	}
	if out.TapTree == nil {
		out.TapTree = other.TapTree
	}
	out.TapBip32Derivations = append(out.TapBip32Derivations, other.TapBip32Derivations...)
	out.Unknown = append(out.Unknown, other.Unknown...)
}

// ClearMetadata drops derivations and scripts.
func (out *Output) ClearMetadata() {
	out.Bip32Derivations = nil
	out.TapBip32Derivations = nil
	out.RedeemScript = nil
	out.WitnessScript = nil
	out.TapInternalKey = nil
	out.TapTree = nil
}

// parseWitness decodes the final-script-witness stack encoding.
func parseWitness(b []byte) (wire.TxWitness, error) {
	r := bytes.NewReader(b)
	count, err := wire.ReadVarInt(r)
	if err != nil {
		return nil, err
	}
	if count > uint64(r.Len()) {
		return nil, ErrInvalidField
	}
	w := make(wire.TxWitness, count)
	for i := range w {
		item, err := wire.ReadVarBytes(r, maxFieldSize, "witness item")
		if err != nil {
			return nil, err
		}
		w[i] = item
	}
	if r.Len() != 0 {
		return nil, ErrInvalidField
	}
	return w, nil
}

// serializeWitness encodes a witness stack for the final-script-witness
// field.
func serializeWitness(w wire.TxWitness) []byte {
	var buf bytes.Buffer
	_ = wire.WriteVarInt(&buf, uint64(len(w)))
	for _, item := range w {
		_ = wire.WriteVarBytes(&buf, item)
	}
	return buf.Bytes()
}

// ParseInput reads one input scope (through its separator) from r. The
// PSET overlay reuses this for Elements scopes, whose proprietary
// fields land in Unknown.
func ParseInput(r io.Reader) (*Input, error) {
	return readInput(r)
}

// ParseOutput reads one output scope from r.
func ParseOutput(r io.Reader) (*Output, error) {
	return readOutput(r)
}

// WriteTo serializes the scope including its separator. version selects
// whether v2 fields are emitted.
func (in *Input) WriteTo(w io.Writer, version uint32) error {
	return in.write(w, version)
}

// WriteTo serializes the scope including its separator.
func (out *Output) WriteTo(w io.Writer, version uint32) error {
	return out.write(w, version)
}

// PrependUnknown inserts raw key-value pairs ahead of the existing
// unknown fields, preserving their relative order on serialization.
func (in *Input) PrependUnknown(pairs ...[2][]byte) {
	kvs := make([]kv, 0, len(pairs)+len(in.Unknown))
	for _, p := range pairs {
		kvs = append(kvs, kv{Key: p[0], Value: p[1]})
	}
	in.Unknown = append(kvs, in.Unknown...)
}

// PrependUnknown inserts raw key-value pairs ahead of the existing
// unknown fields.
func (out *Output) PrependUnknown(pairs ...[2][]byte) {
	kvs := make([]kv, 0, len(pairs)+len(out.Unknown))
	for _, p := range pairs {
		kvs = append(kvs, kv{Key: p[0], Value: p[1]})
	}
	out.Unknown = append(kvs, out.Unknown...)
}

// TakeUnknown removes and returns the value of an unknown field with
// the exact key, or nil.
func (in *Input) TakeUnknown(key []byte) []byte {
	for i, u := range in.Unknown {
		if bytes.Equal(u.Key, key) {
			in.Unknown = append(in.Unknown[:i], in.Unknown[i+1:]...)
			return u.Value
		}
	}
	return nil
}

// TakeUnknown removes and returns the value of an unknown field with
// the exact key, or nil.
func (out *Output) TakeUnknown(key []byte) []byte {
	for i, u := range out.Unknown {
		if bytes.Equal(u.Key, key) {
			out.Unknown = append(out.Unknown[:i], out.Unknown[i+1:]...)
			return u.Value
		}
	}
	return nil
}

// ReadScope reads the raw key-value pairs of one scope through its
// separator, without interpreting them.
func ReadScope(r io.Reader) ([][2][]byte, error) {
	var pairs [][2][]byte
	for {
		key, ok, err := readKey(r)
		if err != nil {
			return nil, err
		}
		if !ok {
			return pairs, nil
		}
		value, err := readValue(r)
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, [2][]byte{key, value})
	}
}

// InputFromPairs builds an input scope from raw key-value pairs,
// enforcing the duplicate-key rule.
func InputFromPairs(pairs [][2][]byte) (*Input, error) {
	in := &Input{}
	seen := dupSet{}
	for _, p := range pairs {
		if err := seen.add(p[0]); err != nil {
			return nil, err
		}
		if err := in.setField(p[0], p[1]); err != nil {
			return nil, err
		}
	}
	return in, nil
}

// OutputFromPairs builds an output scope from raw key-value pairs.
func OutputFromPairs(pairs [][2][]byte) (*Output, error) {
	out := &Output{}
	seen := dupSet{}
	for _, p := range pairs {
		if err := seen.add(p[0]); err != nil {
			return nil, err
		}
		if err := out.setField(p[0], p[1]); err != nil {
			return nil, err
		}
	}
	return out, nil
}
