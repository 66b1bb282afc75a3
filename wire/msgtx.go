// Copyright (c) 2013-2024 The btcsuite developers
// Copyright (c) 2025 The embit developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wire

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

const (
	// TxVersion is the current default transaction version.
	TxVersion = 2

	// MaxTxInSequenceNum is the default sequence disabling locktime
	// semantics.
	MaxTxInSequenceNum uint32 = 0xffffffff

	// maxScriptSize bounds script allocations during deserialization.
	maxScriptSize = 10000

	// maxWitnessItemSize bounds a single witness element.
	maxWitnessItemSize = 11000

	// maxTxElements bounds input/output/witness counts during
	// deserialization. Far above any standard transaction, it only
	// protects against absurd allocations from corrupt length prefixes.
	maxTxElements = 1 << 20

	// witnessMarker and witnessFlag follow the transaction version when
	// any input carries witness data.
	witnessMarker = 0x00
	witnessFlag   = 0x01
)

// ErrBadWitnessFlag is returned when the segwit marker is present but the
// flag byte is not 0x01.
var ErrBadWitnessFlag = errors.New("invalid segwit flag")

// OutPoint identifies a previous transaction output. Hash is kept in
// internal byte order.
type OutPoint struct {
	Hash  chainhash.Hash
	Index uint32
}

// String renders the outpoint as "txid:index" with the txid in display
// order.
func (o OutPoint) String() string {
	return fmt.Sprintf("%v:%d", o.Hash, o.Index)
}

// TxWitness is the ordered witness stack of one input.
type TxWitness [][]byte

// SerializeSize returns the serialized length of the witness stack.
func (w TxWitness) SerializeSize() int {
	n := VarIntSerializeSize(uint64(len(w)))
	for _, item := range w {
		n += VarIntSerializeSize(uint64(len(item))) + len(item)
	}
	return n
}

// writeTo serializes the witness stack.
func (w TxWitness) writeTo(out io.Writer) error {
	if err := WriteVarInt(out, uint64(len(w))); err != nil {
		return err
	}
	for _, item := range w {
		if err := WriteVarBytes(out, item); err != nil {
			return err
		}
	}
	return nil
}

// readWitness deserializes one witness stack.
func readWitness(r io.Reader) (TxWitness, error) {
	count, err := ReadVarInt(r)
	if err != nil {
		return nil, err
	}
	if count > maxTxElements {
		return nil, fmt.Errorf("witness count %d too large", count)
	}
	w := make(TxWitness, count)
	for i := range w {
		item, err := ReadVarBytes(r, maxWitnessItemSize, "witness item")
		if err != nil {
			return nil, err
		}
		w[i] = item
	}
	return w, nil
}

// TxIn is a transaction input.
type TxIn struct {
	PreviousOutPoint OutPoint
	SignatureScript  []byte
	Sequence         uint32
	Witness          TxWitness
}

// NewTxIn returns an input spending the given outpoint with the maximum
// sequence.
func NewTxIn(prevOut OutPoint, signatureScript []byte) *TxIn {
	return &TxIn{
		PreviousOutPoint: prevOut,
		SignatureScript:  signatureScript,
		Sequence:         MaxTxInSequenceNum,
	}
}

// HasWitness reports whether the input carries witness data.
func (ti *TxIn) HasWitness() bool {
	return len(ti.Witness) > 0
}

// SerializeSize returns the serialized length of the input, excluding
// witness data.
func (ti *TxIn) SerializeSize() int {
	return 32 + 4 + VarIntSerializeSize(uint64(len(ti.SignatureScript))) +
		len(ti.SignatureScript) + 4
}

// WriteTxIn serializes a transaction input (without witness) to w. When
// scriptOverride is non-nil it replaces the signature script, which is
// how legacy sighash substitutes the script code.
func WriteTxIn(w io.Writer, ti *TxIn, scriptOverride []byte) error {
	if _, err := w.Write(ti.PreviousOutPoint.Hash[:]); err != nil {
		return err
	}
	if err := writeLE32(w, ti.PreviousOutPoint.Index); err != nil {
		return err
	}
	script := ti.SignatureScript
	if scriptOverride != nil {
		script = scriptOverride
	}
	if err := WriteVarBytes(w, script); err != nil {
		return err
	}
	return writeLE32(w, ti.Sequence)
}

// ReadTxIn deserializes a transaction input (without witness) from r.
func ReadTxIn(r io.Reader) (*TxIn, error) {
	ti := &TxIn{}
	if _, err := io.ReadFull(r, ti.PreviousOutPoint.Hash[:]); err != nil {
		return nil, err
	}
	index, err := readLE32(r)
	if err != nil {
		return nil, err
	}
	ti.PreviousOutPoint.Index = index
	ti.SignatureScript, err = ReadVarBytes(r, maxScriptSize, "signature script")
	if err != nil {
		return nil, err
	}
	ti.Sequence, err = readLE32(r)
	return ti, err
}

// TxOut is a transaction output.
type TxOut struct {
	Value    uint64
	PkScript []byte
}

// NewTxOut returns an output paying value satoshis to pkScript.
func NewTxOut(value uint64, pkScript []byte) *TxOut {
	return &TxOut{Value: value, PkScript: pkScript}
}

// SerializeSize returns the serialized length of the output.
func (to *TxOut) SerializeSize() int {
	return 8 + VarIntSerializeSize(uint64(len(to.PkScript))) + len(to.PkScript)
}

// WriteTxOut serializes a transaction output to w.
func WriteTxOut(w io.Writer, to *TxOut) error {
	if err := writeLE64(w, to.Value); err != nil {
		return err
	}
	return WriteVarBytes(w, to.PkScript)
}

// ReadTxOut deserializes a transaction output from r.
func ReadTxOut(r io.Reader) (*TxOut, error) {
	value, err := readLE64(r)
	if err != nil {
		return nil, err
	}
	pkScript, err := ReadVarBytes(r, maxScriptSize, "pkscript")
	if err != nil {
		return nil, err
	}
	return &TxOut{Value: value, PkScript: pkScript}, nil
}

// Serialize writes the output in wire form and returns the bytes.
func (to *TxOut) Serialize() []byte {
	var buf bytes.Buffer
	_ = WriteTxOut(&buf, to)
	return buf.Bytes()
}

// MsgTx is a Bitcoin transaction.
type MsgTx struct {
	Version  int32
	TxIn     []*TxIn
	TxOut    []*TxOut
	LockTime uint32
}

// NewMsgTx returns an empty transaction with the given version.
func NewMsgTx(version int32) *MsgTx {
	return &MsgTx{Version: version}
}

// AddTxIn appends an input.
func (tx *MsgTx) AddTxIn(ti *TxIn) {
	tx.TxIn = append(tx.TxIn, ti)
}

// AddTxOut appends an output.
func (tx *MsgTx) AddTxOut(to *TxOut) {
	tx.TxOut = append(tx.TxOut, to)
}

// HasWitness reports whether any input carries witness data. The segwit
// serialization is used exactly when this is true.
func (tx *MsgTx) HasWitness() bool {
	for _, ti := range tx.TxIn {
		if ti.HasWitness() {
			return true
		}
	}
	return false
}

// Serialize writes the transaction to w, using the segwit encoding when
// any input has a witness.
func (tx *MsgTx) Serialize(w io.Writer) error {
	return tx.serialize(w, tx.HasWitness())
}

// SerializeNoWitness writes the legacy encoding regardless of witness
// data. The txid commits to this form.
func (tx *MsgTx) SerializeNoWitness(w io.Writer) error {
	return tx.serialize(w, false)
}

func (tx *MsgTx) serialize(w io.Writer, witness bool) error {
	if err := writeLE32(w, uint32(tx.Version)); err != nil {
		return err
	}
	if witness {
		if _, err := w.Write([]byte{witnessMarker, witnessFlag}); err != nil {
			return err
		}
	}
	if err := WriteVarInt(w, uint64(len(tx.TxIn))); err != nil {
		return err
	}
	for _, ti := range tx.TxIn {
		if err := WriteTxIn(w, ti, nil); err != nil {
			return err
		}
	}
	if err := WriteVarInt(w, uint64(len(tx.TxOut))); err != nil {
		return err
	}
	for _, to := range tx.TxOut {
		if err := WriteTxOut(w, to); err != nil {
			return err
		}
	}
	if witness {
		for _, ti := range tx.TxIn {
			if err := ti.Witness.writeTo(w); err != nil {
				return err
			}
		}
	}
	return writeLE32(w, tx.LockTime)
}

// Deserialize reads a transaction from r, accepting both legacy and
// segwit encodings.
func (tx *MsgTx) Deserialize(r io.Reader) error {
	version, err := readLE32(r)
	if err != nil {
		return err
	}
	tx.Version = int32(version)

	count, err := ReadVarInt(r)
	if err != nil {
		return err
	}
	hasWitness := false
	if count == witnessMarker {
		// Zero inputs means segwit marker; the flag byte must follow.
		var flag [1]byte
		if _, err := io.ReadFull(r, flag[:]); err != nil {
			return err
		}
		if flag[0] != witnessFlag {
			return ErrBadWitnessFlag
		}
		hasWitness = true
		count, err = ReadVarInt(r)
		if err != nil {
			return err
		}
	}
	if count > maxTxElements {
		return fmt.Errorf("input count %d too large", count)
	}
	tx.TxIn = make([]*TxIn, count)
	for i := range tx.TxIn {
		ti, err := ReadTxIn(r)
		if err != nil {
			return err
		}
		tx.TxIn[i] = ti
	}

	count, err = ReadVarInt(r)
	if err != nil {
		return err
	}
	if count > maxTxElements {
		return fmt.Errorf("output count %d too large", count)
	}
	tx.TxOut = make([]*TxOut, count)
	for i := range tx.TxOut {
		to, err := ReadTxOut(r)
		if err != nil {
			return err
		}
		tx.TxOut[i] = to
	}

	if hasWitness {
		for _, ti := range tx.TxIn {
			w, err := readWitness(r)
			if err != nil {
				return err
			}
			ti.Witness = w
		}
	}

	tx.LockTime, err = readLE32(r)
	return err
}

// Bytes returns the full serialization.
func (tx *MsgTx) Bytes() []byte {
	var buf bytes.Buffer
	_ = tx.Serialize(&buf)
	return buf.Bytes()
}

// TxHash computes the double-SHA256 of the no-witness serialization: the
// txid in internal byte order.
func (tx *MsgTx) TxHash() chainhash.Hash {
	var buf bytes.Buffer
	buf.Grow(tx.baseSize())
	_ = tx.SerializeNoWitness(&buf)
	return chainhash.DoubleHashH(buf.Bytes())
}

// WitnessHash computes the double-SHA256 of the full serialization
// (wtxid). For transactions without witness data it equals TxHash.
func (tx *MsgTx) WitnessHash() chainhash.Hash {
	var buf bytes.Buffer
	_ = tx.Serialize(&buf)
	return chainhash.DoubleHashH(buf.Bytes())
}

// baseSize is the serialized size without witness data.
func (tx *MsgTx) baseSize() int {
	n := 8 + VarIntSerializeSize(uint64(len(tx.TxIn))) +
		VarIntSerializeSize(uint64(len(tx.TxOut)))
	for _, ti := range tx.TxIn {
		n += ti.SerializeSize()
	}
	for _, to := range tx.TxOut {
		n += to.SerializeSize()
	}
	return n
}

// SerializeSize returns the full serialized size including witness data.
func (tx *MsgTx) SerializeSize() int {
	n := tx.baseSize()
	if tx.HasWitness() {
		n += 2
		for _, ti := range tx.TxIn {
			n += ti.Witness.SerializeSize()
		}
	}
	return n
}

// VSize is the virtual size in vbytes: (3*base + total + 3) / 4.
func (tx *MsgTx) VSize() int {
	base := tx.baseSize()
	total := tx.SerializeSize()
	return (3*base + total + 3) / 4
}

// Copy performs a deep copy of the transaction.
func (tx *MsgTx) Copy() *MsgTx {
	out := &MsgTx{
		Version:  tx.Version,
		LockTime: tx.LockTime,
		TxIn:     make([]*TxIn, len(tx.TxIn)),
		TxOut:    make([]*TxOut, len(tx.TxOut)),
	}
	for i, ti := range tx.TxIn {
		cp := *ti
		cp.SignatureScript = append([]byte(nil), ti.SignatureScript...)
		cp.Witness = make(TxWitness, len(ti.Witness))
		for j, item := range ti.Witness {
			cp.Witness[j] = append([]byte(nil), item...)
		}
		out.TxIn[i] = &cp
	}
	for i, to := range tx.TxOut {
		cp := *to
		cp.PkScript = append([]byte(nil), to.PkScript...)
		out.TxOut[i] = &cp
	}
	return out
}
