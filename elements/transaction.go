// Copyright (c) 2025 The embit developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package elements implements the Elements/Liquid transaction format as
// an overlay on the Bitcoin core types: confidential assets and values,
// per-input issuances and pegins, proof-carrying witnesses, PSET fields
// and SLIP-77 blinding keys. Bitcoin code paths are untouched.
package elements

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/diybitcoinhardware/embit/hashes"
	"github.com/diybitcoinhardware/embit/txscript"
	"github.com/diybitcoinhardware/embit/wire"
)

const (
	// issuanceFlag and peginFlag are carried in the high bits of the
	// input's vout field.
	issuanceFlag = uint32(1) << 31
	peginFlag    = uint32(1) << 30
)

// ErrBadFormat is returned for malformed confidential transactions.
var ErrBadFormat = errors.New("invalid elements transaction encoding")

// ConfValue is an explicit amount or a 33-byte commitment. Asset and
// nonce fields use the same shape.
type ConfValue struct {
	// Explicit holds the clear amount when Commitment is nil.
	Explicit uint64

	// Commitment is a 33-byte Pedersen commitment, nil for explicit
	// values.
	Commitment []byte

	// Null marks an absent commitment (serialized as a single zero
	// byte), used by issuance fields.
	Null bool
}

// IsConfidential reports whether the value is blinded.
func (v *ConfValue) IsConfidential() bool { return v.Commitment != nil }

// writeValue serializes an amount: 0x01 || be64 explicit, a 33-byte
// commitment, or 0x00 when null.
func (v *ConfValue) writeValue(w io.Writer) error {
	switch {
	case v.Null:
		_, err := w.Write([]byte{0x00})
		return err
	case v.Commitment != nil:
		_, err := w.Write(v.Commitment)
		return err
	default:
		var b [9]byte
		b[0] = 0x01
		binary.BigEndian.PutUint64(b[1:], v.Explicit)
		_, err := w.Write(b[:])
		return err
	}
}

// readValue parses an amount field.
func readValue(r io.Reader) (*ConfValue, error) {
	var prefix [1]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, err
	}
	switch prefix[0] {
	case 0x00:
		return &ConfValue{Null: true}, nil
	case 0x01:
		var b [8]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return nil, err
		}
		return &ConfValue{Explicit: binary.BigEndian.Uint64(b[:])}, nil
	default:
		commit := make([]byte, 33)
		commit[0] = prefix[0]
		if _, err := io.ReadFull(r, commit[1:]); err != nil {
			return nil, err
		}
		return &ConfValue{Commitment: commit}, nil
	}
}

// Proof is an opaque range or surjection proof blob.
type Proof []byte

// writeProof emits the length-prefixed proof.
func writeProof(w io.Writer, p Proof) error {
	return wire.WriteVarBytes(w, p)
}

func readProof(r io.Reader) (Proof, error) {
	b, err := wire.ReadVarBytes(r, 1<<24, "proof")
	return Proof(b), err
}

// TxInWitness is the witness of one confidential input.
type TxInWitness struct {
	AmountProof   Proof
	TokenProof    Proof
	ScriptWitness wire.TxWitness
	PeginWitness  wire.TxWitness
}

// IsEmpty reports whether all witness parts are empty.
func (w *TxInWitness) IsEmpty() bool {
	return len(w.AmountProof) == 0 && len(w.TokenProof) == 0 &&
		len(w.ScriptWitness) == 0 && len(w.PeginWitness) == 0
}

func (w *TxInWitness) write(out io.Writer) error {
	if err := writeProof(out, w.AmountProof); err != nil {
		return err
	}
	if err := writeProof(out, w.TokenProof); err != nil {
		return err
	}
	if err := writeWitnessStack(out, w.ScriptWitness); err != nil {
		return err
	}
	return writeWitnessStack(out, w.PeginWitness)
}

func readTxInWitness(r io.Reader) (*TxInWitness, error) {
	w := &TxInWitness{}
	var err error
	if w.AmountProof, err = readProof(r); err != nil {
		return nil, err
	}
	if w.TokenProof, err = readProof(r); err != nil {
		return nil, err
	}
	if w.ScriptWitness, err = readWitnessStack(r); err != nil {
		return nil, err
	}
	w.PeginWitness, err = readWitnessStack(r)
	return w, err
}

// TxOutWitness carries the output proofs.
type TxOutWitness struct {
	SurjectionProof Proof
	RangeProof      Proof
}

// IsEmpty reports whether both proofs are empty.
func (w *TxOutWitness) IsEmpty() bool {
	return len(w.SurjectionProof) == 0 && len(w.RangeProof) == 0
}

func (w *TxOutWitness) write(out io.Writer) error {
	if err := writeProof(out, w.SurjectionProof); err != nil {
		return err
	}
	return writeProof(out, w.RangeProof)
}

func readTxOutWitness(r io.Reader) (*TxOutWitness, error) {
	w := &TxOutWitness{}
	var err error
	if w.SurjectionProof, err = readProof(r); err != nil {
		return nil, err
	}
	w.RangeProof, err = readProof(r)
	return w, err
}

// AssetIssuance describes an asset (re)issuance attached to an input.
type AssetIssuance struct {
	Nonce            [32]byte
	Entropy          [32]byte
	AmountCommitment ConfValue
	TokenCommitment  ConfValue
}

func (ai *AssetIssuance) write(w io.Writer) error {
	if _, err := w.Write(ai.Nonce[:]); err != nil {
		return err
	}
	if _, err := w.Write(ai.Entropy[:]); err != nil {
		return err
	}
	if err := ai.AmountCommitment.writeValue(w); err != nil {
		return err
	}
	return ai.TokenCommitment.writeValue(w)
}

func readAssetIssuance(r io.Reader) (*AssetIssuance, error) {
	ai := &AssetIssuance{}
	if _, err := io.ReadFull(r, ai.Nonce[:]); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(r, ai.Entropy[:]); err != nil {
		return nil, err
	}
	amount, err := readValue(r)
	if err != nil {
		return nil, err
	}
	ai.AmountCommitment = *amount
	token, err := readValue(r)
	if err != nil {
		return nil, err
	}
	ai.TokenCommitment = *token
	return ai, nil
}

// TxIn is a confidential transaction input.
type TxIn struct {
	PreviousOutPoint wire.OutPoint
	SignatureScript  []byte
	Sequence         uint32
	IsPegin          bool
	Issuance         *AssetIssuance
	Witness          TxInWitness
}

// write serializes the input, folding the issuance and pegin flags into
// the vout field. scriptOverride substitutes the signature script for
// sighash computation.
func (ti *TxIn) write(w io.Writer, scriptOverride []byte) error {
	if _, err := w.Write(ti.PreviousOutPoint.Hash[:]); err != nil {
		return err
	}
	vout := ti.PreviousOutPoint.Index
	if vout != 0xffffffff {
		if ti.Issuance != nil {
			vout |= issuanceFlag
		}
		if ti.IsPegin {
			vout |= peginFlag
		}
	}
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], vout)
	if _, err := w.Write(b[:]); err != nil {
		return err
	}
	script := ti.SignatureScript
	if scriptOverride != nil {
		script = scriptOverride
	}
	if err := wire.WriteVarBytes(w, script); err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(b[:], ti.Sequence)
	if _, err := w.Write(b[:]); err != nil {
		return err
	}
	if ti.Issuance != nil {
		return ti.Issuance.write(w)
	}
	return nil
}

func readTxIn(r io.Reader) (*TxIn, error) {
	ti := &TxIn{}
	if _, err := io.ReadFull(r, ti.PreviousOutPoint.Hash[:]); err != nil {
		return nil, err
	}
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return nil, err
	}
	vout := binary.LittleEndian.Uint32(b[:])
	var err error
	if ti.SignatureScript, err = wire.ReadVarBytes(r, 10000, "signature script"); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return nil, err
	}
	ti.Sequence = binary.LittleEndian.Uint32(b[:])
	if vout != 0xffffffff {
		ti.IsPegin = vout&peginFlag != 0
		hasIssuance := vout&issuanceFlag != 0
		vout &= 0x3fffffff
		if hasIssuance {
			if ti.Issuance, err = readAssetIssuance(r); err != nil {
				return nil, err
			}
		}
	}
	ti.PreviousOutPoint.Index = vout
	return ti, nil
}

// serializeNoWitness returns the txid serialization of the input.
func (ti *TxIn) serializeNoWitness() []byte {
	var buf bytes.Buffer
	_ = ti.write(&buf, nil)
	return buf.Bytes()
}

// TxOut is a confidential transaction output.
type TxOut struct {
	// Asset is the 33-byte asset field: 0x01 || tag for explicit
	// assets, or an asset commitment.
	Asset []byte

	Value ConfValue

	// Nonce is the 33-byte ECDH nonce of blinded outputs, nil when
	// absent.
	Nonce []byte

	PkScript []byte
	Witness  TxOutWitness
}

func (to *TxOut) write(w io.Writer) error {
	if _, err := w.Write(to.Asset); err != nil {
		return err
	}
	if err := to.Value.writeValue(w); err != nil {
		return err
	}
	if to.Nonce != nil {
		if _, err := w.Write(to.Nonce); err != nil {
			return err
		}
	} else {
		if _, err := w.Write([]byte{0x00}); err != nil {
			return err
		}
	}
	return wire.WriteVarBytes(w, to.PkScript)
}

func readTxOut(r io.Reader) (*TxOut, error) {
	to := &TxOut{Asset: make([]byte, 33)}
	if _, err := io.ReadFull(r, to.Asset); err != nil {
		return nil, err
	}
	value, err := readValue(r)
	if err != nil {
		return nil, err
	}
	to.Value = *value
	var prefix [1]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, err
	}
	if prefix[0] != 0x00 {
		to.Nonce = make([]byte, 33)
		to.Nonce[0] = prefix[0]
		if _, err := io.ReadFull(r, to.Nonce[1:]); err != nil {
			return nil, err
		}
	}
	to.PkScript, err = wire.ReadVarBytes(r, 10000, "pkscript")
	return to, err
}

// Serialize returns the wire bytes of the output without witness.
func (to *TxOut) Serialize() []byte {
	var buf bytes.Buffer
	_ = to.write(&buf)
	return buf.Bytes()
}

// Transaction is an Elements transaction.
type Transaction struct {
	Version  int32
	TxIn     []*TxIn
	TxOut    []*TxOut
	LockTime uint32
}

// HasWitness reports whether any input or output carries witness data.
func (tx *Transaction) HasWitness() bool {
	for _, ti := range tx.TxIn {
		if !ti.Witness.IsEmpty() {
			return true
		}
	}
	for _, to := range tx.TxOut {
		if !to.Witness.IsEmpty() {
			return true
		}
	}
	return false
}

// Serialize writes the transaction: version, witness flag, inputs,
// outputs, locktime, then input and output witnesses.
func (tx *Transaction) Serialize(w io.Writer) error {
	return tx.serialize(w, tx.HasWitness())
}

// SerializeNoWitness writes the txid form with the witness flag clear.
func (tx *Transaction) SerializeNoWitness(w io.Writer) error {
	return tx.serialize(w, false)
}

func (tx *Transaction) serialize(w io.Writer, witness bool) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(tx.Version))
	if _, err := w.Write(b[:]); err != nil {
		return err
	}
	flag := byte(0x00)
	if witness {
		flag = 0x01
	}
	if _, err := w.Write([]byte{flag}); err != nil {
		return err
	}
	if err := wire.WriteVarInt(w, uint64(len(tx.TxIn))); err != nil {
		return err
	}
	for _, ti := range tx.TxIn {
		if err := ti.write(w, nil); err != nil {
			return err
		}
	}
	if err := wire.WriteVarInt(w, uint64(len(tx.TxOut))); err != nil {
		return err
	}
	for _, to := range tx.TxOut {
		if err := to.write(w); err != nil {
			return err
		}
	}
	binary.LittleEndian.PutUint32(b[:], tx.LockTime)
	if _, err := w.Write(b[:]); err != nil {
		return err
	}
	if witness {
		for _, ti := range tx.TxIn {
			if err := ti.Witness.write(w); err != nil {
				return err
			}
		}
		for _, to := range tx.TxOut {
			if err := to.Witness.write(w); err != nil {
				return err
			}
		}
	}
	return nil
}

// Deserialize reads a transaction from r.
func (tx *Transaction) Deserialize(r io.Reader) error {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return err
	}
	tx.Version = int32(binary.LittleEndian.Uint32(b[:]))
	var flag [1]byte
	if _, err := io.ReadFull(r, flag[:]); err != nil {
		return err
	}
	hasWitness := flag[0] == 0x01

	count, err := wire.ReadVarInt(r)
	if err != nil {
		return err
	}
	tx.TxIn = make([]*TxIn, count)
	for i := range tx.TxIn {
		if tx.TxIn[i], err = readTxIn(r); err != nil {
			return err
		}
	}
	count, err = wire.ReadVarInt(r)
	if err != nil {
		return err
	}
	tx.TxOut = make([]*TxOut, count)
	for i := range tx.TxOut {
		if tx.TxOut[i], err = readTxOut(r); err != nil {
			return err
		}
	}
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return err
	}
	tx.LockTime = binary.LittleEndian.Uint32(b[:])

	if hasWitness {
		for _, ti := range tx.TxIn {
			w, err := readTxInWitness(r)
			if err != nil {
				return err
			}
			ti.Witness = *w
		}
		for _, to := range tx.TxOut {
			w, err := readTxOutWitness(r)
			if err != nil {
				return err
			}
			to.Witness = *w
		}
	}
	return nil
}

// Bytes returns the full serialization.
func (tx *Transaction) Bytes() []byte {
	var buf bytes.Buffer
	_ = tx.Serialize(&buf)
	return buf.Bytes()
}

// TxHash computes the txid over the no-witness serialization.
func (tx *Transaction) TxHash() chainhash.Hash {
	var buf bytes.Buffer
	_ = tx.SerializeNoWitness(&buf)
	return chainhash.DoubleHashH(buf.Bytes())
}

// hashPrevouts, hashSequence and hashOutputs are the BIP-143 style
// caches. They are pure functions of the transaction.
func (tx *Transaction) hashPrevouts() []byte {
	var buf bytes.Buffer
	for _, ti := range tx.TxIn {
		buf.Write(ti.PreviousOutPoint.Hash[:])
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], ti.PreviousOutPoint.Index)
		buf.Write(b[:])
	}
	return hashes.SHA256(buf.Bytes())
}

func (tx *Transaction) hashSequence() []byte {
	var buf bytes.Buffer
	for _, ti := range tx.TxIn {
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], ti.Sequence)
		buf.Write(b[:])
	}
	return hashes.SHA256(buf.Bytes())
}

func (tx *Transaction) hashOutputs() []byte {
	var buf bytes.Buffer
	for _, to := range tx.TxOut {
		buf.Write(to.Serialize())
	}
	return hashes.SHA256(buf.Bytes())
}

// hashIssuances commits to the per-input issuances; inputs without one
// contribute a zero byte.
func (tx *Transaction) hashIssuances() []byte {
	var buf bytes.Buffer
	for _, ti := range tx.TxIn {
		if ti.Issuance != nil {
			_ = ti.Issuance.write(&buf)
		} else {
			buf.WriteByte(0x00)
		}
	}
	return hashes.SHA256(buf.Bytes())
}

// hashOutputWitnesses commits to the range and surjection proofs, used
// when SIGHASH_RANGEPROOF is set.
func (tx *Transaction) hashOutputWitnesses() []byte {
	var buf bytes.Buffer
	for _, to := range tx.TxOut {
		_ = to.Witness.write(&buf)
	}
	return hashes.SHA256(buf.Bytes())
}

// SighashSegwit computes the confidential BIP-143 digest. value is the
// serialized amount the input spends (explicit 0x01||be64 or a 33-byte
// commitment). The SigHashRangeproof bit additionally commits to the
// output proofs.
func (tx *Transaction) SighashSegwit(inputIndex int, scriptCode []byte, value []byte, sighash txscript.SigHashType) ([]byte, error) {
	if inputIndex < 0 || inputIndex >= len(tx.TxIn) {
		return nil, fmt.Errorf("input index %d out of range", inputIndex)
	}
	ti := tx.TxIn[inputIndex]
	var zero [32]byte

	var buf bytes.Buffer
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(tx.Version))
	buf.Write(b[:])
	if sighash.AnyOneCanPay() {
		buf.Write(zero[:])
	} else {
		buf.Write(hashes.SHA256(tx.hashPrevouts()))
	}
	if sighash.AnyOneCanPay() || sighash.Base() == txscript.SigHashNone ||
		sighash.Base() == txscript.SigHashSingle {
		buf.Write(zero[:])
	} else {
		buf.Write(hashes.SHA256(tx.hashSequence()))
	}
	// The issuance aggregate is masked like hashPrevouts: a signer
	// restricted to its own input does not commit to the other inputs'
	// issuances.
	if sighash.AnyOneCanPay() {
		buf.Write(zero[:])
	} else {
		buf.Write(hashes.SHA256(tx.hashIssuances()))
	}
	buf.Write(ti.PreviousOutPoint.Hash[:])
	binary.LittleEndian.PutUint32(b[:], ti.PreviousOutPoint.Index)
	buf.Write(b[:])
	_ = wire.WriteVarBytes(&buf, scriptCode)
	buf.Write(value)
	binary.LittleEndian.PutUint32(b[:], ti.Sequence)
	buf.Write(b[:])
	if ti.Issuance != nil {
		_ = ti.Issuance.write(&buf)
	}
	switch {
	case sighash.Base() == txscript.SigHashNone:
		buf.Write(zero[:])
	case sighash.Base() == txscript.SigHashSingle:
		if inputIndex < len(tx.TxOut) {
			buf.Write(hashes.DoubleSHA256(tx.TxOut[inputIndex].Serialize()))
		} else {
			buf.Write(zero[:])
		}
	default:
		buf.Write(hashes.SHA256(tx.hashOutputs()))
	}
	if sighash&txscript.SigHashRangeproof != 0 {
		buf.Write(hashes.SHA256(tx.hashOutputWitnesses()))
	}
	binary.LittleEndian.PutUint32(b[:], tx.LockTime)
	buf.Write(b[:])
	binary.LittleEndian.PutUint32(b[:], uint32(sighash))
	buf.Write(b[:])
	return hashes.DoubleSHA256(buf.Bytes()), nil
}

// SighashLegacy computes the pre-segwit digest.
func (tx *Transaction) SighashLegacy(inputIndex int, scriptCode []byte, sighash txscript.SigHashType) ([]byte, error) {
	if inputIndex < 0 || inputIndex >= len(tx.TxIn) {
		return nil, fmt.Errorf("input index %d out of range", inputIndex)
	}
	if sighash.Base() == txscript.SigHashSingle && inputIndex >= len(tx.TxOut) {
		var one [32]byte
		one[31] = 0x01
		return one[:], nil
	}
	var buf bytes.Buffer
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(tx.Version))
	buf.Write(b[:])
	_ = wire.WriteVarInt(&buf, uint64(len(tx.TxIn)))
	for i, ti := range tx.TxIn {
		if i == inputIndex {
			_ = ti.write(&buf, scriptCode)
		} else {
			masked := *ti
			if sighash.Base() == txscript.SigHashNone || sighash.Base() == txscript.SigHashSingle {
				masked.Sequence = 0
			}
			_ = masked.write(&buf, []byte{})
		}
	}
	_ = wire.WriteVarInt(&buf, uint64(len(tx.TxOut)))
	for _, to := range tx.TxOut {
		buf.Write(to.Serialize())
	}
	binary.LittleEndian.PutUint32(b[:], tx.LockTime)
	buf.Write(b[:])
	binary.LittleEndian.PutUint32(b[:], uint32(sighash))
	buf.Write(b[:])
	return hashes.DoubleSHA256(buf.Bytes()), nil
}

// ReadVout streams through a serialized transaction, returning output
// idx and the txid without keeping the rest in memory.
func ReadVout(r io.Reader, idx int) (*TxOut, chainhash.Hash, error) {
	h := newHashingReader(r)
	var txid chainhash.Hash

	var b [4]byte
	if _, err := io.ReadFull(h, b[:]); err != nil {
		return nil, txid, err
	}
	var flag [1]byte
	if _, err := io.ReadFull(h.raw(), flag[:]); err != nil {
		return nil, txid, err
	}
	// The txid commits to a zero witness flag.
	h.absorb([]byte{0x00})
	hasWitness := flag[0] == 0x01

	numVin, err := wire.ReadVarInt(h)
	if err != nil {
		return nil, txid, err
	}
	for i := uint64(0); i < numVin; i++ {
		if _, err := readTxIn(h); err != nil {
			return nil, txid, err
		}
	}
	numVout, err := wire.ReadVarInt(h)
	if err != nil {
		return nil, txid, err
	}
	if idx < 0 || uint64(idx) >= numVout {
		return nil, txid, fmt.Errorf("%w: vout index %d of %d", ErrBadFormat, idx, numVout)
	}
	var result *TxOut
	for i := uint64(0); i < numVout; i++ {
		out, err := readTxOut(h)
		if err != nil {
			return nil, txid, err
		}
		if i == uint64(idx) {
			result = out
		}
	}
	if _, err := io.ReadFull(h, b[:]); err != nil {
		return nil, txid, err
	}
	if hasWitness {
		for i := uint64(0); i < numVin; i++ {
			if _, err := readTxInWitness(h.raw()); err != nil {
				return nil, txid, err
			}
		}
		for i := uint64(0); i < numVout; i++ {
			if _, err := readTxOutWitness(h.raw()); err != nil {
				return nil, txid, err
			}
		}
	}
	copy(txid[:], hashes.DoubleSHA256(h.sum()))
	return result, txid, nil
}

// hashingReader tees reads into a running serialization buffer so the
// txid can be computed while streaming.
type hashingReader struct {
	r   io.Reader
	buf bytes.Buffer
}

func newHashingReader(r io.Reader) *hashingReader {
	return &hashingReader{r: r}
}

func (h *hashingReader) Read(p []byte) (int, error) {
	n, err := h.r.Read(p)
	h.buf.Write(p[:n])
	return n, err
}

// raw reads without absorbing into the txid preimage.
func (h *hashingReader) raw() io.Reader { return h.r }

// absorb feeds bytes into the txid preimage directly.
func (h *hashingReader) absorb(b []byte) { h.buf.Write(b) }

func (h *hashingReader) sum() []byte { return h.buf.Bytes() }

// writeWitnessStack and readWitnessStack serialize plain witness
// stacks.
func writeWitnessStack(w io.Writer, stack wire.TxWitness) error {
	if err := wire.WriteVarInt(w, uint64(len(stack))); err != nil {
		return err
	}
	for _, item := range stack {
		if err := wire.WriteVarBytes(w, item); err != nil {
			return err
		}
	}
	return nil
}

func readWitnessStack(r io.Reader) (wire.TxWitness, error) {
	count, err := wire.ReadVarInt(r)
	if err != nil {
		return nil, err
	}
	if count > 1<<16 {
		return nil, ErrBadFormat
	}
	stack := make(wire.TxWitness, count)
	for i := range stack {
		if stack[i], err = wire.ReadVarBytes(r, 1<<24, "witness item"); err != nil {
			return nil, err
		}
	}
	return stack, nil
}
