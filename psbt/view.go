// Copyright (c) 2025 The embit developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package psbt

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/diybitcoinhardware/embit/hashes"
	"github.com/diybitcoinhardware/embit/hdkeychain"
	"github.com/diybitcoinhardware/embit/txscript"
	"github.com/diybitcoinhardware/embit/wire"
)

// unsignedTxInLen is the serialized size of one input of the unsigned
// global transaction: txid, vout, empty scriptsig, sequence.
const unsignedTxInLen = 32 + 4 + 1 + 4

// ErrScopeNotFound is returned when a required field is absent from a
// scope the view scanned.
var ErrScopeNotFound = errors.New("field not found in scope")

// GlobalTxView lazily reads pieces of the v0 unsigned transaction
// without keeping it in memory. The global transaction is unsigned, so
// every input has a fixed serialized size.
type GlobalTxView struct {
	stream io.ReadSeeker
	offset int64

	version  *int32
	numVin   *int
	numVout  *int
	locktime *uint32

	vin0Offset  int64
	vout0Offset int64
}

// NewGlobalTxView wraps the stream region beginning at offset.
func NewGlobalTxView(stream io.ReadSeeker, offset int64) *GlobalTxView {
	return &GlobalTxView{stream: stream, offset: offset}
}

// Version reads the transaction version.
func (v *GlobalTxView) Version() (int32, error) {
	if v.version == nil {
		if _, err := v.stream.Seek(v.offset, io.SeekStart); err != nil {
			return 0, err
		}
		var b [4]byte
		if _, err := io.ReadFull(v.stream, b[:]); err != nil {
			return 0, err
		}
		ver := int32(binary.LittleEndian.Uint32(b[:]))
		v.version = &ver
	}
	return *v.version, nil
}

// NumVin reads the input count.
func (v *GlobalTxView) NumVin() (int, error) {
	if v.numVin == nil {
		if _, err := v.stream.Seek(v.offset+4, io.SeekStart); err != nil {
			return 0, err
		}
		n, err := wire.ReadVarInt(v.stream)
		if err != nil {
			return 0, err
		}
		pos, err := v.stream.Seek(0, io.SeekCurrent)
		if err != nil {
			return 0, err
		}
		count := int(n)
		v.numVin = &count
		v.vin0Offset = pos
	}
	return *v.numVin, nil
}

// NumVout reads the output count.
func (v *GlobalTxView) NumVout() (int, error) {
	if v.numVout == nil {
		nVin, err := v.NumVin()
		if err != nil {
			return 0, err
		}
		if _, err := v.stream.Seek(v.vin0Offset+int64(nVin)*unsignedTxInLen, io.SeekStart); err != nil {
			return 0, err
		}
		n, err := wire.ReadVarInt(v.stream)
		if err != nil {
			return 0, err
		}
		pos, err := v.stream.Seek(0, io.SeekCurrent)
		if err != nil {
			return 0, err
		}
		count := int(n)
		v.numVout = &count
		v.vout0Offset = pos
	}
	return *v.numVout, nil
}

// Locktime reads the transaction locktime by skipping over the outputs.
func (v *GlobalTxView) Locktime() (uint32, error) {
	if v.locktime == nil {
		nVout, err := v.NumVout()
		if err != nil {
			return 0, err
		}
		if _, err := v.stream.Seek(v.vout0Offset, io.SeekStart); err != nil {
			return 0, err
		}
		for i := 0; i < nVout; i++ {
			if err := v.skipOutput(); err != nil {
				return 0, err
			}
		}
		var b [4]byte
		if _, err := io.ReadFull(v.stream, b[:]); err != nil {
			return 0, err
		}
		lt := binary.LittleEndian.Uint32(b[:])
		v.locktime = &lt
	}
	return *v.locktime, nil
}

func (v *GlobalTxView) skipOutput() error {
	if _, err := v.stream.Seek(8, io.SeekCurrent); err != nil {
		return err
	}
	l, err := wire.ReadVarInt(v.stream)
	if err != nil {
		return err
	}
	_, err = v.stream.Seek(int64(l), io.SeekCurrent)
	return err
}

// Vin reads input i of the unsigned transaction.
func (v *GlobalTxView) Vin(i int) (*wire.TxIn, error) {
	nVin, err := v.NumVin()
	if err != nil {
		return nil, err
	}
	if i < 0 || i >= nVin {
		return nil, ErrInvalidScopeIndex
	}
	if _, err := v.stream.Seek(v.vin0Offset+int64(i)*unsignedTxInLen, io.SeekStart); err != nil {
		return nil, err
	}
	return wire.ReadTxIn(v.stream)
}

// Vout reads output i of the unsigned transaction.
func (v *GlobalTxView) Vout(i int) (*wire.TxOut, error) {
	nVout, err := v.NumVout()
	if err != nil {
		return nil, err
	}
	if i < 0 || i >= nVout {
		return nil, ErrInvalidScopeIndex
	}
	if _, err := v.stream.Seek(v.vout0Offset, io.SeekStart); err != nil {
		return nil, err
	}
	for n := 0; n < i; n++ {
		if err := v.skipOutput(); err != nil {
			return nil, err
		}
	}
	return wire.ReadTxOut(v.stream)
}

// View is a read-only PSBT bound to a seekable stream. It never holds
// the transaction or the scopes in memory; every accessor re-reads from
// the stream. The stream cursor is undefined after any call.
type View struct {
	stream io.ReadSeeker

	// Version is the PSBT version (0 or 2).
	Version uint32

	// NumInputs and NumOutputs are taken from the global transaction
	// (v0) or the count fields (v2).
	NumInputs  int
	NumOutputs int

	offset     int64
	firstScope int64
	tx         *GlobalTxView

	txVersion *int32
	locktime  *uint32

	hashPrevouts []byte
	hashSequence []byte
	hashOutputs  []byte
}

// ViewFrom walks the global scope of the PSBT at the stream's current
// position and returns a View. Only offsets are recorded; scopes are
// parsed on demand.
func ViewFrom(stream io.ReadSeeker) (*View, error) {
	offset, err := stream.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, err
	}
	magic := make([]byte, len(Magic))
	if _, err := io.ReadFull(stream, magic); err != nil {
		return nil, err
	}
	if !bytes.Equal(magic, Magic) {
		return nil, ErrInvalidMagic
	}

	v := &View{stream: stream, offset: offset, NumInputs: -1, NumOutputs: -1}
	var txOffset int64 = -1
	for {
		key, ok, err := readKey(stream)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		switch {
		case len(key) == 1 && key[0] == GlobalVersion:
			value, err := readValue(stream)
			if err != nil {
				return nil, err
			}
			if len(value) != 4 {
				return nil, ErrInvalidField
			}
			v.Version = binary.LittleEndian.Uint32(value)
		case len(key) == 1 && key[0] == GlobalInputCount:
			value, err := readValue(stream)
			if err != nil {
				return nil, err
			}
			n, err := wire.ReadVarInt(bytes.NewReader(value))
			if err != nil {
				return nil, err
			}
			v.NumInputs = int(n)
		case len(key) == 1 && key[0] == GlobalOutputCount:
			value, err := readValue(stream)
			if err != nil {
				return nil, err
			}
			n, err := wire.ReadVarInt(bytes.NewReader(value))
			if err != nil {
				return nil, err
			}
			v.NumOutputs = int(n)
		case len(key) == 1 && key[0] == GlobalUnsignedTx:
			txLen, err := wire.ReadVarInt(stream)
			if err != nil {
				return nil, err
			}
			txOffset, err = stream.Seek(0, io.SeekCurrent)
			if err != nil {
				return nil, err
			}
			if _, err := stream.Seek(int64(txLen), io.SeekCurrent); err != nil {
				return nil, err
			}
		default:
			if err := skipValue(stream); err != nil {
				return nil, err
			}
		}
	}
	v.firstScope, err = stream.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, err
	}

	if txOffset >= 0 {
		if v.Version == 2 {
			return nil, fmt.Errorf("%w: v2 PSBT carries a global transaction", ErrInvalidField)
		}
		v.tx = NewGlobalTxView(stream, txOffset)
		if v.NumInputs, err = v.tx.NumVin(); err != nil {
			return nil, err
		}
		if v.NumOutputs, err = v.tx.NumVout(); err != nil {
			return nil, err
		}
	} else if v.Version != 2 || v.NumInputs < 0 || v.NumOutputs < 0 {
		return nil, ErrMissingTx
	}
	return v, nil
}

// skipValue seeks past one length-prefixed value.
func skipValue(s io.ReadSeeker) error {
	l, err := wire.ReadVarInt(s)
	if err != nil {
		return err
	}
	_, err = s.Seek(int64(l), io.SeekCurrent)
	return err
}

// SeekToScope positions the stream at scope n, where inputs come first
// and outputs follow. n may equal NumInputs+NumOutputs to seek to the
// end of the PSBT.
func (v *View) SeekToScope(n int) error {
	if n < 0 || n > v.NumInputs+v.NumOutputs {
		return ErrInvalidScopeIndex
	}
	if _, err := v.stream.Seek(v.firstScope, io.SeekStart); err != nil {
		return err
	}
	for ; n > 0; n-- {
		if err := v.skipScope(); err != nil {
			return err
		}
	}
	return nil
}

func (v *View) skipScope() error {
	for {
		key, ok, err := readKey(v.stream)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		_ = key
		if err := skipValue(v.stream); err != nil {
			return err
		}
	}
}

// Input parses and returns input scope i.
func (v *View) Input(i int) (*Input, error) {
	if i < 0 || i >= v.NumInputs {
		return nil, ErrInvalidScopeIndex
	}
	if err := v.SeekToScope(i); err != nil {
		return nil, err
	}
	return readInput(v.stream)
}

// Output parses and returns output scope i.
func (v *View) Output(i int) (*Output, error) {
	if i < 0 || i >= v.NumOutputs {
		return nil, ErrInvalidScopeIndex
	}
	if err := v.SeekToScope(v.NumInputs + i); err != nil {
		return nil, err
	}
	return readOutput(v.stream)
}

// scanScopeValue seeks to scope n and returns the value of the first
// field whose one-byte type matches keyType, or ErrScopeNotFound.
func (v *View) scanScopeValue(n int, keyType byte) ([]byte, error) {
	if err := v.SeekToScope(n); err != nil {
		return nil, err
	}
	for {
		key, ok, err := readKey(v.stream)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrScopeNotFound
		}
		if len(key) == 1 && key[0] == keyType {
			return readValue(v.stream)
		}
		if err := skipValue(v.stream); err != nil {
			return nil, err
		}
	}
}

// scanGlobalValue scans the global scope for a one-byte field.
func (v *View) scanGlobalValue(keyType byte) ([]byte, error) {
	if _, err := v.stream.Seek(v.offset+int64(len(Magic)), io.SeekStart); err != nil {
		return nil, err
	}
	for {
		key, ok, err := readKey(v.stream)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrScopeNotFound
		}
		if len(key) == 1 && key[0] == keyType {
			return readValue(v.stream)
		}
		if err := skipValue(v.stream); err != nil {
			return nil, err
		}
	}
}

// Vin returns the minimal input data: for v0 from the global tx, for v2
// from the per-input fields.
func (v *View) Vin(i int) (*wire.TxIn, error) {
	if i < 0 || i >= v.NumInputs {
		return nil, ErrInvalidScopeIndex
	}
	if v.tx != nil {
		return v.tx.Vin(i)
	}
	txid, err := v.scanScopeValue(i, InPreviousTxid)
	if err != nil {
		return nil, err
	}
	vout, err := v.scanScopeValue(i, InOutputIndex)
	if err != nil {
		return nil, err
	}
	if len(txid) != 32 || len(vout) != 4 {
		return nil, ErrInvalidField
	}
	ti := &wire.TxIn{Sequence: wire.MaxTxInSequenceNum}
	copy(ti.PreviousOutPoint.Hash[:], txid)
	ti.PreviousOutPoint.Index = binary.LittleEndian.Uint32(vout)
	if seq, err := v.scanScopeValue(i, InSequence); err == nil && len(seq) == 4 {
		ti.Sequence = binary.LittleEndian.Uint32(seq)
	}
	return ti, nil
}

// Vout returns the minimal output data.
func (v *View) Vout(i int) (*wire.TxOut, error) {
	if i < 0 || i >= v.NumOutputs {
		return nil, ErrInvalidScopeIndex
	}
	if v.tx != nil {
		return v.tx.Vout(i)
	}
	amount, err := v.scanScopeValue(v.NumInputs+i, OutAmount)
	if err != nil {
		return nil, err
	}
	script, err := v.scanScopeValue(v.NumInputs+i, OutScript)
	if err != nil {
		return nil, err
	}
	if len(amount) != 8 {
		return nil, ErrInvalidField
	}
	return &wire.TxOut{
		Value:    binary.LittleEndian.Uint64(amount),
		PkScript: script,
	}, nil
}

// TxVersion returns the transaction version from either representation.
func (v *View) TxVersion() (int32, error) {
	if v.txVersion != nil {
		return *v.txVersion, nil
	}
	var ver int32
	if v.tx != nil {
		var err error
		if ver, err = v.tx.Version(); err != nil {
			return 0, err
		}
	} else {
		value, err := v.scanGlobalValue(GlobalTxVersion)
		if err != nil {
			return 0, err
		}
		if len(value) != 4 {
			return 0, ErrInvalidField
		}
		ver = int32(binary.LittleEndian.Uint32(value))
	}
	v.txVersion = &ver
	return ver, nil
}

// Locktime returns the effective locktime.
func (v *View) Locktime() (uint32, error) {
	if v.locktime != nil {
		return *v.locktime, nil
	}
	var lt uint32
	if v.tx != nil {
		var err error
		if lt, err = v.tx.Locktime(); err != nil {
			return 0, err
		}
	} else {
		value, err := v.scanGlobalValue(GlobalFallbackLocktime)
		switch {
		case err == nil && len(value) == 4:
			lt = binary.LittleEndian.Uint32(value)
		case errors.Is(err, ErrScopeNotFound):
			lt = 0
		case err != nil:
			return 0, err
		}
	}
	v.locktime = &lt
	return lt, nil
}

// HashPrevouts computes the single-SHA prevouts hash, walking the
// inputs through the stream. The result is cached.
func (v *View) HashPrevouts() ([]byte, error) {
	if v.hashPrevouts == nil {
		h := sha256.New()
		for i := 0; i < v.NumInputs; i++ {
			ti, err := v.Vin(i)
			if err != nil {
				return nil, err
			}
			h.Write(ti.PreviousOutPoint.Hash[:])
			var idx [4]byte
			binary.LittleEndian.PutUint32(idx[:], ti.PreviousOutPoint.Index)
			h.Write(idx[:])
		}
		v.hashPrevouts = h.Sum(nil)
	}
	return v.hashPrevouts, nil
}

// HashSequence computes the single-SHA sequence hash.
func (v *View) HashSequence() ([]byte, error) {
	if v.hashSequence == nil {
		h := sha256.New()
		for i := 0; i < v.NumInputs; i++ {
			ti, err := v.Vin(i)
			if err != nil {
				return nil, err
			}
			var seq [4]byte
			binary.LittleEndian.PutUint32(seq[:], ti.Sequence)
			h.Write(seq[:])
		}
		v.hashSequence = h.Sum(nil)
	}
	return v.hashSequence, nil
}

// HashOutputs computes the single-SHA outputs hash.
func (v *View) HashOutputs() ([]byte, error) {
	if v.hashOutputs == nil {
		h := sha256.New()
		for i := 0; i < v.NumOutputs; i++ {
			to, err := v.Vout(i)
			if err != nil {
				return nil, err
			}
			h.Write(to.Serialize())
		}
		v.hashOutputs = h.Sum(nil)
	}
	return v.hashOutputs, nil
}

// SighashSegwit computes the BIP-143 digest for input i without
// materializing the transaction.
func (v *View) SighashSegwit(i int, scriptCode []byte, value uint64, sighash txscript.SigHashType) ([]byte, error) {
	if i < 0 || i >= v.NumInputs {
		return nil, ErrInvalidScopeIndex
	}
	ti, err := v.Vin(i)
	if err != nil {
		return nil, err
	}
	var zero chainhash.Hash
	var buf bytes.Buffer
	txVersion, err := v.TxVersion()
	if err != nil {
		return nil, err
	}
	_ = binary.Write(&buf, binary.LittleEndian, uint32(txVersion))
	if sighash.AnyOneCanPay() {
		buf.Write(zero[:])
	} else {
		hp, err := v.HashPrevouts()
		if err != nil {
			return nil, err
		}
		buf.Write(hashes.SHA256(hp))
	}
	if sighash.AnyOneCanPay() || sighash.Base() == txscript.SigHashNone ||
		sighash.Base() == txscript.SigHashSingle {
		buf.Write(zero[:])
	} else {
		hs, err := v.HashSequence()
		if err != nil {
			return nil, err
		}
		buf.Write(hashes.SHA256(hs))
	}
	buf.Write(ti.PreviousOutPoint.Hash[:])
	_ = binary.Write(&buf, binary.LittleEndian, ti.PreviousOutPoint.Index)
	_ = wire.WriteVarBytes(&buf, scriptCode)
	_ = binary.Write(&buf, binary.LittleEndian, value)
	_ = binary.Write(&buf, binary.LittleEndian, ti.Sequence)
	switch {
	case sighash.Base() == txscript.SigHashNone:
		buf.Write(zero[:])
	case sighash.Base() == txscript.SigHashSingle:
		if i < v.NumOutputs {
			to, err := v.Vout(i)
			if err != nil {
				return nil, err
			}
			buf.Write(hashes.DoubleSHA256(to.Serialize()))
		} else {
			buf.Write(zero[:])
		}
	default:
		ho, err := v.HashOutputs()
		if err != nil {
			return nil, err
		}
		buf.Write(hashes.SHA256(ho))
	}
	locktime, err := v.Locktime()
	if err != nil {
		return nil, err
	}
	_ = binary.Write(&buf, binary.LittleEndian, locktime)
	_ = binary.Write(&buf, binary.LittleEndian, uint32(sighash))
	return hashes.DoubleSHA256(buf.Bytes()), nil
}

// SighashLegacy computes the legacy digest for input i.
func (v *View) SighashLegacy(i int, scriptCode []byte, sighash txscript.SigHashType) ([]byte, error) {
	if i < 0 || i >= v.NumInputs {
		return nil, ErrInvalidScopeIndex
	}
	if sighash.Base() == txscript.SigHashSingle && i >= v.NumOutputs {
		var one [32]byte
		one[31] = 0x01
		return one[:], nil
	}

	var buf bytes.Buffer
	txVersion, err := v.TxVersion()
	if err != nil {
		return nil, err
	}
	_ = binary.Write(&buf, binary.LittleEndian, uint32(txVersion))
	if sighash.AnyOneCanPay() {
		_ = wire.WriteVarInt(&buf, 1)
		ti, err := v.Vin(i)
		if err != nil {
			return nil, err
		}
		_ = wire.WriteTxIn(&buf, ti, scriptCode)
	} else {
		_ = wire.WriteVarInt(&buf, uint64(v.NumInputs))
		for n := 0; n < v.NumInputs; n++ {
			ti, err := v.Vin(n)
			if err != nil {
				return nil, err
			}
			if n == i {
				_ = wire.WriteTxIn(&buf, ti, scriptCode)
				continue
			}
			masked := *ti
			if sighash.Base() == txscript.SigHashNone || sighash.Base() == txscript.SigHashSingle {
				masked.Sequence = 0
			}
			_ = wire.WriteTxIn(&buf, &masked, []byte{})
		}
	}
	switch sighash.Base() {
	case txscript.SigHashNone:
		_ = wire.WriteVarInt(&buf, 0)
	case txscript.SigHashSingle:
		_ = wire.WriteVarInt(&buf, uint64(i+1))
		empty := wire.TxOut{Value: 0xffffffffffffffff}
		for n := 0; n < i; n++ {
			_ = wire.WriteTxOut(&buf, &empty)
		}
		to, err := v.Vout(i)
		if err != nil {
			return nil, err
		}
		_ = wire.WriteTxOut(&buf, to)
	default:
		_ = wire.WriteVarInt(&buf, uint64(v.NumOutputs))
		for n := 0; n < v.NumOutputs; n++ {
			to, err := v.Vout(n)
			if err != nil {
				return nil, err
			}
			_ = wire.WriteTxOut(&buf, to)
		}
	}
	locktime, err := v.Locktime()
	if err != nil {
		return nil, err
	}
	_ = binary.Write(&buf, binary.LittleEndian, locktime)
	_ = binary.Write(&buf, binary.LittleEndian, uint32(sighash))
	return hashes.DoubleSHA256(buf.Bytes()), nil
}

// Sighash resolves the script code for input i from its scope and picks
// the right digest algorithm. scope may be pre-parsed to avoid a second
// scan.
func (v *View) Sighash(i int, sighash txscript.SigHashType, scope *Input) ([]byte, error) {
	if scope == nil {
		var err error
		scope, err = v.Input(i)
		if err != nil {
			return nil, err
		}
	}
	ti, err := v.Vin(i)
	if err != nil {
		return nil, err
	}
	h := ti.PreviousOutPoint.Hash
	var txid *chainhash.Hash
	if scope.NonWitnessUtxo != nil {
		txid = &h
	}
	utxo, err := scope.Utxo(txid, ti.PreviousOutPoint.Index)
	if err != nil {
		return nil, err
	}
	sc, segwit := scope.scriptCode(utxo)
	if segwit {
		return v.SighashSegwit(i, sc, utxo.Value, sighash)
	}
	return v.SighashLegacy(i, sc, sighash)
}

// SignInput signs input i with the root key and writes the resulting
// partial-signature key-value pairs to sigStream, without touching the
// underlying PSBT. extra, when non-nil, is merged into the parsed scope
// first, for wallets that know more than the PSBT carries. Returns the
// number of signatures written.
func (v *View) SignInput(i int, root *hdkeychain.ExtendedKey, sigStream io.Writer, requested *txscript.SigHashType, extra *Input) (int, error) {
	if i < 0 || i >= v.NumInputs {
		return 0, ErrInvalidScopeIndex
	}
	scope, err := v.Input(i)
	if err != nil {
		return 0, err
	}
	if extra != nil {
		scope.Merge(extra)
	}
	sighash := scope.defaultSighash(false)
	if requested != nil && sighash != *requested {
		return 0, nil
	}
	digest, err := v.Sighash(i, sighash, scope)
	if err != nil {
		return 0, err
	}

	fingerprint := root.Fingerprint()
	count := 0
	for _, der := range scope.Bip32Derivations {
		if der.Origin.Fingerprint != fingerprint {
			continue
		}
		hd, err := root.Derive(der.Origin.Path)
		if err != nil {
			return count, err
		}
		priv, err := hd.PrivateKey()
		if err != nil {
			return count, err
		}
		pub := priv.PublicKey()
		pub.Compressed = len(der.PubKey) == 33
		if !bytes.Equal(pub.Sec(), der.PubKey) {
			return count, ErrDerivationMismatch
		}
		sig, err := priv.Sign(digest)
		if err != nil {
			return count, err
		}
		if err := writeKV(sigStream, keyWithPrefix(InPartialSig, der.PubKey), append(sig.Serialize(), byte(sighash))); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// SignWith signs every input, writing per-input signature fields to
// sigStream, each followed by a separator byte. The sig stream can later
// be replayed into WriteTo as an extra input stream.
func (v *View) SignWith(root *hdkeychain.ExtendedKey, sigStream io.Writer, requested *txscript.SigHashType) (int, error) {
	total := 0
	for i := 0; i < v.NumInputs; i++ {
		n, err := v.SignInput(i, root, sigStream, requested, nil)
		if err != nil {
			return total, err
		}
		total += n
		if err := writeSeparator(sigStream); err != nil {
			return total, err
		}
	}
	return total, nil
}

// WriteTo emits a complete PSBT: the raw global scope, then every input
// and output scope, merging any extra per-scope streams (such as the
// output of SignWith). With compress set, scope metadata is dropped.
func (v *View) WriteTo(out io.Writer, compress bool, extraInputStreams, extraOutputStreams []io.Reader) (int64, error) {
	// The global scope is streamed verbatim.
	if _, err := v.stream.Seek(v.offset, io.SeekStart); err != nil {
		return 0, err
	}
	written, err := io.CopyN(out, v.stream, v.firstScope-v.offset)
	if err != nil {
		return written, err
	}

	cw := &countWriter{w: out, n: written}
	for i := 0; i < v.NumInputs; i++ {
		scope, err := v.Input(i)
		if err != nil {
			return cw.n, err
		}
		for _, s := range extraInputStreams {
			extra, err := readInput(s)
			if err != nil {
				return cw.n, err
			}
			scope.Merge(extra)
		}
		if compress {
			scope.ClearMetadata()
		}
		if err := scope.write(cw, v.Version); err != nil {
			return cw.n, err
		}
	}
	for i := 0; i < v.NumOutputs; i++ {
		scope, err := v.Output(i)
		if err != nil {
			return cw.n, err
		}
		for _, s := range extraOutputStreams {
			extra, err := readOutput(s)
			if err != nil {
				return cw.n, err
			}
			scope.Merge(extra)
		}
		if compress {
			scope.ClearMetadata()
		}
		if err := scope.write(cw, v.Version); err != nil {
			return cw.n, err
		}
	}
	return cw.n, nil
}

// countWriter tracks bytes written.
type countWriter struct {
	w io.Writer
	n int64
}

func (c *countWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
