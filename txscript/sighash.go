// Copyright (c) 2025 The embit developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package txscript

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/diybitcoinhardware/embit/hashes"
	"github.com/diybitcoinhardware/embit/wire"
)

// SigHashType selects which parts of a transaction a signature commits
// to.
type SigHashType uint32

const (
	// SigHashDefault is the taproot-only alias for SigHashAll that is
	// omitted from the signature encoding.
	SigHashDefault SigHashType = 0x00

	SigHashAll    SigHashType = 0x01
	SigHashNone   SigHashType = 0x02
	SigHashSingle SigHashType = 0x03

	// SigHashRangeproof commits to the output proofs on Elements
	// networks.
	SigHashRangeproof SigHashType = 0x40

	SigHashAnyOneCanPay SigHashType = 0x80

	// sigHashMask picks the output-selection bits out of a type.
	sigHashMask = 0x1f
)

// ErrInvalidSigHashType is returned when a taproot sighash type is not in
// the BIP-341 valid set.
var ErrInvalidSigHashType = errors.New("invalid sighash type")

// Base strips the modifier bits from the type.
func (t SigHashType) Base() SigHashType {
	return t & sigHashMask
}

// AnyOneCanPay reports whether the anyone-can-pay bit is set.
func (t SigHashType) AnyOneCanPay() bool {
	return t&SigHashAnyOneCanPay != 0
}

// PrevOutputFetcher resolves outpoints to the outputs they spend. The
// taproot sighash commits to every spent output.
type PrevOutputFetcher interface {
	FetchPrevOutput(wire.OutPoint) *wire.TxOut
}

// CannedPrevOutputFetcher serves a single prevout regardless of the
// outpoint, for the common single-input signing path.
type CannedPrevOutputFetcher struct {
	out wire.TxOut
}

// NewCannedPrevOutputFetcher wraps a script/amount pair.
func NewCannedPrevOutputFetcher(pkScript []byte, value uint64) *CannedPrevOutputFetcher {
	return &CannedPrevOutputFetcher{out: wire.TxOut{Value: value, PkScript: pkScript}}
}

// FetchPrevOutput returns the canned output.
func (f *CannedPrevOutputFetcher) FetchPrevOutput(wire.OutPoint) *wire.TxOut {
	return &f.out
}

// MultiPrevOutFetcher maps outpoints to outputs.
type MultiPrevOutFetcher struct {
	prevOuts map[wire.OutPoint]*wire.TxOut
}

// NewMultiPrevOutFetcher returns an empty fetcher.
func NewMultiPrevOutFetcher() *MultiPrevOutFetcher {
	return &MultiPrevOutFetcher{prevOuts: make(map[wire.OutPoint]*wire.TxOut)}
}

// AddPrevOut registers the output spent by op.
func (f *MultiPrevOutFetcher) AddPrevOut(op wire.OutPoint, out *wire.TxOut) {
	f.prevOuts[op] = out
}

// FetchPrevOutput looks up the output spent by op.
func (f *MultiPrevOutFetcher) FetchPrevOutput(op wire.OutPoint) *wire.TxOut {
	return f.prevOuts[op]
}

// TxSigHashes caches the intermediate hashes shared by every input of a
// transaction. The single-SHA variants serve BIP-341, the double-SHA
// variants BIP-143. The caches are pure functions of the transaction and
// the spent outputs; mutate the transaction and they must be rebuilt.
type TxSigHashes struct {
	HashPrevOutsV0 chainhash.Hash
	HashSequenceV0 chainhash.Hash
	HashOutputsV0  chainhash.Hash

	ShaPrevOuts      chainhash.Hash
	ShaSequences     chainhash.Hash
	ShaOutputs       chainhash.Hash
	ShaAmounts       chainhash.Hash
	ShaScriptPubKeys chainhash.Hash

	haveV0 bool
	haveV1 bool
}

// NewTxSigHashes precomputes the caches. prevOuts may be nil when only
// the v0 hashes are needed; the taproot hashes are then unavailable.
func NewTxSigHashes(tx *wire.MsgTx, prevOuts PrevOutputFetcher) *TxSigHashes {
	sh := &TxSigHashes{}

	var prevBuf, seqBuf bytes.Buffer
	for _, ti := range tx.TxIn {
		prevBuf.Write(ti.PreviousOutPoint.Hash[:])
		_ = binary.Write(&prevBuf, binary.LittleEndian, ti.PreviousOutPoint.Index)
		_ = binary.Write(&seqBuf, binary.LittleEndian, ti.Sequence)
	}
	var outBuf bytes.Buffer
	for _, to := range tx.TxOut {
		_ = wire.WriteTxOut(&outBuf, to)
	}

	sh.ShaPrevOuts = sha256.Sum256(prevBuf.Bytes())
	sh.ShaSequences = sha256.Sum256(seqBuf.Bytes())
	sh.ShaOutputs = sha256.Sum256(outBuf.Bytes())
	sh.HashPrevOutsV0 = chainhash.DoubleHashH(prevBuf.Bytes())
	sh.HashSequenceV0 = chainhash.DoubleHashH(seqBuf.Bytes())
	sh.HashOutputsV0 = chainhash.DoubleHashH(outBuf.Bytes())
	sh.haveV0 = true

	if prevOuts != nil {
		var amtBuf, spkBuf bytes.Buffer
		ok := true
		for _, ti := range tx.TxIn {
			prev := prevOuts.FetchPrevOutput(ti.PreviousOutPoint)
			if prev == nil {
				ok = false
				break
			}
			_ = binary.Write(&amtBuf, binary.LittleEndian, prev.Value)
			_ = wire.WriteVarBytes(&spkBuf, prev.PkScript)
		}
		if ok {
			sh.ShaAmounts = sha256.Sum256(amtBuf.Bytes())
			sh.ShaScriptPubKeys = sha256.Sum256(spkBuf.Bytes())
			sh.haveV1 = true
		}
	}
	return sh
}

// CalcSignatureHash computes the legacy signature hash for the input at
// idx with the given script code.
func CalcSignatureHash(scriptCode []byte, hashType SigHashType, tx *wire.MsgTx, idx int) ([]byte, error) {
	if idx < 0 || idx >= len(tx.TxIn) {
		return nil, fmt.Errorf("input index %d out of range", idx)
	}

	// The reference client signs 00..01 when SINGLE has no matching
	// output instead of failing.
	if hashType.Base() == SigHashSingle && idx >= len(tx.TxOut) {
		var one [32]byte
		one[31] = 0x01
		return one[:], nil
	}

	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.LittleEndian, uint32(tx.Version))

	if hashType.AnyOneCanPay() {
		_ = wire.WriteVarInt(&buf, 1)
		_ = wire.WriteTxIn(&buf, tx.TxIn[idx], scriptCode)
	} else {
		_ = wire.WriteVarInt(&buf, uint64(len(tx.TxIn)))
		for i, ti := range tx.TxIn {
			if i == idx {
				_ = wire.WriteTxIn(&buf, ti, scriptCode)
				continue
			}
			masked := *ti
			masked.SignatureScript = nil
			if hashType.Base() == SigHashNone || hashType.Base() == SigHashSingle {
				masked.Sequence = 0
			}
			_ = wire.WriteTxIn(&buf, &masked, []byte{})
		}
	}

	switch hashType.Base() {
	case SigHashNone:
		_ = wire.WriteVarInt(&buf, 0)
	case SigHashSingle:
		// Outputs before ours serialize as blank placeholders so the
		// digest still commits to the index.
		_ = wire.WriteVarInt(&buf, uint64(idx+1))
		empty := wire.TxOut{Value: 0xffffffffffffffff}
		for i := 0; i < idx; i++ {
			_ = wire.WriteTxOut(&buf, &empty)
		}
		_ = wire.WriteTxOut(&buf, tx.TxOut[idx])
	default:
		_ = wire.WriteVarInt(&buf, uint64(len(tx.TxOut)))
		for _, to := range tx.TxOut {
			_ = wire.WriteTxOut(&buf, to)
		}
	}

	_ = binary.Write(&buf, binary.LittleEndian, tx.LockTime)
	_ = binary.Write(&buf, binary.LittleEndian, uint32(hashType))
	log.Tracef("legacy sighash for input %d type %#x", idx, hashType)
	return hashes.DoubleSHA256(buf.Bytes()), nil
}

// CalcWitnessSigHash computes the BIP-143 signature hash for segwit v0
// inputs.
func CalcWitnessSigHash(scriptCode []byte, sigHashes *TxSigHashes, hashType SigHashType, tx *wire.MsgTx, idx int, value uint64) ([]byte, error) {
	if idx < 0 || idx >= len(tx.TxIn) {
		return nil, fmt.Errorf("input index %d out of range", idx)
	}
	ti := tx.TxIn[idx]
	var zero chainhash.Hash

	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.LittleEndian, uint32(tx.Version))

	if hashType.AnyOneCanPay() {
		buf.Write(zero[:])
	} else {
		buf.Write(sigHashes.HashPrevOutsV0[:])
	}
	if hashType.AnyOneCanPay() || hashType.Base() == SigHashNone ||
		hashType.Base() == SigHashSingle {
		buf.Write(zero[:])
	} else {
		buf.Write(sigHashes.HashSequenceV0[:])
	}

	buf.Write(ti.PreviousOutPoint.Hash[:])
	_ = binary.Write(&buf, binary.LittleEndian, ti.PreviousOutPoint.Index)
	_ = wire.WriteVarBytes(&buf, scriptCode)
	_ = binary.Write(&buf, binary.LittleEndian, value)
	_ = binary.Write(&buf, binary.LittleEndian, ti.Sequence)

	switch {
	case hashType.Base() == SigHashNone:
		buf.Write(zero[:])
	case hashType.Base() == SigHashSingle:
		if idx < len(tx.TxOut) {
			buf.Write(hashes.DoubleSHA256(tx.TxOut[idx].Serialize()))
		} else {
			buf.Write(zero[:])
		}
	default:
		buf.Write(sigHashes.HashOutputsV0[:])
	}

	_ = binary.Write(&buf, binary.LittleEndian, tx.LockTime)
	_ = binary.Write(&buf, binary.LittleEndian, uint32(hashType))
	log.Tracef("witness v0 sighash for input %d type %#x", idx, hashType)
	return hashes.DoubleSHA256(buf.Bytes()), nil
}

// CalcTaprootSignatureHash computes the BIP-341 signature hash. leafHash
// is nil for key-path spends; for script-path spends it selects the
// tapscript message extension.
func CalcTaprootSignatureHash(sigHashes *TxSigHashes, hashType SigHashType, tx *wire.MsgTx, idx int, prevOuts PrevOutputFetcher, leafHash []byte) ([]byte, error) {
	switch hashType {
	case SigHashDefault, SigHashAll, SigHashNone, SigHashSingle,
		SigHashAnyOneCanPay | SigHashAll,
		SigHashAnyOneCanPay | SigHashNone,
		SigHashAnyOneCanPay | SigHashSingle:
	default:
		return nil, ErrInvalidSigHashType
	}
	if idx < 0 || idx >= len(tx.TxIn) {
		return nil, fmt.Errorf("input index %d out of range", idx)
	}
	if !sigHashes.haveV1 {
		return nil, errors.New("taproot sighash requires all prevouts")
	}

	var buf bytes.Buffer
	buf.WriteByte(0x00) // sighash epoch
	buf.WriteByte(byte(hashType))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(tx.Version))
	_ = binary.Write(&buf, binary.LittleEndian, tx.LockTime)

	if !hashType.AnyOneCanPay() {
		buf.Write(sigHashes.ShaPrevOuts[:])
		buf.Write(sigHashes.ShaAmounts[:])
		buf.Write(sigHashes.ShaScriptPubKeys[:])
		buf.Write(sigHashes.ShaSequences[:])
	}
	if hashType.Base() != SigHashNone && hashType.Base() != SigHashSingle {
		buf.Write(sigHashes.ShaOutputs[:])
	}

	var spendType byte
	if leafHash != nil {
		spendType = 2 // ext_flag 1, no annex
	}
	buf.WriteByte(spendType)

	ti := tx.TxIn[idx]
	if hashType.AnyOneCanPay() {
		prev := prevOuts.FetchPrevOutput(ti.PreviousOutPoint)
		if prev == nil {
			return nil, errors.New("missing prevout for input")
		}
		buf.Write(ti.PreviousOutPoint.Hash[:])
		_ = binary.Write(&buf, binary.LittleEndian, ti.PreviousOutPoint.Index)
		_ = binary.Write(&buf, binary.LittleEndian, prev.Value)
		_ = wire.WriteVarBytes(&buf, prev.PkScript)
		_ = binary.Write(&buf, binary.LittleEndian, ti.Sequence)
	} else {
		_ = binary.Write(&buf, binary.LittleEndian, uint32(idx))
	}

	if hashType.Base() == SigHashSingle {
		if idx >= len(tx.TxOut) {
			return nil, fmt.Errorf("no output %d for sighash single", idx)
		}
		sum := sha256.Sum256(tx.TxOut[idx].Serialize())
		buf.Write(sum[:])
	}

	if leafHash != nil {
		buf.Write(leafHash)
		buf.WriteByte(0x00)                       // key version
		buf.Write([]byte{0xff, 0xff, 0xff, 0xff}) // codesep position
	}

	log.Tracef("taproot sighash for input %d type %#x scriptPath=%v",
		idx, hashType, leafHash != nil)
	return hashes.TaggedHash("TapSighash", buf.Bytes()), nil
}
