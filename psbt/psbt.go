// Copyright (c) 2025 The embit developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package psbt implements partially signed Bitcoin transactions per
// BIP-174 and BIP-370: parsing, serialization, signing over an in-memory
// transaction, and a streaming view for transactions too large to hold
// in memory.
package psbt

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/diybitcoinhardware/embit/hdkeychain"
	"github.com/diybitcoinhardware/embit/wire"
)

// Magic is the PSBT file prefix.
var Magic = []byte("psbt\xff")

// Global scope field types.
const (
	GlobalUnsignedTx       = 0x00
	GlobalXpubField        = 0x01
	GlobalTxVersion        = 0x02
	GlobalFallbackLocktime = 0x03
	GlobalInputCount       = 0x04
	GlobalOutputCount      = 0x05
	GlobalTxModifiable     = 0x06
	GlobalVersion          = 0xfb
)

// GlobalXpub is a global extended public key with its origin.
type GlobalXpub struct {
	Xpub   *hdkeychain.ExtendedKey
	Origin KeyOrigin
}

// Packet is a parsed PSBT.
type Packet struct {
	// Tx is the global unsigned transaction. Set for version 0, nil
	// for version 2.
	Tx *wire.MsgTx

	// Version is the PSBT version, 0 or 2.
	Version uint32

	// Version 2 global fields.
	TxVersion        *int32
	FallbackLocktime *uint32
	TxModifiable     *byte

	Xpubs   []GlobalXpub
	Unknown []kv

	Inputs  []*Input
	Outputs []*Output
}

// New wraps an unsigned transaction in a version 0 packet with empty
// scopes.
func New(tx *wire.MsgTx) *Packet {
	p := &Packet{Tx: tx}
	p.Inputs = make([]*Input, len(tx.TxIn))
	p.Outputs = make([]*Output, len(tx.TxOut))
	for i := range p.Inputs {
		p.Inputs[i] = &Input{}
	}
	for i := range p.Outputs {
		p.Outputs[i] = &Output{}
	}
	return p
}

// Parse reads a binary PSBT.
func Parse(b []byte) (*Packet, error) {
	return ReadFrom(bytes.NewReader(b))
}

// FromString accepts the base64 text form, or hex when the string starts
// with the hex-encoded magic.
func FromString(s string) (*Packet, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, hex.EncodeToString(Magic)) {
		raw, err := hex.DecodeString(s)
		if err != nil {
			return nil, err
		}
		return Parse(raw)
	}
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}
	return Parse(raw)
}

// ReadFrom parses a PSBT from a stream.
func ReadFrom(r io.Reader) (*Packet, error) {
	magic := make([]byte, len(Magic))
	if _, err := io.ReadFull(r, magic); err != nil {
		return nil, err
	}
	if !bytes.Equal(magic, Magic) {
		return nil, ErrInvalidMagic
	}

	p := &Packet{}
	seen := dupSet{}
	var inputCount, outputCount *uint64
	for {
		key, ok, err := readKey(r)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		if err := seen.add(key); err != nil {
			return nil, err
		}
		value, err := readValue(r)
		if err != nil {
			return nil, err
		}
		switch key[0] {
		case GlobalUnsignedTx:
			if len(key) != 1 {
				return nil, ErrInvalidField
			}
			tx := &wire.MsgTx{}
			if err := tx.Deserialize(bytes.NewReader(value)); err != nil {
				return nil, err
			}
			p.Tx = tx
		case GlobalXpubField:
			xpub, err := hdkeychain.ParseExtendedKey(key[1:])
			if err != nil {
				return nil, err
			}
			origin, err := ParseKeyOrigin(value)
			if err != nil {
				return nil, err
			}
			p.Xpubs = append(p.Xpubs, GlobalXpub{Xpub: xpub, Origin: *origin})
		case GlobalTxVersion:
			if len(key) != 1 || len(value) != 4 {
				return nil, ErrInvalidField
			}
			v := int32(binary.LittleEndian.Uint32(value))
			p.TxVersion = &v
		case GlobalFallbackLocktime:
			if len(key) != 1 || len(value) != 4 {
				return nil, ErrInvalidField
			}
			v := binary.LittleEndian.Uint32(value)
			p.FallbackLocktime = &v
		case GlobalInputCount:
			n, err := wire.ReadVarInt(bytes.NewReader(value))
			if err != nil {
				return nil, err
			}
			inputCount = &n
		case GlobalOutputCount:
			n, err := wire.ReadVarInt(bytes.NewReader(value))
			if err != nil {
				return nil, err
			}
			outputCount = &n
		case GlobalTxModifiable:
			if len(key) != 1 || len(value) != 1 {
				return nil, ErrInvalidField
			}
			v := value[0]
			p.TxModifiable = &v
		case GlobalVersion:
			if len(key) != 1 || len(value) != 4 {
				return nil, ErrInvalidField
			}
			p.Version = binary.LittleEndian.Uint32(value)
		default:
			p.Unknown = append(p.Unknown, kv{Key: key, Value: value})
		}
	}

	var nIn, nOut int
	switch {
	case p.Version == 2:
		if p.Tx != nil {
			return nil, fmt.Errorf("%w: v2 PSBT carries a global transaction", ErrInvalidField)
		}
		if p.TxVersion == nil || inputCount == nil || outputCount == nil {
			return nil, ErrMissingTx
		}
		nIn = int(*inputCount)
		nOut = int(*outputCount)
	case p.Tx != nil:
		nIn = len(p.Tx.TxIn)
		nOut = len(p.Tx.TxOut)
	default:
		return nil, ErrMissingTx
	}

	p.Inputs = make([]*Input, nIn)
	for i := range p.Inputs {
		in, err := readInput(r)
		if err != nil {
			return nil, err
		}
		p.Inputs[i] = in
	}
	p.Outputs = make([]*Output, nOut)
	for i := range p.Outputs {
		out, err := readOutput(r)
		if err != nil {
			return nil, err
		}
		p.Outputs[i] = out
	}
	return p, nil
}

// Serialize returns the binary encoding.
func (p *Packet) Serialize() []byte {
	var buf bytes.Buffer
	_ = p.WriteTo(&buf)
	return buf.Bytes()
}

// WriteTo writes the binary encoding to w.
func (p *Packet) WriteTo(w io.Writer) error {
	if _, err := w.Write(Magic); err != nil {
		return err
	}
	if p.Version == 2 {
		var v [4]byte
		binary.LittleEndian.PutUint32(v[:], uint32(*p.TxVersion))
		if err := writeKV(w, singleKey(GlobalTxVersion), v[:]); err != nil {
			return err
		}
		if p.FallbackLocktime != nil {
			binary.LittleEndian.PutUint32(v[:], *p.FallbackLocktime)
			if err := writeKV(w, singleKey(GlobalFallbackLocktime), v[:]); err != nil {
				return err
			}
		}
		if err := writeKV(w, singleKey(GlobalInputCount), compactBytes(uint64(len(p.Inputs)))); err != nil {
			return err
		}
		if err := writeKV(w, singleKey(GlobalOutputCount), compactBytes(uint64(len(p.Outputs)))); err != nil {
			return err
		}
		if p.TxModifiable != nil {
			if err := writeKV(w, singleKey(GlobalTxModifiable), []byte{*p.TxModifiable}); err != nil {
				return err
			}
		}
	} else {
		var buf bytes.Buffer
		_ = p.Tx.SerializeNoWitness(&buf)
		if err := writeKV(w, singleKey(GlobalUnsignedTx), buf.Bytes()); err != nil {
			return err
		}
	}
	for _, gx := range p.Xpubs {
		if err := writeKV(w, keyWithPrefix(GlobalXpubField, gx.Xpub.Serialize()), gx.Origin.Serialize()); err != nil {
			return err
		}
	}
	if p.Version == 2 {
		var v [4]byte
		binary.LittleEndian.PutUint32(v[:], p.Version)
		if err := writeKV(w, singleKey(GlobalVersion), v[:]); err != nil {
			return err
		}
	}
	for _, u := range p.Unknown {
		if err := writeKV(w, u.Key, u.Value); err != nil {
			return err
		}
	}
	if err := writeSeparator(w); err != nil {
		return err
	}
	for _, in := range p.Inputs {
		if err := in.write(w, p.Version); err != nil {
			return err
		}
	}
	for _, out := range p.Outputs {
		if err := out.write(w, p.Version); err != nil {
			return err
		}
	}
	return nil
}

// String returns the base64 text form.
func (p *Packet) String() string {
	return base64.StdEncoding.EncodeToString(p.Serialize())
}

// PrevOut returns the outpoint spent by input i, from the global
// transaction for v0 or the per-input fields for v2.
func (p *Packet) PrevOut(i int) (*wire.OutPoint, error) {
	if i < 0 || i >= len(p.Inputs) {
		return nil, ErrInvalidScopeIndex
	}
	if p.Tx != nil {
		return &p.Tx.TxIn[i].PreviousOutPoint, nil
	}
	in := p.Inputs[i]
	if in.PreviousTxid == nil || in.OutputIndex == nil {
		return nil, ErrMissingTx
	}
	return &wire.OutPoint{Hash: *in.PreviousTxid, Index: *in.OutputIndex}, nil
}

// UnsignedTx materializes the unsigned transaction. For v0 it returns
// the embedded transaction; for v2 it assembles one from the per-scope
// fields.
func (p *Packet) UnsignedTx() (*wire.MsgTx, error) {
	if p.Tx != nil {
		return p.Tx, nil
	}
	if p.TxVersion == nil {
		return nil, ErrMissingTx
	}
	tx := &wire.MsgTx{Version: *p.TxVersion}
	if p.FallbackLocktime != nil {
		tx.LockTime = *p.FallbackLocktime
	}
	for _, in := range p.Inputs {
		if in.PreviousTxid == nil || in.OutputIndex == nil {
			return nil, ErrMissingTx
		}
		ti := &wire.TxIn{
			PreviousOutPoint: wire.OutPoint{Hash: *in.PreviousTxid, Index: *in.OutputIndex},
			Sequence:         wire.MaxTxInSequenceNum,
		}
		if in.Sequence != nil {
			ti.Sequence = *in.Sequence
		}
		tx.AddTxIn(ti)
	}
	for _, out := range p.Outputs {
		if out.Amount == nil || out.Script == nil {
			return nil, ErrMissingTx
		}
		tx.AddTxOut(&wire.TxOut{Value: *out.Amount, PkScript: out.Script})
	}
	return tx, nil
}

// InputUtxo resolves the spent output of input i, preferring the
// witness utxo and validating the non-witness one against the input's
// txid.
func (p *Packet) InputUtxo(i int) (*wire.TxOut, error) {
	op, err := p.PrevOut(i)
	if err != nil {
		return nil, err
	}
	h := op.Hash
	var txid *chainhash.Hash
	if p.Inputs[i].NonWitnessUtxo != nil {
		txid = &h
	}
	return p.Inputs[i].Utxo(txid, op.Index)
}

// ExtractTx builds the final network transaction from finalized scopes.
// Every input must carry a final scriptSig or witness.
func (p *Packet) ExtractTx() (*wire.MsgTx, error) {
	unsigned, err := p.UnsignedTx()
	if err != nil {
		return nil, err
	}
	tx := unsigned.Copy()
	for i, in := range p.Inputs {
		if in.FinalScriptSig == nil && in.FinalScriptWitness == nil {
			return nil, fmt.Errorf("%w: input %d", ErrIncompleteSignatures, i)
		}
		tx.TxIn[i].SignatureScript = in.FinalScriptSig
		tx.TxIn[i].Witness = in.FinalScriptWitness
	}
	return tx, nil
}
