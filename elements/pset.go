// Copyright (c) 2025 The embit developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package elements

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/diybitcoinhardware/embit/elements/confidential"
	"github.com/diybitcoinhardware/embit/hdkeychain"
	"github.com/diybitcoinhardware/embit/psbt"
	"github.com/diybitcoinhardware/embit/txscript"
	"github.com/diybitcoinhardware/embit/wire"
)

// PSETMagic is the PSET file prefix.
var PSETMagic = []byte("pset\xff")

// Elements proprietary key prefixes: \xfc\x08elements for version 0
// scopes and \xfc\x04pset for version 2 output scopes.
var (
	elementsPrefix = append([]byte{0xfc, 0x08}, []byte("elements")...)
	psetPrefix     = append([]byte{0xfc, 0x04}, []byte("pset")...)
)

func elementsKey(sub byte) []byte {
	return append(append([]byte(nil), elementsPrefix...), sub)
}

func psetKey(sub byte) []byte {
	return append(append([]byte(nil), psetPrefix...), sub)
}

// Version 2 output field subtypes under the \xfc\x04pset prefix.
const (
	psetOutValueCommitment = 0x01
	psetOutAsset           = 0x02
	psetOutAssetCommitment = 0x03
	psetOutRangeProof      = 0x04
	psetOutSurjectionProof = 0x05
	psetOutBlindingPubKey  = 0x06
	psetOutEcdhPubKey      = 0x07
)

var (
	// ErrInvalidPSET is returned for malformed PSET containers.
	ErrInvalidPSET = errors.New("invalid PSET")

	// ErrCommitmentCheck is returned when stored commitments disagree
	// with the recomputed ones.
	ErrCommitmentCheck = errors.New("commitment verification failed")
)

// Input is an Elements PSET input scope: the Bitcoin fields plus the
// unblinded value and asset with their blinding factors. The elements
// fields keep their \xfc\x08elements keys in both versions; version 2
// additionally carries the previous txid/vout/sequence through the
// embedded scope's own fields.
type Input struct {
	psbt.Input

	Value               *uint64
	ValueBlindingFactor []byte
	Asset               []byte
	AssetBlindingFactor []byte

	// NonWitnessUtxo shadows the embedded field with the confidential
	// transaction type.
	NonWitnessUtxo *Transaction

	// WitnessUtxo is the confidential output being spent.
	WitnessUtxo *TxOut
}

// parseInput reads a PSET input scope. The confidential utxo fields and
// the elements proprietary keys are intercepted before the Bitcoin
// field parser sees the rest.
func parseInput(r io.Reader) (*Input, error) {
	pairs, err := psbt.ReadScope(r)
	if err != nil {
		return nil, err
	}
	in := &Input{}
	rest := pairs[:0]
	for _, p := range pairs {
		key, value := p[0], p[1]
		switch {
		case len(key) == 1 && key[0] == psbt.InNonWitnessUtxo:
			tx := &Transaction{}
			if err := tx.Deserialize(bytes.NewReader(value)); err != nil {
				return nil, err
			}
			in.NonWitnessUtxo = tx
		case len(key) == 1 && key[0] == psbt.InWitnessUtxo:
			out, err := readTxOut(bytes.NewReader(value))
			if err != nil {
				return nil, err
			}
			in.WitnessUtxo = out
		case bytes.Equal(key, elementsKey(0x00)):
			if len(value) != 8 {
				return nil, psbt.ErrInvalidField
			}
			v := binary.LittleEndian.Uint64(value)
			in.Value = &v
		case bytes.Equal(key, elementsKey(0x01)):
			in.ValueBlindingFactor = value
		case bytes.Equal(key, elementsKey(0x02)):
			in.Asset = value
		case bytes.Equal(key, elementsKey(0x03)):
			in.AssetBlindingFactor = value
		default:
			rest = append(rest, p)
		}
	}
	base, err := psbt.InputFromPairs(rest)
	if err != nil {
		return nil, err
	}
	in.Input = *base
	return in, nil
}

// write serializes the scope: confidential utxos first, then the
// Bitcoin fields with the elements keys inserted ahead of any unknown
// ones. version selects whether the embedded scope emits its v2
// fields.
func (in *Input) write(w io.Writer, version uint32) error {
	if in.NonWitnessUtxo != nil {
		if err := wire.WriteVarBytes(w, []byte{psbt.InNonWitnessUtxo}); err != nil {
			return err
		}
		if err := wire.WriteVarBytes(w, in.NonWitnessUtxo.Bytes()); err != nil {
			return err
		}
	}
	if in.WitnessUtxo != nil {
		if err := wire.WriteVarBytes(w, []byte{psbt.InWitnessUtxo}); err != nil {
			return err
		}
		if err := wire.WriteVarBytes(w, in.WitnessUtxo.Serialize()); err != nil {
			return err
		}
	}
	cp := in.Input
	var extras [][2][]byte
	if in.Value != nil {
		var v [8]byte
		binary.LittleEndian.PutUint64(v[:], *in.Value)
		extras = append(extras, [2][]byte{elementsKey(0x00), v[:]})
	}
	if in.ValueBlindingFactor != nil {
		extras = append(extras, [2][]byte{elementsKey(0x01), in.ValueBlindingFactor})
	}
	if in.Asset != nil {
		extras = append(extras, [2][]byte{elementsKey(0x02), in.Asset})
	}
	if in.AssetBlindingFactor != nil {
		extras = append(extras, [2][]byte{elementsKey(0x03), in.AssetBlindingFactor})
	}
	if len(extras) > 0 {
		cp.PrependUnknown(extras...)
	}
	return cp.WriteTo(w, version)
}

// Output is an Elements PSET output scope with commitments and proofs.
// Version 0 stores them under \xfc\x08elements subtypes, version 2
// under \xfc\x04pset; both parse into the same fields.
type Output struct {
	psbt.Output

	ValueCommitment     []byte
	ValueBlindingFactor []byte
	AssetCommitment     []byte
	AssetBlindingFactor []byte
	RangeProof          []byte
	SurjectionProof     []byte
	NonceCommitment     []byte

	// Asset is the explicit 32-byte asset tag of a version 2 output;
	// version 0 reads it from the global transaction instead.
	Asset []byte

	// BlindingPubKey is the receiver blinding key of a version 2
	// output.
	BlindingPubKey []byte
}

func parseOutput(r io.Reader) (*Output, error) {
	pairs, err := psbt.ReadScope(r)
	if err != nil {
		return nil, err
	}
	out := &Output{}
	rest := pairs[:0]
	for _, p := range pairs {
		key, value := p[0], p[1]
		switch {
		case bytes.Equal(key, elementsKey(0x00)):
			out.ValueCommitment = value
		case bytes.Equal(key, elementsKey(0x01)):
			out.ValueBlindingFactor = value
		case bytes.Equal(key, elementsKey(0x02)):
			out.AssetCommitment = value
		case bytes.Equal(key, elementsKey(0x03)):
			out.AssetBlindingFactor = value
		case bytes.Equal(key, elementsKey(0x04)):
			out.RangeProof = value
		case bytes.Equal(key, elementsKey(0x05)):
			out.SurjectionProof = value
		case bytes.Equal(key, elementsKey(0x07)):
			out.NonceCommitment = value
		case bytes.Equal(key, psetKey(psetOutValueCommitment)):
			out.ValueCommitment = value
		case bytes.Equal(key, psetKey(psetOutAsset)):
			if len(value) != 32 {
				return nil, psbt.ErrInvalidField
			}
			out.Asset = value
		case bytes.Equal(key, psetKey(psetOutAssetCommitment)):
			out.AssetCommitment = value
		case bytes.Equal(key, psetKey(psetOutRangeProof)):
			out.RangeProof = value
		case bytes.Equal(key, psetKey(psetOutSurjectionProof)):
			out.SurjectionProof = value
		case bytes.Equal(key, psetKey(psetOutBlindingPubKey)):
			out.BlindingPubKey = value
		case bytes.Equal(key, psetKey(psetOutEcdhPubKey)):
			out.NonceCommitment = value
		default:
			rest = append(rest, p)
		}
	}
	base, err := psbt.OutputFromPairs(rest)
	if err != nil {
		return nil, err
	}
	out.Output = *base
	return out, nil
}

func (out *Output) write(w io.Writer, version uint32) error {
	cp := out.Output
	var extras [][2][]byte
	add := func(key []byte, v []byte) {
		if v != nil {
			extras = append(extras, [2][]byte{key, v})
		}
	}
	if version == 2 {
		add(psetKey(psetOutValueCommitment), out.ValueCommitment)
		add(psetKey(psetOutAsset), out.Asset)
		add(psetKey(psetOutAssetCommitment), out.AssetCommitment)
		add(psetKey(psetOutRangeProof), out.RangeProof)
		add(psetKey(psetOutSurjectionProof), out.SurjectionProof)
		add(psetKey(psetOutBlindingPubKey), out.BlindingPubKey)
		add(psetKey(psetOutEcdhPubKey), out.NonceCommitment)
		// The blinding factors have no pset-prefixed variant; they
		// keep their elements keys in both versions.
		add(elementsKey(0x01), out.ValueBlindingFactor)
		add(elementsKey(0x03), out.AssetBlindingFactor)
	} else {
		add(elementsKey(0x00), out.ValueCommitment)
		add(elementsKey(0x01), out.ValueBlindingFactor)
		add(elementsKey(0x02), out.AssetCommitment)
		add(elementsKey(0x03), out.AssetBlindingFactor)
		// Keys 04 and 05 historically serialize after the nonce.
		add(elementsKey(0x07), out.NonceCommitment)
		add(elementsKey(0x04), out.RangeProof)
		add(elementsKey(0x05), out.SurjectionProof)
	}
	if len(extras) > 0 {
		cp.PrependUnknown(extras...)
	}
	return cp.WriteTo(w, version)
}

// PSET is a partially signed Elements transaction. Version 0 carries a
// global confidential transaction; version 2 carries the transaction
// data in per-scope fields like a v2 PSBT.
type PSET struct {
	// Tx is the global transaction, set for version 0 only.
	Tx *Transaction

	// Version is the PSET version, 0 or 2.
	Version uint32

	// Version 2 global fields.
	TxVersion        *int32
	FallbackLocktime *uint32

	Xpubs   []psbt.GlobalXpub
	Unknown [][2][]byte

	Inputs  []*Input
	Outputs []*Output
}

// ParsePSET reads a binary PSET and verifies its commitments.
func ParsePSET(b []byte) (*PSET, error) {
	return ReadPSET(bytes.NewReader(b))
}

// PSETFromString accepts the base64 text form.
func PSETFromString(s string) (*PSET, error) {
	s = strings.TrimSpace(s)
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}
	return ParsePSET(raw)
}

// ReadPSET parses a PSET from a stream.
func ReadPSET(r io.Reader) (*PSET, error) {
	magic := make([]byte, len(PSETMagic))
	if _, err := io.ReadFull(r, magic); err != nil {
		return nil, err
	}
	if !bytes.Equal(magic, PSETMagic) {
		return nil, fmt.Errorf("%w: bad magic", ErrInvalidPSET)
	}

	p := &PSET{}
	var inputCount, outputCount *uint64
	for {
		key, err := wire.ReadVarBytes(r, 1<<20, "pset key")
		if err != nil {
			return nil, err
		}
		if len(key) == 0 {
			break
		}
		value, err := wire.ReadVarBytes(r, 1<<24, "pset value")
		if err != nil {
			return nil, err
		}
		switch {
		case len(key) == 1 && key[0] == 0x00:
			if p.Tx != nil {
				return nil, fmt.Errorf("%w: duplicated transaction", ErrInvalidPSET)
			}
			tx := &Transaction{}
			if err := tx.Deserialize(bytes.NewReader(value)); err != nil {
				return nil, err
			}
			p.Tx = tx
		case key[0] == 0x01:
			xpub, err := hdkeychain.ParseExtendedKey(key[1:])
			if err != nil {
				return nil, err
			}
			origin, err := psbt.ParseKeyOrigin(value)
			if err != nil {
				return nil, err
			}
			p.Xpubs = append(p.Xpubs, psbt.GlobalXpub{Xpub: xpub, Origin: *origin})
		case len(key) == 1 && key[0] == 0x02:
			if len(value) != 4 {
				return nil, psbt.ErrInvalidField
			}
			v := int32(binary.LittleEndian.Uint32(value))
			p.TxVersion = &v
		case len(key) == 1 && key[0] == 0x03:
			if len(value) != 4 {
				return nil, psbt.ErrInvalidField
			}
			v := binary.LittleEndian.Uint32(value)
			p.FallbackLocktime = &v
		case len(key) == 1 && key[0] == 0x04:
			n, err := wire.ReadVarInt(bytes.NewReader(value))
			if err != nil {
				return nil, err
			}
			inputCount = &n
		case len(key) == 1 && key[0] == 0x05:
			n, err := wire.ReadVarInt(bytes.NewReader(value))
			if err != nil {
				return nil, err
			}
			outputCount = &n
		case len(key) == 1 && key[0] == 0xfb:
			if len(value) != 4 {
				return nil, psbt.ErrInvalidField
			}
			p.Version = binary.LittleEndian.Uint32(value)
		default:
			p.Unknown = append(p.Unknown, [2][]byte{key, value})
		}
	}

	var nIn, nOut int
	switch {
	case p.Version == 2:
		if p.Tx != nil {
			return nil, fmt.Errorf("%w: v2 PSET carries a global transaction", ErrInvalidPSET)
		}
		if p.TxVersion == nil || inputCount == nil || outputCount == nil {
			return nil, fmt.Errorf("%w: missing v2 global fields", ErrInvalidPSET)
		}
		nIn = int(*inputCount)
		nOut = int(*outputCount)
	case p.Tx != nil:
		nIn = len(p.Tx.TxIn)
		nOut = len(p.Tx.TxOut)
	default:
		return nil, fmt.Errorf("%w: missing transaction", ErrInvalidPSET)
	}

	p.Inputs = make([]*Input, nIn)
	for i := range p.Inputs {
		in, err := parseInput(r)
		if err != nil {
			return nil, err
		}
		p.Inputs[i] = in
	}
	p.Outputs = make([]*Output, nOut)
	for i := range p.Outputs {
		out, err := parseOutput(r)
		if err != nil {
			return nil, err
		}
		p.Outputs[i] = out
	}
	if err := p.Verify(); err != nil {
		return nil, err
	}
	return p, nil
}

// Serialize returns the binary encoding.
func (p *PSET) Serialize() []byte {
	var buf bytes.Buffer
	buf.Write(PSETMagic)
	if p.Version == 2 {
		var v [4]byte
		binary.LittleEndian.PutUint32(v[:], uint32(*p.TxVersion))
		_ = wire.WriteVarBytes(&buf, []byte{0x02})
		_ = wire.WriteVarBytes(&buf, v[:])
		if p.FallbackLocktime != nil {
			binary.LittleEndian.PutUint32(v[:], *p.FallbackLocktime)
			_ = wire.WriteVarBytes(&buf, []byte{0x03})
			_ = wire.WriteVarBytes(&buf, v[:])
		}
		var count bytes.Buffer
		_ = wire.WriteVarInt(&count, uint64(len(p.Inputs)))
		_ = wire.WriteVarBytes(&buf, []byte{0x04})
		_ = wire.WriteVarBytes(&buf, count.Bytes())
		count.Reset()
		_ = wire.WriteVarInt(&count, uint64(len(p.Outputs)))
		_ = wire.WriteVarBytes(&buf, []byte{0x05})
		_ = wire.WriteVarBytes(&buf, count.Bytes())
	} else {
		var tx bytes.Buffer
		_ = p.Tx.SerializeNoWitness(&tx)
		_ = wire.WriteVarBytes(&buf, []byte{0x00})
		_ = wire.WriteVarBytes(&buf, tx.Bytes())
	}
	for _, gx := range p.Xpubs {
		_ = wire.WriteVarBytes(&buf, append([]byte{0x01}, gx.Xpub.Serialize()...))
		_ = wire.WriteVarBytes(&buf, gx.Origin.Serialize())
	}
	if p.Version == 2 {
		var v [4]byte
		binary.LittleEndian.PutUint32(v[:], p.Version)
		_ = wire.WriteVarBytes(&buf, []byte{0xfb})
		_ = wire.WriteVarBytes(&buf, v[:])
	}
	for _, u := range p.Unknown {
		_ = wire.WriteVarBytes(&buf, u[0])
		_ = wire.WriteVarBytes(&buf, u[1])
	}
	buf.WriteByte(0x00)
	for _, in := range p.Inputs {
		_ = in.write(&buf, p.Version)
	}
	for _, out := range p.Outputs {
		_ = out.write(&buf, p.Version)
	}
	return buf.Bytes()
}

// String returns the base64 text form.
func (p *PSET) String() string {
	return base64.StdEncoding.EncodeToString(p.Serialize())
}

// UnsignedTx materializes the unsigned transaction: the global one for
// version 0, or one assembled from the per-scope fields for version 2.
func (p *PSET) UnsignedTx() (*Transaction, error) {
	if p.Tx != nil {
		return p.Tx, nil
	}
	if p.TxVersion == nil {
		return nil, fmt.Errorf("%w: missing transaction", ErrInvalidPSET)
	}
	tx := &Transaction{Version: *p.TxVersion}
	if p.FallbackLocktime != nil {
		tx.LockTime = *p.FallbackLocktime
	}
	for _, in := range p.Inputs {
		if in.PreviousTxid == nil || in.OutputIndex == nil {
			return nil, fmt.Errorf("%w: input missing prevout fields", ErrInvalidPSET)
		}
		ti := &TxIn{
			PreviousOutPoint: wire.OutPoint{Hash: *in.PreviousTxid, Index: *in.OutputIndex},
			Sequence:         wire.MaxTxInSequenceNum,
		}
		if in.Sequence != nil {
			ti.Sequence = *in.Sequence
		}
		tx.TxIn = append(tx.TxIn, ti)
	}
	for _, out := range p.Outputs {
		if out.Amount == nil || out.Script == nil || out.Asset == nil {
			return nil, fmt.Errorf("%w: output missing amount, script or asset", ErrInvalidPSET)
		}
		asset := make([]byte, 33)
		asset[0] = 0x01
		copy(asset[1:], out.Asset)
		tx.TxOut = append(tx.TxOut, &TxOut{
			Asset:    asset,
			Value:    ConfValue{Explicit: *out.Amount},
			PkScript: out.Script,
		})
	}
	return tx, nil
}

// Verify recomputes each blinded output's asset generator and value
// commitment from the stored blinding factors and compares against the
// stored commitments.
func (p *PSET) Verify() error {
	tx, err := p.UnsignedTx()
	if err != nil {
		return err
	}
	for i, vout := range tx.TxOut {
		out := p.Outputs[i]
		if out.NonceCommitment == nil {
			continue
		}
		if out.AssetBlindingFactor == nil || out.ValueBlindingFactor == nil {
			return fmt.Errorf("%w: output %d missing blinding factors", ErrCommitmentCheck, i)
		}
		if len(vout.Asset) != 33 {
			return fmt.Errorf("%w: output %d bad asset", ErrCommitmentCheck, i)
		}
		gen, err := confidential.GenerateBlinded(vout.Asset[1:], out.AssetBlindingFactor)
		if err != nil {
			return err
		}
		if !bytes.Equal(gen.Serialize(), out.AssetCommitment) {
			return fmt.Errorf("%w: output %d asset commitment", ErrCommitmentCheck, i)
		}
		commit, err := confidential.Commit(out.ValueBlindingFactor, vout.Value.Explicit, gen)
		if err != nil {
			return err
		}
		if !bytes.Equal(commit.Serialize(), out.ValueCommitment) {
			return fmt.Errorf("%w: output %d value commitment", ErrCommitmentCheck, i)
		}
	}
	return nil
}

// blindedTx returns a copy of the unsigned transaction with the stored
// output commitments substituted in, the form signatures commit to.
func (p *PSET) blindedTx() (*Transaction, error) {
	unsigned, err := p.UnsignedTx()
	if err != nil {
		return nil, err
	}
	tx := &Transaction{}
	if err := tx.Deserialize(bytes.NewReader(unsigned.Bytes())); err != nil {
		return nil, err
	}
	for i, out := range p.Outputs {
		if out.NonceCommitment == nil {
			continue
		}
		tx.TxOut[i].Nonce = out.NonceCommitment
		tx.TxOut[i].Value = ConfValue{Commitment: out.ValueCommitment}
		tx.TxOut[i].Asset = out.AssetCommitment
	}
	return tx, nil
}

// utxo resolves the output spent by input i.
func (p *PSET) utxo(i int, tx *Transaction) (*TxOut, error) {
	in := p.Inputs[i]
	if in.WitnessUtxo != nil {
		return in.WitnessUtxo, nil
	}
	if in.NonWitnessUtxo != nil {
		h := in.NonWitnessUtxo.TxHash()
		if !h.IsEqual(&tx.TxIn[i].PreviousOutPoint.Hash) {
			return nil, psbt.ErrInvalidUtxo
		}
		idx := tx.TxIn[i].PreviousOutPoint.Index
		if int(idx) >= len(in.NonWitnessUtxo.TxOut) {
			return nil, psbt.ErrInvalidUtxo
		}
		return in.NonWitnessUtxo.TxOut[idx], nil
	}
	return nil, psbt.ErrMissingUtxo
}

// SignWithRoot signs every input whose derivation fingerprint matches
// the root, inserting partial signatures. Returns the number of
// signatures added.
func (p *PSET) SignWithRoot(root *hdkeychain.ExtendedKey) (int, error) {
	fingerprint := root.Fingerprint()
	blinded, err := p.blindedTx()
	if err != nil {
		return 0, err
	}
	count := 0
	for i, in := range p.Inputs {
		utxo, err := p.utxo(i, blinded)
		if err != nil {
			continue
		}
		sc := utxo.PkScript
		if in.RedeemScript != nil {
			sc = in.RedeemScript
		}
		if in.WitnessScript != nil {
			sc = in.WitnessScript
		}
		if rewritten, err := txscript.P2PKHFromP2WPKH(sc); err == nil {
			sc = rewritten
		}
		segwit := in.WitnessScript != nil || in.WitnessUtxo != nil ||
			isSegwitScript(utxo.PkScript) ||
			(in.RedeemScript != nil && isSegwitScript(in.RedeemScript))

		var value []byte
		if utxo.Value.IsConfidential() {
			value = utxo.Value.Commitment
		} else {
			var b [9]byte
			b[0] = 0x01
			binary.BigEndian.PutUint64(b[1:], utxo.Value.Explicit)
			value = b[:]
		}

		var digest []byte
		if segwit {
			digest, err = blinded.SighashSegwit(i, sc, value, txscript.SigHashAll)
		} else {
			digest, err = blinded.SighashLegacy(i, sc, txscript.SigHashAll)
		}
		if err != nil {
			return count, err
		}

		for _, der := range in.Bip32Derivations {
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
			if !bytes.Equal(pub.SerializeCompressed(), der.PubKey) {
				return count, psbt.ErrDerivationMismatch
			}
			sig, err := priv.Sign(digest)
			if err != nil {
				return count, err
			}
			in.PartialSigs = append(in.PartialSigs, psbt.PartialSig{
				PubKey:    der.PubKey,
				Signature: append(sig.Serialize(), byte(txscript.SigHashAll)),
			})
			count++
		}
	}
	return count, nil
}

func isSegwitScript(script []byte) bool {
	switch txscript.GetScriptClass(script) {
	case txscript.WitnessV0PubKeyHashTy, txscript.WitnessV0ScriptHashTy:
		return true
	}
	return false
}
