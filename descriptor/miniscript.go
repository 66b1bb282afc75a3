// Copyright (c) 2025 The embit developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package descriptor

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/diybitcoinhardware/embit/ecc"
	"github.com/diybitcoinhardware/embit/txscript"
)

// TypeInfo is a miniscript correctness type: one of the four base types
// plus the z/o/n/d/u modifier set.
type TypeInfo struct {
	Base byte // 'B', 'V', 'K' or 'W'
	Z    bool // consumes no stack elements
	O    bool // consumes exactly one
	N    bool // nonzero top element guaranteed
	D    bool // dissatisfiable without signatures
	U    bool // pushes exactly 1 on satisfaction
}

// Fragment names. Wrappers are single characters applied with ':'.
const (
	frag0           = "0"
	frag1           = "1"
	fragPkK         = "pk_k"
	fragPkH         = "pk_h"
	fragPk          = "pk"
	fragPkh         = "pkh"
	fragOlder       = "older"
	fragAfter       = "after"
	fragSha256      = "sha256"
	fragHash256     = "hash256"
	fragRipemd160   = "ripemd160"
	fragHash160     = "hash160"
	fragAndor       = "andor"
	fragAndV        = "and_v"
	fragAndB        = "and_b"
	fragAndN        = "and_n"
	fragOrB         = "or_b"
	fragOrC         = "or_c"
	fragOrD         = "or_d"
	fragOrI         = "or_i"
	fragThresh      = "thresh"
	fragMulti       = "multi"
	fragSortedMulti = "sortedmulti"
	fragMultiA      = "multi_a"
	fragSortedMultiA = "sortedmulti_a"
)

const wrapperChars = "ascdvtjnlu"

// Miniscript is one node of a parsed miniscript expression.
type Miniscript struct {
	// Name is the fragment name, or a single wrapper character.
	Name string

	// Args are sub-expressions for combinators and wrappers.
	Args []*Miniscript

	// Keys holds key arguments for pk_k/pk_h/pk/pkh/multi variants.
	Keys []*Key

	// Num is the locktime value or threshold.
	Num uint32

	// Hash is the digest argument of the hash fragments.
	Hash []byte

	// Taproot marks expressions parsed inside tr(); keys serialize
	// x-only and multi_a replaces multi.
	Taproot bool
}

// parseMiniscript reads one miniscript expression from the scanner.
func parseMiniscript(sc *scanner, taproot bool) (*Miniscript, error) {
	name, delim := sc.readUntil("(:,)")
	if delim == ':' {
		// A wrapper chain like "asc:". Each character wraps the rest.
		sc.next()
		if name == "" {
			return nil, fmt.Errorf("%w: empty wrapper", ErrInvalidDescriptor)
		}
		for _, c := range name {
			if !strings.ContainsRune(wrapperChars, c) {
				return nil, fmt.Errorf("%w: unknown wrapper %q", ErrInvalidDescriptor, string(c))
			}
		}
		inner, err := parseMiniscript(sc, taproot)
		if err != nil {
			return nil, err
		}
		for i := len(name) - 1; i >= 0; i-- {
			inner = &Miniscript{
				Name:    string(name[i]),
				Args:    []*Miniscript{inner},
				Taproot: taproot,
			}
		}
		return inner, nil
	}

	m := &Miniscript{Name: name, Taproot: taproot}
	switch name {
	case frag0, frag1:
		return m, nil
	}
	if delim != '(' {
		return nil, fmt.Errorf("%w: expected ( after %q", ErrInvalidDescriptor, name)
	}
	sc.next()

	switch name {
	case fragPkK, fragPkH, fragPk, fragPkh:
		key, err := parseKey(sc, name == fragPkH || name == fragPkh)
		if err != nil {
			return nil, err
		}
		m.Keys = []*Key{key}

	case fragOlder, fragAfter:
		num, err := readNumber(sc)
		if err != nil {
			return nil, err
		}
		m.Num = num

	case fragSha256, fragHash256, fragRipemd160, fragHash160:
		want := 32
		if name == fragRipemd160 || name == fragHash160 {
			want = 20
		}
		raw, _ := sc.readUntil(")")
		h, err := hex.DecodeString(raw)
		if err != nil || len(h) != want {
			return nil, fmt.Errorf("%w: %s argument", ErrInvalidDescriptor, name)
		}
		m.Hash = h

	case fragAndor, fragAndV, fragAndB, fragAndN, fragOrB, fragOrC, fragOrD, fragOrI:
		n := 2
		if name == fragAndor {
			n = 3
		}
		for i := 0; i < n; i++ {
			if i > 0 {
				if !sc.expect(',') {
					return nil, fmt.Errorf("%w: expected , in %s", ErrInvalidDescriptor, name)
				}
			}
			arg, err := parseMiniscript(sc, taproot)
			if err != nil {
				return nil, err
			}
			m.Args = append(m.Args, arg)
		}

	case fragThresh:
		num, err := readNumber(sc)
		if err != nil {
			return nil, err
		}
		m.Num = num
		for sc.expect(',') {
			arg, err := parseMiniscript(sc, taproot)
			if err != nil {
				return nil, err
			}
			m.Args = append(m.Args, arg)
		}

	case fragMulti, fragSortedMulti, fragMultiA, fragSortedMultiA:
		num, err := readNumber(sc)
		if err != nil {
			return nil, err
		}
		m.Num = num
		for sc.expect(',') {
			key, err := parseKey(sc, false)
			if err != nil {
				return nil, err
			}
			m.Keys = append(m.Keys, key)
		}
		if int(m.Num) < 1 || int(m.Num) > len(m.Keys) {
			return nil, fmt.Errorf("%w: %s threshold %d of %d", ErrInvalidDescriptor, name, m.Num, len(m.Keys))
		}

	default:
		return nil, fmt.Errorf("%w: unknown fragment %q", ErrInvalidDescriptor, name)
	}

	if !sc.expect(')') {
		return nil, fmt.Errorf("%w: expected ) after %s", ErrInvalidDescriptor, name)
	}
	return m, nil
}

func readNumber(sc *scanner) (uint32, error) {
	raw, _ := sc.readUntil(",)")
	v, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: number %q", ErrInvalidDescriptor, raw)
	}
	return uint32(v), nil
}

// AllKeys collects the key arguments of the whole expression in parse
// order.
func (m *Miniscript) AllKeys() []*Key {
	keys := append([]*Key(nil), m.Keys...)
	for _, a := range m.Args {
		keys = append(keys, a.AllKeys()...)
	}
	return keys
}

// Derive substitutes every key's derivation template.
func (m *Miniscript) Derive(idx uint32, branchIdx int) (*Miniscript, error) {
	out := &Miniscript{
		Name:    m.Name,
		Num:     m.Num,
		Hash:    m.Hash,
		Taproot: m.Taproot,
	}
	for _, k := range m.Keys {
		dk, err := k.Derive(idx, branchIdx)
		if err != nil {
			return nil, err
		}
		out.Keys = append(out.Keys, dk)
	}
	for _, a := range m.Args {
		da, err := a.Derive(idx, branchIdx)
		if err != nil {
			return nil, err
		}
		out.Args = append(out.Args, da)
	}
	return out, nil
}

// typeError wraps a type failure with the node it happened at.
func (m *Miniscript) typeError(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s: %s", ErrTypeCheck, m.Name, fmt.Sprintf(format, args...))
}

// require checks a child against a base type and a modifier string such
// as "du".
func (m *Miniscript) require(child *Miniscript, base byte, mods string) (TypeInfo, error) {
	t, err := child.TypeCheck()
	if err != nil {
		return t, err
	}
	if t.Base != base {
		return t, m.typeError("child %s has base %c, want %c", child.Name, t.Base, base)
	}
	for _, mod := range mods {
		ok := false
		switch mod {
		case 'z':
			ok = t.Z
		case 'o':
			ok = t.O
		case 'n':
			ok = t.N
		case 'd':
			ok = t.D
		case 'u':
			ok = t.U
		}
		if !ok {
			return t, m.typeError("child %s lacks modifier %c", child.Name, mod)
		}
	}
	return t, nil
}

// TypeCheck computes the node's type, verifying every composition rule
// on the way.
func (m *Miniscript) TypeCheck() (TypeInfo, error) {
	switch m.Name {
	case frag0:
		return TypeInfo{Base: 'B', Z: true, U: true, D: true}, nil
	case frag1:
		return TypeInfo{Base: 'B', Z: true, U: true}, nil
	case fragPkK:
		return TypeInfo{Base: 'K', O: true, N: true, D: true, U: true}, nil
	case fragPkH:
		return TypeInfo{Base: 'K', N: true, D: true, U: true}, nil
	case fragPk:
		return TypeInfo{Base: 'B', O: true, N: true, D: true, U: true}, nil
	case fragPkh:
		return TypeInfo{Base: 'B', N: true, D: true, U: true}, nil
	case fragOlder, fragAfter:
		if m.Num < 1 || m.Num >= 0x80000000 {
			return TypeInfo{}, m.typeError("locktime %d out of range", m.Num)
		}
		return TypeInfo{Base: 'B', Z: true}, nil
	case fragSha256, fragHash256, fragRipemd160, fragHash160:
		return TypeInfo{Base: 'B', O: true, N: true, D: true, U: true}, nil

	case fragAndor:
		x, err := m.require(m.Args[0], 'B', "du")
		if err != nil {
			return TypeInfo{}, err
		}
		y, err := m.Args[1].TypeCheck()
		if err != nil {
			return TypeInfo{}, err
		}
		z, err := m.Args[2].TypeCheck()
		if err != nil {
			return TypeInfo{}, err
		}
		if y.Base != z.Base || (y.Base != 'B' && y.Base != 'K' && y.Base != 'V') {
			return TypeInfo{}, m.typeError("branches have bases %c and %c", y.Base, z.Base)
		}
		return TypeInfo{
			Base: y.Base,
			Z:    x.Z && y.Z && z.Z,
			O:    (x.Z && y.O && z.O) || (x.O && y.Z && z.Z),
			U:    y.U && z.U,
			D:    z.D,
		}, nil

	case fragAndV:
		x, err := m.require(m.Args[0], 'V', "")
		if err != nil {
			return TypeInfo{}, err
		}
		y, err := m.Args[1].TypeCheck()
		if err != nil {
			return TypeInfo{}, err
		}
		if y.Base != 'B' && y.Base != 'K' && y.Base != 'V' {
			return TypeInfo{}, m.typeError("right side has base %c", y.Base)
		}
		return TypeInfo{
			Base: y.Base,
			Z:    x.Z && y.Z,
			O:    (x.Z && y.O) || (x.O && y.Z),
			N:    x.N || (x.Z && y.N),
			U:    y.U,
		}, nil

	case fragAndB:
		x, err := m.require(m.Args[0], 'B', "")
		if err != nil {
			return TypeInfo{}, err
		}
		y, err := m.require(m.Args[1], 'W', "")
		if err != nil {
			return TypeInfo{}, err
		}
		return TypeInfo{
			Base: 'B',
			Z:    x.Z && y.Z,
			O:    (x.Z && y.O) || (x.O && y.Z),
			N:    x.N || (x.Z && y.N),
			D:    x.D && y.D,
			U:    true,
		}, nil

	case fragAndN:
		// and_n(X,Y) = andor(X,Y,0)
		x, err := m.require(m.Args[0], 'B', "du")
		if err != nil {
			return TypeInfo{}, err
		}
		y, err := m.require(m.Args[1], 'B', "")
		if err != nil {
			return TypeInfo{}, err
		}
		return TypeInfo{
			Base: 'B',
			Z:    x.Z && y.Z,
			O:    x.O && y.Z,
			U:    y.U,
			D:    true,
		}, nil

	case fragOrB:
		x, err := m.require(m.Args[0], 'B', "d")
		if err != nil {
			return TypeInfo{}, err
		}
		z, err := m.require(m.Args[1], 'W', "d")
		if err != nil {
			return TypeInfo{}, err
		}
		return TypeInfo{
			Base: 'B',
			Z:    x.Z && z.Z,
			O:    (x.Z && z.O) || (x.O && z.Z),
			D:    true,
			U:    true,
		}, nil

	case fragOrC:
		x, err := m.require(m.Args[0], 'B', "du")
		if err != nil {
			return TypeInfo{}, err
		}
		z, err := m.require(m.Args[1], 'V', "")
		if err != nil {
			return TypeInfo{}, err
		}
		return TypeInfo{
			Base: 'V',
			Z:    x.Z && z.Z,
			O:    x.O && z.Z,
		}, nil

	case fragOrD:
		x, err := m.require(m.Args[0], 'B', "du")
		if err != nil {
			return TypeInfo{}, err
		}
		z, err := m.require(m.Args[1], 'B', "")
		if err != nil {
			return TypeInfo{}, err
		}
		return TypeInfo{
			Base: 'B',
			Z:    x.Z && z.Z,
			O:    x.O && z.Z,
			D:    z.D,
			U:    z.U,
		}, nil

	case fragOrI:
		x, err := m.Args[0].TypeCheck()
		if err != nil {
			return TypeInfo{}, err
		}
		z, err := m.Args[1].TypeCheck()
		if err != nil {
			return TypeInfo{}, err
		}
		if x.Base != z.Base || (x.Base != 'B' && x.Base != 'K' && x.Base != 'V') {
			return TypeInfo{}, m.typeError("branches have bases %c and %c", x.Base, z.Base)
		}
		return TypeInfo{
			Base: x.Base,
			O:    x.Z && z.Z,
			U:    x.U && z.U,
			D:    x.D || z.D,
		}, nil

	case fragThresh:
		if len(m.Args) < 1 || int(m.Num) < 1 || int(m.Num) > len(m.Args) {
			return TypeInfo{}, m.typeError("threshold %d of %d", m.Num, len(m.Args))
		}
		allZ := true
		nonZ := 0
		for i, a := range m.Args {
			base := byte('W')
			if i == 0 {
				base = 'B'
			}
			t, err := m.require(a, base, "du")
			if err != nil {
				return TypeInfo{}, err
			}
			if !t.Z {
				nonZ++
				allZ = false
			}
		}
		return TypeInfo{
			Base: 'B',
			Z:    allZ,
			O:    nonZ == 1,
			D:    true,
			U:    true,
		}, nil

	case fragMulti, fragSortedMulti:
		if m.Taproot {
			return TypeInfo{}, m.typeError("multi is not available under tr(); use multi_a")
		}
		return TypeInfo{Base: 'B', N: true, D: true, U: true}, nil

	case fragMultiA, fragSortedMultiA:
		if !m.Taproot {
			return TypeInfo{}, m.typeError("multi_a is only available under tr()")
		}
		return TypeInfo{Base: 'B', D: true, U: true}, nil
	}

	// Wrappers.
	if len(m.Name) == 1 && strings.Contains(wrapperChars, m.Name) {
		return m.wrapperType()
	}
	return TypeInfo{}, m.typeError("unknown fragment")
}

func (m *Miniscript) wrapperType() (TypeInfo, error) {
	child := m.Args[0]
	switch m.Name {
	case "a":
		x, err := m.require(child, 'B', "")
		if err != nil {
			return TypeInfo{}, err
		}
		return TypeInfo{Base: 'W', U: x.U, D: x.D}, nil
	case "s":
		x, err := m.require(child, 'B', "o")
		if err != nil {
			return TypeInfo{}, err
		}
		return TypeInfo{Base: 'W', U: x.U, D: x.D}, nil
	case "c":
		x, err := m.require(child, 'K', "")
		if err != nil {
			return TypeInfo{}, err
		}
		return TypeInfo{Base: 'B', O: x.O, N: x.N, D: x.D, U: true}, nil
	case "d":
		// The child is required to be z, which also makes the result
		// push exactly 0 or 1.
		_, err := m.require(child, 'V', "z")
		if err != nil {
			return TypeInfo{}, err
		}
		return TypeInfo{Base: 'B', O: true, N: true, D: true, U: true}, nil
	case "t":
		x, err := m.require(child, 'V', "")
		if err != nil {
			return TypeInfo{}, err
		}
		return TypeInfo{Base: 'B', Z: x.Z, O: x.O, N: x.N, U: true}, nil
	case "v":
		x, err := m.require(child, 'B', "")
		if err != nil {
			return TypeInfo{}, err
		}
		return TypeInfo{Base: 'V', Z: x.Z, O: x.O, N: x.N}, nil
	case "j":
		x, err := m.require(child, 'B', "n")
		if err != nil {
			return TypeInfo{}, err
		}
		return TypeInfo{Base: 'B', O: x.O, N: true, D: true, U: x.U}, nil
	case "n":
		x, err := m.require(child, 'B', "")
		if err != nil {
			return TypeInfo{}, err
		}
		return TypeInfo{Base: 'B', Z: x.Z, O: x.O, N: x.N, D: x.D, U: true}, nil
	case "l", "u":
		x, err := m.require(child, 'B', "")
		if err != nil {
			return TypeInfo{}, err
		}
		return TypeInfo{Base: 'B', O: x.Z, D: true, U: x.U}, nil
	}
	return TypeInfo{}, m.typeError("unknown wrapper")
}

// Verify checks that the expression is a valid top-level miniscript:
// every node typechecks and the root has base type B.
func (m *Miniscript) Verify() error {
	t, err := m.TypeCheck()
	if err != nil {
		return err
	}
	if t.Base != 'B' {
		return m.typeError("top level has base %c, want B", t.Base)
	}
	return nil
}

// Compile emits the canonical script bytes of the expression.
func (m *Miniscript) Compile() ([]byte, error) {
	b := txscript.NewScriptBuilder()
	if err := m.compileInto(b); err != nil {
		return nil, err
	}
	return b.Script()
}

func (m *Miniscript) compileInto(b *txscript.ScriptBuilder) error {
	switch m.Name {
	case frag0:
		b.AddOp(txscript.OP_0)
	case frag1:
		b.AddOp(txscript.OP_1)

	case fragPkK, fragPk:
		sec, err := m.Keys[0].Serialize(m.Taproot)
		if err != nil {
			return err
		}
		b.AddData(sec)
		if m.Name == fragPk {
			b.AddOp(txscript.OP_CHECKSIG)
		}

	case fragPkH, fragPkh:
		h, err := m.Keys[0].Hash160()
		if err != nil {
			return err
		}
		b.AddOp(txscript.OP_DUP).AddOp(txscript.OP_HASH160)
		b.AddData(h)
		b.AddOp(txscript.OP_EQUALVERIFY)
		if m.Name == fragPkh {
			b.AddOp(txscript.OP_CHECKSIG)
		}

	case fragOlder:
		b.AddInt64(int64(m.Num)).AddOp(txscript.OP_CHECKSEQUENCEVERIFY)
	case fragAfter:
		b.AddInt64(int64(m.Num)).AddOp(txscript.OP_CHECKLOCKTIMEVERIFY)

	case fragSha256, fragHash256, fragRipemd160, fragHash160:
		b.AddOp(txscript.OP_SIZE).AddInt64(32).AddOp(txscript.OP_EQUALVERIFY)
		switch m.Name {
		case fragSha256:
			b.AddOp(txscript.OP_SHA256)
		case fragHash256:
			b.AddOp(txscript.OP_HASH256)
		case fragRipemd160:
			b.AddOp(txscript.OP_RIPEMD160)
		case fragHash160:
			b.AddOp(txscript.OP_HASH160)
		}
		b.AddData(m.Hash).AddOp(txscript.OP_EQUAL)

	case fragAndor:
		if err := m.Args[0].compileInto(b); err != nil {
			return err
		}
		b.AddOp(txscript.OP_NOTIF)
		if err := m.Args[2].compileInto(b); err != nil {
			return err
		}
		b.AddOp(txscript.OP_ELSE)
		if err := m.Args[1].compileInto(b); err != nil {
			return err
		}
		b.AddOp(txscript.OP_ENDIF)

	case fragAndV:
		if err := m.Args[0].compileInto(b); err != nil {
			return err
		}
		return m.Args[1].compileInto(b)

	case fragAndB:
		if err := m.Args[0].compileInto(b); err != nil {
			return err
		}
		if err := m.Args[1].compileInto(b); err != nil {
			return err
		}
		b.AddOp(txscript.OP_BOOLAND)

	case fragAndN:
		if err := m.Args[0].compileInto(b); err != nil {
			return err
		}
		b.AddOp(txscript.OP_NOTIF).AddOp(txscript.OP_0).AddOp(txscript.OP_ELSE)
		if err := m.Args[1].compileInto(b); err != nil {
			return err
		}
		b.AddOp(txscript.OP_ENDIF)

	case fragOrB:
		if err := m.Args[0].compileInto(b); err != nil {
			return err
		}
		if err := m.Args[1].compileInto(b); err != nil {
			return err
		}
		b.AddOp(txscript.OP_BOOLOR)

	case fragOrC:
		if err := m.Args[0].compileInto(b); err != nil {
			return err
		}
		b.AddOp(txscript.OP_NOTIF)
		if err := m.Args[1].compileInto(b); err != nil {
			return err
		}
		b.AddOp(txscript.OP_ENDIF)

	case fragOrD:
		if err := m.Args[0].compileInto(b); err != nil {
			return err
		}
		b.AddOp(txscript.OP_IFDUP).AddOp(txscript.OP_NOTIF)
		if err := m.Args[1].compileInto(b); err != nil {
			return err
		}
		b.AddOp(txscript.OP_ENDIF)

	case fragOrI:
		b.AddOp(txscript.OP_IF)
		if err := m.Args[0].compileInto(b); err != nil {
			return err
		}
		b.AddOp(txscript.OP_ELSE)
		if err := m.Args[1].compileInto(b); err != nil {
			return err
		}
		b.AddOp(txscript.OP_ENDIF)

	case fragThresh:
		for i, a := range m.Args {
			if err := a.compileInto(b); err != nil {
				return err
			}
			if i > 0 {
				b.AddOp(txscript.OP_ADD)
			}
		}
		b.AddInt64(int64(m.Num)).AddOp(txscript.OP_EQUAL)

	case fragMulti, fragSortedMulti:
		keys, err := m.sortedKeyBytes(false)
		if err != nil {
			return err
		}
		b.AddInt64(int64(m.Num))
		for _, sec := range keys {
			b.AddData(sec)
		}
		b.AddInt64(int64(len(keys)))
		b.AddOp(txscript.OP_CHECKMULTISIG)

	case fragMultiA, fragSortedMultiA:
		keys, err := m.sortedKeyBytes(true)
		if err != nil {
			return err
		}
		for i, sec := range keys {
			b.AddData(sec)
			if i == 0 {
				b.AddOp(txscript.OP_CHECKSIG)
			} else {
				b.AddOp(txscript.OP_CHECKSIGADD)
			}
		}
		b.AddInt64(int64(m.Num)).AddOp(txscript.OP_NUMEQUAL)

	case "a":
		b.AddOp(txscript.OP_TOALTSTACK)
		if err := m.Args[0].compileInto(b); err != nil {
			return err
		}
		b.AddOp(txscript.OP_FROMALTSTACK)
	case "s":
		b.AddOp(txscript.OP_SWAP)
		return m.Args[0].compileInto(b)
	case "c":
		if err := m.Args[0].compileInto(b); err != nil {
			return err
		}
		b.AddOp(txscript.OP_CHECKSIG)
	case "t":
		if err := m.Args[0].compileInto(b); err != nil {
			return err
		}
		b.AddOp(txscript.OP_1)
	case "d":
		b.AddOp(txscript.OP_DUP).AddOp(txscript.OP_IF)
		if err := m.Args[0].compileInto(b); err != nil {
			return err
		}
		b.AddOp(txscript.OP_ENDIF)
	case "v":
		inner := txscript.NewScriptBuilder()
		if err := m.Args[0].compileInto(inner); err != nil {
			return err
		}
		script, err := inner.Script()
		if err != nil {
			return err
		}
		b.AddOps(foldVerify(script))
	case "j":
		b.AddOp(txscript.OP_SIZE).AddOp(txscript.OP_0NOTEQUAL).AddOp(txscript.OP_IF)
		if err := m.Args[0].compileInto(b); err != nil {
			return err
		}
		b.AddOp(txscript.OP_ENDIF)
	case "n":
		if err := m.Args[0].compileInto(b); err != nil {
			return err
		}
		b.AddOp(txscript.OP_0NOTEQUAL)
	case "l":
		b.AddOp(txscript.OP_IF).AddOp(txscript.OP_0).AddOp(txscript.OP_ELSE)
		if err := m.Args[0].compileInto(b); err != nil {
			return err
		}
		b.AddOp(txscript.OP_ENDIF)
	case "u":
		b.AddOp(txscript.OP_IF)
		if err := m.Args[0].compileInto(b); err != nil {
			return err
		}
		b.AddOp(txscript.OP_ELSE).AddOp(txscript.OP_0).AddOp(txscript.OP_ENDIF)

	default:
		return m.typeError("unknown fragment")
	}
	return nil
}

// sortedKeyBytes serializes the multisig keys, sorting them by
// compressed SEC for the sorted variants per BIP-67.
func (m *Miniscript) sortedKeyBytes(xonly bool) ([][]byte, error) {
	if m.Name == fragSortedMulti || m.Name == fragSortedMultiA {
		pubs := make([]*ecc.PublicKey, len(m.Keys))
		for i, k := range m.Keys {
			pub, err := k.PubKey()
			if err != nil {
				return nil, err
			}
			pubs[i] = pub
		}
		ecc.SortKeys(pubs)
		out := make([][]byte, len(pubs))
		for i, pub := range pubs {
			if xonly {
				x, _ := pub.XOnly()
				out[i] = x
			} else {
				out[i] = pub.SerializeCompressed()
			}
		}
		return out, nil
	}
	out := make([][]byte, len(m.Keys))
	for i, k := range m.Keys {
		sec, err := k.Serialize(xonly)
		if err != nil {
			return nil, err
		}
		out[i] = sec
	}
	return out, nil
}

// foldVerify rewrites the final opcode of a script into its VERIFY
// variant, appending OP_VERIFY when none exists.
func foldVerify(script []byte) []byte {
	if len(script) > 0 {
		switch script[len(script)-1] {
		case txscript.OP_EQUAL:
			script[len(script)-1] = txscript.OP_EQUALVERIFY
			return script
		case txscript.OP_NUMEQUAL:
			script[len(script)-1] = txscript.OP_NUMEQUALVERIFY
			return script
		case txscript.OP_CHECKSIG:
			script[len(script)-1] = txscript.OP_CHECKSIGVERIFY
			return script
		case txscript.OP_CHECKMULTISIG:
			script[len(script)-1] = txscript.OP_CHECKMULTISIGVERIFY
			return script
		}
	}
	return append(script, txscript.OP_VERIFY)
}

// Length returns the compiled script length without materializing the
// bytes.
func (m *Miniscript) Length() (int, error) {
	switch m.Name {
	case frag0, frag1:
		return 1, nil
	case fragPkK:
		return 1 + m.keyLen(), nil
	case fragPk:
		return 2 + m.keyLen(), nil
	case fragPkH:
		return 24, nil
	case fragPkh:
		return 25, nil
	case fragOlder, fragAfter:
		return scriptNumLen(int64(m.Num)) + 1, nil
	case fragSha256, fragHash256:
		// SIZE <32> EQUALVERIFY <op> <33:hash> EQUAL
		return 1 + 2 + 1 + 1 + 33 + 1, nil
	case fragRipemd160, fragHash160:
		return 1 + 2 + 1 + 1 + 21 + 1, nil
	case fragAndor:
		return m.argsLen(3)
	case fragAndV:
		return m.argsLen(0)
	case fragAndB, fragOrB:
		return m.argsLen(1)
	case fragAndN:
		return m.argsLen(4)
	case fragOrC:
		return m.argsLen(2)
	case fragOrD:
		return m.argsLen(3)
	case fragOrI:
		return m.argsLen(3)
	case fragThresh:
		n, err := m.argsLen(len(m.Args) - 1)
		if err != nil {
			return 0, err
		}
		return n + scriptNumLen(int64(m.Num)) + 1, nil
	case fragMulti, fragSortedMulti:
		return scriptNumLen(int64(m.Num)) + len(m.Keys)*34 +
			scriptNumLen(int64(len(m.Keys))) + 1, nil
	case fragMultiA, fragSortedMultiA:
		// n keys of 33 push bytes each plus one CHECKSIG/CHECKSIGADD
		// per key.
		return len(m.Keys)*34 + scriptNumLen(int64(m.Num)) + 1, nil
	case "a":
		return m.argsLen(2)
	case "s", "c", "t", "n":
		return m.argsLen(1)
	case "d":
		return m.argsLen(3)
	case "j", "l", "u":
		return m.argsLen(4)
	case "v":
		inner, err := m.Args[0].Length()
		if err != nil {
			return 0, err
		}
		if m.Args[0].endsInFoldable() {
			return inner, nil
		}
		return inner + 1, nil
	}
	return 0, m.typeError("unknown fragment")
}

// argsLen sums child lengths plus extra opcode bytes.
func (m *Miniscript) argsLen(extra int) (int, error) {
	total := extra
	for _, a := range m.Args {
		n, err := a.Length()
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

// keyLen is the push size of this node's key.
func (m *Miniscript) keyLen() int {
	if m.Taproot {
		return 32
	}
	return 33
}

// scriptNumLen is the serialized size of a script number push.
func scriptNumLen(v int64) int {
	if v == 0 || (v >= 1 && v <= 16) {
		return 1
	}
	return 1 + len(txscript.ScriptNum(v))
}

// endsInFoldable reports whether the compiled form of the node ends in
// an opcode the v wrapper folds into its VERIFY variant.
func (m *Miniscript) endsInFoldable() bool {
	switch m.Name {
	case fragPk, fragPkh, fragMulti, fragSortedMulti, fragSha256,
		fragHash256, fragRipemd160, fragHash160, fragMultiA,
		fragSortedMultiA, fragThresh, "c":
		return true
	case fragAndV:
		return m.Args[1].endsInFoldable()
	case "s":
		return m.Args[0].endsInFoldable()
	}
	return false
}

// String renders the expression back to text.
func (m *Miniscript) String() string {
	// Wrapper chains render as joined characters before a colon.
	if len(m.Name) == 1 && strings.Contains(wrapperChars, m.Name) {
		chain := m.Name
		inner := m.Args[0]
		for len(inner.Name) == 1 && strings.Contains(wrapperChars, inner.Name) {
			chain += inner.Name
			inner = inner.Args[0]
		}
		return chain + ":" + inner.String()
	}
	switch m.Name {
	case frag0, frag1:
		return m.Name
	case fragPkK, fragPkH, fragPk, fragPkh:
		return m.Name + "(" + m.Keys[0].String() + ")"
	case fragOlder, fragAfter:
		return fmt.Sprintf("%s(%d)", m.Name, m.Num)
	case fragSha256, fragHash256, fragRipemd160, fragHash160:
		return m.Name + "(" + hex.EncodeToString(m.Hash) + ")"
	case fragThresh:
		parts := make([]string, 0, len(m.Args)+1)
		parts = append(parts, strconv.FormatUint(uint64(m.Num), 10))
		for _, a := range m.Args {
			parts = append(parts, a.String())
		}
		return m.Name + "(" + strings.Join(parts, ",") + ")"
	case fragMulti, fragSortedMulti, fragMultiA, fragSortedMultiA:
		parts := make([]string, 0, len(m.Keys)+1)
		parts = append(parts, strconv.FormatUint(uint64(m.Num), 10))
		for _, k := range m.Keys {
			parts = append(parts, k.String())
		}
		return m.Name + "(" + strings.Join(parts, ",") + ")"
	default:
		parts := make([]string, len(m.Args))
		for i, a := range m.Args {
			parts[i] = a.String()
		}
		return m.Name + "(" + strings.Join(parts, ",") + ")"
	}
}
