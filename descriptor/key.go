// Copyright (c) 2025 The embit developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package descriptor

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/diybitcoinhardware/embit/chaincfg"
	"github.com/diybitcoinhardware/embit/ecc"
	"github.com/diybitcoinhardware/embit/hashes"
	"github.com/diybitcoinhardware/embit/hdkeychain"
)

// KeyOrigin records where a key came from: master fingerprint plus the
// hardened/unhardened path down to the key.
type KeyOrigin struct {
	Fingerprint [4]byte
	Path        []uint32
}

// parseKeyOrigin reads the "fingerprint/step/..." form found between
// square brackets.
func parseKeyOrigin(s string) (*KeyOrigin, error) {
	head, rest, _ := strings.Cut(s, "/")
	fp, err := hex.DecodeString(head)
	if err != nil || len(fp) != 4 {
		return nil, fmt.Errorf("%w: bad fingerprint %q", ErrInvalidKey, head)
	}
	o := &KeyOrigin{}
	copy(o.Fingerprint[:], fp)
	if rest != "" {
		o.Path, err = hdkeychain.ParsePath(rest)
		if err != nil {
			return nil, err
		}
	}
	return o, nil
}

// String renders the origin as "fp/44h/0h/...".
func (o *KeyOrigin) String() string {
	return hdkeychain.PathString(o.Path, o.Fingerprint[:])
}

// derivationStep is one component of a derivation template.
type derivationStep struct {
	wildcard bool
	branch   []uint32
	index    uint32

	// braces marks a branch set written in the Core-legacy {a,b}
	// syntax, preserved on rendering.
	braces bool
}

// Derivation is the template after a key: fixed indices, at most one
// wildcard and at most one branch set.
type Derivation struct {
	steps []derivationStep
}

// parseDerivation reads "0/1h/*" templates including "<a;b>" and the
// Core-legacy "{a,b}" branch syntax. Hardened steps require
// allowHardened.
func parseDerivation(s string, allowHardened bool) (*Derivation, error) {
	if s == "" {
		return nil, nil
	}
	d := &Derivation{}
	wildcards, branches := 0, 0
	for _, part := range strings.Split(s, "/") {
		switch {
		case part == "*":
			wildcards++
			d.steps = append(d.steps, derivationStep{wildcard: true})
		case len(part) >= 2 && (part[0] == '<' || part[0] == '{'):
			closer, sep := byte('>'), ";"
			if part[0] == '{' {
				closer, sep = '}', ","
			}
			if part[len(part)-1] != closer {
				return nil, fmt.Errorf("%w: unterminated branch set %q", ErrInvalidKey, part)
			}
			branches++
			var set []uint32
			for _, b := range strings.Split(part[1:len(part)-1], sep) {
				idx, err := parseStepIndex(b, allowHardened)
				if err != nil {
					return nil, err
				}
				set = append(set, idx)
			}
			if len(set) < 2 {
				return nil, fmt.Errorf("%w: branch set needs at least two entries", ErrInvalidKey)
			}
			d.steps = append(d.steps, derivationStep{branch: set, braces: part[0] == '{'})
		default:
			idx, err := parseStepIndex(part, allowHardened)
			if err != nil {
				return nil, err
			}
			d.steps = append(d.steps, derivationStep{index: idx})
		}
	}
	if wildcards > 1 || branches > 1 {
		return nil, ErrWildcard
	}
	return d, nil
}

func parseStepIndex(s string, allowHardened bool) (uint32, error) {
	hardened := false
	if len(s) > 0 {
		if last := s[len(s)-1]; last == 'h' || last == 'H' || last == '\'' {
			hardened = true
			s = s[:len(s)-1]
		}
	}
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil || v >= uint64(hdkeychain.HardenedKeyStart) {
		return 0, fmt.Errorf("%w: index %q", ErrInvalidKey, s)
	}
	if hardened {
		if !allowHardened {
			return 0, ErrHardenedFromPublic
		}
		v += uint64(hdkeychain.HardenedKeyStart)
	}
	return uint32(v), nil
}

// Branches returns the branch set if the template has one.
func (d *Derivation) Branches() []uint32 {
	if d == nil {
		return nil
	}
	for _, s := range d.steps {
		if s.branch != nil {
			return s.branch
		}
	}
	return nil
}

// Fill substitutes the wildcard with idx and the branch set with entry
// branchIdx (0 when negative), yielding concrete child indices.
func (d *Derivation) Fill(idx uint32, branchIdx int) ([]uint32, error) {
	if idx >= hdkeychain.HardenedKeyStart {
		return nil, fmt.Errorf("%w: hardened index in wildcard", ErrWildcard)
	}
	out := make([]uint32, len(d.steps))
	for i, s := range d.steps {
		switch {
		case s.wildcard:
			out[i] = idx
		case s.branch != nil:
			b := branchIdx
			if b < 0 {
				b = 0
			}
			if b >= len(s.branch) {
				return nil, fmt.Errorf("%w: branch index %d", ErrWildcard, branchIdx)
			}
			out[i] = s.branch[b]
		default:
			out[i] = s.index
		}
	}
	return out, nil
}

// String renders the template back to its textual form.
func (d *Derivation) String() string {
	if d == nil {
		return ""
	}
	var sb strings.Builder
	for _, s := range d.steps {
		sb.WriteByte('/')
		switch {
		case s.wildcard:
			sb.WriteByte('*')
		case s.branch != nil:
			open, sep, close := byte('<'), byte(';'), byte('>')
			if s.braces {
				open, sep, close = '{', ',', '}'
			}
			sb.WriteByte(open)
			for i, b := range s.branch {
				if i > 0 {
					sb.WriteByte(sep)
				}
				sb.WriteString(renderIndex(b))
			}
			sb.WriteByte(close)
		default:
			sb.WriteString(renderIndex(s.index))
		}
	}
	return sb.String()
}

func renderIndex(i uint32) string {
	if i >= hdkeychain.HardenedKeyStart {
		return strconv.FormatUint(uint64(i-hdkeychain.HardenedKeyStart), 10) + "h"
	}
	return strconv.FormatUint(uint64(i), 10)
}

// Key is a descriptor key argument: optional origin, an inner key and an
// optional derivation template. The inner key is exactly one of the
// pointer fields.
type Key struct {
	Origin     *KeyOrigin
	Derivation *Derivation

	hd    *hdkeychain.ExtendedKey
	priv  *ecc.PrivateKey
	pub   *ecc.PublicKey
	xonly []byte

	// hash holds a raw 20-byte hash for KeyHash arguments.
	hash []byte

	// wifNet remembers the network of a WIF key for re-rendering.
	wifNet *chaincfg.Params
}

// parseKey reads a key expression from the scanner, stopping before
// ',', ')' or end of input. keyHash additionally accepts a raw 40-char
// hash.
func parseKey(sc *scanner, keyHash bool) (*Key, error) {
	k := &Key{}
	if sc.peek() == '[' {
		sc.next()
		originStr, delim := sc.readUntil("]")
		if delim != ']' {
			return nil, fmt.Errorf("%w: missing ]", ErrInvalidKey)
		}
		sc.next()
		origin, err := parseKeyOrigin(originStr)
		if err != nil {
			return nil, err
		}
		k.Origin = origin
	}
	inner, delim := sc.readUntil(",)/")
	if err := k.parseInner(inner, keyHash); err != nil {
		return nil, err
	}
	if delim == '/' {
		sc.next()
		// Brace branch sets contain commas, so the template cannot be
		// read with a plain delimiter scan.
		var der strings.Builder
		for {
			part, d := sc.readUntil(",){")
			der.WriteString(part)
			if d != '{' {
				break
			}
			sc.next()
			inner, d2 := sc.readUntil("}")
			if d2 != '}' {
				return nil, fmt.Errorf("%w: missing } in derivation", ErrInvalidKey)
			}
			sc.next()
			der.WriteByte('{')
			der.WriteString(inner)
			der.WriteByte('}')
		}
		allowHardened := k.hd != nil && k.hd.IsPrivate()
		parsed, err := parseDerivation(der.String(), allowHardened)
		if err != nil {
			return nil, err
		}
		if parsed != nil && !k.CanDerive() {
			return nil, fmt.Errorf("%w: key %q does not support derivation", ErrInvalidKey, inner)
		}
		k.Derivation = parsed
	}
	return k, nil
}

func (k *Key) parseInner(s string, keyHash bool) error {
	switch {
	case keyHash && len(s) == 40 && isHex(s):
		h, _ := hex.DecodeString(s)
		k.hash = h
	case len(s) == 64 && isHex(s):
		raw, _ := hex.DecodeString(s)
		pub, err := ecc.ParseXOnlyPublicKey(raw)
		if err != nil {
			return err
		}
		k.xonly = raw
		k.pub = pub
	case (len(s) == 66 || len(s) == 130) && isHex(s):
		raw, _ := hex.DecodeString(s)
		pub, err := ecc.ParsePublicKey(raw)
		if err != nil {
			return err
		}
		k.pub = pub
	case len(s) > 4 && (s[1:4] == "pub" || s[1:4] == "prv"):
		hd, err := hdkeychain.NewKeyFromString(s)
		if err != nil {
			return err
		}
		k.hd = hd
	default:
		priv, net, err := ecc.PrivateKeyFromWIF(s)
		if err != nil {
			return fmt.Errorf("%w: %q", ErrInvalidKey, s)
		}
		k.priv = priv
		k.wifNet = net
	}
	return nil
}

func isHex(s string) bool {
	_, err := hex.DecodeString(s)
	return err == nil
}

// IsKeyHash reports whether this argument is a raw 20-byte hash rather
// than a key.
func (k *Key) IsKeyHash() bool { return k.hash != nil }

// IsXOnly reports whether the key was written in the 32-byte x-only
// form, which is only valid inside tr().
func (k *Key) IsXOnly() bool { return k.xonly != nil }

// CanDerive reports whether the key supports child derivation.
func (k *Key) CanDerive() bool { return k.hd != nil }

// IsPrivate reports whether signing material is available.
func (k *Key) IsPrivate() bool {
	return k.priv != nil || (k.hd != nil && k.hd.IsPrivate())
}

// Branches returns the key's branch set, if any.
func (k *Key) Branches() []uint32 {
	return k.Derivation.Branches()
}

// PubKey returns the public key point. KeyHash arguments have none.
func (k *Key) PubKey() (*ecc.PublicKey, error) {
	switch {
	case k.hash != nil:
		return nil, fmt.Errorf("%w: raw hash has no public key", ErrInvalidKey)
	case k.pub != nil:
		return k.pub, nil
	case k.priv != nil:
		return k.priv.PublicKey(), nil
	default:
		return k.hd.PublicKey(), nil
	}
}

// PrivateKey returns the signing key if available.
func (k *Key) PrivateKey() (*ecc.PrivateKey, error) {
	if k.priv != nil {
		return k.priv, nil
	}
	if k.hd != nil {
		return k.hd.PrivateKey()
	}
	return nil, hdkeychain.ErrNotPrivate
}

// Serialize returns the bytes pushed for this key in a script:
// compressed SEC, or the raw hash for KeyHash arguments. xonly selects
// the 32-byte form used inside taproot expressions.
func (k *Key) Serialize(xonly bool) ([]byte, error) {
	if k.hash != nil {
		return k.hash, nil
	}
	pub, err := k.PubKey()
	if err != nil {
		return nil, err
	}
	if xonly {
		x, _ := pub.XOnly()
		return x, nil
	}
	return pub.SerializeCompressed(), nil
}

// Hash160 returns hash160 of the serialized key, or the raw hash.
func (k *Key) Hash160() ([]byte, error) {
	if k.hash != nil {
		return k.hash, nil
	}
	sec, err := k.Serialize(false)
	if err != nil {
		return nil, err
	}
	return hashes.Hash160(sec), nil
}

// Derive substitutes the derivation template with concrete indices and
// returns a key with no remaining template. Keys without a template are
// returned unchanged.
func (k *Key) Derive(idx uint32, branchIdx int) (*Key, error) {
	if k.Derivation == nil {
		return k, nil
	}
	path, err := k.Derivation.Fill(idx, branchIdx)
	if err != nil {
		return nil, err
	}
	child, err := k.hd.Derive(path)
	if err != nil {
		return nil, err
	}
	origin := &KeyOrigin{}
	if k.Origin != nil {
		origin.Fingerprint = k.Origin.Fingerprint
		origin.Path = append(append([]uint32(nil), k.Origin.Path...), path...)
	} else {
		origin.Fingerprint = k.hd.Fingerprint()
		origin.Path = path
	}
	return &Key{Origin: origin, hd: child}, nil
}

// String renders the key expression.
func (k *Key) String() string {
	var sb strings.Builder
	if k.Origin != nil {
		sb.WriteByte('[')
		sb.WriteString(k.Origin.String())
		sb.WriteByte(']')
	}
	switch {
	case k.hash != nil:
		sb.WriteString(hex.EncodeToString(k.hash))
	case k.xonly != nil:
		sb.WriteString(hex.EncodeToString(k.xonly))
	case k.hd != nil:
		sb.WriteString(k.hd.String())
	case k.priv != nil:
		net := k.wifNet
		if net == nil {
			net = &chaincfg.MainNetParams
		}
		sb.WriteString(k.priv.WIF(net))
	default:
		sb.WriteString(hex.EncodeToString(k.pub.Sec()))
	}
	sb.WriteString(k.Derivation.String())
	return sb.String()
}
