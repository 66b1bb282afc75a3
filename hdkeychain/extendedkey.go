// Copyright (c) 2025 The embit developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package hdkeychain implements BIP-32 hierarchical deterministic key
// derivation with the SLIP-132 version byte matrix.
package hdkeychain

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/base58"

	"github.com/diybitcoinhardware/embit/chaincfg"
	"github.com/diybitcoinhardware/embit/ecc"
	"github.com/diybitcoinhardware/embit/hashes"
)

const (
	// HardenedKeyStart marks the first hardened child index.
	HardenedKeyStart uint32 = 0x80000000

	// serializedKeyLen is version(4) + depth(1) + parentFP(4) +
	// childNum(4) + chainCode(32) + keyData(33).
	serializedKeyLen = 78

	// masterKey is the HMAC key that seeds the root per BIP-32.
	masterKey = "Bitcoin seed"
)

var (
	// ErrInvalidChild is returned when a child index yields an invalid
	// key. Callers should skip to the next index.
	ErrInvalidChild = errors.New("invalid child key, try the next index")

	// ErrDeriveHardFromPublic is returned for hardened derivation on a
	// public extended key.
	ErrDeriveHardFromPublic = errors.New("cannot derive hardened child from public key")

	// ErrNotPrivate is returned when an operation needs the private
	// key but the extended key is public.
	ErrNotPrivate = errors.New("extended key is public")

	// ErrInvalidKeyData is returned for malformed serialized keys.
	ErrInvalidKeyData = errors.New("invalid extended key")

	// ErrUnusableSeed is returned when the seed produces an invalid
	// master secret.
	ErrUnusableSeed = errors.New("unusable seed")
)

// ExtendedKey is a BIP-32 extended private or public key.
type ExtendedKey struct {
	version   [4]byte
	depth     uint8
	parentFP  [4]byte
	childNum  uint32
	chainCode [32]byte

	// priv is nil for public extended keys; pub is always set.
	priv *ecc.PrivateKey
	pub  *ecc.PublicKey
}

// NewMaster derives a root key from a seed: the left half of
// HMAC-SHA512("Bitcoin seed", seed) becomes the secret, the right half
// the chain code.
func NewMaster(seed []byte, net *chaincfg.Params) (*ExtendedKey, error) {
	return NewMasterWithVersion(seed, net.HDPrivVersion(chaincfg.HDKeyStandard))
}

// NewMasterWithVersion derives a root key carrying an explicit private
// version prefix.
func NewMasterWithVersion(seed []byte, version [4]byte) (*ExtendedKey, error) {
	raw := hashes.HMACSHA512([]byte(masterKey), seed)
	defer wipe(raw)
	priv, err := ecc.NewPrivateKey(raw[:32])
	if err != nil {
		return nil, ErrUnusableSeed
	}
	k := &ExtendedKey{
		version: version,
		priv:    priv,
		pub:     priv.PublicKey(),
	}
	copy(k.chainCode[:], raw[32:])
	return k, nil
}

// NewExtendedKey assembles an extended key from its parts. priv may be
// nil for a public key; pub may be nil when priv is given.
func NewExtendedKey(version [4]byte, depth uint8, parentFP [4]byte, childNum uint32, chainCode [32]byte, priv *ecc.PrivateKey, pub *ecc.PublicKey) (*ExtendedKey, error) {
	if priv == nil && pub == nil {
		return nil, ErrInvalidKeyData
	}
	if pub == nil {
		pub = priv.PublicKey()
	}
	return &ExtendedKey{
		version:   version,
		depth:     depth,
		parentFP:  parentFP,
		childNum:  childNum,
		chainCode: chainCode,
		priv:      priv,
		pub:       pub,
	}, nil
}

// IsPrivate reports whether the key carries the private scalar.
func (k *ExtendedKey) IsPrivate() bool { return k.priv != nil }

// Depth returns the derivation depth from the root.
func (k *ExtendedKey) Depth() uint8 { return k.depth }

// ChildNum returns the index this key was derived at.
func (k *ExtendedKey) ChildNum() uint32 { return k.childNum }

// ChainCode returns a copy of the 32-byte chain code.
func (k *ExtendedKey) ChainCode() []byte {
	out := make([]byte, 32)
	copy(out, k.chainCode[:])
	return out
}

// Version returns the 4-byte version prefix.
func (k *ExtendedKey) Version() [4]byte { return k.version }

// ParentFingerprint returns the first four bytes of the parent key hash.
func (k *ExtendedKey) ParentFingerprint() [4]byte { return k.parentFP }

// Fingerprint returns hash160(compressed pubkey)[0:4] of this key.
func (k *ExtendedKey) Fingerprint() [4]byte {
	var fp [4]byte
	copy(fp[:], hashes.Hash160(k.pub.SerializeCompressed())[:4])
	return fp
}

// PublicKey returns the public key point.
func (k *ExtendedKey) PublicKey() *ecc.PublicKey { return k.pub }

// PrivateKey returns the private key, or an error for public extended
// keys.
func (k *ExtendedKey) PrivateKey() (*ecc.PrivateKey, error) {
	if k.priv == nil {
		return nil, ErrNotPrivate
	}
	return k.priv, nil
}

// Network resolves the version prefix to its network and SLIP-132 key
// type.
func (k *ExtendedKey) Network() (*chaincfg.Params, chaincfg.HDKeyType, error) {
	net, keyType, _, err := chaincfg.HDVersion(k.version)
	return net, keyType, err
}

// Child derives the child key at index i. Indices at or above
// HardenedKeyStart are hardened and require the private key. A
// derivation that lands outside the group fails with ErrInvalidChild so
// the caller can retry with the next index.
func (k *ExtendedKey) Child(i uint32) (*ExtendedKey, error) {
	hardened := i >= HardenedKeyStart
	if hardened && k.priv == nil {
		return nil, ErrDeriveHardFromPublic
	}

	var data [37]byte
	if hardened {
		copy(data[1:33], k.priv.Serialize())
	} else {
		copy(data[:33], k.pub.SerializeCompressed())
	}
	binary.BigEndian.PutUint32(data[33:], i)

	var raw []byte
	if hardened {
		raw = hashes.HMACSHA512(k.chainCode[:], data[:])
	} else {
		raw = hashes.HMACSHA512(k.chainCode[:], data[:37])
	}
	defer wipe(raw)
	defer wipe(data[:])

	child := &ExtendedKey{
		version:  k.version,
		depth:    k.depth + 1,
		parentFP: k.Fingerprint(),
		childNum: i,
	}
	copy(child.chainCode[:], raw[32:])

	if k.priv != nil {
		priv, err := k.priv.TweakAdd(raw[:32])
		if err != nil {
			return nil, ErrInvalidChild
		}
		child.priv = priv
		child.pub = priv.PublicKey()
	} else {
		pub, err := k.pub.TweakAdd(raw[:32])
		if err != nil {
			return nil, ErrInvalidChild
		}
		child.pub = pub
	}
	return child, nil
}

// ChildHardened derives the hardened child at index i (i below
// HardenedKeyStart).
func (k *ExtendedKey) ChildHardened(i uint32) (*ExtendedKey, error) {
	return k.Child(i + HardenedKeyStart)
}

// Derive walks a full path of child indices.
func (k *ExtendedKey) Derive(path []uint32) (*ExtendedKey, error) {
	current := k
	for _, i := range path {
		next, err := current.Child(i)
		if err != nil {
			return nil, err
		}
		current = next
	}
	return current, nil
}

// DerivePath parses and walks a textual path such as "m/84h/0h/0h/0/5".
func (k *ExtendedKey) DerivePath(path string) (*ExtendedKey, error) {
	indices, err := ParsePath(path)
	if err != nil {
		return nil, err
	}
	return k.Derive(indices)
}

// Neuter strips the private key, mapping the version prefix to its
// public counterpart.
func (k *ExtendedKey) Neuter() (*ExtendedKey, error) {
	if k.priv == nil {
		return k, nil
	}
	net, keyType, _, err := chaincfg.HDVersion(k.version)
	if err != nil {
		return nil, err
	}
	pub := *k
	pub.priv = nil
	pub.version = net.HDPubVersion(keyType)
	return &pub, nil
}

// Serialize returns the 78-byte BIP-32 layout: version, depth, parent
// fingerprint, child number (big-endian), chain code, key material.
func (k *ExtendedKey) Serialize() []byte {
	out := make([]byte, 0, serializedKeyLen)
	out = append(out, k.version[:]...)
	out = append(out, k.depth)
	out = append(out, k.parentFP[:]...)
	var num [4]byte
	binary.BigEndian.PutUint32(num[:], k.childNum)
	out = append(out, num[:]...)
	out = append(out, k.chainCode[:]...)
	if k.priv != nil {
		out = append(out, 0x00)
		out = append(out, k.priv.Serialize()...)
	} else {
		out = append(out, k.pub.SerializeCompressed()...)
	}
	return out
}

// String returns the base58check form with the key's version prefix.
func (k *ExtendedKey) String() string {
	return encodeCheck(k.Serialize())
}

// StringWithVersion renders the key under a different version prefix,
// e.g. to print an xpub as a zpub.
func (k *ExtendedKey) StringWithVersion(version [4]byte) string {
	b := k.Serialize()
	copy(b[:4], version[:])
	return encodeCheck(b)
}

// NewKeyFromString parses a base58check extended key. The version prefix
// must belong to a registered network and agree with the key material.
func NewKeyFromString(s string) (*ExtendedKey, error) {
	decoded := base58.Decode(s)
	if len(decoded) != serializedKeyLen+4 {
		return nil, ErrInvalidKeyData
	}
	payload := decoded[:serializedKeyLen]
	checksum := decoded[serializedKeyLen:]
	expected := hashes.DoubleSHA256(payload)[:4]
	for i := range checksum {
		if checksum[i] != expected[i] {
			return nil, fmt.Errorf("%w: bad checksum", ErrInvalidKeyData)
		}
	}
	return ParseExtendedKey(payload)
}

// ParseExtendedKey reads the raw 78-byte serialization.
func ParseExtendedKey(b []byte) (*ExtendedKey, error) {
	if len(b) != serializedKeyLen {
		return nil, ErrInvalidKeyData
	}
	k := &ExtendedKey{}
	copy(k.version[:], b[:4])
	k.depth = b[4]
	copy(k.parentFP[:], b[5:9])
	k.childNum = binary.BigEndian.Uint32(b[9:13])
	copy(k.chainCode[:], b[13:45])
	keyData := b[45:78]

	_, _, private, err := chaincfg.HDVersion(k.version)
	if err != nil {
		return nil, err
	}
	if keyData[0] == 0x00 {
		if !private {
			return nil, fmt.Errorf("%w: public version with private key material", ErrInvalidKeyData)
		}
		priv, err := ecc.NewPrivateKey(keyData[1:])
		if err != nil {
			return nil, err
		}
		k.priv = priv
		k.pub = priv.PublicKey()
	} else {
		if private {
			return nil, fmt.Errorf("%w: private version with public key material", ErrInvalidKeyData)
		}
		pub, err := ecc.ParsePublicKey(keyData)
		if err != nil {
			return nil, err
		}
		k.pub = pub
	}
	return k, nil
}

// Equal compares everything but the version prefix, so the same key
// rendered as xpub and zpub compares equal.
func (k *ExtendedKey) Equal(other *ExtendedKey) bool {
	if k.depth != other.depth || k.childNum != other.childNum ||
		k.parentFP != other.parentFP || k.chainCode != other.chainCode {
		return false
	}
	if (k.priv == nil) != (other.priv == nil) {
		return false
	}
	if k.priv != nil {
		return k.priv.Equal(other.priv)
	}
	return k.pub.Equal(other.pub)
}

// Zero wipes the key material and chain code.
func (k *ExtendedKey) Zero() {
	if k.priv != nil {
		k.priv.Zero()
	}
	for i := range k.chainCode {
		k.chainCode[i] = 0
	}
}

// FingerprintHex renders the fingerprint as 8 hex characters.
func (k *ExtendedKey) FingerprintHex() string {
	fp := k.Fingerprint()
	return hex.EncodeToString(fp[:])
}

// encodeCheck appends a double-SHA256 checksum and base58 encodes.
func encodeCheck(payload []byte) string {
	checksum := hashes.DoubleSHA256(payload)[:4]
	return base58.Encode(append(append([]byte(nil), payload...), checksum...))
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
