// Copyright (c) 2025 The embit developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package slip39

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/diybitcoinhardware/embit/hashes"
)

// GF(256) exponent/log tables over the AES polynomial x^8+x^4+x^3+x+1,
// precomputed once for the Lagrange interpolation.
var (
	gfExp [255]byte
	gfLog [256]int
)

func init() {
	cur := 1
	for i := 0; i < 255; i++ {
		gfExp[i] = byte(cur)
		gfLog[cur] = i
		cur = cur<<1 ^ cur
		if cur > 255 {
			cur ^= 0x11b
		}
	}
}

// baseIterations is the Feistel round iteration base; the share
// exponent scales it by powers of two.
const baseIterations = 2500

// ShareData is one (x, y-bytes) point of the sharing polynomial.
type ShareData struct {
	X     int
	Value []byte
}

// Interpolate evaluates the Lagrange polynomial through the shares at
// x, working in the log domain.
func Interpolate(x int, shares []ShareData) []byte {
	logProduct := 0
	for _, s := range shares {
		logProduct += gfLog[s.X^x]
	}
	result := make([]byte, len(shares[0].Value))
	for _, s := range shares {
		logNumerator := logProduct - gfLog[s.X^x]
		logDenominator := 0
		for _, other := range shares {
			logDenominator += gfLog[s.X^other.X]
		}
		logValue := ((logNumerator-logDenominator)%255 + 255) % 255
		for i, y := range s.Value {
			if y > 0 {
				result[i] ^= gfExp[(gfLog[y]+logValue)%255]
			}
		}
	}
	return result
}

// shareDigest is the 4-byte HMAC binding the random part to the secret.
func shareDigest(r, secret []byte) []byte {
	return hashes.HMACSHA256(r, secret)[:4]
}

// crypt runs the 4-round Feistel over the payload. Encryption and
// decryption differ only in round order.
func crypt(payload []byte, id, exponent int, passphrase []byte, rounds []byte) ([]byte, error) {
	if len(payload)%2 != 0 {
		return nil, fmt.Errorf("%w: payload must be an even number of bytes", ErrInvalidShare)
	}
	half := len(payload) / 2
	left := append([]byte(nil), payload[:half]...)
	right := append([]byte(nil), payload[half:]...)
	salt := make([]byte, 0, len(customizationString)+2)
	salt = append(salt, customizationString...)
	var idBytes [2]byte
	binary.BigEndian.PutUint16(idBytes[:], uint16(id))
	salt = append(salt, idBytes[:]...)

	for _, round := range rounds {
		password := append([]byte{round}, passphrase...)
		f := hashes.PBKDF2SHA256(password, append(append([]byte(nil), salt...), right...), baseIterations<<uint(exponent), half)
		next := make([]byte, half)
		for i := range next {
			next[i] = left[i] ^ f[i]
		}
		left, right = right, next
	}
	return append(right, left...), nil
}

// Encrypt applies the passphrase Feistel in forward round order.
func Encrypt(payload []byte, id, exponent int, passphrase []byte) ([]byte, error) {
	return crypt(payload, id, exponent, passphrase, []byte{0, 1, 2, 3})
}

// Decrypt reverses Encrypt.
func Decrypt(payload []byte, id, exponent int, passphrase []byte) ([]byte, error) {
	return crypt(payload, id, exponent, passphrase, []byte{3, 2, 1, 0})
}

// SplitSecret splits a 16- or 32-byte secret into n shares, any k of
// which recover it. Share 254 holds digest||random and share 255 the
// secret itself; shares k-2..n-1 are interpolated. rng supplies
// randomness and must not be a weak source.
func SplitSecret(secret []byte, k, n int, rng io.Reader) ([]ShareData, error) {
	switch {
	case n < 1 || n > 16:
		return nil, fmt.Errorf("%w: n must be 1..16", ErrInvalidShare)
	case k < 1 || k > n:
		return nil, fmt.Errorf("%w: k must be 1..n", ErrInvalidShare)
	case len(secret) != 16 && len(secret) != 32:
		return nil, fmt.Errorf("%w: secret must be 128 or 256 bits", ErrInvalidShare)
	}
	if k == 1 {
		return []ShareData{{X: 0, Value: append([]byte(nil), secret...)}}, nil
	}

	r := make([]byte, len(secret)-4)
	if _, err := io.ReadFull(rng, r); err != nil {
		return nil, err
	}
	digestShare := append(shareDigest(r, secret), r...)

	shares := make([]ShareData, 0, n)
	base := make([]ShareData, 0, k)
	for i := 0; i < k-2; i++ {
		random := make([]byte, len(secret))
		if _, err := io.ReadFull(rng, random); err != nil {
			return nil, err
		}
		s := ShareData{X: i, Value: random}
		shares = append(shares, s)
		base = append(base, s)
	}
	base = append(base, ShareData{X: 254, Value: digestShare})
	base = append(base, ShareData{X: 255, Value: secret})
	for i := k - 2; i < n; i++ {
		shares = append(shares, ShareData{X: i, Value: Interpolate(i, base)})
	}
	return shares, nil
}

// RecoverSecret interpolates the secret at x=255, verifying the digest
// share at x=254.
func RecoverSecret(shares []ShareData) ([]byte, error) {
	secret := Interpolate(255, shares)
	digestShare := Interpolate(254, shares)
	digest, random := digestShare[:4], digestShare[4:]
	want := shareDigest(random, secret)
	for i := range digest {
		if digest[i] != want[i] {
			return nil, ErrDigest
		}
	}
	return secret, nil
}

// ShareSet validates a group of parsed shares that belong together.
type ShareSet struct {
	Shares []*Share

	ID             int
	Exponent       int
	GroupThreshold int
	GroupCount     int
	ShareBitLength int
}

// NewShareSet groups shares, rejecting mixtures from different secrets.
func NewShareSet(shares []*Share) (*ShareSet, error) {
	if len(shares) == 0 {
		return nil, ErrNotEnoughShares
	}
	first := shares[0]
	seen := map[[2]int]bool{}
	for _, s := range shares {
		if s.ID != first.ID {
			return nil, fmt.Errorf("%w: different ids", ErrShareMismatch)
		}
		if s.Exponent != first.Exponent {
			return nil, fmt.Errorf("%w: different exponents", ErrShareMismatch)
		}
		if s.GroupThreshold != first.GroupThreshold || s.GroupCount != first.GroupCount {
			return nil, fmt.Errorf("%w: different group parameters", ErrShareMismatch)
		}
		if s.ShareBitLength != first.ShareBitLength {
			return nil, fmt.Errorf("%w: different share lengths", ErrShareMismatch)
		}
		x := [2]int{s.GroupIndex, s.MemberIndex}
		if seen[x] {
			return nil, fmt.Errorf("%w: duplicate share index", ErrShareMismatch)
		}
		seen[x] = true
	}
	return &ShareSet{
		Shares:         shares,
		ID:             first.ID,
		Exponent:       first.Exponent,
		GroupThreshold: first.GroupThreshold,
		GroupCount:     first.GroupCount,
		ShareBitLength: first.ShareBitLength,
	}, nil
}

// Recover reconstructs and decrypts the shared secret.
func (set *ShareSet) Recover(passphrase []byte) ([]byte, error) {
	groups := make([][]*Share, 16)
	for _, s := range set.Shares {
		groups[s.GroupIndex] = append(groups[s.GroupIndex], s)
	}

	var groupData []ShareData
	for i, group := range groups {
		if len(group) == 0 {
			continue
		}
		threshold := group[0].MemberThreshold
		for _, s := range group {
			if s.MemberThreshold != threshold {
				return nil, fmt.Errorf("%w: member thresholds differ in group %d", ErrShareMismatch, i)
			}
		}
		if threshold == 1 {
			groupData = append(groupData, ShareData{X: i, Value: group[0].Value})
			continue
		}
		if len(group) < threshold {
			return nil, ErrNotEnoughShares
		}
		members := make([]ShareData, len(group))
		for j, s := range group {
			members[j] = ShareData{X: s.MemberIndex, Value: s.Value}
		}
		groupSecret, err := RecoverSecret(members)
		if err != nil {
			return nil, err
		}
		groupData = append(groupData, ShareData{X: i, Value: groupSecret})
	}

	var encrypted []byte
	if set.GroupThreshold == 1 {
		encrypted = groupData[0].Value
	} else {
		if len(groupData) < set.GroupThreshold {
			return nil, ErrNotEnoughShares
		}
		var err error
		encrypted, err = RecoverSecret(groupData)
		if err != nil {
			return nil, err
		}
	}
	return Decrypt(encrypted, set.ID, set.Exponent, passphrase)
}

// GenerateShares splits a raw secret into k-of-n single-member share
// mnemonics, encrypting with the passphrase first.
func GenerateShares(secret []byte, k, n int, passphrase []byte, exponent int, rng io.Reader) ([]string, error) {
	if len(secret) != 16 && len(secret) != 32 {
		return nil, fmt.Errorf("%w: secret must be 128 or 256 bits", ErrInvalidShare)
	}
	var idBytes [2]byte
	if _, err := io.ReadFull(rng, idBytes[:]); err != nil {
		return nil, err
	}
	id := int(binary.BigEndian.Uint16(idBytes[:])) & 0x7fff

	encrypted, err := Encrypt(secret, id, exponent, passphrase)
	if err != nil {
		return nil, err
	}
	data, err := SplitSecret(encrypted, k, n, rng)
	if err != nil {
		return nil, err
	}
	mnemonics := make([]string, len(data))
	for i, d := range data {
		share := &Share{
			ShareBitLength:  len(secret) * 8,
			ID:              id,
			Exponent:        exponent,
			GroupIndex:      d.X,
			GroupThreshold:  k,
			GroupCount:      n,
			MemberIndex:     0,
			MemberThreshold: 1,
			Value:           d.Value,
		}
		mnemonics[i] = share.Mnemonic()
	}
	return mnemonics, nil
}

// RecoverMnemonics parses share mnemonics and recovers the raw secret.
func RecoverMnemonics(mnemonics []string, passphrase []byte) ([]byte, error) {
	shares := make([]*Share, len(mnemonics))
	for i, m := range mnemonics {
		s, err := ParseShare(m)
		if err != nil {
			return nil, err
		}
		shares[i] = s
	}
	set, err := NewShareSet(shares)
	if err != nil {
		return nil, err
	}
	return set.Recover(passphrase)
}
