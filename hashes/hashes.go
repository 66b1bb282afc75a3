// Copyright (c) 2025 The embit developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package hashes collects the digest primitives shared by the rest of the
// module: double SHA-256, HASH160, BIP-340 tagged hashes, HMAC and PBKDF2.
package hashes

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/crypto/ripemd160"
)

// SHA256 returns the SHA-256 digest of msg.
func SHA256(msg []byte) []byte {
	h := sha256.Sum256(msg)
	return h[:]
}

// DoubleSHA256 returns sha256(sha256(msg)).
func DoubleSHA256(msg []byte) []byte {
	return chainhash.DoubleHashB(msg)
}

// RIPEMD160 returns the RIPEMD-160 digest of msg.
func RIPEMD160(msg []byte) []byte {
	h := ripemd160.New()
	h.Write(msg)
	return h.Sum(nil)
}

// Hash160 returns ripemd160(sha256(msg)).
func Hash160(msg []byte) []byte {
	return btcutil.Hash160(msg)
}

// TaggedHash returns the BIP-340 tagged hash
// sha256(sha256(tag) || sha256(tag) || msg).
func TaggedHash(tag string, msg ...[]byte) []byte {
	h := chainhash.TaggedHash(([]byte)(tag), msg...)
	return h[:]
}

// HMACSHA256 returns the HMAC-SHA256 of msg under key.
func HMACSHA256(key, msg []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(msg)
	return mac.Sum(nil)
}

// HMACSHA512 returns the HMAC-SHA512 of msg under key. BIP-32 key
// derivation and the BIP-39 seed stretch are built on this.
func HMACSHA512(key, msg []byte) []byte {
	mac := hmac.New(sha512.New, key)
	mac.Write(msg)
	return mac.Sum(nil)
}

// PBKDF2SHA512 derives keyLen bytes from the password and salt using
// PBKDF2-HMAC-SHA512.
func PBKDF2SHA512(password, salt []byte, iter, keyLen int) []byte {
	return pbkdf2.Key(password, salt, iter, keyLen, sha512.New)
}

// PBKDF2SHA256 derives keyLen bytes from the password and salt using
// PBKDF2-HMAC-SHA256.
func PBKDF2SHA256(password, salt []byte, iter, keyLen int) []byte {
	return pbkdf2.Key(password, salt, iter, keyLen, sha256.New)
}
