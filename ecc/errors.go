// Copyright (c) 2025 The embit developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package ecc

import "errors"

var (
	// ErrInvalidScalar is returned when a 32-byte secret is zero or not
	// below the secp256k1 group order.
	ErrInvalidScalar = errors.New("scalar out of range")

	// ErrPointNotOnCurve is returned when public key bytes do not
	// describe a valid curve point.
	ErrPointNotOnCurve = errors.New("point not on curve")

	// ErrInvalidSignature is returned for malformed DER, compact or
	// Schnorr signature encodings and for message or nonce inputs of the
	// wrong length. High-S signatures are not rejected when parsed;
	// Signature.Verify reports them as invalid.
	ErrInvalidSignature = errors.New("invalid signature encoding")

	// ErrInfinity is returned when a point operation would produce the
	// point at infinity.
	ErrInfinity = errors.New("result is the point at infinity")

	// ErrInvalidWIF is returned when a WIF string fails to decode.
	ErrInvalidWIF = errors.New("invalid WIF encoding")
)
