// Copyright (c) 2025 The embit developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package psbt

import "errors"

var (
	// ErrInvalidMagic is returned when the psbt magic prefix is
	// missing.
	ErrInvalidMagic = errors.New("invalid PSBT magic")

	// ErrDuplicateKey is returned when a scope repeats a key.
	ErrDuplicateKey = errors.New("duplicate key in scope")

	// ErrInvalidField is returned for a recognized field with a
	// malformed key or value.
	ErrInvalidField = errors.New("invalid field encoding")

	// ErrMissingTx is returned when a v0 PSBT lacks the global
	// unsigned transaction, or a v2 one lacks the required global
	// fields.
	ErrMissingTx = errors.New("missing global transaction data")

	// ErrMissingUtxo is returned when an input has neither a witness
	// nor a non-witness utxo.
	ErrMissingUtxo = errors.New("input has no utxo information")

	// ErrInvalidUtxo is returned when a non-witness utxo does not
	// match the input it is attached to.
	ErrInvalidUtxo = errors.New("utxo does not match input")

	// ErrDerivationMismatch is returned when a derived public key does
	// not match the key a derivation field was stored under.
	ErrDerivationMismatch = errors.New("derived key does not match stored pubkey")

	// ErrInvalidScopeIndex is returned for out-of-range input/output
	// indices.
	ErrInvalidScopeIndex = errors.New("scope index out of range")

	// ErrIncompleteSignatures is returned by the finalizer when the
	// collected partial signatures cannot satisfy an input.
	ErrIncompleteSignatures = errors.New("cannot finalize: incomplete signatures")
)

// maxFieldSize bounds a single key or value allocation. Non-witness
// utxos can be full transactions, so the bound is generous.
const maxFieldSize = 4_000_000
