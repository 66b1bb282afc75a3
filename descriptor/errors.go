// Copyright (c) 2025 The embit developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package descriptor

import "errors"

var (
	// ErrInvalidDescriptor is returned for malformed descriptor
	// strings.
	ErrInvalidDescriptor = errors.New("invalid descriptor")

	// ErrInvalidKey is returned when a key expression cannot be
	// parsed.
	ErrInvalidKey = errors.New("invalid key expression")

	// ErrHardenedFromPublic is returned when a derivation template
	// asks for a hardened step under a public key.
	ErrHardenedFromPublic = errors.New("hardened derivation requires a private key")

	// ErrWildcard is returned for derivation templates that violate
	// the one-wildcard/one-branch-set rule.
	ErrWildcard = errors.New("invalid wildcard or branch set")

	// ErrBranchMismatch is returned when keys carry branch sets of
	// different lengths.
	ErrBranchMismatch = errors.New("branch sets must have the same length")

	// ErrTypeCheck is returned when a miniscript composition is not
	// type sound. It carries the failing node in the message.
	ErrTypeCheck = errors.New("miniscript type check failed")

	// ErrNotSatisfiable is returned when the satisfier cannot build a
	// witness from the available signatures and preimages.
	ErrNotSatisfiable = errors.New("cannot satisfy script")
)
