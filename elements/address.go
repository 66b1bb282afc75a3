// Copyright (c) 2025 The embit developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package elements

import (
	"errors"

	"github.com/btcsuite/btcd/btcutil/base58"

	"github.com/diybitcoinhardware/embit/chaincfg"
	"github.com/diybitcoinhardware/embit/ecc"
	"github.com/diybitcoinhardware/embit/hashes"
)

// ErrInvalidConfidentialAddress is returned for malformed confidential
// address strings.
var ErrInvalidConfidentialAddress = errors.New("invalid confidential address")

// ConfidentialAddress pairs a base address hash with the receiver's
// blinding public key.
type ConfidentialAddress struct {
	// BlindingKey is the receiver's blinding public key.
	BlindingKey *ecc.PublicKey

	// PayloadVersion is the embedded p2pkh/p2sh version byte.
	PayloadVersion byte

	// Hash is the 20-byte pubkey or script hash.
	Hash [20]byte

	net *chaincfg.Params
}

// NewConfidentialP2PKH builds a confidential p2pkh address.
func NewConfidentialP2PKH(blinding *ecc.PublicKey, pub *ecc.PublicKey, net *chaincfg.Params) *ConfidentialAddress {
	a := &ConfidentialAddress{
		BlindingKey:    blinding,
		PayloadVersion: net.PubKeyHashAddrID,
		net:            net,
	}
	copy(a.Hash[:], hashes.Hash160(pub.Sec()))
	return a
}

// NewConfidentialP2SH builds a confidential p2sh address for a redeem
// script.
func NewConfidentialP2SH(blinding *ecc.PublicKey, redeem []byte, net *chaincfg.Params) *ConfidentialAddress {
	a := &ConfidentialAddress{
		BlindingKey:    blinding,
		PayloadVersion: net.ScriptHashAddrID,
		net:            net,
	}
	copy(a.Hash[:], hashes.Hash160(redeem))
	return a
}

// String renders the base58check confidential form: the network's
// blinded prefix, the payload version, the 33-byte blinding key and the
// hash.
func (a *ConfidentialAddress) String() string {
	payload := make([]byte, 0, 1+33+20)
	payload = append(payload, a.PayloadVersion)
	payload = append(payload, a.BlindingKey.SerializeCompressed()...)
	payload = append(payload, a.Hash[:]...)
	return base58.CheckEncode(payload, a.net.BlindedPrefix)
}

// ParseConfidentialAddress decodes a confidential base58 address for
// the network.
func ParseConfidentialAddress(addr string, net *chaincfg.Params) (*ConfidentialAddress, error) {
	payload, version, err := base58.CheckDecode(addr)
	if err != nil || version != net.BlindedPrefix || len(payload) != 54 {
		return nil, ErrInvalidConfidentialAddress
	}
	blinding, err := ecc.ParsePublicKey(payload[1:34])
	if err != nil {
		return nil, ErrInvalidConfidentialAddress
	}
	a := &ConfidentialAddress{
		BlindingKey:    blinding,
		PayloadVersion: payload[0],
		net:            net,
	}
	copy(a.Hash[:], payload[34:])
	return a, nil
}

// UnconfidentialAddress strips the blinding key, returning the plain
// base58 address.
func (a *ConfidentialAddress) UnconfidentialAddress() string {
	return base58.CheckEncode(a.Hash[:], a.PayloadVersion)
}
