// Copyright (c) 2025 The embit developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package bip47 implements reusable payment codes: shared payment code
// encoding, notification addresses, per-payment address derivation via
// ECDH, and the payload blinding used in notification transactions.
package bip47

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/base58"

	"github.com/diybitcoinhardware/embit/address"
	"github.com/diybitcoinhardware/embit/chaincfg"
	"github.com/diybitcoinhardware/embit/ecc"
	"github.com/diybitcoinhardware/embit/hashes"
	"github.com/diybitcoinhardware/embit/hdkeychain"
	"github.com/diybitcoinhardware/embit/txscript"
	"github.com/diybitcoinhardware/embit/wire"
)

// paymentCodeVersion is the base58check version byte of payment codes
// ("P...").
const paymentCodeVersion = 0x47

// ScriptType selects the address family of derived payment addresses.
type ScriptType string

const (
	ScriptP2PKH      ScriptType = "p2pkh"
	ScriptP2WPKH     ScriptType = "p2wpkh"
	ScriptP2SHP2WPKH ScriptType = "p2sh-p2wpkh"
)

var (
	// ErrInvalidPaymentCode is returned for malformed payment code
	// strings or payloads.
	ErrInvalidPaymentCode = errors.New("invalid payment code")

	// ErrInvalidSharedSecret is returned when the ECDH shared secret
	// falls outside the group; callers retry with the next index.
	ErrInvalidSharedSecret = errors.New("shared secret invalid, try the next index")

	// ErrNotNotificationTx is returned when a transaction is not a
	// notification for the given recipient.
	ErrNotNotificationTx = errors.New("not a notification transaction")
)

// accountPath renders the BIP-47 account path m/47h/coin'/account'.
func accountPath(coin, account uint32) string {
	return fmt.Sprintf("m/47h/%dh/%dh", coin, account)
}

// PaymentCode derives the shareable version-1 payment code for a root
// key.
func PaymentCode(root *hdkeychain.ExtendedKey, coin, account uint32) (string, error) {
	node, err := root.DerivePath(accountPath(coin, account))
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	buf.WriteByte(0x01) // payment code version
	buf.WriteByte(0x00) // bitmessage flags, always zero
	buf.Write(node.PublicKey().SerializeCompressed())
	buf.Write(node.ChainCode())
	buf.Write(make([]byte, 13)) // reserved
	return base58.CheckEncode(buf.Bytes(), paymentCodeVersion), nil
}

// decode parses the 80-byte payload of a payment code string.
func decode(code string) (payload []byte, err error) {
	payload, version, err := base58.CheckDecode(code)
	if err != nil || version != paymentCodeVersion || len(payload) != 80 {
		return nil, ErrInvalidPaymentCode
	}
	if payload[0] != 0x01 {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrInvalidPaymentCode, payload[0])
	}
	return payload, nil
}

// codeNode rebuilds the watch-only node a payment code embeds.
func codeNode(code string) (*hdkeychain.ExtendedKey, error) {
	payload, err := decode(code)
	if err != nil {
		return nil, err
	}
	pub, err := ecc.ParsePublicKey(payload[2:35])
	if err != nil {
		return nil, err
	}
	var chain [32]byte
	copy(chain[:], payload[35:67])
	return hdkeychain.NewExtendedKey(
		chaincfg.MainNetParams.HDPubVersion(chaincfg.HDKeyStandard),
		0, [4]byte{}, 0, chain, nil, pub,
	)
}

// DerivedNode returns the nth non-hardened child of a payment code.
func DerivedNode(code string, index uint32) (*hdkeychain.ExtendedKey, error) {
	node, err := codeNode(code)
	if err != nil {
		return nil, err
	}
	return node.Child(index)
}

// NotificationAddress returns the address watchers monitor for
// notification transactions: the 0th derived key.
func NotificationAddress(code string, scriptType ScriptType, net *chaincfg.Params) (string, error) {
	node, err := DerivedNode(code, 0)
	if err != nil {
		return "", err
	}
	return renderAddress(node.PublicKey(), scriptType, net)
}

func renderAddress(pub *ecc.PublicKey, scriptType ScriptType, net *chaincfg.Params) (string, error) {
	switch scriptType {
	case ScriptP2PKH:
		return address.NewPubKeyHashFromKey(pub, net).String(), nil
	case ScriptP2WPKH:
		addr, err := address.NewWitnessPubKeyHash(pub, net)
		if err != nil {
			return "", err
		}
		return addr.String(), nil
	case ScriptP2SHP2WPKH:
		redeem := txscript.PayToWitnessPubKeyHashScript(pub)
		return address.NewScriptHashFromScript(redeem, net).String(), nil
	}
	return "", fmt.Errorf("unsupported script type %q", scriptType)
}

// sharedSecret computes s = SHA256(Sx) with S = a*B, rejecting values
// outside the group.
func sharedSecret(a *ecc.PrivateKey, b *ecc.PublicKey) ([]byte, error) {
	s, err := a.ECDHXOnly(b)
	if err != nil {
		return nil, err
	}
	if !ecc.SecKeyVerify(s) {
		return nil, ErrInvalidSharedSecret
	}
	return s, nil
}

// PaymentAddress derives the payer's nth payment address to the
// recipient: B' = B + SHA256((a*B).x)*G.
func PaymentAddress(payerRoot *hdkeychain.ExtendedKey, recipientCode string, index, coin, account uint32, net *chaincfg.Params, scriptType ScriptType) (string, error) {
	payerKey, err := payerRoot.DerivePath(accountPath(coin, account) + "/0")
	if err != nil {
		return "", err
	}
	a, err := payerKey.PrivateKey()
	if err != nil {
		return "", err
	}
	node, err := DerivedNode(recipientCode, index)
	if err != nil {
		return "", err
	}
	b := node.PublicKey()
	s, err := sharedSecret(a, b)
	if err != nil {
		return "", err
	}
	sKey, err := ecc.NewPrivateKey(s)
	if err != nil {
		return "", err
	}
	shared, err := ecc.Combine(b, sKey.PublicKey())
	if err != nil {
		return "", err
	}
	return renderAddress(shared, scriptType, net)
}

// ReceiveAddress derives the recipient's nth receive address from the
// payer's code, returning the spending key b' = b + s.
func ReceiveAddress(recipientRoot *hdkeychain.ExtendedKey, payerCode string, index, coin, account uint32, net *chaincfg.Params, scriptType ScriptType) (string, *ecc.PrivateKey, error) {
	payerNode, err := DerivedNode(payerCode, 0)
	if err != nil {
		return "", nil, err
	}
	recipientKey, err := recipientRoot.DerivePath(fmt.Sprintf("%s/%d", accountPath(coin, account), index))
	if err != nil {
		return "", nil, err
	}
	b, err := recipientKey.PrivateKey()
	if err != nil {
		return "", nil, err
	}
	s, err := sharedSecret(b, payerNode.PublicKey())
	if err != nil {
		return "", nil, err
	}
	sKey, err := ecc.NewPrivateKey(s)
	if err != nil {
		return "", nil, err
	}
	shared, err := ecc.Combine(recipientKey.PublicKey(), sKey.PublicKey())
	if err != nil {
		return "", nil, err
	}
	addr, err := renderAddress(shared, scriptType, net)
	if err != nil {
		return "", nil, err
	}
	spending, err := b.TweakAdd(s)
	if err != nil {
		return "", nil, err
	}
	return addr, spending, nil
}

// blind XORs the key and chain code of an 80-byte payment code payload
// with HMAC-SHA512(outpoint, Sx). Applying it twice restores the
// original, so the same function unblinds.
func blind(priv *ecc.PrivateKey, point *ecc.PublicKey, outpoint []byte, payload []byte) ([]byte, error) {
	if len(payload) != 80 {
		return nil, ErrInvalidPaymentCode
	}
	shared, err := point.TweakMul(priv.Serialize())
	if err != nil {
		return nil, err
	}
	x := shared.SerializeCompressed()[1:33]
	mask := hashes.HMACSHA512(outpoint, x)

	out := append([]byte(nil), payload...)
	for i := 0; i < 32; i++ {
		out[3+i] ^= mask[i]
		out[35+i] ^= mask[32+i]
	}
	return out, nil
}

// outpointBytes serializes the outpoint the way the notification input
// commits to it: txid (internal order reversed on the wire) plus the
// little-endian index.
func outpointBytes(op wire.OutPoint) []byte {
	out := make([]byte, 36)
	copy(out, op.Hash[:])
	out[32] = byte(op.Index)
	out[33] = byte(op.Index >> 8)
	out[34] = byte(op.Index >> 16)
	out[35] = byte(op.Index >> 24)
	return out
}

// BlindPaymentCode produces the OP_RETURN payload of a notification
// transaction: the payer's code blinded to the recipient's notification
// key using the spent outpoint.
func BlindPaymentCode(payerCode string, inputKey *ecc.PrivateKey, outpoint wire.OutPoint, recipientCode string) ([]byte, error) {
	notifNode, err := DerivedNode(recipientCode, 0)
	if err != nil {
		return nil, err
	}
	payload, err := decode(payerCode)
	if err != nil {
		return nil, err
	}
	return blind(inputKey, notifNode.PublicKey(), outpointBytes(outpoint), payload)
}

// PaymentCodeFromNotificationTx extracts the payer's payment code from
// a notification transaction addressed to the recipient, or
// ErrNotNotificationTx.
func PaymentCodeFromNotificationTx(tx *wire.MsgTx, recipientRoot *hdkeychain.ExtendedKey, coin, account uint32, net *chaincfg.Params) (string, error) {
	if len(tx.TxOut) < 2 || len(tx.TxIn) == 0 {
		return "", ErrNotNotificationTx
	}
	recipientCode, err := PaymentCode(recipientRoot, coin, account)
	if err != nil {
		return "", err
	}
	notifAddr, err := NotificationAddress(recipientCode, ScriptP2PKH, net)
	if err != nil {
		return "", err
	}

	matches := false
	var payload []byte
	for _, out := range tx.TxOut {
		if addr, err := address.FromScript(out.PkScript, net); err == nil && addr.String() == notifAddr {
			matches = true
			continue
		}
		// OP_RETURN OP_PUSHDATA1 80 <payload>
		data := out.PkScript
		if len(data) == 83 && data[0] == txscript.OP_RETURN &&
			data[1] == txscript.OP_PUSHDATA1 && data[2] == 80 && data[3] == 0x01 {
			payload = data[3:]
		}
	}
	if !matches || payload == nil {
		return "", ErrNotNotificationTx
	}

	// The designated pubkey is the first one exposed by an input.
	vin := tx.TxIn[0]
	var designated *ecc.PublicKey
	if len(vin.Witness) >= 2 {
		designated, err = ecc.ParsePublicKey(vin.Witness[len(vin.Witness)-1])
	} else if len(vin.SignatureScript) > 0 {
		sigLen := int(vin.SignatureScript[0])
		if len(vin.SignatureScript) > sigLen+2 {
			designated, err = ecc.ParsePublicKey(vin.SignatureScript[sigLen+2:])
		} else {
			err = ErrNotNotificationTx
		}
	} else {
		err = ErrNotNotificationTx
	}
	if err != nil || designated == nil {
		return "", ErrNotNotificationTx
	}

	notifKey, err := recipientRoot.DerivePath(accountPath(coin, account) + "/0")
	if err != nil {
		return "", err
	}
	b, err := notifKey.PrivateKey()
	if err != nil {
		return "", err
	}
	unblinded, err := blind(b, designated, outpointBytes(vin.PreviousOutPoint), payload)
	if err != nil {
		return "", err
	}
	return base58.CheckEncode(unblinded, paymentCodeVersion), nil
}
