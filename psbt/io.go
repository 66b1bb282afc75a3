// Copyright (c) 2025 The embit developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package psbt

import (
	"bytes"
	"io"

	"github.com/diybitcoinhardware/embit/wire"
)

// kv is one raw key-value pair of a PSBT scope. The key includes the
// type prefix.
type kv struct {
	Key   []byte
	Value []byte
}

// readKey reads one length-prefixed key. An empty key is the scope
// separator and returns ok=false.
func readKey(r io.Reader) (key []byte, ok bool, err error) {
	key, err = wire.ReadVarBytes(r, maxFieldSize, "psbt key")
	if err != nil {
		return nil, false, err
	}
	if len(key) == 0 {
		return nil, false, nil
	}
	return key, true, nil
}

// readValue reads one length-prefixed value.
func readValue(r io.Reader) ([]byte, error) {
	return wire.ReadVarBytes(r, maxFieldSize, "psbt value")
}

// writeKV writes a key-value pair with length prefixes.
func writeKV(w io.Writer, key, value []byte) error {
	if err := wire.WriteVarBytes(w, key); err != nil {
		return err
	}
	return wire.WriteVarBytes(w, value)
}

// writeSeparator terminates a scope.
func writeSeparator(w io.Writer) error {
	_, err := w.Write([]byte{0x00})
	return err
}

// keyWithPrefix concatenates a type byte with key data.
func keyWithPrefix(keyType byte, data []byte) []byte {
	out := make([]byte, 0, 1+len(data))
	out = append(out, keyType)
	return append(out, data...)
}

// singleKey returns the one-byte key of a singleton field.
func singleKey(keyType byte) []byte {
	return []byte{keyType}
}

// compactBytes renders a value as a bare compact-size integer, the
// encoding of the v2 input/output count fields.
func compactBytes(v uint64) []byte {
	var buf bytes.Buffer
	_ = wire.WriteVarInt(&buf, v)
	return buf.Bytes()
}
