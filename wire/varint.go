// Copyright (c) 2013-2024 The btcsuite developers
// Copyright (c) 2025 The embit developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package wire implements Bitcoin transaction serialization: compact-size
// integers, inputs, outputs, witnesses and the segwit marker/flag rule.
package wire

import (
	"errors"
	"fmt"
	"io"
)

// ErrNonCanonicalVarInt is returned when a compact-size integer uses more
// bytes than necessary. Consensus rejects such encodings on read.
var ErrNonCanonicalVarInt = errors.New("non-canonical compact size")

// ReadVarInt reads a canonically-encoded compact-size integer from r.
func ReadVarInt(r io.Reader) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:1]); err != nil {
		return 0, err
	}
	discriminant := b[0]
	var rv uint64
	switch discriminant {
	case 0xff:
		if _, err := io.ReadFull(r, b[:8]); err != nil {
			return 0, err
		}
		rv = le64(b[:8])
		if rv < 0x100000000 {
			return 0, ErrNonCanonicalVarInt
		}
	case 0xfe:
		if _, err := io.ReadFull(r, b[:4]); err != nil {
			return 0, err
		}
		rv = uint64(le32(b[:4]))
		if rv < 0x10000 {
			return 0, ErrNonCanonicalVarInt
		}
	case 0xfd:
		if _, err := io.ReadFull(r, b[:2]); err != nil {
			return 0, err
		}
		rv = uint64(le16(b[:2]))
		if rv < 0xfd {
			return 0, ErrNonCanonicalVarInt
		}
	default:
		rv = uint64(discriminant)
	}
	return rv, nil
}

// WriteVarInt writes val as a canonical compact-size integer.
func WriteVarInt(w io.Writer, val uint64) error {
	switch {
	case val < 0xfd:
		_, err := w.Write([]byte{byte(val)})
		return err
	case val <= 0xffff:
		_, err := w.Write([]byte{0xfd, byte(val), byte(val >> 8)})
		return err
	case val <= 0xffffffff:
		_, err := w.Write([]byte{0xfe, byte(val), byte(val >> 8), byte(val >> 16), byte(val >> 24)})
		return err
	default:
		buf := [9]byte{0xff}
		putLE64(buf[1:], val)
		_, err := w.Write(buf[:])
		return err
	}
}

// VarIntSerializeSize returns the number of bytes WriteVarInt emits for
// val.
func VarIntSerializeSize(val uint64) int {
	switch {
	case val < 0xfd:
		return 1
	case val <= 0xffff:
		return 3
	case val <= 0xffffffff:
		return 5
	default:
		return 9
	}
}

// ReadVarBytes reads a compact-size length prefix followed by that many
// bytes. maxAllowed bounds the allocation.
func ReadVarBytes(r io.Reader, maxAllowed uint64, fieldName string) ([]byte, error) {
	count, err := ReadVarInt(r)
	if err != nil {
		return nil, err
	}
	if count > maxAllowed {
		return nil, fmt.Errorf("%s length %d exceeds max %d", fieldName, count, maxAllowed)
	}
	b := make([]byte, count)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

// WriteVarBytes writes a compact-size length prefix followed by b.
func WriteVarBytes(w io.Writer, b []byte) error {
	if err := WriteVarInt(w, uint64(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

func le16(b []byte) uint16 {
	return uint16(b[0]) | uint16(b[1])<<8
}

func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func le64(b []byte) uint64 {
	return uint64(le32(b[:4])) | uint64(le32(b[4:8]))<<32
}

func putLE32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func putLE64(b []byte, v uint64) {
	putLE32(b[:4], uint32(v))
	putLE32(b[4:], uint32(v>>32))
}

// readLE32 reads a little-endian uint32 from r.
func readLE32(r io.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return le32(b[:]), nil
}

// writeLE32 writes v little-endian to w.
func writeLE32(w io.Writer, v uint32) error {
	var b [4]byte
	putLE32(b[:], v)
	_, err := w.Write(b[:])
	return err
}

// readLE64 reads a little-endian uint64 from r.
func readLE64(r io.Reader) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return le64(b[:]), nil
}

// writeLE64 writes v little-endian to w.
func writeLE64(w io.Writer, v uint64) error {
	var b [8]byte
	putLE64(b[:], v)
	_, err := w.Write(b[:])
	return err
}
