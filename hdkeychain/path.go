// Copyright (c) 2025 The embit developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package hdkeychain

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidPath is returned for malformed textual derivation paths.
var ErrInvalidPath = errors.New("invalid derivation path")

// ParsePath converts a textual derivation path into child indices. The
// leading "m" (or "m/") is optional, components may carry an "h" or "'"
// hardened suffix, and a trailing slash is tolerated.
func ParsePath(path string) ([]uint32, error) {
	parts := strings.Split(path, "/")
	if len(parts) > 0 && (parts[0] == "m" || parts[0] == "M") {
		parts = parts[1:]
	}
	if len(parts) > 0 && parts[len(parts)-1] == "" {
		parts = parts[:len(parts)-1]
	}
	out := make([]uint32, 0, len(parts))
	for _, part := range parts {
		if part == "" {
			return nil, fmt.Errorf("%w: empty component", ErrInvalidPath)
		}
		hardened := false
		if last := part[len(part)-1]; last == 'h' || last == 'H' || last == '\'' {
			hardened = true
			part = part[:len(part)-1]
		}
		idx, err := strconv.ParseUint(part, 10, 32)
		if err != nil || idx >= uint64(HardenedKeyStart) {
			return nil, fmt.Errorf("%w: component %q", ErrInvalidPath, part)
		}
		if hardened {
			idx += uint64(HardenedKeyStart)
		}
		out = append(out, uint32(idx))
	}
	return out, nil
}

// PathString renders child indices in the textual form, using "h" for
// hardened components. With a non-nil fingerprint the path starts with
// its hex form instead of "m", the rendering key origins use.
func PathString(path []uint32, fingerprint []byte) string {
	var sb strings.Builder
	if fingerprint == nil {
		sb.WriteString("m")
	} else {
		sb.WriteString(hex.EncodeToString(fingerprint))
	}
	for _, idx := range path {
		if idx >= HardenedKeyStart {
			fmt.Fprintf(&sb, "/%dh", idx-HardenedKeyStart)
		} else {
			fmt.Fprintf(&sb, "/%d", idx)
		}
	}
	return sb.String()
}
