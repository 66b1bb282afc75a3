// Copyright (c) 2013-2024 The btcsuite developers
// Copyright (c) 2025 The embit developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package descriptor

import (
	"github.com/btcsuite/btclog"
)

// log is a package-level logger that is disabled by default.
var log btclog.Logger

func init() {
	DisableLog()
}

// DisableLog disables all library log output.
func DisableLog() {
	log = btclog.Disabled
}

// UseLogger uses a specified Logger to output package logging info.
func UseLogger(logger btclog.Logger) {
	log = logger
}
