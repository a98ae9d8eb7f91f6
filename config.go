// Copyright 2024 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package deadstop

import (
	"sync/atomic"
)

// Tunable bounds and defaults of the dump configuration.
const (
	// DefaultAsmDumpRadius is the byte radius of each disassembly
	// window.
	DefaultAsmDumpRadius = 50

	// MaxAsmDumpRadius is the exclusive upper bound of the window
	// radius.
	MaxAsmDumpRadius = 0x1000

	// DefaultStringDumpSize is how many bytes of a pointed-at string
	// are echoed next to an instruction.
	DefaultStringDumpSize = 5

	// DefaultCallStackDepth is how many return addresses the unwinder
	// recovers beyond the crash site.
	DefaultCallStackDepth = 3

	// DefaultSignatureSize is the minimum number of encoded bytes
	// covered by an instruction signature.
	DefaultSignatureSize = 10
)

// Config is the process-wide dump configuration. It is immutable between
// Initialize and Uninitialize and is read by the signal handler through
// an atomic pointer; nothing is lazily constructed on the signal path.
type Config struct {
	DumpPath       string
	AsmDumpRadius  int
	StringDumpSize int
	CallStackDepth int
	SignatureSize  int
}

// activeConfig is the singleton handle the signal handler gates on. Nil
// means not initialized.
var activeConfig atomic.Pointer[Config]

// currentConfig returns the active configuration, or nil when the
// reporter is not initialized.
func currentConfig() *Config {
	return activeConfig.Load()
}

// valid reports whether every field is inside its contract.
func (c *Config) valid() bool {
	if c.DumpPath == "" {
		return false
	}
	if c.AsmDumpRadius <= 0 || c.AsmDumpRadius >= MaxAsmDumpRadius {
		return false
	}
	if c.StringDumpSize < 0 {
		return false
	}
	if c.CallStackDepth <= 0 {
		return false
	}
	if c.SignatureSize < 0 {
		return false
	}
	return true
}
