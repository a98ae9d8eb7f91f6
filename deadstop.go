// Copyright 2024 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

// Package deadstop is an in-process post-mortem crash reporter for
// Linux/AMD64 programs. Once initialized it traps the fatal asynchronous
// signals and, on delivery, writes a structured forensic report: signal
// identity, general purpose registers, the process memory map, a
// disassembly window around the crashing instruction, a heuristically
// unwound call stack that needs neither debug information nor frame
// pointers, and a wildcarded byte signature per frame. The process then
// terminates.
//
// The handler deliberately performs buffered I/O and allocation inside
// the signal context. That trade — a rich report against strict
// async-signal safety — is intentional and should be understood by
// integrators.
package deadstop

import (
	"os"

	"github.com/saferwall/deadstop/log"
)

// ErrCode is the status of an initialization surface call.
type ErrCode int

const (
	// ErrCodeSuccess means the call completed.
	ErrCodeSuccess ErrCode = iota

	// ErrCodeFailedInit means the configuration was rejected or the
	// reporter was already initialized.
	ErrCodeFailedInit

	// ErrCodeFailedToStartSubModules means the signal handlers could
	// not be installed.
	ErrCodeFailedToStartSubModules
)

// errMessages maps error codes to user readable text.
var errMessages = map[ErrCode]string{
	ErrCodeSuccess:                 "success",
	ErrCodeFailedInit:              "invalid configuration or already initialized",
	ErrCodeFailedToStartSubModules: "failed to install fatal signal handlers",
}

// GetErrorMessage returns the human readable description of code.
func GetErrorMessage(code ErrCode) string {
	if msg, ok := errMessages[code]; ok {
		return msg
	}
	return "unknown error code"
}

// Options tunes the reporter. The zero value of any numeric field picks
// its default; Logger defaults to a stderr logger filtered to errors.
type Options struct {

	// Byte radius of every disassembly window, in (0, 0x1000).
	AsmDumpRadius int

	// Bytes of pointed-at string data echoed per instruction.
	StringDumpSize int

	// How many caller frames to recover beyond the crash site.
	CallStackDepth int

	// Minimum encoded bytes covered by a frame signature.
	SignatureSize int

	// A custom logger.
	Logger log.Logger
}

// logger backs the library's own diagnostics. It always holds a usable
// helper; Initialize swaps in the caller's logger when one is provided.
var logger = defaultLogger()

func defaultLogger() *log.Helper {
	return log.NewHelper(log.NewFilter(log.NewStdLogger(os.Stderr),
		log.FilterLevel(log.LevelError)))
}

// Initialize validates the configuration, publishes it to the signal
// path and installs the handlers for SIGSEGV, SIGILL, SIGTRAP, SIGABRT,
// SIGFPE and SIGBUS. A second call without an intervening Uninitialize
// fails.
func Initialize(dumpPath string, opts *Options) ErrCode {
	if opts == nil {
		opts = &Options{}
	}
	if opts.Logger == nil {
		logger = defaultLogger()
	} else {
		logger = log.NewHelper(opts.Logger)
	}

	cfg := &Config{
		DumpPath:       dumpPath,
		AsmDumpRadius:  opts.AsmDumpRadius,
		StringDumpSize: opts.StringDumpSize,
		CallStackDepth: opts.CallStackDepth,
		SignatureSize:  opts.SignatureSize,
	}
	if cfg.AsmDumpRadius == 0 {
		cfg.AsmDumpRadius = DefaultAsmDumpRadius
	}
	if cfg.StringDumpSize == 0 {
		cfg.StringDumpSize = DefaultStringDumpSize
	}
	if cfg.CallStackDepth == 0 {
		cfg.CallStackDepth = DefaultCallStackDepth
	}
	if cfg.SignatureSize == 0 {
		cfg.SignatureSize = DefaultSignatureSize
	}

	if !cfg.valid() {
		logger.Errorf("rejecting dump configuration: %+v", cfg)
		return ErrCodeFailedInit
	}
	if !activeConfig.CompareAndSwap(nil, cfg) {
		logger.Errorf("already initialized, dump path %s", currentConfig().DumpPath)
		return ErrCodeFailedInit
	}
	if err := installSignalHandlers(); err != nil {
		activeConfig.Store(nil)
		logger.Errorf("installing signal handlers: %v", err)
		return ErrCodeFailedToStartSubModules
	}
	return ErrCodeSuccess
}

// Uninitialize restores the previous signal dispositions and withdraws
// the configuration from the signal path.
func Uninitialize() ErrCode {
	if activeConfig.Swap(nil) != nil {
		restoreSignalHandlers()
	}
	return ErrCodeSuccess
}
