// Copyright 2024 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

//go:build linux && amd64

package deadstop

import (
	"os"

	"golang.org/x/sys/unix"
)

// handleFatalSignal is the Go half of the signal path. It runs on the
// faulting thread. Without an active configuration, or when the dump file
// cannot be opened, it returns silently. Otherwise it writes every report
// section it can and does not return: the process exits with status 1.
// Errors stay inside; nothing propagates past this function.
func handleFatalSignal(sig int, regs *RegisterFile) {
	cfg := currentConfig()
	if cfg == nil {
		return
	}
	f, err := os.OpenFile(cfg.DumpPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}

	rw := newReportWriter(f)
	rw.writeHeader(sig)

	mm := &MemoryMap{}
	mapsErr := mm.Load()
	if mapsErr != nil {
		rw.writeMapsFailure(mapsErr)
	} else {
		rw.writeMaps(mm)
	}

	rw.writeRegisters(regs)

	if mapsErr == nil {
		arena := NewArena(512)
		ctx := &UnwindContext{
			CrashRIP: regs[RegRIP],
			Regs:     regs,
			Map:      mm,
		}
		stack := UnwindCallStack(ctx, cfg.CallStackDepth, arena)
		rw.writeCallStack(stack)

		for i, addr := range stack {
			w, err := NewWindow(addr, uint64(cfg.AsmDumpRadius),
				cfg.StringDumpSize, mm, regs, arena)
			if err != nil {
				rw.writeFrameFailure(i, addr, err)
				continue
			}
			signature := EmitSignature(w.Instructions(), w.PivotIndex, cfg.SignatureSize)
			rw.writeFrameWindow(i, addr, w, signature)
		}
	}

	rw.writeFooter()
	rw.flush()
	f.Close()
	unix.Exit(1)
}
