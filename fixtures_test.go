// Copyright 2024 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

//go:build linux && amd64

package deadstop

import (
	"testing"
	"unsafe"
)

// byteAddr returns the virtual address of the first byte of b.
func byteAddr(b []byte) uint64 {
	return uint64(uintptr(unsafe.Pointer(&b[0])))
}

// pinned keeps every buffer handed to mapFor reachable from a package
// variable. That forces the buffers onto the heap, where they never move;
// a buffer left on a goroutine stack could be copied elsewhere by stack
// growth and no longer match the addresses recorded in the map.
var pinned [][]byte

// mapFor builds a MemoryMap whose regions cover exactly the given live
// buffers, so address validation can be exercised against real, readable
// process memory without loading /proc/self/maps.
func mapFor(bufs ...[]byte) *MemoryMap {
	pinned = append(pinned, bufs...)
	mm := &MemoryMap{}
	for _, b := range bufs {
		r := MemoryRegion{
			Start: byteAddr(b),
			End:   byteAddr(b) + uint64(len(b)),
			Perms: "rw-p",
		}
		mm.Regions = append(mm.Regions, r)
		mm.Lines = append(mm.Lines, r.String())
	}
	return mm
}

// decodeOne decodes exactly one instruction from the front of b.
func decodeOne(t *testing.T, b []byte) *Instruction {
	t.Helper()
	records, err := Decode(b, NewArena(4))
	if err != nil {
		t.Fatalf("Decode(% X) failed, reason: %v", b, err)
	}
	return records[0]
}

// testRegs returns a register file with distinct, recognizable values.
func testRegs() *RegisterFile {
	regs := &RegisterFile{}
	for i := 0; i < RegCount; i++ {
		regs[i] = 0x1000 * uint64(i+1)
	}
	return regs
}
