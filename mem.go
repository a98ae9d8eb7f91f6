// Copyright 2024 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

//go:build linux && amd64

package deadstop

import (
	"encoding/binary"
	"unsafe"
)

// peek copies n bytes of live process memory starting at addr. The caller
// must have validated [addr, addr+n) against the MemoryMap immediately
// before calling; peek itself performs no checking.
func peek(addr uint64, n int) []byte {
	src := unsafe.Slice((*byte)(unsafe.Pointer(uintptr(addr))), n)
	out := make([]byte, n)
	copy(out, src)
	return out
}

// peekQword reads a little-endian 64-bit value at addr. Same caller
// contract as peek.
func peekQword(addr uint64) uint64 {
	return binary.LittleEndian.Uint64(peek(addr, 8))
}
