// Copyright 2024 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

//go:build linux && amd64

package deadstop

/*
#include <stdint.h>
*/
import "C"

import "unsafe"

// deadstopOnSignal receives the signal number and the flattened mcontext
// register file from the C trampoline and hands them to the Go handler.
//
//export deadstopOnSignal
func deadstopOnSignal(sig C.int, gregs *C.uint64_t) {
	var regs RegisterFile
	src := unsafe.Slice((*uint64)(unsafe.Pointer(gregs)), RegCount)
	copy(regs[:], src)
	handleFatalSignal(int(sig), &regs)
}
