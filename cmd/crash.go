// Copyright 2024 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"unsafe"

	mmap "github.com/edsrzf/mmap-go"
	"golang.org/x/sys/unix"
)

// trigger raises the requested fault on the current thread.
func trigger(mode string) {
	switch mode {
	case "null":
		crashNullWrite()
	case "wild":
		crashWildPointer()
	case "oob":
		crashOutOfBounds()
	case "fpe":
		crashDivideByZero()
	case "abort":
		crashAbort()
	case "exec":
		crashExecPage()
	}
}

// crashNullWrite dereferences address zero.
func crashNullWrite() {
	var p *uint64
	*p = 500
}

// crashWildPointer writes through an uninitialized-memory pattern
// pointer: the crash site is mapped, the operand target is not.
func crashWildPointer() {
	p := (*uint64)(unsafe.Pointer(uintptr(0xCDCDCDCDCDCDCDCD)))
	*p = 500
}

// crashOutOfBounds stores far past the end of a small buffer, well
// outside the mapping that backs it.
func crashOutOfBounds() {
	nums := []int64{1, 2, 3, 4, 5}
	fmt.Println("this is a helpful string")
	off := uintptr(1) << 34
	*(*int64)(unsafe.Add(unsafe.Pointer(&nums[0]), off)) = 10
}

// crashDivideByZero executes an integer division whose divisor the
// compiler cannot prove non-zero.
func crashDivideByZero() {
	num := int64(1000)
	den := int64(len(fmt.Sprint())) // 0, but only at run time
	fmt.Println(num / den)
}

// crashAbort raises SIGABRT on this process.
func crashAbort() {
	_ = unix.Kill(unix.Getpid(), unix.SIGABRT)
}

// execPageCode is a tiny hand-encoded routine ending in UD2, so the
// fault lands inside an anonymous executable mapping rather than the
// program text.
var execPageCode = []byte{
	0x55,             // push rbp
	0x48, 0x89, 0xE5, // mov rbp, rsp
	0x48, 0x83, 0xEC, 0x28, // sub rsp, 0x28
	0x0F, 0x0B, // ud2
}

// crashExecPage maps an anonymous RWX page, copies execPageCode into it
// and calls it.
func crashExecPage() {
	region, err := mmap.MapRegion(nil, len(execPageCode),
		mmap.RDWR|mmap.EXEC, mmap.ANON, 0)
	if err != nil {
		fmt.Printf("mapping exec page: %v\n", err)
		return
	}
	copy(region, execPageCode)

	entry := unsafe.Pointer(&region[0])
	fn := *(*func())(unsafe.Pointer(&entry))
	fn()
}
