// Copyright 2024 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

//go:build linux && amd64

package deadstop

import (
	"strings"
	"testing"
)

// nopBuffer returns n live bytes of single-byte NOPs.
func nopBuffer(n int) []byte {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = 0x90
	}
	return buf
}

func TestNewWindowAligned(t *testing.T) {
	buf := nopBuffer(512)
	mm := mapFor(buf)
	pivot := byteAddr(buf) + 256

	w, err := NewWindow(pivot, 50, 0, mm, testRegs(), NewArena(256))
	if err != nil {
		t.Fatalf("NewWindow failed, reason: %v", err)
	}
	if w.Radius != 50 {
		t.Errorf("radius = %d, want 50", w.Radius)
	}

	// Some emitted instruction starts exactly at the pivot.
	found := false
	for _, line := range w.Lines {
		if line.Addr == pivot {
			found = true
			if !line.IsPivot {
				t.Error("line at the pivot address is not tagged as pivot")
			}
		}
	}
	if !found {
		t.Error("no window line starts at the pivot address")
	}
	if w.Lines[w.PivotIndex].Addr != pivot {
		t.Errorf("PivotIndex points at %#x, want %#x",
			w.Lines[w.PivotIndex].Addr, pivot)
	}
}

func TestNewWindowSkewRecovery(t *testing.T) {
	// Fill the buffer with 5-byte instructions (mov eax, imm32) so a
	// window whose radius is not a multiple of five starts
	// mid-instruction and the decode has to slide to realign.
	buf := make([]byte, 512)
	pattern := []byte{0xB8, 0x11, 0x22, 0x33, 0x44}
	for i := 0; i < len(buf); i++ {
		buf[i] = pattern[i%5]
	}
	mm := mapFor(buf)
	pivot := byteAddr(buf) + 250 // a genuine instruction boundary

	w, err := NewWindow(pivot, 52, 0, mm, testRegs(), NewArena(256))
	if err != nil {
		t.Fatalf("NewWindow failed, reason: %v", err)
	}
	line := w.Lines[w.PivotIndex]
	if line.Addr != pivot {
		t.Fatalf("pivot line at %#x, want %#x", line.Addr, pivot)
	}
	if !strings.HasPrefix(line.Text, "mov") {
		t.Errorf("pivot decoded as %q, want the synthesized mov", line.Text)
	}
}

func TestNewWindowRadiusDowngrade(t *testing.T) {
	buf := nopBuffer(200)
	mm := mapFor(buf)
	pivot := byteAddr(buf) + 100

	// A 150 byte radius cannot fit inside the 200 byte region; the
	// window must shrink to 100 exactly once and then succeed.
	w, err := NewWindow(pivot, 150, 0, mm, testRegs(), NewArena(256))
	if err != nil {
		t.Fatalf("NewWindow failed, reason: %v", err)
	}
	if w.Radius != windowFallbackRadius {
		t.Errorf("radius = %d, want downgrade to %d", w.Radius, windowFallbackRadius)
	}
}

func TestNewWindowUnreadable(t *testing.T) {
	buf := nopBuffer(64)
	mm := mapFor(buf)
	pivot := byteAddr(buf) + 32

	// Too small even for the downgraded radius.
	if _, err := NewWindow(pivot, 150, 0, mm, testRegs(), NewArena(256)); err != ErrWindowUnreadable {
		t.Errorf("err = %v, want ErrWindowUnreadable", err)
	}
	// A small radius that still spills out of the region fails without
	// any downgrade attempt.
	if _, err := NewWindow(pivot, 40, 0, mm, testRegs(), NewArena(256)); err != ErrWindowUnreadable {
		t.Errorf("err = %v, want ErrWindowUnreadable", err)
	}
}

func TestNewWindowPivotNotMapped(t *testing.T) {
	mm := &MemoryMap{Regions: []MemoryRegion{{Start: 0x1000, End: 0x2000}}}
	if _, err := NewWindow(0x4000, 50, 0, mm, testRegs(), NewArena(256)); err != ErrPivotNotMapped {
		t.Errorf("err = %v, want ErrPivotNotMapped", err)
	}
}

func TestWindowStringAnnotation(t *testing.T) {
	buf := nopBuffer(512)
	// lea rsi, [rip+disp] at offset 100; the operand resolves to the
	// string placed at offset 456.
	code := []byte{0x48, 0x8D, 0x35, 0x00, 0x00, 0x00, 0x00}
	copy(buf[100:], code)
	// disp = target - ripAfter; ripAfter is offset 107.
	disp := uint32(456 - 107)
	buf[103] = byte(disp)
	buf[104] = byte(disp >> 8)
	buf[105] = byte(disp >> 16)
	buf[106] = byte(disp >> 24)
	copy(buf[456:], []byte("helpful\x00"))

	mm := mapFor(buf)
	pivot := byteAddr(buf) + 100

	tests := []struct {
		dumpSize int
		want     string
	}{
		{5, "helpf"},
		{16, "helpful"}, // stops at NUL
		{0, ""},
	}
	for _, tt := range tests {
		w, err := NewWindow(pivot, 20, tt.dumpSize, mm, testRegs(), NewArena(256))
		if err != nil {
			t.Fatalf("NewWindow failed, reason: %v", err)
		}
		if got := w.Lines[w.PivotIndex].StrNote; got != tt.want {
			t.Errorf("dumpSize %d: note = %q, want %q", tt.dumpSize, got, tt.want)
		}
	}
}
