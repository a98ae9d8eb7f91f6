// Copyright 2024 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

//go:build linux && amd64

package deadstop

import (
	"encoding/binary"
	"testing"
)

func TestEffectiveAddressRIPRelative(t *testing.T) {
	// mov rax, [rip+0x4d2]: resolves against the next instruction
	// address, not register 5.
	rec := decodeOne(t, []byte{0x48, 0x8B, 0x05, 0xD2, 0x04, 0x00, 0x00})
	regs := testRegs()
	regs[RegRBP] = 0xBAD0000

	ea, ok := EffectiveAddress(rec, 0x7000, regs)
	if !ok {
		t.Fatal("EffectiveAddress failed")
	}
	if want := uint64(0x7000 + 0x4D2); ea != want {
		t.Errorf("ea = %#x, want %#x", ea, want)
	}
}

func TestEffectiveAddressNegativeDisp(t *testing.T) {
	// mov rax, [rbp-8]: the 8-bit displacement is sign extended, and
	// the legacy register table reads an rm of 101b as RSI.
	rec := decodeOne(t, []byte{0x48, 0x8B, 0x45, 0xF8})
	regs := testRegs()
	regs[RegRSI] = 0x5000

	ea, ok := EffectiveAddress(rec, 0, regs)
	if !ok {
		t.Fatal("EffectiveAddress failed")
	}
	if want := uint64(0x4FF8); ea != want {
		t.Errorf("ea = %#x, want %#x", ea, want)
	}
}

func TestEffectiveAddressSIB(t *testing.T) {

	tests := []struct {
		name string
		in   []byte
		prep func(*RegisterFile)
		want func(*RegisterFile) uint64
	}{
		{
			// Index field 100b with no REX.X means no index at all;
			// the legacy table reads a base selector of 100b as RBP.
			"mov rax, [rsp]",
			[]byte{0x48, 0x8B, 0x04, 0x24},
			nil,
			func(r *RegisterFile) uint64 { return r[RegRBP] },
		},
		{
			"mov rax, [rbx+rcx*4]",
			[]byte{0x48, 0x8B, 0x04, 0x8B},
			nil,
			func(r *RegisterFile) uint64 { return r[RegRBX] + r[RegRCX]*4 },
		},
		{
			// REX.X widens the index field: r13 is a usable index.
			"mov eax, [rcx+r13*4]",
			[]byte{0x42, 0x8B, 0x04, 0xA9},
			nil,
			func(r *RegisterFile) uint64 { return r[RegRCX] + r[RegR13]*4 },
		},
		{
			// base == 101b with mod == 00b contributes no base.
			"mov rax, [disp32]",
			[]byte{0x48, 0x8B, 0x04, 0x25, 0x44, 0x33, 0x22, 0x11},
			nil,
			func(*RegisterFile) uint64 { return 0x11223344 },
		},
		{
			// base == 101b with mod == 01b reads RBP, disp truncated
			// to 8 bits.
			"mov rax, [rbp-0x10]",
			[]byte{0x48, 0x8B, 0x44, 0x25, 0xF0},
			nil,
			func(r *RegisterFile) uint64 { return r[RegRBP] - 0x10 },
		},
		{
			// base == 101b with mod == 10b reads RBP with disp32.
			"mov rax, [rbp+0x100]",
			[]byte{0x48, 0x8B, 0x84, 0x25, 0x00, 0x01, 0x00, 0x00},
			nil,
			func(r *RegisterFile) uint64 { return r[RegRBP] + 0x100 },
		},
		{
			// REX.B widens the base selector: r13 with disp8.
			"mov rax, [r13+0]",
			[]byte{0x49, 0x8B, 0x45, 0x00},
			nil,
			func(r *RegisterFile) uint64 { return r[RegR13] },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := decodeOne(t, tt.in)
			regs := testRegs()
			if tt.prep != nil {
				tt.prep(regs)
			}
			ea, ok := EffectiveAddress(rec, 0, regs)
			if !ok {
				t.Fatal("EffectiveAddress failed")
			}
			if want := tt.want(regs); ea != want {
				t.Errorf("ea = %#x, want %#x", ea, want)
			}
		})
	}
}

func TestEffectiveAddressRegisterDirect(t *testing.T) {
	// mov rbp, rsp has mod == 11b: no memory operand to resolve.
	rec := decodeOne(t, []byte{0x48, 0x89, 0xE5})
	if _, ok := EffectiveAddress(rec, 0, testRegs()); ok {
		t.Error("EffectiveAddress resolved a register-direct operand")
	}
}

func TestRegOrMemValue(t *testing.T) {
	regs := testRegs()
	mm := &MemoryMap{}

	// Register-direct form: mov rbp, rsp carries rm == 101b, which the
	// legacy register table reads as RSI.
	rec := decodeOne(t, []byte{0x48, 0x89, 0xE5})
	v, ok := RegOrMemValue(rec, 0, regs, mm)
	if !ok {
		t.Fatal("RegOrMemValue failed on a register-direct operand")
	}
	if v != regs[RegRSI] {
		t.Errorf("value = %#x, want RSI %#x", v, regs[RegRSI])
	}
}

func TestMemOperandValue(t *testing.T) {
	data := make([]byte, 64)
	binary.LittleEndian.PutUint64(data, 0xDEADBEEF)
	mm := mapFor(data)

	regs := testRegs()
	// The SIB base selector of [rsp] resolves through the legacy table
	// to RBP.
	regs[RegRBP] = byteAddr(data)

	// mov rax, [rsp]
	rec := decodeOne(t, []byte{0x48, 0x8B, 0x04, 0x24})
	v, ok := MemOperandValue(rec, 0, regs, mm)
	if !ok {
		t.Fatal("MemOperandValue failed")
	}
	if v != 0xDEADBEEF {
		t.Errorf("loaded %#x, want 0xDEADBEEF", v)
	}

	// An unmapped operand target yields no value at all.
	regs[RegRBP] = 0xCDCDCDCDCDCDCDCD
	if _, ok := MemOperandValue(rec, 0, regs, mm); ok {
		t.Error("MemOperandValue read through an unmapped target")
	}
}

func TestSignExtension(t *testing.T) {

	tests := []struct {
		in   []byte
		want int64
	}{
		{[]byte{0xF8}, -8},
		{[]byte{0x7F}, 127},
		{[]byte{0x00, 0x80}, -32768},
		{[]byte{0xFF, 0xFF, 0xFF, 0xFF}, -1},
		{[]byte{0x44, 0x33, 0x22, 0x11}, 0x11223344},
		{[]byte{}, 0},
		{[]byte{0x01, 0x02, 0x03}, 0},
	}
	for _, tt := range tests {
		if got := signExtendDisp(tt.in); got != tt.want {
			t.Errorf("signExtendDisp(% X) = %d, want %d", tt.in, got, tt.want)
		}
	}

	if got := signExtendImm([]byte{0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77, 0x88}); got != int64(-8613303245920329199) {
		t.Errorf("signExtendImm 8-byte = %d", got)
	}
}
