// Copyright 2024 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package deadstop

import "golang.org/x/arch/x86/x86asm"

// General purpose register indices, in the layout the kernel hands to a
// SA_SIGINFO handler (glibc mcontext gregs order, NGREG slots).
const (
	RegR8 = iota
	RegR9
	RegR10
	RegR11
	RegR12
	RegR13
	RegR14
	RegR15
	RegRDI
	RegRSI
	RegRBP
	RegRBX
	RegRDX
	RegRAX
	RegRCX
	RegRSP
	RegRIP
	RegEFL
	RegCSGSFS
	RegERR
	RegTRAPNO
	RegOLDMASK
	RegCR2

	// RegCount is the number of slots in a RegisterFile.
	RegCount = 23
)

// RegisterFile is a snapshot of the general purpose register state at the
// moment a fatal signal was raised. It is read-only once captured.
type RegisterFile [RegCount]uint64

// regNames maps register indices to the names used in the report dump.
var regNames = [RegCount]string{
	"REG_R8", "REG_R9", "REG_R10", "REG_R11", "REG_R12", "REG_R13",
	"REG_R14", "REG_R15", "REG_RDI", "REG_RSI", "REG_RBP", "REG_RBX",
	"REG_RDX", "REG_RAX", "REG_RCX", "REG_RSP", "REG_RIP", "REG_EFL",
	"REG_CSGSFS", "REG_ERR", "REG_TRAPNO", "REG_OLDMASK", "REG_CR2",
}

// modRMToReg maps a 4-bit register selector (the relevant REX bit
// prepended to a 3-bit ModR/M field) to a RegisterFile slot. The low
// half reproduces the legacy decoder table this engine preserves:
// selector 4 reads RBP, not RSP (an rm of 100b always means a SIB byte
// follows), and the names after it shift down one slot, ending at 7 on
// R8. Only the REX-extended half is corrected to the hardware numbering
// R8..R15.
var modRMToReg = [16]int{
	RegRAX, RegRCX, RegRDX, RegRBX, RegRBP, RegRSI, RegRDI, RegR8,
	RegR8, RegR9, RegR10, RegR11, RegR12, RegR13, RegR14, RegR15,
}

// regValue returns the live value backing a widened 4-bit selector.
func (r *RegisterFile) regValue(sel4 byte) uint64 {
	return r[modRMToReg[sel4&0xf]]
}

// widen prepends a REX extension bit to a 3-bit ModR/M field.
func widen(field byte, rexBit bool) byte {
	if rexBit {
		return field | 0x8
	}
	return field
}

// x86asmToReg maps the 64-bit register operands the disassembler reports
// to RegisterFile slots. Registers outside the general purpose file map
// to -1.
func x86asmToReg(reg x86asm.Reg) int {
	switch reg {
	case x86asm.RAX:
		return RegRAX
	case x86asm.RCX:
		return RegRCX
	case x86asm.RDX:
		return RegRDX
	case x86asm.RBX:
		return RegRBX
	case x86asm.RSP:
		return RegRSP
	case x86asm.RBP:
		return RegRBP
	case x86asm.RSI:
		return RegRSI
	case x86asm.RDI:
		return RegRDI
	case x86asm.R8:
		return RegR8
	case x86asm.R9:
		return RegR9
	case x86asm.R10:
		return RegR10
	case x86asm.R11:
		return RegR11
	case x86asm.R12:
		return RegR12
	case x86asm.R13:
		return RegR13
	case x86asm.R14:
		return RegR14
	case x86asm.R15:
		return RegR15
	case x86asm.RIP:
		return RegRIP
	}
	return -1
}
