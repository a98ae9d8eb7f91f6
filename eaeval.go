// Copyright 2024 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

//go:build linux && amd64

package deadstop

// Effective address evaluation for ModR/M and ModR/M+SIB memory
// operands, fed by the live register state captured at fault time. This
// is what lets the unwinder follow an epilogue's LEA target and the
// window annotator chase string pointers.

// sibScale maps the 2-bit SIB scale field to its multiplier.
var sibScale = [4]uint64{1, 2, 4, 8}

// EffectiveAddress computes the address a memory operand of r refers to,
// without dereferencing it. ripAfter is the address of the instruction
// that follows r in the stream, which anchors RIP-relative operands.
// The second result is false when r has no computable memory operand:
// no ModR/M, an untrusted layout, or a register-direct (mod == 11b)
// form.
func EffectiveAddress(r *Instruction, ripAfter uint64, regs *RegisterFile) (uint64, bool) {
	if !r.LayoutOK || !r.HasModRM || r.Mod == 0x3 {
		return 0, false
	}

	rexB := r.HasREX && r.REX&0x1 != 0
	rexX := r.HasREX && r.REX&0x2 != 0

	if !r.HasSIB {
		// mod == 00b with rm == 101b is RIP-relative, regardless of
		// REX.B.
		if r.Mod == 0x0 && r.RM == 0x5 {
			return ripAfter + uint64(signExtendDisp(r.Disp)), true
		}
		base := regs.regValue(widen(r.RM, rexB))
		return base + uint64(signExtendDisp(r.Disp)), true
	}

	// SIB form. An index field of 100b with no REX.X extension means
	// "no index"; R12 (REX.X set) is a valid index register.
	var scaled uint64
	index4 := widen(r.Index, rexX)
	if index4 != 0x4 {
		scaled = regs.regValue(index4) * sibScale[r.Scale]
	}

	// A base field of 101b is special: no base with mod == 00b, RBP
	// with mod == 01b/10b. Other selectors go through the register
	// table; REX.B picks among the extended half.
	var base uint64
	switch {
	case r.Base == 0x5 && r.Mod == 0x0:
		base = 0
	case r.Base == 0x5 && !rexB:
		base = regs[RegRBP]
	default:
		base = regs.regValue(widen(r.Base, rexB))
	}

	disp := r.Disp
	if r.Mod == 0x1 && len(disp) > 1 {
		disp = disp[:1]
	}
	return base + scaled + uint64(signExtendDisp(disp)), true
}

// MemOperandValue evaluates a memory operand of r and loads the qword it
// points at. Both the formed address and the loaded value go through the
// memory map; failure on either side means no result.
func MemOperandValue(r *Instruction, ripAfter uint64, regs *RegisterFile, mm *MemoryMap) (uint64, bool) {
	ea, ok := EffectiveAddress(r, ripAfter, regs)
	if !ok {
		return 0, false
	}
	if !mm.ContainsRange(ea, ea+7) {
		return 0, false
	}
	return peekQword(ea), true
}

// RegOrMemValue evaluates an E-class (register-or-memory) operand: a
// register-direct form reads the live register, a memory form goes
// through MemOperandValue.
func RegOrMemValue(r *Instruction, ripAfter uint64, regs *RegisterFile, mm *MemoryMap) (uint64, bool) {
	if !r.LayoutOK || !r.HasModRM {
		return 0, false
	}
	if r.Mod == 0x3 {
		rexB := r.HasREX && r.REX&0x1 != 0
		return regs.regValue(widen(r.RM, rexB)), true
	}
	return MemOperandValue(r, ripAfter, regs, mm)
}
