// Copyright 2024 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

//go:build linux && amd64

package deadstop

import (
	"strings"

	"golang.org/x/arch/x86/x86asm"
)

// Heuristic return address recovery. With no frame pointers and no DWARF
// the one stable invariant at a function boundary is that RETN transfers
// control to the qword at [RSP]; recovering the caller therefore reduces
// to reversing the RSP arithmetic between the starting address and the
// function's RETN. Three epilogue idioms are recognized: framed
// (LEAVE / POP RBP), omitted-frame (LEA or ADD on RSP) and leaf (RSP
// untouched). Anything else ends the unwind rather than guessing.

const (
	// retnScanBatch is the byte granularity of the forward RETN search.
	retnScanBatch = 200

	// retnScanBatches bounds the search to ~20 KiB so obfuscated or
	// truncated code cannot stall the handler.
	retnScanBatches = 100

	// epilogueTail is how many trailing instruction starts are kept so
	// the function tail survives once RETN is hit.
	epilogueTail = 10
)

// UnwindContext carries everything a single unwind pass needs.
type UnwindContext struct {
	CrashRIP uint64
	Regs     *RegisterFile
	Map      *MemoryMap
}

// unwinder tracks the virtual register cursor across frames. The
// register file starts as the fault-time snapshot; RSP and RBP advance
// as frames are peeled so the next frame resolves against the caller's
// stack state.
type unwinder struct {
	mm    *MemoryMap
	regs  RegisterFile
	arena *Arena
}

// UnwindCallStack resolves caller return addresses starting at the crash
// address, at most depth times. Index 0 of the result is the crashing
// address itself; the walk stops at the first frame that cannot be
// recovered.
func UnwindCallStack(ctx *UnwindContext, depth int, arena *Arena) []uint64 {
	u := &unwinder{mm: ctx.Map, regs: *ctx.Regs, arena: arena}
	stack := []uint64{ctx.CrashRIP}
	cur := ctx.CrashRIP
	for i := 0; i < depth; i++ {
		ret := u.resolve(cur)
		arena.Reset()
		if ret == 0 {
			break
		}
		stack = append(stack, ret)
		cur = ret
	}
	return stack
}

// resolve recovers the return address of the unknown function containing
// start, or 0.
func (u *unwinder) resolve(start uint64) uint64 {
	// Phase A: scan forward for the function's RETN, tracking the net
	// stack displacement of PUSH/POP pairs and the last few instruction
	// starts.
	var (
		cursor  = start
		pushPop int64
		tail    []uint64
		retEnd  uint64
		found   bool
	)
	for batch := 0; batch < retnScanBatches && !found; batch++ {
		if !u.mm.ContainsRange(cursor, cursor+retnScanBatch-1) {
			return 0
		}
		buf := peek(cursor, retnScanBatch)
		u.arena.Reset()
		records, err := Decode(buf, u.arena)
		if err != nil {
			return 0
		}
		addr := cursor
		for _, rec := range records {
			tail = append(tail, addr)
			if len(tail) > epilogueTail {
				tail = tail[1:]
			}
			if isReturn(rec) {
				retEnd = addr + uint64(rec.Len())
				found = true
				break
			}
			switch rec.Inst.Op {
			case x86asm.PUSH:
				pushPop -= 8
			case x86asm.POP:
				pushPop += 8
			}
			addr += uint64(rec.Len())
		}
		if !found {
			if addr == cursor {
				return 0
			}
			cursor = addr
		}
	}
	if !found {
		return 0
	}

	// Phase B: tight aligned re-decode of the preserved tail, ending at
	// RETN.
	tightStart := tail[0]
	span := retEnd - tightStart
	if !u.mm.ContainsRange(tightStart, retEnd-1) {
		return 0
	}
	u.arena.Reset()
	records, err := Decode(peek(tightStart, int(span)), u.arena)
	if err != nil {
		return 0
	}
	total := uint64(0)
	for _, rec := range records {
		total += uint64(rec.Len())
	}
	if total != span || !isReturn(records[len(records)-1]) {
		return 0
	}

	// Phase C: classify the epilogue and recover the return slot.
	if len(records) >= 2 && isFrameRestore(records[len(records)-2]) {
		return u.recoverFramed()
	}
	return u.recoverUnframed(records, tightStart, pushPop)
}

// recoverFramed reads the caller return slot of an RBP-framed function:
// the qword at RBP+8. On success the virtual cursor moves past the
// frame, reloading RBP from the saved slot.
func (u *unwinder) recoverFramed() uint64 {
	rbp := u.regs[RegRBP]
	ret := u.readReturnSlot(rbp + 8)
	if ret == 0 {
		return 0
	}
	if u.mm.ContainsRange(rbp, rbp+7) {
		u.regs[RegRBP] = peekQword(rbp)
	} else {
		u.regs[RegRBP] = 0
	}
	return ret
}

// recoverUnframed handles omitted-frame and leaf epilogues. The tight
// instruction list is scanned backwards from the instruction before RETN
// for the first one whose destination operand is RSP.
func (u *unwinder) recoverUnframed(records []*Instruction, tightStart uint64,
	pushPop int64) uint64 {

	dis, err := Disassemble(records)
	if err != nil {
		return 0
	}

	// Instruction start addresses of the tight list.
	addrs := make([]uint64, len(records))
	addr := tightStart
	for i, rec := range records {
		addrs[i] = addr
		addr += uint64(rec.Len())
	}

	for i := len(records) - 2; i >= 0; i-- {
		if len(dis[i].Operands) == 0 || !strings.EqualFold(dis[i].Operands[0], "rsp") {
			continue
		}
		ripAfter := addrs[i] + uint64(records[i].Len())
		switch records[i].Inst.Op {
		case x86asm.LEA:
			// LEA computes the final RSP directly; no push/pop
			// correction applies.
			slot, ok := EffectiveAddress(records[i], ripAfter, &u.regs)
			if !ok {
				return 0
			}
			return u.readReturnSlot(slot)
		case x86asm.ADD:
			delta, ok := u.addendValue(records[i], ripAfter)
			if !ok {
				return 0
			}
			return u.readReturnSlot(u.regs[RegRSP] + delta + uint64(pushPop))
		default:
			// An epilogue idiom this walker does not model, e.g.
			// MOV RSP, RBX. Ending the stack beats guessing.
			return 0
		}
	}

	// Leaf: RSP never moved between start and RETN.
	return u.readReturnSlot(u.regs[RegRSP] + uint64(pushPop))
}

// addendValue extracts the second operand of an ADD on RSP: a live
// register (G class), a register-or-memory operand (E class) or a
// sign-extended immediate (I class).
func (u *unwinder) addendValue(rec *Instruction, ripAfter uint64) (uint64, bool) {
	if len(rec.Inst.Args) < 2 || rec.Inst.Args[1] == nil {
		return 0, false
	}
	switch a := rec.Inst.Args[1].(type) {
	case x86asm.Reg:
		// G class: ModR/M.reg selects the addend through the same
		// register table the address evaluator uses.
		if rec.LayoutOK && rec.HasModRM {
			rexR := rec.HasREX && rec.REX&0x4 != 0
			return u.regs.regValue(widen(rec.RegField, rexR)), true
		}
		idx := x86asmToReg(a)
		if idx < 0 {
			return 0, false
		}
		return u.regs[idx], true
	case x86asm.Mem:
		return MemOperandValue(rec, ripAfter, &u.regs, u.mm)
	case x86asm.Imm:
		return uint64(int64(a)), true
	}
	return 0, false
}

// readReturnSlot loads the candidate return address at slot. Both the
// slot and the value it holds must be mapped; on success the virtual
// stack pointer advances past the slot.
func (u *unwinder) readReturnSlot(slot uint64) uint64 {
	if !u.mm.ContainsRange(slot, slot+7) {
		return 0
	}
	ret := peekQword(slot)
	if ret == 0 || !u.mm.Contains(ret) {
		return 0
	}
	u.regs[RegRSP] = slot + 8
	return ret
}

// retAliases matches the mnemonics different decoder generations use for
// a near return. Folding is plain ASCII.
var retAliases = map[string]bool{"RET": true, "RETN": true}

// isReturn reports whether rec is a near return, matched by encoding
// (C3, C2 iw) first and by mnemonic second.
func isReturn(rec *Instruction) bool {
	if rec.synthetic != "" {
		return false
	}
	if rec.Inst.Op == x86asm.RET {
		return true
	}
	return retAliases[strings.ToUpper(rec.Name())]
}

// isFrameRestore reports whether rec restores a saved frame pointer:
// LEAVE (C9) or POP RBP (5D), both single-byte forms.
func isFrameRestore(rec *Instruction) bool {
	return rec.Len() == 1 && (rec.Bytes[0] == 0xC9 || rec.Bytes[0] == 0x5D)
}
