// Copyright 2024 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package deadstop

import (
	"bytes"
	"errors"
	"strings"

	"golang.org/x/arch/x86/x86asm"
)

// Errors
var (
	// ErrNothingDecoded is returned when not a single instruction could
	// be decoded from the front of a buffer.
	ErrNothingDecoded = errors.New("no instruction decoded at buffer start")

	// ErrDisasmMismatch is returned when disassembly produced a
	// different number of entries than were decoded.
	ErrDisasmMismatch = errors.New("disassembly count does not match decoded count")
)

// endbr64 is rejected by the upstream decoder but shows up at the entry
// of every function built with -fcf-protection, so it is synthesized as
// an opaque four byte record.
var endbr64 = []byte{0xF3, 0x0F, 0x1E, 0xFA}

// Instruction is one decoded instruction plus the decomposition of its
// encoding. Records are arena-owned and live until the owning arena is
// reset.
type Instruction struct {
	Inst  x86asm.Inst
	Bytes []byte

	// Encoding layout, populated by scanLayout. LayoutOK reports
	// whether the decomposition below is trustworthy.
	LayoutOK bool
	Family   EncodingFamily
	HasREX   bool
	REX      byte
	HasModRM bool
	Mod      byte
	RegField byte
	RM       byte
	HasSIB   bool
	Scale    byte
	Index    byte
	Base     byte
	DispLen  int
	Disp     []byte
	ImmLen   int
	Imm      []byte

	synthetic string
}

// Len returns the encoded length in bytes.
func (r *Instruction) Len() int {
	return len(r.Bytes)
}

// Name returns the canonical uppercase mnemonic.
func (r *Instruction) Name() string {
	if r.synthetic != "" {
		return r.synthetic
	}
	return r.Inst.Op.String()
}

// Disassembly is the printable form of one Instruction: a mnemonic and
// up to four operand strings.
type Disassembly struct {
	Mnemonic string
	Operands []string
}

// Decode performs a linear decode of buf from offset 0. Decoding stops
// at the first byte sequence that does not form a complete instruction;
// the returned records reflect what was decoded. Records are allocated
// from the given arena.
func Decode(buf []byte, arena *Arena) ([]*Instruction, error) {
	var out []*Instruction
	off := 0
	for off < len(buf) {
		if bytes.HasPrefix(buf[off:], endbr64) {
			rec := arena.alloc()
			rec.Bytes = buf[off : off+len(endbr64)]
			rec.Family = FamilyLegacy
			rec.LayoutOK = true
			rec.synthetic = "ENDBR64"
			out = append(out, rec)
			off += len(endbr64)
			continue
		}
		inst, err := x86asm.Decode(buf[off:], 64)
		// A truncated or invalid sequence comes back as a one byte
		// prefix-only record with no opcode; that is not an instruction.
		if err != nil || inst.Len == 0 || inst.Op == 0 {
			break
		}
		rec := arena.alloc()
		rec.Inst = inst
		rec.Bytes = buf[off : off+inst.Len]
		scanLayout(rec)
		out = append(out, rec)
		off += inst.Len
	}
	if len(out) == 0 {
		return nil, ErrNothingDecoded
	}
	return out, nil
}

// Disassemble renders records into mnemonic and operand strings, one
// entry per record.
func Disassemble(records []*Instruction) ([]Disassembly, error) {
	out := make([]Disassembly, 0, len(records))
	for _, rec := range records {
		if rec.synthetic != "" {
			out = append(out, Disassembly{Mnemonic: strings.ToLower(rec.synthetic)})
			continue
		}
		text := x86asm.IntelSyntax(rec.Inst, 0, nil)
		mnemonic, rest, _ := strings.Cut(text, " ")
		d := Disassembly{Mnemonic: mnemonic}
		if rest != "" {
			for _, op := range strings.Split(rest, ",") {
				op = strings.TrimSpace(op)
				if op == "" {
					continue
				}
				d.Operands = append(d.Operands, op)
				if len(d.Operands) == 4 {
					break
				}
			}
		}
		out = append(out, d)
	}
	if len(out) != len(records) {
		return nil, ErrDisasmMismatch
	}
	return out, nil
}

// Text renders a Disassembly as a single line of Intel syntax.
func (d Disassembly) Text() string {
	if len(d.Operands) == 0 {
		return d.Mnemonic
	}
	return d.Mnemonic + " " + strings.Join(d.Operands, ", ")
}
