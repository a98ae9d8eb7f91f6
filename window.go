// Copyright 2024 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

//go:build linux && amd64

package deadstop

import (
	"errors"
)

// Errors
var (
	// ErrPivotNotMapped is returned when the window pivot lies outside
	// every mapped region.
	ErrPivotNotMapped = errors.New("window pivot is not a mapped address")

	// ErrWindowUnreadable is returned when no readable byte range could
	// be established around the pivot, even after shrinking the radius.
	ErrWindowUnreadable = errors.New("no readable window around pivot")

	// ErrNoAlignment is returned when no decode attempt produced an
	// instruction boundary exactly at the pivot.
	ErrNoAlignment = errors.New("no decode aligned with the pivot")
)

const (
	// windowFallbackRadius is the radius a too-large window shrinks to,
	// once, before giving up.
	windowFallbackRadius = 100

	// windowMaxSkew bounds the leading-byte skew retries of the linear
	// decode.
	windowMaxSkew = 10
)

// WindowLine is one decoded instruction of a window, ready for layout.
type WindowLine struct {
	Addr    uint64
	Inst    *Instruction
	Text    string
	StrNote string
	IsPivot bool
}

// Window is a validated linear disassembly around a pivot address. One
// of its lines starts exactly at the pivot.
type Window struct {
	Lines      []WindowLine
	PivotIndex int
	Radius     uint64
}

// NewWindow snapshots 2R bytes around pivot and decodes them, sliding
// the assumed first-instruction offset one byte at a time until the
// decode lands an instruction boundary exactly on the pivot. A radius
// larger than windowFallbackRadius that does not fit inside a single
// mapped region is downgraded once.
func NewWindow(pivot, radius uint64, stringDumpSize int, mm *MemoryMap,
	regs *RegisterFile, arena *Arena) (*Window, error) {

	if !mm.Contains(pivot) {
		return nil, ErrPivotNotMapped
	}
	if !mm.ContainsRange(pivot-radius, pivot+radius-1) {
		if radius <= windowFallbackRadius {
			return nil, ErrWindowUnreadable
		}
		radius = windowFallbackRadius
		if !mm.ContainsRange(pivot-radius, pivot+radius-1) {
			return nil, ErrWindowUnreadable
		}
	}

	start := pivot - radius
	snap := peek(start, int(2*radius))

	for skew := 0; skew < windowMaxSkew; skew++ {
		arena.Reset()
		records, err := Decode(snap[skew:], arena)
		if err != nil {
			continue
		}

		// Walk the cumulative lengths; success means some record
		// starts exactly at the pivot.
		pivotIdx := -1
		off := uint64(skew)
		for i, rec := range records {
			if off == radius {
				pivotIdx = i
				break
			}
			if off > radius {
				break
			}
			off += uint64(rec.Len())
		}
		if pivotIdx < 0 {
			continue
		}

		dis, err := Disassemble(records)
		if err != nil {
			continue
		}

		w := &Window{PivotIndex: pivotIdx, Radius: radius}
		addr := start + uint64(skew)
		for i, rec := range records {
			line := WindowLine{
				Addr:    addr,
				Inst:    rec,
				Text:    dis[i].Text(),
				IsPivot: i == pivotIdx,
			}
			line.StrNote = stringAt(rec, addr+uint64(rec.Len()), stringDumpSize, mm, regs)
			w.Lines = append(w.Lines, line)
			addr += uint64(rec.Len())
		}
		return w, nil
	}
	return nil, ErrNoAlignment
}

// Instructions returns the window's records in line order.
func (w *Window) Instructions() []*Instruction {
	out := make([]*Instruction, len(w.Lines))
	for i := range w.Lines {
		out[i] = w.Lines[i].Inst
	}
	return out
}

// stringAt evaluates the instruction's memory operand against the live
// registers and, when the target is mapped, reads a printable prefix of
// at most max bytes, stopping at NUL or the first non-printable byte.
func stringAt(rec *Instruction, ripAfter uint64, max int, mm *MemoryMap,
	regs *RegisterFile) string {

	if max <= 0 || regs == nil {
		return ""
	}
	ea, ok := EffectiveAddress(rec, ripAfter, regs)
	if !ok {
		return ""
	}
	var out []byte
	for i := 0; i < max; i++ {
		if !mm.Contains(ea + uint64(i)) {
			break
		}
		b := peek(ea+uint64(i), 1)[0]
		if b == 0 || !isPrintableASCII(b) {
			break
		}
		out = append(out, b)
	}
	return string(out)
}
