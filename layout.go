// Copyright 2024 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package deadstop

// Encoding layout scanner. The disassembler reports what an instruction
// does and how long it is; this file recovers where the pieces of the
// encoding sit: prefixes, opcode, ModR/M, SIB, displacement and
// immediate. The effective address evaluator and the signature emitter
// both consume these fields.

// EncodingFamily identifies the encoding scheme of an instruction.
type EncodingFamily int

// Encoding families.
const (
	FamilyLegacy EncodingFamily = iota
	FamilyVEX
	FamilyEVEX
)

func (f EncodingFamily) String() string {
	switch f {
	case FamilyVEX:
		return "VEX"
	case FamilyEVEX:
		return "EVEX"
	default:
		return "Legacy"
	}
}

// legacyPrefixes is the set of one-byte legacy prefixes.
var legacyPrefixes = [256]bool{
	0x26: true, 0x2E: true, 0x36: true, 0x3E: true,
	0x64: true, 0x65: true, 0x66: true, 0x67: true,
	0xF0: true, 0xF2: true, 0xF3: true,
}

// onebyteHasModRM flags the one-byte opcodes that carry a ModR/M byte.
var onebyteHasModRM = byteSet(
	rng{0x00, 0x03}, rng{0x08, 0x0B}, rng{0x10, 0x13}, rng{0x18, 0x1B},
	rng{0x20, 0x23}, rng{0x28, 0x2B}, rng{0x30, 0x33}, rng{0x38, 0x3B},
	rng{0x63, 0x63}, rng{0x69, 0x69}, rng{0x6B, 0x6B},
	rng{0x80, 0x8F},
	rng{0xC0, 0xC1}, rng{0xC6, 0xC7},
	rng{0xD0, 0xD3}, rng{0xD8, 0xDF},
	rng{0xF6, 0xF7}, rng{0xFE, 0xFF},
)

// twobyteNoModRM flags the 0F-map opcodes that do NOT carry a ModR/M
// byte; the rest of the map does.
var twobyteNoModRM = byteSet(
	rng{0x05, 0x09}, rng{0x0B, 0x0B}, rng{0x0E, 0x0E},
	rng{0x30, 0x37}, rng{0x77, 0x77},
	rng{0x80, 0x8F},
	rng{0xA0, 0xA2}, rng{0xA8, 0xAA},
	rng{0xC8, 0xCF},
)

type rng struct{ lo, hi int }

func byteSet(ranges ...rng) [256]bool {
	var s [256]bool
	for _, r := range ranges {
		for i := r.lo; i <= r.hi; i++ {
			s[i] = true
		}
	}
	return s
}

// scanLayout decomposes the encoded bytes of r. The total length is taken
// as authoritative from the decoder; everything between the end of the
// structural part (through SIB and displacement) and the end of the
// instruction is immediate material. On any inconsistency the record is
// marked LayoutOK == false and the structural fields are left unset.
func scanLayout(r *Instruction) {
	b := r.Bytes
	i := 0

	for i < len(b) && legacyPrefixes[b[i]] {
		i++
	}
	if i == len(b) {
		return
	}

	switch {
	case b[i] == 0xC5: // two-byte VEX
		r.Family = FamilyVEX
		i += 2
		i += 1 // opcode, map 0F implied
		r.HasModRM = true
	case b[i] == 0xC4: // three-byte VEX
		r.Family = FamilyVEX
		i += 3
		i += 1
		r.HasModRM = true
	case b[i] == 0x62: // EVEX (64-bit mode)
		r.Family = FamilyEVEX
		i += 4
		i += 1
		r.HasModRM = true
	default:
		r.Family = FamilyLegacy
		if b[i]&0xF0 == 0x40 {
			r.HasREX = true
			r.REX = b[i]
			i++
		}
		if i == len(b) {
			return
		}
		if b[i] == 0x0F {
			i++
			if i == len(b) {
				return
			}
			switch b[i] {
			case 0x38, 0x3A:
				// Three-byte maps always carry ModR/M.
				i += 2
				r.HasModRM = true
			default:
				r.HasModRM = !twobyteNoModRM[b[i]]
				i++
			}
		} else {
			r.HasModRM = onebyteHasModRM[b[i]]
			i++
		}
	}

	dispLen := 0
	if r.HasModRM {
		if i >= len(b) {
			return
		}
		modrm := b[i]
		i++
		r.Mod = modrm >> 6
		r.RegField = (modrm >> 3) & 0x7
		r.RM = modrm & 0x7

		if r.Mod != 0x3 && r.RM == 0x4 {
			if i >= len(b) {
				return
			}
			r.HasSIB = true
			sib := b[i]
			i++
			r.Scale = sib >> 6
			r.Index = (sib >> 3) & 0x7
			r.Base = sib & 0x7
		}

		switch {
		case r.Mod == 0x1:
			dispLen = 1
		case r.Mod == 0x2:
			dispLen = 4
		case r.Mod == 0x0 && r.RM == 0x5:
			dispLen = 4 // RIP-relative
		case r.Mod == 0x0 && r.HasSIB && r.Base == 0x5:
			dispLen = 4
		}
	}

	if i+dispLen > len(b) {
		return
	}
	r.DispLen = dispLen
	r.Disp = b[i : i+dispLen]
	i += dispLen

	r.ImmLen = len(b) - i
	r.Imm = b[i:]
	r.LayoutOK = true
}

// signExtendDisp sign-extends an encoded little-endian displacement by
// its byte count. Unsupported widths yield zero.
func signExtendDisp(disp []byte) int64 {
	switch len(disp) {
	case 1:
		return int64(int8(disp[0]))
	case 2:
		return int64(int16(uint16(disp[0]) | uint16(disp[1])<<8))
	case 4:
		return int64(int32(uint32(disp[0]) | uint32(disp[1])<<8 |
			uint32(disp[2])<<16 | uint32(disp[3])<<24))
	}
	return 0
}

// signExtendImm sign-extends an encoded little-endian immediate by its
// byte count.
func signExtendImm(imm []byte) int64 {
	switch len(imm) {
	case 1:
		return int64(int8(imm[0]))
	case 2:
		return int64(int16(uint16(imm[0]) | uint16(imm[1])<<8))
	case 4:
		return int64(int32(uint32(imm[0]) | uint32(imm[1])<<8 |
			uint32(imm[2])<<16 | uint32(imm[3])<<24))
	case 8:
		var v uint64
		for i := 7; i >= 0; i-- {
			v = v<<8 | uint64(imm[i])
		}
		return int64(v)
	}
	return 0
}
