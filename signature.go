// Copyright 2024 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package deadstop

import "strings"

// SignatureWildcard replaces every displacement and immediate byte in an
// emitted signature, so the fingerprint survives relocation and constant
// changes.
const SignatureWildcard = "?"

// EmitSignature prints the encoded bytes of the instructions starting at
// index start until at least size bytes are covered. Prefixes, REX,
// VEX/EVEX payloads, opcode, ModR/M and SIB bytes are emitted as
// uppercase hex; displacement and immediate bytes become the wildcard.
// An instruction whose layout could not be decomposed is emitted
// literally.
func EmitSignature(records []*Instruction, start, size int) string {
	if start < 0 || start >= len(records) {
		return ""
	}
	var tokens []string
	covered := 0
	for i := start; i < len(records) && covered < size; i++ {
		tokens = append(tokens, signatureTokens(records[i])...)
		covered += records[i].Len()
	}
	return strings.Join(tokens, " ")
}

// signatureTokens emits one token per encoded byte of rec.
func signatureTokens(rec *Instruction) []string {
	n := rec.Len()
	tokens := make([]string, 0, n)
	variable := rec.DispLen + rec.ImmLen
	if !rec.LayoutOK {
		variable = 0
	}
	structural := n - variable
	for i := 0; i < n; i++ {
		if i < structural {
			tokens = append(tokens, hexByte(rec.Bytes[i]))
		} else {
			tokens = append(tokens, SignatureWildcard)
		}
	}
	return tokens
}
