// Copyright 2024 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package deadstop

import "strings"

const hexDigits = "0123456789ABCDEF"

// hexByte renders b as two uppercase hex digits.
func hexByte(b byte) string {
	return string([]byte{hexDigits[b>>4], hexDigits[b&0xf]})
}

// hexBytes renders a byte slice as contiguous uppercase hex pairs.
func hexBytes(b []byte) string {
	var sb strings.Builder
	sb.Grow(len(b) * 2)
	for _, c := range b {
		sb.WriteByte(hexDigits[c>>4])
		sb.WriteByte(hexDigits[c&0xf])
	}
	return sb.String()
}

// isPrintableASCII reports whether b is a printable 7-bit character.
func isPrintableASCII(b byte) bool {
	return b >= 0x20 && b < 0x7f
}
