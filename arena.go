// Copyright 2024 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package deadstop

// Arena is a bump store for Instruction records. Records produced during
// one unwinding round are released together by Reset, which keeps the
// signal path from leaning on the general allocator more than necessary.
type Arena struct {
	slots []Instruction
	used  int
}

// NewArena returns an arena pre-sized for n instruction records.
func NewArena(n int) *Arena {
	return &Arena{slots: make([]Instruction, n)}
}

// alloc hands out the next record, growing the backing store if the
// current round outruns the pre-sized capacity.
func (a *Arena) alloc() *Instruction {
	if a.used == len(a.slots) {
		a.slots = append(a.slots, Instruction{})
		a.slots = a.slots[:cap(a.slots)]
	}
	rec := &a.slots[a.used]
	a.used++
	*rec = Instruction{}
	return rec
}

// Reset releases every record handed out since the previous Reset.
// Pointers obtained before the call must not be used afterwards.
func (a *Arena) Reset() {
	a.used = 0
}
