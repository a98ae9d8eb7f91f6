// Copyright 2024 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

//go:build linux && amd64

package deadstop

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func TestDumpTimestamp(t *testing.T) {

	tests := []struct {
		in   time.Time
		want string
	}{
		{time.Date(2024, time.March, 5, 14, 7, 9, 0, time.UTC),
			"Date { 5 March 2024 } Time { 02:07:09 PM }"},
		{time.Date(2024, time.January, 1, 0, 5, 6, 0, time.UTC),
			"Date { 1 January 2024 } Time { 00:05:06 AM }"},
		{time.Date(2023, time.December, 31, 23, 59, 59, 0, time.UTC),
			"Date { 31 December 2023 } Time { 11:59:59 PM }"},
		{time.Date(2024, time.June, 15, 12, 0, 0, 0, time.UTC),
			"Date { 15 June 2024 } Time { 00:00:00 PM }"},
	}
	for _, tt := range tests {
		if got := dumpTimestamp(tt.in); got != tt.want {
			t.Errorf("dumpTimestamp = %q, want %q", got, tt.want)
		}
	}
}

func TestSignalIdentity(t *testing.T) {
	name, desc := signalIdentity(int(unix.SIGSEGV))
	if name != "SIGSEGV" || desc != "Invalid memory reference" {
		t.Errorf("SIGSEGV resolved to %q / %q", name, desc)
	}
	name, _ = signalIdentity(64)
	if name != "SIG64" {
		t.Errorf("unknown signal resolved to %q, want SIG64", name)
	}
}

func fixedWriter(buf *bytes.Buffer) *reportWriter {
	rw := newReportWriter(buf)
	rw.now = func() time.Time {
		return time.Date(2024, time.March, 5, 14, 7, 9, 0, time.UTC)
	}
	return rw
}

func TestWriteHeader(t *testing.T) {
	var buf bytes.Buffer
	rw := fixedWriter(&buf)
	rw.writeHeader(int(unix.SIGSEGV))
	rw.flush()

	out := buf.String()
	lines := strings.Split(out, "\n")
	if lines[0] != reportBanner || lines[1] != reportBanner {
		t.Error("header does not open with the double banner")
	}
	if len(lines[0]) != 75 {
		t.Errorf("banner is %d characters, want 75", len(lines[0]))
	}
	wantSig := " [ DeadStop ] Signal received [ SIGSEGV ] i.e. Invalid memory reference"
	if !strings.Contains(out, wantSig) {
		t.Errorf("header missing signal line %q in:\n%s", wantSig, out)
	}
	if !strings.Contains(out, "Starting log dump @ Date { 5 March 2024 } Time { 02:07:09 PM }") {
		t.Errorf("header missing timestamp line in:\n%s", out)
	}
}

func TestWriteRegisters(t *testing.T) {
	var buf bytes.Buffer
	rw := fixedWriter(&buf)

	regs := &RegisterFile{}
	regs[RegRAX] = 0xDEADBEEF
	rw.writeRegisters(regs)
	rw.flush()

	out := buf.String()
	if !strings.Contains(out, "[ Start ]------------------------------->  General Purpose Registers") {
		t.Error("register section missing its Start delimiter")
	}
	if !strings.Contains(out, "REG_R8      : 0000000000000000 [ zero ]") {
		t.Errorf("zero register not tagged:\n%s", out)
	}
	if !strings.Contains(out, "REG_RAX     : 00000000DEADBEEF\n") {
		t.Errorf("non-zero register rendered wrong:\n%s", out)
	}
	// Every value column starts at the same offset.
	col := -1
	for _, line := range strings.Split(out, "\n") {
		if !strings.HasPrefix(line, "REG_") {
			continue
		}
		idx := strings.Index(line, ":")
		if col == -1 {
			col = idx
		} else if idx != col {
			t.Errorf("misaligned register line %q", line)
		}
	}
}

func TestWriteCallStack(t *testing.T) {
	var buf bytes.Buffer
	rw := fixedWriter(&buf)
	rw.writeCallStack([]uint64{0x401000, 0x402000})
	rw.flush()

	out := buf.String()
	if !strings.Contains(out, " [ DeadStop ] Call Stack :") {
		t.Error("call stack missing its heading")
	}
	if !strings.Contains(out, "    0. 0x401000 <--[ crashed here ]") {
		t.Errorf("frame 0 not tagged:\n%s", out)
	}
	if !strings.Contains(out, "    1. 0x402000\n") {
		t.Errorf("frame 1 rendered wrong:\n%s", out)
	}
}

func TestFormatWindowLine(t *testing.T) {
	rec := decodeOne(t, []byte{0x48, 0x8B, 0x45, 0xF8})

	line := WindowLine{
		Addr:    0x401000,
		Inst:    rec,
		Text:    "mov rax, [rbp-0x8]",
		IsPivot: true,
	}
	got := formatWindowLine(line, markerCrash, "48 8B 45 ?")
	if !strings.HasPrefix(got, "0x000000401000  488B45F8") {
		t.Errorf("line prefix wrong: %q", got)
	}
	if !strings.Contains(got, "<--[ Crashed Here ] Sig : 48 8B 45 ?") {
		t.Errorf("pivot annotation missing: %q", got)
	}

	line.IsPivot = false
	line.StrNote = "hi"
	got = formatWindowLine(line, markerCrash, "")
	if strings.Contains(got, "<--[") {
		t.Errorf("non-pivot line carries the marker: %q", got)
	}
	if !strings.Contains(got, " ; hi") {
		t.Errorf("string note missing: %q", got)
	}
}

func TestReportSectionOrder(t *testing.T) {
	var buf bytes.Buffer
	rw := fixedWriter(&buf)

	mm := &MemoryMap{Lines: []string{"00400000-00452000 r-xp"}}
	rw.writeHeader(int(unix.SIGBUS))
	rw.writeMaps(mm)
	rw.writeRegisters(&RegisterFile{})
	rw.writeCallStack([]uint64{0x401000})
	rw.writeFooter()
	rw.flush()

	out := buf.String()
	order := []string{
		"Fatal signal received",
		"Mapped Memory Regions",
		"00400000-00452000 r-xp",
		"General Purpose Registers",
		"Call Stack :",
		"Log dump ended @",
	}
	last := -1
	for _, s := range order {
		idx := strings.Index(out, s)
		if idx < 0 {
			t.Fatalf("report missing %q:\n%s", s, out)
		}
		if idx < last {
			t.Errorf("%q appears out of order", s)
		}
		last = idx
	}
	if !strings.HasSuffix(strings.TrimRight(out, "\n"), reportBanner) {
		t.Error("report does not close with the banner")
	}
}
