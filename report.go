// Copyright 2024 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package deadstop

import (
	"bufio"
	"fmt"
	"io"
	"time"

	"golang.org/x/sys/unix"
)

// The dump layout is consumed by post-processing tools; the banner, the
// brand prefix and the Start/End delimiters are part of the contract and
// must not drift.
const (
	reportBanner = "///////////////////////////////////////////////////////////////////////////"
	brandPrefix  = " [ DeadStop ] "
	sectionArrow = "------------------------------->"

	sectionMaps      = "Mapped Memory Regions"
	sectionRegisters = "General Purpose Registers"

	markerCrash  = "Crashed Here"
	markerReturn = "Return Adrs"
)

// fatalSignals maps the trapped signal identities to their report names
// and one-line descriptions.
var fatalSignals = map[int]struct {
	name string
	desc string
}{
	int(unix.SIGSEGV): {"SIGSEGV", "Invalid memory reference"},
	int(unix.SIGILL):  {"SIGILL", "Illegal instruction"},
	int(unix.SIGTRAP): {"SIGTRAP", "Trace or breakpoint trap"},
	int(unix.SIGABRT): {"SIGABRT", "Abort signal"},
	int(unix.SIGFPE):  {"SIGFPE", "Erroneous arithmetic operation"},
	int(unix.SIGBUS):  {"SIGBUS", "Bus error, bad memory access"},
}

// signalIdentity resolves a signal number to its report name and
// description.
func signalIdentity(sig int) (string, string) {
	if s, ok := fatalSignals[sig]; ok {
		return s.name, s.desc
	}
	return fmt.Sprintf("SIG%d", sig), "Unknown signal"
}

// dumpTimestamp renders a point in time the way the dump header and
// footer expect it: full English month name, hour modulo 12 with an
// AM/PM suffix (noon and midnight print as 00).
func dumpTimestamp(t time.Time) string {
	hour := t.Hour() % 12
	meridiem := "AM"
	if t.Hour() >= 12 {
		meridiem = "PM"
	}
	return fmt.Sprintf("Date { %d %s %d } Time { %02d:%02d:%02d %s }",
		t.Day(), t.Month().String(), t.Year(),
		hour, t.Minute(), t.Second(), meridiem)
}

// reportWriter emits the dump sections in their fixed order.
type reportWriter struct {
	w   *bufio.Writer
	now func() time.Time
}

func newReportWriter(w io.Writer) *reportWriter {
	return &reportWriter{w: bufio.NewWriter(w), now: time.Now}
}

func (rw *reportWriter) line(format string, a ...interface{}) {
	fmt.Fprintf(rw.w, format, a...)
	rw.w.WriteByte('\n')
}

func (rw *reportWriter) sectionStart(title string) {
	rw.line("[ Start ]%s  %s", sectionArrow, title)
}

func (rw *reportWriter) sectionEnd(title string) {
	rw.line("[  End  ]%s  %s", sectionArrow, title)
}

// writeHeader emits the opening banner, the timestamp and the signal
// identity line.
func (rw *reportWriter) writeHeader(sig int) {
	name, desc := signalIdentity(sig)
	rw.line("%s", reportBanner)
	rw.line("%s", reportBanner)
	rw.line("%sFatal signal received, this program will terminate now.", brandPrefix)
	rw.line("%sStarting log dump @ %s", brandPrefix, dumpTimestamp(rw.now()))
	rw.line("%sSignal received [ %s ] i.e. %s", brandPrefix, name, desc)
	rw.line("")
}

// writeMaps emits the memory map lines verbatim.
func (rw *reportWriter) writeMaps(mm *MemoryMap) {
	rw.sectionStart(sectionMaps)
	for _, l := range mm.Lines {
		rw.line("%s", l)
	}
	rw.sectionEnd(sectionMaps)
	rw.line("")
}

// writeMapsFailure replaces the maps section when the maps file could
// not be read.
func (rw *reportWriter) writeMapsFailure(err error) {
	rw.line("%sFailed to read %s : %v", brandPrefix, ProcSelfMaps, err)
	rw.line("")
}

// writeRegisters emits the general purpose register dump, names aligned
// to the widest, values as 16 hex digits, zero values tagged.
func (rw *reportWriter) writeRegisters(regs *RegisterFile) {
	width := 0
	for _, n := range regNames {
		if len(n) > width {
			width = len(n)
		}
	}
	rw.sectionStart(sectionRegisters)
	for i, n := range regNames {
		if regs[i] == 0 {
			rw.line("%-*s : %016X [ zero ]", width, n, regs[i])
		} else {
			rw.line("%-*s : %016X", width, n, regs[i])
		}
	}
	rw.sectionEnd(sectionRegisters)
	rw.line("")
}

// writeCallStack lists the unwound frames, the crash site first.
func (rw *reportWriter) writeCallStack(stack []uint64) {
	rw.line("%sCall Stack :", brandPrefix)
	for i, addr := range stack {
		if i == 0 {
			rw.line("    %d. 0x%X <--[ crashed here ]", i, addr)
		} else {
			rw.line("    %d. 0x%X", i, addr)
		}
	}
	rw.line("")
}

// frameTitle names a per-frame disassembly block.
func frameTitle(index int, addr uint64) string {
	return fmt.Sprintf("Function Index : %d. Adrs : 0x%X", index, addr)
}

// writeFrameWindow emits one frame's disassembly block. The pivot line
// carries the frame marker and the instruction signature.
func (rw *reportWriter) writeFrameWindow(index int, addr uint64, w *Window, sig string) {
	marker := markerReturn
	if index == 0 {
		marker = markerCrash
	}
	title := frameTitle(index, addr)
	rw.sectionStart(title)
	for _, line := range w.Lines {
		rw.line("%s", formatWindowLine(line, marker, sig))
	}
	rw.sectionEnd(title)
	rw.line("")
}

// writeFrameFailure emits a frame block whose window could not be built.
func (rw *reportWriter) writeFrameFailure(index int, addr uint64, err error) {
	title := frameTitle(index, addr)
	rw.sectionStart(title)
	rw.line("%sNo disassembly available : %v", brandPrefix, err)
	rw.sectionEnd(title)
	rw.line("")
}

// writeFooter emits the closing timestamp and banner.
func (rw *reportWriter) writeFooter() {
	rw.line("%sLog dump ended @ %s", brandPrefix, dumpTimestamp(rw.now()))
	rw.line("%s", reportBanner)
}

func (rw *reportWriter) flush() error {
	return rw.w.Flush()
}

// formatWindowLine lays out one disassembly line: address, raw bytes,
// text, optional pointed-string prefix, and the marker plus signature on
// the pivot line.
func formatWindowLine(l WindowLine, marker, sig string) string {
	s := fmt.Sprintf("0x%012X  %-22s  %-36s", l.Addr, hexBytes(l.Inst.Bytes), l.Text)
	if l.StrNote != "" {
		s += " ; " + l.StrNote
	}
	if l.IsPivot {
		s += fmt.Sprintf("  <--[ %s ] Sig : %s", marker, sig)
	}
	return s
}
