// Copyright 2024 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package deadstop

import (
	"bufio"
	"fmt"
	"os"

	"github.com/pkg/errors"
)

// ProcSelfMaps is the default source of the process memory layout.
const ProcSelfMaps = "/proc/self/maps"

// MemoryRegion is a half-open virtual address range [Start, End). End is
// not addressable. Immutable after construction.
type MemoryRegion struct {
	Start uint64
	End   uint64
	Perms string
}

// String renders the region in canonical maps-file form.
func (r MemoryRegion) String() string {
	return fmt.Sprintf("%x-%x", r.Start, r.End)
}

// MemoryMap is a snapshot of the process virtual address layout. It is
// the oracle every raw pointer is checked against before a dereference.
// Constructed empty, filled once by LoadFrom, then read-only for the
// duration of report generation.
type MemoryMap struct {
	Regions []MemoryRegion

	// Lines holds the source file verbatim for the report's mapped
	// regions block.
	Lines []string
}

// LoadFrom populates the map from a maps-format text file, usually
// /proc/self/maps. Lines that do not start with a START-END range are
// skipped.
func (m *MemoryMap) LoadFrom(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "opening memory map %s", path)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		m.Lines = append(m.Lines, line)
		region, ok := parseMapsLine(line)
		if !ok {
			logger.Warnf("skipping malformed maps line %q", line)
			continue
		}
		m.Regions = append(m.Regions, region)
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "reading memory map %s", path)
	}
	return nil
}

// Load populates the map from /proc/self/maps.
func (m *MemoryMap) Load() error {
	return m.LoadFrom(ProcSelfMaps)
}

// Contains reports whether addr falls inside any mapped region.
func (m *MemoryMap) Contains(addr uint64) bool {
	for i := range m.Regions {
		if addr >= m.Regions[i].Start && addr < m.Regions[i].End {
			return true
		}
	}
	return false
}

// ContainsRange reports whether a single region contains both lo and hi.
// Requiring one region keeps a range from straddling a protection
// boundary.
func (m *MemoryMap) ContainsRange(lo, hi uint64) bool {
	for i := range m.Regions {
		r := &m.Regions[i]
		if lo >= r.Start && lo < r.End && hi >= r.Start && hi < r.End {
			return true
		}
	}
	return false
}

// parseMapsLine extracts the leading START-END range of one maps line.
// Leading whitespace is tolerated; the scan of each bound stops at the
// first non-hex character. Lines without a well-formed range, or with
// start beyond end, are rejected.
func parseMapsLine(line string) (MemoryRegion, bool) {
	i := 0
	for i < len(line) && (line[i] == ' ' || line[i] == '\t') {
		i++
	}
	start, n := scanHex(line[i:])
	if n == 0 {
		return MemoryRegion{}, false
	}
	i += n
	if i >= len(line) || line[i] != '-' {
		return MemoryRegion{}, false
	}
	i++
	end, n := scanHex(line[i:])
	if n == 0 {
		return MemoryRegion{}, false
	}
	i += n
	if start > end {
		return MemoryRegion{}, false
	}

	region := MemoryRegion{Start: start, End: end}

	// The permission column is informative only; keep it when present.
	// It is a separate, space delimited column: text glued to the end
	// bound is not a permission string.
	if i < len(line) && line[i] != ' ' {
		return region, true
	}
	for i < len(line) && line[i] == ' ' {
		i++
	}
	j := i
	for j < len(line) && line[j] != ' ' {
		j++
	}
	region.Perms = line[i:j]
	return region, true
}

// scanHex parses a hex integer prefix of s and returns the value and the
// number of characters consumed.
func scanHex(s string) (uint64, int) {
	var v uint64
	i := 0
	for ; i < len(s); i++ {
		c := s[i]
		var d uint64
		switch {
		case c >= '0' && c <= '9':
			d = uint64(c - '0')
		case c >= 'a' && c <= 'f':
			d = uint64(c-'a') + 10
		case c >= 'A' && c <= 'F':
			d = uint64(c-'A') + 10
		default:
			return v, i
		}
		v = v<<4 | d
	}
	return v, i
}
