// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package functab recovers function names from the Go function lookup
// table (pclntab) in a program image.
//
// The table maps entry PCs to per-function records. Each record
// repeats its entry PC, which lets the decoder validate every entry
// independently: a corrupt entry is reported and skipped without
// affecting its neighbors.
package functab

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/aclements/gometa/obj/internal/diag"
	"github.com/aclements/gometa/obj/internal/mem"
)

// Header magic numbers, by the Go release that introduced the layout.
const (
	Go12Magic  = 0xfffffffb
	Go116Magic = 0xfffffffa
	Go118Magic = 0xfffffff0
	Go120Magic = 0xfffffff1
)

// ErrTableNotFound is returned when no function table can be found
// by section name or by signature scan.
var ErrTableNotFound = errors.New("function table not found")

// SectionNames are the section names the table is found under.
var SectionNames = []string{".gopclntab", "__gopclntab"}

// maxName bounds the length of a function name.
const maxName = 4096

// PointerWidth returns the pointer width in bytes for an architecture
// descriptor: 8 for 64-bit little-endian targets and 4 otherwise.
func PointerWidth(arch string) int {
	if strings.Contains(arch, "LE:64") {
		return 8
	}
	return 4
}

// Signature returns the byte pattern and mask that start a table with
// the given magic in an image with img's byte order.
func Signature(img mem.Image, magic uint32) (pattern, mask []byte) {
	pattern = make([]byte, 4)
	img.Order().PutUint32(pattern, magic)
	return pattern, []byte{0xff, 0xff, 0xff, 0xff}
}

// Candidates returns the addresses in img where a table with the
// given magic may start, in address order.
func Candidates(ctx context.Context, img mem.Image, magic uint32) *mem.MatchIter {
	pattern, mask := Signature(img, magic)
	return mem.Matches(ctx, img, 0, pattern, mask)
}

// Locate returns the base address of the function table. It prefers a
// dedicated section and otherwise returns the first signature match
// for magic.
func Locate(ctx context.Context, img mem.Image, magic uint32) (uint64, error) {
	if r, ok := mem.RegionNamed(img, SectionNames...); ok {
		return r.Start, nil
	}
	it := Candidates(ctx, img, magic)
	if addr, ok := it.Next(); ok {
		return addr, nil
	}
	if err := it.Err(); err != nil {
		return 0, fmt.Errorf("scanning for function table: %w", err)
	}
	return 0, ErrTableNotFound
}

// LocateAny is like Locate, but scans for each known magic in turn,
// newest layout first.
func LocateAny(ctx context.Context, img mem.Image) (uint64, error) {
	for _, magic := range []uint32{Go120Magic, Go118Magic, Go116Magic, Go12Magic} {
		addr, err := Locate(ctx, img, magic)
		if err == nil || !errors.Is(err, ErrTableNotFound) {
			return addr, err
		}
	}
	return 0, ErrTableNotFound
}

// Binding is a recovered function name.
type Binding struct {
	Addr     uint64
	Name     string
	NameAddr uint64
	// Args is the argument size recorded in the function's
	// record. It is not interpreted further.
	Args uint32
}

// StringSource materializes the strings at name addresses. It reports
// an error if the address already holds incompatible data.
type StringSource interface {
	GetOrCreateStringAt(addr uint64) (string, error)
}

// Config controls Decode.
type Config struct {
	// Width is the pointer width in bytes, normally from
	// PointerWidth.
	Width int

	// Strings, if non-nil, is used to read function names.
	// Otherwise they are read directly from the image.
	Strings StringSource

	// Sink receives per-entry diagnostics. It may be nil.
	Sink diag.Sink
}

// Result is the outcome of decoding a table. Bindings and Problems
// partition the entries that were examined.
type Result struct {
	Base    uint64
	Magic   uint32
	Width   int
	NFunc   int
	Layout  string
	Entries []Binding
	// Problems holds one error per skipped entry.
	Problems []*EntryError
}

// Decode reads the function table at base. It fails only if the table
// header cannot be read; every entry-level problem is recorded in the
// result and the entry skipped.
func Decode(img mem.Image, base uint64, cfg Config) (*Result, error) {
	if cfg.Width != 4 && cfg.Width != 8 {
		return nil, fmt.Errorf("unsupported pointer width %d", cfg.Width)
	}
	sink := cfg.Sink
	if sink == nil {
		sink = diag.Nop()
	}

	l, err := readLayout(img, base, cfg.Width)
	if err != nil {
		return nil, err
	}
	if l.ptrSize != 0 && l.ptrSize != cfg.Width {
		sink.Warn("table header pointer size disagrees with architecture",
			zap.Int("header", l.ptrSize), zap.Int("arch", cfg.Width))
	}

	res := &Result{Base: base, Magic: l.magic, Width: cfg.Width, NFunc: l.nfunc, Layout: l.name}
	for i := 0; i < l.nfunc; i++ {
		b, err := l.entry(img, i, cfg.Strings)
		if err != nil {
			var ee *EntryError
			if !errors.As(err, &ee) {
				ee = &EntryError{Index: i, Problem: Unreadable, Err: err}
			}
			res.Problems = append(res.Problems, ee)
			ee.report(sink)
			continue
		}
		res.Entries = append(res.Entries, b)
	}
	return res, nil
}

// layout describes where the parts of one table version live.
type layout struct {
	name    string
	magic   uint32
	ptrSize int // from the header, or 0 if unknown
	nfunc   int

	// functab is the address of the (entry, info offset) array.
	functab uint64
	// fieldWidth is the width of each functab field.
	fieldWidth int
	// funcdata is the base for info offsets.
	funcdata uint64
	// entryWidth is the width of a record's entry field.
	entryWidth int
	// names is the base for name offsets.
	names uint64
	// textStart is added to entry values to form addresses.
	textStart uint64
}

func readLayout(img mem.Image, base uint64, width int) (*layout, error) {
	magic, err := img.ReadUint(base, 0, 4)
	if err != nil {
		return nil, fmt.Errorf("reading table header: %w", err)
	}
	w := uint64(width)
	l := &layout{magic: uint32(magic), fieldWidth: width, entryWidth: width}
	if ps, err := img.ReadUint(base, 7, 1); err == nil && (ps == 4 || ps == 8) {
		l.ptrSize = int(ps)
	}

	// word reads the i'th pointer-sized header word after the
	// 8-byte prefix.
	word := func(i uint64) uint64 {
		if err != nil {
			return 0
		}
		var v uint64
		v, err = img.ReadUint(base, 8+i*w, width)
		return v
	}

	switch l.magic {
	case Go12Magic:
		l.name = "go1.2"
		var n uint64
		n, err = img.ReadUint(base, 8, 4)
		l.nfunc = int(n)
		l.functab = base + 8 + w
		l.funcdata = base
		l.names = base

	case Go116Magic:
		l.name = "go1.16"
		l.nfunc = int(word(0))
		l.names = base + word(2)
		l.functab = base + word(6)
		l.funcdata = l.functab

	case Go118Magic, Go120Magic:
		l.name = "go1.18"
		if l.magic == Go120Magic {
			l.name = "go1.20"
		}
		l.nfunc = int(word(0))
		l.textStart = word(2)
		l.names = base + word(3)
		l.functab = base + word(7)
		l.funcdata = l.functab
		l.fieldWidth, l.entryWidth = 4, 4

	default:
		return nil, fmt.Errorf("%w: unknown table magic %#x at %#x", ErrTableNotFound, l.magic, base)
	}
	if err != nil {
		return nil, fmt.Errorf("reading table header: %w", err)
	}

	if l.nfunc < 0 {
		return nil, fmt.Errorf("bad function count %d", l.nfunc)
	}
	if l.nfunc > 0 {
		// The whole entry array must be mapped. This guards
		// against a garbage count sending the loop off across
		// billions of entries.
		last := uint64(l.nfunc)*2*uint64(l.fieldWidth) - 1
		if _, err := img.ReadUint(l.functab, last, 1); err != nil {
			return nil, fmt.Errorf("function count %d overruns the table: %w", l.nfunc, err)
		}
	}
	return l, nil
}

// entry decodes and validates the i'th entry.
func (l *layout) entry(img mem.Image, i int, strs StringSource) (Binding, error) {
	fw := uint64(l.fieldWidth)
	ew := uint64(l.entryWidth)
	off := uint64(i) * 2 * fw

	entry, err := img.ReadUint(l.functab, off, l.fieldWidth)
	if err != nil {
		return Binding{}, err
	}
	info, err := img.ReadUint(l.functab, off+fw, l.fieldWidth)
	if err != nil {
		return Binding{}, err
	}
	entryCopy, err := img.ReadUint(l.funcdata, info, l.entryWidth)
	if err != nil {
		return Binding{}, err
	}
	nameOff, err := img.ReadUint(l.funcdata, info+ew, 4)
	if err != nil {
		return Binding{}, err
	}
	args, err := img.ReadUint(l.funcdata, info+ew+4, 4)
	if err != nil {
		return Binding{}, err
	}

	addr := l.textStart + entry
	if entry != entryCopy {
		return Binding{}, &EntryError{
			Index:   i,
			Problem: EntryValidationMismatch,
			Addr:    addr,
			Copy:    l.textStart + entryCopy,
		}
	}

	nameAddr := l.names + nameOff
	var name string
	if strs != nil {
		name, err = strs.GetOrCreateStringAt(nameAddr)
		var ae *mem.AccessError
		if err != nil && !errors.As(err, &ae) {
			return Binding{}, &EntryError{Index: i, Problem: IncompatibleExistingData, Addr: addr, Err: err}
		}
	} else {
		name, err = mem.ReadCString(img, nameAddr, maxName)
	}
	if err != nil {
		return Binding{}, &EntryError{Index: i, Problem: Unreadable, Addr: addr, Err: err}
	}
	return Binding{Addr: addr, Name: name, NameAddr: nameAddr, Args: uint32(args)}, nil
}
