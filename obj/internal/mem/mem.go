// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package mem provides read access to the loaded image of a program.
//
// An Image is a sparse, read-only address space made up of named
// regions. Decoders only ever read from an Image; they never modify
// it.
package mem

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
)

// ErrUnmapped is returned (wrapped in an *AccessError) when a read
// touches an address that is not backed by any region.
var ErrUnmapped = errors.New("address not mapped")

// ErrOverlap is returned by Map when a new region overlaps an
// existing one.
var ErrOverlap = errors.New("region overlaps existing region")

// AccessError records a failed read.
type AccessError struct {
	Addr uint64
	Len  int
	Err  error
}

func (e *AccessError) Error() string {
	return fmt.Sprintf("reading %d bytes at %#x: %v", e.Len, e.Addr, e.Err)
}

func (e *AccessError) Unwrap() error { return e.Err }

// Region is a named, contiguous range of the address space.
type Region struct {
	Name  string
	Start uint64
	Size  uint64
}

// End returns the first address past r.
func (r Region) End() uint64 { return r.Start + r.Size }

// Contains reports whether addr falls within r.
func (r Region) Contains(addr uint64) bool {
	return r.Start <= addr && addr-r.Start < r.Size
}

// Image is the byte-addressable program image consumed by the
// decoders.
type Image interface {
	// Order returns the byte order of multi-byte values.
	Order() binary.ByteOrder

	// ReadBytes returns n bytes starting at addr.
	ReadBytes(addr uint64, n int) ([]byte, error)

	// ReadUint reads an unsigned integer of the given width (1,
	// 2, 4, or 8 bytes) at base+off.
	ReadUint(base, off uint64, width int) (uint64, error)

	// Find searches for pattern starting at start (inclusive),
	// comparing only the bits set in mask. If forward is false,
	// the search proceeds toward lower addresses and start is
	// the highest address a match may begin at. Find honors
	// cancellation of ctx.
	Find(ctx context.Context, start uint64, pattern, mask []byte, forward bool) (addr uint64, ok bool, err error)

	// Regions returns the named regions of the image in address
	// order.
	Regions() []Region
}

type block struct {
	Region
	// data backs the first len(data) bytes of the region. The
	// rest of the region reads as zero.
	data []byte
}

// Memory is an Image built from in-memory regions.
type Memory struct {
	order  binary.ByteOrder
	blocks []block
}

// New returns an empty Memory using byte order order.
func New(order binary.ByteOrder) *Memory {
	return &Memory{order: order}
}

// Map adds a region named name at start backed by data.
func (m *Memory) Map(name string, start uint64, data []byte) error {
	return m.mapBlock(block{Region{name, start, uint64(len(data))}, data})
}

// MapSized adds a region of size bytes of which only the prefix data
// is materialized. This models uninitialized sections.
func (m *Memory) MapSized(name string, start, size uint64, data []byte) error {
	if uint64(len(data)) > size {
		data = data[:size]
	}
	return m.mapBlock(block{Region{name, start, size}, data})
}

func (m *Memory) mapBlock(b block) error {
	if b.Size == 0 {
		return nil
	}
	if b.End() < b.Start {
		return fmt.Errorf("region %q at %#x wraps the address space", b.Name, b.Start)
	}
	i := sort.Search(len(m.blocks), func(i int) bool {
		return m.blocks[i].Start >= b.Start
	})
	if i > 0 && m.blocks[i-1].End() > b.Start {
		return fmt.Errorf("mapping %q: %w (%q)", b.Name, ErrOverlap, m.blocks[i-1].Name)
	}
	if i < len(m.blocks) && b.End() > m.blocks[i].Start {
		return fmt.Errorf("mapping %q: %w (%q)", b.Name, ErrOverlap, m.blocks[i].Name)
	}
	m.blocks = append(m.blocks, block{})
	copy(m.blocks[i+1:], m.blocks[i:])
	m.blocks[i] = b
	return nil
}

func (m *Memory) Order() binary.ByteOrder { return m.order }

func (m *Memory) Regions() []Region {
	out := make([]Region, len(m.blocks))
	for i, b := range m.blocks {
		out[i] = b.Region
	}
	return out
}

// lookup returns the block containing addr, or nil.
func (m *Memory) lookup(addr uint64) *block {
	i := sort.Search(len(m.blocks), func(i int) bool {
		return addr < m.blocks[i].End()
	})
	if i < len(m.blocks) && m.blocks[i].Contains(addr) {
		return &m.blocks[i]
	}
	return nil
}

func (m *Memory) ReadBytes(addr uint64, n int) ([]byte, error) {
	b := m.lookup(addr)
	if b == nil || n < 0 || uint64(n) > b.End()-addr {
		return nil, &AccessError{addr, n, ErrUnmapped}
	}
	out := make([]byte, n)
	off := addr - b.Start
	if off < uint64(len(b.data)) {
		copy(out, b.data[off:])
	}
	return out, nil
}

func (m *Memory) ReadUint(base, off uint64, width int) (uint64, error) {
	buf, err := m.ReadBytes(base+off, width)
	if err != nil {
		return 0, err
	}
	return decodeUint(m.order, buf)
}

func decodeUint(order binary.ByteOrder, buf []byte) (uint64, error) {
	switch len(buf) {
	case 1:
		return uint64(buf[0]), nil
	case 2:
		return uint64(order.Uint16(buf)), nil
	case 4:
		return uint64(order.Uint32(buf)), nil
	case 8:
		return order.Uint64(buf), nil
	}
	return 0, fmt.Errorf("unsupported integer width %d", len(buf))
}

// scanChunk is how many candidate positions Find examines between
// cancellation checks.
const scanChunk = 1 << 16

func (m *Memory) Find(ctx context.Context, start uint64, pattern, mask []byte, forward bool) (uint64, bool, error) {
	if len(pattern) == 0 {
		return 0, false, fmt.Errorf("empty search pattern")
	}
	if mask != nil && len(mask) != len(pattern) {
		return 0, false, fmt.Errorf("mask length %d does not match pattern length %d", len(mask), len(pattern))
	}
	if forward {
		for i := range m.blocks {
			b := &m.blocks[i]
			if b.End() <= start {
				continue
			}
			from := 0
			if start > b.Start {
				from = int(start - b.Start)
			}
			if pos, ok, err := scanForward(ctx, b.data, from, pattern, mask); err != nil || ok {
				return b.Start + uint64(pos), ok, err
			}
		}
		return 0, false, nil
	}
	for i := len(m.blocks) - 1; i >= 0; i-- {
		b := &m.blocks[i]
		if b.Start > start {
			continue
		}
		to := len(b.data) - len(pattern)
		if to < 0 {
			continue
		}
		if start-b.Start < uint64(to) {
			to = int(start - b.Start)
		}
		if pos, ok, err := scanBackward(ctx, b.data, to, pattern, mask); err != nil || ok {
			return b.Start + uint64(pos), ok, err
		}
	}
	return 0, false, nil
}

func exact(mask []byte) bool {
	for _, b := range mask {
		if b != 0xff {
			return false
		}
	}
	return true
}

func matchAt(data []byte, pos int, pattern, mask []byte) bool {
	for j, p := range pattern {
		if data[pos+j]&mask[j] != p&mask[j] {
			return false
		}
	}
	return true
}

func scanForward(ctx context.Context, data []byte, from int, pattern, mask []byte) (int, bool, error) {
	last := len(data) - len(pattern)
	if exact(mask) {
		for from <= last {
			if err := ctx.Err(); err != nil {
				return 0, false, err
			}
			end := from + scanChunk + len(pattern) - 1
			if end > len(data) {
				end = len(data)
			}
			if i := bytes.Index(data[from:end], pattern); i >= 0 {
				return from + i, true, nil
			}
			from += scanChunk
		}
		return 0, false, nil
	}
	for pos := from; pos <= last; pos++ {
		if (pos-from)%scanChunk == 0 {
			if err := ctx.Err(); err != nil {
				return 0, false, err
			}
		}
		if matchAt(data, pos, pattern, mask) {
			return pos, true, nil
		}
	}
	return 0, false, nil
}

func scanBackward(ctx context.Context, data []byte, to int, pattern, mask []byte) (int, bool, error) {
	if mask == nil {
		mask = bytes.Repeat([]byte{0xff}, len(pattern))
	}
	for pos := to; pos >= 0; pos-- {
		if (to-pos)%scanChunk == 0 {
			if err := ctx.Err(); err != nil {
				return 0, false, err
			}
		}
		if matchAt(data, pos, pattern, mask) {
			return pos, true, nil
		}
	}
	return 0, false, nil
}
