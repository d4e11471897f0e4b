// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package rtype decodes Go runtime type descriptors into structural
// datatypes.
//
// Type descriptors reference each other by absolute address. The
// decoder converts those to TypeKeys, offsets from the start of the
// type section, so descriptors can be cached and compared
// independently of where the image is loaded.
package rtype

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/aclements/gometa/obj/internal/diag"
	"github.com/aclements/gometa/obj/internal/mem"
)

// A TypeKey identifies a type descriptor by its offset from the type
// section base.
type TypeKey uint64

// KeyOf returns the key of the descriptor at absolute address addr.
func KeyOf(addr, base uint64) TypeKey {
	return TypeKey(addr - base)
}

// Addr returns the absolute address of k's descriptor.
func (k TypeKey) Addr(base uint64) uint64 {
	return base + uint64(k)
}

func (k TypeKey) String() string {
	return fmt.Sprintf("type+%#x", uint64(k))
}

// Format identifies the on-disk layout of type descriptors.
type Format int

const (
	// Go16 descriptors name types with an absolute *string and
	// carry an uncommon type pointer in the header.
	Go16 Format = iota
	// Go17 descriptors name types with a 32-bit offset to a name
	// record with a 2-byte big-endian length.
	Go17
	// Go19 is like Go17, but struct field offsets are stored
	// shifted left by one with the embedded flag in the low bit.
	Go19
	// Go117 is like Go19, but name records use a uvarint length.
	Go117
	// Go119 stores plain struct field offsets again and moves the
	// embedded flag into the field's name record.
	Go119
)

// Formats lists every known format, oldest first.
var Formats = []Format{Go16, Go17, Go19, Go117, Go119}

// Legacy reports whether f is the pre-1.7 header layout.
func (f Format) Legacy() bool { return f == Go16 }

// varintNames reports whether name records use a uvarint length.
func (f Format) varintNames() bool { return f >= Go117 }

// shiftedOffsets reports whether struct field offsets are stored as
// offset<<1 | embedded.
func (f Format) shiftedOffsets() bool { return f == Go19 || f == Go117 }

func (f Format) String() string {
	switch f {
	case Go16:
		return "go1.6"
	case Go17:
		return "go1.7"
	case Go19:
		return "go1.9"
	case Go117:
		return "go1.17"
	case Go119:
		return "go1.19"
	}
	return fmt.Sprintf("Format(%d)", int(f))
}

// Kind is the kind of a Go type, as in reflect.Kind.
type Kind uint8

const (
	Invalid Kind = iota
	Bool
	Int
	Int8
	Int16
	Int32
	Int64
	Uint
	Uint8
	Uint16
	Uint32
	Uint64
	Uintptr
	Float32
	Float64
	Complex64
	Complex128
	Array
	Chan
	Func
	Interface
	Map
	Pointer
	Slice
	String
	Struct
	UnsafePointer
)

const kindMask = (1 << 5) - 1

var kindNames = []string{
	Invalid:       "invalid",
	Bool:          "bool",
	Int:           "int",
	Int8:          "int8",
	Int16:         "int16",
	Int32:         "int32",
	Int64:         "int64",
	Uint:          "uint",
	Uint8:         "uint8",
	Uint16:        "uint16",
	Uint32:        "uint32",
	Uint64:        "uint64",
	Uintptr:       "uintptr",
	Float32:       "float32",
	Float64:       "float64",
	Complex64:     "complex64",
	Complex128:    "complex128",
	Array:         "array",
	Chan:          "chan",
	Func:          "func",
	Interface:     "interface",
	Map:           "map",
	Pointer:       "ptr",
	Slice:         "slice",
	String:        "string",
	Struct:        "struct",
	UnsafePointer: "unsafe.Pointer",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

const (
	tflagUncommon  = 1 << 0
	tflagExtraStar = 1 << 1
)

// ErrBadDescriptor is returned for descriptors that cannot be decoded.
var ErrBadDescriptor = errors.New("bad type descriptor")

// maxName bounds the length of a type or field name.
const maxName = 1 << 16

// maxSlice bounds the number of fields or methods in a descriptor.
const maxSlice = 1 << 16

// Config describes where type descriptors live.
type Config struct {
	Image mem.Image
	// Base is the address of the type section. TypeKeys are
	// relative to it.
	Base   uint64
	Width  int
	Format Format
	// Sink receives diagnostics for types that fail to decode
	// during a walk. It may be nil.
	Sink diag.Sink
}

func (c *Config) check() error {
	if c.Image == nil {
		return errors.New("rtype: nil image")
	}
	if c.Width != 4 && c.Width != 8 {
		return fmt.Errorf("rtype: unsupported pointer width %d", c.Width)
	}
	return nil
}

// headerSize returns the size of the common descriptor header, which is
// where variant fields start.
func (c *Config) headerSize() uint64 {
	w := uint64(c.Width)
	if c.Format.Legacy() {
		return 7*w + 8
	}
	return 4*w + 16
}

// reader reads fields relative to one address, remembering the first
// error. Later reads after an error return 0.
type reader struct {
	cfg *Config
	err error
}

func (r *reader) uint(addr, off uint64, width int) uint64 {
	if r.err != nil {
		return 0
	}
	v, err := r.cfg.Image.ReadUint(addr, off, width)
	if err != nil {
		r.err = err
	}
	return v
}

func (r *reader) ptr(addr, off uint64) uint64 {
	return r.uint(addr, off, r.cfg.Width)
}

// int reads a signed pointer-sized integer, truncated to int.
func (r *reader) int(addr, off uint64) int64 {
	v := r.ptr(addr, off)
	if r.cfg.Width == 4 {
		return int64(int32(v))
	}
	return int64(v)
}

// key reads an absolute descriptor pointer and converts it to a key.
// A nil pointer yields ok == false.
func (r *reader) key(addr, off uint64) (k TypeKey, ok bool) {
	p := r.ptr(addr, off)
	if p == 0 || r.err != nil {
		return 0, false
	}
	return KeyOf(p, r.cfg.Base), true
}

// slice reads a slice header.
func (r *reader) slice(addr, off uint64) (data uint64, n int) {
	w := uint64(r.cfg.Width)
	data = r.ptr(addr, off)
	n = int(r.int(addr, off+w))
	if (n < 0 || n > maxSlice) && r.err == nil {
		r.err = fmt.Errorf("%w: slice length %d at %#x", ErrBadDescriptor, n, addr+off)
		n = 0
	}
	return
}

// goString reads the Go string whose header is at addr.
func (r *reader) goString(addr uint64) string {
	data := r.ptr(addr, 0)
	n := r.int(addr, uint64(r.cfg.Width))
	if r.err != nil || n == 0 {
		return ""
	}
	if n < 0 || n > maxName {
		r.err = fmt.Errorf("%w: bad string length %d at %#x", ErrBadDescriptor, n, addr)
		return ""
	}
	b, err := r.cfg.Image.ReadBytes(data, int(n))
	if err != nil {
		r.err = err
		return ""
	}
	return string(b)
}

// name reads the name record at addr. For the legacy format, addr
// points to a Go string header instead.
func (r *reader) name(addr uint64) string {
	if r.err != nil || addr == 0 {
		return ""
	}
	if r.cfg.Format.Legacy() {
		return r.goString(addr)
	}

	var n, off uint64
	if !r.cfg.Format.varintNames() {
		hi := r.uint(addr, 1, 1)
		lo := r.uint(addr, 2, 1)
		n, off = hi<<8|lo, 3
	} else {
		hdr, err := r.cfg.Image.ReadBytes(addr+1, binary.MaxVarintLen32)
		if err != nil {
			// The record may end near the end of a region.
			hdr, err = r.cfg.Image.ReadBytes(addr+1, 1)
		}
		if err != nil {
			r.err = err
			return ""
		}
		var l int
		n, l = binary.Uvarint(hdr)
		if l <= 0 {
			r.err = fmt.Errorf("%w: bad name length at %#x", ErrBadDescriptor, addr)
			return ""
		}
		off = 1 + uint64(l)
	}
	if r.err != nil || n == 0 {
		return ""
	}
	if n > maxName {
		r.err = fmt.Errorf("%w: name length %d at %#x", ErrBadDescriptor, n, addr)
		return ""
	}
	b, err := r.cfg.Image.ReadBytes(addr+off, int(n))
	if err != nil {
		r.err = err
		return ""
	}
	return string(b)
}

// nameFlagEmbedded marks the name of an embedded struct field in the
// Go119 format.
const nameFlagEmbedded = 1 << 3

// nameFlags reads the flag byte of the name record at addr.
func (r *reader) nameFlags(addr uint64) uint8 {
	if addr == 0 || r.cfg.Format.Legacy() {
		return 0
	}
	return uint8(r.uint(addr, 0, 1))
}

// header is the part of a descriptor shared by every kind.
type header struct {
	key        TypeKey
	addr       uint64
	size       int64
	ptrdata    uint64
	hash       uint32
	tflag      uint8
	align      uint8
	fieldAlign uint8
	kind       Kind
	name       string
	width      int

	// ext is the address of the kind-specific fields.
	ext  uint64
	deps []TypeKey
}

func readHeader(cfg *Config, key TypeKey) (*header, error) {
	addr := key.Addr(cfg.Base)
	w := uint64(cfg.Width)
	r := &reader{cfg: cfg}
	h := &header{key: key, addr: addr, width: cfg.Width, ext: addr + cfg.headerSize()}

	h.size = int64(r.ptr(addr, 0))
	h.ptrdata = r.ptr(addr, w)
	h.hash = uint32(r.uint(addr, 2*w, 4))
	h.tflag = uint8(r.uint(addr, 2*w+4, 1))
	h.align = uint8(r.uint(addr, 2*w+5, 1))
	h.fieldAlign = uint8(r.uint(addr, 2*w+6, 1))
	h.kind = Kind(r.uint(addr, 2*w+7, 1) & kindMask)
	if cfg.Format.Legacy() {
		// No tflag bits before 1.7.
		h.tflag = 0
		h.name = r.name(r.ptr(addr, 4*w+8))
	} else {
		off := int32(r.uint(addr, 4*w+8, 4))
		if off != 0 {
			h.name = r.name(cfg.Base + uint64(int64(off)))
		}
		if h.tflag&tflagExtraStar != 0 && len(h.name) > 0 && h.name[0] == '*' {
			h.name = h.name[1:]
		}
	}
	if r.err != nil {
		return nil, fmt.Errorf("decoding %s at %#x: %w", key, addr, r.err)
	}
	if h.size < 0 {
		return nil, fmt.Errorf("%w: %s has negative size %d", ErrBadDescriptor, key, h.size)
	}
	if h.kind > UnsafePointer || h.kind == Invalid {
		return nil, fmt.Errorf("%w: %s has kind %d", ErrBadDescriptor, key, uint8(h.kind))
	}
	return h, nil
}

func (h *header) Key() TypeKey { return h.key }
func (h *header) Name() string { return h.name }
func (h *header) Size() int64  { return h.size }
func (h *header) Kind() Kind   { return h.kind }
func (h *header) Align() uint8 { return h.align }
func (h *header) Hash() uint32 { return h.hash }

func (h *header) Deps() []TypeKey {
	return append([]TypeKey(nil), h.deps...)
}

func (h *header) dep(k TypeKey) {
	h.deps = append(h.deps, k)
}

// uncommonSize is the size of the uncommon type record that follows
// some descriptors when tflagUncommon is set.
const uncommonSize = 16
