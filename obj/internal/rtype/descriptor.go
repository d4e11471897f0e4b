// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rtype

import (
	"strings"

	"github.com/aclements/gometa/obj/internal/datatype"
)

// A Descriptor is a decoded type descriptor. Descriptors are immutable
// once decoded.
type Descriptor interface {
	Key() TypeKey
	Name() string
	Size() int64
	Kind() Kind

	// Deps returns the keys of the descriptors this one refers to.
	// They are recorded at decode time, whether or not they are
	// ever resolved.
	Deps() []TypeKey

	// Datatype returns the structural datatype of the descriptor.
	// If recursive is true, referenced types are looked up in s;
	// otherwise, or if s has no datatype for a key, an opaque
	// placeholder of the right size takes its place.
	Datatype(s Searcher, recursive bool) datatype.Type
}

// A Searcher returns the datatype for a type key, or nil if it is not
// known.
type Searcher interface {
	Datatype(key TypeKey) datatype.Type
}

// decode reads the descriptor for key.
func decode(cfg *Config, key TypeKey) (Descriptor, error) {
	h, err := readHeader(cfg, key)
	if err != nil {
		return nil, err
	}
	var d interface {
		Descriptor
		decode(r *reader)
	}
	switch h.kind {
	case Array:
		d = &ArrayType{header: h}
	case Pointer:
		d = &PointerType{header: h}
	case Slice:
		d = &SliceType{header: h}
	case Chan:
		d = &ChanType{header: h}
	case Map:
		d = &MapType{header: h}
	case Struct:
		d = &StructType{header: h}
	case Interface:
		d = &InterfaceType{header: h}
	case Func:
		d = &FuncType{header: h}
	default:
		d = &BasicType{header: h}
	}
	r := &reader{cfg: cfg}
	d.decode(r)
	if r.err != nil {
		return nil, r.err
	}
	return d, nil
}

func lookup(s Searcher, recursive bool, key TypeKey) datatype.Type {
	if !recursive || s == nil {
		return nil
	}
	return s.Datatype(key)
}

// placeholderName derives an element name from a composite type name:
// "[4]foo.Bar" yields "Bar_data".
func placeholderName(name string) string {
	if i := strings.LastIndexByte(name, ']'); i >= 0 {
		name = name[i+1:]
	}
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		name = name[i+1:]
	}
	return name + "_data"
}

func (h *header) word(name string) datatype.Type {
	return &datatype.Basic{TypeName: name, Size: int64(h.width)}
}

func (h *header) ptrTo(elem datatype.Type) *datatype.Pointer {
	return &datatype.Pointer{Elem: elem, Size: int64(h.width)}
}

// ArrayType is a fixed-length array descriptor.
type ArrayType struct {
	*header
	Elem TypeKey
	// SliceRef is the raw pointer to the []Elem descriptor. It is
	// not decoded.
	SliceRef uint64
	Len      int
}

func (a *ArrayType) decode(r *reader) {
	w := uint64(a.width)
	a.Elem = KeyOf(r.ptr(a.ext, 0), r.cfg.Base)
	a.SliceRef = r.ptr(a.ext, w)
	a.Len = int(r.int(a.ext, 2*w))
	a.dep(a.Elem)
}

func (a *ArrayType) Datatype(s Searcher, recursive bool) datatype.Type {
	if a.Len <= 0 {
		return datatype.Void{}
	}
	elem := lookup(s, recursive, a.Elem)
	if elem == nil {
		elem = datatype.NewPlaceholder(placeholderName(a.name), a.size/int64(a.Len))
	}
	return &datatype.Array{Elem: elem, Count: int64(a.Len), Stride: elem.Len()}
}

// PointerType is a *T descriptor.
type PointerType struct {
	*header
	Elem TypeKey
	// Nil is set if the element pointer was nil.
	Nil bool
}

func (p *PointerType) decode(r *reader) {
	var ok bool
	p.Elem, ok = r.key(p.ext, 0)
	p.Nil = !ok
	if ok {
		p.dep(p.Elem)
	}
}

func (p *PointerType) Datatype(s Searcher, recursive bool) datatype.Type {
	if p.Nil {
		return p.ptrTo(nil)
	}
	return p.ptrTo(lookup(s, recursive, p.Elem))
}

// SliceType is a []T descriptor.
type SliceType struct {
	*header
	Elem TypeKey
}

func (sl *SliceType) decode(r *reader) {
	sl.Elem = KeyOf(r.ptr(sl.ext, 0), r.cfg.Base)
	sl.dep(sl.Elem)
}

func (sl *SliceType) Datatype(s Searcher, recursive bool) datatype.Type {
	w := int64(sl.width)
	return &datatype.Struct{
		TypeName: sl.name,
		Size:     sl.size,
		Fields: []datatype.Field{
			{Name: "array", Offset: 0, Type: sl.ptrTo(lookup(s, recursive, sl.Elem))},
			{Name: "len", Offset: w, Type: sl.word("int")},
			{Name: "cap", Offset: 2 * w, Type: sl.word("int")},
		},
	}
}

// ChanDir is a channel direction.
type ChanDir int

const (
	RecvDir ChanDir = 1 << iota
	SendDir
	BothDir = RecvDir | SendDir
)

// ChanType is a chan T descriptor.
type ChanType struct {
	*header
	Elem TypeKey
	Dir  ChanDir
}

func (c *ChanType) decode(r *reader) {
	c.Elem = KeyOf(r.ptr(c.ext, 0), r.cfg.Base)
	c.Dir = ChanDir(r.ptr(c.ext, uint64(c.width)))
	c.dep(c.Elem)
}

// Datatype returns a pointer to the runtime's channel header, which is
// opaque here.
func (c *ChanType) Datatype(Searcher, bool) datatype.Type {
	return c.ptrTo(datatype.NewPlaceholder("hchan", 0))
}

// MapType is a map[K]V descriptor.
type MapType struct {
	*header
	KeyType, Elem TypeKey
}

func (m *MapType) decode(r *reader) {
	w := uint64(m.width)
	m.KeyType = KeyOf(r.ptr(m.ext, 0), r.cfg.Base)
	m.Elem = KeyOf(r.ptr(m.ext, w), r.cfg.Base)
	m.dep(m.KeyType)
	m.dep(m.Elem)
}

func (m *MapType) Datatype(Searcher, bool) datatype.Type {
	return m.ptrTo(datatype.NewPlaceholder("hmap", 0))
}

// StructField is one field of a struct descriptor.
type StructField struct {
	Name     string
	Type     TypeKey
	Offset   int64
	Embedded bool
}

// StructType is a struct descriptor.
type StructType struct {
	*header
	PkgPath string
	Fields  []StructField
}

func (st *StructType) decode(r *reader) {
	w := uint64(st.width)
	var fields uint64
	var n int
	fieldSize := 3 * w
	if r.cfg.Format.Legacy() {
		fields, n = r.slice(st.ext, 0)
		fieldSize = 5 * w
	} else {
		st.PkgPath = r.name(r.ptr(st.ext, 0))
		fields, n = r.slice(st.ext, w)
	}
	if r.err != nil {
		return
	}

	st.Fields = make([]StructField, n)
	for i := range st.Fields {
		f := &st.Fields[i]
		at := fields + uint64(i)*fieldSize
		var off uint64
		if r.cfg.Format.Legacy() {
			// name, pkgPath, typ, tag, offset
			f.Name = r.goStringPtr(r.ptr(at, 0))
			f.Type = KeyOf(r.ptr(at, 2*w), r.cfg.Base)
			off = r.ptr(at, 4*w)
		} else {
			// name, typ, offset
			name := r.ptr(at, 0)
			f.Name = r.name(name)
			f.Embedded = r.cfg.Format == Go119 && r.nameFlags(name)&nameFlagEmbedded != 0
			f.Type = KeyOf(r.ptr(at, w), r.cfg.Base)
			off = r.ptr(at, 2*w)
		}
		if r.err != nil {
			return
		}
		if r.cfg.Format.shiftedOffsets() {
			f.Embedded = off&1 != 0
			off >>= 1
		}
		f.Offset = int64(off)
		if f.Name == "" {
			// Before Go 1.9, embedded fields have no name.
			f.Embedded = true
		}
		st.dep(f.Type)
	}
}

// goStringPtr reads a *string. A nil pointer is the empty string.
func (r *reader) goStringPtr(addr uint64) string {
	if addr == 0 {
		return ""
	}
	return r.goString(addr)
}

func (st *StructType) Datatype(s Searcher, recursive bool) datatype.Type {
	out := &datatype.Struct{TypeName: st.name, Size: st.size}
	for i, f := range st.Fields {
		t := lookup(s, recursive, f.Type)
		if t == nil {
			end := st.size
			if i+1 < len(st.Fields) {
				end = st.Fields[i+1].Offset
			}
			size := end - f.Offset
			if size < 0 {
				size = 0
			}
			t = datatype.NewPlaceholder(f.Name+"_data", size)
		}
		out.Fields = append(out.Fields, datatype.Field{Name: f.Name, Offset: f.Offset, Type: t})
	}
	return out
}

// InterfaceType is an interface descriptor. Method types are not
// decoded.
type InterfaceType struct {
	*header
	PkgPath string
	Methods int
}

func (it *InterfaceType) decode(r *reader) {
	if r.cfg.Format.Legacy() {
		_, it.Methods = r.slice(it.ext, 0)
		return
	}
	it.PkgPath = r.name(r.ptr(it.ext, 0))
	_, it.Methods = r.slice(it.ext, uint64(it.width))
}

func (it *InterfaceType) Datatype(Searcher, bool) datatype.Type {
	first := "tab"
	if it.Methods == 0 {
		first = "_type"
	}
	return &datatype.Struct{
		TypeName: it.name,
		Size:     it.size,
		Fields: []datatype.Field{
			{Name: first, Offset: 0, Type: it.ptrTo(nil)},
			{Name: "data", Offset: int64(it.width), Type: it.ptrTo(nil)},
		},
	}
}

// FuncType is a func descriptor.
type FuncType struct {
	*header
	In, Out  []TypeKey
	Variadic bool
}

func (fn *FuncType) decode(r *reader) {
	w := uint64(fn.width)
	if r.cfg.Format.Legacy() {
		// dotdotdot bool, in []*rtype, out []*rtype
		fn.Variadic = r.ptr(fn.ext, 0)&0xff != 0
		in, nin := r.slice(fn.ext, w)
		out, nout := r.slice(fn.ext, 4*w)
		fn.In = r.keys(in, nin)
		fn.Out = r.keys(out, nout)
	} else {
		nin := int(r.uint(fn.ext, 0, 2))
		outCount := r.uint(fn.ext, 2, 2)
		fn.Variadic = outCount&(1<<15) != 0
		nout := int(outCount &^ (1 << 15))
		params := fn.ext + w
		if fn.tflag&tflagUncommon != 0 {
			params += uncommonSize
		}
		all := r.keys(params, nin+nout)
		if len(all) == nin+nout {
			fn.In, fn.Out = all[:nin], all[nin:]
		}
	}
	for _, k := range fn.In {
		fn.dep(k)
	}
	for _, k := range fn.Out {
		fn.dep(k)
	}
}

// keys reads n descriptor pointers starting at addr.
func (r *reader) keys(addr uint64, n int) []TypeKey {
	if r.err != nil || n == 0 {
		return nil
	}
	w := uint64(r.cfg.Width)
	out := make([]TypeKey, 0, n)
	for i := 0; i < n; i++ {
		p := r.ptr(addr, uint64(i)*w)
		if r.err != nil {
			return nil
		}
		out = append(out, KeyOf(p, r.cfg.Base))
	}
	return out
}

// Datatype returns a pointer to the closure, which is opaque here.
func (fn *FuncType) Datatype(Searcher, bool) datatype.Type {
	return fn.ptrTo(datatype.NewPlaceholder("funcval", 0))
}

// BasicType is a descriptor with no kind-specific fields: booleans,
// numbers, strings, and unsafe.Pointer.
type BasicType struct {
	*header
}

func (b *BasicType) decode(*reader) {}

func (b *BasicType) Datatype(Searcher, bool) datatype.Type {
	switch b.kind {
	case String:
		return &datatype.Struct{
			TypeName: b.name,
			Size:     b.size,
			Fields: []datatype.Field{
				{Name: "str", Offset: 0, Type: b.ptrTo(&datatype.Basic{TypeName: "uint8", Size: 1})},
				{Name: "len", Offset: int64(b.width), Type: b.word("int")},
			},
		}
	case UnsafePointer:
		return b.ptrTo(nil)
	}
	return &datatype.Basic{TypeName: b.name, Size: b.size}
}
