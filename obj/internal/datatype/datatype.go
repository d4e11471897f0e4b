// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package datatype describes the memory layout of values as a tree of
// structural types.
//
// These are the layouts a program database applies to memory. They
// carry sizes and offsets, not Go semantics.
package datatype

import "fmt"

// Type is a structural datatype.
type Type interface {
	// Name returns the display name of the type.
	Name() string

	// Len returns the size in bytes of one value of the type.
	Len() int64
}

// Void is the shape of something with no storage.
type Void struct{}

func (Void) Name() string { return "void" }
func (Void) Len() int64   { return 0 }

// Basic is a scalar of a given size.
type Basic struct {
	TypeName string
	Size     int64
}

func (b *Basic) Name() string { return b.TypeName }
func (b *Basic) Len() int64   { return b.Size }

// Field is a member of a Struct.
type Field struct {
	Name   string
	Offset int64
	Type   Type
}

// Struct is an aggregate. A Struct with no fields is opaque: it
// preserves size but not internal shape.
type Struct struct {
	TypeName string
	Size     int64
	Fields   []Field
}

// NewPlaceholder returns an opaque aggregate of size bytes.
func NewPlaceholder(name string, size int64) *Struct {
	return &Struct{TypeName: name, Size: size}
}

func (s *Struct) Name() string { return s.TypeName }
func (s *Struct) Len() int64   { return s.Size }

// Opaque reports whether s has no known internal shape.
func (s *Struct) Opaque() bool { return len(s.Fields) == 0 }

// Array is a fixed-length sequence. Stride is the distance between
// consecutive elements, which is normally Elem.Len().
type Array struct {
	Elem   Type
	Count  int64
	Stride int64
}

func (a *Array) Name() string { return fmt.Sprintf("[%d]%s", a.Count, a.Elem.Name()) }
func (a *Array) Len() int64   { return a.Count * a.Stride }

// Pointer is an address of Size bytes. Elem is nil if the target's
// shape is unknown.
type Pointer struct {
	Elem Type
	Size int64
}

func (p *Pointer) Name() string {
	if p.Elem == nil {
		return "*void"
	}
	return "*" + p.Elem.Name()
}

func (p *Pointer) Len() int64 { return p.Size }

// Named refers to a type by name without expanding it. It appears
// where expansion would recurse into a type that is already being
// expanded.
type Named struct {
	TypeName string
	Size     int64
}

func (n *Named) Name() string { return n.TypeName }
func (n *Named) Len() int64   { return n.Size }
