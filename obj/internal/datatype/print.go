// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package datatype

import (
	"fmt"
	"io"
	"strings"
)

// Fprint writes a Go-like rendering of t to w, annotating struct
// fields with their offsets.
func Fprint(w io.Writer, t Type) error {
	p := &printer{w: w, offset: []int64{0}}
	p.print(t)
	return p.err
}

// String returns the rendering produced by Fprint.
func String(t Type) string {
	var b strings.Builder
	Fprint(&b, t)
	return b.String()
}

type printer struct {
	w   io.Writer
	err error

	// offset is a base offset followed by (stride, offset) pairs,
	// one per enclosing array.
	offset []int64
	depth  int

	// pointee is set while expanding the target of a pointer.
	// Only the outermost pointer to a named struct is expanded.
	pointee bool
}

func (p *printer) printf(format string, args ...interface{}) {
	if p.err != nil {
		return
	}
	_, p.err = fmt.Fprintf(p.w, format, args...)
}

func (p *printer) print(t Type) {
	switch t := t.(type) {
	case nil:
		p.printf("?")

	case Void:
		p.printf("void")

	case *Basic:
		p.printf("%s", t.TypeName)

	case *Named:
		p.printf("%s", t.TypeName)

	case *Pointer:
		// Offsets restart behind a pointer.
		orig := p.offset
		p.offset = []int64{0}
		p.printf("*")
		st, isStruct := t.Elem.(*Struct)
		switch {
		case t.Elem == nil:
			p.printf("void")
		case t.Elem.Name() == "":
			p.print(t.Elem)
		case isStruct && !st.Opaque() && !p.pointee:
			p.printf("%s ", st.TypeName)
			p.pointee = true
			p.print(st)
			p.pointee = false
		default:
			p.printf("%s", t.Elem.Name())
		}
		p.offset = orig

	case *Array:
		p.printf("[%d]", t.Count)
		orig := p.offset
		p.offset = append(p.offset[:len(p.offset):len(p.offset)], t.Stride, 0)
		p.print(t.Elem)
		p.offset = orig

	case *Struct:
		if t.Opaque() {
			p.printf("%s /* %d bytes */", t.TypeName, t.Size)
			return
		}
		p.printf("struct {")
		p.depth++
		start := p.offset[len(p.offset)-1]
		for _, f := range t.Fields {
			indent := "\n" + strings.Repeat("\t", p.depth)
			p.offset[len(p.offset)-1] = start + f.Offset
			p.printf("%s// offset %s%s%s ", indent, p.strOffset(), indent, f.Name)
			p.print(f.Type)
		}
		p.offset[len(p.offset)-1] = start
		p.depth--
		p.printf("\n%s}", strings.Repeat("\t", p.depth))

	default:
		p.printf("%s", t.Name())
	}
}

func (p *printer) strOffset() string {
	buf := fmt.Sprintf("%d", p.offset[0])
	for i, idx := 1, 'i'; i < len(p.offset); i, idx = i+2, idx+1 {
		buf += fmt.Sprintf(" + %d*%c", p.offset[i], idx)
		if p.offset[i+1] != 0 {
			buf += fmt.Sprintf(" + %d", p.offset[i+1])
		}
	}
	return buf
}
