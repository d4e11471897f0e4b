// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package datatype

import "testing"

func TestLen(t *testing.T) {
	u32 := &Basic{"uint32", 4}
	for _, test := range []struct {
		typ  Type
		name string
		len  int64
	}{
		{Void{}, "void", 0},
		{u32, "uint32", 4},
		{&Array{Elem: u32, Count: 4, Stride: 4}, "[4]uint32", 16},
		{&Array{Elem: NewPlaceholder("Bar_data", 3), Count: 2, Stride: 3}, "[2]Bar_data", 6},
		{&Pointer{Size: 8}, "*void", 8},
		{&Pointer{Elem: u32, Size: 4}, "*uint32", 4},
		{&Named{"main.T", 24}, "main.T", 24},
	} {
		if got := test.typ.Name(); got != test.name {
			t.Errorf("Name() = %q, want %q", got, test.name)
		}
		if got := test.typ.Len(); got != test.len {
			t.Errorf("%s: Len() = %d, want %d", test.name, got, test.len)
		}
	}
}

func TestOpaque(t *testing.T) {
	if !NewPlaceholder("x_data", 8).Opaque() {
		t.Errorf("placeholder is not opaque")
	}
	s := &Struct{TypeName: "T", Size: 8, Fields: []Field{{"a", 0, &Basic{"int64", 8}}}}
	if s.Opaque() {
		t.Errorf("struct with fields is opaque")
	}
}

func TestString(t *testing.T) {
	i64 := &Basic{"int64", 8}
	node := &Struct{TypeName: "main.node", Size: 24, Fields: []Field{
		{"val", 0, i64},
		{"next", 8, &Pointer{Elem: &Named{"main.node", 24}, Size: 8}},
		{"pad", 16, &Array{Elem: &Basic{"uint8", 1}, Count: 8, Stride: 1}},
	}}
	want := `struct {
	// offset 0
	val int64
	// offset 8
	next *main.node
	// offset 16
	pad [8]uint8
}`
	if got := String(node); got != want {
		t.Errorf("got:\n%s\nwant:\n%s", got, want)
	}

	arr := &Array{Elem: &Struct{TypeName: "pair", Size: 16, Fields: []Field{
		{"a", 0, i64},
		{"b", 8, i64},
	}}, Count: 2, Stride: 16}
	want = `[2]struct {
	// offset 0 + 16*i
	a int64
	// offset 0 + 16*i + 8
	b int64
}`
	if got := String(arr); got != want {
		t.Errorf("got:\n%s\nwant:\n%s", got, want)
	}

	// The outermost pointer to a struct shows its layout; pointers
	// inside it show only names.
	ptr := &Pointer{Elem: node, Size: 8}
	want = `*main.node struct {
	// offset 0
	val int64
	// offset 8
	next *main.node
	// offset 16
	pad [8]uint8
}`
	if got := String(ptr); got != want {
		t.Errorf("got:\n%s\nwant:\n%s", got, want)
	}
	if got := String(&Pointer{Elem: NewPlaceholder("node_data", 24), Size: 8}); got != "*node_data" {
		t.Errorf("pointer to placeholder rendered as %q", got)
	}

	if got := String(NewPlaceholder("Bar_data", 4)); got != "Bar_data /* 4 bytes */" {
		t.Errorf("placeholder rendered as %q", got)
	}
}
