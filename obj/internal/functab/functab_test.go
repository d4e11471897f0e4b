// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package functab

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/aclements/gometa/obj/internal/diag"
	"github.com/aclements/gometa/obj/internal/mem"
	"github.com/aclements/gometa/obj/internal/symtab"
)

type testFunc struct {
	addr uint64
	name string
}

var testFuncs = []testFunc{
	{0x401000, "runtime.text"},
	{0x401040, "main.main"},
	{0x4010c0, "main.(*T).String"},
	{0x401200, "fmt.Println"},
	{0x401380, "runtime.goexit"},
}

func putUint(order binary.ByteOrder, buf []byte, off, width int, v uint64) {
	switch width {
	case 4:
		order.PutUint32(buf[off:], uint32(v))
	case 8:
		order.PutUint64(buf[off:], v)
	default:
		panic(fmt.Sprintf("bad width %d", width))
	}
}

// tableGo12 encodes a Go 1.2 function table. If bad is non-nil, the
// record of each index in bad carries the given entry address instead
// of the real one. It returns the encoded table and the offset of
// each function's name.
func tableGo12(w int, funcs []testFunc, bad map[int]uint64) ([]byte, []int) {
	order := binary.LittleEndian
	n := len(funcs)
	functab := 8 + w
	recs := functab + n*2*w + w
	recSize := (w + 8 + w - 1) &^ (w - 1)
	names := recs + n*recSize

	size := names
	for _, f := range funcs {
		size += len(f.name) + 1
	}
	buf := make([]byte, size)
	order.PutUint32(buf, Go12Magic)
	buf[6], buf[7] = 1, byte(w)
	order.PutUint32(buf[8:], uint32(n))

	nameOffs := make([]int, n)
	nameOff := names
	for i, f := range funcs {
		rec := recs + i*recSize
		putUint(order, buf, functab+i*2*w, w, f.addr)
		putUint(order, buf, functab+i*2*w+w, w, uint64(rec))

		entry := f.addr
		if v, ok := bad[i]; ok {
			entry = v
		}
		putUint(order, buf, rec, w, entry)
		order.PutUint32(buf[rec+w:], uint32(nameOff))
		order.PutUint32(buf[rec+w+4:], uint32(8*i))

		nameOffs[i] = nameOff
		nameOff += copy(buf[nameOff:], f.name) + 1
	}
	// End PC.
	putUint(order, buf, functab+n*2*w, w, funcs[n-1].addr+0x40)
	return buf, nameOffs
}

// tableGo118 encodes a Go 1.18 function table with entries relative
// to textStart.
func tableGo118(w int, textStart uint64, funcs []testFunc) []byte {
	order := binary.LittleEndian
	n := len(funcs)
	const recSize = 12
	funcnames := 8 + 8*w
	size := funcnames
	for _, f := range funcs {
		size += len(f.name) + 1
	}
	pcln := (size + 3) &^ 3
	recs := n*8 + 4
	buf := make([]byte, pcln+recs+n*recSize)

	order.PutUint32(buf, Go118Magic)
	buf[6], buf[7] = 1, byte(w)
	putUint(order, buf, 8, w, uint64(n))
	putUint(order, buf, 8+2*w, w, textStart)
	putUint(order, buf, 8+3*w, w, uint64(funcnames))
	putUint(order, buf, 8+7*w, w, uint64(pcln))

	nameOff := 0
	for i, f := range funcs {
		entry := uint32(f.addr - textStart)
		rec := recs + i*recSize
		order.PutUint32(buf[pcln+i*8:], entry)
		order.PutUint32(buf[pcln+i*8+4:], uint32(rec))
		order.PutUint32(buf[pcln+rec:], entry)
		order.PutUint32(buf[pcln+rec+4:], uint32(nameOff))
		nameOff += copy(buf[funcnames+nameOff:], f.name) + 1
	}
	return buf
}

// tableGo116 builds a go1.16 table: pointer-sized functab fields and
// names in a separate function name table.
func tableGo116(w int, funcs []testFunc) []byte {
	order := binary.LittleEndian
	n := len(funcs)
	recSize := (w + 8 + w - 1) &^ (w - 1)
	funcnames := 8 + 7*w
	size := funcnames
	for _, f := range funcs {
		size += len(f.name) + 1
	}
	pcln := (size + w - 1) &^ (w - 1)
	recs := n*2*w + w
	buf := make([]byte, pcln+recs+n*recSize)

	order.PutUint32(buf, Go116Magic)
	buf[6], buf[7] = 1, byte(w)
	putUint(order, buf, 8, w, uint64(n))
	putUint(order, buf, 8+2*w, w, uint64(funcnames))
	putUint(order, buf, 8+6*w, w, uint64(pcln))

	nameOff := 0
	for i, f := range funcs {
		rec := recs + i*recSize
		putUint(order, buf, pcln+i*2*w, w, f.addr)
		putUint(order, buf, pcln+i*2*w+w, w, uint64(rec))
		putUint(order, buf, pcln+rec, w, f.addr)
		order.PutUint32(buf[pcln+rec+w:], uint32(nameOff))
		nameOff += copy(buf[funcnames+nameOff:], f.name) + 1
	}
	return buf
}

func wantBindings(funcs []testFunc, skip ...int) []Binding {
	var out []Binding
outer:
	for i, f := range funcs {
		for _, s := range skip {
			if i == s {
				continue outer
			}
		}
		out = append(out, Binding{Addr: f.addr, Name: f.name})
	}
	return out
}

var bindingOpts = cmp.Options{
	cmpopts.IgnoreFields(Binding{}, "NameAddr", "Args"),
	cmpopts.SortSlices(func(a, b Binding) bool { return a.Addr < b.Addr }),
}

func TestPointerWidth(t *testing.T) {
	for _, test := range []struct {
		arch string
		want int
	}{
		{"x86:LE:64:default", 8},
		{"x86:LE:64", 8},
		{"AARCH64:LE:64", 8},
		{"x86:LE:32:default", 4},
		{"ARM:LE:32", 4},
		{"PowerPC:BE:64", 4},
		{"", 4},
	} {
		if got := PointerWidth(test.arch); got != test.want {
			t.Errorf("PointerWidth(%q) = %d, want %d", test.arch, got, test.want)
		}
	}
}

func TestRoundTrip(t *testing.T) {
	for _, arch := range []string{"x86:LE:32", "x86:LE:64"} {
		t.Run(arch, func(t *testing.T) {
			w := PointerWidth(arch)
			tab, nameOffs := tableGo12(w, testFuncs, nil)
			m := mem.New(binary.LittleEndian)
			m.Map(".text", 0x401000, make([]byte, 0x1000))
			m.Map(".gopclntab", 0x500000, tab)

			base, err := Locate(context.Background(), m, Go12Magic)
			if err != nil || base != 0x500000 {
				t.Fatalf("Locate = %#x, %v; want 0x500000", base, err)
			}
			res, err := Decode(m, base, Config{Width: w})
			if err != nil {
				t.Fatal(err)
			}
			if res.NFunc != len(testFuncs) || len(res.Problems) != 0 {
				t.Errorf("NFunc = %d, problems = %v", res.NFunc, res.Problems)
			}
			if diff := cmp.Diff(wantBindings(testFuncs), res.Entries, bindingOpts); diff != "" {
				t.Errorf("bindings mismatch (-want +got):\n%s", diff)
			}
			for i, b := range res.Entries {
				if want := base + uint64(nameOffs[i]); b.NameAddr != want {
					t.Errorf("entry %d: NameAddr = %#x, want %#x", i, b.NameAddr, want)
				}
				if b.Args != uint32(8*i) {
					t.Errorf("entry %d: Args = %d, want %d", i, b.Args, 8*i)
				}
			}
		})
	}
}

// TestWidthScaling decodes one logical table shape at both widths
// and checks that entry offsets scale with the pointer width.
func TestWidthScaling(t *testing.T) {
	tab4, _ := tableGo12(4, testFuncs, nil)
	tab8, _ := tableGo12(8, testFuncs, nil)
	if got, want := len(tab8)-len(tab4), 4+len(testFuncs)*2*4+4+len(testFuncs)*4; got != want {
		t.Errorf("64-bit table is %d bytes larger, want %d", got, want)
	}

	// Decoding a 64-bit table with a 32-bit width reads the
	// functab words as halves of the real entries. Even entries
	// take an address low word as the record offset, which is
	// unmapped. Odd entries take a record offset and find the
	// real entry in the record, which disagrees with the high
	// word read as the entry.
	m := mem.New(binary.LittleEndian)
	m.Map(".gopclntab", 0x500000, tab8)
	sink := new(diag.Collector)
	res, err := Decode(m, 0x500000, Config{Width: 4, Sink: sink})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Entries) != 0 {
		t.Errorf("decoding with the wrong width recovered %v", res.Entries)
	}
	var got []Problem
	for _, p := range res.Problems {
		got = append(got, p.Problem)
	}
	want := []Problem{Unreadable, EntryValidationMismatch, Unreadable, EntryValidationMismatch, Unreadable}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("problems mismatch (-want +got):\n%s", diff)
	}
	if c := res.Problems[1].Copy; c != testFuncs[0].addr {
		t.Errorf("entry 1 record copy = %#x, want %#x", c, testFuncs[0].addr)
	}
	if c := res.Problems[3].Copy; c != testFuncs[1].addr {
		t.Errorf("entry 3 record copy = %#x, want %#x", c, testFuncs[1].addr)
	}
	if !errors.Is(res.Problems[0], mem.ErrUnmapped) {
		t.Errorf("entry 0: got %v, want ErrUnmapped", res.Problems[0])
	}

	// One header warning, two mismatch warnings, and three
	// exceptions.
	entries := sink.Entries()
	if len(entries) != 6 {
		t.Fatalf("got %d diagnostics, want 6", len(entries))
	}
	if e := entries[0]; e.Level != diag.LevelWarn || e.Msg != "table header pointer size disagrees with architecture" {
		t.Errorf("first diagnostic = %+v, want pointer size warning", e)
	}
}

// TestEntryCopyWidth pins that the go1.2 record's entry copy is read at
// pointer width, not as a uint32: on 64-bit targets the high word must
// match too.
func TestEntryCopyWidth(t *testing.T) {
	high := make([]testFunc, len(testFuncs))
	for i, f := range testFuncs {
		high[i] = testFunc{f.addr | 1<<32, f.name}
	}
	tab, _ := tableGo12(8, high, map[int]uint64{3: high[3].addr &^ (1 << 32)})
	m := mem.New(binary.LittleEndian)
	m.Map(".gopclntab", 0x500000, tab)

	res, err := Decode(m, 0x500000, Config{Width: 8})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(wantBindings(high, 3), res.Entries, bindingOpts); diff != "" {
		t.Errorf("bindings mismatch (-want +got):\n%s", diff)
	}
	// Entry 3's record differs only in the high word.
	if len(res.Problems) != 1 || res.Problems[0].Problem != EntryValidationMismatch || res.Problems[0].Copy != testFuncs[3].addr {
		t.Errorf("problems = %v, want a mismatch for entry 3", res.Problems)
	}
}

func TestMismatch(t *testing.T) {
	tab, _ := tableGo12(8, testFuncs, map[int]uint64{2: 0xdeadbeef})
	m := mem.New(binary.LittleEndian)
	m.Map(".gopclntab", 0x500000, tab)
	sink := new(diag.Collector)

	res, err := Decode(m, 0x500000, Config{Width: 8, Sink: sink})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(wantBindings(testFuncs, 2), res.Entries, bindingOpts); diff != "" {
		t.Errorf("bindings mismatch (-want +got):\n%s", diff)
	}
	if len(res.Problems) != 1 {
		t.Fatalf("got %d problems, want 1", len(res.Problems))
	}
	p := res.Problems[0]
	if p.Index != 2 || p.Problem != EntryValidationMismatch || p.Addr != 0x4010c0 || p.Copy != 0xdeadbeef {
		t.Errorf("problem = %+v", p)
	}
	if e := sink.Entries(); len(e) != 1 || e[0].Level != diag.LevelWarn {
		t.Errorf("diagnostics = %+v", e)
	}
}

func TestIncompatibleData(t *testing.T) {
	tab, nameOffs := tableGo12(8, testFuncs, nil)
	m := mem.New(binary.LittleEndian)
	m.Map(".gopclntab", 0x500000, tab)
	prog := symtab.NewProgram(m)
	prog.DefineData(symtab.Data{Addr: 0x500000 + uint64(nameOffs[1]), Kind: symtab.DataPointer})

	res, err := Decode(m, 0x500000, Config{Width: 8, Strings: prog})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(wantBindings(testFuncs, 1), res.Entries, bindingOpts); diff != "" {
		t.Errorf("bindings mismatch (-want +got):\n%s", diff)
	}
	if len(res.Problems) != 1 || res.Problems[0].Problem != IncompatibleExistingData {
		t.Fatalf("problems = %v", res.Problems)
	}
	if !errors.Is(res.Problems[0], symtab.ErrIncompatibleData) {
		t.Errorf("problem does not wrap ErrIncompatibleData: %v", res.Problems[0])
	}
	// The other names were defined as strings.
	if d, ok := prog.DataAt(0x500000 + uint64(nameOffs[0])); !ok || d.Value != testFuncs[0].name {
		t.Errorf("name 0 not defined: %+v", d)
	}
}

func TestUnreadableEntry(t *testing.T) {
	tab, _ := tableGo12(4, testFuncs, nil)
	// Point entry 3's record past the end of the table.
	binary.LittleEndian.PutUint32(tab[8+4+3*8+4:], 0x100000)
	m := mem.New(binary.LittleEndian)
	m.Map(".gopclntab", 0x500000, tab)

	res, err := Decode(m, 0x500000, Config{Width: 4})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Entries) != len(testFuncs)-1 {
		t.Errorf("got %d entries, want %d", len(res.Entries), len(testFuncs)-1)
	}
	if len(res.Problems) != 1 || res.Problems[0].Problem != Unreadable || !errors.Is(res.Problems[0], mem.ErrUnmapped) {
		t.Errorf("problems = %v", res.Problems)
	}
}

func TestLocateScan(t *testing.T) {
	tab1, _ := tableGo12(8, testFuncs[:2], nil)
	tab2, _ := tableGo12(8, testFuncs[2:], nil)
	rodata := make([]byte, 0x1000)
	copy(rodata[0x100:], tab1)
	copy(rodata[0x800:], tab2)
	m := mem.New(binary.LittleEndian)
	m.Map(".rodata", 0x600000, rodata)
	ctx := context.Background()

	base, err := Locate(ctx, m, Go12Magic)
	if err != nil || base != 0x600100 {
		t.Fatalf("Locate = %#x, %v; want 0x600100", base, err)
	}
	all, err := Candidates(ctx, m, Go12Magic).All()
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]uint64{0x600100, 0x600800}, all); diff != "" {
		t.Errorf("candidates mismatch (-want +got):\n%s", diff)
	}

	var got []Binding
	for _, base := range all {
		res, err := Decode(m, base, Config{Width: 8})
		if err != nil {
			t.Fatal(err)
		}
		got = append(got, res.Entries...)
	}
	if diff := cmp.Diff(wantBindings(testFuncs), got, bindingOpts); diff != "" {
		t.Errorf("bindings mismatch (-want +got):\n%s", diff)
	}
}

func TestTableNotFound(t *testing.T) {
	m := mem.New(binary.LittleEndian)
	m.Map(".rodata", 0x600000, make([]byte, 0x100))
	if _, err := Locate(context.Background(), m, Go12Magic); !errors.Is(err, ErrTableNotFound) {
		t.Errorf("Locate: got %v, want ErrTableNotFound", err)
	}
	if _, err := LocateAny(context.Background(), m); !errors.Is(err, ErrTableNotFound) {
		t.Errorf("LocateAny: got %v, want ErrTableNotFound", err)
	}
	if _, err := Decode(m, 0x600000, Config{Width: 8}); !errors.Is(err, ErrTableNotFound) {
		t.Errorf("Decode of zeros: got %v, want ErrTableNotFound", err)
	}
}

func TestBadCount(t *testing.T) {
	tab, _ := tableGo12(8, testFuncs, nil)
	binary.LittleEndian.PutUint32(tab[8:], 0x7fffffff)
	m := mem.New(binary.LittleEndian)
	m.Map(".gopclntab", 0x500000, tab)
	if _, err := Decode(m, 0x500000, Config{Width: 8}); !errors.Is(err, mem.ErrUnmapped) {
		t.Errorf("got %v, want ErrUnmapped", err)
	}
	if _, err := Decode(m, 0x500000, Config{Width: 2}); err == nil {
		t.Errorf("Decode with width 2 succeeded")
	}
}

func TestGo116(t *testing.T) {
	for _, w := range []int{4, 8} {
		tab := tableGo116(w, testFuncs)
		m := mem.New(binary.LittleEndian)
		m.Map(".gopclntab", 0x500000, tab)

		res, err := Decode(m, 0x500000, Config{Width: w})
		if err != nil {
			t.Fatal(err)
		}
		if res.Layout != "go1.16" || res.NFunc != len(testFuncs) || len(res.Problems) != 0 {
			t.Errorf("width %d: layout %s, nfunc %d, problems %v", w, res.Layout, res.NFunc, res.Problems)
		}
		if diff := cmp.Diff(wantBindings(testFuncs), res.Entries, bindingOpts); diff != "" {
			t.Errorf("width %d: bindings mismatch (-want +got):\n%s", w, diff)
		}
	}
}

func TestGo118(t *testing.T) {
	for _, w := range []int{4, 8} {
		tab := tableGo118(w, 0x401000, testFuncs)
		m := mem.New(binary.LittleEndian)
		m.Map("__gopclntab", 0x500000, tab)

		base, err := LocateAny(context.Background(), m)
		if err != nil {
			t.Fatal(err)
		}
		res, err := Decode(m, base, Config{Width: w})
		if err != nil {
			t.Fatal(err)
		}
		if res.Layout != "go1.18" || len(res.Problems) != 0 {
			t.Errorf("width %d: layout %s, problems %v", w, res.Layout, res.Problems)
		}
		if diff := cmp.Diff(wantBindings(testFuncs), res.Entries, bindingOpts); diff != "" {
			t.Errorf("width %d: bindings mismatch (-want +got):\n%s", w, diff)
		}
	}
}

type panicky struct{ *symtab.Program }

func (p panicky) CreateFunction(addr uint64, name string) error {
	if name == "boom" {
		panic("host failure")
	}
	return p.Program.CreateFunction(addr, name)
}

func TestApply(t *testing.T) {
	prog := symtab.NewProgram(mem.New(binary.LittleEndian))
	prog.CreateFunction(0x401040, "sub_401040")
	prog.CreateFunction(0x402000, "fmt.Println")

	bindings := wantBindings(testFuncs)
	bindings = append(bindings,
		Binding{Addr: 0x403000, Name: "boom"},
		Binding{Addr: 0x46c320, Name: "reflect.callMethod"},
		Binding{Addr: 0x46f020, Name: "reflect.callMethod"})
	sink := new(diag.Collector)
	n, failed := Apply(panicky{prog}, bindings, sink)

	// Only boom fails. Shared names, including one already
	// defined elsewhere, are not conflicts.
	if n != len(bindings)-1 {
		t.Errorf("applied %d bindings, want %d", n, len(bindings)-1)
	}
	if len(failed) != 1 || sink.Len() != 1 {
		t.Fatalf("failed = %v, diagnostics = %d", failed, sink.Len())
	}
	if failed[0].Addr != 0x403000 || failed[0].Problem != RenameOrCreateFailure {
		t.Errorf("failure = %v", failed[0])
	}

	want := []symtab.Func{
		{Name: "runtime.text", Addr: 0x401000},
		{Name: "main.main", Addr: 0x401040},
		{Name: "main.(*T).String", Addr: 0x4010c0},
		{Name: "fmt.Println", Addr: 0x401200},
		{Name: "runtime.goexit", Addr: 0x401380},
		{Name: "fmt.Println", Addr: 0x402000},
		{Name: "reflect.callMethod", Addr: 0x46c320},
		{Name: "reflect.callMethod", Addr: 0x46f020},
	}
	if diff := cmp.Diff(want, prog.Funcs()); diff != "" {
		t.Errorf("functions mismatch (-want +got):\n%s", diff)
	}
}

func TestSizes(t *testing.T) {
	s := Sizes(wantBindings(testFuncs))
	want := []float64{0x40, 0x80, 0x140, 0x180}
	if diff := cmp.Diff(want, s.Xs); diff != "" {
		t.Errorf("sizes mismatch (-want +got):\n%s", diff)
	}
	if got := Summary(nil); got != "no functions" {
		t.Errorf("Summary(nil) = %q", got)
	}
}
