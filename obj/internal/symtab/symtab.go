// Copyright 2018 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package symtab is an in-memory program database: the functions,
// defined data, and datatypes recovered for a program image.
package symtab

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/aclements/gometa/obj/internal/datatype"
	"github.com/aclements/gometa/obj/internal/mem"
	"github.com/aclements/gometa/obj/internal/obj"
)

var (
	// ErrIncompatibleData is returned when an address already
	// holds defined data of a different type.
	ErrIncompatibleData = errors.New("incompatible data already defined")

	ErrFuncExists = errors.New("function already exists")
	ErrNoFunc     = errors.New("no function at address")
)

// maxString bounds the strings GetOrCreateStringAt will define.
const maxString = 1 << 16

// Func is a function in the database.
type Func struct {
	Name string
	Addr uint64
}

// DataKind is the declared type of a defined data item.
type DataKind uint8

const (
	DataString DataKind = iota + 1
	DataBytes
	DataPointer
)

func (k DataKind) String() string {
	switch k {
	case DataString:
		return "string"
	case DataBytes:
		return "bytes"
	case DataPointer:
		return "pointer"
	}
	return fmt.Sprintf("DataKind(%d)", uint8(k))
}

// Data is a defined data item.
type Data struct {
	Addr  uint64
	Kind  DataKind
	Value string
}

// Target is where a datatype is declared: either an address in the
// image or a type key.
type Target struct {
	Off   uint64
	IsKey bool
}

func AddrTarget(addr uint64) Target { return Target{Off: addr} }
func KeyTarget(key uint64) Target   { return Target{Off: key, IsKey: true} }

// Program facilitates fast function lookup and records everything
// applied to the image. It is safe for concurrent use.
type Program struct {
	img mem.Image

	mu sync.Mutex
	// addr holds functions in address order when sorted is set.
	addr      []Func
	sorted    bool
	byAddr    map[uint64]int
	// name maps a name to every function address carrying it.
	// Go binaries can hold several functions with one name, such
	// as ABI wrappers.
	name      map[string][]uint64
	data      map[uint64]Data
	datatypes map[Target]datatype.Type
}

// NewProgram returns an empty database over img.
func NewProgram(img mem.Image) *Program {
	return &Program{
		img:       img,
		sorted:    true,
		byAddr:    make(map[uint64]int),
		name:      make(map[string][]uint64),
		data:      make(map[uint64]Data),
		datatypes: make(map[Target]datatype.Type),
	}
}

// AddSyms seeds the database with the text symbols in syms. Symbols
// whose addresses are already taken are skipped.
func (p *Program) AddSyms(syms []obj.Sym) int {
	n := 0
	for _, s := range syms {
		if s.Kind != obj.SymText || s.Value == 0 {
			continue
		}
		if p.CreateFunction(s.Value, s.Name) == nil {
			n++
		}
	}
	return n
}

func (p *Program) FunctionExistsAt(addr uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.byAddr[addr]
	return ok
}

// CreateFunction defines a new function named name at addr. Names
// need not be unique.
func (p *Program) CreateFunction(addr uint64, name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.byAddr[addr]; ok {
		return fmt.Errorf("creating %s at %#x: %w", name, addr, ErrFuncExists)
	}
	p.byAddr[addr] = len(p.addr)
	p.addr = append(p.addr, Func{name, addr})
	p.addName(name, addr)
	if n := len(p.addr); n > 1 && p.addr[n-2].Addr > addr {
		p.sorted = false
	}
	return nil
}

// RenameFunction renames the function at addr.
func (p *Program) RenameFunction(addr uint64, name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	i, ok := p.byAddr[addr]
	if !ok {
		return fmt.Errorf("renaming %#x to %s: %w", addr, name, ErrNoFunc)
	}
	old := p.addr[i].Name
	if old == name {
		return nil
	}
	p.removeName(old, addr)
	p.addName(name, addr)
	p.addr[i].Name = name
	return nil
}

// addName records addr under name, keeping addresses sorted. p.mu
// must be held.
func (p *Program) addName(name string, addr uint64) {
	addrs := p.name[name]
	i := sort.Search(len(addrs), func(i int) bool { return addrs[i] >= addr })
	addrs = append(addrs, 0)
	copy(addrs[i+1:], addrs[i:])
	addrs[i] = addr
	p.name[name] = addrs
}

// removeName drops addr from name. p.mu must be held.
func (p *Program) removeName(name string, addr uint64) {
	addrs := p.name[name]
	for i, a := range addrs {
		if a == addr {
			addrs = append(addrs[:i:i], addrs[i+1:]...)
			break
		}
	}
	if len(addrs) == 0 {
		delete(p.name, name)
		return
	}
	p.name[name] = addrs
}

// GetOrCreateStringAt returns the string defined at addr, defining a
// NUL-terminated string there first if nothing is defined. It fails
// with ErrIncompatibleData if addr holds data of another kind.
func (p *Program) GetOrCreateStringAt(addr uint64) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if d, ok := p.data[addr]; ok {
		if d.Kind != DataString {
			return "", fmt.Errorf("string at %#x: %w (%s)", addr, ErrIncompatibleData, d.Kind)
		}
		return d.Value, nil
	}
	s, err := mem.ReadCString(p.img, addr, maxString)
	if err != nil {
		return "", err
	}
	p.data[addr] = Data{addr, DataString, s}
	return s, nil
}

// DefineData records a data item, replacing whatever was at its
// address.
func (p *Program) DefineData(d Data) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.data[d.Addr] = d
}

// DataAt returns the data item defined at addr.
func (p *Program) DataAt(addr uint64) (Data, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	d, ok := p.data[addr]
	return d, ok
}

// DeclareDatatype records the layout t for target.
func (p *Program) DeclareDatatype(target Target, t datatype.Type) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.datatypes[target] = t
}

// Datatype returns the layout declared for target.
func (p *Program) Datatype(target Target) (datatype.Type, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.datatypes[target]
	return t, ok
}

// sortLocked puts p.addr in address order. p.mu must be held.
func (p *Program) sortLocked() {
	if p.sorted {
		return
	}
	sort.Slice(p.addr, func(i, j int) bool {
		return p.addr[i].Addr < p.addr[j].Addr
	})
	for i, f := range p.addr {
		p.byAddr[f.Addr] = i
	}
	p.sorted = true
}

// Funcs returns a copy of all functions in address order.
func (p *Program) Funcs() []Func {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sortLocked()
	return append([]Func(nil), p.addr...)
}

// Func returns the function that starts at addr.
func (p *Program) Func(addr uint64) (Func, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i, ok := p.byAddr[addr]; ok {
		return p.addr[i], true
	}
	return Func{}, false
}

// Name returns the lowest-addressed function with the given name.
func (p *Program) Name(name string) (Func, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if addrs := p.name[name]; len(addrs) > 0 {
		return p.addr[p.byAddr[addrs[0]]], true
	}
	return Func{}, false
}

// Named returns every function with the given name in address order.
func (p *Program) Named(name string) []Func {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []Func
	for _, addr := range p.name[name] {
		out = append(out, p.addr[p.byAddr[addr]])
	}
	return out
}

// Addr returns the function containing addr. Functions carry no size,
// so a function is taken to extend to the start of the next one; the
// last function never contains anything past its entry.
func (p *Program) Addr(addr uint64) (Func, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sortLocked()
	i := sort.Search(len(p.addr), func(i int) bool {
		return addr < p.addr[i].Addr
	})
	if i == 0 {
		return Func{}, false
	}
	f := p.addr[i-1]
	if i == len(p.addr) && addr != f.Addr {
		return Func{}, false
	}
	return f, true
}

// SymName returns the name and base of the function containing addr.
// It returns "", 0 if no function contains addr.
func (p *Program) SymName(addr uint64) (name string, base uint64) {
	if f, ok := p.Addr(addr); ok {
		return f.Name, f.Addr
	}
	return "", 0
}
