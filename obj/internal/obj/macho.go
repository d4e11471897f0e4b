// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package obj

import (
	"encoding/binary"
	"io"
	"sort"

	"github.com/blacktop/go-macho"
	"github.com/blacktop/go-macho/types"
)

type machoFile struct {
	macho *macho.File
}

func openMachO(r io.ReaderAt) (Obj, error) {
	f, err := macho.NewFile(r)
	if err != nil {
		return nil, err
	}
	return &machoFile{f}, nil
}

func (f *machoFile) Symbols() ([]Sym, error) {
	if f.macho.Symtab == nil {
		return nil, nil
	}

	var out []Sym
	for _, s := range f.macho.Symtab.Syms {
		sym := Sym{Name: s.Name, Value: s.Value, Kind: SymUnknown, section: int(s.Sect)}
		switch {
		case s.Sect == 0:
			sym.Kind = SymUndef
		case int(s.Sect) > len(f.macho.Sections):
			// Ignore symbol.
			continue
		default:
			sect := f.macho.Sections[s.Sect-1]
			switch {
			case sect.Seg == "__TEXT" && sect.Name == "__text":
				sym.Kind = SymText
			case sect.Name == "__bss" || sect.Name == "__noptrbss":
				sym.Kind = SymBSS
			case sect.Seg == "__DATA":
				sym.Kind = SymData
			default:
				sym.Kind = SymROData
			}
		}
		out = append(out, sym)
	}

	// Mach-O symbols carry no size. Like PE, infer it from the
	// next symbol in the same section.
	sort.Slice(out, func(i, j int) bool { return out[i].Value < out[j].Value })
	for i := range out {
		sym1 := &out[i]
		if sym1.section <= 0 {
			continue
		}
		if i+1 < len(out) && out[i+1].section == sym1.section {
			sym1.Size = out[i+1].Value - sym1.Value
			continue
		}
		sect := f.macho.Sections[sym1.section-1]
		sym1.Size = sect.Addr + sect.Size - sym1.Value
	}
	return out, nil
}

func (f *machoFile) Sections() ([]Section, error) {
	var out []Section
	for _, s := range f.macho.Sections {
		if s.Seg == "__PAGEZERO" || s.Seg == "__DWARF" {
			continue
		}
		sect := Section{Name: s.Name, Addr: s.Addr, Size: s.Size}
		if s.Offset != 0 {
			sect.data = s.Data
		}
		out = append(out, sect)
	}
	return out, nil
}

func (f *machoFile) ByteOrder() binary.ByteOrder {
	return f.macho.ByteOrder
}

func (f *machoFile) Arch() string {
	const cpuArch64 = 0x01000000

	var proc string
	switch f.macho.CPU {
	case types.CPUAmd64:
		proc = "x86"
	case types.CPUArm64:
		proc = "AARCH64"
	case types.CPUArm:
		proc = "ARM"
	default:
		proc = f.macho.CPU.String()
	}
	bits := 32
	if f.macho.CPU&cpuArch64 != 0 {
		bits = 64
	}
	return archString(proc, f.macho.ByteOrder, bits)
}
