// Copyright 2018 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package obj

import (
	"debug/elf"
	"encoding/binary"
	"io"
)

type elfFile struct {
	elf *elf.File
}

func openElf(r io.ReaderAt) (Obj, error) {
	f, err := elf.NewFile(r)
	if err != nil {
		return nil, err
	}
	return &elfFile{f}, nil
}

func (f *elfFile) Symbols() ([]Sym, error) {
	syms, err := f.elf.Symbols()
	if err != nil {
		return nil, err
	}

	var out []Sym
	for _, s := range syms {
		kind := SymUnknown
		switch s.Section {
		case elf.SHN_UNDEF:
			kind = SymUndef
		case elf.SHN_COMMON:
			kind = SymBSS
		default:
			if s.Section < 0 || s.Section >= elf.SectionIndex(len(f.elf.Sections)) {
				// Ignore symbol.
				continue
			}
			sect := f.elf.Sections[s.Section]
			switch sect.Flags & (elf.SHF_WRITE | elf.SHF_ALLOC | elf.SHF_EXECINSTR) {
			case elf.SHF_ALLOC | elf.SHF_EXECINSTR:
				kind = SymText
			case elf.SHF_ALLOC:
				kind = SymROData
			case elf.SHF_ALLOC | elf.SHF_WRITE:
				kind = SymData
				if sect.Type == elf.SHT_NOBITS {
					kind = SymBSS
				}
			}
		}
		local := elf.ST_BIND(s.Info) == elf.STB_LOCAL

		sym := Sym{s.Name, s.Value, s.Size, kind, local, int(s.Section)}
		out = append(out, sym)
	}
	return out, nil
}

func (f *elfFile) Sections() ([]Section, error) {
	var out []Section
	for _, s := range f.elf.Sections {
		if s.Flags&elf.SHF_ALLOC == 0 || s.Flags&elf.SHF_TLS != 0 {
			continue
		}
		sect := Section{Name: s.Name, Addr: s.Addr, Size: s.Size}
		if s.Type != elf.SHT_NOBITS {
			sect.data = s.Data
		}
		out = append(out, sect)
	}
	return out, nil
}

func (f *elfFile) ByteOrder() binary.ByteOrder {
	return f.elf.ByteOrder
}

func (f *elfFile) Arch() string {
	var proc string
	switch f.elf.Machine {
	case elf.EM_386, elf.EM_X86_64:
		proc = "x86"
	case elf.EM_ARM:
		proc = "ARM"
	case elf.EM_AARCH64:
		proc = "AARCH64"
	case elf.EM_PPC, elf.EM_PPC64:
		proc = "PowerPC"
	case elf.EM_MIPS:
		proc = "MIPS"
	case elf.EM_RISCV:
		proc = "RISCV"
	case elf.EM_S390:
		proc = "s390x"
	case elf.EM_LOONGARCH:
		proc = "Loongarch"
	default:
		proc = f.elf.Machine.String()
	}
	bits := 32
	if f.elf.Class == elf.ELFCLASS64 {
		bits = 64
	}
	return archString(proc, f.elf.ByteOrder, bits)
}
