// Copyright 2018 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package obj

import (
	"debug/pe"
	"encoding/binary"
	"fmt"
	"io"
	"sort"
)

type peFile struct {
	pe        *pe.File
	imageBase uint64
	bits      int
}

func openPE(r io.ReaderAt) (Obj, error) {
	f, err := pe.NewFile(r)
	if err != nil {
		return nil, err
	}

	var imageBase uint64
	var bits int
	switch oh := f.OptionalHeader.(type) {
	case *pe.OptionalHeader32:
		imageBase, bits = uint64(oh.ImageBase), 32
	case *pe.OptionalHeader64:
		imageBase, bits = oh.ImageBase, 64
	default:
		return nil, fmt.Errorf("PE header has unexpected type")
	}

	return &peFile{f, imageBase, bits}, nil
}

func (f *peFile) Symbols() ([]Sym, error) {
	const (
		IMAGE_SYM_UNDEFINED = 0
		IMAGE_SYM_ABSOLUTE  = -1
		IMAGE_SYM_DEBUG     = -2

		IMAGE_SYM_CLASS_STATIC = 3

		IMAGE_SCN_CNT_CODE               = 0x20
		IMAGE_SCN_CNT_INITIALIZED_DATA   = 0x40
		IMAGE_SCN_CNT_UNINITIALIZED_DATA = 0x80
		IMAGE_SCN_MEM_WRITE              = 0x80000000
	)

	var out []Sym
	for _, s := range f.pe.Symbols {
		sym := Sym{s.Name, uint64(s.Value), 0, SymUnknown, false, int(s.SectionNumber)}
		switch s.SectionNumber {
		case IMAGE_SYM_UNDEFINED:
			sym.Kind = SymUndef
		case IMAGE_SYM_ABSOLUTE, IMAGE_SYM_DEBUG:
			// Leave unknown
		default:
			if int(s.SectionNumber)-1 < 0 || int(s.SectionNumber)-1 >= len(f.pe.Sections) {
				// Ignore symbol.
				continue
			}
			sect := f.pe.Sections[int(s.SectionNumber)-1]
			c := sect.Characteristics
			switch {
			case c&IMAGE_SCN_CNT_CODE != 0:
				sym.Kind = SymText
			case c&IMAGE_SCN_CNT_INITIALIZED_DATA != 0:
				if c&IMAGE_SCN_MEM_WRITE != 0 {
					sym.Kind = SymData
				} else {
					sym.Kind = SymROData
				}
			case c&IMAGE_SCN_CNT_UNINITIALIZED_DATA != 0:
				sym.Kind = SymBSS
			}
			sym.Local = s.StorageClass == IMAGE_SYM_CLASS_STATIC
			sym.Value += f.imageBase + uint64(sect.VirtualAddress)
		}

		out = append(out, sym)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Value < out[j].Value })
	for i := range out {
		sym1 := &out[i]
		if i+1 < len(out) {
			sym2 := out[i+1]
			if sym1.section == sym2.section {
				sym1.Size = sym2.Value - sym1.Value
				continue
			}
		}
		if sym1.section <= 0 || sym1.section > len(f.pe.Sections) {
			continue
		}
		// Symbol is the last in its section.
		sect := f.pe.Sections[sym1.section-1]
		sym1.Size = f.imageBase + uint64(sect.VirtualAddress) + uint64(sect.VirtualSize) - sym1.Value
	}

	return out, nil
}

func (f *peFile) Sections() ([]Section, error) {
	const IMAGE_SCN_CNT_UNINITIALIZED_DATA = 0x80

	var out []Section
	for _, s := range f.pe.Sections {
		size := uint64(s.VirtualSize)
		if size == 0 {
			size = uint64(s.Size)
		}
		sect := Section{Name: s.Name, Addr: f.imageBase + uint64(s.VirtualAddress), Size: size}
		if s.Characteristics&IMAGE_SCN_CNT_UNINITIALIZED_DATA == 0 {
			sect.data = s.Data
		}
		out = append(out, sect)
	}
	return out, nil
}

func (f *peFile) ByteOrder() binary.ByteOrder {
	return binary.LittleEndian
}

func (f *peFile) Arch() string {
	var proc string
	switch f.pe.Machine {
	case pe.IMAGE_FILE_MACHINE_I386, pe.IMAGE_FILE_MACHINE_AMD64:
		proc = "x86"
	case pe.IMAGE_FILE_MACHINE_ARM, pe.IMAGE_FILE_MACHINE_ARMNT:
		proc = "ARM"
	case pe.IMAGE_FILE_MACHINE_ARM64:
		proc = "AARCH64"
	default:
		proc = fmt.Sprintf("pe-%#x", f.pe.Machine)
	}
	return archString(proc, binary.LittleEndian, f.bits)
}
