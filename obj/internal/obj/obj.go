// Copyright 2018 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package obj reads the loadable contents of object files.
package obj

import (
	"encoding/binary"
	"fmt"
	"io"
)

type Obj interface {
	Symbols() ([]Sym, error)

	// Sections returns the sections that are loaded into memory
	// when the program runs.
	Sections() ([]Section, error)

	// Arch returns the target architecture as a
	// "processor:endian:bits" descriptor, such as "x86:LE:64".
	Arch() string

	ByteOrder() binary.ByteOrder
}

type Sym struct {
	Name        string
	Value, Size uint64
	Kind        SymKind
	Local       bool
	section     int
}

type SymKind uint8

const (
	SymUnknown SymKind = '?'
	SymText            = 'T'
	SymData            = 'D'
	SymROData          = 'R'
	SymBSS             = 'B'
	SymUndef           = 'U'
)

// Section is a loaded section of an object file.
type Section struct {
	Name       string
	Addr, Size uint64

	// data is nil for sections that occupy no file space.
	data func() ([]byte, error)
}

// Data returns the file contents of s. It may be shorter than s.Size,
// in which case the remainder is zero-filled at load time.
func (s Section) Data() ([]byte, error) {
	if s.data == nil {
		return nil, nil
	}
	return s.data()
}

// Open attempts to open r as a known object file format.
func Open(r io.ReaderAt) (Obj, error) {
	if f, err := openElf(r); err == nil {
		return f, nil
	}
	if f, err := openPE(r); err == nil {
		return f, nil
	}
	if f, err := openMachO(r); err == nil {
		return f, nil
	}
	return nil, fmt.Errorf("unrecognized object file format")
}

func archString(proc string, order binary.ByteOrder, bits int) string {
	endian := "LE"
	if order == binary.BigEndian {
		endian = "BE"
	}
	return fmt.Sprintf("%s:%s:%d", proc, endian, bits)
}
