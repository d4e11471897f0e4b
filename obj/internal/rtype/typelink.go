// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rtype

import (
	"fmt"

	"github.com/aclements/gometa/obj/internal/mem"
)

// TypeLinkSections are the section names of the type link table, which
// lists the descriptors of the types a program defines.
var TypeLinkSections = []string{".typelink", "__typelink"}

// TypeLinks reads the type link table in region r. Since Go 1.7 the
// table holds 32-bit offsets from the type section base; before that
// it holds absolute descriptor pointers.
func TypeLinks(cfg Config, r mem.Region) ([]TypeKey, error) {
	if err := cfg.check(); err != nil {
		return nil, err
	}
	width := 4
	if cfg.Format.Legacy() {
		width = cfg.Width
	}
	n := r.Size / uint64(width)
	keys := make([]TypeKey, 0, n)
	for i := uint64(0); i < n; i++ {
		v, err := cfg.Image.ReadUint(r.Start, i*uint64(width), width)
		if err != nil {
			return nil, fmt.Errorf("reading type links: %w", err)
		}
		if cfg.Format.Legacy() {
			keys = append(keys, KeyOf(v, cfg.Base))
		} else {
			keys = append(keys, TypeKey(uint32(v)))
		}
	}
	return keys, nil
}

// ParseFormat parses a format name as printed by Format.String.
func ParseFormat(s string) (Format, error) {
	for _, f := range Formats {
		if f.String() == s {
			return f, nil
		}
	}
	return 0, fmt.Errorf("unknown type descriptor format %q", s)
}
