// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mem

import (
	"errors"
	"fmt"

	"github.com/aclements/gometa/obj/internal/obj"
)

// FromObj builds the load image of an object file.
func FromObj(f obj.Obj) (*Memory, error) {
	sects, err := f.Sections()
	if err != nil {
		return nil, err
	}
	m := New(f.ByteOrder())
	for _, s := range sects {
		data, err := s.Data()
		if err != nil {
			return nil, fmt.Errorf("reading section %q: %w", s.Name, err)
		}
		if err := m.MapSized(s.Name, s.Addr, s.Size, data); err != nil {
			if errors.Is(err, ErrOverlap) {
				// Some formats have overlapping
				// sections (e.g., thread-local
				// templates). The first one wins.
				continue
			}
			return nil, err
		}
	}
	return m, nil
}
