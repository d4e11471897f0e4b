// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mem

import (
	"bytes"
	"context"
	"errors"
)

// MatchIter produces successive matches of a pattern in an Image. It
// is finite and cannot be restarted.
type MatchIter struct {
	ctx           context.Context
	img           Image
	pattern, mask []byte

	next uint64
	done bool
	err  error
}

// Matches returns an iterator over the addresses at or after start
// where pattern matches under mask. After each hit the scan resumes
// just past the matched bytes.
func Matches(ctx context.Context, img Image, start uint64, pattern, mask []byte) *MatchIter {
	return &MatchIter{ctx: ctx, img: img, pattern: pattern, mask: mask, next: start}
}

// Next returns the next match. It returns false once the image is
// exhausted or the search fails; Err distinguishes the two.
func (it *MatchIter) Next() (uint64, bool) {
	if it.done {
		return 0, false
	}
	addr, ok, err := it.img.Find(it.ctx, it.next, it.pattern, it.mask, true)
	if err != nil || !ok {
		it.done, it.err = true, err
		return 0, false
	}
	it.next = addr + uint64(len(it.pattern))
	if it.next < addr {
		// Wrapped around the top of the address space.
		it.done = true
	}
	return addr, true
}

// Err returns the error that stopped the iteration, if any.
func (it *MatchIter) Err() error { return it.err }

// All drains the iterator.
func (it *MatchIter) All() ([]uint64, error) {
	var out []uint64
	for {
		addr, ok := it.Next()
		if !ok {
			return out, it.Err()
		}
		out = append(out, addr)
	}
}

// ErrUnterminated is returned by ReadCString when no NUL byte is found
// within the length limit.
var ErrUnterminated = errors.New("unterminated string")

// ReadCString reads a NUL-terminated string of at most max bytes
// starting at addr.
func ReadCString(img Image, addr uint64, max int) (string, error) {
	const chunk = 64
	var buf []byte
	for len(buf) < max {
		n := chunk
		if n > max-len(buf) {
			n = max - len(buf)
		}
		data, err := img.ReadBytes(addr+uint64(len(buf)), n)
		if err != nil {
			// The string may end right before the edge of its
			// region. Fall back to single bytes.
			if !errors.Is(err, ErrUnmapped) || n == 1 {
				return "", err
			}
			data, err = img.ReadBytes(addr+uint64(len(buf)), 1)
			if err != nil {
				return "", err
			}
		}
		if i := bytes.IndexByte(data, 0); i >= 0 {
			return string(append(buf, data[:i]...)), nil
		}
		buf = append(buf, data...)
	}
	return "", &AccessError{addr, max, ErrUnterminated}
}

// RegionNamed returns the first region of img with one of the given
// names.
func RegionNamed(img Image, names ...string) (Region, bool) {
	for _, r := range img.Regions() {
		for _, name := range names {
			if r.Name == name {
				return r, true
			}
		}
	}
	return Region{}, false
}
