// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package functab

import (
	"fmt"
	"strings"

	"github.com/aclements/go-moremath/stats"

	"github.com/aclements/gometa/obj/internal/diag"
)

// Materializer is the program database bindings are applied to.
type Materializer interface {
	FunctionExistsAt(addr uint64) bool
	CreateFunction(addr uint64, name string) error
	RenameFunction(addr uint64, name string) error
}

// Apply renames the function at each binding's address, creating it
// if it does not exist. A failure, or a panic in m, affects only its
// own binding. Apply returns the number of bindings applied and the
// failures.
func Apply(m Materializer, bindings []Binding, sink diag.Sink) (int, []*EntryError) {
	if sink == nil {
		sink = diag.Nop()
	}
	applied := 0
	var failed []*EntryError
	for i, b := range bindings {
		if err := apply1(m, b); err != nil {
			ee := &EntryError{Index: i, Problem: RenameOrCreateFailure, Addr: b.Addr, Err: err}
			ee.report(sink)
			failed = append(failed, ee)
			continue
		}
		applied++
	}
	return applied, failed
}

func apply1(m Materializer, b Binding) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic applying %s: %v", b.Name, r)
		}
	}()
	if m.FunctionExistsAt(b.Addr) {
		return m.RenameFunction(b.Addr, b.Name)
	}
	return m.CreateFunction(b.Addr, b.Name)
}

// Sizes returns the distance from each recovered function to the
// next one in address order. This approximates function sizes.
func Sizes(bindings []Binding) stats.Sample {
	addrs := make([]float64, len(bindings))
	for i, b := range bindings {
		addrs[i] = float64(b.Addr)
	}
	sorted := (&stats.Sample{Xs: addrs}).Sort()
	var s stats.Sample
	for i := 1; i < len(sorted.Xs); i++ {
		if d := sorted.Xs[i] - sorted.Xs[i-1]; d > 0 {
			s.Xs = append(s.Xs, d)
		}
	}
	return s
}

// Summary renders the distribution of function sizes.
func Summary(bindings []Binding) string {
	s := Sizes(bindings)
	if len(s.Xs) == 0 {
		return "no functions"
	}
	s.Sort()
	const qs = 10
	var out strings.Builder
	for i := 0; i <= qs; i++ {
		fmt.Fprintf(&out, " %7s", fmt.Sprintf("p%d", i*100/qs))
	}
	out.WriteByte('\n')
	for i := 0; i <= qs; i++ {
		fmt.Fprintf(&out, " %7.0f", s.Quantile(float64(i)/qs))
	}
	fmt.Fprintf(&out, " N=%d mean=%.1f", len(s.Xs), s.Mean())
	return out.String()
}
