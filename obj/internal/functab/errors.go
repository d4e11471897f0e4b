// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package functab

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/aclements/gometa/obj/internal/diag"
)

// Problem classifies why an entry was skipped.
type Problem uint8

const (
	// Unreadable means part of the entry lies outside the image.
	Unreadable Problem = iota
	// EntryValidationMismatch means the entry PC disagrees with
	// the copy in the function's record.
	EntryValidationMismatch
	// IncompatibleExistingData means the name address already
	// holds data that is not a string.
	IncompatibleExistingData
	// RenameOrCreateFailure means applying the binding failed.
	RenameOrCreateFailure
)

func (p Problem) String() string {
	switch p {
	case Unreadable:
		return "unreadable entry"
	case EntryValidationMismatch:
		return "entry address mismatch"
	case IncompatibleExistingData:
		return "name is not a string"
	case RenameOrCreateFailure:
		return "rename or create failed"
	}
	return fmt.Sprintf("Problem(%d)", uint8(p))
}

// EntryError describes one skipped entry.
type EntryError struct {
	Index   int
	Problem Problem
	Addr    uint64
	// Copy is the entry address stored in the function record,
	// for EntryValidationMismatch.
	Copy uint64
	Err  error
}

func (e *EntryError) Error() string {
	switch {
	case e.Problem == EntryValidationMismatch:
		return fmt.Sprintf("entry %d: wrong func addr %#x %#x", e.Index, e.Addr, e.Copy)
	case e.Err != nil:
		return fmt.Sprintf("entry %d (%#x): %s: %v", e.Index, e.Addr, e.Problem, e.Err)
	}
	return fmt.Sprintf("entry %d (%#x): %s", e.Index, e.Addr, e.Problem)
}

func (e *EntryError) Unwrap() error { return e.Err }

func (e *EntryError) report(sink diag.Sink) {
	switch e.Problem {
	case EntryValidationMismatch:
		sink.Warn("wrong func addr",
			zap.Int("index", e.Index),
			zap.String("entry", fmt.Sprintf("%#x", e.Addr)),
			zap.String("record", fmt.Sprintf("%#x", e.Copy)))
	case IncompatibleExistingData:
		sink.Warn("the type of func name data is not string",
			zap.Int("index", e.Index),
			zap.String("entry", fmt.Sprintf("%#x", e.Addr)),
			zap.Error(e.Err))
	default:
		sink.Exception(e.Problem.String(), e)
	}
}
