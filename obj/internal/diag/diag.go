// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package diag collects non-fatal problems found while decoding.
//
// A Sink never fails and never stops its caller. Decoders report
// per-entry problems to a Sink and carry on with the next entry.
package diag

import (
	"sync"

	"go.uber.org/zap"
)

// Sink receives diagnostics.
type Sink interface {
	Warn(msg string, fields ...zap.Field)
	Exception(context string, err error)
}

// Logger is a Sink that writes to a zap logger.
type Logger struct {
	L *zap.Logger
}

// NewLogger returns a Sink that logs to l. If l is nil, diagnostics
// are discarded.
func NewLogger(l *zap.Logger) *Logger {
	if l == nil {
		l = zap.NewNop()
	}
	return &Logger{l}
}

func (l *Logger) Warn(msg string, fields ...zap.Field) {
	l.L.Warn(msg, fields...)
}

func (l *Logger) Exception(context string, err error) {
	l.L.Error(context, zap.Error(err))
}

// Nop returns a Sink that discards everything.
func Nop() Sink { return nopSink{} }

type nopSink struct{}

func (nopSink) Warn(string, ...zap.Field) {}
func (nopSink) Exception(string, error)   {}

// Level distinguishes warnings from exceptions in a Collector.
type Level uint8

const (
	LevelWarn Level = iota
	LevelException
)

// Entry is one collected diagnostic.
type Entry struct {
	Level  Level
	Msg    string
	Err    error
	Fields []zap.Field
}

// Collector is a Sink that records every diagnostic. It is safe for
// concurrent use. If Next is non-nil, diagnostics are also forwarded
// to it.
type Collector struct {
	Next Sink

	mu      sync.Mutex
	entries []Entry
}

func (c *Collector) Warn(msg string, fields ...zap.Field) {
	c.add(Entry{Level: LevelWarn, Msg: msg, Fields: fields})
	if c.Next != nil {
		c.Next.Warn(msg, fields...)
	}
}

func (c *Collector) Exception(context string, err error) {
	c.add(Entry{Level: LevelException, Msg: context, Err: err})
	if c.Next != nil {
		c.Next.Exception(context, err)
	}
}

func (c *Collector) add(e Entry) {
	c.mu.Lock()
	c.entries = append(c.entries, e)
	c.mu.Unlock()
}

// Entries returns a copy of the collected diagnostics in arrival
// order.
func (c *Collector) Entries() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Entry(nil), c.entries...)
}

// Len returns the number of collected diagnostics.
func (c *Collector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
