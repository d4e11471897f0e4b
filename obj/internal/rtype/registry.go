// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rtype

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
	"golang.org/x/sync/errgroup"

	"github.com/aclements/gometa/obj/internal/datatype"
	"github.com/aclements/gometa/obj/internal/diag"
)

// A Registry decodes and caches type descriptors by key. It is safe
// for concurrent use. Each key is decoded at most once, no matter how
// many goroutines ask for it.
type Registry struct {
	cfg  Config
	sink diag.Sink

	mu      sync.Mutex
	entries map[TypeKey]*entry

	decodes atomic.Int64
}

type entry struct {
	done chan struct{} // closed when d and err are set
	d    Descriptor
	err  error
}

// NewRegistry returns a registry for the descriptors described by cfg.
func NewRegistry(cfg Config) (*Registry, error) {
	if err := cfg.check(); err != nil {
		return nil, err
	}
	sink := cfg.Sink
	if sink == nil {
		sink = diag.Nop()
	}
	return &Registry{cfg: cfg, sink: sink, entries: make(map[TypeKey]*entry)}, nil
}

// Decode returns the descriptor for key, decoding it if this is the
// first request for key. Concurrent callers for the same key wait for
// the first to finish.
func (r *Registry) Decode(key TypeKey) (Descriptor, error) {
	r.mu.Lock()
	e, ok := r.entries[key]
	if ok {
		r.mu.Unlock()
		<-e.done
		return e.d, e.err
	}
	e = &entry{done: make(chan struct{})}
	r.entries[key] = e
	r.mu.Unlock()

	r.decodes.Add(1)
	e.d, e.err = decode(&r.cfg, key)
	close(e.done)
	return e.d, e.err
}

// Lookup returns the descriptor for key if it has already been
// decoded successfully. It does not wait for decodes in progress.
func (r *Registry) Lookup(key TypeKey) (Descriptor, bool) {
	r.mu.Lock()
	e, ok := r.entries[key]
	r.mu.Unlock()
	if !ok {
		return nil, false
	}
	select {
	case <-e.done:
		return e.d, e.err == nil
	default:
		return nil, false
	}
}

// Datatype returns the single-level datatype of key, or nil if key has
// not been decoded. This makes a Registry a Searcher over whatever has
// been decoded so far.
func (r *Registry) Datatype(key TypeKey) datatype.Type {
	d, ok := r.Lookup(key)
	if !ok {
		return nil
	}
	return d.Datatype(r, false)
}

// Keys returns the keys of every decoded or in-progress descriptor in
// increasing order.
func (r *Registry) Keys() []TypeKey {
	r.mu.Lock()
	keys := maps.Keys(r.entries)
	r.mu.Unlock()
	slices.Sort(keys)
	return keys
}

// Resolve returns the complete datatype of key, resolving every type
// it refers to. A reference back to a type that is still being
// resolved becomes a datatype.Named, so cyclic types terminate.
// Referenced types that fail to decode become placeholders; only a
// failure to decode key itself is an error.
func (r *Registry) Resolve(key TypeKey) (datatype.Type, error) {
	d, err := r.Decode(key)
	if err != nil {
		return nil, err
	}
	w := &walker{r: r, active: make(map[TypeKey]bool), done: make(map[TypeKey]datatype.Type)}
	return w.resolve(key, d), nil
}

// A walker is a Searcher that resolves types fully, tracking the types
// on the current path.
type walker struct {
	r      *Registry
	active map[TypeKey]bool
	done   map[TypeKey]datatype.Type
}

func (w *walker) Datatype(key TypeKey) datatype.Type {
	if t, ok := w.done[key]; ok {
		return t
	}
	d, err := w.r.Decode(key)
	if err != nil {
		w.r.sink.Exception("resolving "+key.String(), err)
		return nil
	}
	if w.active[key] {
		return &datatype.Named{TypeName: d.Name(), Size: d.Size()}
	}
	return w.resolve(key, d)
}

func (w *walker) resolve(key TypeKey, d Descriptor) datatype.Type {
	w.active[key] = true
	t := d.Datatype(w, true)
	delete(w.active, key)
	w.done[key] = t
	return t
}

// ResolveAll decodes keys and everything they depend on, using up to
// workers goroutines. Types that fail to decode are reported to the
// sink and otherwise skipped. ResolveAll returns an error only if ctx
// is canceled.
func (r *Registry) ResolveAll(ctx context.Context, keys []TypeKey, workers int) error {
	seen := make(map[TypeKey]bool)
	next := make([]TypeKey, 0, len(keys))
	for _, k := range keys {
		if !seen[k] {
			seen[k] = true
			next = append(next, k)
		}
	}

	for len(next) > 0 {
		level := next
		next = nil
		var mu sync.Mutex

		g, ctx := errgroup.WithContext(ctx)
		if workers > 0 {
			g.SetLimit(workers)
		}
		for _, k := range level {
			k := k
			g.Go(func() error {
				if err := ctx.Err(); err != nil {
					return err
				}
				d, err := r.Decode(k)
				if err != nil {
					r.sink.Warn("cannot decode type", zap.Stringer("key", k), zap.Error(err))
					return nil
				}
				mu.Lock()
				defer mu.Unlock()
				for _, dep := range d.Deps() {
					if !seen[dep] {
						seen[dep] = true
						next = append(next, dep)
					}
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}
	return nil
}
