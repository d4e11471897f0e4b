// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command gorecover recovers function names and type layouts from the
// runtime metadata of a Go binary, even one with no symbol table.
//
// Usage:
//
//	gorecover [flags] binary
//
// gorecover prints the address and name of every function in the
// binary's function table. With -types, it also decodes every type in
// the binary's type link table and prints its memory layout. With
// -http, it serves the recovered functions and types for browsing.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"runtime"

	"go.uber.org/zap"

	"github.com/aclements/gometa/obj/internal/datatype"
	"github.com/aclements/gometa/obj/internal/diag"
	"github.com/aclements/gometa/obj/internal/functab"
	"github.com/aclements/gometa/obj/internal/mem"
	"github.com/aclements/gometa/obj/internal/obj"
	"github.com/aclements/gometa/obj/internal/rtype"
	"github.com/aclements/gometa/obj/internal/symtab"
)

var (
	flagVerbose   = flag.Bool("v", false, "log debug diagnostics")
	flagSummary   = flag.Bool("summary", false, "print the distribution of function sizes")
	flagTypes     = flag.Bool("types", false, "decode and print the types in the type link table")
	flagRecursive = flag.Bool("recursive", false, "with -types, expand referenced types fully")
	flagFormat    = flag.String("format", "", "type descriptor `format`: go1.6, go1.7, go1.9, go1.17, or go1.19 (default from the function table)")
	flagWorkers   = flag.Int("j", runtime.GOMAXPROCS(0), "decode types using `n` workers")
	flagHTTP      = flag.String("http", "", "serve recovered functions and types at `addr` (e.g., 'localhost:0')")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] binary\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	logger := newLogger(*flagVerbose)
	defer logger.Sync()
	sink := diag.NewLogger(logger)

	// Interrupt cancels a long table scan or type walk.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	f, err := os.Open(flag.Arg(0))
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	bin, err := obj.Open(f)
	if err != nil {
		log.Fatal(err)
	}
	img, err := mem.FromObj(bin)
	if err != nil {
		log.Fatal(err)
	}
	width := functab.PointerWidth(bin.Arch())
	logger.Debug("loaded binary", zap.String("arch", bin.Arch()), zap.Int("width", width), zap.Int("regions", len(img.Regions())))

	prog := symtab.NewProgram(img)
	if syms, err := bin.Symbols(); err == nil {
		n := prog.AddSyms(syms)
		logger.Debug("seeded symbols", zap.Int("funcs", n))
	}

	// Recover function names.
	base, err := functab.LocateAny(ctx, img)
	if err != nil {
		log.Fatal(err)
	}
	res, err := functab.Decode(img, base, functab.Config{Width: width, Strings: prog, Sink: sink})
	if err != nil {
		log.Fatal(err)
	}
	applied, failed := functab.Apply(prog, res.Entries, sink)
	logger.Info("recovered functions",
		zap.String("layout", res.Layout),
		zap.String("table", fmt.Sprintf("%#x", res.Base)),
		zap.Int("nfunc", res.NFunc),
		zap.Int("skipped", len(res.Problems)),
		zap.Int("applied", applied),
		zap.Int("failed", len(failed)))

	if *flagHTTP == "" {
		for _, fn := range prog.Funcs() {
			fmt.Printf("%#x %s\n", fn.Addr, fn.Name)
		}
	}
	if *flagSummary {
		fmt.Printf("function sizes:\n%s\n", functab.Summary(res.Entries))
	}

	if !*flagTypes && *flagHTTP == "" {
		return
	}
	ti, err := loadTypes(ctx, bin, img, width, res.Magic, sink)
	if err != nil {
		log.Fatal(err)
	}
	if *flagTypes {
		if err := ti.declare(prog, *flagRecursive, os.Stdout); err != nil {
			log.Fatal(err)
		}
	}
	if *flagHTTP != "" {
		s := &server{prog: prog, types: ti}
		s.serve(*flagHTTP)
	}
}

func newLogger(verbose bool) *zap.Logger {
	var l *zap.Logger
	var err error
	if verbose {
		l, err = zap.NewDevelopment()
	} else {
		l, err = zap.NewProduction()
	}
	if err != nil {
		log.Fatal(err)
	}
	return l
}

// typeIndex is the set of types listed by a binary.
type typeIndex struct {
	reg  *rtype.Registry
	keys []rtype.TypeKey
}

// formatFor guesses the type descriptor format from the function table
// magic. Go 1.7 and 1.8, 1.17, and 1.19 share a table layout with
// releases that use another descriptor format, so they need -format.
func formatFor(magic uint32) rtype.Format {
	switch magic {
	case functab.Go120Magic:
		return rtype.Go119
	case functab.Go118Magic:
		return rtype.Go117
	}
	return rtype.Go19
}

// typesBase returns the address type keys are relative to.
func typesBase(bin obj.Obj, img mem.Image) (uint64, error) {
	if syms, err := bin.Symbols(); err == nil {
		for _, s := range syms {
			if s.Name == "runtime.types" {
				return s.Value, nil
			}
		}
	}
	if r, ok := mem.RegionNamed(img, ".rodata", "__rodata", ".rdata"); ok {
		return r.Start, nil
	}
	return 0, fmt.Errorf("cannot find the type section")
}

func loadTypes(ctx context.Context, bin obj.Obj, img mem.Image, width int, magic uint32, sink diag.Sink) (*typeIndex, error) {
	format := formatFor(magic)
	if *flagFormat != "" {
		var err error
		if format, err = rtype.ParseFormat(*flagFormat); err != nil {
			return nil, err
		}
	}
	base, err := typesBase(bin, img)
	if err != nil {
		return nil, err
	}
	links, ok := mem.RegionNamed(img, rtype.TypeLinkSections...)
	if !ok {
		return nil, fmt.Errorf("no type link table")
	}

	cfg := rtype.Config{Image: img, Base: base, Width: width, Format: format, Sink: sink}
	keys, err := rtype.TypeLinks(cfg, links)
	if err != nil {
		return nil, err
	}
	reg, err := rtype.NewRegistry(cfg)
	if err != nil {
		return nil, err
	}
	if err := reg.ResolveAll(ctx, keys, *flagWorkers); err != nil {
		return nil, err
	}
	return &typeIndex{reg, keys}, nil
}

// datatype returns the layout of key. Unless recursive is set, types
// referenced by key are shown one level deep.
func (ti *typeIndex) datatype(key rtype.TypeKey, recursive bool) (rtype.Descriptor, datatype.Type, error) {
	d, err := ti.reg.Decode(key)
	if err != nil {
		return nil, nil, err
	}
	if recursive {
		t, err := ti.reg.Resolve(key)
		return d, t, err
	}
	return d, d.Datatype(ti.reg, true), nil
}

// declare records the layout of every listed type in prog and prints
// it to w.
func (ti *typeIndex) declare(prog *symtab.Program, recursive bool, w io.Writer) error {
	for _, key := range ti.keys {
		d, t, err := ti.datatype(key, recursive)
		if err != nil {
			// Already reported by ResolveAll.
			continue
		}
		prog.DeclareDatatype(symtab.KeyTarget(uint64(key)), t)
		fmt.Fprintf(w, "%s %s %s = ", key, d.Kind(), d.Name())
		if err := datatype.Fprint(w, t); err != nil {
			return err
		}
		if _, err := fmt.Fprintln(w); err != nil {
			return err
		}
	}
	return nil
}
