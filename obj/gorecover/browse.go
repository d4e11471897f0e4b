// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"html/template"
	"log"
	"net"
	"net/http"
	"strconv"

	"github.com/aclements/gometa/obj/internal/datatype"
	"github.com/aclements/gometa/obj/internal/rtype"
	"github.com/aclements/gometa/obj/internal/symtab"
)

type server struct {
	prog  *symtab.Program
	types *typeIndex
}

func (s *server) serve(addr string) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		log.Fatalf("failed to create server socket: %v", err)
	}
	http.HandleFunc("/", s.httpMain)
	http.HandleFunc("/t/", s.httpType)
	fmt.Printf("Listening on http://%s\n", ln.Addr())
	err = http.Serve(ln, nil)
	log.Fatalf("failed to start HTTP server: %v", err)
}

type typeLink struct {
	Key  uint64
	Kind string
	Name string
}

func (s *server) httpMain(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	var types []typeLink
	for _, key := range s.types.keys {
		d, ok := s.types.reg.Lookup(key)
		if !ok {
			continue
		}
		types = append(types, typeLink{uint64(key), d.Kind().String(), d.Name()})
	}
	data := struct {
		Funcs []symtab.Func
		Types []typeLink
	}{s.prog.Funcs(), types}

	if err := tmplMain.Execute(w, data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
}

var tmplMain = template.Must(template.New("").Parse(`
<html><body>
<h2>Functions</h2>
{{range $f := .Funcs}}{{printf "%#x" $f.Addr}} {{$f.Name}}<br />{{end}}
<h2>Types</h2>
{{range $t := .Types}}<a href="/t/{{printf "%#x" $t.Key}}">{{printf "%#x" $t.Key}} {{$t.Kind}} {{$t.Name}}</a><br />{{end}}
</body></html>
`))

func (s *server) httpType(w http.ResponseWriter, r *http.Request) {
	k, err := strconv.ParseUint(r.URL.Path[len("/t/"):], 0, 64)
	if err != nil {
		http.Error(w, "bad type key", http.StatusBadRequest)
		return
	}
	key := rtype.TypeKey(k)
	d, t, err := s.types.datatype(key, r.FormValue("recursive") != "")
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	var deps []typeLink
	for _, dep := range d.Deps() {
		name := "?"
		if dd, ok := s.types.reg.Lookup(dep); ok {
			name = dd.Name()
		}
		deps = append(deps, typeLink{Key: uint64(dep), Name: name})
	}
	data := struct {
		Key    uint64
		Name   string
		Layout string
		Deps   []typeLink
	}{k, d.Name(), datatype.String(t), deps}

	if err := tmplType.Execute(w, data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
}

var tmplType = template.Must(template.New("").Parse(`
<html><body>
<h2>{{.Name}}</h2>
<a href="?recursive=1">expand</a>
<pre>{{.Layout}}</pre>
<h3>Refers to</h3>
{{range $t := .Deps}}<a href="/t/{{printf "%#x" $t.Key}}">{{$t.Name}}</a><br />{{end}}
</body></html>
`))
