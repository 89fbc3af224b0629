// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package namespace builds the package and module skeleton of a call graph
// from the file layout alone.
package namespace

import (
	"fmt"
	"sort"
	"strings"

	"github.com/AleutianAI/pycallgraph/services/callgraph/graph"
	"github.com/AleutianAI/pycallgraph/services/callgraph/source"
)

// Registry is the subset of the call graph the builder writes to.
type Registry interface {
	AddNode(n *graph.Node) (*graph.Node, bool, error)
	AddDefines(owner, member string) error
}

// Tree is the namespace layout of a source set.
//
// Thread Safety:
//
//	Immutable after Build returns; safe for concurrent reads.
type Tree struct {
	modules  map[string]source.File
	packages map[string]bool // name -> has __init__.py
}

// File returns the source file defining a module. For a regular package the
// file is its __init__.py.
func (t *Tree) File(module string) (source.File, bool) {
	f, ok := t.modules[module]
	return f, ok
}

// IsPackage reports whether name is a package node, regular or namespace.
func (t *Tree) IsPackage(name string) bool {
	_, ok := t.packages[name]
	return ok
}

// IsNamespacePackage reports whether name is a package without __init__.py.
func (t *Tree) IsNamespacePackage(name string) bool {
	regular, ok := t.packages[name]
	return ok && !regular
}

// Modules returns every module name backed by a file, sorted.
func (t *Tree) Modules() []string {
	out := make([]string, 0, len(t.modules))
	for name := range t.modules {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Packages returns every package name, sorted.
func (t *Tree) Packages() []string {
	out := make([]string, 0, len(t.packages))
	for name := range t.packages {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Build registers PACKAGE and MODULE nodes for files and links each to its
// parent package with a defines edge.
//
// Description:
//
//	Every ancestor segment of a module name becomes a PACKAGE node. A
//	package whose __init__.py is part of the source set takes that file's
//	path; any other package directory is a namespace package. Both kinds get
//	their children the same way. Files are processed in slice order, which
//	fixes the defines order; source.Resolve returns them sorted.
//
// Inputs:
//
//	files - Resolved source files.
//	reg - Destination registry, normally a *graph.CallGraph.
//
// Outputs:
//
//	*Tree - Module and package lookup for later phases.
//	error - Non-nil if the registry rejects a node or edge.
func Build(files []source.File, reg Registry) (*Tree, error) {
	t := &Tree{
		modules:  make(map[string]source.File, len(files)),
		packages: make(map[string]bool),
	}

	inits := make(map[string]source.File)
	for _, f := range files {
		parts := strings.Split(f.Module, ".")
		last := len(parts) - 1
		if f.IsPackageInit {
			last = len(parts)
			inits[f.Module] = f
		}
		for i := 1; i <= last; i++ {
			name := strings.Join(parts[:i], ".")
			if _, ok := t.packages[name]; !ok {
				t.packages[name] = false
			}
		}
	}
	for name := range inits {
		t.packages[name] = true
	}

	for _, f := range files {
		parts := strings.Split(f.Module, ".")
		for i := 1; i <= len(parts); i++ {
			name := strings.Join(parts[:i], ".")
			parent := graph.ParentName(name)

			node := &graph.Node{QualifiedName: name, Parent: parent}
			if regular, ok := t.packages[name]; ok {
				node.Kind = graph.KindPackage
				node.IsNamespacePackage = !regular
				if init, ok := inits[name]; ok {
					node.FilePath = init.Path
				}
			} else {
				node.Kind = graph.KindModule
				node.FilePath = f.Path
			}

			if _, _, err := reg.AddNode(node); err != nil {
				return nil, fmt.Errorf("namespace: adding %s: %w", name, err)
			}
			if parent != "" {
				if err := reg.AddDefines(parent, name); err != nil {
					return nil, fmt.Errorf("namespace: linking %s: %w", name, err)
				}
			}
		}
		if existing, ok := t.modules[f.Module]; !ok || f.IsPackageInit && !existing.IsPackageInit {
			t.modules[f.Module] = f
		}
	}
	return t, nil
}
