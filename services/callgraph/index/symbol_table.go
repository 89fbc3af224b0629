// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package index holds the global symbol table built between the visit and
// resolve phases.
//
// The table joins the namespace tree, every file's scopes and the
// definition nodes already registered in the call graph, and offers fuzzy
// symbol search for diagnostics.
package index

import (
	"sort"

	"github.com/AleutianAI/pycallgraph/services/callgraph/graph"
	"github.com/AleutianAI/pycallgraph/services/callgraph/namespace"
	"github.com/AleutianAI/pycallgraph/services/callgraph/scope"
	"github.com/AleutianAI/pycallgraph/services/callgraph/source"
)

// SymbolTable is the cross-file view used by the resolver.
//
// Thread Safety:
//
//	Immutable after Build; safe for concurrent reads. The underlying
//	CallGraph has its own locking and keeps growing while refs resolve.
type SymbolTable struct {
	graph      *graph.CallGraph
	tree       *namespace.Tree
	modules    map[string]*scope.Scope
	files      map[string]source.File
	classes    map[string]*scope.Scope
	bases      map[string][]*scope.Ref
	attrValues map[string]*scope.Ref
	rootPrefix string

	// byName maps a short name to the qualified names carrying it.
	byName map[string][]string
}

// Build assembles the table from visited files.
//
// Inputs:
//
//	g - Graph already holding every namespace and definition node.
//	tree - Namespace layout from namespace.Build.
//	results - One entry per successfully visited file.
//	rootPrefix - basename(root) when the root was explicit, else empty.
func Build(g *graph.CallGraph, tree *namespace.Tree, results []*scope.FileResult, rootPrefix string) *SymbolTable {
	st := &SymbolTable{
		graph:      g,
		tree:       tree,
		modules:    make(map[string]*scope.Scope, len(results)),
		files:      make(map[string]source.File, len(results)),
		classes:    make(map[string]*scope.Scope),
		bases:      make(map[string][]*scope.Ref),
		attrValues: make(map[string]*scope.Ref),
		rootPrefix: rootPrefix,
		byName:     make(map[string][]string),
	}

	for _, res := range results {
		module := res.File.Module
		// A package __init__ wins over a same-named module file.
		if existing, ok := st.files[module]; ok && existing.IsPackageInit && !res.File.IsPackageInit {
			continue
		}
		st.modules[module] = res.ModuleScope
		st.files[module] = res.File
		for class, s := range res.ClassScopes {
			st.classes[class] = s
		}
		for class, refs := range res.Bases {
			st.bases[class] = refs
		}
		for attr, value := range res.AttrValues {
			st.attrValues[attr] = value
		}
	}

	for _, n := range g.AllNodes() {
		st.byName[n.Name()] = append(st.byName[n.Name()], n.QualifiedName)
	}
	return st
}

// Graph returns the call graph the table indexes.
func (st *SymbolTable) Graph() *graph.CallGraph {
	return st.graph
}

// RootPrefix returns the explicit root's basename, or empty.
func (st *SymbolTable) RootPrefix() string {
	return st.rootPrefix
}

// ModuleScope returns the module frame of a module or regular package.
func (st *SymbolTable) ModuleScope(module string) (*scope.Scope, bool) {
	s, ok := st.modules[module]
	return s, ok
}

// File returns the file that defined a module.
func (st *SymbolTable) File(module string) (source.File, bool) {
	f, ok := st.files[module]
	return f, ok
}

// ClassScope returns the body frame of a class.
func (st *SymbolTable) ClassScope(class string) (*scope.Scope, bool) {
	s, ok := st.classes[class]
	return s, ok
}

// Bases returns the base class expressions of a class, left to right.
func (st *SymbolTable) Bases(class string) []*scope.Ref {
	return st.bases[class]
}

// AttrValue returns the last value assigned to an ATTRIBUTE node.
func (st *SymbolTable) AttrValue(attr string) (*scope.Ref, bool) {
	r, ok := st.attrValues[attr]
	return r, ok
}

// IsPackage reports whether name is a package in the source set.
func (st *SymbolTable) IsPackage(name string) bool {
	return st.tree != nil && st.tree.IsPackage(name)
}

// Modules returns the names of all modules with a scope, sorted.
func (st *SymbolTable) Modules() []string {
	out := make([]string, 0, len(st.modules))
	for name := range st.modules {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Lookup returns the node registered under a qualified name.
func (st *SymbolTable) Lookup(qualified string) (*graph.Node, bool) {
	return st.graph.GetNode(qualified)
}

// ByName returns the qualified names whose last segment is name, sorted.
// Names no longer registered in the graph, e.g. after Filter, are left out.
func (st *SymbolTable) ByName(name string) []string {
	var out []string
	for _, q := range st.byName[name] {
		if _, ok := st.graph.GetNode(q); ok {
			out = append(out, q)
		}
	}
	sort.Strings(out)
	return out
}
