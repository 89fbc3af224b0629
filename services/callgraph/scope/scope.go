// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package scope extracts definitions, bindings and raw references from one
// parsed Python file.
//
// Visit walks a tree-sitter syntax tree with a stack of lexical scopes. It
// produces the definition nodes and defines edges of the file, the symbol
// table of every scope, and the unresolved references that the resolver
// later turns into uses edges. Nothing here looks at other files.
package scope

import (
	"sort"
	"strings"

	"github.com/AleutianAI/pycallgraph/services/callgraph/graph"
	"github.com/AleutianAI/pycallgraph/services/callgraph/source"
)

// Kind tags a scope frame.
type Kind uint8

const (
	KindModule Kind = iota
	KindClass
	KindFunction
)

func (k Kind) String() string {
	switch k {
	case KindModule:
		return "module"
	case KindClass:
		return "class"
	default:
		return "function"
	}
}

// BindingKind classifies what a name is bound to.
type BindingKind uint8

const (
	// BindNode binds a name to a registered node: a definition, an
	// ATTRIBUTE created by assignment, or the class behind self/cls.
	BindNode BindingKind = iota

	// BindImport binds a name to an import whose target is resolved later.
	BindImport

	// BindValue binds a function-local name to the value of an expression.
	BindValue

	// BindOpaque binds a name to something the analysis cannot follow:
	// parameters, loop targets, exception names.
	BindOpaque
)

// Import is a deferred import target.
type Import struct {
	// Module is the dotted module path as written, without leading dots.
	Module string

	// Level is the number of leading dots of a relative import.
	Level int

	// Name is the imported member of a from-import, empty otherwise.
	Name string
}

// String renders the import the way it was written.
func (i *Import) String() string {
	var b strings.Builder
	if i.Name != "" {
		b.WriteString("from ")
	} else {
		b.WriteString("import ")
	}
	b.WriteString(strings.Repeat(".", i.Level))
	b.WriteString(i.Module)
	if i.Name != "" {
		b.WriteString(" import ")
		b.WriteString(i.Name)
	}
	return b.String()
}

// Binding is one entry of a scope's symbol table.
type Binding struct {
	Kind BindingKind

	// Target is the bound node for BindNode.
	Target string

	// Import is set for BindImport.
	Import *Import

	// Value is the assigned expression for BindValue, and optionally for a
	// BindNode created by assignment.
	Value *Ref

	// Line is the 1-indexed line of the binding.
	Line int
}

// RefKind classifies a raw reference.
type RefKind uint8

const (
	// RefName is a name, attribute chain or call as written in code.
	RefName RefKind = iota

	// RefImport is an `import a.b.c` statement, or the module part of a
	// wildcard import.
	RefImport

	// RefFromImport is one name of a `from m import n` statement.
	RefFromImport
)

// Ref is an unresolved reference made by a node.
type Ref struct {
	// From is the qualified name of the referencing node.
	From string

	Kind RefKind

	// Names is the dotted chain as written. For a chain starting at a call
	// result, Names holds only the attributes following the call.
	Names []string

	// Base is the call this chain hangs off, e.g. make() in make().x.
	Base *Ref

	// Call is true when the expression is a call of the chain. It only
	// matters when the ref is used as a value.
	Call bool

	// Import is set for RefImport and RefFromImport.
	Import *Import

	// Scope is the scope the reference was made in.
	Scope *Scope

	// Line is the 1-indexed source line.
	Line int
}

// Chain returns the dotted form of Names.
func (r *Ref) Chain() string {
	return strings.Join(r.Names, ".")
}

// Scope is one lexical frame.
//
// Description:
//
//	Module, class and function frames are linked through Parent. Lambda
//	and comprehension frames are function frames sharing the Owner of the
//	enclosing frame. Class frames are not visible from nested function
//	frames; the resolver skips them using Kind.
//
// Thread Safety:
//
//	Written only during Visit; read-only afterwards.
type Scope struct {
	Kind Kind

	// Owner is the qualified name of the node owning the frame.
	Owner string

	// Parent is the enclosing frame, nil for a module.
	Parent *Scope

	// Module is the qualified name of the containing module.
	Module string

	symbols  map[string]*Binding
	declared map[string]struct{}
	stars    []*Import

	selfName  string
	selfClass string
}

// NewScope creates an empty frame.
func NewScope(kind Kind, owner string, parent *Scope, module string) *Scope {
	return &Scope{
		Kind:    kind,
		Owner:   owner,
		Parent:  parent,
		Module:  module,
		symbols: make(map[string]*Binding),
	}
}

// Lookup returns the local binding of name.
func (s *Scope) Lookup(name string) (*Binding, bool) {
	b, ok := s.symbols[name]
	return b, ok
}

// Bind records a binding. A later binding of the same name replaces an
// earlier one. Names declared global or nonlocal in this frame are not
// bound locally.
func (s *Scope) Bind(name string, b *Binding) {
	if _, ok := s.declared[name]; ok {
		return
	}
	s.symbols[name] = b
}

// Declare marks name as global or nonlocal in this frame.
func (s *Scope) Declare(name string) {
	if s.declared == nil {
		s.declared = make(map[string]struct{})
	}
	s.declared[name] = struct{}{}
}

// AddStar records a wildcard import into this frame.
func (s *Scope) AddStar(imp *Import) {
	s.stars = append(s.stars, imp)
}

// Stars returns the wildcard imports in source order.
func (s *Scope) Stars() []*Import {
	return s.stars
}

// Names returns the locally bound names, sorted.
func (s *Scope) Names() []string {
	out := make([]string, 0, len(s.symbols))
	for name := range s.symbols {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Edge is a defines edge recorded by the visitor.
type Edge struct {
	From string
	To   string
}

// FileResult is everything Visit extracts from one file.
type FileResult struct {
	File source.File

	// ModuleScope is the root frame of the file.
	ModuleScope *Scope

	// Nodes are the definition nodes in source order, without duplicates.
	Nodes []*graph.Node

	// Defines are the defines edges in source order.
	Defines []Edge

	// Refs are the raw references in source order.
	Refs []*Ref

	// Bases maps a class to its base class expressions, left to right.
	Bases map[string][]*Ref

	// ClassScopes maps a class to its body frame.
	ClassScopes map[string]*Scope

	// AttrValues maps an ATTRIBUTE node to the last value assigned to it.
	AttrValues map[string]*Ref
}
