// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"fmt"
	"strings"
)

// Kind classifies a Node.
type Kind uint8

const (
	// KindUnknown is the zero value and never appears in a built graph.
	KindUnknown Kind = iota

	// KindPackage is a directory, with or without an __init__.py marker.
	KindPackage

	// KindModule is a single .py file.
	KindModule

	// KindClass is a class definition.
	KindClass

	// KindFunction is a function defined outside a class body.
	KindFunction

	// KindMethod is a function defined directly in a class body.
	KindMethod

	// KindAttribute is a module or class level binding created by assignment.
	KindAttribute

	// KindExternal is a placeholder for a reference that could not be
	// resolved to an analyzed entity.
	//
	// The name may sit under an analyzed node: a member missing from an
	// analyzed class or module becomes "pkg.mod.C.missing". Such placeholders
	// are never in the owner's defines set and have an empty Parent.
	KindExternal
)

var kindNames = [...]string{
	KindUnknown:   "unknown",
	KindPackage:   "package",
	KindModule:    "module",
	KindClass:     "class",
	KindFunction:  "function",
	KindMethod:    "method",
	KindAttribute: "attribute",
	KindExternal:  "external",
}

// String returns the lowercase kind name.
func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", k)
}

// ParseKind converts a kind name produced by String back into a Kind.
func ParseKind(s string) (Kind, error) {
	for i, name := range kindNames {
		if name == s && Kind(i) != KindUnknown {
			return Kind(i), nil
		}
	}
	return KindUnknown, fmt.Errorf("unknown node kind %q", s)
}

// IsNamespace reports whether nodes of this kind own a module-level scope.
func (k Kind) IsNamespace() bool {
	return k == KindPackage || k == KindModule
}

// IsCallable reports whether nodes of this kind have a body that can be called.
func (k Kind) IsCallable() bool {
	return k == KindFunction || k == KindMethod
}

// DecoratorFlags records the recognized decorators attached to a definition.
//
// Only a small closed set of decorators is tracked. They are metadata on the
// decorated node and never become nodes or edge targets themselves.
type DecoratorFlags uint8

const (
	DecoratorStaticMethod DecoratorFlags = 1 << iota
	DecoratorClassMethod
	DecoratorProperty
)

// recognizedDecorators maps decorator identifiers to their flag.
var recognizedDecorators = map[string]DecoratorFlags{
	"staticmethod": DecoratorStaticMethod,
	"classmethod":  DecoratorClassMethod,
	"property":     DecoratorProperty,
}

// RecognizedDecorator returns the flag for a decorator identifier, if it is
// one of the tracked decorators.
func RecognizedDecorator(name string) (DecoratorFlags, bool) {
	f, ok := recognizedDecorators[name]
	return f, ok
}

// Has reports whether every bit in f is set.
func (d DecoratorFlags) Has(f DecoratorFlags) bool {
	return d&f == f
}

// Names returns the decorator identifiers set in d, in a fixed order.
func (d DecoratorFlags) Names() []string {
	var out []string
	for _, name := range []string{"staticmethod", "classmethod", "property"} {
		if d.Has(recognizedDecorators[name]) {
			out = append(out, name)
		}
	}
	return out
}

// Node is a uniquely named program entity.
//
// Description:
//
//	QualifiedName is the node's identity. The CallGraph guarantees that at
//	most one Node exists per qualified name. Parent is the qualified name of
//	the enclosing namespace node and is a lookup key only.
//
// Thread Safety:
//
//	Nodes are immutable once registered in a CallGraph.
type Node struct {
	// QualifiedName is the dot-joined path identifying this node.
	QualifiedName string `json:"qualified_name"`

	// Kind classifies the node.
	Kind Kind `json:"-"`

	// Parent is the qualified name of the enclosing node, empty for
	// top-level packages and external placeholders.
	Parent string `json:"parent,omitempty"`

	// FilePath is the source file defining the node. Empty for namespace
	// packages and external placeholders.
	FilePath string `json:"file_path,omitempty"`

	// Line is the 1-indexed definition line, 0 when unknown.
	Line int `json:"line,omitempty"`

	// IsNamespacePackage is true for a package directory lacking __init__.py.
	IsNamespacePackage bool `json:"is_namespace_package,omitempty"`

	// IsDecoratedStatic is true for a method marked @staticmethod.
	IsDecoratedStatic bool `json:"is_decorated_static,omitempty"`

	// Decorators holds the recognized decorators on the definition.
	Decorators DecoratorFlags `json:"decorators,omitempty"`
}

// Name returns the last segment of the qualified name.
func (n *Node) Name() string {
	if i := strings.LastIndexByte(n.QualifiedName, '.'); i >= 0 {
		return n.QualifiedName[i+1:]
	}
	return n.QualifiedName
}

// String implements fmt.Stringer.
func (n *Node) String() string {
	return n.Kind.String() + " " + n.QualifiedName
}

// Join builds a qualified name from a parent name and a member name.
func Join(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "." + name
}

// ParentName returns the qualified name with its last segment removed.
func ParentName(qualified string) string {
	if i := strings.LastIndexByte(qualified, '.'); i >= 0 {
		return qualified[:i]
	}
	return ""
}

// nameSet is an insertion-ordered set of qualified names.
type nameSet struct {
	order   []string
	members map[string]struct{}
}

func newNameSet() *nameSet {
	return &nameSet{members: make(map[string]struct{})}
}

// add inserts name and reports whether it was absent.
func (s *nameSet) add(name string) bool {
	if _, ok := s.members[name]; ok {
		return false
	}
	s.members[name] = struct{}{}
	s.order = append(s.order, name)
	return true
}

func (s *nameSet) has(name string) bool {
	_, ok := s.members[name]
	return ok
}

func (s *nameSet) len() int {
	return len(s.order)
}

// restrict returns a copy of s holding only names present in keep.
func (s *nameSet) restrict(keep map[string]struct{}) *nameSet {
	out := newNameSet()
	for _, name := range s.order {
		if _, ok := keep[name]; ok {
			out.add(name)
		}
	}
	return out
}
