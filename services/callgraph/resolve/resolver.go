// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package resolve turns the raw references collected by the scope visitor
// into uses edges.
//
// Resolution runs after every file has been visited. A reference's leading
// name is looked up through the lexical scope chain, then through the
// top-level namespace, and the rest of its dotted chain is followed through
// modules, classes (including inherited members) and assigned values.
// Anything that cannot be followed becomes an EXTERNAL placeholder.
package resolve

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/AleutianAI/pycallgraph/services/callgraph/graph"
	"github.com/AleutianAI/pycallgraph/services/callgraph/index"
	"github.com/AleutianAI/pycallgraph/services/callgraph/scope"
)

// maxDepth bounds mutually recursive lookups through values, bases and
// wildcard imports.
const maxDepth = 64

// cancelCheckInterval is how many refs are resolved between context checks.
const cancelCheckInterval = 500

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger sets the logger for diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithBuiltins adds names treated as builtins on top of Python's own.
func WithBuiltins(names ...string) Option {
	return func(r *Resolver) {
		for _, n := range names {
			r.builtins[n] = struct{}{}
		}
	}
}

// Resolver resolves references against a symbol table.
//
// Thread Safety:
//
//	Safe for concurrent use. ResolveFile may run for many files at once;
//	per-binding results are memoized in a concurrent map and EXTERNAL
//	creation goes through the graph's insert-or-get.
type Resolver struct {
	st       *index.SymbolTable
	g        *graph.CallGraph
	logger   *slog.Logger
	builtins map[string]struct{}

	// memo maps *scope.Binding to memoEntry.
	memo sync.Map
}

type memoEntry struct {
	node *graph.Node
}

// New creates a Resolver over st.
func New(st *index.SymbolTable, opts ...Option) *Resolver {
	r := &Resolver{
		st:       st,
		g:        st.Graph(),
		logger:   slog.Default(),
		builtins: make(map[string]struct{}, len(pythonBuiltins)),
	}
	for _, b := range pythonBuiltins {
		r.builtins[b] = struct{}{}
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// FileStats summarizes resolution of one file.
type FileStats struct {
	Refs             int
	Resolved         int
	Dropped          int
	ExternalsCreated int
}

// state is per-reference bookkeeping for cycle detection.
type state struct {
	bindings map[*scope.Binding]struct{}
	attrs    map[string]struct{}
	classes  map[string]struct{}
	stars    map[string]struct{}
	depth    int
	cyclic   bool
	created  *int
}

func newState(created *int) *state {
	return &state{
		bindings: make(map[*scope.Binding]struct{}),
		attrs:    make(map[string]struct{}),
		classes:  make(map[string]struct{}),
		stars:    make(map[string]struct{}),
		created:  created,
	}
}

// ResolveFile resolves every reference of a visited file and records the
// resulting uses edges.
//
// Description:
//
//	Each resolved reference adds target to uses[ref.From]. References to
//	builtins, to opaque locals, or through values that cannot be followed
//	are dropped. Repeated references collapse into one edge.
//
// Inputs:
//
//	ctx - Checked periodically for cancellation.
//	res - Output of scope.Visit for a file in the symbol table.
//
// Outputs:
//
//	FileStats - Counts for the file.
//	error - ctx.Err() if cancelled, or a graph error if an edge endpoint
//	is unregistered.
//
// Thread Safety:
//
//	Safe to call concurrently for different files.
func (r *Resolver) ResolveFile(ctx context.Context, res *scope.FileResult) (FileStats, error) {
	ctx, span := startResolveSpan(ctx, res.File.Module, len(res.Refs))
	defer span.End()
	start := time.Now()

	stats := FileStats{Refs: len(res.Refs)}
	for i, ref := range res.Refs {
		if i%cancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return stats, err
			}
		}

		target := r.resolveRef(ref, newState(&stats.ExternalsCreated))
		if target == nil {
			stats.Dropped++
			continue
		}
		if err := r.g.AddUses(ref.From, target.QualifiedName); err != nil {
			return stats, fmt.Errorf("resolve %s:%d: %w", res.File.Path, ref.Line, err)
		}
		stats.Resolved++
	}

	setResolveSpanResult(span, stats)
	recordResolveMetrics(ctx, time.Since(start), stats)
	return stats, nil
}

// Resolve returns the node a single reference resolves to, creating
// EXTERNAL placeholders as needed but adding no edges.
func (r *Resolver) Resolve(ref *scope.Ref) (*graph.Node, bool) {
	var created int
	n := r.resolveRef(ref, newState(&created))
	return n, n != nil
}

func (r *Resolver) resolveRef(ref *scope.Ref, st *state) *graph.Node {
	switch ref.Kind {
	case scope.RefImport, scope.RefFromImport:
		return r.resolveImport(ref.Import, ref.Scope.Module, st)
	}

	if ref.Base != nil {
		base := r.value(ref.Base, st)
		if base == nil {
			return nil
		}
		return r.walk(base, ref.Names, st)
	}
	if len(ref.Names) == 0 {
		return nil
	}

	lead, found := r.lookupName(ref.Names[0], ref.Scope, st)
	if !found {
		if r.isBuiltin(ref.Names[0]) {
			return nil
		}
		return r.external(ref.Chain(), st)
	}
	if lead == nil {
		return nil
	}
	return r.walk(lead, ref.Names[1:], st)
}

func (r *Resolver) isBuiltin(name string) bool {
	_, ok := r.builtins[name]
	return ok
}

// lookupName resolves a leading name through the scope chain. found is
// true when some frame binds the name, even if the binding cannot be
// followed; callers drop such refs.
func (r *Resolver) lookupName(name string, s *scope.Scope, st *state) (*graph.Node, bool) {
	for frame, first := s, true; frame != nil; frame, first = frame.Parent, false {
		// A class body is only visible to code directly inside it.
		if frame.Kind == scope.KindClass && !first {
			continue
		}
		if b, ok := frame.Lookup(name); ok {
			return r.bindingTarget(b, frame, st), true
		}
		if frame.Kind == scope.KindModule {
			if n := r.fromStars(frame, name, st); n != nil {
				return n, true
			}
		}
	}

	for _, candidate := range r.candidates(name) {
		if n, ok := r.defined(candidate); ok {
			return n, true
		}
	}
	return nil, false
}

// candidates lists the absolute names to try for a dotted path.
func (r *Resolver) candidates(dotted string) []string {
	if prefix := r.st.RootPrefix(); prefix != "" && !strings.HasPrefix(dotted, prefix+".") && dotted != prefix {
		return []string{dotted, prefix + "." + dotted}
	}
	return []string{dotted}
}

// bindingTarget follows a binding to a node. Results are memoized unless
// a cycle was hit while computing them.
func (r *Resolver) bindingTarget(b *scope.Binding, frame *scope.Scope, st *state) *graph.Node {
	if v, ok := r.memo.Load(b); ok {
		return v.(memoEntry).node
	}
	if _, busy := st.bindings[b]; busy {
		st.cyclic = true
		return nil
	}
	if st.depth >= maxDepth {
		st.cyclic = true
		return nil
	}

	st.bindings[b] = struct{}{}
	st.depth++
	outerCyclic := st.cyclic
	st.cyclic = false

	var n *graph.Node
	switch b.Kind {
	case scope.BindNode:
		n, _ = r.defined(b.Target)
	case scope.BindImport:
		n = r.resolveImport(b.Import, frame.Module, st)
	case scope.BindValue:
		n = r.value(b.Value, st)
	case scope.BindOpaque:
	}

	if !st.cyclic {
		r.memo.Store(b, memoEntry{node: n})
	}
	st.cyclic = st.cyclic || outerCyclic
	st.depth--
	delete(st.bindings, b)
	return n
}

// value evaluates an expression ref used as a value. A call of a class
// yields the class and a call of an EXTERNAL yields the EXTERNAL; any
// other call result is unknown.
func (r *Resolver) value(ref *scope.Ref, st *state) *graph.Node {
	n := r.resolveRef(ref, st)
	if n == nil || !ref.Call {
		return n
	}
	switch n.Kind {
	case graph.KindClass, graph.KindExternal:
		return n
	}
	return nil
}

// resolveImport resolves an import statement target from module.
func (r *Resolver) resolveImport(imp *scope.Import, module string, st *state) *graph.Node {
	var base *graph.Node
	if imp.Level > 0 {
		pkg, ok := r.relativePackage(module, imp.Level)
		if !ok {
			r.logger.Debug("relative import beyond top-level package",
				slog.String("module", module),
				slog.String("import", imp.String()))
			return nil
		}
		base = pkg
		segs := splitNonEmpty(imp.Module)
		for i, seg := range segs {
			next, ok := r.member(base, seg, true, st)
			if !ok {
				return r.walk(base, append(segs[i:], nameIfAny(imp.Name)...), st)
			}
			base = next
		}
	} else {
		n, ok := r.modulePath(imp.Module)
		if !ok {
			name := imp.Module
			if imp.Name != "" {
				name = graph.Join(imp.Module, imp.Name)
			}
			return r.external(name, st)
		}
		base = n
	}

	if imp.Name == "" {
		return base
	}
	if n, ok := r.member(base, imp.Name, true, st); ok {
		return n
	}
	return r.walk(base, []string{imp.Name}, st)
}

func nameIfAny(name string) []string {
	if name == "" {
		return nil
	}
	return []string{name}
}

func splitNonEmpty(dotted string) []string {
	if dotted == "" {
		return nil
	}
	return strings.Split(dotted, ".")
}

// modulePath finds a package or module by absolute dotted name.
func (r *Resolver) modulePath(dotted string) (*graph.Node, bool) {
	for _, candidate := range r.candidates(dotted) {
		if n, ok := r.defined(candidate); ok {
			return n, true
		}
	}
	return nil, false
}

// defined returns a non-EXTERNAL node. Placeholders are created while
// resolution runs, so lookups ignore them to stay order independent.
func (r *Resolver) defined(name string) (*graph.Node, bool) {
	n, ok := r.g.GetNode(name)
	if !ok || n.Kind == graph.KindExternal {
		return nil, false
	}
	return n, true
}

// relativePackage returns the package a relative import of the given level
// starts from. Level 1 is the module's own package.
func (r *Resolver) relativePackage(module string, level int) (*graph.Node, bool) {
	pkg := graph.ParentName(module)
	if f, ok := r.st.File(module); ok {
		pkg = f.Package()
	}
	for i := 1; i < level; i++ {
		if pkg == "" {
			return nil, false
		}
		pkg = graph.ParentName(pkg)
	}
	if pkg == "" {
		return nil, false
	}
	return r.defined(pkg)
}

// walk follows rest from start. When a segment cannot be found, a module
// or class owner yields EXTERNAL owner.rest; any other node stops the walk
// at the deepest resolved node.
func (r *Resolver) walk(start *graph.Node, rest []string, st *state) *graph.Node {
	cur := start
	for i, seg := range rest {
		if cur.Kind == graph.KindExternal {
			return r.external(graph.Join(cur.QualifiedName, strings.Join(rest[i:], ".")), st)
		}
		if next, ok := r.member(cur, seg, false, st); ok {
			cur = next
			continue
		}

		owner := cur
		if cur.Kind == graph.KindAttribute {
			if v := r.attrValue(cur, st); v != nil {
				owner = v
			}
		}
		switch owner.Kind {
		case graph.KindPackage, graph.KindModule, graph.KindClass, graph.KindExternal:
			return r.external(graph.Join(owner.QualifiedName, strings.Join(rest[i:], ".")), st)
		}
		return cur
	}
	return cur
}

// member looks up one attribute of a node. preferSubmodule reverses the
// module order for import statements, which load submodules first.
func (r *Resolver) member(parent *graph.Node, name string, preferSubmodule bool, st *state) (*graph.Node, bool) {
	if st.depth >= maxDepth {
		st.cyclic = true
		return nil, false
	}
	st.depth++
	defer func() { st.depth-- }()

	qualified := graph.Join(parent.QualifiedName, name)

	switch parent.Kind {
	case graph.KindPackage, graph.KindModule:
		if preferSubmodule {
			if n, ok := r.defined(qualified); ok {
				return n, true
			}
		}
		if s, ok := r.st.ModuleScope(parent.QualifiedName); ok {
			if b, ok := s.Lookup(name); ok {
				if n := r.bindingTarget(b, s, st); n != nil {
					return n, true
				}
			}
		}
		if n, ok := r.defined(qualified); ok {
			return n, true
		}
		if s, ok := r.st.ModuleScope(parent.QualifiedName); ok {
			if n := r.fromStars(s, name, st); n != nil {
				return n, true
			}
		}
		return nil, false

	case graph.KindClass:
		return r.classMember(parent, name, st)

	case graph.KindAttribute:
		v := r.attrValue(parent, st)
		if v == nil {
			return nil, false
		}
		return r.member(v, name, false, st)

	case graph.KindExternal:
		return r.external(qualified, st), true
	}
	return nil, false
}

// classMember searches a class and then its bases, left to right and depth
// first. A base that resolves to an EXTERNAL yields EXTERNAL base.name.
func (r *Resolver) classMember(class *graph.Node, name string, st *state) (*graph.Node, bool) {
	if _, busy := st.classes[class.QualifiedName]; busy {
		st.cyclic = true
		return nil, false
	}
	st.classes[class.QualifiedName] = struct{}{}
	defer delete(st.classes, class.QualifiedName)

	if n, ok := r.defined(graph.Join(class.QualifiedName, name)); ok {
		return n, true
	}
	if s, ok := r.st.ClassScope(class.QualifiedName); ok {
		if b, ok := s.Lookup(name); ok {
			if n := r.bindingTarget(b, s, st); n != nil {
				return n, true
			}
		}
	}
	for _, baseRef := range r.st.Bases(class.QualifiedName) {
		base := r.resolveRef(baseRef, st)
		if base == nil {
			continue
		}
		switch base.Kind {
		case graph.KindClass:
			if n, ok := r.classMember(base, name, st); ok {
				return n, true
			}
		case graph.KindExternal:
			return r.external(graph.Join(base.QualifiedName, name), st), true
		}
	}
	return nil, false
}

// attrValue returns the node an ATTRIBUTE's assigned value resolves to.
func (r *Resolver) attrValue(attr *graph.Node, st *state) *graph.Node {
	ref, ok := r.st.AttrValue(attr.QualifiedName)
	if !ok {
		return nil
	}
	if _, busy := st.attrs[attr.QualifiedName]; busy {
		st.cyclic = true
		return nil
	}
	st.attrs[attr.QualifiedName] = struct{}{}
	defer delete(st.attrs, attr.QualifiedName)

	v := r.value(ref, st)
	if v == attr {
		return nil
	}
	return v
}

// fromStars looks name up in the modules wildcard-imported into a module
// frame. Later star imports shadow earlier ones.
func (r *Resolver) fromStars(frame *scope.Scope, name string, st *state) *graph.Node {
	stars := frame.Stars()
	if len(stars) == 0 {
		return nil
	}
	key := frame.Module + "\x00" + name
	if _, busy := st.stars[key]; busy {
		st.cyclic = true
		return nil
	}
	st.stars[key] = struct{}{}
	defer delete(st.stars, key)

	for i := len(stars) - 1; i >= 0; i-- {
		mod := r.resolveImport(stars[i], frame.Module, st)
		if mod == nil || !mod.Kind.IsNamespace() {
			continue
		}
		if n, ok := r.member(mod, name, false, st); ok && n.Kind != graph.KindExternal {
			return n
		}
	}
	return nil
}

// external returns the EXTERNAL placeholder for name, creating it once.
func (r *Resolver) external(name string, st *state) *graph.Node {
	n, created := r.g.GetOrCreateExternal(name)
	if created {
		*st.created++
		r.logger.Debug("unresolved reference", slog.String("external", name))
	}
	return n
}
