// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package query

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/pycallgraph/services/callgraph/graph"
)

// DefaultMaxDepth bounds Callers and Callees when depth is not positive.
const DefaultMaxDepth = 1

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// Engine runs queries against one graph.
type Engine struct {
	g      *graph.CallGraph
	logger *slog.Logger
}

// New creates an Engine over g.
func New(g *graph.CallGraph, opts ...Option) (*Engine, error) {
	if g == nil {
		return nil, ErrNilGraph
	}
	e := &Engine{g: g, logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Hop is a node reached by a traversal, Depth edges away from the start.
type Hop struct {
	Node  *graph.Node
	Depth int
}

// Callers returns the nodes that use target, transitively up to depth.
//
// Description:
//
//	Breadth first over reversed uses edges. Each node appears once, at
//	its smallest depth; target itself is excluded even when recursive.
//	Results are ordered by depth, then qualified name.
//
// Inputs:
//
//	ctx - Checked once per BFS level.
//	target - Qualified name of a registered node.
//	depth - Maximum hops. Values below 1 mean DefaultMaxDepth.
//
// Outputs:
//
//	[]Hop - The callers.
//	error - graph.ErrNodeNotFound (wrapped) or ctx.Err().
func (e *Engine) Callers(ctx context.Context, target string, depth int) ([]Hop, error) {
	ctx, span := startQuerySpan(ctx, "Callers",
		attribute.String("query.target", target),
		attribute.Int("query.depth", depth))
	hops, err := e.traverse(ctx, target, depth, e.reverseUses())
	endQuerySpan(span, len(hops), err)
	return hops, err
}

// Callees returns the nodes target uses, transitively up to depth.
//
// Same ordering and depth rules as Callers.
func (e *Engine) Callees(ctx context.Context, target string, depth int) ([]Hop, error) {
	ctx, span := startQuerySpan(ctx, "Callees",
		attribute.String("query.target", target),
		attribute.Int("query.depth", depth))
	hops, err := e.traverse(ctx, target, depth, func(name string) []*graph.Node {
		return e.g.UsesOf(name)
	})
	endQuerySpan(span, len(hops), err)
	return hops, err
}

func (e *Engine) traverse(ctx context.Context, target string, depth int, next func(string) []*graph.Node) ([]Hop, error) {
	if _, ok := e.g.GetNode(target); !ok {
		return nil, fmt.Errorf("query: %w: %s", graph.ErrNodeNotFound, target)
	}
	if depth < 1 {
		depth = DefaultMaxDepth
	}

	seen := map[string]struct{}{target: {}}
	frontier := []string{target}
	var out []Hop
	for d := 1; d <= depth && len(frontier) > 0; d++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var level []*graph.Node
		for _, name := range frontier {
			for _, n := range next(name) {
				if _, ok := seen[n.QualifiedName]; ok {
					continue
				}
				seen[n.QualifiedName] = struct{}{}
				level = append(level, n)
			}
		}
		sort.Slice(level, func(i, j int) bool { return level[i].QualifiedName < level[j].QualifiedName })

		frontier = frontier[:0]
		for _, n := range level {
			out = append(out, Hop{Node: n, Depth: d})
			frontier = append(frontier, n.QualifiedName)
		}
	}
	return out, nil
}

// reverseUses snapshots the reversed uses mapping once per query.
func (e *Engine) reverseUses() func(string) []*graph.Node {
	rev := make(map[string][]*graph.Node)
	for _, n := range e.g.AllNodes() {
		for _, m := range e.g.UsesOf(n.QualifiedName) {
			rev[m.QualifiedName] = append(rev[m.QualifiedName], n)
		}
	}
	return func(name string) []*graph.Node { return rev[name] }
}

// ShortestPath returns a minimum-hop chain of uses edges from from to to,
// both ends included.
//
// Description:
//
//	BFS visiting successors in qualified name order, so the returned path
//	is the lexicographically first among the shortest ones. A node's path
//	to itself is the single node.
//
// Outputs:
//
//	[]*graph.Node - The path.
//	error - graph.ErrNodeNotFound (wrapped) for either end, ErrNoPath, or
//	ctx.Err().
func (e *Engine) ShortestPath(ctx context.Context, from, to string) ([]*graph.Node, error) {
	ctx, span := startQuerySpan(ctx, "ShortestPath",
		attribute.String("query.from", from),
		attribute.String("query.to", to))
	path, err := e.shortestPath(ctx, from, to)
	endQuerySpan(span, len(path), err)
	return path, err
}

func (e *Engine) shortestPath(ctx context.Context, from, to string) ([]*graph.Node, error) {
	start, ok := e.g.GetNode(from)
	if !ok {
		return nil, fmt.Errorf("query: %w: %s", graph.ErrNodeNotFound, from)
	}
	if _, ok := e.g.GetNode(to); !ok {
		return nil, fmt.Errorf("query: %w: %s", graph.ErrNodeNotFound, to)
	}
	if from == to {
		return []*graph.Node{start}, nil
	}

	prev := map[string]*graph.Node{from: nil}
	queue := []*graph.Node{start}
	for visited := 0; len(queue) > 0; visited++ {
		if visited%256 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		cur := queue[0]
		queue = queue[1:]
		for _, n := range e.g.UsesOf(cur.QualifiedName) {
			if _, ok := prev[n.QualifiedName]; ok {
				continue
			}
			prev[n.QualifiedName] = cur
			if n.QualifiedName == to {
				return unwind(prev, n), nil
			}
			queue = append(queue, n)
		}
	}
	return nil, fmt.Errorf("query: %w from %s to %s", ErrNoPath, from, to)
}

func unwind(prev map[string]*graph.Node, end *graph.Node) []*graph.Node {
	var path []*graph.Node
	for n := end; n != nil; n = prev[n.QualifiedName] {
		path = append(path, n)
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

// DeadCodeOptions narrows a DeadCode query.
type DeadCodeOptions struct {
	// IncludeExported also reports public module-level functions and
	// classes, which may be entry points for code outside the analyzed set.
	IncludeExported bool

	// ExcludeTests drops symbols defined in test files.
	ExcludeTests bool

	// Module keeps only symbols under this qualified name prefix.
	Module string

	// Limit caps the result. Zero or negative means unlimited.
	Limit int
}

// DeadSymbol is a definition nothing in the graph references.
type DeadSymbol struct {
	Node   *graph.Node
	Reason string
}

// DeadCode lists FUNCTION, METHOD and CLASS nodes with no incoming uses
// edge.
//
// Description:
//
//	Dunder methods, main and test_* functions are never reported, since
//	the interpreter or a test runner calls them. Public module-level
//	definitions are skipped unless opts.IncludeExported is set. A
//	recursive function whose only user is itself is still reported.
//
// Limitations:
//
//	Calls through values of unknown type (parameters, return values) do
//	not produce edges, so methods reached that way are reported too.
func (e *Engine) DeadCode(ctx context.Context, opts DeadCodeOptions) ([]DeadSymbol, error) {
	ctx, span := startQuerySpan(ctx, "DeadCode",
		attribute.Bool("query.include_exported", opts.IncludeExported),
		attribute.Bool("query.exclude_tests", opts.ExcludeTests),
		attribute.String("query.module", opts.Module))
	dead, err := e.deadCode(ctx, opts)
	endQuerySpan(span, len(dead), err)
	return dead, err
}

func (e *Engine) deadCode(ctx context.Context, opts DeadCodeOptions) ([]DeadSymbol, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	used := make(map[string]struct{})
	for _, n := range e.g.AllNodes() {
		for _, m := range e.g.UsesOf(n.QualifiedName) {
			if m.QualifiedName != n.QualifiedName {
				used[m.QualifiedName] = struct{}{}
			}
		}
	}

	var out []DeadSymbol
	var candidates int
	for _, n := range e.g.AllNodes() {
		switch n.Kind {
		case graph.KindFunction, graph.KindMethod, graph.KindClass:
		default:
			continue
		}
		if opts.Module != "" && n.QualifiedName != opts.Module && !strings.HasPrefix(n.QualifiedName, opts.Module+".") {
			continue
		}
		candidates++
		if _, ok := used[n.QualifiedName]; ok {
			continue
		}
		if isEntryPoint(n) {
			continue
		}
		if !opts.IncludeExported && e.isExported(n) {
			continue
		}
		if opts.ExcludeTests && isTestFile(n.FilePath) {
			continue
		}
		out = append(out, DeadSymbol{Node: n, Reason: deadReason(n)})
		if opts.Limit > 0 && len(out) == opts.Limit {
			break
		}
	}

	e.logger.Debug("dead code scan",
		slog.Int("candidates", candidates),
		slog.Int("dead", len(out)))
	return out, nil
}

func isDunder(name string) bool {
	return len(name) > 4 && strings.HasPrefix(name, "__") && strings.HasSuffix(name, "__")
}

func isEntryPoint(n *graph.Node) bool {
	name := n.Name()
	switch {
	case isDunder(name):
		return true
	case n.Kind == graph.KindFunction && name == "main":
		return true
	case n.Kind != graph.KindClass && strings.HasPrefix(name, "test"):
		return true
	case n.Kind == graph.KindClass && strings.HasPrefix(name, "Test"):
		return true
	}
	return false
}

// isExported reports whether n is a public definition directly inside a
// module or package.
func (e *Engine) isExported(n *graph.Node) bool {
	if strings.HasPrefix(n.Name(), "_") {
		return false
	}
	parent, ok := e.g.GetNode(n.Parent)
	return ok && parent.Kind.IsNamespace()
}

func deadReason(n *graph.Node) string {
	if n.Kind == graph.KindClass {
		return "never referenced"
	}
	return "no callers"
}

func isTestFile(path string) bool {
	if path == "" {
		return false
	}
	base := filepath.Base(path)
	if base == "conftest.py" || strings.HasPrefix(base, "test_") || strings.HasSuffix(base, "_test.py") {
		return true
	}
	for _, dir := range strings.Split(filepath.ToSlash(filepath.Dir(path)), "/") {
		if dir == "tests" || dir == "test" {
			return true
		}
	}
	return false
}

// Stats summarizes a graph.
type Stats struct {
	Nodes        int                        `json:"nodes"`
	UsesEdges    int                        `json:"uses_edges"`
	DefinesEdges int                        `json:"defines_edges"`
	ByKind       map[string]int             `json:"by_kind"`
	Externals    []graph.ExternalDependency `json:"externals,omitempty"`
}

// Stats counts nodes by kind and edges by mapping, and groups EXTERNAL
// nodes by top-level package.
func (e *Engine) Stats(ctx context.Context) Stats {
	_, span := startQuerySpan(ctx, "Stats")
	s := Stats{
		Nodes:        e.g.NodeCount(),
		UsesEdges:    e.g.UsesEdgeCount(),
		DefinesEdges: e.g.DefinesEdgeCount(),
		ByKind:       make(map[string]int),
		Externals:    graph.ClassifyExternalNodes(e.g),
	}
	for _, n := range e.g.AllNodes() {
		s.ByKind[n.Kind.String()]++
	}
	endQuerySpan(span, s.Nodes, nil)
	return s
}
