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
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"time"
)

// CallGraph is the node registry plus the defines and uses edge mappings.
//
// Description:
//
//	nodes owns every Node keyed by qualified name. defines maps an owner to
//	its direct structural children in insertion order. uses maps a user to
//	every entity its code references after alias resolution.
//
// Thread Safety:
//
//	Safe for concurrent use. Writers take the write lock; queries take the
//	read lock. Returned slices are copies.
type CallGraph struct {
	mu sync.RWMutex

	// ProjectRoot is the source root the graph was built from.
	ProjectRoot string

	// BuiltAtMilli is the Unix millisecond timestamp of construction.
	BuiltAtMilli int64

	nodes   map[string]*Node
	defines map[string]*nameSet
	uses    map[string]*nameSet
}

// NewCallGraph creates an empty graph for the given project root.
func NewCallGraph(projectRoot string) *CallGraph {
	return &CallGraph{
		ProjectRoot:  projectRoot,
		BuiltAtMilli: time.Now().UnixMilli(),
		nodes:        make(map[string]*Node),
		defines:      make(map[string]*nameSet),
		uses:         make(map[string]*nameSet),
	}
}

// AddNode registers a node, or returns the node already registered under the
// same qualified name.
//
// Description:
//
//	Registration is insert-or-get: the first node registered for a name is
//	canonical, and later attempts return it with added=false. This keeps the
//	one-node-per-name invariant when a module rebinds a name.
//
// Inputs:
//
//	n - The node to register. Must have a non-empty name and a known kind.
//
// Outputs:
//
//	*Node - The canonical node for n.QualifiedName.
//	bool - True if n was inserted.
//	error - ErrInvalidNode if n is nil or malformed.
//
// Thread Safety:
//
//	Safe for concurrent use.
func (g *CallGraph) AddNode(n *Node) (*Node, bool, error) {
	if n == nil || n.QualifiedName == "" || n.Kind == KindUnknown {
		return nil, false, ErrInvalidNode
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if existing, ok := g.nodes[n.QualifiedName]; ok {
		return existing, false, nil
	}
	g.nodes[n.QualifiedName] = n
	return n, true, nil
}

// GetOrCreateExternal returns the EXTERNAL placeholder for name, creating it
// on first use.
//
// Description:
//
//	If any node (external or not) is already registered under name it is
//	returned unchanged. The lookup and insert happen under one critical
//	section, so concurrent resolvers never create two placeholders for the
//	same name.
//
// Outputs:
//
//	*Node - The registered node.
//	bool - True if a new placeholder was created.
//
// Thread Safety:
//
//	Safe for concurrent use.
func (g *CallGraph) GetOrCreateExternal(name string) (*Node, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if existing, ok := g.nodes[name]; ok {
		return existing, false
	}
	n := &Node{QualifiedName: name, Kind: KindExternal}
	g.nodes[name] = n
	return n, true
}

// AddDefines records that owner directly contains member.
//
// Outputs:
//
//	error - ErrNodeNotFound (wrapped) if either name is unregistered.
func (g *CallGraph) AddDefines(owner, member string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.addEdgeLocked(g.defines, owner, member)
}

// AddUses records that user references target. Duplicate edges collapse.
//
// Outputs:
//
//	error - ErrNodeNotFound (wrapped) if either name is unregistered.
func (g *CallGraph) AddUses(user, target string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.addEdgeLocked(g.uses, user, target)
}

func (g *CallGraph) addEdgeLocked(edges map[string]*nameSet, from, to string) error {
	if _, ok := g.nodes[from]; !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, from)
	}
	if _, ok := g.nodes[to]; !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, to)
	}
	set, ok := edges[from]
	if !ok {
		set = newNameSet()
		edges[from] = set
	}
	set.add(to)
	return nil
}

// GetNode returns the node registered under name.
func (g *CallGraph) GetNode(name string) (*Node, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[name]
	return n, ok
}

// DefinesOf returns the direct children of name in definition order.
// Unknown names and leaves yield an empty slice.
func (g *CallGraph) DefinesOf(name string) []*Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.resolveSetLocked(g.defines[name], false)
}

// UsesOf returns every node referenced by name, sorted by qualified name.
func (g *CallGraph) UsesOf(name string) []*Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.resolveSetLocked(g.uses[name], true)
}

// HasUse reports whether the edge user -> target exists.
func (g *CallGraph) HasUse(user, target string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	set, ok := g.uses[user]
	return ok && set.has(target)
}

// HasDefine reports whether owner directly defines member.
func (g *CallGraph) HasDefine(owner, member string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	set, ok := g.defines[owner]
	return ok && set.has(member)
}

// UsedBy returns every node whose uses contain name, sorted by qualified name.
//
// Complexity:
//
//	O(E) over the uses mapping.
func (g *CallGraph) UsedBy(name string) []*Node {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []*Node
	for user, set := range g.uses {
		if set.has(name) {
			out = append(out, g.nodes[user])
		}
	}
	sortNodes(out)
	return out
}

// AllNodes returns every registered node sorted by qualified name.
func (g *CallGraph) AllNodes() []*Node {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]*Node, 0, len(g.nodes))
	for _, n := range g.nodes {
		out = append(out, n)
	}
	sortNodes(out)
	return out
}

// NodesOfKind returns every node of the given kind sorted by qualified name.
func (g *CallGraph) NodesOfKind(kind Kind) []*Node {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []*Node
	for _, n := range g.nodes {
		if n.Kind == kind {
			out = append(out, n)
		}
	}
	sortNodes(out)
	return out
}

// NodeCount returns the number of registered nodes.
func (g *CallGraph) NodeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// UsesEdgeCount returns the number of uses edges.
func (g *CallGraph) UsesEdgeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return countEdges(g.uses)
}

// DefinesEdgeCount returns the number of defines edges.
func (g *CallGraph) DefinesEdgeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return countEdges(g.defines)
}

// EdgeCount returns the total of defines and uses edges.
func (g *CallGraph) EdgeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return countEdges(g.defines) + countEdges(g.uses)
}

// Hash returns a deterministic SHA256 over the sorted node and edge sets.
//
// Two graphs with the same nodes (name and kind) and the same edges hash
// equally regardless of construction order.
func (g *CallGraph) Hash() string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	h := sha256.New()
	for _, name := range sortedKeys(g.nodes) {
		fmt.Fprintf(h, "n|%s|%s\n", name, g.nodes[name].Kind)
	}
	for _, pair := range []struct {
		tag   string
		edges map[string]*nameSet
	}{{"d", g.defines}, {"u", g.uses}} {
		for _, from := range sortedKeys(pair.edges) {
			targets := append([]string(nil), pair.edges[from].order...)
			sort.Strings(targets)
			for _, to := range targets {
				fmt.Fprintf(h, "%s|%s|%s\n", pair.tag, from, to)
			}
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (g *CallGraph) resolveSetLocked(set *nameSet, sorted bool) []*Node {
	if set == nil {
		return []*Node{}
	}
	out := make([]*Node, 0, set.len())
	for _, name := range set.order {
		out = append(out, g.nodes[name])
	}
	if sorted {
		sortNodes(out)
	}
	return out
}

func countEdges(edges map[string]*nameSet) int {
	total := 0
	for _, set := range edges {
		total += set.len()
	}
	return total
}

func sortNodes(nodes []*Node) {
	sort.Slice(nodes, func(i, j int) bool {
		return nodes[i].QualifiedName < nodes[j].QualifiedName
	})
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
