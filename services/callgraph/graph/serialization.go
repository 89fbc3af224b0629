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
	"sort"
)

// GraphSchemaVersion is the version of the serialization schema.
// Increment when the serialization format changes in a breaking way.
const GraphSchemaVersion = "1"

// SerializableGraph is the JSON-serializable representation of a CallGraph.
//
// Description:
//
//	Contains all data needed to reconstruct a CallGraph. Nodes are sorted by
//	qualified name and edges by source for deterministic output. Defines
//	targets keep their definition order; uses targets are sorted.
//
// Thread Safety: SerializableGraph is a value type with no internal state.
type SerializableGraph struct {
	// SchemaVersion identifies the serialization format version.
	SchemaVersion string `json:"schema_version"`

	// ProjectRoot is the source root the graph was built from.
	ProjectRoot string `json:"project_root"`

	// BuiltAtMilli is the Unix timestamp in milliseconds of construction.
	BuiltAtMilli int64 `json:"built_at_milli"`

	// GraphHash is the deterministic hash of the graph structure.
	GraphHash string `json:"graph_hash"`

	// Nodes contains all nodes, sorted by qualified name.
	Nodes []SerializableNode `json:"nodes"`

	// Defines contains all defines edges.
	Defines []SerializableEdge `json:"defines"`

	// Uses contains all uses edges.
	Uses []SerializableEdge `json:"uses"`
}

// SerializableNode is the JSON-serializable representation of a Node.
type SerializableNode struct {
	Node

	// KindName is the string form of Node.Kind.
	KindName string `json:"kind"`
}

// SerializableEdge is one edge between two qualified names.
type SerializableEdge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// ToSerializable converts the graph to its JSON-serializable representation.
//
// Complexity:
//
//	O(V log V + E log E).
//
// Thread Safety:
//
//	Safe for concurrent use.
func (g *CallGraph) ToSerializable() *SerializableGraph {
	if g == nil {
		return &SerializableGraph{
			SchemaVersion: GraphSchemaVersion,
			Nodes:         []SerializableNode{},
			Defines:       []SerializableEdge{},
			Uses:          []SerializableEdge{},
		}
	}

	hash := g.Hash()

	g.mu.RLock()
	defer g.mu.RUnlock()

	nodes := make([]SerializableNode, 0, len(g.nodes))
	for _, name := range sortedKeys(g.nodes) {
		n := g.nodes[name]
		nodes = append(nodes, SerializableNode{Node: *n, KindName: n.Kind.String()})
	}

	return &SerializableGraph{
		SchemaVersion: GraphSchemaVersion,
		ProjectRoot:   g.ProjectRoot,
		BuiltAtMilli:  g.BuiltAtMilli,
		GraphHash:     hash,
		Nodes:         nodes,
		Defines:       flattenEdges(g.defines, false),
		Uses:          flattenEdges(g.uses, true),
	}
}

func flattenEdges(edges map[string]*nameSet, sortTargets bool) []SerializableEdge {
	out := make([]SerializableEdge, 0, countEdges(edges))
	for _, from := range sortedKeys(edges) {
		targets := edges[from].order
		if sortTargets {
			targets = append([]string(nil), targets...)
			sort.Strings(targets)
		}
		for _, to := range targets {
			out = append(out, SerializableEdge{From: from, To: to})
		}
	}
	return out
}

// FromSerializable reconstructs a CallGraph from its serializable form.
//
// Description:
//
//	Replays every node through AddNode and every edge through AddDefines and
//	AddUses, so the reconstructed graph goes through the same invariant
//	checks as a freshly built one. BuiltAtMilli is restored afterwards.
//
// Outputs:
//
//	*CallGraph - The reconstructed graph.
//	error - ErrInvalidSnapshot (wrapped) on version mismatch, unknown kind,
//	or an edge naming an unregistered node.
func FromSerializable(sg *SerializableGraph) (*CallGraph, error) {
	if sg == nil {
		return nil, fmt.Errorf("%w: serializable graph must not be nil", ErrInvalidSnapshot)
	}
	if sg.SchemaVersion != GraphSchemaVersion {
		return nil, fmt.Errorf("%w: unsupported schema version %q (expected %q)",
			ErrInvalidSnapshot, sg.SchemaVersion, GraphSchemaVersion)
	}

	g := NewCallGraph(sg.ProjectRoot)
	for i, sn := range sg.Nodes {
		kind, err := ParseKind(sn.KindName)
		if err != nil {
			return nil, fmt.Errorf("%w: node %d (%s): %v", ErrInvalidSnapshot, i, sn.QualifiedName, err)
		}
		n := sn.Node
		n.Kind = kind
		if _, _, err := g.AddNode(&n); err != nil {
			return nil, fmt.Errorf("%w: node %d: %v", ErrInvalidSnapshot, i, err)
		}
	}
	for i, e := range sg.Defines {
		if err := g.AddDefines(e.From, e.To); err != nil {
			return nil, fmt.Errorf("%w: defines edge %d: %v", ErrInvalidSnapshot, i, err)
		}
	}
	for i, e := range sg.Uses {
		if err := g.AddUses(e.From, e.To); err != nil {
			return nil, fmt.Errorf("%w: uses edge %d: %v", ErrInvalidSnapshot, i, err)
		}
	}
	g.BuiltAtMilli = sg.BuiltAtMilli
	return g, nil
}
