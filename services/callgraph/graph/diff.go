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

// Diff contains the differences between two call graphs.
type Diff struct {
	// BaseID and TargetID label the compared graphs (snapshot IDs or run IDs).
	BaseID   string `json:"base_id"`
	TargetID string `json:"target_id"`

	// NodesAdded are qualified names present in target but not in base.
	NodesAdded []string `json:"nodes_added"`

	// NodesRemoved are qualified names present in base but not in target.
	NodesRemoved []string `json:"nodes_removed"`

	// NodesModified are nodes present in both with a different kind,
	// file or line.
	NodesModified []NodeDiff `json:"nodes_modified"`

	// UsesAdded and UsesRemoved are uses edges that differ.
	UsesAdded   []SerializableEdge `json:"uses_added"`
	UsesRemoved []SerializableEdge `json:"uses_removed"`

	// DefinesAdded and DefinesRemoved count defines edges that differ.
	DefinesAdded   int `json:"defines_added"`
	DefinesRemoved int `json:"defines_removed"`

	Summary DiffSummary `json:"summary"`
}

// NodeDiff describes how a single node changed.
type NodeDiff struct {
	QualifiedName string `json:"qualified_name"`

	// ChangeType is "kind_changed", "moved" or "line_changed".
	ChangeType string `json:"change_type"`
}

// DiffSummary contains aggregate statistics about a diff.
type DiffSummary struct {
	TotalChanges  int     `json:"total_changes"`
	FilesAffected int     `json:"files_affected"`
	ChangeRatio   float64 `json:"change_ratio"`
}

// IsEmpty reports whether the diff records no change at all.
func (d *Diff) IsEmpty() bool {
	return d.Summary.TotalChanges == 0
}

// DiffGraphs computes the differences between two call graphs.
//
// Description:
//
//	Nodes are compared by qualified name. Edges are compared as (from, to)
//	pairs separately for defines and uses. Both graphs are serialized first
//	so the comparison runs on consistent copies.
//
// Outputs:
//
//	*Diff - The computed differences, sorted for deterministic output.
//	error - Non-nil if either graph is nil.
//
// Complexity:
//
//	O(V + E) over the larger graph, plus sorting.
func DiffGraphs(base, target *CallGraph, baseID, targetID string) (*Diff, error) {
	if base == nil {
		return nil, fmt.Errorf("base graph must not be nil")
	}
	if target == nil {
		return nil, fmt.Errorf("target graph must not be nil")
	}

	bs, ts := base.ToSerializable(), target.ToSerializable()
	diff := &Diff{
		BaseID:        baseID,
		TargetID:      targetID,
		NodesAdded:    []string{},
		NodesRemoved:  []string{},
		NodesModified: []NodeDiff{},
		UsesAdded:     []SerializableEdge{},
		UsesRemoved:   []SerializableEdge{},
	}

	affectedFiles := make(map[string]struct{})
	touch := func(path string) {
		if path != "" {
			affectedFiles[path] = struct{}{}
		}
	}

	baseNodes := make(map[string]SerializableNode, len(bs.Nodes))
	for _, n := range bs.Nodes {
		baseNodes[n.QualifiedName] = n
	}
	targetNodes := make(map[string]SerializableNode, len(ts.Nodes))
	for _, n := range ts.Nodes {
		targetNodes[n.QualifiedName] = n
		b, ok := baseNodes[n.QualifiedName]
		if !ok {
			diff.NodesAdded = append(diff.NodesAdded, n.QualifiedName)
			touch(n.FilePath)
			continue
		}
		if change := classifyChange(b, n); change != "" {
			diff.NodesModified = append(diff.NodesModified, NodeDiff{QualifiedName: n.QualifiedName, ChangeType: change})
			touch(b.FilePath)
			touch(n.FilePath)
		}
	}
	for _, n := range bs.Nodes {
		if _, ok := targetNodes[n.QualifiedName]; !ok {
			diff.NodesRemoved = append(diff.NodesRemoved, n.QualifiedName)
			touch(n.FilePath)
		}
	}

	diff.UsesAdded, diff.UsesRemoved = edgeDelta(bs.Uses, ts.Uses)
	definesAdded, definesRemoved := edgeDelta(bs.Defines, ts.Defines)
	diff.DefinesAdded, diff.DefinesRemoved = len(definesAdded), len(definesRemoved)

	sort.Strings(diff.NodesAdded)
	sort.Strings(diff.NodesRemoved)

	totalNodes := max(len(bs.Nodes), len(ts.Nodes))
	changedNodes := len(diff.NodesAdded) + len(diff.NodesRemoved) + len(diff.NodesModified)
	ratio := 0.0
	if totalNodes > 0 {
		ratio = float64(changedNodes) / float64(totalNodes)
	}
	diff.Summary = DiffSummary{
		TotalChanges: changedNodes + len(diff.UsesAdded) + len(diff.UsesRemoved) +
			diff.DefinesAdded + diff.DefinesRemoved,
		FilesAffected: len(affectedFiles),
		ChangeRatio:   ratio,
	}
	return diff, nil
}

// classifyChange returns the kind of change between two versions of a node,
// or "" if they are equivalent.
func classifyChange(base, target SerializableNode) string {
	switch {
	case base.Kind != target.Kind || base.KindName != target.KindName:
		return "kind_changed"
	case base.FilePath != target.FilePath:
		return "moved"
	case base.Line != target.Line:
		return "line_changed"
	}
	return ""
}

// edgeDelta returns the edges only in target and only in base. Inputs are
// sorted by source, so the outputs are too.
func edgeDelta(base, target []SerializableEdge) (added, removed []SerializableEdge) {
	baseSet := make(map[SerializableEdge]struct{}, len(base))
	for _, e := range base {
		baseSet[e] = struct{}{}
	}
	targetSet := make(map[SerializableEdge]struct{}, len(target))
	for _, e := range target {
		targetSet[e] = struct{}{}
		if _, ok := baseSet[e]; !ok {
			added = append(added, e)
		}
	}
	for _, e := range base {
		if _, ok := targetSet[e]; !ok {
			removed = append(removed, e)
		}
	}
	if added == nil {
		added = []SerializableEdge{}
	}
	if removed == nil {
		removed = []SerializableEdge{}
	}
	return added, removed
}
