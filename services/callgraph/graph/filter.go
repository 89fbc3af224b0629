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
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/codes"
)

// Filter prunes the graph to the uses-reachability closure of target.
//
// Description:
//
//	With down, every node reachable from target by following uses edges is
//	kept. With up, every node that can reach target is kept. With both, the
//	union is kept. The target itself always survives. Nodes outside the kept
//	set are removed and both edge mappings are reduced to their induced
//	subgraph. With neither flag set the graph is left unchanged.
//
//	The pruned registry and edge maps are computed off to the side and then
//	swapped in under the write lock, so a failed call mutates nothing and
//	concurrent readers observe either the old or the new graph.
//
// Inputs:
//
//	ctx - Context for tracing.
//	target - Qualified name of the node to slice around.
//	down - Keep the forward closure.
//	up - Keep the backward closure.
//
// Outputs:
//
//	error - ErrNodeNotFound (wrapped with target) if target is not registered.
//
// Complexity:
//
//	O(V + E).
//
// Thread Safety:
//
//	Safe for concurrent use. The whole operation holds the write lock.
func (g *CallGraph) Filter(ctx context.Context, target string, down, up bool) error {
	ctx, span := startFilterSpan(ctx, target, down, up)
	defer span.End()
	start := time.Now()

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.nodes[target]; !ok {
		err := fmt.Errorf("filter: %w: %s", ErrNodeNotFound, target)
		span.RecordError(err)
		span.SetStatus(codes.Error, "target not found")
		recordFilterMetrics(ctx, time.Since(start), 0, false)
		return err
	}
	if !down && !up {
		setFilterSpanResult(span, len(g.nodes), 0)
		recordFilterMetrics(ctx, time.Since(start), 0, true)
		return nil
	}

	keep := map[string]struct{}{target: {}}
	if down {
		for name := range g.closureLocked(target, g.uses) {
			keep[name] = struct{}{}
		}
	}
	if up {
		for name := range g.closureLocked(target, g.reverseUsesLocked()) {
			keep[name] = struct{}{}
		}
	}

	nodes := make(map[string]*Node, len(keep))
	for name := range keep {
		nodes[name] = g.nodes[name]
	}
	defines := induce(g.defines, keep)
	uses := induce(g.uses, keep)
	removed := len(g.nodes) - len(nodes)

	g.nodes, g.defines, g.uses = nodes, defines, uses

	setFilterSpanResult(span, len(nodes), removed)
	recordFilterMetrics(ctx, time.Since(start), removed, true)
	return nil
}

// closureLocked returns every node reachable from start over edges,
// including start. Caller must hold the lock.
func (g *CallGraph) closureLocked(start string, edges map[string]*nameSet) map[string]struct{} {
	seen := map[string]struct{}{start: {}}
	stack := []string{start}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		set, ok := edges[cur]
		if !ok {
			continue
		}
		for _, next := range set.order {
			if _, ok := seen[next]; ok {
				continue
			}
			seen[next] = struct{}{}
			stack = append(stack, next)
		}
	}
	return seen
}

// reverseUsesLocked inverts the uses mapping. Caller must hold the lock.
func (g *CallGraph) reverseUsesLocked() map[string]*nameSet {
	rev := make(map[string]*nameSet, len(g.uses))
	for _, from := range sortedKeys(g.uses) {
		for _, to := range g.uses[from].order {
			set, ok := rev[to]
			if !ok {
				set = newNameSet()
				rev[to] = set
			}
			set.add(from)
		}
	}
	return rev
}

// induce drops entries whose key is not kept and strips removed names from
// the surviving value sets. Empty value sets are dropped.
func induce(edges map[string]*nameSet, keep map[string]struct{}) map[string]*nameSet {
	out := make(map[string]*nameSet, len(edges))
	for from, set := range edges {
		if _, ok := keep[from]; !ok {
			continue
		}
		if restricted := set.restrict(keep); restricted.len() > 0 {
			out[from] = restricted
		}
	}
	return out
}
