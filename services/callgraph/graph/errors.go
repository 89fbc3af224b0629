// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package graph provides the call graph model for analyzed Python code.
//
// # Ownership Model
//
// The CallGraph registry owns every Node, keyed by qualified name. Parent
// links, defines edges and uses edges all refer to nodes by name:
//   - Exactly one Node exists per qualified name
//   - Nodes MUST NOT be mutated after being added via AddNode()
//   - External placeholders are created through GetOrCreateExternal()
//
// # Thread Safety
//
// CallGraph is safe for concurrent use. Construction (AddNode, AddDefines,
// AddUses, GetOrCreateExternal) may run from multiple goroutines; queries
// take a read lock. Filter builds the pruned maps off to the side and swaps
// them in under the write lock, so readers never see a partial result.
//
// # Lifecycle
//
// A typical graph lifecycle:
//  1. Create with NewCallGraph(projectRoot)
//  2. Register package, module and definition nodes with AddNode()
//  3. Record structure with AddDefines() and references with AddUses()
//  4. Query with GetNode(), DefinesOf(), UsesOf(), AllNodes()
//  5. Optionally slice with Filter()
package graph

import "errors"

// Sentinel errors for graph operations.
var (
	// ErrNodeNotFound is returned when a qualified name is not registered.
	// Filter returns it (wrapped with the missing name) for unknown targets.
	ErrNodeNotFound = errors.New("node not found")

	// ErrInvalidNode is returned when attempting to add a nil node, a node
	// with an empty qualified name, or a node of unknown kind.
	ErrInvalidNode = errors.New("invalid node")

	// ErrInvalidSnapshot is returned when a serialized graph cannot be
	// reconstructed (wrong schema version, dangling edge, bad kind).
	ErrInvalidSnapshot = errors.New("invalid snapshot")

	// ErrSnapshotNotFound is returned when a snapshot ID has no stored data.
	ErrSnapshotNotFound = errors.New("snapshot not found")
)
