// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package query answers navigation questions over a built call graph:
// who uses a node, what it uses, how two nodes connect, and which
// definitions nothing references.
//
// All queries only read the graph and are safe to run concurrently with
// each other. They are not safe to run concurrently with
// CallGraph.Filter on the same graph if consistent answers across several
// calls are needed.
package query

import "errors"

var (
	// ErrNoPath is returned by ShortestPath when to is unreachable from from.
	ErrNoPath = errors.New("no path")

	// ErrNilGraph is returned by New when no graph is supplied.
	ErrNilGraph = errors.New("graph must not be nil")
)
