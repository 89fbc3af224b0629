// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package export writes a call graph to external stores.
//
// # Targets
//
//   - SQLite: a single database file with nodes, defines and uses tables,
//     suitable for ad hoc SQL over the graph (WriteSQLite, ReadSQLite)
//   - Neo4j: batched UNWIND/MERGE upserts of PyNode nodes and DEFINES/USES
//     relationships (Neo4jLoader)
//
// Both targets export the graph exactly as given, so a filtered graph
// exports only its slice.
package export

import "errors"

var (
	// ErrNilGraph is returned when the graph to export is nil.
	ErrNilGraph = errors.New("graph must not be nil")

	// ErrSchemaMismatch is returned by ReadSQLite for a database written
	// with another schema version.
	ErrSchemaMismatch = errors.New("export schema mismatch")
)
