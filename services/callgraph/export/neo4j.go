// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package export

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/AleutianAI/pycallgraph/services/callgraph/graph"
)

// DefaultNeo4jBatchSize is the number of rows per UNWIND statement.
const DefaultNeo4jBatchSize = 5000

// kindLabels maps node kinds to the secondary label set on PyNode.
var kindLabels = map[graph.Kind]string{
	graph.KindPackage:   "PyPackage",
	graph.KindModule:    "PyModule",
	graph.KindClass:     "PyClass",
	graph.KindFunction:  "PyFunction",
	graph.KindMethod:    "PyMethod",
	graph.KindAttribute: "PyAttribute",
	graph.KindExternal:  "PyExternal",
}

// Neo4jConfig holds connection settings.
type Neo4jConfig struct {
	URI      string
	User     string
	Password string

	// Database selects a database. Empty uses the server default.
	Database string

	// BatchSize caps rows per statement. Zero means DefaultNeo4jBatchSize.
	BatchSize int

	// Clean deletes previously loaded PyNode data before loading.
	Clean bool
}

// cypherRunner executes one statement.
type cypherRunner func(ctx context.Context, cypher string, params map[string]any) error

// statement is one Cypher query with parameters.
type statement struct {
	cypher string
	params map[string]any
}

// Neo4jLoader loads call graphs into Neo4j using batched UNWIND queries.
//
// Thread Safety:
//
//	Load may be called concurrently; the driver pools sessions.
type Neo4jLoader struct {
	driver neo4j.DriverWithContext
	cfg    Neo4jConfig
	run    cypherRunner
	logger *slog.Logger
}

// NewNeo4jLoader connects to Neo4j and verifies connectivity.
func NewNeo4jLoader(ctx context.Context, cfg Neo4jConfig, logger *slog.Logger) (*Neo4jLoader, error) {
	if logger == nil {
		logger = slog.Default()
	}
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.User, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("neo4j connectivity: %w", err)
	}

	l := &Neo4jLoader{driver: driver, cfg: cfg, logger: logger}
	l.run = func(ctx context.Context, cypher string, params map[string]any) error {
		opts := []neo4j.ExecuteQueryConfigurationOption{}
		if cfg.Database != "" {
			opts = append(opts, neo4j.ExecuteQueryWithDatabase(cfg.Database))
		}
		_, err := neo4j.ExecuteQuery(ctx, driver, cypher, params, neo4j.EagerResultTransformer, opts...)
		return err
	}
	return l, nil
}

// Close releases the driver.
func (l *Neo4jLoader) Close(ctx context.Context) error {
	if l.driver == nil {
		return nil
	}
	return l.driver.Close(ctx)
}

// Load upserts every node and edge of g.
//
// Description:
//
//	Creates indexes, optionally cleans old data, then MERGEs PyNode nodes
//	keyed by qualified_name (with a per-kind secondary label) followed by
//	DEFINES and USES relationships. Reloading the same graph is
//	idempotent.
//
// Outputs:
//
//	error - The first failing statement, wrapped with its position.
func (l *Neo4jLoader) Load(ctx context.Context, g *graph.CallGraph) (err error) {
	if g == nil {
		return ErrNilGraph
	}
	sg := g.ToSerializable()

	ctx, span := startExportSpan(ctx, "neo4j", len(sg.Nodes), len(sg.Defines)+len(sg.Uses))
	defer span.End()

	stmts := buildStatements(sg, l.cfg.BatchSize, l.cfg.Clean)
	l.logger.Info("loading graph into neo4j",
		slog.Int("nodes", len(sg.Nodes)),
		slog.Int("defines", len(sg.Defines)),
		slog.Int("uses", len(sg.Uses)),
		slog.Int("statements", len(stmts)))

	for i, st := range stmts {
		if err := ctx.Err(); err != nil {
			return failSpan(span, err)
		}
		if err := l.run(ctx, st.cypher, st.params); err != nil {
			return failSpan(span, fmt.Errorf("neo4j statement %d/%d: %w", i+1, len(stmts), err))
		}
	}
	return nil
}

// buildStatements renders the full load as an ordered statement list.
func buildStatements(sg *graph.SerializableGraph, batchSize int, clean bool) []statement {
	if batchSize <= 0 {
		batchSize = DefaultNeo4jBatchSize
	}

	var stmts []statement
	if clean {
		stmts = append(stmts,
			statement{cypher: "MATCH (n:PyNode) DETACH DELETE n"},
		)
	}
	stmts = append(stmts,
		statement{cypher: "CREATE CONSTRAINT py_node_name IF NOT EXISTS FOR (n:PyNode) REQUIRE n.qualified_name IS UNIQUE"},
		statement{cypher: "CREATE INDEX py_node_kind IF NOT EXISTS FOR (n:PyNode) ON (n.kind)"},
	)

	// Labels cannot be parameters, so nodes are grouped per kind.
	byKind := make(map[graph.Kind][]map[string]any)
	var kinds []graph.Kind
	for _, n := range sg.Nodes {
		if _, ok := byKind[n.Kind]; !ok {
			kinds = append(kinds, n.Kind)
		}
		byKind[n.Kind] = append(byKind[n.Kind], map[string]any{
			"name":      n.QualifiedName,
			"short":     n.Name(),
			"kind":      n.KindName,
			"parent":    n.Parent,
			"file":      n.FilePath,
			"line":      n.Line,
			"namespace": n.IsNamespacePackage,
			"static":    n.IsDecoratedStatic,
		})
	}
	slices.Sort(kinds)
	for _, kind := range kinds {
		cypher := fmt.Sprintf(`UNWIND $batch AS row
		 MERGE (n:PyNode {qualified_name: row.name})
		 SET n:%s, n.name = row.short, n.kind = row.kind, n.parent = row.parent,
		     n.file = row.file, n.line = row.line,
		     n.is_namespace_package = row.namespace, n.is_decorated_static = row.static`, kindLabels[kind])
		stmts = appendBatches(stmts, cypher, byKind[kind], batchSize)
	}

	stmts = appendBatches(stmts, `UNWIND $batch AS row
		 MATCH (a:PyNode {qualified_name: row.from}), (b:PyNode {qualified_name: row.to})
		 MERGE (a)-[:DEFINES]->(b)`, edgeRows(sg.Defines), batchSize)
	stmts = appendBatches(stmts, `UNWIND $batch AS row
		 MATCH (a:PyNode {qualified_name: row.from}), (b:PyNode {qualified_name: row.to})
		 MERGE (a)-[:USES]->(b)`, edgeRows(sg.Uses), batchSize)
	return stmts
}

func edgeRows(edges []graph.SerializableEdge) []map[string]any {
	rows := make([]map[string]any, 0, len(edges))
	for _, e := range edges {
		rows = append(rows, map[string]any{"from": e.From, "to": e.To})
	}
	return rows
}

func appendBatches(stmts []statement, cypher string, rows []map[string]any, size int) []statement {
	for start := 0; start < len(rows); start += size {
		end := min(start+size, len(rows))
		stmts = append(stmts, statement{
			cypher: cypher,
			params: map[string]any{"batch": rows[start:end]},
		})
	}
	return stmts
}
