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
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/AleutianAI/pycallgraph/services/callgraph/graph"
)

// SQLiteSchemaVersion is stored in the meta table and checked on read.
const SQLiteSchemaVersion = "1"

const sqliteDDL = `
CREATE TABLE meta (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

CREATE TABLE nodes (
    qualified_name TEXT PRIMARY KEY,
    kind TEXT NOT NULL,
    parent TEXT,
    file TEXT,
    line INTEGER,
    namespace_package INTEGER NOT NULL DEFAULT 0,
    static_method INTEGER NOT NULL DEFAULT 0,
    decorators INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE defines (
    owner TEXT NOT NULL,
    member TEXT NOT NULL,
    ord INTEGER NOT NULL
);

CREATE TABLE uses (
    user TEXT NOT NULL,
    target TEXT NOT NULL
);
`

const sqliteIndexes = `
CREATE INDEX idx_nodes_kind ON nodes(kind);
CREATE INDEX idx_nodes_parent ON nodes(parent);
CREATE UNIQUE INDEX idx_defines_edge ON defines(owner, member);
CREATE UNIQUE INDEX idx_uses_edge ON uses(user, target);
CREATE INDEX idx_uses_target ON uses(target);
`

// WriteSQLite writes g to a new SQLite database at path, replacing any
// existing file.
//
// Description:
//
//	Tables are created without indexes, filled in one immediate
//	transaction, and indexed afterwards. Nodes, defines and uses come from
//	CallGraph.ToSerializable, so row order is deterministic.
//
// Inputs:
//
//	ctx - Cancels the insert loop between rows.
//	path - Destination file.
//	g - The graph. Must not be nil.
//	logger - Receives progress. Nil means slog.Default().
//
// Outputs:
//
//	error - Non-nil if the file cannot be created or a statement fails.
//	A partially written file may remain on error.
func WriteSQLite(ctx context.Context, path string, g *graph.CallGraph, logger *slog.Logger) (err error) {
	if g == nil {
		return ErrNilGraph
	}
	if logger == nil {
		logger = slog.Default()
	}
	sg := g.ToSerializable()

	ctx, span := startExportSpan(ctx, "sqlite", len(sg.Nodes), len(sg.Defines)+len(sg.Uses))
	defer span.End()
	defer func() {
		if err != nil {
			failSpan(span, err)
		}
	}()

	if rmErr := os.Remove(path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
		return fmt.Errorf("removing %s: %w", path, rmErr)
	}

	conn, err := sqlite.OpenConn(path, sqlite.OpenCreate, sqlite.OpenReadWrite, sqlite.OpenWAL)
	if err != nil {
		return fmt.Errorf("open sqlite: %w", err)
	}
	defer func() { _ = conn.Close() }()

	for _, pragma := range []string{
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA journal_mode = WAL",
	} {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if err := sqlitex.ExecuteScript(conn, sqliteDDL, nil); err != nil {
		return fmt.Errorf("create tables: %w", err)
	}

	endFn, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	err = insertAll(ctx, conn, sg)
	endFn(&err)
	if err != nil {
		return err
	}

	if err := sqlitex.ExecuteScript(conn, sqliteIndexes, nil); err != nil {
		return fmt.Errorf("create indexes: %w", err)
	}

	logger.Info("sqlite export written",
		slog.String("path", path),
		slog.Int("nodes", len(sg.Nodes)),
		slog.Int("defines", len(sg.Defines)),
		slog.Int("uses", len(sg.Uses)))
	return nil
}

func insertAll(ctx context.Context, conn *sqlite.Conn, sg *graph.SerializableGraph) error {
	meta := [][2]string{
		{"schema_version", SQLiteSchemaVersion},
		{"graph_schema_version", sg.SchemaVersion},
		{"project_root", sg.ProjectRoot},
		{"built_at_milli", strconv.FormatInt(sg.BuiltAtMilli, 10)},
		{"graph_hash", sg.GraphHash},
	}
	for _, kv := range meta {
		if err := sqlitex.Execute(conn, `INSERT INTO meta (key, value) VALUES (?, ?)`,
			&sqlitex.ExecOptions{Args: []any{kv[0], kv[1]}}); err != nil {
			return fmt.Errorf("insert meta %s: %w", kv[0], err)
		}
	}
	if err := insertNodes(ctx, conn, sg.Nodes); err != nil {
		return err
	}
	if err := insertDefines(ctx, conn, sg.Defines); err != nil {
		return err
	}
	return insertUses(ctx, conn, sg.Uses)
}

func insertNodes(ctx context.Context, conn *sqlite.Conn, nodes []graph.SerializableNode) error {
	stmt, err := conn.Prepare(`INSERT INTO nodes (qualified_name, kind, parent, file, line, namespace_package, static_method, decorators) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare node insert: %w", err)
	}
	defer func() { _ = stmt.Finalize() }()

	for i, n := range nodes {
		if i%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		stmt.BindText(1, n.QualifiedName)
		stmt.BindText(2, n.KindName)
		bindTextOrNull(stmt, 3, n.Parent)
		bindTextOrNull(stmt, 4, n.FilePath)
		bindIntOrNull(stmt, 5, n.Line)
		stmt.BindBool(6, n.IsNamespacePackage)
		stmt.BindBool(7, n.IsDecoratedStatic)
		stmt.BindInt64(8, int64(n.Decorators))

		if _, err := stmt.Step(); err != nil {
			return fmt.Errorf("insert node %s: %w", n.QualifiedName, err)
		}
		_ = stmt.Reset()
	}
	return nil
}

func insertDefines(ctx context.Context, conn *sqlite.Conn, edges []graph.SerializableEdge) error {
	stmt, err := conn.Prepare(`INSERT INTO defines (owner, member, ord) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare defines insert: %w", err)
	}
	defer func() { _ = stmt.Finalize() }()

	ord, owner := 0, ""
	for i, e := range edges {
		if i%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if e.From != owner {
			ord, owner = 0, e.From
		}
		stmt.BindText(1, e.From)
		stmt.BindText(2, e.To)
		stmt.BindInt64(3, int64(ord))
		ord++

		if _, err := stmt.Step(); err != nil {
			return fmt.Errorf("insert defines %s→%s: %w", e.From, e.To, err)
		}
		_ = stmt.Reset()
	}
	return nil
}

func insertUses(ctx context.Context, conn *sqlite.Conn, edges []graph.SerializableEdge) error {
	stmt, err := conn.Prepare(`INSERT INTO uses (user, target) VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare uses insert: %w", err)
	}
	defer func() { _ = stmt.Finalize() }()

	for i, e := range edges {
		if i%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		stmt.BindText(1, e.From)
		stmt.BindText(2, e.To)

		if _, err := stmt.Step(); err != nil {
			return fmt.Errorf("insert uses %s→%s: %w", e.From, e.To, err)
		}
		_ = stmt.Reset()
	}
	return nil
}

func bindTextOrNull(stmt *sqlite.Stmt, col int, s string) {
	if s == "" {
		stmt.BindNull(col)
		return
	}
	stmt.BindText(col, s)
}

func bindIntOrNull(stmt *sqlite.Stmt, col int, v int) {
	if v == 0 {
		stmt.BindNull(col)
		return
	}
	stmt.BindInt64(col, int64(v))
}

// ReadSQLite loads a graph previously written by WriteSQLite.
//
// Outputs:
//
//	*graph.CallGraph - The reconstructed graph.
//	error - ErrSchemaMismatch for a foreign schema version, or a
//	graph.ErrInvalidSnapshot wrapped error for inconsistent rows.
func ReadSQLite(ctx context.Context, path string) (*graph.CallGraph, error) {
	conn, err := sqlite.OpenConn(path, sqlite.OpenReadOnly)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	defer func() { _ = conn.Close() }()

	meta := make(map[string]string)
	if err := sqlitex.Execute(conn, `SELECT key, value FROM meta`, &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			meta[stmt.ColumnText(0)] = stmt.ColumnText(1)
			return nil
		},
	}); err != nil {
		return nil, fmt.Errorf("read meta: %w", err)
	}
	if v := meta["schema_version"]; v != SQLiteSchemaVersion {
		return nil, fmt.Errorf("%w: got %q, want %q", ErrSchemaMismatch, v, SQLiteSchemaVersion)
	}
	built, _ := strconv.ParseInt(meta["built_at_milli"], 10, 64)

	sg := &graph.SerializableGraph{
		SchemaVersion: meta["graph_schema_version"],
		ProjectRoot:   meta["project_root"],
		BuiltAtMilli:  built,
		GraphHash:     meta["graph_hash"],
	}

	if err := sqlitex.Execute(conn, `SELECT qualified_name, kind, parent, file, line, namespace_package, static_method, decorators FROM nodes ORDER BY qualified_name`, &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			kind, err := graph.ParseKind(stmt.ColumnText(1))
			if err != nil {
				return fmt.Errorf("%w: %v", graph.ErrInvalidSnapshot, err)
			}
			sg.Nodes = append(sg.Nodes, graph.SerializableNode{
				Node: graph.Node{
					QualifiedName:      stmt.ColumnText(0),
					Kind:               kind,
					Parent:             stmt.ColumnText(2),
					FilePath:           stmt.ColumnText(3),
					Line:               stmt.ColumnInt(4),
					IsNamespacePackage: stmt.ColumnInt(5) != 0,
					IsDecoratedStatic:  stmt.ColumnInt(6) != 0,
					Decorators:         graph.DecoratorFlags(stmt.ColumnInt(7)),
				},
				KindName: stmt.ColumnText(1),
			})
			return nil
		},
	}); err != nil {
		return nil, fmt.Errorf("read nodes: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	edges := func(query string, dst *[]graph.SerializableEdge) error {
		return sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				*dst = append(*dst, graph.SerializableEdge{From: stmt.ColumnText(0), To: stmt.ColumnText(1)})
				return nil
			},
		})
	}
	if err := edges(`SELECT owner, member FROM defines ORDER BY owner, ord`, &sg.Defines); err != nil {
		return nil, fmt.Errorf("read defines: %w", err)
	}
	if err := edges(`SELECT user, target FROM uses ORDER BY user, target`, &sg.Uses); err != nil {
		return nil, fmt.Errorf("read uses: %w", err)
	}
	return graph.FromSerializable(sg)
}
