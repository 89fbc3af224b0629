// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package badger

import (
	"context"
	"go/parser"
	"go/token"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/pycallgraph/services/callgraph/graph"
)

func TestOpenInMemory(t *testing.T) {
	db, err := OpenInMemory()
	require.NoError(t, err)
	defer db.Close()

	err = db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte("key"), []byte("value"))
	})
	require.NoError(t, err)

	err = db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte("key"))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			assert.Equal(t, []byte("value"), val)
			return nil
		})
	})
	require.NoError(t, err)

	cycles, err := Compact(db, 0, nil)
	require.NoError(t, err)
	assert.Zero(t, cycles)
}

func TestPackageDoc_ExcludesLicense(t *testing.T) {
	f, err := parser.ParseFile(token.NewFileSet(), "badger.go", nil, parser.ParseComments|parser.PackageClauseOnly)
	require.NoError(t, err)
	require.NotNil(t, f.Doc)
	assert.NotContains(t, f.Doc.Text(), "Affero")
}

func TestOpen_EmptyDir(t *testing.T) {
	_, err := Open(Config{})
	assert.ErrorIs(t, err, ErrEmptyDir)
}

func TestCompact_NilDB(t *testing.T) {
	_, err := Compact(nil, DefaultGCDiscardRatio, nil)
	assert.Error(t, err)
}

// TestOpen_SnapshotsSurviveReopen stores a graph snapshot, closes the store
// and reads it back from a fresh handle on the same directory.
func TestOpen_SnapshotsSurviveReopen(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "nested", "snapshots")
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	g := graph.NewCallGraph("/proj")
	for _, n := range []*graph.Node{
		{QualifiedName: "pkg", Kind: graph.KindPackage},
		{QualifiedName: "pkg.mod", Kind: graph.KindModule, Parent: "pkg", FilePath: "pkg/mod.py"},
		{QualifiedName: "pkg.mod.f", Kind: graph.KindFunction, Parent: "pkg.mod", FilePath: "pkg/mod.py", Line: 1},
	} {
		_, _, err := g.AddNode(n)
		require.NoError(t, err)
	}
	require.NoError(t, g.AddDefines("pkg", "pkg.mod"))
	require.NoError(t, g.AddDefines("pkg.mod", "pkg.mod.f"))
	require.NoError(t, g.AddUses("pkg.mod", "pkg.mod.f"))

	db, err := Open(Config{Dir: dir, Logger: logger})
	require.NoError(t, err)
	mgr, err := graph.NewSnapshotManager(db, logger)
	require.NoError(t, err)
	meta, err := mgr.Save(ctx, g, "first")
	require.NoError(t, err)
	require.NoError(t, db.Close())

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	db, err = Open(DefaultConfig(dir))
	require.NoError(t, err)
	defer db.Close()
	mgr, err = graph.NewSnapshotManager(db, logger)
	require.NoError(t, err)

	loaded, loadedMeta, err := mgr.LoadLatest(ctx, "/proj")
	require.NoError(t, err)
	assert.Equal(t, meta.SnapshotID, loadedMeta.SnapshotID)
	assert.Equal(t, g.Hash(), loaded.Hash())

	require.NoError(t, mgr.Delete(ctx, meta.SnapshotID))
	_, err = Compact(db, DefaultGCDiscardRatio, logger)
	require.NoError(t, err)
}
