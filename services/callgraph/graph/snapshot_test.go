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
	"errors"
	"log/slog"
	"os"
	"testing"

	"github.com/dgraph-io/badger/v4"
)

// newTestDB creates an in-memory BadgerDB for testing.
func newTestDB(t *testing.T) *badger.DB {
	t.Helper()
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		t.Fatalf("failed to open in-memory badger: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// newTestSnapshotManager creates a SnapshotManager with in-memory DB.
func newTestSnapshotManager(t *testing.T) *SnapshotManager {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	mgr, err := NewSnapshotManager(newTestDB(t), logger)
	if err != nil {
		t.Fatalf("NewSnapshotManager: %v", err)
	}
	return mgr
}

func TestNewSnapshotManager_NilDB(t *testing.T) {
	if _, err := NewSnapshotManager(nil, slog.Default()); err == nil {
		t.Error("expected error for nil db")
	}
}

func TestSnapshotManager_SaveLoad(t *testing.T) {
	ctx := context.Background()
	mgr := newTestSnapshotManager(t)
	g := buildTestGraph(t)

	meta, err := mgr.Save(ctx, g, "run-1")
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if meta.SnapshotID == "" {
		t.Fatal("empty snapshot ID")
	}
	if meta.NodeCount != 9 || meta.UsesCount != 5 || meta.DefinesCount != 7 {
		t.Errorf("meta counts = %d/%d/%d", meta.NodeCount, meta.DefinesCount, meta.UsesCount)
	}
	if meta.Label != "run-1" {
		t.Errorf("Label = %q", meta.Label)
	}

	loaded, loadedMeta, err := mgr.Load(ctx, meta.SnapshotID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Hash() != g.Hash() {
		t.Error("loaded graph hash differs")
	}
	if loadedMeta.GraphHash != meta.GraphHash {
		t.Error("metadata graph hash differs")
	}
}

func TestSnapshotManager_LoadLatestAndList(t *testing.T) {
	ctx := context.Background()
	mgr := newTestSnapshotManager(t)

	first, err := mgr.Save(ctx, buildTestGraph(t), "first")
	if err != nil {
		t.Fatal(err)
	}
	g := buildTestGraph(t)
	if err := g.Filter(ctx, "pkg.a.f", true, false); err != nil {
		t.Fatal(err)
	}
	second, err := mgr.Save(ctx, g, "second")
	if err != nil {
		t.Fatal(err)
	}

	latest, meta, err := mgr.LoadLatest(ctx, "/test/project")
	if err != nil {
		t.Fatalf("LoadLatest: %v", err)
	}
	if meta.SnapshotID != second.SnapshotID {
		t.Errorf("latest = %s, want %s", meta.SnapshotID, second.SnapshotID)
	}
	if latest.NodeCount() != 4 {
		t.Errorf("latest NodeCount = %d, want 4", latest.NodeCount())
	}

	list, err := mgr.List(ctx, "/test/project", 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("List returned %d entries, want 2", len(list))
	}
	seen := map[string]bool{list[0].SnapshotID: true, list[1].SnapshotID: true}
	if !seen[first.SnapshotID] || !seen[second.SnapshotID] {
		t.Error("List missing a saved snapshot")
	}

	other, err := mgr.List(ctx, "/elsewhere", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(other) != 0 {
		t.Errorf("List for another project returned %d entries", len(other))
	}
}

func TestSnapshotManager_Delete(t *testing.T) {
	ctx := context.Background()
	mgr := newTestSnapshotManager(t)

	meta, err := mgr.Save(ctx, buildTestGraph(t), "")
	if err != nil {
		t.Fatal(err)
	}
	if err := mgr.Delete(ctx, meta.SnapshotID); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	if _, _, err := mgr.Load(ctx, meta.SnapshotID); !errors.Is(err, ErrSnapshotNotFound) {
		t.Errorf("Load after delete err = %v, want ErrSnapshotNotFound", err)
	}
	if _, _, err := mgr.LoadLatest(ctx, "/test/project"); !errors.Is(err, ErrSnapshotNotFound) {
		t.Errorf("LoadLatest after delete err = %v, want ErrSnapshotNotFound", err)
	}
	if err := mgr.Delete(ctx, meta.SnapshotID); !errors.Is(err, ErrSnapshotNotFound) {
		t.Errorf("second Delete err = %v, want ErrSnapshotNotFound", err)
	}
}

func TestSnapshotManager_EmptyID(t *testing.T) {
	mgr := newTestSnapshotManager(t)
	if _, _, err := mgr.Load(context.Background(), ""); err == nil {
		t.Error("Load with empty ID should fail")
	}
	if err := mgr.Delete(context.Background(), ""); err == nil {
		t.Error("Delete with empty ID should fail")
	}
}
