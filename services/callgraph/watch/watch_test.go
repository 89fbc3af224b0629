// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package watch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/pycallgraph/services/callgraph/analyzer"
)

const waitFor = 5 * time.Second

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDedupe(t *testing.T) {
	t0 := time.Now()
	got := dedupe([]Change{
		{Path: "a.py", Op: OpCreate, Time: t0},
		{Path: "b.py", Op: OpWrite, Time: t0},
		{Path: "a.py", Op: OpWrite, Time: t0.Add(time.Millisecond)},
	})
	require.Len(t, got, 2)
	assert.Equal(t, "a.py", got[0].Path)
	assert.Equal(t, OpWrite, got[0].Op)
	assert.Equal(t, "b.py", got[1].Path)
}

func TestOp_String(t *testing.T) {
	assert.Equal(t, "create", OpCreate.String())
	assert.Equal(t, "rename", OpRename.String())
	assert.Equal(t, "unknown", Op(42).String())
}

func TestFileWatcher(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "__pycache__"), 0o755))

	batches := make(chan []Change, 8)
	fw, err := NewFileWatcher(dir, func(c []Change) { batches <- c }, &FileWatcherOptions{
		Debounce:   50 * time.Millisecond,
		IgnoreDirs: []string{"__pycache__"},
		Logger:     quietLogger(),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, fw.Start(ctx))
	require.NoError(t, fw.Start(ctx))
	assert.True(t, fw.IsWatching())

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "__pycache__", "m.py"), []byte("x = 1\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "mod.py"), []byte("x = 1\n"), 0o644))

	select {
	case batch := <-batches:
		require.Len(t, batch, 1)
		assert.Equal(t, filepath.Join(dir, "mod.py"), batch[0].Path)
	case <-time.After(waitFor):
		t.Fatal("no change batch delivered")
	}

	fw.Stop()
	fw.Stop()
	assert.False(t, fw.IsWatching())
}

func TestFileWatcher_Relevant(t *testing.T) {
	fw := &FileWatcher{root: "/proj", opts: DefaultFileWatcherOptions()}
	assert.True(t, fw.relevant("/proj/pkg/mod.py"))
	assert.False(t, fw.relevant("/proj/pkg/mod.pyi"))
	assert.False(t, fw.relevant("/proj/.venv/lib/site.py"))
	assert.False(t, fw.relevant("/proj/build/gen.py"))
	assert.False(t, fw.relevant("/proj/README.md"))

	fw.opts.IncludeStubs = true
	assert.True(t, fw.relevant("/proj/pkg/mod.pyi"))
}

func TestSession_Run(t *testing.T) {
	root := t.TempDir()
	pkg := filepath.Join(root, "pkg")
	require.NoError(t, os.MkdirAll(pkg, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(pkg, "__init__.py"), nil, 0o644))
	modPath := filepath.Join(pkg, "mod.py")
	require.NoError(t, os.WriteFile(modPath, []byte("def f():\n    return 1\n"), 0o644))

	analyze := func(ctx context.Context) (*analyzer.Result, error) {
		return analyzer.Analyze(ctx, analyzer.Options{Paths: []string{pkg}, Logger: quietLogger()})
	}
	updates := make(chan Update, 16)
	s := NewSession(pkg, analyze, func(u Update) { updates <- u },
		WithDebounce(50*time.Millisecond), WithLogger(quietLogger()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	select {
	case u := <-updates:
		require.NoError(t, u.Err)
		require.NotNil(t, u.Result)
		assert.Nil(t, u.Diff)
		assert.Empty(t, u.Changes)
		_, ok := u.Result.Graph.GetNode("pkg.mod.f")
		assert.True(t, ok)
	case <-time.After(waitFor):
		t.Fatal("no initial update")
	}

	require.NoError(t, os.WriteFile(modPath, []byte("def f():\n    return g()\n\ndef g():\n    return 1\n"), 0o644))

	deadline := time.After(waitFor)
	for found := false; !found; {
		select {
		case u := <-updates:
			require.NoError(t, u.Err)
			require.NotNil(t, u.Diff)
			assert.NotEmpty(t, u.Changes)
			found = slices.Contains(u.Diff.NodesAdded, "pkg.mod.g")
		case <-deadline:
			t.Fatal("no update with the new function")
		}
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("Run did not return after cancel")
	}
}

func TestSession_AnalyzeError(t *testing.T) {
	dir := t.TempDir()
	boom := errors.New("boom")
	updates := make(chan Update, 4)
	s := NewSession(dir, func(context.Context) (*analyzer.Result, error) { return nil, boom },
		func(u Update) { updates <- u }, WithLogger(quietLogger()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Run(ctx) }()

	select {
	case u := <-updates:
		assert.ErrorIs(t, u.Err, boom)
		assert.Nil(t, u.Result)
	case <-time.After(waitFor):
		t.Fatal("no update")
	}
}

func TestSession_MissingDir(t *testing.T) {
	s := NewSession(filepath.Join(t.TempDir(), "nope"), nil, nil, WithLogger(quietLogger()))
	err := s.Run(context.Background())
	assert.Error(t, err)
}
