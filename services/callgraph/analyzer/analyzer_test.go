// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package analyzer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/pycallgraph/services/callgraph/graph"
	"github.com/AleutianAI/pycallgraph/services/callgraph/source"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func analyzeFixture(t *testing.T, opts Options) *Result {
	t.Helper()
	if opts.Paths == nil {
		opts.Paths = []string{filepath.Join("testdata", "test_code")}
	}
	opts.Logger = quietLogger()
	res, err := Analyze(context.Background(), opts)
	require.NoError(t, err)
	return res
}

func names(nodes []*graph.Node) []string {
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.QualifiedName)
	}
	return out
}

func TestAnalyze_Fixture(t *testing.T) {
	res := analyzeFixture(t, Options{})
	g := res.Graph

	assert.NotEmpty(t, res.RunID)
	assert.Len(t, res.Files, 8)
	assert.Empty(t, res.Skipped)

	t.Run("module imports", func(t *testing.T) {
		assert.Equal(t, []string{"test_code.submodule1"}, names(g.UsesOf("test_code.submodule2")))

		uses := names(g.UsesOf("test_code.submodule1"))
		assert.Contains(t, uses, "test_code.subpackage1.submodule1.A")
		assert.Contains(t, uses, "test_code.subpackage1")

		assert.Contains(t, names(g.UsesOf("test_code.submodule3")), "test_code.subpackage2.submodule_hidden1")
		assert.Contains(t, names(g.UsesOf("test_code.subpackage1.submodule1")), "test_code.submodule2.test_2")
	})

	t.Run("function references", func(t *testing.T) {
		assert.Contains(t, names(g.UsesOf("test_code.subpackage1.submodule1.A.__init__")), "test_code.submodule2.test_2")

		uses := names(g.UsesOf("test_code.submodule2.test_2"))
		assert.Contains(t, uses, "test_code.submodule1.test_func1")
		assert.Contains(t, uses, "test_code.submodule1.test_func2")

		uses = names(g.UsesOf("test_code.submodule3.test_3"))
		assert.Contains(t, uses, "test_code.subpackage2.submodule_hidden1.test_func1")
		assert.Contains(t, uses, "test_code.subpackage1.enum.EnumType.ENUM_1")
		assert.Contains(t, uses, "test_code.subpackage1.submodule1.A2.STATIC_VAL")
	})

	t.Run("namespace package", func(t *testing.T) {
		pkg, ok := g.GetNode("test_code.subpackage2")
		require.True(t, ok)
		assert.Equal(t, graph.KindPackage, pkg.Kind)
		assert.True(t, pkg.IsNamespacePackage)
		assert.Contains(t, names(g.DefinesOf("test_code.subpackage2.submodule_hidden1")),
			"test_code.subpackage2.submodule_hidden1.test_func1")
	})

	t.Run("class body and decorators", func(t *testing.T) {
		uses := names(g.UsesOf("test_code.subpackage1.submodule1.A"))
		assert.NotEmpty(t, uses)
		for _, u := range uses {
			assert.NotContains(t, u, "staticmethod")
		}

		build, ok := g.GetNode("test_code.subpackage1.submodule1.A.build")
		require.True(t, ok)
		assert.Equal(t, graph.KindMethod, build.Kind)
		assert.True(t, build.IsDecoratedStatic)
		_, ok = g.GetNode("staticmethod")
		assert.False(t, ok)
	})

	t.Run("stdlib base is external", func(t *testing.T) {
		n, ok := g.GetNode("enum.Enum")
		require.True(t, ok)
		assert.Equal(t, graph.KindExternal, n.Kind)
		assert.Contains(t, names(g.UsesOf("test_code.subpackage1.enum.EnumType")), "enum.Enum")
	})

	t.Run("every edge endpoint is registered", func(t *testing.T) {
		for _, n := range g.AllNodes() {
			for _, m := range g.UsesOf(n.QualifiedName) {
				_, ok := g.GetNode(m.QualifiedName)
				assert.True(t, ok, "%s -> %s", n.QualifiedName, m.QualifiedName)
			}
		}
	})
}

func TestAnalyze_ExplicitRoot(t *testing.T) {
	res := analyzeFixture(t, Options{Root: "testdata"})
	g := res.Graph

	assert.Equal(t, []string{"testdata.test_code.submodule1"}, names(g.UsesOf("testdata.test_code.submodule2")))
	assert.Contains(t, names(g.UsesOf("testdata.test_code.submodule2.test_2")), "testdata.test_code.submodule1.test_func1")
	_, ok := g.GetNode("test_code.submodule1")
	assert.False(t, ok)
}

func TestAnalyze_Deterministic(t *testing.T) {
	a := analyzeFixture(t, Options{Workers: 1})
	b := analyzeFixture(t, Options{Workers: 8})
	assert.Equal(t, a.Graph.Hash(), b.Graph.Hash())
}

func TestAnalyze_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run("no inputs", func(t *testing.T) {
		_, err := Analyze(ctx, Options{Logger: quietLogger()})
		assert.ErrorIs(t, err, source.ErrNoFiles)
	})

	t.Run("file outside root", func(t *testing.T) {
		_, err := Analyze(ctx, Options{
			Paths:  []string{filepath.Join("testdata", "test_code", "submodule1.py")},
			Root:   filepath.Join("testdata", "test_code", "subpackage1"),
			Logger: quietLogger(),
		})
		assert.ErrorIs(t, err, source.ErrOutsideRoot)
	})

	t.Run("canceled", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := Analyze(cctx, Options{
			Paths:  []string{filepath.Join("testdata", "test_code")},
			Logger: quietLogger(),
		})
		assert.True(t, errors.Is(err, context.Canceled))
	})
}

func TestAnalyze_SkipsBrokenFiles(t *testing.T) {
	dir := t.TempDir()
	pkg := filepath.Join(dir, "pkg")
	require.NoError(t, os.MkdirAll(pkg, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(pkg, "__init__.py"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(pkg, "good.py"), []byte("def f():\n    return g()\n\ndef g():\n    return 1\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(pkg, "bad.py"), []byte("def broken(:\n    pass\n"), 0o644))

	res, err := Analyze(context.Background(), Options{Paths: []string{pkg}, Logger: quietLogger()})
	require.NoError(t, err)

	require.Len(t, res.Skipped, 1)
	assert.Equal(t, "bad.py", filepath.Base(res.Skipped[0].Path))
	assert.Len(t, res.Files, 2)
	assert.Equal(t, []string{"pkg.good.g"}, names(res.Graph.UsesOf("pkg.good.f")))
	_, ok := res.Graph.GetNode("pkg.bad")
	assert.True(t, ok, "module node comes from the namespace pass")
	assert.Empty(t, res.Graph.DefinesOf("pkg.bad"))

	t.Run("tolerated", func(t *testing.T) {
		res, err := Analyze(context.Background(), Options{
			Paths:                []string{pkg},
			TolerateSyntaxErrors: true,
			Logger:               quietLogger(),
		})
		require.NoError(t, err)
		assert.Empty(t, res.Skipped)
		assert.Len(t, res.Files, 3)
	})
}

func TestResult_Filter(t *testing.T) {
	ctx := context.Background()

	t.Run("down", func(t *testing.T) {
		res := analyzeFixture(t, Options{})
		require.NoError(t, res.Filter(ctx, "test_code.subpackage1.submodule1.A.__init__", true, false))
		assert.Contains(t, names(res.Graph.UsesOf("test_code.submodule2.test_2")), "test_code.submodule1.test_func1")
		_, ok := res.Graph.GetNode("test_code.submodule3.test_3")
		assert.False(t, ok)
	})

	t.Run("up", func(t *testing.T) {
		res := analyzeFixture(t, Options{})
		require.NoError(t, res.Filter(ctx, "test_code.submodule2.test_2", false, true))
		assert.Contains(t, names(res.Graph.UsesOf("test_code.subpackage1.submodule1.A.__init__")), "test_code.submodule2.test_2")
		_, ok := res.Graph.GetNode("test_code.submodule1.test_func1")
		assert.False(t, ok)
	})

	t.Run("suggestions follow the filtered graph", func(t *testing.T) {
		res := analyzeFixture(t, Options{})
		require.NoError(t, res.Filter(ctx, "test_code.subpackage1.submodule1.A.__init__", true, false))

		assert.Empty(t, res.Symbols.ByName("test_3"))
		assert.Equal(t, []string{"test_code.submodule1.test_func1"}, res.Symbols.ByName("test_func1"))

		err := res.Filter(ctx, "test_code.submodule3.test_3", true, false)
		require.ErrorIs(t, err, graph.ErrNodeNotFound)
		_, suggestions, _ := strings.Cut(err.Error(), "did you mean")
		assert.NotContains(t, suggestions, "submodule3")
		assert.NotContains(t, suggestions, "submodule_hidden1")
	})

	t.Run("unknown target suggests names", func(t *testing.T) {
		res := analyzeFixture(t, Options{})
		before := res.Graph.NodeCount()
		err := res.Filter(ctx, "test_code.submodule2.test_3", true, false)
		require.ErrorIs(t, err, graph.ErrNodeNotFound)
		assert.Contains(t, err.Error(), "did you mean")
		assert.Contains(t, err.Error(), "test_code.submodule3.test_3")
		assert.Equal(t, before, res.Graph.NodeCount())
	})
}
