// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package analyzer runs the full call graph pipeline over a set of Python
// files.
//
// # Pipeline
//
//  1. source.Resolve assigns module names and fixes the root
//  2. namespace.Build registers packages and modules
//  3. Phase A parses and visits every file concurrently
//  4. Definition nodes and defines edges merge in file order
//  5. index.Build assembles the global symbol table
//  6. Phase B resolves every file's references concurrently
//
// Files that cannot be read or parsed are logged, counted in
// Result.Skipped, and left out; the rest of the run continues.
package analyzer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/pycallgraph/services/callgraph/ast"
	"github.com/AleutianAI/pycallgraph/services/callgraph/graph"
	"github.com/AleutianAI/pycallgraph/services/callgraph/index"
	"github.com/AleutianAI/pycallgraph/services/callgraph/namespace"
	"github.com/AleutianAI/pycallgraph/services/callgraph/resolve"
	"github.com/AleutianAI/pycallgraph/services/callgraph/scope"
	"github.com/AleutianAI/pycallgraph/services/callgraph/source"
)

// MaxSuggestions is how many "did you mean" names a failed filter offers.
const MaxSuggestions = 3

// Options configures a run.
type Options struct {
	// Paths are files or directories. Directories are expanded with
	// source.Expand.
	Paths []string

	// Root is an explicit source root. Empty to infer.
	Root string

	// Workers bounds Phase A and Phase B concurrency. Zero means
	// runtime.GOMAXPROCS(0).
	Workers int

	// MaxFileSize is the per-file parse limit in bytes. Zero means
	// ast.DefaultMaxFileSize.
	MaxFileSize int64

	// TolerateSyntaxErrors analyzes error-recovered trees instead of
	// skipping files with syntax errors.
	TolerateSyntaxErrors bool

	// Exclude holds gitignore-style patterns applied during directory
	// expansion.
	Exclude []string

	// IncludeStubs also analyzes .pyi files found in directories.
	IncludeStubs bool

	// IgnoreGitignore disables .gitignore handling during expansion.
	IgnoreGitignore bool

	// Builtins are extra names treated as builtins.
	Builtins []string

	// Logger receives diagnostics. Nil means slog.Default().
	Logger *slog.Logger
}

// SkippedFile is a file left out of the graph.
type SkippedFile struct {
	Path string
	Err  error
}

// Result is the outcome of a run.
type Result struct {
	// RunID identifies the run in logs, spans and snapshot labels.
	RunID string

	// Root is the absolute source root.
	Root string

	// Graph is the call graph.
	Graph *graph.CallGraph

	// Symbols is the global symbol table, kept for search.
	Symbols *index.SymbolTable

	// Files are the analyzed files, sorted.
	Files []source.File

	// Skipped are files that could not be read or parsed.
	Skipped []SkippedFile

	// Refs, Resolved and Externals sum the per-file resolver counts.
	Refs      int
	Resolved  int
	Externals int

	// Duration is the wall time of the run.
	Duration time.Duration
}

// Analyze builds the call graph for opts.Paths.
//
// Description:
//
//	Runs the full pipeline. Only a source set problem (no files, a file
//	outside an explicit root) or cancellation fails the run; per-file
//	read and parse errors only skip the file.
//
// Inputs:
//
//	ctx - Cancels the run as a whole.
//	opts - Run configuration.
//
// Outputs:
//
//	*Result - The graph and run statistics.
//	error - source.ErrNoFiles, source.ErrOutsideRoot (wrapped), a context
//	error, or an internal graph error.
//
// Thread Safety:
//
//	Safe to call concurrently; runs share nothing.
func Analyze(ctx context.Context, opts Options) (*Result, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	runID := uuid.NewString()
	logger = logger.With(slog.String("run_id", runID))
	ctx, span := startAnalyzeSpan(ctx, runID, len(opts.Paths))
	defer span.End()
	start := time.Now()

	fail := func(err error) (*Result, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	paths, err := source.Expand(opts.Paths, source.DiscoverOptions{
		Exclude:         opts.Exclude,
		IncludeStubs:    opts.IncludeStubs,
		IgnoreGitignore: opts.IgnoreGitignore,
	})
	if err != nil {
		return fail(fmt.Errorf("expanding inputs: %w", err))
	}
	files, root, err := source.Resolve(paths, opts.Root)
	if err != nil {
		return fail(err)
	}
	var rootPrefix string
	if opts.Root != "" {
		rootPrefix = filepath.Base(root)
	}
	logger.Info("analysis started",
		slog.String("root", root),
		slog.Int("files", len(files)),
		slog.Int("workers", workers))

	g := graph.NewCallGraph(root)
	tree, err := namespace.Build(files, g)
	if err != nil {
		return fail(err)
	}

	res := &Result{RunID: runID, Root: root, Graph: g}

	// Phase A
	phaseStart := time.Now()
	parser := ast.NewParser(
		ast.WithMaxFileSize(opts.MaxFileSize),
		ast.WithTolerateSyntaxErrors(opts.TolerateSyntaxErrors),
		ast.WithLogger(logger),
	)
	visited := make([]*scope.FileResult, len(files))
	var mu sync.Mutex

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(workers)
	for i, f := range files {
		eg.Go(func() error {
			fr, err := visitFile(egCtx, parser, f)
			if err != nil {
				if ctxErr := egCtx.Err(); ctxErr != nil {
					return ctxErr
				}
				logger.Warn("skipping file",
					slog.String("file", f.Path),
					slog.String("error", err.Error()))
				filesSkipped.WithLabelValues(skipReason(err)).Inc()
				mu.Lock()
				res.Skipped = append(res.Skipped, SkippedFile{Path: f.Path, Err: err})
				mu.Unlock()
				return nil
			}
			filesAnalyzed.Inc()
			visited[i] = fr
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return fail(fmt.Errorf("phase A: %w", err))
	}
	runDuration.WithLabelValues("visit").Observe(time.Since(phaseStart).Seconds())

	// Barrier: merge in file order so defines order is deterministic.
	var results []*scope.FileResult
	for i, fr := range visited {
		if fr == nil {
			continue
		}
		results = append(results, fr)
		res.Files = append(res.Files, files[i])
	}
	if err := merge(g, results, logger); err != nil {
		return fail(err)
	}
	sortSkipped(res.Skipped)

	st := index.Build(g, tree, results, rootPrefix)
	res.Symbols = st

	// Phase B
	phaseStart = time.Now()
	resolver := resolve.New(st, resolve.WithLogger(logger), resolve.WithBuiltins(opts.Builtins...))
	stats := make([]resolve.FileStats, len(results))

	eg, egCtx = errgroup.WithContext(ctx)
	eg.SetLimit(workers)
	for i, fr := range results {
		eg.Go(func() error {
			s, err := resolver.ResolveFile(egCtx, fr)
			if err != nil {
				return err
			}
			stats[i] = s
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return fail(fmt.Errorf("phase B: %w", err))
	}
	runDuration.WithLabelValues("resolve").Observe(time.Since(phaseStart).Seconds())

	for _, s := range stats {
		res.Refs += s.Refs
		res.Resolved += s.Resolved
		res.Externals += s.ExternalsCreated
	}
	externalsTotal.Add(float64(res.Externals))
	res.Duration = time.Since(start)

	setAnalyzeSpanResult(span, res)
	logger.Info("analysis finished",
		slog.Int("files", len(res.Files)),
		slog.Int("skipped", len(res.Skipped)),
		slog.Int("nodes", g.NodeCount()),
		slog.Int("uses_edges", g.UsesEdgeCount()),
		slog.Int("externals", res.Externals),
		slog.Duration("duration", res.Duration))
	return res, nil
}

func visitFile(ctx context.Context, parser *ast.Parser, f source.File) (*scope.FileResult, error) {
	content, err := os.ReadFile(f.AbsPath)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", f.Path, err)
	}
	tree, err := parser.Parse(ctx, content, f.Path)
	if err != nil {
		return nil, err
	}
	defer tree.Close()
	return scope.Visit(ctx, tree, f)
}

// merge registers definition nodes, then defines edges, file by file.
func merge(g *graph.CallGraph, results []*scope.FileResult, logger *slog.Logger) error {
	for _, fr := range results {
		for _, n := range fr.Nodes {
			existing, added, err := g.AddNode(n)
			if err != nil {
				return fmt.Errorf("registering %s: %w", n.QualifiedName, err)
			}
			if !added && existing.Kind != n.Kind {
				logger.Debug("name already defined with another kind",
					slog.String("name", n.QualifiedName),
					slog.String("kept", existing.Kind.String()),
					slog.String("ignored", n.Kind.String()),
					slog.String("file", fr.File.Path))
			}
		}
	}
	for _, fr := range results {
		for _, e := range fr.Defines {
			if err := g.AddDefines(e.From, e.To); err != nil {
				return fmt.Errorf("linking %s: %w", e.To, err)
			}
		}
	}
	return nil
}

func skipReason(err error) string {
	switch {
	case errors.Is(err, ast.ErrFileTooLarge):
		return "too_large"
	case errors.Is(err, ast.ErrInvalidContent):
		return "invalid_content"
	case errors.Is(err, ast.ErrSyntax):
		return "syntax"
	case errors.Is(err, os.ErrNotExist), errors.Is(err, os.ErrPermission):
		return "unreadable"
	default:
		return "parse_failed"
	}
}

func sortSkipped(skipped []SkippedFile) {
	sort.Slice(skipped, func(i, j int) bool { return skipped[i].Path < skipped[j].Path })
}

// Filter slices the result's graph to the closure of target.
//
// Description:
//
//	Delegates to CallGraph.Filter. When target is unknown, the returned
//	error still wraps graph.ErrNodeNotFound and lists up to
//	MaxSuggestions similar names.
func (r *Result) Filter(ctx context.Context, target string, down, up bool) error {
	err := r.Graph.Filter(ctx, target, down, up)
	if err == nil || !errors.Is(err, graph.ErrNodeNotFound) || r.Symbols == nil {
		return err
	}
	if suggestions := r.Symbols.Suggest(ctx, target, MaxSuggestions); len(suggestions) > 0 {
		return fmt.Errorf("%w (did you mean %s?)", err, strings.Join(suggestions, ", "))
	}
	return err
}
