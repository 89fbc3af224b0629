// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/AleutianAI/pycallgraph/services/callgraph/analyzer"
	"github.com/AleutianAI/pycallgraph/services/callgraph/config"
	"github.com/AleutianAI/pycallgraph/services/callgraph/telemetry"
)

// shutdownTimeout bounds the exporter flush after a command finishes.
const shutdownTimeout = 5 * time.Second

// app carries the state shared by every command of one invocation.
type app struct {
	configPath string
	logLevel   string

	stdout io.Writer
	stderr io.Writer

	cfg    *config.Config
	logger *slog.Logger
	tel    *telemetry.Telemetry
}

// execute runs one invocation and returns the process exit code.
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	a := &app{stdout: stdout, stderr: stderr}
	root := a.newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	a.finish(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func (a *app) newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:               "pycallgraph",
		Short:             "Static call graphs for Python source trees",
		Version:           version,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "config file (default "+config.DefaultFileName+" if present)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "info", "log level: debug, info, warn, error")

	root.AddCommand(
		a.newAnalyzeCmd(),
		a.newFilterCmd(),
		a.newQueryCmd(),
		a.newExportCmd(),
		a.newSnapshotCmd(),
		a.newWatchCmd(),
	)
	return root
}

// setup loads configuration and installs logging and telemetry before any
// subcommand runs.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	level, err := parseLevel(a.logLevel)
	if err != nil {
		return err
	}
	a.logger = newLogger(a.stderr, level)
	slog.SetDefault(a.logger)

	cfg, err := config.Load(a.configPath, a.logger)
	if err != nil {
		return err
	}
	a.cfg = cfg

	tel, err := telemetry.Setup(cmd.Context(), telemetry.Config{
		ServiceName:    "pycallgraph",
		ServiceVersion: version,
		TracesStdout:   cfg.Telemetry.TracesStdout,
		TraceWriter:    a.stderr,
	})
	if err != nil {
		return err
	}
	a.tel = tel
	return nil
}

// finish writes the metrics textfile and flushes exporters. It runs even
// when the command failed.
func (a *app) finish(ctx context.Context) {
	if a.tel == nil {
		return
	}
	if path := a.cfg.Telemetry.MetricsTextfile; path != "" {
		if err := a.tel.WriteTextfile(path); err != nil {
			a.logger.Warn("writing metrics textfile failed",
				slog.String("path", path),
				slog.String("error", err.Error()))
		}
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := a.tel.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("telemetry shutdown failed", slog.String("error", err.Error()))
	}
}

// newLogger builds the process logger. A terminal gets the text handler;
// pipes and files get JSON.
func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if isTerminal(w) {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("invalid --log-level %q: want debug, info, warn or error", s)
	}
	return level, nil
}

// analyzeFlags are the source selection flags shared by every command that
// runs an analysis.
type analyzeFlags struct {
	root                 string
	workers              int
	exclude              []string
	includeStubs         bool
	tolerateSyntaxErrors bool
	noGitignore          bool
}

func (f *analyzeFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&f.root, "root", "", "explicit source root; its name prefixes every module")
	fs.IntVar(&f.workers, "workers", 0, "parallel workers (0 = config or GOMAXPROCS)")
	fs.StringSliceVar(&f.exclude, "exclude", nil, "gitignore-style patterns to skip (repeatable)")
	fs.BoolVar(&f.includeStubs, "include-stubs", false, "also analyze .pyi files")
	fs.BoolVar(&f.tolerateSyntaxErrors, "tolerate-syntax-errors", false, "analyze files with syntax errors instead of skipping them")
	fs.BoolVar(&f.noGitignore, "no-gitignore", false, "do not honor .gitignore files")
}

// options merges flags over the loaded configuration. Flags win; exclude
// patterns from both sources apply.
func (a *app) options(f *analyzeFlags, paths []string) analyzer.Options {
	if len(paths) == 0 {
		paths = a.cfg.Include
	}
	if len(paths) == 0 {
		paths = []string{"."}
	}
	root := f.root
	if root == "" {
		root = a.cfg.Root
	}
	workers := f.workers
	if workers == 0 {
		workers = a.cfg.Workers
	}
	return analyzer.Options{
		Paths:                paths,
		Root:                 root,
		Workers:              workers,
		MaxFileSize:          a.cfg.MaxFileSize,
		TolerateSyntaxErrors: f.tolerateSyntaxErrors || a.cfg.TolerateSyntaxErrors,
		Exclude:              append(slices.Clone(a.cfg.Exclude), f.exclude...),
		IncludeStubs:         f.includeStubs || a.cfg.IncludeStubs,
		IgnoreGitignore:      f.noGitignore,
		Builtins:             a.cfg.BuiltinsExtra,
		Logger:               a.logger,
	}
}

// analyze runs the analyzer and logs a one-line summary.
func (a *app) analyze(ctx context.Context, f *analyzeFlags, paths []string) (*analyzer.Result, error) {
	res, err := analyzer.Analyze(ctx, a.options(f, paths))
	if err != nil {
		return nil, err
	}
	a.logger.Info("analysis complete",
		slog.String("run_id", res.RunID),
		slog.String("root", res.Root),
		slog.Int("files", len(res.Files)),
		slog.Int("skipped", len(res.Skipped)),
		slog.Int("nodes", res.Graph.NodeCount()),
		slog.Int("uses", res.Graph.UsesEdgeCount()),
		slog.Duration("duration", res.Duration))
	return res, nil
}
