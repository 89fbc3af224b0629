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
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/pycallgraph/services/callgraph/analyzer"
	"github.com/AleutianAI/pycallgraph/services/callgraph/graph"
)

// AnalyzeFunc produces a fresh analysis of the watched tree.
type AnalyzeFunc func(ctx context.Context) (*analyzer.Result, error)

// Update is delivered after every analysis.
type Update struct {
	// Changes triggered the analysis. Empty for the initial run.
	Changes []Change

	// Result is the new analysis. Nil when Err is set.
	Result *analyzer.Result

	// Diff compares Result against the last successful analysis. Nil for
	// the initial run and on error.
	Diff *graph.Diff

	// Err is the analysis error, if any. The session keeps running.
	Err error
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithDebounce sets the quiet period before re-analysis.
func WithDebounce(d time.Duration) SessionOption {
	return func(s *Session) {
		if d > 0 {
			s.watchOpts.Debounce = d
		}
	}
}

// WithIncludeStubs also reacts to .pyi changes.
func WithIncludeStubs(include bool) SessionOption {
	return func(s *Session) {
		s.watchOpts.IncludeStubs = include
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) SessionOption {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
			s.watchOpts.Logger = logger
		}
	}
}

// Session re-analyzes dir whenever Python files under it change.
type Session struct {
	dir       string
	analyze   AnalyzeFunc
	onUpdate  func(Update)
	watchOpts FileWatcherOptions
	logger    *slog.Logger
}

// NewSession creates a session. onUpdate runs on the Run goroutine.
func NewSession(dir string, analyze AnalyzeFunc, onUpdate func(Update), opts ...SessionOption) *Session {
	s := &Session{
		dir:       dir,
		analyze:   analyze,
		onUpdate:  onUpdate,
		watchOpts: DefaultFileWatcherOptions(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.watchOpts.Logger == nil {
		s.watchOpts.Logger = s.logger
	}
	return s
}

// Run analyzes once, then re-analyzes on every debounced batch of
// changes until ctx is done.
//
// Description:
//
//	The watcher starts before the initial analysis so edits made while it
//	runs are not lost. A failed analysis is reported through onUpdate and
//	the previous graph stays the diff base.
//
// Outputs:
//
//	error - Non-nil only if the watcher cannot start. Returns nil when ctx
//	is done.
func (s *Session) Run(ctx context.Context) error {
	batches := make(chan []Change, 16)
	fw, err := NewFileWatcher(s.dir, func(changes []Change) {
		select {
		case batches <- changes:
		case <-ctx.Done():
		}
	}, &s.watchOpts)
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	if err := fw.Start(ctx); err != nil {
		fw.Stop()
		return fmt.Errorf("watching %s: %w", s.dir, err)
	}
	defer fw.Stop()

	s.logger.Info("watching for changes",
		slog.String("dir", s.dir),
		slog.Duration("debounce", s.watchOpts.Debounce))

	prev := s.step(ctx, nil, nil)
	for {
		select {
		case <-ctx.Done():
			return nil
		case changes := <-batches:
			// Coalesce batches queued while the last analysis ran.
			for drained := false; !drained; {
				select {
				case more := <-batches:
					changes = dedupe(append(changes, more...))
				default:
					drained = true
				}
			}
			if res := s.step(ctx, prev, changes); res != nil {
				prev = res
			}
		}
	}
}

// step runs one analysis and reports it. It returns the new result, or
// nil on failure.
func (s *Session) step(ctx context.Context, prev *analyzer.Result, changes []Change) *analyzer.Result {
	s.logger.Debug("analyzing", slog.Int("changes", len(changes)))
	res, err := s.analyze(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return nil
		}
		s.logger.Warn("re-analysis failed", slog.String("error", err.Error()))
		s.onUpdate(Update{Changes: changes, Err: err})
		return nil
	}

	u := Update{Changes: changes, Result: res}
	if prev != nil {
		diff, err := graph.DiffGraphs(prev.Graph, res.Graph, prev.RunID, res.RunID)
		if err != nil {
			u.Err = err
		} else {
			u.Diff = diff
		}
	}
	s.onUpdate(u)
	return res
}
