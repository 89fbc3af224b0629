// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package watch re-analyzes a source tree when its Python files change.
//
// FileWatcher turns fsnotify events into debounced, deduplicated batches
// of Change. Session drives an analysis function from those batches and
// reports each new graph together with its Diff against the previous one.
package watch

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Op is the kind of file change.
type Op int

const (
	OpCreate Op = iota
	OpWrite
	OpRemove
	OpRename
)

func (op Op) String() string {
	switch op {
	case OpCreate:
		return "create"
	case OpWrite:
		return "write"
	case OpRemove:
		return "remove"
	case OpRename:
		return "rename"
	default:
		return "unknown"
	}
}

// Change is one file event.
type Change struct {
	Path string
	Op   Op
	Time time.Time
}

// ChangeHandler receives a debounced batch. Each path appears once, with
// its latest event.
type ChangeHandler func(changes []Change)

// FileWatcherOptions configures a FileWatcher.
type FileWatcherOptions struct {
	// Debounce is the quiet period after the last event before a batch is
	// delivered.
	Debounce time.Duration

	// IgnoreDirs are directory base names never watched.
	IgnoreDirs []string

	// IncludeStubs also reports .pyi files.
	IncludeStubs bool

	// BufferSize bounds pending events. Events beyond it are dropped.
	BufferSize int

	Logger *slog.Logger
}

// DefaultFileWatcherOptions returns the defaults.
func DefaultFileWatcherOptions() FileWatcherOptions {
	return FileWatcherOptions{
		Debounce:   500 * time.Millisecond,
		IgnoreDirs: []string{".git", "__pycache__", ".venv", "venv", ".tox", ".mypy_cache", "node_modules", "build", "dist"},
		BufferSize: 1000,
	}
}

// FileWatcher watches a directory tree for Python file changes.
//
// Thread Safety:
//
//	Start and Stop are safe for concurrent use. The handler runs on the
//	watcher's own goroutine, one batch at a time.
type FileWatcher struct {
	root    string
	watcher *fsnotify.Watcher
	handler ChangeHandler
	opts    FileWatcherOptions
	logger  *slog.Logger

	changes  chan Change
	done     chan struct{}
	stopOnce sync.Once

	mu       sync.RWMutex
	watching bool
}

// NewFileWatcher creates a watcher for root. Call Start to begin.
func NewFileWatcher(root string, handler ChangeHandler, opts *FileWatcherOptions) (*FileWatcher, error) {
	if opts == nil {
		defaults := DefaultFileWatcherOptions()
		opts = &defaults
	}
	o := *opts
	if o.Debounce <= 0 {
		o.Debounce = DefaultFileWatcherOptions().Debounce
	}
	if o.BufferSize <= 0 {
		o.BufferSize = DefaultFileWatcherOptions().BufferSize
	}
	logger := o.Logger
	if logger == nil {
		logger = slog.Default()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &FileWatcher{
		root:    root,
		watcher: watcher,
		handler: handler,
		opts:    o,
		logger:  logger,
		changes: make(chan Change, o.BufferSize),
		done:    make(chan struct{}),
	}, nil
}

// Start registers every directory under root and begins delivering
// batches. Calling Start on a running watcher is a no-op.
func (w *FileWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watching {
		return nil
	}

	info, err := os.Stat(w.root)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", w.root)
	}
	if err := w.addRecursive(w.root); err != nil {
		return err
	}
	w.watching = true

	go w.processEvents(ctx)
	go w.debounceLoop(ctx)
	return nil
}

// Stop ends watching. A pending batch is flushed first.
func (w *FileWatcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		_ = w.watcher.Close()

		w.mu.Lock()
		w.watching = false
		w.mu.Unlock()
	})
}

// IsWatching reports whether Start has run and Stop has not.
func (w *FileWatcher) IsWatching() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.watching
}

func (w *FileWatcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && w.ignoredDir(filepath.Base(path)) {
			return filepath.SkipDir
		}
		return w.watcher.Add(path)
	})
}

func (w *FileWatcher) ignoredDir(base string) bool {
	for _, name := range w.opts.IgnoreDirs {
		if base == name {
			return true
		}
	}
	return strings.HasPrefix(base, ".")
}

// relevant reports whether an event path is a Python source file outside
// ignored directories.
func (w *FileWatcher) relevant(path string) bool {
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		return false
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	for _, dir := range parts[:len(parts)-1] {
		if w.ignoredDir(dir) {
			return false
		}
	}
	switch filepath.Ext(path) {
	case ".py":
		return true
	case ".pyi":
		return w.opts.IncludeStubs
	}
	return false
}

func (w *FileWatcher) processEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			// New directories must be watched before files appear in them.
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() && !w.ignoredDir(filepath.Base(event.Name)) {
					if err := w.addRecursive(event.Name); err != nil {
						w.logger.Warn("watching new directory",
							slog.String("dir", event.Name),
							slog.String("error", err.Error()))
					}
					continue
				}
			}
			if !w.relevant(event.Name) {
				continue
			}

			select {
			case w.changes <- Change{Path: event.Name, Op: convertOp(event.Op), Time: time.Now()}:
			default:
				w.logger.Warn("file change buffer full, dropping event", slog.String("path", event.Name))
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("file watcher error", slog.String("error", err.Error()))
		}
	}
}

func convertOp(op fsnotify.Op) Op {
	switch {
	case op.Has(fsnotify.Create):
		return OpCreate
	case op.Has(fsnotify.Write):
		return OpWrite
	case op.Has(fsnotify.Remove):
		return OpRemove
	case op.Has(fsnotify.Rename):
		return OpRename
	default:
		return OpWrite
	}
}

func (w *FileWatcher) debounceLoop(ctx context.Context) {
	var batch []Change
	var timer *time.Timer
	var timerC <-chan time.Time

	flush := func() {
		if len(batch) > 0 {
			if deduped := dedupe(batch); len(deduped) > 0 && w.handler != nil {
				w.handler(deduped)
			}
			batch = nil
		}
		if timer != nil {
			timer.Stop()
			timer = nil
			timerC = nil
		}
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case <-w.done:
			flush()
			return
		case change := <-w.changes:
			batch = append(batch, change)
			if timer == nil {
				timer = time.NewTimer(w.opts.Debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.opts.Debounce)
			}
		case <-timerC:
			flush()
		}
	}
}

// dedupe keeps the last change per path, in first-seen order.
func dedupe(changes []Change) []Change {
	seen := make(map[string]int)
	result := make([]Change, 0, len(changes))
	for _, c := range changes {
		if idx, ok := seen[c.Path]; ok {
			result[idx] = c
			continue
		}
		seen[c.Path] = len(result)
		result = append(result, c)
	}
	return result
}
