// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package badger opens the embedded BadgerDB store that holds call graph
// snapshots.
//
// The store is a single directory per project, by default
// .pycallgraph/snapshots under the project root. Tests and one-off runs can
// use an in-memory store instead.
package badger

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"
)

// DefaultGCDiscardRatio is the value log discard ratio used by Compact.
const DefaultGCDiscardRatio = 0.5

// ErrEmptyDir is returned when a persistent store is opened without a path.
var ErrEmptyDir = errors.New("snapshot store directory must not be empty")

// Config holds options for opening a snapshot store.
type Config struct {
	// Dir is the database directory. Ignored when InMemory is set.
	Dir string

	// InMemory keeps all data in RAM. Nothing is written to disk.
	InMemory bool

	// SyncWrites fsyncs every commit. Off by default; snapshots can be
	// regenerated from source.
	SyncWrites bool

	// Logger receives BadgerDB's internal log lines. Nil silences them.
	Logger *slog.Logger
}

// DefaultConfig returns a persistent configuration rooted at dir.
func DefaultConfig(dir string) Config {
	return Config{Dir: dir}
}

// InMemoryConfig returns a configuration for an ephemeral store.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// badgerLogger routes BadgerDB logging through slog. Badger's info output is
// chatty, so it is demoted to debug.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...), slog.String("component", "badger"))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...), slog.String("component", "badger"))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...), slog.String("component", "badger"))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...), slog.String("component", "badger"))
}

// Open opens a snapshot store.
//
// Description:
//
//	Creates the directory (0750) when it does not exist. A snapshot store
//	only ever needs the latest version of each key.
//
// Inputs:
//
//	cfg - Store configuration.
//
// Outputs:
//
//	*badger.DB - The opened database. The caller must Close it.
//	error - ErrEmptyDir, a directory creation error, or an open error.
func Open(cfg Config) (*badger.DB, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Dir == "" {
			return nil, ErrEmptyDir
		}
		if err := os.MkdirAll(cfg.Dir, 0750); err != nil {
			return nil, fmt.Errorf("creating snapshot dir %s: %w", cfg.Dir, err)
		}
		opts = badger.DefaultOptions(cfg.Dir)
	}

	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		if cfg.InMemory {
			return nil, fmt.Errorf("opening in-memory snapshot store: %w", err)
		}
		return nil, fmt.Errorf("opening snapshot store at %s: %w", cfg.Dir, err)
	}
	return db, nil
}

// OpenInMemory opens an ephemeral store with logging disabled.
func OpenInMemory() (*badger.DB, error) {
	return Open(InMemoryConfig())
}

// Compact reclaims value log space after snapshots have been deleted.
//
// Description:
//
//	Runs value log GC until BadgerDB reports nothing left to rewrite. In-memory
//	stores have no value log and return immediately.
//
// Outputs:
//
//	int - Number of GC cycles that rewrote a file.
//	error - Non-nil if GC failed for a reason other than ErrNoRewrite.
func Compact(db *badger.DB, ratio float64, logger *slog.Logger) (int, error) {
	if db == nil {
		return 0, errors.New("badger db must not be nil")
	}
	if db.Opts().InMemory {
		return 0, nil
	}
	if ratio <= 0 || ratio >= 1 {
		ratio = DefaultGCDiscardRatio
	}
	if logger == nil {
		logger = slog.Default()
	}

	cycles := 0
	for {
		err := db.RunValueLogGC(ratio)
		if errors.Is(err, badger.ErrNoRewrite) {
			break
		}
		if err != nil {
			return cycles, fmt.Errorf("value log gc: %w", err)
		}
		cycles++
	}
	logger.Debug("snapshot store compacted", slog.Int("cycles", cycles))
	return cycles, nil
}
