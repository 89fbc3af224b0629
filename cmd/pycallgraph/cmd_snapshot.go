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
	"log/slog"

	"github.com/dgraph-io/badger/v4"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/pycallgraph/services/callgraph/graph"
	"github.com/AleutianAI/pycallgraph/services/callgraph/source"
	badgerstore "github.com/AleutianAI/pycallgraph/services/callgraph/storage/badger"
)

// latestID selects the newest snapshot of the current project.
const latestID = "latest"

// defaultListLimit caps snapshot list output.
const defaultListLimit = 20

// snapshotStore is an open snapshot database.
type snapshotStore struct {
	*graph.SnapshotManager
	db     *badger.DB
	logger *slog.Logger
}

// openSnapshots opens the snapshot store named by the config. The caller
// must Close it.
func (a *app) openSnapshots() (*snapshotStore, error) {
	db, err := badgerstore.Open(badgerstore.Config{Dir: a.cfg.Snapshot.Dir, Logger: a.logger})
	if err != nil {
		return nil, err
	}
	mgr, err := graph.NewSnapshotManager(db, a.logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &snapshotStore{SnapshotManager: mgr, db: db, logger: a.logger}, nil
}

func (s *snapshotStore) Close() {
	if err := s.db.Close(); err != nil {
		s.logger.Warn("closing snapshot store failed", slog.String("error", err.Error()))
	}
}

// projectRoot resolves the source root for paths without analyzing them.
func (a *app) projectRoot(f *analyzeFlags, paths []string) (string, error) {
	opts := a.options(f, paths)
	files, err := source.Expand(opts.Paths, source.DiscoverOptions{
		Exclude:         opts.Exclude,
		IncludeStubs:    opts.IncludeStubs,
		IgnoreGitignore: opts.IgnoreGitignore,
	})
	if err != nil {
		return "", err
	}
	_, root, err := source.Resolve(files, opts.Root)
	return root, err
}

// loadSnapshot loads id, or the newest snapshot of the project for "latest".
func (a *app) loadSnapshot(ctx context.Context, mgr *graph.SnapshotManager, f *analyzeFlags, id string, paths []string) (*graph.CallGraph, *graph.SnapshotMetadata, error) {
	if id != latestID {
		return mgr.Load(ctx, id)
	}
	root, err := a.projectRoot(f, paths)
	if err != nil {
		return nil, nil, err
	}
	return mgr.LoadLatest(ctx, root)
}

func (a *app) newSnapshotCmd() *cobra.Command {
	var (
		flags  analyzeFlags
		format string
	)
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Save, list and compare stored call graphs",
		Long: `Manage call graph snapshots kept in the local snapshot store
(snapshot.dir in the config, default .pycallgraph/snapshots).

Commands that take an ID also accept "latest" for the newest snapshot of
the project the paths belong to.`,
	}
	flags.register(cmd.PersistentFlags())
	cmd.PersistentFlags().StringVar(&format, "format", formatText, "output format: text or json")

	var label string
	save := &cobra.Command{
		Use:   "save [paths...]",
		Short: "Analyze and store the call graph",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(format); err != nil {
				return err
			}
			res, err := a.analyze(cmd.Context(), &flags, args)
			if err != nil {
				return err
			}
			store, err := a.openSnapshots()
			if err != nil {
				return err
			}
			defer store.Close()
			l := label
			if l == "" {
				l = res.RunID
			}
			meta, err := store.Save(cmd.Context(), res.Graph, l)
			if err != nil {
				return err
			}
			if format == formatJSON {
				return writeJSON(cmd.OutOrStdout(), meta)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), meta.SnapshotID)
			return err
		},
	}
	save.Flags().StringVar(&label, "label", "", "label stored with the snapshot (default the run ID)")

	var (
		all   bool
		limit int
	)
	list := &cobra.Command{
		Use:   "list [paths...]",
		Short: "List snapshots of the project, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(format); err != nil {
				return err
			}
			var root string
			if !all {
				var err error
				if root, err = a.projectRoot(&flags, args); err != nil {
					return err
				}
			}
			store, err := a.openSnapshots()
			if err != nil {
				return err
			}
			defer store.Close()
			metas, err := store.List(cmd.Context(), root, limit)
			if err != nil {
				return err
			}
			return writeSnapshots(cmd.OutOrStdout(), format, metas)
		},
	}
	list.Flags().BoolVar(&all, "all", false, "list snapshots of every project")
	list.Flags().IntVar(&limit, "limit", defaultListLimit, "maximum results")

	load := &cobra.Command{
		Use:   "load ID [paths...]",
		Short: "Print a stored call graph",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(format); err != nil {
				return err
			}
			store, err := a.openSnapshots()
			if err != nil {
				return err
			}
			defer store.Close()
			g, meta, err := a.loadSnapshot(cmd.Context(), store.SnapshotManager, &flags, args[0], args[1:])
			if err != nil {
				return err
			}
			if format == formatJSON {
				return writeJSON(cmd.OutOrStdout(), graphReport{
					SnapshotID: meta.SnapshotID,
					Root:       meta.ProjectRoot,
					Graph:      g.ToSerializable(),
				})
			}
			return writeGraphText(cmd.OutOrStdout(), g)
		},
	}

	var against string
	diff := &cobra.Command{
		Use:   "diff BASE [paths...]",
		Short: "Compare a snapshot with the current source or another snapshot",
		Long: `Compare snapshot BASE with a fresh analysis of the paths, or with the
snapshot named by --against.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(format); err != nil {
				return err
			}
			store, err := a.openSnapshots()
			if err != nil {
				return err
			}
			defer store.Close()
			base, baseMeta, err := a.loadSnapshot(cmd.Context(), store.SnapshotManager, &flags, args[0], args[1:])
			if err != nil {
				return err
			}

			var (
				target   *graph.CallGraph
				targetID string
			)
			if against != "" {
				g, meta, err := a.loadSnapshot(cmd.Context(), store.SnapshotManager, &flags, against, args[1:])
				if err != nil {
					return err
				}
				target, targetID = g, meta.SnapshotID
			} else {
				res, err := a.analyze(cmd.Context(), &flags, args[1:])
				if err != nil {
					return err
				}
				target, targetID = res.Graph, res.RunID
			}

			d, err := graph.DiffGraphs(base, target, baseMeta.SnapshotID, targetID)
			if err != nil {
				return err
			}
			return writeDiff(cmd.OutOrStdout(), format, d)
		},
	}
	diff.Flags().StringVar(&against, "against", "", "snapshot ID to compare with instead of the current source")

	del := &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a snapshot and reclaim its space",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openSnapshots()
			if err != nil {
				return err
			}
			defer store.Close()
			if err := store.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			if _, err := badgerstore.Compact(store.db, badgerstore.DefaultGCDiscardRatio, a.logger); err != nil {
				a.logger.Warn("snapshot store compaction failed", slog.String("error", err.Error()))
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return err
		},
	}

	cmd.AddCommand(save, list, load, diff, del)
	return cmd
}
