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

	"github.com/spf13/cobra"

	"github.com/AleutianAI/pycallgraph/services/callgraph/analyzer"
	"github.com/AleutianAI/pycallgraph/services/callgraph/watch"
)

func (a *app) newWatchCmd() *cobra.Command {
	var (
		flags    analyzeFlags
		format   string
		snapshot bool
	)
	cmd := &cobra.Command{
		Use:   "watch [dir]",
		Short: "Re-analyze whenever Python files change and print what changed",
		Long: `Analyze dir (default the current directory), then watch it and
re-analyze after every burst of .py changes. Each re-analysis prints the
difference from the previous graph. Runs until interrupted.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(format); err != nil {
				return err
			}
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}

			var store *snapshotStore
			if snapshot {
				var err error
				if store, err = a.openSnapshots(); err != nil {
					return err
				}
				defer store.Close()
			}

			analyze := func(ctx context.Context) (*analyzer.Result, error) {
				return a.analyze(ctx, &flags, []string{dir})
			}
			onUpdate := func(u watch.Update) {
				a.report(cmd, format, u)
				if store != nil && u.Result != nil {
					if _, err := store.Save(cmd.Context(), u.Result.Graph, u.Result.RunID); err != nil {
						a.logger.Warn("saving snapshot failed", slog.String("error", err.Error()))
					}
				}
			}

			session := watch.NewSession(dir, analyze, onUpdate,
				watch.WithDebounce(a.cfg.Watch.Debounce),
				watch.WithIncludeStubs(flags.includeStubs || a.cfg.IncludeStubs),
				watch.WithLogger(a.logger))
			return session.Run(cmd.Context())
		},
	}
	flags.register(cmd.Flags())
	cmd.Flags().StringVar(&format, "format", formatText, "output format: text or json")
	cmd.Flags().BoolVar(&snapshot, "snapshot", false, "store every successful analysis in the snapshot store")
	return cmd
}

// report prints one watch update.
func (a *app) report(cmd *cobra.Command, format string, u watch.Update) {
	w := cmd.OutOrStdout()
	switch {
	case u.Err != nil:
		fmt.Fprintf(cmd.ErrOrStderr(), "analysis failed: %v\n", u.Err)
	case u.Diff == nil:
		if format == formatJSON {
			_ = writeJSON(w, resultReport(u.Result))
			return
		}
		fmt.Fprintf(w, "analyzed %d files: %d nodes, %d uses edges\n",
			len(u.Result.Files), u.Result.Graph.NodeCount(), u.Result.Graph.UsesEdgeCount())
	default:
		_ = writeDiff(w, format, u.Diff)
	}
}
