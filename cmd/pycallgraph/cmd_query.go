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
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/pycallgraph/services/callgraph/analyzer"
	"github.com/AleutianAI/pycallgraph/services/callgraph/query"
)

// defaultSearchLimit caps query search results.
const defaultSearchLimit = 20

func (a *app) newQueryCmd() *cobra.Command {
	var (
		flags  analyzeFlags
		format string
	)
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Ask questions about the call graph",
	}
	flags.register(cmd.PersistentFlags())
	cmd.PersistentFlags().StringVar(&format, "format", formatText, "output format: text or json")

	// engine analyzes paths and wraps the graph for querying.
	engine := func(cmd *cobra.Command, paths []string) (*analyzer.Result, *query.Engine, error) {
		if err := checkFormat(format); err != nil {
			return nil, nil, err
		}
		res, err := a.analyze(cmd.Context(), &flags, paths)
		if err != nil {
			return nil, nil, err
		}
		e, err := query.New(res.Graph, query.WithLogger(a.logger))
		if err != nil {
			return nil, nil, err
		}
		return res, e, nil
	}

	var depth int
	callers := &cobra.Command{
		Use:   "callers NAME [paths...]",
		Short: "List the nodes that use NAME",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, e, err := engine(cmd, args[1:])
			if err != nil {
				return err
			}
			hops, err := e.Callers(cmd.Context(), args[0], depth)
			if err != nil {
				return suggest(cmd, res, args[0], err)
			}
			return writeHops(cmd.OutOrStdout(), format, hops)
		},
	}
	callers.Flags().IntVar(&depth, "depth", query.DefaultMaxDepth, "maximum hops")

	callees := &cobra.Command{
		Use:   "callees NAME [paths...]",
		Short: "List the nodes NAME uses",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, e, err := engine(cmd, args[1:])
			if err != nil {
				return err
			}
			hops, err := e.Callees(cmd.Context(), args[0], depth)
			if err != nil {
				return suggest(cmd, res, args[0], err)
			}
			return writeHops(cmd.OutOrStdout(), format, hops)
		},
	}
	callees.Flags().IntVar(&depth, "depth", query.DefaultMaxDepth, "maximum hops")

	path := &cobra.Command{
		Use:   "path FROM TO [paths...]",
		Short: "Print the shortest chain of uses edges from FROM to TO",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, e, err := engine(cmd, args[2:])
			if err != nil {
				return err
			}
			nodes, err := e.ShortestPath(cmd.Context(), args[0], args[1])
			if err != nil {
				if _, ok := res.Graph.GetNode(args[0]); !ok {
					return suggest(cmd, res, args[0], err)
				}
				return suggest(cmd, res, args[1], err)
			}
			return writePath(cmd.OutOrStdout(), format, nodes)
		},
	}

	var deadOpts query.DeadCodeOptions
	deadCode := &cobra.Command{
		Use:   "dead-code [paths...]",
		Short: "List functions, methods and classes nothing references",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, e, err := engine(cmd, args)
			if err != nil {
				return err
			}
			dead, err := e.DeadCode(cmd.Context(), deadOpts)
			if err != nil {
				return err
			}
			return writeDead(cmd.OutOrStdout(), format, dead)
		},
	}
	deadCode.Flags().BoolVar(&deadOpts.IncludeExported, "include-exported", false, "also report public module-level definitions")
	deadCode.Flags().BoolVar(&deadOpts.ExcludeTests, "exclude-tests", false, "skip definitions in test files")
	deadCode.Flags().StringVar(&deadOpts.Module, "module", "", "only report names under this qualified prefix")
	deadCode.Flags().IntVar(&deadOpts.Limit, "limit", 0, "maximum results (0 = all)")

	stats := &cobra.Command{
		Use:   "stats [paths...]",
		Short: "Count nodes and edges and list external packages",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, e, err := engine(cmd, args)
			if err != nil {
				return err
			}
			return writeStats(cmd.OutOrStdout(), format, e.Stats(cmd.Context()))
		},
	}

	var limit int
	search := &cobra.Command{
		Use:   "search TEXT [paths...]",
		Short: "Find nodes by name, closest matches first",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, _, err := engine(cmd, args[1:])
			if err != nil {
				return err
			}
			matches, err := res.Symbols.Search(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}
			return writeMatches(cmd.OutOrStdout(), format, matches)
		},
	}
	search.Flags().IntVar(&limit, "limit", defaultSearchLimit, "maximum results")

	cmd.AddCommand(callers, callees, path, deadCode, stats, search)
	return cmd
}

// suggest appends "did you mean" names to an unknown-node error.
func suggest(cmd *cobra.Command, res *analyzer.Result, name string, err error) error {
	if _, ok := res.Graph.GetNode(name); ok {
		return err
	}
	names := res.Symbols.Suggest(cmd.Context(), name, analyzer.MaxSuggestions)
	if len(names) == 0 {
		return err
	}
	return fmt.Errorf("%w (did you mean %s?)", err, strings.Join(names, ", "))
}
