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
	"github.com/spf13/cobra"
)

func (a *app) newAnalyzeCmd() *cobra.Command {
	var (
		flags  analyzeFlags
		format string
	)
	cmd := &cobra.Command{
		Use:   "analyze [paths...]",
		Short: "Build the call graph and print every node with its edges",
		Long: `Analyze the given Python files and directories and print the call graph.

Directories are searched recursively for .py files, honoring .gitignore.
Without arguments the config's include list is used, then the current
directory.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(format); err != nil {
				return err
			}
			res, err := a.analyze(cmd.Context(), &flags, args)
			if err != nil {
				return err
			}
			return writeResult(cmd.OutOrStdout(), format, res)
		},
	}
	flags.register(cmd.Flags())
	cmd.Flags().StringVar(&format, "format", formatText, "output format: text or json")
	return cmd
}

func (a *app) newFilterCmd() *cobra.Command {
	var (
		flags    analyzeFlags
		format   string
		target   string
		down, up bool
	)
	cmd := &cobra.Command{
		Use:   "filter --target NAME [paths...]",
		Short: "Print only the part of the graph connected to one node",
		Long: `Slice the call graph to the nodes reachable from --target.

--down keeps what the target uses, transitively. --up keeps what uses the
target, transitively. With neither flag both directions are kept. Only
the kept nodes and the edges between them remain.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(format); err != nil {
				return err
			}
			if !down && !up {
				down, up = true, true
			}
			res, err := a.analyze(cmd.Context(), &flags, args)
			if err != nil {
				return err
			}
			if err := res.Filter(cmd.Context(), target, down, up); err != nil {
				return err
			}
			return writeResult(cmd.OutOrStdout(), format, res)
		},
	}
	flags.register(cmd.Flags())
	cmd.Flags().StringVar(&format, "format", formatText, "output format: text or json")
	cmd.Flags().StringVar(&target, "target", "", "qualified name to slice around")
	cmd.Flags().BoolVar(&down, "down", false, "keep nodes the target uses")
	cmd.Flags().BoolVar(&up, "up", false, "keep nodes that use the target")
	_ = cmd.MarkFlagRequired("target")
	return cmd
}
