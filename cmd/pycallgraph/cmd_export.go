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
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/pycallgraph/services/callgraph/config"
	"github.com/AleutianAI/pycallgraph/services/callgraph/export"
)

// defaultSQLitePath is used when neither --out nor export.sqlite_path is set.
const defaultSQLitePath = "pycallgraph.db"

var errNoNeo4jURI = errors.New("no Neo4j URI: set --uri or export.neo4j.uri")

func (a *app) newExportCmd() *cobra.Command {
	var flags analyzeFlags
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the call graph to an external store",
	}
	flags.register(cmd.PersistentFlags())

	var out string
	sqlite := &cobra.Command{
		Use:   "sqlite [paths...]",
		Short: "Write nodes, defines and uses tables to a SQLite file",
		Long: `Write the call graph to a SQLite database.

An existing file at the output path is replaced.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := out
			if path == "" {
				path = a.cfg.Export.SQLitePath
			}
			if path == "" {
				path = defaultSQLitePath
			}
			res, err := a.analyze(cmd.Context(), &flags, args)
			if err != nil {
				return err
			}
			if err := export.WriteSQLite(cmd.Context(), path, res.Graph, a.logger); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d nodes to %s\n", res.Graph.NodeCount(), path)
			return nil
		},
	}
	sqlite.Flags().StringVarP(&out, "out", "o", "", "output file (default export.sqlite_path or "+defaultSQLitePath+")")

	var neo config.Neo4jConfig
	var clean bool
	neo4j := &cobra.Command{
		Use:   "neo4j [paths...]",
		Short: "Load the call graph into Neo4j",
		Long: `Load the call graph into Neo4j as PyNode nodes with DEFINES and USES
relationships. Loading is idempotent. The password is read from the config
file or ` + config.EnvNeo4jPassword + `.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.neo4jConfig(neo, clean)
			if cfg.URI == "" {
				return errNoNeo4jURI
			}
			res, err := a.analyze(cmd.Context(), &flags, args)
			if err != nil {
				return err
			}
			loader, err := export.NewNeo4jLoader(cmd.Context(), cfg, a.logger)
			if err != nil {
				return err
			}
			defer func() {
				if err := loader.Close(cmd.Context()); err != nil {
					a.logger.Warn("closing neo4j driver failed", slog.String("error", err.Error()))
				}
			}()
			if err := loader.Load(cmd.Context(), res.Graph); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "loaded %d nodes into %s\n", res.Graph.NodeCount(), cfg.URI)
			return nil
		},
	}
	neo4j.Flags().StringVar(&neo.URI, "uri", "", "bolt URI (default export.neo4j.uri)")
	neo4j.Flags().StringVar(&neo.User, "user", "", "user (default export.neo4j.user)")
	neo4j.Flags().StringVar(&neo.Database, "database", "", "database (default server default)")
	neo4j.Flags().IntVar(&neo.BatchSize, "batch-size", 0, "rows per UNWIND statement")
	neo4j.Flags().BoolVar(&clean, "clean", false, "delete previously loaded PyNode data first")

	cmd.AddCommand(sqlite, neo4j)
	return cmd
}

// neo4jConfig merges flag values over the config file.
func (a *app) neo4jConfig(flags config.Neo4jConfig, clean bool) export.Neo4jConfig {
	c := a.cfg.Export.Neo4j
	cfg := export.Neo4jConfig{
		URI:       c.URI,
		User:      c.User,
		Password:  c.Password,
		Database:  c.Database,
		BatchSize: c.BatchSize,
		Clean:     clean,
	}
	if flags.URI != "" {
		cfg.URI = flags.URI
	}
	if flags.User != "" {
		cfg.User = flags.User
	}
	if cfg.User == "" {
		cfg.User = config.DefaultNeo4jUser
	}
	if flags.Database != "" {
		cfg.Database = flags.Database
	}
	if flags.BatchSize > 0 {
		cfg.BatchSize = flags.BatchSize
	}
	return cfg
}
