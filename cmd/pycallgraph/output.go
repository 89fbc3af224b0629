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
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/AleutianAI/pycallgraph/services/callgraph/analyzer"
	"github.com/AleutianAI/pycallgraph/services/callgraph/graph"
	"github.com/AleutianAI/pycallgraph/services/callgraph/index"
	"github.com/AleutianAI/pycallgraph/services/callgraph/query"
)

const (
	formatText = "text"
	formatJSON = "json"
)

func checkFormat(format string) error {
	switch format {
	case formatText, formatJSON:
		return nil
	default:
		return fmt.Errorf("unknown --format %q: want text or json", format)
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// graphReport is the JSON document for a whole graph.
type graphReport struct {
	RunID      string                   `json:"run_id,omitempty"`
	SnapshotID string                   `json:"snapshot_id,omitempty"`
	Root       string                   `json:"root"`
	Files      int                      `json:"files,omitempty"`
	Skipped    []skippedReport          `json:"skipped,omitempty"`
	Graph      *graph.SerializableGraph `json:"graph"`
}

type skippedReport struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

func resultReport(res *analyzer.Result) graphReport {
	r := graphReport{
		RunID: res.RunID,
		Root:  res.Root,
		Files: len(res.Files),
		Graph: res.Graph.ToSerializable(),
	}
	for _, s := range res.Skipped {
		r.Skipped = append(r.Skipped, skippedReport{Path: s.Path, Error: s.Err.Error()})
	}
	return r
}

// writeResult prints an analysis result.
func writeResult(w io.Writer, format string, res *analyzer.Result) error {
	if format == formatJSON {
		return writeJSON(w, resultReport(res))
	}
	for _, s := range res.Skipped {
		fmt.Fprintf(w, "# skipped %s: %v\n", s.Path, s.Err)
	}
	return writeGraphText(w, res.Graph)
}

// writeGraphText prints one block per node: its header, then the names it
// defines and uses.
//
//	function pkg.mod.f  pkg/mod.py:3
//	    defines pkg.mod.f.inner
//	    uses    pkg.other.g
func writeGraphText(w io.Writer, g *graph.CallGraph) error {
	for _, n := range g.AllNodes() {
		fmt.Fprintf(w, "%s %s", n.Kind, n.QualifiedName)
		if n.FilePath != "" {
			fmt.Fprintf(w, "  %s:%d", n.FilePath, n.Line)
		}
		if n.IsNamespacePackage {
			fmt.Fprint(w, "  [namespace]")
		}
		if names := n.Decorators.Names(); len(names) > 0 {
			fmt.Fprintf(w, "  @%s", strings.Join(names, " @"))
		}
		fmt.Fprintln(w)
		for _, m := range g.DefinesOf(n.QualifiedName) {
			fmt.Fprintf(w, "    defines %s\n", m.QualifiedName)
		}
		for _, m := range g.UsesOf(n.QualifiedName) {
			fmt.Fprintf(w, "    uses    %s\n", m.QualifiedName)
		}
	}
	return nil
}

type hopReport struct {
	QualifiedName string `json:"qualified_name"`
	Kind          string `json:"kind"`
	Depth         int    `json:"depth"`
	FilePath      string `json:"file_path,omitempty"`
	Line          int    `json:"line,omitempty"`
}

func writeHops(w io.Writer, format string, hops []query.Hop) error {
	if format == formatJSON {
		out := make([]hopReport, 0, len(hops))
		for _, h := range hops {
			out = append(out, hopReport{
				QualifiedName: h.Node.QualifiedName,
				Kind:          h.Node.Kind.String(),
				Depth:         h.Depth,
				FilePath:      h.Node.FilePath,
				Line:          h.Node.Line,
			})
		}
		return writeJSON(w, out)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, h := range hops {
		fmt.Fprintf(tw, "%d\t%s\t%s\n", h.Depth, h.Node.Kind, h.Node.QualifiedName)
	}
	return tw.Flush()
}

func writePath(w io.Writer, format string, path []*graph.Node) error {
	names := make([]string, 0, len(path))
	for _, n := range path {
		names = append(names, n.QualifiedName)
	}
	if format == formatJSON {
		return writeJSON(w, names)
	}
	_, err := fmt.Fprintln(w, strings.Join(names, " -> "))
	return err
}

type deadReport struct {
	QualifiedName string `json:"qualified_name"`
	Kind          string `json:"kind"`
	FilePath      string `json:"file_path,omitempty"`
	Line          int    `json:"line,omitempty"`
	Reason        string `json:"reason"`
}

func writeDead(w io.Writer, format string, dead []query.DeadSymbol) error {
	if format == formatJSON {
		out := make([]deadReport, 0, len(dead))
		for _, d := range dead {
			out = append(out, deadReport{
				QualifiedName: d.Node.QualifiedName,
				Kind:          d.Node.Kind.String(),
				FilePath:      d.Node.FilePath,
				Line:          d.Node.Line,
				Reason:        d.Reason,
			})
		}
		return writeJSON(w, out)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, d := range dead {
		fmt.Fprintf(tw, "%s:%d\t%s\t%s\t%s\n", d.Node.FilePath, d.Node.Line, d.Node.Kind, d.Node.QualifiedName, d.Reason)
	}
	return tw.Flush()
}

func writeStats(w io.Writer, format string, s query.Stats) error {
	if format == formatJSON {
		return writeJSON(w, s)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "nodes\t%d\n", s.Nodes)
	fmt.Fprintf(tw, "defines edges\t%d\n", s.DefinesEdges)
	fmt.Fprintf(tw, "uses edges\t%d\n", s.UsesEdges)
	for k := graph.KindPackage; k <= graph.KindExternal; k++ {
		if c := s.ByKind[k.String()]; c > 0 {
			fmt.Fprintf(tw, "  %s\t%d\n", k, c)
		}
	}
	if len(s.Externals) > 0 {
		fmt.Fprintln(tw, "external packages\t")
		for _, dep := range s.Externals {
			fmt.Fprintf(tw, "  %s\t%d symbols, used by %d\n", dep.Package, len(dep.Symbols), dep.UsedBy)
		}
	}
	return tw.Flush()
}

type matchReport struct {
	QualifiedName string `json:"qualified_name"`
	Kind          string `json:"kind"`
	MatchType     string `json:"match_type"`
	Score         int    `json:"score"`
}

func writeMatches(w io.Writer, format string, matches []index.Match) error {
	if format == formatJSON {
		out := make([]matchReport, 0, len(matches))
		for _, m := range matches {
			out = append(out, matchReport{
				QualifiedName: m.Node.QualifiedName,
				Kind:          m.Node.Kind.String(),
				MatchType:     m.MatchType,
				Score:         m.Score,
			})
		}
		return writeJSON(w, out)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, m := range matches {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", m.Node.Kind, m.Node.QualifiedName, m.MatchType)
	}
	return tw.Flush()
}

func writeDiff(w io.Writer, format string, d *graph.Diff) error {
	if format == formatJSON {
		return writeJSON(w, d)
	}
	if d.IsEmpty() {
		_, err := fmt.Fprintf(w, "no changes between %s and %s\n", d.BaseID, d.TargetID)
		return err
	}
	fmt.Fprintf(w, "diff %s..%s: %d changes, %d files\n", d.BaseID, d.TargetID, d.Summary.TotalChanges, d.Summary.FilesAffected)
	for _, name := range d.NodesAdded {
		fmt.Fprintf(w, "+ %s\n", name)
	}
	for _, name := range d.NodesRemoved {
		fmt.Fprintf(w, "- %s\n", name)
	}
	for _, m := range d.NodesModified {
		fmt.Fprintf(w, "~ %s (%s)\n", m.QualifiedName, m.ChangeType)
	}
	for _, e := range d.UsesAdded {
		fmt.Fprintf(w, "+ %s -> %s\n", e.From, e.To)
	}
	for _, e := range d.UsesRemoved {
		fmt.Fprintf(w, "- %s -> %s\n", e.From, e.To)
	}
	if d.DefinesAdded > 0 || d.DefinesRemoved > 0 {
		fmt.Fprintf(w, "defines edges: +%d -%d\n", d.DefinesAdded, d.DefinesRemoved)
	}
	return nil
}

func writeSnapshots(w io.Writer, format string, metas []*graph.SnapshotMetadata) error {
	if format == formatJSON {
		if metas == nil {
			metas = []*graph.SnapshotMetadata{}
		}
		return writeJSON(w, metas)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCREATED\tNODES\tUSES\tLABEL\tROOT")
	for _, m := range metas {
		created := time.UnixMilli(m.CreatedAtMilli).Local().Format(time.DateTime)
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\t%s\n", m.SnapshotID, created, m.NodeCount, m.UsesCount, m.Label, m.ProjectRoot)
	}
	return tw.Flush()
}
