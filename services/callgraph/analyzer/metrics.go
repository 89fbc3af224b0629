// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package analyzer

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("pycallgraph.analyzer")

var (
	// filesAnalyzed counts files that were parsed and visited.
	filesAnalyzed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "callgraph_files_analyzed_total",
		Help: "Python files parsed and visited",
	})

	// filesSkipped counts files dropped from a run, by reason.
	filesSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "callgraph_files_skipped_total",
		Help: "Python files skipped because they could not be read or parsed",
	}, []string{"reason"})

	// runDuration tracks whole-run latency by phase.
	runDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "callgraph_run_phase_duration_seconds",
		Help:    "Analysis phase duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 16), // 1ms to ~33s
	}, []string{"phase"})

	// externalsTotal counts EXTERNAL placeholders created across runs.
	externalsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "callgraph_run_externals_total",
		Help: "EXTERNAL placeholder nodes created by analysis runs",
	})
)

func startAnalyzeSpan(ctx context.Context, runID string, inputs int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Analyzer.Analyze",
		trace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.Int("run.inputs", inputs),
		),
	)
}

func setAnalyzeSpanResult(span trace.Span, res *Result) {
	span.SetAttributes(
		attribute.Int("run.files", len(res.Files)),
		attribute.Int("run.skipped", len(res.Skipped)),
		attribute.Int("graph.nodes", res.Graph.NodeCount()),
		attribute.Int("graph.edges", res.Graph.EdgeCount()),
	)
}
