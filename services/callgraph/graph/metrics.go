// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Package-level tracer and meter for graph operations.
var (
	tracer = otel.Tracer("pycallgraph.graph")
	meter  = otel.Meter("pycallgraph.graph")
)

// Metrics for graph operations.
var (
	filterLatency      metric.Float64Histogram
	filterTotal        metric.Int64Counter
	filterNodesRemoved metric.Int64Counter
	snapshotOps        metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		filterLatency, err = meter.Float64Histogram(
			"callgraph_filter_duration_seconds",
			metric.WithDescription("Duration of graph filter operations"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		filterTotal, err = meter.Int64Counter(
			"callgraph_filter_total",
			metric.WithDescription("Total number of graph filter operations"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		filterNodesRemoved, err = meter.Int64Counter(
			"callgraph_filter_nodes_removed_total",
			metric.WithDescription("Nodes pruned by graph filter operations"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		snapshotOps, err = meter.Int64Counter(
			"callgraph_snapshot_operations_total",
			metric.WithDescription("Snapshot save/load/delete operations"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// startFilterSpan creates a span for a filter operation.
func startFilterSpan(ctx context.Context, target string, down, up bool) (context.Context, trace.Span) {
	return tracer.Start(ctx, "CallGraph.Filter",
		trace.WithAttributes(
			attribute.String("filter.target", target),
			attribute.Bool("filter.down", down),
			attribute.Bool("filter.up", up),
		),
	)
}

// setFilterSpanResult sets the result attributes on a filter span.
func setFilterSpanResult(span trace.Span, kept, removed int) {
	span.SetAttributes(
		attribute.Int("filter.kept", kept),
		attribute.Int("filter.removed", removed),
	)
}

// recordFilterMetrics records metrics for a filter operation.
func recordFilterMetrics(ctx context.Context, duration time.Duration, removed int, success bool) {
	if err := initMetrics(); err != nil {
		return
	}

	attrs := metric.WithAttributes(attribute.Bool("success", success))
	filterLatency.Record(ctx, duration.Seconds(), attrs)
	filterTotal.Add(ctx, 1, attrs)
	if removed > 0 {
		filterNodesRemoved.Add(ctx, int64(removed))
	}
}

// recordSnapshotOp records a snapshot operation.
func recordSnapshotOp(ctx context.Context, op string, success bool) {
	if err := initMetrics(); err != nil {
		return
	}
	snapshotOps.Add(ctx, 1, metric.WithAttributes(
		attribute.String("op", op),
		attribute.Bool("success", success),
	))
}
