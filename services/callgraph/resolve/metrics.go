// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package resolve

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	tracer = otel.Tracer("pycallgraph.resolve")
	meter  = otel.Meter("pycallgraph.resolve")
)

var (
	resolveLatency   metric.Float64Histogram
	refsTotal        metric.Int64Counter
	externalsCreated metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		resolveLatency, err = meter.Float64Histogram(
			"callgraph_resolve_file_duration_seconds",
			metric.WithDescription("Duration of reference resolution per file"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		refsTotal, err = meter.Int64Counter(
			"callgraph_refs_total",
			metric.WithDescription("References processed, by outcome"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		externalsCreated, err = meter.Int64Counter(
			"callgraph_externals_created_total",
			metric.WithDescription("EXTERNAL placeholder nodes created"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func startResolveSpan(ctx context.Context, module string, refs int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Resolver.ResolveFile",
		trace.WithAttributes(
			attribute.String("resolve.module", module),
			attribute.Int("resolve.refs", refs),
		),
	)
}

func setResolveSpanResult(span trace.Span, stats FileStats) {
	span.SetAttributes(
		attribute.Int("resolve.resolved", stats.Resolved),
		attribute.Int("resolve.dropped", stats.Dropped),
		attribute.Int("resolve.externals", stats.ExternalsCreated),
	)
}

func recordResolveMetrics(ctx context.Context, duration time.Duration, stats FileStats) {
	if err := initMetrics(); err != nil {
		return
	}
	resolveLatency.Record(ctx, duration.Seconds())
	refsTotal.Add(ctx, int64(stats.Resolved), metric.WithAttributes(attribute.String("outcome", "resolved")))
	refsTotal.Add(ctx, int64(stats.Dropped), metric.WithAttributes(attribute.String("outcome", "dropped")))
	if stats.ExternalsCreated > 0 {
		externalsCreated.Add(ctx, int64(stats.ExternalsCreated))
	}
}
