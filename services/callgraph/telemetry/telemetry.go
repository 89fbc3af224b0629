// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package telemetry installs the OpenTelemetry SDK for a pycallgraph run.
//
// Every package creates its tracer and meter from the otel globals, so
// instrumentation is a no-op until Setup installs real providers:
//   - traces go to a stdout exporter when enabled
//   - metrics go to an OTel Prometheus exporter registered on a private
//     prometheus.Registry, gathered together with the default registry
//     (where promauto counters live) by WriteTextfile
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// ErrNilContext is returned by Setup for a nil context.
var ErrNilContext = errors.New("context must not be nil")

// Config selects exporters.
type Config struct {
	// ServiceName identifies the process in traces and metrics.
	ServiceName string

	// ServiceVersion is reported as service.version.
	ServiceVersion string

	// TracesStdout enables the stdout span exporter.
	TracesStdout bool

	// TraceWriter receives spans. Nil means os.Stderr so spans never mix
	// with command output on stdout.
	TraceWriter io.Writer
}

// Telemetry holds the installed providers.
type Telemetry struct {
	registry *prometheus.Registry
	shutdown []func(context.Context) error
}

// Setup installs global tracer and meter providers.
//
// Description:
//
//	The meter provider is always installed so metrics can be written with
//	WriteTextfile. The tracer provider is only installed when
//	cfg.TracesStdout is set; otherwise spans stay no-ops.
//
// Outputs:
//
//	*Telemetry - Call Shutdown to flush exporters.
//	error - Non-nil if an exporter cannot be created.
func Setup(ctx context.Context, cfg Config) (*Telemetry, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "pycallgraph"
	}

	res := resource.NewWithAttributes(
		"",
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", cfg.ServiceVersion),
	)
	t := &Telemetry{registry: prometheus.NewRegistry()}

	if cfg.TracesStdout {
		w := cfg.TraceWriter
		if w == nil {
			w = os.Stderr
		}
		exporter, err := stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("create trace exporter: %w", err)
		}
		tp := sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exporter),
			sdktrace.WithResource(res),
			sdktrace.WithSampler(sdktrace.AlwaysSample()),
		)
		otel.SetTracerProvider(tp)
		t.shutdown = append(t.shutdown, tp.Shutdown)
	}

	exporter, err := promexporter.New(promexporter.WithRegisterer(t.registry))
	if err != nil {
		return nil, fmt.Errorf("create prometheus exporter: %w", err)
	}
	mp := metric.NewMeterProvider(
		metric.WithResource(res),
		metric.WithReader(exporter),
	)
	otel.SetMeterProvider(mp)
	t.shutdown = append(t.shutdown, mp.Shutdown)

	return t, nil
}

// Registry returns the registry backing OTel metrics.
func (t *Telemetry) Registry() *prometheus.Registry {
	return t.registry
}

// Gatherer merges OTel metrics with the default registry.
func (t *Telemetry) Gatherer() prometheus.Gatherer {
	return prometheus.Gatherers{t.registry, prometheus.DefaultGatherer}
}

// WriteTextfile writes all metrics to path in Prometheus text format,
// atomically, for the node exporter textfile collector.
func (t *Telemetry) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, t.Gatherer()); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}

// Shutdown flushes and stops every provider. All providers are shut down
// even if one fails.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error
	for _, fn := range t.shutdown {
		if err := fn(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
