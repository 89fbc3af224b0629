// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the pycallgraph YAML configuration.
//
// A missing file yields Default(). Present files are decoded with yaml.v3,
// filled with defaults, overridden from the environment, and validated
// with go-playground/validator struct tags. Every load or validation
// failure wraps ErrInvalidConfig.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// DefaultFileName is looked up in the working directory when no path is given.
const DefaultFileName = ".pycallgraph.yaml"

// MaxYAMLFileSize bounds the config file size.
const MaxYAMLFileSize = 1 << 20

// EnvNeo4jPassword overrides export.neo4j.password.
const EnvNeo4jPassword = "PYCALLGRAPH_NEO4J_PASSWORD"

const (
	// DefaultSnapshotDir holds the badger snapshot store.
	DefaultSnapshotDir = ".pycallgraph/snapshots"

	// DefaultDebounce is the watch quiet period before re-analysis.
	DefaultDebounce = 500 * time.Millisecond

	// DefaultNeo4jUser is used when a Neo4j URI is set without a user.
	DefaultNeo4jUser = "neo4j"

	// DefaultNeo4jBatchSize is the UNWIND batch size.
	DefaultNeo4jBatchSize = 5000
)

// ErrInvalidConfig is wrapped by every error from Load and Parse.
var ErrInvalidConfig = errors.New("invalid config")

// Config is the full configuration.
//
// Thread Safety: Immutable after loading; safe for concurrent use.
type Config struct {
	// Root is the explicit source root. Empty to infer.
	Root string `yaml:"root"`

	// Include are the default input paths when none are given on the
	// command line.
	Include []string `yaml:"include"`

	// Exclude are gitignore-style patterns skipped during discovery.
	Exclude []string `yaml:"exclude"`

	// Workers bounds analysis concurrency. Zero means GOMAXPROCS.
	Workers int `yaml:"workers" validate:"gte=0,lte=1024"`

	// MaxFileSize is the per-file parse limit in bytes. Zero means the
	// parser default.
	MaxFileSize int64 `yaml:"max_file_size" validate:"gte=0"`

	// TolerateSyntaxErrors analyzes files with syntax errors instead of
	// skipping them.
	TolerateSyntaxErrors bool `yaml:"tolerate_syntax_errors"`

	// IncludeStubs also analyzes .pyi files.
	IncludeStubs bool `yaml:"include_stubs"`

	// BuiltinsExtra are additional names treated as builtins.
	BuiltinsExtra []string `yaml:"builtins_extra" validate:"dive,pyident"`

	Snapshot  SnapshotConfig  `yaml:"snapshot"`
	Export    ExportConfig    `yaml:"export"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Watch     WatchConfig     `yaml:"watch"`
}

// SnapshotConfig configures the snapshot store.
type SnapshotConfig struct {
	// Dir is the badger directory.
	Dir string `yaml:"dir" validate:"required"`
}

// ExportConfig configures export targets.
type ExportConfig struct {
	// SQLitePath is the default SQLite export file.
	SQLitePath string `yaml:"sqlite_path"`

	Neo4j Neo4jConfig `yaml:"neo4j"`
}

// Neo4jConfig configures the Neo4j loader.
type Neo4jConfig struct {
	URI       string `yaml:"uri" validate:"omitempty,uri"`
	User      string `yaml:"user" validate:"required_with=URI"`
	Password  string `yaml:"password"`
	Database  string `yaml:"database"`
	BatchSize int    `yaml:"batch_size" validate:"gte=0,lte=100000"`
}

// TelemetryConfig configures exporters.
type TelemetryConfig struct {
	// TracesStdout pretty-prints spans to stderr.
	TracesStdout bool `yaml:"traces_stdout"`

	// MetricsTextfile is written in Prometheus text format after a run.
	MetricsTextfile string `yaml:"metrics_textfile"`
}

// WatchConfig configures watch mode.
type WatchConfig struct {
	Debounce time.Duration `yaml:"debounce" validate:"gte=0"`
}

var (
	validate     = validator.New()
	pyIdentifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

func init() {
	_ = validate.RegisterValidation("pyident", func(fl validator.FieldLevel) bool {
		return pyIdentifier.MatchString(fl.Field().String())
	})
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	applyEnv(cfg)
	return cfg
}

// Load reads path, or DefaultFileName when path is empty.
//
// Description:
//
//	A missing file yields Default() without error only when path is
//	empty; an explicitly named file must exist.
//
// Outputs:
//
//	*Config - The validated configuration.
//	error - ErrInvalidConfig (wrapped) on read, parse or validation failure.
func Load(path string, logger *slog.Logger) (*Config, error) {
	if logger == nil {
		logger = slog.Default()
	}
	explicit := path != ""
	if !explicit {
		path = DefaultFileName
	}

	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) && !explicit {
		logger.Debug("no config file, using defaults", slog.String("path", path))
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if info.Size() > MaxYAMLFileSize {
		return nil, fmt.Errorf("%w: %s exceeds maximum size (%d > %d)", ErrInvalidConfig, path, info.Size(), MaxYAMLFileSize)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	logger.Debug("config loaded",
		slog.String("path", path),
		slog.Int("workers", cfg.Workers),
		slog.Int("exclude", len(cfg.Exclude)))
	return cfg, nil
}

// Parse decodes, defaults, overrides and validates YAML bytes. Unknown
// keys are rejected.
func Parse(data []byte) (*Config, error) {
	if len(data) > MaxYAMLFileSize {
		return nil, fmt.Errorf("%w: data exceeds maximum size (%d > %d)", ErrInvalidConfig, len(data), MaxYAMLFileSize)
	}

	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: parsing YAML: %v", ErrInvalidConfig, err)
	}

	applyDefaults(&cfg)
	applyEnv(&cfg)

	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidConfig, describe(err))
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Snapshot.Dir == "" {
		cfg.Snapshot.Dir = DefaultSnapshotDir
	}
	if cfg.Watch.Debounce == 0 {
		cfg.Watch.Debounce = DefaultDebounce
	}
	if cfg.Export.Neo4j.URI != "" && cfg.Export.Neo4j.User == "" {
		cfg.Export.Neo4j.User = DefaultNeo4jUser
	}
	if cfg.Export.Neo4j.BatchSize == 0 {
		cfg.Export.Neo4j.BatchSize = DefaultNeo4jBatchSize
	}
}

func applyEnv(cfg *Config) {
	if pw, ok := os.LookupEnv(EnvNeo4jPassword); ok {
		cfg.Export.Neo4j.Password = pw
	}
}

// describe flattens validator errors into one line.
func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s failed %s=%s", fe.Namespace(), fe.Tag(), fe.Param()))
		} else {
			parts = append(parts, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
		}
	}
	return strings.Join(parts, "; ")
}
