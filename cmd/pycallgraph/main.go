// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command pycallgraph builds static call graphs of Python source trees.
//
// The graph records which packages, modules, classes and functions define
// which others, and which ones reference which others. It is built from the
// syntax tree only; nothing is imported or executed.
//
// Usage:
//
//	pycallgraph analyze ./src
//	pycallgraph analyze --root . --format json src/pkg
//	pycallgraph filter --target pkg.mod.func --down ./src
//	pycallgraph query callers pkg.mod.func --depth 2 ./src
//	pycallgraph query dead-code ./src
//	pycallgraph export sqlite callgraph.db ./src
//	pycallgraph snapshot save ./src
//	pycallgraph snapshot diff latest ./src
//	pycallgraph watch ./src
//
// Configuration is read from .pycallgraph.yaml in the working directory,
// or from the file named by --config. Logs go to stderr as text on a
// terminal and as JSON otherwise.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
