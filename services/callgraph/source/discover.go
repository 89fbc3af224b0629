// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package source

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	ignore "github.com/sabhiram/go-gitignore"
)

// skipDirs are directory names never descended into.
var skipDirs = map[string]struct{}{
	"__pycache__":   {},
	"node_modules":  {},
	".git":          {},
	".hg":           {},
	".svn":          {},
	"venv":          {},
	".venv":         {},
	"env":           {},
	"build":         {},
	"dist":          {},
	".tox":          {},
	".nox":          {},
	".mypy_cache":   {},
	".ruff_cache":   {},
	".pytest_cache": {},
	"site-packages": {},
}

// DiscoverOptions configures Discover.
type DiscoverOptions struct {
	// Exclude holds extra gitignore-style patterns, matched relative to the
	// walked directory.
	Exclude []string

	// IncludeStubs also returns .pyi files.
	IncludeStubs bool

	// IgnoreGitignore disables reading <dir>/.gitignore.
	IgnoreGitignore bool
}

// Discover returns the Python files under dir, sorted.
//
// Description:
//
//	Walks dir, skipping hidden directories, virtualenvs and build or cache
//	directories. Paths matched by dir/.gitignore or by opts.Exclude are
//	skipped. Symlinks are not followed.
//
// Outputs:
//
//	[]string - Paths joined onto dir.
//	error - Non-nil if dir cannot be walked.
func Discover(dir string, opts DiscoverOptions) ([]string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("discovering %s: %w", dir, err)
	}
	if !info.IsDir() {
		return []string{dir}, nil
	}

	var matchers []*ignore.GitIgnore
	if !opts.IgnoreGitignore {
		if gi, err := ignore.CompileIgnoreFile(filepath.Join(dir, ".gitignore")); err == nil {
			matchers = append(matchers, gi)
		}
	}
	if len(opts.Exclude) > 0 {
		matchers = append(matchers, ignore.CompileIgnoreLines(opts.Exclude...))
	}
	ignored := func(rel string) bool {
		for _, m := range matchers {
			if m.MatchesPath(rel) {
				return true
			}
		}
		return false
	}

	var out []string
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if path == dir {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		name := d.Name()

		if d.IsDir() {
			if _, skip := skipDirs[name]; skip || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".egg-info") {
				return filepath.SkipDir
			}
			if ignored(rel + "/") {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 || strings.HasPrefix(name, ".") {
			return nil
		}

		ext := filepath.Ext(name)
		if ext != ".py" && !(opts.IncludeStubs && ext == ".pyi") {
			return nil
		}
		if ignored(rel) {
			return nil
		}
		out = append(out, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", dir, err)
	}

	sort.Strings(out)
	return out, nil
}

// Expand turns a mix of files and directories into a sorted, deduplicated
// list of Python files.
func Expand(paths []string, opts DiscoverOptions) ([]string, error) {
	seen := make(map[string]struct{})
	var out []string
	for _, p := range paths {
		found, err := Discover(p, opts)
		if err != nil {
			return nil, err
		}
		for _, f := range found {
			if _, ok := seen[f]; ok {
				continue
			}
			seen[f] = struct{}{}
			out = append(out, f)
		}
	}
	sort.Strings(out)
	return out, nil
}
