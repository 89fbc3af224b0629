// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package source maps Python files to fully-qualified module names.
//
// Resolve turns a set of file paths, plus an optional explicit root, into
// (file, module name) pairs. Discover expands a directory tree into the
// .py files worth analyzing.
package source

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// PackageMarker is the file that marks a directory as a regular package.
const PackageMarker = "__init__.py"

// Sentinel errors for source resolution.
var (
	// ErrOutsideRoot is returned when a file does not lie under the
	// explicitly supplied root. The wrapping error names the file.
	ErrOutsideRoot = errors.New("file outside root")

	// ErrNoFiles is returned when no input files are given.
	ErrNoFiles = errors.New("no input files")
)

// File is one analyzed source file.
type File struct {
	// Path is the cleaned path as supplied by the caller.
	Path string

	// AbsPath is the absolute path.
	AbsPath string

	// Module is the fully-qualified module name. For an __init__.py file
	// it is the name of the package the file marks.
	Module string

	// IsPackageInit is true for __init__.py files.
	IsPackageInit bool
}

// Package returns the qualified name of the package containing the module.
// A package's __init__ module is its own package.
func (f File) Package() string {
	if f.IsPackageInit {
		return f.Module
	}
	if i := strings.LastIndexByte(f.Module, '.'); i >= 0 {
		return f.Module[:i]
	}
	return ""
}

// Resolve assigns a fully-qualified module name to every file.
//
// Description:
//
//	With an explicit root, every file must lie under it and names are
//	prefixed with basename(root). Without one, the root is inferred by
//	InferRoot and does not appear in names. The extension is dropped and an
//	__init__ segment collapses into its package name.
//
//	Output is sorted by AbsPath and deduplicated, so the assignment does
//	not depend on input order.
//
// Inputs:
//
//	paths - Files to analyze. Must be non-empty.
//	root - Optional explicit root directory. Empty to infer.
//
// Outputs:
//
//	[]File - One entry per distinct file.
//	string - The absolute root used.
//	error - ErrNoFiles, ErrOutsideRoot (wrapped with the offending path),
//	or a path error. No files are returned on error.
func Resolve(paths []string, root string) ([]File, string, error) {
	if len(paths) == 0 {
		return nil, "", ErrNoFiles
	}

	seen := make(map[string]string, len(paths))
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, "", fmt.Errorf("resolving %s: %w", p, err)
		}
		if _, ok := seen[abs]; !ok {
			seen[abs] = filepath.Clean(p)
		}
	}
	absPaths := make([]string, 0, len(seen))
	for abs := range seen {
		absPaths = append(absPaths, abs)
	}
	sort.Strings(absPaths)

	var prefix string
	if root != "" {
		absRoot, err := filepath.Abs(root)
		if err != nil {
			return nil, "", fmt.Errorf("resolving root %s: %w", root, err)
		}
		root = absRoot
		prefix = filepath.Base(absRoot)
	} else {
		root = InferRoot(absPaths)
	}

	files := make([]File, 0, len(absPaths))
	for _, abs := range absPaths {
		rel, err := filepath.Rel(root, abs)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return nil, "", fmt.Errorf("%w: %s is not under %s", ErrOutsideRoot, seen[abs], root)
		}
		module, isInit := moduleName(rel, prefix)
		if module == "" {
			module = filepath.Base(filepath.Dir(abs))
		}
		files = append(files, File{
			Path:          seen[abs],
			AbsPath:       abs,
			Module:        module,
			IsPackageInit: isInit,
		})
	}
	return files, root, nil
}

// InferRoot picks the root for a set of absolute file paths.
//
// Description:
//
//	Starts at the deepest directory common to all files. While that
//	directory is itself a regular package (contains __init__.py) the root
//	moves up one level, so the top-most package of the common chain keeps
//	its name. The returned root never appears in module names.
//
//	A single file infers its own directory (subject to the package walk).
//	Files sharing nothing but the filesystem root infer the filesystem root.
func InferRoot(absPaths []string) string {
	if len(absPaths) == 0 {
		return ""
	}

	common := filepath.Dir(absPaths[0])
	for _, p := range absPaths[1:] {
		common = commonDir(common, filepath.Dir(p))
	}

	for isPackageDir(common) {
		parent := filepath.Dir(common)
		if parent == common {
			break
		}
		common = parent
	}
	return common
}

// commonDir returns the deepest directory that contains both a and b.
func commonDir(a, b string) string {
	for {
		if a == b || strings.HasPrefix(b, strings.TrimSuffix(a, string(filepath.Separator))+string(filepath.Separator)) {
			return a
		}
		parent := filepath.Dir(a)
		if parent == a {
			return a
		}
		a = parent
	}
}

func isPackageDir(dir string) bool {
	info, err := os.Stat(filepath.Join(dir, PackageMarker))
	return err == nil && !info.IsDir()
}

// moduleName converts a root-relative path into a dotted module name.
func moduleName(rel, prefix string) (string, bool) {
	rel = strings.TrimSuffix(rel, filepath.Ext(rel))
	parts := strings.Split(filepath.ToSlash(rel), "/")

	isInit := false
	if parts[len(parts)-1] == strings.TrimSuffix(PackageMarker, ".py") {
		isInit = true
		parts = parts[:len(parts)-1]
	}
	if prefix != "" {
		parts = append([]string{prefix}, parts...)
	}
	return strings.Join(parts, "."), isInit
}
