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
	"sort"
	"strings"
)

// ExternalDependency groups the EXTERNAL placeholders that share a top-level
// package, e.g. "requests.get" and "requests.Session" under "requests".
type ExternalDependency struct {
	// Package is the first dotted segment of the placeholder names.
	Package string `json:"package"`

	// Symbols are the placeholder qualified names, sorted.
	Symbols []string `json:"symbols"`

	// UsedBy is the number of distinct analyzed nodes referencing any symbol
	// of this package.
	UsedBy int `json:"used_by"`
}

// ClassifyExternalNodes groups every EXTERNAL node in g by top-level package.
//
// Description:
//
//	Results are sorted by descending UsedBy, then by package name, so the
//	most heavily used third-party dependencies come first.
//
// Thread Safety: Safe for concurrent use (reads only).
func ClassifyExternalNodes(g *CallGraph) []ExternalDependency {
	if g == nil {
		return nil
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	byPkg := make(map[string]*ExternalDependency)
	users := make(map[string]map[string]struct{})
	for name, n := range g.nodes {
		if n.Kind != KindExternal {
			continue
		}
		pkg := externalPackage(name)
		dep, ok := byPkg[pkg]
		if !ok {
			dep = &ExternalDependency{Package: pkg}
			byPkg[pkg] = dep
			users[pkg] = make(map[string]struct{})
		}
		dep.Symbols = append(dep.Symbols, name)
	}
	if len(byPkg) == 0 {
		return nil
	}

	for from, set := range g.uses {
		for _, to := range set.order {
			if n := g.nodes[to]; n.Kind == KindExternal {
				users[externalPackage(to)][from] = struct{}{}
			}
		}
	}

	out := make([]ExternalDependency, 0, len(byPkg))
	for pkg, dep := range byPkg {
		sort.Strings(dep.Symbols)
		dep.UsedBy = len(users[pkg])
		out = append(out, *dep)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UsedBy != out[j].UsedBy {
			return out[i].UsedBy > out[j].UsedBy
		}
		return out[i].Package < out[j].Package
	})
	return out
}

func externalPackage(name string) string {
	if i := strings.IndexByte(name, '.'); i >= 0 {
		return name[:i]
	}
	return name
}
