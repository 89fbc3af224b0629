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

import "testing"

func TestClassifyExternalNodes(t *testing.T) {
	g := buildTestGraph(t)
	g.GetOrCreateExternal("os.getcwd")
	g.GetOrCreateExternal("requests.get")
	g.AddUses("pkg.a.f", "os.getcwd")
	g.AddUses("pkg.a.f", "requests.get")
	g.AddUses("pkg.a.g", "requests.get")

	deps := ClassifyExternalNodes(g)
	if len(deps) != 2 {
		t.Fatalf("got %d packages, want 2: %+v", len(deps), deps)
	}

	// os: used by pkg.b.h and pkg.a.f; requests: used by pkg.a.f and pkg.a.g.
	// Equal usage sorts by name.
	if deps[0].Package != "os" || deps[1].Package != "requests" {
		t.Errorf("order = %s, %s", deps[0].Package, deps[1].Package)
	}
	if deps[0].UsedBy != 2 || deps[1].UsedBy != 2 {
		t.Errorf("UsedBy = %d, %d", deps[0].UsedBy, deps[1].UsedBy)
	}
	if len(deps[0].Symbols) != 2 || deps[0].Symbols[0] != "os.getcwd" {
		t.Errorf("os symbols = %v", deps[0].Symbols)
	}
}

func TestClassifyExternalNodes_None(t *testing.T) {
	g := NewCallGraph("/p")
	g.AddNode(&Node{QualifiedName: "m", Kind: KindModule})
	if deps := ClassifyExternalNodes(g); deps != nil {
		t.Errorf("expected nil, got %+v", deps)
	}
	if deps := ClassifyExternalNodes(nil); deps != nil {
		t.Errorf("expected nil for nil graph, got %+v", deps)
	}
}
