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
	"errors"
	"fmt"
	"sync"
	"testing"
)

// buildTestGraph creates a small two-module graph:
//
//	pkg.a.f -> pkg.a.g -> pkg.b.h -> os.path.join (external)
//	pkg.b.C.m -> pkg.a.f
//	pkg.b -> pkg.a (module-level import)
func buildTestGraph(t *testing.T) *CallGraph {
	t.Helper()
	g := NewCallGraph("/test/project")

	nodes := []*Node{
		{QualifiedName: "pkg", Kind: KindPackage, FilePath: "pkg/__init__.py"},
		{QualifiedName: "pkg.a", Kind: KindModule, Parent: "pkg", FilePath: "pkg/a.py"},
		{QualifiedName: "pkg.a.f", Kind: KindFunction, Parent: "pkg.a", FilePath: "pkg/a.py", Line: 1},
		{QualifiedName: "pkg.a.g", Kind: KindFunction, Parent: "pkg.a", FilePath: "pkg/a.py", Line: 5},
		{QualifiedName: "pkg.b", Kind: KindModule, Parent: "pkg", FilePath: "pkg/b.py"},
		{QualifiedName: "pkg.b.h", Kind: KindFunction, Parent: "pkg.b", FilePath: "pkg/b.py", Line: 3},
		{QualifiedName: "pkg.b.C", Kind: KindClass, Parent: "pkg.b", FilePath: "pkg/b.py", Line: 8},
		{QualifiedName: "pkg.b.C.m", Kind: KindMethod, Parent: "pkg.b.C", FilePath: "pkg/b.py", Line: 9},
	}
	for _, n := range nodes {
		if _, _, err := g.AddNode(n); err != nil {
			t.Fatalf("AddNode(%s): %v", n.QualifiedName, err)
		}
	}
	g.GetOrCreateExternal("os.path.join")

	for _, e := range [][2]string{
		{"pkg", "pkg.a"}, {"pkg", "pkg.b"},
		{"pkg.a", "pkg.a.f"}, {"pkg.a", "pkg.a.g"},
		{"pkg.b", "pkg.b.h"}, {"pkg.b", "pkg.b.C"},
		{"pkg.b.C", "pkg.b.C.m"},
	} {
		if err := g.AddDefines(e[0], e[1]); err != nil {
			t.Fatalf("AddDefines(%s, %s): %v", e[0], e[1], err)
		}
	}
	for _, e := range [][2]string{
		{"pkg.a.f", "pkg.a.g"},
		{"pkg.a.g", "pkg.b.h"},
		{"pkg.b.h", "os.path.join"},
		{"pkg.b.C.m", "pkg.a.f"},
		{"pkg.b", "pkg.a"},
	} {
		if err := g.AddUses(e[0], e[1]); err != nil {
			t.Fatalf("AddUses(%s, %s): %v", e[0], e[1], err)
		}
	}
	return g
}

func names(nodes []*Node) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.QualifiedName
	}
	return out
}

func TestCallGraph_AddNode(t *testing.T) {
	t.Run("insert then get returns canonical node", func(t *testing.T) {
		g := NewCallGraph("/p")
		first := &Node{QualifiedName: "m.x", Kind: KindAttribute}
		got, added, err := g.AddNode(first)
		if err != nil || !added || got != first {
			t.Fatalf("first AddNode = (%v, %v, %v)", got, added, err)
		}

		second := &Node{QualifiedName: "m.x", Kind: KindFunction}
		got, added, err = g.AddNode(second)
		if err != nil {
			t.Fatalf("second AddNode: %v", err)
		}
		if added {
			t.Error("second AddNode should not insert")
		}
		if got != first {
			t.Error("second AddNode should return the first node")
		}
		if g.NodeCount() != 1 {
			t.Errorf("NodeCount = %d, want 1", g.NodeCount())
		}
	})

	t.Run("invalid nodes rejected", func(t *testing.T) {
		g := NewCallGraph("/p")
		for _, n := range []*Node{nil, {Kind: KindModule}, {QualifiedName: "x"}} {
			if _, _, err := g.AddNode(n); !errors.Is(err, ErrInvalidNode) {
				t.Errorf("AddNode(%v) err = %v, want ErrInvalidNode", n, err)
			}
		}
	})
}

func TestCallGraph_GetOrCreateExternal_Concurrent(t *testing.T) {
	g := NewCallGraph("/p")

	const workers = 32
	results := make([]*Node, workers)
	created := make([]bool, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], created[i] = g.GetOrCreateExternal("requests.get")
		}(i)
	}
	wg.Wait()

	creations := 0
	for i := 0; i < workers; i++ {
		if results[i] != results[0] {
			t.Fatalf("worker %d got a different node", i)
		}
		if created[i] {
			creations++
		}
	}
	if creations != 1 {
		t.Errorf("created %d placeholders, want 1", creations)
	}
	if results[0].Kind != KindExternal {
		t.Errorf("Kind = %v, want external", results[0].Kind)
	}
}

func TestCallGraph_GetOrCreateExternal_ReusesDefinedNode(t *testing.T) {
	g := NewCallGraph("/p")
	defined := &Node{QualifiedName: "pkg.f", Kind: KindFunction}
	g.AddNode(defined)

	got, created := g.GetOrCreateExternal("pkg.f")
	if created || got != defined {
		t.Errorf("GetOrCreateExternal on defined name = (%v, %v), want existing node", got, created)
	}
}

func TestCallGraph_Edges(t *testing.T) {
	g := buildTestGraph(t)

	t.Run("defines keep definition order", func(t *testing.T) {
		got := fmt.Sprint(names(g.DefinesOf("pkg.b")))
		if got != "[pkg.b.h pkg.b.C]" {
			t.Errorf("DefinesOf(pkg.b) = %s", got)
		}
	})

	t.Run("duplicate uses collapse", func(t *testing.T) {
		if err := g.AddUses("pkg.a.f", "pkg.a.g"); err != nil {
			t.Fatal(err)
		}
		if n := len(g.UsesOf("pkg.a.f")); n != 1 {
			t.Errorf("len(UsesOf(pkg.a.f)) = %d, want 1", n)
		}
	})

	t.Run("edge to unknown node fails", func(t *testing.T) {
		err := g.AddUses("pkg.a.f", "nope")
		if !errors.Is(err, ErrNodeNotFound) {
			t.Errorf("err = %v, want ErrNodeNotFound", err)
		}
		if g.HasUse("pkg.a.f", "nope") {
			t.Error("edge to unknown node was recorded")
		}
	})

	t.Run("unknown names yield empty slices", func(t *testing.T) {
		if got := g.UsesOf("missing"); got == nil || len(got) != 0 {
			t.Errorf("UsesOf(missing) = %v", got)
		}
		if got := g.DefinesOf("pkg.a.f"); len(got) != 0 {
			t.Errorf("DefinesOf(leaf) = %v", got)
		}
	})

	t.Run("used by", func(t *testing.T) {
		got := fmt.Sprint(names(g.UsedBy("pkg.a.f")))
		if got != "[pkg.b.C.m]" {
			t.Errorf("UsedBy(pkg.a.f) = %s", got)
		}
	})

	t.Run("counts", func(t *testing.T) {
		if g.NodeCount() != 9 {
			t.Errorf("NodeCount = %d, want 9", g.NodeCount())
		}
		if g.DefinesEdgeCount() != 7 {
			t.Errorf("DefinesEdgeCount = %d, want 7", g.DefinesEdgeCount())
		}
		if g.UsesEdgeCount() != 5 {
			t.Errorf("UsesEdgeCount = %d, want 5", g.UsesEdgeCount())
		}
		if g.EdgeCount() != 12 {
			t.Errorf("EdgeCount = %d, want 12", g.EdgeCount())
		}
	})
}

func TestCallGraph_AllNodesSorted(t *testing.T) {
	g := buildTestGraph(t)
	all := g.AllNodes()
	for i := 1; i < len(all); i++ {
		if all[i-1].QualifiedName >= all[i].QualifiedName {
			t.Fatalf("AllNodes not sorted at %d: %s >= %s", i, all[i-1].QualifiedName, all[i].QualifiedName)
		}
	}
}

func TestCallGraph_HashIndependentOfOrder(t *testing.T) {
	a := buildTestGraph(t)

	b := NewCallGraph("/other")
	for _, n := range a.AllNodes() {
		copied := *n
		b.AddNode(&copied)
	}
	// Insert uses in reverse order.
	all := a.AllNodes()
	for i := len(all) - 1; i >= 0; i-- {
		for _, target := range a.UsesOf(all[i].QualifiedName) {
			b.AddUses(all[i].QualifiedName, target.QualifiedName)
		}
		for _, member := range a.DefinesOf(all[i].QualifiedName) {
			b.AddDefines(all[i].QualifiedName, member.QualifiedName)
		}
	}

	if a.Hash() != b.Hash() {
		t.Error("hashes differ for structurally equal graphs")
	}
	b.AddUses("pkg.a.g", "pkg.a.f")
	if a.Hash() == b.Hash() {
		t.Error("hash unchanged after adding an edge")
	}
}

func TestNode_Name(t *testing.T) {
	tests := []struct{ qualified, name, parent string }{
		{"pkg.mod.Class.method", "method", "pkg.mod.Class"},
		{"pkg", "pkg", ""},
	}
	for _, tt := range tests {
		n := &Node{QualifiedName: tt.qualified, Kind: KindFunction}
		if n.Name() != tt.name {
			t.Errorf("Name(%s) = %s, want %s", tt.qualified, n.Name(), tt.name)
		}
		if ParentName(tt.qualified) != tt.parent {
			t.Errorf("ParentName(%s) = %s, want %s", tt.qualified, ParentName(tt.qualified), tt.parent)
		}
	}
}

func TestKind_RoundTrip(t *testing.T) {
	for k := KindPackage; k <= KindExternal; k++ {
		got, err := ParseKind(k.String())
		if err != nil || got != k {
			t.Errorf("ParseKind(%q) = (%v, %v), want %v", k.String(), got, err, k)
		}
	}
	if _, err := ParseKind("unknown"); err == nil {
		t.Error("ParseKind(unknown) should fail")
	}
}

func TestDecoratorFlags(t *testing.T) {
	flag, ok := RecognizedDecorator("staticmethod")
	if !ok || flag != DecoratorStaticMethod {
		t.Fatalf("RecognizedDecorator(staticmethod) = (%v, %v)", flag, ok)
	}
	if _, ok := RecognizedDecorator("lru_cache"); ok {
		t.Error("lru_cache should not be recognized")
	}
	d := DecoratorStaticMethod | DecoratorProperty
	if got := fmt.Sprint(d.Names()); got != "[staticmethod property]" {
		t.Errorf("Names() = %s", got)
	}
}
