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
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestFilter_Down(t *testing.T) {
	g := buildTestGraph(t)

	if err := g.Filter(context.Background(), "pkg.a.f", true, false); err != nil {
		t.Fatalf("Filter: %v", err)
	}

	got := fmt.Sprint(names(g.AllNodes()))
	want := "[os.path.join pkg.a.f pkg.a.g pkg.b.h]"
	if got != want {
		t.Errorf("nodes = %s, want %s", got, want)
	}
	if !g.HasUse("pkg.a.g", "pkg.b.h") {
		t.Error("edge pkg.a.g -> pkg.b.h should survive")
	}
	if g.DefinesEdgeCount() != 0 {
		t.Errorf("defines edges = %d, want 0 (all owners removed)", g.DefinesEdgeCount())
	}
}

func TestFilter_Up(t *testing.T) {
	g := buildTestGraph(t)

	if err := g.Filter(context.Background(), "pkg.a.g", false, true); err != nil {
		t.Fatalf("Filter: %v", err)
	}

	got := fmt.Sprint(names(g.AllNodes()))
	want := "[pkg.a.f pkg.a.g pkg.b.C.m]"
	if got != want {
		t.Errorf("nodes = %s, want %s", got, want)
	}
	if !g.HasUse("pkg.b.C.m", "pkg.a.f") {
		t.Error("edge pkg.b.C.m -> pkg.a.f should survive")
	}
	if len(g.UsesOf("pkg.a.g")) != 0 {
		t.Errorf("pkg.a.g should have no surviving uses, got %v", names(g.UsesOf("pkg.a.g")))
	}
}

func TestFilter_Both(t *testing.T) {
	g := buildTestGraph(t)

	if err := g.Filter(context.Background(), "pkg.a.g", true, true); err != nil {
		t.Fatalf("Filter: %v", err)
	}

	got := fmt.Sprint(names(g.AllNodes()))
	want := "[os.path.join pkg.a.f pkg.a.g pkg.b.C.m pkg.b.h]"
	if got != want {
		t.Errorf("nodes = %s, want %s", got, want)
	}
}

func TestFilter_NeitherFlagIsNoop(t *testing.T) {
	g := buildTestGraph(t)
	before := g.Hash()

	if err := g.Filter(context.Background(), "pkg.a.g", false, false); err != nil {
		t.Fatalf("Filter: %v", err)
	}
	if g.Hash() != before {
		t.Error("filter with no direction changed the graph")
	}
}

func TestFilter_UnknownTarget(t *testing.T) {
	g := buildTestGraph(t)
	before := g.Hash()
	count := g.NodeCount()

	err := g.Filter(context.Background(), "pkg.nope", true, true)
	if !errors.Is(err, ErrNodeNotFound) {
		t.Fatalf("err = %v, want ErrNodeNotFound", err)
	}
	if !strings.Contains(err.Error(), "pkg.nope") {
		t.Errorf("error %q should name the missing target", err)
	}
	if g.Hash() != before || g.NodeCount() != count {
		t.Error("failed filter mutated the graph")
	}
}

func TestFilter_Idempotent(t *testing.T) {
	for _, dir := range []struct {
		name     string
		down, up bool
	}{
		{"down", true, false},
		{"up", false, true},
		{"both", true, true},
	} {
		t.Run(dir.name, func(t *testing.T) {
			g := buildTestGraph(t)
			ctx := context.Background()

			if err := g.Filter(ctx, "pkg.a.g", dir.down, dir.up); err != nil {
				t.Fatal(err)
			}
			once := g.Hash()
			if err := g.Filter(ctx, "pkg.a.g", dir.down, dir.up); err != nil {
				t.Fatal(err)
			}
			if g.Hash() != once {
				t.Error("second filter changed the graph")
			}
		})
	}
}

// A downward filter keeps only the target and what it reaches, so a caller
// of the target disappears along with its edge into the target. The upward
// filter keeps that caller and its edge.
func TestFilter_DirectionAsymmetry(t *testing.T) {
	ctx := context.Background()

	down := buildTestGraph(t)
	if err := down.Filter(ctx, "pkg.a.g", true, false); err != nil {
		t.Fatal(err)
	}
	if _, ok := down.GetNode("pkg.a.f"); ok {
		t.Error("caller pkg.a.f should not survive a downward filter")
	}
	if down.HasUse("pkg.a.f", "pkg.a.g") {
		t.Error("edge from removed caller should be gone")
	}

	up := buildTestGraph(t)
	if err := up.Filter(ctx, "pkg.a.g", false, true); err != nil {
		t.Fatal(err)
	}
	if !up.HasUse("pkg.a.f", "pkg.a.g") {
		t.Error("upward filter should keep pkg.a.f -> pkg.a.g")
	}
}

func TestFilter_CycleTerminates(t *testing.T) {
	g := NewCallGraph("/p")
	for _, name := range []string{"m.a", "m.b", "m.c"} {
		g.AddNode(&Node{QualifiedName: name, Kind: KindFunction})
	}
	g.AddUses("m.a", "m.b")
	g.AddUses("m.b", "m.a")
	g.AddUses("m.c", "m.c")

	if err := g.Filter(context.Background(), "m.a", true, false); err != nil {
		t.Fatal(err)
	}
	if got := fmt.Sprint(names(g.AllNodes())); got != "[m.a m.b]" {
		t.Errorf("nodes = %s", got)
	}
}
