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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiffGraphs_Identical(t *testing.T) {
	d, err := DiffGraphs(buildTestGraph(t), buildTestGraph(t), "a", "b")
	require.NoError(t, err)
	assert.True(t, d.IsEmpty())
	assert.Empty(t, d.NodesAdded)
	assert.Empty(t, d.UsesAdded)
}

func TestDiffGraphs_Changes(t *testing.T) {
	base := buildTestGraph(t)
	target := buildTestGraph(t)

	_, _, err := target.AddNode(&Node{QualifiedName: "pkg.a.k", Kind: KindFunction, Parent: "pkg.a", FilePath: "pkg/a.py", Line: 20})
	require.NoError(t, err)
	require.NoError(t, target.AddDefines("pkg.a", "pkg.a.k"))
	require.NoError(t, target.AddUses("pkg.a.k", "pkg.a.f"))

	d, err := DiffGraphs(base, target, "base", "target")
	require.NoError(t, err)

	assert.Equal(t, []string{"pkg.a.k"}, d.NodesAdded)
	assert.Empty(t, d.NodesRemoved)
	assert.Equal(t, []SerializableEdge{{From: "pkg.a.k", To: "pkg.a.f"}}, d.UsesAdded)
	assert.Equal(t, 1, d.DefinesAdded)
	assert.Equal(t, 1, d.Summary.FilesAffected)
	assert.Equal(t, 3, d.Summary.TotalChanges)
}

func TestDiffGraphs_AfterFilter(t *testing.T) {
	base := buildTestGraph(t)
	target := buildTestGraph(t)
	require.NoError(t, target.Filter(context.Background(), "pkg.a.f", true, false))

	d, err := DiffGraphs(base, target, "", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"pkg", "pkg.a", "pkg.b", "pkg.b.C", "pkg.b.C.m"}, d.NodesRemoved)
	assert.Len(t, d.UsesRemoved, 2)
	assert.Equal(t, 7, d.DefinesRemoved)
}

func TestDiffGraphs_Nil(t *testing.T) {
	_, err := DiffGraphs(nil, buildTestGraph(t), "", "")
	assert.Error(t, err)
	_, err = DiffGraphs(buildTestGraph(t), nil, "", "")
	assert.Error(t, err)
}
