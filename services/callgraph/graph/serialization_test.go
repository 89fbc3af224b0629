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
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSerialization_RoundTrip(t *testing.T) {
	g := buildTestGraph(t)
	static, _, _ := g.AddNode(&Node{
		QualifiedName:     "pkg.b.C.s",
		Kind:              KindMethod,
		Parent:            "pkg.b.C",
		IsDecoratedStatic: true,
		Decorators:        DecoratorStaticMethod,
	})
	require.NoError(t, g.AddDefines("pkg.b.C", static.QualifiedName))

	data, err := json.Marshal(g.ToSerializable())
	require.NoError(t, err)

	var sg SerializableGraph
	require.NoError(t, json.Unmarshal(data, &sg))

	restored, err := FromSerializable(&sg)
	require.NoError(t, err)

	assert.Equal(t, g.Hash(), restored.Hash())
	assert.Equal(t, g.BuiltAtMilli, restored.BuiltAtMilli)
	assert.Equal(t, g.ProjectRoot, restored.ProjectRoot)
	assert.Equal(t, names(g.DefinesOf("pkg.b.C")), names(restored.DefinesOf("pkg.b.C")))

	n, ok := restored.GetNode("pkg.b.C.s")
	require.True(t, ok)
	assert.Equal(t, KindMethod, n.Kind)
	assert.True(t, n.IsDecoratedStatic)
	assert.True(t, n.Decorators.Has(DecoratorStaticMethod))

	ext, ok := restored.GetNode("os.path.join")
	require.True(t, ok)
	assert.Equal(t, KindExternal, ext.Kind)
}

func TestSerialization_Deterministic(t *testing.T) {
	a, err := json.Marshal(buildTestGraph(t).ToSerializable())
	require.NoError(t, err)

	g := buildTestGraph(t)
	b, err := json.Marshal(g.ToSerializable())
	require.NoError(t, err)

	// BuiltAtMilli may differ between the two builds.
	var sa, sb SerializableGraph
	require.NoError(t, json.Unmarshal(a, &sa))
	require.NoError(t, json.Unmarshal(b, &sb))
	sa.BuiltAtMilli, sb.BuiltAtMilli = 0, 0
	assert.Equal(t, sa, sb)
}

func TestFromSerializable_Errors(t *testing.T) {
	tests := []struct {
		name string
		sg   *SerializableGraph
	}{
		{"nil", nil},
		{"wrong version", &SerializableGraph{SchemaVersion: "0"}},
		{"bad kind", &SerializableGraph{
			SchemaVersion: GraphSchemaVersion,
			Nodes:         []SerializableNode{{Node: Node{QualifiedName: "x"}, KindName: "widget"}},
		}},
		{"dangling edge", &SerializableGraph{
			SchemaVersion: GraphSchemaVersion,
			Nodes:         []SerializableNode{{Node: Node{QualifiedName: "x"}, KindName: "function"}},
			Uses:          []SerializableEdge{{From: "x", To: "y"}},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromSerializable(tt.sg)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidSnapshot), "err = %v", err)
		})
	}
}
