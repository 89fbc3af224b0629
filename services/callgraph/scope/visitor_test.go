// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package scope

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/pycallgraph/services/callgraph/ast"
	"github.com/AleutianAI/pycallgraph/services/callgraph/graph"
	"github.com/AleutianAI/pycallgraph/services/callgraph/source"
)

func visitSource(t *testing.T, module, src string) *FileResult {
	t.Helper()
	ctx := context.Background()
	tree, err := ast.NewParser().Parse(ctx, []byte(src), module+".py")
	require.NoError(t, err)
	defer tree.Close()

	res, err := Visit(ctx, tree, source.File{Path: module + ".py", Module: module})
	require.NoError(t, err)
	return res
}

func nodeMap(res *FileResult) map[string]*graph.Node {
	out := make(map[string]*graph.Node, len(res.Nodes))
	for _, n := range res.Nodes {
		out[n.QualifiedName] = n
	}
	return out
}

// refChains returns "from -> chain" for every name ref.
func refChains(res *FileResult) []string {
	var out []string
	for _, r := range res.Refs {
		if r.Kind == RefName {
			out = append(out, r.From+" -> "+r.Chain())
		}
	}
	return out
}

const definitionsSource = `
class A:
    factory = make

    def __init__(self, b):
        self.b = b
        self.c = helper(b)

    @staticmethod
    def static_method():
        def inner():
            pass
        return inner

    @property
    def value(self):
        return self.b

    @value.setter
    def value(self, v):
        self.b = v


def top():
    pass

CONSTANT = 1
ALIAS = top
`

func TestVisit_Definitions(t *testing.T) {
	res := visitSource(t, "pkg.mod", definitionsSource)
	nodes := nodeMap(res)

	tests := []struct {
		name string
		kind graph.Kind
	}{
		{"pkg.mod.A", graph.KindClass},
		{"pkg.mod.A.factory", graph.KindAttribute},
		{"pkg.mod.A.__init__", graph.KindMethod},
		{"pkg.mod.A.b", graph.KindAttribute},
		{"pkg.mod.A.c", graph.KindAttribute},
		{"pkg.mod.A.static_method", graph.KindMethod},
		{"pkg.mod.A.static_method.inner", graph.KindFunction},
		{"pkg.mod.A.value", graph.KindMethod},
		{"pkg.mod.top", graph.KindFunction},
		{"pkg.mod.CONSTANT", graph.KindAttribute},
		{"pkg.mod.ALIAS", graph.KindAttribute},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, ok := nodes[tt.name]
			require.True(t, ok, "missing %s", tt.name)
			assert.Equal(t, tt.kind, n.Kind)
			assert.Equal(t, graph.ParentName(tt.name), n.Parent)
		})
	}

	assert.Len(t, res.Nodes, len(tests), "no duplicate or extra nodes")
	assert.NotContains(t, nodes, "pkg.mod.A.staticmethod")
	assert.NotContains(t, nodes, "pkg.mod.A.property")

	static := nodes["pkg.mod.A.static_method"]
	assert.True(t, static.IsDecoratedStatic)
	assert.True(t, static.Decorators.Has(graph.DecoratorStaticMethod))
	assert.True(t, nodes["pkg.mod.A.value"].Decorators.Has(graph.DecoratorProperty))
	assert.False(t, nodes["pkg.mod.A.__init__"].IsDecoratedStatic)

	assert.Contains(t, res.Defines, Edge{From: "pkg.mod", To: "pkg.mod.A"})
	assert.Contains(t, res.Defines, Edge{From: "pkg.mod.A", To: "pkg.mod.A.b"})
	assert.Contains(t, res.Defines, Edge{From: "pkg.mod.A.static_method", To: "pkg.mod.A.static_method.inner"})

	require.Contains(t, res.AttrValues, "pkg.mod.ALIAS")
	assert.Equal(t, []string{"top"}, res.AttrValues["pkg.mod.ALIAS"].Names)
	assert.NotContains(t, res.AttrValues, "pkg.mod.CONSTANT")
	assert.True(t, res.AttrValues["pkg.mod.A.c"].Call)
}

func TestVisit_DecoratorsAreNotReferences(t *testing.T) {
	res := visitSource(t, "m", definitionsSource)
	for _, chain := range refChains(res) {
		assert.NotContains(t, chain, "staticmethod")
		assert.NotContains(t, chain, "property")
		assert.NotContains(t, chain, "setter")
	}
}

func TestVisit_References(t *testing.T) {
	src := `
import os.path
from . import sibling

@register
def f(x=DEFAULT):
    os.path.join(x, "a")
    sibling.g().h
    [y for y in items if check(y)]
    return lambda z: transform(z)

class C(Base, metaclass=Meta):
    attr = compute()
`
	res := visitSource(t, "m", src)
	chains := refChains(res)

	for _, want := range []string{
		"m -> register",
		"m -> DEFAULT",
		"m.f -> os.path.join",
		"m.f -> sibling.g",
		"m.f -> items",
		"m.f -> check",
		"m.f -> transform",
		"m.C -> Base",
		"m.C -> Meta",
		"m.C -> compute",
	} {
		assert.Contains(t, chains, want)
	}
	for _, unwanted := range []string{"m -> x", "m -> os.path.join", "m -> check", "m.f -> register"} {
		assert.NotContains(t, chains, unwanted)
	}

	t.Run("call base", func(t *testing.T) {
		var found *Ref
		for _, r := range res.Refs {
			if r.Base != nil {
				found = r
			}
		}
		require.NotNil(t, found)
		assert.Equal(t, []string{"h"}, found.Names)
		assert.Equal(t, []string{"sibling", "g"}, found.Base.Names)
		assert.True(t, found.Base.Call)
	})

	t.Run("bases", func(t *testing.T) {
		require.Len(t, res.Bases["m.C"], 1)
		assert.Equal(t, "Base", res.Bases["m.C"][0].Chain())
	})

	t.Run("lines", func(t *testing.T) {
		for _, r := range res.Refs {
			if r.Chain() == "os.path.join" {
				assert.Equal(t, 7, r.Line)
			}
		}
	})
}

func TestVisit_Imports(t *testing.T) {
	src := `
import a.b.c
import x.y as xy
from ..pkg import thing as other, plain
from . import sibling
from star import *
`
	res := visitSource(t, "p.q.m", src)
	mod := res.ModuleScope

	tests := []struct {
		bound string
		want  Import
	}{
		{"a", Import{Module: "a"}},
		{"xy", Import{Module: "x.y"}},
		{"other", Import{Module: "pkg", Level: 2, Name: "thing"}},
		{"plain", Import{Module: "pkg", Level: 2, Name: "plain"}},
		{"sibling", Import{Level: 1, Name: "sibling"}},
	}
	for _, tt := range tests {
		t.Run(tt.bound, func(t *testing.T) {
			b, ok := mod.Lookup(tt.bound)
			require.True(t, ok)
			assert.Equal(t, BindImport, b.Kind)
			assert.Equal(t, tt.want, *b.Import)
		})
	}

	_, ok := mod.Lookup("thing")
	assert.False(t, ok, "aliased name is not bound")

	require.Len(t, mod.Stars(), 1)
	assert.Equal(t, "star", mod.Stars()[0].Module)

	var imports []string
	for _, r := range res.Refs {
		if r.Kind != RefName {
			imports = append(imports, r.Import.String())
		}
	}
	assert.Equal(t, []string{
		"import a.b.c",
		"import x.y",
		"from ..pkg import thing",
		"from ..pkg import plain",
		"from . import sibling",
		"import star",
	}, imports)
}

func TestVisit_Scopes(t *testing.T) {
	src := `
counter = 0

class K:
    size = 3

    def method(self, arg):
        local = K()
        other = arg
        for item in arg:
            pass
        return size

    @classmethod
    def build(cls):
        return cls()

def bump():
    global counter
    counter = counter + 1
`
	res := visitSource(t, "m", src)

	k := res.ClassScopes["m.K"]
	require.NotNil(t, k)
	assert.Equal(t, KindClass, k.Kind)
	assert.Equal(t, res.ModuleScope, k.Parent)

	size, ok := k.Lookup("size")
	require.True(t, ok)
	assert.Equal(t, BindNode, size.Kind)
	assert.Equal(t, "m.K.size", size.Target)

	var methodScope, buildScope, bumpScope *Scope
	for _, r := range res.Refs {
		switch r.From {
		case "m.K.method":
			methodScope = r.Scope
		case "m.K.build":
			buildScope = r.Scope
		case "m.bump":
			bumpScope = r.Scope
		}
	}
	require.NotNil(t, methodScope)
	require.NotNil(t, buildScope)
	require.NotNil(t, bumpScope)

	assert.Equal(t, KindFunction, methodScope.Kind)
	assert.Equal(t, k, methodScope.Parent)

	self, _ := methodScope.Lookup("self")
	assert.Equal(t, BindNode, self.Kind)
	assert.Equal(t, "m.K", self.Target)

	cls, _ := buildScope.Lookup("cls")
	assert.Equal(t, BindNode, cls.Kind)
	assert.Equal(t, "m.K", cls.Target)

	for name, want := range map[string]BindingKind{"arg": BindOpaque, "local": BindValue, "other": BindValue, "item": BindOpaque} {
		b, ok := methodScope.Lookup(name)
		require.True(t, ok, name)
		assert.Equal(t, want, b.Kind, name)
	}
	local, _ := methodScope.Lookup("local")
	assert.True(t, local.Value.Call)

	_, ok = bumpScope.Lookup("counter")
	assert.False(t, ok, "global names are not bound locally")
	counter, ok := res.ModuleScope.Lookup("counter")
	require.True(t, ok)
	assert.Equal(t, "m.counter", counter.Target)
	assert.Equal(t, []string{"K", "bump", "counter"}, res.ModuleScope.Names())
}

func TestVisit_ChainedAssignment(t *testing.T) {
	res := visitSource(t, "m", "a = b = target\n")
	require.Contains(t, res.AttrValues, "m.a")
	require.Contains(t, res.AttrValues, "m.b")
	assert.Equal(t, "target", res.AttrValues["m.a"].Chain())
	assert.Same(t, res.AttrValues["m.a"], res.AttrValues["m.b"])
}

func TestVisit_TupleTargets(t *testing.T) {
	res := visitSource(t, "m", "x, (y, z) = pair()\n")
	nodes := nodeMap(res)
	for _, name := range []string{"m.x", "m.y", "m.z"} {
		assert.Contains(t, nodes, name)
		assert.NotContains(t, res.AttrValues, name)
	}
}

func TestVisit_Canceled(t *testing.T) {
	var b []byte
	for i := 0; i < 2*cancelCheckInterval; i++ {
		b = append(b, "call()\n"...)
	}
	tree, err := ast.NewParser().Parse(context.Background(), b, "big.py")
	require.NoError(t, err)
	defer tree.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Visit(ctx, tree, source.File{Path: "big.py", Module: "big"})
	assert.ErrorIs(t, err, context.Canceled)
}
