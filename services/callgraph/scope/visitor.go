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
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/AleutianAI/pycallgraph/services/callgraph/ast"
	"github.com/AleutianAI/pycallgraph/services/callgraph/graph"
	"github.com/AleutianAI/pycallgraph/services/callgraph/source"
)

// MaxNestingDepth bounds recursion into deeply nested expressions. Deeper
// subtrees are skipped.
const MaxNestingDepth = 512

// cancelCheckInterval is how many nodes are visited between context checks.
const cancelCheckInterval = 256

type visitor struct {
	ctx     context.Context
	tree    *ast.Tree
	file    source.File
	res     *FileResult
	scope   *Scope
	from    string
	defined map[string]struct{}
	depth   int
	visited int
	err     error
}

// Visit extracts the definitions, bindings and references of one file.
//
// Description:
//
//	The module frame is owned by file.Module. Classes, functions, methods
//	and module or class level assignments become nodes; `self.x = ...` in a
//	method becomes an ATTRIBUTE of the class. staticmethod, classmethod and
//	property decorators are recorded as node flags and never as references.
//	Every other name read, attribute access, call, import, class base and
//	decorator becomes a Ref owned by the innermost definition.
//
// Inputs:
//
//	ctx - Checked periodically for cancellation.
//	tree - Parsed file. Not retained after Visit returns.
//	file - The file's resolved module name and paths.
//
// Outputs:
//
//	*FileResult - Extracted data.
//	error - ctx.Err() if cancelled.
//
// Thread Safety:
//
//	Safe to call concurrently for different trees.
func Visit(ctx context.Context, tree *ast.Tree, file source.File) (*FileResult, error) {
	module := NewScope(KindModule, file.Module, nil, file.Module)
	v := &visitor{
		ctx:  ctx,
		tree: tree,
		file: file,
		res: &FileResult{
			File:        file,
			ModuleScope: module,
			Bases:       make(map[string][]*Ref),
			ClassScopes: make(map[string]*Scope),
			AttrValues:  make(map[string]*Ref),
		},
		scope:   module,
		from:    file.Module,
		defined: make(map[string]struct{}),
	}

	v.visitChildren(tree.Root())
	if v.err != nil {
		return nil, v.err
	}
	return v.res, nil
}

// visit dispatches on the node type. Statement and expression nodes share
// one walker; unhandled types recurse into their named children.
func (v *visitor) visit(n *sitter.Node) {
	if n == nil || v.err != nil {
		return
	}
	if v.visited++; v.visited%cancelCheckInterval == 0 {
		if err := v.ctx.Err(); err != nil {
			v.err = err
			return
		}
	}
	if v.depth >= MaxNestingDepth {
		return
	}
	v.depth++
	defer func() { v.depth-- }()

	switch n.Type() {
	case "class_definition":
		v.visitClass(n, nil)
	case "function_definition":
		v.visitFunction(n, nil)
	case "decorated_definition":
		v.visitDecorated(n)
	case "import_statement":
		v.visitImport(n)
	case "import_from_statement":
		v.visitImportFrom(n)
	case "future_import_statement", "comment", "string_content", "escape_sequence":
	case "assignment":
		v.visitAssignment(n)
	case "augmented_assignment":
		v.expr(n.ChildByFieldName("left"))
		v.expr(n.ChildByFieldName("right"))
	case "for_statement":
		v.visitFor(n)
	case "with_item":
		v.visitWithItem(n)
	case "except_clause":
		v.visitExcept(n)
	case "global_statement", "nonlocal_statement":
		for i := 0; i < int(n.NamedChildCount()); i++ {
			if c := n.NamedChild(i); c.Type() == "identifier" {
				v.scope.Declare(v.tree.Text(c))
			}
		}
	case "identifier", "attribute", "call":
		v.expr(n)
	case "lambda":
		v.visitLambda(n)
	case "list_comprehension", "set_comprehension", "dictionary_comprehension", "generator_expression":
		v.visitComprehension(n)
	case "named_expression":
		value := v.expr(n.ChildByFieldName("value"))
		if name := n.ChildByFieldName("name"); name != nil {
			v.bindLocal(v.tree.Text(name), value, line(name))
		}
	case "keyword_argument":
		v.visit(n.ChildByFieldName("value"))
	default:
		v.visitChildren(n)
	}
}

func (v *visitor) visitChildren(n *sitter.Node) {
	if n == nil {
		return
	}
	for i := 0; i < int(n.NamedChildCount()); i++ {
		v.visit(n.NamedChild(i))
	}
}

// expr visits an expression and returns its reference when it is a name,
// attribute chain or call of one. The returned ref is already recorded.
func (v *visitor) expr(n *sitter.Node) *Ref {
	if n == nil {
		return nil
	}
	switch n.Type() {
	case "identifier", "attribute":
		names, base, ok := v.chain(n)
		if !ok {
			return nil
		}
		return v.record(&Ref{Kind: RefName, Names: names, Base: base, Line: line(n)})
	case "call":
		return v.call(n)
	case "parenthesized_expression":
		if n.NamedChildCount() == 1 {
			return v.expr(n.NamedChild(0))
		}
	}
	v.visit(n)
	return nil
}

// chain flattens identifier and attribute nodes into a dotted name list.
// A chain rooted at a call returns the call as base. ok is false when the
// expression does not start at a name or call; its parts are still visited.
func (v *visitor) chain(n *sitter.Node) (names []string, base *Ref, ok bool) {
	switch n.Type() {
	case "identifier":
		return []string{v.tree.Text(n)}, nil, true
	case "attribute":
		object := n.ChildByFieldName("object")
		attr := n.ChildByFieldName("attribute")
		if object == nil || attr == nil {
			v.visitChildren(n)
			return nil, nil, false
		}
		if object.Type() == "call" {
			base := v.call(object)
			if base == nil {
				return nil, nil, false
			}
			return []string{v.tree.Text(attr)}, base, true
		}
		names, base, ok := v.chain(object)
		if !ok {
			return nil, nil, false
		}
		return append(names, v.tree.Text(attr)), base, true
	default:
		v.visit(n)
		return nil, nil, false
	}
}

// call records the callee and visits the arguments. The returned ref is
// the callee flagged as a call, for use as a value.
func (v *visitor) call(n *sitter.Node) *Ref {
	callee := v.expr(n.ChildByFieldName("function"))
	v.visit(n.ChildByFieldName("arguments"))
	if callee == nil {
		return nil
	}
	called := *callee
	called.Call = true
	return &called
}

func (v *visitor) record(r *Ref) *Ref {
	r.From = v.from
	r.Scope = v.scope
	v.res.Refs = append(v.res.Refs, r)
	return r
}

func (v *visitor) define(n *graph.Node) {
	if _, ok := v.defined[n.QualifiedName]; !ok {
		v.defined[n.QualifiedName] = struct{}{}
		v.res.Nodes = append(v.res.Nodes, n)
	}
	if n.Parent != "" {
		v.res.Defines = append(v.res.Defines, Edge{From: n.Parent, To: n.QualifiedName})
	}
}

func (v *visitor) push(kind Kind, owner string) *Scope {
	s := NewScope(kind, owner, v.scope, v.file.Module)
	v.scope = s
	v.from = owner
	return s
}

func (v *visitor) pop(saved *Scope, savedFrom string) {
	v.scope = saved
	v.from = savedFrom
}

// visitDecorated separates recognized decorators from the rest. Only the
// rest become references, made from the enclosing owner.
func (v *visitor) visitDecorated(n *sitter.Node) {
	var decorators []*sitter.Node
	for i := 0; i < int(n.NamedChildCount()); i++ {
		if c := n.NamedChild(i); c.Type() == "decorator" {
			decorators = append(decorators, c)
		}
	}
	def := n.ChildByFieldName("definition")
	if def == nil {
		return
	}
	switch def.Type() {
	case "class_definition":
		v.visitClass(def, decorators)
	case "function_definition":
		v.visitFunction(def, decorators)
	}
}

func (v *visitor) decoratorFlags(decorators []*sitter.Node) graph.DecoratorFlags {
	var flags graph.DecoratorFlags
	for _, d := range decorators {
		if d.NamedChildCount() == 0 {
			continue
		}
		expr := d.NamedChild(0)
		switch expr.Type() {
		case "identifier":
			if f, ok := graph.RecognizedDecorator(v.tree.Text(expr)); ok {
				flags |= f
				continue
			}
		case "attribute":
			// @x.setter and friends refine an existing property.
			switch v.tree.Text(expr.ChildByFieldName("attribute")) {
			case "setter", "getter", "deleter":
				flags |= graph.DecoratorProperty
				continue
			}
		}
		v.expr(expr)
	}
	return flags
}

func (v *visitor) visitClass(n *sitter.Node, decorators []*sitter.Node) {
	nameNode := n.ChildByFieldName("name")
	if nameNode == nil {
		return
	}
	outer := v.scope
	qname := graph.Join(outer.Owner, v.tree.Text(nameNode))

	flags := v.decoratorFlags(decorators)
	v.define(&graph.Node{
		QualifiedName: qname,
		Kind:          graph.KindClass,
		Parent:        outer.Owner,
		FilePath:      v.file.Path,
		Line:          line(n),
		Decorators:    flags,
	})

	// Bases belong to the class but are evaluated in the enclosing frame.
	if supers := n.ChildByFieldName("superclasses"); supers != nil {
		savedFrom := v.from
		v.from = qname
		var bases []*Ref
		for i := 0; i < int(supers.NamedChildCount()); i++ {
			arg := supers.NamedChild(i)
			if arg.Type() == "keyword_argument" {
				v.visit(arg)
				continue
			}
			if r := v.expr(arg); r != nil {
				bases = append(bases, r)
			}
		}
		v.from = savedFrom
		if len(bases) > 0 {
			v.res.Bases[qname] = bases
		}
	}

	outer.Bind(v.tree.Text(nameNode), &Binding{Kind: BindNode, Target: qname, Line: line(n)})

	savedFrom := v.from
	body := v.push(KindClass, qname)
	v.res.ClassScopes[qname] = body
	v.visitChildren(n.ChildByFieldName("body"))
	v.pop(outer, savedFrom)
}

func (v *visitor) visitFunction(n *sitter.Node, decorators []*sitter.Node) {
	nameNode := n.ChildByFieldName("name")
	if nameNode == nil {
		return
	}
	outer := v.scope
	name := v.tree.Text(nameNode)
	qname := graph.Join(outer.Owner, name)

	kind := graph.KindFunction
	if outer.Kind == KindClass {
		kind = graph.KindMethod
	}

	flags := v.decoratorFlags(decorators)
	v.define(&graph.Node{
		QualifiedName:     qname,
		Kind:              kind,
		Parent:            outer.Owner,
		FilePath:          v.file.Path,
		Line:              line(n),
		IsDecoratedStatic: kind == graph.KindMethod && flags.Has(graph.DecoratorStaticMethod),
		Decorators:        flags,
	})

	// Defaults and annotations are evaluated where the def statement runs.
	params := v.parameters(n.ChildByFieldName("parameters"))
	v.visit(n.ChildByFieldName("return_type"))

	outer.Bind(name, &Binding{Kind: BindNode, Target: qname, Line: line(n)})

	savedFrom := v.from
	body := v.push(KindFunction, qname)
	for i, p := range params {
		if i == 0 && kind == graph.KindMethod && !flags.Has(graph.DecoratorStaticMethod) {
			body.Bind(p, &Binding{Kind: BindNode, Target: outer.Owner, Line: line(n)})
			body.selfName = p
			body.selfClass = outer.Owner
			continue
		}
		body.Bind(p, &Binding{Kind: BindOpaque, Line: line(n)})
	}
	v.visitChildren(n.ChildByFieldName("body"))
	v.pop(outer, savedFrom)
}

// parameters returns the parameter names in order and visits default
// values and annotations in the current frame.
func (v *visitor) parameters(n *sitter.Node) []string {
	if n == nil {
		return nil
	}
	var names []string
	for i := 0; i < int(n.NamedChildCount()); i++ {
		p := n.NamedChild(i)
		switch p.Type() {
		case "identifier":
			names = append(names, v.tree.Text(p))
		case "default_parameter", "typed_default_parameter":
			if name := p.ChildByFieldName("name"); name != nil {
				names = append(names, v.tree.Text(name))
			}
			v.visit(p.ChildByFieldName("type"))
			v.visit(p.ChildByFieldName("value"))
		case "typed_parameter":
			for j := 0; j < int(p.NamedChildCount()); j++ {
				c := p.NamedChild(j)
				if c.Type() == "type" {
					v.visit(c)
					continue
				}
				names = append(names, v.patternNames(c)...)
			}
		case "list_splat_pattern", "dictionary_splat_pattern", "tuple_pattern":
			names = append(names, v.patternNames(p)...)
		}
	}
	return names
}

// patternNames collects identifiers bound by a parameter pattern.
func (v *visitor) patternNames(n *sitter.Node) []string {
	if n.Type() == "identifier" {
		return []string{v.tree.Text(n)}
	}
	var out []string
	for i := 0; i < int(n.NamedChildCount()); i++ {
		out = append(out, v.patternNames(n.NamedChild(i))...)
	}
	return out
}

func (v *visitor) visitLambda(n *sitter.Node) {
	params := v.parameters(n.ChildByFieldName("parameters"))
	outer, savedFrom := v.scope, v.from
	body := v.push(KindFunction, outer.Owner)
	v.from = savedFrom
	for _, p := range params {
		body.Bind(p, &Binding{Kind: BindOpaque, Line: line(n)})
	}
	v.visit(n.ChildByFieldName("body"))
	v.pop(outer, savedFrom)
}

// visitComprehension evaluates the first iterable in the enclosing frame and
// everything else in a frame of its own.
func (v *visitor) visitComprehension(n *sitter.Node) {
	var clauses, rest []*sitter.Node
	for i := 0; i < int(n.NamedChildCount()); i++ {
		c := n.NamedChild(i)
		if c.Type() == "for_in_clause" {
			clauses = append(clauses, c)
		} else {
			rest = append(rest, c)
		}
	}
	if len(clauses) > 0 {
		v.visit(clauses[0].ChildByFieldName("right"))
	}

	outer, savedFrom := v.scope, v.from
	v.push(KindFunction, outer.Owner)
	v.from = savedFrom
	for i, c := range clauses {
		v.bindOpaque(c.ChildByFieldName("left"))
		if i > 0 {
			v.visit(c.ChildByFieldName("right"))
		}
	}
	for _, c := range rest {
		v.visit(c)
	}
	v.pop(outer, savedFrom)
}

// visitAssignment handles `target = value`, including chains, and returns
// the value ref.
func (v *visitor) visitAssignment(n *sitter.Node) *Ref {
	v.visit(n.ChildByFieldName("type"))

	var value *Ref
	if right := n.ChildByFieldName("right"); right != nil {
		if right.Type() == "assignment" {
			value = v.visitAssignment(right)
		} else {
			value = v.expr(right)
		}
	}
	if left := n.ChildByFieldName("left"); left != nil {
		v.bindTarget(left, value, line(n))
	}
	return value
}

// bindTarget binds an assignment target. Module and class level names
// become ATTRIBUTE nodes; function locals become value or opaque bindings.
func (v *visitor) bindTarget(n *sitter.Node, value *Ref, ln int) {
	switch n.Type() {
	case "identifier":
		name := v.tree.Text(n)
		if v.scope.Kind == KindFunction {
			v.bindLocal(name, value, ln)
			return
		}
		qname := graph.Join(v.scope.Owner, name)
		v.defineAttribute(qname, v.scope.Owner, value, ln)
		v.scope.Bind(name, &Binding{Kind: BindNode, Target: qname, Value: value, Line: ln})

	case "attribute":
		object := n.ChildByFieldName("object")
		attr := n.ChildByFieldName("attribute")
		if object != nil && attr != nil && object.Type() == "identifier" {
			if class, ok := v.selfClass(v.tree.Text(object)); ok {
				v.defineAttribute(graph.Join(class, v.tree.Text(attr)), class, value, ln)
				return
			}
		}
		v.expr(object)

	case "pattern_list", "tuple_pattern", "list_pattern", "tuple", "list", "expression_list",
		"parenthesized_expression", "list_splat_pattern", "list_splat":
		for i := 0; i < int(n.NamedChildCount()); i++ {
			v.bindTarget(n.NamedChild(i), nil, ln)
		}

	default:
		v.visit(n)
	}
}

func (v *visitor) defineAttribute(qname, owner string, value *Ref, ln int) {
	v.define(&graph.Node{
		QualifiedName: qname,
		Kind:          graph.KindAttribute,
		Parent:        owner,
		FilePath:      v.file.Path,
		Line:          ln,
	})
	if value != nil {
		v.res.AttrValues[qname] = value
	}
}

// selfClass reports the class behind name when name is the implicit first
// parameter of the enclosing method.
func (v *visitor) selfClass(name string) (string, bool) {
	for s := v.scope; s != nil && s.Kind == KindFunction; s = s.Parent {
		if s.selfName == name {
			return s.selfClass, true
		}
		if _, ok := s.Lookup(name); ok {
			return "", false
		}
	}
	return "", false
}

func (v *visitor) bindLocal(name string, value *Ref, ln int) {
	if value != nil {
		v.scope.Bind(name, &Binding{Kind: BindValue, Value: value, Line: ln})
		return
	}
	v.scope.Bind(name, &Binding{Kind: BindOpaque, Line: ln})
}

// bindOpaque binds loop, with and except targets.
func (v *visitor) bindOpaque(n *sitter.Node) {
	if n == nil {
		return
	}
	switch n.Type() {
	case "identifier":
		v.scope.Bind(v.tree.Text(n), &Binding{Kind: BindOpaque, Line: line(n)})
	case "attribute", "subscript":
		v.visit(n)
	default:
		for i := 0; i < int(n.NamedChildCount()); i++ {
			v.bindOpaque(n.NamedChild(i))
		}
	}
}

func (v *visitor) visitFor(n *sitter.Node) {
	v.visit(n.ChildByFieldName("right"))
	v.bindOpaque(n.ChildByFieldName("left"))
	v.visit(n.ChildByFieldName("body"))
	v.visit(n.ChildByFieldName("alternative"))
}

func (v *visitor) visitWithItem(n *sitter.Node) {
	value := n.ChildByFieldName("value")
	if value == nil {
		v.visitChildren(n)
		return
	}
	if value.Type() == "as_pattern" {
		v.visitAsPattern(value)
		return
	}
	v.visit(value)
	v.bindOpaque(n.ChildByFieldName("alias"))
}

func (v *visitor) visitAsPattern(n *sitter.Node) {
	if n.NamedChildCount() > 0 {
		v.visit(n.NamedChild(0))
	}
	v.bindOpaque(n.ChildByFieldName("alias"))
}

func (v *visitor) visitExcept(n *sitter.Node) {
	afterAs := false
	for i := 0; i < int(n.ChildCount()); i++ {
		c := n.Child(i)
		switch {
		case c.Type() == "as":
			afterAs = true
		case !c.IsNamed():
		case c.Type() == "as_pattern":
			v.visitAsPattern(c)
		case c.Type() == "block":
			v.visit(c)
		case afterAs:
			v.bindOpaque(c)
			afterAs = false
		default:
			v.visit(c)
		}
	}
}

func (v *visitor) visitImport(n *sitter.Node) {
	for i := 0; i < int(n.NamedChildCount()); i++ {
		c := n.NamedChild(i)
		switch c.Type() {
		case "dotted_name":
			full := v.tree.Text(c)
			first, _, _ := strings.Cut(full, ".")
			v.scope.Bind(first, &Binding{Kind: BindImport, Import: &Import{Module: first}, Line: line(n)})
			v.record(&Ref{Kind: RefImport, Import: &Import{Module: full}, Names: strings.Split(full, "."), Line: line(n)})
		case "aliased_import":
			name := c.ChildByFieldName("name")
			alias := c.ChildByFieldName("alias")
			if name == nil || alias == nil {
				continue
			}
			imp := &Import{Module: v.tree.Text(name)}
			v.scope.Bind(v.tree.Text(alias), &Binding{Kind: BindImport, Import: imp, Line: line(n)})
			v.record(&Ref{Kind: RefImport, Import: imp, Names: strings.Split(imp.Module, "."), Line: line(n)})
		}
	}
}

func (v *visitor) visitImportFrom(n *sitter.Node) {
	var module string
	var level int
	if m := n.ChildByFieldName("module_name"); m != nil {
		switch m.Type() {
		case "dotted_name":
			module = v.tree.Text(m)
		case "relative_import":
			for i := 0; i < int(m.NamedChildCount()); i++ {
				c := m.NamedChild(i)
				switch c.Type() {
				case "import_prefix":
					level = strings.Count(v.tree.Text(c), ".")
				case "dotted_name":
					module = v.tree.Text(c)
				}
			}
		}
	}

	sawImport := false
	for i := 0; i < int(n.ChildCount()); i++ {
		c := n.Child(i)
		if c.Type() == "import" {
			sawImport = true
			continue
		}
		if !sawImport || !c.IsNamed() {
			continue
		}

		var name, bound string
		switch c.Type() {
		case "wildcard_import":
			imp := &Import{Module: module, Level: level}
			v.scope.AddStar(imp)
			v.record(&Ref{Kind: RefImport, Import: imp, Line: line(n)})
			continue
		case "dotted_name", "identifier":
			name = v.tree.Text(c)
			bound = name
		case "aliased_import":
			nameNode := c.ChildByFieldName("name")
			alias := c.ChildByFieldName("alias")
			if nameNode == nil || alias == nil {
				continue
			}
			name = v.tree.Text(nameNode)
			bound = v.tree.Text(alias)
		default:
			continue
		}

		imp := &Import{Module: module, Level: level, Name: name}
		v.scope.Bind(bound, &Binding{Kind: BindImport, Import: imp, Line: line(n)})
		v.record(&Ref{Kind: RefFromImport, Import: imp, Names: []string{name}, Line: line(n)})
	}
}

func line(n *sitter.Node) int {
	return int(n.StartPoint().Row) + 1
}
