// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ast

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestParser_Parse(t *testing.T) {
	ctx := context.Background()

	t.Run("valid source", func(t *testing.T) {
		p := NewParser()
		tree, err := p.Parse(ctx, []byte("def hello():\n    return 1\n"), "hello.py")
		if err != nil {
			t.Fatalf("Parse: %v", err)
		}
		defer tree.Close()

		root := tree.Root()
		if root.Type() != "module" {
			t.Errorf("root type = %s, want module", root.Type())
		}
		fn := root.NamedChild(0)
		if fn.Type() != "function_definition" {
			t.Fatalf("first statement = %s", fn.Type())
		}
		if got := tree.Text(fn.ChildByFieldName("name")); got != "hello" {
			t.Errorf("function name = %q", got)
		}
		if tree.HasErrors {
			t.Error("HasErrors should be false")
		}
		if len(tree.Hash) != 64 {
			t.Errorf("hash length = %d", len(tree.Hash))
		}
	})

	t.Run("syntax error rejected by default", func(t *testing.T) {
		p := NewParser()
		_, err := p.Parse(ctx, []byte("def broken(:\n    pass\n"), "broken.py")
		if !errors.Is(err, ErrSyntax) {
			t.Fatalf("err = %v, want ErrSyntax", err)
		}
		var perr *ParseError
		if !errors.As(err, &perr) {
			t.Fatalf("err is not a *ParseError: %T", err)
		}
		if perr.FilePath != "broken.py" || perr.Line != 1 {
			t.Errorf("ParseError location = %s:%d", perr.FilePath, perr.Line)
		}
	})

	t.Run("syntax error tolerated when configured", func(t *testing.T) {
		p := NewParser(WithTolerateSyntaxErrors(true))
		tree, err := p.Parse(ctx, []byte("def broken(:\n    pass\n"), "broken.py")
		if err != nil {
			t.Fatalf("Parse: %v", err)
		}
		defer tree.Close()
		if !tree.HasErrors {
			t.Error("HasErrors should be true")
		}
	})

	t.Run("file too large", func(t *testing.T) {
		p := NewParser(WithMaxFileSize(8))
		_, err := p.Parse(ctx, []byte(strings.Repeat("x = 1\n", 4)), "big.py")
		if !errors.Is(err, ErrFileTooLarge) {
			t.Errorf("err = %v, want ErrFileTooLarge", err)
		}
	})

	t.Run("invalid utf8", func(t *testing.T) {
		p := NewParser()
		_, err := p.Parse(ctx, []byte{'x', '=', 0xff, 0xfe}, "bad.py")
		if !errors.Is(err, ErrInvalidContent) {
			t.Errorf("err = %v, want ErrInvalidContent", err)
		}
	})

	t.Run("canceled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := NewParser().Parse(cctx, []byte("x = 1\n"), "x.py")
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	})
}

func TestFirstError_CleanTree(t *testing.T) {
	tree, err := NewParser().Parse(context.Background(), []byte("import os\n"), "ok.py")
	if err != nil {
		t.Fatal(err)
	}
	defer tree.Close()
	if FirstError(tree.Root()) != nil {
		t.Error("FirstError on a clean tree should be nil")
	}
}
