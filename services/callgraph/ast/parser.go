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
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
	"go.opentelemetry.io/otel/codes"
)

const (
	// DefaultMaxFileSize is the default parse limit (10MB).
	DefaultMaxFileSize int64 = 10 * 1024 * 1024

	// WarnFileSize is the size above which a warning is logged.
	WarnFileSize = 1024 * 1024
)

// ParserOption configures a Parser instance.
type ParserOption func(*Parser)

// WithMaxFileSize sets the maximum file size the parser will accept.
//
// Example:
//
//	parser := NewParser(WithMaxFileSize(5 * 1024 * 1024)) // 5MB limit
func WithMaxFileSize(bytes int64) ParserOption {
	return func(p *Parser) {
		if bytes > 0 {
			p.maxFileSize = bytes
		}
	}
}

// WithTolerateSyntaxErrors makes Parse return the error-recovered tree for
// sources with syntax errors instead of failing with ErrSyntax.
func WithTolerateSyntaxErrors(tolerate bool) ParserOption {
	return func(p *Parser) {
		p.tolerateSyntaxErrors = tolerate
	}
}

// WithLogger sets the logger for diagnostics.
func WithLogger(logger *slog.Logger) ParserOption {
	return func(p *Parser) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// Parser parses Python source with tree-sitter.
//
// Description:
//
//	Each Parse call creates its own tree-sitter parser, so one Parser may
//	be shared by many goroutines. By default a source with syntax errors is
//	rejected, matching the behavior of the Python compiler: the file is not
//	analyzed rather than analyzed from a guessed recovery tree.
//
// Thread Safety:
//
//	Parser instances are safe for concurrent use.
type Parser struct {
	maxFileSize          int64
	tolerateSyntaxErrors bool
	logger               *slog.Logger
}

// NewParser creates a Parser with the given options.
func NewParser(opts ...ParserOption) *Parser {
	p := &Parser{
		maxFileSize: DefaultMaxFileSize,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Tree is a parsed Python file.
//
// The caller must call Close when done. Nodes obtained from Root are only
// valid until then.
type Tree struct {
	// FilePath is the path the content was read from.
	FilePath string

	// Content is the parsed source.
	Content []byte

	// Hash is the hex SHA256 of Content.
	Hash string

	// HasErrors is true when the tree contains error-recovery nodes.
	HasErrors bool

	tree *sitter.Tree
}

// Root returns the module node.
func (t *Tree) Root() *sitter.Node {
	return t.tree.RootNode()
}

// Text returns the source text spanned by n.
func (t *Tree) Text(n *sitter.Node) string {
	if n == nil {
		return ""
	}
	return n.Content(t.Content)
}

// Close releases the tree-sitter tree.
func (t *Tree) Close() {
	if t.tree != nil {
		t.tree.Close()
		t.tree = nil
	}
}

// Parse parses content as Python.
//
// Description:
//
//	Validates size and encoding, runs tree-sitter, and checks the result
//	for syntax errors.
//
// Inputs:
//   - ctx: Context for cancellation. Checked before and after parsing.
//   - content: Raw Python source bytes.
//   - filePath: Path used in diagnostics.
//
// Outputs:
//   - *Tree: The parsed tree. Caller must Close it.
//   - error: A *ParseError wrapping ErrFileTooLarge, ErrInvalidContent,
//     ErrSyntax or ErrParseFailed, or a context error.
//
// Thread Safety:
//
//	This method is safe for concurrent use.
func (p *Parser) Parse(ctx context.Context, content []byte, filePath string) (*Tree, error) {
	ctx, span := startParseSpan(ctx, filePath, len(content))
	defer span.End()
	start := time.Now()

	fail := func(err error) (*Tree, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		recordParseMetrics(ctx, time.Since(start), len(content), false)
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return fail(fmt.Errorf("parse canceled before start: %w", err))
	}
	if int64(len(content)) > p.maxFileSize {
		return fail(&ParseError{
			FilePath: filePath,
			Message:  fmt.Sprintf("size %d exceeds limit %d", len(content), p.maxFileSize),
			Err:      ErrFileTooLarge,
		})
	}
	if len(content) > WarnFileSize {
		p.logger.Warn("parsing large file",
			slog.String("file", filePath),
			slog.Int("size_bytes", len(content)))
	}
	if !utf8.Valid(content) {
		return fail(&ParseError{FilePath: filePath, Message: "content is not valid UTF-8", Err: ErrInvalidContent})
	}

	parser := sitter.NewParser()
	parser.SetLanguage(python.GetLanguage())

	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return fail(&ParseError{FilePath: filePath, Message: err.Error(), Err: ErrParseFailed})
	}
	if tree == nil || tree.RootNode() == nil {
		return fail(&ParseError{FilePath: filePath, Message: "tree-sitter returned no tree", Err: ErrParseFailed})
	}
	if err := ctx.Err(); err != nil {
		tree.Close()
		return fail(fmt.Errorf("parse canceled after tree-sitter: %w", err))
	}

	hash := sha256.Sum256(content)
	result := &Tree{
		FilePath:  filePath,
		Content:   content,
		Hash:      hex.EncodeToString(hash[:]),
		HasErrors: tree.RootNode().HasError(),
		tree:      tree,
	}

	if result.HasErrors && !p.tolerateSyntaxErrors {
		perr := &ParseError{FilePath: filePath, Message: "source contains syntax errors", Err: ErrSyntax}
		if bad := FirstError(tree.RootNode()); bad != nil {
			perr.Line = int(bad.StartPoint().Row) + 1
			perr.Column = int(bad.StartPoint().Column)
		}
		result.Close()
		return fail(perr)
	}

	setParseSpanResult(span, result.HasErrors)
	recordParseMetrics(ctx, time.Since(start), len(content), true)
	return result, nil
}

// FirstError returns the first ERROR or MISSING node in document order,
// or nil if the tree is clean.
func FirstError(root *sitter.Node) *sitter.Node {
	stack := []*sitter.Node{root}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if n.Type() == "ERROR" || n.IsMissing() {
			return n
		}
		if !n.HasError() {
			continue
		}
		for i := int(n.ChildCount()) - 1; i >= 0; i-- {
			stack = append(stack, n.Child(i))
		}
	}
	return nil
}
