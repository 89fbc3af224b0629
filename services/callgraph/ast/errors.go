// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ast parses Python source into tree-sitter syntax trees.
//
// The package owns the parse step only: size and encoding checks, the
// tree-sitter invocation, and syntax-error reporting. Walking the tree is
// the scope package's job.
package ast

import (
	"errors"
	"fmt"
)

// Sentinel errors for common parse failure conditions.
//
// These errors can be checked using errors.Is() to determine the
// category of failure without inspecting error messages.
var (
	// ErrFileTooLarge indicates the content exceeds the parser's size limit.
	ErrFileTooLarge = errors.New("file too large")

	// ErrInvalidContent indicates the content is not valid UTF-8.
	ErrInvalidContent = errors.New("invalid content")

	// ErrSyntax indicates the source contains syntax errors and the parser
	// was not configured to tolerate them.
	ErrSyntax = errors.New("syntax error")

	// ErrParseFailed indicates tree-sitter produced no usable tree.
	ErrParseFailed = errors.New("parse failed")
)

// ParseError provides detailed information about a parse failure.
//
// ParseError wraps an underlying error with the location of the first
// problem in the source file. It can be unwrapped to access the cause.
//
// Example:
//
//	tree, err := parser.Parse(ctx, content, "pkg/mod.py")
//	if err != nil {
//	    var parseErr *ParseError
//	    if errors.As(err, &parseErr) {
//	        fmt.Printf("Error at %s:%d:%d\n", parseErr.FilePath, parseErr.Line, parseErr.Column)
//	    }
//	}
type ParseError struct {
	// FilePath is the path of the file being parsed.
	FilePath string

	// Line is the 1-indexed line of the error, 0 if unknown.
	Line int

	// Column is the 0-indexed column of the error.
	Column int

	// Message describes the error.
	Message string

	// Err is the underlying sentinel.
	Err error
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d:%d: %s", e.FilePath, e.Line, e.Column, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.FilePath, e.Message)
}

// Unwrap returns the underlying error.
func (e *ParseError) Unwrap() error {
	return e.Err
}
