// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package index

import (
	"context"
	"sort"
	"strings"

	"github.com/AleutianAI/pycallgraph/services/callgraph/graph"
)

// searchCheckInterval is how often Search checks for context cancellation.
const searchCheckInterval = 1000

// Match is one search hit.
type Match struct {
	Node *graph.Node

	// Score orders hits; lower is better.
	Score int

	// MatchType is one of exact, suffix, prefix, word, substring, fuzzy.
	MatchType string
}

// Search finds nodes whose name resembles query.
//
// Description:
//
//	A query containing dots is compared against qualified names first: an
//	exact qualified match scores best, then a match on a trailing run of
//	segments ("A.__init__" finds "pkg.mod.A.__init__"). Otherwise, and for
//	dotted queries with no qualified hit, the last segment is compared
//	against short names: exact, prefix, snake_case or camelCase word,
//	substring, then Levenshtein distance within a third of the query
//	length. EXTERNAL nodes rank below definitions of equal score.
//
// Inputs:
//
//	ctx - Checked periodically for cancellation.
//	query - Name or qualified name. Empty returns nil.
//	limit - Maximum hits; zero or negative means unlimited.
//
// Outputs:
//
//	[]Match - Hits ordered by score, then qualified name.
//	error - ctx.Err() if cancelled.
func (st *SymbolTable) Search(ctx context.Context, query string, limit int) ([]Match, error) {
	if query == "" {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	short := query
	if i := strings.LastIndexByte(query, '.'); i >= 0 {
		short = query[i+1:]
	}
	shortLower := strings.ToLower(short)
	dotted := short != query

	var results []Match
	for i, n := range st.graph.AllNodes() {
		if i > 0 && i%searchCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		var score int
		var matchType string
		switch {
		case n.QualifiedName == query:
			score, matchType = 0, "exact"
		case dotted && strings.HasSuffix(n.QualifiedName, "."+query):
			score, matchType = 5000+min(99, len(n.QualifiedName)-len(query))*10, "suffix"
		default:
			name := n.Name()
			score, matchType = computeMatchScore(short, shortLower, name, strings.ToLower(name))
			if score < 0 {
				continue
			}
			if dotted {
				score += 10000
			}
		}
		score += kindPenalty(n.Kind)
		results = append(results, Match{Node: n, Score: score, MatchType: matchType})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score < results[j].Score
		}
		return results[i].Node.QualifiedName < results[j].Node.QualifiedName
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Suggest returns up to limit qualified names resembling query, excluding
// query itself.
func (st *SymbolTable) Suggest(ctx context.Context, query string, limit int) []string {
	matches, err := st.Search(ctx, query, limit+1)
	if err != nil {
		return nil
	}
	var out []string
	for _, m := range matches {
		if m.Node.QualifiedName == query {
			continue
		}
		out = append(out, m.Node.QualifiedName)
		if len(out) == limit {
			break
		}
	}
	return out
}

// computeMatchScore scores a short name against the query.
//
// Score = base*10000 + position*100 + length*10, lower is better, -1 for
// no match. Base is 1 prefix, 2 word boundary, 3 substring, 4 fuzzy; an
// exact short-name match scores 1000 so it stays behind qualified hits.
func computeMatchScore(query, queryLower, name, nameLower string) (int, string) {
	if nameLower == queryLower {
		return 1000, "exact"
	}

	var base, pos int
	var matchType string
	if strings.HasPrefix(nameLower, queryLower) {
		base, matchType = 1, "prefix"
	} else if p := findWordMatch(name, query); p >= 0 {
		base, matchType, pos = 2, "word", p
	} else if p := strings.Index(nameLower, queryLower); p >= 0 {
		base, matchType, pos = 3, "substring", p
	} else {
		threshold := max(2, len(queryLower)/3)
		if levenshteinDistance(nameLower, queryLower) > threshold {
			return -1, "no_match"
		}
		base, matchType = 4, "fuzzy"
	}

	positionPenalty := 0
	if len(name) > 0 && pos > 0 {
		positionPenalty = min(99, (pos*100)/len(name))
	}
	lengthPenalty := min(99, abs(len(name)-len(query)))

	return base*10000 + positionPenalty*100 + lengthPenalty*10, matchType
}

// findWordMatch finds query at a word boundary of a snake_case or camelCase
// name and returns its position, or -1.
//
// Examples:
//
//	"func" matches "test_func1" at position 5
//	"Type" matches "EnumType" at position 4
func findWordMatch(name, query string) int {
	if len(query) == 0 || len(name) < len(query) {
		return -1
	}
	queryLower := strings.ToLower(query)
	for i := 0; i+len(query) <= len(name); i++ {
		boundary := i == 0 || name[i-1] == '_' || (isUpper(name[i]) && !isUpper(name[i-1]))
		if !boundary {
			continue
		}
		if strings.ToLower(name[i:i+len(query)]) == queryLower {
			return i
		}
	}
	return -1
}

// kindPenalty prefers callables, then classes, then everything else.
func kindPenalty(kind graph.Kind) int {
	switch kind {
	case graph.KindFunction, graph.KindMethod:
		return 0
	case graph.KindClass:
		return 1
	case graph.KindModule, graph.KindPackage:
		return 2
	case graph.KindAttribute:
		return 3
	default:
		return 5
	}
}

func isUpper(c byte) bool {
	return c >= 'A' && c <= 'Z'
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

// levenshteinDistance calculates the edit distance between two strings.
func levenshteinDistance(a, b string) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(
				prev[j]+1,      // deletion
				curr[j-1]+1,    // insertion
				prev[j-1]+cost, // substitution
			)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}
