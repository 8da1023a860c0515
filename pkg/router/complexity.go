package router

import (
	"strings"

	"github.com/zen-systems/cascadegate/pkg/alignment"
)

// Complexity is the assessed difficulty tier of a query.
type Complexity string

const (
	ComplexityTrivial  Complexity = "trivial"
	ComplexitySimple   Complexity = "simple"
	ComplexityModerate Complexity = "moderate"
	ComplexityComplex  Complexity = "complex"
	ComplexityExpert   Complexity = "expert"
)

// Complexities lists every tier in ascending order.
var Complexities = []Complexity{
	ComplexityTrivial,
	ComplexitySimple,
	ComplexityModerate,
	ComplexityComplex,
	ComplexityExpert,
}

// ParseComplexity returns the tier named s, if any.
func ParseComplexity(s string) (Complexity, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, c := range Complexities {
		if string(c) == s {
			return c, true
		}
	}
	return "", false
}

// Rank orders tiers from 0 (trivial) to 4 (expert).
func (c Complexity) Rank() int {
	for i, tier := range Complexities {
		if tier == c {
			return i
		}
	}
	return -1
}

var (
	expertCues   = []string{"architect", "design pattern", "trade-off", "tradeoff", "best approach", "should i", "pros and cons", "prove that"}
	complexCues  = []string{"explain", "compare", "analyze", "implement", "refactor", "review", "code", "function", "bug", "error"}
	moderateCues = []string{"how", "why", "debug", "fix"}
)

// ClassifyComplexity assigns a tier from keyword cues and length.
//
// Rules, first match wins:
//  1. Trivial: pure arithmetic
//  2. Expert: architectural decisions, trade-offs, proofs
//  3. Complex: analysis, implementation, code review, or more than 25 words
//  4. Moderate: how/why questions, debugging, or more than 12 words
//  5. Simple: everything else
//
// Short queries without a cue are simple, not trivial: only arithmetic is
// trivial unless the caller says otherwise.
func ClassifyComplexity(query string) Complexity {
	if alignment.IsTrivialQuery(query) {
		return ComplexityTrivial
	}

	q := strings.ToLower(query)
	wc := len(strings.Fields(query))

	if containsAny(q, expertCues) {
		return ComplexityExpert
	}
	if containsAny(q, complexCues) || wc > 25 {
		return ComplexityComplex
	}
	if containsAny(q, moderateCues) || wc > 12 {
		return ComplexityModerate
	}
	return ComplexitySimple
}

func containsAny(text string, cues []string) bool {
	for _, cue := range cues {
		if containsTrigger(text, cue) {
			return true
		}
	}
	return false
}
