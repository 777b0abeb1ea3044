// Package analyzer defines the plugin contract shared by all compatibility
// analyzers and the result types they produce.
package analyzer

import (
	"context"
	"regexp"
)

// ID identifies an analyzer slot in the verdict.
type ID string

const (
	IDInfra      ID = "infra"
	IDContainer  ID = "container"
	IDDependency ID = "dependency"
)

// IDs enumerates all analyzer ids in verdict order.
func IDs() []ID {
	return []ID{IDInfra, IDContainer, IDDependency}
}

// Compatibility is the per-finding compatibility status.
type Compatibility string

const (
	CompatYes     Compatibility = "yes"
	CompatNo      Compatibility = "no"
	CompatPartial Compatibility = "partial"
	CompatUnknown Compatibility = "unknown"
)

// Finding is one compatibility determination. Concrete finding types carry
// their own subject fields and JSON shape.
type Finding interface {
	Compat() Compatibility
}

// FileResult is the per-file output of an analyzer's Analyze. Each analyzer
// consumes only its own concrete type during aggregation.
type FileResult any

// Aggregated is the combined output of one analyzer over all its files.
type Aggregated struct {
	Results         []Finding `json:"results"`
	Recommendations []string  `json:"recommendations"`
	Reasoning       []string  `json:"reasoning"`
	// OverallPotential is only set by the container analyzer.
	OverallPotential string `json:"overall_potential,omitempty"`
	// Error is set when aggregation itself failed; Results is empty then.
	Error string `json:"error,omitempty"`
}

// Analyzer is the plugin contract. Analyze must be a pure function of its
// inputs; registry lookups happen during Aggregate, which must be
// deterministic given the same input list regardless of order.
type Analyzer interface {
	// Key identifies the slot in the verdict.
	Key() ID
	// Patterns returns compiled case-insensitive file-path patterns.
	Patterns() []*regexp.Regexp
	// Analyze inspects one file's content.
	Analyze(content, path string) (FileResult, error)
	// Aggregate combines per-file outputs into findings, recommendations,
	// and reasoning.
	Aggregate(ctx context.Context, outputs []FileResult) Aggregated
}

// MustPatterns compiles patterns with case-insensitive matching, panicking on
// programmer error.
func MustPatterns(exprs ...string) []*regexp.Regexp {
	compiled := make([]*regexp.Regexp, len(exprs))
	for i, expr := range exprs {
		compiled[i] = regexp.MustCompile(`(?i)` + expr)
	}
	return compiled
}
