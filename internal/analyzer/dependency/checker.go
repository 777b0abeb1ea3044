// Package dependency analyzes language manifests (requirements.txt and
// package.json) and reports per-dependency ARM64 compatibility.
package dependency

import (
	"context"

	"github.com/costnorm/armscan/internal/analyzer"
)

// Dependency is one parsed entry of a manifest file.
type Dependency struct {
	Name          string
	VersionSpec   string
	OriginalLine  string
	DevDependency bool
	File          string
	// ParseError marks lines the parser could not understand; they are
	// preserved rather than silently dropped.
	ParseError bool
}

// Finding is the compatibility determination for one dependency.
type Finding struct {
	Name          string `json:"name"`
	VersionSpec   string `json:"version_spec,omitempty"`
	File          string `json:"file"`
	DevDependency bool   `json:"dev_dependency,omitempty"`
	// Dependency is the name@spec display form used for Node packages.
	Dependency     string                 `json:"dependency,omitempty"`
	Compatibility  analyzer.Compatibility `json:"compatible"`
	Reason         string                 `json:"reason"`
	CheckedVersion string                 `json:"checked_version,omitempty"`
	SpecSatisfied  *bool                  `json:"spec_satisfied,omitempty"`
	ParseError     bool                   `json:"parse_error,omitempty"`
}

// Compat implements analyzer.Finding.
func (f Finding) Compat() analyzer.Compatibility {
	return f.Compatibility
}

// Checker parses one manifest dialect and checks its dependencies.
type Checker interface {
	// Ecosystem names the dialect ("python", "javascript").
	Ecosystem() string
	// Parse extracts dependencies from manifest content. Unparseable lines
	// become ParseError dependencies.
	Parse(content, path string) []Dependency
	// Check determines the compatibility of one dependency, consulting
	// registries as needed.
	Check(ctx context.Context, dep Dependency) Finding
}
