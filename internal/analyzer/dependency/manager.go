package dependency

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/costnorm/armscan/internal/analyzer"
)

// FileResult holds the parsed dependencies of one manifest.
type FileResult struct {
	File      string
	Ecosystem string
	Deps      []Dependency
}

// Manager routes manifest files to language-specific checkers and combines
// their findings.
type Manager struct {
	checkers map[string]Checker
	logger   *slog.Logger
}

// NewManager creates the dependency analyzer around its sub-checkers.
func NewManager(python, nodejs Checker) *Manager {
	checkers := make(map[string]Checker)
	if python != nil {
		checkers[python.Ecosystem()] = python
	}
	if nodejs != nil {
		checkers[nodejs.Ecosystem()] = nodejs
	}
	return &Manager{
		checkers: checkers,
		logger:   slog.Default().With("component", "dependency-analyzer"),
	}
}

func (m *Manager) Key() analyzer.ID {
	return analyzer.IDDependency
}

func (m *Manager) Patterns() []*regexp.Regexp {
	return analyzer.MustPatterns(`requirements\.txt$`, `package\.json$`)
}

// checkerFor routes a manifest path to its checker by suffix.
func (m *Manager) checkerFor(path string) (Checker, string) {
	lower := strings.ToLower(path)
	switch {
	case strings.HasSuffix(lower, "requirements.txt"):
		return m.checkers["python"], "python"
	case strings.HasSuffix(lower, "package.json"):
		return m.checkers["javascript"], "javascript"
	default:
		return nil, ""
	}
}

// Analyze parses one manifest with the appropriate checker.
func (m *Manager) Analyze(content, path string) (analyzer.FileResult, error) {
	checker, ecosystem := m.checkerFor(path)
	if checker == nil {
		m.logger.Warn("no dependency checker for file", "file", path)
		return FileResult{File: path}, nil
	}
	return FileResult{
		File:      path,
		Ecosystem: ecosystem,
		Deps:      checker.Parse(content, path),
	}, nil
}

// Aggregate checks every parsed dependency, deduplicates by (name, spec),
// and derives recommendations with manifest context.
func (m *Manager) Aggregate(ctx context.Context, outputs []analyzer.FileResult) analyzer.Aggregated {
	var (
		findings        []analyzer.Finding
		recommendations []string
		reasoning       []string
	)
	seen := make(map[string]struct{})

	// Deterministic processing order regardless of input permutation.
	sorted := make([]FileResult, 0, len(outputs))
	for _, out := range outputs {
		fr, ok := out.(FileResult)
		if !ok {
			continue
		}
		sorted = append(sorted, fr)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].File < sorted[j].File })

	for _, fr := range sorted {
		checker := m.checkers[fr.Ecosystem]
		if checker == nil || len(fr.Deps) == 0 {
			continue
		}

		deps := make([]Dependency, len(fr.Deps))
		copy(deps, fr.Deps)
		sort.Slice(deps, func(i, j int) bool { return deps[i].Name < deps[j].Name })

		for _, dep := range deps {
			finding := checker.Check(ctx, dep)

			dedupeKey := finding.Name + "\x00" + finding.VersionSpec
			if _, ok := seen[dedupeKey]; ok {
				continue
			}
			seen[dedupeKey] = struct{}{}
			findings = append(findings, finding)

			rec, reason := describeFinding(fr.Ecosystem, finding)
			if rec != "" {
				recommendations = append(recommendations, rec)
			}
			if reason != "" {
				reasoning = append(reasoning, reason)
			}
		}
	}

	m.logger.Info("aggregated dependency findings", "unique_dependencies", len(findings))
	return analyzer.Aggregated{
		Results:         findings,
		Recommendations: analyzer.DedupeSorted(recommendations),
		Reasoning:       analyzer.DedupeOrdered(reasoning),
	}
}

// describeFinding renders the recommendation and reasoning strings for
// incompatible and partial findings.
func describeFinding(ecosystem string, f Finding) (recommendation, reason string) {
	var packageInfo, langPrefix string
	switch ecosystem {
	case "python":
		packageInfo = fmt.Sprintf("`%s%s`", f.Name, f.VersionSpec)
		langPrefix = "Python"
	case "javascript":
		packageInfo = fmt.Sprintf("`%s@%s`", f.Name, f.VersionSpec)
		langPrefix = "JavaScript"
	default:
		packageInfo = fmt.Sprintf("`%s`", f.Name)
		langPrefix = "Dependency"
	}
	fileContext := fmt.Sprintf("in `%s`", f.File)

	switch f.Compatibility {
	case analyzer.CompatNo:
		reason = fmt.Sprintf("%s package %s is not compatible with ARM64 %s. Reason: %s",
			langPrefix, packageInfo, fileContext, f.Reason)
		recommendation = fmt.Sprintf("Replace %s with an ARM64 compatible alternative %s.",
			packageInfo, fileContext)

	case analyzer.CompatPartial:
		reason = fmt.Sprintf("%s package %s may have ARM64 compatibility issues %s. Reason: %s",
			langPrefix, packageInfo, fileContext, f.Reason)
		if ecosystem == "javascript" && f.DevDependency {
			recommendation = fmt.Sprintf("Test dev dependency %s on ARM64 %s (may only affect build environment).",
				packageInfo, fileContext)
		} else {
			recommendation = fmt.Sprintf("Test %s on ARM64 and check for compatibility issues %s.",
				packageInfo, fileContext)
		}
	}
	return recommendation, reason
}
