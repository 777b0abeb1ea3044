// Package infra analyzes Terraform templates for EC2 instance type
// references and maps them to Graviton equivalents.
package infra

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/costnorm/armscan/internal/analyzer"
)

var (
	instanceTypePattern = regexp.MustCompile(`instance_type\s*=\s*["']([^"']+)["']`)

	archIndicators = []string{"architecture", "amd64", "x86_64", "arm64", "graviton"}

	// ARM-based instance families.
	armFamilies = []string{
		"a1", "t4g", "m6g", "m7g", "c6g", "c7g", "r6g", "r7g", "x2gd", "im4gn", "gr6",
	}

	// Families with no straightforward Graviton equivalent (GPU, FPGA,
	// Trainium, macOS hosts).
	x86OnlyFamilies = []string{
		"mac", "f1", "p2", "p3", "g3", "g4", "g5", "inf", "dl1", "vt1", "trn1",
	}

	// x86 prefix to Graviton prefix. The size suffix is preserved.
	instanceMapping = []struct{ from, to string }{
		{"t3.", "t4g."},
		{"t3a.", "t4g."},
		{"t2.", "t4g."},
		{"m6i.", "m7g."},
		{"m6a.", "m7g."},
		{"m5.", "m6g."},
		{"m5a.", "m6g."},
		{"m5n.", "m6gn."},
		{"m5zn.", "m6g."},
		{"m4.", "m6g."},
		{"c6i.", "c7g."},
		{"c6a.", "c7g."},
		{"c5.", "c6g."},
		{"c5a.", "c6g."},
		{"c5n.", "c6gn."},
		{"c4.", "c6g."},
		{"r6i.", "r7g."},
		{"r6a.", "r7g."},
		{"r5.", "r6g."},
		{"r5a.", "r6g."},
		{"r5b.", "r6g."},
		{"r5n.", "r6gn."},
		{"r4.", "r6g."},
		{"x1e.", "x2gd."},
		{"x1.", "x2gd."},
		{"z1d.", "m6g."},
		{"i3.", "im4gn."},
		{"i3en.", "i4g."},
		{"d2.", "i4g."},
		{"d3.", "i4g."},
		{"d3en.", "i4g."},
	}
)

// FileResult holds what Analyze extracted from one template.
type FileResult struct {
	File            string
	InstanceTypes   []string
	OtherIndicators []string
}

// Finding is the classification of one unique instance type.
type Finding struct {
	InstanceType  string                 `json:"instance_type"`
	File          string                 `json:"file"`
	Compatibility analyzer.Compatibility `json:"compatible"`
	AlreadyARM    bool                   `json:"already_arm,omitempty"`
	Suggestion    string                 `json:"suggestion,omitempty"`
	Reason        string                 `json:"reason,omitempty"`
}

// Compat implements analyzer.Finding.
func (f Finding) Compat() analyzer.Compatibility {
	return f.Compatibility
}

// Analyzer recognizes compute-instance type references in Terraform files.
type Analyzer struct {
	logger *slog.Logger
}

// New creates the infra analyzer.
func New() *Analyzer {
	return &Analyzer{logger: slog.Default().With("component", "infra-analyzer")}
}

func (a *Analyzer) Key() analyzer.ID {
	return analyzer.IDInfra
}

func (a *Analyzer) Patterns() []*regexp.Regexp {
	return analyzer.MustPatterns(`\.tf$`)
}

// Analyze extracts instance types and architecture indicator keywords from
// one template.
func (a *Analyzer) Analyze(content, path string) (analyzer.FileResult, error) {
	result := FileResult{File: path}

	seen := make(map[string]struct{})
	for _, m := range instanceTypePattern.FindAllStringSubmatch(content, -1) {
		if _, ok := seen[m[1]]; ok {
			continue
		}
		seen[m[1]] = struct{}{}
		result.InstanceTypes = append(result.InstanceTypes, m[1])
	}

	contentLower := strings.ToLower(content)
	for _, ind := range archIndicators {
		if strings.Contains(contentLower, ind) {
			result.OtherIndicators = append(result.OtherIndicators, ind)
		}
	}

	a.logger.Debug("analyzed template", "file", path,
		"instance_types", len(result.InstanceTypes), "indicators", len(result.OtherIndicators))
	return result, nil
}

// Aggregate classifies each unique instance type across all templates.
func (a *Analyzer) Aggregate(_ context.Context, outputs []analyzer.FileResult) analyzer.Aggregated {
	var (
		findings        []analyzer.Finding
		recommendations []string
		reasoning       []string
	)
	processed := make(map[string]struct{})

	// Classify in deterministic order regardless of input permutation.
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
		for _, instanceType := range fr.InstanceTypes {
			if _, ok := processed[instanceType]; ok {
				continue
			}
			processed[instanceType] = struct{}{}

			f := classify(instanceType)
			f.File = fr.File
			findings = append(findings, f)

			switch {
			case f.AlreadyARM:
				reasoning = append(reasoning,
					fmt.Sprintf("Instance type `%s` is already ARM-based and fully compatible.", instanceType))
			case f.Compatibility == analyzer.CompatYes && f.Suggestion != "":
				reasoning = append(reasoning,
					fmt.Sprintf("Instance type `%s` (found in `%s`) can be replaced with ARM equivalent `%s`.",
						instanceType, fr.File, f.Suggestion))
				recommendations = append(recommendations,
					fmt.Sprintf("Replace `%s` with `%s` in `%s`", instanceType, f.Suggestion, fr.File))
			case f.Compatibility == analyzer.CompatNo:
				reasoning = append(reasoning,
					fmt.Sprintf("Instance type `%s` (found in `%s`) has no direct ARM equivalent or is incompatible: %s",
						instanceType, fr.File, f.Reason))
				recommendations = append(recommendations,
					fmt.Sprintf("Review or replace incompatible instance type `%s` in `%s`.", instanceType, fr.File))
			default:
				reasoning = append(reasoning,
					fmt.Sprintf("Instance type `%s` (found in `%s`) requires manual verification for ARM compatibility.",
						instanceType, fr.File))
				recommendations = append(recommendations,
					fmt.Sprintf("Manually verify ARM compatibility for instance type `%s` in `%s`.", instanceType, fr.File))
			}
		}
	}

	a.logger.Info("aggregated template findings", "unique_instance_types", len(findings))
	return analyzer.Aggregated{
		Results:         findings,
		Recommendations: analyzer.DedupeSorted(recommendations),
		Reasoning:       analyzer.DedupeOrdered(reasoning),
	}
}

// classify applies the static family tables to one instance type.
func classify(instanceType string) Finding {
	lower := strings.ToLower(instanceType)

	for _, family := range armFamilies {
		if lower == family || strings.HasPrefix(lower, family+".") {
			return Finding{
				InstanceType:  instanceType,
				Compatibility: analyzer.CompatYes,
				AlreadyARM:    true,
			}
		}
	}

	for _, family := range x86OnlyFamilies {
		if lower == family || strings.HasPrefix(lower, family+".") {
			return Finding{
				InstanceType:  instanceType,
				Compatibility: analyzer.CompatNo,
				Reason:        "Instance family has no direct ARM equivalent or is specialized (e.g., GPU, FPGA, Trainium).",
			}
		}
	}

	// Longest prefix wins so i3en does not resolve through i3.
	match := struct{ from, to string }{}
	for _, m := range instanceMapping {
		if strings.HasPrefix(lower, m.from) && len(m.from) > len(match.from) {
			match = m
		}
	}
	if match.from != "" {
		size := instanceType[len(match.from):]
		return Finding{
			InstanceType:  instanceType,
			Compatibility: analyzer.CompatYes,
			Suggestion:    match.to + size,
		}
	}

	return Finding{
		InstanceType:  instanceType,
		Compatibility: analyzer.CompatUnknown,
		Reason:        "Instance type family not explicitly mapped or recognized. Requires manual verification.",
	}
}
