package dependency

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/costnorm/armscan/internal/analyzer"
	"github.com/costnorm/armscan/internal/registry/npm"
	"github.com/costnorm/armscan/internal/registry/pypi"
)

func newTestManager() *Manager {
	pypiStub := &stubPyPI{results: map[string]pypi.Result{
		"numpy@>=1.20": {
			Compat:         analyzer.CompatYes,
			Reason:         "ARM-specific wheels found for version 1.22.4.",
			CheckedVersion: "1.22.4",
		},
		"oldlib@==0.1": {
			Compat:         analyzer.CompatNo,
			Reason:         "Only non-ARM wheels (e.g., x86_64) found for non-yanked files of version 0.1.",
			CheckedVersion: "0.1",
		},
	}}
	npmStub := &stubNPM{results: map[string]npm.Result{
		"sharp@^0.32.0": {
			Compat:         analyzer.CompatNo,
			Reason:         "CPU field explicitly excludes ARM ('!arm64')",
			CheckedVersion: "0.32.6",
		},
		"node-sass@^7.0.0": {
			Compat:         analyzer.CompatPartial,
			Reason:         "Uses node-gyp/node-pre-gyp or has gypfile, likely involves native compilation",
			CheckedVersion: "7.0.3",
		},
	}}
	return NewManager(NewPythonChecker(pypiStub, nil), NewNodeChecker(npmStub))
}

func TestManagerRouting(t *testing.T) {
	m := newTestManager()

	out, err := m.Analyze("numpy>=1.20\n", "backend/requirements.txt")
	require.NoError(t, err)
	fr := out.(FileResult)
	assert.Equal(t, "python", fr.Ecosystem)
	require.Len(t, fr.Deps, 1)

	out, err = m.Analyze(`{"dependencies":{"sharp":"^0.32.0"}}`, "web/package.json")
	require.NoError(t, err)
	fr = out.(FileResult)
	assert.Equal(t, "javascript", fr.Ecosystem)

	out, err = m.Analyze("whatever", "go.sum")
	require.NoError(t, err)
	fr = out.(FileResult)
	assert.Empty(t, fr.Ecosystem)
	assert.Empty(t, fr.Deps)
}

func TestManagerAggregate(t *testing.T) {
	m := newTestManager()
	outputs := []analyzer.FileResult{
		FileResult{File: "requirements.txt", Ecosystem: "python", Deps: []Dependency{
			{Name: "numpy", VersionSpec: ">=1.20", File: "requirements.txt"},
			{Name: "oldlib", VersionSpec: "==0.1", File: "requirements.txt"},
		}},
		FileResult{File: "package.json", Ecosystem: "javascript", Deps: []Dependency{
			{Name: "sharp", VersionSpec: "^0.32.0", File: "package.json"},
			{Name: "node-sass", VersionSpec: "^7.0.0", File: "package.json", DevDependency: true},
		}},
	}

	agg := m.Aggregate(context.Background(), outputs)
	require.Len(t, agg.Results, 4)

	recs := strings.Join(agg.Recommendations, "\n")
	assert.Contains(t, recs, "Replace `oldlib==0.1` with an ARM64 compatible alternative in `requirements.txt`.")
	assert.Contains(t, recs, "Replace `sharp@^0.32.0` with an ARM64 compatible alternative in `package.json`.")
	assert.Contains(t, recs, "Test dev dependency `node-sass@^7.0.0` on ARM64 in `package.json` (may only affect build environment).")

	reasons := strings.Join(agg.Reasoning, "\n")
	assert.Contains(t, reasons, "Python package `oldlib==0.1` is not compatible with ARM64")
	assert.Contains(t, reasons, "JavaScript package `sharp@^0.32.0` is not compatible with ARM64")
}

func TestManagerAggregateDeduplicates(t *testing.T) {
	m := newTestManager()
	dep := Dependency{Name: "numpy", VersionSpec: ">=1.20", File: "requirements.txt"}
	outputs := []analyzer.FileResult{
		FileResult{File: "requirements.txt", Ecosystem: "python", Deps: []Dependency{dep}},
		FileResult{File: "svc/requirements.txt", Ecosystem: "python", Deps: []Dependency{
			{Name: "numpy", VersionSpec: ">=1.20", File: "svc/requirements.txt"},
		}},
	}

	agg := m.Aggregate(context.Background(), outputs)
	assert.Len(t, agg.Results, 1)
}

func TestManagerAggregatePermutationInvariant(t *testing.T) {
	m := newTestManager()
	outputs := []analyzer.FileResult{
		FileResult{File: "a/requirements.txt", Ecosystem: "python", Deps: []Dependency{
			{Name: "numpy", VersionSpec: ">=1.20", File: "a/requirements.txt"},
		}},
		FileResult{File: "b/package.json", Ecosystem: "javascript", Deps: []Dependency{
			{Name: "sharp", VersionSpec: "^0.32.0", File: "b/package.json"},
		}},
	}
	reversed := []analyzer.FileResult{outputs[1], outputs[0]}

	first := m.Aggregate(context.Background(), outputs)
	second := m.Aggregate(context.Background(), reversed)
	assert.Equal(t, first.Recommendations, second.Recommendations)
	assert.Equal(t, first.Reasoning, second.Reasoning)
}

func TestManagerAggregateEmpty(t *testing.T) {
	agg := newTestManager().Aggregate(context.Background(), nil)
	assert.Empty(t, agg.Results)
	assert.Empty(t, agg.Recommendations)
}
