package dependency

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/costnorm/armscan/internal/analyzer"
	"github.com/costnorm/armscan/internal/registry/npm"
)

// stubNPM serves canned registry results keyed by name@spec.
type stubNPM struct {
	results map[string]npm.Result
}

func (s *stubNPM) GetPackage(_ context.Context, name, spec string) npm.Result {
	if r, ok := s.results[name+"@"+spec]; ok {
		return r
	}
	return npm.Result{Compat: analyzer.CompatUnknown, Reason: "Package not stubbed."}
}

func TestNodeParse(t *testing.T) {
	content := `{
		"name": "web-app",
		"dependencies": {"react": "^18.0.0", "sharp": "^0.32.0"},
		"devDependencies": {"jest": "^29.0.0"}
	}`
	c := NewNodeChecker(&stubNPM{})
	deps := c.Parse(content, "package.json")
	require.Len(t, deps, 3)

	byName := map[string]Dependency{}
	for _, d := range deps {
		byName[d.Name] = d
	}
	assert.Equal(t, "^18.0.0", byName["react"].VersionSpec)
	assert.False(t, byName["react"].DevDependency)
	assert.True(t, byName["jest"].DevDependency)
}

func TestNodeParseInvalidJSON(t *testing.T) {
	c := NewNodeChecker(&stubNPM{})
	assert.Empty(t, c.Parse("{not json", "package.json"))
}

func TestNodeCheck(t *testing.T) {
	yes := true
	registry := &stubNPM{results: map[string]npm.Result{
		"sharp@^0.32.0": {
			Compat:         analyzer.CompatNo,
			Reason:         "CPU field explicitly excludes ARM ('!arm64')",
			CheckedVersion: "0.32.6",
			SpecSatisfied:  &yes,
		},
	}}
	c := NewNodeChecker(registry)

	f := c.Check(context.Background(), Dependency{Name: "sharp", VersionSpec: "^0.32.0", File: "package.json"})
	assert.Equal(t, analyzer.CompatNo, f.Compatibility)
	assert.Equal(t, "sharp@^0.32.0", f.Dependency)
	assert.Equal(t, "0.32.6", f.CheckedVersion)
	assert.Contains(t, f.Reason, "!arm64")
	require.NotNil(t, f.SpecSatisfied)
	assert.True(t, *f.SpecSatisfied)
}
