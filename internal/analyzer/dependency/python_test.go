package dependency

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/costnorm/armscan/internal/analyzer"
	"github.com/costnorm/armscan/internal/registry/pypi"
	"github.com/costnorm/armscan/internal/registry/wheeltester"
)

// stubPyPI serves canned registry results keyed by name@spec.
type stubPyPI struct {
	results map[string]pypi.Result
}

func (s *stubPyPI) GetPackage(_ context.Context, name, spec string) pypi.Result {
	if r, ok := s.results[name+"@"+spec]; ok {
		return r
	}
	return pypi.Result{Compat: analyzer.CompatUnknown, Reason: "Package not stubbed."}
}

// stubTester serves canned wheel-tester environments.
type stubTester struct {
	packages map[string]map[string]wheeltester.EnvResult
}

func (s *stubTester) Lookup(_ context.Context, name string) (map[string]wheeltester.EnvResult, bool) {
	envs, ok := s.packages[name]
	return envs, ok
}

func TestPythonParse(t *testing.T) {
	content := `
# core deps
numpy>=1.20
requests==2.31.0  # pinned
flask[async]>=2.0
uvicorn
-e git+https://github.com/acme/internal.git#egg=internal
`
	c := NewPythonChecker(&stubPyPI{}, nil)
	deps := c.Parse(content, "requirements.txt")
	require.Len(t, deps, 5)

	assert.Equal(t, "numpy", deps[0].Name)
	assert.Equal(t, ">=1.20", deps[0].VersionSpec)
	assert.Equal(t, "requests", deps[1].Name)
	assert.Equal(t, "==2.31.0", deps[1].VersionSpec)
	assert.Equal(t, "flask", deps[2].Name)
	assert.Equal(t, "uvicorn", deps[3].Name)
	assert.Empty(t, deps[3].VersionSpec)
	assert.True(t, deps[4].ParseError, "editable install is preserved as parse error")
}

func TestPythonCheckRegistryOnly(t *testing.T) {
	registry := &stubPyPI{results: map[string]pypi.Result{
		"numpy@>=1.20": {
			Compat:         analyzer.CompatYes,
			Reason:         "ARM-specific wheels found for version 1.22.4.",
			CheckedVersion: "1.22.4",
		},
	}}
	c := NewPythonChecker(registry, nil)

	f := c.Check(context.Background(), Dependency{Name: "numpy", VersionSpec: ">=1.20", File: "requirements.txt"})
	assert.Equal(t, analyzer.CompatYes, f.Compatibility)
	assert.Equal(t, "1.22.4", f.CheckedVersion)
}

func TestPythonCheckWheelTesterPassUpgrades(t *testing.T) {
	registry := &stubPyPI{results: map[string]pypi.Result{
		"scipy@": {
			Compat:         analyzer.CompatPartial,
			Reason:         "Source distribution found for 1.11.0, may require compilation on ARM64.",
			CheckedVersion: "1.11.0",
		},
	}}
	tester := &stubTester{packages: map[string]map[string]wheeltester.EnvResult{
		"scipy": {"noble": {TestPassed: true, BuildRequired: true}},
	}}
	c := NewPythonChecker(registry, tester)

	f := c.Check(context.Background(), Dependency{Name: "scipy", File: "requirements.txt"})
	assert.Equal(t, analyzer.CompatYes, f.Compatibility)
	assert.Contains(t, f.Reason, "Passed tests on noble in Wheel Tester")
	assert.Contains(t, f.Reason, "Build was required")
}

func TestPythonCheckWheelTesterFailDowngrades(t *testing.T) {
	registry := &stubPyPI{results: map[string]pypi.Result{
		"brokenpkg@": {Compat: analyzer.CompatUnknown, Reason: "No wheels found."},
	}}
	tester := &stubTester{packages: map[string]map[string]wheeltester.EnvResult{
		"brokenpkg": {
			"noble": {TestPassed: false},
			"jammy": {TestPassed: false},
		},
	}}
	c := NewPythonChecker(registry, tester)

	f := c.Check(context.Background(), Dependency{Name: "brokenpkg", File: "requirements.txt"})
	assert.Equal(t, analyzer.CompatNo, f.Compatibility)
	assert.Contains(t, f.Reason, "Failed tests on noble, jammy in Wheel Tester")
}

func TestPythonCheckPartialKeepsStatusButNotesFailure(t *testing.T) {
	registry := &stubPyPI{results: map[string]pypi.Result{
		"nativepkg@": {
			Compat:         analyzer.CompatPartial,
			Reason:         "Source distribution found for 2.0, may require compilation on ARM64 (contains C/C++/Cython or platform markers).",
			CheckedVersion: "2.0",
		},
	}}
	tester := &stubTester{packages: map[string]map[string]wheeltester.EnvResult{
		"nativepkg": {"jammy": {TestPassed: false}},
	}}
	c := NewPythonChecker(registry, tester)

	f := c.Check(context.Background(), Dependency{Name: "nativepkg", File: "requirements.txt"})
	assert.Equal(t, analyzer.CompatPartial, f.Compatibility)
	assert.Contains(t, f.Reason, "Additionally, failed tests on jammy in Wheel Tester")
	assert.Contains(t, f.Reason, "Source compilation might be required on ARM64")
}

func TestPythonCheckYankedWarningAppended(t *testing.T) {
	registry := &stubPyPI{results: map[string]pypi.Result{
		"ghosted@==1.1": {
			Compat:         analyzer.CompatUnknown,
			Reason:         "No non-yanked wheels or source distribution found for version 1.1 on PyPI.",
			CheckedVersion: "1.1",
			Warning:        "Version 1.1 is yanked: broken build",
		},
	}}
	c := NewPythonChecker(registry, nil)

	f := c.Check(context.Background(), Dependency{Name: "ghosted", VersionSpec: "==1.1", File: "requirements.txt"})
	assert.Equal(t, analyzer.CompatUnknown, f.Compatibility)
	assert.Contains(t, f.Reason, "Warning: Version 1.1 is yanked: broken build")
}

func TestPythonCheckUnknownBothSources(t *testing.T) {
	c := NewPythonChecker(&stubPyPI{}, &stubTester{})
	f := c.Check(context.Background(), Dependency{Name: "mystery", File: "requirements.txt"})
	assert.Equal(t, analyzer.CompatUnknown, f.Compatibility)
	assert.Contains(t, f.Reason, "Manual check recommended")
}

func TestPythonCheckParseError(t *testing.T) {
	c := NewPythonChecker(&stubPyPI{}, nil)
	f := c.Check(context.Background(), Dependency{
		Name: "-e ./local", OriginalLine: "-e ./local", File: "requirements.txt", ParseError: true,
	})
	assert.Equal(t, analyzer.CompatUnknown, f.Compatibility)
	assert.Contains(t, f.Reason, "Could not parse line")
}
