package dependency

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/costnorm/armscan/internal/analyzer"
	"github.com/costnorm/armscan/internal/registry/pypi"
	"github.com/costnorm/armscan/internal/registry/wheeltester"
)

// requirementPattern recognizes "name[extras]specifier" lines. URLs and
// editable installs do not match and are preserved as parse errors.
var requirementPattern = regexp.MustCompile(`^([A-Za-z0-9_.-]+)(\[[A-Za-z0-9,_.-]+\])?\s*([=<>!~].+)?$`)

// Test environments in preference order: most recent Ubuntu first.
var wheelTesterEnvs = []string{"noble", "jammy", "focal"}

// PyPIRegistry is the package-registry fact source.
type PyPIRegistry interface {
	GetPackage(ctx context.Context, name, spec string) pypi.Result
}

// WheelTester is the external test-archive fact source. It is optional: a
// nil implementation or fetch failure degrades to registry-only evidence.
type WheelTester interface {
	Lookup(ctx context.Context, normalizedName string) (map[string]wheeltester.EnvResult, bool)
}

// PythonChecker checks requirements.txt dependencies against PyPI and the
// wheel-tester archive.
type PythonChecker struct {
	registry PyPIRegistry
	tester   WheelTester
	logger   *slog.Logger
}

// NewPythonChecker creates the Python sub-checker. tester may be nil.
func NewPythonChecker(registry PyPIRegistry, tester WheelTester) *PythonChecker {
	return &PythonChecker{
		registry: registry,
		tester:   tester,
		logger:   slog.Default().With("component", "python-checker"),
	}
}

func (c *PythonChecker) Ecosystem() string {
	return "python"
}

// Parse extracts one dependency per non-empty, non-comment line.
func (c *PythonChecker) Parse(content, path string) []Dependency {
	var deps []Dependency
	for _, rawLine := range strings.Split(content, "\n") {
		line := rawLine
		if i := strings.Index(line, "#"); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		m := requirementPattern.FindStringSubmatch(line)
		if m == nil {
			c.logger.Warn("could not parse requirements line", "file", path, "line", line)
			deps = append(deps, Dependency{
				Name:         line,
				OriginalLine: line,
				File:         path,
				ParseError:   true,
			})
			continue
		}
		deps = append(deps, Dependency{
			Name:         m[1],
			VersionSpec:  strings.TrimSpace(m[3]),
			OriginalLine: line,
			File:         path,
		})
	}
	c.logger.Debug("parsed requirements", "file", path, "dependencies", len(deps))
	return deps
}

// Check consults PyPI, then overlays wheel-tester evidence.
func (c *PythonChecker) Check(ctx context.Context, dep Dependency) Finding {
	finding := Finding{
		Name:        dep.Name,
		VersionSpec: dep.VersionSpec,
		File:        dep.File,
		ParseError:  dep.ParseError,
	}
	if dep.ParseError {
		finding.Compatibility = analyzer.CompatUnknown
		finding.Reason = "Could not parse line in requirements file."
		return finding
	}

	registryResult := c.registry.GetPackage(ctx, dep.Name, dep.VersionSpec)
	finding.Compatibility = registryResult.Compat
	finding.Reason = registryResult.Reason
	finding.CheckedVersion = registryResult.CheckedVersion

	pypiIndeterminate := registryResult.Compat == analyzer.CompatUnknown
	testerFound := c.overlayWheelTester(ctx, dep.Name, &finding)

	if finding.Compatibility == analyzer.CompatPartial {
		finding.Reason = strings.TrimRight(finding.Reason, ".") + ". Source compilation might be required on ARM64."
	} else if finding.Compatibility == analyzer.CompatUnknown && pypiIndeterminate && !testerFound {
		finding.Reason = fmt.Sprintf("Could not determine compatibility from PyPI or Wheel Tester (%s). Manual check recommended.", finding.Reason)
	}

	if registryResult.Warning != "" {
		finding.Reason = fmt.Sprintf("%s (Warning: %s)", strings.TrimRight(finding.Reason, "."), registryResult.Warning)
	}
	return finding
}

// overlayWheelTester applies archived test evidence on top of the registry
// determination. It reports whether the package was present in the archive.
func (c *PythonChecker) overlayWheelTester(ctx context.Context, name string, finding *Finding) bool {
	if c.tester == nil {
		return false
	}

	normalized := pypi.Normalize(name)
	envs, ok := c.tester.Lookup(ctx, normalized)
	if !ok {
		return false
	}

	var failedEnvs []string
	for _, env := range wheelTesterEnvs {
		result, present := envs[env]
		if !present {
			continue
		}
		if result.TestPassed {
			finding.Compatibility = analyzer.CompatYes
			finding.Reason = fmt.Sprintf("Passed tests on %s in Wheel Tester.", env)
			if result.BuildRequired {
				finding.Reason += " (Build was required)."
			}
			c.logger.Debug("confirmed compatible via wheel tester", "package", normalized, "env", env)
			return true
		}
		failedEnvs = append(failedEnvs, env)
	}

	if len(failedEnvs) > 0 {
		failedStr := strings.Join(failedEnvs, ", ")
		switch finding.Compatibility {
		case analyzer.CompatYes, analyzer.CompatPartial:
			if finding.Compatibility == analyzer.CompatPartial {
				finding.Reason += fmt.Sprintf(" Additionally, failed tests on %s in Wheel Tester.", failedStr)
			}
		case analyzer.CompatNo:
			finding.Reason += fmt.Sprintf(" Also failed tests on %s in Wheel Tester.", failedStr)
		default:
			finding.Compatibility = analyzer.CompatNo
			finding.Reason = fmt.Sprintf("Failed tests on %s in Wheel Tester.", failedStr)
		}
	}
	return true
}
