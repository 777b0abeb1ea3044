package dependency

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/costnorm/armscan/internal/registry/npm"
)

// NPMRegistry is the Node package-registry fact source.
type NPMRegistry interface {
	GetPackage(ctx context.Context, name, spec string) npm.Result
}

// NodeChecker checks package.json dependencies against the npm registry.
type NodeChecker struct {
	registry NPMRegistry
	logger   *slog.Logger
}

// NewNodeChecker creates the JavaScript sub-checker.
func NewNodeChecker(registry NPMRegistry) *NodeChecker {
	return &NodeChecker{
		registry: registry,
		logger:   slog.Default().With("component", "nodejs-checker"),
	}
}

func (c *NodeChecker) Ecosystem() string {
	return "javascript"
}

// Parse reads the dependency and devDependency maps.
func (c *NodeChecker) Parse(content, path string) []Dependency {
	var manifest struct {
		Dependencies    map[string]string `json:"dependencies"`
		DevDependencies map[string]string `json:"devDependencies"`
	}
	if err := json.Unmarshal([]byte(content), &manifest); err != nil {
		c.logger.Error("invalid JSON in package manifest", "file", path, "error", err)
		return nil
	}

	var deps []Dependency
	for name, spec := range manifest.Dependencies {
		deps = append(deps, Dependency{
			Name:        name,
			VersionSpec: spec,
			File:        path,
		})
	}
	for name, spec := range manifest.DevDependencies {
		deps = append(deps, Dependency{
			Name:          name,
			VersionSpec:   spec,
			DevDependency: true,
			File:          path,
		})
	}
	c.logger.Debug("parsed package manifest", "file", path, "dependencies", len(deps))
	return deps
}

// Check resolves the version range and evaluates the chosen version's
// manifest signals.
func (c *NodeChecker) Check(ctx context.Context, dep Dependency) Finding {
	result := c.registry.GetPackage(ctx, dep.Name, dep.VersionSpec)
	return Finding{
		Name:           dep.Name,
		VersionSpec:    dep.VersionSpec,
		File:           dep.File,
		DevDependency:  dep.DevDependency,
		Dependency:     dep.Name + "@" + dep.VersionSpec,
		Compatibility:  result.Compat,
		Reason:         result.Reason,
		CheckedVersion: result.CheckedVersion,
		SpecSatisfied:  result.SpecSatisfied,
	}
}
