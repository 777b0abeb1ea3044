package orchestrator

import (
	"log/slog"

	"github.com/costnorm/armscan/internal/analyzer"
	"github.com/costnorm/armscan/internal/analyzer/container"
	"github.com/costnorm/armscan/internal/analyzer/dependency"
	"github.com/costnorm/armscan/internal/analyzer/infra"
	"github.com/costnorm/armscan/internal/config"
	gh "github.com/costnorm/armscan/internal/github"
	"github.com/costnorm/armscan/internal/registry/docker"
	"github.com/costnorm/armscan/internal/registry/npm"
	"github.com/costnorm/armscan/internal/registry/pypi"
	"github.com/costnorm/armscan/internal/registry/wheeltester"
)

// NewFromConfig wires the fetcher, registry clients, and enabled analyzers
// into a ready orchestrator. Registry caches live as long as the returned
// orchestrator.
func NewFromConfig(cfg *config.Config) *Orchestrator {
	fetcher := gh.NewClient(cfg.GitHub.Token, cfg.GitHub.RateLimit)

	var analyzers []analyzer.Analyzer
	if cfg.Analyzers.Infra {
		analyzers = append(analyzers, infra.New())
	}
	if cfg.Analyzers.Container {
		registry := docker.NewClient(cfg.DockerHub.Username, cfg.DockerHub.Password)
		analyzers = append(analyzers, container.New(registry))
	}
	if cfg.Analyzers.Dependency {
		python := dependency.NewPythonChecker(pypi.NewClient(), wheeltester.NewClient(cfg.GitHub.Token))
		nodejs := dependency.NewNodeChecker(npm.NewClient())
		analyzers = append(analyzers, dependency.NewManager(python, nodejs))
	}

	if len(analyzers) == 0 {
		slog.Default().Warn("no analyzers are enabled, analysis will yield empty results")
	}

	return New(fetcher, analyzers...)
}
