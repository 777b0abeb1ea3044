// Package wheeltester fetches the latest archived results of the
// arm64-python-wheel-tester workflow and answers per-package test outcomes.
package wheeltester

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/go-github/v57/github"
	"github.com/ulikunitz/xz"
)

const (
	archiveOwner        = "geoffreyblake"
	archiveRepo         = "arm64-python-wheel-tester"
	archiveWorkflowFile = "wheel-test.yaml"
	artifactNameMarker  = "results"

	downloadTimeout = 60 * time.Second
)

// EnvResult is the recorded outcome for one package on one test environment.
type EnvResult struct {
	TestPassed    bool `json:"test-passed"`
	BuildRequired bool `json:"build-required"`
}

// Results maps normalized package name to per-environment outcomes.
type Results map[string]map[string]EnvResult

// Client downloads and caches the results archive. The archive is fetched at
// most once per process; failures are cached as an absent archive.
type Client struct {
	gh         *github.Client
	httpClient *http.Client
	logger     *slog.Logger

	mu      sync.Mutex
	fetched bool
	results Results
}

// NewClient creates an archive client. Without a token the fetch is skipped:
// artifact downloads require authentication.
func NewClient(token string) *Client {
	gh := github.NewClient(nil)
	if token != "" {
		gh = gh.WithAuthToken(token)
	} else {
		slog.Default().With("component", "wheel-tester").
			Warn("no GitHub token configured, wheel tester results will be unavailable")
		gh = nil
	}
	return &Client{
		gh:         gh,
		httpClient: &http.Client{Timeout: downloadTimeout},
		logger:     slog.Default().With("component", "wheel-tester"),
	}
}

// NewClientWithGitHub creates a client around an existing GitHub client.
// Used by tests.
func NewClientWithGitHub(gh *github.Client, httpClient *http.Client) *Client {
	return &Client{
		gh:         gh,
		httpClient: httpClient,
		logger:     slog.Default().With("component", "wheel-tester"),
	}
}

// Lookup returns the recorded environments for a normalized package name.
// The second result is false when the package is absent or the archive could
// not be fetched.
func (c *Client) Lookup(ctx context.Context, normalizedName string) (map[string]EnvResult, bool) {
	results := c.load(ctx)
	if results == nil {
		return nil, false
	}
	envs, ok := results[normalizedName]
	return envs, ok
}

// Available reports whether the archive was fetched successfully.
func (c *Client) Available(ctx context.Context) bool {
	return c.load(ctx) != nil
}

func (c *Client) load(ctx context.Context) Results {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fetched {
		return c.results
	}
	c.fetched = true

	if c.gh == nil {
		return nil
	}

	results, err := c.fetch(ctx)
	if err != nil {
		c.logger.Error("failed to fetch wheel tester results", "error", err)
		return nil
	}
	c.results = results
	c.logger.Info("loaded wheel tester results", "packages", len(results))
	return c.results
}

func (c *Client) fetch(ctx context.Context) (Results, error) {
	runs, _, err := c.gh.Actions.ListWorkflowRunsByFileName(ctx, archiveOwner, archiveRepo, archiveWorkflowFile,
		&github.ListWorkflowRunsOptions{
			Status:      "success",
			ListOptions: github.ListOptions{PerPage: 5},
		})
	if err != nil {
		return nil, err
	}
	if runs == nil || len(runs.WorkflowRuns) == 0 {
		c.logger.Warn("no successful workflow runs found")
		return nil, errNoRuns
	}
	runID := runs.WorkflowRuns[0].GetID()

	artifacts, _, err := c.gh.Actions.ListWorkflowRunArtifacts(ctx, archiveOwner, archiveRepo, runID, nil)
	if err != nil {
		return nil, err
	}
	if artifacts == nil || len(artifacts.Artifacts) == 0 {
		c.logger.Warn("no artifacts found for workflow run", "run_id", runID)
		return nil, errNoArtifacts
	}

	target := artifacts.Artifacts[0]
	for _, a := range artifacts.Artifacts {
		if strings.Contains(strings.ToLower(a.GetName()), artifactNameMarker) {
			target = a
			break
		}
	}
	c.logger.Info("downloading results artifact", "name", target.GetName(), "id", target.GetID())

	downloadURL, _, err := c.gh.Actions.DownloadArtifact(ctx, archiveOwner, archiveRepo, target.GetID(), 3)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 128<<20))
	if err != nil {
		return nil, err
	}
	return parseArchive(payload)
}

// parseArchive extracts the single .json.xz member of the artifact zip.
func parseArchive(payload []byte) (Results, error) {
	zr, err := zip.NewReader(bytes.NewReader(payload), int64(len(payload)))
	if err != nil {
		return nil, err
	}

	var member *zip.File
	for _, f := range zr.File {
		if strings.HasSuffix(f.Name, ".json.xz") {
			member = f
			break
		}
	}
	if member == nil {
		return nil, errNoResultsFile
	}

	rc, err := member.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	xzr, err := xz.NewReader(rc)
	if err != nil {
		return nil, err
	}

	var results Results
	if err := json.NewDecoder(xzr).Decode(&results); err != nil {
		return nil, err
	}
	return results, nil
}

var (
	errNoRuns        = &archiveError{"no successful workflow runs found"}
	errNoArtifacts   = &archiveError{"no artifacts found for latest workflow run"}
	errNoResultsFile = &archiveError{"no .json.xz results file in artifact"}
)

type archiveError struct{ msg string }

func (e *archiveError) Error() string { return e.msg }
