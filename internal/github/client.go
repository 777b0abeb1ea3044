// Package github discovers repository metadata, file trees, and file contents
// over the GitHub REST API.
package github

import (
	"context"
	"encoding/base64"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/go-github/v57/github"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/time/rate"

	apperrors "github.com/costnorm/armscan/internal/errors"
)

// RepoInfo is the subset of repository metadata the engine consumes.
type RepoInfo struct {
	Owner         string
	Name          string
	FullName      string
	DefaultBranch string
	HTMLURL       string
}

// TreeEntry is one entry of a recursive repository tree.
type TreeEntry struct {
	Path string
	Type string // "blob" or "tree"
	Size int64
}

// IsBlob reports whether the entry is a file.
func (e TreeEntry) IsBlob() bool {
	return e.Type == "blob"
}

// Client wraps the GitHub API client with rate limiting.
type Client struct {
	client      *github.Client
	rateLimiter *rate.Limiter
	logger      *slog.Logger
}

// NewClient creates a GitHub client. An empty token means anonymous access,
// which is allowed but rate limited more aggressively by the API.
func NewClient(token string, requestsPerSecond int) *Client {
	gh := github.NewClient(&http.Client{Timeout: 30 * time.Second})
	if token != "" {
		gh = gh.WithAuthToken(token)
	}
	if requestsPerSecond <= 0 {
		requestsPerSecond = 10
	}

	logger := slog.Default().With("component", "github")
	if token == "" {
		logger.Warn("no GitHub token configured, API rate limits may be encountered")
	}

	return &Client{
		client:      gh,
		rateLimiter: rate.NewLimiter(rate.Limit(requestsPerSecond), 1),
		logger:      logger,
	}
}

// NewClientWithHTTP creates a client against a custom transport and base URL.
// Used by tests to point at a local server.
func NewClientWithHTTP(httpClient *http.Client, baseURL string) (*Client, error) {
	gh, err := github.NewClient(httpClient).WithEnterpriseURLs(baseURL, baseURL)
	if err != nil {
		return nil, err
	}
	return &Client{
		client:      gh,
		rateLimiter: rate.NewLimiter(rate.Limit(100), 1),
		logger:      slog.Default().With("component", "github"),
	}, nil
}

// GetRepoInfo fetches repository metadata.
func (c *Client) GetRepoInfo(ctx context.Context, owner, repo string) (*RepoInfo, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, apperrors.ForgeAPI(err, "rate limiter")
	}

	c.logger.Info("fetching repository info", "owner", owner, "repo", repo)
	r, resp, err := c.client.Repositories.Get(ctx, owner, repo)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil, apperrors.RepoNotFoundf("Repository %s/%s not found (404).", owner, repo)
		}
		return nil, apperrors.ForgeAPIf(err, "failed to get repository info for %s/%s", owner, repo)
	}

	return &RepoInfo{
		Owner:         owner,
		Name:          repo,
		FullName:      r.GetFullName(),
		DefaultBranch: r.GetDefaultBranch(),
		HTMLURL:       r.GetHTMLURL(),
	}, nil
}

// GetTree resolves the branch head commit and fetches the recursive tree for
// it.
func (c *Client) GetTree(ctx context.Context, owner, repo, branch string) ([]TreeEntry, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, apperrors.ForgeAPI(err, "rate limiter")
	}

	c.logger.Info("fetching repository tree", "owner", owner, "repo", repo, "branch", branch)
	br, resp, err := c.client.Repositories.GetBranch(ctx, owner, repo, branch, 1)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil, apperrors.BranchNotFoundf("Branch '%s' not found for %s/%s (404).", branch, owner, repo)
		}
		return nil, apperrors.ForgeAPIf(err, "failed to get branch info for %s/%s/%s", owner, repo, branch)
	}

	commitSHA := br.GetCommit().GetSHA()
	if commitSHA == "" {
		return nil, apperrors.Newf(apperrors.KindForgeAPI,
			"could not find commit SHA for branch '%s' in %s/%s", branch, owner, repo)
	}

	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, apperrors.ForgeAPI(err, "rate limiter")
	}

	tree, _, err := c.client.Git.GetTree(ctx, owner, repo, commitSHA, true)
	if err != nil {
		return nil, apperrors.ForgeAPIf(err, "failed to get repository tree for %s/%s", owner, repo)
	}
	if tree.GetTruncated() {
		c.logger.Warn("repository tree truncated by the API", "owner", owner, "repo", repo)
	}

	entries := make([]TreeEntry, 0, len(tree.Entries))
	for _, e := range tree.Entries {
		entries = append(entries, TreeEntry{
			Path: e.GetPath(),
			Type: e.GetType(),
			Size: int64(e.GetSize()),
		})
	}
	return entries, nil
}

// GetFileContent fetches and decodes a file. The boolean result reports
// whether the file exists; paths that resolve to non-file content records
// also report false.
func (c *Client) GetFileContent(ctx context.Context, owner, repo, path, branch string) (string, bool, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return "", false, apperrors.ForgeAPI(err, "rate limiter")
	}

	c.logger.Debug("fetching file content", "path", path, "branch", branch)
	fc, _, resp, err := c.client.Repositories.GetContents(ctx, owner, repo, path,
		&github.RepositoryContentGetOptions{Ref: branch})
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			c.logger.Warn("file not found", "path", path)
			return "", false, nil
		}
		return "", false, apperrors.ForgeAPIf(err, "failed to get file content for %s", path)
	}
	if fc == nil || fc.GetType() != "file" {
		// Directory listing, symlink, or submodule came back instead of a
		// file record.
		c.logger.Warn("path is not a file", "path", path)
		return "", false, nil
	}

	text, err := decodeContent(fc)
	if err != nil {
		return "", false, apperrors.Decode(err, "failed to decode content for file "+path)
	}
	return text, true, nil
}

// decodeContent turns a content record into text. Base64 transport is padded
// to a multiple of four before decoding; text decoding tries UTF-8 first and
// falls back to ISO 8859-1.
func decodeContent(fc *github.RepositoryContent) (string, error) {
	var raw string
	if fc.Content != nil {
		raw = *fc.Content
	}
	if fc.GetEncoding() == "base64" {
		compact := strings.Join(strings.Fields(raw), "")
		if pad := len(compact) % 4; pad != 0 {
			compact += strings.Repeat("=", 4-pad)
		}
		decoded, err := base64.StdEncoding.DecodeString(compact)
		if err != nil {
			return "", err
		}
		return decodeText(decoded)
	}
	return raw, nil
}

func decodeText(b []byte) (string, error) {
	if utf8.Valid(b) {
		return string(b), nil
	}
	decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(b)
	if err != nil {
		return "", err
	}
	return string(decoded), nil
}
