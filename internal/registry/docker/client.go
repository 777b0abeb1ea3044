// Package docker inspects container image manifests over the registry v2
// protocol to determine architecture support.
package docker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/costnorm/armscan/internal/cache"
)

// Compat is the outcome of one image inspection.
type Compat string

const (
	CompatYes     Compat = "yes"
	CompatNo      Compat = "no"
	CompatUnknown Compat = "unknown"
)

// Manifest media types, newest preference first.
const (
	mediaOCIIndex       = "application/vnd.oci.image.index.v1+json"
	mediaOCIManifest    = "application/vnd.oci.image.manifest.v1+json"
	mediaDockerList     = "application/vnd.docker.distribution.manifest.list.v2+json"
	mediaDockerManifest = "application/vnd.docker.distribution.manifest.v2+json"

	acceptHeader = mediaOCIIndex + ", " + mediaOCIManifest + ", " + mediaDockerList + ", " + mediaDockerManifest
)

const hubAuthService = "registry.docker.io"

var (
	arm64Archs = []string{"arm64", "aarch64"}

	tokenExpirySafetyMargin = 60 * time.Second
)

// Inspection is the architecture-support result for one image.
type Inspection struct {
	Compat        Compat   `json:"compatible"`
	Architectures []string `json:"architectures"`
	Reason        string   `json:"reason"`
	// CheckedType records how the determination was made: manifest,
	// manifest_list/index, special, limited_support, or error.
	CheckedType string `json:"checked_type"`
}

type authToken struct {
	value  string
	expiry time.Time
}

// Client talks the registry v2 protocol. Results are memoized by canonical
// image key for the lifetime of the client.
type Client struct {
	httpClient *http.Client
	username   string
	password   string
	logger     *slog.Logger

	manifests *cache.Cache[Inspection]

	tokenMu sync.Mutex
	tokens  map[string]authToken

	// Overridable for tests.
	scheme     string
	hubHost    string
	hubAuthURL string
}

// NewClient creates a registry client. Credentials are optional; anonymous
// token exchange is attempted without them.
func NewClient(username, password string) *Client {
	return &Client{
		httpClient: &http.Client{},
		username:   username,
		password:   password,
		logger:     slog.Default().With("component", "docker-registry"),
		manifests:  cache.New[Inspection](),
		tokens:     make(map[string]authToken),
		scheme:     "https",
		hubHost:    DefaultRegistry,
		hubAuthURL: "https://auth.docker.io/token",
	}
}

// Inspect checks ARM64 support for an image reference. Failures are folded
// into an unknown result with a reason; Inspect never returns an error.
func (c *Client) Inspect(ctx context.Context, image string) Inspection {
	key := Canonicalize(image)
	return c.manifests.Do(key, func() (Inspection, bool) {
		return c.inspect(ctx, key), true
	})
}

func (c *Client) inspect(ctx context.Context, key string) Inspection {
	if key == Scratch {
		return Inspection{
			Compat:        CompatYes,
			Architectures: []string{"multiple"},
			Reason:        "Base image is 'scratch', which is inherently multi-arch.",
			CheckedType:   "special",
		}
	}

	c.logger.Info("checking image manifest", "image", key)
	ref := ParseImageName(key)

	if ref.Registry != c.hubHost && ref.Registry != DefaultRegistry {
		if strings.HasSuffix(ref.Registry, "amazonaws.com") {
			return Inspection{
				Compat:      CompatUnknown,
				Reason:      "ECR images require AWS credentials. Cannot check manifest without proper IAM configuration.",
				CheckedType: "limited_support",
			}
		}
		// Fall through: unauthenticated retrieval is attempted for other
		// registries and denial maps to unknown below.
	}

	var token string
	if ref.Registry == c.hubHost || ref.Registry == DefaultRegistry {
		token = c.getHubToken(ctx, ref.Repo)
	}

	manifestURL := fmt.Sprintf("%s://%s/v2/%s/manifests/%s", c.scheme, ref.Registry, ref.Repo, refSuffix(ref))
	body, contentType, errInsp := c.getJSON(ctx, manifestURL, token, acceptHeader, 15*time.Second)
	if errInsp != nil {
		return *errInsp
	}

	switch {
	case strings.HasPrefix(contentType, mediaDockerList), strings.HasPrefix(contentType, mediaOCIIndex):
		return c.classifyIndex(body)
	case strings.HasPrefix(contentType, mediaDockerManifest), strings.HasPrefix(contentType, mediaOCIManifest):
		return c.classifySingleManifest(ctx, ref, token, body)
	default:
		return Inspection{
			Compat:      CompatUnknown,
			Reason:      fmt.Sprintf("Unsupported manifest Content-Type: %s", contentType),
			CheckedType: "error",
		}
	}
}

func refSuffix(ref Ref) string {
	if ref.IsDigest() {
		return strings.TrimPrefix(ref.TagOrDigest, "@")
	}
	return ref.TagOrDigest
}

// classifyIndex enumerates a manifest list or OCI index.
func (c *Client) classifyIndex(body []byte) Inspection {
	var index struct {
		Manifests []struct {
			Platform struct {
				Architecture string `json:"architecture"`
				OS           string `json:"os"`
			} `json:"platform"`
		} `json:"manifests"`
	}
	if err := json.Unmarshal(body, &index); err != nil {
		return Inspection{
			Compat:      CompatUnknown,
			Reason:      fmt.Sprintf("Failed to parse manifest list: %v", err),
			CheckedType: "error",
		}
	}
	if len(index.Manifests) == 0 {
		return Inspection{
			Compat:      CompatUnknown,
			Reason:      "Manifest list/index is empty.",
			CheckedType: "manifest_list/index",
		}
	}

	archs := make(map[string]struct{})
	arm64 := false
	for _, m := range index.Manifests {
		arch := strings.ToLower(m.Platform.Architecture)
		os := strings.ToLower(m.Platform.OS)
		if arch != "" && os != "" {
			archs[os+"/"+arch] = struct{}{}
		}
		if os == "linux" && isARM64(arch) {
			arm64 = true
		}
	}
	return finalize(arm64, archs, "manifest_list/index")
}

// classifySingleManifest resolves the config blob referenced by a single
// manifest. When the config fetch fails the top-level architecture is
// recorded with an unknown OS and never asserts compatibility.
func (c *Client) classifySingleManifest(ctx context.Context, ref Ref, token string, body []byte) Inspection {
	var manifest struct {
		Architecture string `json:"architecture"`
		Config       struct {
			Digest string `json:"digest"`
		} `json:"config"`
	}
	if err := json.Unmarshal(body, &manifest); err != nil {
		return Inspection{
			Compat:      CompatUnknown,
			Reason:      fmt.Sprintf("Failed to parse manifest: %v", err),
			CheckedType: "error",
		}
	}

	archs := make(map[string]struct{})
	arm64 := false

	if manifest.Config.Digest != "" {
		blobURL := fmt.Sprintf("%s://%s/v2/%s/blobs/%s", c.scheme, ref.Registry, ref.Repo, manifest.Config.Digest)
		blob, _, errInsp := c.getJSON(ctx, blobURL, token, "", 10*time.Second)
		if errInsp == nil {
			var config struct {
				Architecture string `json:"architecture"`
				OS           string `json:"os"`
			}
			if err := json.Unmarshal(blob, &config); err == nil {
				arch := strings.ToLower(config.Architecture)
				os := strings.ToLower(config.OS)
				if arch != "" && os != "" {
					archs[os+"/"+arch] = struct{}{}
				}
				if os == "linux" && isARM64(arch) {
					arm64 = true
				}
				return finalize(arm64, archs, "manifest")
			}
		}
		c.logger.Warn("config blob fetch failed, falling back to manifest top-level architecture",
			"repo", ref.Repo)
	}

	// Top-level architecture only: OS is unknown, so ARM64 is never asserted
	// from this path.
	if arch := strings.ToLower(manifest.Architecture); arch != "" {
		archs["unknown/"+arch] = struct{}{}
	}
	if len(archs) == 0 {
		return Inspection{
			Compat:      CompatUnknown,
			Reason:      "Single manifest architecture could not be determined (missing config digest and architecture field).",
			CheckedType: "manifest",
		}
	}
	return finalize(false, archs, "manifest")
}

func finalize(arm64 bool, archs map[string]struct{}, checkedType string) Inspection {
	sorted := make([]string, 0, len(archs))
	for a := range archs {
		sorted = append(sorted, a)
	}
	sort.Strings(sorted)

	switch {
	case arm64:
		return Inspection{
			Compat:        CompatYes,
			Architectures: sorted,
			Reason:        "Image manifest supports linux/arm64.",
			CheckedType:   checkedType,
		}
	case len(sorted) > 0:
		return Inspection{
			Compat:        CompatNo,
			Architectures: sorted,
			Reason:        fmt.Sprintf("Image manifest does not list linux/arm64 support. Found: %s", strings.Join(sorted, ", ")),
			CheckedType:   checkedType,
		}
	default:
		return Inspection{
			Compat:      CompatUnknown,
			Reason:      "Could not determine architecture support from manifest.",
			CheckedType: checkedType,
		}
	}
}

func isARM64(arch string) bool {
	for _, a := range arm64Archs {
		if arch == a {
			return true
		}
	}
	return false
}

// getJSON performs an authorized GET and maps failure statuses to unknown
// inspections.
func (c *Client) getJSON(ctx context.Context, rawURL, token, accept string, timeout time.Duration) ([]byte, string, *Inspection) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", errorInspection(fmt.Sprintf("Invalid registry URL: %v", err))
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", errorInspection(fmt.Sprintf("Network error checking manifest: %v", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var reason string
		switch resp.StatusCode {
		case http.StatusUnauthorized:
			reason = "Authentication error accessing manifest. Check credentials or image visibility."
		case http.StatusForbidden:
			reason = "Permission denied accessing manifest. Check repository permissions."
		case http.StatusNotFound:
			reason = "Image manifest not found (404). Check image name, tag, and registry."
		case http.StatusTooManyRequests:
			reason = "API rate limit hit checking manifest. Try again later."
		default:
			reason = fmt.Sprintf("HTTP error %d checking manifest.", resp.StatusCode)
		}
		return nil, "", errorInspection(reason)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, "", errorInspection(fmt.Sprintf("Failed to read registry response: %v", err))
	}
	return body, strings.ToLower(resp.Header.Get("Content-Type")), nil
}

func errorInspection(reason string) *Inspection {
	return &Inspection{Compat: CompatUnknown, Reason: reason, CheckedType: "error"}
}

// getHubToken exchanges for a Docker Hub pull token scoped to the
// repository, caching it until shortly before its announced expiry. An empty
// result means anonymous unauthenticated access.
func (c *Client) getHubToken(ctx context.Context, repo string) string {
	user := c.username
	if user == "" {
		user = "anonymous"
	}
	key := user + ":" + repo

	c.tokenMu.Lock()
	cached, ok := c.tokens[key]
	c.tokenMu.Unlock()
	if ok && time.Until(cached.expiry) > tokenExpirySafetyMargin {
		return cached.value
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	q := url.Values{}
	q.Set("service", hubAuthService)
	q.Set("scope", "repository:"+repo+":pull")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.hubAuthURL+"?"+q.Encode(), nil)
	if err != nil {
		c.logger.Error("failed to build token request", "error", err)
		return ""
	}
	if c.username != "" && c.password != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("token request failed", "repo", repo, "error", err)
		return ""
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Error("token request rejected", "repo", repo, "status", resp.StatusCode)
		return ""
	}

	var tokenResp struct {
		Token     string `json:"token"`
		ExpiresIn int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		c.logger.Error("failed to decode token response", "repo", repo, "error", err)
		return ""
	}
	if tokenResp.Token == "" {
		return ""
	}
	if tokenResp.ExpiresIn <= 0 {
		tokenResp.ExpiresIn = 300
	}

	c.tokenMu.Lock()
	c.tokens[key] = authToken{
		value:  tokenResp.Token,
		expiry: time.Now().Add(time.Duration(tokenResp.ExpiresIn) * time.Second),
	}
	c.tokenMu.Unlock()

	return tokenResp.Token
}
