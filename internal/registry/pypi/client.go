// Package pypi resolves Python package ARM64 compatibility from the PyPI
// JSON API by classifying the wheel set of the selected release.
package pypi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/costnorm/armscan/internal/analyzer"
	"github.com/costnorm/armscan/internal/cache"
	"github.com/costnorm/armscan/internal/pep440"
)

const defaultBaseURL = "https://pypi.org"

var (
	normalizePattern = regexp.MustCompile(`[-_.]+`)
	wheelTagsPattern = regexp.MustCompile(`-([^-]+-[^-]+-[^-]+)\.whl$`)

	armTagIDs    = []string{"aarch64", "arm64"}
	x86TagIDs    = []string{"win_amd64", "amd64", "x86_64", "x64", "win32", "i686"}
	nonAnyMarker = []string{"win", "linux", "macosx", "x86_64", "amd64"}
)

// Normalize canonicalizes a package name per PEP 503: lower-case with runs
// of dot, dash, and underscore folded to a single hyphen.
func Normalize(name string) string {
	return normalizePattern.ReplaceAllString(strings.ToLower(strings.TrimSpace(name)), "-")
}

// Result is the registry determination for one package@spec.
type Result struct {
	Compat         analyzer.Compatibility `json:"compatible"`
	Reason         string                 `json:"reason"`
	CheckedVersion string                 `json:"checked_version,omitempty"`
	// Warning carries the yanked notice when the selected release is yanked.
	Warning string `json:"warning,omitempty"`
}

// Client talks to the PyPI JSON API. Outcomes are memoized: fallback and
// error outcomes under the (name, spec) key, successful classifications
// additionally under the (name, resolvedVersion) key.
type Client struct {
	httpClient *http.Client
	baseURL    string
	results    *cache.Cache[Result]
	logger     *slog.Logger
}

// NewClient creates a PyPI client.
func NewClient() *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    defaultBaseURL,
		results:    cache.New[Result](),
		logger:     slog.Default().With("component", "pypi"),
	}
}

// packageDoc is the subset of the PyPI JSON document the engine reads.
type packageDoc struct {
	Info struct {
		Version     string   `json:"version"`
		Classifiers []string `json:"classifiers"`
		Platform    string   `json:"platform"`
	} `json:"info"`
	Releases map[string][]releaseFile `json:"releases"`
}

type releaseFile struct {
	Filename     string `json:"filename"`
	PackageType  string `json:"packagetype"`
	Yanked       bool   `json:"yanked"`
	YankedReason string `json:"yanked_reason"`
}

// GetPackage resolves the version specifier against the package's releases
// and classifies the chosen release's files. Failures are folded into
// unknown results; GetPackage never returns an error.
func (c *Client) GetPackage(ctx context.Context, name, spec string) Result {
	normalized := Normalize(name)
	if normalized == "" || normalized == "-" {
		return Result{
			Compat: analyzer.CompatUnknown,
			Reason: fmt.Sprintf("Invalid package name format: %s", name),
		}
	}

	specKey := cache.Key(normalized, spec)
	if cached, ok := c.results.Get(specKey); ok {
		return cached
	}

	result := c.results.Do(specKey, func() (Result, bool) {
		return c.check(ctx, normalized, spec)
	})
	return result
}

func (c *Client) check(ctx context.Context, normalized, spec string) (Result, bool) {
	c.logger.Info("checking PyPI compatibility", "package", normalized, "spec", spec)

	doc, errResult := c.fetchDoc(ctx, normalized)
	if errResult != nil {
		return *errResult, true
	}

	if len(doc.Releases) == 0 {
		return Result{
			Compat: analyzer.CompatUnknown,
			Reason: fmt.Sprintf("No releases found for '%s' on PyPI.", normalized),
		}, true
	}

	targetVersion, res := c.resolveVersion(doc, normalized, spec)
	if res != nil {
		return *res, true
	}

	versionKey := cache.Key(normalized, targetVersion)
	if cached, ok := c.results.Get(versionKey); ok {
		return cached, true
	}

	result := classifyRelease(doc, targetVersion)
	c.results.Set(versionKey, result)
	return result, true
}

func (c *Client) fetchDoc(ctx context.Context, normalized string) (*packageDoc, *Result) {
	url := fmt.Sprintf("%s/pypi/%s/json", c.baseURL, normalized)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &Result{Compat: analyzer.CompatUnknown, Reason: fmt.Sprintf("Invalid PyPI URL: %v", err)}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &Result{Compat: analyzer.CompatUnknown, Reason: fmt.Sprintf("Network error checking PyPI: %v", err)}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, &Result{
			Compat: analyzer.CompatUnknown,
			Reason: fmt.Sprintf("Package '%s' not found on PyPI.", normalized),
		}
	case resp.StatusCode != http.StatusOK:
		return nil, &Result{
			Compat: analyzer.CompatUnknown,
			Reason: fmt.Sprintf("PyPI API error: HTTP %d", resp.StatusCode),
		}
	}

	var doc packageDoc
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, &Result{Compat: analyzer.CompatUnknown, Reason: fmt.Sprintf("Failed to parse PyPI response: %v", err)}
	}
	return &doc, nil
}

// resolveVersion picks the greatest release satisfying the specifier, or the
// registry's current version when no specifier is given.
func (c *Client) resolveVersion(doc *packageDoc, normalized, spec string) (string, *Result) {
	if spec == "" {
		latest := doc.Info.Version
		if latest == "" {
			return "", &Result{
				Compat: analyzer.CompatUnknown,
				Reason: "Could not determine latest version from PyPI info.",
			}
		}
		return latest, nil
	}

	if _, err := pep440.ParseRange(spec); err != nil {
		return "", &Result{
			Compat: analyzer.CompatUnknown,
			Reason: fmt.Sprintf("Invalid version specifier: '%s'", spec),
		}
	}

	available := make([]string, 0, len(doc.Releases))
	for v := range doc.Releases {
		available = append(available, v)
	}
	target, ok := pep440.MaxSatisfying(available, spec)
	if !ok {
		return "", &Result{
			Compat: analyzer.CompatUnknown,
			Reason: fmt.Sprintf("No version found satisfying '%s'.", spec),
		}
	}
	c.logger.Debug("resolved specifier", "package", normalized, "spec", spec, "version", target)
	return target, nil
}

// classifyRelease inspects the chosen release's files.
func classifyRelease(doc *packageDoc, version string) Result {
	files, ok := doc.Releases[version]
	if !ok {
		return Result{
			Compat:         analyzer.CompatUnknown,
			Reason:         fmt.Sprintf("Internal error: Target version %s details missing.", version),
			CheckedVersion: version,
		}
	}

	yanked := false
	yankedReason := "No reason provided"
	if len(files) > 0 && files[0].Yanked {
		yanked = true
		if files[0].YankedReason != "" {
			yankedReason = files[0].YankedReason
		}
	}

	var armWheels, universalWheels, sdists, otherArchWheels []string
	for _, f := range files {
		if f.Yanked {
			continue
		}
		switch f.PackageType {
		case "bdist_wheel":
			m := wheelTagsPattern.FindStringSubmatch(f.Filename)
			if m == nil {
				continue
			}
			tags := strings.ToLower(m[1])
			switch {
			case containsAny(tags, armTagIDs):
				armWheels = append(armWheels, f.Filename)
			case strings.Contains(tags, "universal2") && strings.Contains(tags, "macosx"):
				universalWheels = append(universalWheels, f.Filename)
			case strings.Contains(tags, "any") && !containsAny(tags, nonAnyMarker):
				universalWheels = append(universalWheels, f.Filename)
			case containsAny(tags, x86TagIDs):
				otherArchWheels = append(otherArchWheels, f.Filename)
			}
		case "sdist":
			sdists = append(sdists, f.Filename)
		}
	}

	var result Result
	switch {
	case len(armWheels) > 0:
		result = Result{
			Compat: analyzer.CompatYes,
			Reason: fmt.Sprintf("ARM-specific wheels found for version %s.", version),
		}
	case len(universalWheels) > 0:
		result = Result{
			Compat: analyzer.CompatYes,
			Reason: fmt.Sprintf("Platform-agnostic or universal wheels found for version %s.", version),
		}
	case len(sdists) > 0:
		if hasNativeCode(doc.Info.Classifiers) || isPlatformSpecific(doc.Info.Platform) {
			result = Result{
				Compat: analyzer.CompatPartial,
				Reason: fmt.Sprintf("Source distribution found for %s, may require compilation on ARM64 (contains C/C++/Cython or platform markers).", version),
			}
		} else {
			result = Result{
				Compat: analyzer.CompatYes,
				Reason: fmt.Sprintf("Likely pure Python source distribution found for %s.", version),
			}
		}
	case len(otherArchWheels) > 0:
		result = Result{
			Compat: analyzer.CompatNo,
			Reason: fmt.Sprintf("Only non-ARM wheels (e.g., x86_64) found for non-yanked files of version %s.", version),
		}
	default:
		result = Result{
			Compat: analyzer.CompatUnknown,
			Reason: fmt.Sprintf("No non-yanked wheels or source distribution found for version %s on PyPI.", version),
		}
	}

	if yanked {
		result.Warning = fmt.Sprintf("Version %s is yanked: %s", version, yankedReason)
	}
	result.CheckedVersion = version
	return result
}

func hasNativeCode(classifiers []string) bool {
	for _, c := range classifiers {
		if strings.Contains(c, "Programming Language :: C") ||
			strings.Contains(c, "Programming Language :: C++") ||
			strings.Contains(c, "Programming Language :: Cython") {
			return true
		}
	}
	return false
}

func isPlatformSpecific(platform string) bool {
	return platform != "" && platform != "any"
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
