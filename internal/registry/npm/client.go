// Package npm resolves Node package ARM64 compatibility from the npm
// registry by evaluating version-range specifiers and inspecting the chosen
// version's manifest for native-code signals.
package npm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/costnorm/armscan/internal/analyzer"
	"github.com/costnorm/armscan/internal/cache"
)

const defaultBaseURL = "https://registry.npmjs.org"

// Packages that commonly ship or compile native code. Curation only sets the
// initial bias; manifest evidence overrides it.
var knownProblematic = map[string]struct{}{
	"node-sass": {}, "sharp": {}, "canvas": {}, "grpc": {}, "electron": {},
	"node-gyp": {}, "robotjs": {}, "sqlite3": {}, "bcrypt": {}, "cpu-features": {},
	"node-expat": {}, "dtrace-provider": {}, "epoll": {}, "fsevents": {},
	"libxmljs": {}, "leveldown": {},
}

// Packages known to be pure JavaScript.
var knownPureJS = map[string]struct{}{
	"react": {}, "react-dom": {}, "lodash": {}, "axios": {}, "express": {},
	"moment": {}, "chalk": {}, "commander": {}, "dotenv": {}, "uuid": {},
	"cors": {}, "typescript": {}, "jest": {}, "mocha": {}, "eslint": {},
	"prettier": {}, "webpack": {}, "rollup": {}, "vite": {}, "next": {},
	"vue": {}, "jquery": {}, "redux": {}, "react-router-dom": {}, "classnames": {},
}

// Result is the registry determination for one package@spec.
type Result struct {
	Compat         analyzer.Compatibility `json:"compatible"`
	Reason         string                 `json:"reason"`
	CheckedVersion string                 `json:"checked_version,omitempty"`
	// SpecSatisfied is nil when resolution failed entirely, false when the
	// engine fell back to the latest dist-tag.
	SpecSatisfied *bool `json:"spec_satisfied"`
}

// Client talks to the npm registry. Fallback and error outcomes are memoized
// under the (name, spec) key; successful evaluations under the
// (name, resolvedVersion) key, shared across specs resolving to the same
// version.
type Client struct {
	httpClient *http.Client
	baseURL    string
	results    *cache.Cache[Result]
	logger     *slog.Logger
}

// NewClient creates an npm registry client.
func NewClient() *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		baseURL:    defaultBaseURL,
		results:    cache.New[Result](),
		logger:     slog.Default().With("component", "npm"),
	}
}

// versionMeta is the subset of a version manifest the engine reads.
type versionMeta struct {
	CPU     stringList        `json:"cpu"`
	OS      stringList        `json:"os"`
	Binary  json.RawMessage   `json:"binary"`
	Scripts map[string]string `json:"scripts"`
	Gypfile bool              `json:"gypfile"`
}

type packageDoc struct {
	Versions map[string]versionMeta `json:"versions"`
	DistTags map[string]string      `json:"dist-tags"`
}

// stringList tolerates both string and []string JSON shapes.
type stringList []string

func (s *stringList) UnmarshalJSON(b []byte) error {
	var many []string
	if err := json.Unmarshal(b, &many); err == nil {
		*s = many
		return nil
	}
	var one string
	if err := json.Unmarshal(b, &one); err != nil {
		return err
	}
	*s = []string{one}
	return nil
}

// GetPackage resolves the version spec and evaluates the chosen version's
// manifest. Failures fold into unknown results; GetPackage never returns an
// error.
func (c *Client) GetPackage(ctx context.Context, name, spec string) Result {
	specKey := cache.Key(name, spec)
	if cached, ok := c.results.Get(specKey); ok {
		return cached
	}
	return c.results.Do(specKey, func() (Result, bool) {
		return c.check(ctx, name, spec)
	})
}

// check returns the result and whether to memoize it under the spec key.
func (c *Client) check(ctx context.Context, name, spec string) (Result, bool) {
	c.logger.Info("checking npm compatibility", "package", name, "spec", spec)

	doc, errResult := c.fetchDoc(ctx, name)
	if errResult != nil {
		return *errResult, true
	}
	if len(doc.Versions) == 0 {
		return Result{
			Compat: analyzer.CompatUnknown,
			Reason: fmt.Sprintf("No version information found for package '%s' on NPM registry.", name),
		}, true
	}

	target, satisfied, fallbackReason, errResult := resolveSpec(doc, spec)
	if errResult != nil {
		return *errResult, true
	}

	versionKey := cache.Key(name, target)
	if cached, ok := c.results.Get(versionKey); ok {
		cached.SpecSatisfied = boolPtr(satisfied)
		if !satisfied && fallbackReason != "" {
			cached.Reason = fallbackReason + " " + cached.Reason
		}
		return cached, !satisfied
	}

	meta, ok := doc.Versions[target]
	if !ok {
		result := Result{
			Compat:         analyzer.CompatUnknown,
			Reason:         fmt.Sprintf("Internal error: Metadata missing for resolved version %s.", target),
			CheckedVersion: target,
			SpecSatisfied:  boolPtr(satisfied),
		}
		c.results.Set(versionKey, result)
		return result, !satisfied
	}

	result := evaluateMeta(name, target, meta)
	result.SpecSatisfied = boolPtr(satisfied)
	if fallbackReason != "" {
		result.Reason = fallbackReason + " " + result.Reason
	}

	c.results.Set(versionKey, result)
	// Fallback outcomes are also pinned under the spec key so the failing
	// spec is not re-resolved within one analysis.
	return result, !satisfied
}

func (c *Client) fetchDoc(ctx context.Context, name string) (*packageDoc, *Result) {
	// Scoped packages need their slash escaped.
	escaped := strings.ReplaceAll(url.PathEscape(name), "%40", "@")
	reqURL := c.baseURL + "/" + escaped

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, &Result{Compat: analyzer.CompatUnknown, Reason: fmt.Sprintf("Invalid registry URL: %v", err)}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &Result{Compat: analyzer.CompatUnknown, Reason: fmt.Sprintf("Network error checking NPM: %v", err)}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, &Result{
			Compat: analyzer.CompatUnknown,
			Reason: fmt.Sprintf("Package '%s' not found on NPM registry.", name),
		}
	case resp.StatusCode != http.StatusOK:
		return nil, &Result{
			Compat: analyzer.CompatUnknown,
			Reason: fmt.Sprintf("NPM registry error: HTTP %d", resp.StatusCode),
		}
	}

	var doc packageDoc
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, &Result{Compat: analyzer.CompatUnknown, Reason: "Failed to parse NPM registry response."}
	}
	return &doc, nil
}

// resolveSpec picks the target version for the specifier. It reports whether
// the spec was satisfied and a fallback reason when it was not.
func resolveSpec(doc *packageDoc, spec string) (target string, satisfied bool, fallbackReason string, errResult *Result) {
	latest := doc.DistTags["latest"]

	if spec == "" || spec == "*" || spec == "latest" {
		if latest == "" {
			return "", false, "", &Result{
				Compat: analyzer.CompatUnknown,
				Reason: fmt.Sprintf("Invalid version spec '%s' or unable to resolve: no 'latest' tag found.", spec),
			}
		}
		// An explicit latest marker is satisfied; empty and wildcard specs
		// are recorded as defaults.
		return latest, spec == "latest", "", nil
	}

	constraint, err := semver.NewConstraint(spec)
	if err != nil {
		return "", false, "", &Result{
			Compat: analyzer.CompatUnknown,
			Reason: fmt.Sprintf("Invalid version spec '%s' or unable to resolve: %v", spec, err),
		}
	}

	var best *semver.Version
	var bestRaw string
	for raw := range doc.Versions {
		v, err := semver.NewVersion(raw)
		if err != nil {
			continue
		}
		if !constraint.Check(v) {
			continue
		}
		if best == nil || v.GreaterThan(best) {
			best, bestRaw = v, raw
		}
	}
	if best != nil {
		return bestRaw, true, "", nil
	}

	if latest == "" {
		return "", false, "", &Result{
			Compat: analyzer.CompatUnknown,
			Reason: fmt.Sprintf("Invalid version spec '%s' or unable to resolve: no version satisfies it and no 'latest' tag found.", spec),
		}
	}
	reason := fmt.Sprintf("No version satisfied spec '%s', fell back to latest (%s).", spec, latest)
	return latest, false, reason, nil
}

// evaluateMeta inspects one version manifest for ARM64 signals. The result
// starts compatible; partial indicators downgrade it and incompatible
// indicators dominate.
func evaluateMeta(name, version string, meta versionMeta) Result {
	status := analyzer.CompatYes
	var reasons []string

	if _, ok := knownProblematic[name]; ok {
		status = analyzer.CompatPartial
		reasons = append(reasons, "Package is commonly reported to ship or compile native code")
	}

	downgrade := func() {
		if status != analyzer.CompatNo {
			status = analyzer.CompatPartial
		}
	}

	if len(meta.CPU) > 0 {
		armAllowed := containsAnyOf(meta.CPU, "arm", "arm64", "any")
		onlyNonARM := allIn(meta.CPU, "x64", "ia32")
		negatedARM := hasNegated(meta.CPU, "arm", "arm64")
		negatedOther := hasNegatedOther(meta.CPU, "arm", "arm64")

		switch {
		case negatedARM:
			status = analyzer.CompatNo
			reasons = append(reasons, fmt.Sprintf("CPU field explicitly excludes ARM ('%s')", strings.Join(meta.CPU, ", ")))
		case onlyNonARM:
			status = analyzer.CompatNo
			reasons = append(reasons, fmt.Sprintf("CPU field only lists non-ARM architectures ('%s')", strings.Join(meta.CPU, ", ")))
		case !armAllowed && !negatedOther:
			downgrade()
			reasons = append(reasons, fmt.Sprintf("CPU field ('%s') does not explicitly mention ARM support", strings.Join(meta.CPU, ", ")))
		case containsAnyOf(meta.CPU, "arm") && !containsAnyOf(meta.CPU, "arm64"):
			downgrade()
			reasons = append(reasons, fmt.Sprintf("CPU field mentions 'arm' but not 'arm64' ('%s')", strings.Join(meta.CPU, ", ")))
		}
	}

	if len(meta.OS) > 0 {
		linuxExcluded := containsAnyOf(meta.OS, "!linux")
		onlyNonLinux := allIn(meta.OS, "win32", "darwin", "freebsd") &&
			!containsAnyOf(meta.OS, "linux", "any", "!win32", "!darwin")

		switch {
		case linuxExcluded:
			status = analyzer.CompatNo
			reasons = append(reasons, fmt.Sprintf("OS field explicitly excludes Linux ('%s')", strings.Join(meta.OS, ", ")))
		case onlyNonLinux:
			status = analyzer.CompatNo
			reasons = append(reasons, fmt.Sprintf("OS field only lists non-Linux platforms ('%s')", strings.Join(meta.OS, ", ")))
		}
	}

	if len(meta.Binary) > 0 && string(meta.Binary) != "null" && string(meta.Binary) != "false" {
		downgrade()
		reasons = append(reasons, "Contains 'binary' field, may download pre-compiled native code")
	}

	installScripts := strings.ToLower(strings.Join([]string{
		meta.Scripts["install"], meta.Scripts["preinstall"], meta.Scripts["postinstall"],
	}, " "))
	if meta.Gypfile || strings.Contains(installScripts, "node-gyp") || strings.Contains(installScripts, "node-pre-gyp") {
		downgrade()
		reasons = append(reasons, "Uses node-gyp/node-pre-gyp or has gypfile, likely involves native compilation")
	}

	if status == analyzer.CompatYes {
		if _, ok := knownPureJS[name]; ok {
			reasons = append(reasons, "Widely used pure JavaScript package")
		}
	}

	reason := strings.Join(dedupeSorted(reasons), "; ")
	if reason == "" && status == analyzer.CompatYes {
		reason = fmt.Sprintf("Package version %s appears compatible based on metadata analysis.", version)
	}

	return Result{
		Compat:         status,
		Reason:         reason,
		CheckedVersion: version,
	}
}

func containsAnyOf(list []string, values ...string) bool {
	for _, v := range list {
		for _, want := range values {
			if v == want {
				return true
			}
		}
	}
	return false
}

func allIn(list []string, allowed ...string) bool {
	for _, v := range list {
		found := false
		for _, a := range allowed {
			if v == a {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return len(list) > 0
}

func hasNegated(list []string, names ...string) bool {
	for _, v := range list {
		if !strings.HasPrefix(v, "!") {
			continue
		}
		for _, n := range names {
			if v[1:] == n {
				return true
			}
		}
	}
	return false
}

// hasNegatedOther reports whether the list negates an architecture other
// than the named ones (e.g. "!x64" implicitly allows everything else).
func hasNegatedOther(list []string, names ...string) bool {
	for _, v := range list {
		if !strings.HasPrefix(v, "!") {
			continue
		}
		other := true
		for _, n := range names {
			if v[1:] == n {
				other = false
				break
			}
		}
		if other {
			return true
		}
	}
	return false
}

func dedupeSorted(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func boolPtr(b bool) *bool {
	return &b
}
