// Package container analyzes Dockerfiles: it extracts base images and
// architecture-sensitive build steps, checks image manifests through the
// registry client, and scores the overall ARM64 migration potential.
package container

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/costnorm/armscan/internal/analyzer"
	"github.com/costnorm/armscan/internal/registry/docker"
)

// Migration potential levels, worst wins.
const (
	PotentialHigh    = "High"
	PotentialMedium  = "Medium"
	PotentialLow     = "Low"
	PotentialUnknown = "Unknown"
)

var (
	fromPattern    = regexp.MustCompile(`(?i)^\s*FROM\s+(?:--platform=(\S+)\s+)?([\w.:/@-]+)(?:\s+AS\s+\S+)?\s*$`)
	commandPattern = regexp.MustCompile(`(?i)^\s*(FROM|RUN|ARG|ENV|COPY|ADD)\s+`)

	archKeywords = []string{
		"amd64", "x86_64", "arm64", "aarch64", "graviton",
		"--platform", "TARGETARCH", "TARGETPLATFORM",
	}
	archKeywordPatterns = compileKeywordPatterns(archKeywords)

	dpkgAddArchPattern  = regexp.MustCompile(`(?i)dpkg --add-architecture\s+(amd64|x86_64)`)
	x86DownloadPattern  = regexp.MustCompile(`(?i)(wget|curl)\s+.*\/(.*(amd64|x86_64).*\.(deb|rpm|tar\.gz|zip|bin))`)
	nativeLibCopy       = regexp.MustCompile(`(?i)(COPY|ADD)\s+.*\.(so|a)(\s+|$)`)
	archNamedCopy       = regexp.MustCompile(`(?i)(COPY|ADD)\s+.*(amd64|x86_64)`)
	blockerDownload     = regexp.MustCompile(`(?i)(wget|curl).*(amd64|x86_64).*\.(deb|rpm|bin|zip|tar\.gz)`)
	blockerPkgInstall   = regexp.MustCompile(`(?i)(apt-get|yum|dnf|apk)\s+install.*:(amd64|x86_64)`)
	reviewNativeLibCopy = regexp.MustCompile(`(?i)(copy|add).*\.(so|a)\s+`)
	reviewArchCopy      = regexp.MustCompile(`(?i)(copy|add).*(amd64|x86_64)`)
	buildArgPattern     = regexp.MustCompile(`\b(TARGETARCH|TARGETPLATFORM)\b`)
	x86KeywordPattern   = regexp.MustCompile(`(?i)\b(amd64|x86_64)\b`)
)

// BaseImage is one FROM record.
type BaseImage struct {
	Name     string `json:"name"`
	Platform string `json:"platform_used,omitempty"`
	Line     string `json:"line"`
}

// FileResult holds what Analyze extracted from one Dockerfile.
type FileResult struct {
	File              string
	BaseImages        []BaseImage
	ArchSpecificLines []string
}

// Finding is the migration assessment for one unique base image.
type Finding struct {
	Image                   string   `json:"image"`
	Files                   []string `json:"files"`
	PlatformsExplicitlyUsed []string `json:"platforms_explicitly_used"`
	ARM64SupportNative      string   `json:"arm64_support_native"` // yes, no, unknown
	NativeSupportReason     string   `json:"native_support_reason"`
	NativeArchitectures     []string `json:"native_architectures"`
	MigrationPotential      string   `json:"migration_potential"`
	RequiredActions         []string `json:"required_actions"`
}

// Compat implements analyzer.Finding.
func (f Finding) Compat() analyzer.Compatibility {
	switch f.ARM64SupportNative {
	case string(docker.CompatYes):
		return analyzer.CompatYes
	case string(docker.CompatNo):
		return analyzer.CompatNo
	default:
		return analyzer.CompatUnknown
	}
}

// Inspector checks architecture support for an image reference.
type Inspector interface {
	Inspect(ctx context.Context, image string) docker.Inspection
}

// Analyzer parses container build files and consults the registry.
type Analyzer struct {
	inspector Inspector
	logger    *slog.Logger
}

// New creates the container analyzer around a registry inspector.
func New(inspector Inspector) *Analyzer {
	return &Analyzer{
		inspector: inspector,
		logger:    slog.Default().With("component", "container-analyzer"),
	}
}

func (a *Analyzer) Key() analyzer.ID {
	return analyzer.IDContainer
}

func (a *Analyzer) Patterns() []*regexp.Regexp {
	return analyzer.MustPatterns(`dockerfile(\..*)?$`, `\.dockerfile$`)
}

// joinContinuationLines concatenates backslash-continued lines. Comments and
// blank lines are preserved as separate entries.
func joinContinuationLines(content string) []string {
	var joined []string
	current := ""

	flush := func() {
		if current != "" {
			joined = append(joined, current)
			current = ""
		}
	}

	for _, line := range strings.Split(content, "\n") {
		stripped := strings.TrimSpace(line)
		if stripped == "" || strings.HasPrefix(stripped, "#") {
			flush()
			joined = append(joined, line)
			continue
		}

		if current != "" && strings.HasSuffix(current, `\`) {
			current = strings.TrimSuffix(current, `\`) + " " + stripped
		} else {
			flush()
			current = stripped
		}

		if !strings.HasSuffix(stripped, `\`) {
			flush()
		}
	}
	flush()
	return joined
}

// Analyze extracts base-image records and architecture-sensitive lines.
func (a *Analyzer) Analyze(content, path string) (analyzer.FileResult, error) {
	result := FileResult{File: path}

	joined := joinContinuationLines(content)

	for _, line := range joined {
		m := fromPattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		name := m[2]
		// Variable references cannot be resolved statically.
		if strings.HasPrefix(name, "${") {
			continue
		}
		result.BaseImages = append(result.BaseImages, BaseImage{
			Name:     name,
			Platform: m[1],
			Line:     strings.TrimSpace(line),
		})
	}

	archLines := make(map[string]struct{})
	for _, line := range joined {
		stripped := strings.TrimSpace(line)
		if stripped == "" || strings.HasPrefix(stripped, "#") {
			continue
		}
		if matchesArchKeyword(stripped) || matchesArchPattern(stripped) {
			archLines[stripped] = struct{}{}
		}
	}
	for line := range archLines {
		result.ArchSpecificLines = append(result.ArchSpecificLines, line)
	}
	sort.Strings(result.ArchSpecificLines)

	a.logger.Debug("analyzed dockerfile", "file", path,
		"base_images", len(result.BaseImages), "arch_lines", len(result.ArchSpecificLines))
	return result, nil
}

func compileKeywordPatterns(keywords []string) []*regexp.Regexp {
	patterns := make([]*regexp.Regexp, len(keywords))
	for i, kw := range keywords {
		expr := regexp.QuoteMeta(strings.ToLower(kw))
		if isAlnumWord(kw) {
			expr = `\b` + expr + `\b`
		}
		patterns[i] = regexp.MustCompile(expr)
	}
	return patterns
}

// matchesArchKeyword requires the keyword inside a recognized instruction
// line; comments never match.
func matchesArchKeyword(line string) bool {
	if !commandPattern.MatchString(line) {
		return false
	}
	lower := strings.ToLower(line)
	for _, re := range archKeywordPatterns {
		if re.MatchString(lower) {
			return true
		}
	}
	return false
}

func isAlnumWord(s string) bool {
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '_') {
			return false
		}
	}
	return true
}

func matchesArchPattern(line string) bool {
	return dpkgAddArchPattern.MatchString(line) ||
		x86DownloadPattern.MatchString(line) ||
		nativeLibCopy.MatchString(line) ||
		archNamedCopy.MatchString(line)
}

// imageData is the collected usage of one unique base image.
type imageData struct {
	files      map[string]struct{}
	platforms  map[string]struct{}
	inspection docker.Inspection
}

// Aggregate checks manifests for unique images, walks arch-sensitive lines,
// and scores the overall migration potential.
func (a *Analyzer) Aggregate(ctx context.Context, outputs []analyzer.FileResult) analyzer.Aggregated {
	var (
		findings        []analyzer.Finding
		recommendations []string
		reasoning       []string
	)

	images := make(map[string]*imageData)
	archLineFiles := make(map[string][]string)

	for _, out := range outputs {
		fr, ok := out.(FileResult)
		if !ok {
			continue
		}
		for _, line := range fr.ArchSpecificLines {
			if !contains(archLineFiles[line], fr.File) {
				archLineFiles[line] = append(archLineFiles[line], fr.File)
			}
		}
		for _, img := range fr.BaseImages {
			key := docker.Canonicalize(img.Name)
			data, ok := images[key]
			if !ok {
				data = &imageData{
					files:     make(map[string]struct{}),
					platforms: make(map[string]struct{}),
				}
				images[key] = data
			}
			data.files[fr.File] = struct{}{}
			if img.Platform != "" {
				data.platforms[strings.ToLower(img.Platform)] = struct{}{}
			}
		}
	}

	imageKeys := make([]string, 0, len(images))
	for k := range images {
		imageKeys = append(imageKeys, k)
	}
	sort.Strings(imageKeys)

	for _, key := range imageKeys {
		images[key].inspection = a.inspector.Inspect(ctx, key)
	}

	overall := PotentialHigh

	for _, key := range imageKeys {
		data := images[key]
		insp := data.inspection

		files := sortedKeys(data.files)
		filesStr := "(used in: " + backtickJoin(files) + ")"
		platforms := sortedKeys(data.platforms)

		f := Finding{
			Image:                   key,
			Files:                   files,
			PlatformsExplicitlyUsed: platforms,
			ARM64SupportNative:      string(insp.Compat),
			NativeSupportReason:     insp.Reason,
			NativeArchitectures:     insp.Architectures,
		}

		switch insp.Compat {
		case docker.CompatYes:
			f.MigrationPotential = PotentialHigh
			reasoning = append(reasoning,
				fmt.Sprintf("✅ Base image `%s` natively supports ARM64 %s.", key, filesStr))
			if contains(platforms, "linux/amd64") {
				reasoning = append(reasoning,
					"   * Note: It was used with `--platform=linux/amd64` which needs removal/change.")
				f.RequiredActions = append(f.RequiredActions,
					"Remove or change `--platform=linux/amd64` flag in FROM lines.")
				recommendations = append(recommendations,
					fmt.Sprintf("Modify Dockerfile(s) for `%s`: remove/change explicit `--platform=linux/amd64` %s.", key, filesStr))
			} else {
				reasoning = append(reasoning,
					"   * No explicit `--platform=linux/amd64` flag was detected for this image.")
			}

		case docker.CompatNo:
			f.MigrationPotential = "Not Possible / Very Difficult"
			reasoning = append(reasoning,
				fmt.Sprintf("❌ Base image `%s` does *not* natively support ARM64 %s. Reason: %s", key, filesStr, insp.Reason))
			recommendations = append(recommendations,
				fmt.Sprintf("Major Blocker: Base image `%s` is not ARM64 compatible. Replace it with a multi-arch or ARM64 variant %s.", key, filesStr))
			overall = PotentialLow

		default:
			f.MigrationPotential = "Unknown / Needs Verification"
			reasoning = append(reasoning,
				fmt.Sprintf("❓ Native ARM64 support for base image `%s` is unknown %s. Reason: %s", key, filesStr, insp.Reason))
			recommendations = append(recommendations,
				fmt.Sprintf("Action Required: Manually verify ARM64 support for `%s` %s (e.g., check Docker Hub, docs, try building for arm64).", key, filesStr))
			if overall == PotentialHigh {
				overall = PotentialMedium
			}
		}

		findings = append(findings, f)
	}

	hardBlockers, reviewItems := false, false
	if len(archLineFiles) > 0 {
		reasoning = append(reasoning, "---")
		reasoning = append(reasoning, "ℹ️ Analysis of specific commands/lines across Dockerfiles:")

		lines := make([]string, 0, len(archLineFiles))
		for line := range archLineFiles {
			lines = append(lines, line)
		}
		sort.Strings(lines)

		for _, line := range lines {
			files := archLineFiles[line]
			sort.Strings(files)
			filesStr := "(in " + backtickJoin(files) + ")"
			lower := strings.ToLower(line)

			switch {
			case blockerDownload.MatchString(lower) ||
				dpkgAddArchPattern.MatchString(lower) ||
				blockerPkgInstall.MatchString(lower):
				reasoning = append(reasoning,
					fmt.Sprintf("   * ❌ Potential Blocker: Line explicitly fetches or installs x86-specific binary/package: `%s` %s", line, filesStr))
				recommendations = append(recommendations,
					fmt.Sprintf("Investigate/Modify: Replace x86-specific download/install with ARM64 equivalent or multi-arch method in line: `%s` %s", line, filesStr))
				hardBlockers = true

			case reviewNativeLibCopy.MatchString(lower):
				reasoning = append(reasoning,
					fmt.Sprintf("   * ⚠️ Review Needed: Line copies native library (`.so`, `.a`). Ensure ARM64 version is available/built: `%s` %s", line, filesStr))
				recommendations = append(recommendations,
					fmt.Sprintf("Verify/Modify: Ensure ARM64 compatible library is copied or built for line: `%s` %s", line, filesStr))
				reviewItems = true

			case reviewArchCopy.MatchString(lower):
				reasoning = append(reasoning,
					fmt.Sprintf("   * ⚠️ Review Needed: Line copies file potentially named for x86. Check if ARM variant needed: `%s` %s", line, filesStr))
				recommendations = append(recommendations,
					fmt.Sprintf("Verify/Modify: Check if ARM variant needed for file copied in line: `%s` %s", line, filesStr))
				reviewItems = true

			case strings.Contains(lower, "--platform=linux/amd64") &&
				!strings.HasPrefix(strings.ToUpper(strings.TrimSpace(line)), "FROM"):
				reasoning = append(reasoning,
					fmt.Sprintf("   * ⚠️ Review Needed: Line uses `--platform` flag outside FROM. Check context: `%s` %s", line, filesStr))
				recommendations = append(recommendations,
					fmt.Sprintf("Verify: Understand use of `--platform` in non-FROM line: `%s` %s", line, filesStr))
				reviewItems = true

			case buildArgPattern.MatchString(line):
				// Multi-arch build arguments are a positive signal.
				reasoning = append(reasoning,
					fmt.Sprintf("   * ✅ Info: Line uses multi-arch build arguments (TARGETARCH/TARGETPLATFORM). This is generally good for ARM compatibility: `%s` %s", line, filesStr))

			case strings.HasPrefix(strings.ToUpper(strings.TrimSpace(line)), "FROM"):
				// Platform flags on FROM lines are assessed per image above.

			case x86KeywordPattern.MatchString(lower):
				reasoning = append(reasoning,
					fmt.Sprintf("   * ⚠️ Review Needed: Line contains x86 keyword ('amd64'/'x86_64'). Review context: `%s` %s", line, filesStr))
				recommendations = append(recommendations,
					fmt.Sprintf("Verify: Review use of x86 keyword in line: `%s` %s", line, filesStr))
				reviewItems = true
			}
		}

		if hardBlockers {
			overall = PotentialLow
		} else if reviewItems && overall == PotentialHigh {
			overall = PotentialMedium
		}
	}

	if len(findings) == 0 && len(archLineFiles) == 0 {
		overall = PotentialUnknown
	}

	summary := "Overall ARM Migration Potential: " + overall + ". "
	switch overall {
	case PotentialHigh:
		summary += "Looks promising. Primarily requires Dockerfile adjustments (like removing --platform) and standard testing."
	case PotentialMedium:
		summary += "Possible, but requires careful review of base image compatibility (if unknown) and specific Dockerfile commands. Thorough testing is crucial."
	case PotentialLow:
		summary += "Significant challenges detected (incompatible base images or hard-coded x86 dependencies). Major refactoring or alternative solutions likely needed."
	default:
		summary += "Cannot determine potential without verifying base image compatibility."
	}

	a.logger.Info("aggregated dockerfile findings",
		"unique_images", len(findings), "overall_potential", overall)

	return analyzer.Aggregated{
		Results:          findings,
		Recommendations:  append([]string{summary}, analyzer.DedupeSorted(recommendations)...),
		Reasoning:        analyzer.DedupeOrdered(reasoning),
		OverallPotential: overall,
	}
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func backtickJoin(items []string) string {
	quoted := make([]string, len(items))
	for i, it := range items {
		quoted[i] = "`" + it + "`"
	}
	return strings.Join(quoted, ", ")
}

func contains(list []string, want string) bool {
	for _, v := range list {
		if v == want {
			return true
		}
	}
	return false
}
