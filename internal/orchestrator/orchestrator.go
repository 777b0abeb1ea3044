// Package orchestrator drives one end-to-end repository analysis: URL
// validation, tree discovery, file dispatch to analyzers, aggregation, and
// verdict composition.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/costnorm/armscan/internal/analyzer"
	apperrors "github.com/costnorm/armscan/internal/errors"
	gh "github.com/costnorm/armscan/internal/github"
)

// repoURLPattern accepts repository URLs with an optional .git suffix and
// trailing slash.
var repoURLPattern = regexp.MustCompile(`^https?://github\.com/([^/]+)/([^/\s]+?)(?:\.git)?/?$`)

const processDescription = "ARM compatibility analyzed by examining relevant files for enabled analyzers."

// maxContentWorkers bounds concurrent file-content fetches.
const maxContentWorkers = 8

// Fetcher discovers repository metadata, trees, and contents.
type Fetcher interface {
	GetRepoInfo(ctx context.Context, owner, repo string) (*gh.RepoInfo, error)
	GetTree(ctx context.Context, owner, repo, branch string) ([]gh.TreeEntry, error)
	GetFileContent(ctx context.Context, owner, repo, path, branch string) (string, bool, error)
}

// Orchestrator owns the enabled analyzers for the duration of an analysis.
type Orchestrator struct {
	fetcher   Fetcher
	analyzers []analyzer.Analyzer
	logger    *slog.Logger
}

// New creates an orchestrator over the enabled analyzers. Analyzer order in
// the verdict follows the analyzer.IDs enumeration regardless of the order
// given here.
func New(fetcher Fetcher, analyzers ...analyzer.Analyzer) *Orchestrator {
	byID := make(map[analyzer.ID]analyzer.Analyzer, len(analyzers))
	for _, a := range analyzers {
		if a != nil {
			byID[a.Key()] = a
		}
	}
	ordered := make([]analyzer.Analyzer, 0, len(byID))
	for _, id := range analyzer.IDs() {
		if a, ok := byID[id]; ok {
			ordered = append(ordered, a)
		}
	}
	return &Orchestrator{
		fetcher:   fetcher,
		analyzers: ordered,
		logger:    slog.Default().With("component", "orchestrator"),
	}
}

// ExtractRepoInfo derives (owner, repo) from a repository URL.
func ExtractRepoInfo(url string) (owner, repo string, err error) {
	m := repoURLPattern.FindStringSubmatch(strings.TrimSpace(url))
	if m == nil {
		return "", "", apperrors.InvalidInputf("Invalid GitHub repository URL format: %s", url)
	}
	return m[1], m[2], nil
}

// EnabledAnalyzers lists the analyzer ids this orchestrator runs, in verdict
// order.
func (o *Orchestrator) EnabledAnalyzers() []string {
	names := make([]string, len(o.analyzers))
	for i, a := range o.analyzers {
		names[i] = string(a.Key())
	}
	return names
}

// Analyze performs the end-to-end compatibility analysis for a repository
// URL. The returned verdict is always renderable; a non-nil error marks a
// terminal failure and the verdict carries only the error shape.
func (o *Orchestrator) Analyze(ctx context.Context, url string) (*Verdict, error) {
	logger := o.logger.With("analysis_id", uuid.NewString())

	owner, repo, err := ExtractRepoInfo(url)
	if err != nil {
		return &Verdict{Repository: url, GitHubURL: url, Error: err.Error()}, err
	}
	repository := owner + "/" + repo
	logger.Info("starting ARM compatibility analysis", "repository", repository)

	if len(o.analyzers) == 0 {
		err := apperrors.InvalidInput("No analysis modules are enabled.")
		return &Verdict{Repository: repository, GitHubURL: url, Error: err.Error()}, err
	}

	info, err := o.fetcher.GetRepoInfo(ctx, owner, repo)
	if err != nil {
		return &Verdict{Repository: repository, GitHubURL: url, Error: err.Error()}, err
	}
	defaultBranch := info.DefaultBranch
	if defaultBranch == "" {
		defaultBranch = "main"
	}
	logger.Info("using default branch", "branch", defaultBranch)

	entries, err := o.fetcher.GetTree(ctx, owner, repo, defaultBranch)
	if err != nil {
		return &Verdict{Repository: repository, GitHubURL: url, Error: err.Error()}, err
	}

	worklists := o.buildWorklists(entries, logger)

	contents, fetchErrors := o.fetchContents(ctx, owner, repo, defaultBranch, worklists, logger)
	if ctx.Err() != nil {
		err := apperrors.ForgeAPI(ctx.Err(), "analysis canceled")
		return &Verdict{Repository: repository, GitHubURL: url, Error: err.Error()}, err
	}

	outputs := make(map[analyzer.ID][]analyzer.FileResult, len(o.analyzers))
	filesByType := make(map[string]int)
	totalFiles := 0
	for _, a := range o.analyzers {
		filesByType[string(a.Key())] = 0
		for _, path := range worklists[a.Key()] {
			content, ok := contents[path]
			if !ok {
				continue
			}
			out, err := a.Analyze(content, path)
			if err != nil {
				logger.Error("file analysis failed", "analyzer", a.Key(), "file", path, "error", err)
				continue
			}
			outputs[a.Key()] = append(outputs[a.Key()], out)
			filesByType[string(a.Key())]++
			totalFiles++
		}
	}
	logger.Info("file analysis complete", "total_files", totalFiles, "fetch_errors", fetchErrors)

	details := make(map[analyzer.ID]analyzer.Aggregated, len(o.analyzers))
	var combinedRecommendations, combinedReasoning []string
	for _, a := range o.analyzers {
		agg := o.aggregate(ctx, a, outputs[a.Key()], logger)
		details[a.Key()] = agg
		combinedRecommendations = append(combinedRecommendations, agg.Recommendations...)
		combinedReasoning = append(combinedReasoning, agg.Reasoning...)
	}

	verdict := o.composeVerdict(details, combinedRecommendations, combinedReasoning, filesByType, totalFiles)
	verdict.Repository = repository
	verdict.GitHubURL = url
	verdict.DefaultBranch = defaultBranch

	logger.Info("analysis complete", "overall", verdict.OverallCompatibility)
	return verdict, nil
}

// buildWorklists assigns each blob to every analyzer with a matching
// pattern.
func (o *Orchestrator) buildWorklists(entries []gh.TreeEntry, logger *slog.Logger) map[analyzer.ID][]string {
	worklists := make(map[analyzer.ID][]string, len(o.analyzers))
	for _, entry := range entries {
		if !entry.IsBlob() {
			continue
		}
		for _, a := range o.analyzers {
			for _, pattern := range a.Patterns() {
				if pattern.MatchString(entry.Path) {
					worklists[a.Key()] = append(worklists[a.Key()], entry.Path)
					logger.Debug("matched file", "analyzer", a.Key(), "file", entry.Path)
					break
				}
			}
		}
	}
	return worklists
}

// fetchContents retrieves every unique matched path with bounded
// concurrency. Missing files and decode failures are counted and skipped.
func (o *Orchestrator) fetchContents(ctx context.Context, owner, repo, branch string,
	worklists map[analyzer.ID][]string, logger *slog.Logger) (map[string]string, int) {

	unique := make(map[string]struct{})
	for _, paths := range worklists {
		for _, p := range paths {
			unique[p] = struct{}{}
		}
	}
	paths := make([]string, 0, len(unique))
	for p := range unique {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var (
		mu         sync.Mutex
		contents   = make(map[string]string, len(paths))
		fetchFails int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxContentWorkers)
	for _, path := range paths {
		path := path
		g.Go(func() error {
			content, found, err := o.fetcher.GetFileContent(gctx, owner, repo, path, branch)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				// Per-file failures never abort the analysis.
				logger.Error("failed to fetch file content", "file", path, "error", err)
				fetchFails++
			case !found:
				logger.Warn("could not get content for file", "file", path)
				fetchFails++
			default:
				contents[path] = content
			}
			return nil
		})
	}
	g.Wait()

	return contents, fetchFails
}

// aggregate isolates analyzer aggregation failures: a panic fills the
// analyzer's slot with an error marker and the others continue.
func (o *Orchestrator) aggregate(ctx context.Context, a analyzer.Analyzer,
	outputs []analyzer.FileResult, logger *slog.Logger) (agg analyzer.Aggregated) {

	defer func() {
		if r := recover(); r != nil {
			logger.Error("aggregation panicked", "analyzer", a.Key(), "panic", r)
			agg = analyzer.Aggregated{
				Error:           fmt.Sprint(r),
				Results:         []analyzer.Finding{},
				Recommendations: []string{},
				Reasoning:       []string{},
			}
		}
	}()

	logger.Info("aggregating results", "analyzer", a.Key(), "files", len(outputs))
	return a.Aggregate(ctx, outputs)
}

// composeVerdict applies the overall-compatibility invariants and builds the
// context block.
func (o *Orchestrator) composeVerdict(details map[analyzer.ID]analyzer.Aggregated,
	recommendations, reasoning []string, filesByType map[string]int, totalFiles int) *Verdict {

	// Only yes, no, and partial findings determine the overall status; a
	// result set that is empty or all-unknown stays unknown.
	hasDeterminate := false
	var incompatible, compatible, unknown int
	for _, agg := range details {
		if agg.Error != "" {
			unknown++
			continue
		}
		for _, f := range agg.Results {
			switch f.Compat() {
			case analyzer.CompatNo:
				hasDeterminate = true
				incompatible++
			case analyzer.CompatYes:
				hasDeterminate = true
				compatible++
			case analyzer.CompatPartial:
				hasDeterminate = true
				unknown++
			default:
				unknown++
			}
		}
	}

	var overall string
	switch {
	case !hasDeterminate && totalFiles == 0:
		overall = OverallUnknown
		reasoning = append([]string{"No relevant files found for enabled analyzers."}, reasoning...)
		recommendations = append([]string{"Verify repository structure and enabled analyzers if analysis was expected."}, recommendations...)
	case !hasDeterminate:
		overall = OverallUnknown
		reasoning = append([]string{"No specific ARM64 compatibility indicators found in analyzed files."}, reasoning...)
		recommendations = append([]string{"Manual verification recommended as no specific issues were detected."}, recommendations...)
	case incompatible > 0:
		overall = OverallIncompatible
		reasoning = append([]string{"Repository marked as incompatible due to one or more components conflicting with ARM64."}, reasoning...)
	default:
		overall = OverallCompatible
		reasoning = append([]string{"Repository appears likely compatible with ARM64 as no explicitly incompatible components were found."}, reasoning...)
	}

	uniqueRecommendations := analyzer.DedupeSorted(recommendations)
	uniqueReasoning := analyzer.DedupeOrdered(reasoning)

	return &Verdict{
		AnalysisDetails:      details,
		OverallCompatibility: overall,
		Recommendations:      uniqueRecommendations,
		Context: &Context{
			AnalysisSummary: Summary{
				FilesAnalyzedByType: filesByType,
				TotalFilesAnalyzed:  totalFiles,
			},
			Reasoning:          uniqueReasoning,
			ProcessDescription: processDescription,
			EnabledAnalyzers:   o.EnabledAnalyzers(),
			Statistics: Statistics{
				IncompatibleItems:    incompatible,
				CompatibleItems:      compatible,
				UnknownItems:         unknown,
				TotalRecommendations: len(uniqueRecommendations),
			},
		},
	}
}
