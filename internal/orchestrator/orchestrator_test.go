package orchestrator

import (
	"context"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/costnorm/armscan/internal/analyzer"
	"github.com/costnorm/armscan/internal/analyzer/container"
	"github.com/costnorm/armscan/internal/analyzer/dependency"
	"github.com/costnorm/armscan/internal/analyzer/infra"
	apperrors "github.com/costnorm/armscan/internal/errors"
	gh "github.com/costnorm/armscan/internal/github"
	"github.com/costnorm/armscan/internal/registry/docker"
	"github.com/costnorm/armscan/internal/registry/npm"
	"github.com/costnorm/armscan/internal/registry/pypi"
)

// fakeFetcher serves a canned repository.
type fakeFetcher struct {
	defaultBranch string
	tree          []gh.TreeEntry
	contents      map[string]string

	repoErr error
	treeErr error
}

func (f *fakeFetcher) GetRepoInfo(_ context.Context, owner, repo string) (*gh.RepoInfo, error) {
	if f.repoErr != nil {
		return nil, f.repoErr
	}
	return &gh.RepoInfo{Owner: owner, Name: repo, DefaultBranch: f.defaultBranch}, nil
}

func (f *fakeFetcher) GetTree(_ context.Context, _, _, _ string) ([]gh.TreeEntry, error) {
	if f.treeErr != nil {
		return nil, f.treeErr
	}
	return f.tree, nil
}

func (f *fakeFetcher) GetFileContent(_ context.Context, _, _, path, _ string) (string, bool, error) {
	content, ok := f.contents[path]
	return content, ok, nil
}

// stubInspector serves canned image inspections.
type stubInspector struct {
	inspections map[string]docker.Inspection
}

func (s *stubInspector) Inspect(_ context.Context, image string) docker.Inspection {
	if insp, ok := s.inspections[image]; ok {
		return insp
	}
	return docker.Inspection{Compat: docker.CompatUnknown, Reason: "not stubbed"}
}

type stubPyPI struct{ results map[string]pypi.Result }

func (s *stubPyPI) GetPackage(_ context.Context, name, spec string) pypi.Result {
	if r, ok := s.results[name+"@"+spec]; ok {
		return r
	}
	return pypi.Result{Compat: analyzer.CompatUnknown, Reason: "not stubbed"}
}

type stubNPM struct{ results map[string]npm.Result }

func (s *stubNPM) GetPackage(_ context.Context, name, spec string) npm.Result {
	if r, ok := s.results[name+"@"+spec]; ok {
		return r
	}
	return npm.Result{Compat: analyzer.CompatUnknown, Reason: "not stubbed"}
}

func blob(path string) gh.TreeEntry {
	return gh.TreeEntry{Path: path, Type: "blob", Size: 100}
}

func TestExtractRepoInfo(t *testing.T) {
	tests := []struct {
		url       string
		wantOwner string
		wantRepo  string
		wantErr   bool
	}{
		{"https://github.com/acme/app", "acme", "app", false},
		{"http://github.com/acme/app", "acme", "app", false},
		{"https://github.com/acme/app.git", "acme", "app", false},
		{"https://github.com/acme/app/", "acme", "app", false},
		{"https://github.com/acme/app.git/", "acme", "app", false},
		{"  https://github.com/acme/app  ", "acme", "app", false},
		{"https://gitlab.com/acme/app", "", "", true},
		{"github.com/acme/app", "", "", true},
		{"https://github.com/acme", "", "", true},
		{"https://github.com/acme/app/tree/main", "", "", true},
		{"", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			owner, repo, err := ExtractRepoInfo(tt.url)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, apperrors.KindInvalidInput, apperrors.KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantOwner, owner)
			assert.Equal(t, tt.wantRepo, repo)
		})
	}
}

func TestAnalyzeInfraOnlyRepo(t *testing.T) {
	fetcher := &fakeFetcher{
		defaultBranch: "main",
		tree:          []gh.TreeEntry{blob("main.tf"), blob("README.md")},
		contents: map[string]string{
			"main.tf": "resource \"aws_instance\" \"web\" {\n  instance_type = \"t3.large\"\n}\n",
		},
	}
	o := New(fetcher, infra.New())

	verdict, err := o.Analyze(context.Background(), "https://github.com/acme/infra-only")
	require.NoError(t, err)
	assert.Equal(t, OverallCompatible, verdict.OverallCompatibility)
	assert.Equal(t, "acme/infra-only", verdict.Repository)
	assert.Equal(t, "main", verdict.DefaultBranch)
	assert.Contains(t, verdict.Recommendations, "Replace `t3.large` with `t4g.large` in `main.tf`")
	assert.Equal(t, 1, verdict.Context.AnalysisSummary.TotalFilesAnalyzed)
	assert.Equal(t, 1, verdict.Context.AnalysisSummary.FilesAnalyzedByType["infra"])
	assert.Equal(t, []string{"infra"}, verdict.Context.EnabledAnalyzers)
}

func TestAnalyzeContainerARMCapableImage(t *testing.T) {
	fetcher := &fakeFetcher{
		defaultBranch: "main",
		tree:          []gh.TreeEntry{blob("Dockerfile")},
		contents: map[string]string{
			"Dockerfile": "FROM --platform=linux/amd64 python:3.9-slim\nRUN pip install -r requirements.txt\n",
		},
	}
	inspector := &stubInspector{inspections: map[string]docker.Inspection{
		"library/python:3.9-slim": {
			Compat:        docker.CompatYes,
			Architectures: []string{"linux/amd64", "linux/arm64"},
			Reason:        "Image manifest supports linux/arm64.",
		},
	}}
	o := New(fetcher, container.New(inspector))

	verdict, err := o.Analyze(context.Background(), "https://github.com/acme/svc")
	require.NoError(t, err)
	assert.Equal(t, OverallCompatible, verdict.OverallCompatibility)

	agg := verdict.AnalysisDetails[analyzer.IDContainer]
	assert.Equal(t, container.PotentialHigh, agg.OverallPotential)
	f := agg.Results[0].(container.Finding)
	assert.Equal(t, container.PotentialHigh, f.MigrationPotential)
	assert.Contains(t, strings.Join(verdict.Recommendations, "\n"), "remove/change explicit `--platform=linux/amd64`")
}

func TestAnalyzeContainerIncompatibleImage(t *testing.T) {
	fetcher := &fakeFetcher{
		defaultBranch: "main",
		tree:          []gh.TreeEntry{blob("Dockerfile")},
		contents:      map[string]string{"Dockerfile": "FROM someorg/legacy:1.0\n"},
	}
	inspector := &stubInspector{inspections: map[string]docker.Inspection{
		"someorg/legacy:1.0": {
			Compat:        docker.CompatNo,
			Architectures: []string{"linux/amd64"},
			Reason:        "Image manifest does not list linux/arm64 support. Found: linux/amd64",
		},
	}}
	o := New(fetcher, container.New(inspector))

	verdict, err := o.Analyze(context.Background(), "https://github.com/acme/legacy-svc")
	require.NoError(t, err)
	assert.Equal(t, OverallIncompatible, verdict.OverallCompatibility)
	assert.Contains(t, strings.Join(verdict.Context.Reasoning, "\n"), "does not list linux/arm64 support")
}

func TestAnalyzeDependencyScenarios(t *testing.T) {
	fetcher := &fakeFetcher{
		defaultBranch: "main",
		tree:          []gh.TreeEntry{blob("requirements.txt"), blob("package.json")},
		contents: map[string]string{
			"requirements.txt": "numpy>=1.20\n",
			"package.json":     `{"dependencies": {"sharp": "^0.32.0"}}`,
		},
	}
	satisfied := true
	python := dependency.NewPythonChecker(&stubPyPI{results: map[string]pypi.Result{
		"numpy@>=1.20": {
			Compat:         analyzer.CompatYes,
			Reason:         "ARM-specific wheels found for version 1.22.4.",
			CheckedVersion: "1.22.4",
		},
	}}, nil)
	nodejs := dependency.NewNodeChecker(&stubNPM{results: map[string]npm.Result{
		"sharp@^0.32.0": {
			Compat:         analyzer.CompatNo,
			Reason:         "CPU field explicitly excludes ARM ('!arm64')",
			CheckedVersion: "0.32.6",
			SpecSatisfied:  &satisfied,
		},
	}})
	o := New(fetcher, dependency.NewManager(python, nodejs))

	verdict, err := o.Analyze(context.Background(), "https://github.com/acme/mixed")
	require.NoError(t, err)
	assert.Equal(t, OverallIncompatible, verdict.OverallCompatibility)

	agg := verdict.AnalysisDetails[analyzer.IDDependency]
	require.Len(t, agg.Results, 2)

	byName := map[string]dependency.Finding{}
	for _, f := range agg.Results {
		df := f.(dependency.Finding)
		byName[df.Name] = df
	}
	assert.Equal(t, analyzer.CompatYes, byName["numpy"].Compatibility)
	assert.Equal(t, "1.22.4", byName["numpy"].CheckedVersion)
	assert.Equal(t, analyzer.CompatNo, byName["sharp"].Compatibility)
	assert.Contains(t, byName["sharp"].Reason, "!arm64")
}

func TestAnalyzeBranchNotFound(t *testing.T) {
	fetcher := &fakeFetcher{
		defaultBranch: "develop",
		treeErr:       apperrors.BranchNotFoundf("Branch 'develop' not found for acme/app (404)."),
	}
	o := New(fetcher, infra.New())

	verdict, err := o.Analyze(context.Background(), "https://github.com/acme/app")
	require.Error(t, err)
	assert.Equal(t, apperrors.KindBranchNotFound, apperrors.KindOf(err))
	assert.Equal(t, "https://github.com/acme/app", verdict.GitHubURL)
	assert.Contains(t, verdict.Error, "Branch 'develop' not found")
	assert.Empty(t, verdict.OverallCompatibility)
	assert.Nil(t, verdict.Context)
}

func TestAnalyzeRepoNotFound(t *testing.T) {
	fetcher := &fakeFetcher{repoErr: apperrors.RepoNotFoundf("Repository acme/ghost not found (404).")}
	o := New(fetcher, infra.New())

	verdict, err := o.Analyze(context.Background(), "https://github.com/acme/ghost")
	require.Error(t, err)
	assert.Equal(t, apperrors.KindRepoNotFound, apperrors.KindOf(err))
	assert.Contains(t, verdict.Error, "not found")
}

func TestAnalyzeInvalidURL(t *testing.T) {
	o := New(&fakeFetcher{}, infra.New())
	verdict, err := o.Analyze(context.Background(), "https://example.com/not/github")
	require.Error(t, err)
	assert.Equal(t, apperrors.KindInvalidInput, apperrors.KindOf(err))
	assert.Contains(t, verdict.Error, "Invalid GitHub repository URL format")
}

func TestAnalyzeEmptyTree(t *testing.T) {
	fetcher := &fakeFetcher{defaultBranch: "main"}
	o := New(fetcher, infra.New())

	verdict, err := o.Analyze(context.Background(), "https://github.com/acme/empty")
	require.NoError(t, err)
	assert.Equal(t, OverallUnknown, verdict.OverallCompatibility)
	assert.Contains(t, verdict.Context.Reasoning[0], "No relevant files found for enabled analyzers.")
}

func TestAnalyzeNoMatchingFiles(t *testing.T) {
	fetcher := &fakeFetcher{
		defaultBranch: "main",
		tree:          []gh.TreeEntry{blob("README.md"), blob("src/main.go")},
	}
	o := New(fetcher, infra.New())

	verdict, err := o.Analyze(context.Background(), "https://github.com/acme/goapp")
	require.NoError(t, err)
	assert.Equal(t, OverallUnknown, verdict.OverallCompatibility)
	assert.Contains(t, verdict.Context.Reasoning[0], "No relevant files found for enabled analyzers.")
}

// A result set containing only unknown findings must not report compatible.
func TestAnalyzeAllUnknownFindingsIsUnknown(t *testing.T) {
	fetcher := &fakeFetcher{
		defaultBranch: "main",
		tree:          []gh.TreeEntry{blob("main.tf")},
		contents:      map[string]string{"main.tf": "instance_type = \"u-6tb1.112xlarge\"\n"},
	}
	o := New(fetcher, infra.New())

	verdict, err := o.Analyze(context.Background(), "https://github.com/acme/highmem")
	require.NoError(t, err)
	assert.Equal(t, OverallUnknown, verdict.OverallCompatibility)
	assert.NotEmpty(t, verdict.AnalysisDetails[analyzer.IDInfra].Results)
	assert.Equal(t, 0, verdict.Context.Statistics.CompatibleItems)
	assert.Equal(t, 0, verdict.Context.Statistics.IncompatibleItems)
	assert.Equal(t, 1, verdict.Context.Statistics.UnknownItems)
	assert.Contains(t, verdict.Context.Reasoning[0], "No specific ARM64 compatibility indicators found in analyzed files.")
}

func TestAnalyzeFilesButNoFindings(t *testing.T) {
	fetcher := &fakeFetcher{
		defaultBranch: "main",
		tree:          []gh.TreeEntry{blob("variables.tf")},
		contents:      map[string]string{"variables.tf": "variable \"region\" {\n  default = \"us-east-1\"\n}\n"},
	}
	o := New(fetcher, infra.New())

	verdict, err := o.Analyze(context.Background(), "https://github.com/acme/vars-only")
	require.NoError(t, err)
	assert.Equal(t, OverallUnknown, verdict.OverallCompatibility)
	assert.Contains(t, verdict.Context.Reasoning[0], "No specific ARM64 compatibility indicators found in analyzed files.")
}

func TestAnalyzeDefaultBranchFallback(t *testing.T) {
	fetcher := &fakeFetcher{defaultBranch: ""}
	o := New(fetcher, infra.New())

	verdict, err := o.Analyze(context.Background(), "https://github.com/acme/app")
	require.NoError(t, err)
	assert.Equal(t, "main", verdict.DefaultBranch)
}

func TestAnalyzeNoAnalyzersEnabled(t *testing.T) {
	o := New(&fakeFetcher{defaultBranch: "main"})
	verdict, err := o.Analyze(context.Background(), "https://github.com/acme/app")
	require.Error(t, err)
	assert.Contains(t, verdict.Error, "No analysis modules are enabled.")
}

// panicAnalyzer always panics during aggregation.
type panicAnalyzer struct{}

func (panicAnalyzer) Key() analyzer.ID             { return analyzer.IDContainer }
func (panicAnalyzer) Patterns() []*regexp.Regexp   { return analyzer.MustPatterns(`dockerfile$`) }
func (panicAnalyzer) Analyze(content, path string) (analyzer.FileResult, error) {
	return struct{}{}, nil
}
func (panicAnalyzer) Aggregate(context.Context, []analyzer.FileResult) analyzer.Aggregated {
	panic("aggregation exploded")
}

func TestAnalyzeAggregationFailureIsIsolated(t *testing.T) {
	fetcher := &fakeFetcher{
		defaultBranch: "main",
		tree:          []gh.TreeEntry{blob("main.tf"), blob("Dockerfile")},
		contents: map[string]string{
			"main.tf":    "instance_type = \"t3.micro\"\n",
			"Dockerfile": "FROM scratch\n",
		},
	}
	o := New(fetcher, infra.New(), panicAnalyzer{})

	verdict, err := o.Analyze(context.Background(), "https://github.com/acme/app")
	require.NoError(t, err)

	containerSlot := verdict.AnalysisDetails[analyzer.IDContainer]
	assert.Equal(t, "aggregation exploded", containerSlot.Error)
	assert.Empty(t, containerSlot.Results)

	// The infra analyzer still produced its findings.
	infraSlot := verdict.AnalysisDetails[analyzer.IDInfra]
	assert.NotEmpty(t, infraSlot.Results)
	assert.Equal(t, OverallCompatible, verdict.OverallCompatibility)
}

// Overall status invariants: incompatible iff a "no" finding exists; unknown
// iff no yes/no/partial finding exists.
func TestVerdictInvariants(t *testing.T) {
	fetcher := &fakeFetcher{
		defaultBranch: "main",
		tree:          []gh.TreeEntry{blob("main.tf")},
		contents:      map[string]string{"main.tf": "instance_type = \"p3.2xlarge\"\ninstance_type = \"t4g.small\"\n"},
	}
	o := New(fetcher, infra.New())

	verdict, err := o.Analyze(context.Background(), "https://github.com/acme/gpu")
	require.NoError(t, err)
	assert.Equal(t, OverallIncompatible, verdict.OverallCompatibility)
	assert.Equal(t, 1, verdict.Context.Statistics.IncompatibleItems)
	assert.Equal(t, 1, verdict.Context.Statistics.CompatibleItems)

	hasNo := false
	for _, agg := range verdict.AnalysisDetails {
		for _, f := range agg.Results {
			if f.Compat() == analyzer.CompatNo {
				hasNo = true
			}
		}
	}
	assert.True(t, hasNo)
}

func TestAnalyzeTwiceIsDeterministic(t *testing.T) {
	fetcher := &fakeFetcher{
		defaultBranch: "main",
		tree:          []gh.TreeEntry{blob("main.tf"), blob("Dockerfile")},
		contents: map[string]string{
			"main.tf":    "instance_type = \"t3.large\"\n",
			"Dockerfile": "FROM scratch\n",
		},
	}
	inspector := &stubInspector{inspections: map[string]docker.Inspection{
		"scratch": {Compat: docker.CompatYes, Reason: "Base image is 'scratch', which is inherently multi-arch."},
	}}
	o := New(fetcher, infra.New(), container.New(inspector))

	first, err := o.Analyze(context.Background(), "https://github.com/acme/app")
	require.NoError(t, err)
	second, err := o.Analyze(context.Background(), "https://github.com/acme/app")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
