package orchestrator

import "github.com/costnorm/armscan/internal/analyzer"

// Overall compatibility statuses.
const (
	OverallCompatible   = "compatible"
	OverallIncompatible = "incompatible"
	OverallUnknown      = "unknown"
)

// Verdict is the top-level result for one analysis call. On terminal errors
// only Repository, GitHubURL, and Error are populated.
type Verdict struct {
	Repository           string                              `json:"repository"`
	GitHubURL            string                              `json:"github_url"`
	DefaultBranch        string                              `json:"default_branch,omitempty"`
	AnalysisDetails      map[analyzer.ID]analyzer.Aggregated `json:"analysis_details,omitempty"`
	OverallCompatibility string                              `json:"overall_compatibility,omitempty"`
	Recommendations      []string                            `json:"recommendations,omitempty"`
	Context              *Context                            `json:"context,omitempty"`
	Error                string                              `json:"error,omitempty"`
}

// Context carries the supporting detail of a verdict.
type Context struct {
	AnalysisSummary    Summary    `json:"analysis_summary"`
	Reasoning          []string   `json:"reasoning"`
	ProcessDescription string     `json:"process_description"`
	EnabledAnalyzers   []string   `json:"enabled_analyzers"`
	Statistics         Statistics `json:"statistics"`
}

// Summary counts analyzed files.
type Summary struct {
	FilesAnalyzedByType map[string]int `json:"files_analyzed_by_type"`
	TotalFilesAnalyzed  int            `json:"total_files_analyzed"`
}

// Statistics counts findings by compatibility.
type Statistics struct {
	IncompatibleItems    int `json:"incompatible_items"`
	CompatibleItems      int `json:"compatible_items"`
	UnknownItems         int `json:"unknown_items"`
	TotalRecommendations int `json:"total_recommendations"`
}
