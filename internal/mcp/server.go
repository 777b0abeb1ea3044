// Package mcp exposes the analysis engine as a Model Context Protocol
// server over stdio transport.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/costnorm/armscan/internal/orchestrator"
)

const (
	serverName    = "armscan"
	serverVersion = "1.0.0"

	toolNameAnalyze = "analyze_arm_compatibility"

	analyzeToolDescription = "Analyze a GitHub repository for ARM64 compatibility. " +
		"Inspects Terraform instance types, Dockerfile base images, and Python/Node " +
		"dependency manifests, and returns a compatibility verdict with recommendations."
)

// AnalyzeInput is the tool input.
type AnalyzeInput struct {
	GitHubURL string `json:"github_url" jsonschema:"URL of the GitHub repository to analyze"`
}

// Engine runs one analysis. Satisfied by *orchestrator.Orchestrator.
type Engine interface {
	Analyze(ctx context.Context, url string) (*orchestrator.Verdict, error)
}

// Server wraps the MCP SDK server with the armscan tool registration.
type Server struct {
	inner  *mcpsdk.Server
	engine Engine
	logger *slog.Logger
}

// NewServer creates an MCP server around the analysis engine.
func NewServer(engine Engine, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	inner := mcpsdk.NewServer(
		&mcpsdk.Implementation{
			Name:    serverName,
			Version: serverVersion,
		},
		nil,
	)

	srv := &Server{
		inner:  inner,
		engine: engine,
		logger: logger.With("component", "mcp"),
	}

	mcpsdk.AddTool(inner, &mcpsdk.Tool{
		Name:        toolNameAnalyze,
		Description: analyzeToolDescription,
	}, srv.handleAnalyze)

	return srv
}

// Run serves the MCP protocol on stdio until the context is canceled or the
// connection closes.
func (s *Server) Run(ctx context.Context) error {
	if err := s.inner.Run(ctx, &mcpsdk.StdioTransport{}); err != nil {
		return fmt.Errorf("mcp server: %w", err)
	}
	return nil
}

// RunWithTransport serves the MCP protocol on the given transport. Used by
// tests.
func (s *Server) RunWithTransport(ctx context.Context, transport mcpsdk.Transport) error {
	if err := s.inner.Run(ctx, transport); err != nil {
		return fmt.Errorf("mcp server: %w", err)
	}
	return nil
}

// handleAnalyze runs one analysis. Terminal analysis failures are returned
// as tool errors carrying the error-shaped verdict; they never abort the
// server. The structured output is typed any so no output schema is forced
// onto the verdict's interface-valued findings.
func (s *Server) handleAnalyze(ctx context.Context, _ *mcpsdk.CallToolRequest, input AnalyzeInput) (*mcpsdk.CallToolResult, any, error) {
	if input.GitHubURL == "" {
		return &mcpsdk.CallToolResult{
			IsError: true,
			Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: "Missing 'github_url' in request payload"}},
		}, nil, nil
	}

	s.logger.Info("handling analyze request", "url", input.GitHubURL)
	verdict, err := s.engine.Analyze(ctx, input.GitHubURL)

	payload, marshalErr := json.Marshal(verdict)
	if marshalErr != nil {
		return nil, nil, fmt.Errorf("marshal verdict: %w", marshalErr)
	}

	result := &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: string(payload)}},
	}
	if err != nil {
		s.logger.Error("analysis failed", "url", input.GitHubURL, "error", err)
		result.IsError = true
	}
	return result, verdict, nil
}
