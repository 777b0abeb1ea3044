package main

import (
	"github.com/spf13/cobra"

	"github.com/costnorm/armscan/internal/logging"
	"github.com/costnorm/armscan/internal/mcp"
	"github.com/costnorm/armscan/internal/orchestrator"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the analyzer as an MCP server on stdio",
	RunE: func(cmd *cobra.Command, args []string) error {
		engine := orchestrator.NewFromConfig(cfg)
		srv := mcp.NewServer(engine, logging.Component("mcp"))

		logger.Info("starting MCP server on stdio")
		return srv.Run(cmd.Context())
	},
}
