package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/costnorm/armscan/internal/orchestrator"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <github-url>",
	Short: "Analyze a GitHub repository for ARM64 compatibility",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		engine := orchestrator.NewFromConfig(cfg)

		verdict, err := engine.Analyze(cmd.Context(), args[0])
		if err != nil {
			logger.WithError(err).Error("analysis failed")
		}

		out, marshalErr := json.MarshalIndent(verdict, "", "  ")
		if marshalErr != nil {
			return fmt.Errorf("failed to render verdict: %w", marshalErr)
		}
		fmt.Fprintln(os.Stdout, string(out))

		if err != nil {
			os.Exit(1)
		}
		return nil
	},
}
