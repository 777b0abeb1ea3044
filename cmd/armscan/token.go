package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/costnorm/armscan/internal/config"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage the stored GitHub token",
}

var tokenSetCmd = &cobra.Command{
	Use:   "set <token>",
	Short: "Store a GitHub token in the OS keyring",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.StoreToken(args[0]); err != nil {
			return fmt.Errorf("failed to store token: %w", err)
		}
		logger.Info("token stored in keyring")
		return nil
	},
}

var tokenClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove the GitHub token from the OS keyring",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.DeleteToken(); err != nil {
			return fmt.Errorf("failed to delete token: %w", err)
		}
		logger.Info("token removed from keyring")
		return nil
	},
}

func init() {
	tokenCmd.AddCommand(tokenSetCmd)
	tokenCmd.AddCommand(tokenClearCmd)
}
