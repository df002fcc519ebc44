package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/moonbotd/moonbotd/internal/approvalpolicy"
	"github.com/moonbotd/moonbotd/internal/config"
)

func buildPolicyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Manage the approval policy document",
	}
	cmd.AddCommand(buildPolicyInitCmd())
	return cmd
}

func buildPolicyInitCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default approval policy file if one does not already exist",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := approvalpolicy.WriteDefault(cfg.Tools.Approval.PolicyFile); err != nil {
				return fmt.Errorf("write default policy: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "approval policy ready at %s\n", cfg.Tools.Approval.PolicyFile)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "path to the moonbot YAML configuration file")
	return cmd
}
