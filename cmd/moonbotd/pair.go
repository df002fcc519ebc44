package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/moonbotd/moonbotd/internal/auth"
	"github.com/moonbotd/moonbotd/internal/config"
)

func buildPairCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pair",
		Short: "Issue and approve pairing codes for new surface users",
	}
	cmd.AddCommand(buildPairGenerateCmd(), buildPairApproveCmd())
	return cmd
}

// openPairing loads the pairing store the running daemon also uses — both
// share state through cfg.Auth.Pairing.StorePath, so a code the daemon
// issues can be approved here even though this is a separate process.
func openPairing(configPath string) (*auth.Pairing, *config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	pairing, err := auth.NewPairingWithStore(cfg.Auth.Pairing.StorePath)
	if err != nil {
		return nil, nil, fmt.Errorf("open pairing store: %w", err)
	}
	return pairing, cfg, nil
}

func buildPairGenerateCmd() *cobra.Command {
	var configPath, userID string

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Mint a pairing code for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == "" {
				return errors.New("--user is required")
			}
			pairing, cfg, err := openPairing(configPath)
			if err != nil {
				return err
			}
			code, err := pairing.GeneratePairingCode(userID, cfg.Auth.Pairing.CodeTTL)
			if err != nil {
				return fmt.Errorf("generate pairing code: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (expires %s)\n", code.Code, code.ExpiresAt.Format("15:04:05"))
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "path to the moonbot YAML configuration file")
	cmd.Flags().StringVar(&userID, "user", "", "user id the code is issued for")
	return cmd
}

func buildPairApproveCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "approve <code>",
		Short: "Approve a pending pairing code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pairing, _, err := openPairing(configPath)
			if err != nil {
				return err
			}
			approved, err := pairing.Approve(args[0])
			if err != nil {
				return fmt.Errorf("approve pairing code: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "approved %s for user %s\n", approved.Code, approved.UserID)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "path to the moonbot YAML configuration file")
	return cmd
}
