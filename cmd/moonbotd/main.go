// Package main provides the CLI entry point for moonbotd, the local-first
// AI agent gateway.
//
// moonbotd owns one loopback JSON-RPC 2.0 surface (spec §4.1) that every
// connected client — a chat surface, a CLI, an operator console — speaks to.
// It plans and executes tool calls through an LLM provider, enforces an
// approval policy on privileged invocations, and persists session history
// and pairing state to disk.
//
// # Basic Usage
//
// Start the gateway:
//
//	moonbotd serve --config moonbot.yaml
//
// Check system status:
//
//	moonbotd status --config moonbot.yaml
//
// Approve a pairing code:
//
//	moonbotd pair approve ABCD1234 --config moonbot.yaml
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, set at build time via -ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "moonbotd",
		Short: "moonbotd - local-first AI agent gateway",
		Long: `moonbotd plans and executes tool calls on behalf of connected surfaces over
a single loopback JSON-RPC 2.0 socket, enforcing an approval policy on
privileged tool invocations and persisting session history locally.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	root.AddCommand(
		buildServeCmd(),
		buildPolicyCmd(),
		buildPairCmd(),
		buildStatusCmd(),
	)

	return root
}
