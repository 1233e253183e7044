// Package main provides the CLI entry point for the ReplyPilot response core.
//
// ReplyPilot answers questions about a support inbox by combining
// retrieval-augmented context from the knowledge base, historical cases, and
// past conversations with a cost-appropriate language model, and guards the
// inbound webhook path with a circuit breaker.
//
// # Basic Usage
//
// Start the server:
//
//	replypilot serve --config replypilot.yaml
//
// Validate a configuration file:
//
//	replypilot config validate --config replypilot.yaml
//
// Delete expired webhook log entries:
//
//	replypilot weblog cleanup --config replypilot.yaml
//
// # Environment Variables
//
//   - ANTHROPIC_API_KEY: Anthropic API key, referenced as ${ANTHROPIC_API_KEY}
//     in the configuration file
//   - OPENAI_API_KEY: OpenAI API key for GPT models and embeddings
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information - populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const defaultConfigPath = "replypilot.yaml"

func main() {
	// Default logger until serve installs the configured one.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "replypilot",
		Short:        "ReplyPilot - AI-assisted support inbox response core",
		Long:         "ReplyPilot drafts and answers support email using retrieval-augmented\ngeneration over the inbox's own knowledge, with two-tier model routing\nand a circuit-breaker-guarded ingestion pipeline.",
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildConfigCmd(),
		buildWeblogCmd(),
	)

	return rootCmd
}
