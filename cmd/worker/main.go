// Package main is the CLI entry point for the session worker.
//
// The worker runs one agent conversation end to end inside an isolated
// environment: it loads the session from the shared table, drives the LLM
// turn loop with tool execution, and publishes progress events to the bus.
//
// # Basic Usage
//
// Handle a newly received user message:
//
//	worker run <worker-id> --message "fix the failing test"
//
// Resume an interrupted session after a restart:
//
//	worker run <worker-id>
//
// Inspect sessions:
//
//	worker sessions list
//	worker sessions cost <worker-id>
//
// # Environment Variables
//
//   - LLM_PROVIDER: "bedrock" (default) or "anthropic"
//   - ANTHROPIC_API_KEY: direct Anthropic API key
//   - ANTHROPIC_API_KEY_PARAMETER_NAME: SSM parameter holding the key
//   - BEDROCK_AWS_ACCOUNTS: comma-separated account ids rotated on throttle
//   - BEDROCK_AWS_ROLE_NAME: role assumed in each account
//   - BEDROCK_CRI_REGION_OVERRIDE: regional inference profile override
//   - TABLE_NAME: shared DynamoDB table
//   - EVENT_HTTP_ENDPOINT: event bus URL
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Build information, populated by ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	// A local .env is a development convenience; absence is not an error.
	_ = godotenv.Load()

	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "worker",
		Short:         "Agent session worker",
		Long:          "Runs one agent conversation: LLM turn loop, tool execution, and progress events.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newRunCmd(),
		newSessionsCmd(),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "worker %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}
