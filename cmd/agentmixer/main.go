// Package main provides the CLI entry point for agentmixer, a
// turn-based multi-agent conversation engine: agents configured from a
// YAML file converse in round-robin cycles against configured model
// endpoints, with optional tool servers, until a termination condition
// fires.
//
// # Basic usage
//
// Run a scenario start to finish:
//
//	agentmixer run --config agentmixer.yaml
//
// Drive a conversation interactively, one command at a time:
//
//	agentmixer repl --config agentmixer.yaml
//
// Drive a conversation to completion while streaming events to any
// connected browser observer over a websocket:
//
//	agentmixer serve --config agentmixer.yaml --ws-addr :8090
//
// Inspect configuration without running anything:
//
//	agentmixer list-scenarios --config agentmixer.yaml
//	agentmixer test-model-endpoint --config agentmixer.yaml --agent alice
//
// # Environment variables
//
//   - ANTHROPIC_API_KEY, OPENAI_API_KEY, GOOGLE_API_KEY: model provider credentials
//   - AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY, AWS_SESSION_TOKEN, AWS_REGION: Bedrock credentials
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main so tests can exercise it without calling os.Exit.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "agentmixer",
		Short:        "Turn-based multi-agent conversation engine",
		Long:         `agentmixer drives a configured set of LLM agents through round-robin turns until a termination condition fires, with optional tool servers per agent.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildRunCmd(),
		buildReplCmd(),
		buildServeCmd(),
		buildListScenariosCmd(),
		buildTestModelEndpointCmd(),
		buildToolStatusCmd(),
		buildRestartToolCmd(),
	)

	return rootCmd
}
