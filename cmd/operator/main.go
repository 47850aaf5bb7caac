// Package main provides the CLI entry point for operator, an autonomous
// computer-use agent.
//
// operator repeatedly asks a vision-capable model what to do next, executes
// the returned tool calls against the local desktop (or a Chrome tab) and a
// shell, and feeds screenshots and output back until the task completes or a
// budget runs out.
//
// # Basic Usage
//
// List the tasks in the catalogue:
//
//	operator tasks --task-file tasks.json
//
// Run a task:
//
//	operator run --task-id 1 --max-actions 50
//
// Inspect the display scaling that will be used:
//
//	operator display
//
// # Environment Variables
//
//   - OPERATOR_CONFIG: Path to configuration file
//   - ANTHROPIC_API_KEY: Anthropic API key (or ~/.anthropic/api_key)
//   - OPENAI_API_KEY: OpenAI API key
//   - GEMINI_API_KEY / GOOGLE_API_KEY: Gemini API key
//   - WIDTH, HEIGHT, DISPLAY_NUM: pin the display instead of probing it
//   - MAX_ACTIONS: action budget
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

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "operator",
		Short: "operator - autonomous computer-use agent",
		Long: `operator drives a real screen, keyboard and pointer (or a browser tab) and a
shell on behalf of a vision-capable model, under hard action, iteration and
safety budgets.

Supported providers: Anthropic (direct, Bedrock, Vertex), OpenAI, Gemini
Supported backends: desktop (xdotool / macOS), browser (Chrome DevTools)`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildRunCmd(),
		buildTasksCmd(),
		buildDisplayCmd(),
		buildConfigCmd(),
	)
	return rootCmd
}
