package main

import (
	"github.com/spf13/cobra"

	"github.com/haasonsaas/operator/internal/tasks"
)

// runOptions holds the flags of the run command.
type runOptions struct {
	configPath    string
	taskFile      string
	taskName      string
	taskID        int
	promptType    string
	maxActions    int
	maxIterations int
	images        int
	provider      string
	model         string
	backend       string
	logDir        string
	metricsAddr   string
	overlay       bool
	yes           bool

	// changed reports whether a flag was set explicitly.
	changed func(name string) bool
}

// =============================================================================
// Run Command
// =============================================================================

func buildRunCmd() *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one task from the catalogue",
		Long: `Run one task until it completes, the action budget is spent, the iteration
cap runs out, or a safety check is refused.

The task is chosen by --task-name or --task-id (1-based, in file order). Without
either, the catalogue is listed and a number is read from the terminal.

Every session writes its transcript to <log-dir>/<task>/conversation_<task>_<timestamp>.txt.`,
		Example: `  # Run the first task with a smaller budget
  operator run --task-id 1 --max-actions 20

  # Drive a Chrome tab with GPT-4o
  operator run --task-name "search docs" --backend browser --provider openai

  # Skip acknowledgment prompts (unattended VMs only)
  operator run --task-id 2 --yes`,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.changed = cmd.Flags().Changed
			opts.configPath = resolveConfigPath(opts.configPath)
			return runTask(cmd.Context(), opts, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "Path to YAML or JSON5 configuration file (or set OPERATOR_CONFIG)")
	flags.StringVar(&opts.taskFile, "task-file", "./tasks.json", "Path to the task catalogue")
	flags.StringVar(&opts.taskName, "task-name", "", "Name of the task to run")
	flags.IntVar(&opts.taskID, "task-id", 0, "1-based id of the task to run")
	flags.StringVar(&opts.promptType, "prompt-type", tasks.PromptComputerUse, "Prompt field of the task to send")
	flags.IntVar(&opts.maxActions, "max-actions", 100, "Maximum billable actions (0 for unlimited)")
	flags.IntVar(&opts.maxIterations, "max-iterations", 10, "Maximum model calls")
	flags.IntVar(&opts.images, "images", 3, "Number of most recent screenshots sent to the model (0 sends none, -1 keeps all)")
	flags.StringVar(&opts.provider, "provider", "", "Model provider: anthropic, bedrock, vertex, openai, openai-operator, gemini")
	flags.StringVar(&opts.model, "model", "", "Model id (provider default when empty)")
	flags.StringVar(&opts.backend, "backend", "", "Computer backend: desktop or browser")
	flags.StringVar(&opts.logDir, "log-dir", "", "Directory for session transcripts")
	flags.StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
	flags.BoolVar(&opts.overlay, "overlay", false, "Draw the action count onto screenshots")
	flags.BoolVarP(&opts.yes, "yes", "y", false, "Acknowledge every safety check without asking")

	return cmd
}

// =============================================================================
// Tasks Command
// =============================================================================

func buildTasksCmd() *cobra.Command {
	var taskFile string
	var promptType string

	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "List the task catalogue with ids",
		RunE: func(cmd *cobra.Command, args []string) error {
			return listTasks(cmd.OutOrStdout(), taskFile, promptType)
		},
	}
	cmd.Flags().StringVar(&taskFile, "task-file", "./tasks.json", "Path to the task catalogue")
	cmd.Flags().StringVar(&promptType, "prompt-type", "", "Also print this prompt field of every task")
	return cmd
}

// =============================================================================
// Display Command
// =============================================================================

func buildDisplayCmd() *cobra.Command {
	var configPath string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "display",
		Short: "Detect the display and print the scaling profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			return showDisplay(cmd.Context(), cmd.OutOrStdout(), resolveConfigPath(configPath), asJSON)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

// =============================================================================
// Config Commands
// =============================================================================

func buildConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration helpers",
	}
	cmd.AddCommand(buildConfigSchemaCmd(), buildConfigValidateCmd())
	return cmd
}

func buildConfigSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON schema of the configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return printSchema(cmd.OutOrStdout())
		},
	}
}

func buildConfigValidateCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Load and validate a configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return validateConfig(cmd.OutOrStdout(), resolveConfigPath(configPath))
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")
	return cmd
}
