// Package shell runs model-issued commands in a persistent /bin/sh session
// with a timeout, process group cleanup and output clipping.
package shell

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/haasonsaas/operator/internal/computer"
	"github.com/haasonsaas/operator/pkg/models"
)

const (
	// Name is the tool name the model calls.
	Name = "bash"
	// Type is the Anthropic tool version.
	Type = "bash_20250124"
)

// Tool is the bash tool.
type Tool struct {
	runner *Runner
	logger *slog.Logger
}

// NewTool creates a bash tool around runner. A nil runner uses defaults.
func NewTool(runner *Runner, logger *slog.Logger) *Tool {
	if runner == nil {
		runner = &Runner{}
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Tool{runner: runner, logger: logger}
}

func (t *Tool) Name() string { return Name }

func (t *Tool) Description() string {
	return "Run a shell command. The shell persists between calls, so the working directory and exported variables carry over; set restart to start a fresh shell."
}

// Schema is the function-calling parameter schema for providers without a
// native bash tool.
func (t *Tool) Schema() json.RawMessage {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"command": map[string]interface{}{
				"type":        "string",
				"description": "Shell command to execute.",
			},
			"restart": map[string]interface{}{
				"type":        "boolean",
				"description": "Restart the tool instead of running a command.",
			},
		},
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

// Input is the decoded bash tool input.
type Input struct {
	Command string `json:"command,omitempty"`
	Restart bool   `json:"restart,omitempty"`
}

// Decode parses raw tool input.
func Decode(raw json.RawMessage) (Input, error) {
	var in Input
	if len(raw) == 0 {
		return in, computer.NewToolError("no command provided.")
	}
	if err := json.Unmarshal(raw, &in); err != nil {
		return in, computer.NewToolError("invalid input: %v", err)
	}
	return in, nil
}

// Execute runs the command. Failures the model can act on are
// *computer.ToolError or *TimeoutError.
func (t *Tool) Execute(ctx context.Context, in Input) (models.ToolResult, error) {
	if in.Restart {
		if err := t.runner.Restart(); err != nil {
			return models.ToolResult{}, &computer.ToolError{Message: err.Error(), Cause: err}
		}
		t.logger.Info("shell restarted")
		return models.ToolResult{System: "tool has been restarted."}, nil
	}
	if strings.TrimSpace(in.Command) == "" {
		return models.ToolResult{}, computer.NewToolError("no command provided.")
	}

	result, err := t.runner.Run(ctx, in.Command)
	if err != nil {
		var timeoutErr *TimeoutError
		if errors.As(err, &timeoutErr) {
			t.logger.Warn("shell command timed out", "command", in.Command)
			return models.ToolResult{}, err
		}
		if ctx.Err() != nil {
			return models.ToolResult{}, ctx.Err()
		}
		return models.ToolResult{}, &computer.ToolError{Message: err.Error(), Cause: err}
	}
	t.logger.Debug("shell command finished",
		"command", in.Command,
		"exit_code", result.ExitCode,
		"duration", result.Duration,
	)
	return toResult(result), nil
}

// Close ends the session shell.
func (t *Tool) Close() error {
	return t.runner.Close()
}

func toResult(r Result) models.ToolResult {
	text := strings.TrimSuffix(r.Stdout, "\n")
	if stderr := strings.TrimSuffix(r.Stderr, "\n"); stderr != "" {
		if text != "" {
			text += "\n"
		}
		text += stderr
	}
	if r.ExitCode != 0 {
		return models.ToolResult{Error: strings.TrimSpace(fmt.Sprintf("%s\n(exit status %d)", text, r.ExitCode))}
	}
	return models.ToolResult{Output: text}
}
