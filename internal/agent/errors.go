package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/haasonsaas/operator/internal/computer"
	"github.com/haasonsaas/operator/internal/display"
	"github.com/haasonsaas/operator/internal/tools/shell"
	"github.com/haasonsaas/operator/pkg/models"
)

// Common sentinel errors for agent operations
var (
	// ErrBudgetExceeded is reported by Outcome.Err when the action budget
	// ended the session.
	ErrBudgetExceeded = errors.New("action budget exceeded")

	// ErrNoModel indicates the controller has no model configured
	ErrNoModel = errors.New("no model configured")

	// ErrEmptyTask indicates the task has no prompt
	ErrEmptyTask = errors.New("task prompt is empty")

	// ErrUnknownTool indicates a tool call named a tool that is not offered
	ErrUnknownTool = errors.New("unknown tool")

	// ErrNoTerminal is returned by TerminalAcknowledger when stdin is not a TTY
	ErrNoTerminal = errors.New("safety acknowledgment requires an interactive terminal")
)

// SafetyAbort ends the session when a safety check is not acknowledged.
type SafetyAbort struct {
	Check models.SafetyCheck
	// Cause is set when the acknowledger itself failed.
	Cause error
}

func (e *SafetyAbort) Error() string {
	return fmt.Sprintf("Safety check failed: %s. Cannot continue with unacknowledged safety checks.", e.Check.Message)
}

func (e *SafetyAbort) Unwrap() error {
	return e.Cause
}

// TransportError wraps a failed model request. It is session-terminal; any
// retrying belongs to the provider client.
type TransportError struct {
	Provider string
	Model    string
	Cause    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("model request to %s failed: %v", e.Provider, e.Cause)
}

func (e *TransportError) Unwrap() error {
	return e.Cause
}

// Recoverable reports whether err fails only the current tool call. Such
// errors are returned to the model as error results and the session goes on.
func Recoverable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var timeoutErr *shell.TimeoutError
	return computer.IsToolError(err) || display.IsCoordinateError(err) || errors.As(err, &timeoutErr)
}

// LoopError represents an error that occurred during the agentic loop execution
// with context about which phase and iteration the error occurred in.
type LoopError struct {
	// Phase is the loop phase where the error occurred
	Phase LoopPhase

	// Iteration is the loop iteration where the error occurred
	Iteration int

	// Message is the human-readable error message
	Message string

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *LoopError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("loop error at %s (iteration %d): %s", e.Phase, e.Iteration, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("loop error at %s (iteration %d): %v", e.Phase, e.Iteration, e.Cause)
	}
	return fmt.Sprintf("loop error at %s (iteration %d)", e.Phase, e.Iteration)
}

// Unwrap returns the underlying error.
func (e *LoopError) Unwrap() error {
	return e.Cause
}

// LoopPhase represents a distinct phase in the agentic loop lifecycle.
type LoopPhase string

const (
	// PhaseInit is the initialization phase
	PhaseInit LoopPhase = "init"

	// PhaseSample is the model request phase
	PhaseSample LoopPhase = "sample"

	// PhaseDispatch is the tool execution phase
	PhaseDispatch LoopPhase = "dispatch"
)
