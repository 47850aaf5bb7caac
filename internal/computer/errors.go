package computer

import (
	"errors"
	"fmt"
)

// ToolError is a recoverable failure of a single tool call. Its message is
// returned to the model and the session continues.
type ToolError struct {
	Message string
	Cause   error
}

// NewToolError formats a ToolError.
func NewToolError(format string, args ...any) *ToolError {
	return &ToolError{Message: fmt.Sprintf(format, args...)}
}

func (e *ToolError) Error() string {
	if e.Cause != nil && e.Message == "" {
		return e.Cause.Error()
	}
	return e.Message
}

func (e *ToolError) Unwrap() error {
	return e.Cause
}

// IsToolError reports whether err is or wraps a *ToolError.
func IsToolError(err error) bool {
	var toolErr *ToolError
	return errors.As(err, &toolErr)
}

// ErrBackendUnavailable is returned when the platform has no usable backend.
var ErrBackendUnavailable = errors.New("computer backend unavailable")
