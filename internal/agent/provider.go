package agent

import (
	"context"
	"encoding/json"

	"github.com/haasonsaas/operator/pkg/models"
)

// Model is the model request/response collaborator. Implementations live in
// internal/agent/providers.
//
// Sample must echo tool-use ids exactly; the next request carries results
// correlated by those ids.
type Model interface {
	// Name returns the provider name used in metrics and traces.
	Name() string

	// Sample sends one request and returns the complete response.
	Sample(ctx context.Context, req *Request) (*Response, error)
}

// Request is one model call.
type Request struct {
	// Model is the provider-specific model id. Empty uses the provider default.
	Model string

	// System is the system prompt.
	System string

	// Messages is the trimmed conversation, oldest first.
	Messages []models.Message

	// Tools are the tools the model may call.
	Tools []ToolDeclaration

	// MaxTokens limits the response length. Zero uses the provider default.
	MaxTokens int

	// ThinkingBudget enables extended thinking when positive (Anthropic only).
	ThinkingBudget int
}

// Response is an ordered list of content blocks plus usage.
type Response struct {
	Content    []models.ContentBlock
	StopReason string
	Usage      Usage
}

// ToolCalls returns the tool-use blocks in order.
func (r *Response) ToolCalls() []models.ToolCall {
	var calls []models.ToolCall
	for _, block := range r.Content {
		if block.Type == models.BlockToolUse && block.ToolCall != nil {
			calls = append(calls, *block.ToolCall)
		}
	}
	return calls
}

// Usage reports token consumption for one request.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// ToolDeclaration describes a tool offered to the model. Computer tools carry
// the display geometry in model (target) pixels; shell and editor tools only
// need Name and Type. Description and Parameters serve providers without
// native computer-use tools.
type ToolDeclaration struct {
	Name            string
	Type            string
	DisplayWidthPx  int
	DisplayHeightPx int
	DisplayNumber   int
	Description     string
	Parameters      json.RawMessage
}

// IsComputer reports whether the declaration is the pointer/keyboard tool.
func (d ToolDeclaration) IsComputer() bool {
	return d.DisplayWidthPx > 0 && d.DisplayHeightPx > 0
}
