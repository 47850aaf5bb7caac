package models

import (
	"encoding/json"
)

// Role indicates the message author type.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// BlockType tags the payload carried by a ContentBlock.
type BlockType string

const (
	BlockText       BlockType = "text"
	BlockToolUse    BlockType = "tool_use"
	BlockToolResult BlockType = "tool_result"
	// BlockThinking carries extended-thinking output that must be echoed
	// back to the provider unchanged.
	BlockThinking BlockType = "thinking"
)

// Message is one turn of the conversation sent to and received from the model.
type Message struct {
	Role    Role           `json:"role"`
	Content []ContentBlock `json:"content"`
}

// ContentBlock is a single ordered element of a message. Exactly one of
// Text, ToolCall or ToolResult is meaningful, selected by Type.
type ContentBlock struct {
	Type       BlockType   `json:"type"`
	Text       string      `json:"text,omitempty"`
	ToolCall   *ToolCall   `json:"tool_call,omitempty"`
	ToolResult *ToolResult `json:"tool_result,omitempty"`
	// Signature authenticates a thinking block.
	Signature string `json:"signature,omitempty"`
}

// TextBlock builds a text content block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockText, Text: text}
}

// ToolUseBlock builds a tool-use content block.
func ToolUseBlock(call ToolCall) ContentBlock {
	return ContentBlock{Type: BlockToolUse, ToolCall: &call}
}

// ToolResultBlock builds a tool-result content block.
func ToolResultBlock(result ToolResult) ContentBlock {
	return ContentBlock{Type: BlockToolResult, ToolResult: &result}
}

// ToolCall represents an LLM's request to execute a tool.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`

	// ItemID is the provider's output item id when it differs from the
	// correlation id (OpenAI Responses computer calls).
	ItemID string `json:"item_id,omitempty"`

	// SafetyChecks are checks the provider attached to this call. They must
	// all be acknowledged before the call runs.
	SafetyChecks []SafetyCheck `json:"safety_checks,omitempty"`
}

// Action returns the "action" field of the call input, or the "type" field
// for operator-style input.
func (c ToolCall) Action() string {
	if len(c.Input) == 0 {
		return ""
	}
	var fields struct {
		Action string `json:"action"`
		Type   string `json:"type"`
	}
	if err := json.Unmarshal(c.Input, &fields); err != nil {
		return ""
	}
	if fields.Action != "" {
		return fields.Action
	}
	return fields.Type
}

// ToolResult represents the output of a tool execution.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Output     string `json:"output,omitempty"`
	Error      string `json:"error,omitempty"`
	// System carries out-of-band notices such as "tool has been restarted.".
	System string `json:"system,omitempty"`
	Image  *Image `json:"image,omitempty"`
}

// IsError reports whether the result represents a failed call.
func (r ToolResult) IsError() bool {
	return r.Error != ""
}

// HasImage reports whether the result carries image data.
func (r ToolResult) HasImage() bool {
	return r.Image != nil && len(r.Image.Data) > 0
}

// TextOnly returns a copy of the result with the image payload dropped.
func (r ToolResult) TextOnly() ToolResult {
	r.Image = nil
	return r
}

// Text returns the text the model should see for this result.
func (r ToolResult) Text() string {
	text := r.Output
	if r.Error != "" {
		text = r.Error
	}
	if r.System != "" {
		if text != "" {
			return text + "\n" + r.System
		}
		return r.System
	}
	return text
}

// Image is an encoded screenshot.
type Image struct {
	MediaType string `json:"media_type"`
	Data      []byte `json:"data"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
}

// SafetyCheck is a pending check that needs human acknowledgment.
type SafetyCheck struct {
	ID      string `json:"id"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}
