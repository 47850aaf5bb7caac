package agent

import (
	"fmt"

	"github.com/haasonsaas/operator/pkg/models"
)

// History entry formats.
const (
	userEntry         = "User: %s"
	actionEntry       = "[ACTION] %s"
	toolEntry         = "[TOOL] %s"
	errorEntry        = "[ERROR] %v"
	limitEntry        = "[SYSTEM] Action limit of %d reached. Ending session."
	finalCountEntry   = "[SYSTEM] Final action count: %d/%d"
	limitUserMessage  = "Action limit of %d reached. Session will now end."
	limitResultError  = "Action limit of %d reached."
	resultErrorPrefix = "Error: "
)

// RenderBlock turns one content block into a history entry. Blocks with
// nothing to show render as "".
func RenderBlock(block models.ContentBlock) string {
	switch block.Type {
	case models.BlockText:
		return block.Text
	case models.BlockToolUse:
		if block.ToolCall == nil {
			return ""
		}
		if action := block.ToolCall.Action(); action != "" {
			return fmt.Sprintf(actionEntry, action)
		}
		return fmt.Sprintf(toolEntry, block.ToolCall.Name)
	case models.BlockToolResult:
		if block.ToolResult == nil {
			return ""
		}
		if block.ToolResult.IsError() {
			return resultErrorPrefix + block.ToolResult.Error
		}
		if block.ToolResult.Output != "" {
			return block.ToolResult.Output
		}
		return block.ToolResult.System
	}
	return ""
}

// RenderMessage renders every non-empty block of msg in order.
func RenderMessage(msg models.Message) []string {
	var entries []string
	for _, block := range msg.Content {
		if entry := RenderBlock(block); entry != "" {
			entries = append(entries, entry)
		}
	}
	return entries
}
