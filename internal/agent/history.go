package agent

import "github.com/haasonsaas/operator/pkg/models"

// TrimImages returns a copy of messages in which only the keep most recent
// image-bearing tool results still carry their image. Older ones are reduced
// to their text-only projection; text is never dropped. A negative keep
// disables trimming. The input is not modified.
func TrimImages(messages []models.Message, keep int) []models.Message {
	out := make([]models.Message, len(messages))
	copy(out, messages)
	if keep < 0 {
		return out
	}

	seen := 0
	for i := len(out) - 1; i >= 0; i-- {
		var content []models.ContentBlock
		for j := len(out[i].Content) - 1; j >= 0; j-- {
			block := out[i].Content[j]
			if block.Type != models.BlockToolResult || block.ToolResult == nil || !block.ToolResult.HasImage() {
				continue
			}
			seen++
			if seen <= keep {
				continue
			}
			if content == nil {
				content = make([]models.ContentBlock, len(out[i].Content))
				copy(content, out[i].Content)
			}
			projected := block.ToolResult.TextOnly()
			content[j].ToolResult = &projected
		}
		if content != nil {
			out[i].Content = content
		}
	}
	return out
}
