package toolconv

import (
	"encoding/json"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/operator/internal/agent"
)

// ToOpenAITools converts declarations to OpenAI function definitions. The
// computer tool gets the reflected argument schema with the display size
// in its description.
func ToOpenAITools(decls []agent.ToolDeclaration) []openai.Tool {
	result := make([]openai.Tool, len(decls))
	for i, decl := range decls {
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        decl.Name,
				Description: Description(decl),
				Parameters:  Parameters(decl),
			},
		}
	}
	return result
}

// Parameters returns the JSON schema for decl as a map.
func Parameters(decl agent.ToolDeclaration) map[string]any {
	if decl.IsComputer() {
		return ComputerSchema()
	}
	var schemaMap map[string]any
	if err := json.Unmarshal(decl.Parameters, &schemaMap); err != nil || schemaMap == nil {
		schemaMap = map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		}
	}
	return schemaMap
}
