package toolconv

import (
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/haasonsaas/operator/internal/agent"
)

// ToGeminiTools converts declarations to Gemini function declarations.
func ToGeminiTools(decls []agent.ToolDeclaration) []*genai.Tool {
	if len(decls) == 0 {
		return nil
	}

	declarations := make([]*genai.FunctionDeclaration, 0, len(decls))
	for _, decl := range decls {
		declarations = append(declarations, &genai.FunctionDeclaration{
			Name:        decl.Name,
			Description: Description(decl),
			Parameters:  ToGeminiSchema(Parameters(decl)),
		})
	}

	return []*genai.Tool{
		{
			FunctionDeclarations: declarations,
		},
	}
}

// Description returns the tool description, adding the display geometry
// for computer tools.
func Description(decl agent.ToolDeclaration) string {
	if !decl.IsComputer() {
		return decl.Description
	}
	return fmt.Sprintf("%s The display is %dx%d pixels; coordinates are [x, y] in that space.",
		decl.Description, decl.DisplayWidthPx, decl.DisplayHeightPx)
}

// ToGeminiSchema converts a JSON Schema map to Gemini's Schema type. Union
// types such as ["string", "null"] collapse to their first non-null member.
func ToGeminiSchema(schemaMap map[string]any) *genai.Schema {
	if schemaMap == nil {
		return nil
	}

	schema := &genai.Schema{}

	switch t := schemaMap["type"].(type) {
	case string:
		schema.Type = genai.Type(strings.ToUpper(t))
	case []any:
		for _, member := range t {
			if s, ok := member.(string); ok && s != "null" {
				schema.Type = genai.Type(strings.ToUpper(s))
				nullable := true
				schema.Nullable = &nullable
				break
			}
		}
	}

	if desc, ok := schemaMap["description"].(string); ok {
		schema.Description = desc
	}

	if enum, ok := schemaMap["enum"].([]any); ok {
		for _, e := range enum {
			if s, ok := e.(string); ok {
				schema.Enum = append(schema.Enum, s)
			}
		}
	}

	if props, ok := schemaMap["properties"].(map[string]any); ok {
		schema.Properties = make(map[string]*genai.Schema)
		for name, prop := range props {
			if propMap, ok := prop.(map[string]any); ok {
				schema.Properties[name] = ToGeminiSchema(propMap)
			}
		}
	}

	if required, ok := schemaMap["required"].([]any); ok {
		for _, r := range required {
			if s, ok := r.(string); ok {
				schema.Required = append(schema.Required, s)
			}
		}
	}

	if items, ok := schemaMap["items"].(map[string]any); ok {
		schema.Items = ToGeminiSchema(items)
	}

	return schema
}
