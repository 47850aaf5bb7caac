package toolconv

import (
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/haasonsaas/operator/internal/agent"
	"github.com/haasonsaas/operator/internal/tools/files"
	"github.com/haasonsaas/operator/internal/tools/shell"
)

// ToAnthropicBetaTools converts declarations to Anthropic beta tools. The
// computer, bash and editor tools use their native tool types.
func ToAnthropicBetaTools(decls []agent.ToolDeclaration) ([]anthropic.BetaToolUnionParam, error) {
	if len(decls) == 0 {
		return nil, nil
	}
	result := make([]anthropic.BetaToolUnionParam, 0, len(decls))
	for _, decl := range decls {
		param, err := ToAnthropicBetaTool(decl)
		if err != nil {
			return nil, err
		}
		result = append(result, param)
	}
	return result, nil
}

// ToAnthropicBetaTool converts a single declaration.
func ToAnthropicBetaTool(decl agent.ToolDeclaration) (anthropic.BetaToolUnionParam, error) {
	switch decl.Type {
	case agent.ComputerToolType:
		if !decl.IsComputer() {
			return anthropic.BetaToolUnionParam{}, fmt.Errorf("computer tool %s has no display size", decl.Name)
		}
		param := anthropic.BetaToolUnionParamOfComputerUseTool20250124(int64(decl.DisplayHeightPx), int64(decl.DisplayWidthPx))
		if param.OfComputerUseTool20250124 != nil && decl.DisplayNumber > 0 {
			param.OfComputerUseTool20250124.DisplayNumber = anthropic.Int(int64(decl.DisplayNumber))
		}
		return param, nil
	case shell.Type:
		return anthropic.BetaToolUnionParam{OfBashTool20250124: &anthropic.BetaToolBash20250124Param{}}, nil
	case files.Type:
		return anthropic.BetaToolUnionParam{OfTextEditor20250124: &anthropic.BetaToolTextEditor20250124Param{}}, nil
	}

	var schema anthropic.BetaToolInputSchemaParam
	if err := json.Unmarshal(decl.Parameters, &schema); err != nil {
		return anthropic.BetaToolUnionParam{}, fmt.Errorf("invalid tool schema for %s: %w", decl.Name, err)
	}
	toolParam := anthropic.BetaToolUnionParamOfTool(schema, decl.Name)
	if toolParam.OfTool == nil {
		return anthropic.BetaToolUnionParam{}, fmt.Errorf("invalid tool schema for %s: missing tool definition", decl.Name)
	}
	toolParam.OfTool.Description = anthropic.String(decl.Description)
	return toolParam, nil
}
