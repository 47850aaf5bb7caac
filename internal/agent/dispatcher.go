package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/haasonsaas/operator/internal/computer"
	"github.com/haasonsaas/operator/internal/tools/files"
	"github.com/haasonsaas/operator/internal/tools/shell"
	"github.com/haasonsaas/operator/pkg/models"
)

// ToolKind is the closed set of tools the model may call.
type ToolKind string

const (
	ToolComputer ToolKind = "computer"
	ToolShell    ToolKind = shell.Name
	ToolEditor   ToolKind = files.Name
)

// ComputerToolType is the Anthropic tool type of the computer tool.
const ComputerToolType = "computer_20250124"

const computerDescription = "Use a mouse and keyboard to interact with the computer and take screenshots."

// Invocation is a decoded tool call, ready to execute.
type Invocation interface {
	Tool() ToolKind
	// ActionName is the budget/metrics label of the invocation.
	ActionName() string
}

// ComputerInvocation runs one computer action.
type ComputerInvocation struct {
	Action computer.Action
}

func (ComputerInvocation) Tool() ToolKind       { return ToolComputer }
func (i ComputerInvocation) ActionName() string { return string(i.Action.Kind()) }

// ShellInvocation runs one shell command.
type ShellInvocation struct {
	Input shell.Input
}

func (ShellInvocation) Tool() ToolKind     { return ToolShell }
func (ShellInvocation) ActionName() string { return shell.Name }

// EditInvocation runs one editor command.
type EditInvocation struct {
	Input files.Input
}

func (EditInvocation) Tool() ToolKind       { return ToolEditor }
func (i EditInvocation) ActionName() string { return string(i.Input.Command) }

// Dispatcher routes decoded tool calls to the computer, shell and editor
// tools. Tools left nil are not offered to the model.
type Dispatcher struct {
	computer *computer.Tool
	shell    *shell.Tool
	editor   *files.Editor
}

// NewDispatcher creates a dispatcher over the given tools.
func NewDispatcher(computerTool *computer.Tool, shellTool *shell.Tool, editor *files.Editor) *Dispatcher {
	return &Dispatcher{computer: computerTool, shell: shellTool, editor: editor}
}

// Computer returns the computer tool, or nil.
func (d *Dispatcher) Computer() *computer.Tool { return d.computer }

// Declarations describes the offered tools. The computer declaration
// reports the target (model-facing) display size.
func (d *Dispatcher) Declarations() []ToolDeclaration {
	var decls []ToolDeclaration
	if d.computer != nil {
		target := d.computer.Profile().Target()
		decls = append(decls, ToolDeclaration{
			Name:            string(ToolComputer),
			Type:            ComputerToolType,
			DisplayWidthPx:  target.Width,
			DisplayHeightPx: target.Height,
			DisplayNumber:   d.computer.DisplayNumber(),
			Description:     computerDescription,
			Parameters:      json.RawMessage(computer.SchemaJSON),
		})
	}
	if d.shell != nil {
		decls = append(decls, ToolDeclaration{
			Name:        shell.Name,
			Type:        shell.Type,
			Description: d.shell.Description(),
			Parameters:  d.shell.Schema(),
		})
	}
	if d.editor != nil {
		decls = append(decls, ToolDeclaration{
			Name:        files.Name,
			Type:        files.Type,
			Description: d.editor.Description(),
			Parameters:  d.editor.Schema(),
		})
	}
	return decls
}

// Decode turns a tool call into an invocation. Unknown or unoffered tools
// and malformed input are *computer.ToolError.
func (d *Dispatcher) Decode(call models.ToolCall) (Invocation, error) {
	switch ToolKind(call.Name) {
	case ToolComputer:
		if d.computer == nil {
			break
		}
		action, err := d.computer.Limits().Decode(call.Input)
		if err != nil {
			return nil, err
		}
		return ComputerInvocation{Action: action}, nil
	case ToolShell:
		if d.shell == nil {
			break
		}
		in, err := shell.Decode(call.Input)
		if err != nil {
			return nil, err
		}
		return ShellInvocation{Input: in}, nil
	case ToolEditor:
		if d.editor == nil {
			break
		}
		in, err := files.Decode(call.Input)
		if err != nil {
			return nil, err
		}
		return EditInvocation{Input: in}, nil
	}
	return nil, &computer.ToolError{
		Message: fmt.Sprintf("Tool %s is invalid", call.Name),
		Cause:   ErrUnknownTool,
	}
}

// Inspect asks the computer backend for safety checks on inv, when the
// backend supports it.
func (d *Dispatcher) Inspect(ctx context.Context, inv Invocation) ([]models.SafetyCheck, error) {
	ci, ok := inv.(ComputerInvocation)
	if !ok || d.computer == nil {
		return nil, nil
	}
	inspector, ok := d.computer.Backend().(computer.SafetyInspector)
	if !ok {
		return nil, nil
	}
	return inspector.Inspect(ctx, ci.Action)
}

// Execute runs inv.
func (d *Dispatcher) Execute(ctx context.Context, inv Invocation) (models.ToolResult, error) {
	switch i := inv.(type) {
	case ComputerInvocation:
		return d.computer.Execute(ctx, i.Action)
	case ShellInvocation:
		return d.shell.Execute(ctx, i.Input)
	case EditInvocation:
		return d.editor.Execute(ctx, i.Input)
	}
	return models.ToolResult{}, fmt.Errorf("%w: %T", ErrUnknownTool, inv)
}

// Close ends the shell session, if one was offered.
func (d *Dispatcher) Close() error {
	if d.shell == nil {
		return nil
	}
	return d.shell.Close()
}
