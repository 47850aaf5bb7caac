package agent

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/haasonsaas/operator/internal/computer"
	"github.com/haasonsaas/operator/internal/display"
	"github.com/haasonsaas/operator/internal/tools/files"
	"github.com/haasonsaas/operator/internal/tools/shell"
	"github.com/haasonsaas/operator/pkg/models"
)

func newTestDispatcher(t *testing.T, backend computer.Backend) (*Dispatcher, string) {
	t.Helper()
	root := t.TempDir()
	tool := computer.NewTool(backend, computer.Options{
		Profile:       display.NewScalingProfile(2560, 1600, false),
		DisplayNumber: 1,
	})
	d := NewDispatcher(tool, shell.NewTool(&shell.Runner{Dir: root}, nil), files.NewEditor(root, nil))
	t.Cleanup(func() { _ = d.Close() })
	return d, root
}

func TestDispatcherDeclarations(t *testing.T) {
	d, _ := newTestDispatcher(t, &stubBackend{})
	decls := d.Declarations()
	if len(decls) != 3 {
		t.Fatalf("len(decls) = %d, want 3", len(decls))
	}
	computerDecl := decls[0]
	if !computerDecl.IsComputer() || computerDecl.Type != ComputerToolType {
		t.Fatalf("computer decl = %+v", computerDecl)
	}
	if computerDecl.DisplayWidthPx != 1280 || computerDecl.DisplayHeightPx != 800 || computerDecl.DisplayNumber != 1 {
		t.Errorf("computer decl should report the target size: %+v", computerDecl)
	}
	if decls[1].Type != shell.Type || decls[2].Type != files.Type {
		t.Errorf("types = %s, %s", decls[1].Type, decls[2].Type)
	}
	for _, decl := range decls {
		if !json.Valid(decl.Parameters) {
			t.Errorf("%s parameters are not JSON", decl.Name)
		}
	}

	if got := NewDispatcher(nil, nil, nil).Declarations(); len(got) != 0 {
		t.Errorf("empty dispatcher declared %d tools", len(got))
	}
}

func TestDispatcherDecode(t *testing.T) {
	d, _ := newTestDispatcher(t, &stubBackend{})
	tests := []struct {
		name       string
		call       models.ToolCall
		wantTool   ToolKind
		wantAction string
		wantErr    string
	}{
		{
			name:       "computer",
			call:       models.ToolCall{ID: "1", Name: "computer", Input: json.RawMessage(`{"action":"left_click","coordinate":[10,10]}`)},
			wantTool:   ToolComputer,
			wantAction: "left_click",
		},
		{
			name:       "operator click",
			call:       models.ToolCall{ID: "1b", Name: "computer", Input: json.RawMessage(`{"type":"click","x":10,"y":10,"button":"left"}`)},
			wantTool:   ToolComputer,
			wantAction: "click",
		},
		{
			name:       "operator keypress",
			call:       models.ToolCall{ID: "1c", Name: "computer", Input: json.RawMessage(`{"type":"keypress","keys":["CTRL","L"]}`)},
			wantTool:   ToolComputer,
			wantAction: "keypress",
		},
		{
			name:       "shell",
			call:       models.ToolCall{ID: "2", Name: "bash", Input: json.RawMessage(`{"command":"ls"}`)},
			wantTool:   ToolShell,
			wantAction: "bash",
		},
		{
			name:       "editor",
			call:       models.ToolCall{ID: "3", Name: "str_replace_editor", Input: json.RawMessage(`{"command":"view","path":"."}`)},
			wantTool:   ToolEditor,
			wantAction: "view",
		},
		{
			name:    "unknown tool",
			call:    models.ToolCall{ID: "4", Name: "browser", Input: json.RawMessage(`{}`)},
			wantErr: "Tool browser is invalid",
		},
		{
			name:    "bad action",
			call:    models.ToolCall{ID: "5", Name: "computer", Input: json.RawMessage(`{"action":"teleport"}`)},
			wantErr: "teleport",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv, err := d.Decode(tt.call)
			if tt.wantErr != "" {
				var toolErr *computer.ToolError
				if !errors.As(err, &toolErr) {
					t.Fatalf("expected *computer.ToolError, got %v", err)
				}
				if !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("error = %q, want %q", err.Error(), tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if inv.Tool() != tt.wantTool || inv.ActionName() != tt.wantAction {
				t.Fatalf("invocation = %s/%s", inv.Tool(), inv.ActionName())
			}
		})
	}
}

func TestDispatcherUnofferedTool(t *testing.T) {
	d := NewDispatcher(nil, nil, nil)
	_, err := d.Decode(models.ToolCall{Name: "bash", Input: json.RawMessage(`{"command":"ls"}`)})
	if !errors.Is(err, ErrUnknownTool) {
		t.Fatalf("error = %v, want ErrUnknownTool", err)
	}
}

func TestDispatcherExecute(t *testing.T) {
	backend := &stubBackend{}
	d, root := newTestDispatcher(t, backend)
	ctx := context.Background()

	inv, err := d.Decode(models.ToolCall{Name: "computer", Input: json.RawMessage(`{"action":"mouse_move","coordinate":[640,400]}`)})
	if err != nil {
		t.Fatal(err)
	}
	result, err := d.Execute(ctx, inv)
	if err != nil {
		t.Fatalf("Execute(computer) error = %v", err)
	}
	if len(backend.calls) == 0 || backend.calls[0] != "move 1280,800" {
		t.Fatalf("backend calls = %v", backend.calls)
	}
	if result.Image == nil {
		t.Error("computer action should return a screenshot")
	}

	inv, err = d.Decode(models.ToolCall{Name: "str_replace_editor", Input: json.RawMessage(`{"command":"create","path":"notes.txt","file_text":"hello"}`)})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := d.Execute(ctx, inv); err != nil {
		t.Fatalf("Execute(editor) error = %v", err)
	}
	if data, err := os.ReadFile(filepath.Join(root, "notes.txt")); err != nil || string(data) != "hello" {
		t.Fatalf("file = %q, %v", data, err)
	}

	inv, err = d.Decode(models.ToolCall{Name: "bash", Input: json.RawMessage(`{"command":"cat notes.txt"}`)})
	if err != nil {
		t.Fatal(err)
	}
	result, err = d.Execute(ctx, inv)
	if err != nil {
		t.Fatalf("Execute(shell) error = %v", err)
	}
	if !strings.Contains(result.Output, "hello") {
		t.Fatalf("shell output = %q", result.Output)
	}
}

func TestDispatcherInspect(t *testing.T) {
	d, _ := newTestDispatcher(t, &inspectingBackend{})
	click, err := d.Decode(models.ToolCall{Name: "computer", Input: json.RawMessage(`{"action":"left_click"}`)})
	if err != nil {
		t.Fatal(err)
	}
	checks, err := d.Inspect(context.Background(), click)
	if err != nil || len(checks) != 1 {
		t.Fatalf("Inspect(click) = %v, %v", checks, err)
	}

	shot, err := d.Decode(models.ToolCall{Name: "computer", Input: json.RawMessage(`{"action":"screenshot"}`)})
	if err != nil {
		t.Fatal(err)
	}
	if checks, _ := d.Inspect(context.Background(), shot); len(checks) != 0 {
		t.Fatalf("screenshot should not be flagged: %v", checks)
	}

	shellInv, err := d.Decode(models.ToolCall{Name: "bash", Input: json.RawMessage(`{"command":"ls"}`)})
	if err != nil {
		t.Fatal(err)
	}
	if checks, err := d.Inspect(context.Background(), shellInv); err != nil || checks != nil {
		t.Fatalf("shell inspect = %v, %v", checks, err)
	}
}
