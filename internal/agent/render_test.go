package agent

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/haasonsaas/operator/pkg/models"
)

func TestRenderBlock(t *testing.T) {
	tests := []struct {
		name  string
		block models.ContentBlock
		want  string
	}{
		{"text", models.TextBlock("hello"), "hello"},
		{"action", models.ToolUseBlock(models.ToolCall{Name: "computer", Input: json.RawMessage(`{"action":"left_click"}`)}), "[ACTION] left_click"},
		{"tool without action", models.ToolUseBlock(models.ToolCall{Name: "bash", Input: json.RawMessage(`{"command":"ls"}`)}), "[TOOL] bash"},
		{"output", models.ToolResultBlock(models.ToolResult{Output: "done"}), "done"},
		{"error", models.ToolResultBlock(models.ToolResult{Error: "Invalid action: fly"}), "Error: Invalid action: fly"},
		{"system", models.ToolResultBlock(models.ToolResult{System: "tool has been restarted."}), "tool has been restarted."},
		{"image only", models.ToolResultBlock(models.ToolResult{Image: &models.Image{Data: []byte{1}}}), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RenderBlock(tt.block); got != tt.want {
				t.Errorf("RenderBlock() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCompleted(t *testing.T) {
	tests := []struct {
		name    string
		history []string
		want    bool
	}{
		{"phrase in last entry", []string{"User: go", "[ACTION] left_click", "I have successfully COMPLETED it"}, true},
		{"phrase outside window", []string{"Task completed", "a", "b", "c"}, false},
		{"no phrase", []string{"User: go", "working"}, false},
		{"empty", nil, false},
		{"new suspect", []string{"There is a NEW SUSPECT in the case"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Completed(tt.history, DefaultCompletionPhrases, DefaultCompletionWindow); got != tt.want {
				t.Errorf("Completed() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSafeTaskName(t *testing.T) {
	tests := map[string]string{
		"Level 1: Start/End": "Level_1_Start_End",
		"plain":              "plain",
		"":                   "default",
	}
	for in, want := range tests {
		if got := SafeTaskName(in); got != want {
			t.Errorf("SafeTaskName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestTranscript(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)
	tr, err := OpenTranscript(dir, "Case 1: Find", now)
	if err != nil {
		t.Fatalf("OpenTranscript() error = %v", err)
	}
	want := filepath.Join(dir, "Case_1_Find", "conversation_Case_1_Find_20250304_050607.txt")
	if tr.Path() != want {
		t.Fatalf("Path() = %q, want %q", tr.Path(), want)
	}
	tr.Append("User: hi")
	tr.Append("[ACTION] left_click")
	if err := tr.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	data, err := os.ReadFile(want)
	if err != nil {
		t.Fatal(err)
	}
	if got := string(data); got != "User: hi\n\n[ACTION] left_click\n\n" {
		t.Fatalf("transcript = %q", got)
	}

	var nilTranscript *Transcript
	nilTranscript.Append("ignored")
	if err := nilTranscript.Close(); err != nil || !strings.EqualFold(nilTranscript.Path(), "") {
		t.Fatal("nil transcript should be a no-op")
	}
}
