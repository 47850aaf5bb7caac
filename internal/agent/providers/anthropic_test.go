package providers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/haasonsaas/operator/internal/agent"
	"github.com/haasonsaas/operator/internal/tools/files"
	"github.com/haasonsaas/operator/internal/tools/shell"
	"github.com/haasonsaas/operator/pkg/models"
)

const anthropicToolUseResponse = `{
	"id": "msg_01",
	"type": "message",
	"role": "assistant",
	"model": "claude-3-7-sonnet-20250219",
	"content": [
		{"type": "thinking", "thinking": "Need to click.", "signature": "sig_1"},
		{"type": "text", "text": "Clicking the button."},
		{"type": "tool_use", "id": "toolu_01", "name": "computer", "input": {"action": "left_click", "coordinate": [10, 20]}}
	],
	"stop_reason": "tool_use",
	"stop_sequence": null,
	"usage": {"input_tokens": 120, "output_tokens": 35}
}`

func testDeclarations() []agent.ToolDeclaration {
	return []agent.ToolDeclaration{
		{
			Name:            "computer",
			Type:            agent.ComputerToolType,
			DisplayWidthPx:  1024,
			DisplayHeightPx: 768,
			DisplayNumber:   1,
			Description:     "Control the screen.",
		},
		{Name: shell.Name, Type: shell.Type},
		{Name: files.Name, Type: files.Type},
	}
}

func testConversation() []models.Message {
	return []models.Message{
		{Role: models.RoleUser, Content: []models.ContentBlock{models.TextBlock("Open the menu")}},
		{Role: models.RoleAssistant, Content: []models.ContentBlock{
			{Type: models.BlockThinking, Text: "plan", Signature: "sig_0"},
			models.TextBlock("Taking a screenshot."),
			models.ToolUseBlock(models.ToolCall{ID: "toolu_00", Name: "computer", Input: json.RawMessage(`{"action":"screenshot"}`)}),
			models.ToolUseBlock(models.ToolCall{ID: "toolu_0b", Name: "bash", Input: json.RawMessage(`{"command":"false"}`)}),
		}},
		{Role: models.RoleUser, Content: []models.ContentBlock{
			models.ToolResultBlock(models.ToolResult{
				ToolCallID: "toolu_00",
				Image:      &models.Image{MediaType: "image/png", Data: []byte("png-bytes"), Width: 8, Height: 6},
			}),
			models.ToolResultBlock(models.ToolResult{ToolCallID: "toolu_0b", Error: "exit status 1"}),
		}},
	}
}

func newTestAnthropic(t *testing.T, baseURL string, maxRetries int) *AnthropicProvider {
	t.Helper()
	provider, err := NewAnthropicProvider(context.Background(), AnthropicConfig{
		APIKey:     "test-key",
		BaseURL:    baseURL,
		MaxRetries: maxRetries,
		RetryDelay: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewAnthropicProvider: %v", err)
	}
	return provider
}

func TestAnthropicSample(t *testing.T) {
	var body map[string]any
	var beta string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		beta = r.Header.Get("anthropic-beta")
		raw, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(raw, &body); err != nil {
			t.Errorf("request body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, anthropicToolUseResponse)
	}))
	defer server.Close()

	provider := newTestAnthropic(t, server.URL, -1)
	resp, err := provider.Sample(context.Background(), &agent.Request{
		System:         "You are operating a computer.",
		Messages:       testConversation(),
		Tools:          testDeclarations(),
		MaxTokens:      2048,
		ThinkingBudget: 1024,
	})
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}

	if !strings.Contains(beta, string(anthropic.AnthropicBetaComputerUse2025_01_24)) {
		t.Errorf("anthropic-beta header = %q", beta)
	}
	if body["model"] != DefaultAnthropicModel {
		t.Errorf("model = %v", body["model"])
	}
	if body["max_tokens"] != float64(2048) {
		t.Errorf("max_tokens = %v", body["max_tokens"])
	}
	thinking, _ := body["thinking"].(map[string]any)
	if thinking["type"] != "enabled" || thinking["budget_tokens"] != float64(1024) {
		t.Errorf("thinking = %v", body["thinking"])
	}

	tools, _ := body["tools"].([]any)
	if len(tools) != 3 {
		t.Fatalf("tools = %v", body["tools"])
	}
	computerTool := tools[0].(map[string]any)
	if computerTool["type"] != "computer_20250124" || computerTool["display_width_px"] != float64(1024) ||
		computerTool["display_height_px"] != float64(768) || computerTool["display_number"] != float64(1) {
		t.Errorf("computer tool = %v", computerTool)
	}
	if tools[1].(map[string]any)["type"] != shell.Type {
		t.Errorf("bash tool = %v", tools[1])
	}
	if tools[2].(map[string]any)["type"] != files.Type {
		t.Errorf("editor tool = %v", tools[2])
	}

	messages := body["messages"].([]any)
	if len(messages) != 3 {
		t.Fatalf("messages = %d, want 3", len(messages))
	}
	assistant := messages[1].(map[string]any)["content"].([]any)
	if assistant[0].(map[string]any)["type"] != "thinking" || assistant[0].(map[string]any)["signature"] != "sig_0" {
		t.Errorf("thinking block not echoed: %v", assistant[0])
	}
	results := messages[2].(map[string]any)["content"].([]any)
	screenshot := results[0].(map[string]any)
	if screenshot["type"] != "tool_result" || screenshot["tool_use_id"] != "toolu_00" {
		t.Errorf("screenshot result = %v", screenshot)
	}
	image := screenshot["content"].([]any)[0].(map[string]any)
	source := image["source"].(map[string]any)
	if source["data"] != base64.StdEncoding.EncodeToString([]byte("png-bytes")) || source["media_type"] != "image/png" {
		t.Errorf("image source = %v", source)
	}
	failed := results[1].(map[string]any)
	if failed["is_error"] != true {
		t.Errorf("error result = %v", failed)
	}

	if resp.StopReason != "tool_use" {
		t.Errorf("StopReason = %q", resp.StopReason)
	}
	if resp.Usage.InputTokens != 120 || resp.Usage.OutputTokens != 35 {
		t.Errorf("Usage = %+v", resp.Usage)
	}
	if len(resp.Content) != 3 {
		t.Fatalf("Content = %+v", resp.Content)
	}
	if resp.Content[0].Type != models.BlockThinking || resp.Content[0].Signature != "sig_1" {
		t.Errorf("thinking block = %+v", resp.Content[0])
	}
	calls := resp.ToolCalls()
	if len(calls) != 1 || calls[0].ID != "toolu_01" || calls[0].Action() != "left_click" {
		t.Errorf("ToolCalls = %+v", calls)
	}
}

func TestAnthropicSampleErrors(t *testing.T) {
	tests := []struct {
		name         string
		status       int
		body         string
		wantReason   Reason
		wantAttempts int32
	}{
		{
			name:         "rate limit retried",
			status:       http.StatusTooManyRequests,
			body:         `{"type":"error","error":{"type":"rate_limit_error","message":"Rate limited"}}`,
			wantReason:   ReasonRateLimit,
			wantAttempts: 3,
		},
		{
			name:         "auth not retried",
			status:       http.StatusUnauthorized,
			body:         `{"type":"error","error":{"type":"authentication_error","message":"invalid x-api-key"}}`,
			wantReason:   ReasonAuth,
			wantAttempts: 1,
		},
		{
			name:         "bad request not retried",
			status:       http.StatusBadRequest,
			body:         `{"type":"error","error":{"type":"invalid_request_error","message":"bad"}}`,
			wantReason:   ReasonInvalidRequest,
			wantAttempts: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var attempts atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				attempts.Add(1)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))
			defer server.Close()

			provider := newTestAnthropic(t, server.URL, 2)
			_, err := provider.Sample(context.Background(), &agent.Request{
				Messages: []models.Message{{Role: models.RoleUser, Content: []models.ContentBlock{models.TextBlock("hi")}}},
			})
			providerErr, ok := GetProviderError(err)
			if !ok {
				t.Fatalf("err = %v (%T), want ProviderError", err, err)
			}
			if providerErr.Reason != tt.wantReason || providerErr.Status != tt.status {
				t.Errorf("reason=%v status=%d, want %v %d", providerErr.Reason, providerErr.Status, tt.wantReason, tt.status)
			}
			var apiErr *anthropic.Error
			if !errors.As(err, &apiErr) {
				t.Error("cause should be *anthropic.Error")
			}
			if got := attempts.Load(); got != tt.wantAttempts {
				t.Errorf("attempts = %d, want %d", got, tt.wantAttempts)
			}
		})
	}
}

func TestAnthropicSampleRetryThenSucceed(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if attempts.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprint(w, `{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`)
			return
		}
		fmt.Fprint(w, anthropicToolUseResponse)
	}))
	defer server.Close()

	provider := newTestAnthropic(t, server.URL, 3)
	resp, err := provider.Sample(context.Background(), &agent.Request{
		Messages: []models.Message{{Role: models.RoleUser, Content: []models.ContentBlock{models.TextBlock("hi")}}},
	})
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if attempts.Load() != 2 {
		t.Errorf("attempts = %d, want 2", attempts.Load())
	}
	if len(resp.ToolCalls()) != 1 {
		t.Errorf("ToolCalls = %+v", resp.ToolCalls())
	}
}

func TestResolveAnthropicAPIKey(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("ANTHROPIC_API_KEY", "")

	if _, err := ResolveAnthropicAPIKey(""); !errors.Is(err, ErrNoAPIKey) {
		t.Fatalf("missing key: err = %v, want ErrNoAPIKey", err)
	}

	if err := os.MkdirAll(filepath.Join(home, ".anthropic"), 0o700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(home, ".anthropic", "api_key"), []byte("file-key\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if key, err := ResolveAnthropicAPIKey(""); err != nil || key != "file-key" {
		t.Fatalf("file key = %q, %v", key, err)
	}

	t.Setenv("ANTHROPIC_API_KEY", "env-key")
	if key, _ := ResolveAnthropicAPIKey(""); key != "env-key" {
		t.Fatalf("env key = %q", key)
	}
	if key, _ := ResolveAnthropicAPIKey("explicit"); key != "explicit" {
		t.Fatalf("explicit key = %q", key)
	}
}

func TestNewAnthropicProviderBackends(t *testing.T) {
	tests := []struct {
		name    string
		cfg     AnthropicConfig
		wantErr string
	}{
		{"unknown backend", AnthropicConfig{Backend: "azure"}, "unknown backend"},
		{"vertex needs project", AnthropicConfig{Backend: BackendVertex, Region: "us-east5"}, "region and project id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewAnthropicProvider(context.Background(), tt.cfg)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("err = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestToAnthropicMessagesDropsEmptyText(t *testing.T) {
	messages, err := toAnthropicMessages([]models.Message{
		{Role: models.RoleUser, Content: []models.ContentBlock{models.TextBlock("")}},
		{Role: models.RoleUser, Content: []models.ContentBlock{models.TextBlock("go")}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(messages) != 1 {
		t.Fatalf("messages = %d, want 1", len(messages))
	}

	_, err = toAnthropicMessages([]models.Message{{Role: models.RoleAssistant, Content: []models.ContentBlock{
		models.ToolUseBlock(models.ToolCall{ID: "t", Name: "computer", Input: json.RawMessage(`{bad`)}),
	}}})
	if err == nil {
		t.Fatal("invalid tool input should fail conversion")
	}
}
