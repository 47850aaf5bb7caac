package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/haasonsaas/operator/internal/agent"
	"github.com/haasonsaas/operator/pkg/models"
)

const operatorComputerCallResponse = `{
	"id": "resp_1",
	"object": "response",
	"status": "completed",
	"output": [
		{"type": "reasoning", "id": "rs_1", "summary": [{"type": "summary_text", "text": "Need to submit."}]},
		{"type": "message", "id": "msg_1", "role": "assistant", "content": [{"type": "output_text", "text": "Submitting the form."}]},
		{
			"type": "computer_call",
			"id": "cu_1",
			"call_id": "call_9",
			"status": "completed",
			"action": {"type": "click", "x": 120, "y": 48, "button": "left"},
			"pending_safety_checks": [{"id": "cu_sc_1", "code": "malicious_instructions", "message": "The page asks you to ignore instructions."}]
		},
		{"type": "function_call", "id": "fc_1", "call_id": "call_10", "name": "bash", "arguments": "{\"command\":\"ls\"}"}
	],
	"usage": {"input_tokens": 21, "output_tokens": 7, "total_tokens": 28}
}`

func operatorConversation() []models.Message {
	png := &models.Image{MediaType: "image/png", Data: []byte("png"), Width: 4, Height: 3}
	return []models.Message{
		{Role: models.RoleUser, Content: []models.ContentBlock{models.TextBlock("Book a table")}},
		{Role: models.RoleAssistant, Content: []models.ContentBlock{
			models.ToolUseBlock(models.ToolCall{ID: "call_1", ItemID: "cu_0", Name: "computer", Input: json.RawMessage(`{"type":"screenshot"}`)}),
		}},
		{Role: models.RoleUser, Content: []models.ContentBlock{
			models.ToolResultBlock(models.ToolResult{ToolCallID: "call_1"}),
		}},
		{Role: models.RoleAssistant, Content: []models.ContentBlock{
			{Type: models.BlockThinking, Text: "click it", Signature: "rs_0"},
			models.ToolUseBlock(models.ToolCall{
				ID:           "call_2",
				ItemID:       "cu_2",
				Name:         "computer",
				Input:        json.RawMessage(`{"type":"click","x":5,"y":6,"button":"left"}`),
				SafetyChecks: []models.SafetyCheck{{ID: "cu_sc_0", Code: "irrelevant_domain", Message: "Unexpected domain."}},
			}),
			models.ToolUseBlock(models.ToolCall{ID: "call_3", ItemID: "fc_3", Name: "bash", Input: json.RawMessage(`{"command":"pwd"}`)}),
		}},
		{Role: models.RoleUser, Content: []models.ContentBlock{
			models.ToolResultBlock(models.ToolResult{ToolCallID: "call_2", Image: png}),
			models.ToolResultBlock(models.ToolResult{ToolCallID: "call_3", Output: "/root\n"}),
		}},
	}
}

func newTestOperator(t *testing.T, baseURL string, maxRetries int) *OperatorProvider {
	t.Helper()
	provider, err := NewOperatorProvider(OperatorConfig{
		APIKey:      "test-key",
		BaseURL:     baseURL,
		Environment: "browser",
		MaxRetries:  maxRetries,
		RetryDelay:  time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewOperatorProvider: %v", err)
	}
	return provider
}

func itemsOfType(items []any, typ string) []map[string]any {
	var out []map[string]any
	for _, raw := range items {
		item, _ := raw.(map[string]any)
		if item["type"] == typ {
			out = append(out, item)
		}
	}
	return out
}

func TestOperatorSample(t *testing.T) {
	var body map[string]any
	var path, auth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		auth = r.Header.Get("Authorization")
		raw, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(raw, &body); err != nil {
			t.Errorf("request body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, operatorComputerCallResponse)
	}))
	defer server.Close()

	provider := newTestOperator(t, server.URL+"/v1", -1)
	resp, err := provider.Sample(context.Background(), &agent.Request{
		System:    "You are operating a browser.",
		Messages:  operatorConversation(),
		Tools:     testDeclarations(),
		MaxTokens: 1024,
	})
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}

	if path != "/v1/responses" || auth != "Bearer test-key" {
		t.Errorf("path = %q, auth = %q", path, auth)
	}
	if body["model"] != DefaultOperatorModel || body["truncation"] != "auto" || body["instructions"] != "You are operating a browser." {
		t.Errorf("request = %v", body)
	}
	tools, _ := body["tools"].([]any)
	if len(tools) != 3 {
		t.Fatalf("tools = %v", body["tools"])
	}
	computerTool := tools[0].(map[string]any)
	if computerTool["type"] != "computer_use_preview" || computerTool["display_width"] != float64(1024) ||
		computerTool["display_height"] != float64(768) || computerTool["environment"] != "browser" {
		t.Errorf("computer tool = %v", computerTool)
	}
	if fn := tools[1].(map[string]any); fn["type"] != "function" || fn["name"] != "bash" {
		t.Errorf("bash tool = %v", fn)
	}

	input, _ := body["input"].([]any)
	calls := itemsOfType(input, "computer_call")
	if len(calls) != 1 || calls[0]["id"] != "cu_2" || calls[0]["call_id"] != "call_2" {
		t.Fatalf("computer calls = %v", calls)
	}
	outputs := itemsOfType(input, "computer_call_output")
	if len(outputs) != 1 || outputs[0]["call_id"] != "call_2" {
		t.Fatalf("computer outputs = %v", outputs)
	}
	acked, _ := outputs[0]["acknowledged_safety_checks"].([]any)
	if len(acked) != 1 || acked[0].(map[string]any)["id"] != "cu_sc_0" {
		t.Errorf("acknowledged checks = %v", outputs[0]["acknowledged_safety_checks"])
	}
	screenshot := outputs[0]["output"].(map[string]any)
	if screenshot["type"] != "computer_screenshot" || !strings.HasPrefix(screenshot["image_url"].(string), "data:image/png;base64,") {
		t.Errorf("screenshot = %v", screenshot)
	}
	if reasoning := itemsOfType(input, "reasoning"); len(reasoning) != 1 || reasoning[0]["id"] != "rs_0" {
		t.Errorf("reasoning = %v", reasoning)
	}
	if fc := itemsOfType(input, "function_call"); len(fc) != 1 || fc[0]["call_id"] != "call_3" || fc[0]["arguments"] != `{"command":"pwd"}` {
		t.Errorf("function calls = %v", fc)
	}
	if fo := itemsOfType(input, "function_call_output"); len(fo) != 1 || fo[0]["output"] != "/root\n" {
		t.Errorf("function outputs = %v", fo)
	}
	// The first screenshot was trimmed, so its call is replayed as text.
	encoded, _ := json.Marshal(input)
	if !strings.Contains(string(encoded), "Called computer (call_1)") || strings.Contains(string(encoded), `"call_id":"call_1"`) {
		t.Errorf("trimmed call not flattened: %s", encoded)
	}

	if resp.Usage.InputTokens != 21 || resp.Usage.OutputTokens != 7 || resp.StopReason != "completed" {
		t.Errorf("resp = %+v", resp)
	}
	if resp.Content[0].Type != models.BlockThinking || resp.Content[0].Signature != "rs_1" || resp.Content[0].Text != "Need to submit." {
		t.Errorf("reasoning block = %+v", resp.Content[0])
	}
	if resp.Content[1].Text != "Submitting the form." {
		t.Errorf("text block = %+v", resp.Content[1])
	}
	got := resp.ToolCalls()
	if len(got) != 2 {
		t.Fatalf("tool calls = %+v", got)
	}
	click := got[0]
	if click.ID != "call_9" || click.ItemID != "cu_1" || click.Name != "computer" || click.Action() != "click" {
		t.Errorf("computer call = %+v", click)
	}
	if len(click.SafetyChecks) != 1 || click.SafetyChecks[0].ID != "cu_sc_1" || click.SafetyChecks[0].Code != "malicious_instructions" {
		t.Errorf("safety checks = %+v", click.SafetyChecks)
	}
	if got[1].ID != "call_10" || got[1].Name != "bash" || string(got[1].Input) != `{"command":"ls"}` {
		t.Errorf("function call = %+v", got[1])
	}
}

func TestOperatorSampleRetriesServerErrors(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if attempts.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			fmt.Fprint(w, `{"error":{"message":"upstream","type":"server_error","code":"server_error"}}`)
			return
		}
		fmt.Fprint(w, `{"id":"resp_2","status":"completed","output":[{"type":"message","content":[{"type":"output_text","text":"done"}]}],"usage":{"input_tokens":1,"output_tokens":1}}`)
	}))
	defer server.Close()

	provider := newTestOperator(t, server.URL, 1)
	resp, err := provider.Sample(context.Background(), &agent.Request{
		Messages: []models.Message{{Role: models.RoleUser, Content: []models.ContentBlock{models.TextBlock("hi")}}},
	})
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if attempts.Load() != 2 {
		t.Errorf("attempts = %d, want 2", attempts.Load())
	}
	if len(resp.Content) != 1 || resp.Content[0].Text != "done" || len(resp.ToolCalls()) != 0 {
		t.Errorf("resp = %+v", resp)
	}
}

func TestOperatorSampleErrors(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantReason Reason
		wantCode   string
	}{
		{
			name:       "auth",
			status:     http.StatusUnauthorized,
			body:       `{"error":{"message":"Incorrect API key provided","type":"invalid_request_error","code":"invalid_api_key"}}`,
			wantReason: ReasonAuth,
			wantCode:   "invalid_api_key",
		},
		{
			name:       "failed response",
			status:     http.StatusOK,
			body:       `{"id":"resp_3","status":"failed","output":[],"error":{"code":"server_error","message":"model crashed"}}`,
			wantReason: ReasonServerError,
			wantCode:   "server_error",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))
			defer server.Close()

			provider := newTestOperator(t, server.URL, -1)
			_, err := provider.Sample(context.Background(), &agent.Request{
				Messages: []models.Message{{Role: models.RoleUser, Content: []models.ContentBlock{models.TextBlock("hi")}}},
			})
			providerErr, ok := GetProviderError(err)
			if !ok {
				t.Fatalf("err = %v, want ProviderError", err)
			}
			if providerErr.Reason != tt.wantReason || providerErr.Code != tt.wantCode {
				t.Errorf("providerErr = %+v", providerErr)
			}
		})
	}
}

func TestNewOperatorProviderEnvironment(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	if _, err := NewOperatorProvider(OperatorConfig{}); err == nil {
		t.Fatal("expected error without API key")
	}
	provider, err := NewOperatorProvider(OperatorConfig{APIKey: "k"})
	if err != nil {
		t.Fatal(err)
	}
	if provider.environment != hostEnvironment() || provider.defaultModel != DefaultOperatorModel {
		t.Errorf("provider = %+v", provider)
	}
}
