package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	openaiv3 "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/haasonsaas/operator/internal/agent"
	"github.com/haasonsaas/operator/internal/agent/toolconv"
	"github.com/haasonsaas/operator/pkg/models"
)

// ProviderOperator selects the OpenAI Responses computer-use provider.
const ProviderOperator = "openai-operator"

// DefaultOperatorModel is the computer-use model on the Responses API.
const DefaultOperatorModel = "computer-use-preview"

// OperatorProvider samples the OpenAI Responses API with the native
// computer_use_preview tool. Computer calls carry pending safety checks,
// which are echoed back as acknowledged once the call has run.
type OperatorProvider struct {
	client       openaiv3.Client
	defaultModel string
	environment  string
	retry        retrier
}

// OperatorConfig configures an OperatorProvider.
type OperatorConfig struct {
	// APIKey defaults to OPENAI_API_KEY.
	APIKey       string
	BaseURL      string
	DefaultModel string
	// Environment is "browser", "mac", "windows", "ubuntu" or "linux".
	// Empty derives it from the host OS.
	Environment  string
	MaxRetries   int
	RetryDelay   time.Duration
}

// NewOperatorProvider builds a Responses API client. Retries are handled by
// the provider, not the SDK.
func NewOperatorProvider(cfg OperatorConfig) (*OperatorProvider, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		apiKey = strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	}
	if apiKey == "" {
		return nil, errors.New("openai-operator: API key is required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = DefaultOperatorModel
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	env := strings.ToLower(strings.TrimSpace(cfg.Environment))
	if env == "" {
		env = hostEnvironment()
	}

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &OperatorProvider{
		client:       openaiv3.NewClient(opts...),
		defaultModel: cfg.DefaultModel,
		environment:  env,
		retry:        newRetrier(cfg.MaxRetries, cfg.RetryDelay),
	}, nil
}

func hostEnvironment() string {
	switch runtime.GOOS {
	case "darwin":
		return "mac"
	case "windows":
		return "windows"
	}
	return "linux"
}

func (p *OperatorProvider) Name() string {
	return ProviderOperator
}

type responsesRequest struct {
	Model           string              `json:"model"`
	Instructions    string              `json:"instructions,omitempty"`
	Input           []any               `json:"input"`
	Tools           []any               `json:"tools,omitempty"`
	Truncation      string              `json:"truncation"`
	MaxOutputTokens int                 `json:"max_output_tokens,omitempty"`
	Reasoning       *responsesReasoning `json:"reasoning,omitempty"`
}

type responsesReasoning struct {
	Summary string `json:"summary"`
}

type computerUseTool struct {
	Type          string `json:"type"`
	DisplayWidth  int    `json:"display_width"`
	DisplayHeight int    `json:"display_height"`
	Environment   string `json:"environment"`
}

type functionTool struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters"`
	Strict      bool           `json:"strict"`
}

type responsesText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type messageItem struct {
	Type    string `json:"type"`
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type reasoningItem struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	Summary []responsesText `json:"summary"`
}

type responsesSafetyCheck struct {
	ID      string `json:"id"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

type computerCallItem struct {
	Type                string                 `json:"type"`
	ID                  string                 `json:"id,omitempty"`
	CallID              string                 `json:"call_id"`
	Action              json.RawMessage        `json:"action"`
	PendingSafetyChecks []responsesSafetyCheck `json:"pending_safety_checks"`
	Status              string                 `json:"status"`
}

type computerScreenshot struct {
	Type     string `json:"type"`
	ImageURL string `json:"image_url"`
}

type computerOutputItem struct {
	Type                     string                 `json:"type"`
	CallID                   string                 `json:"call_id"`
	AcknowledgedSafetyChecks []responsesSafetyCheck `json:"acknowledged_safety_checks,omitempty"`
	Output                   computerScreenshot     `json:"output"`
}

type functionCallItem struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	CallID    string `json:"call_id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type functionOutputItem struct {
	Type   string `json:"type"`
	CallID string `json:"call_id"`
	Output string `json:"output"`
}

type responsesResponse struct {
	ID                string          `json:"id"`
	Status            string          `json:"status"`
	Output            []responsesItem `json:"output"`
	IncompleteDetails *struct {
		Reason string `json:"reason"`
	} `json:"incomplete_details"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type responsesItem struct {
	Type                string                 `json:"type"`
	ID                  string                 `json:"id"`
	CallID              string                 `json:"call_id"`
	Name                string                 `json:"name"`
	Arguments           string                 `json:"arguments"`
	Action              json.RawMessage        `json:"action"`
	PendingSafetyChecks []responsesSafetyCheck `json:"pending_safety_checks"`
	Content             []responsesText        `json:"content"`
	Summary             []responsesText        `json:"summary"`
}

// Sample sends one Responses request. The full trimmed conversation is sent
// each time; previous_response_id is not used, so trimming stays local.
func (p *OperatorProvider) Sample(ctx context.Context, req *agent.Request) (*agent.Response, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	computerName := string(agent.ToolComputer)
	body := responsesRequest{
		Model:        model,
		Instructions: req.System,
		Truncation:   "auto",
	}
	if req.MaxTokens > 0 {
		body.MaxOutputTokens = req.MaxTokens
	}
	if req.ThinkingBudget > 0 {
		body.Reasoning = &responsesReasoning{Summary: "concise"}
	}
	for _, decl := range req.Tools {
		if decl.IsComputer() {
			computerName = decl.Name
			body.Tools = append(body.Tools, computerUseTool{
				Type:          "computer_use_preview",
				DisplayWidth:  decl.DisplayWidthPx,
				DisplayHeight: decl.DisplayHeightPx,
				Environment:   p.environment,
			})
			continue
		}
		body.Tools = append(body.Tools, functionTool{
			Type:        "function",
			Name:        decl.Name,
			Description: toolconv.Description(decl),
			Parameters:  toolconv.Parameters(decl),
		})
	}
	body.Input = toResponsesInput(req.Messages, computerName)

	var resp responsesResponse
	err := p.retry.do(ctx, func() error {
		resp = responsesResponse{}
		if callErr := p.client.Post(ctx, "responses", body, &resp); callErr != nil {
			return wrapResponsesError(callErr, model)
		}
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	if resp.Error != nil {
		providerErr := NewProviderError(ProviderOperator, model, errors.New(resp.Error.Message)).WithStatus(500)
		if resp.Error.Code != "" {
			providerErr = providerErr.WithCode(resp.Error.Code)
		}
		return nil, providerErr.WithMessage(resp.Error.Message)
	}
	return fromResponsesOutput(resp, computerName), nil
}

// toResponsesInput converts the conversation to Responses input items.
// Computer calls are replayed natively only while their screenshot is still
// in the window; older ones become plain text so every computer_call keeps
// its image output.
func toResponsesInput(messages []models.Message, computerName string) []any {
	results := make(map[string]models.ToolResult)
	calls := make(map[string]models.ToolCall)
	for _, msg := range messages {
		for _, block := range msg.Content {
			switch {
			case block.Type == models.BlockToolResult && block.ToolResult != nil:
				results[block.ToolResult.ToolCallID] = *block.ToolResult
			case block.Type == models.BlockToolUse && block.ToolCall != nil:
				calls[block.ToolCall.ID] = *block.ToolCall
			}
		}
	}
	live := func(call models.ToolCall) bool {
		result, ok := results[call.ID]
		if !ok {
			return false
		}
		if call.Name == computerName {
			return result.HasImage()
		}
		return true
	}

	var items []any
	for _, msg := range messages {
		if msg.Role == models.RoleAssistant {
			items = append(items, toResponsesAssistant(msg, computerName, live)...)
			continue
		}

		var texts []string
		for _, block := range msg.Content {
			switch block.Type {
			case models.BlockText:
				if block.Text != "" {
					texts = append(texts, block.Text)
				}
			case models.BlockToolResult:
				if block.ToolResult == nil {
					continue
				}
				res := *block.ToolResult
				call, known := calls[res.ToolCallID]
				if !known || !live(call) {
					texts = append(texts, fmt.Sprintf("Result of %s call %s: %s", call.Name, res.ToolCallID, resultText(res)))
					continue
				}
				if call.Name == computerName {
					items = append(items, computerOutputItem{
						Type:                     "computer_call_output",
						CallID:                   res.ToolCallID,
						AcknowledgedSafetyChecks: toResponsesChecks(call.SafetyChecks),
						Output:                   computerScreenshot{Type: "computer_screenshot", ImageURL: dataURL(res.Image)},
					})
					continue
				}
				items = append(items, functionOutputItem{
					Type:   "function_call_output",
					CallID: res.ToolCallID,
					Output: resultText(res),
				})
			}
		}
		if len(texts) > 0 {
			items = append(items, messageItem{
				Type:    "message",
				Role:    "user",
				Content: []responsesText{{Type: "input_text", Text: strings.Join(texts, "\n")}},
			})
		}
	}
	return items
}

// toResponsesAssistant emits reasoning and live calls first so each
// reasoning item stays directly ahead of the call it produced.
func toResponsesAssistant(msg models.Message, computerName string, live func(models.ToolCall) bool) []any {
	var reasoning, calls []any
	var texts []string
	for _, block := range msg.Content {
		switch block.Type {
		case models.BlockThinking:
			if block.Signature != "" {
				reasoning = append(reasoning, reasoningItem{
					Type:    "reasoning",
					ID:      block.Signature,
					Summary: summaryOf(block.Text),
				})
			}
		case models.BlockText:
			if block.Text != "" {
				texts = append(texts, block.Text)
			}
		case models.BlockToolUse:
			if block.ToolCall == nil {
				continue
			}
			call := *block.ToolCall
			if !live(call) {
				texts = append(texts, fmt.Sprintf("Called %s (%s) with %s", call.Name, call.ID, string(call.Input)))
				continue
			}
			if call.Name == computerName {
				calls = append(calls, computerCallItem{
					Type:                "computer_call",
					ID:                  call.ItemID,
					CallID:              call.ID,
					Action:              call.Input,
					PendingSafetyChecks: toResponsesChecks(call.SafetyChecks),
					Status:              "completed",
				})
				continue
			}
			args := string(call.Input)
			if args == "" {
				args = "{}"
			}
			calls = append(calls, functionCallItem{
				Type:      "function_call",
				ID:        call.ItemID,
				CallID:    call.ID,
				Name:      call.Name,
				Arguments: args,
			})
		}
	}

	var items []any
	if len(calls) > 0 {
		items = append(items, reasoning...)
		items = append(items, calls...)
	}
	if len(texts) > 0 {
		items = append(items, messageItem{Type: "message", Role: "assistant", Content: strings.Join(texts, "\n")})
	}
	return items
}

func summaryOf(text string) []responsesText {
	if text == "" {
		return []responsesText{}
	}
	return []responsesText{{Type: "summary_text", Text: text}}
}

func resultText(res models.ToolResult) string {
	text := res.Text()
	if text == "" {
		return "(no output)"
	}
	return text
}

func toResponsesChecks(checks []models.SafetyCheck) []responsesSafetyCheck {
	out := make([]responsesSafetyCheck, 0, len(checks))
	for _, c := range checks {
		out = append(out, responsesSafetyCheck{ID: c.ID, Code: c.Code, Message: c.Message})
	}
	return out
}

func fromResponsesOutput(resp responsesResponse, computerName string) *agent.Response {
	out := &agent.Response{
		StopReason: resp.Status,
		Usage: agent.Usage{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
		},
	}
	if resp.IncompleteDetails != nil && resp.IncompleteDetails.Reason != "" {
		out.StopReason = resp.IncompleteDetails.Reason
	}

	for _, item := range resp.Output {
		switch item.Type {
		case "reasoning":
			var parts []string
			for _, s := range item.Summary {
				parts = append(parts, s.Text)
			}
			out.Content = append(out.Content, models.ContentBlock{
				Type:      models.BlockThinking,
				Text:      strings.Join(parts, "\n"),
				Signature: item.ID,
			})
		case "message":
			for _, c := range item.Content {
				if c.Type == "output_text" && c.Text != "" {
					out.Content = append(out.Content, models.TextBlock(c.Text))
				}
			}
		case "computer_call":
			input := item.Action
			if len(input) == 0 {
				input = json.RawMessage("{}")
			}
			call := models.ToolCall{ID: item.CallID, ItemID: item.ID, Name: computerName, Input: input}
			for _, check := range item.PendingSafetyChecks {
				call.SafetyChecks = append(call.SafetyChecks, models.SafetyCheck{ID: check.ID, Code: check.Code, Message: check.Message})
			}
			out.Content = append(out.Content, models.ToolUseBlock(call))
		case "function_call":
			input := json.RawMessage(item.Arguments)
			if strings.TrimSpace(item.Arguments) == "" {
				input = json.RawMessage("{}")
			}
			out.Content = append(out.Content, models.ToolUseBlock(models.ToolCall{
				ID:     item.CallID,
				ItemID: item.ID,
				Name:   item.Name,
				Input:  input,
			}))
		}
	}
	return out
}

func wrapResponsesError(err error, model string) error {
	var apiErr *openaiv3.Error
	if errors.As(err, &apiErr) {
		providerErr := NewProviderError(ProviderOperator, model, err).WithStatus(apiErr.StatusCode)
		if apiErr.Message != "" {
			providerErr = providerErr.WithMessage(apiErr.Message)
		}
		if apiErr.Code != "" {
			providerErr = providerErr.WithCode(apiErr.Code)
		} else if apiErr.Type != "" {
			providerErr = providerErr.WithCode(apiErr.Type)
		}
		return providerErr
	}
	return NewProviderError(ProviderOperator, model, err)
}
