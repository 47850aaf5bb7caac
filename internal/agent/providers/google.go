package providers

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"google.golang.org/genai"

	"github.com/haasonsaas/operator/internal/agent"
	"github.com/haasonsaas/operator/internal/agent/toolconv"
	"github.com/haasonsaas/operator/pkg/models"
)

// DefaultGeminiModel is used when neither config nor request names a model.
const DefaultGeminiModel = "gemini-2.0-flash"

// GeminiProvider samples Gemini through google.golang.org/genai function
// calling. Screenshots are sent as inline image parts.
type GeminiProvider struct {
	client       *genai.Client
	defaultModel string
	retry        retrier
}

// GeminiConfig configures a GeminiProvider.
type GeminiConfig struct {
	// APIKey defaults to GEMINI_API_KEY, then GOOGLE_API_KEY.
	APIKey       string
	DefaultModel string
	MaxRetries   int
	RetryDelay   time.Duration
}

// NewGeminiProvider builds a Gemini API client.
func NewGeminiProvider(ctx context.Context, cfg GeminiConfig) (*GeminiProvider, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	for _, env := range []string{"GEMINI_API_KEY", "GOOGLE_API_KEY"} {
		if apiKey != "" {
			break
		}
		apiKey = strings.TrimSpace(os.Getenv(env))
	}
	if apiKey == "" {
		return nil, errors.New("gemini: API key is required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = DefaultGeminiModel
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, err
	}
	return &GeminiProvider{
		client:       client,
		defaultModel: cfg.DefaultModel,
		retry:        newRetrier(cfg.MaxRetries, cfg.RetryDelay),
	}, nil
}

func (p *GeminiProvider) Name() string {
	return "gemini"
}

// Sample sends one GenerateContent request.
func (p *GeminiProvider) Sample(ctx context.Context, req *agent.Request) (*agent.Response, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	contents := toGeminiContents(req.Messages)
	config := buildGeminiConfig(req)

	var resp *genai.GenerateContentResponse
	err := p.retry.do(ctx, func() error {
		var callErr error
		resp, callErr = p.client.Models.GenerateContent(ctx, model, contents, config)
		if callErr != nil {
			return wrapGeminiError(callErr, model)
		}
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	return fromGeminiResponse(resp), nil
}

func buildGeminiConfig(req *agent.Request) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{}
	if req.System != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.System}},
		}
	}
	if req.MaxTokens > 0 {
		maxTokens := min(req.MaxTokens, math.MaxInt32)
		// #nosec G115 -- bounded by min above
		config.MaxOutputTokens = int32(maxTokens)
	}
	if len(req.Tools) > 0 {
		config.Tools = toolconv.ToGeminiTools(req.Tools)
	}
	return config
}

// toGeminiContents converts the conversation. Function responses need the
// function name, which is recovered from the matching tool-use block.
func toGeminiContents(messages []models.Message) []*genai.Content {
	names := make(map[string]string)
	for _, msg := range messages {
		for _, block := range msg.Content {
			if block.Type == models.BlockToolUse && block.ToolCall != nil {
				names[block.ToolCall.ID] = block.ToolCall.Name
			}
		}
	}

	var result []*genai.Content
	for _, msg := range messages {
		content := &genai.Content{Role: genai.RoleUser}
		if msg.Role == models.RoleAssistant {
			content.Role = genai.RoleModel
		}

		var images []*genai.Part
		for _, block := range msg.Content {
			switch block.Type {
			case models.BlockText:
				if block.Text != "" {
					content.Parts = append(content.Parts, &genai.Part{Text: block.Text})
				}
			case models.BlockToolUse:
				if block.ToolCall == nil {
					continue
				}
				var args map[string]any
				if err := json.Unmarshal(block.ToolCall.Input, &args); err != nil {
					args = make(map[string]any)
				}
				content.Parts = append(content.Parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{
						ID:   block.ToolCall.ID,
						Name: block.ToolCall.Name,
						Args: args,
					},
				})
			case models.BlockToolResult:
				if block.ToolResult == nil {
					continue
				}
				res := *block.ToolResult
				response := map[string]any{"output": res.Text()}
				if res.IsError() {
					response = map[string]any{"error": res.Text()}
				}
				content.Parts = append(content.Parts, &genai.Part{
					FunctionResponse: &genai.FunctionResponse{
						ID:       res.ToolCallID,
						Name:     names[res.ToolCallID],
						Response: response,
					},
				})
				if res.HasImage() {
					mimeType := res.Image.MediaType
					if mimeType == "" {
						mimeType = "image/png"
					}
					images = append(images, &genai.Part{
						InlineData: &genai.Blob{MIMEType: mimeType, Data: res.Image.Data},
					})
				}
			}
		}
		content.Parts = append(content.Parts, images...)
		if len(content.Parts) > 0 {
			result = append(result, content)
		}
	}
	return result
}

func fromGeminiResponse(resp *genai.GenerateContentResponse) *agent.Response {
	out := &agent.Response{}
	if resp == nil {
		return out
	}
	if resp.UsageMetadata != nil {
		out.Usage = agent.Usage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0] == nil {
		return out
	}
	candidate := resp.Candidates[0]
	out.StopReason = string(candidate.FinishReason)
	if candidate.Content == nil {
		return out
	}
	for _, part := range candidate.Content.Parts {
		if part == nil || part.Thought {
			continue
		}
		if part.Text != "" {
			out.Content = append(out.Content, models.TextBlock(part.Text))
		}
		if part.FunctionCall != nil {
			argsJSON, err := json.Marshal(part.FunctionCall.Args)
			if err != nil || part.FunctionCall.Args == nil {
				argsJSON = []byte("{}")
			}
			id := part.FunctionCall.ID
			if id == "" {
				id = "call_" + uuid.NewString()
			}
			out.Content = append(out.Content, models.ToolUseBlock(models.ToolCall{
				ID:    id,
				Name:  part.FunctionCall.Name,
				Input: argsJSON,
			}))
		}
	}
	return out
}

func wrapGeminiError(err error, model string) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		providerErr := NewProviderError("gemini", model, err).WithStatus(apiErr.Code)
		if apiErr.Message != "" {
			providerErr = providerErr.WithMessage(apiErr.Message)
		}
		if apiErr.Status != "" {
			providerErr = providerErr.WithCode(apiErr.Status)
		}
		return providerErr
	}
	return NewProviderError("gemini", model, err)
}
