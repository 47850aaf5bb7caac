package providers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/operator/internal/agent"
	"github.com/haasonsaas/operator/internal/agent/toolconv"
	"github.com/haasonsaas/operator/pkg/models"
)

// DefaultOpenAIModel is used when neither config nor request names a model.
const DefaultOpenAIModel = "gpt-4o"

// OpenAIProvider samples OpenAI chat completions with function calling.
// Screenshots cannot ride on tool messages, so they follow the tool results
// as a user message with image parts.
type OpenAIProvider struct {
	client       *openai.Client
	defaultModel string
	retry        retrier
}

// OpenAIConfig configures an OpenAIProvider.
type OpenAIConfig struct {
	// APIKey defaults to OPENAI_API_KEY.
	APIKey       string
	BaseURL      string
	DefaultModel string
	MaxRetries   int
	RetryDelay   time.Duration
}

// NewOpenAIProvider builds an OpenAI chat completions client.
func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		apiKey = strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	}
	if apiKey == "" {
		return nil, errors.New("openai: API key is required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = DefaultOpenAIModel
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}

	clientConfig := openai.DefaultConfig(apiKey)
	if strings.TrimSpace(cfg.BaseURL) != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	return &OpenAIProvider{
		client:       openai.NewClientWithConfig(clientConfig),
		defaultModel: cfg.DefaultModel,
		retry:        newRetrier(cfg.MaxRetries, cfg.RetryDelay),
	}, nil
}

func (p *OpenAIProvider) Name() string {
	return "openai"
}

// Sample sends one chat completion request.
func (p *OpenAIProvider) Sample(ctx context.Context, req *agent.Request) (*agent.Response, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	chatReq := openai.ChatCompletionRequest{
		Model:    model,
		Messages: toOpenAIMessages(req.Messages, req.System),
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = toolconv.ToOpenAITools(req.Tools)
	}

	var resp openai.ChatCompletionResponse
	err := p.retry.do(ctx, func() error {
		var callErr error
		resp, callErr = p.client.CreateChatCompletion(ctx, chatReq)
		if callErr != nil {
			return wrapOpenAIError(callErr, model)
		}
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, NewProviderError("openai", model, errors.New("response has no choices")).WithStatus(500)
	}
	return fromOpenAIChoice(resp.Choices[0], resp.Usage), nil
}

func toOpenAIMessages(messages []models.Message, system string) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if system != "" {
		result = append(result, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}

	for _, msg := range messages {
		if msg.Role == models.RoleAssistant {
			result = append(result, toOpenAIAssistant(msg))
			continue
		}

		var texts []string
		var images []openai.ChatMessagePart
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
				content := res.Text()
				if content == "" {
					content = "(no output)"
				}
				result = append(result, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    content,
					ToolCallID: res.ToolCallID,
				})
				if res.HasImage() {
					images = append(images, openai.ChatMessagePart{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL:    dataURL(res.Image),
							Detail: openai.ImageURLDetailAuto,
						},
					})
				}
			}
		}

		switch {
		case len(images) > 0:
			parts := make([]openai.ChatMessagePart, 0, len(images)+1)
			text := "Screenshot after the tool calls above."
			if len(texts) > 0 {
				text = strings.Join(texts, "\n")
			}
			parts = append(parts, openai.ChatMessagePart{Type: openai.ChatMessagePartTypeText, Text: text})
			parts = append(parts, images...)
			result = append(result, openai.ChatCompletionMessage{
				Role:         openai.ChatMessageRoleUser,
				MultiContent: parts,
			})
		case len(texts) > 0:
			result = append(result, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleUser,
				Content: strings.Join(texts, "\n"),
			})
		}
	}
	return result
}

func toOpenAIAssistant(msg models.Message) openai.ChatCompletionMessage {
	out := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant}
	var texts []string
	for _, block := range msg.Content {
		switch block.Type {
		case models.BlockText:
			if block.Text != "" {
				texts = append(texts, block.Text)
			}
		case models.BlockToolUse:
			if block.ToolCall == nil {
				continue
			}
			args := string(block.ToolCall.Input)
			if args == "" {
				args = "{}"
			}
			out.ToolCalls = append(out.ToolCalls, openai.ToolCall{
				ID:   block.ToolCall.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      block.ToolCall.Name,
					Arguments: args,
				},
			})
		}
	}
	out.Content = strings.Join(texts, "\n")
	return out
}

func dataURL(img *models.Image) string {
	mediaType := img.MediaType
	if mediaType == "" {
		mediaType = "image/png"
	}
	return fmt.Sprintf("data:%s;base64,%s", mediaType, base64.StdEncoding.EncodeToString(img.Data))
}

func fromOpenAIChoice(choice openai.ChatCompletionChoice, usage openai.Usage) *agent.Response {
	resp := &agent.Response{
		StopReason: string(choice.FinishReason),
		Usage: agent.Usage{
			InputTokens:  usage.PromptTokens,
			OutputTokens: usage.CompletionTokens,
		},
	}
	if choice.Message.Content != "" {
		resp.Content = append(resp.Content, models.TextBlock(choice.Message.Content))
	}
	for _, tc := range choice.Message.ToolCalls {
		input := json.RawMessage(tc.Function.Arguments)
		if strings.TrimSpace(tc.Function.Arguments) == "" {
			input = json.RawMessage("{}")
		}
		resp.Content = append(resp.Content, models.ToolUseBlock(models.ToolCall{
			ID:    tc.ID,
			Name:  tc.Function.Name,
			Input: input,
		}))
	}
	return resp
}

func wrapOpenAIError(err error, model string) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		providerErr := NewProviderError("openai", model, err).WithStatus(apiErr.HTTPStatusCode)
		if apiErr.Message != "" {
			providerErr = providerErr.WithMessage(apiErr.Message)
		}
		if code, ok := apiErr.Code.(string); ok && code != "" {
			providerErr = providerErr.WithCode(code)
		} else if apiErr.Type != "" {
			providerErr = providerErr.WithCode(apiErr.Type)
		}
		return providerErr
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return NewProviderError("openai", model, err).WithStatus(reqErr.HTTPStatusCode)
	}
	return NewProviderError("openai", model, err)
}
