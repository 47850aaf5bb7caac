package providers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/bedrock"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/vertex"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"

	"github.com/haasonsaas/operator/internal/agent"
	"github.com/haasonsaas/operator/internal/agent/toolconv"
	"github.com/haasonsaas/operator/pkg/models"
)

// Anthropic API backends.
const (
	BackendAnthropic = "anthropic"
	BackendBedrock   = "bedrock"
	BackendVertex    = "vertex"
)

// Default Anthropic model ids per backend.
const (
	DefaultAnthropicModel = "claude-3-7-sonnet-20250219"
	DefaultBedrockModel   = "us.anthropic.claude-3-7-sonnet-20250219-v1:0"
	DefaultVertexModel    = "claude-3-7-sonnet@20250219"
)

// ErrNoAPIKey is returned when no Anthropic API key can be found.
var ErrNoAPIKey = errors.New("anthropic: no API key found; set ANTHROPIC_API_KEY or create ~/.anthropic/api_key")

// AnthropicProvider samples Claude through the Beta Messages API with the
// native computer, bash and text editor tools.
type AnthropicProvider struct {
	client       anthropic.Client
	backend      string
	defaultModel string
	retry        retrier
}

// AnthropicConfig configures an AnthropicProvider.
type AnthropicConfig struct {
	// Backend selects the API: "anthropic" (default), "bedrock" or "vertex".
	Backend string

	// APIKey authenticates against the direct API. When empty the key is
	// read from ANTHROPIC_API_KEY, then ~/.anthropic/api_key.
	APIKey string

	// BaseURL overrides the API base URL.
	BaseURL string

	// Region is the AWS region for bedrock or the GCP region for vertex.
	Region string

	// ProjectID is the GCP project for vertex.
	ProjectID string

	// AWSAccessKeyID, AWSSecretAccessKey and AWSSessionToken supply static
	// bedrock credentials. When empty the default AWS credential chain runs.
	AWSAccessKeyID     string
	AWSSecretAccessKey string
	AWSSessionToken    string

	// DefaultModel is used when the request has no model.
	DefaultModel string

	// MaxRetries bounds transient-failure retries. Default 3; negative
	// disables retrying.
	MaxRetries int

	// RetryDelay is the base linear backoff. Default 1s.
	RetryDelay time.Duration
}

// NewAnthropicProvider builds a provider for the configured backend.
func NewAnthropicProvider(ctx context.Context, cfg AnthropicConfig) (*AnthropicProvider, error) {
	if cfg.Backend == "" {
		cfg.Backend = BackendAnthropic
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}

	// The SDK's own retries would stack on ours.
	options := []option.RequestOption{option.WithMaxRetries(0)}
	switch cfg.Backend {
	case BackendAnthropic:
		key, err := ResolveAnthropicAPIKey(cfg.APIKey)
		if err != nil {
			return nil, err
		}
		options = append(options, option.WithAPIKey(key))
		if cfg.DefaultModel == "" {
			cfg.DefaultModel = DefaultAnthropicModel
		}
	case BackendBedrock:
		var loadOpts []func(*awsconfig.LoadOptions) error
		if cfg.Region != "" {
			loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
		}
		if cfg.AWSAccessKeyID != "" && cfg.AWSSecretAccessKey != "" {
			loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(cfg.AWSAccessKeyID, cfg.AWSSecretAccessKey, cfg.AWSSessionToken),
			))
		}
		options = append(options, bedrock.WithLoadDefaultConfig(ctx, loadOpts...))
		if cfg.DefaultModel == "" {
			cfg.DefaultModel = DefaultBedrockModel
		}
	case BackendVertex:
		if cfg.Region == "" || cfg.ProjectID == "" {
			return nil, errors.New("anthropic: vertex backend requires region and project id")
		}
		options = append(options, vertex.WithGoogleAuth(ctx, cfg.Region, cfg.ProjectID))
		if cfg.DefaultModel == "" {
			cfg.DefaultModel = DefaultVertexModel
		}
	default:
		return nil, fmt.Errorf("anthropic: unknown backend %q", cfg.Backend)
	}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		options = append(options, option.WithBaseURL(cfg.BaseURL))
	}

	return &AnthropicProvider{
		client:       anthropic.NewClient(options...),
		backend:      cfg.Backend,
		defaultModel: cfg.DefaultModel,
		retry:        newRetrier(cfg.MaxRetries, cfg.RetryDelay),
	}, nil
}

// ResolveAnthropicAPIKey returns explicit when set, then ANTHROPIC_API_KEY,
// then the contents of ~/.anthropic/api_key.
func ResolveAnthropicAPIKey(explicit string) (string, error) {
	if key := strings.TrimSpace(explicit); key != "" {
		return key, nil
	}
	if key := strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY")); key != "" {
		return key, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", ErrNoAPIKey
	}
	return readAPIKeyFile(filepath.Join(home, ".anthropic", "api_key"))
}

func readAPIKeyFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", ErrNoAPIKey
	}
	key := strings.TrimSpace(string(data))
	if key == "" {
		return "", ErrNoAPIKey
	}
	return key, nil
}

// Name returns the backend name: "anthropic", "bedrock" or "vertex".
func (p *AnthropicProvider) Name() string {
	return p.backend
}

// Sample sends one non-streaming Beta Messages request.
func (p *AnthropicProvider) Sample(ctx context.Context, req *agent.Request) (*agent.Response, error) {
	model := p.getModel(req.Model)
	params, err := p.buildParams(req, model)
	if err != nil {
		return nil, NewProviderError(p.backend, model, err).WithStatus(400)
	}

	var message *anthropic.BetaMessage
	err = p.retry.do(ctx, func() error {
		var callErr error
		message, callErr = p.client.Beta.Messages.New(ctx, params)
		if callErr != nil {
			return p.wrapError(callErr, model)
		}
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	return fromAnthropicMessage(message), nil
}

func (p *AnthropicProvider) buildParams(req *agent.Request, model string) (anthropic.BetaMessageNewParams, error) {
	messages, err := toAnthropicMessages(req.Messages)
	if err != nil {
		return anthropic.BetaMessageNewParams{}, err
	}
	tools, err := toolconv.ToAnthropicBetaTools(req.Tools)
	if err != nil {
		return anthropic.BetaMessageNewParams{}, err
	}

	params := anthropic.BetaMessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(getMaxTokens(req.MaxTokens)),
		Messages:  messages,
		Tools:     tools,
		Betas:     []anthropic.AnthropicBeta{anthropic.AnthropicBetaComputerUse2025_01_24},
	}
	if req.System != "" {
		params.System = []anthropic.BetaTextBlockParam{{Text: req.System}}
	}
	if req.ThinkingBudget > 0 {
		params.Thinking = anthropic.BetaThinkingConfigParamOfEnabled(int64(req.ThinkingBudget))
	}
	return params, nil
}

func (p *AnthropicProvider) getModel(model string) string {
	if model == "" {
		return p.defaultModel
	}
	return model
}

func getMaxTokens(maxTokens int) int {
	if maxTokens <= 0 {
		return 4096
	}
	return maxTokens
}

// toAnthropicMessages converts the conversation to Beta message params.
// Empty text blocks are dropped; the API rejects them.
func toAnthropicMessages(messages []models.Message) ([]anthropic.BetaMessageParam, error) {
	result := make([]anthropic.BetaMessageParam, 0, len(messages))
	for _, msg := range messages {
		var content []anthropic.BetaContentBlockParamUnion
		for _, block := range msg.Content {
			switch block.Type {
			case models.BlockText:
				if block.Text != "" {
					content = append(content, anthropic.NewBetaTextBlock(block.Text))
				}
			case models.BlockThinking:
				content = append(content, anthropic.NewBetaThinkingBlock(block.Signature, block.Text))
			case models.BlockToolUse:
				if block.ToolCall == nil {
					continue
				}
				input := block.ToolCall.Input
				if len(input) == 0 {
					input = json.RawMessage("{}")
				}
				if !json.Valid(input) {
					return nil, fmt.Errorf("invalid tool call input for %s", block.ToolCall.ID)
				}
				content = append(content, anthropic.NewBetaToolUseBlock(block.ToolCall.ID, input, block.ToolCall.Name))
			case models.BlockToolResult:
				if block.ToolResult == nil {
					continue
				}
				toolBlock := toAnthropicToolResult(*block.ToolResult)
				content = append(content, anthropic.BetaContentBlockParamUnion{OfToolResult: &toolBlock})
			}
		}
		if len(content) == 0 {
			continue
		}

		role := anthropic.BetaMessageParamRoleUser
		if msg.Role == models.RoleAssistant {
			role = anthropic.BetaMessageParamRoleAssistant
		}
		result = append(result, anthropic.BetaMessageParam{Role: role, Content: content})
	}
	return result, nil
}

func toAnthropicToolResult(res models.ToolResult) anthropic.BetaToolResultBlockParam {
	toolBlock := anthropic.BetaToolResultBlockParam{ToolUseID: res.ToolCallID}
	if res.IsError() {
		toolBlock.IsError = anthropic.Bool(true)
	}

	var content []anthropic.BetaToolResultBlockParamContentUnion
	if text := res.Text(); text != "" {
		content = append(content, anthropic.BetaToolResultBlockParamContentUnion{
			OfText: &anthropic.BetaTextBlockParam{Text: text},
		})
	}
	if res.HasImage() {
		if mediaType, ok := betaMediaType(res.Image.MediaType); ok {
			content = append(content, anthropic.BetaToolResultBlockParamContentUnion{
				OfImage: &anthropic.BetaImageBlockParam{
					Source: anthropic.BetaImageBlockParamSourceUnion{
						OfBase64: &anthropic.BetaBase64ImageSourceParam{
							Data:      base64.StdEncoding.EncodeToString(res.Image.Data),
							MediaType: mediaType,
						},
					},
				},
			})
		}
	}
	if len(content) > 0 {
		toolBlock.Content = content
	}
	return toolBlock
}

func betaMediaType(mediaType string) (anthropic.BetaBase64ImageSourceMediaType, bool) {
	switch strings.ToLower(strings.TrimSpace(mediaType)) {
	case "", "image/png":
		return anthropic.BetaBase64ImageSourceMediaTypeImagePNG, true
	case "image/jpeg", "image/jpg":
		return anthropic.BetaBase64ImageSourceMediaTypeImageJPEG, true
	case "image/gif":
		return anthropic.BetaBase64ImageSourceMediaTypeImageGIF, true
	case "image/webp":
		return anthropic.BetaBase64ImageSourceMediaTypeImageWebP, true
	default:
		return "", false
	}
}

func fromAnthropicMessage(message *anthropic.BetaMessage) *agent.Response {
	resp := &agent.Response{
		StopReason: string(message.StopReason),
		Usage: agent.Usage{
			InputTokens:  int(message.Usage.InputTokens),
			OutputTokens: int(message.Usage.OutputTokens),
		},
	}
	for _, block := range message.Content {
		switch block.Type {
		case "text":
			resp.Content = append(resp.Content, models.TextBlock(block.Text))
		case "thinking":
			resp.Content = append(resp.Content, models.ContentBlock{
				Type:      models.BlockThinking,
				Text:      block.Thinking,
				Signature: block.Signature,
			})
		case "tool_use":
			input := append(json.RawMessage(nil), block.Input...)
			resp.Content = append(resp.Content, models.ToolUseBlock(models.ToolCall{
				ID:    block.ID,
				Name:  block.Name,
				Input: input,
			}))
		}
	}
	return resp
}

type anthropicErrorPayload struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
	RequestID string `json:"request_id"`
}

func (p *AnthropicProvider) wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	if _, ok := GetProviderError(err); ok {
		return err
	}

	var apiErr *anthropic.Error
	if !errors.As(err, &apiErr) {
		return NewProviderError(p.backend, model, err)
	}

	providerErr := &ProviderError{
		Provider: p.backend,
		Model:    model,
		Cause:    err,
		Reason:   ReasonUnknown,
	}
	providerErr = providerErr.WithStatus(apiErr.StatusCode)

	requestID := apiErr.RequestID
	if raw := apiErr.RawJSON(); raw != "" {
		var payload anthropicErrorPayload
		if json.Unmarshal([]byte(raw), &payload) == nil {
			if payload.Error.Message != "" {
				providerErr = providerErr.WithMessage(payload.Error.Message)
			}
			if payload.Error.Type != "" {
				providerErr = providerErr.WithCode(payload.Error.Type)
			}
			if payload.RequestID != "" {
				requestID = payload.RequestID
			}
		}
	}
	if providerErr.Message == "" {
		providerErr.Message = "anthropic request failed"
	}
	if requestID != "" {
		providerErr = providerErr.WithRequestID(requestID)
	}
	return providerErr
}
