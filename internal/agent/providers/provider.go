// Package providers implements agent.Model for Anthropic (direct, Bedrock
// and Vertex), OpenAI chat completions, the OpenAI Responses computer-use
// tool and Gemini.
package providers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/haasonsaas/operator/internal/agent"
)

// Config selects and configures one provider.
type Config struct {
	// Provider is "anthropic", "bedrock", "vertex", "openai",
	// "openai-operator" or "gemini".
	Provider     string
	APIKey       string
	BaseURL      string
	Region       string
	ProjectID    string
	DefaultModel string
	MaxRetries   int
	RetryDelay   time.Duration
	// Environment is declared to the computer_use_preview tool.
	Environment  string
}

// New builds the configured provider.
func New(ctx context.Context, cfg Config) (agent.Model, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", BackendAnthropic, BackendBedrock, BackendVertex:
		return NewAnthropicProvider(ctx, AnthropicConfig{
			Backend:      strings.ToLower(strings.TrimSpace(cfg.Provider)),
			APIKey:       cfg.APIKey,
			BaseURL:      cfg.BaseURL,
			Region:       cfg.Region,
			ProjectID:    cfg.ProjectID,
			DefaultModel: cfg.DefaultModel,
			MaxRetries:   cfg.MaxRetries,
			RetryDelay:   cfg.RetryDelay,
		})
	case "openai":
		return NewOpenAIProvider(OpenAIConfig{
			APIKey:       cfg.APIKey,
			BaseURL:      cfg.BaseURL,
			DefaultModel: cfg.DefaultModel,
			MaxRetries:   cfg.MaxRetries,
			RetryDelay:   cfg.RetryDelay,
		})
	case ProviderOperator:
		return NewOperatorProvider(OperatorConfig{
			APIKey:       cfg.APIKey,
			BaseURL:      cfg.BaseURL,
			DefaultModel: cfg.DefaultModel,
			Environment:  cfg.Environment,
			MaxRetries:   cfg.MaxRetries,
			RetryDelay:   cfg.RetryDelay,
		})
	case "gemini", "google":
		return NewGeminiProvider(ctx, GeminiConfig{
			APIKey:       cfg.APIKey,
			DefaultModel: cfg.DefaultModel,
			MaxRetries:   cfg.MaxRetries,
			RetryDelay:   cfg.RetryDelay,
		})
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}
