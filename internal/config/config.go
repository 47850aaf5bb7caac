// Package config loads operator configuration from YAML or JSON5 files with
// $include merging, environment expansion and environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Config is the main configuration structure for operator.
type Config struct {
	Version  int            `yaml:"version"`
	Display  DisplayConfig  `yaml:"display"`
	Computer ComputerConfig `yaml:"computer"`
	Shell    ShellConfig    `yaml:"shell"`
	Editor   EditorConfig   `yaml:"editor"`
	Provider ProviderConfig `yaml:"provider"`
	Session  SessionConfig  `yaml:"session"`
	Safety   SafetyConfig   `yaml:"safety"`
	Logging  LoggingConfig  `yaml:"logging"`
	Tracing  TracingConfig  `yaml:"tracing"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// DisplayConfig pins the real screen. Zero width/height means detect.
type DisplayConfig struct {
	Width       int   `yaml:"width" jsonschema:"minimum=0"`
	Height      int   `yaml:"height" jsonschema:"minimum=0"`
	Number      int   `yaml:"number" jsonschema:"minimum=0"`
	HighDensity *bool `yaml:"high_density"`
}

// ComputerConfig selects and tunes the computer backend.
type ComputerConfig struct {
	Backend     string        `yaml:"backend" jsonschema:"enum=desktop,enum=browser"`
	SettleDelay time.Duration `yaml:"settle_delay"`
	TypingDelay time.Duration `yaml:"typing_delay"`
	MaxDuration time.Duration `yaml:"max_duration"`
	Browser     BrowserConfig `yaml:"browser"`
}

// BrowserConfig configures the chromedp backend.
type BrowserConfig struct {
	DebugURL       string   `yaml:"debug_url"`
	StartURL       string   `yaml:"start_url"`
	Width          int      `yaml:"width"`
	Height         int      `yaml:"height"`
	Headless       bool     `yaml:"headless"`
	BlockedDomains []string `yaml:"blocked_domains"`
}

type ShellConfig struct {
	Enabled     *bool             `yaml:"enabled"`
	WorkDir     string            `yaml:"workdir"`
	Timeout     time.Duration     `yaml:"timeout"`
	GracePeriod time.Duration     `yaml:"grace_period"`
	MaxOutput   int               `yaml:"max_output"`
	Env         map[string]string `yaml:"env"`
}

type EditorConfig struct {
	Enabled *bool  `yaml:"enabled"`
	Root    string `yaml:"root"`
}

// ProviderConfig selects the model provider.
type ProviderConfig struct {
	Name           string        `yaml:"name" jsonschema:"enum=anthropic,enum=bedrock,enum=vertex,enum=openai,enum=openai-operator,enum=gemini"`
	Model          string        `yaml:"model"`
	APIKey         string        `yaml:"api_key"`
	BaseURL        string        `yaml:"base_url"`
	Region         string        `yaml:"region"`
	ProjectID      string        `yaml:"project_id"`
	MaxRetries     int           `yaml:"max_retries"`
	RetryDelay     time.Duration `yaml:"retry_delay"`
	MaxTokens      int           `yaml:"max_tokens"`
	ThinkingBudget int           `yaml:"thinking_budget"`
}

// SessionConfig bounds one sampling loop.
type SessionConfig struct {
	MaxIterations int `yaml:"max_iterations"`
	// MaxActions caps billable computer actions; negative means unlimited.
	MaxActions int `yaml:"max_actions"`
	// ImageWindow is the number of recent screenshots kept; zero sends none
	// and negative keeps all. Unset means 3.
	ImageWindow       *int     `yaml:"image_window"`
	ContinuePrompt    string   `yaml:"continue_prompt"`
	CompletionPhrases []string `yaml:"completion_phrases"`
	CompletionWindow  int      `yaml:"completion_window"`
	LogDir            string   `yaml:"log_dir"`
}

// SafetyConfig configures the acknowledgment gate.
type SafetyConfig struct {
	AutoAcknowledge bool         `yaml:"auto_acknowledge"`
	Rules           []SafetyRule `yaml:"rules"`
}

// SafetyRule requires acknowledgment for matching tool calls.
type SafetyRule struct {
	Tool    string   `yaml:"tool"`
	Actions []string `yaml:"actions"`
	// Pattern is matched against the raw tool input.
	Pattern string `yaml:"pattern"`
	Code    string `yaml:"code"`
	Message string `yaml:"message"`
}

type LoggingConfig struct {
	Level          string   `yaml:"level" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`
	Format         string   `yaml:"format" jsonschema:"enum=json,enum=text"`
	AddSource      bool     `yaml:"add_source"`
	RedactPatterns []string `yaml:"redact_patterns"`
}

// TracingConfig controls OpenTelemetry tracing. An empty endpoint disables
// export.
type TracingConfig struct {
	Endpoint     string            `yaml:"endpoint"`
	ServiceName  string            `yaml:"service_name"`
	Environment  string            `yaml:"environment"`
	SamplingRate float64           `yaml:"sampling_rate"`
	Insecure     bool              `yaml:"insecure"`
	Attributes   map[string]string `yaml:"attributes"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// Environment variables that override file values.
const (
	EnvWidth      = "WIDTH"
	EnvHeight     = "HEIGHT"
	EnvDisplayNum = "DISPLAY_NUM"
	EnvMaxActions = "MAX_ACTIONS"
	EnvProvider   = "OPERATOR_PROVIDER"
	EnvModel      = "OPERATOR_MODEL"
)

// Load reads, merges and validates the configuration file at path.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}
	return finish(cfg)
}

// Default returns the built-in configuration with environment overrides.
func Default() (*Config, error) {
	return finish(&Config{})
}

func finish(cfg *Config) (*Config, error) {
	if err := applyEnvOverrides(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config, lookup func(string) (string, bool)) error {
	var issues []error
	intVar := func(name string, dst *int) {
		value, ok := lookup(name)
		if !ok || strings.TrimSpace(value) == "" {
			return
		}
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			issues = append(issues, fmt.Errorf("%s: %q is not an integer", name, value))
			return
		}
		*dst = n
	}
	intVar(EnvWidth, &cfg.Display.Width)
	intVar(EnvHeight, &cfg.Display.Height)
	intVar(EnvDisplayNum, &cfg.Display.Number)
	intVar(EnvMaxActions, &cfg.Session.MaxActions)
	if value, ok := lookup(EnvProvider); ok && strings.TrimSpace(value) != "" {
		cfg.Provider.Name = strings.TrimSpace(value)
	}
	if value, ok := lookup(EnvModel); ok && strings.TrimSpace(value) != "" {
		cfg.Provider.Model = strings.TrimSpace(value)
	}
	if len(issues) > 0 {
		return fmt.Errorf("invalid environment: %w", errors.Join(issues...))
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Version == 0 {
		cfg.Version = CurrentVersion
	}
	if cfg.Computer.Backend == "" {
		cfg.Computer.Backend = "desktop"
	}
	if cfg.Computer.SettleDelay == 0 {
		cfg.Computer.SettleDelay = 500 * time.Millisecond
	}
	if cfg.Shell.Timeout == 0 {
		cfg.Shell.Timeout = 120 * time.Second
	}
	if cfg.Shell.GracePeriod == 0 {
		cfg.Shell.GracePeriod = 3 * time.Second
	}
	if cfg.Shell.MaxOutput == 0 {
		cfg.Shell.MaxOutput = 16000
	}
	if cfg.Provider.Name == "" {
		cfg.Provider.Name = "anthropic"
	}
	if cfg.Provider.MaxTokens == 0 {
		cfg.Provider.MaxTokens = 4096
	}
	if cfg.Session.MaxIterations == 0 {
		cfg.Session.MaxIterations = 10
	}
	if cfg.Session.MaxActions == 0 {
		cfg.Session.MaxActions = 100
	}
	if cfg.Session.LogDir == "" {
		cfg.Session.LogDir = "log"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = "operator"
	}
}

var (
	validProviders = map[string]bool{"anthropic": true, "bedrock": true, "vertex": true, "openai": true, "openai-operator": true, "gemini": true}
	validBackends  = map[string]bool{"desktop": true, "browser": true}
	validLevels    = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	validFormats   = map[string]bool{"json": true, "text": true}
)

// validate reports every problem at once.
func validate(cfg *Config) error {
	var issues []error
	add := func(format string, args ...any) {
		issues = append(issues, fmt.Errorf(format, args...))
	}

	if err := ValidateVersion(cfg.Version); err != nil {
		issues = append(issues, err)
	}
	if cfg.Display.Width < 0 || cfg.Display.Height < 0 || cfg.Display.Number < 0 {
		add("display: width, height and number must not be negative")
	}
	if (cfg.Display.Width > 0) != (cfg.Display.Height > 0) {
		add("display: width and height must be set together")
	}
	if !validBackends[cfg.Computer.Backend] {
		add("computer.backend: unknown backend %q", cfg.Computer.Backend)
	}
	if cfg.Computer.SettleDelay < 0 || cfg.Computer.TypingDelay < 0 || cfg.Computer.MaxDuration < 0 {
		add("computer: delays must not be negative")
	}
	if cfg.Shell.Timeout < 0 || cfg.Shell.GracePeriod < 0 {
		add("shell: timeout and grace_period must not be negative")
	}
	if cfg.Shell.MaxOutput < 0 {
		add("shell.max_output must not be negative")
	}
	if !validProviders[cfg.Provider.Name] {
		add("provider.name: unknown provider %q", cfg.Provider.Name)
	}
	if cfg.Provider.Name == "vertex" && (cfg.Provider.Region == "" || cfg.Provider.ProjectID == "") {
		add("provider: vertex requires region and project_id")
	}
	if cfg.Provider.MaxTokens < 0 {
		add("provider.max_tokens must not be negative")
	}
	if cfg.Provider.ThinkingBudget < 0 {
		add("provider.thinking_budget must not be negative")
	}
	if cfg.Provider.ThinkingBudget > 0 && cfg.Provider.ThinkingBudget >= cfg.Provider.MaxTokens {
		add("provider.thinking_budget (%d) must be less than max_tokens (%d)", cfg.Provider.ThinkingBudget, cfg.Provider.MaxTokens)
	}
	if cfg.Session.MaxIterations < 0 {
		add("session.max_iterations must not be negative")
	}
	if cfg.Session.CompletionWindow < 0 {
		add("session.completion_window must not be negative")
	}
	for i, rule := range cfg.Safety.Rules {
		if strings.TrimSpace(rule.Tool) == "" && len(rule.Actions) == 0 && rule.Pattern == "" {
			add("safety.rules[%d]: rule matches every call; set tool, actions or pattern", i)
		}
		if rule.Pattern != "" {
			if _, err := regexp.Compile(rule.Pattern); err != nil {
				add("safety.rules[%d].pattern: %v", i, err)
			}
		}
	}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		add("logging.level: unknown level %q", cfg.Logging.Level)
	}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		add("logging.format: unknown format %q", cfg.Logging.Format)
	}
	for i, pattern := range cfg.Logging.RedactPatterns {
		if _, err := regexp.Compile(pattern); err != nil {
			add("logging.redact_patterns[%d]: %v", i, err)
		}
	}
	if cfg.Tracing.SamplingRate < 0 || cfg.Tracing.SamplingRate > 1 {
		add("tracing.sampling_rate must be between 0 and 1")
	}

	if len(issues) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(issues...))
	}
	return nil
}

// ShellEnabled reports whether the shell tool is offered. Default true.
func (c *Config) ShellEnabled() bool {
	return c.Shell.Enabled == nil || *c.Shell.Enabled
}

// DefaultImageWindow is used when session.image_window is unset.
const DefaultImageWindow = 3

// ImageWindow returns how many recent screenshots are sent to the model.
func (c *Config) ImageWindow() int {
	if c.Session.ImageWindow == nil {
		return DefaultImageWindow
	}
	return *c.Session.ImageWindow
}

// EditorEnabled reports whether the file edit tool is offered. Default true.
func (c *Config) EditorEnabled() bool {
	return c.Editor.Enabled == nil || *c.Editor.Enabled
}
