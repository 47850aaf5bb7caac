package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"regexp"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haasonsaas/operator/internal/agent"
	"github.com/haasonsaas/operator/internal/agent/providers"
	"github.com/haasonsaas/operator/internal/computer"
	"github.com/haasonsaas/operator/internal/config"
	"github.com/haasonsaas/operator/internal/display"
	"github.com/haasonsaas/operator/internal/observability"
	"github.com/haasonsaas/operator/internal/tasks"
	"github.com/haasonsaas/operator/internal/tools/files"
	"github.com/haasonsaas/operator/internal/tools/shell"
)

// defaultConfigName is picked up from the working directory when present.
const defaultConfigName = "operator.yaml"

// resolveConfigPath picks the configuration file: explicit flag, then
// OPERATOR_CONFIG, then ./operator.yaml if it exists. Empty means built-in
// defaults.
func resolveConfigPath(path string) string {
	if path = strings.TrimSpace(path); path != "" {
		return path
	}
	if env := strings.TrimSpace(os.Getenv("OPERATOR_CONFIG")); env != "" {
		return env
	}
	if _, err := os.Stat(defaultConfigName); err == nil {
		return defaultConfigName
	}
	return ""
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default()
	}
	return config.Load(path)
}

// applyRunFlags lets explicitly set flags win over the configuration file.
func applyRunFlags(cfg *config.Config, opts *runOptions) {
	changed := opts.changed
	if changed == nil {
		changed = func(string) bool { return false }
	}
	if changed("max-actions") {
		cfg.Session.MaxActions = opts.maxActions
		if opts.maxActions == 0 {
			cfg.Session.MaxActions = -1
		}
	}
	if changed("max-iterations") {
		cfg.Session.MaxIterations = opts.maxIterations
	}
	if changed("images") {
		images := opts.images
		cfg.Session.ImageWindow = &images
	}
	if changed("provider") {
		cfg.Provider.Name = opts.provider
	}
	if changed("model") {
		cfg.Provider.Model = opts.model
	}
	if changed("backend") {
		cfg.Computer.Backend = opts.backend
	}
	if changed("log-dir") {
		cfg.Session.LogDir = opts.logDir
	}
	if changed("metrics-addr") {
		cfg.Metrics.Addr = opts.metricsAddr
	}
	if opts.yes {
		cfg.Safety.AutoAcknowledge = true
	}
}

// runTask resolves the task, assembles the session and runs it to a
// terminal state.
func runTask(ctx context.Context, opts *runOptions, in io.Reader, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}
	applyRunFlags(cfg, opts)

	task, err := resolveTask(opts, in, out)
	if err != nil {
		return err
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:          cfg.Logging.Level,
		Format:         cfg.Logging.Format,
		AddSource:      cfg.Logging.AddSource,
		RedactPatterns: cfg.Logging.RedactPatterns,
	})
	tracer, shutdownTracer := observability.NewTracer(observability.TraceConfig{
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: version,
		Environment:    cfg.Tracing.Environment,
		Endpoint:       cfg.Tracing.Endpoint,
		SamplingRate:   cfg.Tracing.SamplingRate,
		Attributes:     cfg.Tracing.Attributes,
		EnableInsecure: cfg.Tracing.Insecure,
	})
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(shutdownCtx); err != nil {
			logger.Warn(shutdownCtx, "tracer shutdown failed", "error", err)
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)
	if cfg.Metrics.Addr != "" {
		stop, err := serveMetrics(cfg.Metrics.Addr, registry, logger)
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = stop(shutdownCtx)
		}()
	}

	computerTool, closeBackend, err := buildComputerTool(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeBackend()

	dispatcher, err := buildDispatcher(cfg, computerTool, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := dispatcher.Close(); err != nil {
			logger.Warn(context.Background(), "shell close failed", "error", err)
		}
	}()

	policy, err := buildSafetyPolicy(cfg.Safety.Rules)
	if err != nil {
		return err
	}
	var ack agent.Acknowledger = agent.NewTerminalAcknowledger()
	if cfg.Safety.AutoAcknowledge {
		ack = agent.StaticAcknowledger{Allow: true}
	}

	model, err := providers.New(ctx, providers.Config{
		Provider:     cfg.Provider.Name,
		APIKey:       cfg.Provider.APIKey,
		BaseURL:      cfg.Provider.BaseURL,
		Region:       cfg.Provider.Region,
		ProjectID:    cfg.Provider.ProjectID,
		DefaultModel: cfg.Provider.Model,
		MaxRetries:   cfg.Provider.MaxRetries,
		RetryDelay:   cfg.Provider.RetryDelay,
		Environment:  providerEnvironment(cfg),
	})
	if err != nil {
		return fmt.Errorf("provider: %w", err)
	}

	controller, err := agent.NewController(agent.ControllerOptions{
		Model:      model,
		Dispatcher: dispatcher,
		Gate:       agent.NewSafetyGate(policy, ack, metrics, logger),
		Params:     runParams(cfg),
		LogDir:     cfg.Session.LogDir,
		Overlay:    opts.overlay,
		Logger:     logger,
		Metrics:    metrics,
		Tracer:     tracer,
	})
	if err != nil {
		return err
	}

	outcome, err := controller.Run(ctx, task)
	printOutcome(out, outcome)
	if errors.Is(err, agent.ErrBudgetExceeded) {
		return nil
	}
	return err
}

// providerEnvironment is the environment declared to the Responses
// computer tool. Empty lets the provider use the host OS.
func providerEnvironment(cfg *config.Config) string {
	if cfg.Computer.Backend == "browser" {
		return "browser"
	}
	return ""
}

func runParams(cfg *config.Config) agent.RunParams {
	maxActions := cfg.Session.MaxActions
	if maxActions < 0 {
		maxActions = 0
	}
	return agent.RunParams{
		Provider:          cfg.Provider.Name,
		Model:             cfg.Provider.Model,
		MaxIterations:     cfg.Session.MaxIterations,
		MaxActions:        maxActions,
		ImageWindow:       cfg.ImageWindow(),
		MaxTokens:         cfg.Provider.MaxTokens,
		ThinkingBudget:    cfg.Provider.ThinkingBudget,
		CompletionPhrases: cfg.Session.CompletionPhrases,
		CompletionWindow:  cfg.Session.CompletionWindow,
		ContinuePrompt:    cfg.Session.ContinuePrompt,
	}
}

// resolveTask loads the catalogue and selects the task. Without a name or
// id the catalogue is listed and the user picks a number.
func resolveTask(opts *runOptions, in io.Reader, out io.Writer) (agent.Task, error) {
	catalog, err := tasks.Load(opts.taskFile)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) || opts.taskName == "" {
			return agent.Task{}, err
		}
		catalog, _ = tasks.Parse(nil)
	}

	id := opts.taskID
	if opts.taskName == "" && id == 0 {
		if catalog.Len() == 0 {
			return agent.Task{}, tasks.ErrEmptyCatalog
		}
		printCatalog(out, catalog, "")
		id, err = readTaskID(in, out)
		if err != nil {
			return agent.Task{}, err
		}
	}

	selected, err := catalog.Select(opts.taskName, id)
	if err != nil {
		return agent.Task{}, err
	}
	if opts.taskName == "" {
		fmt.Fprintf(out, "\nSelected Task [%d]: %s\n", selected.ID, selected.Name)
	}
	return agent.Task{
		Name:         selected.Name,
		Prompt:       selected.Prompt(opts.promptType),
		SystemPrompt: selected.SystemPrompt(),
	}, nil
}

func readTaskID(in io.Reader, out io.Writer) (int, error) {
	fmt.Fprint(out, "\nEnter the number of the task to run: ")
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return 0, fmt.Errorf("read task number: %w", err)
	}
	id, err := strconv.Atoi(strings.TrimSpace(line))
	if err != nil {
		return 0, fmt.Errorf("invalid task number %q", strings.TrimSpace(line))
	}
	return id, nil
}

func printCatalog(out io.Writer, catalog *tasks.Catalog, promptType string) {
	fmt.Fprintln(out, "\nAvailable Tasks:")
	for _, task := range catalog.Tasks() {
		fmt.Fprintf(out, "%d. %s\n", task.ID, task.Name)
		if promptType != "" {
			fmt.Fprintf(out, "   %s\n", task.Prompt(promptType))
		}
	}
}

func printOutcome(out io.Writer, outcome *agent.Outcome) {
	if outcome == nil {
		return
	}
	limit := strconv.Itoa(outcome.Limit)
	if outcome.Limit <= 0 {
		limit = "unlimited"
	}
	fmt.Fprintf(out, "\nSession %s %s after %d iterations (%d/%s actions)\n",
		outcome.SessionID, outcome.State, outcome.Iterations, outcome.Actions, limit)
	if outcome.Transcript != "" {
		fmt.Fprintf(out, "Transcript: %s\n", outcome.Transcript)
	}
}

// buildComputerTool detects the display and starts the configured backend.
// The returned func releases the backend.
func buildComputerTool(ctx context.Context, cfg *config.Config, logger *observability.Logger) (*computer.Tool, func(), error) {
	overrides := display.Overrides{
		Width:       cfg.Display.Width,
		Height:      cfg.Display.Height,
		Number:      cfg.Display.Number,
		HighDensity: cfg.Display.HighDensity,
	}

	var (
		backend computer.Backend
		profile display.ScalingProfile
		number  = cfg.Display.Number
	)
	switch cfg.Computer.Backend {
	case "browser":
		browser, err := computer.NewBrowser(ctx, computer.BrowserOptions{
			DebugURL:       cfg.Computer.Browser.DebugURL,
			StartURL:       cfg.Computer.Browser.StartURL,
			Width:          cfg.Computer.Browser.Width,
			Height:         cfg.Computer.Browser.Height,
			Headless:       cfg.Computer.Browser.Headless,
			BlockedDomains: cfg.Computer.Browser.BlockedDomains,
		})
		if err != nil {
			return nil, nil, err
		}
		width, height := browser.Size()
		highDensity := cfg.Display.HighDensity != nil && *cfg.Display.HighDensity
		profile = display.NewScalingProfile(width, height, highDensity)
		backend = browser
	case "desktop", "":
		info, err := display.Detect(ctx, overrides)
		if err != nil {
			return nil, nil, fmt.Errorf("detect display: %w (set WIDTH and HEIGHT to skip detection)", err)
		}
		desktop, err := computer.NewDesktop(computer.DesktopOptions{
			DisplayNumber: info.Number,
			TypingDelay:   cfg.Computer.TypingDelay,
		})
		if err != nil {
			return nil, nil, err
		}
		profile = info.Profile(overrides)
		number = info.Number
		backend = desktop
	default:
		return nil, nil, fmt.Errorf("unknown computer backend %q", cfg.Computer.Backend)
	}

	closeBackend := func() {
		if closer, ok := backend.(computer.Closer); ok {
			if err := closer.Close(); err != nil {
				logger.Warn(context.Background(), "backend close failed", "error", err)
			}
		}
	}

	logger.Info(ctx, "computer backend ready", "backend", backend.Name(), "display", profile.String())
	tool := computer.NewTool(backend, computer.Options{
		Profile:       profile,
		DisplayNumber: number,
		SettleDelay:   cfg.Computer.SettleDelay,
		Limits:        computer.Limits{MaxDuration: cfg.Computer.MaxDuration},
		Logger:        logger.Slog(),
	})
	return tool, closeBackend, nil
}

func buildDispatcher(cfg *config.Config, computerTool *computer.Tool, logger *observability.Logger) (*agent.Dispatcher, error) {
	var shellTool *shell.Tool
	if cfg.ShellEnabled() {
		shellTool = shell.NewTool(&shell.Runner{
			Dir:         cfg.Shell.WorkDir,
			Env:         cfg.Shell.Env,
			Timeout:     cfg.Shell.Timeout,
			GracePeriod: cfg.Shell.GracePeriod,
			MaxOutput:   cfg.Shell.MaxOutput,
		}, logger.Slog())
	}

	var editor *files.Editor
	if cfg.EditorEnabled() {
		root := cfg.Editor.Root
		if root == "" {
			wd, err := os.Getwd()
			if err != nil {
				return nil, fmt.Errorf("editor root: %w", err)
			}
			root = wd
		}
		editor = files.NewEditor(root, logger.Slog())
	}
	return agent.NewDispatcher(computerTool, shellTool, editor), nil
}

func buildSafetyPolicy(rules []config.SafetyRule) (*agent.SafetyPolicy, error) {
	policy := &agent.SafetyPolicy{}
	for i, rule := range rules {
		compiled := agent.SafetyRule{
			Tool:    rule.Tool,
			Actions: rule.Actions,
			Code:    rule.Code,
			Message: rule.Message,
		}
		if rule.Pattern != "" {
			re, err := regexp.Compile(rule.Pattern)
			if err != nil {
				return nil, fmt.Errorf("safety rule %d: %w", i, err)
			}
			compiled.Pattern = re
		}
		policy.Rules = append(policy.Rules, compiled)
	}
	return policy, nil
}

// serveMetrics exposes /metrics for the session's registry. The returned
// func stops the server.
func serveMetrics(addr string, registry *prometheus.Registry, logger *observability.Logger) (func(context.Context) error, error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listen: %w", err)
	}
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(context.Background(), "metrics server failed", "error", err)
		}
	}()
	logger.Info(context.Background(), "serving metrics", "addr", listener.Addr().String())
	return server.Shutdown, nil
}

func listTasks(out io.Writer, taskFile, promptType string) error {
	catalog, err := tasks.Load(taskFile)
	if err != nil {
		return err
	}
	if catalog.Len() == 0 {
		fmt.Fprintln(out, "No tasks.")
		return nil
	}
	printCatalog(out, catalog, promptType)
	return nil
}

type displayReport struct {
	Backend string             `json:"backend"`
	Display display.Info       `json:"display"`
	Screen  display.Resolution `json:"screen"`
	Target  display.Resolution `json:"target"`
	Scaling bool               `json:"scaling"`
}

func showDisplay(ctx context.Context, out io.Writer, configPath string, asJSON bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	overrides := display.Overrides{
		Width:       cfg.Display.Width,
		Height:      cfg.Display.Height,
		Number:      cfg.Display.Number,
		HighDensity: cfg.Display.HighDensity,
	}

	var info display.Info
	if cfg.Computer.Backend == "browser" {
		width, height := cfg.Computer.Browser.Width, cfg.Computer.Browser.Height
		if width <= 0 || height <= 0 {
			width, height = 1280, 800
		}
		info = display.Info{Width: width, Height: height, Number: cfg.Display.Number, Source: "browser"}
	} else {
		info, err = display.Detect(ctx, overrides)
		if err != nil {
			return err
		}
	}

	profile := info.Profile(overrides)
	report := displayReport{
		Backend: cfg.Computer.Backend,
		Display: info,
		Screen:  profile.Screen(),
		Target:  profile.Target(),
		Scaling: profile.Active(),
	}
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	fmt.Fprintf(out, "Backend: %s\n", report.Backend)
	fmt.Fprintf(out, "Display: :%d (%s)\n", info.Number, info.Source)
	fmt.Fprintf(out, "Profile: %s\n", profile.String())
	return nil
}

func printSchema(out io.Writer) error {
	schema, err := config.JSONSchema()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, string(schema))
	return err
}

func validateConfig(out io.Writer, path string) error {
	cfg, err := loadConfig(path)
	if err != nil {
		return err
	}
	source := path
	if source == "" {
		source = "built-in defaults"
	}
	fmt.Fprintf(out, "Configuration OK (%s): provider=%s backend=%s max_actions=%d\n",
		source, cfg.Provider.Name, cfg.Computer.Backend, cfg.Session.MaxActions)
	return nil
}
