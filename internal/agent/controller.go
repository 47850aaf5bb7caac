package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/haasonsaas/operator/internal/display"
	"github.com/haasonsaas/operator/internal/observability"
	"github.com/haasonsaas/operator/pkg/models"
)

// Task is what one session works on.
type Task struct {
	Name         string
	Prompt       string
	SystemPrompt string
}

// ControllerOptions configures a Controller.
type ControllerOptions struct {
	// Model samples responses. Required.
	Model Model

	// Dispatcher executes tool calls. Nil offers no tools.
	Dispatcher *Dispatcher

	// Gate authorizes calls with pending safety checks. Nil refuses them.
	Gate *SafetyGate

	// Params are the session parameters; zero fields take defaults.
	Params RunParams

	// LogDir, when set, receives one transcript file per session.
	LogDir string

	// Overlay draws the action count onto screenshots.
	Overlay bool

	Logger  *observability.Logger
	Metrics *observability.Metrics
	Tracer  *observability.Tracer

	// Now is the transcript clock. Default: time.Now
	Now func() time.Time
}

// Controller runs the sampling loop: ask the model, authorize and execute
// its tool calls, feed the results back, and stop on completion, budget,
// iteration cap or failure.
//
//	Init ──▶ Running ──▶ Completed
//	            │  ▲
//	            ▼  │      ──▶ BudgetExceeded
//	         dispatch     ──▶ Exhausted
//	                      ──▶ Failed
type Controller struct {
	model      Model
	dispatcher *Dispatcher
	gate       *SafetyGate
	params     RunParams
	logDir     string
	overlay    bool
	logger     *observability.Logger
	metrics    *observability.Metrics
	tracer     *observability.Tracer
	now        func() time.Time
}

// NewController validates opts and returns a controller.
func NewController(opts ControllerOptions) (*Controller, error) {
	if opts.Model == nil {
		return nil, ErrNoModel
	}
	dispatcher := opts.Dispatcher
	if dispatcher == nil {
		dispatcher = NewDispatcher(nil, nil, nil)
	}
	logger := opts.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = observability.NopTracer()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Controller{
		model:      opts.Model,
		dispatcher: dispatcher,
		gate:       opts.Gate,
		params:     sanitizeRunParams(opts.Params),
		logDir:     opts.LogDir,
		overlay:    opts.Overlay,
		logger:     logger,
		metrics:    opts.Metrics,
		tracer:     tracer,
		now:        now,
	}, nil
}

// Run drives one session to a terminal state. The outcome is always
// returned; the error is Outcome.Err().
func (c *Controller) Run(ctx context.Context, task Task) (*Outcome, error) {
	params := c.params
	params.TaskName = task.Name

	var profile display.ScalingProfile
	if tool := c.dispatcher.Computer(); tool != nil {
		profile = tool.Profile()
	}

	var transcript *Transcript
	if c.logDir != "" {
		var err error
		transcript, err = OpenTranscript(c.logDir, task.Name, c.now())
		if err != nil {
			c.logger.Warn(ctx, "transcript disabled", "error", err)
		}
	}

	sess := newSession(params, profile, transcript)
	ctx = observability.AddSessionID(ctx, sess.ID)
	ctx = observability.AddTask(ctx, task.Name)
	ctx, span := c.tracer.TraceSession(ctx, sess.ID, task.Name)
	defer span.End()

	if tool := c.dispatcher.Computer(); tool != nil && c.overlay {
		budget := sess.Budget
		tool.SetOverlay(func() string {
			return fmt.Sprintf("Actions: %d/%d", budget.Count(), budget.Limit())
		})
	}

	sess.log = c.logger.WithFields("provider", c.providerName(), "model", params.Model)
	if traceID := observability.GetTraceID(ctx); traceID != "" {
		sess.log = sess.log.WithFields("trace_id", traceID)
	}

	sess.log.Info(ctx, "session started",
		"max_iterations", params.MaxIterations,
		"max_actions", params.MaxActions,
		"display", profile.String(),
	)

	err := c.loop(ctx, sess, task)

	sess.record(fmt.Sprintf(finalCountEntry, sess.Budget.Count(), sess.Budget.Limit()))
	if closeErr := transcript.Close(); closeErr != nil {
		sess.log.Warn(ctx, "transcript write failed", "error", closeErr)
	}
	c.metrics.RecordSession(string(sess.State))
	c.tracer.SetAttributes(span,
		"outcome", string(sess.State),
		"iterations", sess.Iterations,
		"actions", sess.Budget.Count(),
	)
	if err != nil && !errors.Is(err, ErrBudgetExceeded) {
		c.tracer.RecordError(span, err)
	}
	sess.log.Info(ctx, "session finished",
		"state", string(sess.State),
		"iterations", sess.Iterations,
		"actions", sess.Budget.Count(),
	)

	outcome := sess.outcome(err)
	return outcome, outcome.Err()
}

func (c *Controller) loop(ctx context.Context, sess *Session, task Task) error {
	params := sess.Params
	if strings.TrimSpace(task.Prompt) == "" {
		return c.fail(sess, PhaseInit, ErrEmptyTask)
	}
	if err := ctx.Err(); err != nil {
		return c.fail(sess, PhaseInit, err)
	}
	sess.append(models.Message{Role: models.RoleUser, Content: []models.ContentBlock{models.TextBlock(task.Prompt)}})
	sess.record(fmt.Sprintf(userEntry, task.Prompt))
	sess.State = StateRunning

	for sess.Iterations < params.MaxIterations {
		if err := ctx.Err(); err != nil {
			return c.fail(sess, PhaseSample, err)
		}
		if sess.Budget.Reached() {
			return c.exceeded(sess)
		}
		sess.Iterations++

		resp, err := c.sample(ctx, sess, task)
		if err != nil {
			return c.fail(sess, PhaseSample, err)
		}

		assistant := models.Message{Role: models.RoleAssistant, Content: resp.Content}
		sess.append(assistant)
		for _, entry := range RenderMessage(assistant) {
			sess.record(entry)
		}

		calls := resp.ToolCalls()
		if len(calls) > 0 {
			results, err := c.dispatchAll(ctx, sess, calls)
			if err != nil {
				return c.fail(sess, PhaseDispatch, err)
			}
			if sess.Budget.Reached() {
				results.Content = append(results.Content,
					models.TextBlock(fmt.Sprintf(limitUserMessage, sess.Budget.Limit())))
			}
			sess.append(results)
			for _, entry := range RenderMessage(results) {
				sess.record(entry)
			}
		}

		if Completed(sess.History, params.CompletionPhrases, params.CompletionWindow) {
			sess.State = StateCompleted
			return nil
		}
		if len(calls) == 0 {
			sess.append(models.Message{Role: models.RoleUser, Content: []models.ContentBlock{models.TextBlock(params.ContinuePrompt)}})
		}
	}

	if sess.Budget.Reached() {
		return c.exceeded(sess)
	}
	sess.State = StateExhausted
	sess.log.Warn(ctx, "iteration limit reached", "iterations", sess.Iterations)
	return nil
}

func (c *Controller) exceeded(sess *Session) error {
	sess.record(fmt.Sprintf(limitEntry, sess.Budget.Limit()))
	sess.State = StateBudgetExceeded
	return ErrBudgetExceeded
}

func (c *Controller) fail(sess *Session, phase LoopPhase, err error) error {
	sess.record(fmt.Sprintf(errorEntry, err))
	sess.State = StateFailed
	return &LoopError{Phase: phase, Iteration: sess.Iterations, Cause: err}
}

func (c *Controller) providerName() string {
	if c.params.Provider != "" {
		return c.params.Provider
	}
	return c.model.Name()
}

func (c *Controller) sample(ctx context.Context, sess *Session, task Task) (*Response, error) {
	params := sess.Params
	provider := c.providerName()
	req := &Request{
		Model:          params.Model,
		System:         task.SystemPrompt,
		Messages:       TrimImages(sess.Messages, params.ImageWindow),
		Tools:          c.dispatcher.Declarations(),
		MaxTokens:      params.MaxTokens,
		ThinkingBudget: params.ThinkingBudget,
	}

	ctx, span := c.tracer.TraceModelRequest(ctx, provider, params.Model)
	defer span.End()

	start := time.Now()
	resp, err := c.model.Sample(ctx, req)
	elapsed := time.Since(start).Seconds()
	if err != nil {
		c.metrics.RecordModelRequest(provider, params.Model, "error", elapsed, 0, 0)
		c.tracer.RecordError(span, err)
		sess.log.Error(ctx, "model request failed", "error", err)
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return nil, err
		}
		return nil, &TransportError{Provider: provider, Model: params.Model, Cause: err}
	}
	if resp == nil {
		resp = &Response{}
	}
	c.metrics.RecordModelRequest(provider, params.Model, "success", elapsed, resp.Usage.InputTokens, resp.Usage.OutputTokens)
	sess.log.Debug(ctx, "model response",
		"iteration", sess.Iterations,
		"blocks", len(resp.Content),
		"stop_reason", resp.StopReason,
		"input_tokens", resp.Usage.InputTokens,
		"output_tokens", resp.Usage.OutputTokens,
	)
	return resp, nil
}

// dispatchAll executes calls in order and builds the tool-result message.
// Every call gets a result; once the budget is reached the remaining calls
// are answered without running.
func (c *Controller) dispatchAll(ctx context.Context, sess *Session, calls []models.ToolCall) (models.Message, error) {
	msg := models.Message{Role: models.RoleUser}
	for _, call := range calls {
		if err := ctx.Err(); err != nil {
			return msg, err
		}
		if sess.Budget.Reached() {
			msg.Content = append(msg.Content, models.ToolResultBlock(models.ToolResult{
				ToolCallID: call.ID,
				Error:      fmt.Sprintf(limitResultError, sess.Budget.Limit()),
			}))
			continue
		}

		result, err := c.dispatch(ctx, sess, call)
		if err != nil {
			if !Recoverable(err) {
				return msg, err
			}
			sess.log.Warn(ctx, "tool call failed", "tool", call.Name, "action", call.Action(), "error", err)
			result = models.ToolResult{Error: err.Error()}
		}
		result.ToolCallID = call.ID
		msg.Content = append(msg.Content, models.ToolResultBlock(result))
	}
	return msg, nil
}

func (c *Controller) dispatch(ctx context.Context, sess *Session, call models.ToolCall) (models.ToolResult, error) {
	ctx = observability.AddToolCallID(ctx, call.ID)

	inv, err := c.dispatcher.Decode(call)
	if err != nil {
		c.metrics.RecordToolExecution(call.Name, "invalid", 0)
		return models.ToolResult{}, err
	}

	checks, err := c.dispatcher.Inspect(ctx, inv)
	if err != nil {
		checks = append(checks, models.SafetyCheck{
			ID:      call.ID + "-inspect",
			Code:    "inspection_failed",
			Message: fmt.Sprintf("could not inspect %s: %v", inv.ActionName(), err),
		})
	}
	if err := c.gate.Authorize(ctx, call, checks); err != nil {
		return models.ToolResult{}, err
	}

	if ci, ok := inv.(ComputerInvocation); ok {
		c.metrics.RecordAction(inv.ActionName(), ci.Action.Billable())
		if sess.Budget.Record(inv.ActionName()) {
			sess.log.Info(ctx, "action limit reached", "count", sess.Budget.Count(), "limit", sess.Budget.Limit())
		}
	}

	ctx, span := c.tracer.TraceToolExecution(ctx, string(inv.Tool()), inv.ActionName())
	defer span.End()

	start := time.Now()
	result, err := c.dispatcher.Execute(ctx, inv)
	status := "success"
	switch {
	case err != nil:
		status = "error"
		c.tracer.RecordError(span, err)
	case result.IsError():
		status = "error"
	}
	c.metrics.RecordToolExecution(string(inv.Tool()), status, time.Since(start).Seconds())
	sess.log.Debug(ctx, "tool call executed", "tool", call.Name, "action", inv.ActionName(), "status", status)
	return result, err
}
