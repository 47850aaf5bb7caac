package observability

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects Prometheus metrics for agent sessions.
//
// Usage:
//
//	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
//	metrics.RecordAction("left_click", true)
//	metrics.RecordModelRequest("anthropic", "claude-sonnet-4-5", "success", elapsed.Seconds(), 1200, 80)
type Metrics struct {
	// ActionCounter counts computer actions.
	// Labels: action, billable (true|false)
	ActionCounter *prometheus.CounterVec

	// ToolExecutionCounter counts tool invocations.
	// Labels: tool, status (success|error|timeout|fatal)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool
	ToolExecutionDuration *prometheus.HistogramVec

	// ModelRequestCounter counts model requests.
	// Labels: provider, model, status (success|error)
	ModelRequestCounter *prometheus.CounterVec

	// ModelRequestDuration measures model latency in seconds.
	// Labels: provider, model
	ModelRequestDuration *prometheus.HistogramVec

	// ModelTokens tracks token consumption.
	// Labels: provider, model, type (input|output)
	ModelTokens *prometheus.CounterVec

	// SessionCounter counts finished sessions.
	// Labels: outcome (completed|budget_exceeded|exhausted|failed)
	SessionCounter *prometheus.CounterVec

	// SafetyChecks counts safety check decisions.
	// Labels: decision (acknowledged|refused)
	SafetyChecks *prometheus.CounterVec
}

// NewMetrics creates the metrics and registers them on reg. A nil reg uses
// the default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		ActionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "operator_actions_total",
				Help: "Total number of computer actions by action and whether they count against the budget",
			},
			[]string{"action", "billable"},
		),

		ToolExecutionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "operator_tool_executions_total",
				Help: "Total number of tool executions by tool and status",
			},
			[]string{"tool", "status"},
		),

		ToolExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "operator_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 120},
			},
			[]string{"tool"},
		),

		ModelRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "operator_model_requests_total",
				Help: "Total number of model requests by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),

		ModelRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "operator_model_request_duration_seconds",
				Help:    "Duration of model requests in seconds",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"provider", "model"},
		),

		ModelTokens: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "operator_model_tokens_total",
				Help: "Total number of tokens used by provider, model, and type",
			},
			[]string{"provider", "model", "type"},
		),

		SessionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "operator_sessions_total",
				Help: "Total number of finished sessions by outcome",
			},
			[]string{"outcome"},
		),

		SafetyChecks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "operator_safety_checks_total",
				Help: "Total number of safety checks by decision",
			},
			[]string{"decision"},
		),
	}
}

// RecordAction counts one computer action.
func (m *Metrics) RecordAction(action string, billable bool) {
	if m == nil {
		return
	}
	m.ActionCounter.WithLabelValues(action, strconv.FormatBool(billable)).Inc()
}

// RecordToolExecution records one tool call.
func (m *Metrics) RecordToolExecution(tool, status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.ToolExecutionCounter.WithLabelValues(tool, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(tool).Observe(durationSeconds)
}

// RecordModelRequest records one model call and its token usage.
func (m *Metrics) RecordModelRequest(provider, model, status string, durationSeconds float64, inputTokens, outputTokens int) {
	if m == nil {
		return
	}
	m.ModelRequestCounter.WithLabelValues(provider, model, status).Inc()
	m.ModelRequestDuration.WithLabelValues(provider, model).Observe(durationSeconds)
	if inputTokens > 0 {
		m.ModelTokens.WithLabelValues(provider, model, "input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		m.ModelTokens.WithLabelValues(provider, model, "output").Add(float64(outputTokens))
	}
}

// RecordSession counts a finished session.
func (m *Metrics) RecordSession(outcome string) {
	if m == nil {
		return
	}
	m.SessionCounter.WithLabelValues(outcome).Inc()
}

// RecordSafetyCheck counts an acknowledged or refused check.
func (m *Metrics) RecordSafetyCheck(acknowledged bool) {
	if m == nil {
		return
	}
	decision := "refused"
	if acknowledged {
		decision = "acknowledged"
	}
	m.SafetyChecks.WithLabelValues(decision).Inc()
}
