package observability

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordAction(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)

	metrics.RecordAction("left_click", true)
	metrics.RecordAction("left_click", true)
	metrics.RecordAction("screenshot", false)

	expected := `
		# HELP operator_actions_total Total number of computer actions by action and whether they count against the budget
		# TYPE operator_actions_total counter
		operator_actions_total{action="left_click",billable="true"} 2
		operator_actions_total{action="screenshot",billable="false"} 1
	`
	if err := testutil.CollectAndCompare(metrics.ActionCounter, strings.NewReader(expected)); err != nil {
		t.Errorf("Unexpected metric value: %v", err)
	}
}

func TestRecordModelRequest(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)

	metrics.RecordModelRequest("anthropic", "claude", "success", 1.5, 100, 20)
	metrics.RecordModelRequest("anthropic", "claude", "error", 0.2, 0, 0)

	if got := testutil.ToFloat64(metrics.ModelRequestCounter.WithLabelValues("anthropic", "claude", "success")); got != 1 {
		t.Errorf("success count = %v", got)
	}
	if got := testutil.ToFloat64(metrics.ModelTokens.WithLabelValues("anthropic", "claude", "input")); got != 100 {
		t.Errorf("input tokens = %v", got)
	}
	if got := testutil.ToFloat64(metrics.ModelTokens.WithLabelValues("anthropic", "claude", "output")); got != 20 {
		t.Errorf("output tokens = %v", got)
	}
	if count := testutil.CollectAndCount(metrics.ModelRequestDuration); count != 1 {
		t.Errorf("duration series = %d, want 1", count)
	}
}

func TestRecordToolSessionAndSafety(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)

	metrics.RecordToolExecution("bash", "timeout", 120)
	metrics.RecordSession("completed")
	metrics.RecordSafetyCheck(true)
	metrics.RecordSafetyCheck(false)
	metrics.RecordSafetyCheck(false)

	if got := testutil.ToFloat64(metrics.ToolExecutionCounter.WithLabelValues("bash", "timeout")); got != 1 {
		t.Errorf("tool count = %v", got)
	}
	if got := testutil.ToFloat64(metrics.SessionCounter.WithLabelValues("completed")); got != 1 {
		t.Errorf("session count = %v", got)
	}
	if got := testutil.ToFloat64(metrics.SafetyChecks.WithLabelValues("refused")); got != 2 {
		t.Errorf("refused = %v", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var metrics *Metrics
	metrics.RecordAction("key", true)
	metrics.RecordToolExecution("computer", "success", 0.1)
	metrics.RecordModelRequest("openai", "gpt", "success", 1, 1, 1)
	metrics.RecordSession("failed")
	metrics.RecordSafetyCheck(true)
}

func TestMetricsRegisterOnce(t *testing.T) {
	registry := prometheus.NewRegistry()
	NewMetrics(registry)
	defer func() {
		if recover() == nil {
			t.Fatal("expected duplicate registration to panic")
		}
	}()
	NewMetrics(registry)
}
