// Package observability provides structured logging, Prometheus metrics and
// OpenTelemetry tracing for agent sessions.
//
// # Logging
//
// Logger wraps log/slog. Every record passes through a handler that redacts
// secrets (API keys, bearer tokens, passwords) and adds the session_id, task
// and tool_call_id fields carried by the context:
//
//	logger := observability.NewLogger(observability.LogConfig{Level: "debug", Format: "json"})
//	ctx = observability.AddSessionID(ctx, session.ID)
//	logger.Info(ctx, "session started")
//
// Packages that accept a *slog.Logger receive logger.Slog().
//
// # Metrics
//
// Metrics registers its collectors on an injected prometheus.Registerer so
// tests can use a private registry:
//
//	metrics := observability.NewMetrics(prometheus.NewRegistry())
//	metrics.RecordAction("left_click", true)
//
// # Tracing
//
// NewTracer exports spans over OTLP gRPC when an endpoint is configured and
// is a no-op otherwise. Sessions, model requests and tool executions each get
// a span (session, model.<provider>, tool.<name>).
package observability
