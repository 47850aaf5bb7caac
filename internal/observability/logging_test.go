package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name   string
		config LogConfig
	}{
		{name: "json format", config: LogConfig{Level: "info", Format: "json"}},
		{name: "text format", config: LogConfig{Level: "debug", Format: "text"}},
		{name: "defaults", config: LogConfig{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := NewLogger(tt.config)
			if logger == nil || logger.Slog() == nil {
				t.Fatal("NewLogger() returned an unusable logger")
			}
		})
	}
}

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "warn", Format: "json", Output: &buf})

	ctx := context.Background()
	logger.Debug(ctx, "debug message")
	logger.Info(ctx, "info message")
	logger.Warn(ctx, "warn message")

	output := buf.String()
	if strings.Contains(output, "info message") || strings.Contains(output, "debug message") {
		t.Fatalf("records below warn were written: %s", output)
	}
	if !strings.Contains(output, "warn message") {
		t.Fatalf("warn record missing: %s", output)
	}
}

func TestLoggerJSONFormatWithContext(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "info", Format: "json", Output: &buf})

	ctx := AddTask(AddSessionID(context.Background(), "sess-1"), "paint")
	logger.Info(ctx, "test message", "key", "value", "number", 42)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Failed to parse JSON log output: %v", err)
	}
	if entry["msg"] != "test message" || entry["key"] != "value" {
		t.Fatalf("entry = %v", entry)
	}
	if entry["session_id"] != "sess-1" || entry["task"] != "paint" {
		t.Fatalf("context fields missing: %v", entry)
	}
}

func TestLoggerRedaction(t *testing.T) {
	tests := []struct {
		name   string
		log    func(l *Logger)
		secret string
	}{
		{
			name:   "message",
			log:    func(l *Logger) { l.Info(context.Background(), "using api_key=abcdefghijklmnop1234") },
			secret: "abcdefghijklmnop1234",
		},
		{
			name:   "sensitive key",
			log:    func(l *Logger) { l.Info(context.Background(), "auth", "password", "hunter2hunter2") },
			secret: "hunter2hunter2",
		},
		{
			name: "error value",
			log: func(l *Logger) {
				l.Error(context.Background(), "failed", "error", errors.New("bad key sk-ant-"+strings.Repeat("x", 40)))
			},
			secret: strings.Repeat("x", 40),
		},
		{
			name:   "slog logger",
			log:    func(l *Logger) { l.Slog().Info("key", "header", "Bearer abcdefghijklmnopqrstuvwxyz") },
			secret: "abcdefghijklmnopqrstuvwxyz",
		},
		{
			name: "with fields",
			log: func(l *Logger) {
				l.WithFields("token", "abc").Info(context.Background(), "scoped")
			},
			secret: "abc\"",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewLogger(LogConfig{Format: "json", Output: &buf})
			tt.log(logger)
			if strings.Contains(buf.String(), tt.secret) {
				t.Fatalf("secret leaked: %s", buf.String())
			}
			if !strings.Contains(buf.String(), "[REDACTED]") {
				t.Fatalf("no redaction marker: %s", buf.String())
			}
		})
	}
}

func TestLogLevelFromString(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"bogus", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := LogLevelFromString(tt.in); got != tt.want {
			t.Errorf("LogLevelFromString(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestGetSessionID(t *testing.T) {
	if got := GetSessionID(context.Background()); got != "" {
		t.Fatalf("GetSessionID() = %q", got)
	}
	if got := GetSessionID(AddSessionID(context.Background(), "abc")); got != "abc" {
		t.Fatalf("GetSessionID() = %q", got)
	}
}
