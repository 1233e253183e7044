package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestNewLoggerDefaults(t *testing.T) {
	tests := []struct {
		name   string
		config LogConfig
	}{
		{name: "json format", config: LogConfig{Level: "info", Format: "json"}},
		{name: "text format", config: LogConfig{Level: "debug", Format: "text"}},
		{name: "zero config", config: LogConfig{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := NewLogger(tt.config)
			if logger == nil {
				t.Fatal("NewLogger() returned nil")
			}
			if logger.logger == nil {
				t.Error("Logger.logger is nil")
			}
		})
	}
}

func TestLoggerContextFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "info", Format: "json", Output: &buf})

	ctx := AddRequestID(context.Background(), "req-123")
	ctx = AddEmailID(ctx, "email-42")
	ctx = AddUserID(ctx, "user-7")
	ctx = AddStage(ctx, "inbound_email")

	logger.Info(ctx, "received")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("log output is not valid JSON: %v", err)
	}
	for key, want := range map[string]string{
		"request_id": "req-123",
		"email_id":   "email-42",
		"user_id":    "user-7",
		"stage":      "inbound_email",
	} {
		if got, _ := record[key].(string); got != want {
			t.Errorf("record[%q] = %q, want %q", key, got, want)
		}
	}
}

func TestLoggerRedaction(t *testing.T) {
	tests := []struct {
		name string
		msg  string
	}{
		{"api key assignment", `api_key="abcdefghijklmnop1234"`},
		{"anthropic key", "sk-ant-" + strings.Repeat("a", 95)},
		{"openai key", "sk-" + strings.Repeat("b", 48)},
		{"bearer token", "bearer abcdefghijklmnopqrstuvwx"},
		{"jwt", "eyJhbGciOiJIUzI1NiJ9.eyJzdWIiOiIxMjM0In0.abc123"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewLogger(LogConfig{Level: "info", Format: "json", Output: &buf})
			logger.Info(context.Background(), tt.msg)

			out := buf.String()
			if !strings.Contains(out, "[REDACTED]") {
				t.Errorf("expected redaction marker in output, got %q", out)
			}
		})
	}
}

func TestLoggerRedactsErrorArgs(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "info", Format: "json", Output: &buf})

	err := errors.New("auth failed: api_key=abcdefghijklmnop1234")
	logger.Error(context.Background(), "provider call failed", "error", err)

	out := buf.String()
	if strings.Contains(out, "abcdefghijklmnop1234") {
		t.Errorf("secret leaked into log output: %q", out)
	}
	if !strings.Contains(out, "[REDACTED]") {
		t.Errorf("expected redaction marker in output, got %q", out)
	}
}

func TestLoggerRedactsSensitiveMapKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "info", Format: "json", Output: &buf})

	logger.Info(context.Background(), "config loaded", "settings", map[string]any{
		"model":   "claude-sonnet",
		"api_key": "super-secret-value",
	})

	out := buf.String()
	if strings.Contains(out, "super-secret-value") {
		t.Errorf("sensitive map value leaked: %q", out)
	}
	if !strings.Contains(out, "claude-sonnet") {
		t.Errorf("non-sensitive value missing from output: %q", out)
	}
}

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "warn", Format: "json", Output: &buf})

	ctx := context.Background()
	logger.Debug(ctx, "debug message")
	logger.Info(ctx, "info message")
	logger.Warn(ctx, "warn message")

	out := buf.String()
	if strings.Contains(out, "info message") || strings.Contains(out, "debug message") {
		t.Errorf("messages below warn level should be dropped, got %q", out)
	}
	if !strings.Contains(out, "warn message") {
		t.Errorf("warn message missing from output: %q", out)
	}
}

func TestWithFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "info", Format: "json", Output: &buf})

	ragLogger := logger.WithFields("component", "rag")
	ragLogger.Info(context.Background(), "retrieval complete")

	if !strings.Contains(buf.String(), `"component":"rag"`) {
		t.Errorf("expected component field in output, got %q", buf.String())
	}
}

func TestWithContextNoFields(t *testing.T) {
	logger := NewLogger(LogConfig{Level: "info", Format: "json"})
	if got := logger.WithContext(context.Background()); got != logger {
		t.Error("WithContext with empty context should return the same logger")
	}
}

func TestLogLevelFromString(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"debug", "DEBUG"},
		{"info", "INFO"},
		{"warn", "WARN"},
		{"warning", "WARN"},
		{"error", "ERROR"},
		{"bogus", "INFO"},
	}

	for _, tt := range tests {
		if got := LogLevelFromString(tt.in).String(); got != tt.want {
			t.Errorf("LogLevelFromString(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestGetRequestID(t *testing.T) {
	if got := GetRequestID(context.Background()); got != "" {
		t.Errorf("GetRequestID on empty context = %q, want empty", got)
	}
	ctx := AddRequestID(context.Background(), "req-9")
	if got := GetRequestID(ctx); got != "req-9" {
		t.Errorf("GetRequestID = %q, want req-9", got)
	}
}
