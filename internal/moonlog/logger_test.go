package moonlog

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestRedactsSecrets(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Format: "json", Output: &buf})

	logger.Info(context.Background(), "issued token", "token", "Bearer abcdefgh12345678ijklmnop")

	out := buf.String()
	if strings.Contains(out, "abcdefgh12345678ijklmnop") {
		t.Errorf("expected token to be redacted, got: %s", out)
	}
	if !strings.Contains(out, "[REDACTED]") {
		t.Errorf("expected redaction marker, got: %s", out)
	}
}

func TestCorrelationFieldsFromContext(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Format: "json", Output: &buf})

	ctx := WithTaskID(context.Background(), "task-1")
	ctx = WithChannelSessionKey(ctx, "cli:main:alice")

	logger.Info(ctx, "task started")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("invalid JSON log line: %v", err)
	}
	if record["task_id"] != "task-1" {
		t.Errorf("task_id = %v, want task-1", record["task_id"])
	}
	if record["channel_session_key"] != "cli:main:alice" {
		t.Errorf("channel_session_key = %v, want cli:main:alice", record["channel_session_key"])
	}
}

func TestLevelFromString(t *testing.T) {
	tests := map[string]string{
		"debug": "DEBUG", "warn": "WARN", "warning": "WARN", "error": "ERROR", "": "INFO", "bogus": "INFO",
	}
	for in, want := range tests {
		if got := LevelFromString(in).String(); got != want {
			t.Errorf("LevelFromString(%q) = %v, want %v", in, got, want)
		}
	}
}
