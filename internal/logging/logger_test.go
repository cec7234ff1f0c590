package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestConsoleHandlerFormatsComponentAndAttrs(t *testing.T) {
	var buf bytes.Buffer
	lvl := new(slog.LevelVar)
	logger := slog.New(newConsoleHandler(&buf, lvl))

	NewComponentLogger(logger, "worker").Info("run claimed",
		String(FieldRunID, "abc123"),
		Int("attempt", 1),
	)

	line := buf.String()
	if !strings.Contains(line, "INFO worker: run claimed") {
		t.Fatalf("unexpected line: %q", line)
	}
	if !strings.Contains(line, "run_id=abc123") || !strings.Contains(line, "attempt=1") {
		t.Fatalf("missing attrs: %q", line)
	}
}

func TestConsoleHandlerQuotesValuesWithSpaces(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(newConsoleHandler(&buf, new(slog.LevelVar)))
	logger.Warn("status", String("detail", "provider timed out"))
	if !strings.Contains(buf.String(), `detail="provider timed out"`) {
		t.Fatalf("expected quoted value, got %q", buf.String())
	}
}

func TestJSONHandlerFieldNames(t *testing.T) {
	var buf bytes.Buffer
	lvl := new(slog.LevelVar)
	logger := slog.New(newJSONHandler(&buf, lvl))
	logger.Info("hello", String(FieldExperimentID, "exp-1"))

	var payload map[string]any
	if err := json.Unmarshal(buf.Bytes(), &payload); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if payload["msg"] != "hello" {
		t.Fatalf("expected msg field, got %v", payload)
	}
	if payload["level"] != "info" {
		t.Fatalf("expected lowercase level, got %v", payload["level"])
	}
	if payload[FieldExperimentID] != "exp-1" {
		t.Fatalf("expected experiment_id attr, got %v", payload)
	}
	if _, ok := payload["ts"]; !ok {
		t.Fatal("expected ts field")
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Options{Level: "warn", Format: "console", OutputPaths: nil})
	_ = logger
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	lvl := new(slog.LevelVar)
	lvl.Set(slog.LevelWarn)
	direct := slog.New(newConsoleHandler(&buf, lvl))
	direct.Info("dropped")
	direct.Warn("kept")
	if strings.Contains(buf.String(), "dropped") {
		t.Fatal("info line should have been filtered")
	}
	if !strings.Contains(buf.String(), "kept") {
		t.Fatal("warn line missing")
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := New(Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestNopLoggerDiscards(t *testing.T) {
	logger := NewNop()
	logger.Error("this should not panic", Error(nil))
}
