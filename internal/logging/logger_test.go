package logging

import (
	"context"
	"log/slog"
	"strings"
	"testing"
)

type captureWriter struct {
	lines []string
}

func (w *captureWriter) Write(p []byte) (int, error) {
	w.lines = append(w.lines, string(p))
	return len(p), nil
}

func TestConsoleHandlerLineShape(t *testing.T) {
	writer := &captureWriter{}
	level := new(slog.LevelVar)
	logger := slog.New(&consoleHandler{writer: writer, level: level})

	WithComponent(logger, "monitor").Info("run completed",
		Project("widget"),
		Version(3),
		String("state", "Completed"))

	if len(writer.lines) != 1 {
		t.Fatalf("wrote %d lines, want 1", len(writer.lines))
	}
	line := writer.lines[0]
	for _, want := range []string{"INFO", "monitor: run completed", "project=widget", "version=3", "state=Completed"} {
		if !strings.Contains(line, want) {
			t.Errorf("line %q missing %q", line, want)
		}
	}
}

func TestConsoleHandlerQuotesSpacedValues(t *testing.T) {
	writer := &captureWriter{}
	level := new(slog.LevelVar)
	logger := slog.New(&consoleHandler{writer: writer, level: level})

	logger.Warn("poll failed", String("reason", "storage unavailable"))

	if len(writer.lines) != 1 {
		t.Fatalf("wrote %d lines, want 1", len(writer.lines))
	}
	if !strings.Contains(writer.lines[0], `reason="storage unavailable"`) {
		t.Fatalf("line %q not quoted", writer.lines[0])
	}
}

func TestConsoleHandlerHonorsLevel(t *testing.T) {
	writer := &captureWriter{}
	level := new(slog.LevelVar)
	level.Set(slog.LevelWarn)
	handler := &consoleHandler{writer: writer, level: level}

	if handler.Enabled(context.Background(), slog.LevelInfo) {
		t.Fatal("info enabled at warn level")
	}
	if !handler.Enabled(context.Background(), slog.LevelError) {
		t.Fatal("error disabled at warn level")
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"WARN":    slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for input, want := range tests {
		if got := parseLevel(input); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", input, got, want)
		}
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := New(Options{Format: "xml"}); err == nil {
		t.Fatal("unknown format accepted")
	}
}
