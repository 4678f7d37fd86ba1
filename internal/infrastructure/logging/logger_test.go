package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/nerrad567/nasa-bridge/internal/infrastructure/config"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var entries []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var e map[string]any
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			t.Fatalf("line %q: %v", line, err)
		}
		entries = append(entries, e)
	}
	return entries
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"DEBUG":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"verbose": slog.LevelInfo,
		"":        slog.LevelInfo,
	}

	for in, want := range tests {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNew(t *testing.T) {
	for _, cfg := range []config.LoggingConfig{
		{Level: "info", Format: "json", Output: "stdout"},
		{Level: "debug", Format: "text", Output: "STDERR"},
		{},
	} {
		if New(cfg, "1.0.0") == nil {
			t.Errorf("New(%+v) = nil", cfg)
		}
	}
	if Default() == nil {
		t.Error("Default() = nil")
	}
}

func TestLogger_JSONDefaultFields(t *testing.T) {
	var buf bytes.Buffer
	logger := newWithWriter(config.LoggingConfig{Level: "info", Format: "json"}, "test", &buf)

	logger.Debug("filtered out")
	logger.Info("frame decoded", "src", "20.00.00")

	entries := decodeLines(t, &buf)
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1 (debug filtered)", len(entries))
	}
	e := entries[0]
	if e["service"] != ServiceName || e["version"] != "test" {
		t.Errorf("default fields = %v / %v", e["service"], e["version"])
	}
	if e["msg"] != "frame decoded" || e["src"] != "20.00.00" {
		t.Errorf("entry = %v", e)
	}
}

func TestLogger_Component(t *testing.T) {
	var buf bytes.Buffer
	logger := newWithWriter(config.LoggingConfig{Level: "debug", Format: "json"}, "1.2.3", &buf)

	child := logger.Component("gateway")
	if child == logger {
		t.Fatal("Component() returned the parent")
	}
	child.Warn("dial failed")
	logger.Info("parent")

	entries := decodeLines(t, &buf)
	if len(entries) != 2 {
		t.Fatalf("got %d entries", len(entries))
	}
	if entries[0]["component"] != "gateway" || entries[0]["service"] != ServiceName {
		t.Errorf("child entry = %v", entries[0])
	}
	if _, ok := entries[1]["component"]; ok {
		t.Errorf("parent picked up the child's component: %v", entries[1])
	}
}

func TestLogger_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := newWithWriter(config.LoggingConfig{Level: "debug", Format: "Text"}, "1.2.3", &buf)

	logger.With("component", "nasa").Debug("frame decoded", "src", "20.00.00")

	out := buf.String()
	for _, want := range []string{"service=nasabridge", "component=nasa", "src=20.00.00", "level=DEBUG"} {
		if !strings.Contains(out, want) {
			t.Errorf("text output %q missing %q", out, want)
		}
	}
}
