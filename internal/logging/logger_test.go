package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"nonsense", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.input); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "warn")

	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warn("warn message")
	logger.Error("error message")

	out := buf.String()
	if strings.Contains(out, "debug message") || strings.Contains(out, "info message") {
		t.Errorf("below-level messages leaked into output: %q", out)
	}
	if !strings.Contains(out, "warn message") || !strings.Contains(out, "error message") {
		t.Errorf("warn/error messages missing from output: %q", out)
	}
}

func TestLogger_ContextPropagation(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "info").
		WithSession("sess-1").
		WithRegion("eu-west-1").
		WithPhase("provisioning")

	logger.Info("step complete", "resource", "sg-123")

	out := buf.String()
	for _, want := range []string{"session=sess-1", "region=eu-west-1", "phase=provisioning", "resource=sg-123"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q: %q", want, out)
		}
	}
}

func TestLogger_ChildDoesNotMutateParent(t *testing.T) {
	var buf bytes.Buffer
	parent := New(&buf, "info")
	_ = parent.WithSession("child-only")

	parent.Info("from parent")
	if strings.Contains(buf.String(), "child-only") {
		t.Errorf("parent logger inherited child attribute: %q", buf.String())
	}
}

func TestWith_OddArgsIgnoresDangling(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "info").With("key", "value", "dangling")
	logger.Info("msg")
	if !strings.Contains(buf.String(), "key=value") {
		t.Errorf("paired attribute missing: %q", buf.String())
	}
}

func TestNop(t *testing.T) {
	// Must not panic or write anywhere observable.
	logger := Nop()
	logger.Info("discarded")
	logger.Error("also discarded")
}
