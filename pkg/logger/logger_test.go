package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		" error ": slog.LevelError,
		"info":    slog.LevelInfo,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "warn", "json")
	l.Info("dropped")
	l.Warn("kept", "version", 7)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d: %q", len(lines), buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if rec["msg"] != "kept" || rec["version"] != float64(7) {
		t.Errorf("unexpected record: %v", rec)
	}
}

func TestFromContextCarriesAttrs(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(New(&buf, "info", "text"))
	defer slog.SetDefault(prev)

	ctx := WithRequestID(context.Background(), "req-1")
	child := WithAttrs(ctx, "trace_id", "t-9")
	FromContext(child).Info("served")

	out := buf.String()
	if !strings.Contains(out, "request_id=req-1") || !strings.Contains(out, "trace_id=t-9") {
		t.Errorf("missing attrs in %q", out)
	}
	if RequestID(child) != "req-1" {
		t.Errorf("RequestID = %q", RequestID(child))
	}

	buf.Reset()
	FromContext(ctx).Info("parent")
	if strings.Contains(buf.String(), "trace_id") {
		t.Errorf("child attrs leaked into parent: %q", buf.String())
	}
}

func TestRequestIDEmpty(t *testing.T) {
	if id := RequestID(context.Background()); id != "" {
		t.Errorf("RequestID = %q, want empty", id)
	}
}
