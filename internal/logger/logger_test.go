package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestInit(t *testing.T) {
	logger := Init("test-service", slog.LevelInfo, Options{})
	if logger == nil {
		t.Fatal("expected non-nil logger")
	}
}

func TestInit_WritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trader.log")
	logger := Init("test-service", slog.LevelInfo, Options{File: path})
	logger.Info("hello file")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "hello file") {
		t.Errorf("log file missing line, got %q", data)
	}
}

func TestServiceAttr(t *testing.T) {
	var buf bytes.Buffer
	logger := initWithWriter("gapfill", slog.LevelInfo, &buf)
	logger.Info("x")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if line["service"] != "gapfill" {
		t.Errorf("service = %v, want gapfill", line["service"])
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"garbage": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestCycleID_RoundTrip(t *testing.T) {
	ctx := context.Background()

	if id := CycleID(ctx); id != "" {
		t.Errorf("expected empty cycle id, got %q", id)
	}

	ctx = WithCycleID(ctx, "exec-123")
	if id := CycleID(ctx); id != "exec-123" {
		t.Errorf("expected 'exec-123', got %q", id)
	}
}

func TestNewCycleID(t *testing.T) {
	ts := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	id := NewCycleID("exec", ts)

	if !strings.HasPrefix(id, "exec-") {
		t.Errorf("expected cycle id to start with 'exec-', got %s", id)
	}
	if !strings.HasSuffix(id, "1705314600") {
		t.Errorf("expected cycle id to end with unix seconds, got %s", id)
	}
}

func TestAttrs(t *testing.T) {
	ctx := context.Background()

	if attrs := Attrs(ctx); attrs != nil {
		t.Errorf("expected nil attrs when no cycle id, got %v", attrs)
	}

	ctx = WithCycleID(ctx, "abc-123")
	if attrs := Attrs(ctx); len(attrs) != 1 {
		t.Fatalf("expected one attr with cycle id set, got %v", attrs)
	}
}
