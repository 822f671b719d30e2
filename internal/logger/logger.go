// Package logger provides structured logging on log/slog.
// It sets up a JSON handler with service-level context, optional size-rotated
// file output, and cycle ID propagation through context.Context so every line
// written while handling one scheduling tick can be correlated.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

type ctxKey string

const cycleIDKey ctxKey = "cycle_id"

// Options configures where log lines go besides stdout.
type Options struct {
	// File, when set, receives a copy of every line and is rotated by size.
	File       string
	MaxSizeMB  int // default 50
	MaxBackups int // default 5
	MaxAgeDays int // 0 keeps rotated files forever
}

// Init creates and returns a structured logger for the given service.
// The logger outputs JSON to stdout (and the optional file) with the service
// name embedded, and becomes the slog default.
func Init(service string, level slog.Level, opts Options) *slog.Logger {
	var out io.Writer = os.Stdout
	if opts.File != "" {
		out = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    orDefault(opts.MaxSizeMB, 50),
			MaxBackups: orDefault(opts.MaxBackups, 5),
			MaxAge:     opts.MaxAgeDays,
			Compress:   true,
		})
	}
	return initWithWriter(service, level, out)
}

func initWithWriter(service string, level slog.Level, w io.Writer) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	})

	logger := slog.New(handler).With(
		slog.String("service", service),
	)

	slog.SetDefault(logger)
	return logger
}

// ParseLevel maps "debug", "info", "warn" and "error" to a slog level.
// Anything else is info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithCycleID stores a cycle ID in the context for downstream propagation.
func WithCycleID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, cycleIDKey, id)
}

// CycleID extracts the cycle ID from context. Returns "" if not set.
func CycleID(ctx context.Context) string {
	if v, ok := ctx.Value(cycleIDKey).(string); ok {
		return v
	}
	return ""
}

// NewCycleID builds a cycle ID from the activity name and its scheduled time.
// Format: "{activity}-{unix}".
func NewCycleID(activity string, ts time.Time) string {
	return fmt.Sprintf("%s-%d", activity, ts.Unix())
}

// Attrs returns slog attributes carrying the cycle ID from context.
// Usage: log.Info("msg", logger.Attrs(ctx)...)
func Attrs(ctx context.Context) []any {
	id := CycleID(ctx)
	if id == "" {
		return nil
	}
	return []any{slog.String("cycle_id", id)}
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
