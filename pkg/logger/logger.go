// Package logger configures the process-wide slog logger and carries
// request-scoped attributes (request id, trace id) through contexts.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

type attrsKey struct{}

type scope struct {
	requestID string
	attrs     []any
}

// Setup installs a logger writing to stdout as the slog default and returns
// it.
func Setup(level, format string) *slog.Logger {
	l := New(os.Stdout, level, format)
	slog.SetDefault(l)
	return l
}

// New builds a logger writing to w. format "json" selects the JSON handler,
// anything else the text handler.
func New(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// WithRequestID tags ctx with the id of the request being served.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	s := current(ctx)
	s.requestID = requestID
	s.attrs = append(s.attrs, "request_id", requestID)
	return context.WithValue(ctx, attrsKey{}, s)
}

// WithAttrs adds key/value pairs to every logger derived from ctx.
func WithAttrs(ctx context.Context, args ...any) context.Context {
	if len(args) == 0 {
		return ctx
	}
	s := current(ctx)
	s.attrs = append(s.attrs, args...)
	return context.WithValue(ctx, attrsKey{}, s)
}

// RequestID returns the id stored by WithRequestID, or "".
func RequestID(ctx context.Context) string {
	return current(ctx).requestID
}

// FromContext returns the default logger enriched with the attributes
// carried by ctx.
func FromContext(ctx context.Context) *slog.Logger {
	l := slog.Default()
	if s := current(ctx); len(s.attrs) > 0 {
		l = l.With(s.attrs...)
	}
	return l
}

// WithComponent returns the default logger tagged with component.
func WithComponent(component string) *slog.Logger {
	return slog.Default().With("component", component)
}

// current returns a copy of the scope in ctx so callers can extend it
// without touching the parent's slice.
func current(ctx context.Context) scope {
	s, _ := ctx.Value(attrsKey{}).(scope)
	s.attrs = append([]any(nil), s.attrs...)
	return s
}

// ParseLevel maps a level name to its slog.Level. Unknown names yield info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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
