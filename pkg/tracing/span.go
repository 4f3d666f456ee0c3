// Package tracing records per-request span trees. A Tracer opens a sampled
// root span, code below it opens child spans through the context, and the
// finished tree is written to slog. Span methods are safe on a nil *Span, so
// unsampled requests pay nothing for instrumentation.
package tracing

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Adithya-Monish-Kumar-K/trieindex/pkg/config"
)

type spanKey struct{}

// Span is one timed operation of a trace.
type Span struct {
	Name     string
	TraceID  string
	Start    time.Time
	Duration time.Duration

	mu       sync.Mutex
	attrs    []slog.Attr
	children []*Span
}

// Tracer decides which requests are traced and logs their span trees.
type Tracer struct {
	enabled bool
	rate    float64
	slow    time.Duration
	logger  *slog.Logger
	sample  func() float64
}

// NewTracer builds a Tracer from cfg. A disabled tracer never samples.
func NewTracer(cfg config.TracingConfig) *Tracer {
	return &Tracer{
		enabled: cfg.Enabled,
		rate:    cfg.SampleRate,
		slow:    cfg.SlowThreshold,
		logger:  slog.Default().With("component", "tracing"),
		sample:  rand.Float64,
	}
}

// Start opens a root span for traceID, or returns ctx unchanged and a nil
// span when the request is not sampled. An empty traceID gets a new UUID.
func (t *Tracer) Start(ctx context.Context, name, traceID string) (context.Context, *Span) {
	if t == nil || !t.enabled || t.rate <= 0 || (t.rate < 1 && t.sample() >= t.rate) {
		return ctx, nil
	}
	if traceID == "" {
		traceID = uuid.NewString()
	}
	span := &Span{Name: name, TraceID: traceID, Start: time.Now()}
	return context.WithValue(ctx, spanKey{}, span), span
}

// Finish ends span and logs its tree. Traces slower than the configured
// threshold are logged at info, the rest at debug.
func (t *Tracer) Finish(ctx context.Context, span *Span) {
	if t == nil || span == nil {
		return
	}
	span.End()
	level := slog.LevelDebug
	if t.slow > 0 && span.Duration >= t.slow {
		level = slog.LevelInfo
	}
	if !t.logger.Enabled(ctx, level) {
		return
	}
	span.walk("", 0, func(s *Span, parent string, depth int) {
		attrs := []slog.Attr{
			slog.String("trace_id", s.TraceID),
			slog.String("span", s.Name),
			slog.Int("depth", depth),
			slog.Float64("duration_ms", float64(s.Duration.Microseconds())/1000),
		}
		if parent != "" {
			attrs = append(attrs, slog.String("parent", parent))
		}
		s.mu.Lock()
		attrs = append(attrs, s.attrs...)
		s.mu.Unlock()
		t.logger.LogAttrs(ctx, level, "span", attrs...)
	})
}

// StartChildSpan opens a span under the one carried by ctx. Without a parent
// it returns ctx unchanged and a nil span.
func StartChildSpan(ctx context.Context, name string) (context.Context, *Span) {
	parent := SpanFromContext(ctx)
	if parent == nil {
		return ctx, nil
	}
	child := &Span{Name: name, TraceID: parent.TraceID, Start: time.Now()}
	parent.mu.Lock()
	parent.children = append(parent.children, child)
	parent.mu.Unlock()
	return context.WithValue(ctx, spanKey{}, child), child
}

// SpanFromContext returns the innermost span in ctx, or nil.
func SpanFromContext(ctx context.Context) *Span {
	span, _ := ctx.Value(spanKey{}).(*Span)
	return span
}

// End fixes the span's duration. Only the first call counts.
func (s *Span) End() {
	if s == nil {
		return
	}
	s.mu.Lock()
	if s.Duration == 0 {
		s.Duration = time.Since(s.Start)
	}
	s.mu.Unlock()
}

// SetAttr attaches an attribute that is logged with the span.
func (s *Span) SetAttr(key string, value any) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.attrs = append(s.attrs, slog.Any(key, value))
	s.mu.Unlock()
}

// Children returns a snapshot of the span's direct children.
func (s *Span) Children() []*Span {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Span(nil), s.children...)
}

func (s *Span) walk(parent string, depth int, visit func(*Span, string, int)) {
	visit(s, parent, depth)
	for _, child := range s.Children() {
		child.walk(s.Name, depth+1, visit)
	}
}
