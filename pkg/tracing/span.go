// Package tracing records in-process span trees carried through contexts.
// An ETL run opens a root span keyed by its run id; extract and load open
// children. When the root ends the tree is logged through slog and its
// per-phase durations can be fed to metrics.
package tracing

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type spanKey struct{}

// Span is one timed operation. All accessors are safe for concurrent use.
type Span struct {
	name    string
	traceID string
	start   time.Time

	mu       sync.Mutex
	end      time.Time
	err      error
	attrs    []slog.Attr
	children []*Span
}

// StartSpan opens a root span. ETL runs pass their run id as traceID.
func StartSpan(ctx context.Context, name, traceID string) (context.Context, *Span) {
	s := &Span{name: name, traceID: traceID, start: time.Now()}
	return context.WithValue(ctx, spanKey{}, s), s
}

// StartChildSpan opens a span under the one in ctx. Without a parent the
// child is a detached root with no trace id.
func StartChildSpan(ctx context.Context, name string) (context.Context, *Span) {
	s := &Span{name: name, start: time.Now()}
	if parent := SpanFromContext(ctx); parent != nil {
		s.traceID = parent.traceID
		parent.mu.Lock()
		parent.children = append(parent.children, s)
		parent.mu.Unlock()
	}
	return context.WithValue(ctx, spanKey{}, s), s
}

// SpanFromContext returns the innermost span in ctx, or nil.
func SpanFromContext(ctx context.Context) *Span {
	s, _ := ctx.Value(spanKey{}).(*Span)
	return s
}

func (s *Span) Name() string    { return s.name }
func (s *Span) TraceID() string { return s.traceID }

// End closes the span. Only the first call has an effect.
func (s *Span) End() {
	s.mu.Lock()
	if s.end.IsZero() {
		s.end = time.Now()
	}
	s.mu.Unlock()
}

// EndWithError records err and closes the span.
func (s *Span) EndWithError(err error) {
	s.mu.Lock()
	if s.end.IsZero() {
		s.err = err
	}
	s.mu.Unlock()
	s.End()
}

// SetAttr attaches key=value; a repeated key replaces the earlier value.
func (s *Span) SetAttr(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.attrs {
		if s.attrs[i].Key == key {
			s.attrs[i].Value = slog.AnyValue(value)
			return
		}
	}
	s.attrs = append(s.attrs, slog.Any(key, value))
}

// Duration is the elapsed time of an ended span, or the time so far.
func (s *Span) Duration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.end.IsZero() {
		return time.Since(s.start)
	}
	return s.end.Sub(s.start)
}

// Err returns the error the span ended with.
func (s *Span) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Children returns a snapshot of the direct children.
func (s *Span) Children() []*Span {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Span(nil), s.children...)
}

// Phases sums direct child durations by child name.
func (s *Span) Phases() map[string]time.Duration {
	out := make(map[string]time.Duration)
	for _, c := range s.Children() {
		out[c.name] += c.Duration()
	}
	return out
}

// Log writes the tree depth-first. Healthy spans go out at debug level and
// failed ones at warn, so a failing run surfaces the phase that broke.
func (s *Span) Log(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	s.walk(0, func(depth int, sp *Span) {
		sp.mu.Lock()
		attrs := append([]slog.Attr{
			slog.String("trace_id", sp.traceID),
			slog.String("span", sp.name),
			slog.Int("depth", depth),
		}, sp.attrs...)
		err := sp.err
		sp.mu.Unlock()

		attrs = append(attrs, slog.Float64("duration_ms", float64(sp.Duration().Microseconds())/1000))
		level := slog.LevelDebug
		if err != nil {
			attrs = append(attrs, slog.String("error", err.Error()))
			level = slog.LevelWarn
		}
		logger.LogAttrs(context.Background(), level, "span", attrs...)
	})
}

func (s *Span) walk(depth int, fn func(int, *Span)) {
	fn(depth, s)
	for _, c := range s.Children() {
		c.walk(depth+1, fn)
	}
}
