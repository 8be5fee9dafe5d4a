package tracing

import (
	"context"
	"maps"
	"sync"
	"time"
)

// Kind is the span kind.
type Kind string

const (
	KindRun        Kind = "run"
	KindGeneration Kind = "generation"
	KindCapability Kind = "capability"
	KindDelegation Kind = "delegation"
	KindGuardrail  Kind = "guardrail"
)

// Redacted replaces sensitive payload values when redaction is enabled.
const Redacted = "[REDACTED]"

// SpanData is an immutable snapshot of a span handed to processors.
type SpanData struct {
	ID        string         `json:"id"`
	TraceID   string         `json:"trace_id"`
	ParentID  string         `json:"parent_id,omitempty"`
	Kind      Kind           `json:"kind"`
	Name      string         `json:"name"`
	StartedAt time.Time      `json:"started_at"`
	EndedAt   time.Time      `json:"ended_at,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// Duration returns the span duration, or zero while the span is open.
func (d SpanData) Duration() time.Duration {
	if d.EndedAt.IsZero() {
		return 0
	}
	return d.EndedAt.Sub(d.StartedAt)
}

// Span is a live span. All methods are safe on a nil *Span.
type Span struct {
	tracer *Tracer

	mu    sync.Mutex
	data  SpanData
	ended bool
}

// ID returns the span ID.
func (s *Span) ID() string {
	if s == nil {
		return ""
	}
	return s.data.ID
}

// Set records a non-sensitive payload value.
func (s *Span) Set(key string, value any) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.Payload[key] = value
}

// SetSensitive records a payload value that is redacted unless the tracer
// includes sensitive data.
func (s *Span) SetSensitive(key string, value any) {
	if s == nil {
		return
	}
	if !s.tracer.opts.IncludeSensitiveData {
		value = Redacted
	}
	s.Set(key, value)
}

// SetError marks the span as failed.
func (s *Span) SetError(err error) {
	if s == nil || err == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.Error = err.Error()
}

// End closes the span and notifies processors. Later calls are no-ops.
func (s *Span) End(ctx context.Context) {
	if s == nil {
		return
	}

	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	s.data.EndedAt = s.tracer.now()
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.tracer.emitEnd(ctx, snap)
}

// Snapshot returns the current span data.
func (s *Span) Snapshot() SpanData {
	if s == nil {
		return SpanData{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Span) snapshotLocked() SpanData {
	d := s.data
	d.Payload = maps.Clone(s.data.Payload)
	return d
}

type spanKey struct{}

// ContextWithSpan returns a context carrying s as the current span.
func ContextWithSpan(ctx context.Context, s *Span) context.Context {
	return context.WithValue(ctx, spanKey{}, s)
}

// SpanFromContext returns the current span, or nil.
func SpanFromContext(ctx context.Context) *Span {
	s, _ := ctx.Value(spanKey{}).(*Span)
	return s
}
