package tracing

import (
	"context"
	"sync"

	"github.com/hupe1980/orchestra/logging"
)

// EventType distinguishes span notifications recorded by MemoryProcessor.
type EventType string

const (
	SpanStarted EventType = "start"
	SpanEnded   EventType = "end"
)

// Event is one recorded span notification.
type Event struct {
	Type EventType
	Span SpanData
}

// MemoryProcessor records every notification in order.
type MemoryProcessor struct {
	mu     sync.Mutex
	events []Event
}

// NewMemoryProcessor creates a MemoryProcessor.
func NewMemoryProcessor() *MemoryProcessor { return &MemoryProcessor{} }

// OnStart implements Processor.
func (m *MemoryProcessor) OnStart(_ context.Context, s SpanData) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, Event{Type: SpanStarted, Span: s})
}

// OnEnd implements Processor.
func (m *MemoryProcessor) OnEnd(_ context.Context, s SpanData) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, Event{Type: SpanEnded, Span: s})
}

// Events returns the recorded notifications.
func (m *MemoryProcessor) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}

// Ended returns the ended spans in end order, optionally filtered by kind.
func (m *MemoryProcessor) Ended(kinds ...Kind) []SpanData {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []SpanData
	for _, e := range m.events {
		if e.Type != SpanEnded {
			continue
		}
		if len(kinds) > 0 && !containsKind(kinds, e.Span.Kind) {
			continue
		}
		out = append(out, e.Span)
	}
	return out
}

// Reset drops all recorded notifications.
func (m *MemoryProcessor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = nil
}

func containsKind(kinds []Kind, k Kind) bool {
	for _, x := range kinds {
		if x == k {
			return true
		}
	}
	return false
}

// LogProcessor writes span notifications to a logger at debug level.
type LogProcessor struct {
	logger logging.Logger
}

// NewLogProcessor creates a LogProcessor.
func NewLogProcessor(l logging.Logger) *LogProcessor {
	return &LogProcessor{logger: logging.OrNoOp(l)}
}

// OnStart implements Processor.
func (p *LogProcessor) OnStart(_ context.Context, s SpanData) {
	p.logger.Debug("trace.span.start",
		"span_id", s.ID, "parent_id", s.ParentID, "trace_id", s.TraceID, "kind", string(s.Kind), "name", s.Name)
}

// OnEnd implements Processor.
func (p *LogProcessor) OnEnd(_ context.Context, s SpanData) {
	args := []any{
		"span_id", s.ID, "kind", string(s.Kind), "name", s.Name, "duration_ms", s.Duration().Milliseconds(),
	}
	if s.Error != "" {
		args = append(args, "error", s.Error)
	}
	p.logger.Debug("trace.span.end", args...)
}
