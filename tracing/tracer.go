package tracing

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Processor receives span notifications. Implementations must be safe for
// concurrent use; spans of parallel capabilities end concurrently.
type Processor interface {
	OnStart(ctx context.Context, span SpanData)
	OnEnd(ctx context.Context, span SpanData)
}

// Options configure a Tracer.
type Options struct {
	Processors []Processor
	// IncludeSensitiveData disables payload redaction.
	IncludeSensitiveData bool
	// Clock overrides time.Now, mainly for tests.
	Clock func() time.Time
}

// Tracer creates spans. A nil *Tracer creates nil spans, which are no-ops.
type Tracer struct {
	opts Options
}

// NewTracer creates a Tracer.
func NewTracer(optFns ...func(o *Options)) *Tracer {
	opts := Options{Clock: time.Now}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Tracer{opts: opts}
}

// IncludeSensitiveData reports whether payloads are recorded unredacted.
func (t *Tracer) IncludeSensitiveData() bool {
	return t != nil && t.opts.IncludeSensitiveData
}

// Start opens a span as a child of the span carried by ctx and returns a
// context carrying the new span.
func (t *Tracer) Start(ctx context.Context, kind Kind, name string) (context.Context, *Span) {
	if t == nil {
		return ctx, nil
	}

	data := SpanData{
		ID:        uuid.NewString(),
		Kind:      kind,
		Name:      name,
		StartedAt: t.now(),
		Payload:   map[string]any{},
	}

	if parent := SpanFromContext(ctx); parent != nil {
		data.ParentID = parent.data.ID
		data.TraceID = parent.data.TraceID
	} else {
		data.TraceID = uuid.NewString()
	}

	s := &Span{tracer: t, data: data}

	for _, p := range t.opts.Processors {
		p.OnStart(ctx, s.Snapshot())
	}

	return ContextWithSpan(ctx, s), s
}

func (t *Tracer) emitEnd(ctx context.Context, d SpanData) {
	for _, p := range t.opts.Processors {
		p.OnEnd(ctx, d)
	}
}

func (t *Tracer) now() time.Time {
	return t.opts.Clock().UTC()
}
