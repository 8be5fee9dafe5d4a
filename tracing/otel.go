package tracing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/hupe1980/orchestra/tracing"

// OTelProcessor mirrors spans into OpenTelemetry.
type OTelProcessor struct {
	tracer trace.Tracer

	mu    sync.Mutex
	spans map[string]trace.Span
}

// NewOTelProcessor creates a processor using tp, or the global provider when tp is nil.
func NewOTelProcessor(tp trace.TracerProvider) *OTelProcessor {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &OTelProcessor{
		tracer: tp.Tracer(instrumentationName),
		spans:  make(map[string]trace.Span),
	}
}

// OnStart implements Processor.
func (p *OTelProcessor) OnStart(ctx context.Context, s SpanData) {
	p.mu.Lock()
	parent, ok := p.spans[s.ParentID]
	p.mu.Unlock()

	if ok {
		ctx = trace.ContextWithSpan(ctx, parent)
	}

	_, span := p.tracer.Start(ctx, string(s.Kind)+" "+s.Name,
		trace.WithTimestamp(s.StartedAt),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("orchestra.span.id", s.ID),
			attribute.String("orchestra.span.kind", string(s.Kind)),
			attribute.String("orchestra.trace.id", s.TraceID),
		),
	)

	p.mu.Lock()
	p.spans[s.ID] = span
	p.mu.Unlock()
}

// OnEnd implements Processor.
func (p *OTelProcessor) OnEnd(_ context.Context, s SpanData) {
	p.mu.Lock()
	span, ok := p.spans[s.ID]
	delete(p.spans, s.ID)
	p.mu.Unlock()

	if !ok {
		return
	}

	attrs := make([]attribute.KeyValue, 0, len(s.Payload))
	for k, v := range s.Payload {
		attrs = append(attrs, attributeFor("orchestra."+k, v))
	}
	span.SetAttributes(attrs...)

	if s.Error != "" {
		span.RecordError(errors.New(s.Error))
		span.SetStatus(codes.Error, s.Error)
	} else {
		span.SetStatus(codes.Ok, "")
	}

	span.End(trace.WithTimestamp(s.EndedAt))
}

func attributeFor(key string, v any) attribute.KeyValue {
	switch x := v.(type) {
	case string:
		return attribute.String(key, x)
	case bool:
		return attribute.Bool(key, x)
	case int:
		return attribute.Int(key, x)
	case int64:
		return attribute.Int64(key, x)
	case float64:
		return attribute.Float64(key, x)
	case []string:
		return attribute.StringSlice(key, x)
	case fmt.Stringer:
		return attribute.String(key, x.String())
	}

	b, err := json.Marshal(v)
	if err != nil {
		return attribute.String(key, fmt.Sprintf("%v", v))
	}
	return attribute.String(key, string(b))
}
