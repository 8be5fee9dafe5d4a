package tracing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestTracer_ParentChild(t *testing.T) {
	mem := NewMemoryProcessor()
	tr := NewTracer(func(o *Options) { o.Processors = []Processor{mem} })

	ctx, run := tr.Start(context.Background(), KindRun, "triage")
	genCtx, gen := tr.Start(ctx, KindGeneration, "triage")
	_, capSpan := tr.Start(genCtx, KindCapability, "convert")

	capSpan.End(ctx)
	gen.End(ctx)
	run.End(ctx)
	run.End(ctx) // idempotent

	events := mem.Events()
	require.Len(t, events, 6)
	assert.Equal(t, SpanStarted, events[0].Type)
	assert.Equal(t, KindRun, events[0].Span.Kind)
	assert.Equal(t, SpanEnded, events[5].Type)
	assert.Equal(t, KindRun, events[5].Span.Kind)

	ended := mem.Ended()
	require.Len(t, ended, 3)
	assert.Equal(t, gen.ID(), ended[0].ParentID)
	assert.Equal(t, run.ID(), ended[1].ParentID)
	assert.Empty(t, ended[2].ParentID)
	assert.Equal(t, ended[2].TraceID, ended[0].TraceID)

	assert.Len(t, mem.Ended(KindCapability), 1)
}

func TestTracer_Redaction(t *testing.T) {
	for _, include := range []bool{false, true} {
		mem := NewMemoryProcessor()
		tr := NewTracer(func(o *Options) {
			o.Processors = []Processor{mem}
			o.IncludeSensitiveData = include
		})

		ctx, s := tr.Start(context.Background(), KindCapability, "lookup")
		s.Set("capability", "lookup")
		s.SetSensitive("arguments", `{"account":"123"}`)
		s.End(ctx)

		payload := mem.Ended()[0].Payload
		assert.Equal(t, "lookup", payload["capability"])
		if include {
			assert.Equal(t, `{"account":"123"}`, payload["arguments"])
		} else {
			assert.Equal(t, Redacted, payload["arguments"])
		}
		assert.Equal(t, include, tr.IncludeSensitiveData())
	}
}

func TestTracer_Nil(t *testing.T) {
	var tr *Tracer

	ctx, s := tr.Start(context.Background(), KindRun, "x")
	assert.Nil(t, s)
	assert.Nil(t, SpanFromContext(ctx))

	s.Set("k", "v")
	s.SetSensitive("k", "v")
	s.SetError(errors.New("boom"))
	s.End(ctx)
	assert.Empty(t, s.ID())
	assert.Equal(t, SpanData{}, s.Snapshot())
}

func TestTracer_ErrorAndDuration(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		now = now.Add(time.Second)
		return now
	}

	mem := NewMemoryProcessor()
	tr := NewTracer(func(o *Options) {
		o.Processors = []Processor{mem}
		o.Clock = clock
	})

	ctx, s := tr.Start(context.Background(), KindGuardrail, "disclaimer")
	s.SetError(errors.New("tripwire"))
	s.End(ctx)

	d := mem.Ended()[0]
	assert.Equal(t, "tripwire", d.Error)
	assert.Equal(t, time.Second, d.Duration())

	mem.Reset()
	assert.Empty(t, mem.Events())
}

func TestOTelProcessor(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	tr := NewTracer(func(o *Options) {
		o.Processors = []Processor{NewOTelProcessor(tp)}
	})

	ctx, run := tr.Start(context.Background(), KindRun, "triage")
	_, gen := tr.Start(ctx, KindGeneration, "triage")
	gen.Set("turn", 1)
	gen.SetError(errors.New("backend down"))
	gen.End(ctx)
	run.End(ctx)

	spans := rec.Ended()
	require.Len(t, spans, 2)

	genSpan, runSpan := spans[0], spans[1]
	assert.Equal(t, "generation triage", genSpan.Name())
	assert.Equal(t, "run triage", runSpan.Name())
	assert.Equal(t, runSpan.SpanContext().SpanID(), genSpan.Parent().SpanID())
	assert.Equal(t, runSpan.SpanContext().TraceID(), genSpan.SpanContext().TraceID())
	assert.Equal(t, codes.Error, genSpan.Status().Code)
	assert.Equal(t, codes.Ok, runSpan.Status().Code)
	assert.Contains(t, genSpan.Attributes(), attribute.Int("orchestra.turn", 1))
	assert.Contains(t, genSpan.Attributes(), attribute.String("orchestra.span.kind", "generation"))
}

func TestLogProcessor(t *testing.T) {
	tr := NewTracer(func(o *Options) { o.Processors = []Processor{NewLogProcessor(nil)} })
	ctx, s := tr.Start(context.Background(), KindDelegation, "triage->billing")
	assert.NotPanics(t, func() { s.End(ctx) })
}
