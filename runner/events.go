package runner

import (
	"context"

	"github.com/hupe1980/orchestra/core"
	"github.com/hupe1980/orchestra/tracing"
)

// publish hands ev to the stream and the configured sinks. It is safe for
// concurrent use by capability goroutines.
func (s *runState) publish(ctx context.Context, ev core.Event) {
	if ev.RunID == "" {
		ev.RunID = s.rc.RunID
	}

	if s.stream != nil {
		s.stream.push(ev)
	}

	if len(s.sinks) == 0 {
		return
	}

	if s.r.opts.RedactEventPayloads {
		ev = redactEvent(ev)
	}

	s.sinks.Publish(ctx, ev)
}

func (s *runState) publishDelta(ctx context.Context, d core.Delta) {
	ev := core.NewEvent(s.rc.RunID, core.EventRawDelta, s.current.Name())
	ev.Turn = s.turn
	ev.Delta = &d
	s.publish(ctx, ev)
}

// redactEvent replaces the content of the event's payload.
func redactEvent(ev core.Event) core.Event {
	if ev.Delta != nil {
		d := *ev.Delta
		d.Text = tracing.Redacted
		ev.Delta = &d
	}

	switch it := ev.Item.(type) {
	case core.UserMessage:
		it.Content = tracing.Redacted
		ev.Item = it
	case core.AssistantMessage:
		it.Content = tracing.Redacted
		it.Annotations = nil
		ev.Item = it
	case core.CapabilityInvocation:
		it.Arguments = tracing.Redacted
		ev.Item = it
	case core.CapabilityResult:
		it.Output = tracing.Redacted
		if it.Error != "" {
			it.Error = tracing.Redacted
		}
		ev.Item = it
	case core.ReasoningTrace:
		it.Content = tracing.Redacted
		ev.Item = it
	}

	return ev
}
