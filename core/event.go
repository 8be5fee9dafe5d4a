package core

import (
	"context"
	"sync"
	"time"
)

// EventType names a semantic run event.
type EventType string

const (
	// EventRunStarted is published once when a run begins.
	EventRunStarted EventType = "run_started"
	// EventAgentChanged is published when an agent becomes active.
	EventAgentChanged EventType = "agent_changed"
	// EventCapabilityInvoked is published when a capability starts executing.
	EventCapabilityInvoked EventType = "capability_invoked"
	// EventCapabilityCompleted is published when a capability finished.
	EventCapabilityCompleted EventType = "capability_completed"
	// EventMessageProduced is published for every assistant message item.
	EventMessageProduced EventType = "message_produced"
	// EventDelegationOccurred is published after a handoff resolved.
	EventDelegationOccurred EventType = "delegation_occurred"
	// EventRawDelta carries an unmodified streaming delta from the model backend.
	EventRawDelta EventType = "raw_delta"
	// EventRunFinished is published once when a run terminates.
	EventRunFinished EventType = "run_finished"
)

// DeltaKind discriminates streaming deltas.
type DeltaKind string

const (
	// DeltaText is an output text fragment.
	DeltaText DeltaKind = "text"
	// DeltaCapabilityArguments is a fragment of capability invocation arguments.
	DeltaCapabilityArguments DeltaKind = "capability_arguments"
	// DeltaReasoning is a reasoning summary fragment.
	DeltaReasoning DeltaKind = "reasoning"
	// DeltaStructured is a fragment of structured (JSON) output.
	DeltaStructured DeltaKind = "structured"
)

// Delta is one incremental fragment of a streamed generation. ItemIndex and
// PartIndex locate the fragment within the output being assembled.
type Delta struct {
	ItemIndex    int       `json:"item_index"`
	PartIndex    int       `json:"part_index"`
	Kind         DeltaKind `json:"kind"`
	Text         string    `json:"text,omitempty"`
	InvocationID string    `json:"invocation_id,omitempty"`
	Name         string    `json:"name,omitempty"`
}

// Event is a semantic notification about run progress. Only the fields
// relevant for the Type are populated.
type Event struct {
	ID            string        `json:"id"`
	RunID         string        `json:"run_id"`
	Type          EventType     `json:"type"`
	Agent         string        `json:"agent,omitempty"`
	PreviousAgent string        `json:"previous_agent,omitempty"`
	Turn          int           `json:"turn,omitempty"`
	Item          Item          `json:"-"`
	Delta         *Delta        `json:"delta,omitempty"`
	Duration      time.Duration `json:"duration,omitempty"`
	Err           string        `json:"error,omitempty"`
	Timestamp     time.Time     `json:"timestamp"`
}

// NewEvent creates an event of the given type for a run.
func NewEvent(runID string, typ EventType, agent string) Event {
	return Event{
		ID:        NewID(),
		RunID:     runID,
		Type:      typ,
		Agent:     agent,
		Timestamp: time.Now().UTC(),
	}
}

// EventSink receives semantic events. Implementations must be safe for
// concurrent use and must not block for long; they never influence control flow.
type EventSink interface {
	Publish(ctx context.Context, ev Event)
}

// EventSinkFunc adapts a function to the EventSink interface.
type EventSinkFunc func(ctx context.Context, ev Event)

// Publish implements EventSink.
func (f EventSinkFunc) Publish(ctx context.Context, ev Event) { f(ctx, ev) }

// MultiSink fans events out to every contained sink in order.
type MultiSink []EventSink

// Publish implements EventSink.
func (m MultiSink) Publish(ctx context.Context, ev Event) {
	for _, s := range m {
		if s != nil {
			s.Publish(ctx, ev)
		}
	}
}

// RecordingSink keeps every published event in memory.
type RecordingSink struct {
	mu     sync.Mutex
	events []Event
}

// Publish implements EventSink.
func (r *RecordingSink) Publish(_ context.Context, ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

// Events returns a copy of the recorded events.
func (r *RecordingSink) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// OfType returns the recorded events with the given type.
func (r *RecordingSink) OfType(t EventType) []Event {
	var out []Event
	for _, ev := range r.Events() {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}
