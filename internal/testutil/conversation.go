package testutil

import (
	"fmt"

	"github.com/hupe1980/orchestra/core"
)

// ConversationBuilder provides a fluent helper for constructing item logs in tests.
// Example:
//
//	items := NewConversation("converter").
//		User("convert 100 USD").
//		Call("convert", `{"amount":100}`).
//		Result("90 EUR").
//		Assistant("100 USD is 90 EUR").
//		Build()
//
// Invocation IDs are generated as call_1, call_2, ... unless CallID is used.
type ConversationBuilder struct {
	agent   string
	items   []core.Item
	pending []core.CapabilityInvocation
	seq     int
}

// NewConversation creates a builder whose agent items are attributed to agent.
func NewConversation(agent string) *ConversationBuilder {
	return &ConversationBuilder{agent: agent}
}

// As switches the agent subsequent items are attributed to (chainable).
func (b *ConversationBuilder) As(agent string) *ConversationBuilder { b.agent = agent; return b }

// User appends a user message (chainable).
func (b *ConversationBuilder) User(text string) *ConversationBuilder {
	b.items = append(b.items, core.UserMessage{Content: text})
	return b
}

// Assistant appends an assistant message (chainable).
func (b *ConversationBuilder) Assistant(text string) *ConversationBuilder {
	b.items = append(b.items, core.AssistantMessage{Agent: b.agent, Content: text})
	return b
}

// Reasoning appends a reasoning trace (chainable).
func (b *ConversationBuilder) Reasoning(text string) *ConversationBuilder {
	b.items = append(b.items, core.ReasoningTrace{Agent: b.agent, Content: text})
	return b
}

// Call appends an invocation with a generated ID (chainable).
func (b *ConversationBuilder) Call(name, args string) *ConversationBuilder {
	b.seq++
	return b.CallID(fmt.Sprintf("call_%d", b.seq), name, args)
}

// CallID appends an invocation with an explicit ID (chainable).
func (b *ConversationBuilder) CallID(id, name, args string) *ConversationBuilder {
	inv := core.CapabilityInvocation{ID: id, Agent: b.agent, Name: name, Arguments: args}
	b.items = append(b.items, inv)
	b.pending = append(b.pending, inv)
	return b
}

// Result answers the oldest unanswered invocation (chainable).
func (b *ConversationBuilder) Result(output any) *ConversationBuilder {
	inv := b.next()
	b.items = append(b.items, core.CapabilityResult{InvocationID: inv.ID, Agent: b.agent, Name: inv.Name, Output: output})
	return b
}

// Failure answers the oldest unanswered invocation with an error (chainable).
func (b *ConversationBuilder) Failure(msg string) *ConversationBuilder {
	inv := b.next()
	b.items = append(b.items, core.CapabilityResult{InvocationID: inv.ID, Agent: b.agent, Name: inv.Name, Error: msg})
	return b
}

// Handoff appends a delegation from the current agent to target and
// attributes subsequent items to target (chainable).
func (b *ConversationBuilder) Handoff(target string) *ConversationBuilder {
	b.items = append(b.items, core.DelegationEvent{From: b.agent, To: target})
	b.agent = target
	return b
}

// Build returns a copy of the accumulated items.
func (b *ConversationBuilder) Build() []core.Item {
	return core.CloneItems(b.items)
}

func (b *ConversationBuilder) next() core.CapabilityInvocation {
	if len(b.pending) == 0 {
		panic("testutil: result without a pending invocation")
	}
	inv := b.pending[0]
	b.pending = b.pending[1:]
	return inv
}
