package core

import (
	"encoding/json"
	"fmt"
)

// ItemType discriminates the closed set of conversation item variants.
type ItemType string

const (
	// ItemTypeUserMessage marks caller supplied input.
	ItemTypeUserMessage ItemType = "user_message"
	// ItemTypeAssistantMessage marks model produced text.
	ItemTypeAssistantMessage ItemType = "assistant_message"
	// ItemTypeCapabilityInvocation marks a capability request made by the model.
	ItemTypeCapabilityInvocation ItemType = "capability_invocation"
	// ItemTypeCapabilityResult marks the outcome of a capability invocation.
	ItemTypeCapabilityResult ItemType = "capability_result"
	// ItemTypeDelegation marks a control transfer between agents.
	ItemTypeDelegation ItemType = "delegation"
	// ItemTypeReasoning marks an opaque reasoning trace emitted by the model.
	ItemTypeReasoning ItemType = "reasoning"
)

// Item is one entry of the append-only conversation log. Concrete item types
// implement the unexported isItem marker enabling a closed set.
type Item interface {
	ItemType() ItemType
	isItem()
}

// Annotation is provider supplied metadata attached to assistant text
// (citations, file references).
type Annotation struct {
	Type       string `json:"type"`
	Text       string `json:"text,omitempty"`
	URL        string `json:"url,omitempty"`
	Title      string `json:"title,omitempty"`
	StartIndex int    `json:"start_index,omitempty"`
	EndIndex   int    `json:"end_index,omitempty"`
}

// UserMessage is caller supplied input text.
type UserMessage struct {
	Content string `json:"content"`
}

// ItemType implements Item.
func (UserMessage) ItemType() ItemType { return ItemTypeUserMessage }
func (UserMessage) isItem()            {}

// AssistantMessage is text produced by an agent's model.
type AssistantMessage struct {
	Agent       string       `json:"agent,omitempty"`
	Content     string       `json:"content"`
	Annotations []Annotation `json:"annotations,omitempty"`
}

// ItemType implements Item.
func (AssistantMessage) ItemType() ItemType { return ItemTypeAssistantMessage }
func (AssistantMessage) isItem()            {}

// CapabilityInvocation is a model request to invoke a named capability.
// Arguments holds the raw serialized argument payload as produced by the model.
type CapabilityInvocation struct {
	ID        string `json:"id"`
	Agent     string `json:"agent,omitempty"`
	Name      string `json:"name"`
	Arguments string `json:"arguments,omitempty"`
}

// ItemType implements Item.
func (CapabilityInvocation) ItemType() ItemType { return ItemTypeCapabilityInvocation }
func (CapabilityInvocation) isItem()            {}

// CapabilityResult records the outcome of the invocation with the matching ID.
// Exactly one of Output and Error is meaningful.
type CapabilityResult struct {
	InvocationID string `json:"invocation_id"`
	Agent        string `json:"agent,omitempty"`
	Name         string `json:"name"`
	Output       any    `json:"output,omitempty"`
	Error        string `json:"error,omitempty"`
}

// ItemType implements Item.
func (CapabilityResult) ItemType() ItemType { return ItemTypeCapabilityResult }
func (CapabilityResult) isItem()            {}

// Failed reports whether the result carries an error.
func (r CapabilityResult) Failed() bool { return r.Error != "" }

// Text renders the result the way it is presented to a model: the error text
// for failures, strings verbatim and everything else as JSON.
func (r CapabilityResult) Text() string {
	if r.Failed() {
		return r.Error
	}

	switch v := r.Output.(type) {
	case nil:
		return ""
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	}

	b, err := json.Marshal(r.Output)
	if err != nil {
		return fmt.Sprintf("%v", r.Output)
	}

	return string(b)
}

// DelegationEvent records control moving from one agent to another.
type DelegationEvent struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// ItemType implements Item.
func (DelegationEvent) ItemType() ItemType { return ItemTypeDelegation }
func (DelegationEvent) isItem()            {}

// ReasoningTrace is an opaque reasoning summary emitted by the model.
type ReasoningTrace struct {
	Agent   string `json:"agent,omitempty"`
	Content string `json:"content"`
}

// ItemType implements Item.
func (ReasoningTrace) ItemType() ItemType { return ItemTypeReasoning }
func (ReasoningTrace) isItem()            {}

// UserInput wraps plain text as a single-item input list.
func UserInput(text string) []Item {
	return []Item{UserMessage{Content: text}}
}

// CloneItems returns a shallow copy of items so callers can append without
// aliasing the source slice.
func CloneItems(items []Item) []Item {
	out := make([]Item, len(items))
	copy(out, items)
	return out
}

// FilterItems returns the items for which keep reports true, preserving order.
func FilterItems(items []Item, keep func(Item) bool) []Item {
	out := make([]Item, 0, len(items))
	for _, it := range items {
		if keep(it) {
			out = append(out, it)
		}
	}
	return out
}

// CountItems returns how many items have the given type.
func CountItems(items []Item, t ItemType) int {
	n := 0
	for _, it := range items {
		if it.ItemType() == t {
			n++
		}
	}
	return n
}

// DropOrphanResults removes capability results whose invocation is not part
// of items. It is used after cutting a window out of a longer history.
func DropOrphanResults(items []Item) []Item {
	seen := make(map[string]bool)

	return FilterItems(items, func(it Item) bool {
		switch v := it.(type) {
		case CapabilityInvocation:
			seen[v.ID] = true
		case CapabilityResult:
			return seen[v.InvocationID]
		}
		return true
	})
}

// ValidatePairing checks that every CapabilityResult answers exactly one
// earlier, not yet answered CapabilityInvocation.
func ValidatePairing(items []Item) error {
	open := map[string]bool{}

	for i, it := range items {
		switch v := it.(type) {
		case CapabilityInvocation:
			if _, seen := open[v.ID]; seen {
				return fmt.Errorf("item %d: duplicate invocation id %q", i, v.ID)
			}
			open[v.ID] = true
		case CapabilityResult:
			pending, seen := open[v.InvocationID]
			if !seen {
				return fmt.Errorf("item %d: result for unknown invocation %q", i, v.InvocationID)
			}
			if !pending {
				return fmt.Errorf("item %d: invocation %q already answered", i, v.InvocationID)
			}
			open[v.InvocationID] = false
		}
	}

	return nil
}
