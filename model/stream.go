package model

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"

	"github.com/hupe1980/orchestra/core"
)

// ErrIncompleteStream is returned when a model closes its response channel
// without sending a completed Response.
var ErrIncompleteStream = errors.New("model stream ended without completion")

// Accumulator reconstructs an Output from streaming deltas.
type Accumulator struct {
	text       strings.Builder
	structured strings.Builder
	reasoning  strings.Builder
	calls      map[int]*ToolCall
}

// NewAccumulator creates an empty Accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{calls: map[int]*ToolCall{}}
}

// Add folds one delta into the accumulated output.
func (a *Accumulator) Add(d core.Delta) {
	switch d.Kind {
	case core.DeltaText:
		a.text.WriteString(d.Text)
	case core.DeltaStructured:
		a.structured.WriteString(d.Text)
	case core.DeltaReasoning:
		a.reasoning.WriteString(d.Text)
	case core.DeltaCapabilityArguments:
		c, ok := a.calls[d.ItemIndex]
		if !ok {
			c = &ToolCall{}
			a.calls[d.ItemIndex] = c
		}
		if d.InvocationID != "" {
			c.ID = d.InvocationID
		}
		if d.Name != "" {
			c.Name = d.Name
		}
		c.Arguments += d.Text
	}
}

// Empty reports whether no delta has been accumulated.
func (a *Accumulator) Empty() bool {
	return a.text.Len() == 0 && a.structured.Len() == 0 && a.reasoning.Len() == 0 && len(a.calls) == 0
}

// Output returns the reconstructed output. Capability calls are ordered by item index.
func (a *Accumulator) Output() Output {
	out := Output{Text: a.text.String(), Reasoning: a.reasoning.String()}
	if a.structured.Len() > 0 {
		out.Structured = json.RawMessage(a.structured.String())
	}

	idx := make([]int, 0, len(a.calls))
	for i := range a.calls {
		idx = append(idx, i)
	}
	sort.Ints(idx)

	for _, i := range idx {
		out.ToolCalls = append(out.ToolCalls, *a.calls[i])
	}

	return out
}

// Completion is the collected result of one generation call.
type Completion struct {
	ID           string
	Output       Output
	FinishReason string
	Usage        *TokenUsage
}

// Collect drives m.Generate to completion. Every partial delta is passed to
// onDelta unchanged (onDelta may be nil) and folded into an Accumulator, which
// fills in the output when the completed Response carries none.
func Collect(ctx context.Context, m Model, req Request, onDelta func(core.Delta)) (*Completion, error) {
	respCh, errCh := m.Generate(ctx, req)

	acc := NewAccumulator()

	var final *Response

	for respCh != nil || errCh != nil {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case resp, ok := <-respCh:
			if !ok {
				respCh = nil
				continue
			}
			if resp.Partial {
				if resp.Delta != nil {
					acc.Add(*resp.Delta)
					if onDelta != nil {
						onDelta(*resp.Delta)
					}
				}
				continue
			}
			r := resp
			final = &r
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if err != nil {
				return nil, err
			}
		}
	}

	if final == nil {
		return nil, ErrIncompleteStream
	}

	out := final.Output
	if out.IsEmpty() && !acc.Empty() {
		out = acc.Output()
	}

	return &Completion{ID: final.ID, Output: out, FinishReason: final.FinishReason, Usage: final.Usage}, nil
}
