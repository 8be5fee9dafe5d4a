// Package modeltest provides a deterministic, scripted model.Model for tests
// and examples. Each Generate call consumes the next scripted Turn.
package modeltest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/orchestra/core"
	"github.com/hupe1980/orchestra/model"
)

// Turn is one scripted answer.
type Turn struct {
	Output model.Output
	Err    error
	Usage  *model.TokenUsage
	// Delay holds the answer back; cancellation of the request context wins.
	Delay time.Duration
	// Block waits until the request context is cancelled.
	Block bool
}

// Text answers with plain text.
func Text(s string) Turn { return Turn{Output: model.Output{Text: s}} }

// Structured answers with structured JSON output.
func Structured(js string) Turn { return Turn{Output: model.Output{Structured: []byte(js)}} }

// Calls answers with capability invocation requests.
func Calls(calls ...model.ToolCall) Turn { return Turn{Output: model.Output{ToolCalls: calls}} }

// Call builds a single capability invocation request.
func Call(id, name, args string) model.ToolCall {
	return model.ToolCall{ID: id, Name: name, Arguments: args}
}

// Failure answers with a backend error.
func Failure(err error) Turn { return Turn{Err: err} }

// Model is a scripted model.Model. It is safe for concurrent use.
type Model struct {
	mu       sync.Mutex
	turns    []Turn
	repeat   bool
	respond  func(call int, req model.Request) Turn
	requests []model.Request
	name     string
}

// New creates a Model answering with the given turns in order.
func New(turns ...Turn) *Model {
	return &Model{turns: turns, name: "scripted"}
}

// NewFunc creates a Model whose answers are computed from the request.
// call is the zero based index of the Generate call.
func NewFunc(fn func(call int, req model.Request) Turn) *Model {
	return &Model{respond: fn, name: "scripted"}
}

// RepeatLast makes the model answer with the last turn once the script is exhausted.
func (m *Model) RepeatLast() *Model {
	m.repeat = true
	return m
}

// WithName sets the name reported by Info.
func (m *Model) WithName(name string) *Model {
	m.name = name
	return m
}

// Requests returns a copy of every request received so far.
func (m *Model) Requests() []model.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Request, len(m.requests))
	copy(out, m.requests)
	return out
}

// CallCount returns the number of Generate calls received.
func (m *Model) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// Info implements model.Model.
func (m *Model) Info() model.Info {
	return model.Info{Name: m.name, Provider: "scripted", SupportsTools: true}
}

func (m *Model) next(req model.Request) (Turn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	call := len(m.requests)
	req.Items = core.CloneItems(req.Items)
	m.requests = append(m.requests, req)

	if m.respond != nil {
		return m.respond(call, req), nil
	}

	switch {
	case call < len(m.turns):
		return m.turns[call], nil
	case m.repeat && len(m.turns) > 0:
		return m.turns[len(m.turns)-1], nil
	default:
		return Turn{}, fmt.Errorf("script exhausted after %d turns", len(m.turns))
	}
}

// Generate implements model.Model. Streaming requests receive word sized
// text deltas and one arguments delta per capability call before the
// completed response.
func (m *Model) Generate(ctx context.Context, req model.Request) (<-chan model.Response, <-chan error) {
	out := make(chan model.Response, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		turn, err := m.next(req)
		if err != nil {
			errCh <- err
			return
		}

		if turn.Block {
			<-ctx.Done()
			errCh <- ctx.Err()
			return
		}

		if turn.Delay > 0 {
			t := time.NewTimer(turn.Delay)
			defer t.Stop()
			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			case <-t.C:
			}
		}

		if turn.Err != nil {
			errCh <- turn.Err
			return
		}

		if req.Stream {
			for _, d := range deltas(turn.Output) {
				d := d
				select {
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				case out <- model.Response{Partial: true, Delta: &d}:
				}
			}
		}

		finish := "stop"
		if len(turn.Output.ToolCalls) > 0 {
			finish = "tool_calls"
		}

		out <- model.Response{Output: turn.Output, FinishReason: finish, Usage: turn.Usage}
	}()

	return out, errCh
}

func deltas(o model.Output) []core.Delta {
	var ds []core.Delta
	item := 0

	if o.Reasoning != "" {
		ds = append(ds, core.Delta{ItemIndex: item, Kind: core.DeltaReasoning, Text: o.Reasoning})
		item++
	}

	if o.Text != "" {
		words := strings.SplitAfter(o.Text, " ")
		for i, w := range words {
			ds = append(ds, core.Delta{ItemIndex: item, PartIndex: i, Kind: core.DeltaText, Text: w})
		}
		item++
	}

	if len(o.Structured) > 0 {
		ds = append(ds, core.Delta{ItemIndex: item, Kind: core.DeltaStructured, Text: string(o.Structured)})
		item++
	}

	for _, c := range o.ToolCalls {
		ds = append(ds, core.Delta{
			ItemIndex:    item,
			Kind:         core.DeltaCapabilityArguments,
			Text:         c.Arguments,
			InvocationID: c.ID,
			Name:         c.Name,
		})
		item++
	}

	return ds
}
