package handoff

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/hupe1980/orchestra/core"
)

// Request describes one handoff invocation to resolve.
type Request struct {
	From       string
	Handoff    *Handoff
	Invocation core.CapabilityInvocation
	// Prior holds the items visible to the delegating agent, excluding the invocation.
	Prior []core.Item
	// DefaultFilter applies when the handoff has no filter of its own.
	DefaultFilter Filter
}

// Resolution is the outcome of a resolved handoff.
type Resolution struct {
	To string
	// NewItems are appended to the run's item log: the invocation result and
	// the delegation event.
	NewItems []core.Item
	// Visible are the items the target agent sees on its next generation.
	Visible []core.Item
}

// Resolve runs OnInitiate, applies the history filter and emits the
// delegation event. Failures are returned as *core.HandoffResolutionError.
func Resolve(ctx context.Context, rc *core.RunContext, req Request) (*Resolution, error) {
	h := req.Handoff
	if h == nil {
		return nil, &core.HandoffResolutionError{From: req.From, Target: req.Invocation.Name, Reason: "no handoff descriptor"}
	}

	fail := func(reason string, err error) error {
		return &core.HandoffResolutionError{From: req.From, Target: h.Target(), Reason: reason, Err: err}
	}

	args := map[string]any{}
	if req.Invocation.Arguments != "" {
		if err := json.Unmarshal([]byte(req.Invocation.Arguments), &args); err != nil {
			return nil, fail("invalid arguments", err)
		}
	}

	if err := h.validate(args); err != nil {
		return nil, fail("argument shape mismatch", err)
	}

	if h.opts.OnInitiate != nil {
		if err := h.opts.OnInitiate(ctx, rc, args); err != nil {
			return nil, fail("on initiate failed", err)
		}
	}

	result := core.CapabilityResult{
		InvocationID: req.Invocation.ID,
		Agent:        req.From,
		Name:         req.Invocation.Name,
		Output:       map[string]any{"assistant": h.Target()},
	}

	event := core.DelegationEvent{From: req.From, To: h.Target()}

	history := make([]core.Item, 0, len(req.Prior)+2)
	history = append(history, req.Prior...)
	history = append(history, req.Invocation, result)

	filter := h.Filter()
	if filter == nil {
		filter = req.DefaultFilter
	}

	visible := core.CloneItems(history)
	if filter != nil {
		visible = filter(visible)
		if err := core.ValidatePairing(visible); err != nil {
			return nil, fail("filter broke invocation pairing", fmt.Errorf("filter output: %w", err))
		}
		visible = keepDelegations(history, visible)
	}

	visible = append(visible, event)

	return &Resolution{
		To:       h.Target(),
		NewItems: []core.Item{result, event},
		Visible:  visible,
	}, nil
}

// keepDelegations puts back the delegation events a filter dropped. Each one
// lands before the first surviving item that followed it in history.
func keepDelegations(history, filtered []core.Item) []core.Item {
	out := make([]core.Item, 0, len(filtered)+core.CountItems(history, core.ItemTypeDelegation))
	next := 0

	restoreUpTo := func(idx int) {
		for ; next < idx; next++ {
			if ev, ok := history[next].(core.DelegationEvent); ok {
				out = append(out, ev)
			}
		}
	}

	for _, it := range filtered {
		if idx := indexFrom(history, next, it); idx >= 0 {
			restoreUpTo(idx)
			next = idx + 1
		}
		out = append(out, it)
	}

	restoreUpTo(len(history))

	return out
}

func indexFrom(items []core.Item, start int, target core.Item) int {
	for i := start; i < len(items); i++ {
		if reflect.DeepEqual(items[i], target) {
			return i
		}
	}
	return -1
}
