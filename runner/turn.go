package runner

import (
	"context"
	"fmt"

	"github.com/hupe1980/orchestra/core"
	"github.com/hupe1980/orchestra/flow"
	"github.com/hupe1980/orchestra/handoff"
	"github.com/hupe1980/orchestra/tool"
	"github.com/hupe1980/orchestra/tracing"
)

// processCalls executes the capability invocations of one turn. Function
// capabilities run first; a delegation, if requested, resolves afterwards.
// Results are appended in the order the model requested the invocations.
func (s *runState) processCalls(ctx context.Context, calls []core.CapabilityInvocation) (turnOutcome, error) {
	a := s.current

	var (
		invocations []flow.Invocation
		positions   []int
		results     = make([]*core.CapabilityResult, len(calls))
		delegation  = -1
		selected    *handoff.Handoff
	)

	for i, call := range calls {
		if h, ok := a.FindHandoff(call.Name); ok && h.Enabled(ctx, s.rc) {
			if delegation < 0 {
				delegation, selected = i, h
				continue
			}

			results[i] = &core.CapabilityResult{
				InvocationID: call.ID,
				Agent:        a.Name(),
				Name:         call.Name,
				Error:        fmt.Sprintf("Multiple handoffs detected, ignoring handoff to %s.", h.Target()),
			}
			continue
		}

		var t tool.Tool
		if ft, ok := a.FindTool(call.Name); ok && tool.Enabled(ctx, s.rc, ft) {
			t = ft
		}

		invocations = append(invocations, flow.Invocation{Call: call, Tool: t})
		positions = append(positions, i)
	}

	s.usedTools[a.Name()] = true

	executed, err := s.executor.Execute(ctx, s.rc, flow.Batch{
		Agent:       a.Name(),
		Turn:        s.turn,
		Invocations: invocations,
		Sequential:  delegation >= 0,
	})
	if err != nil {
		// partial batches are compacted, so place them by invocation id
		for j := range executed {
			for _, p := range positions {
				if calls[p].ID == executed[j].InvocationID {
					results[p] = &executed[j]
					break
				}
			}
		}
		s.appendResults(results)
		return turnOutcome{}, err
	}

	for j := range executed {
		results[positions[j]] = &executed[j]
	}

	if delegation < 0 {
		s.appendResults(results)

		decision, err := a.ToolUseBehavior().Decide(ctx, s.rc, executed)
		if err != nil {
			return turnOutcome{}, fmt.Errorf("tool use behavior of agent %q: %w", a.Name(), err)
		}

		if decision.IsFinal {
			return turnOutcome{final: true, output: decision.FinalOutput}, nil
		}

		return turnOutcome{}, nil
	}

	return s.delegate(ctx, calls, results, delegation, selected)
}

// delegate resolves the turn's delegation and switches the visible history
// to the filtered view of the target agent.
func (s *runState) delegate(ctx context.Context, calls []core.CapabilityInvocation, results []*core.CapabilityResult, idx int, h *handoff.Handoff) (turnOutcome, error) {
	from := s.current.Name()
	call := calls[idx]

	ctx, span := s.tracer.Start(ctx, tracing.KindDelegation, from+" -> "+h.Target())
	span.Set("from", from)
	span.Set("to", h.Target())
	span.Set("invocation_id", call.ID)
	defer span.End(ctx)

	fail := func(err error) (turnOutcome, error) {
		span.SetError(err)
		results[idx] = &core.CapabilityResult{
			InvocationID: call.ID,
			Agent:        from,
			Name:         call.Name,
			Error:        err.Error(),
		}
		s.appendResults(results)
		return turnOutcome{}, err
	}

	target, ok := s.registry.Lookup(h.Target())
	if !ok {
		return fail(&core.HandoffResolutionError{From: from, Target: h.Target(), Reason: "unknown agent"})
	}

	if err := target.Validate(); err != nil {
		return fail(&core.HandoffResolutionError{From: from, Target: h.Target(), Reason: "invalid agent", Err: err})
	}

	prior := make([]core.Item, 0, len(s.visible)+len(results))
	for _, it := range s.visible {
		if inv, ok := it.(core.CapabilityInvocation); ok && inv.ID == call.ID {
			continue
		}
		prior = append(prior, it)
	}
	for i, r := range results {
		if i != idx && r != nil {
			prior = append(prior, *r)
		}
	}

	res, err := handoff.Resolve(ctx, s.rc, handoff.Request{
		From:          from,
		Handoff:       h,
		Invocation:    call,
		Prior:         prior,
		DefaultFilter: s.opts.HandoffInputFilter,
	})
	if err != nil {
		return fail(err)
	}

	for _, it := range res.NewItems {
		switch v := it.(type) {
		case core.CapabilityResult:
			results[idx] = &v
		case core.DelegationEvent:
			s.appendResults(results)
			s.newItems = append(s.newItems, v)

			ev := core.NewEvent(s.rc.RunID, core.EventDelegationOccurred, v.To)
			ev.PreviousAgent = from
			ev.Item = v
			s.publish(ctx, ev)
		}
	}

	s.visible = res.Visible
	s.log.LogDelegation(from, target.Name())

	if err := s.callbacks.ExecuteCallbacks(ctx, CallbackAgentEnd, &CallbackContext{
		RunContext: s.rc,
		Agent:      from,
		Turn:       s.turn,
		To:         target.Name(),
	}); err != nil {
		return turnOutcome{}, err
	}

	if err := s.callbacks.ExecuteCallbacks(ctx, CallbackOnHandoff, &CallbackContext{
		RunContext: s.rc,
		Agent:      from,
		Turn:       s.turn,
		From:       from,
		To:         target.Name(),
	}); err != nil {
		return turnOutcome{}, err
	}

	return turnOutcome{next: target}, nil
}

// appendResults appends the non-nil results in order to the item log and
// the visible history.
func (s *runState) appendResults(results []*core.CapabilityResult) {
	for _, r := range results {
		if r != nil {
			s.append(*r)
		}
	}
}
