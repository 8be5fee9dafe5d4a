package flow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/hupe1980/orchestra/core"
	"github.com/hupe1980/orchestra/logging"
	"github.com/hupe1980/orchestra/tool"
	"github.com/hupe1980/orchestra/tracing"
)

// CapabilityHooks observe capability execution. A returned error aborts the run.
type CapabilityHooks interface {
	BeforeCapability(ctx context.Context, rc *core.RunContext, agentName string, call core.CapabilityInvocation) error
	AfterCapability(ctx context.Context, rc *core.RunContext, agentName string, call core.CapabilityInvocation, result core.CapabilityResult) error
}

// ExecutorOptions configure an Executor.
type ExecutorOptions struct {
	// MaxParallel caps concurrently running invocations. Values < 1 mean unlimited.
	MaxParallel int
	// Timeout bounds each invocation unless the tool sets its own. Zero disables it.
	Timeout time.Duration
	Logger  *logging.RunLogger
	Tracer  *tracing.Tracer
	Hooks   CapabilityHooks
	Sink    core.EventSink
}

// Executor executes the capability invocations of one turn. Implementations must:
//   - Respect ctx cancellation
//   - Never panic (recover internally and surface a failed result)
//   - Produce exactly one CapabilityResult per incoming invocation, in request order
type Executor struct {
	opts ExecutorOptions
}

// NewExecutor constructs an Executor.
func NewExecutor(optFns ...func(o *ExecutorOptions)) *Executor {
	opts := ExecutorOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewRunLogger(nil, "")
	}
	return &Executor{opts: opts}
}

// Invocation pairs a model request with the descriptor it resolved to. A nil
// Tool marks an unknown capability.
type Invocation struct {
	Call core.CapabilityInvocation
	Tool tool.Tool
}

// Batch is the set of invocations of one turn.
type Batch struct {
	Agent       string
	Turn        int
	Invocations []Invocation
	// Sequential disables concurrency, used when the turn also contains a handoff.
	Sequential bool
}

// Execute runs the batch. Results are returned in request order. The error is
// run-fatal: a propagated capability failure, a hook failure or cancellation.
// On error the results of invocations that completed are still returned.
func (e *Executor) Execute(ctx context.Context, rc *core.RunContext, b Batch) ([]core.CapabilityResult, error) {
	n := len(b.Invocations)
	if n == 0 {
		return nil, nil
	}

	start := time.Now()

	results := make([]core.CapabilityResult, n)
	done := make([]bool, n)

	maxPar := e.opts.MaxParallel
	if maxPar <= 0 || maxPar > n {
		maxPar = n
	}
	if b.Sequential {
		maxPar = 1
	}

	sem := semaphore.NewWeighted(int64(maxPar))
	g, gctx := errgroup.WithContext(ctx)

	for i, inv := range b.Invocations {
		if err := sem.Acquire(gctx, 1); err != nil {
			break
		}

		i, inv := i, inv
		g.Go(func() error {
			defer sem.Release(1)

			res, err := e.invoke(gctx, rc, b, inv)
			if err != nil {
				return err
			}

			results[i] = res
			done[i] = true
			return nil
		})
	}

	err := g.Wait()

	if ctx.Err() != nil {
		return completed(results, done), &core.CancelledError{Cause: ctx.Err()}
	}

	if err != nil {
		return completed(results, done), err
	}

	e.opts.Logger.Debug("agent.functions.batch.complete",
		"agent", b.Agent,
		"count", n,
		"parallelism", maxPar,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return results, nil
}

func completed(results []core.CapabilityResult, done []bool) []core.CapabilityResult {
	out := make([]core.CapabilityResult, 0, len(results))
	for i, r := range results {
		if done[i] {
			out = append(out, r)
		}
	}
	return out
}

// invoke executes one invocation. A non-nil error is fatal for the run.
func (e *Executor) invoke(ctx context.Context, rc *core.RunContext, b Batch, inv Invocation) (core.CapabilityResult, error) {
	call := inv.Call
	result := core.CapabilityResult{InvocationID: call.ID, Agent: b.Agent, Name: call.Name}

	ctx, span := e.opts.Tracer.Start(ctx, tracing.KindCapability, call.Name)
	defer span.End(ctx)

	span.Set("invocation_id", call.ID)
	span.Set("agent", b.Agent)
	span.SetSensitive("arguments", call.Arguments)

	e.publish(ctx, rc, b, core.EventCapabilityInvoked, call, nil, 0)

	if e.opts.Hooks != nil {
		if err := e.opts.Hooks.BeforeCapability(ctx, rc, b.Agent, call); err != nil {
			span.SetError(err)
			return result, fmt.Errorf("before capability hook: %w", err)
		}
	}

	started := time.Now()
	output, err := e.run(ctx, rc, b.Agent, inv)
	dur := time.Since(started)

	if err != nil {
		span.SetError(err)

		if ctx.Err() != nil {
			return result, &core.CancelledError{Cause: ctx.Err()}
		}

		if inv.Tool != nil && tool.OptionsOf(inv.Tool).FailurePolicy == tool.FailurePropagate {
			e.opts.Logger.LogCapabilityCall(b.Agent, call.Name, call.ID, dur, err)
			return result, err
		}

		result.Error = tool.FailureMessage(inv.Tool, unwrapTaxonomy(err))
	} else {
		result.Output = output
	}

	e.opts.Logger.LogCapabilityCall(b.Agent, call.Name, call.ID, dur, err)
	span.SetSensitive("output", result.Text())

	e.publish(ctx, rc, b, core.EventCapabilityCompleted, call, &result, dur)

	if e.opts.Hooks != nil {
		if err := e.opts.Hooks.AfterCapability(ctx, rc, b.Agent, call, result); err != nil {
			return result, fmt.Errorf("after capability hook: %w", err)
		}
	}

	return result, nil
}

// run validates and executes an invocation, returning taxonomy errors.
func (e *Executor) run(ctx context.Context, rc *core.RunContext, agentName string, inv Invocation) (any, error) {
	call := inv.Call

	if inv.Tool == nil {
		return nil, &core.CapabilityExecutionError{
			Capability:   call.Name,
			InvocationID: call.ID,
			Err:          tool.NewError(call.Name, fmt.Sprintf("tool %s not found", call.Name), tool.CodeNotFound),
		}
	}

	args, err := parseArguments(call.Arguments)
	if err == nil {
		err = tool.ValidateArguments(inv.Tool, args)
	}
	if err != nil {
		return nil, &core.ToolArgumentValidationError{
			Capability:   call.Name,
			InvocationID: call.ID,
			Err:          tool.WrapError(call.Name, tool.CodeValidation, err),
		}
	}

	timeout := e.opts.Timeout
	if t := tool.OptionsOf(inv.Tool).Timeout; t > 0 {
		timeout = t
	}

	callCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	tc := core.NewToolContext(callCtx, rc, agentName, call.ID, call.Name)

	type outcome struct {
		value any
		err   error
	}

	ch := make(chan outcome, 1)

	go func() {
		var o outcome
		defer func() {
			if r := recover(); r != nil {
				o = outcome{err: panicError(r)}
				tc.LogError("agent.function.panic", "recover", r)
			}
			ch <- o
		}()
		o.value, o.err = inv.Tool.Call(tc, args)
	}()

	select {
	case o := <-ch:
		if o.err != nil {
			if errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
				return nil, timeoutError(call, timeout)
			}
			return nil, &core.CapabilityExecutionError{Capability: call.Name, InvocationID: call.ID, Err: o.err}
		}
		return o.value, nil
	case <-callCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, timeoutError(call, timeout)
	}
}

func timeoutError(call core.CapabilityInvocation, timeout time.Duration) error {
	return &core.CapabilityExecutionError{
		Capability:   call.Name,
		InvocationID: call.ID,
		Err:          tool.NewError(call.Name, fmt.Sprintf("timed out after %s", timeout), tool.CodeTimeout),
	}
}

// unwrapTaxonomy strips the taxonomy wrapper so the model sees the tool error.
func unwrapTaxonomy(err error) error {
	var (
		verr *core.ToolArgumentValidationError
		xerr *core.CapabilityExecutionError
	)
	switch {
	case errors.As(err, &verr) && verr.Err != nil:
		return verr.Err
	case errors.As(err, &xerr) && xerr.Err != nil:
		return xerr.Err
	}
	return err
}

func parseArguments(raw string) (map[string]any, error) {
	args := map[string]any{}
	if raw == "" {
		return args, nil
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, fmt.Errorf("failed to unmarshal args: %w", err)
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}

func (e *Executor) publish(ctx context.Context, rc *core.RunContext, b Batch, typ core.EventType, call core.CapabilityInvocation, res *core.CapabilityResult, dur time.Duration) {
	if e.opts.Sink == nil {
		return
	}

	runID := ""
	if rc != nil {
		runID = rc.RunID
	}

	ev := core.NewEvent(runID, typ, b.Agent)
	ev.Turn = b.Turn
	ev.Item = call
	if res != nil {
		ev.Item = *res
		ev.Duration = dur
		ev.Err = res.Error
	}

	e.opts.Sink.Publish(ctx, ev)
}

// panicError converts a recovered panic value to an error.
func panicError(r any) error { return &PanicError{Value: r, Stack: debug.Stack()} }

// PanicError is returned for capabilities that panicked.
type PanicError struct {
	Value any
	Stack []byte
}

func (p *PanicError) Error() string { return fmt.Sprintf("panic recovered: %v", p.Value) }
