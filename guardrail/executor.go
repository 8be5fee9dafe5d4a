package guardrail

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/orchestra/core"
	"github.com/hupe1980/orchestra/logging"
)

// Observer is notified when a gate starts. The returned function is called
// with the verdict when the gate completes. It is used for tracing.
type Observer func(ctx context.Context, stage Stage, name string) (context.Context, func(v Verdict, err error))

// Options configure an Executor.
type Options struct {
	Logger   logging.Logger
	Observer Observer
	// OnTrip is called once per evaluation as soon as a gate trips, before
	// the remaining gates have returned.
	OnTrip func(stage Stage, name string)
}

// Executor evaluates guardrail sets concurrently.
type Executor struct {
	opts Options
}

// NewExecutor creates an Executor.
func NewExecutor(optFns ...func(o *Options)) *Executor {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	opts.Logger = logging.OrNoOp(opts.Logger)
	return &Executor{opts: opts}
}

// RunInput evaluates input gates against the run's initial input. When a
// gate trips the returned error is a *core.InputGuardrailTripwireError. A
// gate that fails without a verdict yields a *core.GuardrailCheckError.
func (e *Executor) RunInput(ctx context.Context, gates []InputGuardrail, rc *core.RunContext, agentName string, input []core.Item) ([]Result, error) {
	checks := make([]gate, len(gates))
	for i, g := range gates {
		g := g
		checks[i] = gate{name: g.Name, check: func(ctx context.Context) (Verdict, error) {
			return g.Check(ctx, rc, agentName, core.CloneItems(input))
		}}
	}

	results, tripped, err := e.evaluate(ctx, StageInput, agentName, checks)
	if err != nil {
		return results, err
	}

	if tripped != nil {
		return results, &core.InputGuardrailTripwireError{
			Guardrail:  tripped.Guardrail,
			Agent:      agentName,
			Annotation: tripped.Verdict.Annotation,
		}
	}

	return results, nil
}

// RunOutput evaluates output gates against a candidate final output. When a
// gate trips the returned error is a *core.OutputGuardrailTripwireError.
func (e *Executor) RunOutput(ctx context.Context, gates []OutputGuardrail, rc *core.RunContext, agentName string, output any) ([]Result, error) {
	checks := make([]gate, len(gates))
	for i, g := range gates {
		g := g
		checks[i] = gate{name: g.Name, check: func(ctx context.Context) (Verdict, error) {
			return g.Check(ctx, rc, agentName, output)
		}}
	}

	results, tripped, err := e.evaluate(ctx, StageOutput, agentName, checks)
	if err != nil {
		return results, err
	}

	if tripped != nil {
		return results, &core.OutputGuardrailTripwireError{
			Guardrail:  tripped.Guardrail,
			Agent:      agentName,
			Output:     output,
			Annotation: tripped.Verdict.Annotation,
		}
	}

	return results, nil
}

type gate struct {
	name  string
	check func(ctx context.Context) (Verdict, error)
}

type gateOutcome struct {
	done    bool
	verdict Verdict
}

// evaluate runs all gates concurrently. The first tripwire or check error
// cancels the remaining gates. Results are returned in gate order and only
// for gates that completed.
func (e *Executor) evaluate(ctx context.Context, stage Stage, agentName string, gates []gate) ([]Result, *Result, error) {
	if len(gates) == 0 {
		return nil, nil, nil
	}

	parent := ctx

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	outcomes := make([]gateOutcome, len(gates))

	var (
		tripOnce sync.Once
		tripIdx  = -1
	)

	g, gctx := errgroup.WithContext(ctx)

	for i, gt := range gates {
		i, gt := i, gt

		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = &core.GuardrailCheckError{
						Stage:     string(stage),
						Guardrail: gt.name,
						Agent:     agentName,
						Err:       fmt.Errorf("panicked: %v", r),
					}
				}
			}()

			checkCtx := gctx
			var finish func(Verdict, error)
			if e.opts.Observer != nil {
				checkCtx, finish = e.opts.Observer(gctx, stage, gt.name)
			}

			v, err := gt.check(checkCtx)

			if finish != nil {
				finish(v, err)
			}

			if err != nil {
				if gctx.Err() != nil {
					// Cancelled by a sibling tripwire or the caller.
					return nil
				}
				return &core.GuardrailCheckError{Stage: string(stage), Guardrail: gt.name, Agent: agentName, Err: err}
			}

			outcomes[i] = gateOutcome{done: true, verdict: v}

			e.opts.Logger.Debug("guardrail.checked",
				"stage", string(stage), "guardrail", gt.name, "agent", agentName, "tripwire", v.TripwireTriggered)

			if v.TripwireTriggered {
				tripOnce.Do(func() {
					tripIdx = i
					cancel()
					if e.opts.OnTrip != nil {
						e.opts.OnTrip(stage, gt.name)
					}
				})
			}

			return nil
		})
	}

	err := g.Wait()

	results := make([]Result, 0, len(gates))
	for i, o := range outcomes {
		if !o.done {
			continue
		}
		results = append(results, Result{Guardrail: gates[i].name, Stage: stage, Agent: agentName, Verdict: o.verdict})
	}

	if tripIdx >= 0 {
		tripped := Result{Guardrail: gates[tripIdx].name, Stage: stage, Agent: agentName, Verdict: outcomes[tripIdx].verdict}
		return results, &tripped, nil
	}

	if err != nil {
		return results, nil, err
	}

	if parent.Err() != nil {
		return results, nil, &core.CancelledError{Cause: parent.Err()}
	}

	return results, nil, nil
}
