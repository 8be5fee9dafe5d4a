package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/hupe1980/orchestra/agent"
	"github.com/hupe1980/orchestra/core"
	"github.com/hupe1980/orchestra/flow"
	"github.com/hupe1980/orchestra/guardrail"
	"github.com/hupe1980/orchestra/logging"
	"github.com/hupe1980/orchestra/model"
	"github.com/hupe1980/orchestra/tracing"
)

// Runner drives agents through turns until a final output is produced or
// the run fails. Public methods are safe for concurrent use; every run owns
// its own state.
type Runner struct {
	opts Options
	sem  *semaphore.Weighted

	activeRuns map[string]context.CancelFunc
	mu         sync.RWMutex
}

// New constructs a Runner with optional overrides.
func New(optFns ...func(o *Options)) *Runner {
	opts := Options{
		MaxTurns:        DefaultMaxTurns,
		EventBufferSize: 100,
		Logger:          logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	opts.Logger = logging.OrNoOp(opts.Logger)
	if opts.RequestProcessors == nil {
		opts.RequestProcessors = flow.DefaultRequestProcessors()
	}
	if opts.MaxTurns <= 0 {
		opts.MaxTurns = DefaultMaxTurns
	}
	if opts.EventBufferSize <= 0 {
		opts.EventBufferSize = 100
	}

	r := &Runner{
		opts:       opts,
		activeRuns: make(map[string]context.CancelFunc),
	}
	if opts.MaxConcurrentRuns > 0 {
		r.sem = semaphore.NewWeighted(int64(opts.MaxConcurrentRuns))
	}

	return r
}

// Run executes start with a single user message and blocks until the run ends.
func (r *Runner) Run(ctx context.Context, start *agent.Agent, input string, optFns ...func(o *RunOptions)) (*Result, error) {
	return r.RunItems(ctx, start, core.UserInput(input), optFns...)
}

// RunItems executes start with an item list, typically the ToInputList of a
// previous Result. The returned Result is never nil once the run started;
// on error it describes the partial progress.
func (r *Runner) RunItems(ctx context.Context, start *agent.Agent, input []core.Item, optFns ...func(o *RunOptions)) (*Result, error) {
	return r.execute(ctx, start, input, optFns, nil)
}

// Cancel cancels an active run by ID.
func (r *Runner) Cancel(runID string) error {
	r.mu.RLock()
	cancel, exists := r.activeRuns[runID]
	r.mu.RUnlock()

	if !exists {
		return fmt.Errorf("run %s not found", runID)
	}

	cancel()

	return nil
}

// ActiveRuns reports the number of runs in progress.
func (r *Runner) ActiveRuns() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.activeRuns)
}

type runnerKey struct{}

func withRunner(ctx context.Context, r *Runner) context.Context {
	return context.WithValue(ctx, runnerKey{}, r)
}

func runnerFromContext(ctx context.Context) *Runner {
	r, _ := ctx.Value(runnerKey{}).(*Runner)
	return r
}

func (r *Runner) execute(ctx context.Context, start *agent.Agent, input []core.Item, optFns []func(o *RunOptions), stream *eventQueue) (*Result, error) {
	opts := RunOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}

	runID := core.NewID()
	res := &Result{RunID: runID, Input: core.CloneItems(input), LastAgent: start}

	if start == nil {
		return res, errors.New("starting agent is nil")
	}

	// Nested runs started by agent tools already hold a slot of their parent.
	if r.sem != nil && runnerFromContext(ctx) == nil {
		if err := r.sem.Acquire(ctx, 1); err != nil {
			return res, &core.CancelledError{Cause: err}
		}
		defer r.sem.Release(1)
	}

	ctx, cancel := context.WithCancel(withRunner(ctx, r))
	defer cancel()

	r.mu.Lock()
	r.activeRuns[runID] = cancel
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		delete(r.activeRuns, runID)
		r.mu.Unlock()
	}()

	s, err := r.newRunState(ctx, runID, start, input, opts, stream)
	if err != nil {
		return res, err
	}

	output, err := s.run(ctx)

	return s.result(output), err
}

// runState is the mutable state of one run. It is owned by the run's
// goroutine; capability goroutines only touch it through publish.
type runState struct {
	r    *Runner
	opts RunOptions

	rc        *core.RunContext
	log       *logging.RunLogger
	tracer    *tracing.Tracer
	sinks     core.MultiSink
	stream    *eventQueue
	callbacks *CallbackManager
	executor  *flow.Executor
	guards    *guardrail.Executor

	registry *agent.Registry
	current  *agent.Agent
	limiter  *core.TurnLimiter
	maxTurns int
	turn     int

	callerInput []core.Item
	input       []core.Item
	newItems    []core.Item
	visible     []core.Item

	// usedTools records agents that invoked a capability, for the tool choice reset.
	usedTools map[string]bool

	inputResults  []guardrail.Result
	outputResults []guardrail.Result

	// cancelGeneration aborts the generation racing the input gates. Set only
	// while RunInput is in flight.
	cancelGeneration context.CancelFunc
}

func (r *Runner) newRunState(ctx context.Context, runID string, start *agent.Agent, input []core.Item, opts RunOptions, stream *eventQueue) (*runState, error) {
	if err := start.Validate(); err != nil {
		return nil, err
	}

	registry, err := agent.NewRegistry(start)
	if err != nil {
		return nil, err
	}
	if r.opts.Registry != nil {
		if registry, err = r.opts.Registry.Merge(registry); err != nil {
			return nil, err
		}
	}

	maxTurns := r.opts.MaxTurns
	if opts.MaxTurns > 0 {
		maxTurns = opts.MaxTurns
	}

	log := logging.NewRunLogger(r.opts.Logger, runID)

	s := &runState{
		r:           r,
		opts:        opts,
		rc:          core.NewRunContext(runID, opts.Context, log.Logger()),
		log:         log,
		tracer:      r.opts.Tracer,
		sinks:       core.MultiSink(r.opts.Sinks),
		stream:      stream,
		callbacks:   mergeCallbacks(r.opts.Callbacks, opts.Callbacks),
		registry:    registry,
		current:     start,
		limiter:     core.NewTurnLimiter(maxTurns),
		maxTurns:    maxTurns,
		callerInput: core.CloneItems(input),
		usedTools:   make(map[string]bool),
	}

	s.input = core.CloneItems(input)
	if opts.Session != nil {
		history, err := opts.Session.GetItems(ctx, opts.SessionID, 0)
		if err != nil {
			return nil, fmt.Errorf("load session %q: %w", opts.SessionID, err)
		}
		s.input = append(history, s.input...)
	}
	s.visible = core.CloneItems(s.input)

	s.executor = flow.NewExecutor(func(o *flow.ExecutorOptions) {
		o.MaxParallel = r.opts.MaxParallelTools
		o.Timeout = r.opts.ToolTimeout
		o.Logger = log
		o.Tracer = r.opts.Tracer
		o.Sink = core.EventSinkFunc(s.publish)
		if s.callbacks != nil {
			o.Hooks = s.callbacks
		}
	})

	s.guards = guardrail.NewExecutor(func(o *guardrail.Options) {
		o.Logger = log.Logger()
		o.Observer = s.observeGuardrail
		o.OnTrip = func(stage guardrail.Stage, _ string) {
			if stage == guardrail.StageInput && s.cancelGeneration != nil {
				s.cancelGeneration()
			}
		}
	})

	return s, nil
}

func (s *runState) run(ctx context.Context) (output any, err error) {
	started := time.Now()

	ctx, span := s.tracer.Start(ctx, tracing.KindRun, s.current.Name())
	span.Set("run_id", s.rc.RunID)
	span.Set("max_turns", s.maxTurns)

	s.log.Info("run.started", "agent", s.current.Name(), "max_turns", s.maxTurns)
	s.publish(ctx, core.NewEvent(s.rc.RunID, core.EventRunStarted, s.current.Name()))

	defer func() {
		if err != nil && ctx.Err() != nil && !errors.Is(err, core.ErrCancelled) && !core.IsTripwire(err) {
			err = &core.CancelledError{Cause: ctx.Err()}
		}

		dur := time.Since(started)

		span.Set("last_agent", s.current.Name())
		span.Set("turns", s.limiter.Count())
		span.SetError(err)
		span.End(ctx)

		ev := core.NewEvent(s.rc.RunID, core.EventRunFinished, s.current.Name())
		ev.Turn = s.limiter.Count()
		ev.Duration = dur
		if err != nil {
			ev.Err = err.Error()
		}
		s.publish(ctx, ev)

		s.log.LogRunFinished(s.current.Name(), s.limiter.Count(), dur, err)
	}()

	output, err = s.loop(ctx)
	if err != nil {
		return nil, err
	}

	if s.opts.Session != nil {
		items := append(core.CloneItems(s.callerInput), s.newItems...)
		if err := s.opts.Session.AddItems(ctx, s.opts.SessionID, items); err != nil {
			return nil, fmt.Errorf("save session %q: %w", s.opts.SessionID, err)
		}
	}

	return output, nil
}

type turnOutcome struct {
	next   *agent.Agent
	final  bool
	output any
}

func (s *runState) loop(ctx context.Context) (any, error) {
	var previous string

	for {
		if err := s.startAgent(ctx, previous); err != nil {
			return nil, err
		}

		outcome, err := s.runAgent(ctx)
		if err != nil {
			return nil, err
		}

		if outcome.final {
			return outcome.output, nil
		}

		previous = s.current.Name()
		s.current = outcome.next
	}
}

func (s *runState) startAgent(ctx context.Context, previous string) error {
	ev := core.NewEvent(s.rc.RunID, core.EventAgentChanged, s.current.Name())
	ev.PreviousAgent = previous
	s.publish(ctx, ev)

	return s.callbacks.ExecuteCallbacks(ctx, CallbackAgentStart, &CallbackContext{
		RunContext: s.rc,
		Agent:      s.current.Name(),
		Turn:       s.turn,
		From:       previous,
	})
}

// runAgent runs turns of the current agent until it produces a final output
// or delegates.
func (s *runState) runAgent(ctx context.Context) (turnOutcome, error) {
	for {
		if err := s.limiter.Increment(); err != nil {
			return turnOutcome{}, &core.MaxTurnsExceededError{MaxTurns: s.maxTurns, Items: s.itemLog()}
		}
		s.turn = s.limiter.Count()

		comp, err := s.generate(ctx)
		if err != nil {
			return turnOutcome{}, err
		}

		calls := s.recordOutput(ctx, comp.Output)

		if len(calls) == 0 {
			output, err := s.finalOutput(comp.Output)
			if err != nil {
				return turnOutcome{}, err
			}
			return s.complete(ctx, output)
		}

		outcome, err := s.processCalls(ctx, calls)
		if err != nil {
			return turnOutcome{}, err
		}

		switch {
		case outcome.final:
			return s.complete(ctx, outcome.output)
		case outcome.next != nil:
			return outcome, nil
		}
	}
}

func (s *runState) resolveModel(a *agent.Agent) (model.Model, error) {
	if s.opts.Model != nil {
		return s.opts.Model, nil
	}
	if m := a.Model(); m != nil {
		return m, nil
	}
	if s.r.opts.ModelProvider == nil {
		return nil, fmt.Errorf("no model configured for agent %q", a.Name())
	}
	return s.r.opts.ModelProvider.Resolve(a.ModelName())
}

func (s *runState) inputGuardrails() []guardrail.InputGuardrail {
	gates := s.current.InputGuardrails()
	return append(gates, s.opts.InputGuardrails...)
}

// generate performs the turn's generation call. The first generation of a
// run races the input gates.
func (s *runState) generate(ctx context.Context) (*model.Completion, error) {
	a := s.current

	m, err := s.resolveModel(a)
	if err != nil {
		return nil, &core.ModelBackendError{Agent: a.Name(), Model: a.ModelName(), Err: err}
	}
	modelName := m.Info().Name

	st := &flow.TurnState{
		Agent:           a,
		RunContext:      s.rc,
		Items:           s.visible,
		Settings:        s.opts.ModelSettings,
		ToolChoiceReset: s.usedTools[a.Name()] && a.ResetToolChoice(),
		Stream:          s.stream != nil,
	}

	req, err := flow.BuildRequest(ctx, st, s.r.opts.RequestProcessors)
	if err != nil {
		return nil, fmt.Errorf("build request for agent %q: %w", a.Name(), err)
	}

	if err := s.callbacks.ExecuteCallbacks(ctx, CallbackBeforeModel, &CallbackContext{
		RunContext: s.rc,
		Agent:      a.Name(),
		Turn:       s.turn,
		Request:    &req,
	}); err != nil {
		return nil, err
	}

	genCtx, span := s.tracer.Start(ctx, tracing.KindGeneration, a.Name())
	span.Set("model", modelName)
	span.Set("turn", s.turn)
	span.Set("tools", len(req.Tools))
	span.SetSensitive("instructions", req.Instructions)

	started := time.Now()

	var comp *model.Completion

	if s.turn == 1 && len(s.inputGuardrails()) > 0 {
		comp, err = s.generateGuarded(genCtx, m, req)
	} else {
		comp, err = s.collect(genCtx, m, req, func(d core.Delta) { s.publishDelta(genCtx, d) })
	}

	dur := time.Since(started)

	if err != nil {
		span.SetError(err)
		span.End(genCtx)
		s.log.LogGeneration(a.Name(), modelName, s.turn, 0, dur, err)

		switch {
		case core.IsTripwire(err), errors.Is(err, core.ErrCancelled), errors.Is(err, core.ErrGuardrailCheck):
			return nil, err
		case ctx.Err() != nil:
			return nil, &core.CancelledError{Cause: ctx.Err()}
		}

		return nil, &core.ModelBackendError{Agent: a.Name(), Model: modelName, Err: err}
	}

	tokens := 0
	if comp.Usage != nil {
		u := comp.Usage.CoreUsage()
		s.rc.AddUsage(u)
		tokens = u.TotalTokens
	}

	span.Set("finish_reason", comp.FinishReason)
	span.Set("tokens", tokens)
	span.SetSensitive("output", comp.Output.Text)
	span.End(genCtx)

	s.log.LogGeneration(a.Name(), modelName, s.turn, tokens, dur, nil)

	if err := s.callbacks.ExecuteCallbacks(ctx, CallbackAfterModel, &CallbackContext{
		RunContext: s.rc,
		Agent:      a.Name(),
		Turn:       s.turn,
		Completion: comp,
	}); err != nil {
		return nil, err
	}

	return comp, nil
}

func (s *runState) collect(ctx context.Context, m model.Model, req model.Request, onDelta func(core.Delta)) (*model.Completion, error) {
	if t := s.r.opts.GenerationTimeout; t > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t)
		defer cancel()
	}
	return model.Collect(ctx, m, req, onDelta)
}

// generateGuarded runs the first generation concurrently with the input
// gates. Deltas are held back until every gate passed; when a gate trips the
// generation is cancelled at once and its result discarded.
func (s *runState) generateGuarded(ctx context.Context, m model.Model, req model.Request) (*model.Completion, error) {
	genCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mu       sync.Mutex
		buffered []core.Delta
	)

	type generation struct {
		comp *model.Completion
		err  error
	}

	done := make(chan generation, 1)

	go func() {
		comp, err := s.collect(genCtx, m, req, func(d core.Delta) {
			mu.Lock()
			buffered = append(buffered, d)
			mu.Unlock()
		})
		done <- generation{comp: comp, err: err}
	}()

	s.cancelGeneration = cancel
	results, err := s.guards.RunInput(ctx, s.inputGuardrails(), s.rc, s.current.Name(), s.callerInput)
	s.cancelGeneration = nil
	s.inputResults = results

	if err != nil {
		cancel()
		<-done
		return nil, err
	}

	gen := <-done

	mu.Lock()
	deltas := buffered
	buffered = nil
	mu.Unlock()

	for _, d := range deltas {
		s.publishDelta(ctx, d)
	}

	return gen.comp, gen.err
}

// recordOutput appends the generation's items to the log and returns the
// capability invocations in model order.
func (s *runState) recordOutput(ctx context.Context, out model.Output) []core.CapabilityInvocation {
	name := s.current.Name()

	var items []core.Item

	if out.Reasoning != "" {
		items = append(items, core.ReasoningTrace{Agent: name, Content: out.Reasoning})
	}

	text := out.Text
	if text == "" && len(out.Structured) > 0 {
		text = string(out.Structured)
	}

	var message *core.AssistantMessage
	if text != "" {
		message = &core.AssistantMessage{Agent: name, Content: text, Annotations: out.Annotations}
		items = append(items, *message)
	}

	calls := make([]core.CapabilityInvocation, 0, len(out.ToolCalls))
	for i, tc := range out.ToolCalls {
		id := tc.ID
		if id == "" {
			id = fmt.Sprintf("call_%d_%d", s.turn, i)
		}
		call := core.CapabilityInvocation{ID: id, Agent: name, Name: tc.Name, Arguments: tc.Arguments}
		calls = append(calls, call)
		items = append(items, call)
	}

	s.append(items...)

	if message != nil {
		ev := core.NewEvent(s.rc.RunID, core.EventMessageProduced, name)
		ev.Item = *message
		s.publish(ctx, ev)
	}

	return calls
}

func (s *runState) finalOutput(out model.Output) (any, error) {
	ot := s.current.OutputType()
	if ot == nil {
		return out.Text, nil
	}

	raw := string(out.Structured)
	if raw == "" {
		raw = out.Text
	}

	v, err := ot.Parse(raw)
	if err != nil {
		return nil, &core.OutputShapeValidationError{Agent: s.current.Name(), Raw: raw, Err: err}
	}

	return v, nil
}

// complete runs the output gates on a final output.
func (s *runState) complete(ctx context.Context, output any) (turnOutcome, error) {
	gates := append(s.current.OutputGuardrails(), s.opts.OutputGuardrails...)

	if len(gates) > 0 {
		results, err := s.guards.RunOutput(ctx, gates, s.rc, s.current.Name(), output)
		s.outputResults = results
		if err != nil {
			return turnOutcome{}, err
		}
	}

	if err := s.callbacks.ExecuteCallbacks(ctx, CallbackAgentEnd, &CallbackContext{
		RunContext: s.rc,
		Agent:      s.current.Name(),
		Turn:       s.turn,
		Output:     output,
	}); err != nil {
		return turnOutcome{}, err
	}

	return turnOutcome{final: true, output: output}, nil
}

func (s *runState) append(items ...core.Item) {
	s.newItems = append(s.newItems, items...)
	s.visible = append(s.visible, items...)
}

func (s *runState) itemLog() []core.Item {
	out := make([]core.Item, 0, len(s.input)+len(s.newItems))
	out = append(out, s.input...)
	out = append(out, s.newItems...)
	return core.CloneItems(out)
}

func (s *runState) result(output any) *Result {
	return &Result{
		RunID:                  s.rc.RunID,
		Input:                  core.CloneItems(s.input),
		NewItems:               core.CloneItems(s.newItems),
		FinalOutput:            output,
		LastAgent:              s.current,
		TurnsUsed:              s.limiter.Count(),
		InputGuardrailResults:  s.inputResults,
		OutputGuardrailResults: s.outputResults,
		Usage:                  s.rc.Usage(),
	}
}

func (s *runState) observeGuardrail(ctx context.Context, stage guardrail.Stage, name string) (context.Context, func(guardrail.Verdict, error)) {
	ctx, span := s.tracer.Start(ctx, tracing.KindGuardrail, name)
	span.Set("stage", string(stage))
	span.Set("agent", s.current.Name())

	return ctx, func(v guardrail.Verdict, err error) {
		span.Set("triggered", v.TripwireTriggered)
		span.SetError(err)
		span.End(ctx)
		s.log.LogGuardrail(string(stage), name, v.TripwireTriggered, err)
	}
}
