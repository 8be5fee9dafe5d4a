// Package orchestra provides a high-level façade over the runner and its
// supporting services (sessions, logging, tracing and event sinks) for
// building multi-agent systems. Most applications interact with this
// package by:
//  1. Creating an Orchestra via New() (optionally overriding the default in-memory session store)
//  2. Registering the agents that may start a run
//  3. Running an agent synchronously (Run), streamed (RunStreamed) or
//     collecting its events (RunCollect)
//
// The façade delegates orchestration to runner.Runner. Runs that carry a
// session ID load and persist their conversation through the session store.
package orchestra

import (
	"context"
	"fmt"
	"time"

	"github.com/hupe1980/orchestra/agent"
	"github.com/hupe1980/orchestra/core"
	"github.com/hupe1980/orchestra/logging"
	"github.com/hupe1980/orchestra/model"
	"github.com/hupe1980/orchestra/runner"
	"github.com/hupe1980/orchestra/session"
	"github.com/hupe1980/orchestra/tracing"
)

// Options configures the Orchestra instance.
type Options struct {
	// ModelProvider resolves the model names referenced by agents.
	ModelProvider model.Provider

	// SessionStore persists conversations of runs started with a session ID.
	// Defaults to an in-memory store.
	SessionStore core.SessionStore

	// Sinks receive the semantic events of every run.
	Sinks []core.EventSink

	Logger logging.Logger
	Tracer *tracing.Tracer

	// MaxTurns bounds every run. Zero uses runner.DefaultMaxTurns.
	MaxTurns int
	// MaxConcurrentRuns limits simultaneous runs. Zero means unlimited.
	MaxConcurrentRuns int
	// GenerationTimeout bounds each model generation. Zero disables it.
	GenerationTimeout time.Duration

	// RunnerOptions are applied after the fields above.
	RunnerOptions []func(o *runner.Options)
}

// Orchestra is the high-level façade aggregating the runner, the agent
// registry and the session store.
type Orchestra struct {
	opts     Options
	registry *agent.Registry
	runner   *runner.Runner
}

// New creates a new Orchestra instance with optional overrides.
func New(optFns ...func(o *Options)) *Orchestra {
	opts := Options{
		SessionStore: session.NewInMemoryStore(),
		Logger:       logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	registry, _ := agent.NewRegistry()

	fns := []func(o *runner.Options){
		func(o *runner.Options) {
			o.ModelProvider = opts.ModelProvider
			o.Registry = registry
			o.Logger = opts.Logger
			o.Tracer = opts.Tracer
			o.Sinks = opts.Sinks
			o.MaxTurns = opts.MaxTurns
			o.MaxConcurrentRuns = opts.MaxConcurrentRuns
			o.GenerationTimeout = opts.GenerationTimeout
		},
	}
	fns = append(fns, opts.RunnerOptions...)

	return &Orchestra{
		opts:     opts,
		registry: registry,
		runner:   runner.New(fns...),
	}
}

// RegisterAgent makes a and its peers available by name.
func (o *Orchestra) RegisterAgent(a *agent.Agent) error {
	if err := a.Validate(); err != nil {
		return err
	}
	return o.registry.Register(a)
}

// Agents returns the names of the registered agents.
func (o *Orchestra) Agents() []string { return o.registry.Names() }

// Runner exposes the underlying runner.
func (o *Orchestra) Runner() *runner.Runner { return o.runner }

// Run executes the named agent and blocks until the run ends. A non-empty
// sessionID prepends the stored conversation and saves the new items.
func (o *Orchestra) Run(ctx context.Context, sessionID, agentName, input string, optFns ...func(o *runner.RunOptions)) (*runner.Result, error) {
	a, err := o.lookup(agentName)
	if err != nil {
		return nil, err
	}
	return o.runner.Run(ctx, a, input, o.runOptions(sessionID, optFns)...)
}

// RunStreamed starts the named agent in the background.
func (o *Orchestra) RunStreamed(ctx context.Context, sessionID, agentName, input string, optFns ...func(o *runner.RunOptions)) (*runner.Stream, error) {
	a, err := o.lookup(agentName)
	if err != nil {
		return nil, err
	}
	return o.runner.RunStreamed(ctx, a, input, o.runOptions(sessionID, optFns)...), nil
}

// RunCollect streams the named agent, drains its events and returns them
// together with the result.
func (o *Orchestra) RunCollect(ctx context.Context, sessionID, agentName, input string, optFns ...func(o *runner.RunOptions)) ([]core.Event, *runner.Result, error) {
	stream, err := o.RunStreamed(ctx, sessionID, agentName, input, optFns...)
	if err != nil {
		return nil, nil, err
	}

	var events []core.Event
	for ev := range stream.Events() {
		events = append(events, ev)
	}

	res, err := stream.Wait()
	return events, res, err
}

// History returns the stored conversation of a session.
func (o *Orchestra) History(ctx context.Context, sessionID string) ([]core.Item, error) {
	return o.opts.SessionStore.GetItems(ctx, sessionID, 0)
}

func (o *Orchestra) lookup(name string) (*agent.Agent, error) {
	a, ok := o.registry.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("agent %q not registered", name)
	}
	return a, nil
}

func (o *Orchestra) runOptions(sessionID string, optFns []func(o *runner.RunOptions)) []func(o *runner.RunOptions) {
	if sessionID == "" {
		return optFns
	}

	fns := []func(ro *runner.RunOptions){runner.WithSession(o.opts.SessionStore, sessionID)}
	return append(fns, optFns...)
}
