package runner

import (
	"time"

	"github.com/hupe1980/orchestra/agent"
	"github.com/hupe1980/orchestra/core"
	"github.com/hupe1980/orchestra/flow"
	"github.com/hupe1980/orchestra/guardrail"
	"github.com/hupe1980/orchestra/handoff"
	"github.com/hupe1980/orchestra/logging"
	"github.com/hupe1980/orchestra/model"
	"github.com/hupe1980/orchestra/tracing"
)

// DefaultMaxTurns bounds runs that do not configure a limit.
const DefaultMaxTurns = 10

// Options holds dependency and configuration overrides passed to New.
type Options struct {
	// ModelProvider resolves agent model names. Agents carrying a Model
	// instance bypass it.
	ModelProvider model.Provider
	// Registry holds agents reachable by handoff in addition to the peers
	// of the starting agent.
	Registry *agent.Registry
	Logger   logging.Logger
	Tracer   *tracing.Tracer
	// Sinks receive every semantic event of every run.
	Sinks []core.EventSink
	// RedactEventPayloads replaces item content in events handed to Sinks.
	RedactEventPayloads bool
	// Callbacks apply to every run.
	Callbacks *CallbackManager
	// RequestProcessors assemble each generation request.
	RequestProcessors []flow.RequestProcessor
	// MaxTurns is the default turn limit of a run.
	MaxTurns int
	// MaxParallelTools caps concurrently executing capabilities per turn.
	MaxParallelTools int
	// GenerationTimeout bounds every generation call. Zero disables it.
	GenerationTimeout time.Duration
	// ToolTimeout bounds every capability unless the tool sets its own.
	ToolTimeout time.Duration
	// MaxConcurrentRuns limits simultaneous top-level runs. Values < 1 mean unlimited.
	MaxConcurrentRuns int
	// EventBufferSize sizes the channel returned by Stream.Events.
	EventBufferSize int
}

// RunOptions configure a single run.
type RunOptions struct {
	// Context is the caller value exposed through core.RunContext.
	Context any
	// MaxTurns overrides Options.MaxTurns when > 0.
	MaxTurns int
	// Session, when set, supplies history and stores the run's new items.
	Session   core.SessionStore
	SessionID string
	// Callbacks run after the runner's own callbacks.
	Callbacks *CallbackManager
	// Model replaces the model of every agent in the run.
	Model model.Model
	// InputGuardrails are evaluated in addition to the starting agent's.
	InputGuardrails []guardrail.InputGuardrail
	// OutputGuardrails are evaluated in addition to the final agent's.
	OutputGuardrails []guardrail.OutputGuardrail
	// HandoffInputFilter applies to handoffs without a filter of their own.
	HandoffInputFilter handoff.Filter
	// ModelSettings override agent settings for the whole run, including
	// the tool choice.
	ModelSettings model.Settings
}

// WithContext sets the RunContext value.
func WithContext(v any) func(o *RunOptions) {
	return func(o *RunOptions) { o.Context = v }
}

// WithMaxTurns sets the turn limit of the run.
func WithMaxTurns(n int) func(o *RunOptions) {
	return func(o *RunOptions) { o.MaxTurns = n }
}

// WithSession continues the conversation stored under sessionID.
func WithSession(store core.SessionStore, sessionID string) func(o *RunOptions) {
	return func(o *RunOptions) {
		o.Session = store
		o.SessionID = sessionID
	}
}

// WithCallbacks adds run-scoped callbacks.
func WithCallbacks(cm *CallbackManager) func(o *RunOptions) {
	return func(o *RunOptions) { o.Callbacks = cm }
}

// WithModel overrides the model of every agent in the run.
func WithModel(m model.Model) func(o *RunOptions) {
	return func(o *RunOptions) { o.Model = m }
}

// WithInputGuardrails adds run-level input gates.
func WithInputGuardrails(gates ...guardrail.InputGuardrail) func(o *RunOptions) {
	return func(o *RunOptions) { o.InputGuardrails = append(o.InputGuardrails, gates...) }
}

// WithOutputGuardrails adds run-level output gates.
func WithOutputGuardrails(gates ...guardrail.OutputGuardrail) func(o *RunOptions) {
	return func(o *RunOptions) { o.OutputGuardrails = append(o.OutputGuardrails, gates...) }
}

// WithHandoffInputFilter sets the default handoff history filter.
func WithHandoffInputFilter(f handoff.Filter) func(o *RunOptions) {
	return func(o *RunOptions) { o.HandoffInputFilter = f }
}

// WithToolChoice overrides the tool choice of every agent in the run.
func WithToolChoice(choice string) func(o *RunOptions) {
	return func(o *RunOptions) { o.ModelSettings.ToolChoice = choice }
}

// WithModelSettings overrides agent model settings for the run.
func WithModelSettings(s model.Settings) func(o *RunOptions) {
	return func(o *RunOptions) { o.ModelSettings = o.ModelSettings.Merge(s) }
}
