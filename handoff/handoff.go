package handoff

import (
	"context"
	"fmt"
	"sync"

	"github.com/hupe1980/orchestra/core"
	"github.com/hupe1980/orchestra/internal/util"
)

// InitiateFunc is called with the parsed invocation arguments before control
// moves to the target agent. A returned error fails the run.
type InitiateFunc func(ctx context.Context, rc *core.RunContext, args map[string]any) error

// Options configure a Handoff.
type Options struct {
	// ToolName overrides the default "transfer_to_<target>" name.
	ToolName string
	// ToolDescription overrides the default description.
	ToolDescription string
	// InputSchema is the JSON schema of data the model must supply. Nil means no arguments.
	InputSchema map[string]any
	// OnInitiate runs before the switch.
	OnInitiate InitiateFunc
	// InputFilter decides which prior items the target agent sees.
	InputFilter Filter
	// IsEnabled hides the handoff from the model for a run when it returns false.
	IsEnabled func(ctx context.Context, rc *core.RunContext) bool
}

// Handoff is an immutable delegation descriptor.
type Handoff struct {
	target string
	opts   Options

	once      sync.Once
	validator *util.Validator
	schemaErr error
}

// New creates a handoff to the agent registered under target.
func New(target string, optFns ...func(o *Options)) *Handoff {
	opts := Options{}
	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.ToolName == "" {
		opts.ToolName = DefaultToolName(target)
	}

	if opts.ToolDescription == "" {
		opts.ToolDescription = DefaultToolDescription(target, "")
	}

	return &Handoff{target: target, opts: opts}
}

// DefaultToolName returns the capability name used for a handoff to target.
func DefaultToolName(target string) string {
	return "transfer_to_" + util.SnakeCase(target)
}

// DefaultToolDescription returns the capability description used for a
// handoff to target. desc is the optional handoff description of the target.
func DefaultToolDescription(target, desc string) string {
	d := fmt.Sprintf("Handoff to the %s agent to handle the request.", target)
	if desc != "" {
		d += " " + desc
	}
	return d
}

// Target returns the target agent name.
func (h *Handoff) Target() string { return h.target }

// Name returns the capability name presented to the model.
func (h *Handoff) Name() string { return h.opts.ToolName }

// Description returns the capability description presented to the model.
func (h *Handoff) Description() string { return h.opts.ToolDescription }

// Parameters returns the argument schema presented to the model.
func (h *Handoff) Parameters() map[string]any {
	if h.opts.InputSchema != nil {
		return h.opts.InputSchema
	}
	return map[string]any{"type": "object", "properties": map[string]any{}, "additionalProperties": false}
}

// Filter returns the history filter, or nil.
func (h *Handoff) Filter() Filter { return h.opts.InputFilter }

// Enabled evaluates the IsEnabled predicate.
func (h *Handoff) Enabled(ctx context.Context, rc *core.RunContext) bool {
	if h.opts.IsEnabled == nil {
		return true
	}
	return h.opts.IsEnabled(ctx, rc)
}

// With returns a copy of h with the option functions applied.
func (h *Handoff) With(optFns ...func(o *Options)) *Handoff {
	opts := h.opts
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Handoff{target: h.target, opts: opts}
}

func (h *Handoff) validate(args map[string]any) error {
	if h.opts.InputSchema == nil {
		return nil
	}

	h.once.Do(func() {
		h.validator, h.schemaErr = util.NewValidator(h.opts.InputSchema)
	})

	if h.schemaErr != nil {
		return h.schemaErr
	}

	return h.validator.Validate(args)
}
