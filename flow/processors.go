package flow

import (
	"context"
	"fmt"

	"github.com/hupe1980/orchestra/agent"
	"github.com/hupe1980/orchestra/core"
	"github.com/hupe1980/orchestra/model"
)

// TurnState is the input of the request processors for one generation.
type TurnState struct {
	Agent      *agent.Agent
	RunContext *core.RunContext
	// Items are the conversation items visible to the agent.
	Items []core.Item
	// Settings override the agent's model settings for the whole run.
	Settings model.Settings
	// ToolChoiceReset reverts a forced tool choice to automatic selection.
	ToolChoiceReset bool
	Stream          bool
}

// RequestProcessor processes the request before sending it to the LLM.
type RequestProcessor interface {
	// Name returns the processor's identifier.
	Name() string
	// ProcessRequest modifies the request before LLM execution.
	ProcessRequest(ctx context.Context, st *TurnState, req *model.Request) error
}

// DefaultRequestProcessors returns the processors used by the runner, in order.
func DefaultRequestProcessors() []RequestProcessor {
	return []RequestProcessor{
		NewInstructionsProcessor(),
		NewContentsProcessor(),
		NewToolsProcessor(),
		NewOutputSchemaProcessor(),
		NewSettingsProcessor(),
	}
}

// BuildRequest runs processors against a fresh request.
func BuildRequest(ctx context.Context, st *TurnState, processors []RequestProcessor) (model.Request, error) {
	req := model.Request{Agent: st.Agent.Name(), Stream: st.Stream}

	for _, p := range processors {
		if err := p.ProcessRequest(ctx, st, &req); err != nil {
			return req, fmt.Errorf("processor %s: %w", p.Name(), err)
		}
	}

	return req, nil
}

// InstructionsProcessor handles system prompt and instruction processing.
type InstructionsProcessor struct{}

// NewInstructionsProcessor creates a new instructions processor.
func NewInstructionsProcessor() *InstructionsProcessor { return &InstructionsProcessor{} }

// Name returns the processor's identifier.
func (p *InstructionsProcessor) Name() string { return "instructions" }

// ProcessRequest resolves the agent's instructions into the request.
func (p *InstructionsProcessor) ProcessRequest(ctx context.Context, st *TurnState, req *model.Request) error {
	instructions, err := st.Agent.Instructions(ctx, st.RunContext)
	if err != nil {
		return fmt.Errorf("failed to resolve instruction: %w", err)
	}

	if st.RunContext != nil {
		st.RunContext.LogDebug("agent.instruction.resolved", "agent", st.Agent.Name(), "length", len(instructions))
	}

	req.Instructions = instructions
	return nil
}

// ContentsProcessor copies the visible conversation items into the request.
type ContentsProcessor struct{}

// NewContentsProcessor creates a new contents processor.
func NewContentsProcessor() *ContentsProcessor { return &ContentsProcessor{} }

// Name returns the processor's identifier.
func (p *ContentsProcessor) Name() string { return "contents" }

// ProcessRequest adds the conversation items to the request.
func (p *ContentsProcessor) ProcessRequest(_ context.Context, st *TurnState, req *model.Request) error {
	req.Items = core.CloneItems(st.Items)
	return nil
}

// ToolsProcessor exposes enabled tools and handoffs as tool definitions.
type ToolsProcessor struct{}

// NewToolsProcessor creates a new tools processor.
func NewToolsProcessor() *ToolsProcessor { return &ToolsProcessor{} }

// Name returns the processor's identifier.
func (p *ToolsProcessor) Name() string { return "tools" }

// ProcessRequest adds tool definitions. Handoffs follow the function tools.
func (p *ToolsProcessor) ProcessRequest(ctx context.Context, st *TurnState, req *model.Request) error {
	for _, t := range st.Agent.EnabledTools(ctx, st.RunContext) {
		req.Tools = append(req.Tools, model.ToolDefinition{
			Type: "function",
			Function: model.FunctionDefinition{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Parameters(),
			},
		})
	}

	for _, h := range st.Agent.EnabledHandoffs(ctx, st.RunContext) {
		req.Tools = append(req.Tools, model.ToolDefinition{
			Type: "function",
			Function: model.FunctionDefinition{
				Name:        h.Name(),
				Description: h.Description(),
				Parameters:  h.Parameters(),
			},
		})
	}

	return nil
}

// OutputSchemaProcessor requests structured output for agents with an output type.
type OutputSchemaProcessor struct{}

// NewOutputSchemaProcessor creates a new output schema processor.
func NewOutputSchemaProcessor() *OutputSchemaProcessor { return &OutputSchemaProcessor{} }

// Name returns the processor's identifier.
func (p *OutputSchemaProcessor) Name() string { return "output_schema" }

// ProcessRequest sets the output schema.
func (p *OutputSchemaProcessor) ProcessRequest(_ context.Context, st *TurnState, req *model.Request) error {
	if ot := st.Agent.OutputType(); ot != nil {
		req.OutputSchema = ot.Schema()
	}
	return nil
}

// SettingsProcessor merges agent and run settings and applies the tool choice reset.
type SettingsProcessor struct{}

// NewSettingsProcessor creates a new settings processor.
func NewSettingsProcessor() *SettingsProcessor { return &SettingsProcessor{} }

// Name returns the processor's identifier.
func (p *SettingsProcessor) Name() string { return "settings" }

// ProcessRequest sets the request settings.
func (p *SettingsProcessor) ProcessRequest(_ context.Context, st *TurnState, req *model.Request) error {
	settings := st.Agent.ModelSettings().Merge(st.Settings)

	if st.ToolChoiceReset && IsForcedToolChoice(settings.ToolChoice) {
		settings.ToolChoice = model.ToolChoiceAuto
	}

	if len(req.Tools) == 0 && settings.ToolChoice != model.ToolChoiceNone {
		settings.ToolChoice = ""
	}

	req.Settings = settings
	return nil
}

// IsForcedToolChoice reports whether choice forces the model to invoke a capability.
func IsForcedToolChoice(choice string) bool {
	return choice != "" && choice != model.ToolChoiceAuto && choice != model.ToolChoiceNone
}
