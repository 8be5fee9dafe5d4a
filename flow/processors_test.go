package flow

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/orchestra/agent"
	"github.com/hupe1980/orchestra/core"
	"github.com/hupe1980/orchestra/handoff"
	"github.com/hupe1980/orchestra/model"
	"github.com/hupe1980/orchestra/tool"
)

func TestInstructionsProcessor_Name(t *testing.T) {
	if NewInstructionsProcessor().Name() != "instructions" {
		t.Errorf("expected name 'instructions'")
	}
}

type weather struct {
	City string  `json:"city"`
	Temp float64 `json:"temp"`
}

func TestBuildRequest(t *testing.T) {
	lookup := tool.NewFunctionTool("lookup", "Look things up", nil, nil)
	hidden := tool.NewFunctionTool("hidden", "", nil, nil, func(o *tool.Options) {
		o.IsEnabled = func(context.Context, *core.RunContext) bool { return false }
	})

	a := agent.New("assistant",
		agent.WithInstruction("Be helpful."),
		agent.WithTools(lookup, hidden),
		agent.WithHandoffs(handoff.New("billing")),
		agent.WithOutputType(agent.MustOutputType[weather]()),
		func(o *agent.Options) { o.ModelSettings = model.Settings{MaxTokens: 100} },
	)

	items := core.UserInput("hello")
	st := &TurnState{
		Agent:      a,
		RunContext: core.NewRunContext("run", nil, nil),
		Items:      items,
		Settings:   model.Settings{ToolChoice: "lookup"},
		Stream:     true,
	}

	req, err := BuildRequest(context.Background(), st, DefaultRequestProcessors())
	require.NoError(t, err)

	assert.Equal(t, "assistant", req.Agent)
	assert.Equal(t, "Be helpful.", req.Instructions)
	assert.Equal(t, items, req.Items)
	assert.True(t, req.Stream)

	require.Len(t, req.Tools, 2)
	assert.Equal(t, "lookup", req.Tools[0].Function.Name)
	assert.Equal(t, "transfer_to_billing", req.Tools[1].Function.Name)

	require.NotNil(t, req.OutputSchema)
	assert.Equal(t, "weather", req.OutputSchema.Name)

	assert.Equal(t, int64(100), req.Settings.MaxTokens)
	assert.Equal(t, "lookup", req.Settings.ToolChoice)

	// the request never aliases the turn's items
	req.Items[0] = core.UserMessage{Content: "changed"}
	assert.Equal(t, core.UserMessage{Content: "hello"}, items[0])
}

func TestSettingsProcessor_ToolChoiceReset(t *testing.T) {
	a := agent.New("a",
		agent.WithTools(tool.NewFunctionTool("t", "", nil, nil)),
		func(o *agent.Options) { o.ModelSettings.ToolChoice = model.ToolChoiceRequired },
	)

	st := &TurnState{Agent: a}
	req, err := BuildRequest(context.Background(), st, DefaultRequestProcessors())
	require.NoError(t, err)
	assert.Equal(t, model.ToolChoiceRequired, req.Settings.ToolChoice)

	st.ToolChoiceReset = true
	req, err = BuildRequest(context.Background(), st, DefaultRequestProcessors())
	require.NoError(t, err)
	assert.Equal(t, model.ToolChoiceAuto, req.Settings.ToolChoice)

	// no tools means no tool choice
	bare := agent.New("bare", func(o *agent.Options) { o.ModelSettings.ToolChoice = model.ToolChoiceRequired })
	req, err = BuildRequest(context.Background(), &TurnState{Agent: bare}, DefaultRequestProcessors())
	require.NoError(t, err)
	assert.Empty(t, req.Settings.ToolChoice)

	assert.True(t, IsForcedToolChoice("lookup"))
	assert.True(t, IsForcedToolChoice(model.ToolChoiceRequired))
	assert.False(t, IsForcedToolChoice(model.ToolChoiceAuto))
	assert.False(t, IsForcedToolChoice(""))
}

func TestBuildRequest_InstructionError(t *testing.T) {
	a := agent.New("a", func(o *agent.Options) {
		o.Instruction = agent.NewInstructionFromFunc(func(context.Context, *core.RunContext, *agent.Agent) (string, error) {
			return "", errors.New("no profile")
		})
	})

	_, err := BuildRequest(context.Background(), &TurnState{Agent: a}, DefaultRequestProcessors())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "instructions")
}
