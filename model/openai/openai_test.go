package openai

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/orchestra/core"
	"github.com/hupe1980/orchestra/model"
)

func TestBuildMessages_GroupsInvocationsAndDropsOrphans(t *testing.T) {
	req := model.Request{
		Instructions: "You convert currencies.",
		Items: []core.Item{
			core.UserMessage{Content: "convert 100 USD to EUR"},
			core.CapabilityInvocation{ID: "a", Name: "convert", Arguments: `{}`},
			core.CapabilityInvocation{ID: "b", Name: "convert", Arguments: `{}`},
			core.CapabilityResult{InvocationID: "a", Output: "1"},
			core.CapabilityResult{InvocationID: "b", Output: "2"},
			core.CapabilityResult{InvocationID: "gone", Output: "3"},
			core.DelegationEvent{From: "triage", To: "fx"},
			core.ReasoningTrace{Content: "hidden"},
			core.AssistantMessage{Content: "done"},
		},
	}

	msgs := buildMessages(req)
	require.Len(t, msgs, 7)
	assert.NotNil(t, msgs[0].OfSystem)
	assert.NotNil(t, msgs[1].OfUser)
	require.NotNil(t, msgs[2].OfAssistant)
	assert.Len(t, msgs[2].OfAssistant.ToolCalls, 2)
	assert.NotNil(t, msgs[3].OfTool)
	assert.NotNil(t, msgs[4].OfTool)
	assert.NotNil(t, msgs[5].OfSystem)
	assert.NotNil(t, msgs[6].OfAssistant)
}

func TestBuildParams_ToolChoiceAndSchema(t *testing.T) {
	m := NewModelFromClient(nil)
	req := model.Request{
		Tools:        []model.ToolDefinition{{Type: "function", Function: model.FunctionDefinition{Name: "convert"}}},
		OutputSchema: &model.OutputSchema{Name: "Conversion", Schema: map[string]any{"type": "object"}, Strict: true},
		Settings:     model.Settings{ToolChoice: "convert"},
	}

	params := m.buildParams(req, nil)
	require.Len(t, params.Tools, 1)
	require.NotNil(t, params.ToolChoice.OfChatCompletionNamedToolChoice)
	assert.Equal(t, "convert", params.ToolChoice.OfChatCompletionNamedToolChoice.Function.Name)
	require.NotNil(t, params.ResponseFormat.OfJSONSchema)
	assert.Equal(t, "Conversion", params.ResponseFormat.OfJSONSchema.JSONSchema.Name)

	req.Settings.ToolChoice = model.ToolChoiceRequired
	params = m.buildParams(req, nil)
	assert.Nil(t, params.ToolChoice.OfChatCompletionNamedToolChoice)
}

func TestInfo(t *testing.T) {
	m := NewModelFromClient(nil, func(o *Options) { o.Model = "gpt-4.1" })
	assert.Equal(t, model.Info{Name: "gpt-4.1", Provider: "openai", SupportsTools: true}, m.Info())
}
