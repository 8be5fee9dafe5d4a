// Package anthropic provides a model wrapper for the Anthropic Messages API.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"

	"github.com/hupe1980/orchestra/core"
	"github.com/hupe1980/orchestra/model"
)

// Options configures the Anthropic model adapter (temperature, model id,
// max tokens, API key). Per-request model.Settings override them.
type Options struct {
	Model       anthropic.Model
	Temperature float64
	MaxTokens   int64
	APIKey      string
}

// Model wraps the Anthropic Messages API behind the generic model.Model interface.
type Model struct {
	client *anthropic.Client
	opts   Options
}

func defaultOptions(optFns []func(o *Options)) Options {
	opts := Options{
		Model:       anthropic.ModelClaude3_5Sonnet20241022,
		Temperature: 0.7,
		MaxTokens:   4096,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return opts
}

// NewModel creates a new Anthropic model using the official client
func NewModel(optFns ...func(o *Options)) *Model {
	opts := defaultOptions(optFns)

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}

	client := anthropic.NewClient(clientOpts...)

	return &Model{
		client: &client,
		opts:   opts,
	}
}

// NewModelFromClient creates a new Anthropic model from an existing client
func NewModelFromClient(client *anthropic.Client, optFns ...func(o *Options)) *Model {
	return &Model{
		client: client,
		opts:   defaultOptions(optFns),
	}
}

// Generate implements unified streaming / non-streaming generation.
func (m *Model) Generate(ctx context.Context, req model.Request) (<-chan model.Response, <-chan error) {
	out := make(chan model.Response, 32)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		params := m.buildParams(req)

		if req.Stream {
			m.handleStreaming(ctx, params, req.OutputSchema != nil, out, errCh)
			return
		}

		resp, err := m.client.Messages.New(ctx, params)
		if err != nil {
			errCh <- fmt.Errorf("anthropic api error: %w", err)
			return
		}

		out <- completed(resp, req.OutputSchema != nil)
	}()

	return out, errCh
}

func (m *Model) buildParams(req model.Request) anthropic.MessageNewParams {
	temperature := m.opts.Temperature
	if req.Settings.Temperature != nil {
		temperature = *req.Settings.Temperature
	}
	maxTokens := m.opts.MaxTokens
	if req.Settings.MaxTokens > 0 {
		maxTokens = req.Settings.MaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:       m.opts.Model,
		Messages:    buildMessages(req.Items),
		MaxTokens:   maxTokens,
		Temperature: anthropic.Float(temperature),
	}

	if system := systemPrompt(req); system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	if len(req.Tools) > 0 {
		params.Tools = buildTools(req.Tools)
		params.ToolChoice = toolChoice(req.Settings)
	}

	return params
}

// systemPrompt combines instructions with structured output directions, as
// the Messages API has no native response schema.
func systemPrompt(req model.Request) string {
	if req.OutputSchema == nil {
		return req.Instructions
	}

	schema, _ := json.Marshal(req.OutputSchema.Schema)

	var b strings.Builder
	if req.Instructions != "" {
		b.WriteString(req.Instructions)
		b.WriteString("\n\n")
	}
	b.WriteString("Respond only with a JSON document matching this JSON Schema:\n")
	b.Write(schema)

	return b.String()
}

func toolChoice(s model.Settings) anthropic.ToolChoiceUnionParam {
	switch s.ToolChoice {
	case "", model.ToolChoiceAuto:
		return anthropic.ToolChoiceUnionParam{OfAuto: &anthropic.ToolChoiceAutoParam{}}
	case model.ToolChoiceRequired:
		return anthropic.ToolChoiceUnionParam{OfAny: &anthropic.ToolChoiceAnyParam{}}
	case model.ToolChoiceNone:
		return anthropic.ToolChoiceUnionParam{OfNone: &anthropic.ToolChoiceNoneParam{}}
	default:
		return anthropic.ToolChoiceUnionParam{OfTool: &anthropic.ToolChoiceToolParam{Name: s.ToolChoice}}
	}
}

// buildMessages converts conversation items into alternating user/assistant
// messages. Tool use blocks belong to the assistant, tool results to the
// following user message.
func buildMessages(items []core.Item) []anthropic.MessageParam {
	var (
		messages []anthropic.MessageParam
		role     anthropic.MessageParamRole
		blocks   []anthropic.ContentBlockParamUnion
	)

	push := func(r anthropic.MessageParamRole, b anthropic.ContentBlockParamUnion) {
		if r != role && len(blocks) > 0 {
			messages = append(messages, anthropic.MessageParam{Role: role, Content: blocks})
			blocks = nil
		}
		role = r
		blocks = append(blocks, b)
	}

	invoked := map[string]bool{}

	for _, it := range items {
		switch v := it.(type) {
		case core.UserMessage:
			if v.Content != "" {
				push(anthropic.MessageParamRoleUser, anthropic.NewTextBlock(v.Content))
			}
		case core.AssistantMessage:
			if v.Content != "" {
				push(anthropic.MessageParamRoleAssistant, anthropic.NewTextBlock(v.Content))
			}
		case core.CapabilityInvocation:
			var input any
			if v.Arguments != "" {
				if err := json.Unmarshal([]byte(v.Arguments), &input); err != nil {
					input = v.Arguments // fallback to string
				}
			}
			invoked[v.ID] = true
			push(anthropic.MessageParamRoleAssistant, anthropic.NewToolUseBlock(v.ID, input, v.Name))
		case core.CapabilityResult:
			if invoked[v.InvocationID] {
				push(anthropic.MessageParamRoleUser, anthropic.NewToolResultBlock(v.InvocationID, v.Text(), v.Failed()))
			}
		case core.DelegationEvent:
			push(anthropic.MessageParamRoleUser, anthropic.NewTextBlock(
				fmt.Sprintf("[Conversation transferred from agent %q to agent %q.]", v.From, v.To),
			))
		}
	}

	if len(blocks) > 0 {
		messages = append(messages, anthropic.MessageParam{Role: role, Content: blocks})
	}

	return messages
}

// buildTools converts capability definitions to Anthropic tool format
func buildTools(tools []model.ToolDefinition) []anthropic.ToolUnionParam {
	anthropicTools := make([]anthropic.ToolUnionParam, len(tools))

	for i, tool := range tools {
		inputSchema := anthropic.ToolInputSchemaParam{
			Type: constant.Object("object"),
		}

		if params := tool.Function.Parameters; params != nil {
			if properties, exists := params["properties"]; exists {
				inputSchema.Properties = properties
			}
			inputSchema.Required = requiredFields(params["required"])
		}

		anthropicTools[i] = anthropic.ToolUnionParamOfTool(inputSchema, tool.Function.Name)
		if tool.Function.Description != "" {
			anthropicTools[i].OfTool.Description = anthropic.String(tool.Function.Description)
		}
	}

	return anthropicTools
}

func requiredFields(v any) []string {
	switch req := v.(type) {
	case []string:
		return req
	case []any:
		out := make([]string, 0, len(req))
		for _, r := range req {
			if s, ok := r.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func (m *Model) handleStreaming(
	ctx context.Context,
	params anthropic.MessageNewParams,
	structured bool,
	out chan<- model.Response,
	errCh chan<- error,
) {
	stream := m.client.Messages.NewStreaming(ctx, params)
	defer stream.Close()

	message := anthropic.Message{}

	for stream.Next() {
		event := stream.Current()
		if err := message.Accumulate(event); err != nil {
			errCh <- fmt.Errorf("anthropic stream accumulate: %w", err)
			return
		}

		switch ev := event.AsAny().(type) {
		case anthropic.ContentBlockStartEvent:
			if ev.ContentBlock.Type == "tool_use" {
				out <- model.Response{Partial: true, Delta: &core.Delta{
					ItemIndex:    int(ev.Index),
					Kind:         core.DeltaCapabilityArguments,
					InvocationID: ev.ContentBlock.ID,
					Name:         ev.ContentBlock.Name,
				}}
			}
		case anthropic.ContentBlockDeltaEvent:
			switch d := ev.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				kind := core.DeltaText
				if structured {
					kind = core.DeltaStructured
				}
				out <- model.Response{Partial: true, Delta: &core.Delta{ItemIndex: int(ev.Index), Kind: kind, Text: d.Text}}
			case anthropic.InputJSONDelta:
				out <- model.Response{Partial: true, Delta: &core.Delta{
					ItemIndex: int(ev.Index),
					Kind:      core.DeltaCapabilityArguments,
					Text:      d.PartialJSON,
				}}
			case anthropic.ThinkingDelta:
				out <- model.Response{Partial: true, Delta: &core.Delta{ItemIndex: int(ev.Index), Kind: core.DeltaReasoning, Text: d.Thinking}}
			}
		}
	}

	if err := stream.Err(); err != nil {
		errCh <- fmt.Errorf("anthropic streaming error: %w", err)
		return
	}

	out <- completed(&message, structured)
}

// completed converts a full message into the final model.Response.
func completed(resp *anthropic.Message, structured bool) model.Response {
	var (
		output model.Output
		text   strings.Builder
	)

	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.AsText().Text)
		case "thinking":
			output.Reasoning += block.AsThinking().Thinking
		case "tool_use":
			toolBlock := block.AsToolUse()
			output.ToolCalls = append(output.ToolCalls, model.ToolCall{
				ID:        toolBlock.ID,
				Name:      toolBlock.Name,
				Arguments: string(toolBlock.Input),
			})
		}
	}

	if structured && len(output.ToolCalls) == 0 {
		output.Structured = json.RawMessage(extractJSON(text.String()))
	} else {
		output.Text = text.String()
	}

	finishReason := "stop"
	if resp.StopReason != "" {
		finishReason = string(resp.StopReason)
	}

	return model.Response{
		ID:           resp.ID,
		Output:       output,
		FinishReason: finishReason,
		Usage: &model.TokenUsage{
			PromptTokens:     int(resp.Usage.InputTokens),
			CompletionTokens: int(resp.Usage.OutputTokens),
			TotalTokens:      int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
		},
	}
}

// extractJSON strips a markdown code fence around a JSON document.
func extractJSON(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(s, "```")
	}
	return strings.TrimSpace(s)
}

// Info returns metadata describing this Anthropic model implementation.
func (m *Model) Info() model.Info {
	return model.Info{
		Name:          string(m.opts.Model),
		Provider:      "anthropic",
		SupportsTools: true,
	}
}
