// Package openai provides an implementation of model.Model using the OpenAI
// Chat Completions API (including streaming, capability calling and JSON
// schema structured output). It adapts orchestra's normalized
// Request/Response structures into the SDK's message format and back.
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/hupe1980/orchestra/core"
	"github.com/hupe1980/orchestra/model"
)

// Options configure the OpenAI model adapter.
// Fields mirror a subset of Chat Completion parameters intentionally kept
// minimal; per-request model.Settings override them.
type Options struct {
	Model               string
	Temperature         float64
	MaxCompletionTokens int64
	// APIKey overrides the OPENAI_API_KEY environment variable.
	APIKey string
}

// Model wraps the OpenAI Chat Completions API behind the generic model.Model interface.
type Model struct {
	client *openai.Client
	opts   Options
}

// NewModel creates a new OpenAI model using the official client
func NewModel(optFns ...func(o *Options)) *Model {
	preset := Options{}
	for _, fn := range optFns {
		fn(&preset)
	}

	var clientOpts []option.RequestOption
	if preset.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(preset.APIKey))
	}

	client := openai.NewClient(clientOpts...)
	return NewModelFromClient(&client, optFns...)
}

// NewModelFromClient creates a new OpenAI model from an existing client
func NewModelFromClient(client *openai.Client, optFns ...func(o *Options)) *Model {
	opts := Options{
		Model:               openai.ChatModelGPT4oMini,
		Temperature:         0.7,
		MaxCompletionTokens: 4096,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Model{client: client, opts: opts}
}

// Generate implements unified streaming / non-streaming generation.
func (m *Model) Generate(ctx context.Context, req model.Request) (<-chan model.Response, <-chan error) {
	out := make(chan model.Response, 32)
	errCh := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errCh)
		params := m.buildParams(req, buildMessages(req))
		if req.Stream {
			m.handleStreaming(ctx, params, out, errCh)
			return
		}
		m.handleNonStreaming(ctx, params, out, errCh)
	}()
	return out, errCh
}

// buildMessages converts conversation items into OpenAI chat messages.
// Consecutive capability invocations are grouped into one assistant message;
// results whose invocation is not visible are dropped since the API rejects
// orphaned tool messages.
func buildMessages(req model.Request) []openai.ChatCompletionMessageParamUnion {
	var messages []openai.ChatCompletionMessageParamUnion
	if req.Instructions != "" {
		messages = append(messages, openai.SystemMessage(req.Instructions))
	}

	invoked := map[string]bool{}
	var pending []openai.ChatCompletionMessageToolCallParam

	flush := func() {
		if len(pending) == 0 {
			return
		}
		messages = append(messages, openai.ChatCompletionMessageParamUnion{OfAssistant: &openai.ChatCompletionAssistantMessageParam{
			ToolCalls: pending,
		}})
		pending = nil
	}

	for _, it := range req.Items {
		if inv, ok := it.(core.CapabilityInvocation); ok {
			invoked[inv.ID] = true
			pending = append(pending, openai.ChatCompletionMessageToolCallParam{
				ID: inv.ID,
				Function: openai.ChatCompletionMessageToolCallFunctionParam{
					Name:      inv.Name,
					Arguments: inv.Arguments,
				},
			})
			continue
		}

		flush()

		switch v := it.(type) {
		case core.UserMessage:
			messages = append(messages, openai.UserMessage(v.Content))
		case core.AssistantMessage:
			messages = append(messages, openai.AssistantMessage(v.Content))
		case core.CapabilityResult:
			if invoked[v.InvocationID] {
				messages = append(messages, openai.ToolMessage(v.Text(), v.InvocationID))
			}
		case core.DelegationEvent:
			messages = append(messages, openai.SystemMessage(fmt.Sprintf("Conversation transferred from agent %q to agent %q.", v.From, v.To)))
		}
	}

	flush()

	return messages
}

// buildParams assembles the OpenAI request parameters including tool definitions.
func (m *Model) buildParams(
	req model.Request,
	messages []openai.ChatCompletionMessageParamUnion,
) openai.ChatCompletionNewParams {
	temperature := m.opts.Temperature
	if req.Settings.Temperature != nil {
		temperature = *req.Settings.Temperature
	}
	maxTokens := m.opts.MaxCompletionTokens
	if req.Settings.MaxTokens > 0 {
		maxTokens = req.Settings.MaxTokens
	}

	params := openai.ChatCompletionNewParams{
		Messages:            messages,
		Model:               m.opts.Model,
		Temperature:         openai.Float(temperature),
		MaxCompletionTokens: openai.Int(maxTokens),
	}

	if req.OutputSchema != nil {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{
				JSONSchema: shared.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   req.OutputSchema.Name,
					Schema: req.OutputSchema.Schema,
					Strict: openai.Bool(req.OutputSchema.Strict),
				},
			},
		}
	}

	if len(req.Tools) == 0 {
		return params
	}

	tools := make([]openai.ChatCompletionToolParam, len(req.Tools))
	for i, tdef := range req.Tools {
		tools[i] = openai.ChatCompletionToolParam{
			Function: openai.FunctionDefinitionParam{
				Name:        tdef.Function.Name,
				Description: openai.String(tdef.Function.Description),
				Parameters:  tdef.Function.Parameters,
			},
		}
	}
	params.Tools = tools

	if req.Settings.ParallelToolCalls != nil {
		params.ParallelToolCalls = openai.Bool(*req.Settings.ParallelToolCalls)
	}

	switch choice := req.Settings.ToolChoice; choice {
	case "":
	case model.ToolChoiceAuto, model.ToolChoiceRequired, model.ToolChoiceNone:
		params.ToolChoice = openai.ChatCompletionToolChoiceOptionUnionParam{OfAuto: openai.String(choice)}
	default:
		params.ToolChoice = openai.ChatCompletionToolChoiceOptionUnionParam{
			OfChatCompletionNamedToolChoice: &openai.ChatCompletionNamedToolChoiceParam{
				Function: openai.ChatCompletionNamedToolChoiceFunctionParam{Name: choice},
			},
		}
	}

	return params
}

// handleStreaming forwards deltas and emits the completed output at the end.
func (m *Model) handleStreaming(
	ctx context.Context,
	params openai.ChatCompletionNewParams,
	out chan<- model.Response,
	errCh chan<- error,
) {
	params.StreamOptions = openai.ChatCompletionStreamOptionsParam{IncludeUsage: openai.Bool(true)}

	stream := m.client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	acc := openai.ChatCompletionAccumulator{}
	var (
		text   strings.Builder
		finish string
		usage  *model.TokenUsage
	)

	for stream.Next() {
		ck := stream.Current()
		acc.AddChunk(ck)

		if ck.Usage.TotalTokens > 0 {
			usage = tokenUsage(ck.Usage)
		}

		for _, ch := range ck.Choices {
			if ch.Delta.Content != "" {
				text.WriteString(ch.Delta.Content)
				out <- model.Response{Partial: true, Delta: &core.Delta{Kind: core.DeltaText, Text: ch.Delta.Content}}
			}
			for _, tc := range ch.Delta.ToolCalls {
				out <- model.Response{Partial: true, Delta: &core.Delta{
					ItemIndex:    int(tc.Index) + 1,
					Kind:         core.DeltaCapabilityArguments,
					InvocationID: tc.ID,
					Name:         tc.Function.Name,
					Text:         tc.Function.Arguments,
				}}
			}
			if ch.FinishReason != "" {
				finish = ch.FinishReason
			}
		}
	}

	if err := stream.Err(); err != nil {
		errCh <- fmt.Errorf("openai streaming error: %w", err)
		return
	}

	var output model.Output
	if len(acc.Choices) > 0 {
		output = outputFromMessage(acc.Choices[0].Message, params.ResponseFormat.OfJSONSchema != nil)
	} else {
		output.Text = text.String()
	}

	out <- model.Response{ID: acc.ID, Output: output, FinishReason: finish, Usage: usage}
}

// handleNonStreaming processes a normal (non-streaming) completion.
func (m *Model) handleNonStreaming(
	ctx context.Context,
	params openai.ChatCompletionNewParams,
	out chan<- model.Response,
	errCh chan<- error,
) {
	resp, err := m.client.Chat.Completions.New(ctx, params)
	if err != nil {
		errCh <- fmt.Errorf("openai api error: %w", err)
		return
	}
	if len(resp.Choices) == 0 {
		errCh <- fmt.Errorf("no choices returned")
		return
	}
	ch0 := resp.Choices[0]
	out <- model.Response{
		ID:           resp.ID,
		Output:       outputFromMessage(ch0.Message, params.ResponseFormat.OfJSONSchema != nil),
		FinishReason: ch0.FinishReason,
		Usage:        tokenUsage(resp.Usage),
	}
}

func outputFromMessage(msg openai.ChatCompletionMessage, structured bool) model.Output {
	var output model.Output
	if structured && len(msg.ToolCalls) == 0 && json.Valid([]byte(msg.Content)) {
		output.Structured = json.RawMessage(msg.Content)
	} else {
		output.Text = msg.Content
	}

	for _, a := range msg.Annotations {
		output.Annotations = append(output.Annotations, core.Annotation{
			Type:       string(a.Type),
			URL:        a.URLCitation.URL,
			Title:      a.URLCitation.Title,
			StartIndex: int(a.URLCitation.StartIndex),
			EndIndex:   int(a.URLCitation.EndIndex),
		})
	}

	for _, tc := range msg.ToolCalls {
		output.ToolCalls = append(output.ToolCalls, model.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}

	return output
}

func tokenUsage(u openai.CompletionUsage) *model.TokenUsage {
	return &model.TokenUsage{
		PromptTokens:     int(u.PromptTokens),
		CompletionTokens: int(u.CompletionTokens),
		TotalTokens:      int(u.TotalTokens),
	}
}

// Info returns metadata describing this OpenAI model implementation.
func (m *Model) Info() model.Info {
	return model.Info{
		Name:          m.opts.Model,
		Provider:      "openai",
		SupportsTools: true,
	}
}
