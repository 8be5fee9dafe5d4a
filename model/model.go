package model

import (
	"context"
	"encoding/json"

	"github.com/hupe1980/orchestra/core"
)

// ToolCall is a capability invocation request surfaced by a model provider.
// Unified across vendors so downstream logic does not need per-provider branching.
// Arguments is kept verbatim, even when it is not valid JSON.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolDefinition declaratively exposes a callable capability to the model.
type ToolDefinition struct {
	Type     string             `json:"type"` // "function"
	Function FunctionDefinition `json:"function"`
}

// FunctionDefinition describes an individual capability exposed to the model.
// Parameters is a JSON Schema object.
type FunctionDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// OutputSchema requests structured output matching a JSON Schema.
type OutputSchema struct {
	Name   string         `json:"name"`
	Schema map[string]any `json:"schema"`
	Strict bool           `json:"strict"`
}

// Tool choice values understood by every adapter. Any other value names a
// specific capability the model is forced to call.
const (
	ToolChoiceAuto     = "auto"
	ToolChoiceRequired = "required"
	ToolChoiceNone     = "none"
)

// Settings are per-request tuning knobs. Zero values mean provider defaults.
type Settings struct {
	Temperature       *float64 `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	MaxTokens         int64    `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`
	ToolChoice        string   `json:"tool_choice,omitempty" yaml:"tool_choice,omitempty"`
	ParallelToolCalls *bool    `json:"parallel_tool_calls,omitempty" yaml:"parallel_tool_calls,omitempty"`
}

// Merge returns s with every field set in o taking precedence.
func (s Settings) Merge(o Settings) Settings {
	if o.Temperature != nil {
		s.Temperature = o.Temperature
	}
	if o.MaxTokens != 0 {
		s.MaxTokens = o.MaxTokens
	}
	if o.ToolChoice != "" {
		s.ToolChoice = o.ToolChoice
	}
	if o.ParallelToolCalls != nil {
		s.ParallelToolCalls = o.ParallelToolCalls
	}
	return s
}

// Request captures the normalized model input assembled by the flow processors.
type Request struct {
	Agent        string           `json:"agent"`
	Instructions string           `json:"instructions"`
	Items        []core.Item      `json:"-"`
	Tools        []ToolDefinition `json:"tools,omitempty"`
	OutputSchema *OutputSchema    `json:"output_schema,omitempty"`
	Settings     Settings         `json:"settings"`
	Stream       bool             `json:"stream,omitempty"`
}

// TokenUsage captures token usage statistics for a response.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// CoreUsage converts the usage into the run level accounting type.
func (u *TokenUsage) CoreUsage() core.Usage {
	if u == nil {
		return core.Usage{Requests: 1}
	}
	return core.Usage{
		Requests:     1,
		InputTokens:  u.PromptTokens,
		OutputTokens: u.CompletionTokens,
		TotalTokens:  u.TotalTokens,
	}
}

// Output is the completed result of one generation. Text, ToolCalls and
// Structured may be combined; the runner classifies them.
type Output struct {
	Text        string            `json:"text,omitempty"`
	Annotations []core.Annotation `json:"annotations,omitempty"`
	ToolCalls   []ToolCall        `json:"tool_calls,omitempty"`
	Structured  json.RawMessage   `json:"structured,omitempty"`
	Reasoning   string            `json:"reasoning,omitempty"`
}

// IsEmpty reports whether the output carries nothing at all.
func (o Output) IsEmpty() bool {
	return o.Text == "" && len(o.ToolCalls) == 0 && len(o.Structured) == 0 && o.Reasoning == ""
}

// Response is a partial delta or the completed output emitted by a model.
type Response struct {
	ID           string      `json:"id"`
	Partial      bool        `json:"partial"`
	Delta        *core.Delta `json:"delta,omitempty"`
	Output       Output      `json:"output"`
	FinishReason string      `json:"finish_reason"` // "stop", "length", "tool_calls", etc.
	Usage        *TokenUsage `json:"usage,omitempty"`
}

// Info contains metadata about a model implementation.
type Info struct {
	Name          string `json:"name"`
	Provider      string `json:"provider"` // "openai", "anthropic", "scripted", etc.
	SupportsTools bool   `json:"supports_tools"`
}

// Model is the minimal interface required by the runner to drive generation.
// Implementations close both channels when done and must honour ctx cancellation.
type Model interface {
	Generate(ctx context.Context, req Request) (<-chan Response, <-chan error)

	// Info returns information about the model implementation.
	Info() Info
}
