package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"golang.org/x/time/rate"

	"github.com/hupe1980/orchestra/core"
	"github.com/hupe1980/orchestra/internal/util"
)

// Built-in remote capability types. Their payloads are opaque to the runtime.
const (
	CapabilityWebSearch      = "web_search"
	CapabilityFileSearch     = "file_search"
	CapabilityComputerAction = "computer_action"
)

// RemoteRequest is sent to a remote capability provider.
type RemoteRequest struct {
	CapabilityType string         `json:"capability_type"`
	Name           string         `json:"name"`
	InvocationID   string         `json:"invocation_id,omitempty"`
	Parameters     map[string]any `json:"parameters"`
}

// RemoteResponse carries either a result or an error message.
type RemoteResponse struct {
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// RemoteClient transports remote capability requests.
type RemoteClient interface {
	Invoke(ctx context.Context, req RemoteRequest) (*RemoteResponse, error)
}

// RemoteClientFunc adapts a function to RemoteClient.
type RemoteClientFunc func(ctx context.Context, req RemoteRequest) (*RemoteResponse, error)

// Invoke implements RemoteClient.
func (f RemoteClientFunc) Invoke(ctx context.Context, req RemoteRequest) (*RemoteResponse, error) {
	return f(ctx, req)
}

// RemoteOptions configure a RemoteTool.
type RemoteOptions struct {
	Options
	// RateLimit caps requests per second to the provider; zero disables limiting.
	RateLimit rate.Limit
	// Burst is the limiter bucket size; defaults to 1.
	Burst int
}

// RemoteTool exposes a capability implemented by an external provider. The
// tool only serializes the request and deserializes the response.
type RemoteTool struct {
	name           string
	description    string
	capabilityType string
	parameters     map[string]any
	client         RemoteClient
	limiter        *rate.Limiter
	opts           Options

	once      sync.Once
	validator *util.Validator
	schemaErr error
}

// NewRemoteTool creates a RemoteTool for the given capability type.
func NewRemoteTool(
	name, description, capabilityType string,
	parameters map[string]any,
	client RemoteClient,
	optFns ...func(o *RemoteOptions),
) *RemoteTool {
	opts := RemoteOptions{Burst: 1}
	for _, fn := range optFns {
		fn(&opts)
	}

	t := &RemoteTool{
		name:           name,
		description:    description,
		capabilityType: capabilityType,
		parameters:     parameters,
		client:         client,
		opts:           opts.Options,
	}

	if opts.RateLimit > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		t.limiter = rate.NewLimiter(opts.RateLimit, burst)
	}

	return t
}

// NewWebSearchTool creates the built-in web search capability.
func NewWebSearchTool(client RemoteClient, optFns ...func(o *RemoteOptions)) *RemoteTool {
	return NewRemoteTool("web_search", "Search the web and return relevant results.", CapabilityWebSearch,
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{"type": "string", "description": "search query"},
			},
			"required": []string{"query"},
		}, client, optFns...)
}

// NewFileSearchTool creates the built-in document retrieval capability.
func NewFileSearchTool(client RemoteClient, optFns ...func(o *RemoteOptions)) *RemoteTool {
	return NewRemoteTool("file_search", "Retrieve passages from indexed documents.", CapabilityFileSearch,
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query":       map[string]any{"type": "string"},
				"max_results": map[string]any{"type": "integer", "minimum": 1},
			},
			"required": []string{"query"},
		}, client, optFns...)
}

// NewComputerActionTool creates the built-in UI automation capability.
func NewComputerActionTool(client RemoteClient, optFns ...func(o *RemoteOptions)) *RemoteTool {
	return NewRemoteTool("computer_action", "Perform an action on the user interface.", CapabilityComputerAction,
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"action": map[string]any{"type": "string", "enum": []string{"click", "type", "scroll", "keypress", "screenshot"}},
				"x":      map[string]any{"type": "integer"},
				"y":      map[string]any{"type": "integer"},
				"text":   map[string]any{"type": "string"},
			},
			"required": []string{"action"},
		}, client, optFns...)
}

// Name implements Tool.
func (t *RemoteTool) Name() string { return t.name }

// Description implements Tool.
func (t *RemoteTool) Description() string { return t.description }

// Parameters implements Tool.
func (t *RemoteTool) Parameters() map[string]any { return t.parameters }

// Options implements Configurable.
func (t *RemoteTool) Options() Options { return t.opts }

// Kind implements Kinded.
func (t *RemoteTool) Kind() Kind { return KindRemote }

// CapabilityType returns the remote capability type.
func (t *RemoteTool) CapabilityType() string { return t.capabilityType }

// ValidateArguments checks args against the compiled parameter schema.
func (t *RemoteTool) ValidateArguments(args map[string]any) error {
	t.once.Do(func() {
		t.validator, t.schemaErr = util.NewValidator(t.parameters)
	})
	if t.schemaErr != nil {
		return t.schemaErr
	}
	return t.validator.Validate(args)
}

// Call sends the request to the provider and decodes the JSON result.
func (t *RemoteTool) Call(toolCtx *core.ToolContext, args map[string]any) (any, error) {
	ctx := toolCtx.Context()

	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			return nil, WrapError(t.name, CodeRemote, fmt.Errorf("rate limit wait: %w", err))
		}
	}

	resp, err := t.client.Invoke(ctx, RemoteRequest{
		CapabilityType: t.capabilityType,
		Name:           t.name,
		InvocationID:   toolCtx.InvocationID(),
		Parameters:     args,
	})
	if err != nil {
		return nil, WrapError(t.name, CodeRemote, err)
	}

	if resp == nil {
		return nil, NewError(t.name, "empty response", CodeRemote)
	}

	if resp.Error != "" {
		return nil, NewError(t.name, resp.Error, CodeRemote)
	}

	if len(resp.Result) == 0 {
		return nil, nil
	}

	var out any
	if err := json.Unmarshal(resp.Result, &out); err != nil {
		return nil, WrapError(t.name, CodeRemote, fmt.Errorf("decode result: %w", err))
	}

	return out, nil
}
