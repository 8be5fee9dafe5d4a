package core

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

type capturingLogger struct{ args [][]any }

func (c *capturingLogger) Debug(_ string, args ...any) { c.args = append(c.args, args) }
func (c *capturingLogger) Info(_ string, args ...any)  { c.args = append(c.args, args) }
func (c *capturingLogger) Warn(_ string, args ...any)  { c.args = append(c.args, args) }
func (c *capturingLogger) Error(_ string, args ...any) { c.args = append(c.args, args) }

type account struct{ ID string }

func TestToolContext_Accessors(t *testing.T) {
	rc := NewRunContext("run-1", &account{ID: "acc-9"}, nil)
	ctx := context.Background()
	tc := NewToolContext(ctx, rc, "fx", "call_1", "convert")

	assert.Equal(t, ctx, tc.Context())
	assert.Equal(t, "run-1", tc.RunID())
	assert.Equal(t, "fx", tc.AgentName())
	assert.Equal(t, "call_1", tc.InvocationID())
	assert.Equal(t, "convert", tc.CapabilityName())
	assert.Same(t, rc, tc.RunContext())

	acc, ok := ValueAs[*account](tc.RunContext())
	assert.True(t, ok)
	assert.Equal(t, "acc-9", acc.ID)
}

func TestToolContext_LoggerCarriesInvocation(t *testing.T) {
	l := &capturingLogger{}
	tc := NewToolContext(context.Background(), NewRunContext("r", nil, l), "fx", "call_1", "convert")

	tc.LogInfo("tool.note", "k", "v")

	assert.Equal(t, []any{"agent", "fx", "capability", "convert", "invocation_id", "call_1", "k", "v"}, l.args[0])
}

func TestToolContext_NilRunContext(t *testing.T) {
	tc := NewToolContext(context.Background(), nil, "a", "b", "c")
	assert.Nil(t, tc.Value())
}

func TestTurnLimiter(t *testing.T) {
	tl := NewTurnLimiter(2)
	assert.NoError(t, tl.Increment())
	assert.NoError(t, tl.Increment())
	err := tl.Increment()
	assert.ErrorIs(t, err, ErrMaxTurnsExceeded)
	assert.Equal(t, 2, tl.Count())
	assert.Equal(t, 0, tl.Remaining())

	assert.Equal(t, -1, NewTurnLimiter(0).Remaining())
}

func TestRunContext_Usage(t *testing.T) {
	rc := NewRunContext("r", nil, nil)
	rc.AddUsage(Usage{Requests: 1, InputTokens: 10, OutputTokens: 5, TotalTokens: 15})
	rc.AddUsage(Usage{Requests: 1, TotalTokens: 3})
	assert.Equal(t, Usage{Requests: 2, InputTokens: 10, OutputTokens: 5, TotalTokens: 18}, rc.Usage())
}
