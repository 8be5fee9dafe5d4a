package runner

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/orchestra/agent"
	"github.com/hupe1980/orchestra/core"
	"github.com/hupe1980/orchestra/guardrail"
	"github.com/hupe1980/orchestra/handoff"
	"github.com/hupe1980/orchestra/model"
	"github.com/hupe1980/orchestra/model/modeltest"
	"github.com/hupe1980/orchestra/session"
	"github.com/hupe1980/orchestra/tool"
	"github.com/hupe1980/orchestra/tracing"
)

func convertTool() tool.Tool {
	return tool.NewFunctionTool("convert", "Convert an amount between currencies",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"amount": map[string]any{"type": "number"},
				"from":   map[string]any{"type": "string"},
				"to":     map[string]any{"type": "string"},
			},
			"required": []any{"amount", "from", "to"},
		},
		func(_ *core.ToolContext, args map[string]any) (any, error) {
			amount := args["amount"].(float64)
			return fmt.Sprintf("%.2f %s", amount*0.9, args["to"]), nil
		},
	)
}

func lookupTool() tool.Tool {
	return tool.NewFunctionTool("lookup", "Look something up", nil,
		func(_ *core.ToolContext, _ map[string]any) (any, error) {
			return "ok", nil
		},
	)
}

func TestRunner_FunctionCapabilityRoundTrip(t *testing.T) {
	m := modeltest.New(
		modeltest.Calls(modeltest.Call("call_1", "convert", `{"amount":100,"from":"USD","to":"EUR"}`)),
		modeltest.Text("100 USD is 90.00 EUR"),
	)

	a := agent.New("converter", agent.WithModelInstance(m), agent.WithTools(convertTool()))

	res, err := New().Run(context.Background(), a, "convert 100 USD to EUR")
	require.NoError(t, err)

	items := res.Items()
	assert.Equal(t, 1, core.CountItems(items, core.ItemTypeCapabilityInvocation))
	assert.Equal(t, 1, core.CountItems(items, core.ItemTypeCapabilityResult))
	assert.Contains(t, res.FinalOutput, "90.00")
	assert.Equal(t, 2, res.TurnsUsed)
	assert.Equal(t, "converter", res.LastAgentName())
	require.NoError(t, core.ValidatePairing(items))

	result := core.FilterItems(items, func(it core.Item) bool { return it.ItemType() == core.ItemTypeCapabilityResult })
	assert.Equal(t, "90.00 EUR", result[0].(core.CapabilityResult).Output)

	reqs := m.Requests()
	require.Len(t, reqs, 2)
	assert.Len(t, reqs[0].Tools, 1)
	assert.Equal(t, 1, core.CountItems(reqs[1].Items, core.ItemTypeCapabilityResult))
}

func TestRunner_TriageDelegation(t *testing.T) {
	billingModel := modeltest.New(modeltest.Text("I can help with your payment"))
	billing := agent.New("billing",
		agent.WithModelInstance(billingModel),
		func(o *agent.Options) { o.HandoffDescription = "Handles payments" },
	)
	tech := agent.New("tech", agent.WithModelInstance(modeltest.New(modeltest.Text("tech"))))

	triage := agent.New("triage",
		agent.WithModelInstance(modeltest.New(
			modeltest.Calls(modeltest.Call("c1", "transfer_to_billing", "{}")),
		)),
		agent.HandoffTo(billing),
		agent.HandoffTo(tech),
	)

	sink := &core.RecordingSink{}
	res, err := New(func(o *Options) { o.Sinks = []core.EventSink{sink} }).Run(context.Background(), triage, "my payment failed")
	require.NoError(t, err)

	delegations := core.FilterItems(res.Items(), func(it core.Item) bool { return it.ItemType() == core.ItemTypeDelegation })
	require.Len(t, delegations, 1)
	assert.Equal(t, core.DelegationEvent{From: "triage", To: "billing"}, delegations[0])
	assert.Equal(t, "billing", res.LastAgentName())
	assert.Equal(t, "I can help with your payment", res.FinalOutput)
	require.NoError(t, core.ValidatePairing(res.Items()))

	changed := sink.OfType(core.EventAgentChanged)
	require.Len(t, changed, 2)
	assert.Equal(t, "triage", changed[0].Agent)
	assert.Equal(t, "billing", changed[1].Agent)
	assert.Equal(t, "triage", changed[1].PreviousAgent)
	assert.Len(t, sink.OfType(core.EventDelegationOccurred), 1)

	// billing sees the delegation in its history
	reqs := billingModel.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, 1, core.CountItems(reqs[0].Items, core.ItemTypeDelegation))
}

func TestRunner_OutputGuardrailTripwire(t *testing.T) {
	a := agent.New("advisor",
		agent.WithModelInstance(modeltest.New(modeltest.Text("Buy all the stocks"))),
		agent.WithOutputGuardrails(guardrail.RequireText("disclaimer", "Not financial advice")),
	)

	res, err := New().Run(context.Background(), a, "what should I buy?")
	require.Error(t, err)

	var trip *core.OutputGuardrailTripwireError
	require.ErrorAs(t, err, &trip)
	assert.Equal(t, "disclaimer", trip.Guardrail)
	assert.NotNil(t, trip.Annotation)

	require.NotNil(t, res)
	assert.Nil(t, res.FinalOutput)
	require.Len(t, res.OutputGuardrailResults, 1)
	assert.True(t, res.OutputGuardrailResults[0].Verdict.TripwireTriggered)
}

func TestRunner_MaxTurnsExceeded(t *testing.T) {
	m := modeltest.New(modeltest.Calls(modeltest.Call("", "lookup", "{}"))).RepeatLast()
	a := agent.New("looper", agent.WithModelInstance(m), agent.WithTools(lookupTool()))

	res, err := New().Run(context.Background(), a, "loop", WithMaxTurns(2))
	require.Error(t, err)

	var maxErr *core.MaxTurnsExceededError
	require.ErrorAs(t, err, &maxErr)
	assert.Equal(t, 2, maxErr.MaxTurns)
	assert.Equal(t, 2, m.CallCount())
	assert.Equal(t, 2, res.TurnsUsed)
	assert.Nil(t, res.FinalOutput)
	assert.Equal(t, res.Items(), maxErr.Items)

	ids := []string{}
	for _, it := range res.NewItems {
		if inv, ok := it.(core.CapabilityInvocation); ok {
			ids = append(ids, inv.ID)
		}
	}
	assert.Equal(t, []string{"call_1_0", "call_2_0"}, ids)
}

func TestRunner_InputGuardrailCancelsGeneration(t *testing.T) {
	m := modeltest.New(modeltest.Turn{Block: true})
	a := agent.New("assistant",
		agent.WithModelInstance(m),
		agent.WithInputGuardrails(guardrail.BlockKeywords("no-secrets", "password")),
	)

	done := make(chan struct{})
	var (
		res *Result
		err error
	)
	go func() {
		defer close(done)
		res, err = New().Run(context.Background(), a, "my password is hunter2")
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop after the input gate tripped")
	}

	var trip *core.InputGuardrailTripwireError
	require.ErrorAs(t, err, &trip)
	assert.Equal(t, "no-secrets", trip.Guardrail)
	assert.Equal(t, map[string]any{"keyword": "password"}, trip.Annotation)
	assert.Empty(t, res.NewItems)
}

func TestRunner_InputGuardrailDiscardsFinishedGeneration(t *testing.T) {
	slowTrip := guardrail.NewInput("slow", func(ctx context.Context, _ *core.RunContext, _ string, _ []core.Item) (guardrail.Verdict, error) {
		select {
		case <-time.After(30 * time.Millisecond):
		case <-ctx.Done():
		}
		return guardrail.Trip("late"), nil
	})

	m := modeltest.New(modeltest.Text("leaked answer"))
	a := agent.New("assistant", agent.WithModelInstance(m))

	res, err := New().Run(context.Background(), a, "hello", WithInputGuardrails(slowTrip))
	require.ErrorIs(t, err, core.ErrInputGuardrailTripwire)
	assert.Equal(t, 0, core.CountItems(res.Items(), core.ItemTypeAssistantMessage))
	assert.Empty(t, res.NewItems)
}

func TestRunner_InputGuardrailPasses(t *testing.T) {
	a := agent.New("assistant",
		agent.WithModelInstance(modeltest.New(modeltest.Text("hi there"))),
		agent.WithInputGuardrails(guardrail.MaxInputLength("length", 100)),
	)

	res, err := New().Run(context.Background(), a, "hello")
	require.NoError(t, err)
	assert.Equal(t, "hi there", res.FinalOutput)
	require.Len(t, res.InputGuardrailResults, 1)
	assert.False(t, res.InputGuardrailResults[0].Verdict.TripwireTriggered)
}

// blockingModel blocks every generation until its context is cancelled and
// reports when that happened.
type blockingModel struct {
	cancelled chan time.Time
}

func (m *blockingModel) Generate(ctx context.Context, _ model.Request) (<-chan model.Response, <-chan error) {
	out := make(chan model.Response)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		<-ctx.Done()
		m.cancelled <- time.Now()
		errCh <- ctx.Err()
	}()

	return out, errCh
}

func (m *blockingModel) Info() model.Info { return model.Info{Name: "blocking", Provider: "test"} }

func TestRunner_InputGuardrailTripCancelsBeforeSlowSiblings(t *testing.T) {
	m := &blockingModel{cancelled: make(chan time.Time, 1)}

	// ignores its context on purpose
	stubborn := guardrail.NewInput("stubborn", func(context.Context, *core.RunContext, string, []core.Item) (guardrail.Verdict, error) {
		time.Sleep(500 * time.Millisecond)
		return guardrail.Pass(nil), nil
	})

	a := agent.New("assistant",
		agent.WithModelInstance(m),
		agent.WithInputGuardrails(stubborn, guardrail.BlockKeywords("no-secrets", "password")),
	)

	started := time.Now()

	errCh := make(chan error, 1)
	go func() {
		_, err := New().Run(context.Background(), a, "my password is hunter2")
		errCh <- err
	}()

	select {
	case at := <-m.cancelled:
		assert.Less(t, at.Sub(started), 100*time.Millisecond)
	case <-time.After(2 * time.Second):
		t.Fatal("generation was not cancelled")
	}

	err := <-errCh
	var trip *core.InputGuardrailTripwireError
	require.ErrorAs(t, err, &trip)
	assert.Equal(t, "no-secrets", trip.Guardrail)
}

func TestRunner_InputGuardrailCheckErrorIsNotBackendError(t *testing.T) {
	broken := guardrail.NewInput("classifier", func(context.Context, *core.RunContext, string, []core.Item) (guardrail.Verdict, error) {
		return guardrail.Verdict{}, errors.New("classifier unavailable")
	})

	a := agent.New("assistant",
		agent.WithModelInstance(modeltest.New(modeltest.Text("hi"))),
		agent.WithInputGuardrails(broken),
	)

	_, err := New().Run(context.Background(), a, "hello")
	require.Error(t, err)
	assert.False(t, errors.Is(err, core.ErrModelBackend))
	assert.False(t, core.IsTripwire(err))

	var checkErr *core.GuardrailCheckError
	require.ErrorAs(t, err, &checkErr)
	assert.Equal(t, "classifier", checkErr.Guardrail)
	assert.Equal(t, "input", checkErr.Stage)
	assert.ErrorContains(t, err, "classifier unavailable")
}

func TestRunner_OutputGuardrailCheckError(t *testing.T) {
	broken := guardrail.NewOutput("classifier", func(context.Context, *core.RunContext, string, any) (guardrail.Verdict, error) {
		return guardrail.Verdict{}, errors.New("classifier unavailable")
	})

	a := agent.New("assistant",
		agent.WithModelInstance(modeltest.New(modeltest.Text("hi"))),
		agent.WithOutputGuardrails(broken),
	)

	_, err := New().Run(context.Background(), a, "hello")
	require.ErrorIs(t, err, core.ErrGuardrailCheck)
	assert.False(t, errors.Is(err, core.ErrModelBackend))
}

func TestRunner_HandoffFilterDropsCapabilityItems(t *testing.T) {
	targetModel := modeltest.New(modeltest.Text("done"))
	target := agent.New("target", agent.WithModelInstance(targetModel))

	source := agent.New("source",
		agent.WithModelInstance(modeltest.New(
			modeltest.Calls(
				modeltest.Call("a", "lookup", "{}"),
				modeltest.Call("b", "lookup", "{}"),
			),
			modeltest.Calls(modeltest.Call("c", "lookup", "{}")),
			modeltest.Calls(modeltest.Call("d", "transfer_to_target", "{}")),
		)),
		agent.WithTools(lookupTool()),
		agent.HandoffTo(target, func(o *handoff.Options) { o.InputFilter = handoff.RemoveAllTools }),
	)

	res, err := New().Run(context.Background(), source, "go")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, core.CountItems(res.Items(), core.ItemTypeCapabilityInvocation), 4)

	reqs := targetModel.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, 0, core.CountItems(reqs[0].Items, core.ItemTypeCapabilityInvocation))
	assert.Equal(t, 0, core.CountItems(reqs[0].Items, core.ItemTypeCapabilityResult))
	assert.Equal(t, 1, core.CountItems(reqs[0].Items, core.ItemTypeUserMessage))
}

func TestRunner_RunLevelHandoffFilter(t *testing.T) {
	targetModel := modeltest.New(modeltest.Text("done"))
	target := agent.New("target", agent.WithModelInstance(targetModel))
	source := agent.New("source",
		agent.WithModelInstance(modeltest.New(
			modeltest.Calls(modeltest.Call("a", "lookup", "{}"), modeltest.Call("b", "transfer_to_target", "{}")),
		)),
		agent.WithTools(lookupTool()),
		agent.HandoffTo(target),
	)

	_, err := New().Run(context.Background(), source, "go", WithHandoffInputFilter(handoff.RemoveAllTools))
	require.NoError(t, err)

	reqs := targetModel.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, 0, core.CountItems(reqs[0].Items, core.ItemTypeCapabilityResult))
}

func TestRunner_ChainedHandoffKeepsDelegationTrail(t *testing.T) {
	cModel := modeltest.New(modeltest.Text("resolved"))
	c := agent.New("c", agent.WithModelInstance(cModel))

	b := agent.New("b",
		agent.WithModelInstance(modeltest.New(modeltest.Calls(modeltest.Call("h2", "transfer_to_c", "{}")))),
		agent.HandoffTo(c, func(o *handoff.Options) { o.InputFilter = handoff.KeepLast(1) }),
	)

	a := agent.New("a",
		agent.WithModelInstance(modeltest.New(modeltest.Calls(modeltest.Call("h1", "transfer_to_b", "{}")))),
		agent.HandoffTo(b),
	)

	res, err := New().Run(context.Background(), a, "help")
	require.NoError(t, err)
	assert.Equal(t, "c", res.LastAgentName())

	reqs := cModel.Requests()
	require.Len(t, reqs, 1)

	var trail []core.DelegationEvent
	for _, it := range reqs[0].Items {
		if ev, ok := it.(core.DelegationEvent); ok {
			trail = append(trail, ev)
		}
	}
	assert.Equal(t, []core.DelegationEvent{{From: "a", To: "b"}, {From: "b", To: "c"}}, trail)
}

func TestRunner_FunctionsRunBeforeHandoff(t *testing.T) {
	target := agent.New("target", agent.WithModelInstance(modeltest.New(modeltest.Text("done"))))
	source := agent.New("source",
		agent.WithModelInstance(modeltest.New(
			modeltest.Calls(
				modeltest.Call("h", "transfer_to_target", "{}"),
				modeltest.Call("f", "lookup", "{}"),
			),
		)),
		agent.WithTools(lookupTool()),
		agent.HandoffTo(target),
	)

	res, err := New().Run(context.Background(), source, "go")
	require.NoError(t, err)
	require.NoError(t, core.ValidatePairing(res.Items()))

	var kinds []string
	for _, it := range res.NewItems {
		switch v := it.(type) {
		case core.CapabilityResult:
			kinds = append(kinds, "result:"+v.InvocationID)
		case core.DelegationEvent:
			kinds = append(kinds, "delegation")
		}
	}
	assert.Equal(t, []string{"result:h", "result:f", "delegation"}, kinds)
}

func TestRunner_OnlyFirstHandoffHonoured(t *testing.T) {
	billing := agent.New("billing", agent.WithModelInstance(modeltest.New(modeltest.Text("billing"))))
	tech := agent.New("tech", agent.WithModelInstance(modeltest.New(modeltest.Text("tech"))))
	triage := agent.New("triage",
		agent.WithModelInstance(modeltest.New(modeltest.Calls(
			modeltest.Call("c1", "transfer_to_billing", "{}"),
			modeltest.Call("c2", "transfer_to_tech", "{}"),
		))),
		agent.HandoffTo(billing),
		agent.HandoffTo(tech),
	)

	res, err := New().Run(context.Background(), triage, "help")
	require.NoError(t, err)
	assert.Equal(t, "billing", res.LastAgentName())
	assert.Equal(t, 1, core.CountItems(res.Items(), core.ItemTypeDelegation))
	require.NoError(t, core.ValidatePairing(res.Items()))

	for _, it := range res.NewItems {
		if r, ok := it.(core.CapabilityResult); ok && r.InvocationID == "c2" {
			assert.True(t, r.Failed())
			assert.Contains(t, r.Error, "tech")
		}
	}
}

func TestRunner_UnknownHandoffTarget(t *testing.T) {
	a := agent.New("triage",
		agent.WithModelInstance(modeltest.New(modeltest.Calls(modeltest.Call("c1", "transfer_to_ghost", "{}")))),
		agent.WithHandoffs(handoff.New("ghost")),
	)

	res, err := New().Run(context.Background(), a, "hello")

	var herr *core.HandoffResolutionError
	require.ErrorAs(t, err, &herr)
	assert.Equal(t, "ghost", herr.Target)
	assert.Equal(t, "triage", res.LastAgentName())
	require.NoError(t, core.ValidatePairing(res.Items()))
}

func TestRunner_UnknownCapabilityIsSurfaced(t *testing.T) {
	m := modeltest.New(
		modeltest.Calls(modeltest.Call("c1", "nope", "{}")),
		modeltest.Text("sorry, that tool does not exist"),
	)
	a := agent.New("assistant", agent.WithModelInstance(m))

	res, err := New().Run(context.Background(), a, "do it")
	require.NoError(t, err)
	assert.Equal(t, "sorry, that tool does not exist", res.FinalOutput)

	var result core.CapabilityResult
	for _, it := range res.NewItems {
		if r, ok := it.(core.CapabilityResult); ok {
			result = r
		}
	}
	assert.True(t, result.Failed())
	assert.Contains(t, result.Error, "nope")
}

func TestRunner_PropagatedCapabilityFailure(t *testing.T) {
	failing := tool.NewFunctionTool("charge", "Charge a card", nil,
		func(_ *core.ToolContext, _ map[string]any) (any, error) { return nil, errors.New("card declined") },
		func(o *tool.Options) { o.FailurePolicy = tool.FailurePropagate },
	)
	a := agent.New("cashier",
		agent.WithModelInstance(modeltest.New(modeltest.Calls(modeltest.Call("c1", "charge", "{}")))),
		agent.WithTools(failing),
	)

	_, err := New().Run(context.Background(), a, "pay")
	require.ErrorIs(t, err, core.ErrCapabilityExecution)
	assert.ErrorContains(t, err, "card declined")
}

func TestRunner_PropagatedFailureKeepsIgnoredHandoffResult(t *testing.T) {
	failing := tool.NewFunctionTool("charge", "Charge a card", nil,
		func(_ *core.ToolContext, _ map[string]any) (any, error) { return nil, errors.New("card declined") },
		func(o *tool.Options) { o.FailurePolicy = tool.FailurePropagate },
	)
	billing := agent.New("billing", agent.WithModelInstance(modeltest.New(modeltest.Text("billing"))))
	tech := agent.New("tech", agent.WithModelInstance(modeltest.New(modeltest.Text("tech"))))

	triage := agent.New("triage",
		agent.WithModelInstance(modeltest.New(modeltest.Calls(
			modeltest.Call("c1", "transfer_to_billing", "{}"),
			modeltest.Call("c2", "transfer_to_tech", "{}"),
			modeltest.Call("c3", "charge", "{}"),
		))),
		agent.WithTools(failing),
		agent.HandoffTo(billing),
		agent.HandoffTo(tech),
	)

	res, err := New().Run(context.Background(), triage, "help")
	require.ErrorIs(t, err, core.ErrCapabilityExecution)
	require.NotNil(t, res)

	var ignored *core.CapabilityResult
	for _, it := range res.NewItems {
		if r, ok := it.(core.CapabilityResult); ok && r.InvocationID == "c2" {
			ignored = &r
		}
	}
	require.NotNil(t, ignored)
	assert.Contains(t, ignored.Error, "Multiple handoffs detected")
}

func TestRunner_StopOnFirstToolRunsOutputGuardrails(t *testing.T) {
	echo := tool.NewFunctionTool("echo", "Echo", nil,
		func(_ *core.ToolContext, _ map[string]any) (any, error) { return "tool says hi", nil })

	build := func(required string) *agent.Agent {
		return agent.New("stopper",
			agent.WithModelInstance(modeltest.New(modeltest.Calls(modeltest.Call("c1", "echo", "{}")))),
			agent.WithTools(echo),
			agent.WithToolUseBehavior(agent.StopOnFirstTool()),
			agent.WithOutputGuardrails(guardrail.RequireText("approval", required)),
		)
	}

	res, err := New().Run(context.Background(), build("hi"), "go")
	require.NoError(t, err)
	assert.Equal(t, "tool says hi", res.FinalOutput)
	assert.Equal(t, 1, res.TurnsUsed)
	require.Len(t, res.OutputGuardrailResults, 1)

	res, err = New().Run(context.Background(), build("APPROVED"), "go")
	require.ErrorIs(t, err, core.ErrOutputGuardrailTripped)
	assert.Nil(t, res.FinalOutput)
}

func TestRunner_StopAtTools(t *testing.T) {
	m := modeltest.New(
		modeltest.Calls(modeltest.Call("c1", "lookup", "{}")),
		modeltest.Calls(modeltest.Call("c2", "convert", `{"amount":10,"from":"USD","to":"EUR"}`)),
	)
	a := agent.New("stopper",
		agent.WithModelInstance(m),
		agent.WithTools(lookupTool(), convertTool()),
		agent.WithToolUseBehavior(agent.StopAtTools("convert")),
	)

	res, err := New().Run(context.Background(), a, "go")
	require.NoError(t, err)
	assert.Equal(t, "9.00 EUR", res.FinalOutput)
	assert.Equal(t, 2, res.TurnsUsed)
}

type weather struct {
	City  string  `json:"city"`
	TempC float64 `json:"temp_c"`
}

func TestRunner_StructuredOutput(t *testing.T) {
	a := agent.New("weather",
		agent.WithModelInstance(modeltest.New(modeltest.Structured(`{"city":"Berlin","temp_c":21.5}`))),
		agent.WithOutputType(agent.MustOutputType[weather]()),
	)

	res, err := New().Run(context.Background(), a, "weather in Berlin?")
	require.NoError(t, err)

	w, err := FinalOutputAs[weather](res)
	require.NoError(t, err)
	assert.Equal(t, weather{City: "Berlin", TempC: 21.5}, w)
	assert.JSONEq(t, `{"city":"Berlin","temp_c":21.5}`, res.FinalOutputText())
}

func TestRunner_OutputShapeValidation(t *testing.T) {
	a := agent.New("weather",
		agent.WithModelInstance(modeltest.New(modeltest.Structured(`{"city":42}`))),
		agent.WithOutputType(agent.MustOutputType[weather]()),
	)

	res, err := New().Run(context.Background(), a, "weather?")

	var shapeErr *core.OutputShapeValidationError
	require.ErrorAs(t, err, &shapeErr)
	assert.Equal(t, `{"city":42}`, shapeErr.Raw)
	assert.Nil(t, res.FinalOutput)
}

func TestRunner_EmptyTextIsFinal(t *testing.T) {
	a := agent.New("quiet", agent.WithModelInstance(modeltest.New(modeltest.Text(""))))

	res, err := New().Run(context.Background(), a, "say nothing")
	require.NoError(t, err)
	assert.Equal(t, "", res.FinalOutput)
	assert.Equal(t, 1, res.TurnsUsed)
}

func TestRunner_ModelBackendError(t *testing.T) {
	boom := errors.New("boom")
	a := agent.New("assistant", agent.WithModelInstance(modeltest.New(modeltest.Failure(boom))))

	res, err := New().Run(context.Background(), a, "hello")

	var backendErr *core.ModelBackendError
	require.ErrorAs(t, err, &backendErr)
	assert.Equal(t, "scripted", backendErr.Model)
	assert.Equal(t, "assistant", backendErr.Agent)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, res.TurnsUsed)
}

func TestRunner_GenerationTimeout(t *testing.T) {
	a := agent.New("assistant", agent.WithModelInstance(modeltest.New(modeltest.Turn{Block: true})))

	r := New(func(o *Options) { o.GenerationTimeout = 20 * time.Millisecond })
	_, err := r.Run(context.Background(), a, "hello")

	require.ErrorIs(t, err, core.ErrModelBackend)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRunner_Cancellation(t *testing.T) {
	a := agent.New("assistant", agent.WithModelInstance(modeltest.New(modeltest.Turn{Block: true})))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	res, err := New().Run(ctx, a, "hello")
	require.ErrorIs(t, err, core.ErrCancelled)
	require.NotNil(t, res)
	assert.Nil(t, res.FinalOutput)
}

func TestRunner_CancelByRunID(t *testing.T) {
	a := agent.New("assistant", agent.WithModelInstance(modeltest.New(modeltest.Turn{Block: true})))
	r := New()

	stream := r.RunStreamed(context.Background(), a, "hello")

	var runID string
	for ev := range stream.Events() {
		if ev.Type == core.EventRunStarted {
			runID = ev.RunID
			break
		}
	}
	require.NotEmpty(t, runID)
	require.NoError(t, r.Cancel(runID))

	_, err := stream.Wait()
	require.ErrorIs(t, err, core.ErrCancelled)
	assert.Error(t, r.Cancel(runID))
	assert.Equal(t, 0, r.ActiveRuns())
}

func TestRunner_ToolChoiceReset(t *testing.T) {
	newAgent := func(m model.Model, reset bool) *agent.Agent {
		return agent.New("forced",
			agent.WithModelInstance(m),
			agent.WithTools(lookupTool()),
			agent.WithResetToolChoice(reset),
			func(o *agent.Options) { o.ModelSettings.ToolChoice = model.ToolChoiceRequired },
		)
	}

	m := modeltest.New(modeltest.Calls(modeltest.Call("c1", "lookup", "{}")), modeltest.Text("done"))
	_, err := New().Run(context.Background(), newAgent(m, true), "go")
	require.NoError(t, err)

	reqs := m.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, model.ToolChoiceRequired, reqs[0].Settings.ToolChoice)
	assert.Equal(t, model.ToolChoiceAuto, reqs[1].Settings.ToolChoice)

	m = modeltest.New(modeltest.Calls(modeltest.Call("c1", "lookup", "{}")), modeltest.Text("done"))
	_, err = New().Run(context.Background(), newAgent(m, false), "go")
	require.NoError(t, err)
	assert.Equal(t, model.ToolChoiceRequired, m.Requests()[1].Settings.ToolChoice)
}

func TestRunner_DisabledToolIsHidden(t *testing.T) {
	hidden := tool.NewFunctionTool("hidden", "Hidden", nil,
		func(_ *core.ToolContext, _ map[string]any) (any, error) { return "leak", nil },
		func(o *tool.Options) {
			o.IsEnabled = func(_ context.Context, rc *core.RunContext) bool {
				admin, _ := core.ValueAs[bool](rc)
				return admin
			}
		},
	)

	m := modeltest.New(modeltest.Calls(modeltest.Call("c1", "hidden", "{}")), modeltest.Text("done"))
	a := agent.New("assistant", agent.WithModelInstance(m), agent.WithTools(hidden))

	res, err := New().Run(context.Background(), a, "go", WithContext(false))
	require.NoError(t, err)
	assert.Empty(t, m.Requests()[0].Tools)

	for _, it := range res.NewItems {
		if r, ok := it.(core.CapabilityResult); ok {
			assert.True(t, r.Failed())
		}
	}
}

func TestRunner_ContinuesFromInputList(t *testing.T) {
	m := modeltest.New(modeltest.Text("Hi, I'm here"), modeltest.Text("You said hello"))
	a := agent.New("assistant", agent.WithModelInstance(m))
	r := New()

	first, err := r.Run(context.Background(), a, "hello")
	require.NoError(t, err)

	next := append(first.ToInputList(), core.UserMessage{Content: "what did I say?"})
	second, err := r.RunItems(context.Background(), a, next)
	require.NoError(t, err)
	assert.Equal(t, "You said hello", second.FinalOutput)

	reqs := m.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, []core.Item{
		core.UserMessage{Content: "hello"},
		core.AssistantMessage{Agent: "assistant", Content: "Hi, I'm here"},
		core.UserMessage{Content: "what did I say?"},
	}, reqs[1].Items)
}

func TestRunner_Session(t *testing.T) {
	store := session.NewInMemoryStore()
	m := modeltest.New(modeltest.Text("hello"), modeltest.Text("welcome back"))
	a := agent.New("assistant", agent.WithModelInstance(m))
	r := New()

	_, err := r.Run(context.Background(), a, "hi", WithSession(store, "s1"))
	require.NoError(t, err)

	res, err := r.Run(context.Background(), a, "again", WithSession(store, "s1"))
	require.NoError(t, err)
	assert.Equal(t, "welcome back", res.FinalOutput)
	assert.Len(t, res.Input, 3)

	items, err := store.GetItems(context.Background(), "s1", 0)
	require.NoError(t, err)
	assert.Len(t, items, 4)
}

func TestRunner_UsageAccumulates(t *testing.T) {
	usage := &model.TokenUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}
	m := modeltest.New(
		modeltest.Turn{Output: model.Output{ToolCalls: []model.ToolCall{modeltest.Call("c1", "lookup", "{}")}}, Usage: usage},
		modeltest.Turn{Output: model.Output{Text: "done"}, Usage: usage},
	)
	a := agent.New("assistant", agent.WithModelInstance(m), agent.WithTools(lookupTool()))

	res, err := New().Run(context.Background(), a, "go")
	require.NoError(t, err)
	assert.Equal(t, core.Usage{Requests: 2, InputTokens: 20, OutputTokens: 10, TotalTokens: 30}, res.Usage)
}

func TestRunner_ModelProvider(t *testing.T) {
	registry := model.NewRegistry(modeltest.New(modeltest.Text("default")))
	registry.Register("fast", modeltest.New(modeltest.Text("fast")).WithName("fast"))

	r := New(func(o *Options) { o.ModelProvider = registry })

	res, err := r.Run(context.Background(), agent.New("a", agent.WithModel("fast")), "hi")
	require.NoError(t, err)
	assert.Equal(t, "fast", res.FinalOutput)

	_, err = r.Run(context.Background(), agent.New("b", agent.WithModel("missing")), "hi")
	require.ErrorIs(t, err, core.ErrModelBackend)

	res, err = r.Run(context.Background(), agent.New("c", agent.WithModel("missing")), "hi",
		WithModel(modeltest.New(modeltest.Text("override"))))
	require.NoError(t, err)
	assert.Equal(t, "override", res.FinalOutput)
}

func TestRunner_Tracing(t *testing.T) {
	mem := tracing.NewMemoryProcessor()
	tracer := tracing.NewTracer(func(o *tracing.Options) { o.Processors = []tracing.Processor{mem} })

	m := modeltest.New(
		modeltest.Calls(modeltest.Call("c1", "lookup", "{}")),
		modeltest.Text("done"),
	)
	a := agent.New("assistant",
		agent.WithModelInstance(m),
		agent.WithTools(lookupTool()),
		agent.WithOutputGuardrails(guardrail.RequireText("done-check", "done")),
	)

	_, err := New(func(o *Options) { o.Tracer = tracer }).Run(context.Background(), a, "go")
	require.NoError(t, err)

	runs := mem.Ended(tracing.KindRun)
	require.Len(t, runs, 1)
	assert.Len(t, mem.Ended(tracing.KindGeneration), 2)
	assert.Len(t, mem.Ended(tracing.KindCapability), 1)
	assert.Len(t, mem.Ended(tracing.KindGuardrail), 1)

	for _, s := range mem.Ended(tracing.KindGeneration, tracing.KindCapability, tracing.KindGuardrail) {
		assert.Equal(t, runs[0].ID, s.ParentID)
		assert.Equal(t, runs[0].TraceID, s.TraceID)
	}
}

func TestRunner_RedactedSinkEvents(t *testing.T) {
	sink := &core.RecordingSink{}
	a := agent.New("assistant", agent.WithModelInstance(modeltest.New(modeltest.Text("secret answer"))))

	r := New(func(o *Options) {
		o.Sinks = []core.EventSink{sink}
		o.RedactEventPayloads = true
	})

	res, err := r.Run(context.Background(), a, "hello")
	require.NoError(t, err)
	assert.Equal(t, "secret answer", res.FinalOutput)

	msgs := sink.OfType(core.EventMessageProduced)
	require.Len(t, msgs, 1)
	assert.Equal(t, tracing.Redacted, msgs[0].Item.(core.AssistantMessage).Content)
}

func TestRunner_EventSequence(t *testing.T) {
	sink := &core.RecordingSink{}
	m := modeltest.New(modeltest.Calls(modeltest.Call("c1", "lookup", "{}")), modeltest.Text("done"))
	a := agent.New("assistant", agent.WithModelInstance(m), agent.WithTools(lookupTool()))

	_, err := New(func(o *Options) { o.Sinks = []core.EventSink{sink} }).Run(context.Background(), a, "go")
	require.NoError(t, err)

	var types []core.EventType
	for _, ev := range sink.Events() {
		types = append(types, ev.Type)
	}

	assert.Equal(t, []core.EventType{
		core.EventRunStarted,
		core.EventAgentChanged,
		core.EventCapabilityInvoked,
		core.EventCapabilityCompleted,
		core.EventMessageProduced,
		core.EventRunFinished,
	}, types)
}

func TestRunner_ConcurrencyLimit(t *testing.T) {
	r := New(func(o *Options) { o.MaxConcurrentRuns = 1 })
	blocking := agent.New("blocking", agent.WithModelInstance(modeltest.New(modeltest.Turn{Block: true})))

	ctx, cancel := context.WithCancel(context.Background())
	first := r.RunStreamed(ctx, blocking, "hold")

	for ev := range first.Events() {
		if ev.Type == core.EventRunStarted {
			break
		}
	}

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer waitCancel()

	quick := agent.New("quick", agent.WithModelInstance(modeltest.New(modeltest.Text("hi"))))
	_, err := r.Run(waitCtx, quick, "hi")
	require.ErrorIs(t, err, core.ErrCancelled)

	cancel()
	_, err = first.Wait()
	require.ErrorIs(t, err, core.ErrCancelled)

	res, err := r.Run(context.Background(), quick, "hi")
	require.NoError(t, err)
	assert.Equal(t, "hi", res.FinalOutput)
}

func TestRunner_InvalidAgent(t *testing.T) {
	a := agent.New("dup", agent.WithTools(lookupTool(), lookupTool()))

	res, err := New().Run(context.Background(), a, "hi")
	require.Error(t, err)
	require.NotNil(t, res)
	assert.Equal(t, 0, res.TurnsUsed)
}
