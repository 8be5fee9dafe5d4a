package orchestra

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/orchestra/agent"
	"github.com/hupe1980/orchestra/core"
	"github.com/hupe1980/orchestra/internal/testutil"
	"github.com/hupe1980/orchestra/model"
	"github.com/hupe1980/orchestra/model/modeltest"
	"github.com/hupe1980/orchestra/runner"
	"github.com/hupe1980/orchestra/session"
)

func TestOrchestra_RunWithSession(t *testing.T) {
	m := modeltest.New(modeltest.Text("Hello Ada"), modeltest.Text("You are Ada"))

	o := New()
	require.NoError(t, o.RegisterAgent(agent.New("assistant", agent.WithModelInstance(m))))

	res, err := o.Run(context.Background(), "s1", "assistant", "I am Ada")
	require.NoError(t, err)
	assert.Equal(t, "Hello Ada", res.FinalOutput)

	res, err = o.Run(context.Background(), "s1", "assistant", "Who am I?")
	require.NoError(t, err)
	assert.Equal(t, "You are Ada", res.FinalOutput)

	reqs := m.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, 2, core.CountItems(reqs[1].Items, core.ItemTypeUserMessage))
	assert.Equal(t, 1, core.CountItems(reqs[1].Items, core.ItemTypeAssistantMessage))

	history, err := o.History(context.Background(), "s1")
	require.NoError(t, err)
	assert.Len(t, history, 4)
}

func TestOrchestra_RunWithoutSession(t *testing.T) {
	o := New()
	require.NoError(t, o.RegisterAgent(agent.New("a", agent.WithModelInstance(modeltest.New(modeltest.Text("ok"))))))

	_, err := o.Run(context.Background(), "", "a", "hi")
	require.NoError(t, err)

	history, err := o.History(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestOrchestra_UnknownAgent(t *testing.T) {
	o := New()

	_, err := o.Run(context.Background(), "", "ghost", "hi")
	assert.ErrorContains(t, err, `agent "ghost" not registered`)

	_, err = o.RunStreamed(context.Background(), "", "ghost", "hi")
	assert.Error(t, err)
}

func TestOrchestra_RegisterAgent(t *testing.T) {
	billing := agent.New("billing", agent.WithModelInstance(modeltest.New(modeltest.Text("paid"))))
	triage := agent.New("triage",
		agent.WithModelInstance(modeltest.New(modeltest.Calls(modeltest.Call("c1", "transfer_to_billing", "{}")))),
		agent.HandoffTo(billing),
	)

	o := New()
	require.NoError(t, o.RegisterAgent(triage))
	assert.Equal(t, []string{"billing", "triage"}, o.Agents())

	assert.Error(t, o.RegisterAgent(agent.New("billing")), "name already taken by another agent")
	assert.Error(t, o.RegisterAgent(agent.New("")))

	res, err := o.Run(context.Background(), "", "triage", "pay")
	require.NoError(t, err)
	assert.Equal(t, "billing", res.LastAgentName())
}

func TestOrchestra_RunCollect(t *testing.T) {
	sink := &core.RecordingSink{}
	o := New(func(o *Options) {
		o.Sinks = []core.EventSink{sink}
		o.ModelProvider = model.NewRegistry(modeltest.New(modeltest.Text("streamed answer")))
	})
	require.NoError(t, o.RegisterAgent(agent.New("a")))

	events, res, err := o.RunCollect(context.Background(), "", "a", "hi")
	require.NoError(t, err)
	assert.Equal(t, "streamed answer", res.FinalOutput)
	require.NotEmpty(t, events)
	assert.Equal(t, core.EventRunStarted, events[0].Type)
	assert.Equal(t, core.EventRunFinished, events[len(events)-1].Type)
	assert.Len(t, sink.OfType(core.EventRunFinished), 1)
}

func TestOrchestra_RunnerOptions(t *testing.T) {
	m := modeltest.New(modeltest.Calls(modeltest.Call("c1", "missing", "{}"))).RepeatLast()

	o := New(func(o *Options) {
		o.MaxTurns = 2
		o.RunnerOptions = append(o.RunnerOptions, func(ro *runner.Options) { ro.MaxTurns = 1 })
	})
	require.NoError(t, o.RegisterAgent(agent.New("looper", agent.WithModelInstance(m))))

	_, err := o.Run(context.Background(), "", "looper", "go")
	var maxTurns *core.MaxTurnsExceededError
	require.ErrorAs(t, err, &maxTurns)
	assert.Equal(t, 1, maxTurns.MaxTurns)
}

func TestOrchestra_SeededSession(t *testing.T) {
	store := session.NewInMemoryStore()
	testutil.SeedSession(t, store, "s1", testutil.NewConversation("assistant").
		User("convert 100 USD").
		Call("convert", "{}").
		Result("90 EUR").
		Assistant("100 USD is 90 EUR").
		Build())

	m := modeltest.New(modeltest.Text("still 90 EUR"))

	o := New(func(o *Options) { o.SessionStore = store })
	require.NoError(t, o.RegisterAgent(agent.New("assistant", agent.WithModelInstance(m))))

	_, err := o.Run(context.Background(), "s1", "assistant", "and again?")
	require.NoError(t, err)

	reqs := m.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, 1, core.CountItems(reqs[0].Items, core.ItemTypeCapabilityResult))

	items := testutil.SessionItems(t, store, "s1")
	assert.Len(t, items, 6)
	require.NoError(t, core.ValidatePairing(items))
}
