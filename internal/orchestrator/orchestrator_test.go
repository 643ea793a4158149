package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zloeber/ai-agent-mixer/internal/eventsink"
	"github.com/zloeber/ai-agent-mixer/internal/modelclient"
	"github.com/zloeber/ai-agent-mixer/internal/modelclient/modelclienttest"
	"github.com/zloeber/ai-agent-mixer/internal/toolserver"
	"github.com/zloeber/ai-agent-mixer/internal/turnexec"
	"github.com/zloeber/ai-agent-mixer/pkg/convo"
)

func twoAgentCfg(scenario convo.ScenarioSpec) convo.ConfigSpec {
	return convo.ConfigSpec{
		Agents: []convo.AgentSpec{
			{ID: "alice", DisplayName: "Alice", ModelEndpoint: convo.ModelEndpoint{Provider: "mock", Model: "m"}},
			{ID: "bob", DisplayName: "Bob", ModelEndpoint: convo.ModelEndpoint{Provider: "mock", Model: "m"}},
		},
		Conversation: &scenario,
		Init:         convo.InitSpec{FirstMessage: "start"},
	}
}

func textTurn(text string) modelclienttest.Turn {
	return modelclienttest.Turn{Chunks: []*modelclient.Chunk{{Text: text, Done: true}}}
}

func TestOrchestrator_TwoAgentMaxCycles_NoTools(t *testing.T) {
	provider := modelclienttest.NewProvider("mock",
		textTurn("hello from alice"), textTurn("hello from bob"),
		textTurn("hello from alice"), textTurn("hello from bob"),
		textTurn("hello from alice"), textTurn("hello from bob"),
	)
	sink := eventsink.New(0)
	var mu sync.Mutex
	var agentMessages, thoughts int
	sink.Subscribe("observer", func(e convo.Event) {
		mu.Lock()
		defer mu.Unlock()
		switch e.Type {
		case convo.EventAgentMessage:
			agentMessages++
		case convo.EventThought:
			thoughts++
		}
	})

	orch := New(toolserver.New(nil), map[string]modelclient.Provider{"mock": provider}, sink, turnexec.DefaultOptions())

	cfg := twoAgentCfg(convo.ScenarioSpec{Name: "s1", MaxCycles: 3, StartingAgent: "alice"})
	start, err := orch.Start(context.Background(), cfg, "", convo.RunOverrides{})
	require.NoError(t, err)
	require.Equal(t, []string{"alice", "bob"}, start.ParticipatingAgents)

	result, err := orch.Continue(0)
	require.NoError(t, err)
	require.True(t, result.Terminated)
	require.Equal(t, "max_cycles", result.TerminationReason)
	require.Equal(t, 3, result.CurrentCycle)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return agentMessages == 6
	}, time.Second, time.Millisecond, "expected all agent messages to be drained")

	mu.Lock()
	defer mu.Unlock()
	require.Zero(t, thoughts)

	status := orch.Status()
	require.Equal(t, convo.PhaseTerminated, status.Phase)
}

func TestOrchestrator_KeywordTerminatesBeforeMaxCycles(t *testing.T) {
	provider := modelclienttest.NewProvider("mock",
		textTurn("hi"), textTurn("hi"),
		textTurn("still talking"), textTurn("ok, goodbye"),
	)
	sink := eventsink.New(0)
	var mu sync.Mutex
	var agentMessages int
	sink.Subscribe("observer", func(e convo.Event) {
		mu.Lock()
		defer mu.Unlock()
		if e.Type == convo.EventAgentMessage {
			agentMessages++
		}
	})

	orch := New(toolserver.New(nil), map[string]modelclient.Provider{"mock": provider}, sink, turnexec.DefaultOptions())
	cfg := twoAgentCfg(convo.ScenarioSpec{Name: "s2", MaxCycles: 10, StartingAgent: "alice", KeywordTriggers: []string{"goodbye"}})

	_, err := orch.Start(context.Background(), cfg, "", convo.RunOverrides{})
	require.NoError(t, err)

	result, err := orch.Continue(0)
	require.NoError(t, err)
	require.True(t, result.Terminated)
	require.Equal(t, "keyword:goodbye", result.TerminationReason)
	require.Less(t, result.CurrentCycle, 10)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return agentMessages == 4
	}, time.Second, time.Millisecond, "expected all agent messages to be drained")
}

func TestOrchestrator_SilenceTerminates(t *testing.T) {
	provider := modelclienttest.NewProvider("mock",
		textTurn("."), textTurn("."),
		textTurn("."), textTurn("."),
	)
	sink := eventsink.New(0)
	orch := New(toolserver.New(nil), map[string]modelclient.Provider{"mock": provider}, sink, turnexec.DefaultOptions())
	threshold := 2
	cfg := twoAgentCfg(convo.ScenarioSpec{Name: "s3", MaxCycles: 10, StartingAgent: "alice", SilenceThreshold: &threshold})

	_, err := orch.Start(context.Background(), cfg, "", convo.RunOverrides{})
	require.NoError(t, err)

	result, err := orch.Continue(0)
	require.NoError(t, err)
	require.True(t, result.Terminated)
	require.Equal(t, "silence", result.TerminationReason)
	require.Equal(t, 2, result.CurrentCycle)
}

func TestOrchestrator_ModelUnreachableTerminatesWithAgentError(t *testing.T) {
	provider := modelclienttest.NewProvider("mock", modelclienttest.Turn{Err: modelclient.ErrEndpointUnreachable})
	sink := eventsink.New(0)
	var mu sync.Mutex
	var gotErr *convo.ErrorPayload
	var gotEnded *convo.LifecyclePayload
	sink.Subscribe("observer", func(e convo.Event) {
		mu.Lock()
		defer mu.Unlock()
		if e.Type == convo.EventError {
			gotErr = e.Error
		}
		if e.Type == convo.EventLifecycle && e.Lifecycle.Kind == convo.LifecycleEnded {
			gotEnded = e.Lifecycle
		}
	})

	orch := New(toolserver.New(nil), map[string]modelclient.Provider{"mock": provider}, sink, turnexec.DefaultOptions())
	cfg := twoAgentCfg(convo.ScenarioSpec{Name: "s6", MaxCycles: 10, StartingAgent: "alice"})

	_, err := orch.Start(context.Background(), cfg, "", convo.RunOverrides{})
	require.NoError(t, err)

	result, err := orch.Continue(0)
	require.NoError(t, err)
	require.True(t, result.Terminated)
	require.Equal(t, "agent_error", result.TerminationReason)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return gotErr != nil && gotEnded != nil
	}, time.Second, time.Millisecond, "expected the error and ended lifecycle events to be drained")

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, convo.ErrorKindEndpointUnreachable, gotErr.Kind)
	require.Equal(t, "agent_error", gotEnded.Detail)

	status := orch.Status()
	require.Equal(t, convo.PhaseTerminated, status.Phase)
}

func TestOrchestrator_PauseStopsLoopBeforeNextTurnAndResumeContinues(t *testing.T) {
	provider := modelclienttest.NewProvider("mock",
		textTurn("a1"), textTurn("b1"),
		textTurn("a2"), textTurn("b2"),
	)
	sink := eventsink.New(0)
	orch := New(toolserver.New(nil), map[string]modelclient.Provider{"mock": provider}, sink, turnexec.DefaultOptions())
	cfg := twoAgentCfg(convo.ScenarioSpec{Name: "s", MaxCycles: 10, StartingAgent: "alice"})

	_, err := orch.Start(context.Background(), cfg, "", convo.RunOverrides{})
	require.NoError(t, err)

	result, err := orch.Continue(1)
	require.NoError(t, err)
	require.False(t, result.Terminated)
	require.Equal(t, 1, result.CurrentCycle)

	phaseResult, err := orch.Pause()
	require.NoError(t, err)
	require.Equal(t, convo.PhasePaused, phaseResult.Phase)

	_, err = orch.Continue(1)
	require.ErrorIs(t, err, ErrNotRunning)

	phaseResult, err = orch.Resume()
	require.NoError(t, err)
	require.Equal(t, convo.PhaseRunning, phaseResult.Phase)

	result, err = orch.Continue(1)
	require.NoError(t, err)
	require.Equal(t, 2, result.CurrentCycle)
}

func TestOrchestrator_StopIsIdempotentAndRejectsSecondStart(t *testing.T) {
	provider := modelclienttest.NewProvider("mock", textTurn("hi"), textTurn("hi"))
	sink := eventsink.New(0)
	orch := New(toolserver.New(nil), map[string]modelclient.Provider{"mock": provider}, sink, turnexec.DefaultOptions())
	cfg := twoAgentCfg(convo.ScenarioSpec{Name: "s", MaxCycles: 10, StartingAgent: "alice"})

	_, err := orch.Start(context.Background(), cfg, "", convo.RunOverrides{})
	require.NoError(t, err)

	_, err = orch.Start(context.Background(), cfg, "", convo.RunOverrides{})
	require.ErrorIs(t, err, ErrAlreadyRunning)

	phaseResult, err := orch.Stop()
	require.NoError(t, err)
	require.Equal(t, convo.PhaseTerminated, phaseResult.Phase)

	phaseResult, err = orch.Stop()
	require.NoError(t, err)
	require.Equal(t, convo.PhaseTerminated, phaseResult.Phase)

	_, err = orch.Continue(1)
	require.ErrorIs(t, err, ErrNotRunning)
}

func TestOrchestrator_ContinueWithoutStartFails(t *testing.T) {
	sink := eventsink.New(0)
	orch := New(toolserver.New(nil), map[string]modelclient.Provider{}, sink, turnexec.DefaultOptions())
	_, err := orch.Continue(1)
	require.ErrorIs(t, err, ErrNotRunning)
}

func TestListScenarios_MarksDefault(t *testing.T) {
	cfg := convo.ConfigSpec{Conversations: []convo.ScenarioSpec{
		{Name: "first", MaxCycles: 1, StartingAgent: "alice"},
		{Name: "second", MaxCycles: 2, StartingAgent: "bob"},
	}}
	descriptors := ListScenarios(cfg)
	require.Len(t, descriptors, 2)
	require.True(t, descriptors[0].IsDefault)
	require.False(t, descriptors[1].IsDefault)
}
