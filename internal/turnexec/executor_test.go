package turnexec

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zloeber/ai-agent-mixer/internal/eventsink"
	"github.com/zloeber/ai-agent-mixer/internal/modelclient"
	"github.com/zloeber/ai-agent-mixer/internal/modelclient/modelclienttest"
	"github.com/zloeber/ai-agent-mixer/internal/toolserver"
	"github.com/zloeber/ai-agent-mixer/pkg/convo"
)

type fakeTools struct {
	result  string
	isError bool
	err     *toolserver.ToolError
	calls   []string
}

func (f *fakeTools) Call(ctx context.Context, agentID, toolName string, arguments map[string]any, deadline time.Duration) (string, bool, *toolserver.ToolError) {
	f.calls = append(f.calls, toolName)
	return f.result, f.isError, f.err
}

type fakeTracker struct {
	recorded []string
}

func (f *fakeTracker) RecordTurn(agentID, finalContent string) {
	f.recorded = append(f.recorded, finalContent)
}

func testAgent(providerName string) convo.Agent {
	return convo.Agent{
		ID:                   "alice",
		DisplayName:          "Alice",
		RenderedSystemPrompt: "you are alice",
		ModelEndpoint:        convo.ModelEndpoint{Provider: providerName, Model: "test-model"},
	}
}

func TestExecutor_NoToolCallsFinishesTurnAndRecordsCycle(t *testing.T) {
	provider := modelclienttest.NewProvider("mock", modelclienttest.Turn{
		Chunks: []*modelclient.Chunk{{Text: "hello there"}, {Done: true}},
	})
	tracker := &fakeTracker{}
	sink := eventsink.New(0)

	var mu sync.Mutex
	var gotMessage *convo.AgentMessagePayload
	sink.Subscribe("observer", func(e convo.Event) {
		mu.Lock()
		defer mu.Unlock()
		if e.Type == convo.EventAgentMessage {
			gotMessage = e.AgentMessage
		}
	})

	exec := New(map[string]modelclient.Provider{"mock": provider}, &fakeTools{}, tracker, sink, DefaultOptions())

	state := &convo.ConversationState{ID: "c1"}
	err := exec.Run(context.Background(), testAgent("mock"), state, time.Now().Add(time.Second))
	require.NoError(t, err)

	require.Len(t, state.Messages, 1)
	require.Equal(t, convo.RoleAI, state.Messages[0].Role)
	require.Equal(t, "hello there", state.Messages[0].Content)
	require.Len(t, tracker.recorded, 1)
	require.Equal(t, "hello there", tracker.recorded[0])

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return gotMessage != nil
	}, time.Second, time.Millisecond, "expected the agent message event to be drained")

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, "hello there", gotMessage.Content)
}

func TestExecutor_ToolCallRoundTrip(t *testing.T) {
	args, _ := json.Marshal(map[string]string{"x": "pong"})
	provider := modelclienttest.NewProvider("mock",
		modelclienttest.Turn{Chunks: []*modelclient.Chunk{
			{ToolCall: &convo.ToolCall{CallID: "call-1", ToolName: "echo", Arguments: args}},
			{Done: true},
		}},
		modelclienttest.Turn{Chunks: []*modelclient.Chunk{{Text: "done"}, {Done: true}}},
	)
	tools := &fakeTools{result: "pong"}
	tracker := &fakeTracker{}
	sink := eventsink.New(0)

	exec := New(map[string]modelclient.Provider{"mock": provider}, tools, tracker, sink, DefaultOptions())

	state := &convo.ConversationState{ID: "c1"}
	agent := testAgent("mock")
	agent.ToolHandles = []convo.ToolHandle{{ServerName: "srv", Name: "echo"}}

	err := exec.Run(context.Background(), agent, state, time.Now().Add(time.Second))
	require.NoError(t, err)

	require.Len(t, state.Messages, 3)
	require.Equal(t, convo.RoleAI, state.Messages[0].Role)
	require.Len(t, state.Messages[0].ToolCalls, 1)
	require.Equal(t, convo.RoleTool, state.Messages[1].Role)
	require.Equal(t, "call-1", state.Messages[1].ToolCallID)
	require.Equal(t, "pong", state.Messages[1].Content)
	require.Equal(t, convo.RoleAI, state.Messages[2].Role)
	require.Equal(t, "done", state.Messages[2].Content)
	require.Equal(t, []string{"echo"}, tools.calls)
	require.Len(t, tracker.recorded, 1)
}

func TestExecutor_TimeoutSynthesizesMessageWithoutError(t *testing.T) {
	blockingChunks := make(chan *modelclient.Chunk)
	provider := &blockingProvider{chunks: blockingChunks}
	sink := eventsink.New(0)

	var mu sync.Mutex
	var gotErrorEvent *convo.ErrorPayload
	sink.Subscribe("observer", func(e convo.Event) {
		mu.Lock()
		defer mu.Unlock()
		if e.Type == convo.EventError {
			gotErrorEvent = e.Error
		}
	})

	exec := New(map[string]modelclient.Provider{"mock": provider}, &fakeTools{}, &fakeTracker{}, sink, DefaultOptions())

	state := &convo.ConversationState{ID: "c1"}
	err := exec.Run(context.Background(), testAgent("mock"), state, time.Now().Add(20*time.Millisecond))
	require.NoError(t, err)

	require.Len(t, state.Messages, 1)
	require.Equal(t, "[agent timed out]", state.Messages[0].Content)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return gotErrorEvent != nil
	}, time.Second, time.Millisecond, "expected the error event to be drained")

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, convo.ErrorKindTimeout, gotErrorEvent.Kind)
}

func TestExecutor_EndpointUnreachableTerminatesWithError(t *testing.T) {
	provider := modelclienttest.NewProvider("mock", modelclienttest.Turn{Err: modelclient.ErrEndpointUnreachable})
	sink := eventsink.New(0)
	exec := New(map[string]modelclient.Provider{"mock": provider}, &fakeTools{}, &fakeTracker{}, sink, DefaultOptions())

	state := &convo.ConversationState{ID: "c1"}
	err := exec.Run(context.Background(), testAgent("mock"), state, time.Now().Add(time.Second))
	require.Error(t, err)
	require.Len(t, state.Messages, 1)
	require.Contains(t, state.Messages[0].Content, "model unavailable")
}

func TestExecutor_ExceedingMaxToolIterationsForcesConclusion(t *testing.T) {
	args, _ := json.Marshal(map[string]string{"x": "again"})
	toolCallTurn := modelclienttest.Turn{Chunks: []*modelclient.Chunk{
		{ToolCall: &convo.ToolCall{CallID: "call-n", ToolName: "echo", Arguments: args}},
		{Done: true},
	}}
	provider := modelclienttest.NewProvider("mock", toolCallTurn)
	tools := &fakeTools{result: "ok"}
	opts := DefaultOptions()
	opts.MaxToolIterations = 1

	sink := eventsink.New(0)
	exec := New(map[string]modelclient.Provider{"mock": provider}, tools, &fakeTracker{}, sink, opts)

	state := &convo.ConversationState{ID: "c1"}
	agent := testAgent("mock")
	agent.ToolHandles = []convo.ToolHandle{{ServerName: "srv", Name: "echo"}}

	err := exec.Run(context.Background(), agent, state, time.Now().Add(time.Second))
	require.NoError(t, err)

	// One real tool round, then a forced-conclude tool message, then the
	// provider keeps returning tool_calls (scripted turn repeats) so the
	// final ai message is synthesized rather than looping forever.
	last := state.Messages[len(state.Messages)-1]
	require.Equal(t, convo.RoleAI, last.Role)
}

// blockingProvider never sends on its channel until the context is
// canceled, to exercise the executor's deadline handling.
type blockingProvider struct {
	chunks chan *modelclient.Chunk
}

func (b *blockingProvider) Name() string                { return "blocking" }
func (b *blockingProvider) Models() []modelclient.Model { return nil }
func (b *blockingProvider) SupportsTools() bool         { return false }
func (b *blockingProvider) Complete(ctx context.Context, req *modelclient.Request) (<-chan *modelclient.Chunk, error) {
	return b.chunks, nil
}
