// Package turnexec implements the Agent Turn Executor (C6): one agent's
// turn, including its tool-call sub-loop, from message-view construction
// through the final ai message appended to conversation state.
package turnexec

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/zloeber/ai-agent-mixer/internal/eventsink"
	"github.com/zloeber/ai-agent-mixer/internal/modelclient"
	"github.com/zloeber/ai-agent-mixer/internal/thought"
	"github.com/zloeber/ai-agent-mixer/internal/toolserver"
	"github.com/zloeber/ai-agent-mixer/pkg/convo"
)

// ToolCaller is the Tool Registry & Proxy surface the executor needs. A
// *toolserver.Registry satisfies it directly; tests substitute a fake.
type ToolCaller interface {
	Call(ctx context.Context, agentID, toolName string, arguments map[string]any, deadline time.Duration) (string, bool, *toolserver.ToolError)
}

// CycleRecorder is the Cycle Tracker surface the executor needs after a
// turn completes with a final ai message.
type CycleRecorder interface {
	RecordTurn(agentID, finalContent string)
}

// Executor runs one agent's turn at a time; it holds no conversation
// state of its own beyond what is passed to Run.
type Executor struct {
	Providers map[string]modelclient.Provider
	Tools     ToolCaller
	Tracker   CycleRecorder
	Sink      *eventsink.Sink
	Options   Options
}

// New builds an Executor. providers is keyed by the provider name each
// agent's ModelEndpoint.Provider names.
func New(providers map[string]modelclient.Provider, tools ToolCaller, tracker CycleRecorder, sink *eventsink.Sink, opts Options) *Executor {
	return &Executor{
		Providers: providers,
		Tools:     tools,
		Tracker:   tracker,
		Sink:      sink,
		Options:   sanitizeOptions(opts),
	}
}

// ErrAgentFailed wraps a fatal provider failure (endpoint unreachable,
// model not found, malformed response). The Orchestrator treats a
// non-nil Run error as grounds to terminate the whole conversation with
// reason agent_error.
type ErrAgentFailed struct {
	AgentID string
	Cause   error
}

func (e *ErrAgentFailed) Error() string {
	return fmt.Sprintf("turnexec: agent %s failed: %v", e.AgentID, e.Cause)
}

func (e *ErrAgentFailed) Unwrap() error { return e.Cause }

// Run executes one full turn for agent against state, bounded by
// deadline. It mutates state by appending messages; a non-nil return
// means the turn hit a fatal provider failure, not merely a timeout
// (timeouts are handled internally and never returned as an error).
func (e *Executor) Run(ctx context.Context, agent convo.Agent, state *convo.ConversationState, deadline time.Time) error {
	e.publishTurnIndicator(agent.ID)

	provider, ok := e.Providers[agent.ModelEndpoint.Provider]
	if !ok || provider == nil {
		return e.failAgent(state, agent, fmt.Errorf("no provider configured for %q", agent.ModelEndpoint.Provider))
	}

	turnCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	state.Lock()
	history := append([]convo.Message(nil), state.MessagesView()...)
	state.Unlock()

	working := buildMessageView(agent, history)
	tools := toolSchemas(agent.ToolHandles)

	toolRounds := 0
	forcedConclusion := false

	for {
		if turnCtx.Err() != nil {
			e.timeoutAgent(state, agent)
			return nil
		}

		req := &modelclient.Request{
			Model:          agent.ModelEndpoint.Model,
			System:         agent.RenderedSystemPrompt,
			Messages:       working,
			Tools:          tools,
			Params:         agent.ModelParams,
			EnableThinking: agent.ThinkingEnabled,
		}
		if forcedConclusion {
			req.Tools = nil
		}

		chunks, err := provider.Complete(turnCtx, req)
		if err != nil {
			return e.failAgent(state, agent, err)
		}

		content, toolCalls, streamErr, timedOut := e.drain(turnCtx, agent, chunks)
		if timedOut {
			e.timeoutAgent(state, agent)
			return nil
		}
		if streamErr != nil {
			return e.failAgent(state, agent, streamErr)
		}

		if len(toolCalls) == 0 {
			e.finishTurn(state, agent, content)
			return nil
		}

		aiMsg := convo.NewMessage(convo.Author(agent.ID), convo.RoleAI, content, time.Now())
		aiMsg.ToolCalls = toolCalls
		state.Lock()
		state.Append(aiMsg)
		state.Unlock()
		working = append(working, toProviderMessage(aiMsg))

		if forcedConclusion {
			finalContent := content
			if finalContent == "" {
				finalContent = "[tool iteration limit reached]"
			}
			e.finishTurn(state, agent, finalContent)
			return nil
		}

		if toolRounds >= e.Options.MaxToolIterations {
			for _, tc := range toolCalls {
				msg := convo.NewMessage(convo.Author(agent.ID), convo.RoleTool,
					"maximum tool iterations exceeded; conclude your response now without further tool calls", time.Now())
				msg.ToolCallID = tc.CallID
				state.Lock()
				state.Append(msg)
				state.Unlock()
				working = append(working, toProviderMessage(msg))
			}
			forcedConclusion = true
			continue
		}
		toolRounds++

		for _, tc := range toolCalls {
			msg := e.invokeTool(turnCtx, agent, tc, deadline)
			state.Lock()
			state.Append(msg)
			state.Unlock()
			working = append(working, toProviderMessage(msg))
		}
	}
}

// drain consumes chunks until Done, an error, or the context deadline,
// routing Text through the Thought Filter and publishing thought events
// as they arrive.
func (e *Executor) drain(ctx context.Context, agent convo.Agent, chunks <-chan *modelclient.Chunk) (content string, toolCalls []convo.ToolCall, streamErr error, timedOut bool) {
	filter := thought.New(thought.DefaultDelimiterSet(), agent.ThinkingEnabled)
	var text strings.Builder

	for {
		select {
		case <-ctx.Done():
			return text.String(), toolCalls, nil, true
		case chunk, open := <-chunks:
			if !open {
				cleaned, leftover := filter.Flush()
				e.publishThought(agent.ID, leftover)
				text.WriteString(cleaned)
				return text.String(), toolCalls, nil, false
			}
			if chunk.Err != nil {
				return text.String(), toolCalls, chunk.Err, false
			}
			if chunk.Thinking != "" {
				e.publishThought(agent.ID, chunk.Thinking)
			}
			if chunk.Text != "" {
				cleaned, thoughtText := filter.Feed(chunk.Text)
				e.publishThought(agent.ID, thoughtText)
				text.WriteString(cleaned)
			}
			if chunk.ToolCall != nil {
				toolCalls = append(toolCalls, *chunk.ToolCall)
			}
			if chunk.Done {
				cleaned, leftover := filter.Flush()
				e.publishThought(agent.ID, leftover)
				text.WriteString(cleaned)
				return text.String(), toolCalls, nil, false
			}
		}
	}
}

func (e *Executor) invokeTool(ctx context.Context, agent convo.Agent, tc convo.ToolCall, deadline time.Time) convo.Message {
	var args map[string]any
	if len(tc.Arguments) > 0 {
		_ = json.Unmarshal(tc.Arguments, &args)
	}

	e.publishToolCall(agent.ID, tc.ToolName, tc.Arguments)

	remaining := time.Until(deadline)
	if remaining < 0 {
		remaining = 0
	}

	start := time.Now()
	resultContent, isError, toolErr := e.Tools.Call(ctx, agent.ID, tc.ToolName, args, remaining)
	duration := time.Since(start)

	if toolErr != nil {
		resultContent = toolErr.Error()
		isError = true
	}
	e.publishToolResult(tc.ToolName, resultContent, duration, isError)

	msg := convo.NewMessage(convo.Author(agent.ID), convo.RoleTool, resultContent, time.Now())
	msg.ToolCallID = tc.CallID
	return msg
}

func (e *Executor) finishTurn(state *convo.ConversationState, agent convo.Agent, content string) {
	msg := convo.NewMessage(convo.Author(agent.ID), convo.RoleAI, content, time.Now())

	state.Lock()
	msg.CycleIndex = state.CurrentCycle
	state.Append(msg)
	state.Unlock()

	e.Sink.Publish(convo.Event{
		Type: convo.EventAgentMessage,
		Time: time.Now(),
		AgentMessage: &convo.AgentMessagePayload{
			AgentID:     agent.ID,
			DisplayName: agent.DisplayName,
			Content:     content,
			Cycle:       msg.CycleIndex,
		},
	})

	if e.Tracker != nil {
		e.Tracker.RecordTurn(agent.ID, content)
	}
}

func (e *Executor) timeoutAgent(state *convo.ConversationState, agent convo.Agent) {
	msg := convo.NewMessage(convo.Author(agent.ID), convo.RoleAI, "[agent timed out]", time.Now())
	state.Lock()
	state.Append(msg)
	state.Unlock()

	e.Sink.Publish(convo.Event{
		Type: convo.EventError,
		Time: time.Now(),
		Error: &convo.ErrorPayload{
			Kind:    convo.ErrorKindTimeout,
			AgentID: agent.ID,
			Message: "agent turn timed out",
		},
	})
}

func (e *Executor) failAgent(state *convo.ConversationState, agent convo.Agent, cause error) error {
	msg := convo.NewMessage(convo.Author(agent.ID), convo.RoleAI, fmt.Sprintf("[model unavailable: %v]", cause), time.Now())
	state.Lock()
	state.Append(msg)
	state.Unlock()

	e.Sink.Publish(convo.Event{
		Type: convo.EventError,
		Time: time.Now(),
		Error: &convo.ErrorPayload{
			Kind:    convo.ErrorKindEndpointUnreachable,
			AgentID: agent.ID,
			Message: cause.Error(),
			Err:     cause,
		},
	})

	return &ErrAgentFailed{AgentID: agent.ID, Cause: cause}
}

func (e *Executor) publishTurnIndicator(agentID string) {
	e.Sink.Publish(convo.Event{
		Type:          convo.EventTurnIndicator,
		Time:          time.Now(),
		TurnIndicator: &convo.TurnIndicatorPayload{AgentID: agentID},
	})
}

func (e *Executor) publishThought(agentID, chunk string) {
	if chunk == "" {
		return
	}
	e.Sink.Publish(convo.Event{
		Type:    convo.EventThought,
		Time:    time.Now(),
		Thought: &convo.ThoughtPayload{AgentID: agentID, Chunk: chunk},
	})
}

func (e *Executor) publishToolCall(agentID, toolName string, args json.RawMessage) {
	e.Sink.Publish(convo.Event{
		Type: convo.EventToolCall,
		Time: time.Now(),
		ToolCall: &convo.ToolCallPayload{
			AgentID:  agentID,
			ToolName: toolName,
			Args:     args,
		},
	})
}

func (e *Executor) publishToolResult(toolName, content string, duration time.Duration, isError bool) {
	preview := content
	const maxPreview = 200
	if len(preview) > maxPreview {
		preview = preview[:maxPreview]
	}
	e.Sink.Publish(convo.Event{
		Type: convo.EventToolResult,
		Time: time.Now(),
		ToolResult: &convo.ToolResultPayload{
			ToolName:      toolName,
			ResultPreview: preview,
			DurationMS:    duration.Milliseconds(),
			IsError:       isError,
		},
	})
}

func buildMessageView(agent convo.Agent, history []convo.Message) []modelclient.Message {
	view := make([]modelclient.Message, 0, len(history)+1)
	for _, m := range history {
		view = append(view, toProviderMessage(m))
	}
	return view
}

func toProviderMessage(m convo.Message) modelclient.Message {
	return modelclient.Message{
		Role:       m.Role,
		Content:    m.Content,
		ToolCalls:  m.ToolCalls,
		ToolCallID: m.ToolCallID,
	}
}

func toolSchemas(handles []convo.ToolHandle) []modelclient.ToolSchema {
	if len(handles) == 0 {
		return nil
	}
	out := make([]modelclient.ToolSchema, 0, len(handles))
	for _, h := range handles {
		out = append(out, modelclient.ToolSchema{
			Name:        h.Name,
			Description: h.Description,
			InputSchema: h.InputSchema,
		})
	}
	return out
}
