package convo

import "time"

// Event is the unified record published to the Event Sink. Exactly one of
// the typed payload fields is populated for a given Type.
//
// Design follows the event taxonomy in §4.1: a single Type discriminator
// plus optional payloads keeps the sink's wire shape stable as new event
// kinds are added, and a monotonic Sequence orders events within one
// subscriber's stream even though publication itself is fire-and-forget.
type Event struct {
	Type     EventType          `json:"type"`
	Time     time.Time          `json:"time"`
	Sequence uint64             `json:"seq"`

	Thought       *ThoughtPayload       `json:"thought,omitempty"`
	AgentMessage  *AgentMessagePayload  `json:"agent_message,omitempty"`
	TurnIndicator *TurnIndicatorPayload `json:"turn_indicator,omitempty"`
	ToolCall      *ToolCallPayload      `json:"tool_call,omitempty"`
	ToolResult    *ToolResultPayload    `json:"tool_result,omitempty"`
	CycleUpdate   *CycleUpdatePayload   `json:"cycle_update,omitempty"`
	Lifecycle     *LifecyclePayload     `json:"lifecycle,omitempty"`
	Error         *ErrorPayload         `json:"error,omitempty"`
}

// EventType identifies the kind of event; see §4.1 for the full list.
type EventType string

const (
	EventThought       EventType = "thought"
	EventAgentMessage  EventType = "agent_message"
	EventTurnIndicator EventType = "turn_indicator"
	EventToolCall      EventType = "tool_call"
	EventToolResult    EventType = "tool_result"
	EventCycleUpdate   EventType = "cycle_update"
	EventLifecycle     EventType = "lifecycle"
	EventError         EventType = "error"
)

// ThoughtPayload carries one chunk of an agent's internal reasoning.
type ThoughtPayload struct {
	AgentID string `json:"agent_id"`
	Chunk   string `json:"chunk"`
}

// AgentMessagePayload carries one finished agent utterance.
type AgentMessagePayload struct {
	AgentID     string `json:"agent_id"`
	DisplayName string `json:"display_name"`
	Content     string `json:"content"`
	Cycle       int    `json:"cycle"`
}

// TurnIndicatorPayload announces whose turn is starting.
type TurnIndicatorPayload struct {
	AgentID string `json:"agent_id"`
}

// ToolCallPayload announces an outgoing tool invocation.
type ToolCallPayload struct {
	AgentID  string `json:"agent_id"`
	ToolName string `json:"tool_name"`
	Args     []byte `json:"args"`
}

// ToolResultPayload reports a tool invocation's outcome.
type ToolResultPayload struct {
	ToolName     string `json:"tool_name"`
	ResultPreview string `json:"result_preview"`
	DurationMS   int64  `json:"duration_ms"`
	IsError      bool   `json:"is_error,omitempty"`
}

// LifecycleKind enumerates conversation lifecycle transitions.
type LifecycleKind string

const (
	LifecycleStarted LifecycleKind = "started"
	LifecyclePaused  LifecycleKind = "paused"
	LifecycleResumed LifecycleKind = "resumed"
	LifecycleStopped LifecycleKind = "stopped"
	LifecycleEnded   LifecycleKind = "ended"
)

// LifecyclePayload reports a conversation-level state transition.
type LifecyclePayload struct {
	Kind   LifecycleKind `json:"kind"`
	Detail string        `json:"detail,omitempty"`
}

// CycleUpdatePayload reports cycle completion.
type CycleUpdatePayload struct {
	Cycle        int      `json:"cycle"`
	Participating []string `json:"participating"`
}

// ErrorKind enumerates the error taxonomy of §7.
type ErrorKind string

const (
	ErrorKindTimeout            ErrorKind = "timeout"
	ErrorKindEndpointUnreachable ErrorKind = "endpoint_unreachable"
	ErrorKindModelNotFound      ErrorKind = "model_not_found"
	ErrorKindProtocol           ErrorKind = "protocol"
	ErrorKindToolStartupFailed  ErrorKind = "tool_startup_failed"
	ErrorKindToolCallFailed     ErrorKind = "tool_call_failed"
)

// ErrorPayload reports an error condition. Err preserves the original
// error for errors.Is/errors.As but is never serialized.
type ErrorPayload struct {
	Kind    ErrorKind `json:"kind"`
	AgentID string    `json:"agent_id,omitempty"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
}
