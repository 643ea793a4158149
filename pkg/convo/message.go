// Package convo defines the shared data model that flows between the
// orchestration engine's components: messages, tool calls, agents, tool
// servers, and the frozen conversation state.
package convo

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Role indicates the message author type.
type Role string

const (
	RoleSystem      Role = "system"
	RoleHuman       Role = "human"
	RoleAI          Role = "ai"
	RoleTool        Role = "tool"
	RoleCycleMarker Role = "cycle-marker"
)

// Author identifies who produced a message: an agent id, or one of the
// reserved pseudo-authors "user" and "system".
type Author string

const (
	AuthorUser   Author = "user"
	AuthorSystem Author = "system"
)

// Message is one entry in a conversation's append-only history.
// Thoughts are never represented as a Message; they flow only to the
// Event Sink (invariant 7).
type Message struct {
	ID          string         `json:"id"`
	Author      Author         `json:"author"`
	Role        Role           `json:"role"`
	Content     string         `json:"content"`
	ToolCalls   []ToolCall     `json:"tool_calls,omitempty"`
	ToolCallID  string         `json:"tool_call_id,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
	CycleIndex  int            `json:"cycle_index,omitempty"`
	IsThought   bool           `json:"is_thought,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// NewMessage returns a Message with a fresh id and the current timestamp
// stamped by the caller (timestamps are supplied by callers, not computed
// here, so tests can produce deterministic output).
func NewMessage(author Author, role Role, content string, at time.Time) Message {
	return Message{
		ID:        uuid.NewString(),
		Author:    author,
		Role:      role,
		Content:   content,
		Timestamp: at,
	}
}

// ToolCall is issued by the model and matched one-to-one with a ToolResult
// message carrying the same CallID as its ToolCallID.
type ToolCall struct {
	CallID    string          `json:"call_id"`
	ToolName  string          `json:"tool_name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Phase is the Orchestrator's run state.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseRunning    Phase = "running"
	PhasePaused     Phase = "paused"
	PhaseTerminated Phase = "terminated"
)

// TerminationReasonKind enumerates the fixed set of reasons a conversation
// stops, per the glossary's "Termination reason" entry.
type TerminationReasonKind string

const (
	TerminationMaxCycles TerminationReasonKind = "max_cycles"
	TerminationKeyword   TerminationReasonKind = "keyword"
	TerminationSilence   TerminationReasonKind = "silence"
	TerminationStopped   TerminationReasonKind = "stopped"
	TerminationAgentErr  TerminationReasonKind = "agent_error"
)

// Termination records why and when a conversation stopped.
type Termination struct {
	Reason  TerminationReasonKind `json:"reason"`
	Keyword string                `json:"keyword,omitempty"`
	AtCycle int                   `json:"at_cycle"`
}

// String renders the reason the way termination events and tests expect,
// e.g. "keyword:goodbye".
func (t Termination) String() string {
	if t.Reason == TerminationKeyword && t.Keyword != "" {
		return string(t.Reason) + ":" + t.Keyword
	}
	return string(t.Reason)
}
