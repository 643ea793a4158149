package convo

import (
	"encoding/json"
	"sync"
)

// Agent is the runtime view of a configured participant: its persona and
// endpoint are fixed at initialization, its lifetime is one conversation.
type Agent struct {
	ID                  string         `json:"id"`
	DisplayName         string         `json:"display_name"`
	PersonaText         string         `json:"persona_text"`
	RenderedSystemPrompt string        `json:"rendered_system_prompt"`
	ModelEndpoint       ModelEndpoint  `json:"model_endpoint"`
	ModelParams         map[string]any `json:"model_params,omitempty"`
	ThinkingEnabled     bool           `json:"thinking_enabled"`
	ToolHandles         []ToolHandle   `json:"tool_handles,omitempty"`
	Metadata            map[string]any `json:"metadata,omitempty"`
}

// ModelEndpoint names a model binding: which provider backend handles it
// and which model identifier to ask it for.
type ModelEndpoint struct {
	Provider string         `json:"provider"`
	Model    string         `json:"model"`
	BaseURL  string         `json:"base_url,omitempty"`
	Params   map[string]any `json:"params,omitempty"`
}

// ToolHandle is one tool an agent can call, resolved from the owning
// ToolServer by the Tool Registry.
type ToolHandle struct {
	ServerName  string          `json:"server_name"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// ScenarioSnapshot is frozen at conversation start; runtime overrides
// (max_cycles, starting_agent) are applied before freezing.
type ScenarioSnapshot struct {
	Name                string   `json:"name"`
	Goal                string   `json:"goal,omitempty"`
	Brevity             string   `json:"brevity,omitempty"`
	MaxCycles           int      `json:"max_cycles"`
	StartingAgent       string   `json:"starting_agent"`
	ParticipatingAgents []string `json:"participating_agents"`
	TurnTimeoutSeconds  int      `json:"turn_timeout_seconds"`
	KeywordTriggers     []string `json:"keyword_triggers,omitempty"`
	SilenceThreshold    *int     `json:"silence_threshold,omitempty"`
}

// ConversationState is owned exclusively by the Orchestrator; every field
// mutation is serialized through its driver loop. External readers call
// Snapshot to obtain a point-in-time copy under a short lock.
type ConversationState struct {
	mu sync.Mutex

	ID                    string
	Messages              []Message
	CurrentCycle          int
	NextAgent             string
	AgentsSpokenThisCycle map[string]struct{}
	ParticipatingAgents   []string
	Phase                 Phase
	Termination           *Termination
	Scenario              ScenarioSnapshot
}

// StateView is a read-only copy returned by Snapshot.
type StateView struct {
	ID                  string
	MessageCount         int
	CurrentCycle         int
	NextAgent            string
	Phase                Phase
	Termination          *Termination
}

// Snapshot copies the fields a status query needs under a short lock,
// per the "external reads obtain a snapshot copy" resource rule.
func (s *ConversationState) Snapshot() StateView {
	s.mu.Lock()
	defer s.mu.Unlock()
	var term *Termination
	if s.Termination != nil {
		t := *s.Termination
		term = &t
	}
	return StateView{
		ID:           s.ID,
		MessageCount: len(s.Messages),
		CurrentCycle: s.CurrentCycle,
		NextAgent:    s.NextAgent,
		Phase:        s.Phase,
		Termination:  term,
	}
}

// Lock and Unlock expose the driver's serialization point directly to the
// orchestrator package and the Agent Turn Executor it drives, the only
// writers of the state.
func (s *ConversationState) Lock()   { s.mu.Lock() }
func (s *ConversationState) Unlock() { s.mu.Unlock() }

// Append adds a message to the history. Callers must hold the lock
// (invariant: append-only, serialized through the driver).
func (s *ConversationState) Append(m Message) {
	s.Messages = append(s.Messages, m)
}

// MessagesView returns the non-thought messages, the view every agent
// turn is built from (thoughts never enter shared history per invariant 7,
// so this is currently equivalent to Messages, but kept explicit for
// callers that should never depend on thought-bearing entries existing).
func (s *ConversationState) MessagesView() []Message {
	out := make([]Message, 0, len(s.Messages))
	for _, m := range s.Messages {
		if !m.IsThought {
			out = append(out, m)
		}
	}
	return out
}

// Export copies the full message history, the frozen scenario, and the
// termination (if any) under lock, for external collaborators such as a
// transcript formatter that need more than Snapshot's counters.
func (s *ConversationState) Export() (ScenarioSnapshot, []Message, *Termination) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := make([]Message, len(s.Messages))
	copy(msgs, s.Messages)
	var term *Termination
	if s.Termination != nil {
		t := *s.Termination
		term = &t
	}
	return s.Scenario, msgs, term
}
