package orchestrator

import "github.com/zloeber/ai-agent-mixer/pkg/convo"

// StartResult is returned by Start on success.
type StartResult struct {
	ConversationID      string   `json:"conversation_id"`
	ParticipatingAgents []string `json:"participating_agents"`
	MaxCycles           int      `json:"max_cycles"`
}

// ContinueResult is returned by Continue on success.
type ContinueResult struct {
	CurrentCycle      int    `json:"current_cycle"`
	Terminated        bool   `json:"terminated"`
	TerminationReason string `json:"termination_reason,omitempty"`
}

// PhaseResult is returned by Pause, Resume, and Stop.
type PhaseResult struct {
	Phase convo.Phase `json:"phase"`
}

// StatusResult is returned by Status.
type StatusResult struct {
	Phase        convo.Phase        `json:"phase"`
	CurrentCycle int                `json:"current_cycle"`
	MessageCount int                `json:"message_count"`
	NextAgent    string             `json:"next_agent"`
	Termination  *convo.Termination `json:"termination,omitempty"`
}

// ScenarioDescriptor is one entry of list_scenarios' result.
type ScenarioDescriptor struct {
	Name          string `json:"name"`
	Goal          string `json:"goal,omitempty"`
	MaxCycles     int    `json:"max_cycles"`
	StartingAgent string `json:"starting_agent"`
	IsDefault     bool   `json:"is_default"`
}

// ListScenarios reports every scenario cfg defines, marking the one
// Start would pick when scenario_name is omitted.
func ListScenarios(cfg convo.ConfigSpec) []ScenarioDescriptor {
	scenarios := cfg.Scenarios()
	out := make([]ScenarioDescriptor, 0, len(scenarios))
	for i, s := range scenarios {
		out = append(out, ScenarioDescriptor{
			Name:          s.Name,
			Goal:          s.Goal,
			MaxCycles:     s.MaxCycles,
			StartingAgent: s.StartingAgent,
			IsDefault:     i == 0,
		})
	}
	return out
}
