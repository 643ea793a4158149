// Package initializer implements the Initializer (C8): turns a validated
// configuration plus a scenario selection and runtime overrides into a
// frozen ConversationState and the set of rendered, tool-bound Agent
// records the Orchestrator drives.
package initializer

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/zloeber/ai-agent-mixer/internal/prompttmpl"
	"github.com/zloeber/ai-agent-mixer/pkg/convo"
)

// ToolStarter is the Tool Registry surface the Initializer needs. A
// *toolserver.Registry satisfies it directly.
type ToolStarter interface {
	Start(ctx context.Context, spec convo.ToolServerSpec) (convo.ToolServerDescriptor, error)
	ToolsForAgent(agentID string) []convo.ToolHandle
}

// TemplateEngine renders a system_prompt_template against a variable set.
// *prompttmpl.Engine satisfies it; tests may substitute a stub.
type TemplateEngine interface {
	Process(tmplStr string, vars map[string]any) (string, error)
}

// Initializer builds a runnable conversation from static configuration.
// It holds no conversation state of its own; Build is called once per
// start command.
type Initializer struct {
	Tools     ToolStarter
	Templates TemplateEngine
}

// New builds an Initializer. Pass nil for templates to use the package
// default prompttmpl.Engine.
func New(tools ToolStarter, templates TemplateEngine) *Initializer {
	if templates == nil {
		templates = prompttmpl.New()
	}
	return &Initializer{Tools: tools, Templates: templates}
}

// Build runs the six-step protocol of §4.8. scenarioName may be empty to
// select the first defined scenario. It returns the frozen state (phase
// idle, seeded with the opening message) and the rendered, tool-bound
// agent records the Agent Turn Executor needs.
func (init *Initializer) Build(ctx context.Context, cfg convo.ConfigSpec, scenarioName string, overrides convo.RunOverrides) (*convo.ConversationState, []convo.Agent, error) {
	scenario, err := resolveScenario(cfg, scenarioName)
	if err != nil {
		return nil, nil, err
	}

	participating, err := participatingAgents(cfg, scenario)
	if err != nil {
		return nil, nil, err
	}

	startingAgent := scenario.StartingAgent
	if overrides.StartingAgent != "" {
		if !contains(participating, overrides.StartingAgent) {
			return nil, nil, &InvalidOverrideError{Detail: fmt.Sprintf("starting_agent override %q is not a participant", overrides.StartingAgent)}
		}
		startingAgent = overrides.StartingAgent
	}
	if startingAgent == "" || !contains(participating, startingAgent) {
		return nil, nil, &ConfigInvalidError{Detail: fmt.Sprintf("starting_agent %q is not a participant", startingAgent)}
	}

	maxCycles := scenario.MaxCycles
	if overrides.MaxCycles != nil {
		if *overrides.MaxCycles <= 0 {
			return nil, nil, &InvalidOverrideError{Detail: "max_cycles override must be positive"}
		}
		maxCycles = *overrides.MaxCycles
	}

	snapshot := convo.ScenarioSnapshot{
		Name:                scenario.Name,
		Goal:                scenario.Goal,
		Brevity:             scenario.Brevity,
		MaxCycles:           maxCycles,
		StartingAgent:        startingAgent,
		ParticipatingAgents: participating,
		TurnTimeoutSeconds:  scenario.TurnTimeoutSeconds,
		KeywordTriggers:     scenario.KeywordTriggers,
		SilenceThreshold:    scenario.SilenceThreshold,
	}

	// Global tool servers are shared infrastructure for the whole
	// conversation, not any one agent's concern, so they come up before
	// any agent's prompt is rendered: a global tool's name is already
	// part of "tools available to this agent" by the time step 4 runs.
	if err := init.startGlobalToolServers(ctx, cfg.ToolServers); err != nil {
		return nil, nil, err
	}

	agents := make([]convo.Agent, 0, len(participating))
	specByID := specsByID(cfg.Agents)
	template := cfg.Init.SystemPromptTemplate
	if template == "" {
		template = prompttmpl.DefaultTemplate
	}

	for _, id := range participating {
		spec, ok := specByID[id]
		if !ok {
			return nil, nil, &ConfigInvalidError{Detail: fmt.Sprintf("participating agent %q has no configuration", id)}
		}

		toolNames := toolNamesFor(init.Tools, id)
		rendered, err := init.Templates.Process(template, map[string]any{
			"agent": map[string]any{
				"name":     spec.DisplayName,
				"persona":  spec.Persona,
				"metadata": spec.Metadata,
			},
			"conversation": map[string]any{
				"scenario_name":        snapshot.Name,
				"goal":                 snapshot.Goal,
				"brevity":              snapshot.Brevity,
				"max_cycles":           snapshot.MaxCycles,
				"participating_agents": snapshot.ParticipatingAgents,
			},
			"tools": toolNames,
		})
		if err != nil {
			return nil, nil, &ConfigInvalidError{Detail: fmt.Sprintf("rendering system prompt for %q: %v", id, err)}
		}

		agents = append(agents, convo.Agent{
			ID:                   spec.ID,
			DisplayName:          spec.DisplayName,
			PersonaText:          spec.Persona,
			RenderedSystemPrompt: rendered,
			ModelEndpoint:        spec.ModelEndpoint,
			ModelParams:          spec.ModelEndpoint.Params,
			ThinkingEnabled:      spec.ThinkingEnabled,
			Metadata:             spec.Metadata,
		})
	}

	// Agent-scoped tool servers start after rendering, per §4.8 step 5
	// following step 4 literally: an agent-scoped tool is not yet part
	// of "tools available to this agent" in its own rendered prompt, but
	// it must still be reachable once the Agent Turn Executor runs, so
	// ToolHandles is refreshed below after these servers come up.
	for i := range agents {
		spec := specByID[agents[i].ID]
		for _, ts := range spec.ToolServers {
			ts.Scope = convo.ScopeAgentScoped
			ts.AgentID = spec.ID
			// Startup failure is advisory, same as for global servers:
			// the agent simply runs with one fewer tool.
			_, _ = init.Tools.Start(ctx, ts)
		}
	}

	for i := range agents {
		agents[i].ToolHandles = init.Tools.ToolsForAgent(agents[i].ID)
	}

	opening := scenario.OpeningMessage
	if opening == "" {
		opening = cfg.Init.FirstMessage
	}

	seed := convo.NewMessage(convo.Author(startingAgent), convo.RoleHuman, opening, time.Now())

	state := &convo.ConversationState{
		ID:                    uuid.NewString(),
		Messages:              []convo.Message{seed},
		CurrentCycle:          0,
		NextAgent:             startingAgent,
		AgentsSpokenThisCycle: make(map[string]struct{}),
		ParticipatingAgents:   participating,
		Phase:                 convo.PhaseIdle,
		Scenario:              snapshot,
	}

	return state, agents, nil
}

func (init *Initializer) startGlobalToolServers(ctx context.Context, specs []convo.ToolServerSpec) error {
	for _, spec := range specs {
		if spec.Scope == convo.ScopeAgentScoped {
			continue
		}
		spec.Scope = convo.ScopeGlobal
		if _, err := init.Tools.Start(ctx, spec); err != nil {
			// A tool server failing to start is advisory (§4.4): the
			// server simply stays stopped and its tools are absent from
			// every agent's ToolsForAgent result.
			continue
		}
	}
	return nil
}

func toolNamesFor(tools ToolStarter, agentID string) []string {
	if tools == nil {
		return nil
	}
	handles := tools.ToolsForAgent(agentID)
	names := make([]string, 0, len(handles))
	for _, h := range handles {
		names = append(names, h.Name)
	}
	return names
}

func resolveScenario(cfg convo.ConfigSpec, scenarioName string) (convo.ScenarioSpec, error) {
	scenarios := cfg.Scenarios()
	if len(scenarios) == 0 {
		return convo.ScenarioSpec{}, ErrNoConfig
	}
	if scenarioName == "" {
		return scenarios[0], nil
	}
	for _, s := range scenarios {
		if s.Name == scenarioName {
			return s, nil
		}
	}
	return convo.ScenarioSpec{}, &ConfigInvalidError{Detail: fmt.Sprintf("scenario %q not found", scenarioName)}
}

func participatingAgents(cfg convo.ConfigSpec, scenario convo.ScenarioSpec) ([]string, error) {
	var ids []string
	if len(scenario.AgentsInvolved) > 0 {
		ids = scenario.AgentsInvolved
	} else {
		for _, a := range cfg.Agents {
			ids = append(ids, a.ID)
		}
	}
	if len(ids) < 2 {
		return nil, &ConfigInvalidError{Detail: "fewer than two participating agents"}
	}
	return ids, nil
}

func specsByID(agents []convo.AgentSpec) map[string]convo.AgentSpec {
	out := make(map[string]convo.AgentSpec, len(agents))
	for _, a := range agents {
		out[a.ID] = a
	}
	return out
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
