// Package config loads the engine's configuration file into a
// pkg/convo.ConfigSpec, the shape the Initializer consumes.
package config

import (
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/zloeber/ai-agent-mixer/pkg/convo"
)

// Load reads path, expands ${NAME}-style environment variables (per §6)
// before parsing, decodes a single YAML document strictly, applies
// defaults, and validates the structural requirements §6 lists as
// required fields. It does not resolve a scenario or a participant
// set — that is the Initializer's job at start time.
func Load(path string) (convo.ConfigSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return convo.ConfigSpec{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg convo.ConfigSpec
	decoder := yaml.NewDecoder(strings.NewReader(expanded))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return convo.ConfigSpec{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := decoder.Decode(new(struct{})); err != io.EOF {
		return convo.ConfigSpec{}, fmt.Errorf("config: %s must be a single YAML document", path)
	}

	applyDefaults(&cfg)

	if err := validate(cfg); err != nil {
		return convo.ConfigSpec{}, err
	}

	return cfg, nil
}

func applyDefaults(cfg *convo.ConfigSpec) {
	for i := range cfg.ToolServers {
		if cfg.ToolServers[i].Scope == "" {
			cfg.ToolServers[i].Scope = convo.ScopeGlobal
		}
	}
	for i := range cfg.Agents {
		for j := range cfg.Agents[i].ToolServers {
			cfg.Agents[i].ToolServers[j].Scope = convo.ScopeAgentScoped
			cfg.Agents[i].ToolServers[j].AgentID = cfg.Agents[i].ID
		}
	}
	if cfg.Conversation != nil {
		applyScenarioDefaults(cfg.Conversation)
	}
	for i := range cfg.Conversations {
		applyScenarioDefaults(&cfg.Conversations[i])
	}
}

func applyScenarioDefaults(s *convo.ScenarioSpec) {
	if s.TurnTimeoutSeconds == 0 {
		s.TurnTimeoutSeconds = 30
	}
}

// validate checks the structural requirements §6 lists: at least two
// agents each with a display name, persona, and model endpoint; at least
// one scenario with a starting agent and max_cycles; a first message.
func validate(cfg convo.ConfigSpec) error {
	if len(cfg.Agents) < 2 {
		return fmt.Errorf("config: at least two agents are required, got %d", len(cfg.Agents))
	}
	seen := make(map[string]bool, len(cfg.Agents))
	for _, a := range cfg.Agents {
		if a.ID == "" {
			return fmt.Errorf("config: agent missing id")
		}
		if seen[a.ID] {
			return fmt.Errorf("config: duplicate agent id %q", a.ID)
		}
		seen[a.ID] = true
		if a.DisplayName == "" {
			return fmt.Errorf("config: agent %q missing display_name", a.ID)
		}
		if a.Persona == "" {
			return fmt.Errorf("config: agent %q missing persona", a.ID)
		}
		if a.ModelEndpoint.Provider == "" || a.ModelEndpoint.Model == "" {
			return fmt.Errorf("config: agent %q missing model_endpoint.provider/model", a.ID)
		}
	}

	scenarios := cfg.Scenarios()
	if len(scenarios) == 0 {
		return fmt.Errorf("config: at least one scenario (conversation or conversations) is required")
	}
	for _, s := range scenarios {
		if s.StartingAgent == "" {
			return fmt.Errorf("config: scenario %q missing starting_agent", s.Name)
		}
		if !seen[s.StartingAgent] {
			return fmt.Errorf("config: scenario %q starting_agent %q is not a configured agent", s.Name, s.StartingAgent)
		}
		if s.MaxCycles <= 0 {
			return fmt.Errorf("config: scenario %q max_cycles must be positive", s.Name)
		}
		for _, id := range s.AgentsInvolved {
			if !seen[id] {
				return fmt.Errorf("config: scenario %q agents_involved references unknown agent %q", s.Name, id)
			}
		}
	}

	if cfg.Init.FirstMessage == "" {
		for _, s := range scenarios {
			if s.OpeningMessage == "" {
				return fmt.Errorf("config: init.first_message is required when scenario %q sets no opening_message", s.Name)
			}
		}
	}

	return nil
}
