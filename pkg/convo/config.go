package convo

// AgentSpec is the declarative description of one configured agent,
// produced by configuration loading and consumed by the Initializer.
type AgentSpec struct {
	ID              string            `yaml:"id" json:"id"`
	DisplayName     string            `yaml:"display_name" json:"display_name"`
	Persona         string            `yaml:"persona" json:"persona"`
	ModelEndpoint   ModelEndpoint     `yaml:"model_endpoint" json:"model_endpoint"`
	ThinkingEnabled bool              `yaml:"thinking_enabled" json:"thinking_enabled"`
	ToolServers     []ToolServerSpec  `yaml:"tool_servers,omitempty" json:"tool_servers,omitempty"`
	Metadata        map[string]any    `yaml:"metadata,omitempty" json:"metadata,omitempty"`
}

// ScenarioSpec is the declarative description of one scenario, before
// runtime overrides and agent-set resolution freeze it into a
// ScenarioSnapshot.
type ScenarioSpec struct {
	Name                string   `yaml:"name" json:"name"`
	Goal                string   `yaml:"goal,omitempty" json:"goal,omitempty"`
	Brevity             string   `yaml:"brevity,omitempty" json:"brevity,omitempty"`
	MaxCycles           int      `yaml:"max_cycles" json:"max_cycles"`
	StartingAgent       string   `yaml:"starting_agent" json:"starting_agent"`
	AgentsInvolved      []string `yaml:"agents_involved,omitempty" json:"agents_involved,omitempty"`
	TurnTimeoutSeconds  int      `yaml:"turn_timeout_seconds,omitempty" json:"turn_timeout_seconds,omitempty"`
	KeywordTriggers     []string `yaml:"keyword_triggers,omitempty" json:"keyword_triggers,omitempty"`
	SilenceThreshold    *int     `yaml:"silence_threshold,omitempty" json:"silence_threshold,omitempty"`
	OpeningMessage      string   `yaml:"opening_message,omitempty" json:"opening_message,omitempty"`
}

// InitSpec bundles the first message and the system-prompt template used
// to materialize each participating agent's rendered system prompt.
type InitSpec struct {
	FirstMessage           string `yaml:"first_message" json:"first_message"`
	SystemPromptTemplate   string `yaml:"system_prompt_template,omitempty" json:"system_prompt_template,omitempty"`
}

// RunOverrides carries the start command's optional overrides.
type RunOverrides struct {
	MaxCycles     *int
	StartingAgent string
}

// ConfigSpec is the fully validated configuration the core consumes.
// Accepts either the single-scenario shape (Conversation set, Conversations
// empty) or the multi-scenario shape (Conversations set); the
// multi-scenario form takes precedence if both are present, per §6.
type ConfigSpec struct {
	Agents        []AgentSpec       `yaml:"agents" json:"agents"`
	Conversation  *ScenarioSpec     `yaml:"conversation,omitempty" json:"conversation,omitempty"`
	Conversations []ScenarioSpec    `yaml:"conversations,omitempty" json:"conversations,omitempty"`
	Init          InitSpec          `yaml:"init" json:"init"`
	ToolServers   []ToolServerSpec  `yaml:"tool_servers,omitempty" json:"tool_servers,omitempty"`
}

// Scenarios returns the configured scenarios regardless of which of the
// two accepted shapes was used.
func (c ConfigSpec) Scenarios() []ScenarioSpec {
	if len(c.Conversations) > 0 {
		return c.Conversations
	}
	if c.Conversation != nil {
		return []ScenarioSpec{*c.Conversation}
	}
	return nil
}
