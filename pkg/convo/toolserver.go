package convo

import "time"

// ToolServerScope distinguishes servers visible to every agent from
// servers created for one agent only.
type ToolServerScope string

const (
	ScopeGlobal      ToolServerScope = "global"
	ScopeAgentScoped ToolServerScope = "agent-scoped"
)

// ToolServerStatus is the lifecycle state of a tool-server subprocess.
type ToolServerStatus string

const (
	StatusStopped   ToolServerStatus = "stopped"
	StatusStarting  ToolServerStatus = "starting"
	StatusReady     ToolServerStatus = "ready"
	StatusUnhealthy ToolServerStatus = "unhealthy"
)

// ToolDescriptor is one callable tool as enumerated by a server's
// initialize/list_tools exchange.
type ToolDescriptor struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	InputSchema []byte `json:"input_schema"`
}

// ToolServerSpec is the declarative description of one tool server,
// produced by configuration loading (an external collaborator) and
// consumed by the Tool Registry.
type ToolServerSpec struct {
	Name    string            `yaml:"name" json:"name"`
	Scope   ToolServerScope   `yaml:"scope" json:"scope"`
	AgentID string            `yaml:"agent_id,omitempty" json:"agent_id,omitempty"`
	Command string            `yaml:"command" json:"command"`
	Args    []string          `yaml:"args,omitempty" json:"args,omitempty"`
	Env     map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
}

// ToolServerDescriptor reports the live state of one tool server, the
// shape returned by the tool_status command.
type ToolServerDescriptor struct {
	Name            string           `json:"name"`
	Scope           ToolServerScope  `json:"scope"`
	Status          ToolServerStatus `json:"status"`
	LastHealthCheck time.Time        `json:"last_health_check"`
	Tools           []ToolDescriptor `json:"tools"`
	LastError       string           `json:"last_error,omitempty"`
}
