// Package prompttmpl renders the configured system_prompt_template against
// the per-agent variable set the Initializer assembles (§4.8 step 4).
package prompttmpl

import (
	"bytes"
	"strings"
	"text/template"
)

// DefaultTemplate is used when a configuration omits system_prompt_template,
// per §6's "optional with documented default".
const DefaultTemplate = `You are {{.agent.name}}.

{{with .agent.persona}}{{.}}

{{end}}You are participating in a conversation scenario{{with .conversation.scenario_name}} called "{{.}}"{{end}}.
{{with .conversation.goal}}The goal of this conversation is: {{.}}
{{end}}{{with .conversation.brevity}}Keep your responses {{.}}.
{{end}}The other participants are: {{join .conversation.participating_agents ", "}}.
{{if .tools}}You have access to the following tools: {{join .tools ", "}}.
{{end}}`

// Engine wraps text/template with a small helper FuncMap, the same shape as
// the variable-substitution layer that renders agent prompts elsewhere in
// the pack: a fixed FuncMap, a Process(tmplStr, vars) entry point, and
// nothing stateful beyond that.
type Engine struct {
	funcs template.FuncMap
}

// New builds an Engine with the default helper functions.
func New() *Engine {
	return &Engine{funcs: defaultFuncMap()}
}

// Process parses tmplStr as a text/template and executes it against vars,
// returning the rendered string.
func (e *Engine) Process(tmplStr string, vars map[string]any) (string, error) {
	tmpl, err := template.New("system_prompt").Funcs(e.funcs).Option("missingkey=zero").Parse(tmplStr)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, vars); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func defaultFuncMap() template.FuncMap {
	return template.FuncMap{
		"join": func(items []string, sep string) string {
			return strings.Join(items, sep)
		},
		"upper": strings.ToUpper,
		"lower": strings.ToLower,
		"default": func(fallback, value string) string {
			if value == "" {
				return fallback
			}
			return value
		},
		"trim": strings.TrimSpace,
	}
}
