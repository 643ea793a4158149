// Package transcript renders a terminated conversation's message history
// to markdown for operator convenience. It is an external collaborator
// over a state snapshot, never wired into the orchestrator's hot path —
// the engine persists nothing itself.
package transcript

import (
	"fmt"
	"strings"

	"github.com/zloeber/ai-agent-mixer/pkg/convo"
)

// Render formats scenario, msgs, and the termination reason (if any) as a
// markdown document: a title and summary line, then one "###" section per
// message showing its cycle, author, and content.
func Render(scenario convo.ScenarioSnapshot, msgs []convo.Message, term *convo.Termination) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "# %s\n\n", titleOr(scenario.Name, "Conversation transcript"))
	if scenario.Goal != "" {
		fmt.Fprintf(&sb, "Goal: %s\n\n", scenario.Goal)
	}
	fmt.Fprintf(&sb, "Participants: %s\n\n", strings.Join(scenario.ParticipatingAgents, ", "))
	if term != nil {
		fmt.Fprintf(&sb, "Terminated after cycle %d: %s\n\n", term.AtCycle, term.String())
	}

	for _, m := range msgs {
		if m.IsThought {
			continue
		}
		fmt.Fprintf(&sb, "### Cycle %d — %s (%s)\n\n%s\n\n", m.CycleIndex, m.Author, m.Role, m.Content)
	}

	return sb.String()
}

func titleOr(name, fallback string) string {
	if strings.TrimSpace(name) == "" {
		return fallback
	}
	return name
}
