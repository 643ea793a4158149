package transcript

import (
	"strings"
	"testing"
	"time"

	"github.com/zloeber/ai-agent-mixer/pkg/convo"
)

func TestRenderIncludesParticipantsAndMessages(t *testing.T) {
	scenario := convo.ScenarioSnapshot{
		Name:                "research-review",
		Goal:                "reach a recommendation",
		ParticipatingAgents: []string{"alice", "bob"},
		MaxCycles:           3,
	}
	msgs := []convo.Message{
		convo.NewMessage(convo.AuthorUser, convo.RoleHuman, "let's begin", time.Unix(0, 0)),
		{Author: "alice", Role: convo.RoleAI, Content: "hello", CycleIndex: 1},
		{Author: "alice", Role: convo.RoleAI, Content: "thinking...", CycleIndex: 1, IsThought: true},
	}
	term := &convo.Termination{Reason: convo.TerminationKeyword, Keyword: "goodbye", AtCycle: 2}

	out := Render(scenario, msgs, term)

	if !strings.Contains(out, "# research-review") {
		t.Fatalf("expected title, got %q", out)
	}
	if !strings.Contains(out, "alice, bob") {
		t.Fatalf("expected participant list, got %q", out)
	}
	if !strings.Contains(out, "keyword:goodbye") {
		t.Fatalf("expected termination reason, got %q", out)
	}
	if strings.Contains(out, "thinking...") {
		t.Fatalf("expected thought message to be excluded, got %q", out)
	}
}

func TestRenderFallsBackToGenericTitle(t *testing.T) {
	out := Render(convo.ScenarioSnapshot{}, nil, nil)
	if !strings.Contains(out, "# Conversation transcript") {
		t.Fatalf("expected fallback title, got %q", out)
	}
}
