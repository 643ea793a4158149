package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const replTestConfig = `
agents:
  - id: alice
    display_name: Alice
    persona: curious researcher
    model_endpoint:
      provider: openai
      model: gpt-4o-mini
  - id: bob
    display_name: Bob
    persona: skeptical reviewer
    model_endpoint:
      provider: openai
      model: gpt-4o-mini
conversation:
  name: default
  max_cycles: 2
  starting_agent: alice
init:
  first_message: "Let's begin."
`

func writeReplConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "agentmixer.yaml")
	if err := os.WriteFile(path, []byte(replTestConfig), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func runReplLines(t *testing.T, lines ...string) []replResponse {
	t.Helper()
	var out bytes.Buffer
	in := strings.NewReader(strings.Join(lines, "\n") + "\n")

	if err := runRepl(context.Background(), in, &out); err != nil {
		t.Fatalf("runRepl() error = %v", err)
	}

	var responses []replResponse
	dec := json.NewDecoder(&out)
	for dec.More() {
		var r replResponse
		if err := dec.Decode(&r); err != nil {
			t.Fatalf("Decode() error = %v", err)
		}
		responses = append(responses, r)
	}
	return responses
}

func TestReplStatusBeforeStartIsIdle(t *testing.T) {
	responses := runReplLines(t, `{"command":"status"}`, `{"command":"quit"}`)
	if len(responses) != 1 || !responses[0].OK {
		t.Fatalf("unexpected responses: %+v", responses)
	}
}

func TestReplUnknownCommandReturnsError(t *testing.T) {
	responses := runReplLines(t, `{"command":"nonsense"}`, `{"command":"quit"}`)
	if len(responses) != 1 || responses[0].OK {
		t.Fatalf("expected an error response, got %+v", responses)
	}
}

func TestReplStartPopulatesScenarioListing(t *testing.T) {
	path := writeReplConfig(t)
	responses := runReplLines(t,
		`{"command":"start","config_path":"`+path+`"}`,
		`{"command":"list_scenarios"}`,
		`{"command":"quit"}`,
	)
	if len(responses) != 2 {
		t.Fatalf("expected 2 responses, got %d", len(responses))
	}
	if !responses[0].OK {
		t.Fatalf("start failed: %+v", responses[0])
	}
	if !responses[1].OK {
		t.Fatalf("list_scenarios failed: %+v", responses[1])
	}
}

func TestReplContinueWithoutStartIsNotRunning(t *testing.T) {
	responses := runReplLines(t, `{"command":"continue"}`, `{"command":"quit"}`)
	if len(responses) != 1 || responses[0].OK {
		t.Fatalf("expected ErrNotRunning response, got %+v", responses)
	}
}

func TestReplMalformedLineReportsError(t *testing.T) {
	responses := runReplLines(t, `not json`, `{"command":"quit"}`)
	if len(responses) != 1 || responses[0].OK {
		t.Fatalf("expected a malformed-command error, got %+v", responses)
	}
}
