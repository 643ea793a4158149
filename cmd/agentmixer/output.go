package main

import (
	"fmt"
	"io"

	"github.com/zloeber/ai-agent-mixer/internal/eventsink"
	"github.com/zloeber/ai-agent-mixer/pkg/convo"
)

// printEvent builds an eventsink.Handler that renders the conversation's
// narrative events (agent turns, tool calls, lifecycle transitions) to w
// as they happen, skipping the high-frequency thought and cycle_update
// chatter that matters more to a programmatic observer than a human
// watching a terminal.
func printEvent(w io.Writer) eventsink.Handler {
	return func(e convo.Event) {
		switch e.Type {
		case convo.EventAgentMessage:
			m := e.AgentMessage
			fmt.Fprintf(w, "[cycle %d] %s: %s\n", m.Cycle, m.DisplayName, m.Content)
		case convo.EventToolCall:
			fmt.Fprintf(w, "  -> %s calls tool %s\n", e.ToolCall.AgentID, e.ToolCall.ToolName)
		case convo.EventToolResult:
			status := "ok"
			if e.ToolResult.IsError {
				status = "error"
			}
			fmt.Fprintf(w, "  <- %s (%s, %dms): %s\n", e.ToolResult.ToolName, status, e.ToolResult.DurationMS, e.ToolResult.ResultPreview)
		case convo.EventLifecycle:
			fmt.Fprintf(w, "-- %s %s\n", e.Lifecycle.Kind, e.Lifecycle.Detail)
		case convo.EventError:
			fmt.Fprintf(w, "!! %s: %s\n", e.Error.Kind, e.Error.Message)
		}
	}
}
