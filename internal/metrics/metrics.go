// Package metrics exposes Prometheus counters and histograms for turns,
// cycles, tool calls, and errors, built the way the teacher's
// observability package builds its own registry of promauto vectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/zloeber/ai-agent-mixer/pkg/convo"
)

// Metrics collects the counters and histograms this engine scrapes.
type Metrics struct {
	// TurnsTotal counts completed agent turns by agent and outcome.
	// Labels: agent_id, status (ok|error)
	TurnsTotal *prometheus.CounterVec

	// CyclesCompleted counts cycle completions.
	CyclesCompleted prometheus.Counter

	// ToolCallsTotal counts tool invocations by tool name and outcome.
	// Labels: tool_name, status (ok|error)
	ToolCallsTotal *prometheus.CounterVec

	// ToolCallDuration measures tool call latency in seconds.
	// Labels: tool_name
	ToolCallDuration *prometheus.HistogramVec

	// ConversationsEnded counts terminated conversations by reason.
	// Labels: reason (max_cycles|keyword:<word>|silence|stopped|agent_error)
	ConversationsEnded *prometheus.CounterVec

	// ErrorsTotal counts published error events by kind.
	// Labels: kind
	ErrorsTotal *prometheus.CounterVec
}

// New creates and registers every metric with prometheus's default
// registry. Call once at startup.
func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer creates and registers every metric against reg,
// letting tests use an isolated prometheus.NewRegistry() instead of
// colliding on the package-global default registry across test cases.
func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		TurnsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentmixer_turns_total",
				Help: "Total number of agent turns by agent and outcome",
			},
			[]string{"agent_id", "status"},
		),
		CyclesCompleted: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "agentmixer_cycles_completed_total",
				Help: "Total number of cycles completed across all conversations",
			},
		),
		ToolCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentmixer_tool_calls_total",
				Help: "Total number of tool calls by tool name and outcome",
			},
			[]string{"tool_name", "status"},
		),
		ToolCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentmixer_tool_call_duration_seconds",
				Help:    "Duration of tool calls in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
			},
			[]string{"tool_name"},
		),
		ConversationsEnded: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentmixer_conversations_ended_total",
				Help: "Total number of conversations terminated by reason",
			},
			[]string{"reason"},
		),
		ErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentmixer_errors_total",
				Help: "Total number of error events by kind",
			},
			[]string{"kind"},
		),
	}
}

// Observe returns an eventsink.Handler that updates m from every event
// published, letting the Orchestrator/Agent Turn Executor/Tool Registry
// stay unaware that metrics collection exists — the same subscriber-table
// pattern the Event Sink already uses for every other observer.
func (m *Metrics) Observe() func(convo.Event) {
	return func(e convo.Event) {
		switch e.Type {
		case convo.EventAgentMessage:
			m.TurnsTotal.WithLabelValues(e.AgentMessage.AgentID, "ok").Inc()
		case convo.EventCycleUpdate:
			m.CyclesCompleted.Inc()
		case convo.EventToolResult:
			status := "ok"
			if e.ToolResult.IsError {
				status = "error"
			}
			m.ToolCallsTotal.WithLabelValues(e.ToolResult.ToolName, status).Inc()
			m.ToolCallDuration.WithLabelValues(e.ToolResult.ToolName).Observe(time.Duration(e.ToolResult.DurationMS * int64(time.Millisecond)).Seconds())
		case convo.EventLifecycle:
			if e.Lifecycle.Kind == convo.LifecycleEnded {
				m.ConversationsEnded.WithLabelValues(e.Lifecycle.Detail).Inc()
			}
		case convo.EventError:
			m.ErrorsTotal.WithLabelValues(string(e.Error.Kind)).Inc()
			if e.Error.AgentID != "" {
				m.TurnsTotal.WithLabelValues(e.Error.AgentID, "error").Inc()
			}
		}
	}
}
