package convo

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEvent_ThoughtPayload(t *testing.T) {
	e := Event{
		Type: EventThought,
		Time: time.Now(),
		Thought: &ThoughtPayload{
			AgentID: "agent-a",
			Chunk:   "planning",
		},
	}

	require.Equal(t, EventThought, e.Type)
	require.NotNil(t, e.Thought)
	require.Nil(t, e.AgentMessage)
	require.Equal(t, "planning", e.Thought.Chunk)
}

func TestLifecyclePayload_Kinds(t *testing.T) {
	kinds := []LifecycleKind{LifecycleStarted, LifecyclePaused, LifecycleResumed, LifecycleStopped, LifecycleEnded}
	for _, k := range kinds {
		require.NotEmpty(t, string(k))
	}
}
