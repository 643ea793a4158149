package cycle

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zloeber/ai-agent-mixer/pkg/convo"
)

func TestTracker_CompletesCycleWhenAllAgentsSpeak(t *testing.T) {
	tr := New([]string{"a", "b"})
	require.Equal(t, 0, tr.CurrentCycle())

	tr.RecordTurn("a", "hello")
	require.Equal(t, 0, tr.CurrentCycle())

	tr.RecordTurn("b", "hi there")
	require.Equal(t, 1, tr.CurrentCycle())

	sig, ok := tr.Signature()
	require.True(t, ok)
	require.NotEmpty(t, sig)
}

func TestTracker_IgnoresNonParticipatingAgent(t *testing.T) {
	tr := New([]string{"a"})
	tr.RecordTurn("stranger", "hello")
	require.Equal(t, 0, tr.CurrentCycle())
	tr.RecordTurn("a", "hi")
	require.Equal(t, 1, tr.CurrentCycle())
}

func TestTracker_CheckTermination_MaxCycles(t *testing.T) {
	tr := New([]string{"a"})
	tr.RecordTurn("a", "one")
	tr.RecordTurn("a", "two")
	scenario := &convo.ScenarioSnapshot{MaxCycles: 2}
	stop, reason := tr.CheckTermination(scenario, "two")
	require.True(t, stop)
	require.Equal(t, convo.TerminationMaxCycles, reason.Reason)
	require.Equal(t, 2, reason.AtCycle)
}

func TestTracker_CheckTermination_KeywordBeatsSilence(t *testing.T) {
	tr := New([]string{"a"})
	// One short cycle, so the silence predicate alone would also stop.
	tr.RecordTurn("a", "ok")
	threshold := 1
	scenario := &convo.ScenarioSnapshot{
		MaxCycles:        100,
		KeywordTriggers:  []string{"goodbye"},
		SilenceThreshold: &threshold,
	}
	stop, reason := tr.CheckTermination(scenario, "Well then, GOODBYE for now")
	require.True(t, stop)
	require.Equal(t, convo.TerminationKeyword, reason.Reason)
	require.Equal(t, "goodbye", reason.Keyword)
}

func TestTracker_CheckTermination_Silence(t *testing.T) {
	tr := New([]string{"a", "b"})
	tr.RecordTurn("a", "ok")
	tr.RecordTurn("b", "yep")

	threshold := 1
	scenario := &convo.ScenarioSnapshot{MaxCycles: 100, SilenceThreshold: &threshold}
	stop, reason := tr.CheckTermination(scenario, "yep")
	require.True(t, stop)
	require.Equal(t, convo.TerminationSilence, reason.Reason)
}

func TestTracker_CheckTermination_SilenceRequiresFullThreshold(t *testing.T) {
	tr := New([]string{"a"})
	tr.RecordTurn("a", "short")

	threshold := 2
	scenario := &convo.ScenarioSnapshot{MaxCycles: 100, SilenceThreshold: &threshold}
	stop, _ := tr.CheckTermination(scenario, "short")
	require.False(t, stop)
}

func TestTracker_CheckTermination_NoMatchContinues(t *testing.T) {
	tr := New([]string{"a"})
	scenario := &convo.ScenarioSnapshot{MaxCycles: 10}
	stop, reason := tr.CheckTermination(scenario, "keep going, this is a long enough message")
	require.False(t, stop)
	require.Empty(t, reason.Reason)
}
