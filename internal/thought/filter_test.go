package thought

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func feedAll(f *Filter, chunks ...string) (cleaned, thought string) {
	var c, t string
	for _, chunk := range chunks {
		dc, dt := f.Feed(chunk)
		c += dc
		t += dt
	}
	fc, ft := f.Flush()
	return c + fc, t + ft
}

func TestFilter_PlainTextPassesThrough(t *testing.T) {
	f := New(DefaultDelimiterSet(), true)
	cleaned, thought := feedAll(f, "hello ", "world")
	require.Equal(t, "hello world", cleaned)
	require.Empty(t, thought)
}

func TestFilter_TagDelimitedThought(t *testing.T) {
	f := New(DefaultDelimiterSet(), true)
	cleaned, thought := feedAll(f, "before <thinking>secret plan</thinking> after")
	require.Equal(t, "before  after", cleaned)
	require.Equal(t, "secret plan", thought)
}

func TestFilter_DelimiterSplitAcrossChunks(t *testing.T) {
	f := New(DefaultDelimiterSet(), true)
	cleaned, thought := feedAll(f, "hi <thin", "king>hidden</th", "inking> bye")
	require.Equal(t, "hi  bye", cleaned)
	require.Equal(t, "hidden", thought)
}

func TestFilter_FalsePositivePrefixFlushesToOutside(t *testing.T) {
	f := New(DefaultDelimiterSet(), true)
	cleaned, thought := feedAll(f, "use <thin", "ly> markup")
	require.Equal(t, "use <thinly> markup", cleaned)
	require.Empty(t, thought)
}

func TestFilter_UnterminatedThoughtAtEndOfStream(t *testing.T) {
	f := New(DefaultDelimiterSet(), true)
	cleaned, thought := feedAll(f, "before <thinking>never closed")
	require.Equal(t, "before ", cleaned)
	require.Equal(t, "never closed", thought)
}

func TestFilter_LeadingPhraseOnlyWhenThinkingEnabled(t *testing.T) {
	enabled := New(DefaultDelimiterSet(), true)
	cleaned, thought := feedAll(enabled, "Let me think through this", " carefully.\n\nFinal answer.")
	require.Equal(t, "Final answer.", cleaned)
	require.Equal(t, " carefully.", thought)

	disabled := New(DefaultDelimiterSet(), false)
	cleaned, thought = feedAll(disabled, "Let me think through this carefully.")
	require.Equal(t, "Let me think through this carefully.", cleaned)
	require.Empty(t, thought)
}

func TestFilter_LeadingPhraseOnlyAtStreamStart(t *testing.T) {
	f := New(DefaultDelimiterSet(), true)
	cleaned, thought := feedAll(f, "Answer first. Let me think through this")
	require.Equal(t, "Answer first. Let me think through this", cleaned)
	require.Empty(t, thought)
}

func TestFilter_FencedThinkingBlock(t *testing.T) {
	f := New(DefaultDelimiterSet(), true)
	cleaned, thought := feedAll(f, "```thinking\nworking it out\n```\nDone.")
	require.Equal(t, "\nDone.", cleaned)
	require.Equal(t, "\nworking it out\n", thought)
}

func TestFilter_StateReflectsBufferedPrefix(t *testing.T) {
	f := New(DefaultDelimiterSet(), true)
	require.Equal(t, StateOutside, f.State())
	f.Feed("<thin")
	require.Equal(t, StatePossibleOpen, f.State())
	f.Feed("king>")
	require.Equal(t, StateInsideThought, f.State())
	f.Feed("body </think")
	require.Equal(t, StatePossibleClose, f.State())
}
