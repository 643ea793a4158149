// Package cycle implements the Cycle Tracker (C5): which participating
// agents have spoken in the current cycle, when a cycle completes, and
// whether any termination predicate now holds.
package cycle

import (
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/zloeber/ai-agent-mixer/pkg/convo"
)

// Tracker accumulates per-cycle speaking sets and a history of cycle
// signatures for the silence predicate. Not safe for concurrent use; the
// Orchestrator owns one Tracker per conversation and calls it from its
// single driving goroutine.
type Tracker struct {
	participating map[string]struct{}
	spoken        map[string]struct{}
	currentCycle  int

	// pendingTrimmed holds this cycle's trimmed final messages in
	// speaking order, concatenated into a signature once the cycle
	// completes.
	pendingTrimmed []string

	history []cycleSignature
}

type cycleSignature struct {
	hash       uint64
	maxTrimLen int
}

// New builds a Tracker over the given participating agent ids.
func New(participatingAgents []string) *Tracker {
	t := &Tracker{
		participating: make(map[string]struct{}, len(participatingAgents)),
		spoken:        make(map[string]struct{}, len(participatingAgents)),
	}
	for _, id := range participatingAgents {
		t.participating[id] = struct{}{}
	}
	return t
}

// CurrentCycle reports the number of cycles completed so far.
func (t *Tracker) CurrentCycle() int { return t.currentCycle }

// RecordTurn marks agentID as having spoken this cycle. If every
// participating agent has now spoken, the cycle completes: current_cycle
// increments, a signature is appended to history, and the spoken set
// clears for the next cycle.
func (t *Tracker) RecordTurn(agentID, finalContent string) {
	if _, ok := t.participating[agentID]; !ok {
		return
	}
	t.spoken[agentID] = struct{}{}
	t.pendingTrimmed = append(t.pendingTrimmed, strings.TrimSpace(finalContent))

	if len(t.spoken) >= len(t.participating) {
		t.completeCycle()
	}
}

func (t *Tracker) completeCycle() {
	t.currentCycle++

	maxLen := 0
	for _, s := range t.pendingTrimmed {
		if len(s) > maxLen {
			maxLen = len(s)
		}
	}
	t.history = append(t.history, cycleSignature{
		hash:       xxhash.Sum64String(strings.Join(t.pendingTrimmed, "\x00")),
		maxTrimLen: maxLen,
	})

	t.spoken = make(map[string]struct{}, len(t.participating))
	t.pendingTrimmed = nil
}

// CheckTermination evaluates the §4.5 predicates in fixed order: max
// cycles, then keyword match, then silence. The first match wins.
func (t *Tracker) CheckTermination(scenario *convo.ScenarioSnapshot, latestContent string) (stop bool, reason convo.Termination) {
	if scenario.MaxCycles > 0 && t.currentCycle >= scenario.MaxCycles {
		return true, convo.Termination{Reason: convo.TerminationMaxCycles, AtCycle: t.currentCycle}
	}

	lower := strings.ToLower(latestContent)
	for _, kw := range scenario.KeywordTriggers {
		if kw == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(kw)) {
			return true, convo.Termination{Reason: convo.TerminationKeyword, Keyword: kw, AtCycle: t.currentCycle}
		}
	}

	if scenario.SilenceThreshold != nil && t.silentFor(*scenario.SilenceThreshold) {
		return true, convo.Termination{Reason: convo.TerminationSilence, AtCycle: t.currentCycle}
	}

	return false, convo.Termination{}
}

// silentFor reports whether the last n completed cycles each had every
// final message trimmed to 20 characters or fewer.
func (t *Tracker) silentFor(n int) bool {
	if n <= 0 || len(t.history) < n {
		return false
	}
	const silenceCutoff = 20
	for _, sig := range t.history[len(t.history)-n:] {
		if sig.maxTrimLen > silenceCutoff {
			return false
		}
	}
	return true
}

// Signature renders the most recently completed cycle's hash for
// diagnostics, e.g. status reporting.
func (t *Tracker) Signature() (string, bool) {
	if len(t.history) == 0 {
		return "", false
	}
	last := t.history[len(t.history)-1]
	return fmt.Sprintf("%x", last.hash), true
}
