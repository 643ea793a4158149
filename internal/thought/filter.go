// Package thought implements the Thought Filter (C3): a stream transform
// that separates a model's inline extended-thinking text from its visible
// response by recognizing a small set of delimiter patterns, the way a
// hand-rolled token scanner would rather than a regexp over the whole
// buffer, since delimiters can straddle chunk boundaries.
package thought

import "strings"

// State names the filter's position in the delimiter state machine.
// POSSIBLE_OPEN and POSSIBLE_CLOSE are derived, not stored: they hold
// whenever a prefix of a delimiter is buffered awaiting disambiguation.
type State int

const (
	StateOutside State = iota
	StatePossibleOpen
	StateInsideThought
	StatePossibleClose
)

func (s State) String() string {
	switch s {
	case StateOutside:
		return "OUTSIDE"
	case StatePossibleOpen:
		return "POSSIBLE_OPEN"
	case StateInsideThought:
		return "INSIDE_THOUGHT"
	case StatePossibleClose:
		return "POSSIBLE_CLOSE"
	default:
		return "UNKNOWN"
	}
}

// Delimiter is one open/close pair recognized as bounding a thinking
// region. Close is matched literally once Open has been consumed.
type Delimiter struct {
	Open  string
	Close string
}

// DelimiterSet is the policy a Filter scans for. Kept behind an interface
// per the note that the concrete patterns are policy, not contract, so
// tests can substitute a narrower or wider set.
type DelimiterSet interface {
	// Delimiters lists the explicit open/close pairs: tags, fenced
	// thinking blocks, bracketed markers. Always active.
	Delimiters() []Delimiter

	// LeadingPhrases lists phrases that open an implicit thinking region
	// only at the very start of a stream, and only when thinking mode is
	// enabled. The region closes at the first blank line.
	LeadingPhrases() []string
}

type defaultDelimiterSet struct{}

// DefaultDelimiterSet is the out-of-the-box DelimiterSet: XML-like
// thinking tags, a fenced ```thinking block, and a bracketed marker,
// plus a couple of common leading phrases.
func DefaultDelimiterSet() DelimiterSet { return defaultDelimiterSet{} }

func (defaultDelimiterSet) Delimiters() []Delimiter {
	return []Delimiter{
		{Open: "<thinking>", Close: "</thinking>"},
		{Open: "<think>", Close: "</think>"},
		{Open: "```thinking", Close: "```"},
		{Open: "[THINKING]", Close: "[/THINKING]"},
	}
}

func (defaultDelimiterSet) LeadingPhrases() []string {
	return []string{
		"Let me think through this",
		"Let me think about this",
		"Thinking through this:",
	}
}

// Filter is a stateful token-stream separator, one per in-flight agent
// turn. It is not safe for concurrent use; the Agent Turn Executor owns
// one Filter per streaming Complete call.
type Filter struct {
	delims  []Delimiter
	leading []string
	enabled bool

	phase        State // StateOutside or StateInsideThought; derived State() adds the "possible" nuance
	pending      string
	activeCloser string
	atStart      bool
}

// New builds a Filter over set. thinkingEnabled gates whether leading
// phrases are recognized as opening an implicit thought region; explicit
// tag/fence/bracket delimiters are always recognized regardless, per the
// rule that thinking_enabled==false still strips recognized regions.
func New(set DelimiterSet, thinkingEnabled bool) *Filter {
	if set == nil {
		set = DefaultDelimiterSet()
	}
	return &Filter{
		delims:  set.Delimiters(),
		leading: set.LeadingPhrases(),
		enabled: thinkingEnabled,
		phase:   StateOutside,
		atStart: true,
	}
}

// State reports the machine's current state, exposing POSSIBLE_OPEN and
// POSSIBLE_CLOSE whenever a delimiter prefix is buffered.
func (f *Filter) State() State {
	if f.pending == "" {
		return f.phase
	}
	if f.phase == StateOutside {
		return StatePossibleOpen
	}
	return StatePossibleClose
}

// Feed consumes one chunk of streamed text and returns the portion that
// belongs in the cleaned response and the portion that belongs to the
// thought stream. Either may be empty. Call Flush after the stream ends
// to resolve any buffered ambiguity.
func (f *Filter) Feed(chunk string) (cleaned, thought string) {
	data := f.pending + chunk
	f.pending = ""

	var cleanedB, thoughtB strings.Builder

	for {
		switch f.phase {
		case StateOutside:
			idx, delim, partial := f.findOpener(data)
			switch {
			case idx == -1 && !partial:
				cleanedB.WriteString(data)
				if data != "" {
					f.atStart = false
				}
				return cleanedB.String(), thoughtB.String()
			case partial:
				cleanedB.WriteString(data[:idx])
				if idx > 0 {
					f.atStart = false
				}
				f.pending = data[idx:]
				return cleanedB.String(), thoughtB.String()
			default:
				cleanedB.WriteString(data[:idx])
				f.atStart = false
				f.activeCloser = delim.Close
				data = data[idx+len(delim.Open):]
				f.phase = StateInsideThought
			}

		case StateInsideThought:
			idx, partial := f.findCloser(data)
			switch {
			case idx == -1 && !partial:
				thoughtB.WriteString(data)
				return cleanedB.String(), thoughtB.String()
			case partial:
				thoughtB.WriteString(data[:idx])
				f.pending = data[idx:]
				return cleanedB.String(), thoughtB.String()
			default:
				thoughtB.WriteString(data[:idx])
				data = data[idx+len(f.activeCloser):]
				f.activeCloser = ""
				f.phase = StateOutside
			}
		}
	}
}

// Flush resolves any buffered, still-ambiguous prefix at end of stream.
// A dangling POSSIBLE_OPEN buffer turned out not to be a delimiter and
// is released to the cleaned output; a dangling INSIDE_THOUGHT/
// POSSIBLE_CLOSE buffer is an unterminated thought region and is
// released to the thought output, never the response, per the
// unterminated-thought edge case.
func (f *Filter) Flush() (cleaned, thought string) {
	pending := f.pending
	f.pending = ""
	if pending == "" {
		return "", ""
	}
	if f.phase == StateOutside {
		return pending, ""
	}
	return "", pending
}

// findOpener returns the earliest index in data at which a recognized
// opener begins, or reports that the trailing suffix of data is an
// ambiguous, unresolved prefix of some opener (partial=true).
func (f *Filter) findOpener(data string) (idx int, delim Delimiter, partial bool) {
	best := -1
	var bestDelim Delimiter

	for _, d := range f.delims {
		if j := strings.Index(data, d.Open); j != -1 && (best == -1 || j < best) {
			best = j
			bestDelim = d
		}
	}
	if f.enabled && f.atStart {
		for _, phrase := range f.leading {
			if strings.HasPrefix(data, phrase) && (best == -1 || 0 < best) {
				best = 0
				bestDelim = Delimiter{Open: phrase, Close: "\n\n"}
			}
		}
	}
	if best != -1 {
		return best, bestDelim, false
	}

	if idx, ok := f.ambiguousSuffix(data); ok {
		return idx, Delimiter{}, true
	}
	return -1, Delimiter{}, false
}

func (f *Filter) ambiguousSuffix(data string) (int, bool) {
	for i := 0; i < len(data); i++ {
		suffix := data[i:]
		for _, d := range f.delims {
			if len(suffix) < len(d.Open) && strings.HasPrefix(d.Open, suffix) {
				return i, true
			}
		}
		if f.enabled && f.atStart && i == 0 {
			for _, phrase := range f.leading {
				if len(suffix) < len(phrase) && strings.HasPrefix(phrase, suffix) {
					return i, true
				}
			}
		}
	}
	return 0, false
}

// findCloser returns the index in data at which the active closer
// begins, or reports that data's trailing suffix ambiguously prefixes
// the closer.
func (f *Filter) findCloser(data string) (idx int, partial bool) {
	if j := strings.Index(data, f.activeCloser); j != -1 {
		return j, false
	}
	for i := 0; i < len(data); i++ {
		suffix := data[i:]
		if len(suffix) < len(f.activeCloser) && strings.HasPrefix(f.activeCloser, suffix) {
			return i, true
		}
	}
	return -1, false
}
