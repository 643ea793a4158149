// Package modelclient implements the Model Client (C2): invoking a chat
// model endpoint with a message history, streaming tokens back, and
// surfacing any tool-call intents the model emits.
package modelclient

import (
	"context"
	"errors"

	"github.com/zloeber/ai-agent-mixer/pkg/convo"
)

// Sentinel errors for the failure taxonomy in §4.2/§7.
var (
	ErrEndpointUnreachable = errors.New("modelclient: endpoint unreachable")
	ErrModelNotFound       = errors.New("modelclient: model not found")
	ErrInvocationTimeout   = errors.New("modelclient: invocation timed out")
	ErrMalformedResponse   = errors.New("modelclient: malformed response")
)

// Provider is implemented once per backend (Anthropic, OpenAI, Bedrock,
// Gemini, ...); see the providers subpackage. Implementations must be
// safe for concurrent use — the Agent Turn Executor may hold one turn's
// stream open while a different agent's turn invokes the same provider.
type Provider interface {
	// Complete sends req and returns a channel of streamed chunks. The
	// channel is closed after a chunk with Done set or Err set is sent.
	Complete(ctx context.Context, req *Request) (<-chan *Chunk, error)

	// Name identifies the backend for logging and the test_model_endpoint
	// command, e.g. "anthropic", "openai", "bedrock", "gemini".
	Name() string

	// Models lists the models this provider can serve.
	Models() []Model

	// SupportsTools reports whether bound tools can be passed to Complete.
	SupportsTools() bool
}

// Request bundles everything the Agent Turn Executor's generate operation
// needs: the message view, the agent's bound tools, and generation
// parameters. Corresponds to the §4.2 generate(messages, bound_tools,
// params, callbacks) operation; callbacks are expressed as the returned
// channel rather than a registered function, per §9's note that a pair of
// closures (or a channel) suffices in place of a callback hierarchy.
type Request struct {
	Model     string
	System    string
	Messages  []Message
	Tools     []ToolSchema
	Params    map[string]any

	EnableThinking       bool
	ThinkingBudgetTokens int
}

// Message is one entry in the per-agent view built by the Agent Turn
// Executor: the shared history (filtered to non-thought messages), tool
// calls and tool results intact. The agent's system prompt is not one of
// these entries; it travels in Request.System.
type Message struct {
	Role        convo.Role
	Content     string
	ToolCalls   []convo.ToolCall
	ToolCallID  string
}

// ToolSchema is the structured shape a bound tool is surfaced to the
// model as, built from a convo.ToolHandle.
type ToolSchema struct {
	Name        string
	Description string
	InputSchema []byte
}

// Chunk is one streamed piece of a completion. Exactly one of Text,
// Thinking, ToolCall, Err is meaningful per chunk; Done marks the last
// chunk of a successful stream.
type Chunk struct {
	Text string

	// Thinking carries reasoning text for providers with a native
	// extended-thinking channel (e.g. Anthropic), already separated from
	// Text by the provider itself. Providers without a native channel
	// instead emit delimited thinking inline in Text, and the Thought
	// Filter (internal/thought) performs the separation.
	Thinking string

	ToolCall *convo.ToolCall

	Done bool
	Err  error

	InputTokens  int
	OutputTokens int
}

// Model describes one model a provider can serve.
type Model struct {
	ID          string
	Name        string
	ContextSize int
}
