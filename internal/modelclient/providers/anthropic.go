package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/zloeber/ai-agent-mixer/internal/modelclient"
	"github.com/zloeber/ai-agent-mixer/pkg/convo"
)

// maxEmptyStreamEvents bounds how many consecutive no-op SSE events are
// tolerated before a stream is treated as malformed.
const maxEmptyStreamEvents = 300

// AnthropicProvider implements modelclient.Provider against the Anthropic
// Messages API, including native extended-thinking streaming.
type AnthropicProvider struct {
	RetryPolicy
	client       anthropic.Client
	defaultModel string
}

// AnthropicConfig configures NewAnthropicProvider.
type AnthropicConfig struct {
	APIKey       string
	BaseURL      string
	MaxRetries   int
	RetryDelay   time.Duration
	DefaultModel string
}

// NewAnthropicProvider builds a provider bound to config.APIKey.
func NewAnthropicProvider(config AnthropicConfig) (*AnthropicProvider, error) {
	if config.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if config.DefaultModel == "" {
		config.DefaultModel = "claude-sonnet-4-20250514"
	}

	opts := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if strings.TrimSpace(config.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}

	return &AnthropicProvider{
		RetryPolicy: NewRetryPolicy(config.MaxRetries, config.RetryDelay),
		client:       anthropic.NewClient(opts...),
		defaultModel: config.DefaultModel,
	}, nil
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

func (p *AnthropicProvider) Models() []modelclient.Model {
	return []modelclient.Model{
		{ID: "claude-sonnet-4-20250514", Name: "Claude Sonnet 4", ContextSize: 200_000},
		{ID: "claude-opus-4-20250514", Name: "Claude Opus 4", ContextSize: 200_000},
		{ID: "claude-3-5-sonnet-20241022", Name: "Claude 3.5 Sonnet", ContextSize: 200_000},
	}
}

func (p *AnthropicProvider) SupportsTools() bool { return true }

// Complete streams a completion, routing content-block deltas to Text and
// thinking-block deltas to Thinking, and surfacing a finished tool_use
// block as a single ToolCall chunk.
func (p *AnthropicProvider) Complete(ctx context.Context, req *modelclient.Request) (<-chan *modelclient.Chunk, error) {
	chunks := make(chan *modelclient.Chunk)

	go func() {
		defer close(chunks)

		var stream *ssestream.Stream[anthropic.MessageStreamEventUnion]
		var err error
		maxRetries := p.maxRetries
		for attempt := 0; attempt <= maxRetries; attempt++ {
			stream, err = p.createStream(ctx, req)
			if err == nil {
				break
			}
			if !p.isRetryableError(err) {
				chunks <- &modelclient.Chunk{Err: fmt.Errorf("%w: %v", modelclient.ErrEndpointUnreachable, err)}
				return
			}
			if attempt < maxRetries {
				backoff := p.retryDelay * time.Duration(math.Pow(2, float64(attempt)))
				select {
				case <-ctx.Done():
					chunks <- &modelclient.Chunk{Err: ctx.Err()}
					return
				case <-time.After(backoff):
				}
			}
		}
		if err != nil {
			chunks <- &modelclient.Chunk{Err: fmt.Errorf("%w: max retries exceeded: %v", modelclient.ErrEndpointUnreachable, err)}
			return
		}

		p.processStream(stream, chunks)
	}()

	return chunks, nil
}

func (p *AnthropicProvider) createStream(ctx context.Context, req *modelclient.Request) (*ssestream.Stream[anthropic.MessageStreamEventUnion], error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model(req.Model)),
		Messages:  convertMessages(req.Messages),
		MaxTokens: int64(maxTokensOrDefault(req)),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if len(req.Tools) > 0 {
		tools, err := convertTools(req.Tools)
		if err != nil {
			return nil, fmt.Errorf("anthropic: failed to convert tools: %w", err)
		}
		params.Tools = tools
	}
	if req.EnableThinking {
		budget := int64(req.ThinkingBudgetTokens)
		if budget < 1024 {
			budget = 10000
		}
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(budget)
	}

	stream := p.client.Messages.NewStreaming(ctx, params)
	return stream, nil
}

// processStream walks the SSE event stream, sending text/thinking/tool_call
// chunks and a final Done chunk carrying token counts.
func (p *AnthropicProvider) processStream(stream *ssestream.Stream[anthropic.MessageStreamEventUnion], chunks chan<- *modelclient.Chunk) {
	var currentCall *convo.ToolCall
	var currentInput strings.Builder
	emptyEvents := 0
	var inputTokens, outputTokens int

	for stream.Next() {
		event := stream.Current()
		processed := false

		switch event.Type {
		case "message_start":
			if u := event.AsMessageStart().Message.Usage.InputTokens; u > 0 {
				inputTokens = int(u)
			}
			processed = true

		case "content_block_start":
			block := event.AsContentBlockStart().ContentBlock
			if block.Type == "tool_use" {
				toolUse := block.AsToolUse()
				currentCall = &convo.ToolCall{CallID: toolUse.ID, ToolName: toolUse.Name}
				currentInput.Reset()
				processed = true
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					chunks <- &modelclient.Chunk{Text: delta.Text}
					processed = true
				}
			case "thinking_delta":
				if delta.Thinking != "" {
					chunks <- &modelclient.Chunk{Thinking: delta.Thinking}
					processed = true
				}
			case "input_json_delta":
				if delta.PartialJSON != "" {
					currentInput.WriteString(delta.PartialJSON)
					processed = true
				}
			}

		case "content_block_stop":
			if currentCall != nil {
				currentCall.Arguments = json.RawMessage(currentInput.String())
				chunks <- &modelclient.Chunk{ToolCall: currentCall}
				currentCall = nil
				processed = true
			}

		case "message_delta":
			if u := event.AsMessageDelta().Usage.OutputTokens; u > 0 {
				outputTokens = int(u)
			}
			processed = true

		case "message_stop":
			chunks <- &modelclient.Chunk{Done: true, InputTokens: inputTokens, OutputTokens: outputTokens}
			return

		case "error":
			chunks <- &modelclient.Chunk{Err: fmt.Errorf("%w: anthropic stream error", modelclient.ErrMalformedResponse)}
			return
		}

		if processed {
			emptyEvents = 0
		} else {
			emptyEvents++
			if emptyEvents >= maxEmptyStreamEvents {
				chunks <- &modelclient.Chunk{Err: fmt.Errorf("%w: %d consecutive empty stream events", modelclient.ErrMalformedResponse, emptyEvents)}
				return
			}
		}
	}

	if err := stream.Err(); err != nil {
		chunks <- &modelclient.Chunk{Err: fmt.Errorf("%w: %v", modelclient.ErrEndpointUnreachable, err)}
	}
}

func (p *AnthropicProvider) model(requested string) string {
	if requested == "" {
		return p.defaultModel
	}
	return requested
}

func maxTokensOrDefault(req *modelclient.Request) int {
	if v, ok := req.Params["max_tokens"].(int); ok && v > 0 {
		return v
	}
	return 4096
}

func convertMessages(messages []modelclient.Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, m := range messages {
		var content []anthropic.ContentBlockParamUnion
		if m.Content != "" {
			content = append(content, anthropic.NewTextBlock(m.Content))
		}
		if m.Role == convo.RoleTool {
			content = append(content, anthropic.NewToolResultBlock(m.ToolCallID, m.Content, false))
			out = append(out, anthropic.NewUserMessage(content...))
			continue
		}
		for _, call := range m.ToolCalls {
			var input map[string]any
			_ = json.Unmarshal(call.Arguments, &input)
			content = append(content, anthropic.NewToolUseBlock(call.CallID, input, call.ToolName))
		}
		if m.Role == convo.RoleAI {
			out = append(out, anthropic.NewAssistantMessage(content...))
		} else {
			out = append(out, anthropic.NewUserMessage(content...))
		}
	}
	return out
}

func convertTools(tools []modelclient.ToolSchema) ([]anthropic.ToolUnionParam, error) {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		var schema anthropic.ToolInputSchemaParam
		if len(t.InputSchema) > 0 {
			if err := json.Unmarshal(t.InputSchema, &schema); err != nil {
				return nil, fmt.Errorf("invalid tool schema for %s: %w", t.Name, err)
			}
		}
		param := anthropic.ToolUnionParamOfTool(schema, t.Name)
		if param.OfTool != nil {
			param.OfTool.Description = anthropic.String(t.Description)
		}
		out = append(out, param)
	}
	return out, nil
}

func (p *AnthropicProvider) isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, s := range []string{"rate_limit", "429", "too many requests", "500", "502", "503", "504",
		"internal server error", "bad gateway", "service unavailable", "gateway timeout",
		"timeout", "deadline exceeded", "connection reset", "connection refused", "no such host"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
