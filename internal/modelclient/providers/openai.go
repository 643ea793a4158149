package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/zloeber/ai-agent-mixer/internal/modelclient"
	"github.com/zloeber/ai-agent-mixer/pkg/convo"
)

// OpenAIProvider implements modelclient.Provider against the OpenAI Chat
// Completions API.
type OpenAIProvider struct {
	RetryPolicy
	client *openai.Client
}

// NewOpenAIProvider creates a provider bound to apiKey. A blank apiKey
// yields a provider whose Complete always fails, matching the teacher's
// "configured but unusable" pattern rather than panicking at construction.
func NewOpenAIProvider(apiKey string) *OpenAIProvider {
	p := &OpenAIProvider{RetryPolicy: NewRetryPolicy(3, time.Second)}
	if apiKey != "" {
		p.client = openai.NewClient(apiKey)
	}
	return p
}

func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) Models() []modelclient.Model {
	return []modelclient.Model{
		{ID: "gpt-4o", Name: "GPT-4o", ContextSize: 128_000},
		{ID: "gpt-4o-mini", Name: "GPT-4o mini", ContextSize: 128_000},
	}
}

func (p *OpenAIProvider) SupportsTools() bool { return true }

// Complete streams a completion, reassembling fragmented tool-call deltas
// into a single convo.ToolCall chunk per call once its finish_reason or
// the end of stream confirms it is complete.
func (p *OpenAIProvider) Complete(ctx context.Context, req *modelclient.Request) (<-chan *modelclient.Chunk, error) {
	if p.client == nil {
		return nil, fmt.Errorf("%w: openai API key not configured", modelclient.ErrEndpointUnreachable)
	}

	chatReq := openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: convertOpenAIMessages(req.Messages, req.System),
		Stream:   true,
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = convertOpenAITools(req.Tools)
	}

	var stream *openai.ChatCompletionStream
	var lastErr error
	for attempt := 0; attempt < p.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(p.retryDelay * time.Duration(attempt)):
			}
		}
		stream, lastErr = p.client.CreateChatCompletionStream(ctx, chatReq)
		if lastErr == nil {
			break
		}
		if !isOpenAIRetryable(lastErr) {
			return nil, fmt.Errorf("%w: %v", modelclient.ErrEndpointUnreachable, lastErr)
		}
	}
	if lastErr != nil {
		return nil, fmt.Errorf("%w: max retries exceeded: %v", modelclient.ErrEndpointUnreachable, lastErr)
	}

	chunks := make(chan *modelclient.Chunk)
	go p.processStream(ctx, stream, chunks)
	return chunks, nil
}

func (p *OpenAIProvider) processStream(ctx context.Context, stream *openai.ChatCompletionStream, chunks chan<- *modelclient.Chunk) {
	defer close(chunks)
	defer stream.Close()

	calls := make(map[int]*convo.ToolCall)

	for {
		select {
		case <-ctx.Done():
			chunks <- &modelclient.Chunk{Err: ctx.Err()}
			return
		default:
		}

		resp, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				flushToolCalls(calls, chunks)
				chunks <- &modelclient.Chunk{Done: true}
				return
			}
			chunks <- &modelclient.Chunk{Err: fmt.Errorf("%w: %v", modelclient.ErrEndpointUnreachable, err)}
			return
		}
		if len(resp.Choices) == 0 {
			continue
		}

		delta := resp.Choices[0].Delta
		if delta.Content != "" {
			chunks <- &modelclient.Chunk{Text: delta.Content}
		}

		for _, tc := range delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}
			if calls[index] == nil {
				calls[index] = &convo.ToolCall{}
			}
			if tc.ID != "" {
				calls[index].CallID = tc.ID
			}
			if tc.Function.Name != "" {
				calls[index].ToolName = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				calls[index].Arguments = append(calls[index].Arguments, []byte(tc.Function.Arguments)...)
			}
		}

		if resp.Choices[0].FinishReason == openai.FinishReasonToolCalls {
			flushToolCalls(calls, chunks)
			calls = make(map[int]*convo.ToolCall)
		}
	}
}

func flushToolCalls(calls map[int]*convo.ToolCall, chunks chan<- *modelclient.Chunk) {
	for _, tc := range calls {
		if tc.CallID != "" && tc.ToolName != "" {
			chunks <- &modelclient.Chunk{ToolCall: tc}
		}
	}
}

func convertOpenAIMessages(messages []modelclient.Message, system string) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if system != "" {
		out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}
	for _, m := range messages {
		switch m.Role {
		case convo.RoleTool:
			out = append(out, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    m.Content,
				ToolCallID: m.ToolCallID,
			})
		case convo.RoleAI:
			msg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: m.Content}
			for _, call := range m.ToolCalls {
				msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
					ID:   call.CallID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      call.ToolName,
						Arguments: string(call.Arguments),
					},
				})
			}
			out = append(out, msg)
		default:
			out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: m.Content})
		}
	}
	return out
}

func convertOpenAITools(tools []modelclient.ToolSchema) []openai.Tool {
	out := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		var params json.RawMessage = t.InputSchema
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		})
	}
	return out
}

func isOpenAIRetryable(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, s := range []string{"429", "rate limit", "500", "502", "503", "504", "timeout", "connection reset"} {
		if strings.Contains(strings.ToLower(msg), s) {
			return true
		}
	}
	return false
}
