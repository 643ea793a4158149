package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"math"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/zloeber/ai-agent-mixer/internal/modelclient"
	"github.com/zloeber/ai-agent-mixer/pkg/convo"
)

// GeminiProvider implements modelclient.Provider against Google's Gemini
// API via the genai SDK's streaming iterator.
type GeminiProvider struct {
	RetryPolicy
	client       *genai.Client
	defaultModel string
}

// GeminiConfig configures NewGeminiProvider.
type GeminiConfig struct {
	APIKey       string
	MaxRetries   int
	RetryDelay   time.Duration
	DefaultModel string
}

// NewGeminiProvider builds a provider bound to config.APIKey.
func NewGeminiProvider(config GeminiConfig) (*GeminiProvider, error) {
	if config.APIKey == "" {
		return nil, errors.New("gemini: API key is required")
	}
	if config.DefaultModel == "" {
		config.DefaultModel = "gemini-2.0-flash"
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: failed to create client: %w", err)
	}

	return &GeminiProvider{
		RetryPolicy: NewRetryPolicy(config.MaxRetries, config.RetryDelay),
		client:       client,
		defaultModel: config.DefaultModel,
	}, nil
}

func (p *GeminiProvider) Name() string { return "gemini" }

func (p *GeminiProvider) Models() []modelclient.Model {
	return []modelclient.Model{
		{ID: "gemini-2.0-flash", Name: "Gemini 2.0 Flash", ContextSize: 1_000_000},
		{ID: "gemini-2.0-flash-lite", Name: "Gemini 2.0 Flash Lite", ContextSize: 1_000_000},
		{ID: "gemini-1.5-pro", Name: "Gemini 1.5 Pro", ContextSize: 2_000_000},
	}
}

func (p *GeminiProvider) SupportsTools() bool { return true }

// Complete streams a completion, converting FunctionCall parts of the
// iterator's responses into convo.ToolCall chunks as each one arrives.
func (p *GeminiProvider) Complete(ctx context.Context, req *modelclient.Request) (<-chan *modelclient.Chunk, error) {
	chunks := make(chan *modelclient.Chunk)

	model := p.model(req.Model)
	contents := convertGeminiMessages(req.Messages)
	config := p.buildConfig(req)

	go func() {
		defer close(chunks)

		err := p.Retry(ctx, p.isRetryableError, func() error {
			streamIter := p.client.Models.GenerateContentStream(ctx, model, contents, config)
			return p.processStream(ctx, streamIter, chunks)
		})
		if err != nil {
			if ctx.Err() != nil {
				chunks <- &modelclient.Chunk{Err: ctx.Err()}
				return
			}
			chunks <- &modelclient.Chunk{Err: fmt.Errorf("%w: %v", modelclient.ErrEndpointUnreachable, err)}
			return
		}
	}()

	return chunks, nil
}

func (p *GeminiProvider) processStream(ctx context.Context, streamIter iter.Seq2[*genai.GenerateContentResponse, error], chunks chan<- *modelclient.Chunk) error {
	sawAny := false

	for resp, err := range streamIter {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err != nil {
			return err
		}
		if resp == nil {
			continue
		}

		for _, candidate := range resp.Candidates {
			if candidate == nil || candidate.Content == nil {
				continue
			}
			for _, part := range candidate.Content.Parts {
				if part == nil {
					continue
				}
				if part.Text != "" {
					sawAny = true
					chunks <- &modelclient.Chunk{Text: part.Text}
				}
				if part.FunctionCall != nil {
					sawAny = true
					argsJSON, jsonErr := json.Marshal(part.FunctionCall.Args)
					if jsonErr != nil {
						argsJSON = []byte("{}")
					}
					chunks <- &modelclient.Chunk{ToolCall: &convo.ToolCall{
						CallID:    part.FunctionCall.Name,
						ToolName:  part.FunctionCall.Name,
						Arguments: argsJSON,
					}}
				}
			}
		}
	}

	if !sawAny {
		chunks <- &modelclient.Chunk{Err: fmt.Errorf("%w: empty gemini stream", modelclient.ErrMalformedResponse)}
		return nil
	}
	chunks <- &modelclient.Chunk{Done: true}
	return nil
}

func (p *GeminiProvider) model(requested string) string {
	if requested == "" {
		return p.defaultModel
	}
	return requested
}

func (p *GeminiProvider) buildConfig(req *modelclient.Request) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{}
	if req.System != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.System}}}
	}
	if maxTokens := maxTokensOrDefault(req); maxTokens > 0 {
		config.MaxOutputTokens = int32(min(maxTokens, math.MaxInt32))
	}
	if len(req.Tools) > 0 {
		config.Tools = convertGeminiTools(req.Tools)
	}
	return config
}

func convertGeminiMessages(messages []modelclient.Message) []*genai.Content {
	out := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		content := &genai.Content{}
		switch m.Role {
		case convo.RoleAI:
			content.Role = genai.RoleModel
		default:
			content.Role = genai.RoleUser
		}

		if m.Content != "" {
			content.Parts = append(content.Parts, &genai.Part{Text: m.Content})
		}
		for _, call := range m.ToolCalls {
			var args map[string]any
			_ = json.Unmarshal(call.Arguments, &args)
			content.Parts = append(content.Parts, &genai.Part{
				FunctionCall: &genai.FunctionCall{Name: call.ToolName, Args: args},
			})
		}
		if m.Role == convo.RoleTool {
			var response map[string]any
			if err := json.Unmarshal([]byte(m.Content), &response); err != nil {
				response = map[string]any{"result": m.Content}
			}
			content.Parts = append(content.Parts, &genai.Part{
				FunctionResponse: &genai.FunctionResponse{Name: m.ToolCallID, Response: response},
			})
		}

		if len(content.Parts) > 0 {
			out = append(out, content)
		}
	}
	return out
}

func convertGeminiTools(tools []modelclient.ToolSchema) []*genai.Tool {
	if len(tools) == 0 {
		return nil
	}
	declarations := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		var schemaMap map[string]any
		if err := json.Unmarshal(t.InputSchema, &schemaMap); err != nil {
			continue
		}
		declarations = append(declarations, &genai.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  geminiSchema(schemaMap),
		})
	}
	if len(declarations) == 0 {
		return nil
	}
	return []*genai.Tool{{FunctionDeclarations: declarations}}
}

// geminiSchema converts a decoded JSON Schema map to genai's Schema type,
// recursing into properties and array items.
func geminiSchema(schemaMap map[string]any) *genai.Schema {
	if schemaMap == nil {
		return nil
	}
	schema := &genai.Schema{}

	if t, ok := schemaMap["type"].(string); ok {
		schema.Type = genai.Type(strings.ToUpper(t))
	}
	if desc, ok := schemaMap["description"].(string); ok {
		schema.Description = desc
	}
	if enum, ok := schemaMap["enum"].([]any); ok {
		for _, e := range enum {
			if s, ok := e.(string); ok {
				schema.Enum = append(schema.Enum, s)
			}
		}
	}
	if props, ok := schemaMap["properties"].(map[string]any); ok {
		schema.Properties = make(map[string]*genai.Schema)
		for name, prop := range props {
			if propMap, ok := prop.(map[string]any); ok {
				schema.Properties[name] = geminiSchema(propMap)
			}
		}
	}
	if required, ok := schemaMap["required"].([]any); ok {
		for _, r := range required {
			if s, ok := r.(string); ok {
				schema.Required = append(schema.Required, s)
			}
		}
	}
	if items, ok := schemaMap["items"].(map[string]any); ok {
		schema.Items = geminiSchema(items)
	}
	return schema
}

func (p *GeminiProvider) isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"rate limit", "429", "too many requests", "resource exhausted", "quota",
		"500", "502", "503", "504", "internal server error", "bad gateway", "service unavailable", "gateway timeout",
		"timeout", "deadline exceeded", "connection reset", "connection refused", "no such host"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
