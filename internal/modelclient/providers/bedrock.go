package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	smithydocument "github.com/aws/smithy-go/document"

	"github.com/zloeber/ai-agent-mixer/internal/modelclient"
	"github.com/zloeber/ai-agent-mixer/pkg/convo"
)

// BedrockProvider implements modelclient.Provider against AWS Bedrock's
// Converse/ConverseStream API.
type BedrockProvider struct {
	RetryPolicy
	client       *bedrockruntime.Client
	defaultModel string
}

// BedrockConfig configures NewBedrockProvider.
type BedrockConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	MaxRetries      int
	RetryDelay      time.Duration
	DefaultModel    string
}

// NewBedrockProvider loads AWS credentials (explicit static credentials if
// given, else the default provider chain) and builds a Bedrock client.
func NewBedrockProvider(ctx context.Context, cfg BedrockConfig) (*BedrockProvider, error) {
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "anthropic.claude-3-sonnet-20240229-v1:0"
	}

	var awsCfg aws.Config
	var err error
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		awsCfg, err = config.LoadDefaultConfig(ctx,
			config.WithRegion(cfg.Region),
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)),
		)
	} else {
		awsCfg, err = config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	}
	if err != nil {
		return nil, fmt.Errorf("bedrock: failed to load AWS config: %w", err)
	}

	return &BedrockProvider{
		RetryPolicy: NewRetryPolicy(cfg.MaxRetries, cfg.RetryDelay),
		client:       bedrockruntime.NewFromConfig(awsCfg),
		defaultModel: cfg.DefaultModel,
	}, nil
}

func (p *BedrockProvider) Name() string { return "bedrock" }

func (p *BedrockProvider) Models() []modelclient.Model {
	return []modelclient.Model{
		{ID: "anthropic.claude-3-sonnet-20240229-v1:0", Name: "Claude 3 Sonnet (Bedrock)", ContextSize: 200_000},
		{ID: "anthropic.claude-3-haiku-20240307-v1:0", Name: "Claude 3 Haiku (Bedrock)", ContextSize: 200_000},
		{ID: "meta.llama3-70b-instruct-v1:0", Name: "Llama 3 70B (Bedrock)", ContextSize: 8_192},
	}
}

func (p *BedrockProvider) SupportsTools() bool { return true }

// Complete streams a completion via ConverseStream, reassembling tool-use
// content blocks into convo.ToolCall chunks as they close.
func (p *BedrockProvider) Complete(ctx context.Context, req *modelclient.Request) (<-chan *modelclient.Chunk, error) {
	if p.client == nil {
		return nil, fmt.Errorf("%w: bedrock client not initialized", modelclient.ErrEndpointUnreachable)
	}

	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	converseReq := &bedrockruntime.ConverseStreamInput{
		ModelId:  aws.String(model),
		Messages: convertBedrockMessages(req.Messages),
	}
	if req.System != "" {
		converseReq.System = []types.SystemContentBlock{
			&types.SystemContentBlockMemberText{Value: req.System},
		}
	}
	if len(req.Tools) > 0 {
		converseReq.ToolConfig = convertBedrockTools(req.Tools)
	}

	var stream *bedrockruntime.ConverseStreamOutput
	var lastErr error
	err := p.Retry(ctx, isBedrockRetryable, func() error {
		stream, lastErr = p.client.ConverseStream(ctx, converseReq)
		return lastErr
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", modelclient.ErrEndpointUnreachable, err)
	}

	chunks := make(chan *modelclient.Chunk)
	go p.processStream(ctx, stream, chunks)
	return chunks, nil
}

func (p *BedrockProvider) processStream(ctx context.Context, stream *bedrockruntime.ConverseStreamOutput, chunks chan<- *modelclient.Chunk) {
	defer close(chunks)

	eventStream := stream.GetStream()
	defer eventStream.Close()

	var currentCall *convo.ToolCall
	var input strings.Builder

	events := eventStream.Events()
	for {
		select {
		case <-ctx.Done():
			chunks <- &modelclient.Chunk{Err: ctx.Err()}
			return
		case event, ok := <-events:
			if !ok {
				if currentCall != nil {
					currentCall.Arguments = json.RawMessage(input.String())
					chunks <- &modelclient.Chunk{ToolCall: currentCall}
				}
				if err := eventStream.Err(); err != nil {
					chunks <- &modelclient.Chunk{Err: fmt.Errorf("%w: %v", modelclient.ErrEndpointUnreachable, err)}
				} else {
					chunks <- &modelclient.Chunk{Done: true}
				}
				return
			}

			switch ev := event.(type) {
			case *types.ConverseStreamOutputMemberContentBlockStart:
				if toolUse, ok := ev.Value.Start.(*types.ContentBlockStartMemberToolUse); ok {
					currentCall = &convo.ToolCall{
						CallID:   aws.ToString(toolUse.Value.ToolUseId),
						ToolName: aws.ToString(toolUse.Value.Name),
					}
					input.Reset()
				}
			case *types.ConverseStreamOutputMemberContentBlockDelta:
				switch delta := ev.Value.Delta.(type) {
				case *types.ContentBlockDeltaMemberText:
					if delta.Value != "" {
						chunks <- &modelclient.Chunk{Text: delta.Value}
					}
				case *types.ContentBlockDeltaMemberToolUse:
					if delta.Value.Input != nil {
						input.WriteString(*delta.Value.Input)
					}
				}
			case *types.ConverseStreamOutputMemberContentBlockStop:
				if currentCall != nil {
					currentCall.Arguments = json.RawMessage(input.String())
					chunks <- &modelclient.Chunk{ToolCall: currentCall}
					currentCall = nil
				}
			case *types.ConverseStreamOutputMemberMessageStop:
				chunks <- &modelclient.Chunk{Done: true}
				return
			}
		}
	}
}

func convertBedrockMessages(messages []modelclient.Message) []types.Message {
	out := make([]types.Message, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case convo.RoleTool:
			out = append(out, types.Message{
				Role: types.ConversationRoleUser,
				Content: []types.ContentBlock{
					&types.ContentBlockMemberToolResult{
						Value: types.ToolResultBlock{
							ToolUseId: aws.String(m.ToolCallID),
							Content:   []types.ToolResultContentBlock{&types.ToolResultContentBlockMemberText{Value: m.Content}},
						},
					},
				},
			})
		case convo.RoleAI:
			blocks := []types.ContentBlock{}
			if m.Content != "" {
				blocks = append(blocks, &types.ContentBlockMemberText{Value: m.Content})
			}
			for _, call := range m.ToolCalls {
				var input map[string]any
				_ = json.Unmarshal(call.Arguments, &input)
				blocks = append(blocks, &types.ContentBlockMemberToolUse{
					Value: types.ToolUseBlock{
						ToolUseId: aws.String(call.CallID),
						Name:      aws.String(call.ToolName),
						Input:     document(input),
					},
				})
			}
			out = append(out, types.Message{Role: types.ConversationRoleAssistant, Content: blocks})
		default:
			out = append(out, types.Message{
				Role:    types.ConversationRoleUser,
				Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: m.Content}},
			})
		}
	}
	return out
}

// document adapts a decoded JSON value to the SDK's smithy document
// interface via its lazy JSON-backed implementation.
func document(v map[string]any) smithydocument.Marshaler {
	raw, _ := json.Marshal(v)
	return bedrockDocument{raw: raw}
}

type bedrockDocument struct{ raw []byte }

func (d bedrockDocument) MarshalSmithyDocument() ([]byte, error) { return d.raw, nil }

func convertBedrockTools(tools []modelclient.ToolSchema) *types.ToolConfiguration {
	specs := make([]types.Tool, 0, len(tools))
	for _, t := range tools {
		var schemaVal map[string]any
		_ = json.Unmarshal(t.InputSchema, &schemaVal)
		specs = append(specs, &types.ToolMemberToolSpec{
			Value: types.ToolSpecification{
				Name:        aws.String(t.Name),
				Description: aws.String(t.Description),
				InputSchema: &types.ToolInputSchemaMemberJson{Value: document(schemaVal)},
			},
		})
	}
	return &types.ToolConfiguration{Tools: specs}
}

func isBedrockRetryable(err error) bool {
	if err == nil {
		return false
	}
	var throttle *types.ThrottlingException
	var serviceUnavailable *types.ServiceUnavailableException
	if errors.As(err, &throttle) || errors.As(err, &serviceUnavailable) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "timeout")
}
