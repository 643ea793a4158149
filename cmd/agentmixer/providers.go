// Package main provides the agentmixer CLI entry point: commands that
// drive an in-process Orchestrator per the engine's command surface.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/zloeber/ai-agent-mixer/internal/modelclient"
	"github.com/zloeber/ai-agent-mixer/internal/modelclient/providers"
	"github.com/zloeber/ai-agent-mixer/pkg/convo"
)

// buildProviders constructs one modelclient.Provider per distinct
// provider name referenced by cfg's agents, reading credentials from the
// environment variables the teacher's own provider doc comments name
// (ANTHROPIC_API_KEY, OPENAI_API_KEY, GOOGLE_API_KEY, AWS_ACCESS_KEY_ID /
// AWS_SECRET_ACCESS_KEY). OpenAI tolerates a blank key (its provider is
// "configured but unusable" until Complete is called); Anthropic and
// Gemini fail to construct at all without one, so a missing key for
// those surfaces immediately as a start-time ConfigInvalid-flavored
// error rather than a confusing runtime agent_error mid-conversation.
func buildProviders(ctx context.Context, cfg convo.ConfigSpec) (map[string]modelclient.Provider, error) {
	names := make(map[string]struct{})
	for _, a := range cfg.Agents {
		names[a.ModelEndpoint.Provider] = struct{}{}
	}

	out := make(map[string]modelclient.Provider, len(names))
	for name := range names {
		provider, err := buildProvider(ctx, name)
		if err != nil {
			return nil, err
		}
		out[name] = provider
	}
	return out, nil
}

func buildProvider(ctx context.Context, name string) (modelclient.Provider, error) {
	switch strings.ToLower(name) {
	case "anthropic":
		return providers.NewAnthropicProvider(providers.AnthropicConfig{
			APIKey: os.Getenv("ANTHROPIC_API_KEY"),
		})
	case "openai":
		return providers.NewOpenAIProvider(os.Getenv("OPENAI_API_KEY")), nil
	case "gemini", "google":
		return providers.NewGeminiProvider(providers.GeminiConfig{
			APIKey: os.Getenv("GOOGLE_API_KEY"),
		})
	case "bedrock":
		ctx, cancel := context.WithTimeout(ctx, dialTimeout)
		defer cancel()
		return providers.NewBedrockProvider(ctx, providers.BedrockConfig{
			Region:          os.Getenv("AWS_REGION"),
			AccessKeyID:     os.Getenv("AWS_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
			SessionToken:    os.Getenv("AWS_SESSION_TOKEN"),
		})
	default:
		return nil, fmt.Errorf("agentmixer: unknown model provider %q", name)
	}
}

// dialTimeout bounds provider construction calls that reach out to a
// credential chain (Bedrock) before anything else in the CLI runs.
const dialTimeout = 10 * time.Second
