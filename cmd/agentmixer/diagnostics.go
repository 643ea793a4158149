package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/zloeber/ai-agent-mixer/internal/config"
	"github.com/zloeber/ai-agent-mixer/internal/modelclient"
	"github.com/zloeber/ai-agent-mixer/internal/orchestrator"
	"github.com/zloeber/ai-agent-mixer/internal/toolserver"
	"github.com/zloeber/ai-agent-mixer/pkg/convo"
)

func buildListScenariosCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "list-scenarios",
		Short: "List the scenarios a configuration defines",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return emitJSON(cmd, orchestrator.ListScenarios(cfg))
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "agentmixer.yaml", "path to YAML configuration file")
	return cmd
}

// testModelEndpointResult is test_model_endpoint's structured response:
// a minimal round trip against the agent's configured provider and
// model, without running a full conversation.
type testModelEndpointResult struct {
	AgentID   string `json:"agent_id"`
	Provider  string `json:"provider"`
	Model     string `json:"model"`
	Reachable bool   `json:"reachable"`
	Error     string `json:"error,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
}

func buildTestModelEndpointCmd() *cobra.Command {
	var configPath, agentID string
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "test-model-endpoint",
		Short: "Send a one-turn probe to an agent's configured model endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			result, err := testModelEndpoint(ctx, cfg, agentID)
			if err != nil {
				return err
			}
			return emitJSON(cmd, result)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "agentmixer.yaml", "path to YAML configuration file")
	cmd.Flags().StringVar(&agentID, "agent", "", "agent ID to probe (required)")
	cmd.Flags().DurationVar(&timeout, "timeout", 15*time.Second, "probe timeout")
	cmd.MarkFlagRequired("agent")
	return cmd
}

// testModelEndpoint sends a single "ping" turn to agentID's configured
// model endpoint and reports whether it completed. Construction
// failures (missing credentials) and invocation failures (unreachable
// endpoint, bad model name) both surface in result.Error rather than as
// a returned error, so a caller always gets a structured report back —
// only an unknown agentID is a hard error.
func testModelEndpoint(ctx context.Context, cfg convo.ConfigSpec, agentID string) (testModelEndpointResult, error) {
	var agent *convo.AgentSpec
	for i := range cfg.Agents {
		if cfg.Agents[i].ID == agentID {
			agent = &cfg.Agents[i]
			break
		}
	}
	if agent == nil {
		return testModelEndpointResult{}, fmt.Errorf("agentmixer: no agent %q in configuration", agentID)
	}

	result := testModelEndpointResult{
		AgentID:  agent.ID,
		Provider: agent.ModelEndpoint.Provider,
		Model:    agent.ModelEndpoint.Model,
	}

	provider, err := buildProvider(ctx, agent.ModelEndpoint.Provider)
	if err != nil {
		result.Error = err.Error()
		return result, nil
	}

	start := time.Now()
	chunks, err := provider.Complete(ctx, &modelclient.Request{
		Model:    agent.ModelEndpoint.Model,
		Messages: []modelclient.Message{{Role: convo.RoleHuman, Content: "ping"}},
	})
	if err != nil {
		result.Error = err.Error()
		result.LatencyMS = time.Since(start).Milliseconds()
		return result, nil
	}

	for chunk := range chunks {
		if chunk.Err != nil {
			result.Error = chunk.Err.Error()
			break
		}
		if chunk.Done {
			result.Reachable = true
			break
		}
	}
	result.LatencyMS = time.Since(start).Milliseconds()
	return result, nil
}

func buildToolStatusCmd() *cobra.Command {
	var configPath string
	var startupTimeout time.Duration

	cmd := &cobra.Command{
		Use:   "tool-status",
		Short: "Start every configured tool server and report its status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			registry := toolserver.New(nil)
			ctx, cancel := context.WithTimeout(cmd.Context(), startupTimeout)
			defer cancel()

			for _, spec := range allToolServerSpecs(cfg) {
				if _, err := registry.Start(ctx, spec); err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "warning: tool server %s failed to start: %v\n", spec.Name, err)
				}
			}

			return emitJSON(cmd, registry.Status())
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "agentmixer.yaml", "path to YAML configuration file")
	cmd.Flags().DurationVar(&startupTimeout, "timeout", 30*time.Second, "total time allotted to start every tool server")
	return cmd
}

func buildRestartToolCmd() *cobra.Command {
	var configPath, serverName string
	var startupTimeout time.Duration

	cmd := &cobra.Command{
		Use:   "restart-tool",
		Short: "Start one configured tool server and report its status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			var spec *convo.ToolServerSpec
			for _, s := range allToolServerSpecs(cfg) {
				if s.Name == serverName {
					found := s
					spec = &found
					break
				}
			}
			if spec == nil {
				return fmt.Errorf("agentmixer: no tool server %q in configuration", serverName)
			}

			registry := toolserver.New(nil)
			ctx, cancel := context.WithTimeout(cmd.Context(), startupTimeout)
			defer cancel()

			descriptor, err := registry.Restart(ctx, serverName)
			if err != nil && err != toolserver.ErrServerNotFound {
				return err
			}
			if descriptor.Name == "" {
				descriptor, err = registry.Start(ctx, *spec)
				if err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "warning: tool server %s failed to start: %v\n", spec.Name, err)
				}
			}
			return emitJSON(cmd, descriptor)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "agentmixer.yaml", "path to YAML configuration file")
	cmd.Flags().StringVar(&serverName, "server", "", "tool server name to restart (required)")
	cmd.Flags().DurationVar(&startupTimeout, "timeout", 10*time.Second, "time allotted to the restart's startup handshake")
	cmd.MarkFlagRequired("server")
	return cmd
}

// allToolServerSpecs flattens cfg's global and every agent's scoped tool
// servers into one slice, mirroring how the Initializer assembles the
// set of servers a live conversation would start.
func allToolServerSpecs(cfg convo.ConfigSpec) []convo.ToolServerSpec {
	specs := append([]convo.ToolServerSpec{}, cfg.ToolServers...)
	for _, a := range cfg.Agents {
		specs = append(specs, a.ToolServers...)
	}
	return specs
}

func emitJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
