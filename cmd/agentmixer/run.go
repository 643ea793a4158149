package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/zloeber/ai-agent-mixer/internal/config"
	"github.com/zloeber/ai-agent-mixer/internal/eventsink"
	"github.com/zloeber/ai-agent-mixer/internal/metrics"
	"github.com/zloeber/ai-agent-mixer/internal/orchestrator"
	"github.com/zloeber/ai-agent-mixer/internal/toolserver"
	"github.com/zloeber/ai-agent-mixer/internal/transcript"
	"github.com/zloeber/ai-agent-mixer/internal/turnexec"
	"github.com/zloeber/ai-agent-mixer/pkg/convo"
)

func buildRunCmd() *cobra.Command {
	var (
		configPath    string
		scenarioName  string
		maxCycles     int
		startingAgent string
		exportPath    string
		metricsAddr   string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start a conversation and drive it to completion",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			providers, err := buildProviders(ctx, cfg)
			if err != nil {
				return err
			}

			sink := eventsink.New(0)
			out := cmd.OutOrStdout()
			sink.Subscribe("cli", printEvent(out))

			if metricsAddr != "" {
				m := metrics.New()
				sink.Subscribe("metrics", m.Observe())
				go serveMetrics(metricsAddr)
			}

			orch := orchestrator.New(toolserver.New(nil), providers, sink, turnexec.DefaultOptions())

			overrides := convo.RunOverrides{StartingAgent: startingAgent}
			if maxCycles > 0 {
				overrides.MaxCycles = &maxCycles
			}

			start, err := orch.Start(ctx, cfg, scenarioName, overrides)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "started conversation %s with %v (max_cycles=%d)\n", start.ConversationID, start.ParticipatingAgents, start.MaxCycles)

			result, err := orch.Continue(0)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "terminated at cycle %d: %s\n", result.CurrentCycle, result.TerminationReason)

			if exportPath != "" {
				scenario, msgs, term, err := orch.Export()
				if err != nil {
					return err
				}
				if err := os.WriteFile(exportPath, []byte(transcript.Render(scenario, msgs, term)), 0o644); err != nil {
					return fmt.Errorf("agentmixer: write transcript: %w", err)
				}
				fmt.Fprintf(out, "transcript written to %s\n", exportPath)
			}

			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "agentmixer.yaml", "path to YAML configuration file")
	cmd.Flags().StringVar(&scenarioName, "scenario", "", "scenario name (defaults to the first configured scenario)")
	cmd.Flags().IntVar(&maxCycles, "max-cycles", 0, "override the scenario's max_cycles")
	cmd.Flags().StringVar(&startingAgent, "starting-agent", "", "override the scenario's starting_agent")
	cmd.Flags().StringVar(&exportPath, "export", "", "write a markdown transcript to this path on termination")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9090); disabled if empty")

	return cmd
}

// serveMetrics exposes /metrics via the standard promhttp handler. Errors
// are logged, not fatal, since metrics are a diagnostics side-channel —
// losing them should never abort a running conversation.
func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		fmt.Fprintf(os.Stderr, "agentmixer: metrics server stopped: %v\n", err)
	}
}
