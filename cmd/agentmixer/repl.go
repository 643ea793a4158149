package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/zloeber/ai-agent-mixer/internal/config"
	"github.com/zloeber/ai-agent-mixer/internal/eventsink"
	"github.com/zloeber/ai-agent-mixer/internal/orchestrator"
	"github.com/zloeber/ai-agent-mixer/internal/toolserver"
	"github.com/zloeber/ai-agent-mixer/internal/transcript"
	"github.com/zloeber/ai-agent-mixer/internal/turnexec"
	"github.com/zloeber/ai-agent-mixer/pkg/convo"
)

// replRequest is one line of the repl's stdin protocol: a command name
// plus whatever arguments that command needs. Unused fields are zero
// for commands that don't need them, mirroring the tool-server wire
// protocol's own line-structured stdio shape (internal/toolserver).
type replRequest struct {
	Command       string `json:"command"`
	ConfigPath    string `json:"config_path,omitempty"`
	ScenarioName  string `json:"scenario_name,omitempty"`
	MaxCycles     *int   `json:"max_cycles,omitempty"`
	StartingAgent string `json:"starting_agent,omitempty"`
	Cycles        int    `json:"cycles,omitempty"`
	ExportPath    string `json:"export_path,omitempty"`
	ServerName    string `json:"server_name,omitempty"`
	AgentID       string `json:"agent_id,omitempty"`
}

type replResponse struct {
	OK     bool   `json:"ok"`
	Error  string `json:"error,omitempty"`
	Result any    `json:"result,omitempty"`
}

func buildReplCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repl",
		Short: "Drive one conversation interactively via newline-delimited JSON commands on stdin/stdout",
		Long: `repl reads one JSON command object per line from stdin and writes one JSON
response object per line to stdout. Supported commands: start, continue, pause,
resume, stop, status, list_scenarios, test_model_endpoint, tool_status,
restart_tool, export, quit.

Example session:

	{"command":"start","config_path":"agentmixer.yaml"}
	{"command":"continue"}
	{"command":"status"}
	{"command":"stop"}`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return runRepl(ctx, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	return cmd
}

// replState holds the one live conversation a repl session drives.
// Providers and the Orchestrator itself are only known once the first
// start command supplies a configuration, so both are built lazily.
type replState struct {
	sink    *eventsink.Sink
	tools   *toolserver.Registry
	orch    *orchestrator.Orchestrator
	cfg     convo.ConfigSpec
	haveCfg bool
}

func runRepl(ctx context.Context, in io.Reader, out io.Writer) error {
	st := &replState{
		sink:  eventsink.New(0),
		tools: toolserver.New(nil),
	}
	st.sink.Subscribe("repl", printEvent(out))

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	enc := json.NewEncoder(out)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req replRequest
		if err := json.Unmarshal(line, &req); err != nil {
			enc.Encode(replResponse{Error: fmt.Sprintf("malformed command: %v", err)})
			continue
		}

		if req.Command == "quit" {
			return nil
		}

		resp := dispatchRepl(ctx, st, req)
		if err := enc.Encode(resp); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func dispatchRepl(ctx context.Context, st *replState, req replRequest) replResponse {
	switch req.Command {
	case "start":
		path := req.ConfigPath
		if path == "" {
			path = "agentmixer.yaml"
		}
		loaded, err := config.Load(path)
		if err != nil {
			return errResponse(err)
		}
		providers, err := buildProviders(ctx, loaded)
		if err != nil {
			return errResponse(err)
		}
		st.cfg = loaded
		st.haveCfg = true
		st.orch = orchestrator.New(st.tools, providers, st.sink, turnexec.DefaultOptions())

		result, err := st.orch.Start(ctx, loaded, req.ScenarioName, convo.RunOverrides{
			MaxCycles:     req.MaxCycles,
			StartingAgent: req.StartingAgent,
		})
		if err != nil {
			return errResponse(err)
		}
		return okResponse(result)

	case "continue":
		if st.orch == nil {
			return errResponse(orchestrator.ErrNotRunning)
		}
		result, err := st.orch.Continue(req.Cycles)
		if err != nil {
			return errResponse(err)
		}
		return okResponse(result)

	case "pause":
		if st.orch == nil {
			return errResponse(orchestrator.ErrNotRunning)
		}
		result, err := st.orch.Pause()
		if err != nil {
			return errResponse(err)
		}
		return okResponse(result)

	case "resume":
		if st.orch == nil {
			return errResponse(orchestrator.ErrNotRunning)
		}
		result, err := st.orch.Resume()
		if err != nil {
			return errResponse(err)
		}
		return okResponse(result)

	case "stop":
		if st.orch == nil {
			return errResponse(orchestrator.ErrNotRunning)
		}
		result, err := st.orch.Stop()
		if err != nil {
			return errResponse(err)
		}
		return okResponse(result)

	case "status":
		if st.orch == nil {
			return okResponse(orchestrator.StatusResult{Phase: convo.PhaseIdle})
		}
		return okResponse(st.orch.Status())

	case "list_scenarios":
		if !st.haveCfg {
			return errResponse(fmt.Errorf("agentmixer: no configuration loaded yet; run start first"))
		}
		return okResponse(orchestrator.ListScenarios(st.cfg))

	case "tool_status":
		return okResponse(st.tools.Status())

	case "restart_tool":
		if !st.haveCfg {
			return errResponse(fmt.Errorf("agentmixer: no configuration loaded yet; run start first"))
		}
		descriptor, err := st.tools.Restart(ctx, req.ServerName)
		if err != nil {
			return errResponse(err)
		}
		return okResponse(descriptor)

	case "test_model_endpoint":
		if !st.haveCfg {
			return errResponse(fmt.Errorf("agentmixer: no configuration loaded yet; run start first"))
		}
		result, err := testModelEndpoint(ctx, st.cfg, req.AgentID)
		if err != nil {
			return errResponse(err)
		}
		return okResponse(result)

	case "export":
		if st.orch == nil {
			return errResponse(orchestrator.ErrNotRunning)
		}
		scenario, msgs, term, err := st.orch.Export()
		if err != nil {
			return errResponse(err)
		}
		rendered := transcript.Render(scenario, msgs, term)
		if req.ExportPath != "" {
			if err := os.WriteFile(req.ExportPath, []byte(rendered), 0o644); err != nil {
				return errResponse(fmt.Errorf("agentmixer: write transcript: %w", err))
			}
			return okResponse(req.ExportPath)
		}
		return okResponse(rendered)

	default:
		return errResponse(fmt.Errorf("agentmixer: unknown command %q", req.Command))
	}
}

func okResponse(result any) replResponse {
	return replResponse{OK: true, Result: result}
}

func errResponse(err error) replResponse {
	return replResponse{OK: false, Error: err.Error()}
}
