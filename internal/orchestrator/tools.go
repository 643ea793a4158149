package orchestrator

import (
	"context"

	"github.com/zloeber/ai-agent-mixer/internal/modelclient"
	"github.com/zloeber/ai-agent-mixer/pkg/convo"
)

// ToolStatus reports every registered tool server's live state, the
// tool_status command's result.
func (o *Orchestrator) ToolStatus() []convo.ToolServerDescriptor {
	return o.tools.Status()
}

// RestartTool restarts one named tool server, the restart_tool command.
func (o *Orchestrator) RestartTool(ctx context.Context, name string) (convo.ToolServerDescriptor, error) {
	return o.tools.Restart(ctx, name)
}

// TestModelEndpoint performs the minimal ping and model-listing the
// test_model_endpoint command asks for: confirm the named model is one
// the provider lists (when it lists any), then issue one Complete call
// and drain it to confirm the endpoint actually answers.
func TestModelEndpoint(ctx context.Context, provider modelclient.Provider, model string) (ok bool, detail string) {
	if provider == nil {
		return false, "no provider configured for this endpoint"
	}

	if models := provider.Models(); len(models) > 0 {
		found := false
		for _, m := range models {
			if m.ID == model {
				found = true
				break
			}
		}
		if !found {
			return false, "model \"" + model + "\" is not in " + provider.Name() + "'s model list"
		}
	}

	chunks, err := provider.Complete(ctx, &modelclient.Request{Model: model})
	if err != nil {
		return false, err.Error()
	}
	for c := range chunks {
		if c.Err != nil {
			return false, c.Err.Error()
		}
		if c.Done {
			break
		}
	}
	return true, "ok"
}
