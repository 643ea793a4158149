// Package toolserver implements the Tool Registry & Proxy (C4): starting,
// monitoring, and stopping external tool-server subprocesses, enumerating
// their tools, and routing calls to the owning server.
package toolserver

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/zloeber/ai-agent-mixer/pkg/convo"
)

// transport is the wire-level operations a tool server connection must
// support, kept narrow so tests can substitute a fake rather than
// spawning a real subprocess, the way hector's mcptoolset keeps its
// stdio/HTTP clients behind the shared tool.CallableTool interface.
type transport interface {
	ListTools(ctx context.Context) ([]convo.ToolDescriptor, error)
	Call(ctx context.Context, name string, arguments map[string]any) (string, bool, error)
	Close() error
}

// stdioTransport wraps a mark3labs/mcp-go stdio client: it owns the
// subprocess, performs the initialize handshake, and proxies tool calls.
type stdioTransport struct {
	client *client.Client
}

// dialStdio spawns spec's command as a subprocess and performs the MCP
// initialize handshake, the same two-step connectStdio does in the
// reference mcptoolset package.
func dialStdio(ctx context.Context, spec convo.ToolServerSpec) (*stdioTransport, error) {
	env := make([]string, 0, len(spec.Env))
	for k, v := range spec.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}

	c, err := client.NewStdioMCPClient(spec.Command, env, spec.Args...)
	if err != nil {
		return nil, fmt.Errorf("toolserver: failed to create client for %s: %w", spec.Name, err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ClientInfo = mcp.Implementation{Name: "ai-agent-mixer", Version: "0.1.0"}
	initReq.Params.ProtocolVersion = "2024-11-05"

	if _, err := c.Initialize(ctx, initReq); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("toolserver: handshake failed for %s: %w", spec.Name, err)
	}

	return &stdioTransport{client: c}, nil
}

func (t *stdioTransport) ListTools(ctx context.Context) ([]convo.ToolDescriptor, error) {
	resp, err := t.client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, err
	}
	out := make([]convo.ToolDescriptor, 0, len(resp.Tools))
	for _, tool := range resp.Tools {
		schema, _ := marshalSchema(tool.InputSchema)
		out = append(out, convo.ToolDescriptor{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: schema,
		})
	}
	return out, nil
}

func (t *stdioTransport) Call(ctx context.Context, name string, arguments map[string]any) (string, bool, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = arguments

	resp, err := t.client.CallTool(ctx, req)
	if err != nil {
		return "", false, err
	}

	var text string
	for _, content := range resp.Content {
		if tc, ok := content.(mcp.TextContent); ok {
			if text != "" {
				text += "\n"
			}
			text += tc.Text
		}
	}
	return text, resp.IsError, nil
}

func (t *stdioTransport) Close() error {
	return t.client.Close()
}
