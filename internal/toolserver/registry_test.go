package toolserver

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zloeber/ai-agent-mixer/pkg/convo"
)

// fakeTransport is an in-memory stand-in for a subprocess connection, so
// registry tests never spawn a real tool server.
type fakeTransport struct {
	mu       sync.Mutex
	tools    []convo.ToolDescriptor
	listErr  error
	callText string
	callErr  error
	closed   bool
}

func (f *fakeTransport) ListTools(ctx context.Context) ([]convo.ToolDescriptor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.tools, nil
}

func (f *fakeTransport) Call(ctx context.Context, name string, arguments map[string]any) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.callErr != nil {
		return "", false, f.callErr
	}
	return f.callText, false, nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func dialerFor(transports map[string]*fakeTransport) dialFunc {
	return func(ctx context.Context, spec convo.ToolServerSpec) (transport, error) {
		t, ok := transports[spec.Name]
		if !ok {
			return nil, errors.New("no fake transport registered for " + spec.Name)
		}
		return t, nil
	}
}

func TestRegistry_StartMarksReadyAndEnumeratesTools(t *testing.T) {
	ft := &fakeTransport{tools: []convo.ToolDescriptor{{Name: "search"}}}
	r := New(dialerFor(map[string]*fakeTransport{"web": ft}))

	desc, err := r.Start(context.Background(), convo.ToolServerSpec{Name: "web", Scope: convo.ScopeGlobal, Command: "web-tool"})
	require.NoError(t, err)
	require.Equal(t, convo.StatusReady, desc.Status)
	require.Len(t, desc.Tools, 1)
}

func TestRegistry_StartFailureLeavesServerStopped(t *testing.T) {
	r := New(dialerFor(map[string]*fakeTransport{}))

	desc, err := r.Start(context.Background(), convo.ToolServerSpec{Name: "missing", Command: "nope"})
	require.Error(t, err)
	require.Equal(t, convo.StatusStopped, desc.Status)
}

func TestRegistry_ToolsForAgent_AgentScopedWinsCollision(t *testing.T) {
	globalT := &fakeTransport{tools: []convo.ToolDescriptor{{Name: "search", Description: "global search"}}}
	agentT := &fakeTransport{tools: []convo.ToolDescriptor{{Name: "search", Description: "agent search"}}}
	r := New(dialerFor(map[string]*fakeTransport{"global-web": globalT, "agent-web": agentT}))

	_, err := r.Start(context.Background(), convo.ToolServerSpec{Name: "global-web", Scope: convo.ScopeGlobal})
	require.NoError(t, err)
	_, err = r.Start(context.Background(), convo.ToolServerSpec{Name: "agent-web", Scope: convo.ScopeAgentScoped, AgentID: "alice"})
	require.NoError(t, err)

	handles := r.ToolsForAgent("alice")
	require.Len(t, handles, 1)
	require.Equal(t, "agent search", handles[0].Description)

	handlesOther := r.ToolsForAgent("bob")
	require.Len(t, handlesOther, 1)
	require.Equal(t, "global search", handlesOther[0].Description)
}

func TestRegistry_Call_RoutesToOwningServer(t *testing.T) {
	ft := &fakeTransport{tools: []convo.ToolDescriptor{{Name: "search"}}, callText: "result"}
	r := New(dialerFor(map[string]*fakeTransport{"web": ft}))
	_, err := r.Start(context.Background(), convo.ToolServerSpec{Name: "web", Scope: convo.ScopeGlobal})
	require.NoError(t, err)

	content, isError, toolErr := r.Call(context.Background(), "alice", "search", nil, time.Second)
	require.Nil(t, toolErr)
	require.False(t, isError)
	require.Equal(t, "result", content)
}

func TestRegistry_Call_UnknownToolIsProtocolError(t *testing.T) {
	r := New(dialerFor(map[string]*fakeTransport{}))
	_, _, toolErr := r.Call(context.Background(), "alice", "nope", nil, time.Second)
	require.NotNil(t, toolErr)
	require.Equal(t, ErrProtocol, toolErr.Kind)
}

func TestRegistry_Call_TransportErrorIsTransportKind(t *testing.T) {
	ft := &fakeTransport{tools: []convo.ToolDescriptor{{Name: "search"}}, callErr: errors.New("boom")}
	r := New(dialerFor(map[string]*fakeTransport{"web": ft}))
	_, err := r.Start(context.Background(), convo.ToolServerSpec{Name: "web", Scope: convo.ScopeGlobal})
	require.NoError(t, err)

	_, _, toolErr := r.Call(context.Background(), "alice", "search", nil, time.Second)
	require.NotNil(t, toolErr)
	require.Equal(t, ErrTransport, toolErr.Kind)
}

func TestRegistry_Stop_RemovesServerAndClosesTransport(t *testing.T) {
	ft := &fakeTransport{tools: []convo.ToolDescriptor{{Name: "search"}}}
	r := New(dialerFor(map[string]*fakeTransport{"web": ft}))
	_, err := r.Start(context.Background(), convo.ToolServerSpec{Name: "web", Scope: convo.ScopeGlobal})
	require.NoError(t, err)

	require.NoError(t, r.Stop("web"))
	ft.mu.Lock()
	closed := ft.closed
	ft.mu.Unlock()
	require.True(t, closed)

	require.Empty(t, r.ToolsForAgent("anyone"))
}

func TestRegistry_Restart_ReusesOriginalSpec(t *testing.T) {
	ft := &fakeTransport{tools: []convo.ToolDescriptor{{Name: "search"}}}
	r := New(dialerFor(map[string]*fakeTransport{"web": ft}))
	_, err := r.Start(context.Background(), convo.ToolServerSpec{Name: "web", Scope: convo.ScopeGlobal, Command: "web-tool"})
	require.NoError(t, err)

	desc, err := r.Restart(context.Background(), "web")
	require.NoError(t, err)
	require.Equal(t, convo.StatusReady, desc.Status)
}

func TestRegistry_ProbeOne_MarksUnhealthyAfterFailure(t *testing.T) {
	ft := &fakeTransport{tools: []convo.ToolDescriptor{{Name: "search"}}}
	r := New(dialerFor(map[string]*fakeTransport{"web": ft}))
	_, err := r.Start(context.Background(), convo.ToolServerSpec{Name: "web", Scope: convo.ScopeGlobal})
	require.NoError(t, err)

	ft.mu.Lock()
	ft.listErr = errors.New("unreachable")
	ft.mu.Unlock()

	r.probeOne(context.Background(), "web")

	r.mu.RLock()
	status := r.servers["web"].status
	r.mu.RUnlock()
	require.Equal(t, convo.StatusUnhealthy, status)
}
