package toolserver

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/zloeber/ai-agent-mixer/pkg/convo"
)

// DefaultStartupDeadline bounds how long a server's initialize handshake
// may take before Start gives up, per §4.4's default.
const DefaultStartupDeadline = 2 * time.Second

// DefaultGracePeriod bounds how long Stop waits for a clean shutdown
// before the transport is force-closed.
const DefaultGracePeriod = 2 * time.Second

// DefaultHealthInterval is how often the background monitor probes each
// ready server.
const DefaultHealthInterval = 10 * time.Second

// DefaultHealthMaxBackoff caps the exponential backoff between
// consecutive failed health probes for the same server.
const DefaultHealthMaxBackoff = 2 * time.Minute

// dialFunc opens a transport for spec; swappable in tests so they never
// spawn a real subprocess.
type dialFunc func(ctx context.Context, spec convo.ToolServerSpec) (transport, error)

type serverEntry struct {
	spec      convo.ToolServerSpec
	status    convo.ToolServerStatus
	tools     []convo.ToolDescriptor
	transport transport
	lastCheck time.Time
	lastErr   string

	consecutiveFailures int
}

// Registry owns the set of started tool servers for one conversation.
// Safe for concurrent use: every mutation holds mu.
type Registry struct {
	mu      sync.RWMutex
	servers map[string]*serverEntry

	dial            dialFunc
	startupDeadline time.Duration
	gracePeriod     time.Duration
	healthInterval  time.Duration
	healthMaxBackoff time.Duration

	// Publish, if set, receives the registry's notifications (server
	// became unhealthy, a tool name collision was resolved), both sent as
	// EventError events, not lifecycle events. Nil is a valid, silent
	// sink.
	Publish func(convo.Event)

	stopHealth chan struct{}
	healthWG   sync.WaitGroup
}

// New builds an empty Registry. Pass nil for dial to use the real
// mark3labs/mcp-go stdio transport.
func New(dial dialFunc) *Registry {
	if dial == nil {
		dial = func(ctx context.Context, spec convo.ToolServerSpec) (transport, error) {
			return dialStdio(ctx, spec)
		}
	}
	return &Registry{
		servers:          make(map[string]*serverEntry),
		dial:             dial,
		startupDeadline:  DefaultStartupDeadline,
		gracePeriod:      DefaultGracePeriod,
		healthInterval:   DefaultHealthInterval,
		healthMaxBackoff: DefaultHealthMaxBackoff,
	}
}

// Start spawns spec's subprocess and performs the initialize handshake.
// Startup failure leaves the server stopped and returns the error; the
// caller (Orchestrator) decides whether that is fatal, per §4.4's
// "tool availability is advisory" rule — it never is here.
func (r *Registry) Start(ctx context.Context, spec convo.ToolServerSpec) (convo.ToolServerDescriptor, error) {
	r.mu.Lock()
	if _, exists := r.servers[spec.Name]; exists {
		r.mu.Unlock()
		return convo.ToolServerDescriptor{}, fmt.Errorf("toolserver: %s already started", spec.Name)
	}
	entry := &serverEntry{spec: spec, status: convo.StatusStarting}
	r.servers[spec.Name] = entry
	r.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(ctx, r.startupDeadline)
	defer cancel()

	t, err := r.dial(dialCtx, spec)
	if err != nil {
		r.mu.Lock()
		entry.status = convo.StatusStopped
		entry.lastErr = err.Error()
		r.mu.Unlock()
		return r.descriptorLocked(spec.Name), err
	}

	tools, err := t.ListTools(dialCtx)
	if err != nil {
		_ = t.Close()
		r.mu.Lock()
		entry.status = convo.StatusStopped
		entry.lastErr = err.Error()
		r.mu.Unlock()
		return r.descriptorLocked(spec.Name), err
	}

	r.mu.Lock()
	entry.transport = t
	entry.tools = tools
	entry.status = convo.StatusReady
	entry.lastCheck = now()
	entry.lastErr = ""
	r.mu.Unlock()

	return r.descriptorLocked(spec.Name), nil
}

// Stop sends a graceful shutdown (transport.Close) and removes the
// server from the registry. mcp-go's Close already tears the subprocess
// down synchronously; gracePeriod bounds how long Stop waits for that
// before giving up and removing the entry anyway.
func (r *Registry) Stop(name string) error {
	r.mu.Lock()
	entry, exists := r.servers[name]
	if !exists {
		r.mu.Unlock()
		return ErrServerNotFound
	}
	delete(r.servers, name)
	r.mu.Unlock()

	if entry.transport == nil {
		return nil
	}

	done := make(chan error, 1)
	go func() { done <- entry.transport.Close() }()
	select {
	case err := <-done:
		return err
	case <-time.After(r.gracePeriod):
		return fmt.Errorf("toolserver: %s did not shut down within grace period", name)
	}
}

// Restart stops then starts name with its original spec.
func (r *Registry) Restart(ctx context.Context, name string) (convo.ToolServerDescriptor, error) {
	r.mu.RLock()
	entry, exists := r.servers[name]
	r.mu.RUnlock()
	if !exists {
		return convo.ToolServerDescriptor{}, ErrServerNotFound
	}
	spec := entry.spec

	_ = r.Stop(name)
	return r.Start(ctx, spec)
}

// ToolsForAgent returns the union of global servers and servers scoped
// to agentID. On a tool-name collision the agent-scoped handle wins and
// a warning is published.
func (r *Registry) ToolsForAgent(agentID string) []convo.ToolHandle {
	r.mu.RLock()
	defer r.mu.RUnlock()

	byName := make(map[string]convo.ToolHandle)
	var order []string

	add := func(entry *serverEntry, preferOverwrite bool) {
		if entry.status != convo.StatusReady {
			return
		}
		for _, tool := range entry.tools {
			handle := convo.ToolHandle{
				ServerName:  entry.spec.Name,
				Name:        tool.Name,
				Description: tool.Description,
				InputSchema: tool.InputSchema,
			}
			if existing, ok := byName[tool.Name]; ok {
				if !preferOverwrite {
					continue
				}
				r.warnCollision(tool.Name, existing.ServerName, entry.spec.Name)
			} else {
				order = append(order, tool.Name)
			}
			byName[tool.Name] = handle
		}
	}

	for _, entry := range r.servers {
		if entry.spec.Scope == convo.ScopeGlobal {
			add(entry, false)
		}
	}
	for _, entry := range r.servers {
		if entry.spec.Scope == convo.ScopeAgentScoped && entry.spec.AgentID == agentID {
			add(entry, true)
		}
	}

	out := make([]convo.ToolHandle, 0, len(order))
	for _, name := range order {
		out = append(out, byName[name])
	}
	return out
}

func (r *Registry) warnCollision(toolName, globalServer, agentServer string) {
	if r.Publish == nil {
		return
	}
	r.Publish(convo.Event{
		Type: convo.EventError,
		Error: &convo.ErrorPayload{
			Kind:    convo.ErrorKindProtocol,
			Message: fmt.Sprintf("tool %q: agent-scoped server %q overrides global server %q", toolName, agentServer, globalServer),
		},
	})
}

// Call resolves toolName to its owning server via ToolsForAgent and
// invokes it, bounding the call by deadline.
func (r *Registry) Call(ctx context.Context, agentID, toolName string, arguments map[string]any, deadline time.Duration) (content string, isError bool, toolErr *ToolError) {
	var owner string
	for _, h := range r.ToolsForAgent(agentID) {
		if h.Name == toolName {
			owner = h.ServerName
			break
		}
	}
	if owner == "" {
		return "", false, &ToolError{Kind: ErrProtocol, Detail: fmt.Sprintf("no server exposes tool %q for agent %q", toolName, agentID)}
	}

	r.mu.RLock()
	entry, exists := r.servers[owner]
	r.mu.RUnlock()
	if !exists || entry.status != convo.StatusReady {
		return "", false, &ToolError{Kind: ErrTransport, Detail: fmt.Sprintf("server %q not ready", owner)}
	}

	callCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	content, isError, err := entry.transport.Call(callCtx, toolName, arguments)
	if err != nil {
		if callCtx.Err() != nil {
			return "", false, &ToolError{Kind: ErrTimeout, Detail: err.Error()}
		}
		return "", false, &ToolError{Kind: ErrTransport, Detail: err.Error()}
	}
	return content, isError, nil
}

// StartHealthMonitor launches a background goroutine that periodically
// probes every ready or unhealthy server with a cheap ListTools call,
// marking a server unhealthy on its first failed probe (and ready again
// on a later successful one) and backing off exponentially between
// probes of a failing server, up to healthMaxBackoff. Call
// StopHealthMonitor to stop it.
func (r *Registry) StartHealthMonitor(ctx context.Context) {
	r.mu.Lock()
	if r.stopHealth != nil {
		r.mu.Unlock()
		return
	}
	r.stopHealth = make(chan struct{})
	stop := r.stopHealth
	r.mu.Unlock()

	r.healthWG.Add(1)
	go func() {
		defer r.healthWG.Done()
		ticker := time.NewTicker(r.healthInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
				r.probeAll(ctx)
			}
		}
	}()
}

// StopHealthMonitor stops the background probe loop started by
// StartHealthMonitor and waits for it to exit. Safe to call more than
// once or when no monitor is running.
func (r *Registry) StopHealthMonitor() {
	r.mu.Lock()
	stop := r.stopHealth
	r.stopHealth = nil
	r.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	r.healthWG.Wait()
}

func (r *Registry) probeAll(ctx context.Context) {
	r.mu.RLock()
	names := make([]string, 0, len(r.servers))
	for name, entry := range r.servers {
		if entry.status == convo.StatusReady || entry.status == convo.StatusUnhealthy {
			names = append(names, name)
		}
	}
	r.mu.RUnlock()

	for _, name := range names {
		r.probeOne(ctx, name)
	}
}

func (r *Registry) probeOne(ctx context.Context, name string) {
	r.mu.RLock()
	entry, exists := r.servers[name]
	r.mu.RUnlock()
	if !exists || entry.transport == nil {
		return
	}

	if entry.consecutiveFailures > 0 {
		backoff := time.Duration(1<<uint(entry.consecutiveFailures)) * time.Second
		if backoff > r.healthMaxBackoff {
			backoff = r.healthMaxBackoff
		}
		if time.Since(entry.lastCheck) < backoff {
			return
		}
	}

	probeCtx, cancel := context.WithTimeout(ctx, r.startupDeadline)
	defer cancel()
	_, err := entry.transport.ListTools(probeCtx)

	r.mu.Lock()
	defer r.mu.Unlock()
	entry.lastCheck = now()
	if err != nil {
		entry.consecutiveFailures++
		wasReady := entry.status == convo.StatusReady
		entry.status = convo.StatusUnhealthy
		entry.lastErr = err.Error()
		if wasReady && r.Publish != nil {
			r.Publish(convo.Event{
				Type: convo.EventError,
				Error: &convo.ErrorPayload{
					Kind:    convo.ErrorKindToolCallFailed,
					Message: fmt.Sprintf("tool server %q failed health probe: %v", name, err),
					Err:     err,
				},
			})
		}
		return
	}
	entry.consecutiveFailures = 0
	entry.status = convo.StatusReady
	entry.lastErr = ""
}

// Status returns every registered server's live descriptor.
func (r *Registry) Status() []convo.ToolServerDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]convo.ToolServerDescriptor, 0, len(r.servers))
	for name := range r.servers {
		out = append(out, r.descriptorLocked(name))
	}
	return out
}

// descriptorLocked must be called with r.mu held (for read or write).
func (r *Registry) descriptorLocked(name string) convo.ToolServerDescriptor {
	entry := r.servers[name]
	return convo.ToolServerDescriptor{
		Name:            entry.spec.Name,
		Scope:           entry.spec.Scope,
		Status:          entry.status,
		LastHealthCheck: entry.lastCheck,
		Tools:           entry.tools,
		LastError:       entry.lastErr,
	}
}

var now = time.Now
