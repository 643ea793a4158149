// Package modelclienttest provides a scripted modelclient.Provider for use
// in other packages' tests, the way the teacher's agent tests build small
// local mock providers per suite rather than hitting a real backend.
package modelclienttest

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/zloeber/ai-agent-mixer/internal/modelclient"
)

// Turn is one scripted response the mock hands back for a single Complete
// call, in the order Turns was given.
type Turn struct {
	Chunks []*modelclient.Chunk
	Err    error
}

// Provider is a deterministic modelclient.Provider driven by a fixed script
// of Turns. Calls past the end of the script repeat the last turn, so a
// test that doesn't care about the exact call count still gets a response.
type Provider struct {
	NameValue      string
	ModelList      []modelclient.Model
	ToolsSupported bool

	mu       sync.Mutex
	Turns    []Turn
	Requests []*modelclient.Request

	calls atomic.Int64
}

// NewProvider builds a mock bound to name with the given scripted turns.
func NewProvider(name string, turns ...Turn) *Provider {
	return &Provider{NameValue: name, Turns: turns, ToolsSupported: true}
}

func (p *Provider) Name() string                { return p.NameValue }
func (p *Provider) Models() []modelclient.Model { return p.ModelList }
func (p *Provider) SupportsTools() bool         { return p.ToolsSupported }

// Calls reports how many times Complete has been invoked.
func (p *Provider) Calls() int64 { return p.calls.Load() }

func (p *Provider) Complete(ctx context.Context, req *modelclient.Request) (<-chan *modelclient.Chunk, error) {
	p.mu.Lock()
	p.Requests = append(p.Requests, req)
	idx := int(p.calls.Add(1)) - 1
	var turn Turn
	switch {
	case len(p.Turns) == 0:
		turn = Turn{Chunks: []*modelclient.Chunk{{Done: true}}}
	case idx < len(p.Turns):
		turn = p.Turns[idx]
	default:
		turn = p.Turns[len(p.Turns)-1]
	}
	p.mu.Unlock()

	if turn.Err != nil {
		return nil, turn.Err
	}

	out := make(chan *modelclient.Chunk, len(turn.Chunks))
	go func() {
		defer close(out)
		for _, c := range turn.Chunks {
			select {
			case <-ctx.Done():
				return
			case out <- c:
			}
		}
	}()
	return out, nil
}
