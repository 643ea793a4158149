// Package orchestrator implements the Orchestrator (C7): the
// idle/running/paused/terminated state machine that drives one
// conversation's turns, one at a time, per §4.7.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/zloeber/ai-agent-mixer/internal/cycle"
	"github.com/zloeber/ai-agent-mixer/internal/eventsink"
	"github.com/zloeber/ai-agent-mixer/internal/initializer"
	"github.com/zloeber/ai-agent-mixer/internal/modelclient"
	"github.com/zloeber/ai-agent-mixer/internal/toolserver"
	"github.com/zloeber/ai-agent-mixer/internal/turnexec"
	"github.com/zloeber/ai-agent-mixer/pkg/convo"
)

// DefaultTurnTimeout bounds one turn when a scenario leaves
// turn_timeout_seconds unset.
const DefaultTurnTimeout = 30 * time.Second

// DefaultCancellationGrace is the §5 cancellation_grace default: how
// promptly an in-flight model stream or tool call must observe stop.
// Context cancellation in this driver propagates to the in-flight
// turn's deadline context immediately, so this value documents the SLA
// rather than gating any sleep or poll here.
const DefaultCancellationGrace = 500 * time.Millisecond

// Orchestrator owns at most one running conversation at a time. All
// exported methods are safe for concurrent use: Continue releases its
// lock while driving turns so Pause/Resume/Stop/Status can observe and
// act on a conversation in progress, per §5's cooperative pause-flag and
// cancellation-token rules.
type Orchestrator struct {
	mu sync.Mutex

	tools     *toolserver.Registry
	providers map[string]modelclient.Provider
	sink      *eventsink.Sink
	execOpts  turnexec.Options
	init      *initializer.Initializer

	state    *convo.ConversationState
	agents   map[string]convo.Agent
	tracker  *cycle.Tracker
	executor *turnexec.Executor
	runCtx   context.Context
	cancel   context.CancelFunc
}

// New builds an Orchestrator. tools and providers are shared across every
// conversation Start builds; sink fans out every event this conversation
// publishes.
func New(tools *toolserver.Registry, providers map[string]modelclient.Provider, sink *eventsink.Sink, execOpts turnexec.Options) *Orchestrator {
	return &Orchestrator{
		tools:     tools,
		providers: providers,
		sink:      sink,
		execOpts:  execOpts,
		init:      initializer.New(tools, nil),
	}
}

// Start builds a new conversation from cfg and transitions idle -> running.
// Fails ErrAlreadyRunning if a conversation is already running or paused;
// Initializer errors (ConfigInvalidError, ErrNoConfig, InvalidOverrideError)
// propagate as-is for the caller to map to NoConfig/InvalidOverride.
func (o *Orchestrator) Start(ctx context.Context, cfg convo.ConfigSpec, scenarioName string, overrides convo.RunOverrides) (StartResult, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state != nil {
		switch o.state.Snapshot().Phase {
		case convo.PhaseRunning, convo.PhasePaused:
			return StartResult{}, ErrAlreadyRunning
		}
	}

	state, agents, err := o.init.Build(ctx, cfg, scenarioName, overrides)
	if err != nil {
		return StartResult{}, err
	}

	agentsByID := make(map[string]convo.Agent, len(agents))
	for _, a := range agents {
		agentsByID[a.ID] = a
	}

	tracker := cycle.New(state.ParticipatingAgents)
	executor := turnexec.New(o.providers, o.tools, tracker, o.sink, o.execOpts)
	runCtx, cancel := context.WithCancel(ctx)

	state.Lock()
	state.Phase = convo.PhaseRunning
	state.Unlock()

	o.state = state
	o.agents = agentsByID
	o.tracker = tracker
	o.executor = executor
	o.runCtx = runCtx
	o.cancel = cancel

	o.sink.Publish(convo.Event{
		Type:      convo.EventLifecycle,
		Time:      time.Now(),
		Lifecycle: &convo.LifecyclePayload{Kind: convo.LifecycleStarted},
	})

	return StartResult{
		ConversationID:      state.ID,
		ParticipatingAgents: state.ParticipatingAgents,
		MaxCycles:           state.Scenario.MaxCycles,
	}, nil
}

// Continue drives the run loop for up to cycles completed cycles (cycles
// <= 0 means until terminated), invoking the Agent Turn Executor for
// next_agent each turn, checking termination after every turn, and
// advancing next_agent round-robin otherwise. It returns early, without
// error, if the conversation is paused or stopped mid-loop.
func (o *Orchestrator) Continue(cycles int) (ContinueResult, error) {
	o.mu.Lock()
	if o.state == nil || o.state.Snapshot().Phase != convo.PhaseRunning {
		o.mu.Unlock()
		return ContinueResult{}, ErrNotRunning
	}
	state := o.state
	agentsByID := o.agents
	tracker := o.tracker
	executor := o.executor
	runCtx := o.runCtx
	order := state.Scenario.ParticipatingAgents
	o.mu.Unlock()

	ran := 0
	for {
		if cycles > 0 && ran >= cycles {
			break
		}
		if runCtx.Err() != nil || state.Snapshot().Phase != convo.PhaseRunning {
			break
		}

		next := state.Snapshot().NextAgent
		agent, ok := agentsByID[next]
		if !ok {
			return ContinueResult{}, fmt.Errorf("orchestrator: next agent %q has no runtime record", next)
		}

		timeout := time.Duration(state.Scenario.TurnTimeoutSeconds) * time.Second
		if timeout <= 0 {
			timeout = DefaultTurnTimeout
		}

		beforeCycle := tracker.CurrentCycle()
		if err := executor.Run(runCtx, agent, state, time.Now().Add(timeout)); err != nil {
			o.terminate(state, convo.Termination{Reason: convo.TerminationAgentErr, AtCycle: tracker.CurrentCycle()}, "")
			break
		}

		state.Lock()
		latest := ""
		if n := len(state.Messages); n > 0 {
			latest = state.Messages[n-1].Content
		}
		state.Unlock()

		stop, reason := tracker.CheckTermination(&state.Scenario, latest)

		if afterCycle := tracker.CurrentCycle(); afterCycle != beforeCycle {
			state.Lock()
			state.CurrentCycle = afterCycle
			state.Unlock()
			o.sink.Publish(convo.Event{
				Type:        convo.EventCycleUpdate,
				Time:        time.Now(),
				CycleUpdate: &convo.CycleUpdatePayload{Cycle: afterCycle, Participating: order},
			})
			ran++
		}

		if stop {
			o.terminate(state, reason, "")
			break
		}

		idx := indexOf(order, next)
		state.Lock()
		state.NextAgent = order[(idx+1)%len(order)]
		state.Unlock()
	}

	sv := state.Snapshot()
	result := ContinueResult{CurrentCycle: tracker.CurrentCycle(), Terminated: sv.Phase == convo.PhaseTerminated}
	if sv.Termination != nil {
		result.TerminationReason = sv.Termination.String()
	}
	return result, nil
}

// Pause sets the cooperative pause flag (by moving phase to paused
// directly): the current in-flight turn, if any, completes inside
// Continue's loop, after which Continue observes the new phase and
// returns without starting another turn.
func (o *Orchestrator) Pause() (PhaseResult, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state == nil {
		return PhaseResult{}, ErrNotRunning
	}
	if o.state.Snapshot().Phase != convo.PhaseRunning {
		return PhaseResult{}, ErrNotRunning
	}
	o.state.Lock()
	o.state.Phase = convo.PhasePaused
	o.state.Unlock()
	o.sink.Publish(convo.Event{Type: convo.EventLifecycle, Time: time.Now(), Lifecycle: &convo.LifecyclePayload{Kind: convo.LifecyclePaused}})
	return PhaseResult{Phase: convo.PhasePaused}, nil
}

// Resume clears the pause flag, letting a subsequent Continue call drive
// turns again.
func (o *Orchestrator) Resume() (PhaseResult, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state == nil {
		return PhaseResult{}, ErrNotRunning
	}
	if o.state.Snapshot().Phase != convo.PhasePaused {
		return PhaseResult{}, ErrNotRunning
	}
	o.state.Lock()
	o.state.Phase = convo.PhaseRunning
	o.state.Unlock()
	o.sink.Publish(convo.Event{Type: convo.EventLifecycle, Time: time.Now(), Lifecycle: &convo.LifecyclePayload{Kind: convo.LifecycleResumed}})
	return PhaseResult{Phase: convo.PhaseRunning}, nil
}

// Stop cancels the conversation's cancellation token (unwinding any
// in-flight model stream or tool call within cancellation_grace) and
// transitions to terminated. Idempotent once already terminated.
func (o *Orchestrator) Stop() (PhaseResult, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state == nil {
		return PhaseResult{}, ErrNotRunning
	}
	switch o.state.Snapshot().Phase {
	case convo.PhaseIdle:
		return PhaseResult{}, ErrNotRunning
	case convo.PhaseTerminated:
		return PhaseResult{Phase: convo.PhaseTerminated}, nil
	}

	if o.cancel != nil {
		o.cancel()
	}
	atCycle := 0
	if o.tracker != nil {
		atCycle = o.tracker.CurrentCycle()
	}
	o.terminate(o.state, convo.Termination{Reason: convo.TerminationStopped, AtCycle: atCycle}, "")
	return PhaseResult{Phase: convo.PhaseTerminated}, nil
}

// Status returns a point-in-time snapshot of the active conversation, or
// the idle phase if none has been started yet.
func (o *Orchestrator) Status() StatusResult {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state == nil {
		return StatusResult{Phase: convo.PhaseIdle}
	}
	sv := o.state.Snapshot()
	return StatusResult{
		Phase:        sv.Phase,
		CurrentCycle: sv.CurrentCycle,
		MessageCount: sv.MessageCount,
		NextAgent:    sv.NextAgent,
		Termination:  sv.Termination,
	}
}

// Export returns the active conversation's full message history, frozen
// scenario, and termination for a transcript formatter. ErrNotRunning if
// no conversation has been started.
func (o *Orchestrator) Export() (convo.ScenarioSnapshot, []convo.Message, *convo.Termination, error) {
	o.mu.Lock()
	state := o.state
	o.mu.Unlock()
	if state == nil {
		return convo.ScenarioSnapshot{}, nil, nil, ErrNotRunning
	}
	scenario, msgs, term := state.Export()
	return scenario, msgs, term, nil
}

// terminate sets phase to terminated, records the termination reason, and
// publishes the matching lifecycle(ended) event. Callers hold no lock on
// entry; state has its own.
func (o *Orchestrator) terminate(state *convo.ConversationState, reason convo.Termination, detail string) {
	state.Lock()
	state.Phase = convo.PhaseTerminated
	term := reason
	state.Termination = &term
	state.Unlock()

	if detail == "" {
		detail = reason.String()
	}
	o.sink.Publish(convo.Event{
		Type:      convo.EventLifecycle,
		Time:      time.Now(),
		Lifecycle: &convo.LifecyclePayload{Kind: convo.LifecycleEnded, Detail: detail},
	})
}

func indexOf(list []string, v string) int {
	for i, s := range list {
		if s == v {
			return i
		}
	}
	return 0
}
