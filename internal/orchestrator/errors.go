package orchestrator

import "errors"

// ErrAlreadyRunning is start's failure when a conversation is already
// running or paused, per §5's "at most one conversation runs per
// Orchestrator instance at a time".
var ErrAlreadyRunning = errors.New("orchestrator: a conversation is already running")

// ErrNotRunning is continue/pause/resume's failure when there is no
// active conversation to act on.
var ErrNotRunning = errors.New("orchestrator: no conversation is running")
