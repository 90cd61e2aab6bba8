package orchestrator

import (
	"context"
	"sync"
)

// Handle tracks one asynchronous orchestration run. Background errors are
// recorded here and surfaced through Err, never only logged.
type Handle struct {
	outcomeID string
	orch      *Orchestrator
	cancel    context.CancelFunc
	done      chan struct{}

	mu     sync.Mutex
	err    error
	result *RunResult
}

// Start orchestrates the outcome in the background and returns immediately.
// The caller owns the handle: Stop cancels the run, Done signals
// completion, and Err reports how it ended.
func (o *Orchestrator) Start(ctx context.Context, outcomeID string, opts Options) *Handle {
	runCtx, cancel := context.WithCancel(ctx)
	h := &Handle{
		outcomeID: outcomeID,
		orch:      o,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	go func() {
		defer close(h.done)
		result, err := o.Run(runCtx, outcomeID, opts)
		h.mu.Lock()
		h.result = result
		h.err = err
		h.mu.Unlock()
	}()
	return h
}

// OutcomeID returns the outcome this handle orchestrates.
func (h *Handle) OutcomeID() string { return h.outcomeID }

// Done is closed when the run reaches a terminal state.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Err returns the run's error once Done is closed, nil before then.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Result returns the run result once Done is closed, nil before then.
func (h *Handle) Result() *RunResult {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.result
}

// State polls the outcome's current orchestration state.
func (h *Handle) State() (*State, error) {
	return h.orch.State(h.outcomeID)
}

// Stop cancels the background run. Blocks until the run has wound down.
func (h *Handle) Stop() {
	h.cancel()
	<-h.done
}
