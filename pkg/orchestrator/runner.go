package orchestrator

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/odvcencio/steward/pkg/bus"
	"github.com/odvcencio/steward/pkg/errors"
	"github.com/odvcencio/steward/pkg/observe"
	"github.com/odvcencio/steward/pkg/storage"
)

// WorkerHandle tracks one spawned worker. Observations stream until the
// worker terminates; the channel is closed after the terminal status is
// known.
type WorkerHandle interface {
	// WorkerID returns the ID the worker was spawned under.
	WorkerID() string

	// Wait blocks until the worker reaches a terminal status or ctx is
	// cancelled.
	Wait(ctx context.Context) (storage.WorkerStatus, error)

	// Observations streams the worker's observations.
	Observations() <-chan *observe.Observation
}

// Runner is the worker execution collaborator. What a worker actually does
// with its task is outside the orchestrator's concern.
type Runner interface {
	Spawn(ctx context.Context, workerID string, task *storage.Task) (WorkerHandle, error)
	Terminate(ctx context.Context, handle WorkerHandle) error
}

// Assignment is the payload published to workers on spawn.
type Assignment struct {
	WorkerID string        `json:"worker_id"`
	Task     *storage.Task `json:"task"`
}

// statusReport is the payload workers publish on their status subject.
type statusReport struct {
	Status storage.WorkerStatus `json:"status"`
}

// BusRunner assigns tasks to out-of-process workers over the message bus.
// Workers pick up assignments from the shared assign subject, stream
// observations on their observation subject, and publish a terminal status
// report when done.
type BusRunner struct {
	bus bus.MessageBus
}

// NewBusRunner creates a runner over the given bus.
func NewBusRunner(b bus.MessageBus) *BusRunner {
	return &BusRunner{bus: b}
}

// Spawn publishes the assignment and wires up status and observation
// subscriptions for the new worker.
func (r *BusRunner) Spawn(ctx context.Context, workerID string, task *storage.Task) (WorkerHandle, error) {
	h := &busHandle{
		bus:      r.bus,
		workerID: workerID,
		status:   make(chan storage.WorkerStatus, 1),
		obs:      make(chan *observe.Observation, 64),
	}

	statusSub, err := r.bus.Subscribe(ctx, bus.StatusSubject(workerID), h.onStatus)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeWorkerSpawn, "subscribe worker status")
	}
	obsSub, err := r.bus.Subscribe(ctx, bus.ObservationSubject(workerID), h.onObservation)
	if err != nil {
		statusSub.Unsubscribe()
		return nil, errors.Wrap(err, errors.ErrCodeWorkerSpawn, "subscribe worker observations")
	}
	h.subs = []bus.Subscription{statusSub, obsSub}

	payload, err := json.Marshal(Assignment{WorkerID: workerID, Task: task})
	if err != nil {
		h.close()
		return nil, errors.Wrap(err, errors.ErrCodeWorkerSpawn, "encode assignment")
	}
	if err := r.bus.Publish(ctx, bus.SubjectWorkerAssign, payload); err != nil {
		h.close()
		return nil, errors.Wrap(err, errors.ErrCodeWorkerSpawn, "publish assignment")
	}
	return h, nil
}

// Terminate asks the worker to stop. The worker is expected to publish a
// stopped status in response.
func (r *BusRunner) Terminate(ctx context.Context, handle WorkerHandle) error {
	return r.bus.Publish(ctx, bus.TerminateSubject(handle.WorkerID()), []byte(`{"reason":"terminated"}`))
}

type busHandle struct {
	bus      bus.MessageBus
	workerID string
	status   chan storage.WorkerStatus
	obs      chan *observe.Observation
	subs     []bus.Subscription

	mu     sync.Mutex
	closed bool
}

func (h *busHandle) WorkerID() string { return h.workerID }

func (h *busHandle) Observations() <-chan *observe.Observation { return h.obs }

func (h *busHandle) Wait(ctx context.Context) (storage.WorkerStatus, error) {
	select {
	case status := <-h.status:
		h.close()
		return status, nil
	case <-ctx.Done():
		h.close()
		return storage.WorkerStopped, ctx.Err()
	}
}

func (h *busHandle) onStatus(msg *bus.Message) {
	var report statusReport
	if err := json.Unmarshal(msg.Data, &report); err != nil {
		return
	}
	switch report.Status {
	case storage.WorkerCompleted, storage.WorkerFailed, storage.WorkerStopped:
		select {
		case h.status <- report.Status:
		default:
		}
	}
}

func (h *busHandle) onObservation(msg *bus.Message) {
	obs, err := observe.Decode(msg.Data)
	if err != nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	select {
	case h.obs <- obs:
	default:
	}
}

func (h *busHandle) close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	h.mu.Unlock()

	for _, sub := range h.subs {
		sub.Unsubscribe()
	}

	h.mu.Lock()
	close(h.obs)
	h.mu.Unlock()
}
