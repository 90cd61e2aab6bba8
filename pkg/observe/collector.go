package observe

import (
	"context"
	"sync"

	"github.com/odvcencio/steward/pkg/bus"
	"github.com/odvcencio/steward/pkg/logging"
)

// Sink consumes observations routed by the collector. Sink errors are
// logged and never stop delivery to other sinks.
type Sink interface {
	HandleObservation(ctx context.Context, obs *Observation) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, obs *Observation) error

// HandleObservation implements Sink.
func (f SinkFunc) HandleObservation(ctx context.Context, obs *Observation) error {
	return f(ctx, obs)
}

// Collector subscribes to worker observation subjects and fans each decoded
// observation out to registered sinks.
type Collector struct {
	bus    bus.MessageBus
	logger *logging.Logger

	mu    sync.RWMutex
	sinks []Sink
	sub   bus.Subscription
}

// NewCollector creates a collector over the given bus.
func NewCollector(b bus.MessageBus, logger *logging.Logger) *Collector {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Collector{bus: b, logger: logger}
}

// AddSink registers a sink. Sinks added after Start still receive
// subsequent observations.
func (c *Collector) AddSink(sink Sink) {
	c.mu.Lock()
	c.sinks = append(c.sinks, sink)
	c.mu.Unlock()
}

// Start subscribes to the observation wildcard. The subscription lives until
// Stop is called or ctx is cancelled.
func (c *Collector) Start(ctx context.Context) error {
	sub, err := c.bus.Subscribe(ctx, bus.SubjectObservationWildcard, func(msg *bus.Message) {
		c.dispatch(ctx, msg)
	})
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.sub = sub
	c.mu.Unlock()
	return nil
}

// Stop cancels the bus subscription.
func (c *Collector) Stop() error {
	c.mu.Lock()
	sub := c.sub
	c.sub = nil
	c.mu.Unlock()
	if sub == nil {
		return nil
	}
	return sub.Unsubscribe()
}

func (c *Collector) dispatch(ctx context.Context, msg *bus.Message) {
	obs, err := Decode(msg.Data)
	if err != nil {
		c.logger.Warn(logging.CategoryWorker, "observation_invalid", err.Error(), map[string]any{
			"subject": msg.Subject,
		})
		return
	}

	c.mu.RLock()
	sinks := append([]Sink(nil), c.sinks...)
	c.mu.RUnlock()

	for _, sink := range sinks {
		if err := sink.HandleObservation(ctx, obs); err != nil {
			c.logger.Error(logging.CategoryWorker, "observation_sink_failed", err.Error(), map[string]any{
				"worker_id": obs.WorkerID,
				"task_id":   obs.TaskID,
				"kind":      string(obs.Kind),
			})
		}
	}
}

// Publish encodes and publishes an observation on behalf of a worker.
func Publish(ctx context.Context, b bus.MessageBus, obs *Observation) error {
	data, err := obs.Encode()
	if err != nil {
		return err
	}
	return b.Publish(ctx, bus.ObservationSubject(obs.WorkerID), data)
}
