// Package bus provides the message transport workers use to report
// observations back to the orchestrator. The default implementation is
// in-process; a NATS option exists for workers running out of process.
package bus

import (
	"context"
	"errors"
)

var (
	// ErrClosed is returned when operating on a closed bus or subscription.
	ErrClosed = errors.New("bus or subscription closed")
)

// Subject tokens used by steward. Worker observation subjects are
// "steward.worker.<worker-id>.observation"; the collector subscribes with a
// wildcard on the worker token. Assignments fan out on a single shared
// subject; status and terminate are addressed per worker.
const (
	SubjectObservationWildcard = "steward.worker.*.observation"
	SubjectWorkerAssign        = "steward.worker.assign"
	subjectWorkerPrefix        = "steward.worker."
	subjectObservationSuffix   = ".observation"
	subjectStatusSuffix        = ".status"
	subjectTerminateSuffix     = ".terminate"
)

// ObservationSubject builds the observation publish subject for one worker.
func ObservationSubject(workerID string) string {
	return subjectWorkerPrefix + workerID + subjectObservationSuffix
}

// StatusSubject builds the terminal-status subject for one worker.
func StatusSubject(workerID string) string {
	return subjectWorkerPrefix + workerID + subjectStatusSuffix
}

// TerminateSubject builds the termination-request subject for one worker.
func TerminateSubject(workerID string) string {
	return subjectWorkerPrefix + workerID + subjectTerminateSuffix
}

// MessageBus carries observation payloads between workers and the collector.
// Implementations must be safe for concurrent use.
type MessageBus interface {
	// Publish sends a message to all subscribers of the given subject.
	// Returns immediately; does not wait for message delivery.
	Publish(ctx context.Context, subject string, data []byte) error

	// Subscribe registers a handler for messages on the given subject.
	// The handler is called in a separate goroutine for each message.
	// Supports NATS wildcards: "steward.worker.*" matches one token,
	// ">" matches the rest of the subject.
	Subscribe(ctx context.Context, subject string, handler MessageHandler) (Subscription, error)

	// Close shuts down the bus and all subscriptions.
	Close() error
}

// MessageHandler processes incoming messages.
type MessageHandler func(msg *Message)

// Message represents an incoming message from the bus.
type Message struct {
	Subject string
	Data    []byte
}

// Subscription represents an active subscription that can be cancelled.
type Subscription interface {
	// Unsubscribe stops receiving messages and cleans up resources.
	Unsubscribe() error

	// Subject returns the subject pattern this subscription is for.
	Subject() string
}
