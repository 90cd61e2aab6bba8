// Package observe receives structured progress and failure signals from
// workers during task execution and fans them out to interested subsystems.
package observe

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind classifies an observation.
type Kind string

const (
	// KindProgress reports normal forward progress.
	KindProgress Kind = "progress"
	// KindDiscovery reports something learned that may affect planning.
	KindDiscovery Kind = "discovery"
	// KindBlocker reports that the worker cannot proceed without a decision.
	KindBlocker Kind = "blocker"
	// KindFailure reports a task failure with evidence.
	KindFailure Kind = "failure"
	// KindCost reports spend accumulated since the last cost observation.
	KindCost Kind = "cost"
)

// Valid reports whether the kind is known.
func (k Kind) Valid() bool {
	switch k {
	case KindProgress, KindDiscovery, KindBlocker, KindFailure, KindCost:
		return true
	}
	return false
}

// Observation is one structured signal from a worker.
type Observation struct {
	WorkerID  string    `json:"worker_id"`
	TaskID    string    `json:"task_id"`
	OutcomeID string    `json:"outcome_id"`
	Kind      Kind      `json:"kind"`
	Message   string    `json:"message,omitempty"`
	Evidence  []string  `json:"evidence,omitempty"`
	// TriggerTag carries the raw trigger classification for blocker and
	// failure observations. Parsed by the escalation engine, not here.
	TriggerTag string `json:"trigger_tag,omitempty"`
	// Cost is the incremental spend for cost observations.
	Cost float64   `json:"cost,omitempty"`
	At   time.Time `json:"at"`
}

// Encode serializes the observation for the bus.
func (o *Observation) Encode() ([]byte, error) {
	if o.At.IsZero() {
		o.At = time.Now().UTC()
	}
	data, err := json.Marshal(o)
	if err != nil {
		return nil, fmt.Errorf("encode observation: %w", err)
	}
	return data, nil
}

// Decode parses an observation off the bus.
func Decode(data []byte) (*Observation, error) {
	var o Observation
	if err := json.Unmarshal(data, &o); err != nil {
		return nil, fmt.Errorf("decode observation: %w", err)
	}
	if o.WorkerID == "" {
		return nil, fmt.Errorf("observation missing worker_id")
	}
	if !o.Kind.Valid() {
		return nil, fmt.Errorf("observation has unknown kind %q", o.Kind)
	}
	return &o, nil
}
