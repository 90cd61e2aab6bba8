package storage

import (
	"strings"
	"time"
)

// OutcomeStatus is the lifecycle state of an outcome.
type OutcomeStatus string

const (
	OutcomeDraft    OutcomeStatus = "draft"
	OutcomeActive   OutcomeStatus = "active"
	OutcomeDormant  OutcomeStatus = "dormant"
	OutcomeAchieved OutcomeStatus = "achieved"
	OutcomeArchived OutcomeStatus = "archived"
)

// Valid reports whether the status is a known lifecycle state.
func (s OutcomeStatus) Valid() bool {
	switch s {
	case OutcomeDraft, OutcomeActive, OutcomeDormant, OutcomeAchieved, OutcomeArchived:
		return true
	}
	return false
}

// CanTransitionTo reports whether the lifecycle permits moving to next.
// Draft and dormant outcomes can activate; active outcomes can pause or be
// achieved; anything not archived can archive. Achieved and archived are
// terminal except for archiving an achieved outcome.
func (s OutcomeStatus) CanTransitionTo(next OutcomeStatus) bool {
	switch next {
	case OutcomeActive:
		return s == OutcomeDraft || s == OutcomeDormant
	case OutcomeDormant:
		return s == OutcomeActive
	case OutcomeAchieved:
		return s == OutcomeActive
	case OutcomeArchived:
		return s != OutcomeArchived
	}
	return false
}

// TaskPhase orders task execution: infrastructure before execution.
type TaskPhase string

const (
	PhaseInfrastructure TaskPhase = "infrastructure"
	PhaseExecution      TaskPhase = "execution"
)

// Valid reports whether the phase is known.
func (p TaskPhase) Valid() bool {
	return p == PhaseInfrastructure || p == PhaseExecution
}

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskClaimed   TaskStatus = "claimed"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// WorkerStatus is the lifecycle state of a worker instance.
type WorkerStatus string

const (
	WorkerRunning   WorkerStatus = "running"
	WorkerCompleted WorkerStatus = "completed"
	WorkerFailed    WorkerStatus = "failed"
	WorkerStopped   WorkerStatus = "stopped"
)

// EscalationStatus is the lifecycle state of an escalation. Answered and
// dismissed are terminal and mutually exclusive.
type EscalationStatus string

const (
	EscalationPending   EscalationStatus = "pending"
	EscalationAnswered  EscalationStatus = "answered"
	EscalationDismissed EscalationStatus = "dismissed"
)

// Terminal reports whether the escalation can no longer change.
func (s EscalationStatus) Terminal() bool {
	return s == EscalationAnswered || s == EscalationDismissed
}

// TriggerType classifies what raised an escalation. The set is closed: tags
// that arrive from workers with an unrecognized value parse to
// TriggerUnknown so they group loudly instead of silently mis-clustering.
type TriggerType string

const (
	TriggerMissingCapability    TriggerType = "missing-capability"
	TriggerRepeatedFailure      TriggerType = "repeated-failure"
	TriggerAmbiguousRequirement TriggerType = "ambiguous-requirement"
	TriggerExternalDependency   TriggerType = "external-dependency"
	TriggerBudget               TriggerType = "budget"
	TriggerPolicy               TriggerType = "policy"
	TriggerUnknown              TriggerType = "unknown"
)

// ParseTriggerType maps a wire tag onto the closed trigger set. Unrecognized
// tags become TriggerUnknown; the second return reports whether the tag was
// recognized so callers can log the miss.
func ParseTriggerType(tag string) (TriggerType, bool) {
	t := TriggerType(strings.ToLower(strings.TrimSpace(tag)))
	switch t {
	case TriggerMissingCapability, TriggerRepeatedFailure, TriggerAmbiguousRequirement,
		TriggerExternalDependency, TriggerBudget, TriggerPolicy:
		return t, true
	case TriggerUnknown:
		return TriggerUnknown, true
	}
	return TriggerUnknown, false
}

// Outcome is a top-level goal grouping tasks and workers.
type Outcome struct {
	ID                   string        `json:"id"`
	Name                 string        `json:"name"`
	Status               OutcomeStatus `json:"status"`
	ParentID             string        `json:"parent_id,omitempty"`
	InfrastructureReady  bool          `json:"infrastructure_ready"`
	AutoResolveMode      string        `json:"auto_resolve_mode"`
	AutoResolveThreshold float64       `json:"auto_resolve_threshold"`
	CreatedAt            time.Time     `json:"created_at"`
	UpdatedAt            time.Time     `json:"updated_at"`
}

// Task is an atomic unit of work scoped to a phase.
type Task struct {
	ID                   string     `json:"id"`
	OutcomeID            string     `json:"outcome_id"`
	Title                string     `json:"title"`
	Description          string     `json:"description,omitempty"`
	Phase                TaskPhase  `json:"phase"`
	Status               TaskStatus `json:"status"`
	Priority             int        `json:"priority"`
	RequiredCapabilities []string   `json:"required_capabilities,omitempty"`
	RetryCount           int        `json:"retry_count"`
	LastError            string     `json:"last_error,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// Worker is one execution agent instance processing exactly one task.
type Worker struct {
	ID        string       `json:"id"`
	OutcomeID string       `json:"outcome_id"`
	TaskID    string       `json:"task_id,omitempty"`
	Phase     TaskPhase    `json:"phase"`
	Status    WorkerStatus `json:"status"`
	Cost      float64      `json:"cost"`
	StartedAt time.Time    `json:"started_at"`
	EndedAt   *time.Time   `json:"ended_at,omitempty"`
}

// Trigger records what raised an escalation.
type Trigger struct {
	Type     TriggerType `json:"type"`
	TaskID   string      `json:"task_id,omitempty"`
	Evidence []string    `json:"evidence,omitempty"`
}

// Option is one selectable answer to an escalation question.
type Option struct {
	ID           string `json:"id"`
	Label        string `json:"label"`
	Description  string `json:"description,omitempty"`
	Implications string `json:"implications,omitempty"`
}

// Question is the decision put to a human or the auto-resolver. An empty
// option list signals that free text is expected.
type Question struct {
	Text    string   `json:"text"`
	Context string   `json:"context,omitempty"`
	Options []Option `json:"options,omitempty"`
}

// Answer records how an escalation was resolved.
type Answer struct {
	Option     string    `json:"option"`
	Context    string    `json:"context,omitempty"`
	AnsweredAt time.Time `json:"answered_at"`
	Machine    bool      `json:"machine,omitempty"`
	Confidence float64   `json:"confidence,omitempty"`
}

// Escalation is a recorded decision point requiring a choice among options.
type Escalation struct {
	ID            string           `json:"id"`
	OutcomeID     string           `json:"outcome_id"`
	Status        EscalationStatus `json:"status"`
	Trigger       Trigger          `json:"trigger"`
	Question      Question         `json:"question"`
	Answer        *Answer          `json:"answer,omitempty"`
	DismissReason string           `json:"dismiss_reason,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	ResolvedAt    *time.Time       `json:"resolved_at,omitempty"`
}

// ReviewCycle records one convergence review run over an outcome.
type ReviewCycle struct {
	ID           int64     `json:"id"`
	OutcomeID    string    `json:"outcome_id"`
	Sequence     int       `json:"sequence"`
	IssuesFound  int       `json:"issues_found"`
	TasksCreated int       `json:"tasks_created"`
	Converged    bool      `json:"converged"`
	CreatedAt    time.Time `json:"created_at"`
}
