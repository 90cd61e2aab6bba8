// Package escalation manages decision points raised during orchestration.
// An escalation is created pending and moves exactly once, to answered or
// dismissed. The engine layers option validation and question synthesis over
// the storage compare-and-set primitives, so concurrent resolvers can never
// double-resolve a record.
package escalation

import (
	"context"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/odvcencio/steward/pkg/errors"
	"github.com/odvcencio/steward/pkg/logging"
	"github.com/odvcencio/steward/pkg/observe"
	"github.com/odvcencio/steward/pkg/storage"
	"github.com/odvcencio/steward/pkg/telemetry"
)

// Engine raises and resolves escalations.
type Engine struct {
	store  *storage.EscalationStore
	logger *logging.Logger
}

// NewEngine creates an escalation engine over the given store.
func NewEngine(store *storage.EscalationStore, logger *logging.Logger) *Engine {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Engine{store: store, logger: logger}
}

// Create persists a new pending escalation for the outcome. The trigger type
// must already be parsed; use storage.ParseTriggerType for wire tags.
func (e *Engine) Create(ctx context.Context, outcomeID string, trigger storage.Trigger, question storage.Question) (*storage.Escalation, error) {
	if outcomeID == "" {
		return nil, errors.Validation("outcome id is required")
	}
	if question.Text == "" {
		return nil, errors.Validation("question text is required")
	}
	if trigger.Type == "" {
		trigger.Type = storage.TriggerUnknown
	}

	esc := &storage.Escalation{
		ID:        ulid.Make().String(),
		OutcomeID: outcomeID,
		Status:    storage.EscalationPending,
		Trigger:   trigger,
		Question:  question,
	}
	if err := e.store.Create(esc); err != nil {
		return nil, err
	}

	telemetry.RecordEscalationRaised(string(trigger.Type))
	e.logger.Info(logging.CategoryEscalation, "escalation_created", question.Text, map[string]any{
		"escalation_id": esc.ID,
		"outcome_id":    outcomeID,
		"trigger_type":  string(trigger.Type),
		"task_id":       trigger.TaskID,
	})
	return esc, nil
}

// Answer resolves a pending escalation with a human-selected option.
func (e *Engine) Answer(ctx context.Context, id, selected, additional string) (*storage.Escalation, error) {
	return e.AnswerWith(ctx, id, &storage.Answer{
		Option:  selected,
		Context: additional,
	})
}

// AnswerWith resolves a pending escalation with a fully-formed answer. The
// auto-resolver uses this path to tag machine answers with confidence. When
// the question carries options, the chosen option must be one of them; the
// check and the write both leave the record untouched on failure.
func (e *Engine) AnswerWith(ctx context.Context, id string, answer *storage.Answer) (*storage.Escalation, error) {
	if answer == nil || answer.Option == "" {
		return nil, errors.Validation("answer option is required")
	}

	esc, err := e.store.Get(id)
	if err != nil {
		return nil, err
	}
	if len(esc.Question.Options) > 0 && !hasOption(esc.Question.Options, answer.Option) {
		return nil, errors.Newf(errors.ErrCodeValidation, "option %q is not among the question's options", answer.Option).
			WithContext("escalation_id", id)
	}

	if err := e.store.Answer(id, answer); err != nil {
		return nil, err
	}

	e.logger.Info(logging.CategoryEscalation, "escalation_answered", answer.Option, map[string]any{
		"escalation_id": id,
		"outcome_id":    esc.OutcomeID,
		"machine":       answer.Machine,
		"confidence":    answer.Confidence,
	})
	return e.store.Get(id)
}

// Dismiss resolves a pending escalation without an answer.
func (e *Engine) Dismiss(ctx context.Context, id, reason string) error {
	if err := e.store.Dismiss(id, reason); err != nil {
		return err
	}
	e.logger.Info(logging.CategoryEscalation, "escalation_dismissed", reason, map[string]any{
		"escalation_id": id,
	})
	return nil
}

// Get retrieves an escalation by ID.
func (e *Engine) Get(ctx context.Context, id string) (*storage.Escalation, error) {
	return e.store.Get(id)
}

// ListPending returns pending escalations oldest first. Empty outcomeID
// spans all outcomes.
func (e *Engine) ListPending(ctx context.Context, outcomeID string) ([]*storage.Escalation, error) {
	return e.store.ListPending(outcomeID)
}

// ResolutionTime returns how long the escalation waited for its answer. The
// second return is false for records that are not answered.
func ResolutionTime(esc *storage.Escalation) (time.Duration, bool) {
	if esc == nil || esc.Status != storage.EscalationAnswered || esc.ResolvedAt == nil {
		return 0, false
	}
	return esc.ResolvedAt.Sub(esc.CreatedAt), true
}

// RaiseRetryExhausted escalates a task that burned through its retry budget.
func (e *Engine) RaiseRetryExhausted(ctx context.Context, task *storage.Task) (*storage.Escalation, error) {
	evidence := []string{fmt.Sprintf("task %s failed %d times", task.ID, task.RetryCount)}
	if task.LastError != "" {
		evidence = append(evidence, task.LastError)
	}
	return e.Create(ctx, task.OutcomeID,
		storage.Trigger{
			Type:     storage.TriggerRepeatedFailure,
			TaskID:   task.ID,
			Evidence: evidence,
		},
		storage.Question{
			Text:    fmt.Sprintf("Task %q has exhausted its retry budget. How should it proceed?", task.Title),
			Context: task.LastError,
			Options: []storage.Option{
				{ID: "retry", Label: "Reset and retry", Description: "Clear the retry count and re-queue the task"},
				{ID: "skip", Label: "Skip", Description: "Leave the task failed and continue the outcome"},
				{ID: "abort", Label: "Abort outcome", Implications: "All remaining tasks stay pending"},
			},
		},
	)
}

// HandleObservation implements observe.Sink. Blocker and failure
// observations become pending escalations; other kinds pass through.
func (e *Engine) HandleObservation(ctx context.Context, obs *observe.Observation) error {
	switch obs.Kind {
	case observe.KindBlocker, observe.KindFailure:
	default:
		return nil
	}
	if obs.OutcomeID == "" {
		return errors.Validation("observation missing outcome_id")
	}

	trigger := storage.Trigger{
		Type:     e.parseTrigger(obs),
		TaskID:   obs.TaskID,
		Evidence: obs.Evidence,
	}
	question := storage.Question{
		Text:    obs.Message,
		Context: fmt.Sprintf("raised by worker %s on task %s", obs.WorkerID, obs.TaskID),
	}
	if question.Text == "" {
		question.Text = fmt.Sprintf("Worker %s reported a %s on task %s", obs.WorkerID, obs.Kind, obs.TaskID)
	}

	_, err := e.Create(ctx, obs.OutcomeID, trigger, question)
	return err
}

// parseTrigger maps the observation's wire tag onto the closed trigger set,
// logging unrecognized tags so new trigger types fail loudly. Untagged
// failures default to repeated-failure.
func (e *Engine) parseTrigger(obs *observe.Observation) storage.TriggerType {
	if obs.TriggerTag == "" && obs.Kind == observe.KindFailure {
		return storage.TriggerRepeatedFailure
	}
	t, known := storage.ParseTriggerType(obs.TriggerTag)
	if !known {
		e.logger.Warn(logging.CategoryEscalation, "trigger_tag_unknown", obs.TriggerTag, map[string]any{
			"worker_id": obs.WorkerID,
			"task_id":   obs.TaskID,
			"kind":      string(obs.Kind),
		})
	}
	return t
}

func hasOption(options []storage.Option, id string) bool {
	for _, opt := range options {
		if opt.ID == id {
			return true
		}
	}
	return false
}
