// Package convergence decides when an outcome is actually done. Each review
// cycle re-evaluates every completion criterion from scratch and turns
// failures into follow-up tasks; convergence additionally requires that no
// high-risk escalation is still waiting on a decision.
package convergence

import (
	"context"
	"fmt"

	"github.com/oklog/ulid/v2"

	"github.com/odvcencio/steward/pkg/errors"
	"github.com/odvcencio/steward/pkg/escalation"
	"github.com/odvcencio/steward/pkg/logging"
	"github.com/odvcencio/steward/pkg/storage"
)

// Evaluation is one criterion's verdict.
type Evaluation struct {
	Criterion string `json:"criterion"`
	Passed    bool   `json:"passed"`
	Reason    string `json:"reason,omitempty"`
}

// CriteriaEvaluator judges an outcome's completion criteria. Implementations
// are external reasoning capabilities: pluggable, fallible, and not assumed
// deterministic. Results are never cached; every cycle evaluates fresh.
type CriteriaEvaluator interface {
	Evaluate(ctx context.Context, outcome *storage.Outcome) ([]Evaluation, error)
}

// Tracker runs review cycles over outcomes.
type Tracker struct {
	outcomes    *storage.OutcomeStore
	tasks       *storage.TaskStore
	escalations *storage.EscalationStore
	cycles      *storage.ReviewCycleStore
	evaluator   CriteriaEvaluator
	logger      *logging.Logger
}

// NewTracker creates a tracker over the store.
func NewTracker(store *storage.Store, evaluator CriteriaEvaluator, logger *logging.Logger) *Tracker {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Tracker{
		outcomes:    store.Outcomes(),
		tasks:       store.Tasks(),
		escalations: store.Escalations(),
		cycles:      store.ReviewCycles(),
		evaluator:   evaluator,
		logger:      logger,
	}
}

// Review runs one review cycle: evaluate every criterion, create a follow-up
// execution task per failure, persist the cycle record. An evaluator failure
// aborts the cycle without persisting anything.
func (t *Tracker) Review(ctx context.Context, outcomeID string) (*storage.ReviewCycle, error) {
	outcome, err := t.outcomes.Get(outcomeID)
	if err != nil {
		return nil, err
	}

	evaluations, err := t.evaluator.Evaluate(ctx, outcome)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeExternalCapability, "evaluate criteria").
			WithContext("outcome_id", outcomeID)
	}

	var issues, created int
	for _, ev := range evaluations {
		if ev.Passed {
			continue
		}
		issues++
		task := &storage.Task{
			ID:          ulid.Make().String(),
			OutcomeID:   outcomeID,
			Title:       fmt.Sprintf("Address failing criterion: %s", ev.Criterion),
			Description: ev.Reason,
			Phase:       storage.PhaseExecution,
			Status:      storage.TaskPending,
			Priority:    7,
		}
		if err := t.tasks.Create(task); err != nil {
			return nil, err
		}
		created++
	}

	blocked, err := t.hasBlockingEscalation(outcomeID)
	if err != nil {
		return nil, err
	}

	cycle := &storage.ReviewCycle{
		OutcomeID:    outcomeID,
		IssuesFound:  issues,
		TasksCreated: created,
		Converged:    issues == 0 && !blocked,
	}
	if err := t.cycles.Create(cycle); err != nil {
		return nil, err
	}

	t.logger.Info(logging.CategoryConvergence, "review_complete", "", map[string]any{
		"outcome_id":    outcomeID,
		"sequence":      cycle.Sequence,
		"issues_found":  issues,
		"tasks_created": created,
		"converged":     cycle.Converged,
	})
	return cycle, nil
}

// HasConverged reports whether the latest review cycle found zero issues and
// no blocking escalation remains open. An outcome that was never reviewed
// has not converged.
func (t *Tracker) HasConverged(ctx context.Context, outcomeID string) (bool, error) {
	latest, err := t.cycles.Latest(outcomeID)
	if err != nil {
		return false, err
	}
	if latest == nil || latest.IssuesFound > 0 {
		return false, nil
	}
	blocked, err := t.hasBlockingEscalation(outcomeID)
	if err != nil {
		return false, err
	}
	return !blocked, nil
}

// hasBlockingEscalation reports whether any pending escalation sits at a
// risk tier that blocks convergence.
func (t *Tracker) hasBlockingEscalation(outcomeID string) (bool, error) {
	pending, err := t.escalations.ListPending(outcomeID)
	if err != nil {
		return false, err
	}
	for _, esc := range pending {
		if escalation.RiskFor(esc.Trigger.Type).Blocking() {
			return true, nil
		}
	}
	return false, nil
}
