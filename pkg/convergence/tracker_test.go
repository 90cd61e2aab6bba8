package convergence

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/odvcencio/steward/pkg/errors"
	"github.com/odvcencio/steward/pkg/storage"
)

type evaluatorFunc func(ctx context.Context, outcome *storage.Outcome) ([]Evaluation, error)

func (f evaluatorFunc) Evaluate(ctx context.Context, outcome *storage.Outcome) ([]Evaluation, error) {
	return f(ctx, outcome)
}

func fixedEvaluator(evals ...Evaluation) CriteriaEvaluator {
	return evaluatorFunc(func(context.Context, *storage.Outcome) ([]Evaluation, error) {
		return evals, nil
	})
}

func setupTracker(t *testing.T, evaluator CriteriaEvaluator) (*Tracker, *storage.Store) {
	t.Helper()
	store, err := storage.New(filepath.Join(t.TempDir(), "steward.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	o := &storage.Outcome{ID: "o1", Name: "test outcome", Status: storage.OutcomeActive, AutoResolveMode: "manual"}
	if err := store.Outcomes().Create(o); err != nil {
		t.Fatalf("failed to seed outcome: %v", err)
	}
	return NewTracker(store, evaluator, nil), store
}

func TestReview_CreatesFollowUpTasks(t *testing.T) {
	tracker, store := setupTracker(t, fixedEvaluator(
		Evaluation{Criterion: "API responds under 200ms", Passed: true},
		Evaluation{Criterion: "all endpoints documented", Passed: false, Reason: "3 endpoints undocumented"},
		Evaluation{Criterion: "error budget intact", Passed: false, Reason: "budget exhausted"},
	))

	cycle, err := tracker.Review(context.Background(), "o1")
	if err != nil {
		t.Fatalf("review: %v", err)
	}
	if cycle.IssuesFound != 2 || cycle.TasksCreated != 2 {
		t.Errorf("cycle = %+v, want 2 issues and 2 tasks", cycle)
	}
	if cycle.Converged {
		t.Error("cycle with issues must not converge")
	}
	if cycle.Sequence != 1 {
		t.Errorf("sequence = %d, want 1", cycle.Sequence)
	}

	tasks, err := store.Tasks().ListByOutcome("o1", storage.PhaseExecution, storage.TaskPending)
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("follow-up tasks = %d, want 2", len(tasks))
	}

	converged, err := tracker.HasConverged(context.Background(), "o1")
	if err != nil {
		t.Fatalf("has converged: %v", err)
	}
	if converged {
		t.Error("outcome with open issues reported converged")
	}
}

// Each cycle re-evaluates from scratch; once the evaluator passes everything
// the next cycle converges and sequences keep incrementing.
func TestReview_ConvergesWhenCriteriaPass(t *testing.T) {
	pass := false
	tracker, _ := setupTracker(t, evaluatorFunc(func(context.Context, *storage.Outcome) ([]Evaluation, error) {
		if !pass {
			return []Evaluation{{Criterion: "docs complete", Passed: false, Reason: "missing"}}, nil
		}
		return []Evaluation{{Criterion: "docs complete", Passed: true}}, nil
	}))
	ctx := context.Background()

	if _, err := tracker.Review(ctx, "o1"); err != nil {
		t.Fatalf("first review: %v", err)
	}
	pass = true
	cycle, err := tracker.Review(ctx, "o1")
	if err != nil {
		t.Fatalf("second review: %v", err)
	}
	if !cycle.Converged || cycle.Sequence != 2 {
		t.Errorf("cycle = %+v, want converged sequence 2", cycle)
	}

	converged, err := tracker.HasConverged(ctx, "o1")
	if err != nil {
		t.Fatalf("has converged: %v", err)
	}
	if !converged {
		t.Error("clean cycle with no escalations should converge")
	}
}

// An open high-risk escalation blocks convergence even with zero issues; a
// low-risk one does not.
func TestHasConverged_BlockingEscalations(t *testing.T) {
	tracker, store := setupTracker(t, fixedEvaluator(Evaluation{Criterion: "done", Passed: true}))
	ctx := context.Background()

	esc := &storage.Escalation{
		ID:        "e1",
		OutcomeID: "o1",
		Trigger:   storage.Trigger{Type: storage.TriggerPolicy},
		Question:  storage.Question{Text: "may we retain this data?"},
	}
	if err := store.Escalations().Create(esc); err != nil {
		t.Fatalf("seed escalation: %v", err)
	}

	cycle, err := tracker.Review(ctx, "o1")
	if err != nil {
		t.Fatalf("review: %v", err)
	}
	if cycle.Converged {
		t.Error("open policy escalation must block convergence")
	}
	if converged, _ := tracker.HasConverged(ctx, "o1"); converged {
		t.Error("HasConverged ignored the open policy escalation")
	}

	if err := store.Escalations().Dismiss("e1", "resolved offline"); err != nil {
		t.Fatalf("dismiss: %v", err)
	}
	low := &storage.Escalation{
		ID:        "e2",
		OutcomeID: "o1",
		Trigger:   storage.Trigger{Type: storage.TriggerAmbiguousRequirement},
		Question:  storage.Question{Text: "which shade of blue?"},
	}
	if err := store.Escalations().Create(low); err != nil {
		t.Fatalf("seed low-risk escalation: %v", err)
	}

	if converged, err := tracker.HasConverged(ctx, "o1"); err != nil || !converged {
		t.Errorf("low-risk escalation should not block convergence: converged=%v err=%v", converged, err)
	}
}

func TestReview_EvaluatorFailure(t *testing.T) {
	tracker, store := setupTracker(t, evaluatorFunc(func(context.Context, *storage.Outcome) ([]Evaluation, error) {
		return nil, fmt.Errorf("judgment model unavailable")
	}))

	_, err := tracker.Review(context.Background(), "o1")
	if !errors.IsExternalCapability(err) {
		t.Fatalf("err = %v, want external-capability", err)
	}
	latest, err := store.ReviewCycles().Latest("o1")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest != nil {
		t.Errorf("failed review persisted a cycle: %+v", latest)
	}
}

func TestReview_UnknownOutcome(t *testing.T) {
	tracker, _ := setupTracker(t, fixedEvaluator())
	if _, err := tracker.Review(context.Background(), "missing"); !errors.IsNotFound(err) {
		t.Errorf("err = %v, want not-found", err)
	}
	if converged, err := tracker.HasConverged(context.Background(), "missing"); err != nil || converged {
		t.Errorf("never-reviewed outcome: converged=%v err=%v", converged, err)
	}
}
