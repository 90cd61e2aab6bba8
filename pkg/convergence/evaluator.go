package convergence

import (
	"context"
	"fmt"

	"github.com/odvcencio/steward/pkg/storage"
)

// TaskCompletionEvaluator is the built-in evaluator: it derives completion
// criteria from the outcome's task ledger. External judgment capabilities
// can replace it for semantic criteria.
type TaskCompletionEvaluator struct {
	tasks *storage.TaskStore
}

// NewTaskCompletionEvaluator creates the task-ledger evaluator.
func NewTaskCompletionEvaluator(tasks *storage.TaskStore) *TaskCompletionEvaluator {
	return &TaskCompletionEvaluator{tasks: tasks}
}

// Evaluate checks that every phase has drained and nothing failed
// permanently.
func (e *TaskCompletionEvaluator) Evaluate(ctx context.Context, outcome *storage.Outcome) ([]Evaluation, error) {
	counts, err := e.tasks.CountByStatus(outcome.ID, "")
	if err != nil {
		return nil, err
	}

	open := counts[storage.TaskPending] + counts[storage.TaskClaimed] + counts[storage.TaskRunning]
	evaluations := []Evaluation{
		{
			Criterion: "all tasks reached a terminal state",
			Passed:    open == 0,
			Reason:    fmt.Sprintf("%d tasks still open", open),
		},
		{
			Criterion: "no task failed permanently",
			Passed:    counts[storage.TaskFailed] == 0,
			Reason:    fmt.Sprintf("%d tasks permanently failed", counts[storage.TaskFailed]),
		},
	}
	for i := range evaluations {
		if evaluations[i].Passed {
			evaluations[i].Reason = ""
		}
	}
	return evaluations, nil
}
