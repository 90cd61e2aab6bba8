// Package orchestrator drives an outcome's tasks through their phases.
// Infrastructure tasks run before execution tasks; claims are atomic
// compare-and-sets so concurrent orchestrators never double-assign a task;
// worker pools are hard-bounded per phase, with excess ready tasks queueing
// as pending rather than being rejected.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/odvcencio/steward/pkg/errors"
	"github.com/odvcencio/steward/pkg/escalation"
	"github.com/odvcencio/steward/pkg/logging"
	"github.com/odvcencio/steward/pkg/observe"
	"github.com/odvcencio/steward/pkg/storage"
	"github.com/odvcencio/steward/pkg/telemetry"
)

// Options bounds one orchestration run.
type Options struct {
	MaxInfraWorkers int
	MaxExecWorkers  int
	// MaxTaskRetries is the per-task retry budget before a failure becomes
	// permanent.
	MaxTaskRetries int
	// ClaimInterval is how long the loop idles when nothing is claimable.
	ClaimInterval time.Duration
	// RunBudget bounds the whole synchronous run.
	RunBudget time.Duration
	// SkipValidation skips the outcome-status check, allowing draft
	// outcomes to be orchestrated directly.
	SkipValidation bool
}

func (o Options) withDefaults() Options {
	if o.MaxInfraWorkers <= 0 {
		o.MaxInfraWorkers = 2
	}
	if o.MaxExecWorkers <= 0 {
		o.MaxExecWorkers = 4
	}
	if o.MaxTaskRetries <= 0 {
		o.MaxTaskRetries = 3
	}
	if o.ClaimInterval <= 0 {
		o.ClaimInterval = 2 * time.Second
	}
	if o.RunBudget <= 0 {
		o.RunBudget = 4 * time.Hour
	}
	return o
}

// RunResult summarizes a finished run.
type RunResult struct {
	OutcomeID string            `json:"outcome_id"`
	Phase     storage.TaskPhase `json:"phase"`
	Completed int               `json:"completed"`
	Failed    int               `json:"failed"`
}

// State is a point-in-time view of an outcome's orchestration.
type State struct {
	OutcomeID             string            `json:"outcome_id"`
	CurrentPhase          storage.TaskPhase `json:"current_phase"`
	InfrastructureReady   bool              `json:"infrastructure_ready"`
	InfrastructureWorkers []*storage.Worker `json:"infrastructure_workers"`
	ExecutionWorkers      []*storage.Worker `json:"execution_workers"`
}

// Health reports an outcome's task and escalation standing.
type Health struct {
	OutcomeID         string                     `json:"outcome_id"`
	TasksByStatus     map[storage.TaskStatus]int `json:"tasks_by_status"`
	PermanentlyFailed []*storage.Task            `json:"permanently_failed,omitempty"`
	OpenEscalations   int                        `json:"open_escalations"`
	TotalCost         float64                    `json:"total_cost"`
}

// Orchestrator claims tasks and runs them through a worker collaborator.
// One orchestrator serves any number of outcomes; per-run state lives on
// the Handle, never on the orchestrator itself.
type Orchestrator struct {
	store  *storage.Store
	runner Runner
	engine *escalation.Engine
	logger *logging.Logger
}

// New creates an orchestrator.
func New(store *storage.Store, runner Runner, engine *escalation.Engine, logger *logging.Logger) *Orchestrator {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Orchestrator{store: store, runner: runner, engine: engine, logger: logger}
}

// ClaimNextTask atomically claims the highest-priority pending task in the
// phase. Execution-phase claims are locked until the outcome's
// infrastructure is ready. Returns (nil, nil) when nothing is claimable.
func (o *Orchestrator) ClaimNextTask(ctx context.Context, outcomeID string, phase storage.TaskPhase) (*storage.Task, error) {
	if !phase.Valid() {
		return nil, errors.Newf(errors.ErrCodeValidation, "invalid phase: %s", phase)
	}
	if phase == storage.PhaseExecution {
		outcome, err := o.store.Outcomes().Get(outcomeID)
		if err != nil {
			return nil, err
		}
		if !outcome.InfrastructureReady {
			return nil, errors.Conflict("execution phase is locked until infrastructure completes").
				WithContext("outcome_id", outcomeID)
		}
	}

	task, err := o.store.Tasks().ClaimNext(outcomeID, phase)
	if err != nil || task == nil {
		return task, err
	}
	telemetry.RecordTaskClaimed(string(phase))
	o.logger.Debug(logging.CategoryOrchestrator, "task_claimed", task.Title, map[string]any{
		"task_id":    task.ID,
		"outcome_id": outcomeID,
		"phase":      string(phase),
		"priority":   task.Priority,
	})
	return task, nil
}

// AdvancePhase flips infrastructure_ready once every infrastructure task is
// terminal. Returns whether execution is now unlocked.
func (o *Orchestrator) AdvancePhase(ctx context.Context, outcomeID string) (bool, error) {
	outcome, err := o.store.Outcomes().Get(outcomeID)
	if err != nil {
		return false, err
	}
	if outcome.InfrastructureReady {
		return true, nil
	}

	counts, err := o.store.Tasks().CountByStatus(outcomeID, storage.PhaseInfrastructure)
	if err != nil {
		return false, err
	}
	open := counts[storage.TaskPending] + counts[storage.TaskClaimed] + counts[storage.TaskRunning]
	if open > 0 {
		return false, nil
	}

	if err := o.store.Outcomes().SetInfrastructureReady(outcomeID, true); err != nil {
		return false, err
	}
	o.logger.Info(logging.CategoryOrchestrator, "phase_advanced", "", map[string]any{
		"outcome_id": outcomeID,
		"completed":  counts[storage.TaskCompleted],
		"failed":     counts[storage.TaskFailed],
	})
	return true, nil
}

// Run orchestrates the outcome synchronously: infrastructure first, then
// execution, blocking until both phases drain, ctx is cancelled, or the run
// budget is exhausted.
func (o *Orchestrator) Run(ctx context.Context, outcomeID string, opts Options) (*RunResult, error) {
	opts = opts.withDefaults()

	outcome, err := o.store.Outcomes().Get(outcomeID)
	if err != nil {
		return nil, err
	}
	if !opts.SkipValidation && outcome.Status != storage.OutcomeActive {
		return nil, errors.Newf(errors.ErrCodeValidation, "outcome %s is %s, not active", outcomeID, outcome.Status)
	}

	ctx, cancel := context.WithTimeout(ctx, opts.RunBudget)
	defer cancel()

	result := &RunResult{OutcomeID: outcomeID, Phase: storage.PhaseInfrastructure}
	if err := o.runPhase(ctx, outcomeID, storage.PhaseInfrastructure, opts.MaxInfraWorkers, opts, result); err != nil {
		return result, err
	}
	ready, err := o.AdvancePhase(ctx, outcomeID)
	if err != nil {
		return result, err
	}
	if !ready {
		return result, errors.New(errors.ErrCodeInternal, "infrastructure phase drained but did not unlock execution")
	}

	result.Phase = storage.PhaseExecution
	if err := o.runPhase(ctx, outcomeID, storage.PhaseExecution, opts.MaxExecWorkers, opts, result); err != nil {
		return result, err
	}

	o.logger.Info(logging.CategoryOrchestrator, "run_complete", "", map[string]any{
		"outcome_id": outcomeID,
		"completed":  result.Completed,
		"failed":     result.Failed,
	})
	return result, nil
}

// runPhase claims and executes tasks until the phase has no open tasks
// left. The semaphore is acquired before claiming, so excess ready tasks
// stay pending until a slot frees.
func (o *Orchestrator) runPhase(ctx context.Context, outcomeID string, phase storage.TaskPhase, maxWorkers int, opts Options, result *RunResult) error {
	sem := semaphore.NewWeighted(int64(maxWorkers))
	var wg sync.WaitGroup
	var mu sync.Mutex

	defer wg.Wait()
	for {
		if err := ctx.Err(); err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "orchestration interrupted")
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "orchestration interrupted")
		}

		task, err := o.store.Tasks().ClaimNext(outcomeID, phase)
		if err != nil {
			sem.Release(1)
			if errors.IsConflict(err) {
				continue
			}
			return err
		}
		if task == nil {
			sem.Release(1)
			drained, err := o.phaseDrained(outcomeID, phase)
			if err != nil {
				return err
			}
			if drained {
				return nil
			}
			select {
			case <-ctx.Done():
			case <-time.After(opts.ClaimInterval):
			}
			continue
		}

		wg.Add(1)
		go func(task *storage.Task) {
			defer wg.Done()
			defer sem.Release(1)
			completed := o.executeTask(ctx, task, opts)
			mu.Lock()
			if completed {
				result.Completed++
			} else {
				result.Failed++
			}
			mu.Unlock()
		}(task)
	}
}

// phaseDrained reports whether no open task remains in the phase. Claimed
// and running tasks count as open; permanently failed ones do not.
func (o *Orchestrator) phaseDrained(outcomeID string, phase storage.TaskPhase) (bool, error) {
	counts, err := o.store.Tasks().CountByStatus(outcomeID, phase)
	if err != nil {
		return false, err
	}
	return counts[storage.TaskPending]+counts[storage.TaskClaimed]+counts[storage.TaskRunning] == 0, nil
}

// executeTask runs one claimed task through the runner and settles its
// terminal state. Returns true when the task completed; false covers both a
// retryable failure (task back to pending) and a permanent one.
func (o *Orchestrator) executeTask(ctx context.Context, task *storage.Task, opts Options) bool {
	worker := &storage.Worker{
		ID:        uuid.New().String(),
		OutcomeID: task.OutcomeID,
		TaskID:    task.ID,
		Phase:     task.Phase,
		Status:    storage.WorkerRunning,
	}
	if err := o.store.Workers().Create(worker); err != nil {
		o.failTask(ctx, task, "create worker record: "+err.Error(), opts)
		return false
	}
	telemetry.WorkerStarted(string(task.Phase))
	defer telemetry.WorkerFinished(string(task.Phase))

	if err := o.store.Tasks().Transition(task.ID, storage.TaskClaimed, storage.TaskRunning); err != nil {
		o.store.Workers().Finish(worker.ID, storage.WorkerFailed)
		o.failTask(ctx, task, "transition to running: "+err.Error(), opts)
		return false
	}

	handle, err := o.runner.Spawn(ctx, worker.ID, task)
	if err != nil {
		o.store.Workers().Finish(worker.ID, storage.WorkerFailed)
		o.failTask(ctx, task, "spawn worker: "+err.Error(), opts)
		return false
	}

	var obsWG sync.WaitGroup
	obsWG.Add(1)
	go func() {
		defer obsWG.Done()
		o.consumeObservations(ctx, worker.ID, handle.Observations())
	}()

	status, waitErr := handle.Wait(ctx)
	obsWG.Wait()

	switch {
	case waitErr != nil:
		o.runner.Terminate(context.WithoutCancel(ctx), handle)
		o.store.Workers().Finish(worker.ID, storage.WorkerStopped)
		o.failTask(ctx, task, "worker interrupted: "+waitErr.Error(), opts)
		return false
	case status == storage.WorkerCompleted:
		o.store.Workers().Finish(worker.ID, storage.WorkerCompleted)
		if err := o.store.Tasks().Transition(task.ID, storage.TaskRunning, storage.TaskCompleted); err != nil {
			o.logger.Error(logging.CategoryOrchestrator, "task_settle_failed", err.Error(), map[string]any{
				"task_id": task.ID,
			})
			return false
		}
		telemetry.RecordTaskCompleted(string(task.Phase))
		return true
	default:
		o.store.Workers().Finish(worker.ID, storage.WorkerFailed)
		o.failTask(ctx, task, "worker reported "+string(status), opts)
		return false
	}
}

// failTask records one failure against the task's retry budget. Exhausting
// the budget makes the failure permanent and raises an escalation.
func (o *Orchestrator) failTask(ctx context.Context, task *storage.Task, reason string, opts Options) {
	status, err := o.store.Tasks().RecordFailure(task.ID, reason, opts.MaxTaskRetries)
	if err != nil {
		o.logger.Error(logging.CategoryOrchestrator, "record_failure_failed", err.Error(), map[string]any{
			"task_id": task.ID,
		})
		return
	}
	o.logger.Warn(logging.CategoryOrchestrator, "task_failed", reason, map[string]any{
		"task_id":    task.ID,
		"outcome_id": task.OutcomeID,
		"status":     string(status),
	})
	if status != storage.TaskFailed {
		return
	}
	telemetry.RecordTaskFailed(string(task.Phase))

	failed, err := o.store.Tasks().Get(task.ID)
	if err != nil {
		failed = task
	}
	if _, err := o.engine.RaiseRetryExhausted(ctx, failed); err != nil {
		o.logger.Error(logging.CategoryOrchestrator, "escalation_failed", err.Error(), map[string]any{
			"task_id": task.ID,
		})
	}
}

// consumeObservations accumulates cost onto the worker record and routes
// blocker and failure observations to the escalation engine.
func (o *Orchestrator) consumeObservations(ctx context.Context, workerID string, observations <-chan *observe.Observation) {
	for obs := range observations {
		switch obs.Kind {
		case observe.KindCost:
			if err := o.store.Workers().AddCost(workerID, obs.Cost); err != nil {
				o.logger.Warn(logging.CategoryOrchestrator, "cost_record_failed", err.Error(), map[string]any{
					"worker_id": workerID,
				})
				continue
			}
			telemetry.RecordWorkerCost(obs.Cost)
		case observe.KindBlocker, observe.KindFailure:
			if err := o.engine.HandleObservation(ctx, obs); err != nil {
				o.logger.Warn(logging.CategoryOrchestrator, "observation_escalation_failed", err.Error(), map[string]any{
					"worker_id": workerID,
				})
			}
		}
	}
}

// State returns the outcome's current phase and active workers.
func (o *Orchestrator) State(outcomeID string) (*State, error) {
	outcome, err := o.store.Outcomes().Get(outcomeID)
	if err != nil {
		return nil, err
	}
	infra, err := o.store.Workers().ListActive(outcomeID, storage.PhaseInfrastructure)
	if err != nil {
		return nil, err
	}
	exec, err := o.store.Workers().ListActive(outcomeID, storage.PhaseExecution)
	if err != nil {
		return nil, err
	}

	phase := storage.PhaseInfrastructure
	if outcome.InfrastructureReady {
		phase = storage.PhaseExecution
	}
	return &State{
		OutcomeID:             outcomeID,
		CurrentPhase:          phase,
		InfrastructureReady:   outcome.InfrastructureReady,
		InfrastructureWorkers: infra,
		ExecutionWorkers:      exec,
	}, nil
}

// HealthReport summarizes the outcome's tasks, permanent failures, open
// escalations, and accumulated spend.
func (o *Orchestrator) HealthReport(ctx context.Context, outcomeID string) (*Health, error) {
	if _, err := o.store.Outcomes().Get(outcomeID); err != nil {
		return nil, err
	}
	counts, err := o.store.Tasks().CountByStatus(outcomeID, "")
	if err != nil {
		return nil, err
	}
	failed, err := o.store.Tasks().ListByOutcome(outcomeID, "", storage.TaskFailed)
	if err != nil {
		return nil, err
	}
	pending, err := o.engine.ListPending(ctx, outcomeID)
	if err != nil {
		return nil, err
	}
	cost, err := o.store.Workers().TotalCost(outcomeID)
	if err != nil {
		return nil, err
	}
	return &Health{
		OutcomeID:         outcomeID,
		TasksByStatus:     counts,
		PermanentlyFailed: failed,
		OpenEscalations:   len(pending),
		TotalCost:         cost,
	}, nil
}
