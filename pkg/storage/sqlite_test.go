package storage

import (
	"path/filepath"
	"testing"
	"time"
)

// setupStore creates a store backed by a temp database.
func setupStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(filepath.Join(t.TempDir(), "steward.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// seedOutcome creates an active outcome for tests that need one.
func seedOutcome(t *testing.T, store *Store, id string) *Outcome {
	t.Helper()
	o := &Outcome{
		ID:                   id,
		Name:                 "test outcome " + id,
		Status:               OutcomeActive,
		AutoResolveMode:      "manual",
		AutoResolveThreshold: 0.8,
	}
	if err := store.Outcomes().Create(o); err != nil {
		t.Fatalf("failed to seed outcome: %v", err)
	}
	return o
}

func seedTask(t *testing.T, store *Store, id, outcomeID string, phase TaskPhase, priority int) *Task {
	t.Helper()
	task := &Task{
		ID:        id,
		OutcomeID: outcomeID,
		Title:     "task " + id,
		Phase:     phase,
		Priority:  priority,
	}
	if err := store.Tasks().Create(task); err != nil {
		t.Fatalf("failed to seed task: %v", err)
	}
	return task
}

func TestNew_RunsMigrations(t *testing.T) {
	store := setupStore(t)

	version, err := store.GetSchemaVersion()
	if err != nil {
		t.Fatalf("GetSchemaVersion failed: %v", err)
	}
	if version < 2 {
		t.Errorf("schema version = %d, want >= 2", version)
	}
}

func TestNew_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "steward.db")

	store, err := New(path)
	if err != nil {
		t.Fatalf("first open failed: %v", err)
	}
	if err := store.Outcomes().Create(&Outcome{ID: "o1", Name: "n", Status: OutcomeDraft}); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	store.Close()

	// Reopening must be idempotent with respect to migrations.
	store2, err := New(path)
	if err != nil {
		t.Fatalf("second open failed: %v", err)
	}
	defer store2.Close()

	o, err := store2.Outcomes().Get("o1")
	if err != nil {
		t.Fatalf("get after reopen failed: %v", err)
	}
	if o.Name != "n" {
		t.Errorf("Name = %s, want n", o.Name)
	}
}

func TestReviewCycles_SequenceAssignment(t *testing.T) {
	store := setupStore(t)
	seedOutcome(t, store, "o1")
	cycles := store.ReviewCycles()

	first := &ReviewCycle{OutcomeID: "o1", IssuesFound: 2, TasksCreated: 2}
	if err := cycles.Create(first); err != nil {
		t.Fatalf("create first cycle: %v", err)
	}
	if first.Sequence != 1 {
		t.Errorf("first sequence = %d, want 1", first.Sequence)
	}

	second := &ReviewCycle{OutcomeID: "o1", IssuesFound: 0, Converged: true}
	if err := cycles.Create(second); err != nil {
		t.Fatalf("create second cycle: %v", err)
	}
	if second.Sequence != 2 {
		t.Errorf("second sequence = %d, want 2", second.Sequence)
	}

	latest, err := cycles.Latest("o1")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest == nil || latest.Sequence != 2 || !latest.Converged {
		t.Errorf("latest = %+v, want sequence 2 converged", latest)
	}

	history, err := cycles.History("o1")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 {
		t.Errorf("history length = %d, want 2", len(history))
	}
}

func TestReviewCycles_LatestEmpty(t *testing.T) {
	store := setupStore(t)
	seedOutcome(t, store, "o1")

	latest, err := store.ReviewCycles().Latest("o1")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest != nil {
		t.Errorf("expected nil for unreviewed outcome, got %+v", latest)
	}
}

func TestWorkers_CostAccumulation(t *testing.T) {
	store := setupStore(t)
	seedOutcome(t, store, "o1")
	seedTask(t, store, "t1", "o1", PhaseInfrastructure, 0)
	workers := store.Workers()

	w := &Worker{ID: "w1", OutcomeID: "o1", TaskID: "t1", Phase: PhaseInfrastructure}
	if err := workers.Create(w); err != nil {
		t.Fatalf("create worker: %v", err)
	}

	if err := workers.AddCost("w1", 0.25); err != nil {
		t.Fatalf("add cost: %v", err)
	}
	if err := workers.AddCost("w1", 0.50); err != nil {
		t.Fatalf("add cost: %v", err)
	}

	got, err := workers.Get("w1")
	if err != nil {
		t.Fatalf("get worker: %v", err)
	}
	if got.Cost != 0.75 {
		t.Errorf("Cost = %v, want 0.75", got.Cost)
	}

	total, err := workers.TotalCost("o1")
	if err != nil {
		t.Fatalf("total cost: %v", err)
	}
	if total != 0.75 {
		t.Errorf("TotalCost = %v, want 0.75", total)
	}
}

func TestWorkers_FinishIsTerminal(t *testing.T) {
	store := setupStore(t)
	seedOutcome(t, store, "o1")
	seedTask(t, store, "t1", "o1", PhaseInfrastructure, 0)
	workers := store.Workers()

	w := &Worker{ID: "w1", OutcomeID: "o1", TaskID: "t1", Phase: PhaseInfrastructure}
	if err := workers.Create(w); err != nil {
		t.Fatalf("create worker: %v", err)
	}

	if err := workers.Finish("w1", WorkerCompleted); err != nil {
		t.Fatalf("finish: %v", err)
	}

	got, _ := workers.Get("w1")
	if got.Status != WorkerCompleted {
		t.Errorf("Status = %s, want completed", got.Status)
	}
	if got.EndedAt == nil || got.EndedAt.After(time.Now().Add(time.Minute)) {
		t.Error("EndedAt should be stamped")
	}

	// Finishing twice is a conflict, not an overwrite.
	if err := workers.Finish("w1", WorkerFailed); err == nil {
		t.Error("second finish should fail")
	}
	got, _ = workers.Get("w1")
	if got.Status != WorkerCompleted {
		t.Errorf("Status after failed re-finish = %s, want completed", got.Status)
	}
}
