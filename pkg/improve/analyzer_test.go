package improve

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/odvcencio/steward/pkg/storage"
)

type similarityFunc func(ctx context.Context, a, b string) (float64, error)

func (f similarityFunc) Score(ctx context.Context, a, b string) (float64, error) {
	return f(ctx, a, b)
}

// prefixSimilarity treats questions sharing the first word as the same
// problem. Deterministic stand-in for the semantic capability.
var prefixSimilarity = similarityFunc(func(_ context.Context, a, b string) (float64, error) {
	if strings.Split(a, " ")[0] == strings.Split(b, " ")[0] {
		return 1, nil
	}
	return 0, nil
})

func setupAnalyzer(t *testing.T, sim SimilarityScorer) (*Analyzer, *storage.Store) {
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
	return NewAnalyzer(store, sim, nil), store
}

func seedEscalation(t *testing.T, store *storage.Store, id string, trigger storage.TriggerType, question string) {
	t.Helper()
	esc := &storage.Escalation{
		ID:        id,
		OutcomeID: "o1",
		Trigger:   storage.Trigger{Type: trigger},
		Question:  storage.Question{Text: question},
	}
	if err := store.Escalations().Create(esc); err != nil {
		t.Fatalf("seed escalation %s: %v", id, err)
	}
}

// Five escalations: three missing-capability with similar wording, two
// singleton trigger types. Exactly one cluster of size three, so even with
// maxProposals=3 only one proposal is produced.
func TestAnalyze_ClustersRecurringTriggers(t *testing.T) {
	analyzer, store := setupAnalyzer(t, prefixSimilarity)
	seedEscalation(t, store, "e1", storage.TriggerMissingCapability, "deploy tooling is missing for service A")
	seedEscalation(t, store, "e2", storage.TriggerMissingCapability, "deploy credentials are missing for service B")
	seedEscalation(t, store, "e3", storage.TriggerMissingCapability, "deploy target is unreachable for service C")
	seedEscalation(t, store, "e4", storage.TriggerBudget, "monthly spend exceeded")
	seedEscalation(t, store, "e5", storage.TriggerPolicy, "requested action violates data policy")

	report, err := analyzer.Analyze(context.Background(), Params{LookbackDays: 30, MaxProposals: 3})
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if len(report.Clusters) != 1 {
		t.Fatalf("clusters = %d, want 1 (singletons must not cluster)", len(report.Clusters))
	}
	c := report.Clusters[0]
	if c.TriggerType != storage.TriggerMissingCapability || c.Size() != 3 {
		t.Errorf("cluster = %s size %d, want missing-capability size 3", c.TriggerType, c.Size())
	}
	if len(report.Proposals) != 1 {
		t.Fatalf("proposals = %d, want 1", len(report.Proposals))
	}
	p := report.Proposals[0]
	if p.Cluster != c || len(p.Tasks) == 0 || p.Intent.Summary == "" || p.Approach.Summary == "" {
		t.Errorf("proposal incomplete: %+v", p)
	}
	if len(report.OutcomesCreated) != 0 {
		t.Errorf("outcomes created without AutoCreateOutcomes: %v", report.OutcomesCreated)
	}
}

// Dissimilar questions under the same trigger type split into sub-groups,
// and sub-groups below two members are dropped.
func TestAnalyze_SimilaritySplitsTriggerGroups(t *testing.T) {
	analyzer, store := setupAnalyzer(t, prefixSimilarity)
	seedEscalation(t, store, "e1", storage.TriggerAmbiguousRequirement, "latency target is unclear")
	seedEscalation(t, store, "e2", storage.TriggerAmbiguousRequirement, "latency budget is unstated")
	seedEscalation(t, store, "e3", storage.TriggerAmbiguousRequirement, "retention period is unspecified")

	report, err := analyzer.Analyze(context.Background(), Params{LookbackDays: 30, MaxProposals: 5})
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if len(report.Clusters) != 1 {
		t.Fatalf("clusters = %d, want 1", len(report.Clusters))
	}
	if got := report.Clusters[0].Size(); got != 2 {
		t.Errorf("cluster size = %d, want the 2 latency escalations", got)
	}
}

func TestAnalyze_EmptyWindow(t *testing.T) {
	analyzer, _ := setupAnalyzer(t, nil)

	report, err := analyzer.Analyze(context.Background(), Params{LookbackDays: 7, MaxProposals: 3})
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if len(report.Clusters) != 0 || len(report.Proposals) != 0 {
		t.Errorf("empty window produced %d clusters, %d proposals", len(report.Clusters), len(report.Proposals))
	}
}

// A member referencing a failed task bumps severity one tier above the
// size/frequency baseline.
func TestAnalyze_FailedTaskBumpsSeverity(t *testing.T) {
	analyzer, store := setupAnalyzer(t, nil)

	task := &storage.Task{ID: "t1", OutcomeID: "o1", Title: "flaky deploy", Phase: storage.PhaseExecution, Status: storage.TaskFailed}
	if err := store.Tasks().Create(task); err != nil {
		t.Fatalf("seed task: %v", err)
	}

	esc := &storage.Escalation{
		ID:        "e1",
		OutcomeID: "o1",
		Trigger:   storage.Trigger{Type: storage.TriggerExternalDependency, TaskID: "t1"},
		Question:  storage.Question{Text: "upstream registry flaked"},
	}
	if err := store.Escalations().Create(esc); err != nil {
		t.Fatalf("seed escalation: %v", err)
	}
	seedEscalation(t, store, "e2", storage.TriggerExternalDependency, "upstream registry flaked again")

	report, err := analyzer.Analyze(context.Background(), Params{LookbackDays: 30, MaxProposals: 1})
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if len(report.Clusters) != 1 {
		t.Fatalf("clusters = %d, want 1", len(report.Clusters))
	}
	c := report.Clusters[0]
	if !c.HasFailedTask {
		t.Error("cluster should reference the failed task")
	}
	if c.Severity != SeverityLow.bump() {
		t.Errorf("severity = %s, want one tier above the size-2 baseline", c.Severity)
	}
}

// Re-running the same window without outcome creation is idempotent, and
// with it creates one draft outcome per proposal with tasks pre-populated.
func TestAnalyze_AutoCreateOutcomes(t *testing.T) {
	analyzer, store := setupAnalyzer(t, nil)
	for i := 0; i < 3; i++ {
		seedEscalation(t, store, fmt.Sprintf("e%d", i), storage.TriggerMissingCapability, "deploy tooling missing")
	}

	params := Params{LookbackDays: 30, MaxProposals: 2}
	first, err := analyzer.Analyze(context.Background(), params)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	second, err := analyzer.Analyze(context.Background(), params)
	if err != nil {
		t.Fatalf("re-analyze: %v", err)
	}
	if len(first.Clusters) != len(second.Clusters) || len(first.Proposals) != len(second.Proposals) {
		t.Errorf("re-run diverged: %d/%d clusters, %d/%d proposals",
			len(first.Clusters), len(second.Clusters), len(first.Proposals), len(second.Proposals))
	}

	params.AutoCreateOutcomes = true
	report, err := analyzer.Analyze(context.Background(), params)
	if err != nil {
		t.Fatalf("analyze with creation: %v", err)
	}
	if len(report.OutcomesCreated) != 1 {
		t.Fatalf("outcomes created = %d, want 1", len(report.OutcomesCreated))
	}

	created, err := store.Outcomes().Get(report.OutcomesCreated[0])
	if err != nil {
		t.Fatalf("get created outcome: %v", err)
	}
	if created.Status != storage.OutcomeDraft {
		t.Errorf("created outcome status = %s, want draft", created.Status)
	}
	tasks, err := store.Tasks().ListByOutcome(created.ID, "", "")
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	if len(tasks) != len(report.Proposals[0].Tasks) {
		t.Errorf("tasks = %d, want %d pre-populated", len(tasks), len(report.Proposals[0].Tasks))
	}
}
