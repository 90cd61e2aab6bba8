package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/odvcencio/steward/pkg/autoresolve"
	"github.com/odvcencio/steward/pkg/escalation"
	"github.com/odvcencio/steward/pkg/improve"
	"github.com/odvcencio/steward/pkg/observe"
	"github.com/odvcencio/steward/pkg/orchestrator"
	"github.com/odvcencio/steward/pkg/storage"
)

// immediateRunner completes every task instantly.
type immediateRunner struct{}

func (immediateRunner) Spawn(ctx context.Context, workerID string, task *storage.Task) (orchestrator.WorkerHandle, error) {
	return immediateHandle{workerID: workerID}, nil
}

func (immediateRunner) Terminate(ctx context.Context, handle orchestrator.WorkerHandle) error {
	return nil
}

type immediateHandle struct{ workerID string }

func (h immediateHandle) WorkerID() string { return h.workerID }

func (h immediateHandle) Wait(ctx context.Context) (storage.WorkerStatus, error) {
	return storage.WorkerCompleted, nil
}

func (h immediateHandle) Observations() <-chan *observe.Observation {
	ch := make(chan *observe.Observation)
	close(ch)
	return ch
}

type confidentScorer struct{}

func (confidentScorer) ScoreOptions(ctx context.Context, esc *storage.Escalation) ([]autoresolve.Score, error) {
	return []autoresolve.Score{{Option: "A", Confidence: 0.95}}, nil
}

func setupServer(t *testing.T) (*Server, *storage.Store) {
	t.Helper()
	store, err := storage.New(filepath.Join(t.TempDir(), "steward.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	o := &storage.Outcome{
		ID:                   "o1",
		Name:                 "test outcome",
		Status:               storage.OutcomeActive,
		AutoResolveMode:      "full-auto",
		AutoResolveThreshold: 0.8,
	}
	if err := store.Outcomes().Create(o); err != nil {
		t.Fatalf("failed to seed outcome: %v", err)
	}

	engine := escalation.NewEngine(store.Escalations(), nil)
	orch := orchestrator.New(store, immediateRunner{}, engine, nil)
	server := NewServer(ServerConfig{
		Store:        store,
		Orchestrator: orch,
		Escalations:  engine,
		Resolver:     autoresolve.NewResolver(engine, confidentScorer{}, 0, 0, nil),
		Analyzer:     improve.NewAnalyzer(store, nil, nil),
		OrchestrateOptions: orchestrator.Options{
			MaxInfraWorkers: 2,
			MaxExecWorkers:  2,
			ClaimInterval:   10 * time.Millisecond,
			RunBudget:       10 * time.Second,
		},
	})
	return server, store
}

func doRequest(t *testing.T, server *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode request: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	return rec
}

func seedEscalation(t *testing.T, store *storage.Store, id string) {
	t.Helper()
	esc := &storage.Escalation{
		ID:        id,
		OutcomeID: "o1",
		Trigger:   storage.Trigger{Type: storage.TriggerMissingCapability},
		Question: storage.Question{
			Text: "Which deploy mechanism?",
			Options: []storage.Option{
				{ID: "A", Label: "CLI"},
				{ID: "B", Label: "API"},
			},
		},
	}
	if err := store.Escalations().Create(esc); err != nil {
		t.Fatalf("seed escalation: %v", err)
	}
}

func TestHealthz(t *testing.T) {
	server, _ := setupServer(t)
	rec := doRequest(t, server, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestEscalationEndpoints(t *testing.T) {
	server, store := setupServer(t)
	seedEscalation(t, store, "e1")
	seedEscalation(t, store, "e2")

	rec := doRequest(t, server, http.MethodGet, "/api/v1/escalations?outcome_id=o1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d: %s", rec.Code, rec.Body.String())
	}
	var listResp struct {
		Escalations []*storage.Escalation `json:"escalations"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &listResp); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(listResp.Escalations) != 2 {
		t.Fatalf("escalations = %d, want 2", len(listResp.Escalations))
	}

	rec = doRequest(t, server, http.MethodPost, "/api/v1/escalations/e1/answer",
		answerRequest{SelectedOption: "B", AdditionalContext: "credentials exist"})
	if rec.Code != http.StatusOK {
		t.Fatalf("answer status = %d: %s", rec.Code, rec.Body.String())
	}
	var answered storage.Escalation
	if err := json.Unmarshal(rec.Body.Bytes(), &answered); err != nil {
		t.Fatalf("decode answer: %v", err)
	}
	if answered.Status != storage.EscalationAnswered || answered.Answer.Option != "B" {
		t.Errorf("answered = %+v", answered)
	}

	// Unknown option is a 400, terminal re-answer a 409, missing id a 404.
	rec = doRequest(t, server, http.MethodPost, "/api/v1/escalations/e2/answer",
		answerRequest{SelectedOption: "Z"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid option status = %d", rec.Code)
	}
	rec = doRequest(t, server, http.MethodPost, "/api/v1/escalations/e1/answer",
		answerRequest{SelectedOption: "A"})
	if rec.Code != http.StatusConflict {
		t.Errorf("re-answer status = %d", rec.Code)
	}
	rec = doRequest(t, server, http.MethodPost, "/api/v1/escalations/missing/dismiss",
		dismissRequest{Reason: "noise"})
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing dismiss status = %d", rec.Code)
	}

	rec = doRequest(t, server, http.MethodPost, "/api/v1/escalations/e2/dismiss",
		dismissRequest{Reason: "superseded"})
	if rec.Code != http.StatusOK {
		t.Fatalf("dismiss status = %d: %s", rec.Code, rec.Body.String())
	}
}

func TestAutoResolveEndpoint(t *testing.T) {
	server, store := setupServer(t)
	seedEscalation(t, store, "e1")

	rec := doRequest(t, server, http.MethodPost, "/api/v1/escalations/resolve",
		autoResolveRequest{OutcomeID: "o1"})
	if rec.Code != http.StatusOK {
		t.Fatalf("resolve status = %d: %s", rec.Code, rec.Body.String())
	}
	var stats autoresolve.Stats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.Resolved != 1 || stats.Total != 1 {
		t.Errorf("stats = %+v, want 1/1", stats)
	}
}

func TestOrchestrateEndpoint(t *testing.T) {
	server, store := setupServer(t)
	task := &storage.Task{ID: "t1", OutcomeID: "o1", Title: "provision", Phase: storage.PhaseInfrastructure, Status: storage.TaskPending, Priority: 5}
	if err := store.Tasks().Create(task); err != nil {
		t.Fatalf("seed task: %v", err)
	}

	rec := doRequest(t, server, http.MethodPost, "/api/v1/outcomes/o1/orchestrate", nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("orchestrate status = %d: %s", rec.Code, rec.Body.String())
	}

	server.mu.Lock()
	handle := server.handles["o1"]
	server.mu.Unlock()
	select {
	case <-handle.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("run did not finish")
	}
	if err := handle.Err(); err != nil {
		t.Fatalf("handle err: %v", err)
	}

	rec = doRequest(t, server, http.MethodGet, "/api/v1/outcomes/o1/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status endpoint = %d: %s", rec.Code, rec.Body.String())
	}
	var statusResp struct {
		Health orchestrator.Health `json:"health"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &statusResp); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if statusResp.Health.TasksByStatus[storage.TaskCompleted] != 1 {
		t.Errorf("health = %+v, want t1 completed", statusResp.Health)
	}

	rec = doRequest(t, server, http.MethodPost, "/api/v1/outcomes/missing/orchestrate", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing outcome status = %d", rec.Code)
	}
}

func TestAnalyzeEndpoint(t *testing.T) {
	server, store := setupServer(t)
	for _, id := range []string{"e1", "e2"} {
		seedEscalation(t, store, id)
	}

	rec := doRequest(t, server, http.MethodPost, "/api/v1/improvements/analyze",
		improve.Params{LookbackDays: 30, MaxProposals: 2})
	if rec.Code != http.StatusOK {
		t.Fatalf("analyze status = %d: %s", rec.Code, rec.Body.String())
	}
	var report improve.Report
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if len(report.Clusters) != 1 {
		t.Errorf("clusters = %d, want 1", len(report.Clusters))
	}
}

func TestOutcomeTransitionEndpoint(t *testing.T) {
	server, _ := setupServer(t)

	rec := doRequest(t, server, http.MethodPost, "/api/v1/outcomes/o1/transition",
		transitionRequest{Status: storage.OutcomeDormant})
	if rec.Code != http.StatusOK {
		t.Fatalf("transition status = %d: %s", rec.Code, rec.Body.String())
	}

	// Dormant outcomes cannot be achieved directly.
	rec = doRequest(t, server, http.MethodPost, "/api/v1/outcomes/o1/transition",
		transitionRequest{Status: storage.OutcomeAchieved})
	if rec.Code != http.StatusBadRequest && rec.Code != http.StatusConflict {
		t.Errorf("illegal transition status = %d", rec.Code)
	}
}
