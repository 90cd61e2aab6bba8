package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odvcencio/steward/pkg/improve"
	"github.com/odvcencio/steward/pkg/storage"
)

func (s *Server) handleListOutcomes(w http.ResponseWriter, r *http.Request) {
	status := storage.OutcomeStatus(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		writeError(w, http.StatusBadRequest, "unknown outcome status: "+string(status))
		return
	}
	outcomes, err := s.cfg.Store.Outcomes().List(status)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if outcomes == nil {
		outcomes = []*storage.Outcome{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"outcomes": outcomes})
}

// handleOutcomeStatus reports orchestration state alongside the health
// summary the dashboard shows.
func (s *Server) handleOutcomeStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	state, err := s.cfg.Orchestrator.State(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	health, err := s.cfg.Orchestrator.HealthReport(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	s.mu.Lock()
	handle, running := s.handles[id]
	s.mu.Unlock()
	orchestrating := false
	if running {
		select {
		case <-handle.Done():
		default:
			orchestrating = true
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"state":         state,
		"health":        health,
		"orchestrating": orchestrating,
	})
}

// handleOrchestrate starts a background run for the outcome. One run per
// outcome at a time; a second request while one is active is a conflict.
func (s *Server) handleOrchestrate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.cfg.Store.Outcomes().Get(id); err != nil {
		writeDomainError(w, err)
		return
	}

	s.mu.Lock()
	if handle, ok := s.handles[id]; ok {
		select {
		case <-handle.Done():
			delete(s.handles, id)
		default:
			s.mu.Unlock()
			writeError(w, http.StatusConflict, "outcome is already being orchestrated")
			return
		}
	}
	// Detached from the request context: the run outlives the HTTP call.
	handle := s.cfg.Orchestrator.Start(context.WithoutCancel(r.Context()), id, s.cfg.OrchestrateOptions)
	s.handles[id] = handle
	s.mu.Unlock()

	writeJSON(w, http.StatusAccepted, map[string]any{"outcome_id": id, "started": true})
}

type transitionRequest struct {
	Status storage.OutcomeStatus `json:"status"`
}

func (s *Server) handleOutcomeTransition(w http.ResponseWriter, r *http.Request) {
	var req transitionRequest
	if err := decodeBody(r, &req); err != nil {
		writeDomainError(w, err)
		return
	}

	id := chi.URLParam(r, "id")
	if err := s.cfg.Store.Outcomes().Transition(id, req.Status); err != nil {
		writeDomainError(w, err)
		return
	}
	outcome, err := s.cfg.Store.Outcomes().Get(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

func (s *Server) handleReview(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Tracker == nil {
		writeError(w, http.StatusServiceUnavailable, "convergence tracker not configured")
		return
	}
	id := chi.URLParam(r, "id")
	cycle, err := s.cfg.Tracker.Review(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	converged, err := s.cfg.Tracker.HasConverged(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cycle": cycle, "converged": converged})
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Analyzer == nil {
		writeError(w, http.StatusServiceUnavailable, "improvement analyzer not configured")
		return
	}
	var params improve.Params
	if err := decodeBody(r, &params); err != nil {
		writeDomainError(w, err)
		return
	}
	if params.LookbackDays <= 0 {
		params.LookbackDays = 30
	}
	if params.MaxProposals <= 0 {
		params.MaxProposals = 3
	}

	report, err := s.cfg.Analyzer.Analyze(r.Context(), params)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
