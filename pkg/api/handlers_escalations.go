package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odvcencio/steward/pkg/autoresolve"
	"github.com/odvcencio/steward/pkg/storage"
)

func (s *Server) handleListEscalations(w http.ResponseWriter, r *http.Request) {
	outcomeID := r.URL.Query().Get("outcome_id")
	status := r.URL.Query().Get("status")
	if status == "" {
		status = string(storage.EscalationPending)
	}
	if status != string(storage.EscalationPending) {
		writeError(w, http.StatusBadRequest, "only status=pending is listable")
		return
	}

	escalations, err := s.cfg.Escalations.ListPending(r.Context(), outcomeID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if escalations == nil {
		escalations = []*storage.Escalation{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"escalations": escalations})
}

func (s *Server) handleGetEscalation(w http.ResponseWriter, r *http.Request) {
	esc, err := s.cfg.Escalations.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, esc)
}

type answerRequest struct {
	SelectedOption    string `json:"selected_option"`
	AdditionalContext string `json:"additional_context,omitempty"`
}

func (s *Server) handleAnswerEscalation(w http.ResponseWriter, r *http.Request) {
	var req answerRequest
	if err := decodeBody(r, &req); err != nil {
		writeDomainError(w, err)
		return
	}

	esc, err := s.cfg.Escalations.Answer(r.Context(), chi.URLParam(r, "id"), req.SelectedOption, req.AdditionalContext)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, esc)
}

type dismissRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleDismissEscalation(w http.ResponseWriter, r *http.Request) {
	var req dismissRequest
	if err := decodeBody(r, &req); err != nil {
		writeDomainError(w, err)
		return
	}

	id := chi.URLParam(r, "id")
	if err := s.cfg.Escalations.Dismiss(r.Context(), id, req.Reason); err != nil {
		writeDomainError(w, err)
		return
	}
	esc, err := s.cfg.Escalations.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, esc)
}

type autoResolveRequest struct {
	OutcomeID string `json:"outcome_id"`
}

// handleAutoResolve runs a batch auto-resolution pass over the outcome's
// pending escalations with the policy stored on the outcome.
func (s *Server) handleAutoResolve(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Resolver == nil {
		writeError(w, http.StatusServiceUnavailable, "auto-resolver not configured")
		return
	}
	var req autoResolveRequest
	if err := decodeBody(r, &req); err != nil {
		writeDomainError(w, err)
		return
	}
	if req.OutcomeID == "" {
		writeError(w, http.StatusBadRequest, "outcome_id is required")
		return
	}

	outcome, err := s.cfg.Store.Outcomes().Get(req.OutcomeID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	cfg, err := autoresolve.ConfigForOutcome(outcome)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	stats, err := s.cfg.Resolver.ResolveAllPending(r.Context(), req.OutcomeID, cfg)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
