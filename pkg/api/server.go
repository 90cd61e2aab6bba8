// Package api provides the REST surface dashboards and CLIs consume:
// escalation triage, orchestration control, improvement analysis, and a
// websocket event stream.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/odvcencio/steward/pkg/autoresolve"
	"github.com/odvcencio/steward/pkg/bus"
	"github.com/odvcencio/steward/pkg/convergence"
	"github.com/odvcencio/steward/pkg/errors"
	"github.com/odvcencio/steward/pkg/escalation"
	"github.com/odvcencio/steward/pkg/improve"
	"github.com/odvcencio/steward/pkg/logging"
	"github.com/odvcencio/steward/pkg/orchestrator"
	"github.com/odvcencio/steward/pkg/storage"
)

// ServerConfig wires the server's collaborators.
type ServerConfig struct {
	// Address to listen on (default: 127.0.0.1:4490)
	Address string

	Store        *storage.Store
	Orchestrator *orchestrator.Orchestrator
	Escalations  *escalation.Engine
	Resolver     *autoresolve.Resolver
	Analyzer     *improve.Analyzer
	Tracker      *convergence.Tracker

	// EventBus feeds the websocket stream (optional).
	EventBus bus.MessageBus

	// OrchestrateOptions is the default for POST orchestrate requests.
	OrchestrateOptions orchestrator.Options

	Logger *logging.Logger
}

// Server is the steward API server.
type Server struct {
	cfg        ServerConfig
	httpServer *http.Server
	logger     *logging.Logger

	mu      sync.Mutex
	handles map[string]*orchestrator.Handle
}

// NewServer creates an API server and mounts its routes.
func NewServer(cfg ServerConfig) *Server {
	if cfg.Address == "" {
		cfg.Address = "127.0.0.1:4490"
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNopLogger()
	}

	s := &Server{
		cfg:     cfg,
		logger:  cfg.Logger,
		handles: make(map[string]*orchestrator.Handle),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/escalations", s.handleListEscalations)
		r.Get("/escalations/{id}", s.handleGetEscalation)
		r.Post("/escalations/{id}/answer", s.handleAnswerEscalation)
		r.Post("/escalations/{id}/dismiss", s.handleDismissEscalation)
		r.Post("/escalations/resolve", s.handleAutoResolve)

		r.Get("/outcomes", s.handleListOutcomes)
		r.Get("/outcomes/{id}/status", s.handleOutcomeStatus)
		r.Post("/outcomes/{id}/orchestrate", s.handleOrchestrate)
		r.Post("/outcomes/{id}/transition", s.handleOutcomeTransition)
		r.Post("/outcomes/{id}/review", s.handleReview)

		r.Post("/improvements/analyze", s.handleAnalyze)

		r.Get("/events", s.handleEvents)
	})

	s.httpServer = &http.Server{
		Addr:              cfg.Address,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info(logging.CategoryAPI, "server_started", s.cfg.Address, nil)
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops the listener and any background orchestration runs it
// started.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	handles := make([]*orchestrator.Handle, 0, len(s.handles))
	for _, h := range s.handles {
		handles = append(handles, h)
	}
	s.mu.Unlock()
	for _, h := range handles {
		h.Stop()
	}
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeDomainError maps the error taxonomy onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch errors.GetCode(err) {
	case errors.ErrCodeValidation, errors.ErrCodeConfigInvalid:
		status = http.StatusBadRequest
	case errors.ErrCodeNotFound:
		status = http.StatusNotFound
	case errors.ErrCodeConflict, errors.ErrCodeAlreadyResolved:
		status = http.StatusConflict
	case errors.ErrCodeExternalCapability:
		status = http.StatusBadGateway
	}
	writeError(w, status, err.Error())
}

func decodeBody(r *http.Request, v any) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.Wrap(err, errors.ErrCodeValidation, "decode request body")
	}
	return nil
}
