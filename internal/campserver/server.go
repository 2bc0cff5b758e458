package campserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/tidemail/tidemail/internal/model"
	"github.com/tidemail/tidemail/internal/remote"
)

// Server is the campaign service HTTP API.
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	storage    *Storage
	worker     *Worker
	hub        *Hub
	apiKey     string
	listenAddr string
	logger     *slog.Logger
}

// NewServer creates the campaign service server.
func NewServer(storage *Storage, worker *Worker, hub *Hub, cfg *Config, logger *slog.Logger) *Server {
	s := &Server{
		router:     chi.NewRouter(),
		storage:    storage,
		worker:     worker,
		hub:        hub,
		apiKey:     cfg.APIKey,
		listenAddr: cfg.ListenAddr,
		logger:     logger.With("component", "campserver"),
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)

	s.router.Get("/healthz", s.handleHealth)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Post("/campaigns", s.handleCreate)
		r.Get("/campaigns/active", s.handleActive)
		r.Get("/campaigns/{id}/status", s.handleStatus)
		r.Get("/campaigns/{id}/events", s.handleEvents)
		r.Post("/campaigns/{id}/pause", s.handlePause)
		r.Post("/campaigns/{id}/resume", s.handleResume)
		r.Post("/campaigns/{id}/stop", s.handleStop)
		r.Delete("/campaigns/{id}", s.handleDelete)
		r.Post("/worker/trigger", s.handleTrigger)
	})
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	s.httpServer = &http.Server{
		Addr:        s.listenAddr,
		Handler:     s.router,
		ReadTimeout: 30 * time.Second,
		// No WriteTimeout: the events endpoint holds its connection open.
		IdleTimeout: 120 * time.Second,
	}

	s.logger.Info("starting campaign service", "addr", s.listenAddr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down campaign service")
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey != "" {
			token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if token != s.apiKey {
				s.sendError(w, http.StatusUnauthorized, "invalid API key")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, remote.HealthResponse{Status: "ok"})
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req remote.CreateCampaignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.AccountID == "" {
		s.sendError(w, http.StatusBadRequest, "account_id is required")
		return
	}
	if len(req.Recipients) == 0 {
		s.sendError(w, http.StatusBadRequest, "recipient list is empty")
		return
	}
	for _, rec := range req.Recipients {
		if rec.TemplateID == "" {
			s.sendError(w, http.StatusBadRequest, fmt.Sprintf("recipient %s has no template", rec.Email))
			return
		}
	}

	// Deduplicate by email, keeping the first occurrence and
	// re-sequencing positions. The accepted total may therefore be
	// lower than the submitted count.
	seen := make(map[string]bool, len(req.Recipients))
	now := time.Now()
	campaignID := uuid.New().String()

	var recs []RecipientRecord
	for _, rec := range req.Recipients {
		key := strings.ToLower(strings.TrimSpace(rec.Email))
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		recs = append(recs, RecipientRecord{
			CampaignID: campaignID,
			Position:   len(recs),
			Email:      rec.Email,
			FirstName:  rec.FirstName,
			LastName:   rec.LastName,
			TemplateID: rec.TemplateID,
			Status:     RecipientPending,
		})
	}
	if len(recs) == 0 {
		s.sendError(w, http.StatusBadRequest, "no valid recipients")
		return
	}

	campaign := &Campaign{
		ID:              campaignID,
		AccountID:       req.AccountID,
		Name:            req.Name,
		SenderName:      req.SenderName,
		Status:          model.StatusRunning,
		TrackingEnabled: req.TrackingEnabled,
		Delay:           req.Delay,
		Total:           len(recs),
		StartedAt:       &now,
		NextSendAt:      &now, // due immediately; first trigger sends
	}

	if err := s.storage.CreateCampaign(campaign, recs); err != nil {
		if errors.Is(err, ErrActiveCampaignExists) {
			s.sendError(w, http.StatusConflict, err.Error())
			return
		}
		s.logger.Error("failed to create campaign", "error", err)
		s.sendError(w, http.StatusInternalServerError, "failed to create campaign")
		return
	}

	s.logger.Info("campaign created", "campaign_id", campaignID, "account_id", req.AccountID, "total", len(recs))
	s.sendJSON(w, http.StatusCreated, remote.CreateCampaignResponse{
		CampaignID:    campaignID,
		TotalAccepted: len(recs),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	c, ok := s.campaignFromRequest(w, r)
	if !ok {
		return
	}
	s.sendJSON(w, http.StatusOK, c.wireStatus())
}

func (s *Server) handleActive(w http.ResponseWriter, r *http.Request) {
	accountID := r.URL.Query().Get("account_id")
	if accountID == "" {
		s.sendError(w, http.StatusBadRequest, "account_id is required")
		return
	}

	c, err := s.storage.ActiveForAccount(accountID)
	if err != nil {
		s.logger.Error("active lookup failed", "account_id", accountID, "error", err)
		s.sendError(w, http.StatusInternalServerError, "lookup failed")
		return
	}

	resp := remote.ActiveCampaignResponse{}
	if c != nil {
		resp.Campaign = c.wireSnapshot()
	}
	s.sendJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, model.StatusRunning, model.StatusPaused)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, model.StatusPaused, model.StatusRunning)
}

// transition applies a guarded status change and broadcasts the result.
func (s *Server) transition(w http.ResponseWriter, r *http.Request, from, to model.Status) {
	c, ok := s.campaignFromRequest(w, r)
	if !ok {
		return
	}

	if c.Status != from {
		s.sendJSON(w, http.StatusOK, remote.ActionResponse{
			Success: false,
			Error:   fmt.Sprintf("campaign is %s", c.Status),
		})
		return
	}

	c.Status = to
	if to == model.StatusRunning {
		// Resume is due immediately.
		now := time.Now()
		c.NextSendAt = &now
	}
	if err := s.storage.SaveCampaign(c); err != nil {
		s.logger.Error("failed to save campaign", "campaign_id", c.ID, "error", err)
		s.sendError(w, http.StatusInternalServerError, "failed to save campaign")
		return
	}

	s.hub.Broadcast(c.wireStatus())
	s.sendJSON(w, http.StatusOK, remote.ActionResponse{Success: true})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	c, ok := s.campaignFromRequest(w, r)
	if !ok {
		return
	}

	if c.Status.Active() {
		c.Status = model.StatusPaused
		c.NextSendAt = nil
		if err := s.storage.SaveCampaign(c); err != nil {
			s.logger.Error("failed to save campaign", "campaign_id", c.ID, "error", err)
			s.sendError(w, http.StatusInternalServerError, "failed to save campaign")
			return
		}
		s.hub.Broadcast(c.wireStatus())
	}

	s.sendJSON(w, http.StatusOK, remote.ActionResponse{Success: true})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.storage.DeleteCampaign(id); err != nil {
		s.logger.Error("failed to delete campaign", "campaign_id", id, "error", err)
		s.sendError(w, http.StatusInternalServerError, "failed to delete campaign")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	n, err := s.worker.Step(r.Context())
	if err != nil {
		s.logger.Warn("worker step failed", "error", err)
	}
	s.sendJSON(w, http.StatusOK, remote.TriggerResponse{Triggered: n > 0})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	c, ok := s.campaignFromRequest(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.sendError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	events, cancel := s.hub.Subscribe(c.ID)
	defer cancel()

	// Initial synchronization delta so a late subscriber catches up.
	writeEvent(w, c.wireStatus())
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case st, ok := <-events:
			if !ok {
				return
			}
			writeEvent(w, st)
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, st remote.CampaignStatus) {
	data, err := json.Marshal(st)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
}

// campaignFromRequest loads the campaign named in the URL, replying 404
// when it does not exist.
func (s *Server) campaignFromRequest(w http.ResponseWriter, r *http.Request) (*Campaign, bool) {
	id := chi.URLParam(r, "id")
	c, err := s.storage.GetCampaign(id)
	if err != nil {
		s.logger.Error("failed to load campaign", "campaign_id", id, "error", err)
		s.sendError(w, http.StatusInternalServerError, "failed to load campaign")
		return nil, false
	}
	if c == nil {
		s.sendError(w, http.StatusNotFound, "campaign not found")
		return nil, false
	}
	return c, true
}

func (s *Server) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func (s *Server) sendError(w http.ResponseWriter, status int, msg string) {
	s.sendJSON(w, status, remote.ErrorResponse{Error: msg})
}
