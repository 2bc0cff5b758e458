package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/tidemail/tidemail/internal/model"
	"github.com/tidemail/tidemail/internal/orchestrator"
)

// StartRequest is the request body for POST /api/v1/campaign/start.
type StartRequest struct {
	Name            string            `json:"name,omitempty"`
	TrackingEnabled bool              `json:"tracking_enabled"`
	Delay           model.DelayBounds `json:"delay"`
	Recipients      []model.Recipient `json:"recipients"`
}

// ErrorResponse is the error body.
type ErrorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, s.orch.View())
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err := s.orch.Start(r.Context(), req.Recipients, orchestrator.StartConfig{
		Name:            req.Name,
		Delay:           req.Delay,
		TrackingEnabled: req.TrackingEnabled,
	})
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, orchestrator.ErrNoRecipients) {
			status = http.StatusBadRequest
		}
		s.sendError(w, status, err.Error())
		return
	}

	s.sendJSON(w, http.StatusOK, s.orch.View())
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.command(w, r, s.orch.Pause)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.command(w, r, s.orch.Resume)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	s.command(w, r, s.orch.Reset)
}

// command runs an orchestrator command and replies with the fresh view.
func (s *Server) command(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context) error) {
	if err := fn(r.Context()); err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, orchestrator.ErrNoActiveCampaign) {
			status = http.StatusConflict
		}
		s.sendError(w, status, err.Error())
		return
	}
	s.sendJSON(w, http.StatusOK, s.orch.View())
}

func (s *Server) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func (s *Server) sendError(w http.ResponseWriter, status int, msg string) {
	s.sendJSON(w, status, ErrorResponse{Error: msg})
}
