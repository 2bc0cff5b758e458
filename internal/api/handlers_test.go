package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/tidemail/tidemail/internal/model"
	"github.com/tidemail/tidemail/internal/notify"
	"github.com/tidemail/tidemail/internal/orchestrator"
	"github.com/tidemail/tidemail/internal/remote"
)

// stubService is a minimal healthy remote service.
type stubService struct{}

func (stubService) CreateAndStart(ctx context.Context, req *remote.CreateCampaignRequest) (*remote.CreateCampaignResponse, error) {
	return &remote.CreateCampaignResponse{CampaignID: "camp-1", TotalAccepted: len(req.Recipients)}, nil
}

func (stubService) Pause(ctx context.Context, campaignID string) error  { return nil }
func (stubService) Resume(ctx context.Context, campaignID string) error { return nil }
func (stubService) Stop(ctx context.Context, campaignID string) error   { return nil }

func (stubService) GetStatus(ctx context.Context, campaignID string) (*remote.CampaignStatus, error) {
	return &remote.CampaignStatus{CampaignID: campaignID, Status: "paused"}, nil
}

func (stubService) GetActiveForAccount(ctx context.Context, accountID string) (*remote.CampaignSnapshot, error) {
	return nil, nil
}

func (stubService) DeleteCampaign(ctx context.Context, campaignID string) error { return nil }
func (stubService) TriggerWorker(ctx context.Context) error                     { return nil }

func newTestServer(t *testing.T) *Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	orch := orchestrator.New(stubService{}, notify.NewLogNotifier(logger), nil, orchestrator.Config{
		AccountID: "acct-1",
	}, logger)
	return NewServer(orch, nil, ":0", logger)
}

func doRequest(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestHandleViewIdle(t *testing.T) {
	s := newTestServer(t)

	w := doRequest(t, s, http.MethodGet, "/api/v1/campaign", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var view model.View
	if err := json.NewDecoder(w.Body).Decode(&view); err != nil {
		t.Fatalf("failed to decode view: %v", err)
	}
	if view.Status != model.StatusIdle {
		t.Errorf("Status = %v, want idle", view.Status)
	}
	if view.IsRunning {
		t.Error("IsRunning = true, want false")
	}
}

func TestHandleStart(t *testing.T) {
	s := newTestServer(t)

	body := `{"name":"Launch","recipients":[{"email":"a@example.com","template_id":"tpl-1"}]}`
	w := doRequest(t, s, http.MethodPost, "/api/v1/campaign/start", body)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}

	var view model.View
	if err := json.NewDecoder(w.Body).Decode(&view); err != nil {
		t.Fatalf("failed to decode view: %v", err)
	}
	if view.Status != model.StatusRunning {
		t.Errorf("Status = %v, want running", view.Status)
	}
	if view.CampaignID != "camp-1" {
		t.Errorf("CampaignID = %v, want camp-1", view.CampaignID)
	}
}

func TestHandleStartValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{
			name: "malformed json",
			body: `{`,
			want: http.StatusBadRequest,
		},
		{
			name: "empty recipients",
			body: `{"recipients":[]}`,
			want: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t)
			w := doRequest(t, s, http.MethodPost, "/api/v1/campaign/start", tt.body)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestHandlePauseWithoutCampaign(t *testing.T) {
	s := newTestServer(t)

	w := doRequest(t, s, http.MethodPost, "/api/v1/campaign/pause", "")
	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", w.Code)
	}
}

func TestPauseResumeRoundTrip(t *testing.T) {
	s := newTestServer(t)

	body := `{"recipients":[{"email":"a@example.com","template_id":"tpl-1"}]}`
	if w := doRequest(t, s, http.MethodPost, "/api/v1/campaign/start", body); w.Code != http.StatusOK {
		t.Fatalf("start status = %d: %s", w.Code, w.Body.String())
	}

	w := doRequest(t, s, http.MethodPost, "/api/v1/campaign/pause", "")
	if w.Code != http.StatusOK {
		t.Fatalf("pause status = %d: %s", w.Code, w.Body.String())
	}
	var view model.View
	json.NewDecoder(w.Body).Decode(&view)
	if view.Status != model.StatusPaused {
		t.Errorf("Status = %v, want paused", view.Status)
	}
	if !view.CanResume {
		t.Error("CanResume = false, want true")
	}

	w = doRequest(t, s, http.MethodPost, "/api/v1/campaign/resume", "")
	if w.Code != http.StatusOK {
		t.Fatalf("resume status = %d: %s", w.Code, w.Body.String())
	}
	json.NewDecoder(w.Body).Decode(&view)
	if view.Status != model.StatusRunning {
		t.Errorf("Status = %v, want running", view.Status)
	}
}

func TestHandleReset(t *testing.T) {
	s := newTestServer(t)

	body := `{"recipients":[{"email":"a@example.com","template_id":"tpl-1"}]}`
	if w := doRequest(t, s, http.MethodPost, "/api/v1/campaign/start", body); w.Code != http.StatusOK {
		t.Fatalf("start status = %d", w.Code)
	}

	w := doRequest(t, s, http.MethodPost, "/api/v1/campaign/reset", "")
	if w.Code != http.StatusOK {
		t.Fatalf("reset status = %d: %s", w.Code, w.Body.String())
	}

	var view model.View
	json.NewDecoder(w.Body).Decode(&view)
	if view.Status != model.StatusIdle {
		t.Errorf("Status = %v, want idle", view.Status)
	}
	if view.CampaignID != "" {
		t.Errorf("CampaignID = %v, want cleared", view.CampaignID)
	}
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t)

	w := doRequest(t, s, http.MethodGet, "/healthz", "")
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}
