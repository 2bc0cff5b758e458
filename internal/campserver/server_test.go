package campserver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/tidemail/tidemail/internal/remote"
)

func newTestServer(t *testing.T) (*Server, *Storage) {
	t.Helper()
	storage := newTestStorage(t)
	hub := NewHub()
	worker := NewWorker(storage, &recordingSender{}, hub, testLogger())
	srv := NewServer(storage, worker, hub, &Config{ListenAddr: ":0"}, testLogger())
	return srv, storage
}

func doJSON(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

const createBody = `{
	"account_id": "acct-1",
	"name": "Launch",
	"recipients": [
		{"email": "a@example.com", "template_id": "tpl-1", "position": 0},
		{"email": "b@example.com", "template_id": "tpl-1", "position": 1},
		{"email": "A@example.com", "template_id": "tpl-1", "position": 2}
	]
}`

func createCampaign(t *testing.T, srv *Server) string {
	t.Helper()
	w := doJSON(t, srv, http.MethodPost, "/api/v1/campaigns", createBody)
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", w.Code, w.Body.String())
	}
	var resp remote.CreateCampaignResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return resp.CampaignID
}

func TestCreateDeduplicatesRecipients(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doJSON(t, srv, http.MethodPost, "/api/v1/campaigns", createBody)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}

	var resp remote.CreateCampaignResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	// Three submitted, one duplicate by case-insensitive email.
	if resp.TotalAccepted != 2 {
		t.Errorf("TotalAccepted = %d, want 2 after dedupe", resp.TotalAccepted)
	}
	if resp.CampaignID == "" {
		t.Error("CampaignID empty")
	}
}

func TestCreateValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{`},
		{"missing account", `{"recipients":[{"email":"a@example.com","template_id":"tpl-1"}]}`},
		{"empty recipients", `{"account_id":"acct-1","recipients":[]}`},
		{"missing template", `{"account_id":"acct-1","recipients":[{"email":"a@example.com"}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newTestServer(t)
			w := doJSON(t, srv, http.MethodPost, "/api/v1/campaigns", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
		})
	}
}

func TestCreateConflictOnActiveCampaign(t *testing.T) {
	srv, _ := newTestServer(t)

	createCampaign(t, srv)
	w := doJSON(t, srv, http.MethodPost, "/api/v1/campaigns", createBody)
	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", w.Code)
	}
}

func TestPauseResumeStop(t *testing.T) {
	srv, _ := newTestServer(t)
	id := createCampaign(t, srv)

	// Pause a running campaign.
	w := doJSON(t, srv, http.MethodPost, "/api/v1/campaigns/"+id+"/pause", "")
	var action remote.ActionResponse
	json.NewDecoder(w.Body).Decode(&action)
	if w.Code != http.StatusOK || !action.Success {
		t.Fatalf("pause = %d %+v, want success", w.Code, action)
	}

	// Pausing again fails: the campaign is no longer running.
	w = doJSON(t, srv, http.MethodPost, "/api/v1/campaigns/"+id+"/pause", "")
	json.NewDecoder(w.Body).Decode(&action)
	if action.Success {
		t.Error("second pause succeeded, want guarded failure")
	}

	// Resume the paused campaign.
	w = doJSON(t, srv, http.MethodPost, "/api/v1/campaigns/"+id+"/resume", "")
	json.NewDecoder(w.Body).Decode(&action)
	if !action.Success {
		t.Fatalf("resume failed: %+v", action)
	}

	// Stop halts it.
	w = doJSON(t, srv, http.MethodPost, "/api/v1/campaigns/"+id+"/stop", "")
	json.NewDecoder(w.Body).Decode(&action)
	if !action.Success {
		t.Fatalf("stop failed: %+v", action)
	}

	var st remote.CampaignStatus
	w = doJSON(t, srv, http.MethodGet, "/api/v1/campaigns/"+id+"/status", "")
	json.NewDecoder(w.Body).Decode(&st)
	if st.Status != "paused" {
		t.Errorf("status after stop = %q, want paused", st.Status)
	}
}

func TestStatusNotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doJSON(t, srv, http.MethodGet, "/api/v1/campaigns/nope/status", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestActiveLookup(t *testing.T) {
	srv, _ := newTestServer(t)

	w := doJSON(t, srv, http.MethodGet, "/api/v1/campaigns/active?account_id=acct-1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp remote.ActiveCampaignResponse
	json.NewDecoder(w.Body).Decode(&resp)
	if resp.Campaign != nil {
		t.Errorf("Campaign = %+v, want null", resp.Campaign)
	}

	id := createCampaign(t, srv)

	w = doJSON(t, srv, http.MethodGet, "/api/v1/campaigns/active?account_id=acct-1", "")
	json.NewDecoder(w.Body).Decode(&resp)
	if resp.Campaign == nil || resp.Campaign.CampaignID != id {
		t.Errorf("Campaign = %+v, want %s", resp.Campaign, id)
	}

	// Missing account_id is rejected.
	w = doJSON(t, srv, http.MethodGet, "/api/v1/campaigns/active", "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestDeleteCampaignEndpoint(t *testing.T) {
	srv, storage := newTestServer(t)
	id := createCampaign(t, srv)

	w := doJSON(t, srv, http.MethodDelete, "/api/v1/campaigns/"+id, "")
	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", w.Code)
	}

	c, _ := storage.GetCampaign(id)
	if c != nil {
		t.Error("campaign still present after delete")
	}
}

func TestWorkerTriggerEndpoint(t *testing.T) {
	srv, storage := newTestServer(t)
	id := createCampaign(t, srv)

	w := doJSON(t, srv, http.MethodPost, "/api/v1/worker/trigger", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp remote.TriggerResponse
	json.NewDecoder(w.Body).Decode(&resp)
	if !resp.Triggered {
		t.Error("Triggered = false, want true for a due campaign")
	}

	c, _ := storage.GetCampaign(id)
	if c.Sent != 1 {
		t.Errorf("Sent = %d, want 1 after trigger", c.Sent)
	}
}

func TestAuthMiddleware(t *testing.T) {
	storage := newTestStorage(t)
	hub := NewHub()
	worker := NewWorker(storage, &recordingSender{}, hub, testLogger())
	srv := NewServer(storage, worker, hub, &Config{ListenAddr: ":0", APIKey: "secret"}, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/campaigns/active?account_id=acct-1", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status without key = %d, want 401", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/campaigns/active?account_id=acct-1", nil)
	req.Header.Set("Authorization", "Bearer secret")
	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("status with key = %d, want 200", w.Code)
	}

	// Health stays open for probes.
	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("healthz status = %d, want 200", w.Code)
	}
}
