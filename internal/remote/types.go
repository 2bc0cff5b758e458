package remote

import (
	"time"

	"github.com/tidemail/tidemail/internal/model"
)

// RecipientPayload is one normalized recipient in a create request.
// Position is the explicit sequence the remote worker must honor.
type RecipientPayload struct {
	Email      string `json:"email"`
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name,omitempty"`
	TemplateID string `json:"template_id"`
	Position   int    `json:"position"`
}

// CreateCampaignRequest is the body for POST /api/v1/campaigns.
type CreateCampaignRequest struct {
	AccountID       string             `json:"account_id"`
	Name            string             `json:"name"`
	SenderName      string             `json:"sender_name,omitempty"`
	TrackingEnabled bool               `json:"tracking_enabled"`
	Delay           model.DelayBounds  `json:"delay"`
	Recipients      []RecipientPayload `json:"recipients"`
}

// CreateCampaignResponse acknowledges a created-and-started campaign.
// TotalAccepted may be lower than the submitted count when the server
// deduplicates recipients.
type CreateCampaignResponse struct {
	CampaignID    string `json:"campaign_id"`
	TotalAccepted int    `json:"total_accepted"`
}

// ActionResponse is the result of pause/resume/stop.
type ActionResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// CampaignStatus is the authoritative status record for one campaign.
type CampaignStatus struct {
	CampaignID      string     `json:"campaign_id"`
	Status          string     `json:"status"`
	SentCount       int        `json:"sent_count"`
	FailedCount     int        `json:"failed_count"`
	TotalCount      int        `json:"total_count"`
	CurrentEmail    string     `json:"current_email,omitempty"`
	CurrentTemplate string     `json:"current_template,omitempty"`
	NextSendAt      *time.Time `json:"next_send_at,omitempty"`
	ErrorMessage    string     `json:"error_message,omitempty"`
}

// Delta maps the server field names onto the local model.
func (st *CampaignStatus) Delta() model.Delta {
	return model.Delta{
		Status:          model.Status(st.Status),
		Sent:            st.SentCount,
		Failed:          st.FailedCount,
		Total:           st.TotalCount,
		CurrentEmail:    st.CurrentEmail,
		CurrentTemplate: st.CurrentTemplate,
		NextSendAt:      st.NextSendAt,
		ErrorMessage:    st.ErrorMessage,
	}
}

// CampaignSnapshot is the full record returned by the active-campaign
// lookup, enough to hydrate local state after a reload.
type CampaignSnapshot struct {
	CampaignStatus
	AccountID string     `json:"account_id"`
	Name      string     `json:"name"`
	StartedAt *time.Time `json:"started_at,omitempty"`
}

// ActiveCampaignResponse wraps the active-campaign lookup; Campaign is
// null when the account has no running or paused campaign.
type ActiveCampaignResponse struct {
	Campaign *CampaignSnapshot `json:"campaign"`
}

// TriggerResponse acknowledges a worker trigger.
type TriggerResponse struct {
	Triggered bool `json:"triggered"`
}

// HealthResponse is the service health report.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
}

// ErrorResponse is the error body returned by the service.
type ErrorResponse struct {
	Error string `json:"error"`
}
