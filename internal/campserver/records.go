package campserver

import (
	"time"

	"github.com/tidemail/tidemail/internal/model"
	"github.com/tidemail/tidemail/internal/remote"
)

// Recipient send statuses.
const (
	RecipientPending = "pending"
	RecipientSent    = "sent"
	RecipientFailed  = "failed"
)

// Campaign is the authoritative campaign record.
type Campaign struct {
	ID              string            `json:"id"`
	AccountID       string            `json:"account_id"`
	Name            string            `json:"name"`
	SenderName      string            `json:"sender_name,omitempty"`
	Status          model.Status      `json:"status"`
	TrackingEnabled bool              `json:"tracking_enabled"`
	Delay           model.DelayBounds `json:"delay"`
	Total           int               `json:"total"`
	Sent            int               `json:"sent"`
	Failed          int               `json:"failed"`
	CurrentEmail    string            `json:"current_email,omitempty"`
	CurrentTemplate string            `json:"current_template,omitempty"`
	NextSendAt      *time.Time        `json:"next_send_at,omitempty"`
	StartedAt       *time.Time        `json:"started_at,omitempty"`
	ErrorMessage    string            `json:"error_message,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// RecipientRecord is the per-recipient unit of work. Position is the
// explicit sequence assigned at campaign creation; the worker processes
// records strictly in this order.
type RecipientRecord struct {
	CampaignID string     `json:"campaign_id"`
	Position   int        `json:"position"`
	Email      string     `json:"email"`
	FirstName  string     `json:"first_name,omitempty"`
	LastName   string     `json:"last_name,omitempty"`
	TemplateID string     `json:"template_id"`
	Status     string     `json:"status"`
	Error      string     `json:"error,omitempty"`
	SentAt     *time.Time `json:"sent_at,omitempty"`
}

// wireStatus maps a campaign record onto the client-facing status type.
func (c *Campaign) wireStatus() remote.CampaignStatus {
	return remote.CampaignStatus{
		CampaignID:      c.ID,
		Status:          string(c.Status),
		SentCount:       c.Sent,
		FailedCount:     c.Failed,
		TotalCount:      c.Total,
		CurrentEmail:    c.CurrentEmail,
		CurrentTemplate: c.CurrentTemplate,
		NextSendAt:      c.NextSendAt,
		ErrorMessage:    c.ErrorMessage,
	}
}

// wireSnapshot maps a campaign record onto the full snapshot used by
// the active-campaign lookup.
func (c *Campaign) wireSnapshot() *remote.CampaignSnapshot {
	return &remote.CampaignSnapshot{
		CampaignStatus: c.wireStatus(),
		AccountID:      c.AccountID,
		Name:           c.Name,
		StartedAt:      c.StartedAt,
	}
}
