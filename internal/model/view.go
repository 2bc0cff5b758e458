package model

import "time"

// View is the read model exposed to the presentation layer.
type View struct {
	CampaignID      string     `json:"campaign_id"`
	CampaignName    string     `json:"campaign_name"`
	IsRunning       bool       `json:"is_running"`
	Status          Status     `json:"status"`
	Sent            int        `json:"sent"`
	Failed          int        `json:"failed"`
	Total           int        `json:"total"`
	CurrentEmail    string     `json:"current_email"`
	CurrentTemplate string     `json:"current_template"`
	NextEmailAt     *time.Time `json:"next_email_at,omitempty"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	Error           string     `json:"error,omitempty"`
	IsOffline       bool       `json:"is_offline"`
	CanResume       bool       `json:"can_resume"`
}
