package model

import "time"

// Status is the lifecycle state of a campaign.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// Active reports whether the campaign still has remote work in flight.
// At most one active campaign may exist per account.
func (s Status) Active() bool {
	return s == StatusRunning || s == StatusPaused
}

// Terminal reports whether the status permits no further transitions
// except an explicit reset.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// Campaign is the local read-mostly mirror of the authoritative record
// held by the remote campaign service.
type Campaign struct {
	ID              string     `json:"id"`
	AccountID       string     `json:"account_id"`
	Name            string     `json:"name"`
	Status          Status     `json:"status"`
	Sent            int        `json:"sent"`
	Failed          int        `json:"failed"`
	Total           int        `json:"total"`
	CurrentEmail    string     `json:"current_email"`
	CurrentTemplate string     `json:"current_template"`
	NextSendAt      *time.Time `json:"next_send_at,omitempty"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	LastError       string     `json:"last_error,omitempty"`
}

// Recipient is one entry of a campaign's send list as submitted by the
// caller. TemplateID must be set for every recipient.
type Recipient struct {
	Email      string `json:"email"`
	Name       string `json:"name"`
	TemplateID string `json:"template_id"`
}

// DelayBounds is the [min, max] window in seconds the remote worker
// waits between consecutive sends.
type DelayBounds struct {
	MinSeconds int `json:"min_seconds"`
	MaxSeconds int `json:"max_seconds"`
}

// Delta is an authoritative update pushed or fetched from the remote
// side. Counters in a delta only ever move the mirror forward.
type Delta struct {
	Status          Status
	Sent            int
	Failed          int
	Total           int
	CurrentEmail    string
	CurrentTemplate string
	NextSendAt      *time.Time
	ErrorMessage    string
}
