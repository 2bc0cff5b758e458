package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/tidemail/tidemail/internal/metrics"
	"github.com/tidemail/tidemail/internal/model"
	"github.com/tidemail/tidemail/internal/notify"
	"github.com/tidemail/tidemail/internal/remote"
)

var (
	// ErrNoRecipients is returned when start is called with an empty list.
	ErrNoRecipients = errors.New("recipient list is empty")

	// ErrNoActiveCampaign is returned when pause or resume is called
	// without a campaign in flight.
	ErrNoActiveCampaign = errors.New("no active campaign")
)

// Service is the narrow contract the orchestrator needs from the remote
// campaign service.
type Service interface {
	CreateAndStart(ctx context.Context, req *remote.CreateCampaignRequest) (*remote.CreateCampaignResponse, error)
	Pause(ctx context.Context, campaignID string) error
	Resume(ctx context.Context, campaignID string) error
	Stop(ctx context.Context, campaignID string) error
	GetStatus(ctx context.Context, campaignID string) (*remote.CampaignStatus, error)
	GetActiveForAccount(ctx context.Context, accountID string) (*remote.CampaignSnapshot, error)
	DeleteCampaign(ctx context.Context, campaignID string) error
	TriggerWorker(ctx context.Context) error
}

// Change is emitted whenever status or campaign identity changes, so
// lifecycle owners (poller, subscription) can react.
type Change struct {
	Prev       model.Status
	Status     model.Status
	CampaignID string
}

// Config holds orchestrator configuration.
type Config struct {
	AccountID   string
	SenderName  string
	SettleDelay time.Duration
}

// StartConfig carries the per-campaign options of a start command.
type StartConfig struct {
	Name            string
	Delay           model.DelayBounds
	TrackingEnabled bool
}

// Orchestrator owns the local campaign state machine: it applies user
// commands, merges remote deltas, and drives auto-pause/auto-resume on
// connectivity change. The authoritative record lives remotely; local
// state is a mirror plus optimistic edits reconciled away by deltas.
type Orchestrator struct {
	svc      Service
	notifier notify.Notifier
	logger   *slog.Logger
	metrics  *metrics.Metrics

	accountID   string
	senderName  string
	settleDelay time.Duration
	now         func() time.Time

	mu         sync.Mutex
	campaign   model.Campaign
	autoPaused bool
	offline    bool

	changes chan Change
}

// New creates an orchestrator. notifier may not be nil; m may be nil.
func New(svc Service, notifier notify.Notifier, m *metrics.Metrics, cfg Config, logger *slog.Logger) *Orchestrator {
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = time.Second
	}
	return &Orchestrator{
		svc:         svc,
		notifier:    notifier,
		logger:      logger.With("component", "orchestrator"),
		metrics:     m,
		accountID:   cfg.AccountID,
		senderName:  cfg.SenderName,
		settleDelay: cfg.SettleDelay,
		now:         time.Now,
		campaign:    model.Campaign{AccountID: cfg.AccountID, Status: model.StatusIdle},
		changes:     make(chan Change, 16),
	}
}

// Changes returns the state-change channel. The orchestrator never
// closes it; slow consumers lose the oldest events, not the newest.
func (o *Orchestrator) Changes() <-chan Change {
	return o.changes
}

// View returns the read model for the presentation layer.
func (o *Orchestrator) View() model.View {
	o.mu.Lock()
	defer o.mu.Unlock()

	c := o.campaign
	return model.View{
		CampaignID:      c.ID,
		CampaignName:    c.Name,
		IsRunning:       c.Status == model.StatusRunning,
		Status:          c.Status,
		Sent:            c.Sent,
		Failed:          c.Failed,
		Total:           c.Total,
		CurrentEmail:    c.CurrentEmail,
		CurrentTemplate: c.CurrentTemplate,
		NextEmailAt:     c.NextSendAt,
		StartedAt:       c.StartedAt,
		Error:           c.LastError,
		IsOffline:       o.offline,
		CanResume:       c.Status == model.StatusPaused && c.ID != "",
	}
}

// Start validates the recipient list, submits a create-and-run request,
// and optimistically moves local state to running. Validation failures
// never reach the remote service; any failure transitions to error and
// is returned so the caller can react.
func (o *Orchestrator) Start(ctx context.Context, recipients []model.Recipient, cfg StartConfig) error {
	if err := validateRecipients(recipients); err != nil {
		o.failLocally(err)
		return err
	}

	name := cfg.Name
	if name == "" {
		name = "Campaign " + o.now().Format("2006-01-02 15:04")
	}

	req := &remote.CreateCampaignRequest{
		AccountID:       o.accountID,
		Name:            name,
		SenderName:      o.senderName,
		TrackingEnabled: cfg.TrackingEnabled,
		Delay:           cfg.Delay,
		Recipients:      make([]remote.RecipientPayload, 0, len(recipients)),
	}
	for i, r := range recipients {
		first, last := splitName(r.Name)
		req.Recipients = append(req.Recipients, remote.RecipientPayload{
			Email:      r.Email,
			FirstName:  first,
			LastName:   last,
			TemplateID: r.TemplateID,
			Position:   i,
		})
	}

	resp, err := o.svc.CreateAndStart(ctx, req)
	if err != nil {
		o.metrics.RecordRemoteError("create")
		o.failLocally(err)
		return fmt.Errorf("start campaign: %w", err)
	}

	startedAt := o.now()
	o.mu.Lock()
	prev := o.campaign.Status
	o.campaign = model.Campaign{
		ID:        resp.CampaignID,
		AccountID: o.accountID,
		Name:      name,
		Status:    model.StatusRunning,
		Total:     resp.TotalAccepted,
		StartedAt: &startedAt,
	}
	o.autoPaused = false
	o.pushChangeLocked(prev)
	o.mu.Unlock()

	o.notifier.Started(resp.TotalAccepted)
	o.logger.Info("campaign started", "campaign_id", resp.CampaignID, "total", resp.TotalAccepted)
	return nil
}

// Pause issues a pause command. On failure the status is preserved so
// the user can retry.
func (o *Orchestrator) Pause(ctx context.Context) error {
	o.mu.Lock()
	id := o.campaign.ID
	if id == "" {
		o.campaign.LastError = ErrNoActiveCampaign.Error()
		o.mu.Unlock()
		return ErrNoActiveCampaign
	}
	o.mu.Unlock()

	if err := o.svc.Pause(ctx, id); err != nil {
		o.metrics.RecordRemoteError("pause")
		o.setError(err.Error())
		return fmt.Errorf("pause campaign: %w", err)
	}

	o.mu.Lock()
	prev := o.campaign.Status
	o.campaign.Status = model.StatusPaused
	o.campaign.LastError = ""
	sent, total := o.campaign.Sent, o.campaign.Total
	o.pushChangeLocked(prev)
	o.mu.Unlock()

	o.notifier.Paused(sent, total)
	return nil
}

// Resume re-fetches the authoritative status before acting so a stale
// local "paused" never resumes a campaign that already moved on. Only a
// genuinely paused remote campaign gets the resume call.
func (o *Orchestrator) Resume(ctx context.Context) error {
	o.mu.Lock()
	id := o.campaign.ID
	if id == "" {
		o.campaign.LastError = ErrNoActiveCampaign.Error()
		o.mu.Unlock()
		return ErrNoActiveCampaign
	}
	o.mu.Unlock()

	st, err := o.svc.GetStatus(ctx, id)
	if err != nil {
		o.metrics.RecordRemoteError("status")
		o.setError(err.Error())
		return fmt.Errorf("fetch campaign status: %w", err)
	}

	switch model.Status(st.Status) {
	case model.StatusRunning:
		// Already running remotely: sync and skip the resume call. This
		// still counts as a successful resume, so the auto-pause flag is
		// cleared like on the genuine path.
		o.ApplyDelta(st.Delta())
		o.mu.Lock()
		o.autoPaused = false
		o.campaign.LastError = ""
		o.mu.Unlock()
		return nil
	case model.StatusCompleted:
		o.ApplyDelta(st.Delta())
		return nil
	case model.StatusPaused:
		// Fall through to the actual resume.
	default:
		o.ApplyDelta(st.Delta())
		err := fmt.Errorf("campaign is %s and cannot be resumed", st.Status)
		o.setError(err.Error())
		return err
	}

	if err := o.svc.Resume(ctx, id); err != nil {
		o.metrics.RecordRemoteError("resume")
		o.setError(err.Error())
		return fmt.Errorf("resume campaign: %w", err)
	}

	o.mu.Lock()
	prev := o.campaign.Status
	o.campaign.Status = model.StatusRunning
	o.campaign.LastError = ""
	o.autoPaused = false
	o.pushChangeLocked(prev)
	o.mu.Unlock()
	return nil
}

// Reset returns to a clean slate. Remote stop and delete are best
// effort: their failures are logged and swallowed because the local
// reset must always succeed.
func (o *Orchestrator) Reset(ctx context.Context) error {
	o.mu.Lock()
	id := o.campaign.ID
	o.mu.Unlock()

	if id != "" {
		if err := o.svc.Stop(ctx, id); err != nil {
			o.logger.Warn("stop during reset failed", "campaign_id", id, "error", err)
		}
		if err := o.svc.DeleteCampaign(ctx, id); err != nil {
			o.logger.Warn("delete during reset failed", "campaign_id", id, "error", err)
		}
	}

	o.mu.Lock()
	prev := o.campaign.Status
	o.campaign = model.Campaign{AccountID: o.accountID, Status: model.StatusIdle}
	o.autoPaused = false
	o.pushChangeLocked(prev)
	o.mu.Unlock()
	return nil
}

// Bootstrap recovers an in-flight campaign for the account, so a
// restart or a second device picks up where the campaign stands. No
// active campaign (or no account) resets local state to idle.
func (o *Orchestrator) Bootstrap(ctx context.Context) error {
	if o.accountID == "" {
		o.mu.Lock()
		prev := o.campaign.Status
		o.campaign = model.Campaign{Status: model.StatusIdle}
		o.autoPaused = false
		o.pushChangeLocked(prev)
		o.mu.Unlock()
		return nil
	}

	snap, err := o.svc.GetActiveForAccount(ctx, o.accountID)
	if err != nil {
		o.metrics.RecordRemoteError("active")
		return fmt.Errorf("load active campaign: %w", err)
	}

	o.mu.Lock()
	prev := o.campaign.Status
	if snap == nil {
		o.campaign = model.Campaign{AccountID: o.accountID, Status: model.StatusIdle}
		o.autoPaused = false
	} else {
		o.campaign = model.Campaign{
			ID:              snap.CampaignID,
			AccountID:       o.accountID,
			Name:            snap.Name,
			Status:          model.Status(snap.Status),
			Sent:            snap.SentCount,
			Failed:          snap.FailedCount,
			Total:           snap.TotalCount,
			CurrentEmail:    snap.CurrentEmail,
			CurrentTemplate: snap.CurrentTemplate,
			NextSendAt:      snap.NextSendAt,
			StartedAt:       snap.StartedAt,
			LastError:       snap.ErrorMessage,
		}
	}
	o.pushChangeLocked(prev)
	o.mu.Unlock()

	if snap != nil {
		o.logger.Info("recovered in-flight campaign",
			"campaign_id", snap.CampaignID, "status", snap.Status,
			"sent", snap.SentCount, "total", snap.TotalCount)
	}
	return nil
}

// ApplyDelta merges an authoritative update into local state. Deltas
// win over optimistic local state for status and counters, but counters
// never move backward except across a reset. Terminal notifications
// fire only when the previous local status was actively running, which
// avoids duplicates when a finished campaign is merely synchronized.
func (o *Orchestrator) ApplyDelta(d model.Delta) {
	o.mu.Lock()
	if o.campaign.ID == "" {
		o.mu.Unlock()
		return
	}

	prev := o.campaign.Status
	if d.Sent > o.campaign.Sent {
		o.campaign.Sent = d.Sent
	}
	if d.Failed > o.campaign.Failed {
		o.campaign.Failed = d.Failed
	}
	if d.Total > o.campaign.Total {
		o.campaign.Total = d.Total
	}
	if d.CurrentEmail != "" {
		o.campaign.CurrentEmail = d.CurrentEmail
	}
	if d.CurrentTemplate != "" {
		o.campaign.CurrentTemplate = d.CurrentTemplate
	}
	if d.NextSendAt != nil {
		o.campaign.NextSendAt = d.NextSendAt
	}

	statusChanged := d.Status != "" && d.Status != prev
	if statusChanged {
		o.campaign.Status = d.Status
		// autoPaused never outlives the paused state.
		if d.Status != model.StatusPaused {
			o.autoPaused = false
		}
	}

	// Progress deltas leave a displayed error alone; only a superseding
	// status may touch it.
	switch {
	case d.Status == model.StatusError && d.ErrorMessage != "":
		o.campaign.LastError = d.ErrorMessage
	case statusChanged && d.Status == model.StatusCompleted:
		o.campaign.LastError = ""
	}

	sent, failed, total := o.campaign.Sent, o.campaign.Failed, o.campaign.Total
	if statusChanged {
		o.pushChangeLocked(prev)
	}
	o.mu.Unlock()

	o.metrics.RecordDelta(sent, failed, total)

	if statusChanged && prev == model.StatusRunning {
		switch d.Status {
		case model.StatusCompleted:
			o.notifier.Completed(sent, failed)
		case model.StatusError:
			o.notifier.Error(d.ErrorMessage)
		}
	}
}

// HandleOffline reacts to a connectivity-loss transition: a running
// campaign is paused on the orchestrator's own initiative. The remote
// pause is attempted but may itself be unreachable; autoPaused stays
// set either way so connectivity return still attempts a resume.
func (o *Orchestrator) HandleOffline(ctx context.Context) {
	o.metrics.SetOnline(false)

	o.mu.Lock()
	o.offline = true
	if o.campaign.Status != model.StatusRunning || o.campaign.ID == "" {
		o.mu.Unlock()
		return
	}
	id := o.campaign.ID
	prev := o.campaign.Status
	o.campaign.Status = model.StatusPaused
	o.autoPaused = true
	o.campaign.LastError = "paused due to connection loss"
	o.pushChangeLocked(prev)
	o.mu.Unlock()

	o.notifier.ConnectionLost()

	if err := o.svc.Pause(ctx, id); err != nil {
		o.metrics.RecordRemoteError("pause")
		o.logger.Warn("auto-pause call failed", "campaign_id", id, "error", err)
	}
}

// HandleOnline reacts to connectivity returning. If the campaign was
// auto-paused it waits a short settling delay (flapping connections
// should not bounce the campaign), then resumes. A failed automatic
// resume clears the flag: the user resumes manually instead of the
// orchestrator retrying forever.
func (o *Orchestrator) HandleOnline(ctx context.Context) {
	o.metrics.SetOnline(true)

	o.mu.Lock()
	o.offline = false
	id := o.campaign.ID
	shouldResume := o.autoPaused && o.campaign.Status == model.StatusPaused && id != ""
	o.mu.Unlock()

	if !shouldResume {
		return
	}

	select {
	case <-ctx.Done():
		return
	case <-time.After(o.settleDelay):
	}

	o.mu.Lock()
	stillAutoPaused := o.autoPaused && o.campaign.Status == model.StatusPaused && o.campaign.ID == id
	o.mu.Unlock()
	if !stillAutoPaused {
		return
	}

	if err := o.svc.Resume(ctx, id); err != nil {
		o.metrics.RecordRemoteError("resume")
		o.mu.Lock()
		o.autoPaused = false
		o.campaign.LastError = "automatic resume failed, resume manually: " + err.Error()
		o.mu.Unlock()
		o.notifier.Error("automatic resume failed, resume manually")
		return
	}

	o.mu.Lock()
	prev := o.campaign.Status
	o.autoPaused = false
	o.campaign.Status = model.StatusRunning
	o.campaign.LastError = ""
	o.pushChangeLocked(prev)
	o.mu.Unlock()

	o.notifier.ConnectionRestored()
}

// failLocally moves the state machine to error with a message.
func (o *Orchestrator) failLocally(err error) {
	o.mu.Lock()
	prev := o.campaign.Status
	o.campaign.Status = model.StatusError
	o.campaign.LastError = err.Error()
	o.pushChangeLocked(prev)
	o.mu.Unlock()
}

func (o *Orchestrator) setError(msg string) {
	o.mu.Lock()
	o.campaign.LastError = msg
	o.mu.Unlock()
}

// pushChangeLocked publishes a state change without blocking. The
// channel keeps the newest events when the consumer lags.
func (o *Orchestrator) pushChangeLocked(prev model.Status) {
	o.metrics.RecordTransition(string(prev), string(o.campaign.Status))

	ch := Change{Prev: prev, Status: o.campaign.Status, CampaignID: o.campaign.ID}
	for {
		select {
		case o.changes <- ch:
			return
		default:
		}
		select {
		case <-o.changes:
		default:
		}
	}
}

// validateRecipients checks the start preconditions: a non-empty list
// with a template on every recipient.
func validateRecipients(recipients []model.Recipient) error {
	if len(recipients) == 0 {
		return ErrNoRecipients
	}
	for _, r := range recipients {
		if r.TemplateID == "" {
			return fmt.Errorf("recipient %s has no template", r.Email)
		}
	}
	return nil
}

// splitName splits a display name into first and last parts.
func splitName(name string) (first, last string) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ""
	}
	parts := strings.SplitN(name, " ", 2)
	if len(parts) == 1 {
		return parts[0], ""
	}
	return parts[0], parts[1]
}
