package campserver

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/tidemail/tidemail/internal/model"
)

// Sender delivers one personalized email. The actual transfer mechanics
// live behind this interface.
type Sender interface {
	Send(ctx context.Context, rec *RecipientRecord) error
}

// SandboxSender records sends in the log instead of delivering them.
type SandboxSender struct {
	logger *slog.Logger
}

// NewSandboxSender creates a sandbox sender.
func NewSandboxSender(logger *slog.Logger) *SandboxSender {
	return &SandboxSender{logger: logger.With("component", "sandbox_sender")}
}

// Send logs the would-be delivery.
func (s *SandboxSender) Send(ctx context.Context, rec *RecipientRecord) error {
	s.logger.Info("sandbox send",
		"campaign_id", rec.CampaignID,
		"position", rec.Position,
		"email", rec.Email,
		"template_id", rec.TemplateID,
	)
	return nil
}

// Worker advances campaigns one recipient at a time. It runs no loop of
// its own: every trigger call performs at most one step per running
// campaign, which lets the hosting environment be a short-lived
// invocation woken up by clients.
type Worker struct {
	storage *Storage
	sender  Sender
	hub     *Hub
	logger  *slog.Logger
	now     func() time.Time

	// One step at a time: recipient processing is serialized.
	mu sync.Mutex
}

// NewWorker creates a worker.
func NewWorker(storage *Storage, sender Sender, hub *Hub, logger *slog.Logger) *Worker {
	return &Worker{
		storage: storage,
		sender:  sender,
		hub:     hub,
		logger:  logger.With("component", "worker"),
		now:     time.Now,
	}
}

// Step advances every running campaign that is due. Returns the number
// of recipients processed.
func (w *Worker) Step(ctx context.Context) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	campaigns, err := w.storage.RunningCampaigns()
	if err != nil {
		return 0, fmt.Errorf("list running campaigns: %w", err)
	}

	processed := 0
	for _, c := range campaigns {
		if ctx.Err() != nil {
			return processed, ctx.Err()
		}
		n, err := w.stepCampaign(ctx, c)
		if err != nil {
			w.logger.Error("campaign step failed", "campaign_id", c.ID, "error", err)
			continue
		}
		processed += n
	}
	return processed, nil
}

func (w *Worker) stepCampaign(ctx context.Context, c *Campaign) (int, error) {
	now := w.now()
	if c.NextSendAt != nil && now.Before(*c.NextSendAt) {
		return 0, nil // delay window not elapsed
	}

	rec, err := w.storage.NextPending(c.ID)
	if err != nil {
		return 0, fmt.Errorf("next pending recipient: %w", err)
	}

	if rec == nil {
		// Queue drained: the campaign is done.
		c.Status = model.StatusCompleted
		c.CurrentEmail = ""
		c.CurrentTemplate = ""
		c.NextSendAt = nil
		if err := w.storage.SaveCampaign(c); err != nil {
			return 0, fmt.Errorf("complete campaign: %w", err)
		}
		w.hub.Broadcast(c.wireStatus())
		w.logger.Info("campaign completed", "campaign_id", c.ID, "sent", c.Sent, "failed", c.Failed)
		return 0, nil
	}

	c.CurrentEmail = rec.Email
	c.CurrentTemplate = rec.TemplateID

	sentAt := now
	sendErr := w.sender.Send(ctx, rec)
	if sendErr != nil {
		rec.Status = RecipientFailed
		rec.Error = sendErr.Error()
	} else {
		rec.Status = RecipientSent
	}
	rec.SentAt = &sentAt

	// Outcome is persisted before the campaign cursor advances.
	if err := w.storage.SaveRecipient(rec); err != nil {
		return 0, fmt.Errorf("save recipient outcome: %w", err)
	}

	if sendErr != nil {
		c.Failed++
	} else {
		c.Sent++
	}

	next := now.Add(w.sendDelay(c))
	c.NextSendAt = &next
	if err := w.storage.SaveCampaign(c); err != nil {
		return 0, fmt.Errorf("save campaign progress: %w", err)
	}

	w.hub.Broadcast(c.wireStatus())
	return 1, nil
}

// sendDelay picks a random delay within the campaign's [min, max]
// bounds between consecutive sends.
func (w *Worker) sendDelay(c *Campaign) time.Duration {
	min := c.Delay.MinSeconds
	max := c.Delay.MaxSeconds
	if min < 0 {
		min = 0
	}
	if max < min {
		max = min
	}
	if max == min {
		return time.Duration(min) * time.Second
	}
	return time.Duration(min+rand.IntN(max-min+1)) * time.Second
}
