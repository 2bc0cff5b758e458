package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

// Notifier surfaces user-facing alerts on campaign transitions. All
// implementations are best-effort and must never block orchestration.
type Notifier interface {
	Started(total int)
	Paused(sent, total int)
	Completed(sent, failed int)
	Error(message string)
	ConnectionLost()
	ConnectionRestored()
}

// LogNotifier writes notifications to the structured log.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a log-backed notifier.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With("component", "notify")}
}

func (n *LogNotifier) Started(total int) {
	n.logger.Info("campaign started", "total", total)
}

func (n *LogNotifier) Paused(sent, total int) {
	n.logger.Info("campaign paused", "sent", sent, "total", total)
}

func (n *LogNotifier) Completed(sent, failed int) {
	n.logger.Info("campaign completed", "sent", sent, "failed", failed)
}

func (n *LogNotifier) Error(message string) {
	n.logger.Warn("campaign error", "message", message)
}

func (n *LogNotifier) ConnectionLost() {
	n.logger.Warn("connection lost, campaign paused")
}

func (n *LogNotifier) ConnectionRestored() {
	n.logger.Info("connection restored, campaign resumed")
}

// WebhookNotifier POSTs notification events to a configured URL.
// Delivery failures are logged and dropped.
type WebhookNotifier struct {
	url        string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewWebhookNotifier creates a webhook-backed notifier.
func NewWebhookNotifier(url string, logger *slog.Logger) *WebhookNotifier {
	return &WebhookNotifier{
		url: url,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
		logger: logger.With("component", "notify_webhook"),
	}
}

type webhookEvent struct {
	Event   string `json:"event"`
	Message string `json:"message,omitempty"`
	Sent    int    `json:"sent,omitempty"`
	Failed  int    `json:"failed,omitempty"`
	Total   int    `json:"total,omitempty"`
}

func (n *WebhookNotifier) post(ev webhookEvent) {
	go func() {
		data, err := json.Marshal(ev)
		if err != nil {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(data))
		if err != nil {
			n.logger.Debug("webhook request failed", "error", err)
			return
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := n.httpClient.Do(req)
		if err != nil {
			n.logger.Debug("webhook delivery failed", "event", ev.Event, "error", err)
			return
		}
		resp.Body.Close()

		if resp.StatusCode >= 400 {
			n.logger.Debug("webhook rejected", "event", ev.Event, "status", resp.StatusCode)
		}
	}()
}

func (n *WebhookNotifier) Started(total int) {
	n.post(webhookEvent{Event: "started", Total: total})
}

func (n *WebhookNotifier) Paused(sent, total int) {
	n.post(webhookEvent{Event: "paused", Sent: sent, Total: total})
}

func (n *WebhookNotifier) Completed(sent, failed int) {
	n.post(webhookEvent{Event: "completed", Sent: sent, Failed: failed})
}

func (n *WebhookNotifier) Error(message string) {
	n.post(webhookEvent{Event: "error", Message: message})
}

func (n *WebhookNotifier) ConnectionLost() {
	n.post(webhookEvent{Event: "connection_lost", Message: "paused due to connection loss"})
}

func (n *WebhookNotifier) ConnectionRestored() {
	n.post(webhookEvent{Event: "connection_restored"})
}

// Multi fans notifications out to several notifiers.
type Multi []Notifier

func (m Multi) Started(total int)          { m.each(func(n Notifier) { n.Started(total) }) }
func (m Multi) Paused(sent, total int)     { m.each(func(n Notifier) { n.Paused(sent, total) }) }
func (m Multi) Completed(sent, failed int) { m.each(func(n Notifier) { n.Completed(sent, failed) }) }
func (m Multi) Error(message string)       { m.each(func(n Notifier) { n.Error(message) }) }
func (m Multi) ConnectionLost()            { m.each(func(n Notifier) { n.ConnectionLost() }) }
func (m Multi) ConnectionRestored()        { m.each(func(n Notifier) { n.ConnectionRestored() }) }

func (m Multi) each(fn func(Notifier)) {
	for _, n := range m {
		fn(n)
	}
}
