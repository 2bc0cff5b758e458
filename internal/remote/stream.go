package remote

import (
	"bufio"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidemail/tidemail/internal/model"
)

const (
	streamInitialBackoff = time.Second
	streamMaxBackoff     = 30 * time.Second
)

// Subscription delivers authoritative deltas pushed by the campaign
// service for exactly one campaign id. It reconnects with backoff until
// closed; Close tears down the connection and closes Events.
type Subscription struct {
	events chan model.Delta
	cancel context.CancelFunc
	done   chan struct{}
}

// Events returns the delta channel. It is closed when the subscription
// shuts down.
func (s *Subscription) Events() <-chan model.Delta {
	return s.events
}

// Close stops the subscription and waits for the reader to exit.
func (s *Subscription) Close() {
	s.cancel()
	<-s.done
}

// Subscribe opens a server-sent-events stream for the campaign.
func (c *Client) Subscribe(ctx context.Context, campaignID string, logger *slog.Logger) *Subscription {
	ctx, cancel := context.WithCancel(ctx)
	sub := &Subscription{
		events: make(chan model.Delta, 16),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go func() {
		defer close(sub.done)
		defer close(sub.events)

		backoff := streamInitialBackoff
		for {
			err := c.readStream(ctx, campaignID, sub.events)
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				logger.Debug("event stream disconnected", "campaign_id", campaignID, "error", err)
			}

			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > streamMaxBackoff {
				backoff = streamMaxBackoff
			}
		}
	}()

	return sub
}

// readStream consumes one SSE connection until it drops.
func (c *Client) readStream(ctx context.Context, campaignID string, events chan<- model.Delta) error {
	path := c.baseURL + "/api/v1/campaigns/" + url.PathEscape(campaignID) + "/events"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	// The stream client must not time out while the connection idles
	// between deltas.
	streamClient := &http.Client{Transport: c.httpClient.Transport}
	resp, err := streamClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue // comments, event names, blank separators
		}

		var st CampaignStatus
		if err := json.Unmarshal([]byte(strings.TrimSpace(data)), &st); err != nil {
			continue
		}

		select {
		case events <- st.Delta():
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return scanner.Err()
}
