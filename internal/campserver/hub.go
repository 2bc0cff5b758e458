package campserver

import (
	"sync"

	"github.com/tidemail/tidemail/internal/remote"
)

// Hub fans campaign deltas out to SSE subscribers, scoped per campaign
// id. Slow subscribers drop deltas; the next broadcast carries the full
// authoritative state anyway.
type Hub struct {
	mu   sync.Mutex
	subs map[string]map[chan remote.CampaignStatus]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		subs: make(map[string]map[chan remote.CampaignStatus]struct{}),
	}
}

// Subscribe registers for deltas of one campaign. The returned cancel
// func must be called exactly once; it closes the channel.
func (h *Hub) Subscribe(campaignID string) (<-chan remote.CampaignStatus, func()) {
	ch := make(chan remote.CampaignStatus, 16)

	h.mu.Lock()
	if h.subs[campaignID] == nil {
		h.subs[campaignID] = make(map[chan remote.CampaignStatus]struct{})
	}
	h.subs[campaignID][ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if set, ok := h.subs[campaignID]; ok {
			delete(set, ch)
			if len(set) == 0 {
				delete(h.subs, campaignID)
			}
		}
		h.mu.Unlock()
		close(ch)
	}
	return ch, cancel
}

// Broadcast delivers a delta to all subscribers of its campaign.
func (h *Hub) Broadcast(st remote.CampaignStatus) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for ch := range h.subs[st.CampaignID] {
		select {
		case ch <- st:
		default:
		}
	}
}
