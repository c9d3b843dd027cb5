// Package notify delivers level-up and badge notifications to connected
// clients, in-process through a Hub and across instances over Redis.
package notify

import (
	"context"
	"log/slog"
	"sync"

	"github.com/p-n-ai/pai-progress/internal/progress"
)

const defaultBuffer = 16

// Hub fans notifications out to per-user subscribers. Slow subscribers
// lose notifications instead of blocking the writer.
type Hub struct {
	subs   map[string]map[*Subscription]struct{}
	buffer int
	mu     sync.RWMutex
}

// Subscription receives a user's notifications on C until Close.
type Subscription struct {
	C <-chan progress.Notification

	ch     chan progress.Notification
	hub    *Hub
	userID string
	once   sync.Once
}

// NewHub creates a hub whose subscriptions buffer up to buffer
// notifications.
func NewHub(buffer int) *Hub {
	if buffer < 1 {
		buffer = defaultBuffer
	}
	return &Hub{
		subs:   make(map[string]map[*Subscription]struct{}),
		buffer: buffer,
	}
}

// Subscribe registers a new subscriber for userID.
func (h *Hub) Subscribe(userID string) *Subscription {
	ch := make(chan progress.Notification, h.buffer)
	s := &Subscription{C: ch, ch: ch, hub: h, userID: userID}

	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subs[userID]
	if !ok {
		set = make(map[*Subscription]struct{})
		h.subs[userID] = set
	}
	set[s] = struct{}{}
	return s
}

// Close unregisters the subscription and closes C.
func (s *Subscription) Close() {
	s.once.Do(func() {
		h := s.hub
		h.mu.Lock()
		defer h.mu.Unlock()
		if set, ok := h.subs[s.userID]; ok {
			delete(set, s)
			if len(set) == 0 {
				delete(h.subs, s.userID)
			}
		}
		close(s.ch)
	})
}

// Notify delivers n to the local subscribers of n.UserID.
func (h *Hub) Notify(_ context.Context, n progress.Notification) error {
	h.deliver(n)
	return nil
}

func (h *Hub) deliver(n progress.Notification) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.subs[n.UserID] {
		select {
		case s.ch <- n:
		default:
			slog.Warn("notification dropped for slow subscriber",
				"user_id", n.UserID,
				"kind", n.Kind,
			)
		}
	}
}

// Subscribers returns the number of open subscriptions for userID.
func (h *Hub) Subscribers(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[userID])
}
