// Package notify fans admission and check-in updates out to dashboard
// subscribers. Publishing never blocks: a subscriber whose buffer is full
// misses the update.
package notify

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/Shivanand-hulikatti/event-admission/internal/model"
)

// DefaultBuffer is the per-subscriber queue length.
const DefaultBuffer = 64

// Hub is a registry of subscribers keyed by event ID.
type Hub struct {
	mu      sync.RWMutex
	subs    map[string]map[*Subscription]struct{}
	buffer  int
	dropped atomic.Uint64
	logger  *slog.Logger
}

// NewHub constructs a Hub. buffer <= 0 selects DefaultBuffer.
func NewHub(buffer int, logger *slog.Logger) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Hub{
		subs:   make(map[string]map[*Subscription]struct{}),
		buffer: buffer,
		logger: logger,
	}
}

// Subscription receives the updates of one event on C until closed.
type Subscription struct {
	C       <-chan model.LiveEvent
	ch      chan model.LiveEvent
	eventID string
	hub     *Hub
	once    sync.Once
}

// Subscribe registers a new subscriber for eventID.
func (h *Hub) Subscribe(eventID string) *Subscription {
	ch := make(chan model.LiveEvent, h.buffer)
	sub := &Subscription{C: ch, ch: ch, eventID: eventID, hub: h}

	h.mu.Lock()
	set, ok := h.subs[eventID]
	if !ok {
		set = make(map[*Subscription]struct{})
		h.subs[eventID] = set
	}
	set[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

// Close unregisters the subscription and closes C. Safe to call twice.
func (s *Subscription) Close() {
	s.once.Do(func() {
		h := s.hub
		h.mu.Lock()
		if set, ok := h.subs[s.eventID]; ok {
			delete(set, s)
			if len(set) == 0 {
				delete(h.subs, s.eventID)
			}
		}
		close(s.ch)
		h.mu.Unlock()
	})
}

// Publish broadcasts ev to every subscriber of ev.EventID.
func (h *Hub) Publish(ev model.LiveEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs[ev.EventID] {
		select {
		case sub.ch <- ev:
		default:
			n := h.dropped.Add(1)
			if h.logger != nil {
				h.logger.Warn("live update dropped",
					"event_id", ev.EventID, "type", ev.Type, "dropped_total", n)
			}
		}
	}
}

// Subscribers returns the number of subscribers of eventID.
func (h *Hub) Subscribers(eventID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[eventID])
}

// Dropped returns the number of updates discarded for slow subscribers.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}
