// Package tracking holds the in-process location fan-out hub. The subscriber
// registry is partitioned per bus: membership changes and publishes on one
// bus never contend with, or leak into, another bus's feed.
package tracking

import (
	"sync"

	"github.com/narvaro/busline/internal/domain"
)

const defaultBuffer = 16

type Hub struct {
	mu    sync.RWMutex
	buses map[int64]*busFeed
}

type busFeed struct {
	mu   sync.RWMutex
	subs map[string]chan domain.LocationSample
}

func NewHub() *Hub {
	return &Hub{buses: make(map[int64]*busFeed)}
}

// Subscribe associates connID with busID and returns the delivery channel.
// A connection may subscribe to several buses; each association is
// independent. Subscribing twice to the same bus replaces the previous
// channel.
func (h *Hub) Subscribe(connID string, busID int64) <-chan domain.LocationSample {
	h.mu.Lock()
	feed, ok := h.buses[busID]
	if !ok {
		feed = &busFeed{subs: make(map[string]chan domain.LocationSample)}
		h.buses[busID] = feed
	}
	h.mu.Unlock()

	ch := make(chan domain.LocationSample, defaultBuffer)

	feed.mu.Lock()
	if old, ok := feed.subs[connID]; ok {
		close(old)
	}
	feed.subs[connID] = ch
	feed.mu.Unlock()

	return ch
}

// Unsubscribe removes the association and closes its channel. Removing an
// association that does not exist is a no-op.
func (h *Hub) Unsubscribe(connID string, busID int64) {
	h.mu.RLock()
	feed, ok := h.buses[busID]
	h.mu.RUnlock()
	if !ok {
		return
	}

	feed.mu.Lock()
	if ch, ok := feed.subs[connID]; ok {
		close(ch)
		delete(feed.subs, connID)
	}
	feed.mu.Unlock()
}

// UnsubscribeAll drops every association for a closed connection and
// returns the buses it was detached from.
func (h *Hub) UnsubscribeAll(connID string) []int64 {
	h.mu.RLock()
	feeds := make(map[int64]*busFeed, len(h.buses))
	for id, f := range h.buses {
		feeds[id] = f
	}
	h.mu.RUnlock()

	var dropped []int64
	for id, feed := range feeds {
		feed.mu.Lock()
		if ch, ok := feed.subs[connID]; ok {
			close(ch)
			delete(feed.subs, connID)
			dropped = append(dropped, id)
		}
		feed.mu.Unlock()
	}

	return dropped
}

// Publish delivers the sample to every subscriber of that bus, and only that
// bus. Slow subscribers with a full buffer miss the sample rather than stall
// the fan-out. Returns the number of deliveries.
func (h *Hub) Publish(s domain.LocationSample) int {
	h.mu.RLock()
	feed, ok := h.buses[s.BusID]
	h.mu.RUnlock()
	if !ok {
		return 0
	}

	delivered := 0

	feed.mu.RLock()
	for _, ch := range feed.subs {
		select {
		case ch <- s:
			delivered++
		default:
		}
	}
	feed.mu.RUnlock()

	return delivered
}

// Subscribers reports the subscriber count for a bus.
func (h *Hub) Subscribers(busID int64) int {
	h.mu.RLock()
	feed, ok := h.buses[busID]
	h.mu.RUnlock()
	if !ok {
		return 0
	}

	feed.mu.RLock()
	defer feed.mu.RUnlock()

	return len(feed.subs)
}
