// Package events is the in-process broadcast hub for lightweight status
// events. Consumers (the SSE endpoint, tests) subscribe; producers publish
// without blocking — a slow subscriber drops events rather than stalling the
// trading path.
package events

import (
	"sync"
	"time"
)

// EventType labels a status event for subscribers.
type EventType string

const (
	EventBotState       EventType = "bot_state"
	EventSignalFired    EventType = "signal_fired"
	EventSignalRejected EventType = "signal_rejected"
	EventPositionOpened EventType = "position_opened"
	EventPositionClosed EventType = "position_closed"
	EventPositionMissed EventType = "position_missed"
	EventConfigUpdated  EventType = "config_updated"
	EventStrategyReady  EventType = "strategy_recomputed"
)

// StatusEvent is the broadcast payload. Detail is intentionally shallow;
// clients reconcile positions and P&L through the read endpoints.
type StatusEvent struct {
	Type      EventType              `json:"type"`
	Symbol    string                 `json:"symbol,omitempty"`
	Detail    map[string]interface{} `json:"detail,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Hub fans StatusEvents out to subscribers.
type Hub struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]chan StatusEvent
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: map[int]chan StatusEvent{}}
}

// Subscribe registers a buffered subscriber channel. The returned cancel
// function removes the subscription and closes the channel.
func (h *Hub) Subscribe() (<-chan StatusEvent, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	ch := make(chan StatusEvent, 32)
	h.subs[id] = ch

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if sub, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish delivers the event to every subscriber without blocking. Full
// subscriber buffers drop the event.
func (h *Hub) Publish(event StatusEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs {
		select {
		case ch <- event:
		default:
		}
	}
}
