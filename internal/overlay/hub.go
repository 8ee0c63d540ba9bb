package overlay

import (
	"context"
	"sync"
	"time"
)

// EventType names an overlay change
type EventType string

const (
	EventCreated EventType = "created"
	EventUpdated EventType = "updated"
	EventDeleted EventType = "deleted"
)

// Event describes one change to the overlay store
type Event struct {
	Type      EventType `json:"type"`
	ID        string    `json:"id"`
	Overlay   *Overlay  `json:"overlay,omitempty"`
	Patch     *Patch    `json:"patch,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Hub fans out overlay events to listeners
type Hub struct {
	mu        sync.RWMutex
	listeners []chan Event
}

// NewHub creates an empty hub
func NewHub() *Hub {
	return &Hub{listeners: make([]chan Event, 0)}
}

// Subscribe adds a listener for overlay changes
func (h *Hub) Subscribe() chan Event {
	ch := make(chan Event, 16)
	h.mu.Lock()
	h.listeners = append(h.listeners, ch)
	h.mu.Unlock()
	return ch
}

// Unsubscribe removes a listener and closes its channel
func (h *Hub) Unsubscribe(ch chan Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i, listener := range h.listeners {
		if listener == ch {
			h.listeners = append(h.listeners[:i], h.listeners[i+1:]...)
			close(ch)
			break
		}
	}
}

// Publish notifies all listeners. Slow listeners miss the event.
func (h *Hub) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, listener := range h.listeners {
		select {
		case listener <- ev:
		default:
		}
	}
}

// Listeners returns the number of subscribed listeners
func (h *Hub) Listeners() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.listeners)
}

// notifyingStore publishes an event for every successful change
type notifyingStore struct {
	Store
	hub *Hub
}

// WithEvents wraps store so successful changes are published on hub
func WithEvents(store Store, hub *Hub) Store {
	return &notifyingStore{Store: store, hub: hub}
}

func (s *notifyingStore) Create(ctx context.Context, o Overlay) (string, error) {
	id, err := s.Store.Create(ctx, o)
	if err != nil {
		return "", err
	}
	o.ID = id
	s.hub.Publish(Event{Type: EventCreated, ID: id, Overlay: &o})
	return id, nil
}

func (s *notifyingStore) Update(ctx context.Context, id string, patch Patch) (bool, error) {
	ok, err := s.Store.Update(ctx, id, patch)
	if err == nil && ok {
		s.hub.Publish(Event{Type: EventUpdated, ID: id, Patch: &patch})
	}
	return ok, err
}

func (s *notifyingStore) Delete(ctx context.Context, id string) (bool, error) {
	ok, err := s.Store.Delete(ctx, id)
	if err == nil && ok {
		s.hub.Publish(Event{Type: EventDeleted, ID: id})
	}
	return ok, err
}
