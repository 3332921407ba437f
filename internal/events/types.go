// Package events carries session lifecycle notifications to the browser
// contexts they concern. Events are keyed by session namespace.
package events

import (
	"encoding/json"
	"time"
)

// Event is a notification for one client context.
type Event struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Namespace string          `json:"-"` // routing only, never sent
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

// EventHandler receives published events. It runs on the publisher's
// goroutine and must not block.
type EventHandler func(event Event)

// EventBus defines the interface for publishing and subscribing to events.
type EventBus interface {
	Publish(event Event) error
	// Subscribe registers a handler for one namespace and returns the
	// function that removes it.
	Subscribe(namespace string, handler EventHandler) (unsubscribe func())
	// GetEventsSince returns events after the given event ID for replay.
	GetEventsSince(namespace string, lastEventID string) ([]Event, error)
}

// EventStore keeps recent events for replay after a reconnect.
type EventStore interface {
	Store(event Event) error
	GetSince(namespace string, eventID string, limit int) ([]Event, error)
	Cleanup(olderThan time.Duration) error
}
