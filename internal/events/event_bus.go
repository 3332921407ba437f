package events

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// ErrMissingNamespace is returned when an event has no target namespace
var ErrMissingNamespace = errors.New("event must have a namespace")

// replayLimit caps how many events one reconnect replays
const replayLimit = 100

// InMemoryEventBus implements EventBus with synchronous in-process delivery.
type InMemoryEventBus struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]EventHandler // namespace -> subscriptionID -> handler
	store       EventStore
	logger      *slog.Logger
}

// NewEventBus creates a bus. store may be nil, which disables replay.
func NewEventBus(store EventStore, logger *slog.Logger) *InMemoryEventBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &InMemoryEventBus{
		subscribers: make(map[string]map[string]EventHandler),
		store:       store,
		logger:      logger,
	}
}

// Publish stores the event for replay and hands it to every subscriber of
// its namespace.
func (eb *InMemoryEventBus) Publish(event Event) error {
	if event.Namespace == "" {
		return ErrMissingNamespace
	}

	if eb.store != nil {
		if err := eb.store.Store(event); err != nil {
			eb.logger.Warn("failed to store event for replay",
				slog.String("event_type", event.Type),
				slog.String("error", err.Error()),
			)
		}
	}

	eb.mu.RLock()
	handlers := make([]EventHandler, 0, len(eb.subscribers[event.Namespace]))
	for _, handler := range eb.subscribers[event.Namespace] {
		handlers = append(handlers, handler)
	}
	eb.mu.RUnlock()

	for _, handler := range handlers {
		handler(event)
	}
	return nil
}

// Subscribe registers a handler for events of one namespace.
func (eb *InMemoryEventBus) Subscribe(namespace string, handler EventHandler) (unsubscribe func()) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.subscribers[namespace] == nil {
		eb.subscribers[namespace] = make(map[string]EventHandler)
	}

	subscriptionID := uuid.New().String()
	eb.subscribers[namespace][subscriptionID] = handler

	return func() {
		eb.mu.Lock()
		defer eb.mu.Unlock()

		if handlers, exists := eb.subscribers[namespace]; exists {
			delete(handlers, subscriptionID)
			if len(handlers) == 0 {
				delete(eb.subscribers, namespace)
			}
		}
	}
}

// GetEventsSince returns events after lastEventID for replay.
func (eb *InMemoryEventBus) GetEventsSince(namespace string, lastEventID string) ([]Event, error) {
	if eb.store == nil {
		return []Event{}, nil
	}
	return eb.store.GetSince(namespace, lastEventID, replayLimit)
}

// SubscriberCount returns the number of subscribers for a namespace.
func (eb *InMemoryEventBus) SubscriberCount(namespace string) int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.subscribers[namespace])
}
