package events

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// SessionNotifier turns session lifecycle changes into events on a bus.
type SessionNotifier struct {
	bus    EventBus
	logger *slog.Logger
	now    func() time.Time
}

// NewSessionNotifier creates a notifier publishing to bus
func NewSessionNotifier(bus EventBus, logger *slog.Logger) *SessionNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionNotifier{bus: bus, logger: logger, now: time.Now}
}

// SessionStarted publishes a session_started event to namespace
func (n *SessionNotifier) SessionStarted(namespace, username, redirect string) {
	now := n.now()
	n.publish(namespace, EventTypeSessionStarted, now, SessionStartedEvent{
		Username:  username,
		Redirect:  redirect,
		StartedAt: now,
	})
}

// SessionEnded publishes a session_ended event to namespace
func (n *SessionNotifier) SessionEnded(namespace, reason, redirect string) {
	now := n.now()
	n.publish(namespace, EventTypeSessionEnded, now, SessionEndedEvent{
		Reason:   reason,
		Redirect: redirect,
		EndedAt:  now,
	})
}

func (n *SessionNotifier) publish(namespace, eventType string, at time.Time, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		n.logger.Error("failed to encode event", slog.String("event_type", eventType), slog.String("error", err.Error()))
		return
	}

	err = n.bus.Publish(Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Namespace: namespace,
		Data:      data,
		Timestamp: at,
	})
	if err != nil {
		n.logger.Warn("failed to publish event", slog.String("event_type", eventType), slog.String("error", err.Error()))
	}
}
