package sse

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/fieldgate/backend/internal/auth"
	"github.com/fieldgate/backend/internal/events"
	"github.com/fieldgate/backend/internal/metrics"
	authmw "github.com/fieldgate/backend/internal/middleware"
)

// Handler serves session event streams.
type Handler struct {
	config      Config
	connManager *ConnectionManager
	eventBus    events.EventBus
	tokens      *auth.TokenService
	logger      *slog.Logger
	now         func() time.Time
}

// NewHandler creates a new SSE handler.
func NewHandler(config Config, connManager *ConnectionManager, eventBus events.EventBus, tokens *auth.TokenService, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		config:      config,
		connManager: connManager,
		eventBus:    eventBus,
		tokens:      tokens,
		logger:      logger,
		now:         time.Now,
	}
}

// HandleStream streams the events of the caller's session namespace until
// the client goes away, the stream is evicted or ConnectionTimeout passes.
func (h *Handler) HandleStream(w http.ResponseWriter, r *http.Request) {
	namespace, err := h.authenticate(r)
	if err != nil {
		h.writeUnauthorized(w)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, ErrStreamingNotSupported.Error(), http.StatusInternalServerError)
		return
	}

	// streams outlive the server's write timeout
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	conn := NewConnection(uuid.New().String(), namespace, h.config.EventBufferSize, h.now())
	h.connManager.AddConnection(conn)
	defer h.connManager.RemoveConnection(namespace, conn.ID)

	// Subscribe before replaying so nothing published in between is lost.
	// An event may then arrive twice; clients dedupe on id.
	unsubscribe := h.eventBus.Subscribe(namespace, func(event events.Event) {
		if !conn.Deliver(event) {
			metrics.SSEEventsDropped.Inc()
		}
	})
	defer unsubscribe()

	send := func(event events.Event) error {
		if _, err := io.WriteString(w, FormatSSEEvent(event)); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	if err := send(h.newEvent(namespace, events.EventTypeConnected, events.ConnectedEvent{
		Timestamp: h.now(),
		Message:   "Connected to session events",
	})); err != nil {
		return
	}

	lastEventID := r.Header.Get("Last-Event-ID")
	if lastEventID == "" {
		lastEventID = r.URL.Query().Get("lastEventId")
	}
	if lastEventID != "" {
		missed, err := h.eventBus.GetEventsSince(namespace, lastEventID)
		if err != nil {
			h.logger.Warn("event replay failed", slog.String("error", err.Error()))
		}
		for _, event := range missed {
			if err := send(event); err != nil {
				return
			}
		}
	}

	heartbeat := time.NewTicker(h.config.HeartbeatInterval)
	defer heartbeat.Stop()
	timeout := time.NewTimer(h.config.ConnectionTimeout)
	defer timeout.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-timeout.C:
			return
		case <-conn.Done():
			// evicted; flush what was queued, including the limit notice
			for {
				select {
				case event := <-conn.send:
					if send(event) != nil {
						return
					}
				default:
					return
				}
			}
		case event := <-conn.send:
			if err := send(event); err != nil {
				return
			}
		case <-heartbeat.C:
			if err := send(h.newEvent(namespace, events.EventTypeHeartbeat, events.HeartbeatEvent{Timestamp: h.now()})); err != nil {
				return
			}
		}
	}
}

// authenticate resolves the session namespace from the token query
// parameter or the usual token headers.
func (h *Handler) authenticate(r *http.Request) (string, error) {
	token := r.URL.Query().Get("token")
	if token == "" {
		var code string
		token, code, _ = authmw.TokenFromRequest(r)
		if code != "" {
			return "", ErrInvalidToken
		}
	}

	claims, err := h.tokens.ValidateContextToken(token)
	if err != nil {
		return "", ErrInvalidToken
	}
	return claims.Namespace(), nil
}

func (h *Handler) newEvent(namespace, eventType string, payload any) events.Event {
	data, _ := json.Marshal(payload)
	return events.Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Namespace: namespace,
		Data:      data,
		Timestamp: h.now(),
	}
}

// writeUnauthorized writes a 401 Unauthorized response.
func (h *Handler) writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]any{
		"success": false,
		"error": map[string]string{
			"code":    "AUTH_TOKEN_INVALID",
			"message": ErrInvalidToken.Error(),
		},
		"timestamp": time.Now().UTC(),
	})
}

// FormatSSEEvent formats an event as an SSE message.
// Format: event: <type>\ndata: <json>\nid: <id>\n\n
func FormatSSEEvent(event events.Event) string {
	return fmt.Sprintf("event: %s\ndata: %s\nid: %s\n\n",
		event.Type,
		string(event.Data),
		event.ID,
	)
}
