package events

import "time"

// Event type constants
const (
	EventTypeConnected       = "connected"
	EventTypeHeartbeat       = "heartbeat"
	EventTypeSessionStarted  = "session_started"
	EventTypeSessionEnded    = "session_ended"
	EventTypeConnectionLimit = "connection_limit"
)

// ConnectedEvent is sent when a client establishes a stream.
type ConnectedEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}

// HeartbeatEvent keeps idle streams open through proxies.
type HeartbeatEvent struct {
	Timestamp time.Time `json:"timestamp"`
}

// SessionStartedEvent is sent after a login in the context.
type SessionStartedEvent struct {
	Username  string    `json:"username"`
	Redirect  string    `json:"redirect"`
	StartedAt time.Time `json:"startedAt"`
}

// SessionEndedEvent is sent when the session of a context ends, whether by
// explicit logout, inactivity or revocation of the account.
type SessionEndedEvent struct {
	Reason   string    `json:"reason"`
	Redirect string    `json:"redirect"`
	EndedAt  time.Time `json:"endedAt"`
}

// ConnectionLimitEvent is sent to the oldest stream of a namespace before
// it is closed to make room for a new one.
type ConnectionLimitEvent struct {
	Message        string `json:"message"`
	MaxConnections int    `json:"maxConnections"`
}
