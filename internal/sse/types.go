// Package sse streams session events to browser contexts over Server-Sent
// Events, so a tab learns about an idle logout without polling.
package sse

import (
	"sync"
	"time"

	"github.com/fieldgate/backend/internal/events"
)

// Config holds SSE server configuration.
type Config struct {
	HeartbeatInterval          time.Duration // Default: 30 seconds
	ConnectionTimeout          time.Duration // Default: 1 hour
	MaxConnectionsPerNamespace int           // Default: 3
	EventBufferSize            int           // Default: 16 pending events per stream
}

// DefaultConfig returns the default SSE configuration.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval:          30 * time.Second,
		ConnectionTimeout:          time.Hour,
		MaxConnectionsPerNamespace: 3,
		EventBufferSize:            16,
	}
}

// Connection is one open stream. Events reach it through Deliver and are
// written by the goroutine serving the request.
type Connection struct {
	ID        string
	Namespace string
	CreatedAt time.Time

	send      chan events.Event
	done      chan struct{}
	closeOnce sync.Once
}

// NewConnection creates a connection buffering up to buffer pending events.
func NewConnection(id, namespace string, buffer int, createdAt time.Time) *Connection {
	if buffer <= 0 {
		buffer = 1
	}
	return &Connection{
		ID:        id,
		Namespace: namespace,
		CreatedAt: createdAt,
		send:      make(chan events.Event, buffer),
		done:      make(chan struct{}),
	}
}

// Deliver queues an event without blocking. It reports false when the
// connection is closed or its buffer is full.
func (c *Connection) Deliver(event events.Event) bool {
	if c.IsClosed() {
		return false
	}
	select {
	case c.send <- event:
		return true
	default:
		return false
	}
}

// Close closes the connection. Events already queued are still written.
func (c *Connection) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// Done is closed when the connection is closed.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// IsClosed returns true if the connection is closed.
func (c *Connection) IsClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}
