package sse

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fieldgate/backend/internal/events"
	"github.com/fieldgate/backend/internal/metrics"
)

// ConnectionManager tracks open streams per session namespace.
type ConnectionManager struct {
	mu          sync.RWMutex
	connections map[string]map[string]*Connection // namespace -> connID -> Connection
	config      Config
	now         func() time.Time
}

// NewConnectionManager creates a new ConnectionManager with the given config.
func NewConnectionManager(config Config) *ConnectionManager {
	if config.MaxConnectionsPerNamespace <= 0 {
		config.MaxConnectionsPerNamespace = DefaultConfig().MaxConnectionsPerNamespace
	}
	return &ConnectionManager{
		connections: make(map[string]map[string]*Connection),
		config:      config,
		now:         time.Now,
	}
}

// AddConnection registers conn. When the namespace is at its limit the
// oldest stream receives a connection_limit event and is closed.
func (cm *ConnectionManager) AddConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	conns := cm.connections[conn.Namespace]
	if conns == nil {
		conns = make(map[string]*Connection)
		cm.connections[conn.Namespace] = conns
	}

	if len(conns) >= cm.config.MaxConnectionsPerNamespace {
		if oldest := oldestConnection(conns); oldest != nil {
			oldest.Deliver(cm.limitEvent(oldest.Namespace))
			oldest.Close()
			delete(conns, oldest.ID)
			metrics.SSEConnections.Dec()
		}
	}

	conns[conn.ID] = conn
	metrics.SSEConnections.Inc()
}

// RemoveConnection closes and forgets a connection.
func (cm *ConnectionManager) RemoveConnection(namespace, connID string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	conns, exists := cm.connections[namespace]
	if !exists {
		return
	}
	if conn, ok := conns[connID]; ok {
		conn.Close()
		delete(conns, connID)
		metrics.SSEConnections.Dec()
	}
	if len(conns) == 0 {
		delete(cm.connections, namespace)
	}
}

// CountConnections returns the number of open streams for a namespace.
func (cm *ConnectionManager) CountConnections(namespace string) int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	count := 0
	for _, conn := range cm.connections[namespace] {
		if !conn.IsClosed() {
			count++
		}
	}
	return count
}

// TotalConnections returns the number of open streams across namespaces.
func (cm *ConnectionManager) TotalConnections() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	total := 0
	for _, conns := range cm.connections {
		total += len(conns)
	}
	return total
}

// CleanupTimedOutConnections closes streams older than ConnectionTimeout
// and returns how many were dropped.
func (cm *ConnectionManager) CleanupTimedOutConnections() int {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	cutoff := cm.now().Add(-cm.config.ConnectionTimeout)
	removed := 0
	for namespace, conns := range cm.connections {
		for connID, conn := range conns {
			if conn.IsClosed() || conn.CreatedAt.Before(cutoff) {
				conn.Close()
				delete(conns, connID)
				metrics.SSEConnections.Dec()
				removed++
			}
		}
		if len(conns) == 0 {
			delete(cm.connections, namespace)
		}
	}
	return removed
}

// CloseAll closes every stream; their handlers return once queued events
// are written.
func (cm *ConnectionManager) CloseAll() {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	for namespace, conns := range cm.connections {
		for _, conn := range conns {
			conn.Close()
			metrics.SSEConnections.Dec()
		}
		delete(cm.connections, namespace)
	}
}

// Run sweeps timed-out connections every interval until ctx is cancelled.
func (cm *ConnectionManager) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cm.CleanupTimedOutConnections()
		}
	}
}

func (cm *ConnectionManager) limitEvent(namespace string) events.Event {
	data, _ := json.Marshal(events.ConnectionLimitEvent{
		Message:        "Maximum connections exceeded, closing oldest connection",
		MaxConnections: cm.config.MaxConnectionsPerNamespace,
	})
	return events.Event{
		ID:        uuid.New().String(),
		Type:      events.EventTypeConnectionLimit,
		Namespace: namespace,
		Data:      data,
		Timestamp: cm.now(),
	}
}

func oldestConnection(conns map[string]*Connection) *Connection {
	var oldest *Connection
	for _, conn := range conns {
		if oldest == nil || conn.CreatedAt.Before(oldest.CreatedAt) {
			oldest = conn
		}
	}
	return oldest
}
