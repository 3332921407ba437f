// Package storage provides the key/value slots that back a client context:
// ephemeral session storage (current user, client id) and durable storage
// (the remember-me token). Both are exposed through the same Store interface
// with an in-memory and a Redis implementation.
package storage

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrUnavailable wraps backend failures so callers can tell them apart from a miss.
var ErrUnavailable = errors.New("storage unavailable")

// Store is a namespaced string key/value store with optional expiry.
type Store interface {
	// Get returns the value and whether it was present.
	Get(ctx context.Context, namespace, key string) (string, bool, error)
	// Set stores a value. A zero ttl means no expiry.
	Set(ctx context.Context, namespace, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, namespace, key string) error
	Ping(ctx context.Context) error
}

// Namespace binds a Store to one client context and a default ttl.
type Namespace struct {
	store Store
	name  string
	ttl   time.Duration
}

// NewNamespace returns the slot set for one client context
func NewNamespace(store Store, name string, ttl time.Duration) Namespace {
	return Namespace{store: store, name: name, ttl: ttl}
}

// Name returns the namespace identifier
func (n Namespace) Name() string { return n.name }

func (n Namespace) Get(ctx context.Context, key string) (string, bool, error) {
	return n.store.Get(ctx, n.name, key)
}

func (n Namespace) Set(ctx context.Context, key, value string) error {
	return n.store.Set(ctx, n.name, key, value, n.ttl)
}

// SetWithTTL stores a value with an explicit expiry
func (n Namespace) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	return n.store.Set(ctx, n.name, key, value, ttl)
}

func (n Namespace) Remove(ctx context.Context, key string) error {
	return n.store.Delete(ctx, n.name, key)
}

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

// MemoryStore is a process-local Store. Expired entries are dropped on read
// and by Sweep.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// WithClock replaces the time source, for tests.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.now = now
	return s
}

func memoryKey(namespace, key string) string {
	return namespace + "\x00" + key
}

func (s *MemoryStore) Get(_ context.Context, namespace, key string) (string, bool, error) {
	k := memoryKey(namespace, key)

	s.mu.RLock()
	entry, ok := s.entries[k]
	s.mu.RUnlock()

	if !ok {
		return "", false, nil
	}
	if !entry.expiresAt.IsZero() && !s.now().Before(entry.expiresAt) {
		s.mu.Lock()
		delete(s.entries, k)
		s.mu.Unlock()
		return "", false, nil
	}
	return entry.value, true, nil
}

func (s *MemoryStore) Set(_ context.Context, namespace, key, value string, ttl time.Duration) error {
	entry := memoryEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = s.now().Add(ttl)
	}

	s.mu.Lock()
	s.entries[memoryKey(namespace, key)] = entry
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, namespace, key string) error {
	s.mu.Lock()
	delete(s.entries, memoryKey(namespace, key))
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

// Sweep removes expired entries and returns how many were dropped
func (s *MemoryStore) Sweep() int {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for k, entry := range s.entries {
		if !entry.expiresAt.IsZero() && !now.Before(entry.expiresAt) {
			delete(s.entries, k)
			removed++
		}
	}
	return removed
}
