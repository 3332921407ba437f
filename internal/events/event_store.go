package events

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// InMemoryEventStore keeps the most recent events in arrival order.
type InMemoryEventStore struct {
	mu         sync.RWMutex
	events     *list.List
	eventIndex map[string]*list.Element   // eventID -> element
	byNS       map[string][]*list.Element // namespace -> elements, oldest first
	maxSize    int
	now        func() time.Time
}

// NewEventStore creates a store holding at most maxSize events.
func NewEventStore(maxSize int) *InMemoryEventStore {
	if maxSize <= 0 {
		maxSize = 1000
	}

	return &InMemoryEventStore{
		events:     list.New(),
		eventIndex: make(map[string]*list.Element),
		byNS:       make(map[string][]*list.Element),
		maxSize:    maxSize,
		now:        time.Now,
	}
}

// Store saves an event, evicting the oldest one when full.
func (es *InMemoryEventStore) Store(event Event) error {
	es.mu.Lock()
	defer es.mu.Unlock()

	if es.events.Len() >= es.maxSize {
		es.removeElementLocked(es.events.Front())
	}

	elem := es.events.PushBack(event)
	es.eventIndex[event.ID] = elem
	es.byNS[event.Namespace] = append(es.byNS[event.Namespace], elem)
	return nil
}

// GetSince returns the namespace's events after eventID. An empty eventID
// returns the most recent events; an unknown one returns nothing, since the
// gap cannot be reconstructed.
func (es *InMemoryEventStore) GetSince(namespace string, eventID string, limit int) ([]Event, error) {
	es.mu.RLock()
	defer es.mu.RUnlock()

	if limit <= 0 {
		limit = replayLimit
	}

	result := make([]Event, 0)

	if eventID == "" {
		elems := es.byNS[namespace]
		start := 0
		if len(elems) > limit {
			start = len(elems) - limit
		}
		for _, elem := range elems[start:] {
			result = append(result, elem.Value.(Event))
		}
		return result, nil
	}

	startElem, exists := es.eventIndex[eventID]
	if !exists {
		return result, nil
	}

	for elem := startElem.Next(); elem != nil && len(result) < limit; elem = elem.Next() {
		if event := elem.Value.(Event); event.Namespace == namespace {
			result = append(result, event)
		}
	}
	return result, nil
}

// Cleanup removes events older than the given duration.
func (es *InMemoryEventStore) Cleanup(olderThan time.Duration) error {
	es.mu.Lock()
	defer es.mu.Unlock()

	cutoff := es.now().Add(-olderThan)
	for es.events.Len() > 0 {
		front := es.events.Front()
		if front.Value.(Event).Timestamp.After(cutoff) {
			break
		}
		es.removeElementLocked(front)
	}
	return nil
}

// Run drops events older than maxAge every interval until ctx is cancelled.
func (es *InMemoryEventStore) Run(ctx context.Context, interval, maxAge time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = es.Cleanup(maxAge)
		}
	}
}

// removeElementLocked removes an element from all indexes.
func (es *InMemoryEventStore) removeElementLocked(elem *list.Element) {
	event := elem.Value.(Event)
	es.events.Remove(elem)
	delete(es.eventIndex, event.ID)

	elems := es.byNS[event.Namespace]
	for i, e := range elems {
		if e == elem {
			elems = append(elems[:i], elems[i+1:]...)
			break
		}
	}
	if len(elems) == 0 {
		delete(es.byNS, event.Namespace)
	} else {
		es.byNS[event.Namespace] = elems
	}
}

// Len returns the number of stored events.
func (es *InMemoryEventStore) Len() int {
	es.mu.RLock()
	defer es.mu.RUnlock()
	return es.events.Len()
}
