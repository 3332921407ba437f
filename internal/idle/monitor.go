// Package idle logs an authenticated client out after a period without
// interaction. A hidden view ages the last-activity mark so backgrounded
// sessions expire sooner.
package idle

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config holds the inactivity thresholds
type Config struct {
	Timeout       time.Duration
	CheckInterval time.Duration
	// HiddenPenalty is subtracted from the last-activity mark when the view is hidden
	HiddenPenalty time.Duration
	// Throttle is the minimum spacing between recorded interactions
	Throttle time.Duration
}

// DefaultConfig returns 30 minutes of idleness checked every 2 minutes
func DefaultConfig() Config {
	return Config{
		Timeout:       30 * time.Minute,
		CheckInterval: 2 * time.Minute,
		HiddenPenalty: 5 * time.Minute,
		Throttle:      time.Second,
	}
}

// Monitor fires onIdle once when the session stays idle past the timeout.
// After firing it stops; a new login needs a new Monitor.
type Monitor struct {
	cfg             Config
	isAuthenticated func() bool
	onIdle          func()
	now             func() time.Time

	touch *rate.Sometimes

	mu       sync.Mutex
	last     time.Time
	stopped  bool
	stopCh   chan struct{}
	stopOnce sync.Once
}

// Option configures a Monitor
type Option func(*Monitor)

// WithClock replaces the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// New creates a monitor with the activity mark set to now
func New(cfg Config, isAuthenticated func() bool, onIdle func(), opts ...Option) *Monitor {
	m := &Monitor{
		cfg:             cfg,
		isAuthenticated: isAuthenticated,
		onIdle:          onIdle,
		now:             time.Now,
		stopCh:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	if cfg.Throttle > 0 {
		m.touch = &rate.Sometimes{Interval: cfg.Throttle}
	}
	m.last = m.now()
	return m
}

// Touch records an interaction. Calls closer together than the throttle
// interval are ignored; without a throttle every call counts.
func (m *Monitor) Touch() {
	if m.touch == nil {
		m.mark()
		return
	}
	m.touch.Do(m.mark)
}

func (m *Monitor) mark() {
	m.mu.Lock()
	m.last = m.now()
	m.mu.Unlock()
}

// SetHidden reports a visibility change. Becoming visible counts as activity.
func (m *Monitor) SetHidden(hidden bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if hidden {
		m.last = m.now().Add(-m.cfg.HiddenPenalty)
		return
	}
	m.last = m.now()
}

// LastActivity returns the current activity mark
func (m *Monitor) LastActivity() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// Check fires onIdle if the session is authenticated and idle past the
// timeout. It reports whether it fired; it fires at most once.
func (m *Monitor) Check() bool {
	m.mu.Lock()
	if m.stopped || m.now().Sub(m.last) <= m.cfg.Timeout {
		m.mu.Unlock()
		return false
	}
	m.mu.Unlock()

	if !m.isAuthenticated() {
		return false
	}

	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return false
	}
	m.stopped = true
	m.mu.Unlock()

	m.Stop()
	m.onIdle()
	return true
}

// Start runs Check every CheckInterval until Stop
func (m *Monitor) Start() {
	if m.cfg.CheckInterval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(m.cfg.CheckInterval)
		defer ticker.Stop()

		for {
			select {
			case <-m.stopCh:
				return
			case <-ticker.C:
				m.Check()
			}
		}
	}()
}

// Stop ends periodic checking
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}
