package security

import (
	"log/slog"
	"sync"
	"time"
)

// MonitorConfig holds the lockout thresholds
type MonitorConfig struct {
	// MaxFailedAttempts within BlockDuration blocks the identifier
	MaxFailedAttempts int
	BlockDuration     time.Duration
	// CleanupInterval is how often expired attempts are purged
	CleanupInterval  time.Duration
	ActivityCapacity int
}

// DefaultMonitorConfig returns the stock thresholds: 5 failures in 5 minutes.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		MaxFailedAttempts: 5,
		BlockDuration:     5 * time.Minute,
		CleanupInterval:   5 * time.Minute,
		ActivityCapacity:  50,
	}
}

// Monitor tracks failed login attempts per client identifier and keeps a
// bounded log of security-relevant activity.
type Monitor struct {
	cfg    MonitorConfig
	logger *slog.Logger
	now    func() time.Time

	mu     sync.Mutex
	failed map[string][]time.Time

	activity *ActivityLog

	setup sync.Once
	stop  chan struct{}
	done  sync.Once
}

// NewMonitor creates a monitor. The periodic cleanup starts lazily with the
// first logged activity and stops on Close.
func NewMonitor(cfg MonitorConfig, logger *slog.Logger) *Monitor {
	if cfg.MaxFailedAttempts <= 0 {
		cfg.MaxFailedAttempts = 5
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
		failed:   make(map[string][]time.Time),
		activity: NewActivityLog(cfg.ActivityCapacity),
		stop:     make(chan struct{}),
	}
}

// WithClock replaces the time source, for tests.
func (m *Monitor) WithClock(now func() time.Time) *Monitor {
	m.now = now
	return m
}

// LogActivity appends an entry to the activity log
func (m *Monitor) LogActivity(activityType string, details map[string]any) {
	m.setup.Do(m.startCleanup)

	m.activity.Append(Activity{
		Type:      activityType,
		Timestamp: m.now(),
		Details:   details,
	})

	m.logger.Info("security activity", slog.String("type", activityType), slog.Any("details", details))
}

// Activities returns the activity log, oldest first
func (m *Monitor) Activities() []Activity {
	return m.activity.Snapshot()
}

// RecordFailedAttempt records a failed login for identifier. The per-identifier
// history is capped at twice the block threshold.
func (m *Monitor) RecordFailedAttempt(identifier string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	attempts := append(m.failed[identifier], m.now())
	if len(attempts) > 2*m.cfg.MaxFailedAttempts {
		attempts = append(attempts[:0:0], attempts[len(attempts)-m.cfg.MaxFailedAttempts:]...)
	}
	m.failed[identifier] = attempts
}

// IsBlocked reports whether identifier reached the failure threshold within the block window
func (m *Monitor) IsBlocked(identifier string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	windowStart := m.now().Add(-m.cfg.BlockDuration)
	recent := 0
	for _, t := range m.failed[identifier] {
		if t.After(windowStart) {
			recent++
		}
	}
	return recent >= m.cfg.MaxFailedAttempts
}

// FailedAttempts returns how many failures are held for identifier
func (m *Monitor) FailedAttempts(identifier string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.failed[identifier])
}

// ClearFailedAttempts forgets the failures of identifier
func (m *Monitor) ClearFailedAttempts(identifier string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.failed, identifier)
}

// Cleanup drops attempts older than the block window. It returns the number
// of identifiers removed.
func (m *Monitor) Cleanup() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	windowStart := m.now().Add(-m.cfg.BlockDuration)
	removed := 0
	for id, attempts := range m.failed {
		var valid []time.Time
		for _, t := range attempts {
			if t.After(windowStart) {
				valid = append(valid, t)
			}
		}
		if len(valid) == 0 {
			delete(m.failed, id)
			removed++
		} else {
			m.failed[id] = valid
		}
	}
	return removed
}

// Close stops the periodic cleanup
func (m *Monitor) Close() {
	m.done.Do(func() { close(m.stop) })
}

func (m *Monitor) startCleanup() {
	if m.cfg.CleanupInterval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(m.cfg.CleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-m.stop:
				return
			case <-ticker.C:
				if n := m.Cleanup(); n > 0 {
					m.logger.Debug("expired failed attempts purged", slog.Int("identifiers", n))
				}
			}
		}
	}()
}
