package security

import (
	"container/list"
	"sync"
	"time"
)

// Activity types recorded by the auth flows.
const (
	ActivityLoginSuccess      = "login_success"
	ActivityLoginFailed       = "login_failed"
	ActivityLogout            = "logout"
	ActivityRateLimited       = "rate_limit_exceeded"
	ActivityBlockedAttempt    = "blocked_attempt"
	ActivityIdleTimeout       = "idle_timeout"
	ActivityAutoLogin         = "auto_login"
	ActivityPasswordReset     = "password_reset"
	ActivityUserStatusChanged = "user_status_changed"
)

// Activity is one entry of the security activity log
type Activity struct {
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Details   map[string]any `json:"details,omitempty"`
}

// ActivityLog is a bounded, append-only log. When full the oldest entry is dropped.
type ActivityLog struct {
	mu      sync.RWMutex
	entries *list.List
	maxSize int
}

// NewActivityLog creates a log holding at most maxSize entries
func NewActivityLog(maxSize int) *ActivityLog {
	if maxSize <= 0 {
		maxSize = 50
	}
	return &ActivityLog{
		entries: list.New(),
		maxSize: maxSize,
	}
}

// Append adds an entry, evicting the oldest one if the log is full
func (l *ActivityLog) Append(a Activity) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for l.entries.Len() >= l.maxSize {
		l.entries.Remove(l.entries.Front())
	}
	l.entries.PushBack(a)
}

// Snapshot returns the entries oldest first
func (l *ActivityLog) Snapshot() []Activity {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Activity, 0, l.entries.Len())
	for e := l.entries.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(Activity))
	}
	return out
}

// Len returns the number of entries held
func (l *ActivityLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.entries.Len()
}
