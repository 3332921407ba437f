package auth

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/fieldgate/backend/internal/clientid"
	"github.com/fieldgate/backend/internal/idle"
	"github.com/fieldgate/backend/internal/metrics"
	"github.com/fieldgate/backend/internal/sanitizer"
	"github.com/fieldgate/backend/internal/security"
	"github.com/fieldgate/backend/internal/storage"
)

// Client is one client context: the equivalent of a browser tab with its
// own session storage. Operations on a Client run one at a time.
type Client struct {
	sys       *System
	namespace string
	deviceID  string
	fp        clientid.Fingerprint
	session   storage.Namespace
	durable   storage.Namespace

	// opMu serializes operations; mu guards the fields below
	opMu sync.Mutex

	mu       sync.Mutex
	current  *Session
	monitor  *idle.Monitor
	reset    resetFlow
	redirect string
	seenAt   time.Time
}

func newClient(s *System, namespace, deviceID string, fp clientid.Fingerprint) *Client {
	if deviceID == "" {
		deviceID = namespace
	}
	return &Client{
		sys:       s,
		namespace: namespace,
		deviceID:  deviceID,
		fp:        fp,
		session:   storage.NewNamespace(s.sessions, namespace, s.cfg.SessionTTL),
		durable:   storage.NewNamespace(s.durable, "device:"+deviceID, 0),
	}
}

// Namespace returns the session namespace of this context
func (c *Client) Namespace() string { return c.namespace }

func (c *Client) seen(now time.Time) {
	c.mu.Lock()
	c.seenAt = now
	c.mu.Unlock()
}

func (c *Client) lastSeen() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seenAt
}

// ClientID returns the per-session identifier used for throttling
func (c *Client) ClientID(ctx context.Context) (string, error) {
	return clientid.Get(ctx, c.session, c.fp, c.sys.now())
}

// restore loads a persisted session. Malformed records are cleared; valid
// ones are re-checked against the store in the background.
func (c *Client) restore(ctx context.Context) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	log := c.sys.logger.With(slog.String("namespace", c.namespace))

	raw, ok, err := c.session.Get(ctx, sessionUserKey)
	if err != nil {
		log.Warn("failed to read stored session", slog.String("error", err.Error()))
		return
	}
	if !ok {
		return
	}

	sess, err := decodeSession(raw)
	if err != nil {
		log.Warn("discarding malformed stored session")
		_ = c.session.Remove(ctx, sessionUserKey)
		_ = c.session.Remove(ctx, clientid.StorageKey)
		return
	}

	c.mu.Lock()
	c.current = sess
	c.mu.Unlock()
	c.startIdle()
	metrics.SessionsActive.Inc()

	username := sess.Username
	c.sys.background("verify restored session", func(ctx context.Context) error {
		if err := c.sys.waitReady(ctx); err != nil {
			return nil
		}
		exists, err := c.sys.accountExists(ctx, username)
		if err != nil {
			return err
		}
		if !exists {
			c.logoutIf(ctx, username, "revoked")
		}
		return nil
	})
}

// Login authenticates identifier (username or email) with password
func (c *Client) Login(ctx context.Context, identifier, password string) Result {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	return c.login(ctx, identifier, password)
}

func (c *Client) login(ctx context.Context, identifier, password string) Result {
	s := c.sys

	if err := s.waitReady(ctx); err != nil {
		return failed(ErrInitialization, MsgInitialization, "")
	}

	id, err := c.ClientID(ctx)
	if err != nil {
		s.logger.Error("failed to resolve client id", slog.String("error", err.Error()))
		return failed(ErrStoreUnavailable, MsgLoginFailed, "")
	}

	if !s.limiter.Allow("login_" + id) {
		s.monitor.LogActivity(security.ActivityRateLimited, map[string]any{"clientId": id, "scope": "login"})
		metrics.RateLimited.WithLabelValues("login").Inc()
		metrics.LoginAttempts.WithLabelValues("rate_limited").Inc()
		return failed(ErrRateLimited, MsgLoginRateLimited, "email")
	}

	if s.monitor.IsBlocked(id) {
		s.monitor.LogActivity(security.ActivityBlockedAttempt, map[string]any{"clientId": id})
		metrics.LoginAttempts.WithLabelValues("blocked").Inc()
		return failed(ErrTemporarilyLocked, msgTemporarilyLocked(s.lockoutMinutes()), "email")
	}

	normalized := sanitizer.Identifier(identifier)
	user, err := s.lookup(ctx, normalized)
	switch {
	case errors.Is(err, ErrAccountNotFound):
		c.recordFailure(id, normalized, "account_not_found")
		return failed(ErrAccountNotFound, MsgAccountNotFound, "email")
	case err != nil:
		s.logger.Error("login lookup failed", slog.String("error", err.Error()))
		s.report(err)
		metrics.LoginAttempts.WithLabelValues("error").Inc()
		return failed(ErrStoreUnavailable, MsgLoginFailed, "")
	}

	if !user.IsActive {
		c.recordFailure(id, normalized, "deactivated")
		return failed(ErrAccountDeactivated, MsgAccountDeactivated, "email")
	}

	if !user.Unlocked() {
		c.recordFailure(id, normalized, "locked")
		res := failed(ErrAccountLocked, MsgAccountLocked, "")
		res.IsLocked = true
		return res
	}

	if !s.hasher.Verify(password, user.PasswordHash) {
		c.recordFailure(id, normalized, "wrong_password")
		return failed(ErrWrongPassword, MsgWrongPassword, "password")
	}

	s.monitor.ClearFailedAttempts(id)
	s.monitor.LogActivity(security.ActivityLoginSuccess, map[string]any{"username": user.Username, "clientId": id})
	metrics.LoginAttempts.WithLabelValues("success").Inc()

	sess := newSession(user, s.now())
	c.establish(ctx, sess)

	username := user.Username
	s.background("record last login", func(ctx context.Context) error {
		return s.users.TouchLastLogin(ctx, username)
	})

	return succeeded("Đăng nhập thành công!", sess.clone())
}

func (c *Client) recordFailure(clientID, identifier, reason string) {
	c.sys.monitor.RecordFailedAttempt(clientID)
	c.sys.monitor.LogActivity(security.ActivityLoginFailed, map[string]any{
		"identifier": identifier,
		"clientId":   clientID,
		"reason":     reason,
	})
	metrics.LoginAttempts.WithLabelValues(reason).Inc()
}

// establish makes sess current, persists it and starts idle tracking
func (c *Client) establish(ctx context.Context, sess *Session) {
	c.mu.Lock()
	replaced := c.current != nil
	c.current = sess
	c.redirect = c.targetLocked()
	target := c.redirect
	c.mu.Unlock()

	if !replaced {
		metrics.SessionsActive.Inc()
	}
	c.sys.events.SessionStarted(c.namespace, sess.Username, target)

	if raw, err := encodeSession(sess); err == nil {
		if err := c.session.Set(ctx, sessionUserKey, raw); err != nil {
			c.sys.logger.Warn("failed to persist session", slog.String("error", err.Error()))
		}
	}
	c.startIdle()
}

// Logout ends the session. It always succeeds.
func (c *Client) Logout(ctx context.Context) {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	c.logout(ctx, "user")
}

// logoutIf logs out only while username is still the current user
func (c *Client) logoutIf(ctx context.Context, username, reason string) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if cur := c.CurrentUser(); cur == nil || cur.Username != username {
		return
	}
	c.logout(ctx, reason)
}

func (c *Client) logout(ctx context.Context, reason string) {
	c.mu.Lock()
	sess := c.current
	c.current = nil
	c.redirect = TargetLogin
	c.mu.Unlock()

	c.stopIdle()

	if sess != nil {
		c.sys.monitor.LogActivity(security.ActivityLogout, map[string]any{"username": sess.Username, "reason": reason})
		c.sys.forget(sess.Username)
		metrics.SessionsActive.Dec()
		metrics.Logouts.WithLabelValues(reason).Inc()
		c.sys.events.SessionEnded(c.namespace, reason, TargetLogin)
	}

	for _, key := range []string{sessionUserKey, clientid.StorageKey} {
		if err := c.session.Remove(ctx, key); err != nil {
			c.sys.logger.Warn("failed to clear session slot", slog.String("key", key), slog.String("error", err.Error()))
		}
	}
	c.clearRemember(ctx)
}

// IsLoggedIn reports whether a user is authenticated in this context
func (c *Client) IsLoggedIn() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current != nil
}

// IsAdmin reports whether the current user is an administrator
func (c *Client) IsAdmin() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current != nil && c.current.IsAdmin()
}

// CurrentUser returns a copy of the session, or nil when anonymous
func (c *Client) CurrentUser() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return nil
	}
	return c.current.clone()
}

// RequireAuth reports whether the context is authenticated, requesting
// navigation to the login view when it is not.
func (c *Client) RequireAuth() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		c.redirect = TargetLogin
		return false
	}
	return true
}

// RequireAdmin reports whether the current user is an administrator.
// Anonymous contexts are sent to login, other users to their dashboard.
func (c *Client) RequireAdmin() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.current == nil:
		c.redirect = TargetLogin
		return false
	case !c.current.IsAdmin():
		c.redirect = TargetDashboard
		return false
	}
	return true
}

// RedirectTarget names the view the context belongs on
func (c *Client) RedirectTarget() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.targetLocked()
}

func (c *Client) targetLocked() string {
	switch {
	case c.current == nil:
		return TargetLogin
	case c.current.IsAdmin():
		return TargetAdmin
	default:
		return TargetDashboard
	}
}

// TakeRedirect returns and clears the navigation requested by the last operation
func (c *Client) TakeRedirect() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	r := c.redirect
	c.redirect = ""
	return r
}

// Touch records user interaction for idle tracking
func (c *Client) Touch() {
	c.mu.Lock()
	m := c.monitor
	c.mu.Unlock()
	if m != nil {
		m.Touch()
	}
}

// SetHidden reports a visibility change for idle tracking
func (c *Client) SetHidden(hidden bool) {
	c.mu.Lock()
	m := c.monitor
	c.mu.Unlock()
	if m != nil {
		m.SetHidden(hidden)
	}
}

// CheckIdle runs one idle check; it reports whether the session was ended
func (c *Client) CheckIdle() bool {
	c.mu.Lock()
	m := c.monitor
	c.mu.Unlock()
	return m != nil && m.Check()
}

func (c *Client) startIdle() {
	m := idle.New(c.sys.cfg.Idle, c.IsLoggedIn, c.onIdle, idle.WithClock(c.sys.now))

	c.mu.Lock()
	old := c.monitor
	c.monitor = m
	c.mu.Unlock()

	if old != nil {
		old.Stop()
	}
	m.Start()
}

func (c *Client) stopIdle() {
	c.mu.Lock()
	m := c.monitor
	c.monitor = nil
	c.mu.Unlock()

	if m != nil {
		m.Stop()
	}
}

func (c *Client) onIdle() {
	sess := c.CurrentUser()
	if sess == nil {
		return
	}
	c.sys.monitor.LogActivity(security.ActivityIdleTimeout, map[string]any{"username": sess.Username})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c.logoutIf(ctx, sess.Username, "idle")
}
