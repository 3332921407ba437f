package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fieldgate/backend/internal/clientid"
	"github.com/fieldgate/backend/internal/idle"
	"github.com/fieldgate/backend/internal/otp"
	"github.com/fieldgate/backend/internal/repository"
	"github.com/fieldgate/backend/internal/sanitizer"
	"github.com/fieldgate/backend/internal/security"
	"github.com/fieldgate/backend/internal/storage"
)

// State is the initialization state of the System
type State int32

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "uninitialized"
	}
}

// Config holds the auth settings
type Config struct {
	// SessionTTL bounds ephemeral session storage and idle client contexts
	SessionTTL time.Duration
	// RememberShort and RememberLong are the remember-me lifetimes
	RememberShort time.Duration
	RememberLong  time.Duration
	// VerifyCacheTTL caches account existence checks for restored sessions
	VerifyCacheTTL time.Duration
	// LockoutWindow is reported to users in the temporary lock message
	LockoutWindow time.Duration
	Idle          idle.Config
	// DefaultPassword is assigned when an account is created without one.
	// Empty means a random temporary password is generated.
	DefaultPassword string
	// ReadyAttempts and ReadyDelay bound how long operations wait for Start
	ReadyAttempts int
	ReadyDelay    time.Duration
	// SweepInterval is how often expired limiter keys and stale contexts are dropped
	SweepInterval time.Duration
}

// DefaultConfig returns the stock settings
func DefaultConfig() Config {
	return Config{
		SessionTTL:     12 * time.Hour,
		RememberShort:  5 * 24 * time.Hour,
		RememberLong:   30 * 24 * time.Hour,
		VerifyCacheTTL: time.Minute,
		LockoutWindow:  5 * time.Minute,
		Idle:           idle.DefaultConfig(),
		ReadyAttempts:  100,
		ReadyDelay:     50 * time.Millisecond,
		SweepInterval:  30 * time.Second,
	}
}

// Deps are the collaborators shared by every client context
type Deps struct {
	Users     repository.UserRepository
	Fields    repository.FieldRepository
	Sessions  storage.Store
	Durable   storage.Store
	Limiter   *security.RateLimiter
	Monitor   *security.Monitor
	Hasher    *PasswordHasher
	OTP       otp.Provider
	Sanitizer *sanitizer.TextSanitizer
	Logger    *slog.Logger
	// ReportError forwards unexpected failures to error tracking
	ReportError func(error)
	// Events is told when a context gains or loses its session
	Events SessionEvents
}

// SessionEvents receives session lifecycle notifications for a client
// context. Calls happen while the context is busy and must not block.
type SessionEvents interface {
	SessionStarted(namespace, username, redirect string)
	SessionEnded(namespace, reason, redirect string)
}

type noEvents struct{}

func (noEvents) SessionStarted(string, string, string) {}
func (noEvents) SessionEnded(string, string, string)   {}

// BootstrapFunc prepares the record store before the system accepts operations
type BootstrapFunc func(ctx context.Context) error

type verifyEntry struct {
	exists bool
	at     time.Time
}

// System owns the shared auth state: initialization, stores, limiter and
// monitor, and the registry of client contexts.
type System struct {
	cfg       Config
	users     repository.UserRepository
	fields    repository.FieldRepository
	sessions  storage.Store
	durable   storage.Store
	limiter   *security.RateLimiter
	monitor   *security.Monitor
	hasher    *PasswordHasher
	otp       otp.Provider
	sanitizer *sanitizer.TextSanitizer
	logger    *slog.Logger
	report    func(error)
	events    SessionEvents
	now       func() time.Time

	state     atomic.Int32
	ready     chan struct{}
	startOnce sync.Once
	cancel    context.CancelFunc

	mu      sync.Mutex
	clients map[string]*Client

	verifyMu sync.Mutex
	verified map[string]verifyEntry

	bg sync.WaitGroup
}

// NewSystem creates a System in the Uninitialized state
func NewSystem(cfg Config, deps Deps) *System {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.ReportError == nil {
		deps.ReportError = func(error) {}
	}
	if deps.Events == nil {
		deps.Events = noEvents{}
	}
	if deps.Hasher == nil {
		deps.Hasher = NewPasswordHasher(0)
	}
	if deps.Sanitizer == nil {
		deps.Sanitizer = sanitizer.NewTextSanitizer()
	}
	if deps.Durable == nil {
		deps.Durable = deps.Sessions
	}
	if cfg.ReadyAttempts <= 0 {
		cfg.ReadyAttempts = 1
	}

	return &System{
		cfg:       cfg,
		users:     deps.Users,
		fields:    deps.Fields,
		sessions:  deps.Sessions,
		durable:   deps.Durable,
		limiter:   deps.Limiter,
		monitor:   deps.Monitor,
		hasher:    deps.Hasher,
		otp:       deps.OTP,
		sanitizer: deps.Sanitizer,
		logger:    deps.Logger,
		report:    deps.ReportError,
		events:    deps.Events,
		now:       time.Now,
		ready:     make(chan struct{}),
		clients:   make(map[string]*Client),
		verified:  make(map[string]verifyEntry),
	}
}

// WithClock replaces the time source, for tests.
func (s *System) WithClock(now func() time.Time) *System {
	s.now = now
	return s
}

// State returns the current initialization state
func (s *System) State() State {
	return State(s.state.Load())
}

// Start runs bootstrap in the background and moves the system to Ready or
// Failed. Only the first call has any effect.
func (s *System) Start(ctx context.Context, bootstrap BootstrapFunc) {
	s.startOnce.Do(func() {
		runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		s.cancel = cancel
		s.state.Store(int32(StateInitializing))

		s.bg.Add(1)
		go func() {
			defer s.bg.Done()
			defer close(s.ready)

			if bootstrap != nil {
				if err := bootstrap(ctx); err != nil {
					s.state.Store(int32(StateFailed))
					s.logger.Error("auth system initialization failed", slog.String("error", err.Error()))
					s.report(fmt.Errorf("auth initialization: %w", err))
					return
				}
			}

			s.state.Store(int32(StateReady))
			s.logger.Info("auth system ready")

			if s.cfg.SweepInterval > 0 {
				s.bg.Add(1)
				go func() {
					defer s.bg.Done()
					s.runSweeper(runCtx)
				}()
			}
		}()
	})
}

// waitReady polls the state up to ReadyAttempts times, ReadyDelay apart
func (s *System) waitReady(ctx context.Context) error {
	for attempt := 0; attempt < s.cfg.ReadyAttempts; attempt++ {
		switch s.State() {
		case StateReady:
			return nil
		case StateFailed:
			return ErrInitialization
		}

		select {
		case <-ctx.Done():
			return ErrInitialization
		case <-s.ready:
		case <-time.After(s.cfg.ReadyDelay):
		}
	}
	if s.State() == StateReady {
		return nil
	}
	return ErrInitialization
}

// Close stops background work and every idle monitor
func (s *System) Close() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.monitor != nil {
		s.monitor.Close()
	}

	s.mu.Lock()
	for _, c := range s.clients {
		c.stopIdle()
	}
	s.mu.Unlock()

	s.bg.Wait()
}

// Activities returns the security activity log
func (s *System) Activities() []security.Activity {
	return s.monitor.Activities()
}

func (s *System) runSweeper(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.limiter.Sweep()
			if n := s.sweepClients(); n > 0 {
				s.logger.Debug("stale client contexts dropped", slog.Int("count", n))
			}
		}
	}
}

// Client returns the client context for namespace, restoring its session
// from storage on first use.
func (s *System) Client(ctx context.Context, namespace, deviceID string, fp clientid.Fingerprint) *Client {
	s.mu.Lock()
	c, ok := s.clients[namespace]
	if !ok {
		c = newClient(s, namespace, deviceID, fp)
		s.clients[namespace] = c
	}
	c.seen(s.now())
	s.mu.Unlock()

	if !ok {
		c.restore(ctx)
	}
	return c
}

// sweepClients drops anonymous contexts not seen for SessionTTL
func (s *System) sweepClients() int {
	cutoff := s.now().Add(-s.cfg.SessionTTL)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for ns, c := range s.clients {
		if !c.IsLoggedIn() && c.lastSeen().Before(cutoff) {
			c.stopIdle()
			delete(s.clients, ns)
			removed++
		}
	}
	return removed
}

// lookup resolves a normalized identifier: first as a username key, then by
// scanning every record, deleted ones included, for a matching username or
// email. A live account wins over a deleted one sharing its email.
func (s *System) lookup(ctx context.Context, identifier string) (*repository.User, error) {
	if identifier == "" {
		return nil, ErrAccountNotFound
	}

	u, err := s.users.GetByUsername(ctx, identifier)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, repository.ErrUserNotFound) {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	all, err := s.users.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	var deleted *repository.User
	for i := range all {
		if !all[i].MatchesIdentifier(identifier) {
			continue
		}
		if all[i].DeletedAt == nil {
			return &all[i], nil
		}
		if deleted == nil {
			deleted = &all[i]
		}
	}
	if deleted != nil {
		return deleted, nil
	}
	return nil, ErrAccountNotFound
}

// accountExists checks an account for a restored session, caching answers
// for VerifyCacheTTL.
func (s *System) accountExists(ctx context.Context, username string) (bool, error) {
	now := s.now()

	s.verifyMu.Lock()
	entry, ok := s.verified[username]
	s.verifyMu.Unlock()
	if ok && now.Sub(entry.at) < s.cfg.VerifyCacheTTL {
		return entry.exists, nil
	}

	u, err := s.users.GetByUsername(ctx, username)
	exists := err == nil && u.IsActive && u.Unlocked()
	if err != nil && !errors.Is(err, repository.ErrUserNotFound) {
		return false, err
	}

	s.verifyMu.Lock()
	s.verified[username] = verifyEntry{exists: exists, at: now}
	s.verifyMu.Unlock()
	return exists, nil
}

// forget drops the cached existence check for username
func (s *System) forget(username string) {
	s.verifyMu.Lock()
	delete(s.verified, username)
	s.verifyMu.Unlock()
}

// background runs fn detached from the request, tracked for Close
func (s *System) background(name string, fn func(ctx context.Context) error) {
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := fn(ctx); err != nil {
			s.logger.Warn("background task failed", slog.String("task", name), slog.String("error", err.Error()))
			s.report(fmt.Errorf("%s: %w", name, err))
		}
	}()
}

func (s *System) lockoutMinutes() int {
	m := int(s.cfg.LockoutWindow / time.Minute)
	if m < 1 {
		return 1
	}
	return m
}
