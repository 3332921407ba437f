package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/fieldgate/backend/internal/clientid"
	"github.com/fieldgate/backend/internal/logger"
	"github.com/fieldgate/backend/internal/repository"
	"github.com/fieldgate/backend/internal/security"
	"github.com/fieldgate/backend/internal/storage"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// fakeOTP accepts a single fixed code
type fakeOTP struct {
	mu          sync.Mutex
	code        string
	sent        []string
	verifyCalls int
	generateErr error
}

func (f *fakeOTP) Generate(_ context.Context, email string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.generateErr != nil {
		return "", f.generateErr
	}
	f.sent = append(f.sent, email)
	return fmt.Sprintf("handle-%d", len(f.sent)), nil
}

func (f *fakeOTP) Verify(_ context.Context, _, code string) (bool, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.verifyCalls++
	return code == f.code, "", nil
}

func (f *fakeOTP) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type testEnv struct {
	sys      *System
	records  *repository.MemoryStore
	sessions *storage.MemoryStore
	durable  *storage.MemoryStore
	limiter  *security.RateLimiter
	monitor  *security.Monitor
	otp      *fakeOTP
	clock    *fakeClock
	events   *recordedEvents
}

type recordedEvents struct {
	mu  sync.Mutex
	log []string
}

func (r *recordedEvents) SessionStarted(namespace, username, redirect string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.log = append(r.log, "started "+namespace+" "+username+" "+redirect)
}

func (r *recordedEvents) SessionEnded(namespace, reason, redirect string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.log = append(r.log, "ended "+namespace+" "+reason+" "+redirect)
}

func (r *recordedEvents) entries() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.log...)
}

// newEnv builds a started System on in-memory stores and a fake clock.
// Callers must Close it.
func newEnv(configure ...func(*Config)) *testEnv {
	return newEnvWithBootstrap(nil, configure...)
}

func newEnvWithBootstrap(bootstrap BootstrapFunc, configure ...func(*Config)) *testEnv {
	clock := newFakeClock()

	monCfg := security.DefaultMonitorConfig()
	monCfg.CleanupInterval = 0

	env := &testEnv{
		records:  repository.NewMemoryStore().WithClock(clock.Now),
		sessions: storage.NewMemoryStore().WithClock(clock.Now),
		durable:  storage.NewMemoryStore().WithClock(clock.Now),
		limiter:  security.NewRateLimiter(200, time.Minute).WithClock(clock.Now),
		monitor:  security.NewMonitor(monCfg, logger.Discard()).WithClock(clock.Now),
		otp:      &fakeOTP{code: "123456"},
		clock:    clock,
		events:   &recordedEvents{},
	}

	cfg := DefaultConfig()
	cfg.Idle.CheckInterval = 0
	cfg.SweepInterval = 0
	cfg.ReadyAttempts = 3
	cfg.ReadyDelay = time.Millisecond
	for _, fn := range configure {
		fn(&cfg)
	}

	env.sys = NewSystem(cfg, Deps{
		Users:    env.records.Users(),
		Fields:   env.records.Fields(),
		Sessions: env.sessions,
		Durable:  env.durable,
		Limiter:  env.limiter,
		Monitor:  env.monitor,
		Hasher:   NewPasswordHasher(bcrypt.MinCost),
		OTP:      env.otp,
		Logger:   logger.Discard(),
		Events:   env.events,
	}).WithClock(clock.Now)

	env.sys.Start(context.Background(), bootstrap)
	<-env.sys.ready
	return env
}

func newTestEnv(t *testing.T, configure ...func(*Config)) *testEnv {
	t.Helper()
	env := newEnv(configure...)
	t.Cleanup(env.sys.Close)
	return env
}

type userOption func(*repository.User)

func asAdmin(u *repository.User) { u.Role = repository.RoleAdmin }

func withEmail(email string) userOption {
	return func(u *repository.User) { u.Email = &email }
}

func withFields(ids ...string) userOption {
	return func(u *repository.User) { u.AssignedFields = ids }
}

func (e *testEnv) addUser(username, password string, opts ...userOption) *repository.User {
	hash, err := e.sys.hasher.Hash(password)
	if err != nil {
		panic(err)
	}
	unlocked := true
	u := &repository.User{
		Username:     username,
		PasswordHash: hash,
		Name:         username,
		Role:         repository.RoleUser,
		IsActive:     true,
		Status:       &unlocked,
		CreatedBy:    "seed",
	}
	for _, opt := range opts {
		opt(u)
	}
	if err := e.records.Users().Create(context.Background(), u); err != nil {
		panic(err)
	}
	return u
}

func (e *testEnv) addField(id, name string, active bool) {
	f := &repository.Field{ID: id, Name: name, IsActive: active, CreatedBy: "seed"}
	if err := e.records.Fields().Create(context.Background(), f); err != nil {
		panic(err)
	}
	e.clock.Advance(time.Second)
}

func (e *testEnv) client(namespace string) *Client {
	return e.sys.Client(context.Background(), namespace, "device-"+namespace, clientid.Fingerprint{
		ScreenWidth:  1920,
		ScreenHeight: 1080,
		TimeZone:     "Asia/Ho_Chi_Minh",
	})
}

// loggedIn returns a client context with username logged in
func (e *testEnv) loggedIn(t testing.TB, namespace, username, password string) *Client {
	t.Helper()
	c := e.client(namespace)
	if res := c.Login(context.Background(), username, password); !res.Success {
		t.Fatalf("login %s: %s (%s)", username, res.Message, res.Code)
	}
	c.TakeRedirect()
	return c
}

func (e *testEnv) countActivities(kind string) int {
	n := 0
	for _, a := range e.monitor.Activities() {
		if a.Type == kind {
			n++
		}
	}
	return n
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within 2s")
}

func TestSystemBecomesReady(t *testing.T) {
	env := newTestEnv(t)
	if env.sys.State() != StateReady {
		t.Fatalf("State = %v, want ready", env.sys.State())
	}
}

func TestOperationsFailWhenInitializationFails(t *testing.T) {
	env := newEnvWithBootstrap(func(context.Context) error { return errors.New("store unreachable") })
	defer env.sys.Close()

	if env.sys.State() != StateFailed {
		t.Fatalf("State = %v, want failed", env.sys.State())
	}

	c := env.client("ns-init")
	res := c.Login(context.Background(), "anyone", "secret1")
	if res.Success || !errors.Is(res.Err, ErrInitialization) || res.Code != CodeInitialization {
		t.Fatalf("Login = %+v, want initialization error", res)
	}
	if res := c.CreateField(context.Background(), "x", ""); res.Code != CodeInitialization {
		t.Fatalf("CreateField code = %q, want %q", res.Code, CodeInitialization)
	}
}

func TestWaitReadyGivesUpWhenNeverStarted(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ReadyAttempts = 2
	cfg.ReadyDelay = time.Millisecond
	sys := NewSystem(cfg, Deps{Logger: logger.Discard()})

	if err := sys.waitReady(context.Background()); !errors.Is(err, ErrInitialization) {
		t.Fatalf("waitReady = %v, want ErrInitialization", err)
	}
}

func TestCheckUserExists(t *testing.T) {
	env := newTestEnv(t)
	env.addUser("user1", "secret1", withEmail("user1@example.com"))
	env.addUser("gone", "secret1", withEmail("gone@example.com"), func(u *repository.User) { u.IsActive = false })

	ref, err := env.sys.CheckUserExists(context.Background(), "  USER1@example.com ")
	if err != nil {
		t.Fatalf("CheckUserExists: %v", err)
	}
	if ref.ID != "user1" || ref.Email != "user1@example.com" {
		t.Fatalf("ref = %+v", ref)
	}

	if _, err := env.sys.CheckUserExists(context.Background(), "gone"); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("deactivated account: err = %v, want ErrAccountNotFound", err)
	}
	if _, err := env.sys.CheckUserExists(context.Background(), "nobody"); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("missing account: err = %v, want ErrAccountNotFound", err)
	}
}

func TestSweepDropsStaleAnonymousClients(t *testing.T) {
	env := newTestEnv(t)
	env.addUser("user1", "secret1")

	env.client("ns-anon")
	env.loggedIn(t, "ns-user", "user1", "secret1")

	env.clock.Advance(env.sys.cfg.SessionTTL + time.Minute)
	if n := env.sys.sweepClients(); n != 1 {
		t.Fatalf("sweepClients = %d, want 1", n)
	}

	env.sys.mu.Lock()
	_, anon := env.sys.clients["ns-anon"]
	_, user := env.sys.clients["ns-user"]
	env.sys.mu.Unlock()
	if anon || !user {
		t.Fatalf("anonymous kept = %v, logged-in kept = %v", anon, user)
	}
}
