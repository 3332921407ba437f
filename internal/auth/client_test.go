package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"pgregory.net/rapid"

	"github.com/fieldgate/backend/internal/clientid"
	"github.com/fieldgate/backend/internal/logger"
	"github.com/fieldgate/backend/internal/repository"
	"github.com/fieldgate/backend/internal/security"
)

func TestLoginNormalizesIdentifier(t *testing.T) {
	env := newTestEnv(t)
	env.addUser("admin1", "correctpw", asAdmin)

	c := env.client("ns-1")
	res := c.Login(context.Background(), "Admin1", "correctpw")
	if !res.Success {
		t.Fatalf("Login failed: %s", res.Message)
	}

	sess := res.Session()
	if sess == nil || sess.Username != "admin1" || sess.Role != repository.RoleAdmin {
		t.Fatalf("session = %+v", sess)
	}
	if !c.IsLoggedIn() || !c.IsAdmin() {
		t.Fatal("context should be logged in as admin")
	}
	if got := c.TakeRedirect(); got != TargetAdmin {
		t.Errorf("redirect = %q, want %q", got, TargetAdmin)
	}
	if _, ok, _ := env.sessions.Get(context.Background(), "ns-1", sessionUserKey); !ok {
		t.Error("session not persisted to session storage")
	}
	if env.countActivities(security.ActivityLoginSuccess) != 1 {
		t.Error("login_success not logged")
	}
}

func TestLoginUnknownAccount(t *testing.T) {
	env := newTestEnv(t)

	res := env.client("ns-1").Login(context.Background(), "ghost@x.com", "anything")
	if res.Success {
		t.Fatal("login succeeded for a missing account")
	}
	if res.Message != "Tài khoản không tồn tại" || res.Field != "email" || res.Code != CodeAccountNotFound {
		t.Fatalf("result = %+v", res)
	}
}

func TestLoginByEmail(t *testing.T) {
	env := newTestEnv(t)
	env.addUser("user1", "secret1", withEmail("user1@example.com"))

	res := env.client("ns-1").Login(context.Background(), " User1@Example.com", "secret1")
	if !res.Success || res.Session().Username != "user1" {
		t.Fatalf("Login by email = %+v", res)
	}
}

func TestLoginByEmailPrefersLiveAccount(t *testing.T) {
	env := newTestEnv(t)
	at := env.clock.Now()
	env.addUser("old1", "secret1", withEmail("shared@example.com"), func(u *repository.User) {
		u.IsActive = false
		u.DeletedAt = &at
	})
	env.addUser("new1", "secret2", withEmail("shared@example.com"))

	res := env.client("ns-1").Login(context.Background(), "shared@example.com", "secret2")
	if !res.Success || res.Session().Username != "new1" {
		t.Fatalf("Login = %+v, want new1", res)
	}
}

// Property: guards run in order active, locked, password
func TestPropertyLoginGuardOrdering(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		active := rapid.Bool().Draw(t, "active")
		status := rapid.SampledFrom([]string{"missing", "unlocked", "locked"}).Draw(t, "status")
		correct := rapid.Bool().Draw(t, "correct")
		deleted := rapid.Bool().Draw(t, "deleted")
		identifier := rapid.SampledFrom([]string{"user1", "USER1", "user1@example.com"}).Draw(t, "identifier")

		env := newEnv()
		defer env.sys.Close()

		env.addUser("user1", "secret1", withEmail("user1@example.com"), func(u *repository.User) {
			u.IsActive = active
			if deleted {
				at := time.Now()
				u.IsActive = false
				u.DeletedAt = &at
			}
			switch status {
			case "missing":
				u.Status = nil
			case "locked":
				locked := false
				u.Status = &locked
			}
		})

		password := "secret1"
		if !correct {
			password = "wrong-password"
		}
		res := env.client("ns").Login(context.Background(), identifier, password)

		switch {
		case !active || deleted:
			if !errors.Is(res.Err, ErrAccountDeactivated) {
				t.Fatalf("inactive account: got %v", res.Err)
			}
		case status == "locked":
			if !errors.Is(res.Err, ErrAccountLocked) || !res.IsLocked {
				t.Fatalf("locked account: got %v isLocked=%v", res.Err, res.IsLocked)
			}
		case !correct:
			if !errors.Is(res.Err, ErrWrongPassword) || res.Field != "password" {
				t.Fatalf("wrong password: got %v field=%q", res.Err, res.Field)
			}
		default:
			if !res.Success {
				t.Fatalf("valid login failed: %v", res.Err)
			}
		}
	})
}

func TestLoginTemporarilyBlocksAfterFailures(t *testing.T) {
	env := newTestEnv(t)
	env.addUser("user1", "secret1")
	c := env.client("ns-1")
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if res := c.Login(ctx, "user1", "nope-nope"); !errors.Is(res.Err, ErrWrongPassword) {
			t.Fatalf("attempt %d: %v", i+1, res.Err)
		}
	}

	res := c.Login(ctx, "user1", "secret1")
	if !errors.Is(res.Err, ErrTemporarilyLocked) {
		t.Fatalf("after 5 failures: %v, want temporarily locked", res.Err)
	}
	if !strings.Contains(res.Message, "5 phút") {
		t.Errorf("message %q should mention the 5 minute wait", res.Message)
	}
	if env.countActivities(security.ActivityBlockedAttempt) != 1 {
		t.Error("blocked_attempt not logged")
	}

	env.clock.Advance(5*time.Minute + time.Second)
	if res := c.Login(ctx, "user1", "secret1"); !res.Success {
		t.Fatalf("login after block window: %v", res.Err)
	}
}

func TestSuccessfulLoginClearsFailures(t *testing.T) {
	env := newTestEnv(t)
	env.addUser("user1", "secret1")
	c := env.client("ns-1")
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		c.Login(ctx, "user1", "nope-nope")
	}
	if !c.Login(ctx, "user1", "secret1").Success {
		t.Fatal("login with 4 prior failures should succeed")
	}

	id, _ := c.ClientID(ctx)
	if n := env.monitor.FailedAttempts(id); n != 0 {
		t.Fatalf("FailedAttempts = %d after success, want 0", n)
	}
}

func TestDeactivatedAndLockedCountAsFailures(t *testing.T) {
	env := newTestEnv(t)
	env.addUser("off", "secret1", func(u *repository.User) { u.IsActive = false })
	c := env.client("ns-1")
	ctx := context.Background()

	c.Login(ctx, "off", "secret1")
	id, _ := c.ClientID(ctx)
	if n := env.monitor.FailedAttempts(id); n != 1 {
		t.Fatalf("FailedAttempts = %d, want 1", n)
	}
}

func TestLoginRateLimitedBeforeLookup(t *testing.T) {
	env := newTestEnv(t)
	c := env.client("ns-1")
	ctx := context.Background()

	id, err := c.ClientID(ctx)
	if err != nil {
		t.Fatal(err)
	}
	for env.limiter.Allow("login_" + id) {
	}

	env.records.Fail = errors.New("store must not be consulted")
	res := c.Login(ctx, "user1", "secret1")
	if !errors.Is(res.Err, ErrRateLimited) || res.Message != MsgLoginRateLimited {
		t.Fatalf("Login = %+v, want rate limited", res)
	}
}

func TestLoginStoreFailure(t *testing.T) {
	env := newTestEnv(t)
	env.records.Fail = errors.New("connection refused")

	res := env.client("ns-1").Login(context.Background(), "user1", "secret1")
	if res.Success || res.Code != CodeStoreUnavailable || res.Message != MsgLoginFailed {
		t.Fatalf("Login = %+v", res)
	}
}

func TestLogoutClearsState(t *testing.T) {
	env := newTestEnv(t)
	env.addUser("user1", "secret1")
	c := env.loggedIn(t, "ns-1", "user1", "secret1")
	ctx := context.Background()

	if _, err := c.ClientID(ctx); err != nil {
		t.Fatal(err)
	}
	if err := c.SaveRememberMe(ctx, "user1", "secret1", false); err != nil {
		t.Fatal(err)
	}

	c.Logout(ctx)

	if c.IsLoggedIn() || c.CurrentUser() != nil {
		t.Fatal("still logged in after logout")
	}
	for _, key := range []string{sessionUserKey, clientid.StorageKey} {
		if _, ok, _ := env.sessions.Get(ctx, "ns-1", key); ok {
			t.Errorf("%s left in session storage", key)
		}
	}
	if _, ok := c.CheckRememberMe(ctx); ok {
		t.Error("remember-me token left after logout")
	}
	if got := c.TakeRedirect(); got != TargetLogin {
		t.Errorf("redirect = %q, want %q", got, TargetLogin)
	}

	// anonymous logout still succeeds
	c.Logout(ctx)
}

func TestRestoreDiscardsMalformedSession(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_ = env.sessions.Set(ctx, "ns-bad", sessionUserKey, "{not json", 0)
	_ = env.sessions.Set(ctx, "ns-bad", clientid.StorageKey, "abc", 0)

	c := env.client("ns-bad")
	if c.IsLoggedIn() {
		t.Fatal("malformed session restored")
	}
	for _, key := range []string{sessionUserKey, clientid.StorageKey} {
		if _, ok, _ := env.sessions.Get(ctx, "ns-bad", key); ok {
			t.Errorf("%s not cleared", key)
		}
	}
}

func TestRestoreKeepsValidSession(t *testing.T) {
	env := newTestEnv(t)
	env.addUser("user1", "secret1")
	env.loggedIn(t, "ns-1", "user1", "secret1")

	// a second system sharing the stores sees the persisted session
	other := NewSystem(env.sys.cfg, Deps{
		Users:    env.records.Users(),
		Fields:   env.records.Fields(),
		Sessions: env.sessions,
		Durable:  env.durable,
		Limiter:  env.limiter,
		Monitor:  env.monitor,
		OTP:      env.otp,
		Logger:   logger.Discard(),
	}).WithClock(env.clock.Now)
	other.Start(context.Background(), nil)
	defer other.Close()

	c := other.Client(context.Background(), "ns-1", "device-ns-1", clientid.Fingerprint{})
	sess := c.CurrentUser()
	if sess == nil || sess.Username != "user1" {
		t.Fatalf("restored session = %+v", sess)
	}
}

func TestRestoredSessionRevokedWhenAccountGone(t *testing.T) {
	env := newTestEnv(t)
	env.addUser("bob", "secret1", func(u *repository.User) { u.IsActive = false })

	raw, err := encodeSession(&Session{Username: "bob", Role: repository.RoleUser, LoginTime: env.clock.Now()})
	if err != nil {
		t.Fatal(err)
	}
	_ = env.sessions.Set(context.Background(), "ns-bob", sessionUserKey, raw, 0)

	c := env.client("ns-bob")
	eventually(t, func() bool { return !c.IsLoggedIn() })
}

func TestRequireGuards(t *testing.T) {
	env := newTestEnv(t)
	env.addUser("user1", "secret1")

	anon := env.client("ns-anon")
	if anon.RequireAuth() {
		t.Fatal("RequireAuth passed for anonymous context")
	}
	if got := anon.TakeRedirect(); got != TargetLogin {
		t.Errorf("anonymous redirect = %q", got)
	}

	user := env.loggedIn(t, "ns-user", "user1", "secret1")
	if !user.RequireAuth() {
		t.Fatal("RequireAuth failed for logged-in user")
	}
	if user.RequireAdmin() {
		t.Fatal("RequireAdmin passed for a regular user")
	}
	if got := user.TakeRedirect(); got != TargetDashboard {
		t.Errorf("user redirect = %q, want %q", got, TargetDashboard)
	}
	if got := user.TakeRedirect(); got != "" {
		t.Errorf("redirect not cleared: %q", got)
	}
}

func TestContextsAreIsolated(t *testing.T) {
	env := newTestEnv(t)
	env.addUser("user1", "secret1")

	a := env.loggedIn(t, "ns-a", "user1", "secret1")
	b := env.client("ns-b")

	if b.IsLoggedIn() {
		t.Fatal("login leaked into another context")
	}
	a.Logout(context.Background())
	if env.client("ns-a").IsLoggedIn() {
		t.Fatal("registry returned a stale context")
	}
}

func TestIdleTimeoutLogsOutOnce(t *testing.T) {
	env := newTestEnv(t)
	env.addUser("user1", "secret1")
	c := env.loggedIn(t, "ns-1", "user1", "secret1")

	env.clock.Advance(31 * time.Minute)

	if !c.CheckIdle() {
		t.Fatal("idle check did not fire after 31 minutes")
	}
	if c.IsLoggedIn() {
		t.Fatal("still logged in after idle timeout")
	}
	if c.CheckIdle() {
		t.Fatal("idle check fired twice")
	}

	if n := env.countActivities(security.ActivityIdleTimeout); n != 1 {
		t.Errorf("idle_timeout logged %d times", n)
	}
	if n := env.countActivities(security.ActivityLogout); n != 1 {
		t.Errorf("logout logged %d times", n)
	}
}

func TestSessionEventsFollowLifecycle(t *testing.T) {
	env := newTestEnv(t)
	env.addUser("user1", "secret1")
	c := env.loggedIn(t, "ns-1", "user1", "secret1")

	env.clock.Advance(31 * time.Minute)
	c.CheckIdle()

	want := []string{
		"started ns-1 user1 " + TargetDashboard,
		"ended ns-1 idle " + TargetLogin,
	}
	got := env.events.entries()
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d = %q, want %q", i, got[i], want[i])
		}
	}

	// logging out an anonymous context publishes nothing
	c.Logout(context.Background())
	if n := len(env.events.entries()); n != 2 {
		t.Errorf("anonymous logout published an event, total %d", n)
	}
}

func TestHiddenViewAcceleratesIdle(t *testing.T) {
	env := newTestEnv(t)
	env.addUser("user1", "secret1")
	c := env.loggedIn(t, "ns-1", "user1", "secret1")

	env.clock.Advance(time.Minute)
	c.SetHidden(true)
	env.clock.Advance(26 * time.Minute)

	if !c.CheckIdle() {
		t.Fatal("hidden view should push the session past the idle timeout")
	}
}

func TestTouchKeepsSessionAlive(t *testing.T) {
	env := newTestEnv(t)
	env.addUser("user1", "secret1")
	c := env.loggedIn(t, "ns-1", "user1", "secret1")

	env.clock.Advance(29 * time.Minute)
	c.SetHidden(false)
	env.clock.Advance(29 * time.Minute)

	if c.CheckIdle() {
		t.Fatal("idle check fired despite recent activity")
	}
	if !c.IsLoggedIn() {
		t.Fatal("session ended")
	}
}
