package auth

import (
	"context"
	"testing"
	"time"

	"github.com/fieldgate/backend/internal/clientid"
	"github.com/fieldgate/backend/internal/security"
)

func deviceClient(env *testEnv, namespace, device string) *Client {
	return env.sys.Client(context.Background(), namespace, device, clientid.Fingerprint{})
}

func TestAutoLoginFromAnotherContextOfTheDevice(t *testing.T) {
	env := newTestEnv(t)
	env.addUser("user1", "secret1")
	ctx := context.Background()

	first := deviceClient(env, "ns-1", "dev")
	if !first.Login(ctx, "user1", "secret1").Success {
		t.Fatal("login failed")
	}
	if err := first.SaveRememberMe(ctx, "user1", "secret1", true); err != nil {
		t.Fatal(err)
	}

	second := deviceClient(env, "ns-2", "dev")
	res := second.TryAutoLogin(ctx)
	if !res.Success || res.Session().Username != "user1" {
		t.Fatalf("TryAutoLogin = %+v", res)
	}
	if env.countActivities(security.ActivityAutoLogin) != 1 {
		t.Error("auto_login not logged")
	}

	tok, ok := second.CheckRememberMe(ctx)
	if !ok || tok.Type != RememberLong || tok.Password == "secret1" {
		t.Fatalf("token = %+v", tok)
	}
}

func TestAutoLoginWithoutToken(t *testing.T) {
	env := newTestEnv(t)

	res := env.client("ns").TryAutoLogin(context.Background())
	if res.Success || res.Code != CodeNoRememberedLogin {
		t.Fatalf("TryAutoLogin = %+v", res)
	}
}

func TestExpiredRememberTokenRemoved(t *testing.T) {
	env := newTestEnv(t)
	env.addUser("user1", "secret1")
	c := env.client("ns")
	ctx := context.Background()

	if err := c.SaveRememberMe(ctx, "user1", "secret1", false); err != nil {
		t.Fatal(err)
	}
	env.clock.Advance(env.sys.cfg.RememberShort + time.Second)

	if res := c.TryAutoLogin(ctx); res.Code != CodeNoRememberedLogin {
		t.Fatalf("TryAutoLogin = %+v", res)
	}
	if _, ok, _ := env.durable.Get(ctx, "device:device-ns", rememberKey); ok {
		t.Fatal("expired token left in durable storage")
	}
}

func TestFailedAutoLoginClearsToken(t *testing.T) {
	env := newTestEnv(t)
	env.addUser("user1", "secret1")
	c := env.client("ns")
	ctx := context.Background()

	_ = c.SaveRememberMe(ctx, "user1", "stale-password", false)

	res := c.TryAutoLogin(ctx)
	if res.Success || res.Code != CodeWrongPassword {
		t.Fatalf("TryAutoLogin = %+v", res)
	}
	if _, ok := c.CheckRememberMe(ctx); ok {
		t.Fatal("token kept after failed auto-login")
	}
}

func TestMalformedRememberTokenRemoved(t *testing.T) {
	env := newTestEnv(t)
	c := env.client("ns")
	ctx := context.Background()

	_ = env.durable.Set(ctx, "device:device-ns", rememberKey, "garbage", 0)

	if _, ok := c.CheckRememberMe(ctx); ok {
		t.Fatal("malformed token accepted")
	}
	if _, ok, _ := env.durable.Get(ctx, "device:device-ns", rememberKey); ok {
		t.Fatal("malformed token not removed")
	}
}
