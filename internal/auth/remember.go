package auth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/fieldgate/backend/internal/security"
)

// Remember-me duration classes
const (
	RememberShort = "short"
	RememberLong  = "long"
)

// RememberToken is the durable auto-login credential of a device. The
// password is base64 encoded, which hides it from casual view and nothing more.
type RememberToken struct {
	Identifier string    `json:"email"`
	Password   string    `json:"password"`
	Expiration time.Time `json:"expiration"`
	Type       string    `json:"type"`
}

// Expired reports whether the token is no longer usable at now
func (t *RememberToken) Expired(now time.Time) bool {
	return !now.Before(t.Expiration)
}

// SaveRememberMe stores credentials for auto-login on this device
func (c *Client) SaveRememberMe(ctx context.Context, identifier, password string, long bool) error {
	ttl, class := c.sys.cfg.RememberShort, RememberShort
	if long {
		ttl, class = c.sys.cfg.RememberLong, RememberLong
	}

	tok := RememberToken{
		Identifier: identifier,
		Password:   base64.StdEncoding.EncodeToString([]byte(password)),
		Expiration: c.sys.now().Add(ttl),
		Type:       class,
	}
	raw, err := json.Marshal(tok)
	if err != nil {
		return err
	}
	return c.durable.SetWithTTL(ctx, rememberKey, string(raw), ttl)
}

// CheckRememberMe returns the stored token when it is present and still
// valid. Expired or unreadable tokens are removed.
func (c *Client) CheckRememberMe(ctx context.Context) (*RememberToken, bool) {
	raw, ok, err := c.durable.Get(ctx, rememberKey)
	if err != nil {
		c.sys.logger.Warn("failed to read remembered login", slog.String("error", err.Error()))
		return nil, false
	}
	if !ok {
		return nil, false
	}

	var tok RememberToken
	if err := json.Unmarshal([]byte(raw), &tok); err != nil || tok.Identifier == "" {
		c.clearRemember(ctx)
		return nil, false
	}
	if tok.Expired(c.sys.now()) {
		c.clearRemember(ctx)
		return nil, false
	}
	return &tok, true
}

// ClearRememberMe forgets the stored credentials
func (c *Client) ClearRememberMe(ctx context.Context) {
	c.clearRemember(ctx)
}

func (c *Client) clearRemember(ctx context.Context) {
	if err := c.durable.Remove(ctx, rememberKey); err != nil {
		c.sys.logger.Warn("failed to clear remembered login", slog.String("error", err.Error()))
	}
}

// TryAutoLogin logs in with the remembered credentials. A failed attempt
// removes them.
func (c *Client) TryAutoLogin(ctx context.Context) Result {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if sess := c.CurrentUser(); sess != nil {
		c.mu.Lock()
		c.redirect = c.targetLocked()
		c.mu.Unlock()
		return succeeded("", sess)
	}

	tok, ok := c.CheckRememberMe(ctx)
	if !ok {
		return Result{Code: CodeNoRememberedLogin}
	}

	password, err := base64.StdEncoding.DecodeString(tok.Password)
	if err != nil {
		c.clearRemember(ctx)
		return Result{Code: CodeNoRememberedLogin}
	}

	res := c.login(ctx, tok.Identifier, string(password))
	if !res.Success {
		c.clearRemember(ctx)
		return res
	}

	c.sys.monitor.LogActivity(security.ActivityAutoLogin, map[string]any{"username": res.Session().Username})
	return res
}
