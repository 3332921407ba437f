package otp

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	pqotp "github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// Deliverer sends a generated code to its recipient
type Deliverer func(ctx context.Context, email, code string) error

// LocalConfig configures the in-process provider
type LocalConfig struct {
	Issuer string
	// Period is how long a code stays valid
	Period time.Duration
}

// LocalProvider derives six-digit codes from a per-recipient TOTP secret.
// A secret is discarded once its code verifies, so each code is single use.
type LocalProvider struct {
	cfg     LocalConfig
	deliver Deliverer
	now     func() time.Time

	mu      sync.Mutex
	secrets map[string]string
}

// NewLocalProvider creates a provider. When deliver is nil codes are written
// to logger, which is only suitable for development.
func NewLocalProvider(cfg LocalConfig, deliver Deliverer, logger *slog.Logger) *LocalProvider {
	if cfg.Period <= 0 {
		cfg.Period = 5 * time.Minute
	}
	if cfg.Issuer == "" {
		cfg.Issuer = "fieldgate"
	}
	if deliver == nil {
		if logger == nil {
			logger = slog.Default()
		}
		deliver = func(ctx context.Context, email, code string) error {
			logger.InfoContext(ctx, "one-time code issued", slog.String("email", email), slog.String("passcode", code))
			return nil
		}
	}
	return &LocalProvider{
		cfg:     cfg,
		deliver: deliver,
		now:     time.Now,
		secrets: make(map[string]string),
	}
}

// WithClock replaces the time source, for tests.
func (p *LocalProvider) WithClock(now func() time.Time) *LocalProvider {
	p.now = now
	return p
}

func (p *LocalProvider) opts() totp.ValidateOpts {
	return totp.ValidateOpts{
		Period:    uint(p.cfg.Period / time.Second),
		Digits:    pqotp.DigitsSix,
		Algorithm: pqotp.AlgorithmSHA1,
	}
}

// Generate issues a fresh secret for email and delivers the current code.
// The returned handle is the recipient key.
func (p *LocalProvider) Generate(ctx context.Context, email string) (string, error) {
	key := strings.ToLower(strings.TrimSpace(email))

	secret, err := totp.Generate(totp.GenerateOpts{
		Issuer:      p.cfg.Issuer,
		AccountName: key,
		Period:      uint(p.cfg.Period / time.Second),
		Digits:      pqotp.DigitsSix,
		Algorithm:   pqotp.AlgorithmSHA1,
	})
	if err != nil {
		return "", fmt.Errorf("generate otp secret: %w", err)
	}

	code, err := totp.GenerateCodeCustom(secret.Secret(), p.now(), p.opts())
	if err != nil {
		return "", fmt.Errorf("generate otp code: %w", err)
	}

	p.mu.Lock()
	p.secrets[key] = secret.Secret()
	p.mu.Unlock()

	if err := p.deliver(ctx, key, code); err != nil {
		return "", fmt.Errorf("%w: deliver code: %v", ErrTransport, err)
	}
	return key, nil
}

// Verify checks code against the recipient's current secret
func (p *LocalProvider) Verify(_ context.Context, email, code string) (bool, string, error) {
	key := strings.ToLower(strings.TrimSpace(email))

	p.mu.Lock()
	defer p.mu.Unlock()

	secret, ok := p.secrets[key]
	if !ok {
		return false, DefaultRejectMessage, nil
	}

	valid, err := totp.ValidateCustom(code, secret, p.now(), p.opts())
	if err != nil || !valid {
		return false, DefaultRejectMessage, nil
	}

	delete(p.secrets, key)
	return true, "OTP is verified", nil
}
