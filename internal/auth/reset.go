package auth

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/fieldgate/backend/internal/metrics"
	"github.com/fieldgate/backend/internal/otp"
	"github.com/fieldgate/backend/internal/repository"
	"github.com/fieldgate/backend/internal/sanitizer"
	"github.com/fieldgate/backend/internal/security"
)

// ResetStep is a step of the password reset wizard
type ResetStep string

const (
	StepEnterIdentifier ResetStep = "enter_identifier"
	StepEnterOTP        ResetStep = "enter_otp"
	StepSetNewPassword  ResetStep = "set_new_password"
	StepDone            ResetStep = "done"
)

const scopeOTP = "otp"

var otpPattern = regexp.MustCompile(`^[0-9]{6}$`)

// resetFlow is the wizard state of one client context
type resetFlow struct {
	step      ResetStep
	email     string
	accountID string
	handle    string
	validated bool
}

func (f resetFlow) current() ResetStep {
	if f.step == "" {
		return StepEnterIdentifier
	}
	return f.step
}

// ResetStatus is the externally visible wizard state
type ResetStatus struct {
	Step      ResetStep `json:"step"`
	Email     string    `json:"email,omitempty"`
	Validated bool      `json:"validated"`
}

// AccountRef identifies an account found by CheckUserExists
type AccountRef struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
}

// CheckUserExists resolves identifier with the login lookup, without any
// password check. Deactivated accounts are reported as missing.
func (s *System) CheckUserExists(ctx context.Context, identifier string) (*AccountRef, error) {
	if err := s.waitReady(ctx); err != nil {
		return nil, err
	}
	u, err := s.lookup(ctx, sanitizer.Identifier(identifier))
	if err != nil {
		return nil, err
	}
	if !u.IsActive {
		return nil, ErrAccountNotFound
	}
	return &AccountRef{ID: u.Username, Email: u.EmailValue()}, nil
}

// ResetUserPassword overwrites the stored secret of username
func (s *System) ResetUserPassword(ctx context.Context, username, newPassword, by string) error {
	if len(newPassword) < MinPasswordLength {
		return ErrValidation
	}
	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return err
	}

	patch := repository.UserPatch{PasswordHash: &hash}
	if by != "" {
		patch.UpdatedBy = &by
	}
	if err := s.users.Update(ctx, username, patch); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return ErrNotFound
		}
		return err
	}

	s.forget(username)
	s.monitor.LogActivity(security.ActivityPasswordReset, map[string]any{"username": username, "by": by})
	return nil
}

// ResetState returns the current wizard state
func (c *Client) ResetState() ResetStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resetStatusLocked()
}

func (c *Client) resetStatusLocked() ResetStatus {
	return ResetStatus{
		Step:      c.reset.current(),
		Email:     maskEmail(c.reset.email),
		Validated: c.reset.validated,
	}
}

func (c *Client) resetSnapshot() resetFlow {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reset
}

// RequestOTP starts the wizard for identifier and sends a code to the
// account's email. Starting over from Done is allowed.
func (c *Client) RequestOTP(ctx context.Context, identifier string) Result {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	s := c.sys
	if err := s.waitReady(ctx); err != nil {
		return failed(ErrInitialization, MsgInitialization, "")
	}

	switch c.resetSnapshot().current() {
	case StepEnterIdentifier, StepDone:
	default:
		return failed(ErrInvalidStep, MsgResetStepInvalid, "")
	}

	if strings.TrimSpace(identifier) == "" {
		return failed(ErrValidation, MsgIdentifierRequired, "identifier")
	}
	if res, ok := c.allowOTP(ctx); !ok {
		return res
	}

	acct, err := s.CheckUserExists(ctx, identifier)
	switch {
	case errors.Is(err, ErrAccountNotFound):
		return failed(ErrAccountNotFound, MsgIdentifierNotFound, "identifier")
	case err != nil:
		return c.storeFailure("check_user", err)
	}
	if acct.Email == "" {
		return failed(ErrValidation, MsgNoEmailOnAccount, "identifier")
	}

	handle, err := s.otp.Generate(ctx, acct.Email)
	if err != nil {
		return c.otpFailure("generate", err, MsgOTPSendFailed, "identifier")
	}
	metrics.OTPRequests.WithLabelValues("generate", "success").Inc()

	c.mu.Lock()
	c.reset = resetFlow{step: StepEnterOTP, email: acct.Email, accountID: acct.ID, handle: handle}
	status := c.resetStatusLocked()
	c.mu.Unlock()

	s.logger.Info("password reset code sent", slog.String("username", acct.ID))
	return succeeded(MsgOTPSent, status)
}

// SubmitOTP verifies a 6 digit code. A rejected code leaves the wizard on
// the code step; retries are unlimited here.
func (c *Client) SubmitOTP(ctx context.Context, code string) Result {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	s := c.sys
	if err := s.waitReady(ctx); err != nil {
		return failed(ErrInitialization, MsgInitialization, "")
	}

	flow := c.resetSnapshot()
	if flow.current() != StepEnterOTP {
		return failed(ErrInvalidStep, MsgResetStepInvalid, "")
	}
	if flow.email == "" {
		return failed(ErrInvalidStep, MsgEmailLost, "")
	}

	code = strings.TrimSpace(code)
	if !otpPattern.MatchString(code) {
		return failed(ErrValidation, MsgOTPIncomplete, "otp")
	}

	verified, message, err := s.otp.Verify(ctx, flow.email, code)
	if err != nil {
		return c.otpFailure("verify", err, MsgOTPCheckFailed, "otp")
	}
	if !verified {
		metrics.OTPRequests.WithLabelValues("verify", "rejected").Inc()
		if message == "" {
			message = otp.DefaultRejectMessage
		}
		return failed(ErrOTPRejected, message, "otp")
	}
	metrics.OTPRequests.WithLabelValues("verify", "success").Inc()

	c.mu.Lock()
	c.reset.validated = true
	c.reset.step = StepSetNewPassword
	status := c.resetStatusLocked()
	c.mu.Unlock()

	return succeeded(MsgOTPVerified, status)
}

// SubmitNewPassword finishes the wizard. It requires a verified code and
// discards all wizard state on success.
func (c *Client) SubmitNewPassword(ctx context.Context, password, confirm string) Result {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	s := c.sys
	if err := s.waitReady(ctx); err != nil {
		return failed(ErrInitialization, MsgInitialization, "")
	}

	flow := c.resetSnapshot()
	if flow.current() != StepSetNewPassword || !flow.validated {
		return failed(ErrInvalidStep, MsgVerifyOTPFirst, "")
	}
	if flow.accountID == "" {
		return failed(ErrInvalidStep, MsgEmailLost, "")
	}

	switch {
	case password == "":
		return failed(ErrValidation, MsgNewPasswordEmpty, "password")
	case len(password) < MinPasswordLength:
		return failed(ErrValidation, MsgPasswordTooShort, "password")
	case password != confirm:
		return failed(ErrValidation, MsgPasswordMismatch, "confirmPassword")
	}

	err := s.ResetUserPassword(ctx, flow.accountID, password, flow.accountID)
	switch {
	case errors.Is(err, ErrNotFound):
		return failed(ErrNotFound, MsgUserNotFound, "")
	case err != nil:
		return c.storeFailure("reset_password", err)
	}

	c.mu.Lock()
	c.reset = resetFlow{step: StepDone}
	status := c.resetStatusLocked()
	c.mu.Unlock()

	return succeeded(MsgPasswordUpdated, status)
}

// ResendOTP sends a fresh code to the remembered email without changing step
func (c *Client) ResendOTP(ctx context.Context) Result {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	s := c.sys
	if err := s.waitReady(ctx); err != nil {
		return failed(ErrInitialization, MsgInitialization, "")
	}

	flow := c.resetSnapshot()
	if flow.email == "" || flow.current() != StepEnterOTP {
		return failed(ErrInvalidStep, MsgEmailLost, "")
	}
	if res, ok := c.allowOTP(ctx); !ok {
		return res
	}

	handle, err := s.otp.Generate(ctx, flow.email)
	if err != nil {
		return c.otpFailure("generate", err, MsgOTPSendFailed, "")
	}
	metrics.OTPRequests.WithLabelValues("generate", "success").Inc()

	c.mu.Lock()
	c.reset.handle = handle
	status := c.resetStatusLocked()
	c.mu.Unlock()

	return succeeded(MsgOTPSent, status)
}

// ResetBack moves the wizard one step back. Leaving the password step
// drops the verification; Done returns to the start.
func (c *Client) ResetBack() Result {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.reset.current() {
	case StepEnterOTP:
		c.reset = resetFlow{step: StepEnterIdentifier}
	case StepSetNewPassword:
		c.reset.step = StepEnterOTP
		c.reset.validated = false
	case StepDone:
		c.reset = resetFlow{step: StepEnterIdentifier}
	default:
		return failed(ErrInvalidStep, MsgResetStepInvalid, "")
	}
	return succeeded("", c.resetStatusLocked())
}

func (c *Client) allowOTP(ctx context.Context) (Result, bool) {
	id, err := c.ClientID(ctx)
	if err != nil {
		return failed(ErrStoreUnavailable, MsgStoreUnavailable, ""), false
	}
	if !c.sys.limiter.Allow(scopeOTP + "_" + id) {
		c.sys.monitor.LogActivity(security.ActivityRateLimited, map[string]any{"clientId": id, "scope": scopeOTP})
		metrics.RateLimited.WithLabelValues(scopeOTP).Inc()
		return failed(ErrRateLimited, MsgActionRateLimited, ""), false
	}
	return Result{}, true
}

// otpFailure converts a provider error into a Result carrying the
// provider's own message when it gave one.
func (c *Client) otpFailure(op string, err error, fallback, field string) Result {
	var rejected *otp.RejectedError
	if errors.As(err, &rejected) {
		metrics.OTPRequests.WithLabelValues(op, "rejected").Inc()
		msg := rejected.Message
		if msg == "" {
			msg = fallback
		}
		return failed(ErrOTPRejected, msg, field)
	}

	c.sys.logger.Error("otp provider failed", slog.String("operation", op), slog.String("error", err.Error()))
	c.sys.report(err)
	metrics.OTPRequests.WithLabelValues(op, "error").Inc()
	return failed(ErrStoreUnavailable, fallback, "")
}

// maskEmail keeps the first character of the local part
func maskEmail(email string) string {
	at := strings.LastIndexByte(email, '@')
	if at < 1 {
		return email
	}
	_, size := utf8.DecodeRuneInString(email)
	return email[:size] + strings.Repeat("*", utf8.RuneCountInString(email[size:at])) + email[at:]
}
