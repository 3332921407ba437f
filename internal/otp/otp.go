// Package otp issues and verifies the one-time codes used by password reset.
// The remote provider delegates to an HTTP OTP service; the local provider
// derives codes with TOTP and hands them to a Deliverer.
package otp

import (
	"context"
	"errors"
)

// Provider generates and verifies one-time codes addressed to an email
type Provider interface {
	// Generate issues a code for email and returns the provider's handle for it.
	Generate(ctx context.Context, email string) (string, error)
	// Verify checks code for email. A rejected code is not an error: it yields
	// verified=false and the provider's message.
	Verify(ctx context.Context, email, code string) (verified bool, message string, err error)
}

// ErrTransport marks failures to reach the provider at all
var ErrTransport = errors.New("otp provider unreachable")

// RejectedError is a logical refusal reported by the provider, such as an
// unknown recipient or a send quota.
type RejectedError struct {
	Message string
}

func (e *RejectedError) Error() string { return e.Message }

// DefaultRejectMessage is used when the provider gives no reason
const DefaultRejectMessage = "Mã OTP không chính xác"

// DefaultGenerateFailure is used when a send fails without a message
const DefaultGenerateFailure = "Không thể gửi mã OTP. Vui lòng thử lại!"
