package api

import (
	"time"

	"github.com/fieldgate/backend/internal/auth"
	"github.com/fieldgate/backend/internal/security"
)

// SessionRequest optionally carries a previous context token so the new
// context keeps the same device and its remembered login.
type SessionRequest struct {
	PreviousToken string `json:"previous_token" validate:"max=4096"`
}

// LoginRequest represents the login form
type LoginRequest struct {
	Identifier string `json:"identifier" validate:"max=254"`
	Password   string `json:"password" validate:"max=128"`
	// Remember selects the long remember-me lifetime
	Remember bool `json:"remember"`
}

// ActivityRequest reports user interaction or a visibility change
type ActivityRequest struct {
	Hidden *bool `json:"hidden,omitempty"`
}

// ResetRequestOTP starts the password reset flow
type ResetRequestOTP struct {
	Identifier string `json:"identifier" validate:"max=254"`
}

// ResetVerifyRequest submits the one-time code
type ResetVerifyRequest struct {
	Code string `json:"code" validate:"max=16"`
}

// ResetConfirmRequest sets the new password
type ResetConfirmRequest struct {
	Password        string `json:"password" validate:"max=128"`
	ConfirmPassword string `json:"confirmPassword" validate:"max=128"`
}

// AddItemRequest adds a value to a field
type AddItemRequest struct {
	Value string `json:"value" validate:"max=1000"`
}

// CreateUserRequest represents an admin account creation
type CreateUserRequest struct {
	Username       string   `json:"username" validate:"max=64"`
	Email          string   `json:"email" validate:"omitempty,email,max=254"`
	Password       string   `json:"password" validate:"max=128"`
	Name           string   `json:"name" validate:"max=200"`
	AssignedFields []string `json:"assignedFields" validate:"max=500,dive,max=64"`
}

// UpdateUserRequest is a partial account update; omitted fields are untouched
type UpdateUserRequest struct {
	Email          *string  `json:"email,omitempty" validate:"omitempty,max=254"`
	Password       *string  `json:"password,omitempty" validate:"omitempty,max=128"`
	Name           *string  `json:"name,omitempty" validate:"omitempty,max=200"`
	AssignedFields []string `json:"assignedFields,omitempty" validate:"omitempty,max=500,dive,max=64"`
}

// CreateFieldRequest represents a new field
type CreateFieldRequest struct {
	Name        string `json:"name" validate:"max=100"`
	Description string `json:"description" validate:"max=500"`
}

// UpdateFieldRequest is a partial field update
type UpdateFieldRequest struct {
	Name        *string `json:"name,omitempty" validate:"omitempty,max=100"`
	Description *string `json:"description,omitempty" validate:"omitempty,max=500"`
}

// SessionResponse is returned when a client context is issued
type SessionResponse struct {
	Token     string    `json:"token"`
	Namespace string    `json:"namespace"`
	ExpiresAt time.Time `json:"expires_at"`
}

// MeResponse describes the caller's client context
type MeResponse struct {
	Authenticated bool          `json:"authenticated"`
	User          *auth.Session `json:"user,omitempty"`
	Target        string        `json:"target"`
}

// ActivityResponse is the security activity log snapshot
type ActivityResponse struct {
	Activities []security.Activity `json:"activities"`
	Count      int                 `json:"count"`
}
