package api

import (
	"log/slog"
	"net/http"

	"github.com/fieldgate/backend/internal/auth"
	"github.com/fieldgate/backend/internal/middleware"
)

// AuthHandler handles client-context, login and password reset endpoints
type AuthHandler struct {
	tokens *auth.TokenService
	logger *slog.Logger
}

// NewAuthHandler creates a new AuthHandler instance
func NewAuthHandler(tokens *auth.TokenService, logger *slog.Logger) *AuthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthHandler{
		tokens: tokens,
		logger: logger,
	}
}

// IssueSession handles POST /api/v1/session. A previous token, from the
// body or the request headers, keeps the device so its remembered login
// survives; the session namespace is always new.
func (h *AuthHandler) IssueSession(w http.ResponseWriter, r *http.Request) {
	var req SessionRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	previous := req.PreviousToken
	if previous == "" {
		previous, _, _ = middleware.TokenFromRequest(r)
	}

	var deviceID string
	if previous != "" {
		deviceID, _ = h.tokens.RecoverDeviceID(previous)
	}

	issued, err := h.tokens.IssueContextToken(deviceID)
	if err != nil {
		h.logger.Error("Failed to issue context token", "error", err)
		writeError(w, http.StatusInternalServerError, CodeInternalError, "Failed to create session", nil)
		return
	}

	writeSuccess(w, http.StatusCreated, SessionResponse{
		Token:     issued.Token,
		Namespace: issued.Namespace,
		ExpiresAt: issued.ExpiresAt,
	})
}

// Login handles POST /api/v1/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	client, ok := clientFrom(w, r)
	if !ok {
		return
	}

	var req LoginRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	res := client.Login(r.Context(), req.Identifier, req.Password)
	if res.Success {
		if err := client.SaveRememberMe(r.Context(), req.Identifier, req.Password, req.Remember); err != nil {
			h.logger.Warn("Failed to save remembered login", "error", err, "namespace", client.Namespace())
		}
	}
	writeResult(w, client, res, http.StatusOK)
}

// Logout handles POST /api/v1/auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	client, ok := clientFrom(w, r)
	if !ok {
		return
	}

	client.Logout(r.Context())
	writeResult(w, client, auth.Result{Success: true}, http.StatusOK)
}

// AutoLogin handles POST /api/v1/auth/auto-login
func (h *AuthHandler) AutoLogin(w http.ResponseWriter, r *http.Request) {
	client, ok := clientFrom(w, r)
	if !ok {
		return
	}

	res := client.TryAutoLogin(r.Context())
	if res.Code == auth.CodeNoRememberedLogin && res.Message == "" {
		res.Message = "No remembered login on this device"
	}
	writeResult(w, client, res, http.StatusOK)
}

// Me handles GET /api/v1/auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	client, ok := clientFrom(w, r)
	if !ok {
		return
	}
	writeSuccess(w, http.StatusOK, describeClient(client))
}

// Activity handles POST /api/v1/auth/activity. The body optionally reports
// a visibility change; any call counts as interaction.
func (h *AuthHandler) Activity(w http.ResponseWriter, r *http.Request) {
	client, ok := clientFrom(w, r)
	if !ok {
		return
	}

	var req ActivityRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	if req.Hidden != nil {
		client.SetHidden(*req.Hidden)
	} else {
		client.Touch()
	}
	writeResult(w, client, auth.Result{Success: true, Data: describeClient(client)}, http.StatusOK)
}

func describeClient(client *auth.Client) MeResponse {
	user := client.CurrentUser()
	return MeResponse{
		Authenticated: user != nil,
		User:          user,
		Target:        client.RedirectTarget(),
	}
}

// ResetState handles GET /api/v1/auth/password-reset
func (h *AuthHandler) ResetState(w http.ResponseWriter, r *http.Request) {
	client, ok := clientFrom(w, r)
	if !ok {
		return
	}
	writeSuccess(w, http.StatusOK, client.ResetState())
}

// RequestOTP handles POST /api/v1/auth/password-reset/request
func (h *AuthHandler) RequestOTP(w http.ResponseWriter, r *http.Request) {
	client, ok := clientFrom(w, r)
	if !ok {
		return
	}

	var req ResetRequestOTP
	if !decodeRequest(w, r, &req) {
		return
	}
	writeResult(w, client, client.RequestOTP(r.Context(), req.Identifier), http.StatusOK)
}

// VerifyOTP handles POST /api/v1/auth/password-reset/verify
func (h *AuthHandler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	client, ok := clientFrom(w, r)
	if !ok {
		return
	}

	var req ResetVerifyRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	writeResult(w, client, client.SubmitOTP(r.Context(), req.Code), http.StatusOK)
}

// ConfirmReset handles POST /api/v1/auth/password-reset/confirm
func (h *AuthHandler) ConfirmReset(w http.ResponseWriter, r *http.Request) {
	client, ok := clientFrom(w, r)
	if !ok {
		return
	}

	var req ResetConfirmRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	writeResult(w, client, client.SubmitNewPassword(r.Context(), req.Password, req.ConfirmPassword), http.StatusOK)
}

// ResendOTP handles POST /api/v1/auth/password-reset/resend
func (h *AuthHandler) ResendOTP(w http.ResponseWriter, r *http.Request) {
	client, ok := clientFrom(w, r)
	if !ok {
		return
	}
	writeResult(w, client, client.ResendOTP(r.Context()), http.StatusOK)
}

// ResetBack handles POST /api/v1/auth/password-reset/back
func (h *AuthHandler) ResetBack(w http.ResponseWriter, r *http.Request) {
	client, ok := clientFrom(w, r)
	if !ok {
		return
	}
	writeResult(w, client, client.ResetBack(), http.StatusOK)
}
