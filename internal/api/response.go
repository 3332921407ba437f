package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/fieldgate/backend/internal/auth"
	appctx "github.com/fieldgate/backend/internal/context"
)

// Error codes produced by the HTTP layer itself. Operation failures carry
// the auth package codes.
const (
	CodeValidationError  = auth.CodeValidationError
	CodeInternalError    = "INTERNAL_ERROR"
	CodeAuthTokenInvalid = "AUTH_TOKEN_INVALID"
)

const maxBodyBytes = 64 << 10

// APIResponse represents the standard API response format
type APIResponse struct {
	Success bool      `json:"success"`
	Message string    `json:"message,omitempty"`
	Data    any       `json:"data,omitempty"`
	Error   *APIError `json:"error,omitempty"`
	// Redirect names the view the client should navigate to, when an
	// operation requested navigation
	Redirect  string    `json:"redirect,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// APIError represents the error detail in API response
type APIError struct {
	Code    string              `json:"code"`
	Message string              `json:"message"`
	Field   string              `json:"field,omitempty"`
	Locked  bool                `json:"locked,omitempty"`
	Details map[string][]string `json:"details,omitempty"`
}

// statusFor maps an operation error code to its HTTP status
func statusFor(code string) int {
	switch code {
	case auth.CodeRateLimited, auth.CodeTemporarilyLocked:
		return http.StatusTooManyRequests
	case auth.CodeAccountNotFound, auth.CodeWrongPassword, auth.CodeAccountDeactivated, auth.CodeUnauthenticated:
		return http.StatusUnauthorized
	case auth.CodeAccountLocked:
		return http.StatusLocked
	case auth.CodeValidationError, auth.CodeOTPRejected:
		return http.StatusBadRequest
	case auth.CodeDuplicateConflict, auth.CodeInvalidStep:
		return http.StatusConflict
	case auth.CodeForbidden:
		return http.StatusForbidden
	case auth.CodeNotFound, auth.CodeNoRememberedLogin:
		return http.StatusNotFound
	case auth.CodeStoreUnavailable, auth.CodeInitialization:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// clientFrom returns the client context resolved by the auth middleware
func clientFrom(w http.ResponseWriter, r *http.Request) (*auth.Client, bool) {
	client, ok := appctx.ExtractClient(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, CodeAuthTokenInvalid, "Invalid or expired session token", nil)
		return nil, false
	}
	return client, true
}

// decodeRequest reads a JSON body into req and validates it. On failure the
// error response has been written and false is returned.
func decodeRequest(w http.ResponseWriter, r *http.Request, req any) bool {
	if r.Body != nil && r.ContentLength != 0 {
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err := dec.Decode(req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, CodeValidationError, "Invalid request body", nil)
			return false
		}
	}
	if details := validationDetails(req); details != nil {
		writeError(w, http.StatusBadRequest, CodeValidationError, "Validation failed", details)
		return false
	}
	return true
}

// writeResult writes an operation result, taking any navigation the
// operation requested from the client context.
func writeResult(w http.ResponseWriter, client *auth.Client, res auth.Result, successStatus int) {
	redirect := client.TakeRedirect()

	if res.Success {
		writeJSON(w, successStatus, APIResponse{
			Success:   true,
			Message:   res.Message,
			Data:      res.Data,
			Redirect:  redirect,
			Timestamp: time.Now().UTC(),
		})
		return
	}

	writeJSON(w, statusFor(res.Code), APIResponse{
		Success: false,
		Error: &APIError{
			Code:    res.Code,
			Message: res.Message,
			Field:   res.Field,
			Locked:  res.IsLocked,
		},
		Redirect:  redirect,
		Timestamp: time.Now().UTC(),
	})
}

// writeSuccess writes a successful JSON response
func writeSuccess(w http.ResponseWriter, statusCode int, data any) {
	writeJSON(w, statusCode, APIResponse{
		Success:   true,
		Data:      data,
		Timestamp: time.Now().UTC(),
	})
}

// writeError writes an error JSON response
func writeError(w http.ResponseWriter, statusCode int, code, message string, details map[string][]string) {
	writeJSON(w, statusCode, APIResponse{
		Success: false,
		Error: &APIError{
			Code:    code,
			Message: message,
			Details: details,
		},
		Timestamp: time.Now().UTC(),
	})
}

func writeJSON(w http.ResponseWriter, statusCode int, response APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(response)
}
