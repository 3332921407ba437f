package middleware

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/fieldgate/backend/internal/auth"
	"github.com/fieldgate/backend/internal/clientid"
	appctx "github.com/fieldgate/backend/internal/context"
)

// Headers carrying the client context
const (
	HeaderSessionToken = "X-Session-Token"
	HeaderScreenSize   = "X-Screen-Size"
	HeaderTimeZone     = "X-Timezone"
)

// ErrorResponse represents the standard error response format
type ErrorResponse struct {
	Success   bool        `json:"success"`
	Error     ErrorDetail `json:"error"`
	Timestamp time.Time   `json:"timestamp"`
}

// ErrorDetail contains error information
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// AuthMiddleware resolves the client context named by the session token
type AuthMiddleware struct {
	tokenService *auth.TokenService
	system       *auth.System
}

// NewAuthMiddleware creates a new AuthMiddleware instance
func NewAuthMiddleware(tokenService *auth.TokenService, system *auth.System) *AuthMiddleware {
	return &AuthMiddleware{
		tokenService: tokenService,
		system:       system,
	}
}

// Authenticate validates the context token and injects the client context.
// Mutating requests count as user interaction for idle tracking; reads do
// not, so polling cannot keep an abandoned session alive.
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString, code, message := TokenFromRequest(r)
		if code != "" {
			m.writeError(w, http.StatusUnauthorized, code, message)
			return
		}

		claims, err := m.tokenService.ValidateContextToken(tokenString)
		if err != nil {
			m.writeError(w, http.StatusUnauthorized, "AUTH_TOKEN_INVALID", "Invalid or expired session token")
			return
		}

		client := m.system.Client(r.Context(), claims.Namespace(), claims.DeviceID, FingerprintFromRequest(r))
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			client.Touch()
		}

		ctx := appctx.WithClient(r.Context(), client, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// TokenFromRequest reads the context token from the Authorization header or
// X-Session-Token. A non-empty code reports why no token could be read.
func TokenFromRequest(r *http.Request) (token, code, message string) {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			return "", "AUTH_TOKEN_INVALID", "Invalid authorization header format"
		}
		if token = strings.TrimSpace(parts[1]); token == "" {
			return "", "AUTH_TOKEN_INVALID", "Token is empty"
		}
		return token, "", ""
	}
	if token = strings.TrimSpace(r.Header.Get(HeaderSessionToken)); token != "" {
		return token, "", ""
	}
	return "", "AUTH_TOKEN_MISSING", "Session token is required"
}

// FingerprintFromRequest builds the client fingerprint from request headers
func FingerprintFromRequest(r *http.Request) clientid.Fingerprint {
	width, height := clientid.ParseScreen(r.Header.Get(HeaderScreenSize))
	return clientid.Fingerprint{
		ScreenWidth:  width,
		ScreenHeight: height,
		TimeZone:     r.Header.Get(HeaderTimeZone),
	}
}

// writeError writes a JSON error response
func (m *AuthMiddleware) writeError(w http.ResponseWriter, statusCode int, code, message string) {
	writeJSONError(w, statusCode, code, message)
}

func writeJSONError(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := ErrorResponse{
		Success: false,
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
		Timestamp: time.Now().UTC(),
	}

	json.NewEncoder(w).Encode(response)
}
