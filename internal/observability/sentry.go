// Package observability wires error reporting to Sentry. Without a DSN every
// function here is a no-op.
package observability

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/getsentry/sentry-go"
)

var enabled atomic.Bool

// InitSentry configures the Sentry client. An empty dsn disables reporting.
func InitSentry(dsn, environment, release string) error {
	if dsn == "" {
		return nil
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Environment:      environment,
		Release:          release,
		AttachStacktrace: true,
	})
	if err != nil {
		return err
	}
	enabled.Store(true)
	return nil
}

// FlushSentry waits for buffered events to be sent
func FlushSentry() {
	if enabled.Load() {
		sentry.Flush(2 * time.Second)
	}
}

// ReportError sends err to Sentry. It is safe to call when reporting is off.
func ReportError(err error) {
	if err == nil || !enabled.Load() {
		return
	}
	sentry.CaptureException(err)
}

// RecoverMiddleware turns handler panics into 500 responses and reports them
func RecoverMiddleware(logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				if enabled.Load() {
					sentry.WithScope(func(scope *sentry.Scope) {
						scope.SetExtra("panic", rec)
						scope.SetExtra("stack", string(debug.Stack()))
						scope.SetTag("path", r.URL.Path)
						sentry.CaptureMessage("panic in request")
					})
				}

				logger.Error("panic recovered",
					slog.String("path", r.URL.Path),
					slog.String("method", r.Method),
					slog.Any("panic", rec),
				)

				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				_ = json.NewEncoder(w).Encode(map[string]any{
					"success": false,
					"error": map[string]string{
						"code":    "INTERNAL_ERROR",
						"message": "An unexpected error occurred",
					},
					"timestamp": time.Now().UTC(),
				})
			}()

			next.ServeHTTP(w, r)
		})
	}
}
