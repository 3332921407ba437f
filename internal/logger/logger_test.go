package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestSanitizeAttributesRedactsSecrets(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{ReplaceAttr: sanitizeAttributes}))

	log.Info("login",
		slog.String("username", "admin1"),
		slog.String("password", "hunter2"),
		slog.String("new_password", "hunter3"),
		slog.String("session_token", "abc"),
		slog.String("otp_code", "123456"),
		slog.String("remember_login", "blob"),
	)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("invalid log line: %v", err)
	}

	if entry["username"] != "admin1" {
		t.Errorf("username should pass through, got %v", entry["username"])
	}
	for _, key := range []string{"password", "new_password", "session_token", "otp_code", "remember_login"} {
		if entry[key] != "[REDACTED]" {
			t.Errorf("%s = %v, want [REDACTED]", key, entry[key])
		}
	}
}

func TestCorrelationID(t *testing.T) {
	ctx := context.Background()
	if got := GetCorrelationID(ctx); got != "" {
		t.Errorf("empty context returned %q", got)
	}

	ctx = SetCorrelationID(ctx, "req-42")
	if got := GetCorrelationID(ctx); got != "req-42" {
		t.Errorf("GetCorrelationID = %q, want req-42", got)
	}
}
