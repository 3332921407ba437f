package observability

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fieldgate/backend/internal/logger"
)

func TestReportErrorWithoutDSN(t *testing.T) {
	if err := InitSentry("", "test", ""); err != nil {
		t.Fatal(err)
	}
	// must not panic or block
	ReportError(errors.New("boom"))
	FlushSentry()
}

func TestRecoverMiddleware(t *testing.T) {
	h := RecoverMiddleware(logger.Discard())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("kaboom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Success bool `json:"success"`
		Error   struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil || body.Success || body.Error.Code != "INTERNAL_ERROR" {
		t.Fatalf("body = %+v (%v)", body, err)
	}
}
