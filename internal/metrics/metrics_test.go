package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMiddlewareLabelsByRoutePattern(t *testing.T) {
	HTTPRequestsTotal.Reset()

	r := chi.NewRouter()
	r.Use(Middleware)
	r.Delete("/api/v1/fields/{id}/items/{itemId}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	r.Post("/api/v1/auth/login", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":true}`))
	})

	for _, target := range []string{"/api/v1/fields/f1/items/a", "/api/v1/fields/f2/items/b"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodDelete, target, nil))
	}
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", nil))

	items := HTTPRequestsTotal.WithLabelValues(http.MethodDelete, "/api/v1/fields/{id}/items/{itemId}", "404")
	if got := testutil.ToFloat64(items); got != 2 {
		t.Errorf("item deletes = %v, want 2 under one pattern", got)
	}
	login := HTTPRequestsTotal.WithLabelValues(http.MethodPost, "/api/v1/auth/login", "200")
	if got := testutil.ToFloat64(login); got != 1 {
		t.Errorf("logins = %v, want 1", got)
	}
}

type flushRecorder struct {
	*httptest.ResponseRecorder
	flushes int
}

func (f *flushRecorder) Flush() { f.flushes++ }

func TestResponseWriterKeepsEventStreamsFlushing(t *testing.T) {
	inner := &flushRecorder{ResponseRecorder: httptest.NewRecorder()}
	rw := newResponseWriter(inner)

	rw.WriteHeader(http.StatusOK)
	rw.Write([]byte("event: heartbeat\n\n"))
	rw.Flush()

	if inner.flushes != 1 {
		t.Errorf("flushes = %d, want 1", inner.flushes)
	}
	if rw.Unwrap() != http.ResponseWriter(inner) {
		t.Error("Unwrap did not return the wrapped writer")
	}
	if rw.size != len("event: heartbeat\n\n") || rw.statusCode != http.StatusOK {
		t.Errorf("size=%d status=%d", rw.size, rw.statusCode)
	}
}

func TestAuthCountersByLabel(t *testing.T) {
	Logouts.Reset()
	OTPRequests.Reset()
	AdminOperations.Reset()

	Logouts.WithLabelValues("user").Inc()
	Logouts.WithLabelValues("idle").Inc()
	Logouts.WithLabelValues("idle").Inc()
	OTPRequests.WithLabelValues("generate", "success").Inc()
	OTPRequests.WithLabelValues("verify", "rejected").Inc()
	AdminOperations.WithLabelValues("toggle_status", "success").Inc()
	AdminOperations.WithLabelValues("toggle_status", "error").Inc()
	AdminOperations.WithLabelValues("create_field", "success").Inc()

	if got := testutil.ToFloat64(Logouts.WithLabelValues("idle")); got != 2 {
		t.Errorf("idle logouts = %v, want 2", got)
	}
	if got := testutil.CollectAndCount(OTPRequests); got != 2 {
		t.Errorf("otp series = %d, want 2", got)
	}
	if got := testutil.CollectAndCount(AdminOperations); got != 3 {
		t.Errorf("admin series = %d, want 3", got)
	}

	const want = `
# HELP fieldgate_auth_logouts_total Total number of logouts by reason
# TYPE fieldgate_auth_logouts_total counter
fieldgate_auth_logouts_total{reason="idle"} 2
fieldgate_auth_logouts_total{reason="user"} 1
`
	if err := testutil.CollectAndCompare(Logouts, strings.NewReader(want)); err != nil {
		t.Error(err)
	}
}

func TestStreamGauges(t *testing.T) {
	before := testutil.ToFloat64(SSEConnections)
	SSEConnections.Inc()
	SSEConnections.Inc()
	SSEConnections.Dec()
	if got := testutil.ToFloat64(SSEConnections) - before; got != 1 {
		t.Errorf("open streams delta = %v, want 1", got)
	}
}

func TestCollectPublishesPoolStats(t *testing.T) {
	c := NewDBStatsCollector(func() PoolStats {
		return PoolStats{Total: 8, Acquired: 3, Idle: 5, Max: 25, SQLInUse: 1}
	}, nil)
	c.Collect()

	for name, tc := range map[string]struct {
		got  float64
		want float64
	}{
		"open":   {testutil.ToFloat64(DBConnectionsOpen), 8},
		"in use": {testutil.ToFloat64(DBConnectionsInUse), 3},
		"idle":   {testutil.ToFloat64(DBConnectionsIdle), 5},
		"max":    {testutil.ToFloat64(DBConnectionsMaxOpen), 25},
		"sql":    {testutil.ToFloat64(DBSQLInUse), 1},
	} {
		if tc.got != tc.want {
			t.Errorf("%s = %v, want %v", name, tc.got, tc.want)
		}
	}
}

func TestPoolStatsSourceToleratesMissingPools(t *testing.T) {
	if s := PoolStatsSource(nil, nil)(); s != (PoolStats{}) {
		t.Fatalf("stats = %+v, want zero", s)
	}
}

func TestRunStopsWithContext(t *testing.T) {
	calls := make(chan struct{}, 16)
	c := NewDBStatsCollector(func() PoolStats {
		calls <- struct{}{}
		return PoolStats{}
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Run(ctx, time.Hour)
	}()

	select {
	case <-calls:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not collect on start")
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run kept going after cancel")
	}
}

func TestTimeQueryObservesOperation(t *testing.T) {
	DBQueryDuration.Reset()
	TimeQuery("user_get")()
	TimeQuery("user_get")()

	if got := testutil.CollectAndCount(DBQueryDuration); got != 1 {
		t.Errorf("series = %d, want 1", got)
	}
}

func TestHandlerExposesDomainSeries(t *testing.T) {
	Logouts.WithLabelValues("revoked").Inc()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	for _, series := range []string{"fieldgate_auth_logouts_total", "fieldgate_events_streams_open", "fieldgate_db_connections_open"} {
		if !strings.Contains(body, series) {
			t.Errorf("/metrics is missing %s", series)
		}
	}
}
