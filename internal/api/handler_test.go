package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/fieldgate/backend/internal/auth"
	"github.com/fieldgate/backend/internal/logger"
	"github.com/fieldgate/backend/internal/middleware"
	"github.com/fieldgate/backend/internal/repository"
	"github.com/fieldgate/backend/internal/security"
	"github.com/fieldgate/backend/internal/storage"
)

// stubOTP accepts "123456" for every email
type stubOTP struct {
	mu   sync.Mutex
	sent []string
}

func (s *stubOTP) Generate(_ context.Context, email string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, email)
	return "handle", nil
}

func (s *stubOTP) Verify(_ context.Context, _, code string) (bool, string, error) {
	return code == "123456", "", nil
}

type testServer struct {
	router  http.Handler
	records *repository.MemoryStore
	hasher  *auth.PasswordHasher
	otp     *stubOTP
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	records := repository.NewMemoryStore()
	monCfg := security.DefaultMonitorConfig()
	monCfg.CleanupInterval = 0

	cfg := auth.DefaultConfig()
	cfg.Idle.CheckInterval = 0
	cfg.SweepInterval = 0

	ts := &testServer{
		records: records,
		hasher:  auth.NewPasswordHasher(bcrypt.MinCost),
		otp:     &stubOTP{},
	}

	sys := auth.NewSystem(cfg, auth.Deps{
		Users:    records.Users(),
		Fields:   records.Fields(),
		Sessions: storage.NewMemoryStore(),
		Durable:  storage.NewMemoryStore(),
		Limiter:  security.NewRateLimiter(200, time.Minute),
		Monitor:  security.NewMonitor(monCfg, logger.Discard()),
		Hasher:   ts.hasher,
		OTP:      ts.otp,
		Logger:   logger.Discard(),
	})
	sys.Start(context.Background(), nil)
	t.Cleanup(sys.Close)

	tokens := auth.NewTokenService(auth.TokenServiceConfig{
		Secret: "test-session-secret-key-32-chars",
		Expiry: time.Hour,
		Issuer: "test",
	})

	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		RegisterRoutes(r, Handlers{
			Auth:   NewAuthHandler(tokens, logger.Discard()),
			Fields: NewFieldHandler(logger.Discard()),
			Admin:  NewAdminHandler(logger.Discard()),
		}, middleware.NewAuthMiddleware(tokens, sys).Authenticate)
	})
	ts.router = r
	return ts
}

func (ts *testServer) addUser(t *testing.T, username, password string, role repository.Role, email string, fields ...string) {
	t.Helper()
	hash, err := ts.hasher.Hash(password)
	if err != nil {
		t.Fatal(err)
	}
	unlocked := true
	u := &repository.User{
		Username:       username,
		PasswordHash:   hash,
		Name:           username,
		Role:           role,
		IsActive:       true,
		Status:         &unlocked,
		AssignedFields: fields,
	}
	if email != "" {
		u.Email = &email
	}
	if err := ts.records.Users().Create(context.Background(), u); err != nil {
		t.Fatal(err)
	}
}

// response mirrors APIResponse with the payload left undecoded
type response struct {
	Success  bool            `json:"success"`
	Message  string          `json:"message"`
	Data     json.RawMessage `json:"data"`
	Error    *APIError       `json:"error"`
	Redirect string          `json:"redirect"`
}

func (ts *testServer) do(t *testing.T, method, path, token string, body any) (int, response) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, "/api/v1"+path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)

	var resp response
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("%s %s: decode response: %v", method, path, err)
	}
	return rec.Code, resp
}

func (ts *testServer) session(t *testing.T, previous string) string {
	t.Helper()
	var body any
	if previous != "" {
		body = SessionRequest{PreviousToken: previous}
	}
	status, resp := ts.do(t, http.MethodPost, "/session", "", body)
	if status != http.StatusCreated {
		t.Fatalf("POST /session = %d", status)
	}
	var issued SessionResponse
	if err := json.Unmarshal(resp.Data, &issued); err != nil || issued.Token == "" {
		t.Fatalf("session payload %s (%v)", resp.Data, err)
	}
	return issued.Token
}

func (ts *testServer) login(t *testing.T, username, password string) string {
	t.Helper()
	token := ts.session(t, "")
	status, resp := ts.do(t, http.MethodPost, "/auth/login", token, LoginRequest{Identifier: username, Password: password})
	if status != http.StatusOK || !resp.Success {
		t.Fatalf("login %s = %d %+v", username, status, resp.Error)
	}
	return token
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	ts := newTestServer(t)

	status, resp := ts.do(t, http.MethodGet, "/auth/me", "", nil)
	if status != http.StatusUnauthorized || resp.Error == nil || resp.Error.Code != "AUTH_TOKEN_MISSING" {
		t.Fatalf("GET /auth/me = %d %+v", status, resp.Error)
	}
}

func TestLoginAndMe(t *testing.T) {
	ts := newTestServer(t)
	ts.addUser(t, "user1", "secret1", repository.RoleUser, "")
	token := ts.session(t, "")

	status, resp := ts.do(t, http.MethodPost, "/auth/login", token, LoginRequest{Identifier: "user1", Password: "wrong"})
	if status != http.StatusUnauthorized || resp.Error.Code != auth.CodeWrongPassword || resp.Error.Field != "password" {
		t.Fatalf("wrong password = %d %+v", status, resp.Error)
	}

	status, resp = ts.do(t, http.MethodPost, "/auth/login", token, LoginRequest{Identifier: " USER1 ", Password: "secret1"})
	if status != http.StatusOK || resp.Redirect != auth.TargetDashboard {
		t.Fatalf("login = %d redirect %q", status, resp.Redirect)
	}

	_, resp = ts.do(t, http.MethodGet, "/auth/me", token, nil)
	var me MeResponse
	if err := json.Unmarshal(resp.Data, &me); err != nil {
		t.Fatal(err)
	}
	if !me.Authenticated || me.User.Username != "user1" || me.Target != auth.TargetDashboard {
		t.Fatalf("me = %+v", me)
	}

	status, resp = ts.do(t, http.MethodPost, "/auth/logout", token, nil)
	if status != http.StatusOK || resp.Redirect != auth.TargetLogin {
		t.Fatalf("logout = %d redirect %q", status, resp.Redirect)
	}
}

func TestLockedAccountResponse(t *testing.T) {
	ts := newTestServer(t)
	ts.addUser(t, "admin1", "secret1", repository.RoleAdmin, "")
	ts.addUser(t, "user1", "secret1", repository.RoleUser, "")
	admin := ts.login(t, "admin1", "secret1")

	if status, _ := ts.do(t, http.MethodPost, "/admin/users/user1/toggle-status", admin, nil); status != http.StatusOK {
		t.Fatalf("toggle = %d", status)
	}

	token := ts.session(t, "")
	status, resp := ts.do(t, http.MethodPost, "/auth/login", token, LoginRequest{Identifier: "user1", Password: "secret1"})
	if status != http.StatusLocked || !resp.Error.Locked || resp.Error.Code != auth.CodeAccountLocked {
		t.Fatalf("locked login = %d %+v", status, resp.Error)
	}
}

func TestAutoLoginAcrossSessionsOfADevice(t *testing.T) {
	ts := newTestServer(t)
	ts.addUser(t, "user1", "secret1", repository.RoleUser, "")

	first := ts.session(t, "")
	if status, _ := ts.do(t, http.MethodPost, "/auth/login", first, LoginRequest{Identifier: "user1", Password: "secret1", Remember: true}); status != http.StatusOK {
		t.Fatalf("login = %d", status)
	}

	// a new session without the old token is a new device
	other := ts.session(t, "")
	if status, resp := ts.do(t, http.MethodPost, "/auth/auto-login", other, nil); status != http.StatusNotFound || resp.Error.Code != auth.CodeNoRememberedLogin {
		t.Fatalf("auto-login on new device = %d %+v", status, resp.Error)
	}

	second := ts.session(t, first)
	status, resp := ts.do(t, http.MethodPost, "/auth/auto-login", second, nil)
	if status != http.StatusOK || !resp.Success {
		t.Fatalf("auto-login = %d %+v", status, resp.Error)
	}
}

func TestAdminRoutesGuarded(t *testing.T) {
	ts := newTestServer(t)
	ts.addUser(t, "user1", "secret1", repository.RoleUser, "")

	anon := ts.session(t, "")
	status, resp := ts.do(t, http.MethodGet, "/admin/users", anon, nil)
	if status != http.StatusUnauthorized || resp.Redirect != auth.TargetLogin {
		t.Fatalf("anonymous = %d redirect %q", status, resp.Redirect)
	}

	user := ts.login(t, "user1", "secret1")
	status, resp = ts.do(t, http.MethodGet, "/admin/users", user, nil)
	if status != http.StatusForbidden || resp.Error.Code != auth.CodeForbidden || resp.Redirect != auth.TargetDashboard {
		t.Fatalf("user = %d %+v redirect %q", status, resp.Error, resp.Redirect)
	}
}

func TestFieldAndDataItemFlow(t *testing.T) {
	ts := newTestServer(t)
	ts.addUser(t, "admin1", "secret1", repository.RoleAdmin, "")
	admin := ts.login(t, "admin1", "secret1")

	status, resp := ts.do(t, http.MethodPost, "/admin/fields", admin, CreateFieldRequest{Name: "Phones"})
	if status != http.StatusCreated {
		t.Fatalf("create field = %d %+v", status, resp.Error)
	}
	var field repository.Field
	if err := json.Unmarshal(resp.Data, &field); err != nil || field.ID == "" {
		t.Fatalf("field payload %s", resp.Data)
	}

	if status, resp := ts.do(t, http.MethodPost, "/admin/fields", admin, CreateFieldRequest{Name: "phones"}); status != http.StatusConflict || resp.Error.Field != "name" {
		t.Fatalf("duplicate field = %d %+v", status, resp.Error)
	}

	status, resp = ts.do(t, http.MethodPost, "/admin/users", admin, CreateUserRequest{
		Username:       "user1",
		Password:       "secret1",
		AssignedFields: []string{field.ID},
	})
	if status != http.StatusCreated {
		t.Fatalf("create user = %d %+v", status, resp.Error)
	}

	user := ts.login(t, "user1", "secret1")

	status, resp = ts.do(t, http.MethodGet, "/fields", user, nil)
	var fields []repository.Field
	if err := json.Unmarshal(resp.Data, &fields); err != nil || status != http.StatusOK || len(fields) != 1 {
		t.Fatalf("GET /fields = %d %s", status, resp.Data)
	}

	path := "/fields/" + field.ID + "/items"
	status, resp = ts.do(t, http.MethodPost, path, user, AddItemRequest{Value: "0901 234 567"})
	if status != http.StatusCreated {
		t.Fatalf("add item = %d %+v", status, resp.Error)
	}
	var item repository.DataItem
	if err := json.Unmarshal(resp.Data, &item); err != nil || item.ID == "" {
		t.Fatalf("item payload %s", resp.Data)
	}

	if status, resp := ts.do(t, http.MethodPost, path, user, AddItemRequest{Value: " 0901 234 567 "}); status != http.StatusConflict || resp.Error.Code != auth.CodeDuplicateConflict {
		t.Fatalf("duplicate item = %d %+v", status, resp.Error)
	}

	if status, _ := ts.do(t, http.MethodDelete, path+"/"+item.ID, user, nil); status != http.StatusOK {
		t.Fatalf("remove item = %d", status)
	}
	if status, resp := ts.do(t, http.MethodDelete, path+"/"+item.ID, user, nil); status != http.StatusNotFound {
		t.Fatalf("remove again = %d %+v", status, resp.Error)
	}
}

func TestCreateUserValidationDetails(t *testing.T) {
	ts := newTestServer(t)
	ts.addUser(t, "admin1", "secret1", repository.RoleAdmin, "")
	admin := ts.login(t, "admin1", "secret1")

	status, resp := ts.do(t, http.MethodPost, "/admin/users", admin, CreateUserRequest{Username: "user2", Email: "not-an-email"})
	if status != http.StatusBadRequest || resp.Error.Code != CodeValidationError {
		t.Fatalf("invalid email = %d %+v", status, resp.Error)
	}
	if len(resp.Error.Details["email"]) == 0 {
		t.Fatalf("details = %v", resp.Error.Details)
	}
}

func TestPasswordResetOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	ts.addUser(t, "user1", "secret1", repository.RoleUser, "user1@example.com")
	token := ts.session(t, "")

	if status, resp := ts.do(t, http.MethodPost, "/auth/password-reset/request", token, ResetRequestOTP{Identifier: "user1"}); status != http.StatusOK {
		t.Fatalf("request = %d %+v", status, resp.Error)
	}

	status, resp := ts.do(t, http.MethodPost, "/auth/password-reset/verify", token, ResetVerifyRequest{Code: "000000"})
	if status != http.StatusBadRequest || resp.Error.Code != auth.CodeOTPRejected || resp.Error.Field != "otp" {
		t.Fatalf("wrong code = %d %+v", status, resp.Error)
	}

	if status, resp := ts.do(t, http.MethodPost, "/auth/password-reset/confirm", token, ResetConfirmRequest{Password: "newpass1", ConfirmPassword: "newpass1"}); status != http.StatusConflict {
		t.Fatalf("confirm before verify = %d %+v", status, resp.Error)
	}

	if status, _ := ts.do(t, http.MethodPost, "/auth/password-reset/verify", token, ResetVerifyRequest{Code: "123456"}); status != http.StatusOK {
		t.Fatalf("verify = %d", status)
	}

	_, resp = ts.do(t, http.MethodGet, "/auth/password-reset", token, nil)
	var state auth.ResetStatus
	if err := json.Unmarshal(resp.Data, &state); err != nil || state.Step != auth.StepSetNewPassword || !state.Validated {
		t.Fatalf("state = %s", resp.Data)
	}

	if status, resp := ts.do(t, http.MethodPost, "/auth/password-reset/confirm", token, ResetConfirmRequest{Password: "newpass1", ConfirmPassword: "newpass1"}); status != http.StatusOK {
		t.Fatalf("confirm = %d %+v", status, resp.Error)
	}

	ts.login(t, "user1", "newpass1")
}

func TestActivityReportsVisibility(t *testing.T) {
	ts := newTestServer(t)
	ts.addUser(t, "user1", "secret1", repository.RoleUser, "")
	token := ts.login(t, "user1", "secret1")

	hidden := true
	status, resp := ts.do(t, http.MethodPost, "/auth/activity", token, ActivityRequest{Hidden: &hidden})
	if status != http.StatusOK {
		t.Fatalf("activity = %d", status)
	}
	var me MeResponse
	if err := json.Unmarshal(resp.Data, &me); err != nil || !me.Authenticated {
		t.Fatalf("activity payload %s", resp.Data)
	}
}
