package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fieldgate/backend/internal/auth"
	"github.com/fieldgate/backend/internal/security"
)

// AdminHandler handles account and field administration
type AdminHandler struct {
	logger *slog.Logger
}

// NewAdminHandler creates a new AdminHandler instance
func NewAdminHandler(logger *slog.Logger) *AdminHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AdminHandler{logger: logger}
}

// RequireAdmin rejects requests whose client context is not an admin
// session, with the navigation target in the response.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client, ok := clientFrom(w, r)
		if !ok {
			return
		}
		if client.RequireAdmin() {
			next.ServeHTTP(w, r)
			return
		}

		res := auth.Result{Code: auth.CodeForbidden, Message: auth.MsgForbidden}
		if !client.IsLoggedIn() {
			res = auth.Result{Code: auth.CodeUnauthenticated, Message: auth.MsgUnauthenticated}
		}
		writeResult(w, client, res, http.StatusOK)
	})
}

// ListUsers handles GET /api/v1/admin/users
func (h *AdminHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	client, ok := clientFrom(w, r)
	if !ok {
		return
	}
	writeResult(w, client, client.GetUsers(r.Context()), http.StatusOK)
}

// CreateUser handles POST /api/v1/admin/users
func (h *AdminHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	client, ok := clientFrom(w, r)
	if !ok {
		return
	}

	var req CreateUserRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	res := client.CreateUser(r.Context(), auth.NewUser{
		Username:       req.Username,
		Email:          req.Email,
		Password:       req.Password,
		Name:           req.Name,
		AssignedFields: req.AssignedFields,
	})
	writeResult(w, client, res, http.StatusCreated)
}

// GetUser handles GET /api/v1/admin/users/{username}
func (h *AdminHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	client, ok := clientFrom(w, r)
	if !ok {
		return
	}
	writeResult(w, client, client.GetUser(r.Context(), chi.URLParam(r, "username")), http.StatusOK)
}

// UpdateUser handles PATCH /api/v1/admin/users/{username}
func (h *AdminHandler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	client, ok := clientFrom(w, r)
	if !ok {
		return
	}

	var req UpdateUserRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	res := client.UpdateUser(r.Context(), chi.URLParam(r, "username"), auth.UserChanges{
		Email:          req.Email,
		Password:       req.Password,
		Name:           req.Name,
		AssignedFields: req.AssignedFields,
	})
	writeResult(w, client, res, http.StatusOK)
}

// DeleteUser handles DELETE /api/v1/admin/users/{username}
func (h *AdminHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	client, ok := clientFrom(w, r)
	if !ok {
		return
	}
	writeResult(w, client, client.DeleteUser(r.Context(), chi.URLParam(r, "username")), http.StatusOK)
}

// ToggleUserStatus handles POST /api/v1/admin/users/{username}/toggle-status
func (h *AdminHandler) ToggleUserStatus(w http.ResponseWriter, r *http.Request) {
	client, ok := clientFrom(w, r)
	if !ok {
		return
	}
	writeResult(w, client, client.ToggleUserStatus(r.Context(), chi.URLParam(r, "username")), http.StatusOK)
}

// ListFields handles GET /api/v1/admin/fields
func (h *AdminHandler) ListFields(w http.ResponseWriter, r *http.Request) {
	client, ok := clientFrom(w, r)
	if !ok {
		return
	}
	writeResult(w, client, client.ListAllFields(r.Context()), http.StatusOK)
}

// CreateField handles POST /api/v1/admin/fields
func (h *AdminHandler) CreateField(w http.ResponseWriter, r *http.Request) {
	client, ok := clientFrom(w, r)
	if !ok {
		return
	}

	var req CreateFieldRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	writeResult(w, client, client.CreateField(r.Context(), req.Name, req.Description), http.StatusCreated)
}

// UpdateField handles PATCH /api/v1/admin/fields/{id}
func (h *AdminHandler) UpdateField(w http.ResponseWriter, r *http.Request) {
	client, ok := clientFrom(w, r)
	if !ok {
		return
	}

	var req UpdateFieldRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	res := client.UpdateField(r.Context(), chi.URLParam(r, "id"), auth.FieldInput{
		Name:        req.Name,
		Description: req.Description,
	})
	writeResult(w, client, res, http.StatusOK)
}

// DeactivateField handles DELETE /api/v1/admin/fields/{id}
func (h *AdminHandler) DeactivateField(w http.ResponseWriter, r *http.Request) {
	client, ok := clientFrom(w, r)
	if !ok {
		return
	}
	writeResult(w, client, client.DeactivateField(r.Context(), chi.URLParam(r, "id")), http.StatusOK)
}

// ActivityLog handles GET /api/v1/admin/activity
func (h *AdminHandler) ActivityLog(w http.ResponseWriter, r *http.Request) {
	client, ok := clientFrom(w, r)
	if !ok {
		return
	}

	res := client.ActivityLog(r.Context())
	if activities, ok := res.Data.([]security.Activity); ok {
		res.Data = ActivityResponse{Activities: activities, Count: len(activities)}
	}
	writeResult(w, client, res, http.StatusOK)
}
