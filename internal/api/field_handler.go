package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fieldgate/backend/internal/auth"
	"github.com/fieldgate/backend/internal/repository"
)

// FieldHandler handles the field and data-item endpoints available to
// every logged-in user
type FieldHandler struct {
	logger *slog.Logger
}

// NewFieldHandler creates a new FieldHandler instance
func NewFieldHandler(logger *slog.Logger) *FieldHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &FieldHandler{logger: logger}
}

// ListFields handles GET /api/v1/fields. Anonymous contexts get an empty list.
func (h *FieldHandler) ListFields(w http.ResponseWriter, r *http.Request) {
	client, ok := clientFrom(w, r)
	if !ok {
		return
	}

	fields, err := client.ListAccessibleFields(r.Context())
	if err != nil {
		if !errors.Is(err, auth.ErrStoreUnavailable) {
			h.logger.Error("Failed to list fields", "error", err)
		}
		writeError(w, http.StatusServiceUnavailable, auth.CodeStoreUnavailable, auth.MsgStoreUnavailable, nil)
		return
	}
	if fields == nil {
		fields = []repository.Field{}
	}
	writeSuccess(w, http.StatusOK, fields)
}

// AddItem handles POST /api/v1/fields/{id}/items
func (h *FieldHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	client, ok := clientFrom(w, r)
	if !ok {
		return
	}

	var req AddItemRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	writeResult(w, client, client.AddDataItem(r.Context(), chi.URLParam(r, "id"), req.Value), http.StatusCreated)
}

// RemoveItem handles DELETE /api/v1/fields/{id}/items/{itemId}
func (h *FieldHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	client, ok := clientFrom(w, r)
	if !ok {
		return
	}
	res := client.RemoveDataItem(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "itemId"))
	writeResult(w, client, res, http.StatusOK)
}
