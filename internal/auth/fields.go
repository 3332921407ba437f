package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/fieldgate/backend/internal/metrics"
	"github.com/fieldgate/backend/internal/repository"
	"github.com/fieldgate/backend/internal/security"
)

// Rate limit scopes
const (
	scopeAdmin = "admin"
	scopeData  = "data"
)

// begin checks the preconditions shared by management operations: the
// system is ready, a user is logged in (an admin when adminOnly), and the
// scope's rate limit allows the call. An empty scope skips rate limiting.
func (c *Client) begin(ctx context.Context, scope string, adminOnly bool) (*Session, Result, bool) {
	s := c.sys

	if err := s.waitReady(ctx); err != nil {
		return nil, failed(ErrInitialization, MsgInitialization, ""), false
	}

	sess := c.CurrentUser()
	if sess == nil {
		c.RequireAuth()
		return nil, failed(ErrUnauthenticated, MsgUnauthenticated, ""), false
	}
	if adminOnly && !sess.IsAdmin() {
		return nil, failed(ErrForbidden, MsgForbidden, ""), false
	}

	if scope != "" {
		id, err := c.ClientID(ctx)
		if err != nil {
			return nil, failed(ErrStoreUnavailable, MsgStoreUnavailable, ""), false
		}
		if !s.limiter.Allow(scope + "_" + id) {
			s.monitor.LogActivity(security.ActivityRateLimited, map[string]any{"clientId": id, "scope": scope})
			metrics.RateLimited.WithLabelValues(scope).Inc()
			return nil, failed(ErrRateLimited, MsgActionRateLimited, ""), false
		}
	}
	return sess, Result{}, true
}

// storeFailure logs and reports an unexpected repository error
func (c *Client) storeFailure(op string, err error) Result {
	c.sys.logger.Error("store operation failed", slog.String("operation", op), slog.String("error", err.Error()))
	c.sys.report(err)
	metrics.AdminOperations.WithLabelValues(op, "error").Inc()
	return failed(ErrStoreUnavailable, MsgStoreUnavailable, "")
}

// ListAccessibleFields returns the active fields the current user may see:
// every active field for admins, the assigned ones otherwise. Anonymous
// contexts get an empty list.
func (c *Client) ListAccessibleFields(ctx context.Context) ([]repository.Field, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if err := c.sys.waitReady(ctx); err != nil {
		return nil, err
	}
	sess := c.CurrentUser()
	if sess == nil {
		return []repository.Field{}, nil
	}

	all, err := c.sys.fields.ListActive(ctx)
	if err != nil {
		c.sys.logger.Error("failed to list fields", slog.String("error", err.Error()))
		return nil, ErrStoreUnavailable
	}

	out := make([]repository.Field, 0, len(all))
	for _, f := range all {
		if sess.CanAccessField(f.ID) {
			out = append(out, f)
		}
	}
	return out, nil
}

// ListAllFields returns every field including deactivated ones
func (c *Client) ListAllFields(ctx context.Context) Result {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if _, res, ok := c.begin(ctx, "", true); !ok {
		return res
	}
	fields, err := c.sys.fields.List(ctx)
	if err != nil {
		return c.storeFailure("list_fields", err)
	}
	return succeeded("", fields)
}

// FieldInput is the payload for creating or editing a field
type FieldInput struct {
	Name        *string
	Description *string
}

// CreateField adds a new active field. Names must be unique among active fields.
func (c *Client) CreateField(ctx context.Context, name, description string) Result {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	sess, res, ok := c.begin(ctx, scopeAdmin, true)
	if !ok {
		return res
	}
	s := c.sys

	name = s.sanitizer.Text(name)
	if name == "" {
		return failed(ErrValidation, MsgFieldNameRequired, "name")
	}

	active, err := s.fields.ListActive(ctx)
	if err != nil {
		return c.storeFailure("create_field", err)
	}
	for _, f := range active {
		if strings.EqualFold(strings.TrimSpace(f.Name), name) {
			return failed(ErrDuplicate, MsgFieldExists, "name")
		}
	}

	field := &repository.Field{
		ID:          uuid.NewString(),
		Name:        name,
		Description: s.sanitizer.Text(description),
		IsActive:    true,
		CreatedAt:   s.now().UTC(),
		CreatedBy:   sess.Username,
		Items:       []repository.DataItem{},
	}
	if err := s.fields.Create(ctx, field); err != nil {
		return c.storeFailure("create_field", err)
	}

	metrics.AdminOperations.WithLabelValues("create_field", "success").Inc()
	return succeeded(MsgFieldCreated, field)
}

// UpdateField edits a field's name or description
func (c *Client) UpdateField(ctx context.Context, id string, in FieldInput) Result {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	sess, res, ok := c.begin(ctx, scopeAdmin, true)
	if !ok {
		return res
	}
	s := c.sys

	current, err := s.fields.GetByID(ctx, id)
	if errors.Is(err, repository.ErrFieldNotFound) {
		return failed(ErrNotFound, MsgFieldNotFound, "")
	}
	if err != nil {
		return c.storeFailure("update_field", err)
	}

	patch := repository.FieldPatch{UpdatedBy: &sess.Username}
	if in.Name != nil {
		name := s.sanitizer.Text(*in.Name)
		if name == "" {
			return failed(ErrValidation, MsgFieldNameRequired, "name")
		}
		if !strings.EqualFold(name, current.Name) {
			active, err := s.fields.ListActive(ctx)
			if err != nil {
				return c.storeFailure("update_field", err)
			}
			for _, f := range active {
				if f.ID != id && strings.EqualFold(strings.TrimSpace(f.Name), name) {
					return failed(ErrDuplicate, MsgFieldExists, "name")
				}
			}
		}
		patch.Name = &name
	}
	if in.Description != nil {
		desc := s.sanitizer.Text(*in.Description)
		patch.Description = &desc
	}

	if err := s.fields.Update(ctx, id, patch); err != nil {
		return c.storeFailure("update_field", err)
	}

	updated, err := s.fields.GetByID(ctx, id)
	if err != nil {
		return c.storeFailure("update_field", err)
	}
	metrics.AdminOperations.WithLabelValues("update_field", "success").Inc()
	return succeeded(MsgFieldUpdated, updated)
}

// DeactivateField hides a field from listings; its items are kept
func (c *Client) DeactivateField(ctx context.Context, id string) Result {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	sess, res, ok := c.begin(ctx, scopeAdmin, true)
	if !ok {
		return res
	}

	inactive := false
	err := c.sys.fields.Update(ctx, id, repository.FieldPatch{IsActive: &inactive, DeletedBy: &sess.Username})
	if errors.Is(err, repository.ErrFieldNotFound) {
		return failed(ErrNotFound, MsgFieldNotFound, "")
	}
	if err != nil {
		return c.storeFailure("deactivate_field", err)
	}

	metrics.AdminOperations.WithLabelValues("deactivate_field", "success").Inc()
	return succeeded(MsgFieldDeleted, nil)
}

// AddDataItem appends value to a field. Values are unique within a field,
// compared case-insensitively after trimming.
func (c *Client) AddDataItem(ctx context.Context, fieldID, value string) Result {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	sess, res, ok := c.begin(ctx, scopeData, false)
	if !ok {
		return res
	}
	s := c.sys

	if !sess.CanAccessField(fieldID) {
		return failed(ErrForbidden, MsgFieldForbidden, "")
	}

	value = s.sanitizer.Text(value)
	if value == "" {
		return failed(ErrValidation, MsgDataRequired, "value")
	}

	field, err := s.fields.GetByID(ctx, fieldID)
	if errors.Is(err, repository.ErrFieldNotFound) || (err == nil && !field.IsActive) {
		return failed(ErrNotFound, MsgFieldNotFound, "")
	}
	if err != nil {
		return c.storeFailure("add_data", err)
	}

	if field.ContainsValue(value) {
		return failed(ErrDuplicate, MsgDataExists, "value")
	}

	item := repository.DataItem{
		ID:      uuid.NewString(),
		Value:   value,
		AddedAt: s.now().UTC(),
		AddedBy: sess.Username,
	}
	if err := s.fields.AppendItem(ctx, fieldID, item); err != nil {
		if errors.Is(err, repository.ErrFieldNotFound) {
			return failed(ErrNotFound, MsgFieldNotFound, "")
		}
		return c.storeFailure("add_data", err)
	}

	item.FieldID = fieldID
	metrics.AdminOperations.WithLabelValues("add_data", "success").Inc()
	return succeeded(MsgDataAdded, item)
}

// RemoveDataItem deletes one item from a field
func (c *Client) RemoveDataItem(ctx context.Context, fieldID, itemID string) Result {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	sess, res, ok := c.begin(ctx, scopeData, false)
	if !ok {
		return res
	}

	if !sess.CanAccessField(fieldID) {
		return failed(ErrForbidden, MsgFieldForbidden, "")
	}

	err := c.sys.fields.RemoveItem(ctx, fieldID, itemID)
	switch {
	case errors.Is(err, repository.ErrFieldNotFound):
		return failed(ErrNotFound, MsgFieldNotFound, "")
	case errors.Is(err, repository.ErrItemNotFound):
		return failed(ErrNotFound, MsgDataNotFound, "")
	case err != nil:
		return c.storeFailure("remove_data", err)
	}

	metrics.AdminOperations.WithLabelValues("remove_data", "success").Inc()
	return succeeded(MsgDataRemoved, nil)
}
