package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/fieldgate/backend/internal/metrics"
)

// FieldRepository defines the interface for field and data item access
type FieldRepository interface {
	// GetByID returns the field with its items. Deactivated fields are returned too.
	GetByID(ctx context.Context, id string) (*Field, error)
	ListActive(ctx context.Context) ([]Field, error)
	List(ctx context.Context) ([]Field, error)
	Create(ctx context.Context, field *Field) error
	Update(ctx context.Context, id string, patch FieldPatch) error
	AppendItem(ctx context.Context, fieldID string, item DataItem) error
	RemoveItem(ctx context.Context, fieldID, itemID string) error
}

// FieldRepo implements FieldRepository using PostgreSQL
type FieldRepo struct {
	db *sqlx.DB
}

// NewFieldRepo creates a new FieldRepo instance
func NewFieldRepo(db *sqlx.DB) *FieldRepo {
	return &FieldRepo{db: db}
}

const fieldColumns = `id, name, description, is_active, created_at, created_by,
	updated_at, updated_by, deleted_at, deleted_by`

func (r *FieldRepo) GetByID(ctx context.Context, id string) (*Field, error) {
	defer metrics.TimeQuery("field_get")()
	var f Field
	err := r.db.GetContext(ctx, &f, `SELECT `+fieldColumns+` FROM fields WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrFieldNotFound
		}
		return nil, fmt.Errorf("failed to get field: %w", err)
	}

	items := []DataItem{}
	err = r.db.SelectContext(ctx, &items,
		`SELECT id, field_id, value, added_at, added_by FROM field_items WHERE field_id = $1 ORDER BY added_at`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load field items: %w", err)
	}
	f.Items = items
	return &f, nil
}

func (r *FieldRepo) ListActive(ctx context.Context) ([]Field, error) {
	return r.list(ctx, `SELECT `+fieldColumns+` FROM fields WHERE is_active ORDER BY created_at DESC`)
}

func (r *FieldRepo) List(ctx context.Context) ([]Field, error) {
	return r.list(ctx, `SELECT `+fieldColumns+` FROM fields ORDER BY created_at DESC`)
}

// list loads fields and attaches their items with a single IN query
func (r *FieldRepo) list(ctx context.Context, query string) ([]Field, error) {
	defer metrics.TimeQuery("field_list")()
	fields := []Field{}
	if err := r.db.SelectContext(ctx, &fields, query); err != nil {
		return nil, fmt.Errorf("failed to list fields: %w", err)
	}
	if len(fields) == 0 {
		return fields, nil
	}

	ids := make([]string, len(fields))
	byID := make(map[string]*Field, len(fields))
	for i := range fields {
		fields[i].Items = []DataItem{}
		ids[i] = fields[i].ID
		byID[fields[i].ID] = &fields[i]
	}

	q, args, err := sqlx.In(`SELECT id, field_id, value, added_at, added_by FROM field_items WHERE field_id IN (?) ORDER BY added_at`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to build item query: %w", err)
	}

	items := []DataItem{}
	if err := r.db.SelectContext(ctx, &items, r.db.Rebind(q), args...); err != nil {
		return nil, fmt.Errorf("failed to load field items: %w", err)
	}
	for _, item := range items {
		if f, ok := byID[item.FieldID]; ok {
			f.Items = append(f.Items, item)
		}
	}
	return fields, nil
}

func (r *FieldRepo) Create(ctx context.Context, field *Field) error {
	if field.CreatedAt.IsZero() {
		field.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO fields (id, name, description, is_active, created_at, created_by)
		VALUES (:id, :name, :description, :is_active, :created_at, :created_by)
	`, field)
	if err != nil {
		return fmt.Errorf("failed to create field: %w", err)
	}
	return nil
}

func (r *FieldRepo) Update(ctx context.Context, id string, patch FieldPatch) error {
	set := []string{}
	args := map[string]any{"id": id}

	if patch.Name != nil {
		set = append(set, "name = :name")
		args["name"] = *patch.Name
	}
	if patch.Description != nil {
		set = append(set, "description = :description")
		args["description"] = *patch.Description
	}
	if patch.IsActive != nil {
		set = append(set, "is_active = :is_active")
		args["is_active"] = *patch.IsActive
	}
	if patch.DeletedBy != nil {
		set = append(set, "deleted_by = :deleted_by", "deleted_at = NOW()")
		args["deleted_by"] = *patch.DeletedBy
	}
	if patch.UpdatedBy != nil {
		set = append(set, "updated_by = :updated_by")
		args["updated_by"] = *patch.UpdatedBy
	}
	set = append(set, "updated_at = NOW()")

	result, err := r.db.NamedExecContext(ctx,
		`UPDATE fields SET `+strings.Join(set, ", ")+` WHERE id = :id`, args)
	if err != nil {
		return fmt.Errorf("failed to update field: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrFieldNotFound
	}
	return nil
}

func (r *FieldRepo) AppendItem(ctx context.Context, fieldID string, item DataItem) error {
	defer metrics.TimeQuery("field_append_item")()
	item.FieldID = fieldID
	if item.AddedAt.IsZero() {
		item.AddedAt = time.Now().UTC()
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var locked string
	if err := tx.GetContext(ctx, &locked, `SELECT id FROM fields WHERE id = $1 FOR UPDATE`, fieldID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrFieldNotFound
		}
		return fmt.Errorf("failed to lock field: %w", err)
	}

	if _, err := tx.NamedExecContext(ctx, `
		INSERT INTO field_items (id, field_id, value, added_at, added_by)
		VALUES (:id, :field_id, :value, :added_at, :added_by)
	`, item); err != nil {
		return fmt.Errorf("failed to append item: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE fields SET updated_at = NOW(), updated_by = $1 WHERE id = $2`, item.AddedBy, fieldID); err != nil {
		return fmt.Errorf("failed to touch field: %w", err)
	}
	return tx.Commit()
}

func (r *FieldRepo) RemoveItem(ctx context.Context, fieldID, itemID string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM field_items WHERE field_id = $1 AND id = $2`, fieldID, itemID)
	if err != nil {
		return fmt.Errorf("failed to remove item: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrItemNotFound
	}
	_, err = r.db.ExecContext(ctx, `UPDATE fields SET updated_at = NOW() WHERE id = $1`, fieldID)
	return err
}
