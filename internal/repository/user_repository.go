package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fieldgate/backend/internal/metrics"
)

// Common errors
var (
	ErrUserNotFound      = errors.New("user not found")
	ErrUserAlreadyExists = errors.New("user already exists")
	ErrFieldNotFound     = errors.New("field not found")
	ErrItemNotFound      = errors.New("data item not found")
)

// UserRepository defines the interface for account data access.
// Usernames are stored lowercased; lookups expect normalized input.
type UserRepository interface {
	GetByUsername(ctx context.Context, username string) (*User, error)
	// List returns every account that has not been soft-deleted
	List(ctx context.Context) ([]User, error)
	// ListAll returns every account, soft-deleted ones included
	ListAll(ctx context.Context) ([]User, error)
	ListByRole(ctx context.Context, role Role) ([]User, error)
	Create(ctx context.Context, user *User) error
	Update(ctx context.Context, username string, patch UserPatch) error
	TouchLastLogin(ctx context.Context, username string) error
}

// userRepository implements UserRepository using PostgreSQL
type userRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository creates a new UserRepository instance
func NewUserRepository(pool *pgxpool.Pool) UserRepository {
	return &userRepository{pool: pool}
}

const userColumns = `
	username, email, password_hash, name, role, assigned_fields, is_active, status,
	lock_reason, locked_at, locked_by, created_at, created_by, updated_at, updated_by,
	deleted_at, deleted_by, last_login_at`

func scanUser(row pgx.Row) (*User, error) {
	u := &User{}
	err := row.Scan(
		&u.Username,
		&u.Email,
		&u.PasswordHash,
		&u.Name,
		&u.Role,
		&u.AssignedFields,
		&u.IsActive,
		&u.Status,
		&u.LockReason,
		&u.LockedAt,
		&u.LockedBy,
		&u.CreatedAt,
		&u.CreatedBy,
		&u.UpdatedAt,
		&u.UpdatedBy,
		&u.DeletedAt,
		&u.DeletedBy,
		&u.LastLoginAt,
	)
	if err != nil {
		return nil, err
	}
	if u.AssignedFields == nil {
		u.AssignedFields = []string{}
	}
	return u, nil
}

// GetByUsername retrieves an account by its key. Soft-deleted accounts are
// still returned so the caller can report them as deactivated.
func (r *userRepository) GetByUsername(ctx context.Context, username string) (*User, error) {
	defer metrics.TimeQuery("user_get")()
	query := `SELECT ` + userColumns + ` FROM users WHERE username = $1`

	u, err := scanUser(r.pool.QueryRow(ctx, query, username))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

func (r *userRepository) List(ctx context.Context) ([]User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE deleted_at IS NULL ORDER BY created_at DESC`
	return r.queryUsers(ctx, query)
}

func (r *userRepository) ListAll(ctx context.Context) ([]User, error) {
	query := `SELECT ` + userColumns + ` FROM users ORDER BY created_at DESC`
	return r.queryUsers(ctx, query)
}

func (r *userRepository) ListByRole(ctx context.Context, role Role) ([]User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE role = $1 AND deleted_at IS NULL ORDER BY created_at DESC`
	return r.queryUsers(ctx, query, role)
}

func (r *userRepository) queryUsers(ctx context.Context, query string, args ...any) ([]User, error) {
	defer metrics.TimeQuery("user_list")()
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	users := []User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// Create inserts a new account
func (r *userRepository) Create(ctx context.Context, user *User) error {
	query := `
		INSERT INTO users (username, email, password_hash, name, role, assigned_fields,
			is_active, status, created_at, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	if user.AssignedFields == nil {
		user.AssignedFields = []string{}
	}

	_, err := r.pool.Exec(ctx, query,
		strings.ToLower(user.Username),
		user.Email,
		user.PasswordHash,
		user.Name,
		user.Role,
		user.AssignedFields,
		user.IsActive,
		user.Status,
		user.CreatedAt,
		user.CreatedBy,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrUserAlreadyExists
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// Update applies a partial update. updated_at is always refreshed.
func (r *userRepository) Update(ctx context.Context, username string, patch UserPatch) error {
	defer metrics.TimeQuery("user_update")()
	set := []string{}
	args := []any{}
	add := func(clause string, v any) {
		args = append(args, v)
		set = append(set, fmt.Sprintf(clause, len(args)))
	}

	if patch.Email != nil {
		if *patch.Email == "" {
			set = append(set, "email = NULL")
		} else {
			add("email = $%d", *patch.Email)
		}
	}
	if patch.PasswordHash != nil {
		add("password_hash = $%d", *patch.PasswordHash)
	}
	if patch.Name != nil {
		add("name = $%d", *patch.Name)
	}
	if patch.AssignedFields != nil {
		add("assigned_fields = $%d", patch.AssignedFields)
	}
	if patch.IsActive != nil {
		add("is_active = $%d", *patch.IsActive)
	}
	if patch.Status != nil {
		add("status = $%d", *patch.Status)
	}
	if patch.Lock != nil {
		add("lock_reason = $%d", patch.Lock.Reason)
		add("locked_by = $%d", patch.Lock.By)
		set = append(set, "locked_at = NOW()")
	}
	if patch.ClearLock {
		set = append(set, "lock_reason = NULL", "locked_at = NULL", "locked_by = NULL")
	}
	if patch.DeletedBy != nil {
		add("deleted_by = $%d", *patch.DeletedBy)
		set = append(set, "deleted_at = NOW()")
	}
	if patch.UpdatedBy != nil {
		add("updated_by = $%d", *patch.UpdatedBy)
	}
	set = append(set, "updated_at = NOW()")

	args = append(args, username)
	query := fmt.Sprintf(`UPDATE users SET %s WHERE username = $%d`, strings.Join(set, ", "), len(args))

	result, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// TouchLastLogin updates the last_login_at timestamp for an account
func (r *userRepository) TouchLastLogin(ctx context.Context, username string) error {
	query := `UPDATE users SET last_login_at = $1 WHERE username = $2`

	result, err := r.pool.Exec(ctx, query, time.Now().UTC(), username)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}
