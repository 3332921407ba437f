package repository

import (
	"strings"
	"time"
)

// Role is an account role
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// User is an account record keyed by its normalized username.
// Status nil means the account predates lock support and counts as unlocked.
type User struct {
	Username       string     `db:"username" json:"username"`
	Email          *string    `db:"email" json:"email,omitempty"`
	PasswordHash   string     `db:"password_hash" json:"-"`
	Name           string     `db:"name" json:"name"`
	Role           Role       `db:"role" json:"role"`
	AssignedFields []string   `db:"assigned_fields" json:"assignedFields"`
	IsActive       bool       `db:"is_active" json:"isActive"`
	Status         *bool      `db:"status" json:"status"`
	LockReason     *string    `db:"lock_reason" json:"lockReason,omitempty"`
	LockedAt       *time.Time `db:"locked_at" json:"lockedAt,omitempty"`
	LockedBy       *string    `db:"locked_by" json:"lockedBy,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"createdAt"`
	CreatedBy      string     `db:"created_by" json:"createdBy,omitempty"`
	UpdatedAt      *time.Time `db:"updated_at" json:"updatedAt,omitempty"`
	UpdatedBy      *string    `db:"updated_by" json:"updatedBy,omitempty"`
	DeletedAt      *time.Time `db:"deleted_at" json:"deletedAt,omitempty"`
	DeletedBy      *string    `db:"deleted_by" json:"deletedBy,omitempty"`
	LastLoginAt    *time.Time `db:"last_login_at" json:"lastLoginAt,omitempty"`
}

// Unlocked reports whether the account may log in as far as locking is concerned
func (u *User) Unlocked() bool {
	return u.Status == nil || *u.Status
}

// EmailValue returns the email or "" when none is set
func (u *User) EmailValue() string {
	if u.Email == nil {
		return ""
	}
	return *u.Email
}

// MatchesIdentifier reports whether a normalized identifier names this account
func (u *User) MatchesIdentifier(identifier string) bool {
	if strings.ToLower(u.Username) == identifier {
		return true
	}
	return u.Email != nil && strings.ToLower(strings.TrimSpace(*u.Email)) == identifier
}

// HasField reports whether fieldID is assigned to the account
func (u *User) HasField(fieldID string) bool {
	for _, id := range u.AssignedFields {
		if id == fieldID {
			return true
		}
	}
	return false
}

// Clone returns a deep copy
func (u *User) Clone() *User {
	c := *u
	c.AssignedFields = append([]string(nil), u.AssignedFields...)
	c.Email = clonePtr(u.Email)
	c.Status = clonePtr(u.Status)
	c.LockReason = clonePtr(u.LockReason)
	c.LockedAt = clonePtr(u.LockedAt)
	c.LockedBy = clonePtr(u.LockedBy)
	c.UpdatedAt = clonePtr(u.UpdatedAt)
	c.UpdatedBy = clonePtr(u.UpdatedBy)
	c.DeletedAt = clonePtr(u.DeletedAt)
	c.DeletedBy = clonePtr(u.DeletedBy)
	c.LastLoginAt = clonePtr(u.LastLoginAt)
	return &c
}

// Lock describes who locked an account and why
type Lock struct {
	Reason string
	By     string
}

// UserPatch lists the fields to change. Nil fields are left untouched;
// a non-nil empty AssignedFields clears the assignment.
type UserPatch struct {
	Email          *string
	PasswordHash   *string
	Name           *string
	AssignedFields []string
	IsActive       *bool
	Status         *bool
	Lock           *Lock
	ClearLock      bool
	DeletedBy      *string
	UpdatedBy      *string
}

// DataItem is one entry of a field's data list
type DataItem struct {
	ID      string    `db:"id" json:"id"`
	FieldID string    `db:"field_id" json:"-"`
	Value   string    `db:"value" json:"value"`
	AddedAt time.Time `db:"added_at" json:"addedAt"`
	AddedBy string    `db:"added_by" json:"addedBy"`
}

// Field is a named collection of data items
type Field struct {
	ID          string     `db:"id" json:"id"`
	Name        string     `db:"name" json:"name"`
	Description string     `db:"description" json:"description"`
	IsActive    bool       `db:"is_active" json:"isActive"`
	CreatedAt   time.Time  `db:"created_at" json:"createdAt"`
	CreatedBy   string     `db:"created_by" json:"createdBy,omitempty"`
	UpdatedAt   *time.Time `db:"updated_at" json:"updatedAt,omitempty"`
	UpdatedBy   *string    `db:"updated_by" json:"updatedBy,omitempty"`
	DeletedAt   *time.Time `db:"deleted_at" json:"deletedAt,omitempty"`
	DeletedBy   *string    `db:"deleted_by" json:"deletedBy,omitempty"`
	Items       []DataItem `db:"-" json:"data"`
}

// ContainsValue reports whether an item equal to value exists, ignoring case
// and surrounding whitespace.
func (f *Field) ContainsValue(value string) bool {
	needle := strings.ToLower(strings.TrimSpace(value))
	for _, item := range f.Items {
		if strings.ToLower(strings.TrimSpace(item.Value)) == needle {
			return true
		}
	}
	return false
}

// Clone returns a deep copy
func (f *Field) Clone() *Field {
	c := *f
	c.Items = append([]DataItem(nil), f.Items...)
	c.UpdatedAt = clonePtr(f.UpdatedAt)
	c.UpdatedBy = clonePtr(f.UpdatedBy)
	c.DeletedAt = clonePtr(f.DeletedAt)
	c.DeletedBy = clonePtr(f.DeletedBy)
	return &c
}

// FieldPatch lists the field attributes to change
type FieldPatch struct {
	Name        *string
	Description *string
	IsActive    *bool
	DeletedBy   *string
	UpdatedBy   *string
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
