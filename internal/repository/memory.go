package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore implements UserRepository and FieldRepository in process.
// Records are copied in and out so callers never share state with the store.
type MemoryStore struct {
	mu     sync.RWMutex
	users  map[string]*User
	fields map[string]*Field
	now    func() time.Time

	// Fail, when set, is returned by every operation. Tests use it to
	// simulate an unreachable store.
	Fail error
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:  make(map[string]*User),
		fields: make(map[string]*Field),
		now:    time.Now,
	}
}

// WithClock replaces the time source, for tests.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.now = now
	return s
}

// Users adapts the store to UserRepository
func (s *MemoryStore) Users() UserRepository { return memoryUsers{s} }

// Fields adapts the store to FieldRepository
func (s *MemoryStore) Fields() FieldRepository { return memoryFields{s} }

type memoryUsers struct{ s *MemoryStore }

func (m memoryUsers) GetByUsername(_ context.Context, username string) (*User, error) {
	s := m.s
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.Fail != nil {
		return nil, s.Fail
	}
	u, ok := s.users[username]
	if !ok {
		return nil, ErrUserNotFound
	}
	return u.Clone(), nil
}

func (m memoryUsers) List(_ context.Context) ([]User, error) {
	return m.s.listUsers(false, func(*User) bool { return true })
}

func (m memoryUsers) ListAll(_ context.Context) ([]User, error) {
	return m.s.listUsers(true, func(*User) bool { return true })
}

func (m memoryUsers) ListByRole(_ context.Context, role Role) ([]User, error) {
	return m.s.listUsers(false, func(u *User) bool { return u.Role == role })
}

func (s *MemoryStore) listUsers(withDeleted bool, keep func(*User) bool) ([]User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.Fail != nil {
		return nil, s.Fail
	}
	out := []User{}
	for _, u := range s.users {
		if (withDeleted || u.DeletedAt == nil) && keep(u) {
			out = append(out, *u.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m memoryUsers) Create(_ context.Context, user *User) error {
	s := m.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Fail != nil {
		return s.Fail
	}
	key := strings.ToLower(user.Username)
	if _, exists := s.users[key]; exists {
		return ErrUserAlreadyExists
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = s.now().UTC()
	}
	if user.AssignedFields == nil {
		user.AssignedFields = []string{}
	}
	c := user.Clone()
	c.Username = key
	s.users[key] = c
	return nil
}

func (m memoryUsers) Update(_ context.Context, username string, patch UserPatch) error {
	s := m.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Fail != nil {
		return s.Fail
	}
	u, ok := s.users[username]
	if !ok {
		return ErrUserNotFound
	}

	now := s.now().UTC()
	if patch.Email != nil {
		if *patch.Email == "" {
			u.Email = nil
		} else {
			u.Email = clonePtr(patch.Email)
		}
	}
	if patch.PasswordHash != nil {
		u.PasswordHash = *patch.PasswordHash
	}
	if patch.Name != nil {
		u.Name = *patch.Name
	}
	if patch.AssignedFields != nil {
		u.AssignedFields = append([]string{}, patch.AssignedFields...)
	}
	if patch.IsActive != nil {
		u.IsActive = *patch.IsActive
	}
	if patch.Status != nil {
		u.Status = clonePtr(patch.Status)
	}
	if patch.Lock != nil {
		reason, by := patch.Lock.Reason, patch.Lock.By
		u.LockReason, u.LockedBy, u.LockedAt = &reason, &by, &now
	}
	if patch.ClearLock {
		u.LockReason, u.LockedBy, u.LockedAt = nil, nil, nil
	}
	if patch.DeletedBy != nil {
		u.DeletedBy = clonePtr(patch.DeletedBy)
		deletedAt := now
		u.DeletedAt = &deletedAt
	}
	if patch.UpdatedBy != nil {
		u.UpdatedBy = clonePtr(patch.UpdatedBy)
	}
	updatedAt := now
	u.UpdatedAt = &updatedAt
	return nil
}

func (m memoryUsers) TouchLastLogin(_ context.Context, username string) error {
	s := m.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Fail != nil {
		return s.Fail
	}
	u, ok := s.users[username]
	if !ok {
		return ErrUserNotFound
	}
	now := s.now().UTC()
	u.LastLoginAt = &now
	return nil
}

type memoryFields struct{ s *MemoryStore }

func (m memoryFields) GetByID(_ context.Context, id string) (*Field, error) {
	s := m.s
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.Fail != nil {
		return nil, s.Fail
	}
	f, ok := s.fields[id]
	if !ok {
		return nil, ErrFieldNotFound
	}
	return f.Clone(), nil
}

func (m memoryFields) ListActive(_ context.Context) ([]Field, error) {
	return m.s.listFields(func(f *Field) bool { return f.IsActive })
}

func (m memoryFields) List(_ context.Context) ([]Field, error) {
	return m.s.listFields(func(*Field) bool { return true })
}

func (s *MemoryStore) listFields(keep func(*Field) bool) ([]Field, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.Fail != nil {
		return nil, s.Fail
	}
	out := []Field{}
	for _, f := range s.fields {
		if keep(f) {
			out = append(out, *f.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m memoryFields) Create(_ context.Context, field *Field) error {
	s := m.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Fail != nil {
		return s.Fail
	}
	if field.CreatedAt.IsZero() {
		field.CreatedAt = s.now().UTC()
	}
	if field.Items == nil {
		field.Items = []DataItem{}
	}
	s.fields[field.ID] = field.Clone()
	return nil
}

func (m memoryFields) Update(_ context.Context, id string, patch FieldPatch) error {
	s := m.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Fail != nil {
		return s.Fail
	}
	f, ok := s.fields[id]
	if !ok {
		return ErrFieldNotFound
	}

	now := s.now().UTC()
	if patch.Name != nil {
		f.Name = *patch.Name
	}
	if patch.Description != nil {
		f.Description = *patch.Description
	}
	if patch.IsActive != nil {
		f.IsActive = *patch.IsActive
	}
	if patch.DeletedBy != nil {
		f.DeletedBy = clonePtr(patch.DeletedBy)
		deletedAt := now
		f.DeletedAt = &deletedAt
	}
	if patch.UpdatedBy != nil {
		f.UpdatedBy = clonePtr(patch.UpdatedBy)
	}
	f.UpdatedAt = &now
	return nil
}

func (m memoryFields) AppendItem(_ context.Context, fieldID string, item DataItem) error {
	s := m.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Fail != nil {
		return s.Fail
	}
	f, ok := s.fields[fieldID]
	if !ok {
		return ErrFieldNotFound
	}
	now := s.now().UTC()
	item.FieldID = fieldID
	if item.AddedAt.IsZero() {
		item.AddedAt = now
	}
	f.Items = append(f.Items, item)
	by := item.AddedBy
	f.UpdatedAt, f.UpdatedBy = &now, &by
	return nil
}

func (m memoryFields) RemoveItem(_ context.Context, fieldID, itemID string) error {
	s := m.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Fail != nil {
		return s.Fail
	}
	f, ok := s.fields[fieldID]
	if !ok {
		return ErrFieldNotFound
	}
	for i, item := range f.Items {
		if item.ID == itemID {
			f.Items = append(f.Items[:i:i], f.Items[i+1:]...)
			now := s.now().UTC()
			f.UpdatedAt = &now
			return nil
		}
	}
	return ErrItemNotFound
}
