package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/fieldgate/backend/internal/metrics"
	"github.com/fieldgate/backend/internal/repository"
	"github.com/fieldgate/backend/internal/sanitizer"
	"github.com/fieldgate/backend/internal/security"
)

// MinUsernameLength is the shortest accepted username
const MinUsernameLength = 3

// NewUser is the input of CreateUser
type NewUser struct {
	Username       string
	Email          string
	Password       string
	Name           string
	AssignedFields []string
}

// UserChanges is the input of UpdateUser. Nil members are left untouched.
type UserChanges struct {
	Email          *string
	Password       *string
	Name           *string
	AssignedFields []string
}

// GetUsers lists accounts with the user role, newest first
func (c *Client) GetUsers(ctx context.Context) Result {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if _, res, ok := c.begin(ctx, "", true); !ok {
		return res
	}

	users, err := c.sys.users.ListByRole(ctx, repository.RoleUser)
	if err != nil {
		return c.storeFailure("list_users", err)
	}

	views := make([]*UserView, 0, len(users))
	for i := range users {
		views = append(views, newUserView(&users[i]))
	}
	return succeeded("", views)
}

// GetUser returns one account
func (c *Client) GetUser(ctx context.Context, username string) Result {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if _, res, ok := c.begin(ctx, "", true); !ok {
		return res
	}

	u, err := c.sys.users.GetByUsername(ctx, sanitizer.Identifier(username))
	if errors.Is(err, repository.ErrUserNotFound) {
		return failed(ErrNotFound, MsgUserNotFound, "")
	}
	if err != nil {
		return c.storeFailure("get_user", err)
	}
	return succeeded("", newUserView(u))
}

// CreateUser adds an active account with the user role. A blank password
// falls back to the configured default, or to a generated temporary
// password returned once in the result.
func (c *Client) CreateUser(ctx context.Context, in NewUser) Result {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	admin, res, ok := c.begin(ctx, scopeAdmin, true)
	if !ok {
		return res
	}
	s := c.sys

	username := sanitizer.Identifier(in.Username)
	switch {
	case username == "":
		return failed(ErrValidation, MsgUsernameRequired, "username")
	case len([]rune(username)) < MinUsernameLength:
		return failed(ErrValidation, MsgUsernameTooShort, "username")
	}

	password := strings.TrimSpace(in.Password)
	temporary := ""
	if password == "" {
		password = s.cfg.DefaultPassword
		if password == "" {
			generated, err := GenerateTemporaryPassword()
			if err != nil {
				return c.storeFailure("create_user", err)
			}
			password, temporary = generated, generated
		}
	} else if len(password) < MinPasswordLength {
		return failed(ErrValidation, MsgPasswordTooShort, "password")
	}

	_, err := s.users.GetByUsername(ctx, username)
	switch {
	case err == nil:
		return failed(ErrDuplicate, MsgUsernameTaken, "username")
	case !errors.Is(err, repository.ErrUserNotFound):
		return c.storeFailure("create_user", err)
	}

	email := sanitizer.Identifier(in.Email)
	if email != "" {
		taken, err := c.emailTaken(ctx, email, username)
		if err != nil {
			return c.storeFailure("create_user", err)
		}
		if taken {
			return failed(ErrDuplicate, MsgEmailTaken, "email")
		}
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return c.storeFailure("create_user", err)
	}

	active := true
	u := &repository.User{
		Username:       username,
		PasswordHash:   hash,
		Name:           s.sanitizer.Text(in.Name),
		Role:           repository.RoleUser,
		AssignedFields: normalizeFieldIDs(in.AssignedFields),
		IsActive:       true,
		Status:         &active,
		CreatedAt:      s.now().UTC(),
		CreatedBy:      admin.Username,
	}
	if email != "" {
		u.Email = &email
	}

	if err := s.users.Create(ctx, u); err != nil {
		if errors.Is(err, repository.ErrUserAlreadyExists) {
			return failed(ErrDuplicate, MsgUsernameTaken, "username")
		}
		return c.storeFailure("create_user", err)
	}

	s.logger.Info("user created", slog.String("username", username), slog.String("by", admin.Username))
	metrics.AdminOperations.WithLabelValues("create_user", "success").Inc()

	view := newUserView(u)
	view.TemporaryPassword = temporary
	return succeeded(MsgUserCreated, view)
}

// UpdateUser edits profile, password or field assignment of an account
func (c *Client) UpdateUser(ctx context.Context, username string, in UserChanges) Result {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	admin, res, ok := c.begin(ctx, scopeAdmin, true)
	if !ok {
		return res
	}
	s := c.sys
	username = sanitizer.Identifier(username)

	if _, err := s.users.GetByUsername(ctx, username); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return failed(ErrNotFound, MsgUserNotFound, "")
		}
		return c.storeFailure("update_user", err)
	}

	patch := repository.UserPatch{UpdatedBy: &admin.Username}

	if in.Email != nil {
		email := sanitizer.Identifier(*in.Email)
		if email != "" {
			taken, err := c.emailTaken(ctx, email, username)
			if err != nil {
				return c.storeFailure("update_user", err)
			}
			if taken {
				return failed(ErrDuplicate, MsgEmailTaken, "email")
			}
		}
		patch.Email = &email
	}
	if in.Password != nil {
		pw := strings.TrimSpace(*in.Password)
		if pw != "" {
			if len(pw) < MinPasswordLength {
				return failed(ErrValidation, MsgPasswordTooShort, "password")
			}
			hash, err := s.hasher.Hash(pw)
			if err != nil {
				return c.storeFailure("update_user", err)
			}
			patch.PasswordHash = &hash
		}
	}
	if in.Name != nil {
		name := s.sanitizer.Text(*in.Name)
		patch.Name = &name
	}
	if in.AssignedFields != nil {
		patch.AssignedFields = normalizeFieldIDs(in.AssignedFields)
	}

	if err := s.users.Update(ctx, username, patch); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return failed(ErrNotFound, MsgUserNotFound, "")
		}
		return c.storeFailure("update_user", err)
	}
	s.forget(username)

	updated, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		return c.storeFailure("update_user", err)
	}
	metrics.AdminOperations.WithLabelValues("update_user", "success").Inc()
	return succeeded(MsgUserUpdated, newUserView(updated))
}

// ToggleUserStatus locks an unlocked account or unlocks a locked one. A
// record without a status is treated as unlocked, and that default is
// written before toggling.
func (c *Client) ToggleUserStatus(ctx context.Context, username string) Result {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	admin, res, ok := c.begin(ctx, scopeAdmin, true)
	if !ok {
		return res
	}
	s := c.sys
	username = sanitizer.Identifier(username)

	u, err := s.users.GetByUsername(ctx, username)
	if errors.Is(err, repository.ErrUserNotFound) {
		return failed(ErrNotFound, MsgUserNotFound, "")
	}
	if err != nil {
		return c.storeFailure("toggle_status", err)
	}

	if u.Status == nil {
		unlocked := true
		if err := s.users.Update(ctx, username, repository.UserPatch{Status: &unlocked}); err != nil {
			return c.storeFailure("toggle_status", err)
		}
	}

	lock := u.Unlocked()
	next := !lock
	patch := repository.UserPatch{Status: &next, UpdatedBy: &admin.Username}
	msg := MsgUserUnlocked
	if lock {
		patch.Lock = &repository.Lock{Reason: MsgDefaultLockReason, By: admin.Username}
		msg = MsgUserLocked
	} else {
		patch.ClearLock = true
	}

	if err := s.users.Update(ctx, username, patch); err != nil {
		return c.storeFailure("toggle_status", err)
	}
	s.forget(username)

	s.monitor.LogActivity(security.ActivityUserStatusChanged, map[string]any{
		"username": username,
		"locked":   lock,
		"by":       admin.Username,
	})

	updated, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		return c.storeFailure("toggle_status", err)
	}
	metrics.AdminOperations.WithLabelValues("toggle_status", "success").Inc()
	return succeeded(msg, newUserView(updated))
}

// DeleteUser deactivates an account; records are never removed
func (c *Client) DeleteUser(ctx context.Context, username string) Result {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	admin, res, ok := c.begin(ctx, scopeAdmin, true)
	if !ok {
		return res
	}
	s := c.sys
	username = sanitizer.Identifier(username)

	inactive := false
	err := s.users.Update(ctx, username, repository.UserPatch{IsActive: &inactive, DeletedBy: &admin.Username})
	if errors.Is(err, repository.ErrUserNotFound) {
		return failed(ErrNotFound, MsgUserNotFound, "")
	}
	if err != nil {
		return c.storeFailure("delete_user", err)
	}
	s.forget(username)

	metrics.AdminOperations.WithLabelValues("delete_user", "success").Inc()
	return succeeded(MsgUserDeleted, nil)
}

// emailTaken reports whether an active account other than username uses email
func (c *Client) emailTaken(ctx context.Context, email, username string) (bool, error) {
	all, err := c.sys.users.List(ctx)
	if err != nil {
		return false, err
	}
	for i := range all {
		u := &all[i]
		if u.IsActive && u.Username != username && strings.EqualFold(u.EmailValue(), email) {
			return true, nil
		}
	}
	return false, nil
}

func normalizeFieldIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// ActivityLog returns the security activity log, oldest first
func (c *Client) ActivityLog(ctx context.Context) Result {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if _, res, ok := c.begin(ctx, "", true); !ok {
		return res
	}
	return succeeded("", c.sys.monitor.Activities())
}
