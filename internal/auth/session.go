package auth

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/fieldgate/backend/internal/repository"
)

// Session storage keys
const (
	sessionUserKey = "currentUser"
	rememberKey    = "remember_login"
)

// Navigation targets
const (
	TargetLogin     = "login"
	TargetAdmin     = "admin"
	TargetDashboard = "dashboard"
)

// Session describes the authenticated user of a client context
type Session struct {
	Username       string          `json:"username"`
	Email          string          `json:"email,omitempty"`
	Role           repository.Role `json:"role"`
	Name           string          `json:"name"`
	AssignedFields []string        `json:"assignedFields"`
	LoginTime      time.Time       `json:"loginTime"`
}

func newSession(u *repository.User, now time.Time) *Session {
	return &Session{
		Username:       u.Username,
		Email:          u.EmailValue(),
		Role:           u.Role,
		Name:           u.Name,
		AssignedFields: append([]string{}, u.AssignedFields...),
		LoginTime:      now,
	}
}

// IsAdmin reports whether the session has the admin role
func (s *Session) IsAdmin() bool {
	return s.Role == repository.RoleAdmin
}

// CanAccessField reports whether the session may read or write fieldID
func (s *Session) CanAccessField(fieldID string) bool {
	if s.IsAdmin() {
		return true
	}
	for _, id := range s.AssignedFields {
		if id == fieldID {
			return true
		}
	}
	return false
}

func (s *Session) clone() *Session {
	c := *s
	c.AssignedFields = append([]string{}, s.AssignedFields...)
	return &c
}

var errMalformedSession = errors.New("malformed session record")

func encodeSession(s *Session) (string, error) {
	b, err := json.Marshal(s)
	return string(b), err
}

func decodeSession(raw string) (*Session, error) {
	var s Session
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, errMalformedSession
	}
	if s.Username == "" || (s.Role != repository.RoleAdmin && s.Role != repository.RoleUser) {
		return nil, errMalformedSession
	}
	if s.AssignedFields == nil {
		s.AssignedFields = []string{}
	}
	return &s, nil
}

// UserView is an account as shown to administrators
type UserView struct {
	Username          string          `json:"username"`
	Email             string          `json:"email,omitempty"`
	Name              string          `json:"name"`
	Role              repository.Role `json:"role"`
	AssignedFields    []string        `json:"assignedFields"`
	IsActive          bool            `json:"isActive"`
	Status            bool            `json:"status"`
	LockReason        string          `json:"lockReason,omitempty"`
	LockedAt          *time.Time      `json:"lockedAt,omitempty"`
	CreatedAt         time.Time       `json:"createdAt"`
	CreatedBy         string          `json:"createdBy,omitempty"`
	LastLoginAt       *time.Time      `json:"lastLoginAt,omitempty"`
	TemporaryPassword string          `json:"temporaryPassword,omitempty"`
}

func newUserView(u *repository.User) *UserView {
	v := &UserView{
		Username:       u.Username,
		Email:          u.EmailValue(),
		Name:           u.Name,
		Role:           u.Role,
		AssignedFields: append([]string{}, u.AssignedFields...),
		IsActive:       u.IsActive,
		Status:         u.Unlocked(),
		LockedAt:       u.LockedAt,
		CreatedAt:      u.CreatedAt,
		CreatedBy:      u.CreatedBy,
		LastLoginAt:    u.LastLoginAt,
	}
	if u.LockReason != nil {
		v.LockReason = *u.LockReason
	}
	return v
}
