package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"math/big"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const (
	// MinPasswordLength is the minimum length for new passwords
	MinPasswordLength = 6
	// BcryptCost is the default cost factor for bcrypt hashing
	BcryptCost = 12
	// TemporaryPasswordLength is the length of generated passwords
	TemporaryPasswordLength = 10
)

const temporaryAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnpqrstuvwxyz23456789"

// PasswordHasher hashes new passwords and verifies stored ones.
// Records imported before hashing was introduced hold the plain value;
// those are compared in constant time and rehashed on the next password change.
type PasswordHasher struct {
	cost int
}

// NewPasswordHasher creates a hasher; cost <= 0 selects BcryptCost
func NewPasswordHasher(cost int) *PasswordHasher {
	if cost <= 0 {
		cost = BcryptCost
	}
	return &PasswordHasher{cost: cost}
}

// Hash hashes a password using bcrypt
func (h *PasswordHasher) Hash(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Verify reports whether password matches the stored value
func (h *PasswordHasher) Verify(password, stored string) bool {
	if stored == "" {
		return false
	}
	if isBcryptHash(stored) {
		return bcrypt.CompareHashAndPassword([]byte(stored), []byte(password)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(password), []byte(stored)) == 1
}

func isBcryptHash(s string) bool {
	return len(s) == 60 && (strings.HasPrefix(s, "$2a$") || strings.HasPrefix(s, "$2b$") || strings.HasPrefix(s, "$2y$"))
}

// GenerateTemporaryPassword returns a random password without look-alike characters
func GenerateTemporaryPassword() (string, error) {
	alphabet := big.NewInt(int64(len(temporaryAlphabet)))
	b := make([]byte, TemporaryPasswordLength)
	for i := range b {
		idx, err := rand.Int(rand.Reader, alphabet)
		if err != nil {
			return "", err
		}
		b[i] = temporaryAlphabet[idx.Int64()]
	}
	return string(b), nil
}
