package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ContextTokenType marks tokens that name a client context
const ContextTokenType = "client_context"

// ContextClaims is carried by the client-context token. Subject is the
// namespace of the ephemeral session slots; DeviceID names the durable slots
// and survives token renewal.
type ContextClaims struct {
	DeviceID string `json:"did"`
	Type     string `json:"type"`
	jwt.RegisteredClaims
}

// Namespace returns the session namespace from the Subject claim
func (c *ContextClaims) Namespace() string {
	return c.Subject
}

// TokenService issues and validates client-context tokens
type TokenService struct {
	secret string
	expiry time.Duration
	issuer string
	now    func() time.Time
}

// TokenServiceConfig holds configuration for TokenService
type TokenServiceConfig struct {
	Secret string
	Expiry time.Duration
	Issuer string
}

// NewTokenService creates a new TokenService instance
func NewTokenService(cfg TokenServiceConfig) *TokenService {
	return &TokenService{
		secret: cfg.Secret,
		expiry: cfg.Expiry,
		issuer: cfg.Issuer,
		now:    time.Now,
	}
}

// IssuedContext is a freshly signed context token
type IssuedContext struct {
	Token     string    `json:"token"`
	Namespace string    `json:"namespace"`
	ExpiresAt time.Time `json:"expires_at"`
}

// IssueContextToken signs a token for a new session namespace. deviceID is
// reused when the caller recovered one, otherwise a new one is minted.
func (s *TokenService) IssueContextToken(deviceID string) (*IssuedContext, error) {
	if deviceID == "" {
		deviceID = uuid.NewString()
	}

	now := s.now()
	expiresAt := now.Add(s.expiry)
	namespace := uuid.NewString()

	claims := ContextClaims{
		DeviceID: deviceID,
		Type:     ContextTokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   namespace,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.secret))
	if err != nil {
		return nil, err
	}
	return &IssuedContext{Token: signed, Namespace: namespace, ExpiresAt: expiresAt}, nil
}

// ValidateContextToken validates a token and returns its claims
func (s *TokenService) ValidateContextToken(tokenString string) (*ContextClaims, error) {
	parser := jwt.NewParser(jwt.WithTimeFunc(s.now), jwt.WithIssuer(s.issuer))
	return s.parse(parser, tokenString)
}

// RecoverDeviceID returns the device of a previously issued token, even an
// expired one, as long as its signature is ours.
func (s *TokenService) RecoverDeviceID(tokenString string) (string, bool) {
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	claims, err := s.parse(parser, tokenString)
	if err != nil || claims.DeviceID == "" {
		return "", false
	}
	return claims.DeviceID, true
}

func (s *TokenService) parse(parser *jwt.Parser, tokenString string) (*ContextClaims, error) {
	token, err := parser.ParseWithClaims(tokenString, &ContextClaims{}, func(token *jwt.Token) (interface{}, error) {
		// Verify signing method is HS256
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(s.secret), nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*ContextClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.Type != ContextTokenType || claims.Subject == "" {
		return nil, errors.New("invalid token type")
	}
	return claims, nil
}

// Expiry returns the token lifetime
func (s *TokenService) Expiry() time.Duration {
	return s.expiry
}
