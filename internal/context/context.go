package context

import (
	"context"

	"github.com/fieldgate/backend/internal/auth"
)

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

const (
	// ClientKey is the context key for the resolved client context
	ClientKey ContextKey = "client"
	// ClaimsKey is the context key for the validated context-token claims
	ClaimsKey ContextKey = "claims"
)

// WithClient returns ctx carrying the client context and its token claims
func WithClient(ctx context.Context, client *auth.Client, claims *auth.ContextClaims) context.Context {
	ctx = context.WithValue(ctx, ClientKey, client)
	return context.WithValue(ctx, ClaimsKey, claims)
}

// ExtractClient extracts the client context from the request context
func ExtractClient(ctx context.Context) (*auth.Client, bool) {
	client, ok := ctx.Value(ClientKey).(*auth.Client)
	return client, ok && client != nil
}

// ExtractClaims extracts the context-token claims from the request context
func ExtractClaims(ctx context.Context) (*auth.ContextClaims, bool) {
	claims, ok := ctx.Value(ClaimsKey).(*auth.ContextClaims)
	return claims, ok && claims != nil
}
