package middleware

import (
	"context"
	"fmt"
)

type contextKey string

const (
	AuthContextKey contextKey = "auth_context"
)

// AuthContext holds the authenticated credential's identity.
type AuthContext struct {
	UserID     string
	TokenID    string // refresh token id backing the bearer token
	ClientName string
}

// GetAuthContext retrieves the AuthContext from the context
func GetAuthContext(ctx context.Context) (*AuthContext, bool) {
	val, ok := ctx.Value(AuthContextKey).(*AuthContext)
	return val, ok
}

// WithAuthContext attaches the AuthContext to the context
func WithAuthContext(ctx context.Context, auth *AuthContext) context.Context {
	return context.WithValue(ctx, AuthContextKey, auth)
}

// RequireAuthContext is a helper for handlers that must have an identity.
func RequireAuthContext(ctx context.Context) (*AuthContext, error) {
	ac, ok := GetAuthContext(ctx)
	if !ok {
		return nil, fmt.Errorf("no auth context found")
	}
	return ac, nil
}
