// Package auth defines the credential service the pairing flow and the
// bearer middleware consume, plus a self-contained implementation for
// deployments where the companion issues its own tokens.
package auth

import (
	"context"
	"errors"
	"time"
)

var (
	ErrInvalidToken  = errors.New("invalid token")
	ErrTokenNotFound = errors.New("refresh token not found")
	ErrUserNotFound  = errors.New("user not found")
)

// TokenTypeLongLived marks refresh tokens that back long-lived access
// tokens (the only type the pairing flow creates).
const TokenTypeLongLived = "long_lived_access_token"

// User is a hub account able to own refresh tokens.
type User struct {
	ID       string
	Name     string
	IsOwner  bool
	IsActive bool
}

// RefreshToken is a long-lived credential from which access tokens are
// minted. LastUsedAt is nil until the first access token validates.
type RefreshToken struct {
	ID                    string
	UserID                string
	ClientID              string
	ClientName            string
	TokenType             string
	AccessTokenExpiration time.Duration
	CreatedAt             time.Time
	LastUsedAt            *time.Time
}

// Service is the credential backend. The pairing service and the bearer
// middleware only ever talk to this interface.
type Service interface {
	CreateRefreshToken(ctx context.Context, user *User, clientID, clientName, tokenType string, ttl time.Duration) (*RefreshToken, error)
	GetRefreshToken(ctx context.Context, id string) (*RefreshToken, error)
	RemoveRefreshToken(ctx context.Context, tok *RefreshToken) error
	RenameRefreshToken(ctx context.Context, id, clientName string) error
	RefreshTokens(ctx context.Context) ([]*RefreshToken, error)

	CreateAccessToken(ctx context.Context, tok *RefreshToken) (string, error)
	// ValidateAccessToken resolves a bearer token to its live refresh
	// token, marking it used. Returns ErrInvalidToken for anything that
	// does not resolve to a currently valid credential.
	ValidateAccessToken(ctx context.Context, token string) (*RefreshToken, error)

	Users(ctx context.Context) ([]*User, error)
	User(ctx context.Context, id string) (*User, error)
}
