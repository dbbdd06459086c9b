package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// claims carried by locally issued access tokens.
type accessClaims struct {
	RefreshTokenID string `json:"rt_id"`
	jwt.RegisteredClaims
}

// LocalService issues and validates tokens in-process: refresh tokens live
// in memory, access tokens are HS256 JWTs bound to their refresh token's
// id so removing the refresh token revokes every access token minted from
// it.
type LocalService struct {
	signingKey []byte

	mu     sync.Mutex
	tokens map[string]*RefreshToken
	users  map[string]*User
}

func NewLocalService(signingKey string, users []*User) *LocalService {
	s := &LocalService{
		signingKey: []byte(signingKey),
		tokens:     make(map[string]*RefreshToken),
		users:      make(map[string]*User),
	}
	for _, u := range users {
		s.users[u.ID] = u
	}
	return s
}

func (s *LocalService) CreateRefreshToken(ctx context.Context, user *User, clientID, clientName, tokenType string, ttl time.Duration) (*RefreshToken, error) {
	if user == nil {
		return nil, ErrUserNotFound
	}
	tok := &RefreshToken{
		ID:                    uuid.New().String(),
		UserID:                user.ID,
		ClientID:              clientID,
		ClientName:            clientName,
		TokenType:             tokenType,
		AccessTokenExpiration: ttl,
		CreatedAt:             time.Now().UTC(),
	}
	s.mu.Lock()
	s.tokens[tok.ID] = tok
	s.mu.Unlock()
	return tok, nil
}

func (s *LocalService) GetRefreshToken(ctx context.Context, id string) (*RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, ok := s.tokens[id]
	if !ok {
		return nil, ErrTokenNotFound
	}
	return tok, nil
}

func (s *LocalService) RemoveRefreshToken(ctx context.Context, tok *RefreshToken) error {
	if tok == nil {
		return nil
	}
	s.mu.Lock()
	delete(s.tokens, tok.ID)
	s.mu.Unlock()
	return nil
}

func (s *LocalService) RenameRefreshToken(ctx context.Context, id, clientName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, ok := s.tokens[id]
	if !ok {
		return ErrTokenNotFound
	}
	tok.ClientName = clientName
	return nil
}

func (s *LocalService) RefreshTokens(ctx context.Context) ([]*RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*RefreshToken, 0, len(s.tokens))
	for _, tok := range s.tokens {
		out = append(out, tok)
	}
	return out, nil
}

func (s *LocalService) CreateAccessToken(ctx context.Context, tok *RefreshToken) (string, error) {
	s.mu.Lock()
	_, live := s.tokens[tok.ID]
	s.mu.Unlock()
	if !live {
		return "", ErrTokenNotFound
	}

	now := time.Now().UTC()
	claims := accessClaims{
		RefreshTokenID: tok.ID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   tok.UserID,
			ExpiresAt: jwt.NewNumericDate(now.Add(tok.AccessTokenExpiration)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ID:        uuid.New().String(),
		},
	}
	signed := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed.Header["kid"] = "v1"
	return signed.SignedString(s.signingKey)
}

func (s *LocalService) ValidateAccessToken(ctx context.Context, token string) (*RefreshToken, error) {
	parsed, err := jwt.ParseWithClaims(token, &accessClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.signingKey, nil
	})
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*accessClaims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	tok, ok := s.tokens[claims.RefreshTokenID]
	if !ok {
		// Refresh token revoked; access tokens minted from it die too.
		return nil, ErrInvalidToken
	}
	now := time.Now().UTC()
	tok.LastUsedAt = &now
	return tok, nil
}

func (s *LocalService) Users(ctx context.Context) ([]*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}
	return out, nil
}

func (s *LocalService) User(ctx context.Context, id string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	return u, nil
}
