package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/technosupport/ts-wristlink/internal/auth"
)

// TokenValidator resolves a bearer token to its backing credential.
type TokenValidator interface {
	ValidateAccessToken(ctx context.Context, token string) (*auth.RefreshToken, error)
}

type BearerAuth struct {
	validator TokenValidator
}

func NewBearerAuth(v TokenValidator) *BearerAuth {
	return &BearerAuth{validator: v}
}

// Middleware verifies the bearer token and injects AuthContext
func (m *BearerAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		tok, err := m.validator.ValidateAccessToken(r.Context(), parts[1])
		if err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		ac := &AuthContext{
			UserID:     tok.UserID,
			TokenID:    tok.ID,
			ClientName: tok.ClientName,
		}
		next.ServeHTTP(w, r.WithContext(WithAuthContext(r.Context(), ac)))
	})
}
