package middleware

import (
	"net/http"

	"github.com/technosupport/ts-wristlink/internal/auth"
)

// AdminKeyProvider supplies the current argon2 hash of the admin key.
type AdminKeyProvider func() string

// AdminAuth gates operator endpoints on an X-Admin-Key header checked
// against the configured argon2 hash. With no hash configured the
// endpoints are disabled outright rather than left open.
func AdminAuth(keyHash AdminKeyProvider) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hash := keyHash()
			if hash == "" {
				http.Error(w, "admin endpoints disabled", http.StatusForbidden)
				return
			}
			key := r.Header.Get("X-Admin-Key")
			if key == "" {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			ok, err := auth.CheckSecret(key, hash)
			if err != nil || !ok {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
