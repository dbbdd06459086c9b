package middleware_test

import (
	"compress/gzip"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/technosupport/ts-wristlink/internal/auth"
	"github.com/technosupport/ts-wristlink/internal/middleware"
)

// Mock token validator
type mockValidator struct{}

func (mockValidator) ValidateAccessToken(ctx context.Context, token string) (*auth.RefreshToken, error) {
	if token == "valid-access" {
		return &auth.RefreshToken{ID: "tok-1", UserID: "u1", ClientName: "Watch"}, nil
	}
	return nil, auth.ErrInvalidToken
}

func echoIdentity() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ac, ok := middleware.GetAuthContext(r.Context())
		if !ok {
			http.Error(w, "no context", http.StatusInternalServerError)
			return
		}
		w.Write([]byte(ac.UserID))
	})
}

func TestBearerAuthAccepts(t *testing.T) {
	h := middleware.NewBearerAuth(mockValidator{}).Middleware(echoIdentity())

	req := httptest.NewRequest("GET", "/x", nil)
	req.Header.Set("Authorization", "Bearer valid-access")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "u1", rec.Body.String())
}

func TestBearerAuthRejects(t *testing.T) {
	h := middleware.NewBearerAuth(mockValidator{}).Middleware(echoIdentity())

	cases := map[string]string{
		"missing": "",
		"scheme":  "Basic dXNlcg==",
		"invalid": "Bearer nope",
	}
	for name, header := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/x", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
}

func TestGzipCompressesWhenAccepted(t *testing.T) {
	h := middleware.Gzip(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"hello":"world"}`))
	}))

	req := httptest.NewRequest("GET", "/x", nil)
	req.Header.Set("Accept-Encoding", "gzip, deflate")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, "gzip", rec.Header().Get("Content-Encoding"))
	gz, err := gzip.NewReader(rec.Body)
	require.NoError(t, err)
	body, err := io.ReadAll(gz)
	require.NoError(t, err)
	assert.Equal(t, `{"hello":"world"}`, string(body))
}

func TestGzipSkippedWithoutHeader(t *testing.T) {
	h := middleware.Gzip(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("plain"))
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/x", nil))

	assert.Empty(t, rec.Header().Get("Content-Encoding"))
	assert.Equal(t, "plain", rec.Body.String())
}

func TestGzipNoBodyFor204(t *testing.T) {
	h := middleware.Gzip(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest("GET", "/x", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Zero(t, rec.Body.Len())
}

func TestRequestLoggerSetsRequestID(t *testing.T) {
	h := middleware.RequestLogger(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/x", nil))

	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestAdminAuth(t *testing.T) {
	hash, err := auth.HashSecret("letmein")
	require.NoError(t, err)

	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	t.Run("valid key", func(t *testing.T) {
		h := middleware.AdminAuth(func() string { return hash })(ok)
		req := httptest.NewRequest("POST", "/admin", nil)
		req.Header.Set("X-Admin-Key", "letmein")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("wrong key", func(t *testing.T) {
		h := middleware.AdminAuth(func() string { return hash })(ok)
		req := httptest.NewRequest("POST", "/admin", nil)
		req.Header.Set("X-Admin-Key", "guess")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("no hash disables endpoint", func(t *testing.T) {
		h := middleware.AdminAuth(func() string { return "" })(ok)
		req := httptest.NewRequest("POST", "/admin", nil)
		req.Header.Set("X-Admin-Key", "letmein")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
}
