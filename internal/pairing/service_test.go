package pairing

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/technosupport/ts-wristlink/internal/auth"
)

// mockAuth is a hand-rolled auth.Service recording every call.
type mockAuth struct {
	mu      sync.Mutex
	seq     int
	tokens  map[string]*auth.RefreshToken
	users   []*auth.User
	removed []string
}

func newMockAuth(users ...*auth.User) *mockAuth {
	return &mockAuth{tokens: make(map[string]*auth.RefreshToken), users: users}
}

func (m *mockAuth) CreateRefreshToken(ctx context.Context, user *auth.User, clientID, clientName, tokenType string, ttl time.Duration) (*auth.RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	tok := &auth.RefreshToken{
		ID:                    fmt.Sprintf("tok-%d", m.seq),
		UserID:                user.ID,
		ClientID:              clientID,
		ClientName:            clientName,
		TokenType:             tokenType,
		AccessTokenExpiration: ttl,
		CreatedAt:             time.Now(),
	}
	m.tokens[tok.ID] = tok
	return tok, nil
}

func (m *mockAuth) GetRefreshToken(ctx context.Context, id string) (*auth.RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tok, ok := m.tokens[id]
	if !ok {
		return nil, auth.ErrTokenNotFound
	}
	return tok, nil
}

func (m *mockAuth) RemoveRefreshToken(ctx context.Context, tok *auth.RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tokens, tok.ID)
	m.removed = append(m.removed, tok.ID)
	return nil
}

func (m *mockAuth) RenameRefreshToken(ctx context.Context, id, clientName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tok, ok := m.tokens[id]; ok {
		tok.ClientName = clientName
	}
	return nil
}

func (m *mockAuth) RefreshTokens(ctx context.Context) ([]*auth.RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*auth.RefreshToken, 0, len(m.tokens))
	for _, tok := range m.tokens {
		out = append(out, tok)
	}
	return out, nil
}

func (m *mockAuth) CreateAccessToken(ctx context.Context, tok *auth.RefreshToken) (string, error) {
	return "access-" + tok.ID, nil
}

func (m *mockAuth) ValidateAccessToken(ctx context.Context, token string) (*auth.RefreshToken, error) {
	return nil, auth.ErrInvalidToken
}

func (m *mockAuth) Users(ctx context.Context) ([]*auth.User, error) { return m.users, nil }

func (m *mockAuth) User(ctx context.Context, id string) (*auth.User, error) {
	for _, u := range m.users {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, auth.ErrUserNotFound
}

var owner = &auth.User{ID: "u1", Name: "Owner", IsOwner: true, IsActive: true}

func TestCreatePayloadShape(t *testing.T) {
	svc := NewService(newMockAuth(owner))

	payload, err := svc.Create(context.Background(), owner, "https://hub.example", "http://local:8123", "", 30)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, len(payload.PairingCode), 32)
	assert.Equal(t, 30, payload.LifespanDays)
	assert.Equal(t, "https://hub.example", payload.HomeAssistantURL)

	require.True(t, strings.HasPrefix(payload.PairingURI, "wristassistant://pair?"))
	parsed, err := url.Parse(payload.PairingURI)
	require.NoError(t, err)
	q := parsed.Query()
	assert.Equal(t, payload.PairingCode, q.Get("code"))
	assert.Equal(t, "https://hub.example", q.Get("base_url"))
	assert.Equal(t, "http://local:8123", q.Get("local_url"))
	assert.Empty(t, q.Get("remote_url"))
}

func TestCreateNamesTokenAfterCode(t *testing.T) {
	authsvc := newMockAuth(owner)
	svc := NewService(authsvc)

	payload, err := svc.Create(context.Background(), owner, "https://hub.example", "", "", 0)
	require.NoError(t, err)

	toks, _ := authsvc.RefreshTokens(context.Background())
	require.Len(t, toks, 1)
	assert.Equal(t, ClientID, toks[0].ClientID)
	assert.Equal(t, ClientNamePrefix+" "+payload.PairingCode[:8], toks[0].ClientName)
	assert.Equal(t, time.Duration(DefaultLifespanDays)*24*time.Hour, toks[0].AccessTokenExpiration)
}

func TestRedeemIsSingleUse(t *testing.T) {
	svc := NewService(newMockAuth(owner))
	payload, err := svc.Create(context.Background(), owner, "https://hub.example", "", "", 30)
	require.NoError(t, err)

	tok, err := svc.Redeem(context.Background(), payload.PairingCode, "")
	require.NoError(t, err)
	require.NotNil(t, tok)
	assert.NotEmpty(t, tok.AccessToken)
	assert.Equal(t, "Bearer", tok.TokenType)
	assert.Equal(t, "manual_token", tok.AuthMode)
	assert.Equal(t, int64(30*86400), tok.ExpiresIn)
	assert.Equal(t, "https://hub.example", tok.HomeAssistantURL)

	// Second redemption of the same code fails.
	again, err := svc.Redeem(context.Background(), payload.PairingCode, "")
	require.NoError(t, err)
	assert.Nil(t, again)
}

func TestRedeemUnknownCode(t *testing.T) {
	svc := NewService(newMockAuth(owner))
	tok, err := svc.Redeem(context.Background(), "nope", "")
	require.NoError(t, err)
	assert.Nil(t, tok)
}

func TestRedeemVanishedTokenFails(t *testing.T) {
	authsvc := newMockAuth(owner)
	svc := NewService(authsvc)
	payload, err := svc.Create(context.Background(), owner, "https://hub.example", "", "", 30)
	require.NoError(t, err)

	toks, _ := authsvc.RefreshTokens(context.Background())
	require.NoError(t, authsvc.RemoveRefreshToken(context.Background(), toks[0]))

	tok, err := svc.Redeem(context.Background(), payload.PairingCode, "")
	require.NoError(t, err)
	assert.Nil(t, tok)
}

func TestRedeemRenamesTokenForDevice(t *testing.T) {
	authsvc := newMockAuth(owner)
	svc := NewService(authsvc)
	payload, err := svc.Create(context.Background(), owner, "https://hub.example", "", "", 30)
	require.NoError(t, err)

	toks, _ := authsvc.RefreshTokens(context.Background())
	id := toks[0].ID

	_, err = svc.Redeem(context.Background(), payload.PairingCode, "Ana's Watch")
	require.NoError(t, err)

	tok, err := authsvc.GetRefreshToken(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, ClientNamePrefix+" Ana's Watch", tok.ClientName)
}

func TestRefreshActiveRevokesPrevious(t *testing.T) {
	authsvc := newMockAuth(owner)
	svc := NewService(authsvc)

	first, err := svc.RefreshActive(context.Background(), owner, "https://hub.example", "", "", 30)
	require.NoError(t, err)
	second, err := svc.RefreshActive(context.Background(), owner, "https://hub.example", "", "", 30)
	require.NoError(t, err)

	assert.False(t, svc.IsActiveCode(context.Background(), first.PairingCode))
	assert.True(t, svc.IsActiveCode(context.Background(), second.PairingCode))
	// The first code's backing token was removed.
	assert.Len(t, authsvc.removed, 1)

	tok, err := svc.Redeem(context.Background(), first.PairingCode, "")
	require.NoError(t, err)
	assert.Nil(t, tok)
}

func TestExpiredCodesArePrunedAndRevoked(t *testing.T) {
	authsvc := newMockAuth(owner)
	svc := NewService(authsvc)
	payload, err := svc.RefreshActive(context.Background(), owner, "https://hub.example", "", "", 30)
	require.NoError(t, err)

	svc.mu.Lock()
	svc.sessions[payload.PairingCode].ExpiresAt = time.Now().Add(-time.Minute)
	svc.mu.Unlock()

	assert.False(t, svc.IsActiveCode(context.Background(), payload.PairingCode))
	assert.Nil(t, svc.ActivePayload())
	assert.Len(t, authsvc.removed, 1)
}

func TestShutdownRevokesEverything(t *testing.T) {
	authsvc := newMockAuth(owner)
	svc := NewService(authsvc)
	for i := 0; i < 3; i++ {
		_, err := svc.Create(context.Background(), owner, "https://hub.example", "", "", 30)
		require.NoError(t, err)
	}

	svc.Shutdown(context.Background())
	toks, _ := authsvc.RefreshTokens(context.Background())
	assert.Empty(t, toks)
}

func TestOrphanCleanupSparesUsedAndTracked(t *testing.T) {
	authsvc := newMockAuth(owner)
	svc := NewService(authsvc)

	// Tracked token from a live session.
	_, err := svc.Create(context.Background(), owner, "https://hub.example", "", "", 30)
	require.NoError(t, err)

	// Orphan: our client id + prefix, never used, untracked.
	orphan, err := authsvc.CreateRefreshToken(context.Background(), owner, ClientID,
		ClientNamePrefix+" deadbeef", auth.TokenTypeLongLived, time.Hour)
	require.NoError(t, err)

	// Redeemed watch token: ours but used.
	used, err := authsvc.CreateRefreshToken(context.Background(), owner, ClientID,
		ClientNamePrefix+" cafef00d", auth.TokenTypeLongLived, time.Hour)
	require.NoError(t, err)
	now := time.Now()
	used.LastUsedAt = &now

	// Foreign token: different client entirely.
	_, err = authsvc.CreateRefreshToken(context.Background(), owner, "other-client",
		"Other Integration", auth.TokenTypeLongLived, time.Hour)
	require.NoError(t, err)

	svc.OrphanCleanup(context.Background())

	assert.Equal(t, []string{orphan.ID}, authsvc.removed)
	toks, _ := authsvc.RefreshTokens(context.Background())
	assert.Len(t, toks, 3)
}

func TestResolvePairingUserFallsBackToOwner(t *testing.T) {
	inactive := &auth.User{ID: "u2", IsOwner: true, IsActive: false}
	plain := &auth.User{ID: "u3", IsActive: true}
	svc := NewService(newMockAuth(inactive, plain, owner))

	u, err := svc.ResolvePairingUser(context.Background(), "")
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, "u1", u.ID)

	u, err = svc.ResolvePairingUser(context.Background(), "u3")
	require.NoError(t, err)
	assert.Equal(t, "u3", u.ID)
}

func TestSanitizeBaseURL(t *testing.T) {
	assert.Equal(t, "https://hub.example", SanitizeBaseURL("hub.example"))
	assert.Equal(t, "http://10.0.0.2:8123", SanitizeBaseURL("http://10.0.0.2:8123/"))
	assert.Equal(t, "", SanitizeBaseURL("ftp://hub.example"))
	assert.Equal(t, "", SanitizeBaseURL("   "))
}
