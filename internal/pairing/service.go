// Package pairing issues single-use codes that exchange hub-level
// credentials for a client-scoped bearer token.
package pairing

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"log"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/technosupport/ts-wristlink/internal/auth"
)

const (
	// CodeTTL bounds how long an unredeemed code stays valid.
	CodeTTL = 10 * time.Minute
	// ClientID tags every refresh token this service creates so orphan
	// cleanup can recognize its own leftovers.
	ClientID = "https://home-assistant.io/iOS/dev-auth"
	// ClientNamePrefix plus the first 8 code characters names the token.
	ClientNamePrefix = "Wrist Assistant QR Pairing"

	DefaultLifespanDays = 3650
	MinLifespanDays     = 1
	MaxLifespanDays     = 36500

	codeBytes = 24 // 192 bits of entropy
)

// Session is one outstanding single-use code.
type Session struct {
	Code           string
	RefreshTokenID string
	BaseURL        string
	LocalURL       string
	RemoteURL      string
	ExpiresAt      time.Time
	LifespanDays   int
}

// CreatePayload is returned when a code is issued.
type CreatePayload struct {
	PairingCode      string `json:"pairing_code"`
	PairingURI       string `json:"pairing_uri"`
	ExpiresAt        string `json:"expires_at"`
	LifespanDays     int    `json:"lifespan_days"`
	HomeAssistantURL string `json:"home_assistant_url"`
	LocalURL         string `json:"local_url"`
	RemoteURL        string `json:"remote_url"`
}

// TokenPayload is returned on successful redemption.
type TokenPayload struct {
	AccessToken      string `json:"access_token"`
	TokenType        string `json:"token_type"`
	AuthMode         string `json:"auth_mode"`
	ExpiresIn        int64  `json:"expires_in"`
	HomeAssistantURL string `json:"home_assistant_url"`
	LocalURL         string `json:"local_url"`
	RemoteURL        string `json:"remote_url"`
}

// Defaults configure unattended active-code refresh after a redemption.
type Defaults struct {
	UserID       string
	BaseURL      string
	LocalURL     string
	RemoteURL    string
	LifespanDays int
}

// Service owns the pairing session table and the single active-code slot.
type Service struct {
	authsvc auth.Service

	mu            sync.Mutex
	sessions      map[string]*Session
	activeCode    string
	activePayload *CreatePayload
	defaults      Defaults
}

func NewService(authsvc auth.Service) *Service {
	return &Service{
		authsvc:  authsvc,
		sessions: make(map[string]*Session),
	}
}

// ConfigureDefaults sets the defaults used by RefreshActiveDefault.
func (s *Service) ConfigureDefaults(d Defaults) {
	s.mu.Lock()
	s.defaults = d
	s.mu.Unlock()
}

// Create issues a new one-time code backed by a fresh refresh token.
func (s *Service) Create(ctx context.Context, user *auth.User, baseURL, localURL, remoteURL string, lifespanDays int) (*CreatePayload, error) {
	s.pruneExpired(ctx)
	lifespanDays = ClampLifespan(lifespanDays)

	code := newCode()
	clientName := ClientNamePrefix + " " + code[:8]
	tok, err := s.authsvc.CreateRefreshToken(ctx, user, ClientID, clientName,
		auth.TokenTypeLongLived, time.Duration(lifespanDays)*24*time.Hour)
	if err != nil {
		return nil, err
	}
	expiresAt := time.Now().UTC().Add(CodeTTL)

	s.mu.Lock()
	s.sessions[code] = &Session{
		Code:           code,
		RefreshTokenID: tok.ID,
		BaseURL:        baseURL,
		LocalURL:       localURL,
		RemoteURL:      remoteURL,
		ExpiresAt:      expiresAt,
		LifespanDays:   lifespanDays,
	}
	s.mu.Unlock()

	q := url.Values{}
	q.Set("code", code)
	q.Set("base_url", baseURL)
	if localURL != "" {
		q.Set("local_url", localURL)
	}
	if remoteURL != "" {
		q.Set("remote_url", remoteURL)
	}
	return &CreatePayload{
		PairingCode:      code,
		PairingURI:       "wristassistant://pair?" + q.Encode(),
		ExpiresAt:        expiresAt.Format(time.RFC3339),
		LifespanDays:     lifespanDays,
		HomeAssistantURL: baseURL,
		LocalURL:         localURL,
		RemoteURL:        remoteURL,
	}, nil
}

// RefreshActive issues a new code, promotes it to the active slot and
// revokes the previously active code.
func (s *Service) RefreshActive(ctx context.Context, user *auth.User, baseURL, localURL, remoteURL string, lifespanDays int) (*CreatePayload, error) {
	payload, err := s.Create(ctx, user, baseURL, localURL, remoteURL, lifespanDays)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	previous := s.activeCode
	s.activeCode = payload.PairingCode
	s.activePayload = payload
	s.mu.Unlock()

	if previous != "" && previous != payload.PairingCode {
		s.revokeCode(ctx, previous)
	}
	return payload, nil
}

// RefreshActiveDefault re-issues the active code from configured defaults.
// Returns nil without error when the defaults are incomplete.
func (s *Service) RefreshActiveDefault(ctx context.Context) (*CreatePayload, error) {
	s.mu.Lock()
	d := s.defaults
	s.mu.Unlock()
	if d.BaseURL == "" {
		return nil, nil
	}
	user, err := s.ResolvePairingUser(ctx, d.UserID)
	if err != nil || user == nil {
		return nil, err
	}
	return s.RefreshActive(ctx, user, d.BaseURL, d.LocalURL, d.RemoteURL, d.LifespanDays)
}

// Redeem exchanges a code for an access token. Returns nil when the code
// is unknown, expired, or its refresh token vanished. Once the access
// token exists the remaining steps never abort: a usable token must not
// leak without being acknowledged.
func (s *Service) Redeem(ctx context.Context, code, deviceName string) (*TokenPayload, error) {
	s.pruneExpired(ctx)

	s.mu.Lock()
	session, ok := s.sessions[code]
	s.mu.Unlock()
	if !ok {
		return nil, nil
	}

	tok, err := s.authsvc.GetRefreshToken(ctx, session.RefreshTokenID)
	if err != nil || tok == nil {
		s.mu.Lock()
		delete(s.sessions, code)
		s.mu.Unlock()
		return nil, nil
	}

	accessToken, err := s.authsvc.CreateAccessToken(ctx, tok)
	if err != nil {
		return nil, err
	}

	expiresIn := int64(tok.AccessTokenExpiration / time.Second)
	if expiresIn <= 0 {
		days := session.LifespanDays
		if days < 1 {
			days = 1
		}
		expiresIn = int64(days) * 86400
	}

	if deviceName != "" {
		name := ClientNamePrefix + " " + deviceName
		if err := s.authsvc.RenameRefreshToken(context.WithoutCancel(ctx), tok.ID, name); err != nil {
			log.Printf("[WARN] Pairing: rename of token %s failed: %v", tok.ID, err)
		}
	}

	s.mu.Lock()
	delete(s.sessions, code)
	wasActive := code == s.activeCode
	if wasActive {
		s.activeCode = ""
		s.activePayload = nil
	}
	s.mu.Unlock()

	if wasActive {
		// Re-issue the QR code in the background so the next watch can
		// pair without operator intervention.
		go func() {
			if _, err := s.RefreshActiveDefault(context.Background()); err != nil {
				log.Printf("[WARN] Pairing: active code refresh after redeem failed: %v", err)
			}
		}()
	}

	return &TokenPayload{
		AccessToken:      accessToken,
		TokenType:        "Bearer",
		AuthMode:         "manual_token",
		ExpiresIn:        expiresIn,
		HomeAssistantURL: session.BaseURL,
		LocalURL:         session.LocalURL,
		RemoteURL:        session.RemoteURL,
	}, nil
}

// IsActiveCode reports whether code is the current, still valid active
// pairing code.
func (s *Service) IsActiveCode(ctx context.Context, code string) bool {
	if code == "" {
		return false
	}
	s.pruneExpired(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	_, present := s.sessions[code]
	return present && code == s.activeCode
}

// ActivePayload returns the payload of the active code, or nil.
func (s *Service) ActivePayload() *CreatePayload {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeCode == "" {
		return nil
	}
	if _, ok := s.sessions[s.activeCode]; !ok {
		return nil
	}
	return s.activePayload
}

// Shutdown revokes every outstanding unredeemed code.
func (s *Service) Shutdown(ctx context.Context) {
	s.mu.Lock()
	codes := make([]string, 0, len(s.sessions))
	for code := range s.sessions {
		codes = append(codes, code)
	}
	s.activeCode = ""
	s.activePayload = nil
	s.mu.Unlock()

	for _, code := range codes {
		s.revokeCode(ctx, code)
	}
}

// OrphanCleanup revokes refresh tokens left behind by a prior crashed
// process: our fixed client id, our client-name prefix, never used, and
// not in the current tracked set. Used tokens belong to paired watches
// and are preserved.
func (s *Service) OrphanCleanup(ctx context.Context) {
	tokens, err := s.authsvc.RefreshTokens(ctx)
	if err != nil {
		log.Printf("[WARN] Pairing: orphan cleanup could not list tokens: %v", err)
		return
	}

	s.mu.Lock()
	tracked := make(map[string]struct{}, len(s.sessions))
	for _, session := range s.sessions {
		tracked[session.RefreshTokenID] = struct{}{}
	}
	s.mu.Unlock()

	removed := 0
	for _, tok := range tokens {
		if tok.ClientID != ClientID {
			continue
		}
		if !strings.HasPrefix(tok.ClientName, ClientNamePrefix) {
			continue
		}
		if _, ok := tracked[tok.ID]; ok {
			continue
		}
		if tok.LastUsedAt != nil {
			continue
		}
		if err := s.authsvc.RemoveRefreshToken(ctx, tok); err != nil {
			log.Printf("[WARN] Pairing: orphan token %s not removed: %v", tok.ID, err)
			continue
		}
		removed++
	}
	if removed > 0 {
		log.Printf("[INFO] Pairing: removed %d orphaned pairing tokens", removed)
	}
}

// ResolvePairingUser returns the explicit user when valid, else the first
// active owner, else nil.
func (s *Service) ResolvePairingUser(ctx context.Context, userID string) (*auth.User, error) {
	if userID != "" {
		user, err := s.authsvc.User(ctx, userID)
		if err == nil && user != nil && user.IsActive {
			return user, nil
		}
	}
	users, err := s.authsvc.Users(ctx)
	if err != nil {
		return nil, err
	}
	for _, u := range users {
		if u.IsOwner && u.IsActive {
			return u, nil
		}
	}
	return nil, nil
}

// TrackedTokenIDs returns the refresh token ids of live sessions.
func (s *Service) TrackedTokenIDs() map[string]struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]struct{}, len(s.sessions))
	for _, session := range s.sessions {
		out[session.RefreshTokenID] = struct{}{}
	}
	return out
}

// pruneExpired revokes and drops sessions past their expiry, clearing the
// active slot if it went with them.
func (s *Service) pruneExpired(ctx context.Context) {
	now := time.Now().UTC()

	s.mu.Lock()
	var expired []string
	for code, session := range s.sessions {
		if !session.ExpiresAt.After(now) {
			expired = append(expired, code)
		}
	}
	s.mu.Unlock()

	for _, code := range expired {
		s.revokeCode(ctx, code)
	}

	s.mu.Lock()
	if s.activeCode != "" {
		if _, ok := s.sessions[s.activeCode]; !ok {
			s.activeCode = ""
			s.activePayload = nil
		}
	}
	s.mu.Unlock()
}

// revokeCode drops one session and removes its refresh token.
func (s *Service) revokeCode(ctx context.Context, code string) {
	s.mu.Lock()
	session, ok := s.sessions[code]
	if ok {
		delete(s.sessions, code)
	}
	if code == s.activeCode {
		s.activeCode = ""
		s.activePayload = nil
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	tok, err := s.authsvc.GetRefreshToken(ctx, session.RefreshTokenID)
	if err != nil || tok == nil {
		return
	}
	if err := s.authsvc.RemoveRefreshToken(ctx, tok); err != nil {
		log.Printf("[WARN] Pairing: revoke of token %s failed: %v", tok.ID, err)
	}
}

// ClampLifespan bounds the refresh-token lifespan in days.
func ClampLifespan(days int) int {
	if days == 0 {
		return DefaultLifespanDays
	}
	if days < MinLifespanDays {
		return MinLifespanDays
	}
	if days > MaxLifespanDays {
		return MaxLifespanDays
	}
	return days
}

// SanitizeBaseURL normalizes hub base URLs: bare hosts default to https,
// anything that is not http(s) is rejected, trailing slashes are stripped.
func SanitizeBaseURL(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}
	if !strings.Contains(trimmed, "://") {
		trimmed = "https://" + trimmed
	}
	parsed, err := url.Parse(trimmed)
	if err != nil || parsed.Host == "" {
		return ""
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return ""
	}
	return strings.TrimRight(parsed.String(), "/")
}

func newCode() string {
	buf := make([]byte, codeBytes)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failure is unrecoverable.
		panic(err)
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}
