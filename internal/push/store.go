// Package push holds watch push-notification plumbing: the device-token
// store and the forwarder that hands rendered payloads to the external
// push gateway.
package push

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	storageKey       = "wristlink:push_tokens"
	defaultSaveDelay = 5 * time.Second
	PlatformWatchOS  = "watchos"
	EnvDevelopment   = "development"
	EnvProduction    = "production"
)

// Entry is one stored device token.
type Entry struct {
	DeviceToken string `json:"device_token"`
	Platform    string `json:"platform"`
	Environment string `json:"environment"`
}

// NormalizeEnvironment coerces unknown environments to production.
func NormalizeEnvironment(env string) string {
	if env == EnvDevelopment {
		return EnvDevelopment
	}
	return EnvProduction
}

// TokenStore is the watch_id → device token map, held in memory and
// persisted to redis with a save debounce so registration bursts coalesce
// into one write.
type TokenStore struct {
	client    *redis.Client
	saveDelay time.Duration

	mu        sync.Mutex
	tokens    map[string]Entry
	saveTimer *time.Timer
}

func NewTokenStore(client *redis.Client) *TokenStore {
	return &TokenStore{
		client:    client,
		saveDelay: defaultSaveDelay,
		tokens:    make(map[string]Entry),
	}
}

// Load replaces the in-memory map with the persisted one.
func (s *TokenStore) Load(ctx context.Context) error {
	raw, err := s.client.Get(ctx, storageKey).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return err
	}
	var tokens map[string]Entry
	if err := json.Unmarshal([]byte(raw), &tokens); err != nil {
		return err
	}
	s.mu.Lock()
	s.tokens = tokens
	s.mu.Unlock()
	log.Printf("[INFO] Push store: loaded %d device tokens", len(tokens))
	return nil
}

// Register stores or updates a device token. Re-registering an identical
// (token, environment) pair is a no-op and schedules no save.
func (s *TokenStore) Register(watchID, deviceToken, platform, environment string) {
	if platform == "" {
		platform = PlatformWatchOS
	}
	environment = NormalizeEnvironment(environment)

	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.tokens[watchID]
	if ok && existing.DeviceToken == deviceToken && existing.Environment == environment {
		return
	}
	s.tokens[watchID] = Entry{
		DeviceToken: deviceToken,
		Platform:    platform,
		Environment: environment,
	}
	log.Printf("[INFO] Push store: registered token for watch_id=%s (platform=%s, environment=%s)",
		watchID, platform, environment)
	s.scheduleSaveLocked()
}

// Get returns the entry for a watch.
func (s *TokenStore) Get(watchID string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.tokens[watchID]
	return e, ok
}

// Remove drops a watch's token.
func (s *TokenStore) Remove(watchID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tokens[watchID]; !ok {
		return
	}
	delete(s.tokens, watchID)
	s.scheduleSaveLocked()
}

// All returns a copy of the stored tokens.
func (s *TokenStore) All() map[string]Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Entry, len(s.tokens))
	for k, v := range s.tokens {
		out[k] = v
	}
	return out
}

// Flush persists immediately, cancelling any pending debounce. Used on
// shutdown.
func (s *TokenStore) Flush(ctx context.Context) error {
	s.mu.Lock()
	if s.saveTimer != nil {
		s.saveTimer.Stop()
		s.saveTimer = nil
	}
	data, err := json.Marshal(s.tokens)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.client.Set(ctx, storageKey, data, 0).Err()
}

func (s *TokenStore) scheduleSaveLocked() {
	if s.saveTimer != nil {
		return
	}
	s.saveTimer = time.AfterFunc(s.saveDelay, func() {
		s.mu.Lock()
		s.saveTimer = nil
		data, err := json.Marshal(s.tokens)
		s.mu.Unlock()
		if err != nil {
			log.Printf("[ERROR] Push store: serialize failed: %v", err)
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.client.Set(ctx, storageKey, data, 0).Err(); err != nil {
			log.Printf("[ERROR] Push store: save failed: %v", err)
		}
	})
}
