// Package config loads the service configuration from YAML with
// environment overrides for addresses and secrets, and hot-reloads the
// tunable parts when the file changes.
package config

import (
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

type ServerConfig struct {
	Port string `yaml:"port"`
}

type HubConfig struct {
	URL   string `yaml:"url"`
	Token string `yaml:"token"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
}

type NATSConfig struct {
	URL             string `yaml:"url"`
	PushSubject     string `yaml:"push_subject"`
	ReceiptSubject  string `yaml:"receipt_subject"`
	PublishRetryMax int    `yaml:"publish_retry_max"`
}

type AuthConfig struct {
	SigningKey string `yaml:"signing_key"`
	OwnerID    string `yaml:"owner_id"`
	OwnerName  string `yaml:"owner_name"`
}

type PairingConfig struct {
	UserID       string `yaml:"user_id"`
	BaseURL      string `yaml:"base_url"`
	LocalURL     string `yaml:"local_url"`
	RemoteURL    string `yaml:"remote_url"`
	LifespanDays int    `yaml:"lifespan_days"`
	AdminKeyHash string `yaml:"admin_key_hash"`
}

type DeltaConfig struct {
	RingSize          int `yaml:"ring_size"`
	SessionTTLMinutes int `yaml:"session_ttl_minutes"`
}

type CameraConfig struct {
	Workers         int `yaml:"workers"`
	SnapshotCacheMs int `yaml:"snapshot_cache_ms"`
}

type RedeemLimitConfig struct {
	Rate          int `yaml:"rate"`
	WindowSeconds int `yaml:"window_seconds"`
}

type RateLimitConfig struct {
	Redeem RedeemLimitConfig `yaml:"redeem"`
}

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Hub       HubConfig       `yaml:"hub"`
	Redis     RedisConfig     `yaml:"redis"`
	NATS      NATSConfig      `yaml:"nats"`
	Auth      AuthConfig      `yaml:"auth"`
	Pairing   PairingConfig   `yaml:"pairing"`
	Delta     DeltaConfig     `yaml:"delta"`
	Camera    CameraConfig    `yaml:"camera"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

func (c *Config) SessionTTL() time.Duration {
	if c.Delta.SessionTTLMinutes <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.Delta.SessionTTLMinutes) * time.Minute
}

func (c *Config) SnapshotCacheTTL() time.Duration {
	if c.Camera.SnapshotCacheMs <= 0 {
		return 0
	}
	return time.Duration(c.Camera.SnapshotCacheMs) * time.Millisecond
}

// Load parses the YAML file and applies env overrides. A missing file is
// not an error: everything has a default or an env source.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config parse: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyEnv() {
	overrideEnv(&c.Server.Port, "PORT")
	overrideEnv(&c.Hub.URL, "HUB_URL")
	overrideEnv(&c.Hub.Token, "HUB_TOKEN")
	overrideEnv(&c.Redis.Addr, "REDIS_ADDR")
	overrideEnv(&c.Redis.Password, "REDIS_PASSWORD")
	overrideEnv(&c.NATS.URL, "NATS_URL")
	overrideEnv(&c.Auth.SigningKey, "JWT_SIGNING_KEY")
	overrideEnv(&c.Pairing.AdminKeyHash, "ADMIN_KEY_HASH")
}

func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.NATS.PushSubject == "" {
		c.NATS.PushSubject = "wristlink.push.send"
	}
	if c.NATS.ReceiptSubject == "" {
		c.NATS.ReceiptSubject = "wristlink.push.receipts"
	}
	if c.NATS.PublishRetryMax == 0 {
		c.NATS.PublishRetryMax = 3
	}
	if c.Auth.SigningKey == "" {
		c.Auth.SigningKey = "dev-secret-do-not-use-in-prod"
	}
	if c.RateLimit.Redeem.Rate == 0 {
		c.RateLimit.Redeem.Rate = 10
	}
	if c.RateLimit.Redeem.WindowSeconds == 0 {
		c.RateLimit.Redeem.WindowSeconds = 60
	}
	if c.Camera.Workers == 0 {
		c.Camera.Workers = 4
	}
}

func overrideEnv(target *string, key string) {
	if v := os.Getenv(key); v != "" {
		*target = v
	}
}

// Store holds the live config for hot reload; readers grab the current
// snapshot per use.
type Store struct {
	path string
	cur  atomic.Pointer[Config]
}

func NewStore(path string, cfg *Config) *Store {
	s := &Store{path: path}
	s.cur.Store(cfg)
	return s
}

func (s *Store) Current() *Config {
	return s.cur.Load()
}

// Reload re-parses the file and swaps the snapshot.
func (s *Store) Reload() error {
	cfg, err := Load(s.path)
	if err != nil {
		return err
	}
	s.cur.Store(cfg)
	return nil
}
