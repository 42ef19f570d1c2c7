// Package config loads service configuration from a YAML file and the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all service configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	FreeTier  FreeTierConfig  `yaml:"free_tier"`
	Provider  ProviderConfig  `yaml:"provider"`
	Counter   CounterConfig   `yaml:"counter"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port        int      `yaml:"port"`
	Production  bool     `yaml:"production"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// DatabaseConfig holds Postgres settings.
type DatabaseConfig struct {
	URL            string        `yaml:"url"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// AuthConfig holds session and password hashing settings.
type AuthConfig struct {
	JWTSecret  string        `yaml:"jwt_secret"`
	SessionTTL time.Duration `yaml:"session_ttl"`
	BcryptCost int           `yaml:"bcrypt_cost"`
}

// RateLimitConfig holds sliding-window rate limiter settings.
type RateLimitConfig struct {
	Window      time.Duration `yaml:"window"`
	MaxRequests int           `yaml:"max_requests"`
}

// FreeTierConfig holds the anonymous token budget settings.
type FreeTierConfig struct {
	Limit int `yaml:"limit"`
}

// ProviderConfig holds AI provider settings.
type ProviderConfig struct {
	Kind    string        `yaml:"kind"` // "hosted" or "custom"
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`
}

// CounterConfig selects the backing store for rate/budget counters.
type CounterConfig struct {
	Backend   string `yaml:"backend"` // "memory" or "redis"
	RedisAddr string `yaml:"redis_addr"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: 5000,
		},
		Database: DatabaseConfig{
			ConnectTimeout: 5 * time.Second,
		},
		Auth: AuthConfig{
			JWTSecret:  "dev-secret-change",
			SessionTTL: 7 * 24 * time.Hour,
			BcryptCost: 10,
		},
		RateLimit: RateLimitConfig{
			Window:      15 * time.Minute,
			MaxRequests: 100,
		},
		FreeTier: FreeTierConfig{
			Limit: 100,
		},
		Provider: ProviderConfig{
			Kind:    "hosted",
			Model:   "gpt-4-mini",
			Timeout: 30 * time.Second,
		},
		Counter: CounterConfig{
			Backend: "memory",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads configuration from an optional YAML file, then applies
// environment overrides on top of defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromEnv builds configuration from defaults plus environment variables only.
func FromEnv() (*Config, error) {
	return Load("")
}

func (c *Config) applyEnv() {
	c.Server.Port = envInt("PORT", c.Server.Port)
	if v := os.Getenv("NODE_ENV"); v == "production" {
		c.Server.Production = true
	}
	if v := os.Getenv("CORS_ORIGIN"); v != "" {
		c.Server.CORSOrigins = splitAndTrim(v)
	}

	c.Database.URL = envString("DATABASE_URL", c.Database.URL)
	c.Database.ConnectTimeout = envDuration("DB_CONNECT_TIMEOUT", c.Database.ConnectTimeout)

	c.Auth.JWTSecret = envString("JWT_SECRET", c.Auth.JWTSecret)
	c.Auth.SessionTTL = envDuration("JWT_EXPIRES_IN", c.Auth.SessionTTL)
	c.Auth.BcryptCost = envInt("BCRYPT_COST", c.Auth.BcryptCost)

	if v := envInt("RATE_LIMIT_WINDOW_MS", 0); v > 0 {
		c.RateLimit.Window = time.Duration(v) * time.Millisecond
	}
	c.RateLimit.MaxRequests = envInt("RATE_LIMIT_MAX_REQUESTS", c.RateLimit.MaxRequests)

	c.FreeTier.Limit = envInt("FREE_TIER_TOKEN_LIMIT", c.FreeTier.Limit)

	c.Provider.Kind = envString("AI_PROVIDER", c.Provider.Kind)
	switch c.Provider.Kind {
	case "custom":
		c.Provider.BaseURL = envString("CUSTOM_API_BASE_URL", c.Provider.BaseURL)
		c.Provider.APIKey = envString("CUSTOM_API_KEY", c.Provider.APIKey)
		c.Provider.Model = envString("CUSTOM_MODEL", c.Provider.Model)
	default:
		c.Provider.BaseURL = envString("OPENAI_BASE_URL", c.Provider.BaseURL)
		c.Provider.APIKey = envString("OPENAI_API_KEY", c.Provider.APIKey)
		c.Provider.Model = envString("OPENAI_MODEL", c.Provider.Model)
	}

	c.Counter.Backend = envString("COUNTER_BACKEND", c.Counter.Backend)
	c.Counter.RedisAddr = envString("REDIS_ADDR", c.Counter.RedisAddr)

	c.Log.Level = envString("LOG_LEVEL", c.Log.Level)
	c.Log.Format = envString("LOG_FORMAT", c.Log.Format)
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Auth.BcryptCost < 10 {
		return fmt.Errorf("bcrypt cost must be at least 10, got %d", c.Auth.BcryptCost)
	}
	if c.RateLimit.Window <= 0 || c.RateLimit.MaxRequests <= 0 {
		return fmt.Errorf("rate limit window and max requests must be positive")
	}
	if c.FreeTier.Limit <= 0 {
		return fmt.Errorf("free tier limit must be positive")
	}
	switch c.Provider.Kind {
	case "hosted", "custom":
	default:
		return fmt.Errorf("unknown provider kind: %q", c.Provider.Kind)
	}
	switch c.Counter.Backend {
	case "memory":
	case "redis":
		if c.Counter.RedisAddr == "" {
			return fmt.Errorf("redis counter backend requires REDIS_ADDR")
		}
	default:
		return fmt.Errorf("unknown counter backend: %q", c.Counter.Backend)
	}
	if c.Server.Production && c.Auth.JWTSecret == "dev-secret-change" {
		return fmt.Errorf("JWT_SECRET must be set in production")
	}
	return nil
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
