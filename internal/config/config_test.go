package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
	if cfg.RateLimit.Window != 15*time.Minute || cfg.RateLimit.MaxRequests != 100 {
		t.Errorf("rate limit defaults = %v/%d", cfg.RateLimit.Window, cfg.RateLimit.MaxRequests)
	}
	if cfg.FreeTier.Limit != 100 {
		t.Errorf("free tier default = %d", cfg.FreeTier.Limit)
	}
	if cfg.Auth.SessionTTL != 7*24*time.Hour {
		t.Errorf("session ttl default = %v", cfg.Auth.SessionTTL)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "8088")
	t.Setenv("RATE_LIMIT_WINDOW_MS", "60000")
	t.Setenv("FREE_TIER_TOKEN_LIMIT", "250")
	t.Setenv("AI_PROVIDER", "custom")
	t.Setenv("CUSTOM_API_BASE_URL", "https://llm.internal")
	t.Setenv("CUSTOM_API_KEY", "k")
	t.Setenv("CUSTOM_MODEL", "local-model")
	t.Setenv("CORS_ORIGIN", "https://a.example, https://b.example")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Server.Port != 8088 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	if cfg.RateLimit.Window != time.Minute {
		t.Errorf("window = %v", cfg.RateLimit.Window)
	}
	if cfg.FreeTier.Limit != 250 {
		t.Errorf("free tier = %d", cfg.FreeTier.Limit)
	}
	if cfg.Provider.Kind != "custom" || cfg.Provider.BaseURL != "https://llm.internal" || cfg.Provider.Model != "local-model" {
		t.Errorf("provider = %+v", cfg.Provider)
	}
	if len(cfg.Server.CORSOrigins) != 2 || cfg.Server.CORSOrigins[1] != "https://b.example" {
		t.Errorf("cors origins = %v", cfg.Server.CORSOrigins)
	}
}

func TestYAMLFileWithEnvOnTop(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := []byte("server:\n  port: 7000\nlog:\n  level: debug\n")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("PORT", "7100")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 7100 {
		t.Errorf("port = %d, want env to override file", cfg.Server.Port)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("log level = %q, want file value", cfg.Log.Level)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero port", func(c *Config) { c.Server.Port = 0 }},
		{"weak bcrypt", func(c *Config) { c.Auth.BcryptCost = 4 }},
		{"zero window", func(c *Config) { c.RateLimit.Window = 0 }},
		{"zero budget", func(c *Config) { c.FreeTier.Limit = 0 }},
		{"unknown provider", func(c *Config) { c.Provider.Kind = "psychic" }},
		{"redis without addr", func(c *Config) { c.Counter.Backend = "redis" }},
		{"default secret in production", func(c *Config) { c.Server.Production = true }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("invalid config accepted")
			}
		})
	}
}
