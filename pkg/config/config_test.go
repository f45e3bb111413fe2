package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should be valid, got: %v", err)
	}
	if cfg.Session.HostPollInterval != 15*time.Second {
		t.Fatalf("expected 15s host poll interval, got %v", cfg.Session.HostPollInterval)
	}
	if cfg.Session.StateTTL != 5*time.Second || cfg.Session.ReactionTTL != time.Second {
		t.Fatalf("unexpected message ttls: state=%v reaction=%v", cfg.Session.StateTTL, cfg.Session.ReactionTTL)
	}
}

func TestValidate_RateLimitingDisabled_AllowsZeroValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.HTTP.RequestsPerSecond = 0
	cfg.RateLimiting.HTTP.Burst = 0
	cfg.RateLimiting.WebSocket.MessagesPerSecond = 0
	cfg.RateLimiting.WebSocket.Burst = 0

	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected config to be valid when rate limiting disabled, got error: %v", err)
	}
}

func TestValidate_InvalidValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty server address", func(c *Config) { c.Server.Address = "" }},
		{"pong not after ping", func(c *Config) { c.Relay.PongTimeout = c.Relay.PingInterval }},
		{"zero send queue", func(c *Config) { c.Relay.SendQueueSize = 0 }},
		{"zero max attendees", func(c *Config) { c.Registry.DefaultMaxAttendees = 0 }},
		{"zero host poll", func(c *Config) { c.Session.HostPollInterval = 0 }},
		{"zero quality interval", func(c *Config) { c.Session.QualityInterval = 0 }},
		{"zero reaction ttl", func(c *Config) { c.Session.ReactionTTL = 0 }},
		{"negative retries", func(c *Config) { c.Client.RetryAttempts = -1 }},
		{"empty jwt secret", func(c *Config) { c.Auth.JWTSecret = "" }},
		{"redis without address", func(c *Config) {
			c.Redis.Enabled = true
			c.Redis.Address = ""
		}},
		{"http rps with limiter on", func(c *Config) {
			c.RateLimiting.Enabled = true
			c.RateLimiting.HTTP.RequestsPerSecond = 0
		}},
		{"ws burst with limiter on", func(c *Config) {
			c.RateLimiting.Enabled = true
			c.RateLimiting.WebSocket.Burst = 0
		}},
		{"sample rate above one", func(c *Config) {
			c.Tracing.Enabled = true
			c.Tracing.SampleRate = 1.5
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error for case %q, got nil", tc.name)
			}
		})
	}
}

func TestLoad_MissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Address != ":8080" {
		t.Fatalf("expected default address, got %q", cfg.Server.Address)
	}
}

func TestLoad_YAMLAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := []byte(`
server:
  address: ":9000"
session:
  host_poll_interval: 30s
registry:
  default_max_attendees: 25
`)
	if err := os.WriteFile(path, yaml, 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("MEETSYNC_LOG_LEVEL", "debug")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Address != ":9000" {
		t.Fatalf("expected yaml address, got %q", cfg.Server.Address)
	}
	if cfg.Session.HostPollInterval != 30*time.Second {
		t.Fatalf("expected 30s poll, got %v", cfg.Session.HostPollInterval)
	}
	if cfg.Registry.DefaultMaxAttendees != 25 {
		t.Fatalf("expected 25 max attendees, got %d", cfg.Registry.DefaultMaxAttendees)
	}
	if cfg.Session.StateTTL != 5*time.Second {
		t.Fatalf("unset fields should keep defaults, got %v", cfg.Session.StateTTL)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("expected env override, got %q", cfg.Logging.Level)
	}
}

func TestLoad_InvalidYAMLRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("relay:\n  send_queue_size: 0\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestLoad_SampleConfigMatchesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "configs", "config.yaml"))
	if err != nil {
		t.Fatalf("sample config should load, got: %v", err)
	}
	def := DefaultConfig()
	if cfg.Relay.PingInterval != def.Relay.PingInterval || cfg.Relay.SendQueueSize != def.Relay.SendQueueSize {
		t.Fatalf("relay settings drifted from defaults: %+v", cfg.Relay)
	}
	if cfg.Session.HostPollInterval != def.Session.HostPollInterval || cfg.Client.ProfileCacheTTL != def.Client.ProfileCacheTTL {
		t.Fatalf("session settings drifted from defaults")
	}
	if len(cfg.WebRTC.ICEServers) != 1 || len(cfg.WebRTC.AudioInputs) != 1 {
		t.Fatalf("expected one ice server and one audio input, got %+v", cfg.WebRTC)
	}
}
