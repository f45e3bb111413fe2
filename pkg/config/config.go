package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	// Server is the registry HTTP listener.
	Server struct {
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Relay struct {
		Address         string        `yaml:"address"`
		PingInterval    time.Duration `yaml:"ping_interval"`
		PongTimeout     time.Duration `yaml:"pong_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		SendQueueSize   int           `yaml:"send_queue_size"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
		InstanceID      string        `yaml:"instance_id"`
	} `yaml:"relay"`

	Registry struct {
		PublicURL           string `yaml:"public_url"`
		JoinPage            string `yaml:"join_page"`
		DefaultMaxAttendees int    `yaml:"default_max_attendees"`
		MediaRegion         string `yaml:"media_region"`
	} `yaml:"registry"`

	// Session configures the peer side MeetingSession.
	Session struct {
		RegistryURL      string        `yaml:"registry_url"`
		RelayURL         string        `yaml:"relay_url"`
		HostPollInterval time.Duration `yaml:"host_poll_interval"`
		QualityInterval  time.Duration `yaml:"quality_interval"`
		StateTTL         time.Duration `yaml:"state_ttl"`
		ReactionTTL      time.Duration `yaml:"reaction_ttl"`
		EventBuffer      int           `yaml:"event_buffer"`
		RemovalGrace     time.Duration `yaml:"removal_grace"`
		RegistryTimeout  time.Duration `yaml:"registry_timeout"`
	} `yaml:"session"`

	// Client tunes retries and the circuit breaker around registry calls.
	Client struct {
		RetryAttempts   int           `yaml:"retry_attempts"`
		RetryDelay      time.Duration `yaml:"retry_delay"`
		BreakerFailures int           `yaml:"breaker_failures"`
		BreakerCooldown time.Duration `yaml:"breaker_cooldown"`
		ProfileCacheTTL time.Duration `yaml:"profile_cache_ttl"`
	} `yaml:"client"`

	WebRTC struct {
		ICEServers []struct {
			URLs       []string `yaml:"urls"`
			Username   string   `yaml:"username,omitempty"`
			Credential string   `yaml:"credential,omitempty"`
		} `yaml:"ice_servers"`
		AudioInputs    []string      `yaml:"audio_inputs"`
		VideoInputs    []string      `yaml:"video_inputs"`
		HealthInterval time.Duration `yaml:"health_interval"`
	} `yaml:"webrtc"`

	Monitoring struct {
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
	} `yaml:"monitoring"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		PoolSize int    `yaml:"pool_size"`
	} `yaml:"redis"`

	Auth struct {
		JWTSecret      string        `yaml:"jwt_secret"`
		TicketTTL      time.Duration `yaml:"ticket_ttl"`
		AllowedOrigins []string      `yaml:"allowed_origins"`
	} `yaml:"auth"`

	RateLimiting struct {
		Enabled bool `yaml:"enabled"`

		HTTP struct {
			RequestsPerSecond float64 `yaml:"requests_per_second"`
			Burst             int     `yaml:"burst"`
			MaxConcurrent     int     `yaml:"max_concurrent"`
		} `yaml:"http"`

		WebSocket struct {
			MessagesPerSecond   float64 `yaml:"messages_per_second"`
			Burst               int     `yaml:"burst"`
			MaxMessageSizeBytes int64   `yaml:"max_message_size_bytes"`
		} `yaml:"websocket"`
	} `yaml:"rate_limiting"`

	Tracing struct {
		Enabled     bool    `yaml:"enabled"`
		ServiceName string  `yaml:"service_name"`
		JaegerURL   string  `yaml:"jaeger_url"`
		Environment string  `yaml:"environment"`
		SampleRate  float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	if c.Server.Address == "" {
		return fmt.Errorf("server.address must not be empty")
	}
	if c.Server.ReadTimeout <= 0 || c.Server.WriteTimeout <= 0 || c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server timeouts must be > 0")
	}

	if c.Relay.Address == "" {
		return fmt.Errorf("relay.address must not be empty")
	}
	if c.Relay.PingInterval <= 0 {
		return fmt.Errorf("relay.ping_interval must be > 0")
	}
	if c.Relay.PongTimeout <= c.Relay.PingInterval {
		return fmt.Errorf("relay.pong_timeout must be greater than relay.ping_interval")
	}
	if c.Relay.SendQueueSize <= 0 {
		return fmt.Errorf("relay.send_queue_size must be > 0")
	}

	if c.Registry.DefaultMaxAttendees <= 0 {
		return fmt.Errorf("registry.default_max_attendees must be > 0")
	}

	if c.Session.HostPollInterval <= 0 {
		return fmt.Errorf("session.host_poll_interval must be > 0")
	}
	if c.Session.QualityInterval <= 0 {
		return fmt.Errorf("session.quality_interval must be > 0")
	}
	if c.Session.StateTTL <= 0 || c.Session.ReactionTTL <= 0 {
		return fmt.Errorf("session message ttls must be > 0")
	}
	if c.Session.EventBuffer <= 0 {
		return fmt.Errorf("session.event_buffer must be > 0")
	}

	if c.Client.RetryAttempts < 0 {
		return fmt.Errorf("client.retry_attempts must be >= 0")
	}
	if c.Client.BreakerFailures <= 0 {
		return fmt.Errorf("client.breaker_failures must be > 0")
	}

	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	if c.Redis.Enabled {
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when redis.enabled=true")
		}
		if c.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis.pool_size must be > 0 when redis.enabled=true")
		}
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret must not be empty")
	}
	if c.Auth.TicketTTL <= 0 {
		return fmt.Errorf("auth.ticket_ttl must be > 0")
	}

	if c.RateLimiting.Enabled {
		if c.RateLimiting.HTTP.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.http.requests_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.Burst <= 0 {
			return fmt.Errorf("rate_limiting.http.burst must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.MaxConcurrent < 0 {
			return fmt.Errorf("rate_limiting.http.max_concurrent must be >= 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.MessagesPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.websocket.messages_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.Burst <= 0 {
			return fmt.Errorf("rate_limiting.websocket.burst must be > 0 when rate limiting is enabled")
		}
	}
	if c.RateLimiting.WebSocket.MaxMessageSizeBytes < 0 {
		return fmt.Errorf("rate_limiting.websocket.max_message_size_bytes must be >= 0")
	}

	if c.Tracing.Enabled {
		if c.Tracing.JaegerURL == "" {
			return fmt.Errorf("tracing.jaeger_url must not be empty when tracing.enabled=true")
		}
		if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
			return fmt.Errorf("tracing.sample_rate must be within [0, 1]")
		}
	}

	return nil
}

// Load reads configuration from YAML file, applies defaults and env overrides.
// A missing file yields the defaults.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(configPath)
	if os.IsNotExist(err) {
		cfg.applyEnvOverrides()
		return cfg, cfg.Validate()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadFirst tries each path in order and returns the first configuration that
// loads from an existing file, or the defaults when none exists.
func LoadFirst(paths ...string) (*Config, string, error) {
	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		cfg, err := Load(path)
		return cfg, path, err
	}
	cfg := DefaultConfig()
	cfg.applyEnvOverrides()
	return cfg, "", cfg.Validate()
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.Address = ":8080"
	cfg.Server.ReadTimeout = 15 * time.Second
	cfg.Server.WriteTimeout = 15 * time.Second
	cfg.Server.ShutdownTimeout = 15 * time.Second

	cfg.Relay.Address = ":8081"
	cfg.Relay.PingInterval = 20 * time.Second
	cfg.Relay.PongTimeout = 45 * time.Second
	cfg.Relay.WriteTimeout = 5 * time.Second
	cfg.Relay.SendQueueSize = 64
	cfg.Relay.ShutdownTimeout = 10 * time.Second

	cfg.Registry.PublicURL = "http://localhost:8080"
	cfg.Registry.JoinPage = "/meeting.html"
	cfg.Registry.DefaultMaxAttendees = 10
	cfg.Registry.MediaRegion = "local"

	cfg.Session.RegistryURL = "http://localhost:8080"
	cfg.Session.RelayURL = "ws://localhost:8081/ws"
	cfg.Session.HostPollInterval = 15 * time.Second
	cfg.Session.QualityInterval = 2 * time.Second
	cfg.Session.StateTTL = 5 * time.Second
	cfg.Session.ReactionTTL = time.Second
	cfg.Session.EventBuffer = 256
	cfg.Session.RemovalGrace = time.Second
	cfg.Session.RegistryTimeout = 5 * time.Second

	cfg.Client.RetryAttempts = 2
	cfg.Client.RetryDelay = 200 * time.Millisecond
	cfg.Client.BreakerFailures = 5
	cfg.Client.BreakerCooldown = 30 * time.Second
	cfg.Client.ProfileCacheTTL = 30 * time.Second

	cfg.WebRTC.AudioInputs = []string{"default"}
	cfg.WebRTC.VideoInputs = []string{"default"}
	cfg.WebRTC.HealthInterval = time.Second

	cfg.Monitoring.PrometheusEnabled = true

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Redis.Enabled = false
	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.PoolSize = 10

	cfg.Auth.JWTSecret = "change-me-in-production"
	cfg.Auth.TicketTTL = 12 * time.Hour
	cfg.Auth.AllowedOrigins = []string{"*"}

	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.HTTP.RequestsPerSecond = 50
	cfg.RateLimiting.HTTP.Burst = 100
	cfg.RateLimiting.WebSocket.MessagesPerSecond = 50
	cfg.RateLimiting.WebSocket.Burst = 100
	cfg.RateLimiting.WebSocket.MaxMessageSizeBytes = 16 * 1024

	cfg.Tracing.Enabled = false
	cfg.Tracing.ServiceName = "meetsync"
	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.Environment = "development"
	cfg.Tracing.SampleRate = 1.0

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("MEETSYNC_SERVER_ADDRESS"); v != "" {
		c.Server.Address = v
	}
	if v := os.Getenv("MEETSYNC_RELAY_ADDRESS"); v != "" {
		c.Relay.Address = v
	}
	if v := os.Getenv("MEETSYNC_PUBLIC_URL"); v != "" {
		c.Registry.PublicURL = v
	}
	if v := os.Getenv("MEETSYNC_REGISTRY_URL"); v != "" {
		c.Session.RegistryURL = v
	}
	if v := os.Getenv("MEETSYNC_RELAY_URL"); v != "" {
		c.Session.RelayURL = v
	}
	if v := os.Getenv("MEETSYNC_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("MEETSYNC_JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}
	if v := os.Getenv("MEETSYNC_REDIS_ADDRESS"); v != "" {
		c.Redis.Address = v
		c.Redis.Enabled = true
	}
	if v := os.Getenv("MEETSYNC_TRACING_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			c.Tracing.Enabled = enabled
		}
	}
}
