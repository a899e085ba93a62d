package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
	Runtime   RuntimeConfig
	Fetch     FetchConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8000"`
	Host string `envconfig:"HOST" default:"0.0.0.0"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds rate limiting configuration for the host API.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// RuntimeConfig holds execution context and supervision settings.
type RuntimeConfig struct {
	// MainModule is the specifier of the long-lived main context. Empty
	// disables the main context entirely.
	MainModule string `envconfig:"RUNTIME_MAIN_MODULE" default:"agentos:std/main"`
	// StageDir receives temp files holding task code while it runs.
	StageDir       string        `envconfig:"RUNTIME_STAGE_DIR" default:""`
	MaxPromptBytes int           `envconfig:"RUNTIME_MAX_PROMPT_BYTES" default:"10240"`
	MaxRetries     int           `envconfig:"RUNTIME_MAX_RETRIES" default:"5"`
	RetryBackoff   time.Duration `envconfig:"RUNTIME_RETRY_BACKOFF" default:"1s"`
	// AllowRead lists doublestar globs readable without a prompt.
	AllowRead    []string `envconfig:"RUNTIME_ALLOW_READ"`
	MaxCallStack int      `envconfig:"RUNTIME_MAX_CALL_STACK" default:"1024"`
}

// FetchConfig holds remote module and host.fetch transport settings.
type FetchConfig struct {
	Timeout   time.Duration `envconfig:"FETCH_TIMEOUT" default:"30s"`
	Retries   int           `envconfig:"FETCH_RETRIES" default:"3"`
	RateLimit float64       `envconfig:"FETCH_RATE_LIMIT" default:"0"`
	UserAgent string        `envconfig:"FETCH_USER_AGENT" default:"AgentOS-ScriptHost/1.0"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Validate rejects settings the runtime cannot operate with.
func (c *Config) Validate() error {
	if c.Runtime.MaxPromptBytes <= 0 {
		return fmt.Errorf("RUNTIME_MAX_PROMPT_BYTES must be positive, got %d", c.Runtime.MaxPromptBytes)
	}
	if c.Runtime.MaxRetries < 0 {
		return fmt.Errorf("RUNTIME_MAX_RETRIES must not be negative, got %d", c.Runtime.MaxRetries)
	}
	if c.Runtime.RetryBackoff < 0 {
		return fmt.Errorf("RUNTIME_RETRY_BACKOFF must not be negative, got %s", c.Runtime.RetryBackoff)
	}
	return nil
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8000",
			Host: "0.0.0.0",
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
		Runtime: RuntimeConfig{
			MainModule:     "agentos:std/main",
			MaxPromptBytes: 10 * 1024,
			MaxRetries:     5,
			RetryBackoff:   time.Second,
			MaxCallStack:   1024,
		},
		Fetch: FetchConfig{
			Timeout:   30 * time.Second,
			Retries:   3,
			UserAgent: "AgentOS-ScriptHost/1.0",
		},
	}
}
