// ABOUTME: Configuration loading and parsing for strand-server
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete strand-server configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Stream   StreamConfig   `yaml:"stream"`
	History  HistoryConfig  `yaml:"history"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`

	// TokenTTL controls how long minted login tokens stay valid.
	TokenTTL    time.Duration `yaml:"-"`
	TokenTTLRaw string        `yaml:"token_ttl"`

	// AllowRegistration enables the self-service /api/register endpoint.
	// Leave disabled when an external identity service owns signup.
	AllowRegistration bool `yaml:"allow_registration"`
}

// StreamConfig holds live-channel tuning
type StreamConfig struct {
	// SessionBuffer is the per-session event buffer. A session whose buffer
	// is full misses events until it drains (at-most-once push).
	SessionBuffer int `yaml:"session_buffer"`

	KeepaliveInterval    time.Duration `yaml:"-"`
	KeepaliveIntervalRaw string        `yaml:"keepalive_interval"`
}

// HistoryConfig holds pagination bounds
type HistoryConfig struct {
	DefaultPageSize int `yaml:"default_page_size"`
	MaxPageSize     int `yaml:"max_page_size"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Defaults applied when fields are unset.
const (
	defaultTokenTTL          = 24 * time.Hour
	defaultSessionBuffer     = 64
	defaultKeepaliveInterval = 30 * time.Second
	defaultPageSize          = 20
	defaultMaxPageSize       = 200
)

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.parseDurations(); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} and ${VAR_NAME:-default} patterns with
// the corresponding environment variable values. An unset variable expands to
// its default when one is given, otherwise to an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		expr := re.FindStringSubmatch(match)[1]

		varName, fallback, hasFallback := strings.Cut(expr, ":-")
		if value := os.Getenv(varName); value != "" {
			return value
		}
		if hasFallback {
			return fallback
		}
		return ""
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}

	if c.History.DefaultPageSize > c.History.MaxPageSize {
		return fmt.Errorf("history.default_page_size exceeds history.max_page_size")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func (c *Config) parseDurations() error {
	var err error

	if c.Auth.TokenTTLRaw != "" {
		c.Auth.TokenTTL, err = time.ParseDuration(c.Auth.TokenTTLRaw)
		if err != nil {
			return fmt.Errorf("parsing token_ttl %q: %w", c.Auth.TokenTTLRaw, err)
		}
	}

	if c.Stream.KeepaliveIntervalRaw != "" {
		c.Stream.KeepaliveInterval, err = time.ParseDuration(c.Stream.KeepaliveIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing keepalive_interval %q: %w", c.Stream.KeepaliveIntervalRaw, err)
		}
	}

	return nil
}

// applyDefaults fills in zero-valued tunables
func (c *Config) applyDefaults() {
	if c.Auth.TokenTTL == 0 {
		c.Auth.TokenTTL = defaultTokenTTL
	}
	if c.Stream.SessionBuffer == 0 {
		c.Stream.SessionBuffer = defaultSessionBuffer
	}
	if c.Stream.KeepaliveInterval == 0 {
		c.Stream.KeepaliveInterval = defaultKeepaliveInterval
	}
	if c.History.DefaultPageSize == 0 {
		c.History.DefaultPageSize = defaultPageSize
	}
	if c.History.MaxPageSize == 0 {
		c.History.MaxPageSize = defaultMaxPageSize
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}
