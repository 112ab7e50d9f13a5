// ABOUTME: Configuration loading and parsing for transit-gateway.
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing.

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete transit-gateway configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	Sessions  SessionsConfig  `yaml:"sessions"`
	Transport TransportConfig `yaml:"transport"`
	MTR       MTRConfig       `yaml:"mtr"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
	// BaseURL is the externally visible URL used in the legacy
	// rendezvous event. Defaults to empty (relative paths).
	BaseURL string `yaml:"base_url"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Hostname  string `yaml:"hostname"`
	AuthKey   string `yaml:"auth_key"`
	StateDir  string `yaml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral"`
	Funnel    bool   `yaml:"funnel"` // Enable public Funnel (implies HTTPS)
}

// DatabaseConfig holds usage database configuration. An empty path
// disables usage recording.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds authentication configuration. Mode selects the
// verifier: "none" (default), "jwt", or "token".
type AuthConfig struct {
	Mode      string `yaml:"mode"`
	JWTSecret string `yaml:"jwt_secret"`
	TokenHash string `yaml:"token_hash"` // bcrypt hash of the pre-shared token
}

// SessionsConfig holds session sweep configuration
type SessionsConfig struct {
	SweepInterval time.Duration `yaml:"-"`
	MaxIdle       time.Duration `yaml:"-"`

	SweepIntervalRaw string `yaml:"sweep_interval"`
	MaxIdleRaw       string `yaml:"max_idle"`
}

// TransportConfig holds wire-level timing configuration
type TransportConfig struct {
	HandshakeTimeout  time.Duration `yaml:"-"`
	HeartbeatInterval time.Duration `yaml:"-"`

	HandshakeTimeoutRaw  string `yaml:"handshake_timeout"`
	HeartbeatIntervalRaw string `yaml:"heartbeat_interval"`
}

// MTRConfig holds the domain pack configuration
type MTRConfig struct {
	// APIBaseURL overrides the real-time schedule API endpoint.
	APIBaseURL string `yaml:"api_base_url"`
	// AliasFile optionally overlays extra station/line aliases (TOML).
	AliasFile string `yaml:"alias_file"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Defaults applied when the corresponding raw values are absent.
const (
	DefaultSweepInterval     = 5 * time.Minute
	DefaultMaxIdle           = time.Hour
	DefaultHandshakeTimeout  = 10 * time.Second
	DefaultHeartbeatInterval = 30 * time.Second
)

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	// Server address is required unless Tailscale is enabled
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}

	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	switch c.Auth.Mode {
	case "", "none":
	case "jwt":
		if c.Auth.JWTSecret == "" {
			return fmt.Errorf("auth.jwt_secret is required when auth.mode is jwt")
		}
	case "token":
		if c.Auth.TokenHash == "" {
			return fmt.Errorf("auth.token_hash is required when auth.mode is token")
		}
	default:
		return fmt.Errorf("auth.mode must be one of none, jwt, token (got %q)", c.Auth.Mode)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	durations := []struct {
		raw  string
		dst  *time.Duration
		name string
	}{
		{cfg.Sessions.SweepIntervalRaw, &cfg.Sessions.SweepInterval, "sweep_interval"},
		{cfg.Sessions.MaxIdleRaw, &cfg.Sessions.MaxIdle, "max_idle"},
		{cfg.Transport.HandshakeTimeoutRaw, &cfg.Transport.HandshakeTimeout, "handshake_timeout"},
		{cfg.Transport.HeartbeatIntervalRaw, &cfg.Transport.HeartbeatInterval, "heartbeat_interval"},
	}

	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", d.name, d.raw, err)
		}
		*d.dst = parsed
	}

	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Sessions.SweepInterval == 0 {
		cfg.Sessions.SweepInterval = DefaultSweepInterval
	}
	if cfg.Sessions.MaxIdle == 0 {
		cfg.Sessions.MaxIdle = DefaultMaxIdle
	}
	if cfg.Transport.HandshakeTimeout == 0 {
		cfg.Transport.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if cfg.Transport.HeartbeatInterval == 0 {
		cfg.Transport.HeartbeatInterval = DefaultHeartbeatInterval
	}
}
