// ABOUTME: Configuration loading and parsing for redub
// ABOUTME: Supports YAML or TOML files with environment variable expansion, duration parsing and REDUB_ overrides

package config

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. REDUB_CHANNEL_TIMEOUT.
const EnvPrefix = "REDUB_"

// Config represents the complete redub configuration
type Config struct {
	Channel    ChannelConfig    `yaml:"channel" toml:"channel" envPrefix:"CHANNEL_"`
	Transports TransportsConfig `yaml:"transports" toml:"transports" envPrefix:"TRANSPORTS_"`
	Relay      RelayConfig      `yaml:"relay" toml:"relay" envPrefix:"RELAY_"`
	Logging    LoggingConfig    `yaml:"logging" toml:"logging" envPrefix:"LOG_"`
	Metrics    MetricsConfig    `yaml:"metrics" toml:"metrics" envPrefix:"METRICS_"`
}

// ChannelConfig holds the channel's dedup settings
type ChannelConfig struct {
	// Timeout is the dedup window and sweep period. Zero disables expiry.
	Timeout          time.Duration `yaml:"-" toml:"-" env:"TIMEOUT"`
	MaxEntries       int           `yaml:"max_entries" toml:"max_entries" env:"MAX_ENTRIES"`
	SubscriberBuffer int           `yaml:"subscriber_buffer" toml:"subscriber_buffer" env:"SUBSCRIBER_BUFFER"`

	TimeoutRaw string `yaml:"timeout" toml:"timeout"`
}

// TransportsConfig selects the transports a node attaches to its channel
type TransportsConfig struct {
	Memory MemoryConfig `yaml:"memory" toml:"memory" envPrefix:"MEMORY_"`
	Redis  RedisConfig  `yaml:"redis" toml:"redis" envPrefix:"REDIS_"`
	Relay  RelayClient  `yaml:"relay" toml:"relay" envPrefix:"RELAY_"`
	SQLite SQLiteConfig `yaml:"sqlite" toml:"sqlite" envPrefix:"SQLITE_"`
}

// MemoryConfig holds the in-process loopback transport settings
type MemoryConfig struct {
	Enabled bool `yaml:"enabled" toml:"enabled" env:"ENABLED"`
}

// RedisConfig holds Redis pub/sub transport settings
type RedisConfig struct {
	Enabled        bool          `yaml:"enabled" toml:"enabled" env:"ENABLED"`
	URL            string        `yaml:"url" toml:"url" env:"URL"`
	Topic          string        `yaml:"topic" toml:"topic" env:"TOPIC"`
	RetryAttempts  int           `yaml:"retry_attempts" toml:"retry_attempts" env:"RETRY_ATTEMPTS"`
	ConnectTimeout time.Duration `yaml:"-" toml:"-" env:"CONNECT_TIMEOUT"`
	RetryInterval  time.Duration `yaml:"-" toml:"-" env:"RETRY_INTERVAL"`

	ConnectTimeoutRaw string `yaml:"connect_timeout" toml:"connect_timeout"`
	RetryIntervalRaw  string `yaml:"retry_interval" toml:"retry_interval"`
}

// RelayClient holds the relay client transport settings. One transport is
// created per address.
type RelayClient struct {
	Enabled bool     `yaml:"enabled" toml:"enabled" env:"ENABLED"`
	Addrs   []string `yaml:"addrs,omitempty" toml:"addrs" env:"ADDRS"`
	Token   string   `yaml:"token" toml:"token" env:"TOKEN"`
}

// SQLiteConfig holds the SQLite mailbox transport settings
type SQLiteConfig struct {
	Enabled      bool          `yaml:"enabled" toml:"enabled" env:"ENABLED"`
	Path         string        `yaml:"path" toml:"path" env:"PATH"`
	PollInterval time.Duration `yaml:"-" toml:"-" env:"POLL_INTERVAL"`
	Retention    time.Duration `yaml:"-" toml:"-" env:"RETENTION"`

	PollIntervalRaw string `yaml:"poll_interval" toml:"poll_interval"`
	RetentionRaw    string `yaml:"retention" toml:"retention"`
}

// RelayConfig holds relay server settings for `redub relay`
type RelayConfig struct {
	GRPCAddr  string `yaml:"grpc_addr" toml:"grpc_addr" env:"GRPC_ADDR"`
	HTTPAddr  string `yaml:"http_addr" toml:"http_addr" env:"HTTP_ADDR"`
	JWTSecret string `yaml:"jwt_secret" toml:"jwt_secret" env:"JWT_SECRET"`

	Tailscale TailscaleConfig `yaml:"tailscale" toml:"tailscale" envPrefix:"TAILSCALE_"`
}

// TailscaleConfig serves the relay on a tailnet via tsnet instead of the
// host network. Only the ports of grpc_addr and http_addr are used.
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled" env:"ENABLED"`
	Hostname  string `yaml:"hostname" toml:"hostname" env:"HOSTNAME"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key" env:"AUTH_KEY"` // falls back to TS_AUTHKEY
	StateDir  string `yaml:"state_dir" toml:"state_dir" env:"STATE_DIR"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral" env:"EPHEMERAL"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level" env:"LEVEL"`
	Format string `yaml:"format" toml:"format" env:"FORMAT"`
}

// MetricsConfig toggles the OpenTelemetry recorder
type MetricsConfig struct {
	Enabled bool `yaml:"enabled" toml:"enabled" env:"ENABLED"`
}

// Default returns the configuration used when no file is present: a single
// memory transport, a 10s dedup window, and text logging at info.
func Default() *Config {
	return &Config{
		Channel: ChannelConfig{
			Timeout:          10 * time.Second,
			TimeoutRaw:       "10s",
			SubscriberBuffer: 64,
		},
		Transports: TransportsConfig{
			Memory: MemoryConfig{Enabled: true},
			Redis: RedisConfig{
				URL:               "redis://localhost:6379/0",
				Topic:             "redub",
				RetryAttempts:     3,
				ConnectTimeout:    30 * time.Second,
				ConnectTimeoutRaw: "30s",
				RetryInterval:     5 * time.Second,
				RetryIntervalRaw:  "5s",
			},
			SQLite: SQLiteConfig{
				Path:            "~/.local/share/redub/mailbox.db",
				PollInterval:    100 * time.Millisecond,
				PollIntervalRaw: "100ms",
				Retention:       time.Minute,
				RetentionRaw:    "1m",
			},
		},
		Relay: RelayConfig{
			GRPCAddr: "0.0.0.0:50061",
			HTTPAddr: "0.0.0.0:8061",
			Tailscale: TailscaleConfig{
				Hostname: "redub-relay",
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are parsed as TOML, everything else as YAML. Keys
// missing from the file keep their Default values.
// Environment variables in the format ${VAR_NAME} are expanded, then
// REDUB_-prefixed variables override individual fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	cfg := Default()
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if err := toml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromEnv returns Default with REDUB_ overrides applied, for running without a file.
func FromEnv() (*Config, error) {
	cfg := Default()
	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) finish() error {
	if err := parseDurations(c); err != nil {
		return fmt.Errorf("parsing durations: %w", err)
	}

	if err := env.ParseWithOptions(c, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("applying environment overrides: %w", err)
	}

	if err := c.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}
	return nil
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
	if c.Channel.Timeout < 0 {
		return fmt.Errorf("channel.timeout must not be negative")
	}
	if c.Channel.MaxEntries < 0 {
		return fmt.Errorf("channel.max_entries must not be negative")
	}

	t := c.Transports
	if t.Redis.Enabled {
		if t.Redis.URL == "" {
			return fmt.Errorf("transports.redis.url is required when redis is enabled")
		}
		if t.Redis.Topic == "" {
			return fmt.Errorf("transports.redis.topic is required when redis is enabled")
		}
	}
	if t.Relay.Enabled && len(t.Relay.Addrs) == 0 {
		return fmt.Errorf("transports.relay.addrs is required when relay is enabled")
	}
	if t.SQLite.Enabled && t.SQLite.Path == "" {
		return fmt.Errorf("transports.sqlite.path is required when sqlite is enabled")
	}

	// Tailscale listeners reuse the configured ports
	if c.Relay.Tailscale.Enabled {
		if c.Relay.Tailscale.Hostname == "" {
			return fmt.Errorf("relay.tailscale.hostname is required when tailscale is enabled")
		}
		for name, addr := range map[string]string{"relay.grpc_addr": c.Relay.GRPCAddr, "relay.http_addr": c.Relay.HTTPAddr} {
			if _, _, err := net.SplitHostPort(addr); err != nil {
				return fmt.Errorf("%s %q must include a port when tailscale is enabled: %w", name, addr, err)
			}
		}
	}

	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format %q is not text or json", c.Logging.Format)
	}

	return nil
}

// SlogLevel maps the configured level to a slog.Level, defaulting to info.
func (l LoggingConfig) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ExpandPath replaces a leading ~ with the user's home directory.
func ExpandPath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}

// Marshal renders c as YAML, the format written by `redub init`.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"channel.timeout", cfg.Channel.TimeoutRaw, &cfg.Channel.Timeout},
		{"transports.redis.connect_timeout", cfg.Transports.Redis.ConnectTimeoutRaw, &cfg.Transports.Redis.ConnectTimeout},
		{"transports.redis.retry_interval", cfg.Transports.Redis.RetryIntervalRaw, &cfg.Transports.Redis.RetryInterval},
		{"transports.sqlite.poll_interval", cfg.Transports.SQLite.PollIntervalRaw, &cfg.Transports.SQLite.PollInterval},
		{"transports.sqlite.retention", cfg.Transports.SQLite.RetentionRaw, &cfg.Transports.SQLite.Retention},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	return nil
}
