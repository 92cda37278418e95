// Package config defines the top-level configuration for the bridge and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kestrelfx/sigbridge/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by SIGBRIDGE_* environment variables.
type Config struct {
	Terminals []TerminalConfig `toml:"terminals"`
	Router    RouterConfig     `toml:"router"`
	Health    HealthConfig     `toml:"health"`
	Auth      AuthConfig       `toml:"auth"`
	Postgres  PostgresConfig   `toml:"postgres"`
	Redis     RedisConfig      `toml:"redis"`
	Archive   ArchiveConfig    `toml:"archive"`
	Server    ServerConfig     `toml:"server"`
	Collab    CollabConfig     `toml:"collab"`
	Notify    NotifyConfig     `toml:"notify"`
	Mode      string           `toml:"mode"`
	LogLevel  string           `toml:"log_level"`
}

// TerminalConfig describes one execution terminal in the fleet.
type TerminalConfig struct {
	ID       string `toml:"id"`
	Pool     string `toml:"pool"`
	Broker   string `toml:"broker"`
	Kind     string `toml:"kind"` // "network" or "file"
	Address  string `toml:"address"`
	DropDir  string `toml:"drop_dir"`
	Feed     string `toml:"feed"`
	Capacity int    `toml:"capacity"`
}

// Terminal converts the config entry to a domain.Terminal seed.
func (t TerminalConfig) Terminal() domain.Terminal {
	return domain.Terminal{
		ID:       t.ID,
		Pool:     domain.Pool(t.Pool),
		Broker:   t.Broker,
		Kind:     domain.TransportKind(t.Kind),
		Address:  t.Address,
		DropDir:  t.DropDir,
		Feed:     t.Feed,
		Capacity: t.Capacity,
	}
}

// RouterConfig holds signal delivery parameters.
type RouterConfig struct {
	MaxFailovers          int      `toml:"max_failovers"`
	MaxRetriesPerTerminal int      `toml:"max_retries_per_terminal"`
	AttemptTimeout        duration `toml:"attempt_timeout"`
	BackoffBase           duration `toml:"backoff_base"`
	BackoffCap            duration `toml:"backoff_cap"`
}

// HealthConfig holds terminal probe parameters.
type HealthConfig struct {
	Interval      duration `toml:"interval"`
	Timeout       duration `toml:"timeout"`
	DownThreshold int      `toml:"down_threshold"`
}

// AuthConfig holds the shared secret used to sign signal payloads for
// network terminals. Either secret or encrypted_secret_path must be set when
// the fleet has network terminals.
type AuthConfig struct {
	Key                 string `toml:"key"`
	Secret              string `toml:"secret"`
	EncryptedSecretPath string `toml:"encrypted_secret_path"`
	SecretPassword      string `toml:"secret_password"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// ArchiveConfig holds S3-compatible object storage parameters for the
// cold-record archiver.
type ArchiveConfig struct {
	Enabled        bool     `toml:"enabled"`
	Endpoint       string   `toml:"endpoint"`
	Region         string   `toml:"region"`
	Bucket         string   `toml:"bucket"`
	AccessKey      string   `toml:"access_key"`
	SecretKey      string   `toml:"secret_key"`
	UseSSL         bool     `toml:"use_ssl"`
	ForcePathStyle bool     `toml:"force_path_style"`
	Interval       duration `toml:"interval"`
	RetentionDays  int      `toml:"retention_days"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds admin HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	RateLimit   int      `toml:"rate_limit"`
	RateWindow  duration `toml:"rate_window"`
}

// CollabConfig points at the external accounting collaborator service.
// Reward and risk calls are skipped entirely when base_url is empty.
type CollabConfig struct {
	BaseURL string   `toml:"base_url"`
	Token   string   `toml:"token"`
	Timeout duration `toml:"timeout"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Router: RouterConfig{
			MaxFailovers:          3,
			MaxRetriesPerTerminal: 2,
			AttemptTimeout:        duration{10 * time.Second},
			BackoffBase:           duration{500 * time.Millisecond},
			BackoffCap:            duration{8 * time.Second},
		},
		Health: HealthConfig{
			Interval:      duration{30 * time.Second},
			Timeout:       duration{5 * time.Second},
			DownThreshold: 5,
		},
		Postgres: PostgresConfig{
			Enabled:       false,
			Host:          "localhost",
			Port:          5432,
			Database:      "sigbridge",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:    false,
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		Archive: ArchiveConfig{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "sigbridge-archive",
			UseSSL:         false,
			ForcePathStyle: true,
			Interval:       duration{6 * time.Hour},
			RetentionDays:  90,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   20,
			RateWindow:  duration{time.Second},
		},
		Collab: CollabConfig{
			Timeout: duration{10 * time.Second},
		},
		Notify: NotifyConfig{
			Events: []string{"delivery_failed", "trade_closed", "terminal_down", "terminal_error"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"route":   true,
	"monitor": true,
	"full":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: route, monitor, full)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Terminals
	if len(c.Terminals) == 0 {
		errs = append(errs, "terminals: at least one terminal must be configured")
	}
	seen := make(map[string]bool, len(c.Terminals))
	hasNetwork := false
	for i, t := range c.Terminals {
		prefix := fmt.Sprintf("terminals[%d]", i)
		if t.ID == "" {
			errs = append(errs, prefix+": id must not be empty")
		} else if seen[t.ID] {
			errs = append(errs, fmt.Sprintf("%s: duplicate terminal id %q", prefix, t.ID))
		}
		seen[t.ID] = true
		if !domain.Pool(t.Pool).Valid() {
			errs = append(errs, fmt.Sprintf("%s: unknown pool %q (valid: trial, demo, live)", prefix, t.Pool))
		}
		switch domain.TransportKind(t.Kind) {
		case domain.TransportNetwork:
			hasNetwork = true
			if t.Address == "" {
				errs = append(errs, prefix+": address is required for network terminals")
			}
		case domain.TransportFile:
			if t.DropDir == "" {
				errs = append(errs, prefix+": drop_dir is required for file terminals")
			}
		default:
			errs = append(errs, fmt.Sprintf("%s: unknown kind %q (valid: network, file)", prefix, t.Kind))
		}
		if t.Capacity < 1 {
			errs = append(errs, prefix+": capacity must be >= 1")
		}
	}

	// Auth — network terminals need a signing secret from one of the sources.
	if hasNetwork {
		if c.Auth.Secret == "" && c.Auth.EncryptedSecretPath == "" {
			errs = append(errs, "auth: either secret or encrypted_secret_path must be set when network terminals are configured")
		}
		if c.Auth.EncryptedSecretPath != "" && c.Auth.SecretPassword == "" {
			errs = append(errs, "auth: secret_password is required when encrypted_secret_path is set")
		}
	}

	// Router
	if c.Router.MaxFailovers < 1 {
		errs = append(errs, "router: max_failovers must be >= 1")
	}
	if c.Router.MaxRetriesPerTerminal < 0 {
		errs = append(errs, "router: max_retries_per_terminal must be >= 0")
	}
	if c.Router.AttemptTimeout.Duration <= 0 {
		errs = append(errs, "router: attempt_timeout must be positive")
	}
	if c.Router.BackoffBase.Duration <= 0 {
		errs = append(errs, "router: backoff_base must be positive")
	}
	if c.Router.BackoffCap.Duration < c.Router.BackoffBase.Duration {
		errs = append(errs, "router: backoff_cap must not be below backoff_base")
	}

	// Health
	if c.Health.Interval.Duration <= 0 {
		errs = append(errs, "health: interval must be positive")
	}
	if c.Health.Timeout.Duration <= 0 {
		errs = append(errs, "health: timeout must be positive")
	}
	if c.Health.DownThreshold < 1 {
		errs = append(errs, "health: down_threshold must be >= 1")
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// Archive
	if c.Archive.Enabled {
		if c.Archive.Endpoint == "" {
			errs = append(errs, "archive: endpoint must not be empty")
		}
		if c.Archive.Bucket == "" {
			errs = append(errs, "archive: bucket must not be empty")
		}
		if c.Archive.Interval.Duration <= 0 {
			errs = append(errs, "archive: interval must be positive")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
