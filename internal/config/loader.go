package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies SIGBRIDGE_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known SIGBRIDGE_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file. Terminal entries are structural and come from TOML only.
func applyEnvOverrides(cfg *Config) {
	// ── Router ──
	setInt(&cfg.Router.MaxFailovers, "SIGBRIDGE_ROUTER_MAX_FAILOVERS")
	setInt(&cfg.Router.MaxRetriesPerTerminal, "SIGBRIDGE_ROUTER_MAX_RETRIES_PER_TERMINAL")
	setDuration(&cfg.Router.AttemptTimeout, "SIGBRIDGE_ROUTER_ATTEMPT_TIMEOUT")
	setDuration(&cfg.Router.BackoffBase, "SIGBRIDGE_ROUTER_BACKOFF_BASE")
	setDuration(&cfg.Router.BackoffCap, "SIGBRIDGE_ROUTER_BACKOFF_CAP")

	// ── Health ──
	setDuration(&cfg.Health.Interval, "SIGBRIDGE_HEALTH_INTERVAL")
	setDuration(&cfg.Health.Timeout, "SIGBRIDGE_HEALTH_TIMEOUT")
	setInt(&cfg.Health.DownThreshold, "SIGBRIDGE_HEALTH_DOWN_THRESHOLD")

	// ── Auth ──
	setStr(&cfg.Auth.Key, "SIGBRIDGE_AUTH_KEY")
	setStr(&cfg.Auth.Secret, "SIGBRIDGE_AUTH_SECRET")
	setStr(&cfg.Auth.EncryptedSecretPath, "SIGBRIDGE_AUTH_ENCRYPTED_SECRET_PATH")
	setStr(&cfg.Auth.SecretPassword, "SIGBRIDGE_AUTH_SECRET_PASSWORD")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "SIGBRIDGE_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "SIGBRIDGE_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "SIGBRIDGE_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "SIGBRIDGE_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "SIGBRIDGE_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "SIGBRIDGE_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "SIGBRIDGE_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "SIGBRIDGE_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "SIGBRIDGE_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "SIGBRIDGE_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "SIGBRIDGE_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "SIGBRIDGE_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "SIGBRIDGE_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "SIGBRIDGE_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "SIGBRIDGE_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "SIGBRIDGE_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "SIGBRIDGE_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "SIGBRIDGE_REDIS_TLS_ENABLED")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "SIGBRIDGE_ARCHIVE_ENABLED")
	setStr(&cfg.Archive.Endpoint, "SIGBRIDGE_ARCHIVE_ENDPOINT")
	setStr(&cfg.Archive.Region, "SIGBRIDGE_ARCHIVE_REGION")
	setStr(&cfg.Archive.Bucket, "SIGBRIDGE_ARCHIVE_BUCKET")
	setStr(&cfg.Archive.AccessKey, "SIGBRIDGE_ARCHIVE_ACCESS_KEY")
	setStr(&cfg.Archive.SecretKey, "SIGBRIDGE_ARCHIVE_SECRET_KEY")
	setBool(&cfg.Archive.UseSSL, "SIGBRIDGE_ARCHIVE_USE_SSL")
	setBool(&cfg.Archive.ForcePathStyle, "SIGBRIDGE_ARCHIVE_FORCE_PATH_STYLE")
	setDuration(&cfg.Archive.Interval, "SIGBRIDGE_ARCHIVE_INTERVAL")
	setInt(&cfg.Archive.RetentionDays, "SIGBRIDGE_ARCHIVE_RETENTION_DAYS")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "SIGBRIDGE_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "SIGBRIDGE_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "SIGBRIDGE_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "SIGBRIDGE_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "SIGBRIDGE_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "SIGBRIDGE_SERVER_RATE_WINDOW")

	// ── Collab ──
	setStr(&cfg.Collab.BaseURL, "SIGBRIDGE_COLLAB_BASE_URL")
	setStr(&cfg.Collab.Token, "SIGBRIDGE_COLLAB_TOKEN")
	setDuration(&cfg.Collab.Timeout, "SIGBRIDGE_COLLAB_TIMEOUT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "SIGBRIDGE_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "SIGBRIDGE_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "SIGBRIDGE_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "SIGBRIDGE_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "SIGBRIDGE_MODE")
	setStr(&cfg.LogLevel, "SIGBRIDGE_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
