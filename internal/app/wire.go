package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/kestrelfx/sigbridge/internal/blob/s3"
	"github.com/kestrelfx/sigbridge/internal/cache/redis"
	"github.com/kestrelfx/sigbridge/internal/collab"
	"github.com/kestrelfx/sigbridge/internal/config"
	"github.com/kestrelfx/sigbridge/internal/crypto"
	"github.com/kestrelfx/sigbridge/internal/domain"
	"github.com/kestrelfx/sigbridge/internal/notify"
	"github.com/kestrelfx/sigbridge/internal/pool"
	"github.com/kestrelfx/sigbridge/internal/registry"
	"github.com/kestrelfx/sigbridge/internal/store/memory"
	"github.com/kestrelfx/sigbridge/internal/store/postgres"
	"github.com/kestrelfx/sigbridge/internal/transport"
)

// Dependencies bundles every domain-level dependency the application modes
// need to operate. It is constructed by Wire and torn down by the returned
// cleanup function.
type Dependencies struct {
	// Fleet
	Registry *registry.Registry
	Pools    *pool.Manager

	// Stores
	Trades   domain.TradeRecordStore
	Attempts domain.AttemptStore
	Audit    domain.AuditStore

	// Redis-backed coordination; nil when redis is not configured.
	Replay  domain.ReplayGuard
	Locks   domain.LockManager
	Limiter domain.RateLimiter

	// Transports
	Network transport.Transport
	File    transport.Transport

	// Blob storage; nil unless archiving is configured.
	Archiver *s3blob.ArchiveImpl

	// Collaborators
	Rewards  domain.RewardAccounting
	Risk     domain.RiskAccounting
	Notifier *notify.Notifier
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- Terminal fleet ---
	deps.Registry = registry.New(logger)
	for _, tc := range cfg.Terminals {
		if err := deps.Registry.Register(tc.Terminal()); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: register terminal %s: %w", tc.ID, err)
		}
	}
	deps.Pools = pool.NewManager(deps.Registry, logger)

	// --- Stores: postgres when enabled, in-memory twins otherwise ---
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		dbPool := pgClient.Pool()
		deps.Trades = postgres.NewTradeRecordStore(dbPool)
		deps.Attempts = postgres.NewAttemptStore(dbPool)
		deps.Audit = postgres.NewAuditStore(dbPool)
	} else {
		logger.Info("postgres disabled, using in-memory stores")
		deps.Trades = memory.NewTradeRecordStore()
		deps.Attempts = memory.NewAttemptStore()
		deps.Audit = memory.NewAuditStore()
	}

	// --- Redis (optional) ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.Replay = redis.NewReplayGuard(redisClient)
		deps.Locks = redis.NewLockManager(redisClient)
		deps.Limiter = redis.NewRateLimiter(redisClient)
	}

	// --- Transports ---
	var auth *crypto.HMACAuth
	if cfg.Auth.Secret != "" || cfg.Auth.EncryptedSecretPath != "" {
		secret, err := crypto.LoadSecret(crypto.SecretConfig{
			RawSecret:           cfg.Auth.Secret,
			EncryptedSecretPath: cfg.Auth.EncryptedSecretPath,
			SecretPassword:      cfg.Auth.SecretPassword,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: load terminal secret: %w", err)
		}
		auth = &crypto.HMACAuth{Key: cfg.Auth.Key, Secret: secret}
	}
	deps.Network = transport.NewNetwork(auth, cfg.Router.AttemptTimeout.Duration, logger)
	deps.File = transport.NewFile(logger)

	// --- S3 archiver (optional) ---
	if cfg.Archive.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.Archive.Endpoint,
			Region:         cfg.Archive.Region,
			Bucket:         cfg.Archive.Bucket,
			AccessKey:      cfg.Archive.AccessKey,
			SecretKey:      cfg.Archive.SecretKey,
			UseSSL:         cfg.Archive.UseSSL,
			ForcePathStyle: cfg.Archive.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client), deps.Attempts, deps.Audit, logger)
	}

	// --- Accounting collaborators (optional) ---
	if cfg.Collab.BaseURL != "" {
		client := collab.NewClient(cfg.Collab.BaseURL, cfg.Collab.Token, cfg.Collab.Timeout.Duration, logger)
		deps.Rewards = client
		deps.Risk = client
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
