package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/betledger/internal/blob/s3"
	"github.com/alanyoungcy/betledger/internal/cache/redis"
	"github.com/alanyoungcy/betledger/internal/config"
	"github.com/alanyoungcy/betledger/internal/domain"
	"github.com/alanyoungcy/betledger/internal/notify"
	"github.com/alanyoungcy/betledger/internal/server/handler"
	"github.com/alanyoungcy/betledger/internal/store/memory"
	"github.com/alanyoungcy/betledger/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency that the application modes
// need to operate. It is constructed by Wire and torn down by the returned
// cleanup function. Fields a mode does not use stay nil.
type Dependencies struct {
	// Journal and custody
	Journal domain.LedgerStore
	Payouts domain.Payouts
	Audit   domain.AuditStore

	// Coordination
	SignalBus   domain.SignalBus
	LockManager domain.LockManager
	MarketCache domain.MarketCache
	ReplayGuard domain.ReplayGuard
	RateLimiter domain.RateLimiter

	// Blob storage
	Blobs *s3blob.Store

	// Notifications
	Notifier *notify.Notifier

	// Checks backs GET /api/health, keyed by dependency name.
	Checks map[string]handler.HealthCheck
}

// needsPostgres returns true for modes that journal to the database.
func needsPostgres(mode string) bool {
	return mode == ModeFull || mode == ModeSnapshot
}

// needsRedis returns true for modes that coordinate through Redis.
func needsRedis(mode string) bool {
	return mode == ModeFull
}

// needsS3 returns true for modes that export snapshots.
func needsS3(cfg *config.Config) bool {
	switch cfg.Mode {
	case ModeSnapshot:
		return true
	case ModeFull:
		return cfg.Snapshot.Enabled
	default:
		return false
	}
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

	deps := &Dependencies{Checks: make(map[string]handler.HealthCheck)}

	// --- PostgreSQL journal, or in-memory stores in standalone mode ---
	if needsPostgres(cfg.Mode) {
		pgClient, err := postgres.Connect(ctx, postgres.ClientConfig{
			DSN:            cfg.Postgres.DSN,
			Host:           cfg.Postgres.Host,
			Port:           cfg.Postgres.Port,
			Database:       cfg.Postgres.Database,
			User:           cfg.Postgres.User,
			Password:       cfg.Postgres.Password,
			SSLMode:        cfg.Postgres.SSLMode,
			MaxConns:       cfg.Postgres.PoolMaxConns,
			MinConns:       cfg.Postgres.PoolMinConns,
			ConnectTimeout: cfg.Postgres.ConnectTimeout.Duration,
		}, logger)
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

		pool := pgClient.Pool()
		deps.Journal = postgres.NewLedgerStore(pool)
		deps.Payouts = postgres.NewPayoutStore(pool)
		deps.Audit = postgres.NewAuditStore(pool)
		deps.Checks["postgres"] = pool.Ping
	} else {
		deps.Journal = memory.NewLedgerStore()
		deps.Payouts = memory.NewPayouts()
		deps.Audit = memory.NewAuditStore()
	}

	// --- Redis ---
	if needsRedis(cfg.Mode) {
		redisClient, err := redis.Connect(ctx, redis.ClientConfig{
			Addr:           cfg.Redis.Addr,
			Password:       cfg.Redis.Password,
			DB:             cfg.Redis.DB,
			PoolSize:       cfg.Redis.PoolSize,
			MaxRetries:     cfg.Redis.MaxRetries,
			TLSEnabled:     cfg.Redis.TLSEnabled,
			ConnectTimeout: cfg.Redis.ConnectTimeout.Duration,
		}, logger)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.MarketCache = redis.NewMarketCache(redisClient)
		deps.ReplayGuard = redis.NewReplayGuard(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.Checks["redis"] = redisClient.Ping
	} else {
		deps.ReplayGuard = memory.NewReplayGuard()
	}

	// --- S3 blob storage ---
	if needsS3(cfg) {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.Blobs = s3blob.NewStore(s3Client)
		deps.Checks["s3"] = s3Client.Health
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
