package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	s3blob "github.com/alanyoungcy/flasharb/internal/blob/s3"
	"github.com/alanyoungcy/flasharb/internal/cache/redis"
	"github.com/alanyoungcy/flasharb/internal/chain"
	"github.com/alanyoungcy/flasharb/internal/config"
	"github.com/alanyoungcy/flasharb/internal/domain"
	"github.com/alanyoungcy/flasharb/internal/notify"
	"github.com/alanyoungcy/flasharb/internal/server/handler"
	"github.com/alanyoungcy/flasharb/internal/store/postgres"
)

// Dependencies bundles the backend adapters the modes assemble into
// pipelines. Every field is nil when its backend is disabled or not needed
// by the mode.
type Dependencies struct {
	// Stores
	Opportunities *postgres.OpportunityStore
	Executions    domain.ExecutionStore
	Audit         domain.AuditStore

	// Caches
	Ranking     domain.RankingCache
	RateLimiter domain.RateLimiter
	Locks       domain.LockManager
	Bus         domain.SignalBus

	// Blob storage
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader
	Archiver   *s3blob.ArchiveImpl

	// Chain
	Chain *chain.Client

	// Notifications
	Notifier *notify.Notifier

	// Health probes keyed by backend name.
	Health map[string]handler.Checker
}

// needsChain reports whether the mode reads on-chain state.
func needsChain(mode string) bool {
	return strings.ToLower(mode) != "ingest"
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
	fail := func(what string, err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, fmt.Errorf("wire: %s: %w", what, err)
	}

	deps := &Dependencies{Health: make(map[string]handler.Checker)}

	// --- PostgreSQL ---
	if cfg.Supabase.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Supabase.DSN,
			Host:     cfg.Supabase.Host,
			Port:     cfg.Supabase.Port,
			Database: cfg.Supabase.Database,
			User:     cfg.Supabase.User,
			Password: cfg.Supabase.Password,
			SSLMode:  cfg.Supabase.SSLMode,
			MaxConns: cfg.Supabase.PoolMaxConns,
			MinConns: cfg.Supabase.PoolMinConns,
		})
		if err != nil {
			return fail("postgres", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Supabase.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail("postgres migrations", err)
			}
		}

		pool := pgClient.Pool()
		deps.Opportunities = postgres.NewOpportunityStore(pool)
		deps.Executions = postgres.NewExecutionStore(pool)
		deps.Audit = postgres.NewAuditStore(pool)
		deps.Health["postgres"] = func(ctx context.Context) error { return pool.Ping(ctx) }
	}

	// --- Redis ---
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
			return fail("redis", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		streamMaxLen := redis.DefaultStreamMaxLen
		if cfg.Redis.StreamMaxLen > 0 {
			streamMaxLen = cfg.Redis.StreamMaxLen
		}
		deps.Ranking = redis.NewRankingCache(redisClient, cfg.Redis.RankingTTL.Duration)
		deps.RateLimiter = redis.NewRateLimiter(redisClient, cfg.Gecko.SharedLimit, time.Minute)
		deps.Locks = redis.NewLockManager(redisClient)
		deps.Bus = redis.NewSignalBus(redisClient, streamMaxLen)
		deps.Health["redis"] = redisClient.Ping
	}

	// --- S3 blob storage ---
	if cfg.S3.Enabled {
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
			return fail("s3", err)
		}

		writer := s3blob.NewWriter(s3Client)
		deps.BlobWriter = writer
		deps.BlobReader = s3blob.NewReader(s3Client)

		var opps s3blob.OpportunityArchiveStore
		if deps.Opportunities != nil {
			opps = deps.Opportunities
		}
		deps.Archiver = s3blob.NewArchiver(writer, opps, deps.Audit)
		deps.Health["s3"] = s3Client.Health
	}

	// --- Chain ---
	if needsChain(cfg.Mode) {
		client, err := chain.Dial(ctx, chain.Config{
			URL:             cfg.Chain.RPCURL,
			ChainID:         cfg.Chain.ChainID,
			CallTimeout:     cfg.Chain.CallTimeout.Duration,
			BreakerFailures: cfg.Chain.BreakerFailures,
			BreakerCooldown: cfg.Chain.BreakerCooldown.Duration,
		}, logger)
		if err != nil {
			return fail("chain", err)
		}
		closers = append(closers, client.Close)
		deps.Chain = client
		deps.Health["chain"] = func(ctx context.Context) error {
			_, err := client.BlockNumber(ctx)
			return err
		}
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
