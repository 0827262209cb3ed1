package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	s3blob "github.com/bitpredict/engine/internal/blob/s3"
	"github.com/bitpredict/engine/internal/cache/redis"
	"github.com/bitpredict/engine/internal/config"
	"github.com/bitpredict/engine/internal/crypto"
	"github.com/bitpredict/engine/internal/domain"
	"github.com/bitpredict/engine/internal/store/memory"
	"github.com/bitpredict/engine/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency that the application
// modes need to operate. It is constructed by Wire and torn down by the
// returned cleanup function.
type Dependencies struct {
	// Stores
	MarketStore     domain.MarketStore
	BetStore        domain.BetStore
	EngineCfgStore  domain.EngineConfigStore
	QuestStore      domain.QuestStore
	VoteStore       domain.VoteStore
	CheckpointStore domain.CheckpointStore
	NFTStore        domain.NFTStore

	// Caches and coordination
	MarketCache domain.MarketCache
	QuestCache  domain.QuestCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Blob storage
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader
	Archiver   domain.Archiver

	// Oracles
	Ledger        domain.TokenLedger
	Attestor      domain.Attestor
	Clock         domain.Clock
	Authenticator domain.Authenticator

	// Authority signing key, loaded when configured. Used by operator
	// tooling to self-sign administrative operations.
	Authority *crypto.Signer

	// EventSigner is nil when event signing is disabled.
	EventSigner *crypto.EventSigner

	// Postgres client, set in modes that use the database. MigrateMode
	// uses it to run migrations explicitly.
	Postgres *postgres.Client
}

// systemClock supplies wall time plus a slot derived from Unix seconds, so
// checkpoint slots are comparable across instances without a shared counter.
type systemClock struct{}

func (systemClock) Now() (time.Time, uint64) {
	now := time.Now().UTC()
	return now, uint64(now.Unix())
}

// storeAttestor answers attestation queries from the persisted NFT records.
type storeAttestor struct {
	nfts domain.NFTStore
}

func (a storeAttestor) VerifiedCount(ctx context.Context, owner, collection string, max int) (int, error) {
	return a.nfts.CountVerified(ctx, owner, collection, max)
}

// needsPostgres returns true for modes that require a database connection.
func needsPostgres(mode string) bool {
	switch mode {
	case "serve", "migrate":
		return true
	default:
		return false
	}
}

// needsRedis returns true for modes that require the shared cache and bus.
func needsRedis(mode string) bool {
	return mode == "serve"
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()
	mode := strings.ToLower(cfg.Mode)

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{
		Clock:         systemClock{},
		Authenticator: crypto.NewVerifier(),
	}

	// --- PostgreSQL (only for modes that need persistence) ---
	if needsPostgres(mode) {
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
		deps.Postgres = pgClient

		if mode == "serve" && cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.MarketStore = postgres.NewMarketStore(pool)
		deps.BetStore = postgres.NewBetStore(pool)
		deps.EngineCfgStore = postgres.NewEngineConfigStore(pool)
		deps.QuestStore = postgres.NewQuestStore(pool)
		deps.VoteStore = postgres.NewVoteStore(pool)
		deps.CheckpointStore = postgres.NewCheckpointStore(pool)
		deps.NFTStore = postgres.NewNFTStore(pool)
		deps.Ledger = postgres.NewLedger(pool)
	} else {
		stores := memory.New()
		deps.MarketStore = stores.Markets
		deps.BetStore = stores.Bets
		deps.EngineCfgStore = stores.EngineCfg
		deps.QuestStore = stores.Quests
		deps.VoteStore = stores.Votes
		deps.CheckpointStore = stores.Checkpoints
		deps.NFTStore = stores.NFTs
		deps.Ledger = memory.NewLedger()
		logger.InfoContext(ctx, "using in-memory stores")
	}
	deps.Attestor = storeAttestor{nfts: deps.NFTStore}

	// --- Redis (shared cache, locks, limiter, bus) ---
	if needsRedis(mode) {
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

		deps.MarketCache = redis.NewMarketCache(redisClient)
		deps.QuestCache = redis.NewQuestCache(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
	} else {
		deps.MarketCache = memory.NewMarketCache()
		deps.QuestCache = memory.NewQuestCache()
		deps.RateLimiter = memory.NewRateLimiter()
		deps.LockManager = memory.NewLockManager()
		deps.SignalBus = memory.NewSignalBus()
	}

	// --- S3 blob storage (settlement archive, serve mode only) ---
	if mode == "serve" && cfg.Archive.Enabled {
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
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.BlobReader = s3blob.NewReader(s3Client)
		deps.Archiver = s3blob.NewArchiver(deps.BlobWriter, deps.BlobReader, deps.MarketStore, deps.BetStore)
	}

	// --- Authority key ---
	if cfg.Authority.PrivateKey != "" || cfg.Authority.EncryptedKeyPath != "" {
		keyHex, err := crypto.LoadKey(crypto.KeyConfig{
			RawPrivateKey:    cfg.Authority.PrivateKey,
			EncryptedKeyPath: cfg.Authority.EncryptedKeyPath,
			KeyPassword:      cfg.Authority.KeyPassword,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: authority key: %w", err)
		}
		signer, err := crypto.NewSigner(keyHex)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: authority key: %w", err)
		}
		deps.Authority = signer
		logger.InfoContext(ctx, "authority key loaded",
			slog.String("address", signer.Address()),
		)
	}

	// --- Event signing ---
	if cfg.Events.SigningSecret != "" {
		deps.EventSigner = &crypto.EventSigner{
			Key:    cfg.Events.SigningKey,
			Secret: cfg.Events.SigningSecret,
		}
	}

	return deps, cleanup, nil
}
