package main

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"go.uber.org/multierr"

	"github.com/swapshelf/swapshelf/internal/application/directory"
	"github.com/swapshelf/swapshelf/internal/application/exchange"
	"github.com/swapshelf/swapshelf/internal/config"
	"github.com/swapshelf/swapshelf/internal/domain/audit"
	"github.com/swapshelf/swapshelf/internal/domain/item"
	"github.com/swapshelf/swapshelf/internal/domain/message"
	"github.com/swapshelf/swapshelf/internal/domain/negotiation"
	"github.com/swapshelf/swapshelf/internal/domain/participant"
	"github.com/swapshelf/swapshelf/internal/domain/store"
	"github.com/swapshelf/swapshelf/internal/infrastructure/memory"
	"github.com/swapshelf/swapshelf/internal/infrastructure/postgres"
	"github.com/swapshelf/swapshelf/internal/infrastructure/redis"
)

// backend is the selected storage driver.
type backend struct {
	uow          store.UnitOfWork
	items        item.Repository
	negotiations negotiation.Repository
	participants participant.Repository
	messages     message.Repository
	audits       audit.Repository
	primary      directory.Source
	replica      *directory.Source
	health       func(ctx context.Context) error
	closers      []func() error
}

func (b *backend) Close() error {
	var err error
	for i := len(b.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, b.closers[i]())
	}
	return err
}

func openBackend(ctx context.Context, cfg *config.Config, migrateOnly bool, logger zerolog.Logger) (*backend, error) {
	if cfg.Storage == config.StorageMemory {
		if migrateOnly {
			return nil, fmt.Errorf("--migrate-only needs the postgres storage driver")
		}
		logger.Warn().Msg("using in-memory storage; data is lost on restart")
		st := memory.NewStore()
		b := &backend{
			uow:          st,
			items:        st.Items(),
			negotiations: st.Negotiations(),
			participants: memory.NewParticipantRepository(),
			messages:     memory.NewMessageRepository(),
			audits:       memory.NewAuditRepository(),
		}
		b.primary = directory.Source{Negotiations: b.negotiations, Items: b.items, Participants: b.participants}
		return b, nil
	}

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	b := &backend{closers: []func() error{func() error { pool.Close(); return nil }}}
	if cfg.AutoMigrate || migrateOnly {
		if err := postgres.RunMigrations(ctx, pool); err != nil {
			_ = b.Close()
			return nil, fmt.Errorf("migration error: %w", err)
		}
	}

	st := postgres.NewStore(pool)
	b.uow = st
	b.items = st.Items()
	b.negotiations = st.Negotiations()
	b.participants = postgres.NewParticipantRepository(pool)
	b.messages = postgres.NewMessageRepository(pool)
	b.audits = postgres.NewAuditRepository(pool)
	b.primary = directory.Source{Negotiations: b.negotiations, Items: b.items, Participants: b.participants}
	b.health = func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		return st.Ping(ctx)
	}

	if cfg.ReplicaURL != "" {
		replicaPool, err := postgres.NewPool(ctx, cfg.ReplicaURL, cfg.DBMaxConns)
		if err != nil {
			_ = b.Close()
			return nil, fmt.Errorf("replica db error: %w", err)
		}
		b.closers = append(b.closers, func() error { replicaPool.Close(); return nil })
		b.replica = replicaSource(replicaPool)
		logger.Info().Msg("directory reads routed to replica")
	}
	return b, nil
}

func replicaSource(pool *pgxpool.Pool) *directory.Source {
	st := postgres.NewStore(pool)
	return &directory.Source{
		Negotiations: st.Negotiations(),
		Items:        st.Items(),
		Participants: postgres.NewParticipantRepository(pool),
	}
}

type recencyTracker interface {
	exchange.RecencyMarker
	directory.RecencyChecker
}

// limits are the rate limiters and the read-your-writes tracker, shared
// through redis when configured and process-local otherwise.
type limits struct {
	create  exchange.Limiter
	send    exchange.Limiter
	recency recencyTracker
	close   func() error
}

func (l *limits) Close() error {
	if l.close == nil {
		return nil
	}
	return l.close()
}

func openLimits(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*limits, error) {
	if cfg.RedisURL == "" {
		return &limits{
			create:  memory.NewRateLimiter(int64(cfg.CreateRateLimit), cfg.RateLimitWindow),
			send:    memory.NewRateLimiter(int64(cfg.SendRateLimit), cfg.RateLimitWindow),
			recency: memory.NewRecencyTracker(cfg.RecentWriteWindow),
		}, nil
	}
	client, err := redis.New(ctx, cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	logger.Info().Msg("rate limits and recency tracking backed by redis")
	return &limits{
		create:  redis.NewRateLimiter(client, int64(cfg.CreateRateLimit), cfg.RateLimitWindow),
		send:    redis.NewRateLimiter(client, int64(cfg.SendRateLimit), cfg.RateLimitWindow),
		recency: redis.NewRecencyTracker(client, cfg.RecentWriteWindow),
		close:   client.Close,
	}, nil
}
