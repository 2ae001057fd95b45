package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/multierr"

	"github.com/swapshelf/swapshelf/internal/domain/store"
)

// Store implements store.UnitOfWork on one pgx transaction per call.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Do runs fn in a READ COMMITTED transaction. Row locks taken through
// GetForUpdate are held until commit or rollback.
func (s *Store) Do(ctx context.Context, fn func(ctx context.Context, repos store.Repositories) error) (err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err == nil {
			return
		}
		if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			err = multierr.Append(err, fmt.Errorf("rollback: %w", rbErr))
		}
	}()

	repos := store.Repositories{
		Items:        &ItemRepository{db: tx},
		Negotiations: &NegotiationRepository{db: tx},
	}
	if err = fn(ctx, repos); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Items returns a repository that runs each statement on its own.
func (s *Store) Items() *ItemRepository {
	return &ItemRepository{db: s.pool}
}

// Negotiations returns a repository that runs each statement on its own.
func (s *Store) Negotiations() *NegotiationRepository {
	return &NegotiationRepository{db: s.pool}
}

// Ping reports whether the database answers.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
