// Package store describes the atomic unit of work shared by the ledger and
// the exchange state machine.
package store

import (
	"context"

	"github.com/swapshelf/swapshelf/internal/domain/item"
	"github.com/swapshelf/swapshelf/internal/domain/negotiation"
)

//go:generate mockgen -source=store.go -destination=mocks/mock_store.go -package=mocks

// Repositories are bound to one transaction.
type Repositories struct {
	Items        item.Repository
	Negotiations negotiation.Repository
}

// UnitOfWork runs fn inside a single transaction. Everything fn writes
// commits together when fn returns nil and is discarded otherwise.
type UnitOfWork interface {
	Do(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error
}
