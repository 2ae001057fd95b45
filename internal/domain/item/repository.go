package item

import (
	"context"

	"github.com/google/uuid"
)

//go:generate mockgen -source=repository.go -destination=mocks/mock_repository.go -package=mocks

// Transition is a compare-and-set on an item's ledger fields. It applies only
// when the stored availability and reservation still equal From and
// ExpectReservedBy.
type Transition struct {
	ItemID           uuid.UUID
	From             Availability
	ExpectReservedBy *uuid.UUID
	To               Availability
	ReservedBy       *uuid.UUID
	NewOwner         *uuid.UUID
}

// Filter controls item listing.
type Filter struct {
	OwnerID        *uuid.UUID
	ExcludeOwnerID *uuid.UUID
	Availability   *Availability
}

// Repository defines persistence for items.
type Repository interface {
	Create(ctx context.Context, it *Item) error
	UpdateDetails(ctx context.Context, it *Item) error
	Delete(ctx context.Context, itemID uuid.UUID) error
	GetByID(ctx context.Context, itemID uuid.UUID) (*Item, error)
	GetMany(ctx context.Context, itemIDs []uuid.UUID) (map[uuid.UUID]*Item, error)
	// GetForUpdate reads the item and holds its row lock until the enclosing
	// transaction ends.
	GetForUpdate(ctx context.Context, itemID uuid.UUID) (*Item, error)
	ApplyTransition(ctx context.Context, t Transition) (bool, error)
	List(ctx context.Context, filter Filter, limit, offset int) ([]*Item, error)
}
