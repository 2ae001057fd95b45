package negotiation

import (
	"context"

	"github.com/google/uuid"
)

//go:generate mockgen -source=repository.go -destination=mocks/mock_repository.go -package=mocks

// Filter controls negotiation listing. Empty Statuses matches every status.
type Filter struct {
	OwnerID     *uuid.UUID
	RequesterID *uuid.UUID
	Statuses    []Status
}

// Repository defines persistence for negotiations.
type Repository interface {
	Create(ctx context.Context, n *Negotiation) error
	GetByID(ctx context.Context, negotiationID uuid.UUID) (*Negotiation, error)
	GetForUpdate(ctx context.Context, negotiationID uuid.UUID) (*Negotiation, error)
	// UpdateStatus persists n's decision only if the stored status is still from.
	UpdateStatus(ctx context.Context, n *Negotiation, from Status) (bool, error)
	ListPendingByItem(ctx context.Context, itemID uuid.UUID) ([]*Negotiation, error)
	List(ctx context.Context, filter Filter, limit, offset int) ([]*Negotiation, error)
}
