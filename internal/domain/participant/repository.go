package participant

import (
	"context"

	"github.com/google/uuid"
)

//go:generate mockgen -source=repository.go -destination=mocks/mock_repository.go -package=mocks

// Repository defines persistence for participants.
type Repository interface {
	Create(ctx context.Context, p *Participant) error
	Update(ctx context.Context, p *Participant) error
	GetByID(ctx context.Context, participantID uuid.UUID) (*Participant, error)
	GetByEmail(ctx context.Context, email string) (*Participant, error)
	GetMany(ctx context.Context, participantIDs []uuid.UUID) (map[uuid.UUID]*Participant, error)
}
