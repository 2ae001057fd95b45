package message

import (
	"context"

	"github.com/google/uuid"
)

//go:generate mockgen -source=repository.go -destination=mocks/mock_repository.go -package=mocks

// Repository is the durable append-only log of chat messages.
type Repository interface {
	Append(ctx context.Context, m *Message) error
	// Latest returns the highest-sequence message of the negotiation, or nil.
	Latest(ctx context.Context, negotiationID uuid.UUID) (*Message, error)
	// List returns messages with Seq > afterSeq in sequence order.
	List(ctx context.Context, negotiationID uuid.UUID, afterSeq int64, limit int) ([]*Message, error)
}
