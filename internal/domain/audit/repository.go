package audit

import (
	"context"

	"github.com/google/uuid"
)

// Repository defines persistence for audit logs.
type Repository interface {
	Create(ctx context.Context, log *AuditLog) error
	ListByNegotiation(ctx context.Context, negotiationID uuid.UUID) ([]*AuditLog, error)
}
