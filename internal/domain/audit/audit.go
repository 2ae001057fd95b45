package audit

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/swapshelf/swapshelf/internal/domain/negotiation"
)

// Action is the lifecycle event an audit log records.
type Action string

const (
	ActionCreated   Action = "NEGOTIATION_CREATED"
	ActionAccepted  Action = "NEGOTIATION_ACCEPTED"
	ActionRejected  Action = "NEGOTIATION_REJECTED"
	ActionCancelled Action = "NEGOTIATION_CANCELLED"
)

// Entry is the input for a new audit log.
type Entry struct {
	NegotiationID uuid.UUID
	Action        Action
	ActorID       *uuid.UUID
	FromStatus    *negotiation.Status
	ToStatus      negotiation.Status
	ItemIDs       []uuid.UUID
	Reason        string
	// OccurredAt is when the transition committed; zero means now.
	OccurredAt    time.Time
}

// AuditLog is one immutable negotiation transition record.
type AuditLog struct {
	AuditID       uuid.UUID           `json:"auditId"`
	NegotiationID uuid.UUID           `json:"negotiationId"`
	Action        Action              `json:"action"`
	ActorID       *uuid.UUID          `json:"actorId,omitempty"`
	FromStatus    *negotiation.Status `json:"fromStatus,omitempty"`
	ToStatus      negotiation.Status  `json:"toStatus"`
	ItemIDs       []uuid.UUID         `json:"itemIds"`
	Reason        string              `json:"reason,omitempty"`
	Signature     []byte              `json:"signature,omitempty"`
	CreatedAt     time.Time           `json:"createdAt"`
}

func NewAuditLog(entry *Entry) (*AuditLog, error) {
	if entry == nil {
		return nil, errors.New("audit entry is required")
	}
	if entry.NegotiationID == uuid.Nil {
		return nil, errors.New("negotiation id is required")
	}
	if entry.Action == "" {
		return nil, errors.New("action is required")
	}
	createdAt := entry.OccurredAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	return &AuditLog{
		AuditID:       uuid.New(),
		NegotiationID: entry.NegotiationID,
		Action:        entry.Action,
		ActorID:       entry.ActorID,
		FromStatus:    entry.FromStatus,
		ToStatus:      entry.ToStatus,
		ItemIDs:       entry.ItemIDs,
		Reason:        entry.Reason,
		CreatedAt:     createdAt.UTC(),
	}, nil
}
