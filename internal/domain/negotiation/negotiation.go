package negotiation

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind distinguishes a two-item swap from a single-item transfer.
type Kind string

const (
	KindPaired Kind = "PAIRED"
	KindOneWay Kind = "ONE_WAY"
)

// Status represents negotiation status.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusAccepted Status = "ACCEPTED"
	StatusRejected Status = "REJECTED"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []Status{StatusPending, StatusAccepted, StatusRejected}

var (
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrPendingConflict is returned by Repository.Create when one of the
	// referenced items already belongs to a pending negotiation.
	ErrPendingConflict = errors.New("item already referenced by a pending negotiation")
)

// Negotiation is a proposed transfer of one item, optionally paired with a
// counter-offered item.
type Negotiation struct {
	ID              uuid.UUID  `json:"id"`
	RequestedItemID uuid.UUID  `json:"requestedItemId"`
	OfferedItemID   *uuid.UUID `json:"offeredItemId,omitempty"`
	RequesterID     uuid.UUID  `json:"requesterId"`
	OwnerID         uuid.UUID  `json:"ownerId"`
	Kind            Kind       `json:"kind"`
	Status          Status     `json:"status"`
	CloseReason     *string    `json:"closeReason,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
	DecidedAt       *time.Time `json:"decidedAt,omitempty"`
}

func (s Status) IsTerminal() bool {
	return s == StatusAccepted || s == StatusRejected
}

// CanTransitionTo reports whether the lifecycle allows moving to next.
func (s Status) CanTransitionTo(next Status) bool {
	return s == StatusPending && next.IsTerminal()
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusAccepted, StatusRejected:
		return true
	}
	return false
}

func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", errors.New("status must be PENDING, ACCEPTED, or REJECTED")
	}
	return st, nil
}

// ParseKind accepts the canonical names plus the legacy "book-for-book" and
// "one-way" spellings. An empty kind means a paired swap.
func ParseKind(s string) (Kind, error) {
	switch strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "-", "_")) {
	case "", string(KindPaired), "BOOK_FOR_BOOK":
		return KindPaired, nil
	case string(KindOneWay):
		return KindOneWay, nil
	default:
		return "", errors.New("kind must be PAIRED or ONE_WAY")
	}
}

// IsParticipant reports whether participantID is the requester or the owner.
func (n *Negotiation) IsParticipant(participantID uuid.UUID) bool {
	return n.RequesterID == participantID || n.OwnerID == participantID
}

// Counterparty returns the other side of the negotiation for participantID.
func (n *Negotiation) Counterparty(participantID uuid.UUID) uuid.UUID {
	if participantID == n.OwnerID {
		return n.RequesterID
	}
	return n.OwnerID
}

// ItemIDs returns the requested item followed by the offered item, if any.
func (n *Negotiation) ItemIDs() []uuid.UUID {
	ids := []uuid.UUID{n.RequestedItemID}
	if n.OfferedItemID != nil {
		ids = append(ids, *n.OfferedItemID)
	}
	return ids
}

// References reports whether itemID is the requested or the offered item.
func (n *Negotiation) References(itemID uuid.UUID) bool {
	return n.RequestedItemID == itemID || (n.OfferedItemID != nil && *n.OfferedItemID == itemID)
}

// Decide moves a pending negotiation into a terminal status.
func (n *Negotiation) Decide(next Status, reason *string, now time.Time) error {
	if !n.Status.CanTransitionTo(next) {
		return ErrInvalidTransition
	}
	n.Status = next
	n.CloseReason = reason
	n.UpdatedAt = now
	n.DecidedAt = &now
	return nil
}
