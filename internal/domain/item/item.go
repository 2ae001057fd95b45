package item

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Availability represents whether an item can enter a negotiation.
type Availability string

const (
	AvailabilityAvailable Availability = "AVAILABLE"
	AvailabilityReserved  Availability = "RESERVED"
	// AvailabilityTransferred is held between an ownership change and the
	// relisting that closes the accepting transaction.
	AvailabilityTransferred Availability = "TRANSFERRED"
)

// Condition is the physical state of a book as declared by its owner.
type Condition string

const (
	ConditionNew  Condition = "New"
	ConditionUsed Condition = "Used"
	ConditionWorn Condition = "Worn"
)

// Item is a tradeable book with a single current owner.
type Item struct {
	ID           uuid.UUID    `json:"id"`
	OwnerID      uuid.UUID    `json:"ownerId"`
	Title        string       `json:"title"`
	Author       string       `json:"author"`
	Condition    Condition    `json:"condition"`
	Description  string       `json:"description,omitempty"`
	ImageURL     string       `json:"imageUrl,omitempty"`
	Availability Availability `json:"availability"`
	ReservedBy   *uuid.UUID   `json:"reservedBy,omitempty"`
	CreatedAt    time.Time    `json:"createdAt"`
	UpdatedAt    time.Time    `json:"updatedAt"`
}

func (i *Item) IsAvailable() bool {
	return i.Availability == AvailabilityAvailable
}

// IsReservedBy reports whether negotiationID holds the item's reservation.
func (i *Item) IsReservedBy(negotiationID uuid.UUID) bool {
	return i.Availability == AvailabilityReserved && i.ReservedBy != nil && *i.ReservedBy == negotiationID
}

// Summary is the display data shown next to a negotiation.
type Summary struct {
	ID          uuid.UUID `json:"id"`
	Title       string    `json:"title"`
	Author      string    `json:"author"`
	Condition   Condition `json:"condition"`
	Description string    `json:"description,omitempty"`
	ImageURL    string    `json:"imageUrl,omitempty"`
	OwnerID     uuid.UUID `json:"ownerId"`
}

func (i *Item) Summary() Summary {
	return Summary{
		ID:          i.ID,
		Title:       i.Title,
		Author:      i.Author,
		Condition:   i.Condition,
		Description: i.Description,
		ImageURL:    i.ImageURL,
		OwnerID:     i.OwnerID,
	}
}

func ParseCondition(s string) (Condition, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "new":
		return ConditionNew, nil
	case "used":
		return ConditionUsed, nil
	case "worn":
		return ConditionWorn, nil
	default:
		return "", errors.New("condition must be New, Used, or Worn")
	}
}
