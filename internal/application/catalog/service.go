// Package catalog manages the display data of items. It never writes
// ownership or availability; those belong to the ledger.
package catalog

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/swapshelf/swapshelf/internal/apperr"
	"github.com/swapshelf/swapshelf/internal/domain/item"
	"github.com/swapshelf/swapshelf/internal/domain/negotiation"
	"github.com/swapshelf/swapshelf/internal/domain/store"
)

const (
	DefaultLimit = 50
	MaxLimit     = 200

	maxTitleLength       = 200
	maxDescriptionLength = 2000

	// ReasonItemDeleted is recorded on negotiations cancelled by a delete.
	ReasonItemDeleted = "item deleted"
)

// Canceller cascades an item delete into its pending negotiations.
type Canceller interface {
	CancelWithin(ctx context.Context, repos store.Repositories, itemID uuid.UUID, reason string) ([]*negotiation.Negotiation, error)
	AnnounceCancelled(ctx context.Context, cancelled []*negotiation.Negotiation, reason string)
}

// Service handles item catalog operations.
type Service struct {
	uow       store.UnitOfWork
	items     item.Repository
	canceller Canceller
	logger    zerolog.Logger
	now       func() time.Time
}

// NewService creates a catalog service. items serves reads and inserts
// outside a transaction.
func NewService(uow store.UnitOfWork, items item.Repository, canceller Canceller, logger zerolog.Logger) *Service {
	return &Service{
		uow:       uow,
		items:     items,
		canceller: canceller,
		logger:    logger.With().Str("service", "catalog").Logger(),
		now:       func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
	}
}

// ItemInput defines the editable fields of an item.
type ItemInput struct {
	Title       string
	Author      string
	Condition   string
	Description string
	ImageURL    string
}

func (in ItemInput) normalize() (ItemInput, item.Condition, error) {
	in.Title = strings.TrimSpace(in.Title)
	in.Author = strings.TrimSpace(in.Author)
	in.Description = strings.TrimSpace(in.Description)
	in.ImageURL = strings.TrimSpace(in.ImageURL)
	if in.Title == "" || in.Author == "" {
		return in, "", apperr.New(apperr.CodeValidation, "title and author are required")
	}
	if len(in.Title) > maxTitleLength || len(in.Author) > maxTitleLength {
		return in, "", apperr.Newf(apperr.CodeValidation, "title and author must be at most %d characters", maxTitleLength)
	}
	if len(in.Description) > maxDescriptionLength {
		return in, "", apperr.Newf(apperr.CodeValidation, "description must be at most %d characters", maxDescriptionLength)
	}
	cond, err := item.ParseCondition(in.Condition)
	if err != nil {
		return in, "", apperr.Wrap(apperr.CodeValidation, err, err.Error())
	}
	return in, cond, nil
}

// Create lists a new available item owned by ownerID.
func (s *Service) Create(ctx context.Context, ownerID uuid.UUID, input ItemInput) (*item.Item, error) {
	input, cond, err := input.normalize()
	if err != nil {
		return nil, err
	}
	now := s.now()
	it := &item.Item{
		ID:           uuid.New(),
		OwnerID:      ownerID,
		Title:        input.Title,
		Author:       input.Author,
		Condition:    cond,
		Description:  input.Description,
		ImageURL:     input.ImageURL,
		Availability: item.AvailabilityAvailable,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.items.Create(ctx, it); err != nil {
		return nil, apperr.Wrap(apperr.CodeStorageFailure, err, "failed to create item")
	}
	s.logger.Info().Str("item_id", it.ID.String()).Str("participant_id", ownerID.String()).Msg("item listed")
	return it, nil
}

func (s *Service) Get(ctx context.Context, itemID uuid.UUID) (*item.Item, error) {
	it, err := s.items.GetByID(ctx, itemID)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeStorageFailure, err, "failed to load item")
	}
	if it == nil {
		return nil, apperr.Newf(apperr.CodeNotFound, "item %s not found", itemID)
	}
	return it, nil
}

// ListMine returns every item the participant owns, whatever its availability.
func (s *Service) ListMine(ctx context.Context, ownerID uuid.UUID, limit, offset int) ([]*item.Item, error) {
	return s.list(ctx, item.Filter{OwnerID: &ownerID}, limit, offset)
}

// ListAvailable returns items others own that can still be requested.
func (s *Service) ListAvailable(ctx context.Context, viewerID uuid.UUID, limit, offset int) ([]*item.Item, error) {
	available := item.AvailabilityAvailable
	return s.list(ctx, item.Filter{ExcludeOwnerID: &viewerID, Availability: &available}, limit, offset)
}

func (s *Service) list(ctx context.Context, filter item.Filter, limit, offset int) ([]*item.Item, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	if offset < 0 {
		offset = 0
	}
	items, err := s.items.List(ctx, filter, limit, offset)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeStorageFailure, err, "failed to list items")
	}
	if items == nil {
		items = []*item.Item{}
	}
	return items, nil
}

// Update edits display fields. Only the owner may edit, checked under the
// item's row lock.
func (s *Service) Update(ctx context.Context, actorID, itemID uuid.UUID, input ItemInput) (*item.Item, error) {
	input, cond, err := input.normalize()
	if err != nil {
		return nil, err
	}
	var updated *item.Item
	err = s.uow.Do(ctx, func(ctx context.Context, repos store.Repositories) error {
		it, err := repos.Items.GetForUpdate(ctx, itemID)
		if err != nil {
			return fmt.Errorf("lock item: %w", err)
		}
		if it == nil {
			return apperr.Newf(apperr.CodeNotFound, "item %s not found", itemID)
		}
		if it.OwnerID != actorID {
			return apperr.New(apperr.CodeForbidden, "only the owner can edit this item")
		}
		it.Title = input.Title
		it.Author = input.Author
		it.Condition = cond
		it.Description = input.Description
		it.ImageURL = input.ImageURL
		it.UpdatedAt = s.now()
		if err := repos.Items.UpdateDetails(ctx, it); err != nil {
			return fmt.Errorf("update item: %w", err)
		}
		updated = it
		return nil
	})
	if err != nil {
		if _, typed := apperr.As(err); !typed {
			s.logger.Error().Err(err).Str("item_id", itemID.String()).Msg("item update failed")
			err = apperr.Wrap(apperr.CodeStorageFailure, err, "failed to update item")
		}
		return nil, err
	}
	return updated, nil
}

// Delete removes the owner's item and rejects every pending negotiation on
// it in the same transaction.
func (s *Service) Delete(ctx context.Context, actorID, itemID uuid.UUID) ([]*negotiation.Negotiation, error) {
	return s.remove(ctx, itemID, &actorID, ReasonItemDeleted)
}

// RemoveItem deletes an item on behalf of an external catalog event. An
// already deleted item is not an error.
func (s *Service) RemoveItem(ctx context.Context, itemID uuid.UUID, reason string) ([]*negotiation.Negotiation, error) {
	if reason == "" {
		reason = ReasonItemDeleted
	}
	cancelled, err := s.remove(ctx, itemID, nil, reason)
	if apperr.Is(err, apperr.CodeNotFound) {
		return nil, nil
	}
	return cancelled, err
}

func (s *Service) remove(ctx context.Context, itemID uuid.UUID, actorID *uuid.UUID, reason string) ([]*negotiation.Negotiation, error) {
	ctx = context.WithoutCancel(ctx)
	var cancelled []*negotiation.Negotiation
	err := s.uow.Do(ctx, func(ctx context.Context, repos store.Repositories) error {
		it, err := repos.Items.GetByID(ctx, itemID)
		if err != nil {
			return fmt.Errorf("load item: %w", err)
		}
		if it == nil {
			return apperr.Newf(apperr.CodeNotFound, "item %s not found", itemID)
		}
		if actorID != nil && it.OwnerID != *actorID {
			return apperr.New(apperr.CodeForbidden, "only the owner can delete this item")
		}

		// CancelWithin takes the item locks in ledger order.
		cancelled, err = s.canceller.CancelWithin(ctx, repos, itemID, reason)
		if err != nil {
			return err
		}
		locked, err := repos.Items.GetForUpdate(ctx, itemID)
		if err != nil {
			return fmt.Errorf("lock item: %w", err)
		}
		if locked == nil {
			return apperr.Newf(apperr.CodeNotFound, "item %s not found", itemID)
		}
		if actorID != nil && locked.OwnerID != *actorID {
			return apperr.New(apperr.CodeForbidden, "only the owner can delete this item")
		}
		if err := repos.Items.Delete(ctx, itemID); err != nil {
			return fmt.Errorf("delete item: %w", err)
		}
		return nil
	})
	if err != nil {
		if _, typed := apperr.As(err); !typed {
			s.logger.Error().Err(err).Str("item_id", itemID.String()).Msg("item delete failed")
			err = apperr.Wrap(apperr.CodeStorageFailure, err, "delete could not be committed")
		}
		return nil, err
	}

	s.logger.Info().
		Str("item_id", itemID.String()).
		Int("cancelled", len(cancelled)).
		Msg("item deleted")
	s.canceller.AnnounceCancelled(ctx, cancelled, reason)
	return cancelled, nil
}
