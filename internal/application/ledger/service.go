// Package ledger is the only writer of item ownership and availability.
// Every operation runs against item repositories bound to the caller's
// transaction and takes the item's row lock first, so operations on one
// item never interleave.
package ledger

import (
	"bytes"
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/swapshelf/swapshelf/internal/apperr"
	"github.com/swapshelf/swapshelf/internal/domain/item"
)

// Service applies ledger transitions.
type Service struct {
	logger zerolog.Logger
}

// NewService creates a ledger service.
func NewService(logger zerolog.Logger) *Service {
	return &Service{
		logger: logger.With().Str("service", "ledger").Logger(),
	}
}

// Lock row-locks the given items in ascending id order and returns them by
// id. Missing items are absent from the map. Locking in a fixed order keeps
// two transactions over crossing item pairs from deadlocking.
func (s *Service) Lock(ctx context.Context, items item.Repository, itemIDs ...uuid.UUID) (map[uuid.UUID]*item.Item, error) {
	ids := uniqueSorted(itemIDs)
	out := make(map[uuid.UUID]*item.Item, len(ids))
	for _, id := range ids {
		it, err := items.GetForUpdate(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("lock item %s: %w", id, err)
		}
		if it != nil {
			out[id] = it
		}
	}
	return out, nil
}

// Reserve marks an available item as held by negotiationID.
func (s *Service) Reserve(ctx context.Context, items item.Repository, itemID, negotiationID uuid.UUID) error {
	it, err := s.load(ctx, items, itemID)
	if err != nil {
		return err
	}
	if !it.IsAvailable() {
		return apperr.Newf(apperr.CodeAlreadyReserved, "item %s is not available", itemID)
	}
	ok, err := items.ApplyTransition(ctx, item.Transition{
		ItemID:     itemID,
		From:       item.AvailabilityAvailable,
		To:         item.AvailabilityReserved,
		ReservedBy: &negotiationID,
	})
	if err != nil {
		return fmt.Errorf("reserve item %s: %w", itemID, err)
	}
	if !ok {
		return apperr.Newf(apperr.CodeAlreadyReserved, "item %s is not available", itemID)
	}
	s.logger.Debug().Str("item_id", itemID.String()).Str("negotiation_id", negotiationID.String()).Msg("item reserved")
	return nil
}

// Release returns an item held by negotiationID to available.
func (s *Service) Release(ctx context.Context, items item.Repository, itemID, negotiationID uuid.UUID) error {
	it, err := s.load(ctx, items, itemID)
	if err != nil {
		return err
	}
	if !it.IsReservedBy(negotiationID) {
		return apperr.Newf(apperr.CodeInvalidState, "item %s is not reserved by negotiation %s", itemID, negotiationID)
	}
	ok, err := items.ApplyTransition(ctx, item.Transition{
		ItemID:           itemID,
		From:             item.AvailabilityReserved,
		ExpectReservedBy: &negotiationID,
		To:               item.AvailabilityAvailable,
	})
	if err != nil {
		return fmt.Errorf("release item %s: %w", itemID, err)
	}
	if !ok {
		return apperr.Newf(apperr.CodeInvalidState, "item %s changed while releasing", itemID)
	}
	s.logger.Debug().Str("item_id", itemID.String()).Str("negotiation_id", negotiationID.String()).Msg("item released")
	return nil
}

// Transfer hands an item held by negotiationID to newOwner. The item is left
// TRANSFERRED, so a second Transfer for the same negotiation fails; Relist
// makes it available to its new owner.
func (s *Service) Transfer(ctx context.Context, items item.Repository, itemID, newOwner, negotiationID uuid.UUID) error {
	it, err := s.load(ctx, items, itemID)
	if err != nil {
		return err
	}
	if !it.IsReservedBy(negotiationID) {
		return apperr.Newf(apperr.CodeInvalidState, "item %s is not reserved by negotiation %s", itemID, negotiationID)
	}
	ok, err := items.ApplyTransition(ctx, item.Transition{
		ItemID:           itemID,
		From:             item.AvailabilityReserved,
		ExpectReservedBy: &negotiationID,
		To:               item.AvailabilityTransferred,
		NewOwner:         &newOwner,
	})
	if err != nil {
		return fmt.Errorf("transfer item %s: %w", itemID, err)
	}
	if !ok {
		return apperr.Newf(apperr.CodeInvalidState, "item %s changed while transferring", itemID)
	}
	s.logger.Info().
		Str("item_id", itemID.String()).
		Str("negotiation_id", negotiationID.String()).
		Str("from_owner", it.OwnerID.String()).
		Str("to_owner", newOwner.String()).
		Msg("item transferred")
	return nil
}

// Relist makes a transferred item available under its current owner.
func (s *Service) Relist(ctx context.Context, items item.Repository, itemID uuid.UUID) error {
	ok, err := items.ApplyTransition(ctx, item.Transition{
		ItemID: itemID,
		From:   item.AvailabilityTransferred,
		To:     item.AvailabilityAvailable,
	})
	if err != nil {
		return fmt.Errorf("relist item %s: %w", itemID, err)
	}
	if !ok {
		return apperr.Newf(apperr.CodeInvalidState, "item %s is not transferred", itemID)
	}
	return nil
}

func (s *Service) load(ctx context.Context, items item.Repository, itemID uuid.UUID) (*item.Item, error) {
	it, err := items.GetForUpdate(ctx, itemID)
	if err != nil {
		return nil, fmt.Errorf("load item %s: %w", itemID, err)
	}
	if it == nil {
		return nil, apperr.Newf(apperr.CodeNotFound, "item %s not found", itemID)
	}
	return it, nil
}

func uniqueSorted(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	return out
}
