// Package exchange is the negotiation state machine. It owns every status
// write on a negotiation and drives the ledger inside the same transaction.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/swapshelf/swapshelf/internal/application/ledger"
	"github.com/swapshelf/swapshelf/internal/apperr"
	"github.com/swapshelf/swapshelf/internal/domain/audit"
	"github.com/swapshelf/swapshelf/internal/domain/item"
	"github.com/swapshelf/swapshelf/internal/domain/negotiation"
	"github.com/swapshelf/swapshelf/internal/domain/store"
)

// Lifecycle event names published to participants.
const (
	EventCreated   = "negotiation.created"
	EventAccepted  = "negotiation.accepted"
	EventRejected  = "negotiation.rejected"
	EventCancelled = "negotiation.cancelled"
)

// Notifier pushes lifecycle events to the two parties of a negotiation.
type Notifier interface {
	NotifyNegotiation(ctx context.Context, event string, n *negotiation.Negotiation)
}

// Auditor records lifecycle transitions.
type Auditor interface {
	Log(ctx context.Context, entry *audit.Entry)
}

// RecencyMarker remembers participants who just wrote so their next reads
// observe the write.
type RecencyMarker interface {
	MarkWrite(ctx context.Context, participantID string) error
}

// Limiter throttles negotiation creation per requester.
type Limiter interface {
	Allow(ctx context.Context, scope string) (bool, error)
}

// Recorder observes operation outcomes.
type Recorder interface {
	ObserveOperation(op, code string, d time.Duration)
}

// Service handles negotiation lifecycle operations.
type Service struct {
	uow          store.UnitOfWork
	negotiations negotiation.Repository
	ledger       *ledger.Service
	notifier     Notifier
	auditor      Auditor
	recency      RecencyMarker
	limiter      Limiter
	recorder     Recorder
	logger       zerolog.Logger
	now          func() time.Time
}

// NewService creates the exchange service. negotiations serves reads outside
// a transaction. notifier, auditor, recency, limiter and recorder may be nil.
func NewService(
	uow store.UnitOfWork,
	negotiations negotiation.Repository,
	ledgerSvc *ledger.Service,
	notifier Notifier,
	auditor Auditor,
	recency RecencyMarker,
	limiter Limiter,
	recorder Recorder,
	logger zerolog.Logger,
) *Service {
	return &Service{
		uow:          uow,
		negotiations: negotiations,
		ledger:       ledgerSvc,
		notifier:     notifier,
		auditor:      auditor,
		recency:      recency,
		limiter:      limiter,
		recorder:     recorder,
		logger:       logger.With().Str("service", "exchange").Logger(),
		now:          func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
	}
}

// CreateInput describes a new negotiation request.
type CreateInput struct {
	RequestedItemID uuid.UUID
	OfferedItemID   *uuid.UUID
	Kind            negotiation.Kind
}

// CreateNegotiation opens a pending negotiation and reserves its items.
// The availability check and the reservation happen under the items' row
// locks in one transaction, so two concurrent requests for the same item
// cannot both succeed.
func (s *Service) CreateNegotiation(ctx context.Context, requesterID uuid.UUID, in CreateInput) (*negotiation.Negotiation, error) {
	ctx = context.WithoutCancel(ctx)
	if in.Kind == "" {
		in.Kind = negotiation.KindPaired
	}
	switch in.Kind {
	case negotiation.KindPaired:
		if in.OfferedItemID == nil {
			return nil, apperr.New(apperr.CodeInvalidOffer, "a paired negotiation needs an offered item")
		}
		if *in.OfferedItemID == in.RequestedItemID {
			return nil, apperr.New(apperr.CodeInvalidOffer, "offered item must differ from the requested item")
		}
	case negotiation.KindOneWay:
		if in.OfferedItemID != nil {
			return nil, apperr.New(apperr.CodeInvalidOffer, "a one-way negotiation carries no offered item")
		}
	default:
		return nil, apperr.Newf(apperr.CodeValidation, "unknown negotiation kind %q", in.Kind)
	}
	if err := s.allow(ctx, requesterID); err != nil {
		return nil, err
	}

	var created *negotiation.Negotiation
	err := s.run(ctx, "create", func(ctx context.Context, repos store.Repositories) error {
		ids := []uuid.UUID{in.RequestedItemID}
		if in.OfferedItemID != nil {
			ids = append(ids, *in.OfferedItemID)
		}
		locked, err := s.ledger.Lock(ctx, repos.Items, ids...)
		if err != nil {
			return err
		}

		requested := locked[in.RequestedItemID]
		if requested == nil {
			return apperr.Newf(apperr.CodeNotFound, "item %s not found", in.RequestedItemID)
		}
		if requested.OwnerID == requesterID {
			return apperr.New(apperr.CodeSelfDealing, "cannot request your own item")
		}
		if !requested.IsAvailable() {
			return apperr.Newf(apperr.CodeAlreadyReserved, "item %s already has a pending negotiation", requested.ID)
		}
		if in.OfferedItemID != nil {
			if err := checkOffer(locked[*in.OfferedItemID], requesterID); err != nil {
				return err
			}
		}

		now := s.now()
		n := &negotiation.Negotiation{
			ID:              uuid.New(),
			RequestedItemID: in.RequestedItemID,
			OfferedItemID:   in.OfferedItemID,
			RequesterID:     requesterID,
			OwnerID:         requested.OwnerID,
			Kind:            in.Kind,
			Status:          negotiation.StatusPending,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := repos.Negotiations.Create(ctx, n); err != nil {
			if errors.Is(err, negotiation.ErrPendingConflict) {
				return apperr.Wrap(apperr.CodeAlreadyReserved, err, "item already has a pending negotiation")
			}
			return fmt.Errorf("insert negotiation: %w", err)
		}
		for _, id := range n.ItemIDs() {
			if err := s.ledger.Reserve(ctx, repos.Items, id, n.ID); err != nil {
				return err
			}
		}
		created = n
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.afterCommit(ctx, EventCreated, audit.ActionCreated, created, nil, &requesterID, "")
	return created, nil
}

func checkOffer(offered *item.Item, requesterID uuid.UUID) error {
	if offered == nil {
		return apperr.New(apperr.CodeInvalidOffer, "offered item not found")
	}
	if offered.OwnerID != requesterID {
		return apperr.New(apperr.CodeInvalidOffer, "offered item is not owned by the requester")
	}
	if !offered.IsAvailable() {
		return apperr.New(apperr.CodeInvalidOffer, "offered item is reserved by another negotiation")
	}
	return nil
}

// Accept transfers the requested item to the requester and, for a paired
// negotiation, the offered item to the owner. The transfers and the status
// write commit together.
func (s *Service) Accept(ctx context.Context, negotiationID, actorID uuid.UUID) (*negotiation.Negotiation, error) {
	return s.decide(ctx, negotiationID, actorID, negotiation.StatusAccepted)
}

// Reject closes the negotiation and releases its reservations.
func (s *Service) Reject(ctx context.Context, negotiationID, actorID uuid.UUID) (*negotiation.Negotiation, error) {
	return s.decide(ctx, negotiationID, actorID, negotiation.StatusRejected)
}

func (s *Service) decide(ctx context.Context, negotiationID, actorID uuid.UUID, next negotiation.Status) (*negotiation.Negotiation, error) {
	ctx = context.WithoutCancel(ctx)
	op := "reject"
	if next == negotiation.StatusAccepted {
		op = "accept"
	}

	var decided *negotiation.Negotiation
	err := s.run(ctx, op, func(ctx context.Context, repos store.Repositories) error {
		n, err := repos.Negotiations.GetByID(ctx, negotiationID)
		if err != nil {
			return fmt.Errorf("load negotiation: %w", err)
		}
		if n == nil {
			return apperr.Newf(apperr.CodeNotFound, "negotiation %s not found", negotiationID)
		}
		if n.OwnerID != actorID {
			return apperr.New(apperr.CodeForbidden, "only the item owner can decide this negotiation")
		}

		// Items first, then the negotiation row: the same order every
		// other writer uses.
		locked, err := s.ledger.Lock(ctx, repos.Items, n.ItemIDs()...)
		if err != nil {
			return err
		}
		n, err = repos.Negotiations.GetForUpdate(ctx, negotiationID)
		if err != nil {
			return fmt.Errorf("lock negotiation: %w", err)
		}
		if n == nil {
			return apperr.Newf(apperr.CodeNotFound, "negotiation %s not found", negotiationID)
		}
		if n.Status != negotiation.StatusPending {
			return apperr.Newf(apperr.CodeInvalidState, "negotiation is already %s", n.Status)
		}

		if next == negotiation.StatusAccepted {
			err = s.transferItems(ctx, repos, n, locked)
		} else {
			err = s.releaseItems(ctx, repos, n, locked)
		}
		if err != nil {
			return err
		}

		if err := s.commitStatus(ctx, repos, n, next, nil); err != nil {
			return err
		}
		if next == negotiation.StatusAccepted {
			for _, id := range n.ItemIDs() {
				if err := s.ledger.Relist(ctx, repos.Items, id); err != nil {
					return err
				}
			}
		}
		decided = n
		return nil
	})
	if err != nil {
		return nil, err
	}

	event, action := EventRejected, audit.ActionRejected
	if next == negotiation.StatusAccepted {
		event, action = EventAccepted, audit.ActionAccepted
	}
	from := negotiation.StatusPending
	s.afterCommit(ctx, event, action, decided, &from, &actorID, "")
	return decided, nil
}

func (s *Service) transferItems(ctx context.Context, repos store.Repositories, n *negotiation.Negotiation, locked map[uuid.UUID]*item.Item) error {
	requested := locked[n.RequestedItemID]
	if requested == nil {
		return apperr.Newf(apperr.CodeNotFound, "item %s not found", n.RequestedItemID)
	}
	if requested.OwnerID != n.OwnerID {
		return apperr.New(apperr.CodeInvalidState, "requested item changed owner")
	}
	if n.Kind == negotiation.KindPaired {
		if n.OfferedItemID == nil {
			return apperr.New(apperr.CodeInvalidState, "paired negotiation has no offered item")
		}
		offered := locked[*n.OfferedItemID]
		if offered == nil || offered.OwnerID != n.RequesterID {
			return apperr.New(apperr.CodeOfferInvalidated, "offered item is no longer owned by the requester")
		}
	}

	if err := s.ledger.Transfer(ctx, repos.Items, n.RequestedItemID, n.RequesterID, n.ID); err != nil {
		return err
	}
	if n.Kind == negotiation.KindPaired {
		if err := s.ledger.Transfer(ctx, repos.Items, *n.OfferedItemID, n.OwnerID, n.ID); err != nil {
			return err
		}
	}
	return nil
}

// releaseItems releases only reservations the negotiation still holds.
func (s *Service) releaseItems(ctx context.Context, repos store.Repositories, n *negotiation.Negotiation, locked map[uuid.UUID]*item.Item) error {
	for _, id := range n.ItemIDs() {
		it := locked[id]
		if it == nil || !it.IsReservedBy(n.ID) {
			s.logger.Warn().
				Str("negotiation_id", n.ID.String()).
				Str("item_id", id.String()).
				Msg("negotiation item not reserved at release")
			continue
		}
		if err := s.ledger.Release(ctx, repos.Items, id, n.ID); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) commitStatus(ctx context.Context, repos store.Repositories, n *negotiation.Negotiation, next negotiation.Status, reason *string) error {
	if err := n.Decide(next, reason, s.now()); err != nil {
		return apperr.Wrap(apperr.CodeInvalidState, err, "negotiation is no longer pending")
	}
	ok, err := repos.Negotiations.UpdateStatus(ctx, n, negotiation.StatusPending)
	if err != nil {
		return fmt.Errorf("update negotiation status: %w", err)
	}
	if !ok {
		return apperr.New(apperr.CodeInvalidState, "negotiation is no longer pending")
	}
	return nil
}

// CancelForItem rejects every pending negotiation that references itemID and
// releases their reservations.
func (s *Service) CancelForItem(ctx context.Context, itemID uuid.UUID, reason string) ([]*negotiation.Negotiation, error) {
	ctx = context.WithoutCancel(ctx)
	var cancelled []*negotiation.Negotiation
	err := s.run(ctx, "cancel", func(ctx context.Context, repos store.Repositories) error {
		var err error
		cancelled, err = s.CancelWithin(ctx, repos, itemID, reason)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.AnnounceCancelled(ctx, cancelled, reason)
	return cancelled, nil
}

// CancelWithin is CancelForItem for a caller that already owns the
// transaction, such as the catalog deleting the item in the same commit.
// The caller must call AnnounceCancelled after committing.
func (s *Service) CancelWithin(ctx context.Context, repos store.Repositories, itemID uuid.UUID, reason string) ([]*negotiation.Negotiation, error) {
	pending, err := repos.Negotiations.ListPendingByItem(ctx, itemID)
	if err != nil {
		return nil, fmt.Errorf("list pending negotiations: %w", err)
	}
	ids := []uuid.UUID{itemID}
	for _, n := range pending {
		ids = append(ids, n.ItemIDs()...)
	}
	locked, err := s.ledger.Lock(ctx, repos.Items, ids...)
	if err != nil {
		return nil, err
	}
	// Nothing new can reference itemID once its row is locked.
	pending, err = repos.Negotiations.ListPendingByItem(ctx, itemID)
	if err != nil {
		return nil, fmt.Errorf("list pending negotiations: %w", err)
	}

	var cancelled []*negotiation.Negotiation
	for _, p := range pending {
		for _, id := range p.ItemIDs() {
			if _, ok := locked[id]; ok {
				continue
			}
			more, err := s.ledger.Lock(ctx, repos.Items, id)
			if err != nil {
				return nil, err
			}
			locked[id] = more[id]
		}
		n, err := repos.Negotiations.GetForUpdate(ctx, p.ID)
		if err != nil {
			return nil, fmt.Errorf("lock negotiation: %w", err)
		}
		if n == nil || n.Status != negotiation.StatusPending {
			continue
		}
		if err := s.releaseItems(ctx, repos, n, locked); err != nil {
			return nil, err
		}
		r := reason
		if err := s.commitStatus(ctx, repos, n, negotiation.StatusRejected, &r); err != nil {
			return nil, err
		}
		cancelled = append(cancelled, n)
	}
	return cancelled, nil
}

// AnnounceCancelled publishes committed cascade cancellations.
func (s *Service) AnnounceCancelled(ctx context.Context, cancelled []*negotiation.Negotiation, reason string) {
	from := negotiation.StatusPending
	for _, n := range cancelled {
		s.afterCommit(ctx, EventCancelled, audit.ActionCancelled, n, &from, nil, reason)
	}
}

// Get returns a negotiation visible to viewerID.
func (s *Service) Get(ctx context.Context, negotiationID, viewerID uuid.UUID) (*negotiation.Negotiation, error) {
	n, err := s.Participants(ctx, negotiationID)
	if err != nil {
		return nil, err
	}
	if !n.IsParticipant(viewerID) {
		return nil, apperr.New(apperr.CodeForbidden, "not a party to this negotiation")
	}
	return n, nil
}

// Participants loads a negotiation so callers can check who may act on it.
func (s *Service) Participants(ctx context.Context, negotiationID uuid.UUID) (*negotiation.Negotiation, error) {
	n, err := s.negotiations.GetByID(ctx, negotiationID)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeStorageFailure, err, "failed to load negotiation")
	}
	if n == nil {
		return nil, apperr.Newf(apperr.CodeNotFound, "negotiation %s not found", negotiationID)
	}
	return n, nil
}

func (s *Service) run(ctx context.Context, op string, fn func(ctx context.Context, repos store.Repositories) error) error {
	start := time.Now()
	err := s.uow.Do(ctx, fn)
	if err != nil {
		if _, typed := apperr.As(err); !typed {
			s.logger.Error().Err(err).Str("op", op).Msg("negotiation transaction failed")
			err = apperr.Wrap(apperr.CodeStorageFailure, err, op+" could not be committed")
		}
	}
	if s.recorder != nil {
		s.recorder.ObserveOperation(op, string(apperr.CodeOf(err)), time.Since(start))
	}
	return err
}

func (s *Service) allow(ctx context.Context, requesterID uuid.UUID) error {
	if s.limiter == nil {
		return nil
	}
	ok, err := s.limiter.Allow(ctx, "negotiation:create:"+requesterID.String())
	if err != nil {
		s.logger.Warn().Err(err).Msg("rate limiter unavailable")
		return nil
	}
	if !ok {
		return apperr.New(apperr.CodeRateLimited, "too many negotiation requests")
	}
	return nil
}

func (s *Service) afterCommit(ctx context.Context, event string, action audit.Action, n *negotiation.Negotiation, from *negotiation.Status, actorID *uuid.UUID, reason string) {
	s.logger.Info().
		Str("negotiation_id", n.ID.String()).
		Str("event", event).
		Str("status", string(n.Status)).
		Str("item_id", n.RequestedItemID.String()).
		Msg("negotiation transition committed")

	if s.recency != nil {
		for _, id := range []uuid.UUID{n.RequesterID, n.OwnerID} {
			if err := s.recency.MarkWrite(ctx, id.String()); err != nil {
				s.logger.Warn().Err(err).Str("participant_id", id.String()).Msg("failed to mark recent write")
			}
		}
	}
	if s.auditor != nil {
		s.auditor.Log(ctx, &audit.Entry{
			NegotiationID: n.ID,
			Action:        action,
			ActorID:       actorID,
			FromStatus:    from,
			ToStatus:      n.Status,
			ItemIDs:       n.ItemIDs(),
			Reason:        reason,
			OccurredAt:    s.now(),
		})
	}
	if s.notifier != nil {
		s.notifier.NotifyNegotiation(ctx, event, n)
	}
}
