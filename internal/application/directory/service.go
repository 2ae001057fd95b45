// Package directory serves the incoming and outgoing negotiation lists.
package directory

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/swapshelf/swapshelf/internal/apperr"
	"github.com/swapshelf/swapshelf/internal/domain/item"
	"github.com/swapshelf/swapshelf/internal/domain/negotiation"
	"github.com/swapshelf/swapshelf/internal/domain/participant"
)

const (
	DefaultLimit = 50
	MaxLimit     = 200
)

// Source is one copy of the data the directory reads: the primary or a replica.
type Source struct {
	Negotiations negotiation.Repository
	Items        item.Repository
	Participants participant.Repository
}

// RecencyChecker reports whether a participant wrote inside the
// read-your-writes window.
type RecencyChecker interface {
	RecentlyWrote(ctx context.Context, participantID string) (bool, error)
}

// Entry is a negotiation joined with the current display data of its items
// and the counterparty's public profile.
type Entry struct {
	*negotiation.Negotiation
	RequestedItem *item.Summary        `json:"requestedItem,omitempty"`
	OfferedItem   *item.Summary        `json:"offeredItem,omitempty"`
	Counterparty  *participant.Profile `json:"counterparty,omitempty"`
}

// Query narrows a listing. Empty Statuses takes the listing's default.
type Query struct {
	Statuses []negotiation.Status
	Limit    int
	Offset   int
}

// Service handles directory reads.
type Service struct {
	primary Source
	replica *Source
	recency RecencyChecker
	logger  zerolog.Logger
}

// NewService creates a directory service. replica and recency may be nil, in
// which case every read goes to primary.
func NewService(primary Source, replica *Source, recency RecencyChecker, logger zerolog.Logger) *Service {
	return &Service{
		primary: primary,
		replica: replica,
		recency: recency,
		logger:  logger.With().Str("service", "directory").Logger(),
	}
}

// Incoming lists negotiations on the owner's items. Defaults to pending ones.
func (s *Service) Incoming(ctx context.Context, ownerID uuid.UUID, q Query) ([]*Entry, error) {
	if len(q.Statuses) == 0 {
		q.Statuses = []negotiation.Status{negotiation.StatusPending}
	}
	return s.list(ctx, ownerID, negotiation.Filter{OwnerID: &ownerID, Statuses: q.Statuses}, q)
}

// Outgoing lists negotiations the requester opened. Defaults to every status.
func (s *Service) Outgoing(ctx context.Context, requesterID uuid.UUID, q Query) ([]*Entry, error) {
	if len(q.Statuses) == 0 {
		q.Statuses = negotiation.AllStatuses
	}
	return s.list(ctx, requesterID, negotiation.Filter{RequesterID: &requesterID, Statuses: q.Statuses}, q)
}

func (s *Service) list(ctx context.Context, viewerID uuid.UUID, filter negotiation.Filter, q Query) ([]*Entry, error) {
	for _, st := range filter.Statuses {
		if !st.Valid() {
			return nil, apperr.Newf(apperr.CodeValidation, "unknown status %q", st)
		}
	}
	limit, offset := q.Limit, q.Offset
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	if offset < 0 {
		offset = 0
	}

	src := s.sourceFor(ctx, viewerID)
	negotiations, err := src.Negotiations.List(ctx, filter, limit, offset)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeStorageFailure, err, "failed to list negotiations")
	}
	return s.join(ctx, src, viewerID, negotiations)
}

// sourceFor routes a participant who just wrote to the primary so they read
// their own transitions.
func (s *Service) sourceFor(ctx context.Context, viewerID uuid.UUID) Source {
	if s.replica == nil || s.recency == nil {
		return s.primary
	}
	recent, err := s.recency.RecentlyWrote(ctx, viewerID.String())
	if err != nil {
		s.logger.Warn().Err(err).Str("participant_id", viewerID.String()).Msg("recency lookup failed, reading primary")
		return s.primary
	}
	if recent {
		return s.primary
	}
	return *s.replica
}

func (s *Service) join(ctx context.Context, src Source, viewerID uuid.UUID, negotiations []*negotiation.Negotiation) ([]*Entry, error) {
	entries := make([]*Entry, 0, len(negotiations))
	if len(negotiations) == 0 {
		return entries, nil
	}

	var itemIDs, participantIDs []uuid.UUID
	for _, n := range negotiations {
		itemIDs = append(itemIDs, n.ItemIDs()...)
		participantIDs = append(participantIDs, n.Counterparty(viewerID))
	}

	items, err := src.Items.GetMany(ctx, itemIDs)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeStorageFailure, err, "failed to load items")
	}
	people, err := src.Participants.GetMany(ctx, participantIDs)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeStorageFailure, err, "failed to load participants")
	}

	for _, n := range negotiations {
		e := &Entry{Negotiation: n}
		if it := items[n.RequestedItemID]; it != nil {
			summary := it.Summary()
			e.RequestedItem = &summary
		}
		if n.OfferedItemID != nil {
			if it := items[*n.OfferedItemID]; it != nil {
				summary := it.Summary()
				e.OfferedItem = &summary
			}
		}
		if p := people[n.Counterparty(viewerID)]; p != nil {
			profile := p.Profile()
			e.Counterparty = &profile
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// ParseStatuses parses a comma separated status list from a query string.
func ParseStatuses(values []string) ([]negotiation.Status, error) {
	var out []negotiation.Status
	for _, v := range values {
		st, err := negotiation.ParseStatus(v)
		if err != nil {
			return nil, apperr.Wrap(apperr.CodeValidation, err, err.Error())
		}
		out = append(out, st)
	}
	return out, nil
}
