package memory

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/swapshelf/swapshelf/internal/domain/negotiation"
)

// NegotiationRepository implements negotiation.Repository.
type NegotiationRepository struct {
	state *state
	mu    *sync.Mutex
}

// Create rejects a pending negotiation that shares an item with another
// pending negotiation, mirroring the partial unique indexes in Postgres.
func (r *NegotiationRepository) Create(ctx context.Context, n *negotiation.Negotiation) error {
	defer lock(r.mu)()
	if _, ok := r.state.negotiations[n.ID]; ok {
		return errors.New("negotiation already exists")
	}
	if n.Status == negotiation.StatusPending {
		for _, existing := range r.state.negotiations {
			if existing.Status != negotiation.StatusPending {
				continue
			}
			for _, id := range n.ItemIDs() {
				if existing.References(id) {
					return negotiation.ErrPendingConflict
				}
			}
		}
	}
	r.state.negotiations[n.ID] = copyNegotiation(n)
	return nil
}

func (r *NegotiationRepository) GetByID(ctx context.Context, negotiationID uuid.UUID) (*negotiation.Negotiation, error) {
	defer lock(r.mu)()
	return copyNegotiation(r.state.negotiations[negotiationID]), nil
}

func (r *NegotiationRepository) GetForUpdate(ctx context.Context, negotiationID uuid.UUID) (*negotiation.Negotiation, error) {
	return r.GetByID(ctx, negotiationID)
}

func (r *NegotiationRepository) UpdateStatus(ctx context.Context, n *negotiation.Negotiation, from negotiation.Status) (bool, error) {
	defer lock(r.mu)()
	stored, ok := r.state.negotiations[n.ID]
	if !ok || stored.Status != from {
		return false, nil
	}
	updated := copyNegotiation(n)
	updated.CreatedAt = stored.CreatedAt
	r.state.negotiations[n.ID] = updated
	return true, nil
}

func (r *NegotiationRepository) ListPendingByItem(ctx context.Context, itemID uuid.UUID) ([]*negotiation.Negotiation, error) {
	defer lock(r.mu)()
	var out []*negotiation.Negotiation
	for _, n := range r.state.negotiations {
		if n.Status == negotiation.StatusPending && n.References(itemID) {
			out = append(out, copyNegotiation(n))
		}
	}
	sortNewestFirst(out)
	return out, nil
}

func (r *NegotiationRepository) List(ctx context.Context, filter negotiation.Filter, limit, offset int) ([]*negotiation.Negotiation, error) {
	defer lock(r.mu)()
	var out []*negotiation.Negotiation
	for _, n := range r.state.negotiations {
		if filter.OwnerID != nil && n.OwnerID != *filter.OwnerID {
			continue
		}
		if filter.RequesterID != nil && n.RequesterID != *filter.RequesterID {
			continue
		}
		if len(filter.Statuses) > 0 && !containsStatus(filter.Statuses, n.Status) {
			continue
		}
		out = append(out, copyNegotiation(n))
	}
	sortNewestFirst(out)
	return page(out, limit, offset), nil
}

func containsStatus(statuses []negotiation.Status, s negotiation.Status) bool {
	for _, v := range statuses {
		if v == s {
			return true
		}
	}
	return false
}

func sortNewestFirst(ns []*negotiation.Negotiation) {
	sort.Slice(ns, func(i, j int) bool {
		if ns[i].CreatedAt.Equal(ns[j].CreatedAt) {
			return ns[i].ID.String() < ns[j].ID.String()
		}
		return ns[i].CreatedAt.After(ns[j].CreatedAt)
	})
}
