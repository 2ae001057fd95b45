package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/swapshelf/swapshelf/internal/domain/item"
)

// ItemRepository implements item.Repository.
type ItemRepository struct {
	state *state
	mu    *sync.Mutex
}

func (r *ItemRepository) Create(ctx context.Context, it *item.Item) error {
	defer lock(r.mu)()
	if _, ok := r.state.items[it.ID]; ok {
		return errors.New("item already exists")
	}
	r.state.items[it.ID] = copyItem(it)
	return nil
}

func (r *ItemRepository) UpdateDetails(ctx context.Context, it *item.Item) error {
	defer lock(r.mu)()
	stored, ok := r.state.items[it.ID]
	if !ok {
		return nil
	}
	stored.Title = it.Title
	stored.Author = it.Author
	stored.Condition = it.Condition
	stored.Description = it.Description
	stored.ImageURL = it.ImageURL
	stored.UpdatedAt = it.UpdatedAt
	return nil
}

func (r *ItemRepository) Delete(ctx context.Context, itemID uuid.UUID) error {
	defer lock(r.mu)()
	delete(r.state.items, itemID)
	return nil
}

func (r *ItemRepository) GetByID(ctx context.Context, itemID uuid.UUID) (*item.Item, error) {
	defer lock(r.mu)()
	return copyItem(r.state.items[itemID]), nil
}

func (r *ItemRepository) GetMany(ctx context.Context, itemIDs []uuid.UUID) (map[uuid.UUID]*item.Item, error) {
	defer lock(r.mu)()
	out := make(map[uuid.UUID]*item.Item, len(itemIDs))
	for _, id := range itemIDs {
		if it, ok := r.state.items[id]; ok {
			out[id] = copyItem(it)
		}
	}
	return out, nil
}

// GetForUpdate needs no extra locking: inside Store.Do the store lock is
// already held.
func (r *ItemRepository) GetForUpdate(ctx context.Context, itemID uuid.UUID) (*item.Item, error) {
	return r.GetByID(ctx, itemID)
}

func (r *ItemRepository) ApplyTransition(ctx context.Context, t item.Transition) (bool, error) {
	defer lock(r.mu)()
	stored, ok := r.state.items[t.ItemID]
	if !ok || stored.Availability != t.From || !sameUUID(stored.ReservedBy, t.ExpectReservedBy) {
		return false, nil
	}
	stored.Availability = t.To
	stored.ReservedBy = copyUUID(t.ReservedBy)
	if t.NewOwner != nil {
		stored.OwnerID = *t.NewOwner
	}
	stored.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (r *ItemRepository) List(ctx context.Context, filter item.Filter, limit, offset int) ([]*item.Item, error) {
	defer lock(r.mu)()
	var out []*item.Item
	for _, it := range r.state.items {
		if filter.OwnerID != nil && it.OwnerID != *filter.OwnerID {
			continue
		}
		if filter.ExcludeOwnerID != nil && it.OwnerID == *filter.ExcludeOwnerID {
			continue
		}
		if filter.Availability != nil && it.Availability != *filter.Availability {
			continue
		}
		out = append(out, copyItem(it))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return page(out, limit, offset), nil
}

func sameUUID(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
