// Package memory implements the persistence interfaces in process. It backs
// the "memory" storage driver and the package tests.
package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/swapshelf/swapshelf/internal/domain/item"
	"github.com/swapshelf/swapshelf/internal/domain/negotiation"
	"github.com/swapshelf/swapshelf/internal/domain/store"
)

type state struct {
	items        map[uuid.UUID]*item.Item
	negotiations map[uuid.UUID]*negotiation.Negotiation
}

func (s *state) clone() state {
	out := state{
		items:        make(map[uuid.UUID]*item.Item, len(s.items)),
		negotiations: make(map[uuid.UUID]*negotiation.Negotiation, len(s.negotiations)),
	}
	for id, it := range s.items {
		out.items[id] = copyItem(it)
	}
	for id, n := range s.negotiations {
		out.negotiations[id] = copyNegotiation(n)
	}
	return out
}

// Store holds items and negotiations behind one lock. A transaction holds
// the lock for its whole duration, which serializes every ledger operation.
type Store struct {
	mu    sync.Mutex
	state *state
}

func NewStore() *Store {
	return &Store{state: &state{
		items:        make(map[uuid.UUID]*item.Item),
		negotiations: make(map[uuid.UUID]*negotiation.Negotiation),
	}}
}

// Do implements store.UnitOfWork. On error every write made by fn is undone.
func (s *Store) Do(ctx context.Context, fn func(ctx context.Context, repos store.Repositories) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	snapshot := s.state.clone()
	repos := store.Repositories{
		Items:        &ItemRepository{state: s.state},
		Negotiations: &NegotiationRepository{state: s.state},
	}
	if err := fn(ctx, repos); err != nil {
		*s.state = snapshot
		return err
	}
	return nil
}

// Items returns a repository for reads and catalog writes outside a transaction.
func (s *Store) Items() *ItemRepository {
	return &ItemRepository{state: s.state, mu: &s.mu}
}

// Negotiations returns a repository for reads outside a transaction.
func (s *Store) Negotiations() *NegotiationRepository {
	return &NegotiationRepository{state: s.state, mu: &s.mu}
}

func lock(mu *sync.Mutex) func() {
	if mu == nil {
		return func() {}
	}
	mu.Lock()
	return mu.Unlock
}

func copyUUID(id *uuid.UUID) *uuid.UUID {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}

func copyItem(it *item.Item) *item.Item {
	if it == nil {
		return nil
	}
	c := *it
	c.ReservedBy = copyUUID(it.ReservedBy)
	return &c
}

func copyNegotiation(n *negotiation.Negotiation) *negotiation.Negotiation {
	if n == nil {
		return nil
	}
	c := *n
	c.OfferedItemID = copyUUID(n.OfferedItemID)
	if n.CloseReason != nil {
		reason := *n.CloseReason
		c.CloseReason = &reason
	}
	if n.DecidedAt != nil {
		at := *n.DecidedAt
		c.DecidedAt = &at
	}
	return &c
}

func page[T any](all []T, limit, offset int) []T {
	if offset >= len(all) {
		return nil
	}
	all = all[offset:]
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all
}
