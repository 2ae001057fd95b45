package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/swapshelf/swapshelf/internal/domain/message"
)

// MessageRepository implements message.Repository.
type MessageRepository struct {
	mu       sync.RWMutex
	messages map[uuid.UUID][]*message.Message
}

func NewMessageRepository() *MessageRepository {
	return &MessageRepository{messages: make(map[uuid.UUID][]*message.Message)}
}

func (r *MessageRepository) Append(ctx context.Context, m *message.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	log := r.messages[m.NegotiationID]
	if n := len(log); n > 0 && log[n-1].Seq >= m.Seq {
		return fmt.Errorf("message seq %d already used for negotiation %s", m.Seq, m.NegotiationID)
	}
	c := *m
	r.messages[m.NegotiationID] = append(log, &c)
	return nil
}

func (r *MessageRepository) Latest(ctx context.Context, negotiationID uuid.UUID) (*message.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	log := r.messages[negotiationID]
	if len(log) == 0 {
		return nil, nil
	}
	c := *log[len(log)-1]
	return &c, nil
}

func (r *MessageRepository) List(ctx context.Context, negotiationID uuid.UUID, afterSeq int64, limit int) ([]*message.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*message.Message
	for _, m := range r.messages[negotiationID] {
		if m.Seq <= afterSeq {
			continue
		}
		c := *m
		out = append(out, &c)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}
