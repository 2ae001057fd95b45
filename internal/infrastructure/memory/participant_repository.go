package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/swapshelf/swapshelf/internal/domain/participant"
)

// ParticipantRepository implements participant.Repository.
type ParticipantRepository struct {
	mu           sync.RWMutex
	participants map[uuid.UUID]*participant.Participant
}

func NewParticipantRepository() *ParticipantRepository {
	return &ParticipantRepository{participants: make(map[uuid.UUID]*participant.Participant)}
}

func (r *ParticipantRepository) Create(ctx context.Context, p *participant.Participant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.participants {
		if existing.Username == p.Username || existing.Email == p.Email {
			return participant.ErrDuplicate
		}
	}
	c := *p
	r.participants[p.ID] = &c
	return nil
}

func (r *ParticipantRepository) Update(ctx context.Context, p *participant.Participant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.participants[p.ID]; !ok {
		return nil
	}
	c := *p
	r.participants[p.ID] = &c
	return nil
}

func (r *ParticipantRepository) GetByID(ctx context.Context, participantID uuid.UUID) (*participant.Participant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.participants[participantID]
	if !ok {
		return nil, nil
	}
	c := *p
	return &c, nil
}

func (r *ParticipantRepository) GetByEmail(ctx context.Context, email string) (*participant.Participant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.participants {
		if p.Email == email {
			c := *p
			return &c, nil
		}
	}
	return nil, nil
}

func (r *ParticipantRepository) GetMany(ctx context.Context, participantIDs []uuid.UUID) (map[uuid.UUID]*participant.Participant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[uuid.UUID]*participant.Participant, len(participantIDs))
	for _, id := range participantIDs {
		if p, ok := r.participants[id]; ok {
			c := *p
			out[id] = &c
		}
	}
	return out, nil
}
