package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/swapshelf/swapshelf/internal/domain/audit"
)

// AuditRepository implements audit.Repository.
type AuditRepository struct {
	mu   sync.RWMutex
	logs []*audit.AuditLog
}

func NewAuditRepository() *AuditRepository {
	return &AuditRepository{}
}

func (r *AuditRepository) Create(ctx context.Context, log *audit.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *log
	r.logs = append(r.logs, &c)
	return nil
}

func (r *AuditRepository) ListByNegotiation(ctx context.Context, negotiationID uuid.UUID) ([]*audit.AuditLog, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*audit.AuditLog
	for _, l := range r.logs {
		if l.NegotiationID == negotiationID {
			c := *l
			out = append(out, &c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
