package audit

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swapshelf/swapshelf/internal/domain/audit"
	"github.com/swapshelf/swapshelf/internal/domain/negotiation"
	"github.com/swapshelf/swapshelf/internal/infrastructure/memory"
)

func TestLogAndTrail(t *testing.T) {
	ctx := context.Background()
	svc := NewService(memory.NewAuditRepository(), zerolog.Nop(), []byte("k"))
	negID := uuid.New()

	svc.Log(ctx, &audit.Entry{NegotiationID: negID, Action: audit.ActionCreated, ToStatus: negotiation.StatusPending})
	svc.Wait()
	from := negotiation.StatusPending
	require.NoError(t, svc.LogSync(ctx, &audit.Entry{NegotiationID: negID, Action: audit.ActionAccepted, FromStatus: &from, ToStatus: negotiation.StatusAccepted}))

	trail, err := svc.Trail(ctx, negID)
	require.NoError(t, err)
	require.Len(t, trail, 2)
	assert.Equal(t, audit.ActionCreated, trail[0].Action)
	assert.Equal(t, audit.ActionAccepted, trail[1].Action)
	for _, e := range trail {
		require.NotNil(t, e.Verified)
		assert.True(t, *e.Verified)
	}
}

func TestLogSyncRejectsIncompleteEntry(t *testing.T) {
	svc := NewService(memory.NewAuditRepository(), zerolog.Nop(), nil)
	assert.Error(t, svc.LogSync(context.Background(), &audit.Entry{Action: audit.ActionCreated}))
}

// slowCreated delays the write of creation entries so they land after
// later entries.
type slowCreated struct {
	*memory.AuditRepository
	release chan struct{}
}

func (r *slowCreated) Create(ctx context.Context, log *audit.AuditLog) error {
	if log.Action == audit.ActionCreated {
		<-r.release
	}
	return r.AuditRepository.Create(ctx, log)
}

func TestTrailKeepsCallOrderWhenWritesLandOutOfOrder(t *testing.T) {
	ctx := context.Background()
	repo := &slowCreated{AuditRepository: memory.NewAuditRepository(), release: make(chan struct{})}
	svc := NewService(repo, zerolog.Nop(), nil)
	negID := uuid.New()
	from := negotiation.StatusPending

	svc.Log(ctx, &audit.Entry{NegotiationID: negID, Action: audit.ActionCreated, ToStatus: negotiation.StatusPending})
	time.Sleep(2 * time.Millisecond)
	require.NoError(t, svc.LogSync(ctx, &audit.Entry{NegotiationID: negID, Action: audit.ActionAccepted, FromStatus: &from, ToStatus: negotiation.StatusAccepted}))
	time.Sleep(2 * time.Millisecond)
	close(repo.release)
	svc.Wait()

	trail, err := svc.Trail(ctx, negID)
	require.NoError(t, err)
	require.Len(t, trail, 2)
	assert.Equal(t, audit.ActionCreated, trail[0].Action)
	assert.Equal(t, audit.ActionAccepted, trail[1].Action)
	assert.True(t, trail[0].CreatedAt.Before(trail[1].CreatedAt))
}

func TestNewAuditLogUsesOccurredAt(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	log, err := audit.NewAuditLog(&audit.Entry{NegotiationID: uuid.New(), Action: audit.ActionRejected, ToStatus: negotiation.StatusRejected, OccurredAt: at})
	require.NoError(t, err)
	assert.Equal(t, at, log.CreatedAt)
}
