package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swapshelf/swapshelf/internal/domain/item"
	"github.com/swapshelf/swapshelf/internal/domain/negotiation"
	"github.com/swapshelf/swapshelf/internal/domain/store"
)

func seedItem(t *testing.T, s *Store, owner uuid.UUID) *item.Item {
	t.Helper()
	it := &item.Item{
		ID:           uuid.New(),
		OwnerID:      owner,
		Title:        "Dune",
		Author:       "Frank Herbert",
		Condition:    item.ConditionUsed,
		Availability: item.AvailabilityAvailable,
		CreatedAt:    time.Now().UTC(),
	}
	require.NoError(t, s.Items().Create(context.Background(), it))
	return it
}

func TestDoRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	it := seedItem(t, s, uuid.New())
	negID := uuid.New()
	boom := errors.New("boom")

	err := s.Do(ctx, func(ctx context.Context, repos store.Repositories) error {
		ok, err := repos.Items.ApplyTransition(ctx, item.Transition{
			ItemID:     it.ID,
			From:       item.AvailabilityAvailable,
			To:         item.AvailabilityReserved,
			ReservedBy: &negID,
		})
		require.NoError(t, err)
		require.True(t, ok)
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := s.Items().GetByID(ctx, it.ID)
	require.NoError(t, err)
	assert.Equal(t, item.AvailabilityAvailable, got.Availability)
	assert.Nil(t, got.ReservedBy)
}

func TestApplyTransitionComparesReservation(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	it := seedItem(t, s, uuid.New())
	negID, other := uuid.New(), uuid.New()
	items := s.Items()

	ok, err := items.ApplyTransition(ctx, item.Transition{ItemID: it.ID, From: item.AvailabilityAvailable, To: item.AvailabilityReserved, ReservedBy: &negID})
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = items.ApplyTransition(ctx, item.Transition{ItemID: it.ID, From: item.AvailabilityReserved, ExpectReservedBy: &other, To: item.AvailabilityAvailable})
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = items.ApplyTransition(ctx, item.Transition{ItemID: it.ID, From: item.AvailabilityReserved, ExpectReservedBy: &negID, To: item.AvailabilityAvailable})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCreateRejectsSecondPendingOnSameItem(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	repo := s.Negotiations()
	requested, offered := uuid.New(), uuid.New()

	first := &negotiation.Negotiation{ID: uuid.New(), RequestedItemID: requested, Status: negotiation.StatusPending}
	require.NoError(t, repo.Create(ctx, first))

	second := &negotiation.Negotiation{ID: uuid.New(), RequestedItemID: uuid.New(), OfferedItemID: &requested, Status: negotiation.StatusPending}
	assert.ErrorIs(t, repo.Create(ctx, second), negotiation.ErrPendingConflict)

	third := &negotiation.Negotiation{ID: uuid.New(), RequestedItemID: uuid.New(), OfferedItemID: &offered, Status: negotiation.StatusPending}
	assert.NoError(t, repo.Create(ctx, third))
}

func TestRateLimiterWindow(t *testing.T) {
	ctx := context.Background()
	l := NewRateLimiter(2, time.Minute)
	now := time.Now()
	l.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		ok, err := l.Allow(ctx, "p1")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, _ := l.Allow(ctx, "p1")
	assert.False(t, ok)
	ok, _ = l.Allow(ctx, "p2")
	assert.True(t, ok)

	now = now.Add(time.Minute)
	ok, _ = l.Allow(ctx, "p1")
	assert.True(t, ok)
}

func TestRecencyTrackerExpires(t *testing.T) {
	ctx := context.Background()
	tr := NewRecencyTracker(5 * time.Second)
	now := time.Now()
	tr.now = func() time.Time { return now }

	require.NoError(t, tr.MarkWrite(ctx, "p1"))
	recent, err := tr.RecentlyWrote(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, recent)

	now = now.Add(6 * time.Second)
	recent, _ = tr.RecentlyWrote(ctx, "p1")
	assert.False(t, recent)
}
