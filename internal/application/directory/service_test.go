package directory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/swapshelf/swapshelf/internal/apperr"
	"github.com/swapshelf/swapshelf/internal/domain/item"
	"github.com/swapshelf/swapshelf/internal/domain/negotiation"
	negotiationMocks "github.com/swapshelf/swapshelf/internal/domain/negotiation/mocks"
	"github.com/swapshelf/swapshelf/internal/domain/participant"
	"github.com/swapshelf/swapshelf/internal/infrastructure/memory"
)

type seeded struct {
	src       Source
	store     *memory.Store
	owner     *participant.Participant
	requester *participant.Participant
}

func seed(t *testing.T) *seeded {
	t.Helper()
	ctx := context.Background()
	s := memory.NewStore()
	people := memory.NewParticipantRepository()
	owner := &participant.Participant{ID: uuid.New(), Username: "owner", Email: "owner@example.edu", Bio: "reads a lot"}
	requester := &participant.Participant{ID: uuid.New(), Username: "requester", Email: "req@example.edu"}
	require.NoError(t, people.Create(ctx, owner))
	require.NoError(t, people.Create(ctx, requester))
	return &seeded{
		src:       Source{Negotiations: s.Negotiations(), Items: s.Items(), Participants: people},
		store:     s,
		owner:     owner,
		requester: requester,
	}
}

func (s *seeded) addNegotiation(t *testing.T, status negotiation.Status, created time.Time) *negotiation.Negotiation {
	t.Helper()
	ctx := context.Background()
	requested := &item.Item{ID: uuid.New(), OwnerID: s.owner.ID, Title: "Piranesi", Author: "Susanna Clarke", Condition: item.ConditionNew, Availability: item.AvailabilityAvailable}
	offered := &item.Item{ID: uuid.New(), OwnerID: s.requester.ID, Title: "Stoner", Author: "John Williams", Condition: item.ConditionWorn, Availability: item.AvailabilityAvailable}
	require.NoError(t, s.store.Items().Create(ctx, requested))
	require.NoError(t, s.store.Items().Create(ctx, offered))
	n := &negotiation.Negotiation{
		ID:              uuid.New(),
		RequestedItemID: requested.ID,
		OfferedItemID:   &offered.ID,
		RequesterID:     s.requester.ID,
		OwnerID:         s.owner.ID,
		Kind:            negotiation.KindPaired,
		Status:          status,
		CreatedAt:       created,
		UpdatedAt:       created,
	}
	require.NoError(t, s.store.Negotiations().Create(ctx, n))
	return n
}

func TestIncomingDefaultsToPendingWithDisplayData(t *testing.T) {
	ctx := context.Background()
	s := seed(t)
	base := time.Now().UTC()
	pending := s.addNegotiation(t, negotiation.StatusPending, base)
	s.addNegotiation(t, negotiation.StatusRejected, base.Add(time.Second))

	svc := NewService(s.src, nil, nil, zerolog.Nop())
	entries, err := svc.Incoming(ctx, s.owner.ID, Query{})
	require.NoError(t, err)
	require.Len(t, entries, 1)

	e := entries[0]
	assert.Equal(t, pending.ID, e.ID)
	require.NotNil(t, e.RequestedItem)
	assert.Equal(t, "Piranesi", e.RequestedItem.Title)
	require.NotNil(t, e.OfferedItem)
	assert.Equal(t, "Stoner", e.OfferedItem.Title)
	require.NotNil(t, e.Counterparty)
	assert.Equal(t, "requester", e.Counterparty.Username)
}

func TestOutgoingNewestFirstAcrossStatuses(t *testing.T) {
	ctx := context.Background()
	s := seed(t)
	base := time.Now().UTC()
	older := s.addNegotiation(t, negotiation.StatusAccepted, base)
	newer := s.addNegotiation(t, negotiation.StatusRejected, base.Add(time.Minute))

	svc := NewService(s.src, nil, nil, zerolog.Nop())
	entries, err := svc.Outgoing(ctx, s.requester.ID, Query{})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, newer.ID, entries[0].ID)
	assert.Equal(t, older.ID, entries[1].ID)
	assert.Equal(t, "owner", entries[0].Counterparty.Username)

	only, err := svc.Outgoing(ctx, s.requester.ID, Query{Statuses: []negotiation.Status{negotiation.StatusAccepted}})
	require.NoError(t, err)
	require.Len(t, only, 1)
	assert.Equal(t, older.ID, only[0].ID)
}

func TestUnknownStatusIsValidationError(t *testing.T) {
	s := seed(t)
	svc := NewService(s.src, nil, nil, zerolog.Nop())
	_, err := svc.Incoming(context.Background(), s.owner.ID, Query{Statuses: []negotiation.Status{"OPEN"}})
	assert.Equal(t, apperr.CodeValidation, apperr.CodeOf(err))
}

type fixedRecency struct {
	recent bool
	err    error
}

func (f fixedRecency) RecentlyWrote(context.Context, string) (bool, error) { return f.recent, f.err }

func TestReplicaRouting(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	ctx := context.Background()
	s := seed(t)
	s.addNegotiation(t, negotiation.StatusPending, time.Now().UTC())

	lagging := negotiationMocks.NewMockRepository(ctrl)
	replica := &Source{Negotiations: lagging, Items: s.src.Items, Participants: s.src.Participants}

	t.Run("recent writer reads primary", func(t *testing.T) {
		svc := NewService(s.src, replica, fixedRecency{recent: true}, zerolog.Nop())
		entries, err := svc.Incoming(ctx, s.owner.ID, Query{})
		require.NoError(t, err)
		assert.Len(t, entries, 1)
	})

	t.Run("recency failure reads primary", func(t *testing.T) {
		svc := NewService(s.src, replica, fixedRecency{err: errors.New("redis down")}, zerolog.Nop())
		entries, err := svc.Incoming(ctx, s.owner.ID, Query{})
		require.NoError(t, err)
		assert.Len(t, entries, 1)
	})

	t.Run("quiet participant reads replica", func(t *testing.T) {
		lagging.EXPECT().
			List(gomock.Any(), gomock.Any(), DefaultLimit, 0).
			Return(nil, nil)
		svc := NewService(s.src, replica, fixedRecency{}, zerolog.Nop())
		entries, err := svc.Incoming(ctx, s.owner.ID, Query{})
		require.NoError(t, err)
		assert.Empty(t, entries)
	})
}

func TestListFailureIsStorageFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	repo := negotiationMocks.NewMockRepository(ctrl)
	repo.EXPECT().List(gomock.Any(), gomock.Any(), MaxLimit, 0).Return(nil, errors.New("timeout"))

	svc := NewService(Source{Negotiations: repo}, nil, nil, zerolog.Nop())
	_, err := svc.Outgoing(context.Background(), uuid.New(), Query{Limit: 10_000})
	assert.Equal(t, apperr.CodeStorageFailure, apperr.CodeOf(err))
}
