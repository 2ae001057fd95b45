package negotiation

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusTransitions(t *testing.T) {
	assert.True(t, StatusPending.CanTransitionTo(StatusAccepted))
	assert.True(t, StatusPending.CanTransitionTo(StatusRejected))
	assert.False(t, StatusPending.CanTransitionTo(StatusPending))
	for _, terminal := range []Status{StatusAccepted, StatusRejected} {
		for _, next := range AllStatuses {
			assert.False(t, terminal.CanTransitionTo(next), "%s -> %s", terminal, next)
		}
	}
}

func TestParseKind(t *testing.T) {
	cases := map[string]Kind{
		"":              KindPaired,
		"paired":        KindPaired,
		"book-for-book": KindPaired,
		"one-way":       KindOneWay,
		"ONE_WAY":       KindOneWay,
	}
	for in, want := range cases {
		got, err := ParseKind(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseKind("auction")
	assert.Error(t, err)
}

func TestDecideIsOneShot(t *testing.T) {
	n := &Negotiation{Status: StatusPending}
	now := time.Now()
	require.NoError(t, n.Decide(StatusAccepted, nil, now))
	assert.Equal(t, StatusAccepted, n.Status)
	require.NotNil(t, n.DecidedAt)

	assert.ErrorIs(t, n.Decide(StatusRejected, nil, now), ErrInvalidTransition)
	assert.Equal(t, StatusAccepted, n.Status)
}

func TestParticipantsAndItems(t *testing.T) {
	owner, requester, stranger := uuid.New(), uuid.New(), uuid.New()
	requested, offered := uuid.New(), uuid.New()
	n := &Negotiation{OwnerID: owner, RequesterID: requester, RequestedItemID: requested, OfferedItemID: &offered}

	assert.True(t, n.IsParticipant(owner))
	assert.True(t, n.IsParticipant(requester))
	assert.False(t, n.IsParticipant(stranger))
	assert.Equal(t, requester, n.Counterparty(owner))
	assert.Equal(t, owner, n.Counterparty(requester))
	assert.Equal(t, []uuid.UUID{requested, offered}, n.ItemIDs())
	assert.True(t, n.References(offered))
	assert.False(t, n.References(uuid.New()))
}
