package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swapshelf/swapshelf/internal/domain/message"
)

func messageFrame(negID uuid.UUID, seq int64) Frame {
	return Frame{Type: FrameMessage, NegotiationID: &negID, Message: &message.Message{NegotiationID: negID, Seq: seq, Body: fmt.Sprint(seq)}}
}

func TestErrorFrameEncoding(t *testing.T) {
	negID := uuid.New()
	raw, err := json.Marshal(Frame{
		Type:          FrameError,
		RequestID:     "r1",
		NegotiationID: &negID,
		Error:         &ErrorBody{Code: "FORBIDDEN", Message: "not a party to this negotiation", Retry: "never"},
	})
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "error", decoded["type"])
	assert.Equal(t, "r1", decoded["requestId"])
	body, ok := decoded["error"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "FORBIDDEN", body["code"])
	assert.Equal(t, "never", body["retry"])
	assert.NotContains(t, decoded, "message")
}

func TestJoinLeaveAndPrune(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	negID := uuid.New()
	a := NewMember(uuid.New(), 4)
	b := NewMember(uuid.New(), 4)

	require.True(t, hub.Join(negID, a))
	require.True(t, hub.Join(negID, a))
	require.True(t, hub.Join(negID, b))
	assert.Equal(t, 2, hub.Members(negID))
	assert.Equal(t, 2, hub.Connections())

	hub.Leave(negID, a.ConnID)
	assert.Equal(t, 1, hub.Members(negID))
	hub.Leave(negID, b.ConnID)
	assert.Equal(t, 0, hub.Channels())
	assert.Equal(t, 0, hub.Connections())
}

func TestDisconnectRemovesFromEveryChannel(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	n1, n2 := uuid.New(), uuid.New()
	m := NewMember(uuid.New(), 4)
	hub.Join(n1, m)
	hub.Join(n2, m)

	hub.Disconnect(m.ConnID)
	assert.Equal(t, 0, hub.Members(n1))
	assert.Equal(t, 0, hub.Members(n2))
	<-m.Done()
	assert.False(t, hub.Join(n1, m))
}

func TestSequenceDeliversInPersistOrder(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	negID := uuid.New()
	listeners := []*Member{NewMember(uuid.New(), 256), NewMember(uuid.New(), 256)}
	for _, m := range listeners {
		hub.Join(negID, m)
	}

	var mu sync.Mutex
	var persisted []int64
	next := int64(0)
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := hub.Sequence(negID, func() (Frame, error) {
				next++
				mu.Lock()
				persisted = append(persisted, next)
				mu.Unlock()
				return messageFrame(negID, next), nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	for _, m := range listeners {
		require.Len(t, m.Outbox(), 100)
		for _, want := range persisted {
			f := <-m.Outbox()
			assert.Equal(t, want, f.Message.Seq)
		}
	}
}

func TestSequenceErrorBroadcastsNothing(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	negID := uuid.New()
	m := NewMember(uuid.New(), 4)
	hub.Join(negID, m)

	boom := errors.New("append failed")
	err := hub.Sequence(negID, func() (Frame, error) { return Frame{}, boom })
	require.ErrorIs(t, err, boom)
	assert.Len(t, m.Outbox(), 0)
}

func TestSlowMemberIsEvicted(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	negID := uuid.New()
	slow := NewMember(uuid.New(), 1)
	fast := NewMember(uuid.New(), 8)
	hub.Join(negID, slow)
	hub.Join(negID, fast)

	for seq := int64(1); seq <= 3; seq++ {
		s := seq
		require.NoError(t, hub.Sequence(negID, func() (Frame, error) { return messageFrame(negID, s), nil }))
	}

	<-slow.Done()
	assert.Equal(t, 1, hub.Members(negID))
	assert.Len(t, fast.Outbox(), 3)
	assert.Len(t, slow.Outbox(), 1)
}
