// Package realtime keeps the in-process registry of negotiation channels and
// the connections joined to them. Nothing here is persisted; clients re-join
// after a restart.
package realtime

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/swapshelf/swapshelf/internal/domain/message"
)

// Frame types written to connections.
const (
	FrameJoined  = "joined"
	FrameLeft    = "left"
	FrameMessage = "message"
	FrameHistory = "history"
	FrameError   = "error"
	FramePong    = "pong"
)

// ErrorBody describes a failed request on the connection.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Retry   string `json:"retry,omitempty"`
}

// Frame is one outbound unit on a realtime connection.
type Frame struct {
	Type          string             `json:"type"`
	RequestID     string             `json:"requestId,omitempty"`
	NegotiationID *uuid.UUID         `json:"negotiationId,omitempty"`
	Message       *message.Message   `json:"message,omitempty"`
	Messages      []*message.Message `json:"messages,omitempty"`
	Error         *ErrorBody         `json:"error,omitempty"`
}

// Member is one live connection of a participant.
type Member struct {
	ConnID        string
	ParticipantID uuid.UUID

	out       chan Frame
	done      chan struct{}
	closeOnce sync.Once
}

func NewMember(participantID uuid.UUID, buffer int) *Member {
	if buffer <= 0 {
		buffer = 1
	}
	return &Member{
		ConnID:        uuid.NewString(),
		ParticipantID: participantID,
		out:           make(chan Frame, buffer),
		done:          make(chan struct{}),
	}
}

// Outbox yields frames queued for the connection's writer.
func (m *Member) Outbox() <-chan Frame { return m.out }

// Done is closed once the member is evicted or disconnected.
func (m *Member) Done() <-chan struct{} { return m.done }

// Deliver queues a frame without blocking. It reports false when the
// member's buffer is full or the member is gone.
func (m *Member) Deliver(f Frame) bool {
	select {
	case <-m.done:
		return false
	default:
	}
	select {
	case m.out <- f:
		return true
	default:
		return false
	}
}

// Close marks the member gone. It is safe to call more than once.
func (m *Member) Close() {
	m.closeOnce.Do(func() { close(m.done) })
}

type channel struct {
	// seqMu is held across persist and broadcast of one message.
	seqMu   sync.Mutex
	members map[string]*Member
	refs    int
}

// Hub is the registry of negotiation channels.
type Hub struct {
	mu          sync.Mutex
	channels    map[uuid.UUID]*channel
	memberships map[string]map[uuid.UUID]struct{}
	members     map[string]*Member
	logger      zerolog.Logger
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		channels:    make(map[uuid.UUID]*channel),
		memberships: make(map[string]map[uuid.UUID]struct{}),
		members:     make(map[string]*Member),
		logger:      logger.With().Str("component", "realtime").Logger(),
	}
}

// Join adds m to the negotiation's channel. Joining twice is a no-op.
func (h *Hub) Join(negotiationID uuid.UUID, m *Member) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	select {
	case <-m.done:
		return false
	default:
	}
	ch := h.channelLocked(negotiationID)
	if _, ok := ch.members[m.ConnID]; ok {
		return true
	}
	ch.members[m.ConnID] = m
	h.members[m.ConnID] = m
	set := h.memberships[m.ConnID]
	if set == nil {
		set = make(map[uuid.UUID]struct{})
		h.memberships[m.ConnID] = set
	}
	set[negotiationID] = struct{}{}
	return true
}

// Leave removes the connection from one channel.
func (h *Hub) Leave(negotiationID uuid.UUID, connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(negotiationID, connID)
}

// Disconnect removes the connection from every channel and closes it.
func (h *Hub) Disconnect(connID string) {
	h.mu.Lock()
	m := h.removeLocked(connID)
	h.mu.Unlock()
	if m != nil {
		m.Close()
	}
}

// Sequence runs persist while holding the channel's ordering lock, then
// broadcasts the frame it returns to every joined member before releasing
// the lock. Concurrent calls for one negotiation are therefore persisted and
// delivered in the same order.
func (h *Hub) Sequence(negotiationID uuid.UUID, persist func() (Frame, error)) error {
	h.mu.Lock()
	ch := h.channelLocked(negotiationID)
	ch.refs++
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		ch.refs--
		h.pruneLocked(negotiationID, ch)
		h.mu.Unlock()
	}()

	ch.seqMu.Lock()
	defer ch.seqMu.Unlock()
	frame, err := persist()
	if err != nil {
		return err
	}
	h.broadcast(negotiationID, ch, frame)
	return nil
}

// Members returns the number of connections joined to a negotiation.
func (h *Hub) Members(negotiationID uuid.UUID) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.channels[negotiationID]; ok {
		return len(ch.members)
	}
	return 0
}

// Connections returns the number of connections in at least one channel.
func (h *Hub) Connections() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.members)
}

// Channels returns the number of live channels.
func (h *Hub) Channels() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.channels)
}

func (h *Hub) broadcast(negotiationID uuid.UUID, ch *channel, frame Frame) {
	h.mu.Lock()
	targets := make([]*Member, 0, len(ch.members))
	for _, m := range ch.members {
		targets = append(targets, m)
	}
	h.mu.Unlock()

	for _, m := range targets {
		if m.Deliver(frame) {
			continue
		}
		h.logger.Warn().
			Str("conn_id", m.ConnID).
			Str("participant_id", m.ParticipantID.String()).
			Str("negotiation_id", negotiationID.String()).
			Msg("evicting slow realtime member")
		h.Disconnect(m.ConnID)
	}
}

func (h *Hub) channelLocked(negotiationID uuid.UUID) *channel {
	ch, ok := h.channels[negotiationID]
	if !ok {
		ch = &channel{members: make(map[string]*Member)}
		h.channels[negotiationID] = ch
	}
	return ch
}

func (h *Hub) leaveLocked(negotiationID uuid.UUID, connID string) {
	ch, ok := h.channels[negotiationID]
	if !ok {
		return
	}
	delete(ch.members, connID)
	if set := h.memberships[connID]; set != nil {
		delete(set, negotiationID)
		if len(set) == 0 {
			delete(h.memberships, connID)
			delete(h.members, connID)
		}
	}
	h.pruneLocked(negotiationID, ch)
}

func (h *Hub) removeLocked(connID string) *Member {
	m := h.members[connID]
	for negotiationID := range h.memberships[connID] {
		h.leaveLocked(negotiationID, connID)
	}
	delete(h.memberships, connID)
	delete(h.members, connID)
	return m
}

func (h *Hub) pruneLocked(negotiationID uuid.UUID, ch *channel) {
	if len(ch.members) == 0 && ch.refs == 0 && h.channels[negotiationID] == ch {
		delete(h.channels, negotiationID)
	}
}
