// Package sse fans negotiation lifecycle events out to per-participant
// server-sent event streams.
package sse

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/swapshelf/swapshelf/internal/domain/negotiation"
)

const clientBuffer = 64

// Event is one server-sent event.
type Event struct {
	ID        string          `json:"id"`
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

func NewEvent(event string, data json.RawMessage) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Event:     event,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}

// Client is an open event stream of one participant.
type Client struct {
	ClientID      string
	ParticipantID string
	ConnectedAt   time.Time
	Events        chan *Event
}

func NewClient(participantID string) *Client {
	return &Client{
		ClientID:      uuid.New().String(),
		ParticipantID: participantID,
		ConnectedAt:   time.Now().UTC(),
		Events:        make(chan *Event, clientBuffer),
	}
}

// Hub manages SSE clients.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	logger  zerolog.Logger
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[string]*Client),
		logger:  logger.With().Str("component", "sse").Logger(),
	}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ClientID] = client
}

func (h *Hub) Unregister(clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.clients[clientID]; ok {
		close(c.Events)
		delete(h.clients, clientID)
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// BroadcastToParticipant delivers to every stream the participant has open.
// Streams with a full buffer miss the event.
func (h *Hub) BroadcastToParticipant(participantID string, event *Event) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	delivered := 0
	for _, c := range h.clients {
		if c.ParticipantID != participantID {
			continue
		}
		if trySend(c, event) {
			delivered++
		} else {
			h.logger.Warn().Str("client_id", c.ClientID).Str("participant_id", participantID).Msg("event dropped, client buffer full")
		}
	}
	return delivered
}

// NotifyNegotiation sends a lifecycle event to both parties.
func (h *Hub) NotifyNegotiation(ctx context.Context, event string, n *negotiation.Negotiation) {
	data, err := json.Marshal(n)
	if err != nil {
		h.logger.Error().Err(err).Str("negotiation_id", n.ID.String()).Msg("failed to encode negotiation event")
		return
	}
	msg := NewEvent(event, data)
	h.BroadcastToParticipant(n.RequesterID.String(), msg)
	h.BroadcastToParticipant(n.OwnerID.String(), msg)
}

func (h *Hub) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.clients {
		close(c.Events)
		delete(h.clients, id)
	}
}

func trySend(c *Client, event *Event) bool {
	select {
	case c.Events <- event:
		return true
	default:
		return false
	}
}
