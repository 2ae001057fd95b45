// Package chat is the realtime session gateway: negotiation-scoped channels
// whose messages are persisted in order and fanned out to joined members.
package chat

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/swapshelf/swapshelf/internal/apperr"
	"github.com/swapshelf/swapshelf/internal/domain/message"
	"github.com/swapshelf/swapshelf/internal/domain/negotiation"
	"github.com/swapshelf/swapshelf/internal/infrastructure/realtime"
)

const (
	DefaultHistoryLimit = 100
	MaxHistoryLimit     = 500
)

// Authorizer resolves a negotiation's parties.
type Authorizer interface {
	Participants(ctx context.Context, negotiationID uuid.UUID) (*negotiation.Negotiation, error)
}

// Limiter throttles sends per participant.
type Limiter interface {
	Allow(ctx context.Context, scope string) (bool, error)
}

// Recorder observes gateway activity.
type Recorder interface {
	MessagePersisted()
}

// Service handles realtime session operations.
type Service struct {
	messages message.Repository
	hub      *realtime.Hub
	authz    Authorizer
	limiter  Limiter
	recorder Recorder
	logger   zerolog.Logger
	now      func() time.Time
}

// NewService creates the gateway. limiter and recorder may be nil.
func NewService(messages message.Repository, hub *realtime.Hub, authz Authorizer, limiter Limiter, recorder Recorder, logger zerolog.Logger) *Service {
	return &Service{
		messages: messages,
		hub:      hub,
		authz:    authz,
		limiter:  limiter,
		recorder: recorder,
		logger:   logger.With().Str("service", "chat").Logger(),
		now:      func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
	}
}

// Join subscribes the connection to a negotiation's channel.
func (s *Service) Join(ctx context.Context, m *realtime.Member, negotiationID uuid.UUID) error {
	if err := s.authorize(ctx, m.ParticipantID, negotiationID); err != nil {
		return err
	}
	if !s.hub.Join(negotiationID, m) {
		return apperr.New(apperr.CodeInvalidState, "connection is closed")
	}
	s.logger.Debug().
		Str("conn_id", m.ConnID).
		Str("participant_id", m.ParticipantID.String()).
		Str("negotiation_id", negotiationID.String()).
		Msg("joined channel")
	return nil
}

// Leave unsubscribes the connection from one channel.
func (s *Service) Leave(m *realtime.Member, negotiationID uuid.UUID) {
	s.hub.Leave(negotiationID, m.ConnID)
}

// Disconnect drops the connection from every channel. Nothing persisted changes.
func (s *Service) Disconnect(m *realtime.Member) {
	s.hub.Disconnect(m.ConnID)
	m.Close()
}

// Send persists a message after every earlier message of the negotiation and
// delivers it to each joined member, sender included. Terminal negotiations
// still accept messages.
func (s *Service) Send(ctx context.Context, senderID, negotiationID uuid.UUID, body string) (*message.Message, error) {
	body, err := message.NormalizeBody(body)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeValidation, err, err.Error())
	}
	if err := s.authorize(ctx, senderID, negotiationID); err != nil {
		return nil, err
	}
	if err := s.allow(ctx, senderID); err != nil {
		return nil, err
	}

	ctx = context.WithoutCancel(ctx)
	var sent *message.Message
	err = s.hub.Sequence(negotiationID, func() (realtime.Frame, error) {
		last, err := s.messages.Latest(ctx, negotiationID)
		if err != nil {
			return realtime.Frame{}, apperr.Wrap(apperr.CodeStorageFailure, err, "failed to read channel position")
		}
		m := &message.Message{
			NegotiationID: negotiationID,
			SenderID:      senderID,
			Body:          body,
			Seq:           1,
			Timestamp:     s.now(),
		}
		if last != nil {
			m.Seq = last.Seq + 1
			if !m.Timestamp.After(last.Timestamp) {
				m.Timestamp = last.Timestamp.Add(time.Microsecond)
			}
		}
		m.ID = message.NewID(m.Timestamp)
		if err := s.messages.Append(ctx, m); err != nil {
			return realtime.Frame{}, apperr.Wrap(apperr.CodeStorageFailure, err, "failed to persist message")
		}
		sent = m
		return realtime.Frame{Type: realtime.FrameMessage, NegotiationID: &negotiationID, Message: m}, nil
	})
	if err != nil {
		if _, typed := apperr.As(err); !typed {
			err = apperr.Wrap(apperr.CodeStorageFailure, err, "failed to send message")
		}
		return nil, err
	}
	if s.recorder != nil {
		s.recorder.MessagePersisted()
	}
	return sent, nil
}

// History returns messages after afterSeq in persistence order.
func (s *Service) History(ctx context.Context, participantID, negotiationID uuid.UUID, afterSeq int64, limit int) ([]*message.Message, error) {
	if err := s.authorize(ctx, participantID, negotiationID); err != nil {
		return nil, err
	}
	if afterSeq < 0 {
		afterSeq = 0
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	msgs, err := s.messages.List(ctx, negotiationID, afterSeq, limit)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeStorageFailure, err, "failed to load messages")
	}
	if msgs == nil {
		msgs = []*message.Message{}
	}
	return msgs, nil
}

func (s *Service) authorize(ctx context.Context, participantID, negotiationID uuid.UUID) error {
	n, err := s.authz.Participants(ctx, negotiationID)
	if err != nil {
		return err
	}
	if !n.IsParticipant(participantID) {
		return apperr.New(apperr.CodeForbidden, "not a party to this negotiation")
	}
	return nil
}

func (s *Service) allow(ctx context.Context, senderID uuid.UUID) error {
	if s.limiter == nil {
		return nil
	}
	ok, err := s.limiter.Allow(ctx, "chat:send:"+senderID.String())
	if err != nil {
		s.logger.Warn().Err(err).Msg("rate limiter unavailable")
		return nil
	}
	if !ok {
		return apperr.New(apperr.CodeRateLimited, "sending too fast")
	}
	return nil
}
