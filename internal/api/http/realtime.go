package httpapi

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/swapshelf/swapshelf/internal/apperr"
	"github.com/swapshelf/swapshelf/internal/domain/message"
	"github.com/swapshelf/swapshelf/internal/infrastructure/realtime"
)

// Inbound request types on a realtime connection.
const (
	requestJoin    = "join"
	requestLeave   = "leave"
	requestSend    = "send"
	requestHistory = "history"
	requestPing    = "ping"
)

const (
	writeWait    = 10 * time.Second
	maxFrameSize = 4 * message.MaxBodyLength
)

// checkOrigin admits requests without an Origin header (non-browser
// clients), the listed origins, or the request's own host when none are
// listed.
func checkOrigin(allowed []string) func(*http.Request) bool {
	list := make([]string, 0, len(allowed))
	for _, o := range allowed {
		if o = strings.TrimRight(strings.TrimSpace(o), "/"); o != "" {
			list = append(list, o)
		}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil || u.Host == "" {
			return false
		}
		if len(list) == 0 {
			return strings.EqualFold(u.Host, r.Host)
		}
		for _, o := range list {
			if o == "*" || strings.EqualFold(o, origin) {
				return true
			}
		}
		return false
	}
}

type realtimeRequest struct {
	Type          string `json:"type"`
	RequestID     string `json:"requestId,omitempty"`
	NegotiationID string `json:"negotiationId,omitempty"`
	Body          string `json:"body,omitempty"`
	AfterSeq      int64  `json:"afterSeq,omitempty"`
	Limit         int    `json:"limit,omitempty"`
}

// realtimeEndpoint upgrades to a WebSocket carrying join, send, history and
// leave requests for negotiation chat channels.
func (s *Server) realtimeEndpoint(w http.ResponseWriter, r *http.Request) {
	auth, ok := mustAuth(w, r)
	if !ok {
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	member := realtime.NewMember(auth.ParticipantID, s.frameBuffer)
	log := s.logger.With().Str("conn_id", member.ConnID).Str("participant_id", auth.ParticipantID.String()).Logger()
	log.Debug().Msg("realtime connected")

	go s.writeFrames(conn, member)
	s.readRequests(r.Context(), conn, member)

	s.chatSvc.Disconnect(member)
	log.Debug().Msg("realtime disconnected")
}

// writeFrames is the only writer on conn. It exits, closing conn, once the
// member is disconnected or evicted.
func (s *Server) writeFrames(conn *websocket.Conn, member *realtime.Member) {
	ping := time.NewTicker(s.pingInterval)
	defer func() {
		ping.Stop()
		_ = conn.Close()
	}()
	for {
		select {
		case frame := <-member.Outbox():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(frame); err != nil {
				s.chatSvc.Disconnect(member)
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				s.chatSvc.Disconnect(member)
				return
			}
		case <-member.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "disconnected"),
				time.Now().Add(writeWait))
			return
		}
	}
}

func (s *Server) readRequests(ctx context.Context, conn *websocket.Conn, member *realtime.Member) {
	pongWait := 2 * s.pingInterval
	conn.SetReadLimit(maxFrameSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var req realtimeRequest
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		if !s.handleRequest(ctx, member, req) {
			return
		}
	}
}

// handleRequest reports false when the member can no longer be served.
func (s *Server) handleRequest(ctx context.Context, member *realtime.Member, req realtimeRequest) bool {
	if req.Type == requestPing {
		return s.reply(member, realtime.Frame{Type: realtime.FramePong, RequestID: req.RequestID})
	}

	negotiationID, err := uuid.Parse(req.NegotiationID)
	if err != nil {
		return s.replyError(member, req, apperr.New(apperr.CodeValidation, "negotiationId must be a UUID"))
	}

	switch req.Type {
	case requestJoin:
		if err := s.chatSvc.Join(ctx, member, negotiationID); err != nil {
			return s.replyError(member, req, err)
		}
		return s.reply(member, realtime.Frame{Type: realtime.FrameJoined, RequestID: req.RequestID, NegotiationID: &negotiationID})
	case requestLeave:
		s.chatSvc.Leave(member, negotiationID)
		return s.reply(member, realtime.Frame{Type: realtime.FrameLeft, RequestID: req.RequestID, NegotiationID: &negotiationID})
	case requestSend:
		// The stored message reaches this connection through the channel
		// broadcast once joined.
		if _, err := s.chatSvc.Send(ctx, member.ParticipantID, negotiationID, req.Body); err != nil {
			return s.replyError(member, req, err)
		}
		return true
	case requestHistory:
		msgs, err := s.chatSvc.History(ctx, member.ParticipantID, negotiationID, req.AfterSeq, req.Limit)
		if err != nil {
			return s.replyError(member, req, err)
		}
		return s.reply(member, realtime.Frame{Type: realtime.FrameHistory, RequestID: req.RequestID, NegotiationID: &negotiationID, Messages: msgs})
	default:
		return s.replyError(member, req, apperr.Newf(apperr.CodeValidation, "unknown request type %q", req.Type))
	}
}

// reply queues a direct response. A member that cannot take it is dropped.
func (s *Server) reply(member *realtime.Member, frame realtime.Frame) bool {
	if member.Deliver(frame) {
		return true
	}
	s.chatSvc.Disconnect(member)
	return false
}

func (s *Server) replyError(member *realtime.Member, req realtimeRequest, err error) bool {
	code := apperr.CodeOf(err)
	meta := apperr.MetadataFor(code)
	msg := meta.PublicMessage
	if e, ok := apperr.As(err); ok && e.Message() != "" {
		msg = e.Message()
	}
	if code == apperr.CodeInternal || code == apperr.CodeStorageFailure {
		s.logger.Error().Err(err).Str("conn_id", member.ConnID).Str("request", req.Type).Msg("realtime request failed")
	}
	frame := realtime.Frame{
		Type:      realtime.FrameError,
		RequestID: req.RequestID,
		Error:     &realtime.ErrorBody{Code: string(code), Message: msg, Retry: string(meta.Retry)},
	}
	if id, err := uuid.Parse(req.NegotiationID); err == nil {
		frame.NegotiationID = &id
	}
	return s.reply(member, frame)
}
