package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/swapshelf/swapshelf/internal/apperr"
	appChat "github.com/swapshelf/swapshelf/internal/application/chat"
	appDirectory "github.com/swapshelf/swapshelf/internal/application/directory"
	appExchange "github.com/swapshelf/swapshelf/internal/application/exchange"
	"github.com/swapshelf/swapshelf/internal/domain/negotiation"
)

type createNegotiationRequest struct {
	RequestedItemID string  `json:"requestedItemId" validate:"required,uuid"`
	OfferedItemID   *string `json:"offeredItemId" validate:"omitempty,uuid"`
	Kind            string  `json:"kind"`
}

func (s *Server) createNegotiation(w http.ResponseWriter, r *http.Request) {
	auth, ok := mustAuth(w, r)
	if !ok {
		return
	}
	var req createNegotiationRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondError(w, err)
		return
	}
	kind, err := negotiation.ParseKind(req.Kind)
	if err != nil {
		respondError(w, apperr.Wrap(apperr.CodeValidation, err, err.Error()))
		return
	}
	in := appExchange.CreateInput{
		RequestedItemID: uuid.MustParse(req.RequestedItemID),
		Kind:            kind,
	}
	if req.OfferedItemID != nil && *req.OfferedItemID != "" {
		offered := uuid.MustParse(*req.OfferedItemID)
		in.OfferedItemID = &offered
	}
	n, err := s.exchangeSvc.CreateNegotiation(r.Context(), auth.ParticipantID, in)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, n)
}

func (s *Server) getNegotiation(w http.ResponseWriter, r *http.Request) {
	auth, ok := mustAuth(w, r)
	if !ok {
		return
	}
	id, err := parseUUIDParam(r, "negotiationId")
	if err != nil {
		respondError(w, err)
		return
	}
	n, err := s.exchangeSvc.Get(r.Context(), id, auth.ParticipantID)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, n)
}

func (s *Server) acceptNegotiation(w http.ResponseWriter, r *http.Request) {
	s.decideNegotiation(w, r, s.exchangeSvc.Accept)
}

func (s *Server) rejectNegotiation(w http.ResponseWriter, r *http.Request) {
	s.decideNegotiation(w, r, s.exchangeSvc.Reject)
}

func (s *Server) decideNegotiation(w http.ResponseWriter, r *http.Request, decide func(ctx context.Context, negotiationID, actorID uuid.UUID) (*negotiation.Negotiation, error)) {
	auth, ok := mustAuth(w, r)
	if !ok {
		return
	}
	id, err := parseUUIDParam(r, "negotiationId")
	if err != nil {
		respondError(w, err)
		return
	}
	n, err := decide(r.Context(), id, auth.ParticipantID)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, n)
}

func (s *Server) listIncoming(w http.ResponseWriter, r *http.Request) {
	s.listDirectory(w, r, s.directorySvc.Incoming)
}

func (s *Server) listOutgoing(w http.ResponseWriter, r *http.Request) {
	s.listDirectory(w, r, s.directorySvc.Outgoing)
}

func (s *Server) listDirectory(w http.ResponseWriter, r *http.Request, list func(ctx context.Context, participantID uuid.UUID, q appDirectory.Query) ([]*appDirectory.Entry, error)) {
	auth, ok := mustAuth(w, r)
	if !ok {
		return
	}
	statuses, err := appDirectory.ParseStatuses(queryList(r, "status"))
	if err != nil {
		respondError(w, err)
		return
	}
	limit, offset := parseLimitOffset(r, appDirectory.DefaultLimit, appDirectory.MaxLimit)
	entries, err := list(r.Context(), auth.ParticipantID, appDirectory.Query{
		Statuses: statuses,
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		respondError(w, err)
		return
	}
	if entries == nil {
		entries = []*appDirectory.Entry{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"negotiations": entries})
}

func (s *Server) listMessages(w http.ResponseWriter, r *http.Request) {
	auth, ok := mustAuth(w, r)
	if !ok {
		return
	}
	id, err := parseUUIDParam(r, "negotiationId")
	if err != nil {
		respondError(w, err)
		return
	}
	var afterSeq int64
	if v := r.URL.Query().Get("afterSeq"); v != "" {
		afterSeq, err = strconv.ParseInt(v, 10, 64)
		if err != nil {
			respondError(w, apperr.New(apperr.CodeValidation, "afterSeq must be an integer"))
			return
		}
	}
	limit, _ := parseLimitOffset(r, appChat.DefaultHistoryLimit, appChat.MaxHistoryLimit)
	msgs, err := s.chatSvc.History(r.Context(), auth.ParticipantID, id, afterSeq, limit)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"messages": msgs})
}

type sendMessageRequest struct {
	Body string `json:"body" validate:"required"`
}

func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request) {
	auth, ok := mustAuth(w, r)
	if !ok {
		return
	}
	id, err := parseUUIDParam(r, "negotiationId")
	if err != nil {
		respondError(w, err)
		return
	}
	var req sendMessageRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondError(w, err)
		return
	}
	m, err := s.chatSvc.Send(r.Context(), auth.ParticipantID, id, req.Body)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, m)
}

func (s *Server) negotiationAudit(w http.ResponseWriter, r *http.Request) {
	auth, ok := mustAuth(w, r)
	if !ok {
		return
	}
	id, err := parseUUIDParam(r, "negotiationId")
	if err != nil {
		respondError(w, err)
		return
	}
	if _, err := s.exchangeSvc.Get(r.Context(), id, auth.ParticipantID); err != nil {
		respondError(w, err)
		return
	}
	trail, err := s.auditSvc.Trail(r.Context(), id)
	if err != nil {
		respondError(w, apperr.Wrap(apperr.CodeStorageFailure, err, "failed to load audit trail"))
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"entries": trail})
}

// queryList accepts both ?status=A&status=B and ?status=A,B.
func queryList(r *http.Request, key string) []string {
	var out []string
	for _, raw := range r.URL.Query()[key] {
		for _, p := range strings.Split(raw, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}
