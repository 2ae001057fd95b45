package httpapi

import (
	"net/http"

	appCatalog "github.com/swapshelf/swapshelf/internal/application/catalog"
)

const (
	defaultItemLimit = 50
	maxItemLimit     = 200
)

type itemRequest struct {
	Title       string `json:"title" validate:"required,max=200"`
	Author      string `json:"author" validate:"required,max=200"`
	Condition   string `json:"condition" validate:"required"`
	Description string `json:"description" validate:"max=2000"`
	ImageURL    string `json:"imageUrl" validate:"omitempty,url"`
}

func (req itemRequest) input() appCatalog.ItemInput {
	return appCatalog.ItemInput{
		Title:       req.Title,
		Author:      req.Author,
		Condition:   req.Condition,
		Description: req.Description,
		ImageURL:    req.ImageURL,
	}
}

func (s *Server) createItem(w http.ResponseWriter, r *http.Request) {
	auth, ok := mustAuth(w, r)
	if !ok {
		return
	}
	var req itemRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondError(w, err)
		return
	}
	it, err := s.catalogSvc.Create(r.Context(), auth.ParticipantID, req.input())
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, it)
}

func (s *Server) listAvailableItems(w http.ResponseWriter, r *http.Request) {
	auth, ok := mustAuth(w, r)
	if !ok {
		return
	}
	limit, offset := parseLimitOffset(r, defaultItemLimit, maxItemLimit)
	items, err := s.catalogSvc.ListAvailable(r.Context(), auth.ParticipantID, limit, offset)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"items": items})
}

func (s *Server) listMyItems(w http.ResponseWriter, r *http.Request) {
	auth, ok := mustAuth(w, r)
	if !ok {
		return
	}
	limit, offset := parseLimitOffset(r, defaultItemLimit, maxItemLimit)
	items, err := s.catalogSvc.ListMine(r.Context(), auth.ParticipantID, limit, offset)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"items": items})
}

func (s *Server) getItem(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "itemId")
	if err != nil {
		respondError(w, err)
		return
	}
	it, err := s.catalogSvc.Get(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, it)
}

func (s *Server) updateItem(w http.ResponseWriter, r *http.Request) {
	auth, ok := mustAuth(w, r)
	if !ok {
		return
	}
	id, err := parseUUIDParam(r, "itemId")
	if err != nil {
		respondError(w, err)
		return
	}
	var req itemRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondError(w, err)
		return
	}
	it, err := s.catalogSvc.Update(r.Context(), auth.ParticipantID, id, req.input())
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, it)
}

func (s *Server) deleteItem(w http.ResponseWriter, r *http.Request) {
	auth, ok := mustAuth(w, r)
	if !ok {
		return
	}
	id, err := parseUUIDParam(r, "itemId")
	if err != nil {
		respondError(w, err)
		return
	}
	cancelled, err := s.catalogSvc.Delete(r.Context(), auth.ParticipantID, id)
	if err != nil {
		respondError(w, err)
		return
	}
	ids := make([]string, 0, len(cancelled))
	for _, n := range cancelled {
		ids = append(ids, n.ID.String())
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":                  "DELETED",
		"cancelledNegotiationIds": ids,
	})
}
