package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/swapshelf/swapshelf/internal/apperr"
	"github.com/swapshelf/swapshelf/internal/infrastructure/sse"
)

const sseHeartbeat = 25 * time.Second

// sseEndpoint streams the caller's negotiation lifecycle events.
func (s *Server) sseEndpoint(w http.ResponseWriter, r *http.Request) {
	auth, ok := mustAuth(w, r)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, apperr.New(apperr.CodeInternal, "streaming not supported"))
		return
	}

	client := sse.NewClient(auth.ParticipantID.String())
	s.sseHub.Register(client)
	defer s.sseHub.Unregister(client.ClientID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	heartbeat := time.NewTicker(sseHeartbeat)
	defer heartbeat.Stop()

	ctx := r.Context()
	for {
		select {
		case ev, open := <-client.Events:
			if !open || ev == nil {
				return
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				s.logger.Error().Err(err).Str("event", ev.Event).Msg("failed to encode event")
				continue
			}
			if _, err := fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", ev.ID, ev.Event, payload); err != nil {
				return
			}
			flusher.Flush()
		case <-heartbeat.C:
			if _, err := w.Write([]byte(": ping\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case <-ctx.Done():
			return
		}
	}
}
