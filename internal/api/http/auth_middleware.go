package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/swapshelf/swapshelf/internal/apperr"
)

func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractToken(r)
		if token == "" {
			respondError(w, apperr.New(apperr.CodeUnauthorized, "missing bearer token"))
			return
		}
		p, err := s.authSvc.Authenticate(r.Context(), token)
		if err != nil {
			respondError(w, err)
			return
		}
		ctx := withAuthParticipant(r.Context(), &AuthParticipant{
			ParticipantID: p.ID,
			Username:      p.Username,
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// extractToken reads the bearer token. Browsers cannot set headers on
// EventSource or WebSocket requests, so access_token in the query also works.
func extractToken(r *http.Request) string {
	authz := r.Header.Get("Authorization")
	if strings.HasPrefix(authz, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(authz, "Bearer "))
	}
	return strings.TrimSpace(r.URL.Query().Get("access_token"))
}

// mustAuth returns the caller set by requireAuth.
func mustAuth(w http.ResponseWriter, r *http.Request) (*AuthParticipant, bool) {
	p := authParticipantFromContext(r.Context())
	if p == nil {
		respondError(w, apperr.New(apperr.CodeUnauthorized, "missing auth"))
		return nil, false
	}
	return p, true
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := time.Since(start)
		if s.recorder != nil {
			s.recorder.ObserveHTTP(r.Method, route, status, elapsed)
		}

		evt := s.logger.Info()
		if status >= http.StatusInternalServerError {
			evt = s.logger.Error()
		}
		evt.Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("route", route).
			Int("status", status).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", elapsed).
			Msg("request")
	})
}
