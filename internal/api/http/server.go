// Package httpapi exposes the exchange over HTTP JSON, server-sent events
// and a WebSocket realtime gateway.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/swapshelf/swapshelf/internal/apperr"
	appAudit "github.com/swapshelf/swapshelf/internal/application/audit"
	appAuth "github.com/swapshelf/swapshelf/internal/application/auth"
	appCatalog "github.com/swapshelf/swapshelf/internal/application/catalog"
	appChat "github.com/swapshelf/swapshelf/internal/application/chat"
	appDirectory "github.com/swapshelf/swapshelf/internal/application/directory"
	appExchange "github.com/swapshelf/swapshelf/internal/application/exchange"
	appParticipant "github.com/swapshelf/swapshelf/internal/application/participant"
	"github.com/swapshelf/swapshelf/internal/infrastructure/sse"
)

const (
	defaultPingInterval = 30 * time.Second
	defaultFrameBuffer  = 64
)

// HTTPRecorder observes finished requests.
type HTTPRecorder interface {
	ObserveHTTP(method, route string, status int, d time.Duration)
}

// Deps are the services behind the handlers. Metrics, Recorder and Health
// may be nil.
type Deps struct {
	Auth         *appAuth.Service
	Participants *appParticipant.Service
	Catalog      *appCatalog.Service
	Exchange     *appExchange.Service
	Directory    *appDirectory.Service
	Chat         *appChat.Service
	Audit        *appAudit.Service
	SSEHub       *sse.Hub

	Metrics  http.Handler
	Recorder HTTPRecorder
	Health   func(ctx context.Context) error

	// AllowedOrigins lists browser origins that may open realtime
	// connections. Empty means same host only.
	AllowedOrigins []string
	// FrameBuffer bounds each realtime connection's outbound queue.
	FrameBuffer  int
	PingInterval time.Duration
	Logger       zerolog.Logger
}

// Server holds dependencies for HTTP handlers.
type Server struct {
	authSvc        *appAuth.Service
	participantSvc *appParticipant.Service
	catalogSvc     *appCatalog.Service
	exchangeSvc    *appExchange.Service
	directorySvc   *appDirectory.Service
	chatSvc        *appChat.Service
	auditSvc       *appAudit.Service
	sseHub         *sse.Hub
	metrics        http.Handler
	recorder       HTTPRecorder
	health         func(ctx context.Context) error
	frameBuffer    int
	pingInterval   time.Duration
	upgrader       websocket.Upgrader
	logger         zerolog.Logger
}

func NewServer(deps Deps) *Server {
	if deps.FrameBuffer <= 0 {
		deps.FrameBuffer = defaultFrameBuffer
	}
	if deps.PingInterval <= 0 {
		deps.PingInterval = defaultPingInterval
	}
	return &Server{
		authSvc:        deps.Auth,
		participantSvc: deps.Participants,
		catalogSvc:     deps.Catalog,
		exchangeSvc:    deps.Exchange,
		directorySvc:   deps.Directory,
		chatSvc:        deps.Chat,
		auditSvc:       deps.Audit,
		sseHub:         deps.SSEHub,
		metrics:        deps.Metrics,
		recorder:       deps.Recorder,
		health:         deps.Health,
		frameBuffer:    deps.FrameBuffer,
		pingInterval:   deps.PingInterval,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin(deps.AllowedOrigins),
		},
		logger: deps.Logger.With().Str("component", "http").Logger(),
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.healthz)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))
			r.Post("/auth/register", s.register)
			r.Post("/auth/login", s.login)
		})

		r.Group(func(r chi.Router) {
			r.Use(s.requireAuth)

			// Long-lived streams stay outside the request timeout.
			r.Get("/events", s.sseEndpoint)
			r.Get("/realtime", s.realtimeEndpoint)

			r.Group(func(r chi.Router) {
				r.Use(middleware.Timeout(30 * time.Second))

				r.Get("/me", s.me)
				r.Patch("/me", s.updateMe)
				r.Get("/participants/{participantId}", s.getProfile)

				r.Route("/items", func(r chi.Router) {
					r.Post("/", s.createItem)
					r.Get("/", s.listAvailableItems)
					r.Get("/mine", s.listMyItems)
					r.Get("/{itemId}", s.getItem)
					r.Patch("/{itemId}", s.updateItem)
					r.Delete("/{itemId}", s.deleteItem)
				})

				r.Route("/negotiations", func(r chi.Router) {
					r.Post("/", s.createNegotiation)
					r.Get("/incoming", s.listIncoming)
					r.Get("/outgoing", s.listOutgoing)
					r.Get("/{negotiationId}", s.getNegotiation)
					r.Post("/{negotiationId}/accept", s.acceptNegotiation)
					r.Post("/{negotiationId}/reject", s.rejectNegotiation)
					r.Get("/{negotiationId}/messages", s.listMessages)
					r.Post("/{negotiationId}/messages", s.sendMessage)
					r.Get("/{negotiationId}/audit", s.negotiationAudit)
				})
			})
		})
	})

	return r
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		if err := s.health(r.Context()); err != nil {
			s.logger.Warn().Err(err).Msg("health check failed")
			respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "UNAVAILABLE"})
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "OK"})
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Retry   string `json:"retry"`
	Details any    `json:"details,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// respondError writes err with the status and retry class of its code.
// Untyped errors are reported as INTERNAL_ERROR without their text.
func respondError(w http.ResponseWriter, err error) {
	code := apperr.CodeOf(err)
	meta := apperr.MetadataFor(code)
	body := errorResponse{Error: string(code), Message: meta.PublicMessage, Retry: string(meta.Retry)}
	if e, ok := apperr.As(err); ok {
		if msg := e.Message(); msg != "" {
			body.Message = msg
		}
		body.Details = e.Details()
	}
	respondJSON(w, meta.HTTPStatus, body)
}

func parseUUIDParam(r *http.Request, key string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, key))
	if err != nil {
		return uuid.Nil, apperr.Newf(apperr.CodeValidation, "%s must be a UUID", key)
	}
	return id, nil
}

func parseLimitOffset(r *http.Request, defaultLimit, maxLimit int) (int, int) {
	limit := defaultLimit
	offset := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if l, err := strconv.Atoi(v); err == nil {
			limit = l
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if o, err := strconv.Atoi(v); err == nil {
			offset = o
		}
	}
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
