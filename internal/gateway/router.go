// Package gateway implements the OpenAI-compatible HTTP surface: auth,
// admission control, body limits, request validation, tier dispatch, and
// JSON or SSE response formatting.
package gateway

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"smartrouter/internal/classify"
	"smartrouter/internal/ratelimit"
	"smartrouter/internal/upstream"
)

// Dependencies wires the gateway. Counters are injected rather than global
// so tests get a fresh set per router.
type Dependencies struct {
	Dispatcher *upstream.Dispatcher
	Stats      *Stats
	Gate       *Gate
	Limiter    *ratelimit.Limiter
	Log        zerolog.Logger

	// Shared-secret auth. Empty AuthToken fails closed for every route
	// except health unless AllowUnauthenticated is set explicitly.
	AuthToken            string
	AllowUnauthenticated bool

	MaxBodyBytes    int64
	BodyReadTimeout time.Duration
	UpstreamTimeout time.Duration
}

type server struct {
	dispatcher *upstream.Dispatcher
	stats      *Stats
	gate       *Gate
	limiter    *ratelimit.Limiter
	log        zerolog.Logger

	authToken            string
	allowUnauthenticated bool

	maxBodyBytes    int64
	bodyReadTimeout time.Duration
	upstreamTimeout time.Duration

	started time.Time
}

// NewRouter builds the HTTP handler.
func NewRouter(deps Dependencies) http.Handler {
	if deps.Dispatcher == nil {
		panic("dispatcher dependency is required")
	}
	if deps.Stats == nil {
		deps.Stats = NewStats()
	}
	if deps.Gate == nil {
		deps.Gate = NewGate(32)
	}
	if deps.MaxBodyBytes <= 0 {
		deps.MaxBodyBytes = 1 << 20
	}
	if deps.BodyReadTimeout <= 0 {
		deps.BodyReadTimeout = 15 * time.Second
	}
	if deps.UpstreamTimeout <= 0 {
		deps.UpstreamTimeout = 120 * time.Second
	}

	s := &server{
		dispatcher:           deps.Dispatcher,
		stats:                deps.Stats,
		gate:                 deps.Gate,
		limiter:              deps.Limiter,
		log:                  deps.Log,
		authToken:            deps.AuthToken,
		allowUnauthenticated: deps.AllowUnauthenticated,
		maxBodyBytes:         deps.MaxBodyBytes,
		bodyReadTimeout:      deps.BodyReadTimeout,
		upstreamTimeout:      deps.UpstreamTimeout,
		started:              time.Now(),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(echoRequestID)
	r.Use(middleware.RealIP)
	r.Use(s.withRecover)

	r.Get("/", s.handleHealth)
	r.Get("/health", s.handleHealth)

	authed := r.With(s.withAuth, s.withRateLimit)
	authed.Get("/v1/models", s.handleModels)
	authed.Get("/models", s.handleModels)
	authed.Post("/v1/chat/completions", s.handleChatCompletions)
	authed.Post("/chat/completions", s.handleChatCompletions)

	return r
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(s.started).Round(time.Second).String(),
		"stats":  s.stats.Snapshot(),
	})
}

func (s *server) handleModels(w http.ResponseWriter, _ *http.Request) {
	created := s.started.Unix()
	cards := []ModelCard{
		{ID: classify.ModelAuto, Object: "model", Created: created, OwnedBy: "smartrouter"},
	}
	for _, tier := range classify.Tiers() {
		cards = append(cards, ModelCard{
			ID:      string(tier),
			Object:  "model",
			Created: created,
			OwnedBy: "smartrouter",
		})
	}
	writeJSON(w, http.StatusOK, ModelList{Object: "list", Data: cards})
}

// echoRequestID reflects the generated request id back to the client so
// support tickets can be matched against server logs.
func echoRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := middleware.GetReqID(r.Context()); id != "" {
			w.Header().Set("request-id", id)
		}
		next.ServeHTTP(w, r)
	})
}

func (s *server) writeError(w http.ResponseWriter, status int, kind, message string) {
	writeJSON(w, status, ErrorEnvelope{Error: ErrorBody{Message: message, Type: kind}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func nextCompletionID() string {
	return "chatcmpl-" + uuid.NewString()
}
