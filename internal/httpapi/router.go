package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/syncstack/docsync-api/internal/auth"
	"github.com/syncstack/docsync-api/internal/service/syncservice"
)

// Server holds dependencies for HTTP handlers
type Server struct {
	Engine          *syncservice.Engine
	Users           auth.UserResolver
	RateLimitConfig RateLimitInfo
}

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode json response")
	}
}

// parseLimit parses a limit query param with default and max
func parseLimit(q string, def, max int) int {
	if q == "" {
		return def
	}
	n, err := strconv.Atoi(q)
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}

// Routes creates the HTTP router with all sync endpoints
func (s *Server) Routes(jwt auth.JWTCfg) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(CorrelationMiddleware)

	// Health check (unauthenticated)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
		w.Write([]byte("ok"))
	})

	// Capability discovery (unauthenticated)
	r.Get("/v1/sync/info", s.Info)

	// All sync endpoints require authentication
	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(s.Users, jwt))
		r.Use(RateLimitMiddleware(s.RateLimitConfig))

		// Operation queue
		r.Post("/v1/sync/operations", s.EnqueueOperation)
		r.Post("/v1/sync/operations/batch", s.EnqueueBatch)
		r.Get("/v1/sync/operations/{id}", s.GetOperation)

		// Processing and status
		r.Post("/v1/sync/process", s.Process)
		r.Get("/v1/sync/status", s.Status)

		// Conflicts
		r.Post("/v1/sync/conflicts/detect", s.DetectConflict)
		r.Get("/v1/sync/conflicts", s.ListConflicts)
		r.Post("/v1/sync/conflicts/{id}/resolve", s.ResolveConflict)
		r.Get("/v1/sync/resolutions", s.ListResolutions)
	})

	log.Info().Msg("HTTP routes registered")
	return r
}
