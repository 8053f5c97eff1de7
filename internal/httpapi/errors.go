package httpapi

import (
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/syncstack/docsync-api/internal/service/syncservice"
)

// errorResponse is the uniform error body for all endpoints
type errorResponse struct {
	Error string `json:"error"`
}

// writeError writes a JSON error response with the given status code
func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	writeJSON(w, code, errorResponse{Error: msg})
}

// writeEngineError maps the engine's error taxonomy onto HTTP status codes:
// InvalidArgument -> 400, NotFound -> 404, QueueFull -> 429 (caller must
// back off), anything else -> 500.
func writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	switch e := err.(type) {
	case *syncservice.InvalidArgumentError:
		writeError(w, r, http.StatusBadRequest, e.Error())
	case *syncservice.NotFoundError:
		writeError(w, r, http.StatusNotFound, e.Error())
	case *syncservice.QueueFullError:
		w.Header().Set("Retry-After", "30")
		writeError(w, r, http.StatusTooManyRequests, e.Error())
	default:
		log.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
