package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/syncstack/docsync-api/internal/auth"
	"github.com/syncstack/docsync-api/internal/store"
	"github.com/syncstack/docsync-api/internal/syncx"
)

type detectReq struct {
	Collection    string         `json:"collection"`
	DocumentID    string         `json:"documentId"`
	ClientVersion int64          `json:"clientVersion"`
	ClientData    map[string]any `json:"clientData,omitempty"`
	OperationID   string         `json:"operationId,omitempty"`
}

// DetectConflict handles POST /v1/sync/conflicts/detect
// Compares the client's declared document version against the server copy;
// a mismatch persists a conflict record before it is returned
func (s *Server) DetectConflict(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	var req detectReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Ctx(r.Context()).Warn().Err(err).Msg("invalid detect request body")
		writeError(w, r, http.StatusBadRequest, "invalid json")
		return
	}

	result, err := s.Engine.DetectConflict(r.Context(), userID,
		req.Collection, req.DocumentID, req.ClientVersion, req.ClientData, req.OperationID)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

type conflictPage struct {
	Conflicts  []*store.Conflict `json:"conflicts"`
	NextCursor string            `json:"nextCursor,omitempty"`
}

// ListConflicts handles GET /v1/sync/conflicts?cursor=<opaque>&limit=<int>
// Returns open conflicts in (detectedAt, id) order with cursor pagination
func (s *Server) ListConflicts(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	limit := parseLimit(r.URL.Query().Get("limit"), 100, 500)
	cur, ok := syncx.DecodeCursor(r.URL.Query().Get("cursor"))
	if !ok {
		// No cursor = start from the beginning
		cur = syncx.Cursor{Ms: 0, UID: uuid.Nil}
	}

	afterID := ""
	if cur.UID != uuid.Nil {
		afterID = cur.UID.String()
	}

	conflicts, err := s.Engine.ListConflicts(r.Context(), userID, cur.Ms, afterID, limit)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}

	page := conflictPage{Conflicts: conflicts}
	if len(conflicts) == limit {
		last := conflicts[len(conflicts)-1]
		if id, err := uuid.Parse(last.ID); err == nil {
			page.NextCursor = syncx.EncodeCursor(syncx.Cursor{
				Ms:  last.DetectedAt.UnixMilli(),
				UID: id,
			})
		}
	}

	writeJSON(w, http.StatusOK, page)
}

// ListResolutions handles GET /v1/sync/resolutions?limit=<int>
// Returns the caller's resolution audit trail, most recent first
func (s *Server) ListResolutions(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	limit := parseLimit(r.URL.Query().Get("limit"), 100, 500)

	resolutions, err := s.Engine.ListResolutions(r.Context(), userID, limit)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"resolutions": resolutions})
}

type resolveReq struct {
	Strategy     store.Strategy `json:"strategy"`
	ResolvedData map[string]any `json:"resolvedData,omitempty"`
}

// ResolveConflict handles POST /v1/sync/conflicts/{id}/resolve
// Applies the chosen strategy, writes the final document and consumes the
// conflict; resolving the same conflict twice yields 404
func (s *Server) ResolveConflict(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	conflictID := chi.URLParam(r, "id")

	var req resolveReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Ctx(r.Context()).Warn().Err(err).Msg("invalid resolve request body")
		writeError(w, r, http.StatusBadRequest, "invalid json")
		return
	}

	resolution, err := s.Engine.ResolveConflict(r.Context(), userID, conflictID, req.Strategy, req.ResolvedData)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, resolution)
}
