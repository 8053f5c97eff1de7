package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/syncstack/docsync-api/internal/auth"
	"github.com/syncstack/docsync-api/internal/service/syncservice"
)

// enqueueAck confirms a durably queued operation. Enqueue never mutates a
// document, so the ack carries queue metadata only.
type enqueueAck struct {
	OperationID string    `json:"operationId"`
	Status      string    `json:"status"`
	EnqueuedAt  time.Time `json:"enqueuedAt"`
}

// EnqueueOperation handles POST /v1/sync/operations
// Validates and queues a single offline mutation for a later processing pass
func (s *Server) EnqueueOperation(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	var req syncservice.EnqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Ctx(r.Context()).Warn().Err(err).Msg("invalid enqueue request body")
		writeError(w, r, http.StatusBadRequest, "invalid json")
		return
	}

	op, err := s.Engine.Enqueue(r.Context(), userID, req)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, enqueueAck{
		OperationID: op.ID,
		Status:      string(op.Status),
		EnqueuedAt:  op.EnqueuedAt,
	})
}

type batchEnqueueReq struct {
	DeviceID   string                       `json:"deviceId,omitempty"`
	Operations []syncservice.EnqueueRequest `json:"operations"`
}

type batchEnqueueAck struct {
	OperationIDs []string  `json:"operationIds"`
	Count        int       `json:"count"`
	EnqueuedAt   time.Time `json:"enqueuedAt"`
}

// EnqueueBatch handles POST /v1/sync/operations/batch
// Queues several operations in one atomic write; all or none are persisted
func (s *Server) EnqueueBatch(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	var req batchEnqueueReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Ctx(r.Context()).Warn().Err(err).Msg("invalid batch enqueue request body")
		writeError(w, r, http.StatusBadRequest, "invalid json")
		return
	}

	ops, err := s.Engine.EnqueueBatch(r.Context(), userID, req.DeviceID, req.Operations)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}

	ack := batchEnqueueAck{
		OperationIDs: make([]string, 0, len(ops)),
		Count:        len(ops),
	}
	for _, op := range ops {
		ack.OperationIDs = append(ack.OperationIDs, op.ID)
		ack.EnqueuedAt = op.EnqueuedAt
	}

	writeJSON(w, http.StatusCreated, ack)
}

// GetOperation handles GET /v1/sync/operations/{id}
// Returns the full record including status, retry count and last error
func (s *Server) GetOperation(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	operationID := chi.URLParam(r, "id")

	op, err := s.Engine.GetOperation(r.Context(), userID, operationID)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, op)
}

// Process handles POST /v1/sync/process
// Runs one processing pass over the caller's pending queue
func (s *Server) Process(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	result, err := s.Engine.Process(r.Context(), userID)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// Status handles GET /v1/sync/status
// Reports queue counts, open conflicts, last pass time and the next operation
func (s *Server) Status(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	report, err := s.Engine.Status(r.Context(), userID)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, report)
}
