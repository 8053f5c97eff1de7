// Package syncservice implements the offline-first sync engine: clients
// enqueue mutations made while disconnected, and processing passes replay
// them against the shared document store, detecting version conflicts and
// resolving them with pluggable strategies.
package syncservice

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/syncstack/docsync-api/internal/store"
)

// Limits bounds queue growth and pass size. Zero values fall back to the
// defaults below.
type Limits struct {
	QueueCapacity   int // max PENDING operations per user
	BatchSize       int // max operations applied in one processing pass
	MaxRetries      int // attempts before an operation goes terminal FAILED
	EnqueueBatchMax int // max operations accepted by one batch-enqueue call
}

const (
	DefaultQueueCapacity   = 1000
	DefaultBatchSize       = 50
	DefaultMaxRetries      = 3
	DefaultEnqueueBatchMax = 50
)

func (l Limits) withDefaults() Limits {
	if l.QueueCapacity <= 0 {
		l.QueueCapacity = DefaultQueueCapacity
	}
	if l.BatchSize <= 0 {
		l.BatchSize = DefaultBatchSize
	}
	if l.MaxRetries <= 0 {
		l.MaxRetries = DefaultMaxRetries
	}
	if l.EnqueueBatchMax <= 0 {
		l.EnqueueBatchMax = DefaultEnqueueBatchMax
	}
	return l
}

// Engine wires the four stores together. All operations are scoped to the
// authenticated user passed in by the caller; the engine itself never
// crosses user boundaries.
type Engine struct {
	docs      store.DocumentStore
	queue     store.QueueStore
	conflicts store.ConflictStore
	states    store.StateStore
	limits    Limits
}

// NewEngine creates an engine over the given stores.
func NewEngine(docs store.DocumentStore, queue store.QueueStore, conflicts store.ConflictStore, states store.StateStore, limits Limits) *Engine {
	return &Engine{
		docs:      docs,
		queue:     queue,
		conflicts: conflicts,
		states:    states,
		limits:    limits.withDefaults(),
	}
}

// Limits returns the effective limits, defaults applied.
func (e *Engine) Limits() Limits {
	return e.limits
}

// EnqueueRequest is one proposed operation. Fields carries the document
// payload for CREATE/UPDATE; Operations carries the sub-operation list for
// BATCH.
type EnqueueRequest struct {
	Type          store.OperationType  `json:"operationType"`
	Collection    string               `json:"collection"`
	DocumentID    string               `json:"documentId,omitempty"`
	Fields        map[string]any       `json:"fields,omitempty"`
	Operations    []store.SubOperation `json:"operations,omitempty"`
	Strategy      store.Strategy       `json:"conflictResolution,omitempty"`
	ClientVersion *int64               `json:"clientVersion,omitempty"`
	ServerVersion *int64               `json:"serverVersion,omitempty"`
}

// validate checks the request shape without touching any store.
func (r *EnqueueRequest) validate() error {
	if !store.ValidOperationType(r.Type) {
		return &InvalidArgumentError{Reason: "unknown operation type " + string(r.Type)}
	}
	if r.Collection == "" && r.Type != store.OpBatch {
		return &InvalidArgumentError{Reason: "collection is required"}
	}
	if r.Strategy != "" && !store.ValidStrategy(r.Strategy) {
		return &InvalidArgumentError{Reason: "unknown conflict resolution strategy " + string(r.Strategy)}
	}
	switch r.Type {
	case store.OpUpdate, store.OpDelete:
		if r.DocumentID == "" {
			return &InvalidArgumentError{Reason: "documentId is required for " + string(r.Type)}
		}
	case store.OpBatch:
		if len(r.Operations) == 0 {
			return &InvalidArgumentError{Reason: "batch operation requires at least one sub-operation"}
		}
		for i, sub := range r.Operations {
			if sub.Type == store.OpBatch || !store.ValidOperationType(sub.Type) {
				return &InvalidArgumentError{Reason: "invalid sub-operation type at index " + strconv.Itoa(i)}
			}
			if sub.Collection == "" {
				return &InvalidArgumentError{Reason: "sub-operation collection is required at index " + strconv.Itoa(i)}
			}
			if sub.Type != store.OpCreate && sub.DocumentID == "" {
				return &InvalidArgumentError{Reason: "sub-operation documentId is required at index " + strconv.Itoa(i)}
			}
		}
	}
	return nil
}

// buildOperation turns a validated request into a PENDING record.
func buildOperation(userID, deviceID string, r EnqueueRequest, now time.Time) *store.Operation {
	strategy := r.Strategy
	if strategy == "" {
		strategy = store.ClientWins
	}
	return &store.Operation{
		ID:         uuid.New().String(),
		UserID:     userID,
		Type:       r.Type,
		Collection: r.Collection,
		DocumentID: r.DocumentID,
		Payload: store.Payload{
			Fields:     r.Fields,
			Operations: r.Operations,
		},
		Strategy:      strategy,
		ClientVersion: r.ClientVersion,
		ServerVersion: r.ServerVersion,
		Status:        store.StatusPending,
		DeviceID:      deviceID,
		EnqueuedAt:    now,
		UpdatedAt:     now,
	}
}

// Enqueue validates and persists one operation with status PENDING. No
// document mutation happens here; enqueue is purely a durability step.
func (e *Engine) Enqueue(ctx context.Context, userID string, req EnqueueRequest) (*store.Operation, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	pending, err := e.queue.PendingCount(ctx, userID)
	if err != nil {
		return nil, &TransientError{Err: err}
	}
	if pending >= e.limits.QueueCapacity {
		return nil, &QueueFullError{Pending: pending, Capacity: e.limits.QueueCapacity}
	}

	op := buildOperation(userID, "", req, time.Now().UTC())
	if err := e.queue.CreateOperation(ctx, op); err != nil {
		return nil, &TransientError{Err: err}
	}

	log.Ctx(ctx).Debug().
		Str("userId", userID).
		Str("operationId", op.ID).
		Str("type", string(op.Type)).
		Str("collection", op.Collection).
		Msg("operation enqueued")

	return op, nil
}

// EnqueueBatch validates and persists up to EnqueueBatchMax operations in
// one atomic write, all sharing the given device id. Either every record is
// persisted or none is.
func (e *Engine) EnqueueBatch(ctx context.Context, userID, deviceID string, reqs []EnqueueRequest) ([]*store.Operation, error) {
	if len(reqs) == 0 {
		return nil, &InvalidArgumentError{Reason: "no operations supplied"}
	}
	if len(reqs) > e.limits.EnqueueBatchMax {
		return nil, &InvalidArgumentError{Reason: "too many operations in one call"}
	}
	for _, r := range reqs {
		if err := r.validate(); err != nil {
			return nil, err
		}
	}

	pending, err := e.queue.PendingCount(ctx, userID)
	if err != nil {
		return nil, &TransientError{Err: err}
	}
	if pending+len(reqs) > e.limits.QueueCapacity {
		return nil, &QueueFullError{Pending: pending, Capacity: e.limits.QueueCapacity}
	}

	now := time.Now().UTC()
	ops := make([]*store.Operation, 0, len(reqs))
	for _, r := range reqs {
		ops = append(ops, buildOperation(userID, deviceID, r, now))
	}
	if err := e.queue.CreateOperations(ctx, ops); err != nil {
		return nil, &TransientError{Err: err}
	}

	if deviceID != "" {
		// Remember the last device that talked to us. Counts are never
		// maintained incrementally here; refreshState recomputes them
		// from authoritative queries.
		state, err := e.states.GetState(ctx, userID)
		if err == nil {
			state.DeviceID = deviceID
			_ = e.states.PutState(ctx, state)
		}
	}

	log.Ctx(ctx).Debug().
		Str("userId", userID).
		Str("deviceId", deviceID).
		Int("count", len(ops)).
		Msg("batch enqueued")

	return ops, nil
}

// GetOperation returns one of the caller's operation records.
func (e *Engine) GetOperation(ctx context.Context, userID, operationID string) (*store.Operation, error) {
	op, err := e.queue.GetOperation(ctx, userID, operationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, &NotFoundError{Kind: "operation", ID: operationID}
		}
		return nil, &TransientError{Err: err}
	}
	return op, nil
}

// NextOperation summarizes the oldest pending record for status reporting.
type NextOperation struct {
	ID         string              `json:"id"`
	Type       store.OperationType `json:"operationType"`
	Collection string              `json:"collection"`
	EnqueuedAt time.Time           `json:"timestamp"`
}

// StatusReport is the caller-facing queue snapshot. Counts come from
// authoritative queries, never from incrementally maintained counters.
type StatusReport struct {
	Pending       int            `json:"pending"`
	InProgress    int            `json:"inProgress"`
	Failed        int            `json:"failed"`
	Conflicts     int            `json:"conflicts"`
	LastSync      *time.Time     `json:"lastSync,omitempty"`
	NextOperation *NextOperation `json:"nextOperation,omitempty"`
}

// Status reports the user's current queue counts, open conflicts, last
// completed pass and next operation due.
func (e *Engine) Status(ctx context.Context, userID string) (*StatusReport, error) {
	counts, err := e.queue.CountByStatus(ctx, userID)
	if err != nil {
		return nil, &TransientError{Err: err}
	}
	conflicts, err := e.conflicts.CountConflicts(ctx, userID)
	if err != nil {
		return nil, &TransientError{Err: err}
	}
	state, err := e.states.GetState(ctx, userID)
	if err != nil {
		return nil, &TransientError{Err: err}
	}

	report := &StatusReport{
		Pending:    counts.Pending,
		InProgress: counts.InProgress,
		Failed:     counts.Failed,
		Conflicts:  conflicts,
		LastSync:   state.LastSyncAt,
	}

	next, err := e.queue.NextPending(ctx, userID)
	if err != nil {
		return nil, &TransientError{Err: err}
	}
	if next != nil {
		report.NextOperation = &NextOperation{
			ID:         next.ID,
			Type:       next.Type,
			Collection: next.Collection,
			EnqueuedAt: next.EnqueuedAt,
		}
	}
	return report, nil
}
