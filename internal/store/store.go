// Package store defines the persistence contracts of the sync engine: the
// shared document collection, the per-user operation queue, detected
// conflicts with their resolution audit trail, and per-user sync state.
// Two implementations exist: Postgres (production) and in-memory (tests,
// dev mode). The engine only ever sees these interfaces.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a referenced document, operation or conflict
// does not exist.
var ErrNotFound = errors.New("not found")

// ErrVersionMismatch is returned by conditional document writes when the
// stored version no longer matches the version the caller observed.
var ErrVersionMismatch = errors.New("version mismatch")

// DocumentStore is the shared mutable document collection, keyed by
// (collection, documentId). Every document carries an integer version used
// for optimistic concurrency control.
type DocumentStore interface {
	// GetDocument returns the live document or ErrNotFound.
	GetDocument(ctx context.Context, collection, documentID string) (*Document, error)

	// InsertDocument creates a document with version 1. Re-inserting an
	// existing id is a no-op returning the stored document unchanged, so
	// retried CREATE operations are idempotent at the document-id level.
	InsertDocument(ctx context.Context, collection, documentID string, fields map[string]any) (*Document, error)

	// UpdateDocument is the compare-and-set write: it stores doc only when
	// the live version still equals expectedVersion, and returns
	// ErrVersionMismatch otherwise (including when the document was
	// concurrently deleted). All cross-writer safety derives from this
	// conditional write.
	UpdateDocument(ctx context.Context, doc *Document, expectedVersion int64) error

	// PutDocument writes fields and version unconditionally. Reserved for
	// writes that are serialized by some other gate, such as conflict
	// resolution consuming its one-time conflict record.
	PutDocument(ctx context.Context, doc *Document) error

	// DeleteDocument removes a document. Deleting an absent document is a
	// no-op.
	DeleteDocument(ctx context.Context, collection, documentID string) error

	// ApplyDocumentBatch applies all writes atomically: either every entry
	// takes effect or none does.
	ApplyDocumentBatch(ctx context.Context, writes []BatchWrite) error
}

// QueueStore persists operation records scoped per user.
type QueueStore interface {
	CreateOperation(ctx context.Context, op *Operation) error

	// CreateOperations persists all records atomically.
	CreateOperations(ctx context.Context, ops []*Operation) error

	// GetOperation returns the record or ErrNotFound. Lookups are scoped to
	// the owning user.
	GetOperation(ctx context.Context, userID, operationID string) (*Operation, error)

	// PendingCount returns the user's current number of PENDING records.
	PendingCount(ctx context.Context, userID string) (int, error)

	// ListPending returns up to limit PENDING records ordered by enqueue
	// time ascending (FIFO, oldest first).
	ListPending(ctx context.Context, userID string, limit int) ([]*Operation, error)

	// ApplyStatusUpdates commits all staged status transitions for one
	// processing pass atomically.
	ApplyStatusUpdates(ctx context.Context, userID string, updates []StatusUpdate) error

	// CountByStatus returns authoritative per-status counts for the user.
	CountByStatus(ctx context.Context, userID string) (StatusCounts, error)

	// NextPending returns the oldest PENDING record, or nil when the queue
	// is drained.
	NextPending(ctx context.Context, userID string) (*Operation, error)

	// UsersWithPending returns up to limit distinct user ids that currently
	// have PENDING records. Used by the sweep scheduler.
	UsersWithPending(ctx context.Context, limit int) ([]string, error)
}

// ConflictStore persists detected conflicts and their resolution audit trail.
type ConflictStore interface {
	CreateConflict(ctx context.Context, c *Conflict) error

	// GetConflict returns the conflict or ErrNotFound.
	GetConflict(ctx context.Context, userID, conflictID string) (*Conflict, error)

	// DeleteConflict removes a conflict, returning ErrNotFound when it was
	// already consumed. The one-time delete is the resolve completion gate.
	DeleteConflict(ctx context.Context, userID, conflictID string) error

	// ListConflicts returns open conflicts ordered by (detectedAt, id)
	// ascending, starting strictly after the given cursor position.
	ListConflicts(ctx context.Context, userID string, afterMs int64, afterID string, limit int) ([]*Conflict, error)

	CountConflicts(ctx context.Context, userID string) (int, error)

	// CreateResolution appends a resolution audit record.
	CreateResolution(ctx context.Context, r *Resolution) error

	// ListResolutions returns the user's resolution audit records, most
	// recent first.
	ListResolutions(ctx context.Context, userID string, limit int) ([]*Resolution, error)
}

// StateStore persists per-user sync state.
type StateStore interface {
	// GetState returns the user's state, or a zero-valued state when the
	// user has never synced.
	GetState(ctx context.Context, userID string) (*SyncState, error)

	// PutState upserts the state record.
	PutState(ctx context.Context, s *SyncState) error
}
