package syncservice

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/syncstack/docsync-api/internal/store"
)

// DetectResult is the outcome of an explicit conflict check.
type DetectResult struct {
	HasConflict bool            `json:"hasConflict"`
	Conflict    *store.Conflict `json:"conflict,omitempty"`
	Reason      string          `json:"reason,omitempty"`
}

// DetectConflict compares a client's declared version against the live
// document. Version comparison is a plain integer inequality; there is no
// vector-clock or causal-history tracking. An absent document is reported
// as "no conflict" and the caller decides whether that is itself an error.
// When versions differ, the conflict is persisted before being returned so
// it is never silently dropped.
func (e *Engine) DetectConflict(ctx context.Context, userID, collection, documentID string, clientVersion int64, clientData map[string]any, operationID string) (*DetectResult, error) {
	if collection == "" || documentID == "" {
		return nil, &InvalidArgumentError{Reason: "collection and documentId are required"}
	}

	doc, err := e.docs.GetDocument(ctx, collection, documentID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return &DetectResult{HasConflict: false, Reason: "document absent"}, nil
		}
		return nil, &TransientError{Err: err}
	}

	if doc.Version == clientVersion {
		return &DetectResult{HasConflict: false, Reason: "versions match"}, nil
	}

	conflict := &store.Conflict{
		ID:            uuid.New().String(),
		UserID:        userID,
		OperationID:   operationID,
		Collection:    collection,
		DocumentID:    documentID,
		ClientVersion: clientVersion,
		ServerVersion: doc.Version,
		ClientData:    clientData,
		ServerData:    doc.Fields,
		DetectedAt:    time.Now().UTC(),
	}
	if err := e.conflicts.CreateConflict(ctx, conflict); err != nil {
		return nil, &TransientError{Err: err}
	}

	log.Ctx(ctx).Warn().
		Str("userId", userID).
		Str("conflictId", conflict.ID).
		Str("collection", collection).
		Str("documentId", documentID).
		Int64("clientVersion", clientVersion).
		Int64("serverVersion", doc.Version).
		Msg("conflict detected")

	return &DetectResult{HasConflict: true, Conflict: conflict}, nil
}

// ResolveConflict consumes a stored conflict exactly once: it computes the
// final document value for the strategy, writes it back with the version
// incremented past the conflicting server version, appends a resolution
// audit record, and deletes the conflict. Resolving an already-consumed
// conflict fails with NotFound; the one-time delete is the completion gate
// that excludes concurrent resolutions.
func (e *Engine) ResolveConflict(ctx context.Context, userID, conflictID string, strategy store.Strategy, resolvedData map[string]any) (*store.Resolution, error) {
	if !store.ValidStrategy(strategy) {
		return nil, &InvalidArgumentError{Reason: "unknown conflict resolution strategy " + string(strategy)}
	}

	conflict, err := e.conflicts.GetConflict(ctx, userID, conflictID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, &NotFoundError{Kind: "conflict", ID: conflictID}
		}
		return nil, &TransientError{Err: err}
	}

	var finalData map[string]any
	switch strategy {
	case store.ClientWins:
		finalData = conflict.ClientData
	case store.ServerWins:
		finalData = conflict.ServerData
	case store.Merge:
		// Shallow field-level merge: server fields overlaid by client
		// fields, client keys winning per key. Not a structural merge.
		finalData = overlayFields(conflict.ServerData, conflict.ClientData)
	case store.Manual:
		if resolvedData == nil {
			return nil, &InvalidArgumentError{Reason: "resolvedData is required for MANUAL resolution"}
		}
		finalData = resolvedData
	}

	doc := &store.Document{
		Collection: conflict.Collection,
		ID:         conflict.DocumentID,
		Version:    conflict.ServerVersion + 1,
		Fields:     finalData,
	}
	// The resolution write is not re-checked for a new conflict: the
	// one-time conflict delete below excludes concurrent resolvers.
	if err := e.docs.PutDocument(ctx, doc); err != nil {
		return nil, &TransientError{Err: err}
	}

	resolution := &store.Resolution{
		ID:           uuid.New().String(),
		UserID:       userID,
		OperationID:  conflict.OperationID,
		Strategy:     strategy,
		ClientData:   conflict.ClientData,
		ServerData:   conflict.ServerData,
		ResolvedData: finalData,
		ResolvedBy:   userID,
		ResolvedAt:   time.Now().UTC(),
	}
	if err := e.conflicts.CreateResolution(ctx, resolution); err != nil {
		return nil, &TransientError{Err: err}
	}

	if err := e.conflicts.DeleteConflict(ctx, userID, conflictID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Someone else consumed it between our read and delete.
			return nil, &NotFoundError{Kind: "conflict", ID: conflictID}
		}
		return nil, &TransientError{Err: err}
	}

	log.Ctx(ctx).Info().
		Str("userId", userID).
		Str("conflictId", conflictID).
		Str("strategy", string(strategy)).
		Int64("newVersion", doc.Version).
		Msg("conflict resolved")

	return resolution, nil
}

// ListConflicts returns the caller's open conflicts in (detectedAt, id)
// order, starting strictly after the cursor position.
func (e *Engine) ListConflicts(ctx context.Context, userID string, afterMs int64, afterID string, limit int) ([]*store.Conflict, error) {
	conflicts, err := e.conflicts.ListConflicts(ctx, userID, afterMs, afterID, limit)
	if err != nil {
		return nil, &TransientError{Err: err}
	}
	return conflicts, nil
}

// ListResolutions returns the caller's resolution audit trail, most recent
// first.
func (e *Engine) ListResolutions(ctx context.Context, userID string, limit int) ([]*store.Resolution, error) {
	resolutions, err := e.conflicts.ListResolutions(ctx, userID, limit)
	if err != nil {
		return nil, &TransientError{Err: err}
	}
	return resolutions, nil
}
