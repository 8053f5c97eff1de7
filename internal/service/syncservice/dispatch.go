package syncservice

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/syncstack/docsync-api/internal/store"
)

// applyOperation dispatches one operation against the document store.
// A non-nil conflict means the operation terminated with a conflict-detected
// outcome rather than a plain failure; the conflict record has already been
// persisted when it is returned.
func (e *Engine) applyOperation(ctx context.Context, op *store.Operation) (*store.Conflict, error) {
	switch op.Type {
	case store.OpCreate:
		return nil, e.applyCreate(ctx, op)
	case store.OpUpdate:
		return e.applyUpdate(ctx, op)
	case store.OpDelete:
		return nil, e.applyDelete(ctx, op)
	case store.OpBatch:
		return nil, e.applyBatch(ctx, op)
	default:
		return nil, &InvalidArgumentError{Reason: "unknown operation type " + string(op.Type)}
	}
}

// applyCreate writes a new document with version 1. Creation has no prior
// version to compare against, so it never conflicts. A client-specified id
// is honored; otherwise one is generated.
func (e *Engine) applyCreate(ctx context.Context, op *store.Operation) error {
	docID := op.DocumentID
	if docID == "" {
		docID = uuid.New().String()
		// Recorded so a retried pass reuses the same id instead of
		// creating a second document.
		op.DocumentID = docID
	}
	if _, err := e.docs.InsertDocument(ctx, op.Collection, docID, op.Payload.Fields); err != nil {
		return &TransientError{Err: err}
	}
	return nil
}

// applyUpdate overlays the operation's fields onto the live document after
// the optimistic version check. A missing document is an immediate terminal
// failure; a version mismatch raises a conflict instead of applying. The
// write itself is a compare-and-set on the version read above, so a
// concurrent writer landing between the read and the write also surfaces as
// a conflict rather than being overwritten.
func (e *Engine) applyUpdate(ctx context.Context, op *store.Operation) (*store.Conflict, error) {
	doc, err := e.docs.GetDocument(ctx, op.Collection, op.DocumentID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, &NotFoundError{Kind: "document", ID: op.Collection + "/" + op.DocumentID}
		}
		return nil, &TransientError{Err: err}
	}

	if op.ClientVersion != nil && *op.ClientVersion != doc.Version {
		return e.raiseUpdateConflict(ctx, op, doc.Version, doc.Fields)
	}

	observed := doc.Version
	doc.Fields = overlayFields(doc.Fields, op.Payload.Fields)
	doc.Version++
	err = e.docs.UpdateDocument(ctx, doc, observed)
	if err == nil {
		return nil, nil
	}
	if !errors.Is(err, store.ErrVersionMismatch) {
		return nil, &TransientError{Err: err}
	}

	// Lost the compare-and-set. Without a declared client version there is
	// nothing to conflict against; the retry replays over the fresh document.
	if op.ClientVersion == nil {
		return nil, &TransientError{Err: err}
	}
	fresh, ferr := e.docs.GetDocument(ctx, op.Collection, op.DocumentID)
	if ferr != nil {
		if errors.Is(ferr, store.ErrNotFound) {
			return nil, &NotFoundError{Kind: "document", ID: op.Collection + "/" + op.DocumentID}
		}
		return nil, &TransientError{Err: ferr}
	}
	return e.raiseUpdateConflict(ctx, op, fresh.Version, fresh.Fields)
}

// raiseUpdateConflict persists a conflict record for an update that cannot
// apply against the live document state.
func (e *Engine) raiseUpdateConflict(ctx context.Context, op *store.Operation, serverVersion int64, serverData map[string]any) (*store.Conflict, error) {
	conflict := &store.Conflict{
		ID:            uuid.New().String(),
		UserID:        op.UserID,
		OperationID:   op.ID,
		Collection:    op.Collection,
		DocumentID:    op.DocumentID,
		ClientVersion: *op.ClientVersion,
		ServerVersion: serverVersion,
		ClientData:    op.Payload.Fields,
		ServerData:    serverData,
		DetectedAt:    time.Now().UTC(),
	}
	if err := e.conflicts.CreateConflict(ctx, conflict); err != nil {
		return nil, &TransientError{Err: err}
	}
	return conflict, nil
}

// applyDelete removes the document unconditionally. Deletes are
// last-writer-wins by intent: no version check, and deleting an absent
// document succeeds.
func (e *Engine) applyDelete(ctx context.Context, op *store.Operation) error {
	if err := e.docs.DeleteDocument(ctx, op.Collection, op.DocumentID); err != nil {
		return &TransientError{Err: err}
	}
	return nil
}

// applyBatch applies the ordered sub-operation list as one atomic
// multi-write. Sub-updates skip conflict detection; BATCH is meant for
// bulk, non-conflicting writes, and callers needing conflict safety should
// enqueue individual UPDATE operations instead. Each sub-update write is
// still guarded by the version it read: a concurrent writer aborts the
// whole batch and the operation is retried against fresh state.
func (e *Engine) applyBatch(ctx context.Context, op *store.Operation) error {
	writes := make([]store.BatchWrite, 0, len(op.Payload.Operations))

	for i := range op.Payload.Operations {
		sub := &op.Payload.Operations[i]
		switch sub.Type {
		case store.OpCreate:
			if sub.DocumentID == "" {
				sub.DocumentID = uuid.New().String()
			}
			writes = append(writes, store.BatchWrite{
				Kind:       store.BatchInsert,
				Collection: sub.Collection,
				DocumentID: sub.DocumentID,
				Fields:     sub.Fields,
			})
		case store.OpUpdate:
			doc, err := e.docs.GetDocument(ctx, sub.Collection, sub.DocumentID)
			if err != nil {
				if errors.Is(err, store.ErrNotFound) {
					return &NotFoundError{Kind: "document", ID: sub.Collection + "/" + sub.DocumentID}
				}
				return &TransientError{Err: err}
			}
			writes = append(writes, store.BatchWrite{
				Kind:            store.BatchUpdate,
				Collection:      sub.Collection,
				DocumentID:      sub.DocumentID,
				Fields:          overlayFields(doc.Fields, sub.Fields),
				Version:         doc.Version + 1,
				ExpectedVersion: doc.Version,
			})
		case store.OpDelete:
			writes = append(writes, store.BatchWrite{
				Kind:       store.BatchDelete,
				Collection: sub.Collection,
				DocumentID: sub.DocumentID,
			})
		default:
			return &InvalidArgumentError{Reason: "invalid sub-operation type " + string(sub.Type)}
		}
	}

	if err := e.docs.ApplyDocumentBatch(ctx, writes); err != nil {
		return &TransientError{Err: err}
	}
	return nil
}

// overlayFields returns base with overlay's keys written over it. Shallow,
// per-key: overlay keys take precedence.
func overlayFields(base, overlay map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(overlay))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overlay {
		out[k] = v
	}
	return out
}
