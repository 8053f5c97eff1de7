package syncservice

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/syncstack/docsync-api/internal/store"
)

// ConflictDetail surfaces one conflict raised during a pass.
type ConflictDetail struct {
	OperationID   string `json:"operationId"`
	ConflictID    string `json:"conflictId"`
	Collection    string `json:"collection"`
	DocumentID    string `json:"documentId"`
	ClientVersion int64  `json:"clientVersion"`
	ServerVersion int64  `json:"serverVersion"`
}

// PassResult summarizes one processing pass.
type PassResult struct {
	Processed       int              `json:"processed"`
	Failed          int              `json:"failed"`
	Conflicts       int              `json:"conflicts"`
	ConflictDetails []ConflictDetail `json:"conflictDetails"`
}

// Process runs one processing pass for a user: up to BatchSize PENDING
// operations in FIFO order, each applied against the document store.
//
// Document writes happen individually per operation since each may
// independently fail or conflict, but every record-status transition of the
// pass is committed together in one atomic multi-write, so a partially
// applied pass is never visible in the queue. Re-running a pass is safe:
// only the PENDING status gates eligibility, so completed and terminally
// failed records are never re-selected.
func (e *Engine) Process(ctx context.Context, userID string) (*PassResult, error) {
	logger := log.Ctx(ctx).With().Str("userId", userID).Logger()

	ops, err := e.queue.ListPending(ctx, userID, e.limits.BatchSize)
	if err != nil {
		return nil, &TransientError{Err: err}
	}

	// Best-effort in-progress marker; the sweep scheduler uses it to skip
	// users whose pass is already running. Cleared by refreshState.
	if state, err := e.states.GetState(ctx, userID); err == nil {
		state.SyncInProgress = true
		_ = e.states.PutState(ctx, state)
	}

	result := &PassResult{ConflictDetails: []ConflictDetail{}}
	updates := make([]store.StatusUpdate, 0, len(ops))
	now := time.Now().UTC()

	for _, op := range ops {
		// The in-progress transition is staged with the rest of the
		// pass; it is subsumed by the terminal status below.
		op.Status = store.StatusInProgress

		conflict, applyErr := e.applyOperation(ctx, op)

		switch {
		case conflict != nil:
			result.Conflicts++
			result.ConflictDetails = append(result.ConflictDetails, ConflictDetail{
				OperationID:   op.ID,
				ConflictID:    conflict.ID,
				Collection:    conflict.Collection,
				DocumentID:    conflict.DocumentID,
				ClientVersion: conflict.ClientVersion,
				ServerVersion: conflict.ServerVersion,
			})
			updates = append(updates, store.StatusUpdate{
				OperationID: op.ID,
				Status:      store.StatusConflict,
				RetryCount:  op.RetryCount,
				LastError: fmt.Sprintf("version conflict: client %d, server %d",
					conflict.ClientVersion, conflict.ServerVersion),
			})
			logger.Warn().
				Str("operationId", op.ID).
				Str("conflictId", conflict.ID).
				Int64("clientVersion", conflict.ClientVersion).
				Int64("serverVersion", conflict.ServerVersion).
				Msg("version conflict detected")

		case applyErr != nil:
			op.RetryCount++
			terminal := !retryable(applyErr) || op.RetryCount >= e.limits.MaxRetries
			status := store.StatusPending
			if terminal {
				status = store.StatusFailed
				result.Failed++
			}
			updates = append(updates, store.StatusUpdate{
				OperationID: op.ID,
				Status:      status,
				RetryCount:  op.RetryCount,
				LastError:   applyErr.Error(),
				// A generated CREATE id is persisted with the retry so the
				// next pass replays against the same document.
				DocumentID: op.DocumentID,
			})
			logger.Warn().Err(applyErr).
				Str("operationId", op.ID).
				Int("retryCount", op.RetryCount).
				Bool("terminal", terminal).
				Msg("operation apply failed")

		default:
			completed := now
			result.Processed++
			updates = append(updates, store.StatusUpdate{
				OperationID: op.ID,
				Status:      store.StatusCompleted,
				RetryCount:  op.RetryCount,
				DocumentID:  op.DocumentID,
				CompletedAt: &completed,
			})
		}
	}

	if len(updates) > 0 {
		if err := e.queue.ApplyStatusUpdates(ctx, userID, updates); err != nil {
			return nil, &TransientError{Err: err}
		}
	}

	if err := e.refreshState(ctx, userID, now); err != nil {
		// Counts are recomputed from authoritative queries on the next
		// pass or status call; a failed refresh is not fatal.
		logger.Warn().Err(err).Msg("failed to refresh sync state")
	}

	logger.Info().
		Int("processed", result.Processed).
		Int("failed", result.Failed).
		Int("conflicts", result.Conflicts).
		Msg("processing pass complete")

	return result, nil
}

// refreshState recomputes the user's sync state from authoritative counts
// after a pass.
func (e *Engine) refreshState(ctx context.Context, userID string, syncedAt time.Time) error {
	counts, err := e.queue.CountByStatus(ctx, userID)
	if err != nil {
		return err
	}
	state, err := e.states.GetState(ctx, userID)
	if err != nil {
		return err
	}
	state.LastSyncAt = &syncedAt
	state.PendingOperations = counts.Pending
	state.FailedOperations = counts.Failed
	state.SyncInProgress = false
	return e.states.PutState(ctx, state)
}
