package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres implements every store interface on top of a pgx connection
// pool. Atomic multi-writes (document batches, pass status commits) map to
// transactions.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres wraps an open connection pool. The schema in schema.sql must
// already be applied.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// ResolveUser upserts the app_user row for a token subject and returns the
// stable user id. Creates the user on first authentication (same approach as
// the auth middleware's owner resolution).
func (p *Postgres) ResolveUser(ctx context.Context, sub string) (string, error) {
	var userID string
	err := p.pool.QueryRow(ctx, `
		INSERT INTO app_user (sub) VALUES ($1)
		ON CONFLICT (sub) DO UPDATE SET sub = excluded.sub
		RETURNING id
	`, sub).Scan(&userID)
	if err != nil {
		return "", fmt.Errorf("resolve user: %w", err)
	}
	return userID, nil
}

// --- DocumentStore ---

func (p *Postgres) GetDocument(ctx context.Context, collection, documentID string) (*Document, error) {
	doc := &Document{Collection: collection, ID: documentID}
	err := p.pool.QueryRow(ctx, `
		SELECT version, fields, created_at, updated_at
		FROM document
		WHERE collection = $1 AND document_id = $2
	`, collection, documentID).Scan(&doc.Version, &doc.Fields, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return doc, nil
}

func (p *Postgres) InsertDocument(ctx context.Context, collection, documentID string, fields map[string]any) (*Document, error) {
	payload, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}

	// ON CONFLICT DO NOTHING keeps retried creates idempotent; the read
	// back below returns whichever row survived.
	_, err = p.pool.Exec(ctx, `
		INSERT INTO document (collection, document_id, version, fields)
		VALUES ($1, $2, 1, $3)
		ON CONFLICT (collection, document_id) DO NOTHING
	`, collection, documentID, payload)
	if err != nil {
		return nil, err
	}
	return p.GetDocument(ctx, collection, documentID)
}

func (p *Postgres) UpdateDocument(ctx context.Context, doc *Document, expectedVersion int64) error {
	payload, err := json.Marshal(doc.Fields)
	if err != nil {
		return err
	}
	// The version predicate makes the write a compare-and-set: a row moved
	// by a concurrent writer matches zero rows.
	tag, err := p.pool.Exec(ctx, `
		UPDATE document
		SET version = $3, fields = $4, updated_at = now()
		WHERE collection = $1 AND document_id = $2 AND version = $5
	`, doc.Collection, doc.ID, doc.Version, payload, expectedVersion)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrVersionMismatch
	}
	return nil
}

func (p *Postgres) PutDocument(ctx context.Context, doc *Document) error {
	payload, err := json.Marshal(doc.Fields)
	if err != nil {
		return err
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO document (collection, document_id, version, fields)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (collection, document_id) DO UPDATE SET
			version    = EXCLUDED.version,
			fields     = EXCLUDED.fields,
			updated_at = now()
	`, doc.Collection, doc.ID, doc.Version, payload)
	return err
}

func (p *Postgres) DeleteDocument(ctx context.Context, collection, documentID string) error {
	_, err := p.pool.Exec(ctx, `
		DELETE FROM document WHERE collection = $1 AND document_id = $2
	`, collection, documentID)
	return err
}

func (p *Postgres) ApplyDocumentBatch(ctx context.Context, writes []BatchWrite) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, w := range writes {
		switch w.Kind {
		case BatchInsert:
			payload, err := json.Marshal(w.Fields)
			if err != nil {
				return err
			}
			if _, err := tx.Exec(ctx, `
				INSERT INTO document (collection, document_id, version, fields)
				VALUES ($1, $2, 1, $3)
				ON CONFLICT (collection, document_id) DO NOTHING
			`, w.Collection, w.DocumentID, payload); err != nil {
				return err
			}
		case BatchUpdate:
			payload, err := json.Marshal(w.Fields)
			if err != nil {
				return err
			}
			tag, err := tx.Exec(ctx, `
				UPDATE document
				SET version = $3, fields = $4, updated_at = now()
				WHERE collection = $1 AND document_id = $2 AND version = $5
			`, w.Collection, w.DocumentID, w.Version, payload, w.ExpectedVersion)
			if err != nil {
				return err
			}
			if tag.RowsAffected() == 0 {
				// A lost compare-and-set aborts the whole batch; the
				// deferred rollback undoes the earlier entries.
				return ErrVersionMismatch
			}
		case BatchDelete:
			if _, err := tx.Exec(ctx, `
				DELETE FROM document WHERE collection = $1 AND document_id = $2
			`, w.Collection, w.DocumentID); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unknown batch write kind %q", w.Kind)
		}
	}

	return tx.Commit(ctx)
}

// --- QueueStore ---

const operationColumns = `
	id, user_id, operation_type, collection, COALESCE(document_id, ''),
	payload, strategy, client_version, server_version, status, retry_count,
	last_error, device_id, enqueued_at, updated_at, completed_at`

func scanOperation(row pgx.Row) (*Operation, error) {
	op := &Operation{}
	var payload []byte
	err := row.Scan(
		&op.ID, &op.UserID, &op.Type, &op.Collection, &op.DocumentID,
		&payload, &op.Strategy, &op.ClientVersion, &op.ServerVersion,
		&op.Status, &op.RetryCount, &op.LastError, &op.DeviceID,
		&op.EnqueuedAt, &op.UpdatedAt, &op.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(payload, &op.Payload); err != nil {
		return nil, fmt.Errorf("decode operation payload: %w", err)
	}
	return op, nil
}

func insertOperation(ctx context.Context, tx pgx.Tx, op *Operation) error {
	payload, err := json.Marshal(op.Payload)
	if err != nil {
		return err
	}
	var docID *string
	if op.DocumentID != "" {
		docID = &op.DocumentID
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO sync_operation (
			id, user_id, operation_type, collection, document_id, payload,
			strategy, client_version, server_version, status, retry_count,
			last_error, device_id, enqueued_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $14)
	`, op.ID, op.UserID, op.Type, op.Collection, docID, payload,
		op.Strategy, op.ClientVersion, op.ServerVersion, op.Status,
		op.RetryCount, op.LastError, op.DeviceID, op.EnqueuedAt)
	return err
}

func (p *Postgres) CreateOperation(ctx context.Context, op *Operation) error {
	return p.CreateOperations(ctx, []*Operation{op})
}

func (p *Postgres) CreateOperations(ctx context.Context, ops []*Operation) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, op := range ops {
		if err := insertOperation(ctx, tx, op); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (p *Postgres) GetOperation(ctx context.Context, userID, operationID string) (*Operation, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT `+operationColumns+`
		FROM sync_operation
		WHERE id = $1 AND user_id = $2
	`, operationID, userID)
	return scanOperation(row)
}

func (p *Postgres) PendingCount(ctx context.Context, userID string) (int, error) {
	var n int
	err := p.pool.QueryRow(ctx, `
		SELECT count(*) FROM sync_operation
		WHERE user_id = $1 AND status = 'PENDING'
	`, userID).Scan(&n)
	return n, err
}

func (p *Postgres) ListPending(ctx context.Context, userID string, limit int) ([]*Operation, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT `+operationColumns+`
		FROM sync_operation
		WHERE user_id = $1 AND status = 'PENDING'
		ORDER BY enqueued_at, id
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ops []*Operation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

func (p *Postgres) ApplyStatusUpdates(ctx context.Context, userID string, updates []StatusUpdate) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, u := range updates {
		var docID *string
		if u.DocumentID != "" {
			docID = &u.DocumentID
		}
		tag, err := tx.Exec(ctx, `
			UPDATE sync_operation
			SET status = $1, retry_count = $2, last_error = $3,
			    completed_at = $4, document_id = COALESCE($5, document_id),
			    updated_at = now()
			WHERE id = $6 AND user_id = $7
		`, u.Status, u.RetryCount, u.LastError, u.CompletedAt, docID, u.OperationID, userID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
	}
	return tx.Commit(ctx)
}

func (p *Postgres) CountByStatus(ctx context.Context, userID string) (StatusCounts, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT status, count(*) FROM sync_operation
		WHERE user_id = $1
		GROUP BY status
	`, userID)
	if err != nil {
		return StatusCounts{}, err
	}
	defer rows.Close()

	var c StatusCounts
	for rows.Next() {
		var status OperationStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return StatusCounts{}, err
		}
		switch status {
		case StatusPending:
			c.Pending = n
		case StatusInProgress:
			c.InProgress = n
		case StatusCompleted:
			c.Completed = n
		case StatusFailed:
			c.Failed = n
		}
	}
	return c, rows.Err()
}

func (p *Postgres) NextPending(ctx context.Context, userID string) (*Operation, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT `+operationColumns+`
		FROM sync_operation
		WHERE user_id = $1 AND status = 'PENDING'
		ORDER BY enqueued_at, id
		LIMIT 1
	`, userID)
	op, err := scanOperation(row)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return op, err
}

func (p *Postgres) UsersWithPending(ctx context.Context, limit int) ([]string, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT DISTINCT user_id FROM sync_operation
		WHERE status = 'PENDING'
		ORDER BY user_id
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// --- ConflictStore ---

func (p *Postgres) CreateConflict(ctx context.Context, c *Conflict) error {
	clientData, err := json.Marshal(c.ClientData)
	if err != nil {
		return err
	}
	serverData, err := json.Marshal(c.ServerData)
	if err != nil {
		return err
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO sync_conflict (
			id, user_id, operation_id, collection, document_id,
			client_version, server_version, client_data, server_data, detected_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, c.ID, c.UserID, c.OperationID, c.Collection, c.DocumentID,
		c.ClientVersion, c.ServerVersion, clientData, serverData, c.DetectedAt)
	return err
}

func (p *Postgres) GetConflict(ctx context.Context, userID, conflictID string) (*Conflict, error) {
	c := &Conflict{}
	err := p.pool.QueryRow(ctx, `
		SELECT id, user_id, operation_id, collection, document_id,
		       client_version, server_version, client_data, server_data, detected_at
		FROM sync_conflict
		WHERE id = $1 AND user_id = $2
	`, conflictID, userID).Scan(
		&c.ID, &c.UserID, &c.OperationID, &c.Collection, &c.DocumentID,
		&c.ClientVersion, &c.ServerVersion, &c.ClientData, &c.ServerData, &c.DetectedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return c, nil
}

func (p *Postgres) DeleteConflict(ctx context.Context, userID, conflictID string) error {
	tag, err := p.pool.Exec(ctx, `
		DELETE FROM sync_conflict WHERE id = $1 AND user_id = $2
	`, conflictID, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) ListConflicts(ctx context.Context, userID string, afterMs int64, afterID string, limit int) ([]*Conflict, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, user_id, operation_id, collection, document_id,
		       client_version, server_version, client_data, server_data, detected_at
		FROM sync_conflict
		WHERE user_id = $1
		  AND (extract(epoch FROM detected_at) * 1000, id::text) > ($2::numeric, $3)
		ORDER BY detected_at, id
		LIMIT $4
	`, userID, afterMs, afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Conflict
	for rows.Next() {
		c := &Conflict{}
		if err := rows.Scan(
			&c.ID, &c.UserID, &c.OperationID, &c.Collection, &c.DocumentID,
			&c.ClientVersion, &c.ServerVersion, &c.ClientData, &c.ServerData, &c.DetectedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (p *Postgres) CountConflicts(ctx context.Context, userID string) (int, error) {
	var n int
	err := p.pool.QueryRow(ctx, `
		SELECT count(*) FROM sync_conflict WHERE user_id = $1
	`, userID).Scan(&n)
	return n, err
}

func (p *Postgres) CreateResolution(ctx context.Context, r *Resolution) error {
	clientData, err := json.Marshal(r.ClientData)
	if err != nil {
		return err
	}
	serverData, err := json.Marshal(r.ServerData)
	if err != nil {
		return err
	}
	resolvedData, err := json.Marshal(r.ResolvedData)
	if err != nil {
		return err
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO sync_resolution (
			id, user_id, operation_id, strategy,
			client_data, server_data, resolved_data, resolved_by, resolved_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, r.ID, r.UserID, r.OperationID, r.Strategy,
		clientData, serverData, resolvedData, r.ResolvedBy, r.ResolvedAt)
	return err
}

func (p *Postgres) ListResolutions(ctx context.Context, userID string, limit int) ([]*Resolution, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, user_id, operation_id, strategy,
		       client_data, server_data, resolved_data, resolved_by, resolved_at
		FROM sync_resolution
		WHERE user_id = $1
		ORDER BY resolved_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Resolution
	for rows.Next() {
		r := &Resolution{}
		if err := rows.Scan(
			&r.ID, &r.UserID, &r.OperationID, &r.Strategy,
			&r.ClientData, &r.ServerData, &r.ResolvedData, &r.ResolvedBy, &r.ResolvedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// --- StateStore ---

func (p *Postgres) GetState(ctx context.Context, userID string) (*SyncState, error) {
	s := &SyncState{UserID: userID}
	err := p.pool.QueryRow(ctx, `
		SELECT device_id, last_sync_at, pending_operations, failed_operations, sync_in_progress
		FROM sync_state
		WHERE user_id = $1
	`, userID).Scan(&s.DeviceID, &s.LastSyncAt, &s.PendingOperations, &s.FailedOperations, &s.SyncInProgress)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &SyncState{UserID: userID}, nil
		}
		return nil, err
	}
	return s, nil
}

func (p *Postgres) PutState(ctx context.Context, s *SyncState) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO sync_state (
			user_id, device_id, last_sync_at,
			pending_operations, failed_operations, sync_in_progress
		) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id) DO UPDATE SET
			device_id          = EXCLUDED.device_id,
			last_sync_at       = EXCLUDED.last_sync_at,
			pending_operations = EXCLUDED.pending_operations,
			failed_operations  = EXCLUDED.failed_operations,
			sync_in_progress   = EXCLUDED.sync_in_progress
	`, s.UserID, s.DeviceID, s.LastSyncAt, s.PendingOperations, s.FailedOperations, s.SyncInProgress)
	return err
}
