package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Memory is an in-memory implementation of all store interfaces. It backs
// the test suites and the server's dev mode; the Postgres implementation is
// the production counterpart.
type Memory struct {
	mu          sync.RWMutex
	documents   map[string]*Document  // keyed by collection + "\x00" + id
	operations  map[string]*Operation // keyed by operation id
	opSeq       map[string]int64      // insertion order tiebreaker
	nextSeq     int64
	conflicts   map[string]*Conflict
	resolutions []*Resolution
	states      map[string]*SyncState
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		documents:  make(map[string]*Document),
		operations: make(map[string]*Operation),
		opSeq:      make(map[string]int64),
		conflicts:  make(map[string]*Conflict),
		states:     make(map[string]*SyncState),
	}
}

func docKey(collection, id string) string {
	return collection + "\x00" + id
}

func cloneFields(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneDocument(d *Document) *Document {
	cp := *d
	cp.Fields = cloneFields(d.Fields)
	return &cp
}

func cloneOperation(op *Operation) *Operation {
	cp := *op
	cp.Payload.Fields = cloneFields(op.Payload.Fields)
	cp.Payload.Operations = append([]SubOperation(nil), op.Payload.Operations...)
	return &cp
}

func cloneConflict(c *Conflict) *Conflict {
	cp := *c
	cp.ClientData = cloneFields(c.ClientData)
	cp.ServerData = cloneFields(c.ServerData)
	return &cp
}

// ResolveUser satisfies auth's user resolution: in memory mode the token
// subject is the user id.
func (m *Memory) ResolveUser(ctx context.Context, sub string) (string, error) {
	return sub, nil
}

// --- DocumentStore ---

func (m *Memory) GetDocument(ctx context.Context, collection, documentID string) (*Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	doc, ok := m.documents[docKey(collection, documentID)]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneDocument(doc), nil
}

func (m *Memory) InsertDocument(ctx context.Context, collection, documentID string, fields map[string]any) (*Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := docKey(collection, documentID)
	if existing, ok := m.documents[key]; ok {
		// Idempotent re-create: leave the stored document untouched.
		return cloneDocument(existing), nil
	}

	now := time.Now().UTC()
	doc := &Document{
		Collection: collection,
		ID:         documentID,
		Version:    1,
		Fields:     cloneFields(fields),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	m.documents[key] = doc
	return cloneDocument(doc), nil
}

func (m *Memory) UpdateDocument(ctx context.Context, doc *Document, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := docKey(doc.Collection, doc.ID)
	existing, ok := m.documents[key]
	if !ok || existing.Version != expectedVersion {
		return ErrVersionMismatch
	}

	stored := cloneDocument(doc)
	stored.CreatedAt = existing.CreatedAt
	stored.UpdatedAt = time.Now().UTC()
	m.documents[key] = stored
	return nil
}

func (m *Memory) PutDocument(ctx context.Context, doc *Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := docKey(doc.Collection, doc.ID)
	now := time.Now().UTC()

	stored := cloneDocument(doc)
	stored.UpdatedAt = now
	if existing, ok := m.documents[key]; ok {
		stored.CreatedAt = existing.CreatedAt
	} else if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	m.documents[key] = stored
	return nil
}

func (m *Memory) DeleteDocument(ctx context.Context, collection, documentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.documents, docKey(collection, documentID))
	return nil
}

func (m *Memory) ApplyDocumentBatch(ctx context.Context, writes []BatchWrite) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Stage against a scratch view first so a mid-batch failure leaves
	// nothing applied.
	staged := make(map[string]*Document, len(writes))
	deleted := make(map[string]bool, len(writes))
	now := time.Now().UTC()

	for _, w := range writes {
		key := docKey(w.Collection, w.DocumentID)
		switch w.Kind {
		case BatchInsert:
			if _, ok := m.documents[key]; ok && !deleted[key] {
				continue // idempotent, same as InsertDocument
			}
			staged[key] = &Document{
				Collection: w.Collection,
				ID:         w.DocumentID,
				Version:    1,
				Fields:     cloneFields(w.Fields),
				CreatedAt:  now,
				UpdatedAt:  now,
			}
			delete(deleted, key)
		case BatchUpdate:
			existing, ok := m.documents[key]
			if !ok || existing.Version != w.ExpectedVersion {
				return ErrVersionMismatch
			}
			staged[key] = &Document{
				Collection: w.Collection,
				ID:         w.DocumentID,
				Version:    w.Version,
				Fields:     cloneFields(w.Fields),
				CreatedAt:  existing.CreatedAt,
				UpdatedAt:  now,
			}
			delete(deleted, key)
		case BatchDelete:
			deleted[key] = true
			delete(staged, key)
		default:
			return ErrNotFound
		}
	}

	for key := range deleted {
		delete(m.documents, key)
	}
	for key, doc := range staged {
		m.documents[key] = doc
	}
	return nil
}

// --- QueueStore ---

func (m *Memory) CreateOperation(ctx context.Context, op *Operation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextSeq++
	m.operations[op.ID] = cloneOperation(op)
	m.opSeq[op.ID] = m.nextSeq
	return nil
}

func (m *Memory) CreateOperations(ctx context.Context, ops []*Operation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, op := range ops {
		m.nextSeq++
		m.operations[op.ID] = cloneOperation(op)
		m.opSeq[op.ID] = m.nextSeq
	}
	return nil
}

func (m *Memory) GetOperation(ctx context.Context, userID, operationID string) (*Operation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	op, ok := m.operations[operationID]
	if !ok || op.UserID != userID {
		return nil, ErrNotFound
	}
	return cloneOperation(op), nil
}

func (m *Memory) PendingCount(ctx context.Context, userID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, op := range m.operations {
		if op.UserID == userID && op.Status == StatusPending {
			n++
		}
	}
	return n, nil
}

// pendingSorted returns the user's PENDING records in FIFO order. Caller
// holds the lock.
func (m *Memory) pendingSorted(userID string) []*Operation {
	var pending []*Operation
	for _, op := range m.operations {
		if op.UserID == userID && op.Status == StatusPending {
			pending = append(pending, op)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		if pending[i].EnqueuedAt.Equal(pending[j].EnqueuedAt) {
			return m.opSeq[pending[i].ID] < m.opSeq[pending[j].ID]
		}
		return pending[i].EnqueuedAt.Before(pending[j].EnqueuedAt)
	})
	return pending
}

func (m *Memory) ListPending(ctx context.Context, userID string, limit int) ([]*Operation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	pending := m.pendingSorted(userID)
	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}
	out := make([]*Operation, 0, len(pending))
	for _, op := range pending {
		out = append(out, cloneOperation(op))
	}
	return out, nil
}

func (m *Memory) ApplyStatusUpdates(ctx context.Context, userID string, updates []StatusUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Validate the full set before mutating anything.
	for _, u := range updates {
		op, ok := m.operations[u.OperationID]
		if !ok || op.UserID != userID {
			return ErrNotFound
		}
	}

	now := time.Now().UTC()
	for _, u := range updates {
		op := m.operations[u.OperationID]
		op.Status = u.Status
		op.RetryCount = u.RetryCount
		op.LastError = u.LastError
		op.CompletedAt = u.CompletedAt
		if u.DocumentID != "" {
			op.DocumentID = u.DocumentID
		}
		op.UpdatedAt = now
	}
	return nil
}

func (m *Memory) CountByStatus(ctx context.Context, userID string) (StatusCounts, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var c StatusCounts
	for _, op := range m.operations {
		if op.UserID != userID {
			continue
		}
		switch op.Status {
		case StatusPending:
			c.Pending++
		case StatusInProgress:
			c.InProgress++
		case StatusCompleted:
			c.Completed++
		case StatusFailed:
			c.Failed++
		}
	}
	return c, nil
}

func (m *Memory) NextPending(ctx context.Context, userID string) (*Operation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	pending := m.pendingSorted(userID)
	if len(pending) == 0 {
		return nil, nil
	}
	return cloneOperation(pending[0]), nil
}

func (m *Memory) UsersWithPending(ctx context.Context, limit int) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[string]bool)
	var users []string
	for _, op := range m.operations {
		if op.Status == StatusPending && !seen[op.UserID] {
			seen[op.UserID] = true
			users = append(users, op.UserID)
		}
	}
	sort.Strings(users)
	if limit > 0 && len(users) > limit {
		users = users[:limit]
	}
	return users, nil
}

// --- ConflictStore ---

func (m *Memory) CreateConflict(ctx context.Context, c *Conflict) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.conflicts[c.ID] = cloneConflict(c)
	return nil
}

func (m *Memory) GetConflict(ctx context.Context, userID, conflictID string) (*Conflict, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.conflicts[conflictID]
	if !ok || c.UserID != userID {
		return nil, ErrNotFound
	}
	return cloneConflict(c), nil
}

func (m *Memory) DeleteConflict(ctx context.Context, userID, conflictID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.conflicts[conflictID]
	if !ok || c.UserID != userID {
		return ErrNotFound
	}
	delete(m.conflicts, conflictID)
	return nil
}

func (m *Memory) ListConflicts(ctx context.Context, userID string, afterMs int64, afterID string, limit int) ([]*Conflict, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Conflict
	for _, c := range m.conflicts {
		if c.UserID != userID {
			continue
		}
		ms := c.DetectedAt.UnixMilli()
		if ms < afterMs || (ms == afterMs && c.ID <= afterID) {
			continue
		}
		out = append(out, cloneConflict(c))
	}
	sort.Slice(out, func(i, j int) bool {
		mi, mj := out[i].DetectedAt.UnixMilli(), out[j].DetectedAt.UnixMilli()
		if mi == mj {
			return out[i].ID < out[j].ID
		}
		return mi < mj
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) CountConflicts(ctx context.Context, userID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, c := range m.conflicts {
		if c.UserID == userID {
			n++
		}
	}
	return n, nil
}

func (m *Memory) CreateResolution(ctx context.Context, r *Resolution) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *r
	cp.ClientData = cloneFields(r.ClientData)
	cp.ServerData = cloneFields(r.ServerData)
	cp.ResolvedData = cloneFields(r.ResolvedData)
	m.resolutions = append(m.resolutions, &cp)
	return nil
}

func (m *Memory) ListResolutions(ctx context.Context, userID string, limit int) ([]*Resolution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Resolution
	for _, r := range m.resolutions {
		if r.UserID != userID {
			continue
		}
		cp := *r
		cp.ClientData = cloneFields(r.ClientData)
		cp.ServerData = cloneFields(r.ServerData)
		cp.ResolvedData = cloneFields(r.ResolvedData)
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ResolvedAt.After(out[j].ResolvedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// --- StateStore ---

func (m *Memory) GetState(ctx context.Context, userID string) (*SyncState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.states[userID]
	if !ok {
		return &SyncState{UserID: userID}, nil
	}
	cp := *s
	return &cp, nil
}

func (m *Memory) PutState(ctx context.Context, s *SyncState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *s
	m.states[s.UserID] = &cp
	return nil
}
