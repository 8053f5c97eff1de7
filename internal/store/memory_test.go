package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestInsertDocument_IdempotentRecreate(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	first, err := m.InsertDocument(ctx, "notes", "d1", map[string]any{"title": "original"})
	if err != nil {
		t.Fatalf("InsertDocument() error: %v", err)
	}
	if first.Version != 1 {
		t.Errorf("Expected version 1, got %d", first.Version)
	}

	// Re-inserting the same id must not touch the stored document
	second, err := m.InsertDocument(ctx, "notes", "d1", map[string]any{"title": "replacement"})
	if err != nil {
		t.Fatalf("InsertDocument() error: %v", err)
	}
	if second.Fields["title"] != "original" {
		t.Errorf("Expected stored document unchanged, got %v", second.Fields)
	}
	if second.Version != 1 {
		t.Errorf("Expected version still 1, got %d", second.Version)
	}
}

func TestDeleteDocument_AbsentIsNoop(t *testing.T) {
	m := NewMemory()
	if err := m.DeleteDocument(context.Background(), "notes", "ghost"); err != nil {
		t.Errorf("Expected no error deleting absent document, got %v", err)
	}
}

func TestGetDocument_ReturnsCopy(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if _, err := m.InsertDocument(ctx, "notes", "d1", map[string]any{"n": 1}); err != nil {
		t.Fatalf("InsertDocument() error: %v", err)
	}

	doc, err := m.GetDocument(ctx, "notes", "d1")
	if err != nil {
		t.Fatalf("GetDocument() error: %v", err)
	}
	doc.Fields["n"] = 99

	again, err := m.GetDocument(ctx, "notes", "d1")
	if err != nil {
		t.Fatalf("GetDocument() error: %v", err)
	}
	if again.Fields["n"] != 1 {
		t.Errorf("Mutating a returned document leaked into the store: %v", again.Fields)
	}
}

func TestApplyDocumentBatch_MixedWrites(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if _, err := m.InsertDocument(ctx, "notes", "upd", map[string]any{"n": 1}); err != nil {
		t.Fatalf("InsertDocument() error: %v", err)
	}
	if _, err := m.InsertDocument(ctx, "notes", "del", nil); err != nil {
		t.Fatalf("InsertDocument() error: %v", err)
	}

	err := m.ApplyDocumentBatch(ctx, []BatchWrite{
		{Kind: BatchInsert, Collection: "notes", DocumentID: "new", Fields: map[string]any{"n": 2}},
		{Kind: BatchUpdate, Collection: "notes", DocumentID: "upd", Fields: map[string]any{"n": 3}, Version: 2, ExpectedVersion: 1},
		{Kind: BatchDelete, Collection: "notes", DocumentID: "del"},
	})
	if err != nil {
		t.Fatalf("ApplyDocumentBatch() error: %v", err)
	}

	if doc, err := m.GetDocument(ctx, "notes", "new"); err != nil || doc.Version != 1 {
		t.Errorf("Expected inserted document at version 1, got doc=%v err=%v", doc, err)
	}
	if doc, err := m.GetDocument(ctx, "notes", "upd"); err != nil || doc.Version != 2 || doc.Fields["n"] != 3 {
		t.Errorf("Expected updated document, got doc=%v err=%v", doc, err)
	}
	if _, err := m.GetDocument(ctx, "notes", "del"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected deleted document, got %v", err)
	}
}

func TestUpdateDocument_VersionGuard(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if _, err := m.InsertDocument(ctx, "notes", "d1", map[string]any{"title": "v1"}); err != nil {
		t.Fatalf("InsertDocument() error: %v", err)
	}

	err := m.UpdateDocument(ctx, &Document{
		Collection: "notes", ID: "d1", Version: 2, Fields: map[string]any{"title": "v2"},
	}, 1)
	if err != nil {
		t.Fatalf("UpdateDocument() error: %v", err)
	}

	// The same expected version cannot win twice
	err = m.UpdateDocument(ctx, &Document{
		Collection: "notes", ID: "d1", Version: 2, Fields: map[string]any{"title": "stale"},
	}, 1)
	if !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("Expected ErrVersionMismatch, got %v", err)
	}

	doc, err := m.GetDocument(ctx, "notes", "d1")
	if err != nil {
		t.Fatalf("GetDocument() error: %v", err)
	}
	if doc.Version != 2 || doc.Fields["title"] != "v2" {
		t.Errorf("Expected first write preserved, got %+v", doc)
	}

	// Absent documents also lose the compare-and-set
	err = m.UpdateDocument(ctx, &Document{Collection: "notes", ID: "ghost", Version: 1}, 0)
	if !errors.Is(err, ErrVersionMismatch) {
		t.Errorf("Expected ErrVersionMismatch for absent document, got %v", err)
	}
}

func TestApplyDocumentBatch_StaleUpdateAbortsAll(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if _, err := m.InsertDocument(ctx, "notes", "upd", map[string]any{"n": 1}); err != nil {
		t.Fatalf("InsertDocument() error: %v", err)
	}

	err := m.ApplyDocumentBatch(ctx, []BatchWrite{
		{Kind: BatchInsert, Collection: "notes", DocumentID: "new", Fields: map[string]any{"n": 2}},
		{Kind: BatchUpdate, Collection: "notes", DocumentID: "upd", Fields: map[string]any{"n": 3}, Version: 3, ExpectedVersion: 2},
	})
	if !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("Expected ErrVersionMismatch, got %v", err)
	}

	// The stale update aborted the batch, so the insert must not have landed
	if _, err := m.GetDocument(ctx, "notes", "new"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected no partial writes, got %v", err)
	}
	if doc, _ := m.GetDocument(ctx, "notes", "upd"); doc.Version != 1 || doc.Fields["n"] != 1 {
		t.Errorf("Expected target document untouched, got %+v", doc)
	}
}

func TestListPending_FIFOWithTimestampTies(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	// Equal timestamps: insertion order must break the tie
	now := time.Now().UTC()
	for _, id := range []string{"op-a", "op-b", "op-c"} {
		err := m.CreateOperation(ctx, &Operation{
			ID: id, UserID: "alice", Type: OpCreate, Collection: "notes",
			Status: StatusPending, EnqueuedAt: now,
		})
		if err != nil {
			t.Fatalf("CreateOperation() error: %v", err)
		}
	}

	ops, err := m.ListPending(ctx, "alice", 10)
	if err != nil {
		t.Fatalf("ListPending() error: %v", err)
	}
	if len(ops) != 3 {
		t.Fatalf("Expected 3 pending, got %d", len(ops))
	}
	for i, want := range []string{"op-a", "op-b", "op-c"} {
		if ops[i].ID != want {
			t.Errorf("Position %d: expected %s, got %s", i, want, ops[i].ID)
		}
	}

	// Limit returns the oldest slice
	ops, err = m.ListPending(ctx, "alice", 2)
	if err != nil {
		t.Fatalf("ListPending() error: %v", err)
	}
	if len(ops) != 2 || ops[0].ID != "op-a" || ops[1].ID != "op-b" {
		t.Errorf("Expected oldest two operations, got %v", ops)
	}
}

func TestApplyStatusUpdates_AllOrNothing(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	err := m.CreateOperation(ctx, &Operation{
		ID: "op-1", UserID: "alice", Type: OpCreate, Collection: "notes",
		Status: StatusPending, EnqueuedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("CreateOperation() error: %v", err)
	}

	// One unknown id fails the whole set without mutating anything
	err = m.ApplyStatusUpdates(ctx, "alice", []StatusUpdate{
		{OperationID: "op-1", Status: StatusCompleted},
		{OperationID: "missing", Status: StatusCompleted},
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}

	op, err := m.GetOperation(ctx, "alice", "op-1")
	if err != nil {
		t.Fatalf("GetOperation() error: %v", err)
	}
	if op.Status != StatusPending {
		t.Errorf("Expected op-1 untouched (PENDING), got %s", op.Status)
	}

	// The valid set applies
	completed := time.Now().UTC()
	err = m.ApplyStatusUpdates(ctx, "alice", []StatusUpdate{
		{OperationID: "op-1", Status: StatusCompleted, CompletedAt: &completed},
	})
	if err != nil {
		t.Fatalf("ApplyStatusUpdates() error: %v", err)
	}
	op, _ = m.GetOperation(ctx, "alice", "op-1")
	if op.Status != StatusCompleted || op.CompletedAt == nil {
		t.Errorf("Expected COMPLETED with completedAt, got status=%s completedAt=%v", op.Status, op.CompletedAt)
	}
}

func TestUsersWithPending(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	now := time.Now().UTC()

	seed := []struct {
		id, user string
		status   OperationStatus
	}{
		{"op-1", "alice", StatusPending},
		{"op-2", "bob", StatusPending},
		{"op-3", "carol", StatusCompleted},
	}
	for _, s := range seed {
		err := m.CreateOperation(ctx, &Operation{
			ID: s.id, UserID: s.user, Type: OpCreate, Collection: "notes",
			Status: s.status, EnqueuedAt: now,
		})
		if err != nil {
			t.Fatalf("CreateOperation() error: %v", err)
		}
	}

	users, err := m.UsersWithPending(ctx, 10)
	if err != nil {
		t.Fatalf("UsersWithPending() error: %v", err)
	}
	if len(users) != 2 || users[0] != "alice" || users[1] != "bob" {
		t.Errorf("Expected [alice bob], got %v", users)
	}
}

func TestListConflicts_CursorPagination(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Millisecond)
	ids := []string{"c-1", "c-2", "c-3"}
	for i, id := range ids {
		err := m.CreateConflict(ctx, &Conflict{
			ID: id, UserID: "alice", Collection: "notes", DocumentID: "d1",
			DetectedAt: base.Add(time.Duration(i) * time.Millisecond),
		})
		if err != nil {
			t.Fatalf("CreateConflict() error: %v", err)
		}
	}

	page, err := m.ListConflicts(ctx, "alice", 0, "", 2)
	if err != nil {
		t.Fatalf("ListConflicts() error: %v", err)
	}
	if len(page) != 2 || page[0].ID != "c-1" || page[1].ID != "c-2" {
		t.Fatalf("Expected first page [c-1 c-2], got %v", page)
	}

	last := page[len(page)-1]
	page, err = m.ListConflicts(ctx, "alice", last.DetectedAt.UnixMilli(), last.ID, 2)
	if err != nil {
		t.Fatalf("ListConflicts() error: %v", err)
	}
	if len(page) != 1 || page[0].ID != "c-3" {
		t.Errorf("Expected second page [c-3], got %v", page)
	}
}

func TestGetState_ZeroValueForNewUser(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	state, err := m.GetState(ctx, "nobody")
	if err != nil {
		t.Fatalf("GetState() error: %v", err)
	}
	if state.UserID != "nobody" {
		t.Errorf("Expected userId filled in, got %q", state.UserID)
	}
	if state.LastSyncAt != nil || state.SyncInProgress {
		t.Errorf("Expected zero-valued state, got %+v", state)
	}

	state.DeviceID = "phone-1"
	if err := m.PutState(ctx, state); err != nil {
		t.Fatalf("PutState() error: %v", err)
	}
	got, _ := m.GetState(ctx, "nobody")
	if got.DeviceID != "phone-1" {
		t.Errorf("Expected persisted state, got %+v", got)
	}
}
