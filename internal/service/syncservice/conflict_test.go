package syncservice

import (
	"context"
	"errors"
	"testing"

	"github.com/syncstack/docsync-api/internal/store"
)

func seedDocument(t *testing.T, mem *store.Memory, collection, id string, version int64, fields map[string]any) {
	t.Helper()
	if err := mem.PutDocument(context.Background(), &store.Document{
		Collection: collection, ID: id, Version: version, Fields: fields,
	}); err != nil {
		t.Fatalf("PutDocument() error: %v", err)
	}
}

func TestDetectConflict_AbsentDocument(t *testing.T) {
	e, _ := newTestEngine(t, Limits{})

	result, err := e.DetectConflict(context.Background(), "alice", "notes", "ghost", 1, nil, "")
	if err != nil {
		t.Fatalf("DetectConflict() error: %v", err)
	}
	if result.HasConflict {
		t.Error("Expected no conflict for absent document")
	}
	if result.Reason != "document absent" {
		t.Errorf("Expected reason 'document absent', got %q", result.Reason)
	}
}

func TestDetectConflict_VersionsMatch(t *testing.T) {
	e, mem := newTestEngine(t, Limits{})
	seedDocument(t, mem, "notes", "d1", 4, map[string]any{"title": "x"})

	result, err := e.DetectConflict(context.Background(), "alice", "notes", "d1", 4, nil, "")
	if err != nil {
		t.Fatalf("DetectConflict() error: %v", err)
	}
	if result.HasConflict {
		t.Error("Expected no conflict when versions match")
	}
	if result.Reason != "versions match" {
		t.Errorf("Expected reason 'versions match', got %q", result.Reason)
	}
}

func TestDetectConflict_MismatchPersistsConflict(t *testing.T) {
	e, mem := newTestEngine(t, Limits{})
	ctx := context.Background()
	seedDocument(t, mem, "notes", "d1", 5, map[string]any{"title": "server"})

	result, err := e.DetectConflict(ctx, "alice", "notes", "d1", 3,
		map[string]any{"title": "client"}, "op-123")
	if err != nil {
		t.Fatalf("DetectConflict() error: %v", err)
	}
	if !result.HasConflict {
		t.Fatal("Expected a conflict")
	}
	c := result.Conflict
	if c.ClientVersion != 3 || c.ServerVersion != 5 {
		t.Errorf("Expected client=3 server=5, got client=%d server=%d", c.ClientVersion, c.ServerVersion)
	}
	if c.ServerData["title"] != "server" || c.ClientData["title"] != "client" {
		t.Errorf("Expected both sides captured, got server=%v client=%v", c.ServerData, c.ClientData)
	}
	if c.OperationID != "op-123" {
		t.Errorf("Expected operationId op-123, got %s", c.OperationID)
	}

	// Persisted, not just returned
	n, err := mem.CountConflicts(ctx, "alice")
	if err != nil {
		t.Fatalf("CountConflicts() error: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected 1 persisted conflict, got %d", n)
	}
}

func TestDetectConflict_RequiresCollectionAndDocument(t *testing.T) {
	e, _ := newTestEngine(t, Limits{})

	_, err := e.DetectConflict(context.Background(), "alice", "", "d1", 1, nil, "")
	var invalid *InvalidArgumentError
	if !errors.As(err, &invalid) {
		t.Errorf("Expected InvalidArgumentError, got %v", err)
	}
}

// detectTestConflict seeds a version 5 document owned by the server side and
// raises a conflict against client version 3.
func detectTestConflict(t *testing.T, e *Engine, mem *store.Memory) *store.Conflict {
	t.Helper()
	seedDocument(t, mem, "notes", "d1", 5, map[string]any{"title": "server", "tags": "a"})

	result, err := e.DetectConflict(context.Background(), "alice", "notes", "d1", 3,
		map[string]any{"title": "client", "draft": true}, "")
	if err != nil {
		t.Fatalf("DetectConflict() error: %v", err)
	}
	if !result.HasConflict {
		t.Fatal("Expected a conflict")
	}
	return result.Conflict
}

func TestResolveConflict_ClientWins(t *testing.T) {
	e, mem := newTestEngine(t, Limits{})
	ctx := context.Background()
	conflict := detectTestConflict(t, e, mem)

	res, err := e.ResolveConflict(ctx, "alice", conflict.ID, store.ClientWins, nil)
	if err != nil {
		t.Fatalf("ResolveConflict() error: %v", err)
	}
	if res.Strategy != store.ClientWins {
		t.Errorf("Expected CLIENT_WINS, got %s", res.Strategy)
	}

	doc, err := mem.GetDocument(ctx, "notes", "d1")
	if err != nil {
		t.Fatalf("GetDocument() error: %v", err)
	}
	if doc.Version != 6 {
		t.Errorf("Expected version 6 (server 5 + 1), got %d", doc.Version)
	}
	if doc.Fields["title"] != "client" {
		t.Errorf("Expected client data, got %v", doc.Fields)
	}
	if _, ok := doc.Fields["tags"]; ok {
		t.Error("CLIENT_WINS must replace, not merge: unexpected server key present")
	}
}

func TestResolveConflict_ServerWins(t *testing.T) {
	e, mem := newTestEngine(t, Limits{})
	ctx := context.Background()
	conflict := detectTestConflict(t, e, mem)

	if _, err := e.ResolveConflict(ctx, "alice", conflict.ID, store.ServerWins, nil); err != nil {
		t.Fatalf("ResolveConflict() error: %v", err)
	}

	doc, err := mem.GetDocument(ctx, "notes", "d1")
	if err != nil {
		t.Fatalf("GetDocument() error: %v", err)
	}
	// Payload stays the server's, but the version still advances so the
	// resolution is visible as a write
	if doc.Version != 6 {
		t.Errorf("Expected version 6, got %d", doc.Version)
	}
	if doc.Fields["title"] != "server" || doc.Fields["tags"] != "a" {
		t.Errorf("Expected server data preserved, got %v", doc.Fields)
	}
}

func TestResolveConflict_Merge(t *testing.T) {
	e, mem := newTestEngine(t, Limits{})
	ctx := context.Background()
	conflict := detectTestConflict(t, e, mem)

	if _, err := e.ResolveConflict(ctx, "alice", conflict.ID, store.Merge, nil); err != nil {
		t.Fatalf("ResolveConflict() error: %v", err)
	}

	doc, err := mem.GetDocument(ctx, "notes", "d1")
	if err != nil {
		t.Fatalf("GetDocument() error: %v", err)
	}
	if doc.Version != 6 {
		t.Errorf("Expected version 6, got %d", doc.Version)
	}
	// Shallow merge: client keys win per key, server-only keys survive
	if doc.Fields["title"] != "client" {
		t.Errorf("Expected client title to win, got %v", doc.Fields["title"])
	}
	if doc.Fields["tags"] != "a" {
		t.Errorf("Expected server-only key to survive, got %v", doc.Fields)
	}
	if doc.Fields["draft"] != true {
		t.Errorf("Expected client-only key to survive, got %v", doc.Fields)
	}
}

func TestResolveConflict_Manual(t *testing.T) {
	e, mem := newTestEngine(t, Limits{})
	ctx := context.Background()
	conflict := detectTestConflict(t, e, mem)

	// MANUAL without resolved data is rejected and the conflict stays open
	_, err := e.ResolveConflict(ctx, "alice", conflict.ID, store.Manual, nil)
	var invalid *InvalidArgumentError
	if !errors.As(err, &invalid) {
		t.Fatalf("Expected InvalidArgumentError, got %v", err)
	}
	if n, _ := mem.CountConflicts(ctx, "alice"); n != 1 {
		t.Errorf("Expected conflict still open, got %d", n)
	}

	res, err := e.ResolveConflict(ctx, "alice", conflict.ID, store.Manual,
		map[string]any{"title": "hand-merged"})
	if err != nil {
		t.Fatalf("ResolveConflict() error: %v", err)
	}
	if res.ResolvedData["title"] != "hand-merged" {
		t.Errorf("Expected resolved data recorded, got %v", res.ResolvedData)
	}

	doc, err := mem.GetDocument(ctx, "notes", "d1")
	if err != nil {
		t.Fatalf("GetDocument() error: %v", err)
	}
	if doc.Fields["title"] != "hand-merged" {
		t.Errorf("Expected manual data written, got %v", doc.Fields)
	}
}

func TestResolveConflict_ConsumedExactlyOnce(t *testing.T) {
	e, mem := newTestEngine(t, Limits{})
	ctx := context.Background()
	conflict := detectTestConflict(t, e, mem)

	if _, err := e.ResolveConflict(ctx, "alice", conflict.ID, store.ClientWins, nil); err != nil {
		t.Fatalf("ResolveConflict() error: %v", err)
	}

	_, err := e.ResolveConflict(ctx, "alice", conflict.ID, store.ClientWins, nil)
	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Errorf("Expected NotFoundError on second resolve, got %v", err)
	}

	if n, _ := mem.CountConflicts(ctx, "alice"); n != 0 {
		t.Errorf("Expected no open conflicts, got %d", n)
	}
}

func TestResolveConflict_UnknownStrategy(t *testing.T) {
	e, _ := newTestEngine(t, Limits{})

	_, err := e.ResolveConflict(context.Background(), "alice", "whatever", "NEWEST_WINS", nil)
	var invalid *InvalidArgumentError
	if !errors.As(err, &invalid) {
		t.Errorf("Expected InvalidArgumentError, got %v", err)
	}
}

func TestListConflicts_ScopedToUser(t *testing.T) {
	e, mem := newTestEngine(t, Limits{})
	ctx := context.Background()

	seedDocument(t, mem, "notes", "d1", 5, map[string]any{"title": "server"})
	if _, err := e.DetectConflict(ctx, "alice", "notes", "d1", 3, nil, ""); err != nil {
		t.Fatalf("DetectConflict() error: %v", err)
	}

	conflicts, err := e.ListConflicts(ctx, "bob", 0, "", 10)
	if err != nil {
		t.Fatalf("ListConflicts() error: %v", err)
	}
	if len(conflicts) != 0 {
		t.Errorf("Expected bob to see no conflicts, got %d", len(conflicts))
	}

	conflicts, err = e.ListConflicts(ctx, "alice", 0, "", 10)
	if err != nil {
		t.Fatalf("ListConflicts() error: %v", err)
	}
	if len(conflicts) != 1 {
		t.Errorf("Expected alice to see 1 conflict, got %d", len(conflicts))
	}
}
