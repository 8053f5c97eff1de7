package store

import "time"

// OperationType identifies the kind of work an operation performs.
type OperationType string

const (
	OpCreate OperationType = "CREATE"
	OpUpdate OperationType = "UPDATE"
	OpDelete OperationType = "DELETE"
	OpBatch  OperationType = "BATCH"
)

// ValidOperationType reports whether t is one of the recognized operation kinds.
func ValidOperationType(t OperationType) bool {
	switch t {
	case OpCreate, OpUpdate, OpDelete, OpBatch:
		return true
	}
	return false
}

// OperationStatus is the queue lifecycle state of an operation.
// COMPLETED, FAILED and CONFLICT are terminal; only PENDING records are
// eligible for processing.
type OperationStatus string

const (
	StatusPending    OperationStatus = "PENDING"
	StatusInProgress OperationStatus = "IN_PROGRESS"
	StatusCompleted  OperationStatus = "COMPLETED"
	StatusFailed     OperationStatus = "FAILED"
	StatusConflict   OperationStatus = "CONFLICT"
)

// Strategy is the conflict-resolution policy declared on an operation or
// supplied at resolve time.
type Strategy string

const (
	ClientWins Strategy = "CLIENT_WINS"
	ServerWins Strategy = "SERVER_WINS"
	Merge      Strategy = "MERGE"
	Manual     Strategy = "MANUAL"
)

// ValidStrategy reports whether s is a recognized resolution strategy.
func ValidStrategy(s Strategy) bool {
	switch s {
	case ClientWins, ServerWins, Merge, Manual:
		return true
	}
	return false
}

// SubOperation is one entry of a BATCH payload. BATCH sub-operations are
// limited to the three single-document kinds.
type SubOperation struct {
	Type       OperationType  `json:"type"`
	Collection string         `json:"collection"`
	DocumentID string         `json:"documentId,omitempty"`
	Fields     map[string]any `json:"fields,omitempty"`
}

// Payload is the tagged-union payload of an operation: document fields for
// CREATE/UPDATE, an ordered sub-operation list for BATCH. Exactly one side is
// populated, keyed by the operation type.
type Payload struct {
	Fields     map[string]any `json:"fields,omitempty"`
	Operations []SubOperation `json:"operations,omitempty"`
}

// Operation is the durable unit of sync work enqueued by a client.
// Once COMPLETED, FAILED or CONFLICT it is never re-dequeued.
type Operation struct {
	ID            string          `json:"id"`
	UserID        string          `json:"userId"`
	Type          OperationType   `json:"operationType"`
	Collection    string          `json:"collection"`
	DocumentID    string          `json:"documentId,omitempty"`
	Payload       Payload         `json:"data"`
	Strategy      Strategy        `json:"conflictResolution"`
	ClientVersion *int64          `json:"clientVersion,omitempty"`
	ServerVersion *int64          `json:"serverVersion,omitempty"`
	Status        OperationStatus `json:"status"`
	RetryCount    int             `json:"retryCount"`
	LastError     string          `json:"lastError,omitempty"`
	DeviceID      string          `json:"deviceId,omitempty"`
	EnqueuedAt    time.Time       `json:"timestamp"`
	UpdatedAt     time.Time       `json:"updatedAt"`
	CompletedAt   *time.Time      `json:"completedAt,omitempty"`
}

// Document is one entry of the shared document store. Version starts at 1 on
// creation and increments by exactly one on every successful write; it is the
// sole concurrency-control token across writers.
type Document struct {
	Collection string         `json:"collection"`
	ID         string         `json:"documentId"`
	Version    int64          `json:"version"`
	Fields     map[string]any `json:"fields"`
	CreatedAt  time.Time      `json:"createdAt"`
	UpdatedAt  time.Time      `json:"updatedAt"`
}

// Conflict is a detected mismatch between an operation's declared client
// version and the document's live server version, held until resolved.
type Conflict struct {
	ID            string         `json:"id"`
	UserID        string         `json:"userId"`
	OperationID   string         `json:"operationId"`
	Collection    string         `json:"collection"`
	DocumentID    string         `json:"documentId"`
	ClientVersion int64          `json:"clientVersion"`
	ServerVersion int64          `json:"serverVersion"`
	ClientData    map[string]any `json:"clientData"`
	ServerData    map[string]any `json:"serverData"`
	DetectedAt    time.Time      `json:"detectedAt"`
}

// Resolution is the append-only audit record produced when a conflict is
// resolved. Never mutated after creation.
type Resolution struct {
	ID           string         `json:"id"`
	UserID       string         `json:"userId"`
	OperationID  string         `json:"operationId"`
	Strategy     Strategy       `json:"strategy"`
	ClientData   map[string]any `json:"clientData"`
	ServerData   map[string]any `json:"serverData"`
	ResolvedData map[string]any `json:"resolvedData"`
	ResolvedBy   string         `json:"resolvedBy"`
	ResolvedAt   time.Time      `json:"resolvedAt"`
}

// SyncState is the per-user (optionally per-device) bookkeeping record
// recomputed by the processor after each pass.
type SyncState struct {
	UserID            string     `json:"userId"`
	DeviceID          string     `json:"deviceId,omitempty"`
	LastSyncAt        *time.Time `json:"lastSyncTimestamp,omitempty"`
	PendingOperations int        `json:"pendingOperations"`
	FailedOperations  int        `json:"failedOperations"`
	SyncInProgress    bool       `json:"syncInProgress"`
}

// StatusCounts holds per-status operation counts for one user.
type StatusCounts struct {
	Pending    int `json:"pending"`
	InProgress int `json:"inProgress"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

// StatusUpdate is one staged record-status transition. All updates for a
// processing pass are committed together in a single atomic multi-write.
// DocumentID persists a server-generated id back onto a CREATE record so a
// retried pass reuses it instead of creating a second document.
type StatusUpdate struct {
	OperationID string
	Status      OperationStatus
	RetryCount  int
	LastError   string
	DocumentID  string
	CompletedAt *time.Time
}

// BatchWriteKind discriminates entries of an atomic document multi-write.
type BatchWriteKind string

const (
	BatchInsert BatchWriteKind = "insert"
	BatchUpdate BatchWriteKind = "update"
	BatchDelete BatchWriteKind = "delete"
)

// BatchWrite is one entry of an atomic document multi-write. For inserts
// Version is fixed at 1 by the store; for updates Version is the new version
// the caller computed from the document it read and ExpectedVersion is the
// version it observed. An update whose live version no longer matches
// ExpectedVersion aborts the whole batch with ErrVersionMismatch.
type BatchWrite struct {
	Kind            BatchWriteKind
	Collection      string
	DocumentID      string
	Fields          map[string]any
	Version         int64
	ExpectedVersion int64
}
