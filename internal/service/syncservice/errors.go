package syncservice

import "fmt"

// InvalidArgumentError rejects a malformed operation, strategy or missing
// required field at the boundary. Non-retryable.
type InvalidArgumentError struct {
	Reason string
}

func (e *InvalidArgumentError) Error() string {
	return "invalid argument: " + e.Reason
}

// QueueFullError indicates the user's pending-operation count has reached
// the queue capacity. The caller must back off; nothing was persisted.
type QueueFullError struct {
	Pending  int
	Capacity int
}

func (e *QueueFullError) Error() string {
	return fmt.Sprintf("queue full: %d pending operations (capacity %d)", e.Pending, e.Capacity)
}

// NotFoundError indicates a referenced document, operation or conflict is
// absent. Non-retryable.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// TransientError wraps store timeouts and unavailability. Retried up to the
// retry ceiling before the operation is surfaced as terminal FAILED.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return "transient: " + e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// retryable reports whether a dispatch failure should count toward the
// retry ceiling and be re-queued, or terminate the operation immediately.
// Unknown errors are treated as transient: the underlying write may or may
// not have landed, and document-id level idempotence makes a replay safe.
func retryable(err error) bool {
	switch err.(type) {
	case *InvalidArgumentError, *NotFoundError:
		return false
	}
	return true
}
