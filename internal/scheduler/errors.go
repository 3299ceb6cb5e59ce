package scheduler

import "errors"

var (
	// ErrTaskNotFound is returned when a task is not found
	ErrTaskNotFound = errors.New("task not found")

	// ErrStoreUnavailable is returned when the task store cannot be
	// queried; the current tick is abandoned and the next scheduled
	// tick retries from a fresh due-set.
	ErrStoreUnavailable = errors.New("task store unavailable")

	// ErrAuditWriteFailed is returned when an execution record could
	// not be appended. This is elevated rather than swallowed because
	// losing audit rows undermines the sweep's observability.
	ErrAuditWriteFailed = errors.New("audit record write failed")
)
