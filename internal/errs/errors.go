// Package errs defines Monque's error taxonomy (spec §7). Each kind is a
// distinct Go type so callers can use errors.As instead of string
// matching, while still composing with %w wrapping the way the rest of
// the codebase wraps storage errors.
package errs

import (
	"fmt"
	"time"
)

// InvalidCronError is raised when a cron expression fails to parse,
// either at Schedule() time or while resolving a recurring job's next
// occurrence.
type InvalidCronError struct {
	Expression string
	Err        error
}

func (e *InvalidCronError) Error() string {
	return fmt.Sprintf("invalid cron expression %q: %v", e.Expression, e.Err)
}

func (e *InvalidCronError) Unwrap() error { return e.Err }

// ConnectionError wraps a database transport failure.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection error during %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// JobStateError is raised when a management operation is attempted
// against a job whose current status is incompatible with it.
type JobStateError struct {
	JobID           string
	CurrentStatus   string
	AttemptedAction string
}

func (e *JobStateError) Error() string {
	return fmt.Sprintf("job %s: cannot %s from status %q", e.JobID, e.AttemptedAction, e.CurrentStatus)
}

// InvalidCursorError is raised when a pagination cursor is malformed.
type InvalidCursorError struct {
	Cursor string
	Reason string
}

func (e *InvalidCursorError) Error() string {
	return fmt.Sprintf("invalid cursor %q: %s", e.Cursor, e.Reason)
}

// AggregationTimeoutError is raised when a stats aggregation exceeds its
// deadline.
type AggregationTimeoutError struct {
	Deadline time.Duration
}

func (e *AggregationTimeoutError) Error() string {
	return fmt.Sprintf("aggregation exceeded deadline of %s", e.Deadline)
}

// WorkerRegistrationError is raised when Register is called twice for the
// same job name without the replace option.
type WorkerRegistrationError struct {
	Name string
}

func (e *WorkerRegistrationError) Error() string {
	return fmt.Sprintf("worker already registered for %q", e.Name)
}

// ShutdownTimeoutError is emitted as a job:error event when Stop's
// deadline expires with handlers still in flight.
type ShutdownTimeoutError struct {
	Deadline  time.Duration
	InFlight  []string // job IDs still running when the deadline fired
}

func (e *ShutdownTimeoutError) Error() string {
	return fmt.Sprintf("shutdown timed out after %s with %d job(s) still in flight", e.Deadline, len(e.InFlight))
}

// NotInitializedError is raised by Start() on a scheduler that was never
// initialized.
type NotInitializedError struct{}

func (e *NotInitializedError) Error() string {
	return "scheduler not initialized: call Initialize() before Start()"
}

// ErrChangeStreamsUnavailable is a sentinel (not a typed error, since
// nothing needs structured fields) signalling that the backing
// deployment cannot supply change streams; callers should fall back to
// polling silently.
var ErrChangeStreamsUnavailable = fmt.Errorf("change streams unavailable")
