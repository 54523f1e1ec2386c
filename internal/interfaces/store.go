// Package interfaces defines the storage contracts the scheduler core is
// built against. The only production implementation is
// internal/storage/mongo, but the core never imports the driver directly
// so that its concurrency logic can be unit tested against a fake.
package interfaces

import (
	"context"
	"time"

	"github.com/monque/monque/internal/models"
)

// ClaimOptions carries the fields the claim engine stamps onto the
// document it atomically moves from pending to processing.
type ClaimOptions struct {
	InstanceID        string
	HeartbeatInterval time.Duration
	Now               time.Time
}

// CompletionWrite is the resolver's write for a successful occurrence.
type CompletionWrite struct {
	Recurring bool
	NextRunAt time.Time // only meaningful when Recurring is true
	Now       time.Time
}

// FailureWrite is the resolver's write for a failed occurrence.
type FailureWrite struct {
	Permanent  bool
	FailCount  int
	FailReason string
	NextRunAt  time.Time // only meaningful when !Permanent
	Now        time.Time
}

// ListOptions configures a cursor-paginated job listing.
type ListOptions struct {
	Name     string // optional name filter
	Statuses []models.Status
	Limit    int
	Cursor   string // opaque, empty for the first page
	Backward bool
}

// ListPage is one page of a cursor-paginated job listing.
type ListPage struct {
	Jobs       []*models.Job
	NextCursor string
	PrevCursor string
}

// QueueStats is the aggregate §4.6 GetQueueStats result.
type QueueStats struct {
	CountsByStatus      map[models.Status]int64
	MeanCompletedDurMS  float64
	HasDurationSample   bool
}

// Selector identifies the set of jobs a bulk management operation targets.
type Selector struct {
	IDs    []string
	Name   string
	Status models.Status
}

// WatchEvent is the abstracted shape of a change-stream notification: an
// insert, or an update that left the document in status = pending.
type WatchEvent struct {
	Op     string // "insert" | "update"
	Status models.Status
}

// Watcher is a live subscription to job-relevant change events. Receive
// blocks until an event or ctx cancellation; Close releases server-side
// resources. A nil Watcher (returned alongside ErrChangeStreamsUnavailable)
// means the backing store cannot supply change notifications at all.
type Watcher interface {
	Events() <-chan WatchEvent
	Errors() <-chan error
	Close(ctx context.Context) error
}

// JobStore is the persistence port the scheduler core depends on. The
// Mongo implementation realizes every mutating method as a single atomic
// document operation, per §5's shared-resource policy.
type JobStore interface {
	// EnsureIndexes creates the indexes listed in the data model. Safe to
	// call repeatedly (idempotent, per the driver's CreateIndexes contract).
	EnsureIndexes(ctx context.Context) error

	// Insert persists a new pending (or scheduled) job. If uniqueKey is
	// set and an existing pending/processing document shares it, Insert
	// returns that document unchanged instead of inserting (§6 Enqueue).
	Insert(ctx context.Context, job *models.Job) (*models.Job, error)

	// Claim atomically moves one pending, eligible job for name to
	// processing under instanceID's ownership. Returns (nil, nil) if
	// nothing was eligible.
	Claim(ctx context.Context, name string, opts ClaimOptions) (*models.Job, error)

	// WriteCompletion applies §4.5's success transition to job id.
	WriteCompletion(ctx context.Context, id string, w CompletionWrite) error

	// WriteFailure applies §4.5's failure transition to job id.
	WriteFailure(ctx context.Context, id string, w FailureWrite) error

	// Heartbeat refreshes lastHeartbeat/updatedAt for every processing job
	// owned by instanceID. Returns the number of documents touched.
	Heartbeat(ctx context.Context, instanceID string, now time.Time) (int64, error)

	// ReleaseStale resets every processing job whose lockedAt predates
	// now.Add(-lockTimeout) back to pending. Returns the count reset.
	ReleaseStale(ctx context.Context, lockTimeout time.Duration, now time.Time) (int64, error)

	// Management surface, §4.6.
	Get(ctx context.Context, id string) (*models.Job, error)
	Cancel(ctx context.Context, id string) error
	Retry(ctx context.Context, id string, now time.Time) error
	Reschedule(ctx context.Context, id string, runAt time.Time) error
	Delete(ctx context.Context, id string) (bool, error)
	CancelMany(ctx context.Context, sel Selector) (int64, map[string]error)
	RetryMany(ctx context.Context, sel Selector, now time.Time) (int64, map[string]error)
	DeleteMany(ctx context.Context, sel Selector) (int64, map[string]error)
	List(ctx context.Context, opts ListOptions) (*ListPage, error)
	Stats(ctx context.Context, name string) (*QueueStats, error)

	// Watch subscribes to inserts and pending-transition updates. Returns
	// errs.ErrChangeStreamsUnavailable (non-fatal) when the backing
	// deployment cannot support change streams (e.g. a standalone mongod).
	Watch(ctx context.Context) (Watcher, error)

	// Close releases the underlying connection.
	Close(ctx context.Context) error
}
