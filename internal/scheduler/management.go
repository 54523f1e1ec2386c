package scheduler

import (
	"context"
	"time"

	"github.com/monque/monque/internal/interfaces"
	"github.com/monque/monque/internal/models"
)

// GetJob returns the job document for id, or nil if it does not exist.
func (s *Scheduler) GetJob(ctx context.Context, id string) (*models.Job, error) {
	return s.store.Get(ctx, id)
}

// CancelJob transitions a pending job to cancelled; cancelling an
// already-cancelled job is a no-op. It returns *errs.JobStateError for
// any other status.
func (s *Scheduler) CancelJob(ctx context.Context, id string) error {
	if err := s.store.Cancel(ctx, id); err != nil {
		return err
	}
	s.events.emit(Event{Kind: EventJobCancelled, JobID: id})
	return nil
}

// RetryJob resets a failed or cancelled job back to pending for immediate
// reclaim, clearing its fail count. Returns *errs.JobStateError if the job
// is in any other status.
func (s *Scheduler) RetryJob(ctx context.Context, id string) error {
	if err := s.store.Retry(ctx, id, s.clock.Now()); err != nil {
		return err
	}
	s.events.emit(Event{Kind: EventJobRetried, JobID: id})
	return nil
}

// RescheduleJob changes a pending job's nextRunAt. Returns
// *errs.JobStateError if the job is not currently pending.
func (s *Scheduler) RescheduleJob(ctx context.Context, id string, runAt time.Time) error {
	return s.store.Reschedule(ctx, id, runAt)
}

// DeleteJob removes a job document outright, regardless of status.
// Returns false if no document matched id.
func (s *Scheduler) DeleteJob(ctx context.Context, id string) (bool, error) {
	ok, err := s.store.Delete(ctx, id)
	if err != nil {
		return false, err
	}
	if ok {
		s.events.emit(Event{Kind: EventJobDeleted, JobID: id})
	}
	return ok, nil
}

// BulkSelector identifies the jobs a bulk management call targets.
type BulkSelector = interfaces.Selector

// CancelJobs cancels every job matching sel. The returned map keys
// job IDs that could not be cancelled (e.g. already terminal) to the
// error encountered; jobs absent from the map succeeded.
func (s *Scheduler) CancelJobs(ctx context.Context, sel BulkSelector) (int64, map[string]error) {
	n, failures := s.store.CancelMany(ctx, sel)
	if n > 0 {
		s.events.emit(Event{Kind: EventJobCancelled, Count: int(n)})
	}
	return n, failures
}

// RetryJobs retries every job matching sel, per CancelJobs's
// success/failure reporting convention.
func (s *Scheduler) RetryJobs(ctx context.Context, sel BulkSelector) (int64, map[string]error) {
	n, failures := s.store.RetryMany(ctx, sel, s.clock.Now())
	if n > 0 {
		s.events.emit(Event{Kind: EventJobRetried, Count: int(n)})
	}
	return n, failures
}

// DeleteJobs deletes every job matching sel, per CancelJobs's
// success/failure reporting convention.
func (s *Scheduler) DeleteJobs(ctx context.Context, sel BulkSelector) (int64, map[string]error) {
	n, failures := s.store.DeleteMany(ctx, sel)
	if n > 0 {
		s.events.emit(Event{Kind: EventJobDeleted, Count: int(n)})
	}
	return n, failures
}

// ListJobs returns one cursor-paginated page of jobs matching opts.
func (s *Scheduler) ListJobs(ctx context.Context, opts interfaces.ListOptions) (*interfaces.ListPage, error) {
	return s.store.List(ctx, opts)
}

// QueueStats returns aggregate counts for name, or across all names if
// name is empty.
func (s *Scheduler) QueueStats(ctx context.Context, name string) (*interfaces.QueueStats, error) {
	return s.store.Stats(ctx, name)
}
