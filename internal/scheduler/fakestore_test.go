package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/monque/monque/internal/errs"
	"github.com/monque/monque/internal/interfaces"
	"github.com/monque/monque/internal/models"
)

// fakeStore is an in-memory interfaces.JobStore used to unit test the
// scheduler core without a live MongoDB deployment. Every mutating method
// takes the same lock a real single-document atomic update would hold for
// the life of the call, so tests can rely on linearizable behavior.
type fakeStore struct {
	mu   sync.Mutex
	jobs map[string]*models.Job

	claimErr   error
	watchErr   error
	watcher    *fakeWatcher
	insertHook func(*models.Job)
}

func newFakeStore() *fakeStore {
	return &fakeStore{jobs: make(map[string]*models.Job)}
}

func (f *fakeStore) EnsureIndexes(ctx context.Context) error { return nil }

func (f *fakeStore) put(j *models.Job) *models.Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *j
	f.jobs[j.ID] = &cp
	return &cp
}

func (f *fakeStore) Insert(ctx context.Context, job *models.Job) (*models.Job, error) {
	f.mu.Lock()
	if job.UniqueKey != "" {
		for _, existing := range f.jobs {
			if existing.UniqueKey == job.UniqueKey &&
				(existing.Status == models.StatusPending || existing.Status == models.StatusProcessing) {
				cp := *existing
				f.mu.Unlock()
				return &cp, nil
			}
		}
	}
	cp := *job
	f.jobs[job.ID] = &cp
	f.mu.Unlock()
	if f.insertHook != nil {
		f.insertHook(job)
	}
	out := cp
	return &out, nil
}

func (f *fakeStore) Claim(ctx context.Context, name string, opts interfaces.ClaimOptions) (*models.Job, error) {
	if f.claimErr != nil {
		return nil, f.claimErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	var candidates []*models.Job
	for _, j := range f.jobs {
		if j.Name == name && j.Status == models.StatusPending && !j.NextRunAt.After(opts.Now) {
			candidates = append(candidates, j)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	sort.Slice(candidates, func(i, k int) bool { return candidates[i].NextRunAt.Before(candidates[k].NextRunAt) })

	winner := candidates[0]
	winner.Status = models.StatusProcessing
	winner.ClaimedBy = opts.InstanceID
	lockedAt := opts.Now
	winner.LockedAt = &lockedAt
	winner.LastHeartbeat = &lockedAt
	winner.HeartbeatInterval = opts.HeartbeatInterval
	winner.UpdatedAt = opts.Now

	cp := *winner
	return &cp, nil
}

func (f *fakeStore) WriteCompletion(ctx context.Context, id string, w interfaces.CompletionWrite) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return nil
	}
	j.ClaimedBy = ""
	j.LockedAt = nil
	j.LastHeartbeat = nil
	j.HeartbeatInterval = 0
	j.FailCount = 0
	j.FailReason = ""
	j.UpdatedAt = w.Now
	if w.Recurring {
		j.Status = models.StatusPending
		j.NextRunAt = w.NextRunAt
	} else {
		j.Status = models.StatusCompleted
	}
	return nil
}

func (f *fakeStore) WriteFailure(ctx context.Context, id string, w interfaces.FailureWrite) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return nil
	}
	j.FailCount = w.FailCount
	j.FailReason = w.FailReason
	j.UpdatedAt = w.Now
	if w.Permanent {
		j.Status = models.StatusFailed
		j.ClaimedBy = ""
		j.LockedAt = nil
		j.LastHeartbeat = nil
		j.HeartbeatInterval = 0
	} else {
		j.Status = models.StatusPending
		j.NextRunAt = w.NextRunAt
		j.ClaimedBy = ""
		j.LockedAt = nil
		j.LastHeartbeat = nil
		j.HeartbeatInterval = 0
	}
	return nil
}

func (f *fakeStore) Heartbeat(ctx context.Context, instanceID string, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, j := range f.jobs {
		if j.ClaimedBy == instanceID && j.Status == models.StatusProcessing {
			j.LastHeartbeat = &now
			j.UpdatedAt = now
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) ReleaseStale(ctx context.Context, lockTimeout time.Duration, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cutoff := now.Add(-lockTimeout)
	var n int64
	for _, j := range f.jobs {
		if j.Status == models.StatusProcessing && j.LockedAt != nil && j.LockedAt.Before(cutoff) {
			j.Status = models.StatusPending
			j.ClaimedBy = ""
			j.LockedAt = nil
			j.LastHeartbeat = nil
			j.HeartbeatInterval = 0
			j.UpdatedAt = now
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) Get(ctx context.Context, id string) (*models.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return nil, nil
	}
	cp := *j
	return &cp, nil
}

func (f *fakeStore) Cancel(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return nil
	}
	if j.Status == models.StatusCancelled {
		return nil
	}
	if j.Status != models.StatusPending {
		return &errs.JobStateError{JobID: id, CurrentStatus: string(j.Status), AttemptedAction: "cancel"}
	}
	j.Status = models.StatusCancelled
	return nil
}

func (f *fakeStore) Retry(ctx context.Context, id string, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return nil
	}
	if j.Status != models.StatusFailed && j.Status != models.StatusCancelled {
		return &errs.JobStateError{JobID: id, CurrentStatus: string(j.Status), AttemptedAction: "retry"}
	}
	j.Status = models.StatusPending
	j.FailCount = 0
	j.FailReason = ""
	j.NextRunAt = now
	j.UpdatedAt = now
	return nil
}

func (f *fakeStore) Reschedule(ctx context.Context, id string, runAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return nil
	}
	if j.Status != models.StatusPending {
		return &errs.JobStateError{JobID: id, CurrentStatus: string(j.Status), AttemptedAction: "reschedule"}
	}
	j.NextRunAt = runAt
	return nil
}

func (f *fakeStore) Delete(ctx context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.jobs[id]; !ok {
		return false, nil
	}
	delete(f.jobs, id)
	return true, nil
}

func (f *fakeStore) CancelMany(ctx context.Context, sel interfaces.Selector) (int64, map[string]error) {
	return f.bulk(sel, "cancel", func(j *models.Job) bool { return j.Status == models.StatusPending }, func(j *models.Job, now time.Time) {
		j.Status = models.StatusCancelled
	})
}

func (f *fakeStore) RetryMany(ctx context.Context, sel interfaces.Selector, now time.Time) (int64, map[string]error) {
	return f.bulk(sel, "retry", func(j *models.Job) bool {
		return j.Status == models.StatusFailed || j.Status == models.StatusCancelled
	}, func(j *models.Job, now time.Time) {
		j.Status = models.StatusPending
		j.FailCount = 0
		j.NextRunAt = now
	})
}

func (f *fakeStore) DeleteMany(ctx context.Context, sel interfaces.Selector) (int64, map[string]error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for id, j := range f.jobs {
		if selectorMatches(sel, j) {
			delete(f.jobs, id)
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) bulk(sel interfaces.Selector, action string, eligible func(*models.Job) bool, apply func(*models.Job, time.Time)) (int64, map[string]error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	var n int64
	failures := map[string]error{}
	for _, j := range f.jobs {
		if !selectorMatches(sel, j) {
			continue
		}
		if !eligible(j) {
			failures[j.ID] = &errs.JobStateError{JobID: j.ID, CurrentStatus: string(j.Status), AttemptedAction: action}
			continue
		}
		apply(j, now)
		n++
	}
	return n, failures
}

func selectorMatches(sel interfaces.Selector, j *models.Job) bool {
	if len(sel.IDs) > 0 {
		found := false
		for _, id := range sel.IDs {
			if id == j.ID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if sel.Name != "" && sel.Name != j.Name {
		return false
	}
	if sel.Status != "" && sel.Status != j.Status {
		return false
	}
	return true
}

func (f *fakeStore) List(ctx context.Context, opts interfaces.ListOptions) (*interfaces.ListPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var matches []*models.Job
	for _, j := range f.jobs {
		if opts.Name != "" && opts.Name != j.Name {
			continue
		}
		if len(opts.Statuses) > 0 {
			ok := false
			for _, st := range opts.Statuses {
				if st == j.Status {
					ok = true
					break
				}
			}
			if !ok {
				continue
			}
		}
		cp := *j
		matches = append(matches, &cp)
	}
	sort.Slice(matches, func(i, k int) bool { return matches[i].ID < matches[k].ID })
	return &interfaces.ListPage{Jobs: matches}, nil
}

func (f *fakeStore) Stats(ctx context.Context, name string) (*interfaces.QueueStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	counts := map[models.Status]int64{}
	for _, j := range f.jobs {
		if name != "" && j.Name != name {
			continue
		}
		counts[j.Status]++
	}
	return &interfaces.QueueStats{CountsByStatus: counts}, nil
}

func (f *fakeStore) Watch(ctx context.Context) (interfaces.Watcher, error) {
	if f.watchErr != nil {
		return nil, f.watchErr
	}
	if f.watcher != nil {
		return f.watcher, nil
	}
	return nil, errs.ErrChangeStreamsUnavailable
}

func (f *fakeStore) Close(ctx context.Context) error { return nil }

// fakeWatcher is a hand-controlled interfaces.Watcher for changestream tests.
type fakeWatcher struct {
	events  chan interfaces.WatchEvent
	errCh   chan error
	closed  chan struct{}
	closeFn func()
}

func newFakeWatcher() *fakeWatcher {
	return &fakeWatcher{
		events: make(chan interfaces.WatchEvent, 8),
		errCh:  make(chan error, 8),
		closed: make(chan struct{}),
	}
}

func (w *fakeWatcher) Events() <-chan interfaces.WatchEvent { return w.events }
func (w *fakeWatcher) Errors() <-chan error                 { return w.errCh }
func (w *fakeWatcher) Close(ctx context.Context) error {
	select {
	case <-w.closed:
	default:
		close(w.closed)
	}
	if w.closeFn != nil {
		w.closeFn()
	}
	return nil
}

// fakeClock is an injectable Clock under the test's direct control.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{now: start}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}
