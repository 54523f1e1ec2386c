package scheduler

import (
	"time"

	"github.com/monque/monque/internal/backoff"
	"github.com/monque/monque/internal/cronutil"
	"github.com/monque/monque/internal/interfaces"
	"github.com/monque/monque/internal/models"
)

// resolver computes the post-execution write for a job occurrence (C7).
// It is pure with respect to the database: it never touches the store
// itself, only decides what the store write should contain, so its
// backoff/cron math (P4, P5) can be unit tested without Mongo.
type resolver struct {
	maxRetries        int
	baseRetryInterval time.Duration
	maxBackoffDelay   time.Duration // zero means uncapped
}

// onSuccess implements spec §4.5's success branch.
func (r *resolver) onSuccess(job *models.Job, now time.Time) (interfaces.CompletionWrite, error) {
	if !job.IsRecurring() {
		return interfaces.CompletionWrite{Recurring: false, Now: now}, nil
	}
	next, err := cronutil.NextAfter(job.RepeatInterval, now)
	if err != nil {
		return interfaces.CompletionWrite{}, err
	}
	return interfaces.CompletionWrite{Recurring: true, NextRunAt: next, Now: now}, nil
}

// onFailure implements spec §4.5's failure branch. It never returns an
// error: an unparseable cron expression cannot occur here (recurrence is
// only resolved on success), and the backoff formula is total.
func (r *resolver) onFailure(job *models.Job, handlerErr error, now time.Time) interfaces.FailureWrite {
	n := job.FailCount + 1
	reason := models.TruncateFailReason(handlerErr.Error())

	if n >= r.maxRetries {
		return interfaces.FailureWrite{
			Permanent:  true,
			FailCount:  n,
			FailReason: reason,
			Now:        now,
		}
	}

	delay := backoff.Delay(n, r.baseRetryInterval, r.maxBackoffDelay)
	return interfaces.FailureWrite{
		Permanent:  false,
		FailCount:  n,
		FailReason: reason,
		NextRunAt:  now.Add(delay),
		Now:        now,
	}
}
