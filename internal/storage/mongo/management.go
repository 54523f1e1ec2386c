package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	mongodriver "go.mongodb.org/mongo-driver/mongo"

	"github.com/monque/monque/internal/errs"
	"github.com/monque/monque/internal/interfaces"
	"github.com/monque/monque/internal/models"
)

// Get returns the job document for id, or nil if it does not exist.
func (s *Store) Get(ctx context.Context, id string) (*models.Job, error) {
	var job models.Job
	err := s.collection.FindOne(ctx, bson.D{{Key: keyID, Value: id}}).Decode(&job)
	if err == mongodriver.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job %s: %w", id, err)
	}
	return &job, nil
}

// Cancel transitions a pending job to cancelled, idempotently succeeding
// if it is already cancelled. Any other status is a *errs.JobStateError;
// a missing document is silently a no-op, per §4.6.
func (s *Store) Cancel(ctx context.Context, id string) error {
	res, err := s.collection.UpdateOne(ctx,
		bson.D{{Key: keyID, Value: id}, {Key: keyStatus, Value: statusPending}},
		bson.D{{Key: "$set", Value: bson.D{{Key: keyStatus, Value: statusCancelled}, {Key: keyUpdatedAt, Value: time.Now()}}}},
	)
	if err != nil {
		return fmt.Errorf("failed to cancel job %s: %w", id, err)
	}
	if res.MatchedCount > 0 {
		return nil
	}
	return s.checkStateOrNotFound(ctx, id, "cancel", statusCancelled)
}

// Retry resets a failed or cancelled job back to pending for immediate
// reclaim. Any other status is a *errs.JobStateError.
func (s *Store) Retry(ctx context.Context, id string, now time.Time) error {
	res, err := s.collection.UpdateOne(ctx,
		bson.D{{Key: keyID, Value: id}, {Key: keyStatus, Value: bson.D{{Key: "$in", Value: bson.A{statusFailed, statusCancelled}}}}},
		bson.D{
			{Key: "$set", Value: bson.D{
				{Key: keyStatus, Value: statusPending},
				{Key: keyFailCount, Value: 0},
				{Key: keyNextRunAt, Value: now},
				{Key: keyUpdatedAt, Value: now},
			}},
			{Key: "$unset", Value: append(ownershipUnset, bson.E{Key: keyFailReason, Value: ""})},
		},
	)
	if err != nil {
		return fmt.Errorf("failed to retry job %s: %w", id, err)
	}
	if res.MatchedCount > 0 {
		return nil
	}
	return s.checkStateOrNotFound(ctx, id, "retry")
}

// Reschedule changes a pending job's nextRunAt. Any other status is a
// *errs.JobStateError.
func (s *Store) Reschedule(ctx context.Context, id string, runAt time.Time) error {
	res, err := s.collection.UpdateOne(ctx,
		bson.D{{Key: keyID, Value: id}, {Key: keyStatus, Value: statusPending}},
		bson.D{{Key: "$set", Value: bson.D{{Key: keyNextRunAt, Value: runAt}, {Key: keyUpdatedAt, Value: time.Now()}}}},
	)
	if err != nil {
		return fmt.Errorf("failed to reschedule job %s: %w", id, err)
	}
	if res.MatchedCount > 0 {
		return nil
	}
	return s.checkStateOrNotFound(ctx, id, "reschedule")
}

// Delete removes the job document outright, regardless of status.
// Returns false if no document matched id.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	res, err := s.collection.DeleteOne(ctx, bson.D{{Key: keyID, Value: id}})
	if err != nil {
		return false, fmt.Errorf("failed to delete job %s: %w", id, err)
	}
	return res.DeletedCount > 0, nil
}

// checkStateOrNotFound fetches the current document to decide whether an
// unmatched conditional update failed because the job doesn't exist
// (silent no-op) or because its status disqualified it (JobStateError).
// idempotentStatuses lists statuses for which the caller's operation is
// considered already-applied rather than an error.
func (s *Store) checkStateOrNotFound(ctx context.Context, id, action string, idempotentStatuses ...string) error {
	job, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if job == nil {
		return nil
	}
	for _, st := range idempotentStatuses {
		if string(job.Status) == st {
			return nil
		}
	}
	return &errs.JobStateError{JobID: id, CurrentStatus: string(job.Status), AttemptedAction: action}
}

func selectorFilter(sel interfaces.Selector) bson.D {
	filter := bson.D{}
	if len(sel.IDs) > 0 {
		filter = append(filter, bson.E{Key: keyID, Value: bson.D{{Key: "$in", Value: sel.IDs}}})
	}
	if sel.Name != "" {
		filter = append(filter, bson.E{Key: keyName, Value: sel.Name})
	}
	if sel.Status != "" {
		filter = append(filter, bson.E{Key: keyStatus, Value: string(sel.Status)})
	}
	return filter
}

// CancelMany cancels every pending job matching sel. Matches outside the
// pending status are reported individually in the returned error map.
func (s *Store) CancelMany(ctx context.Context, sel interfaces.Selector) (int64, map[string]error) {
	eligible := func(status string) bool { return status == statusPending }
	return s.bulkApply(ctx, sel, "cancel", eligible, func(ids []string, now time.Time) (int64, error) {
		res, err := s.collection.UpdateMany(ctx,
			bson.D{{Key: keyID, Value: bson.D{{Key: "$in", Value: ids}}}, {Key: keyStatus, Value: statusPending}},
			bson.D{{Key: "$set", Value: bson.D{{Key: keyStatus, Value: statusCancelled}, {Key: keyUpdatedAt, Value: now}}}},
		)
		if err != nil {
			return 0, err
		}
		return res.ModifiedCount, nil
	})
}

// RetryMany retries every failed or cancelled job matching sel.
func (s *Store) RetryMany(ctx context.Context, sel interfaces.Selector, now time.Time) (int64, map[string]error) {
	eligible := func(status string) bool { return status == statusFailed || status == statusCancelled }
	return s.bulkApply(ctx, sel, "retry", eligible, func(ids []string, now time.Time) (int64, error) {
		res, err := s.collection.UpdateMany(ctx,
			bson.D{
				{Key: keyID, Value: bson.D{{Key: "$in", Value: ids}}},
				{Key: keyStatus, Value: bson.D{{Key: "$in", Value: bson.A{statusFailed, statusCancelled}}}},
			},
			bson.D{
				{Key: "$set", Value: bson.D{
					{Key: keyStatus, Value: statusPending},
					{Key: keyFailCount, Value: 0},
					{Key: keyNextRunAt, Value: now},
					{Key: keyUpdatedAt, Value: now},
				}},
				{Key: "$unset", Value: append(ownershipUnset, bson.E{Key: keyFailReason, Value: ""})},
			},
		)
		if err != nil {
			return 0, err
		}
		return res.ModifiedCount, nil
	})
}

// DeleteMany deletes every job matching sel, regardless of status.
func (s *Store) DeleteMany(ctx context.Context, sel interfaces.Selector) (int64, map[string]error) {
	filter := selectorFilter(sel)
	res, err := s.collection.DeleteMany(ctx, filter)
	if err != nil {
		return 0, map[string]error{"*": fmt.Errorf("failed to delete jobs: %w", err)}
	}
	return res.DeletedCount, nil
}

// bulkApply selects every document matching sel, applies update (itself
// guarded by the same status predicate at the database level), and
// reports a *errs.JobStateError for each selected document that eligible
// rejects — these are exactly the documents update's own filter would
// have excluded.
func (s *Store) bulkApply(ctx context.Context, sel interfaces.Selector, action string, eligible func(status string) bool, update func(ids []string, now time.Time) (int64, error)) (int64, map[string]error) {
	filter := selectorFilter(sel)
	cur, err := s.collection.Find(ctx, filter)
	if err != nil {
		return 0, map[string]error{"*": fmt.Errorf("failed to select jobs for %s: %w", action, err)}
	}
	var candidates []models.Job
	if err := cur.All(ctx, &candidates); err != nil {
		return 0, map[string]error{"*": fmt.Errorf("failed to decode jobs for %s: %w", action, err)}
	}
	if len(candidates) == 0 {
		return 0, nil
	}

	ids := make([]string, 0, len(candidates))
	failures := map[string]error{}
	for _, c := range candidates {
		if eligible(string(c.Status)) {
			ids = append(ids, c.ID)
		} else {
			failures[c.ID] = &errs.JobStateError{JobID: c.ID, CurrentStatus: string(c.Status), AttemptedAction: action}
		}
	}
	if len(ids) == 0 {
		return 0, failures
	}

	n, err := update(ids, time.Now())
	if err != nil {
		return 0, map[string]error{"*": fmt.Errorf("failed to %s jobs: %w", action, err)}
	}
	return n, failures
}
