package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/monque/monque/internal/interfaces"
)

// ownershipUnset clears the fields invariant (2)/(3) require absent once
// a job leaves processing.
var ownershipUnset = bson.D{
	{Key: keyClaimedBy, Value: ""},
	{Key: keyLockedAt, Value: ""},
	{Key: keyLastHeartbeat, Value: ""},
	{Key: keyHeartbeatInterval, Value: ""},
}

// WriteCompletion applies the resolver's success write: a recurring job
// returns to pending with nextRunAt advanced and failCount reset; a
// one-shot job completes.
func (s *Store) WriteCompletion(ctx context.Context, id string, w interfaces.CompletionWrite) error {
	set := bson.D{
		{Key: keyFailCount, Value: 0},
		{Key: keyFailReason, Value: ""},
		{Key: keyUpdatedAt, Value: w.Now},
	}
	if w.Recurring {
		set = append(set, bson.E{Key: keyStatus, Value: statusPending}, bson.E{Key: keyNextRunAt, Value: w.NextRunAt})
	} else {
		set = append(set, bson.E{Key: keyStatus, Value: statusCompleted})
	}

	_, err := s.collection.UpdateByID(ctx, id, bson.D{
		{Key: "$set", Value: set},
		{Key: "$unset", Value: ownershipUnset},
	})
	if err != nil {
		return fmt.Errorf("failed to write completion for job %s: %w", id, err)
	}
	return nil
}

// WriteFailure applies the resolver's failure write: permanent failure or
// a pending retry with nextRunAt advanced by backoff.
func (s *Store) WriteFailure(ctx context.Context, id string, w interfaces.FailureWrite) error {
	set := bson.D{
		{Key: keyFailCount, Value: w.FailCount},
		{Key: keyFailReason, Value: w.FailReason},
		{Key: keyUpdatedAt, Value: w.Now},
	}
	if w.Permanent {
		set = append(set, bson.E{Key: keyStatus, Value: statusFailed})
	} else {
		set = append(set, bson.E{Key: keyStatus, Value: statusPending}, bson.E{Key: keyNextRunAt, Value: w.NextRunAt})
	}

	_, err := s.collection.UpdateByID(ctx, id, bson.D{
		{Key: "$set", Value: set},
		{Key: "$unset", Value: ownershipUnset},
	})
	if err != nil {
		return fmt.Errorf("failed to write failure for job %s: %w", id, err)
	}
	return nil
}
