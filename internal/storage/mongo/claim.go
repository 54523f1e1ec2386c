package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/monque/monque/internal/interfaces"
	"github.com/monque/monque/internal/models"
)

// Insert persists job. When job.UniqueKey is set, a concurrent insert
// sharing that key is resolved by the partial unique index: the loser
// fetches and returns the winner's document unchanged, matching §4's
// upsert-by-uniqueKey contract without a read-then-write race.
func (s *Store) Insert(ctx context.Context, job *models.Job) (*models.Job, error) {
	_, err := s.collection.InsertOne(ctx, job)
	if err == nil {
		return job, nil
	}

	if job.UniqueKey != "" && mongodriver.IsDuplicateKeyError(err) {
		existing, getErr := s.findOneActiveByUniqueKey(ctx, job.UniqueKey)
		if getErr == nil && existing != nil {
			return existing, nil
		}
	}

	return nil, fmt.Errorf("failed to insert job: %w", err)
}

func (s *Store) findOneActiveByUniqueKey(ctx context.Context, uniqueKey string) (*models.Job, error) {
	filter := bson.D{
		{Key: keyUniqueKey, Value: uniqueKey},
		{Key: keyStatus, Value: bson.D{{Key: "$in", Value: bson.A{statusPending, statusProcessing}}}},
	}
	var job models.Job
	if err := s.collection.FindOne(ctx, filter).Decode(&job); err != nil {
		return nil, err
	}
	return &job, nil
}

// Claim atomically moves one eligible pending job for name to processing
// under opts.InstanceID, ordered ascending by nextRunAt so the earliest-
// eligible job wins. Returns (nil, nil) if nothing was eligible.
func (s *Store) Claim(ctx context.Context, name string, opts interfaces.ClaimOptions) (*models.Job, error) {
	filter := bson.D{
		{Key: keyName, Value: name},
		{Key: keyStatus, Value: statusPending},
		{Key: keyNextRunAt, Value: bson.D{{Key: "$lte", Value: opts.Now}}},
	}
	update := bson.D{
		{Key: "$set", Value: bson.D{
			{Key: keyStatus, Value: statusProcessing},
			{Key: keyClaimedBy, Value: opts.InstanceID},
			{Key: keyLockedAt, Value: opts.Now},
			{Key: keyLastHeartbeat, Value: opts.Now},
			{Key: keyHeartbeatInterval, Value: opts.HeartbeatInterval},
			{Key: keyUpdatedAt, Value: opts.Now},
		}},
	}
	sort := bson.D{{Key: keyNextRunAt, Value: 1}}

	var job models.Job
	err := s.collection.FindOneAndUpdate(
		ctx, filter, update,
		options.FindOneAndUpdate().SetSort(sort).SetReturnDocument(options.After),
	).Decode(&job)

	if err == mongodriver.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}
	return &job, nil
}

// Heartbeat refreshes lastHeartbeat/updatedAt for every processing job
// owned by instanceID in a single multi-document update.
func (s *Store) Heartbeat(ctx context.Context, instanceID string, now time.Time) (int64, error) {
	filter := bson.D{
		{Key: keyClaimedBy, Value: instanceID},
		{Key: keyStatus, Value: statusProcessing},
	}
	update := bson.D{{Key: "$set", Value: bson.D{
		{Key: keyLastHeartbeat, Value: now},
		{Key: keyUpdatedAt, Value: now},
	}}}

	res, err := s.collection.UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, fmt.Errorf("failed to update heartbeats: %w", err)
	}
	return res.ModifiedCount, nil
}

// ReleaseStale resets every processing job whose lockedAt predates
// now.Add(-lockTimeout) back to pending. lastHeartbeat is never
// consulted: staleness is defined purely by lockedAt, per the owner
// disappearing without having failed the job.
func (s *Store) ReleaseStale(ctx context.Context, lockTimeout time.Duration, now time.Time) (int64, error) {
	cutoff := now.Add(-lockTimeout)
	filter := bson.D{
		{Key: keyStatus, Value: statusProcessing},
		{Key: keyLockedAt, Value: bson.D{{Key: "$lt", Value: cutoff}}},
	}
	update := bson.D{
		{Key: "$set", Value: bson.D{
			{Key: keyStatus, Value: statusPending},
			{Key: keyUpdatedAt, Value: now},
		}},
		{Key: "$unset", Value: bson.D{
			{Key: keyClaimedBy, Value: ""},
			{Key: keyLockedAt, Value: ""},
			{Key: keyLastHeartbeat, Value: ""},
			{Key: keyHeartbeatInterval, Value: ""},
		}},
	}

	res, err := s.collection.UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, fmt.Errorf("failed to release stale jobs: %w", err)
	}
	return res.ModifiedCount, nil
}
