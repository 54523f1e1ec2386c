package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"golang.org/x/sync/errgroup"
)

// Index names, for selection and diagnostics.
const (
	indexDispatch      = "status_1_nextRunAt_1"
	indexClaim         = "status_1_nextRunAt_1_claimedBy_1"
	indexOwner         = "claimedBy_1_status_1"
	indexStaleRecovery = "lockedAt_1_lastHeartbeat_1_status_1"
	indexByName        = "name_1_status_1"
	indexUniqueKey     = "uniqueKey_1_active"
)

// filterActive matches the statuses invariant (4) tracks for uniqueKey
// mutual exclusion.
var filterActive = bson.D{{Key: keyStatus, Value: bson.D{{Key: "$in", Value: bson.A{statusPending, statusProcessing}}}}}

// EnsureIndexes creates the six indexes the data model requires. Safe to
// call repeatedly; CreateMany/CreateOne are idempotent against an
// identically-defined existing index.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	v := s.collection.Indexes()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		_, err := v.CreateMany(ctx, []mongodriver.IndexModel{
			{
				Keys:    bson.D{{Key: keyStatus, Value: 1}, {Key: keyNextRunAt, Value: 1}},
				Options: options.Index().SetName(indexDispatch),
			},
			{
				Keys:    bson.D{{Key: keyStatus, Value: 1}, {Key: keyNextRunAt, Value: 1}, {Key: keyClaimedBy, Value: 1}},
				Options: options.Index().SetName(indexClaim),
			},
			{
				Keys:    bson.D{{Key: keyClaimedBy, Value: 1}, {Key: keyStatus, Value: 1}},
				Options: options.Index().SetName(indexOwner),
			},
			{
				Keys:    bson.D{{Key: keyName, Value: 1}, {Key: keyStatus, Value: 1}},
				Options: options.Index().SetName(indexByName),
			},
		})
		return err
	})

	g.Go(func() error {
		_, err := v.CreateOne(ctx, mongodriver.IndexModel{
			Keys:    bson.D{{Key: keyLockedAt, Value: 1}, {Key: keyLastHeartbeat, Value: 1}, {Key: keyStatus, Value: 1}},
			Options: options.Index().SetName(indexStaleRecovery).SetPartialFilterExpression(bson.D{{Key: keyStatus, Value: statusProcessing}}),
		})
		return err
	})

	g.Go(func() error {
		_, err := v.CreateOne(ctx, mongodriver.IndexModel{
			Keys:    bson.D{{Key: keyUniqueKey, Value: 1}},
			Options: options.Index().SetName(indexUniqueKey).SetUnique(true).SetPartialFilterExpression(filterActive),
		})
		return err
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}
	return nil
}
