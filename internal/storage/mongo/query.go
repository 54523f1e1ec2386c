package mongo

import (
	"context"
	"encoding/base64"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/monque/monque/internal/errs"
	"github.com/monque/monque/internal/interfaces"
	"github.com/monque/monque/internal/models"
)

const defaultListLimit = 50

// List returns one cursor-paginated page of jobs matching opts, ordered
// by _id. The cursor is simply the last-seen _id, base64-encoded so it
// reads as opaque to callers.
func (s *Store) List(ctx context.Context, opts interfaces.ListOptions) (*interfaces.ListPage, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	filter := bson.D{}
	if opts.Name != "" {
		filter = append(filter, bson.E{Key: keyName, Value: opts.Name})
	}
	if len(opts.Statuses) > 0 {
		statuses := make(bson.A, 0, len(opts.Statuses))
		for _, st := range opts.Statuses {
			statuses = append(statuses, string(st))
		}
		filter = append(filter, bson.E{Key: keyStatus, Value: bson.D{{Key: "$in", Value: statuses}}})
	}

	sortDir := 1
	if opts.Backward {
		sortDir = -1
	}

	if opts.Cursor != "" {
		cursorID, err := decodeCursor(opts.Cursor)
		if err != nil {
			return nil, err
		}
		op := "$gt"
		if opts.Backward {
			op = "$lt"
		}
		filter = append(filter, bson.E{Key: keyID, Value: bson.D{{Key: op, Value: cursorID}}})
	}

	findOpts := options.Find().
		SetSort(bson.D{{Key: keyID, Value: sortDir}}).
		SetLimit(int64(limit) + 1)

	cur, err := s.collection.Find(ctx, filter, findOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	var jobs []*models.Job
	if err := cur.All(ctx, &jobs); err != nil {
		return nil, fmt.Errorf("failed to decode job list: %w", err)
	}

	page := &interfaces.ListPage{}
	if len(jobs) > limit {
		jobs = jobs[:limit]
		page.NextCursor = encodeCursor(jobs[len(jobs)-1].ID)
	}
	page.Jobs = jobs
	if opts.Cursor != "" && len(jobs) > 0 {
		page.PrevCursor = encodeCursor(jobs[0].ID)
	}
	return page, nil
}

func encodeCursor(id string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(id))
}

func decodeCursor(cursor string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return "", &errs.InvalidCursorError{Cursor: cursor, Reason: err.Error()}
	}
	return string(raw), nil
}

// statsAggregate mirrors the $group stage's projected document shape.
type statsAggregate struct {
	ID     string   `bson:"_id"`
	Count  int64    `bson:"count"`
	MeanMS *float64 `bson:"meanDurationMs"` // nil when no document had both timestamps
}

// Stats aggregates counts per status (optionally scoped to one job
// name) plus the mean completed-job duration, computed as updatedAt -
// lockedAt. WriteCompletion clears lockedAt, so completed documents
// carry no duration: MeanCompletedDurMS stays 0 and HasDurationSample
// stays false.
func (s *Store) Stats(ctx context.Context, name string) (*interfaces.QueueStats, error) {
	matchStage := bson.D{}
	if name != "" {
		matchStage = bson.D{{Key: keyName, Value: name}}
	}

	pipeline := aggregationPipeline(matchStage)

	cur, err := s.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate queue stats: %w", err)
	}
	var rows []statsAggregate
	if err := cur.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode queue stats: %w", err)
	}

	stats := &interfaces.QueueStats{CountsByStatus: make(map[models.Status]int64)}
	for _, r := range rows {
		stats.CountsByStatus[models.Status(r.ID)] = r.Count
		if r.ID == statusCompleted && r.Count > 0 && r.MeanMS != nil {
			stats.MeanCompletedDurMS = *r.MeanMS
			stats.HasDurationSample = true
		}
	}
	return stats, nil
}

func aggregationPipeline(match bson.D) mongodriver.Pipeline {
	stages := mongodriver.Pipeline{}
	if len(match) > 0 {
		stages = append(stages, bson.D{{Key: "$match", Value: match}})
	}
	stages = append(stages, bson.D{
		{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$" + keyStatus},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
			{Key: "meanDurationMs", Value: bson.D{{Key: "$avg", Value: bson.D{
				{Key: "$subtract", Value: bson.A{"$" + keyUpdatedAt, "$" + keyLockedAt}},
			}}}},
		}},
	})
	return stages
}
