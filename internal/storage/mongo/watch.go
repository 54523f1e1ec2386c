package mongo

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/monque/monque/internal/errs"
	"github.com/monque/monque/internal/interfaces"
)

// changeStreamPipeline matches inserts and updates that left the
// document pending, per §4.9 — full document lookup is required to
// inspect the post-image status on an update.
var changeStreamPipeline = mongodriver.Pipeline{
	bson.D{{Key: "$match", Value: bson.D{
		{Key: "$or", Value: bson.A{
			bson.D{{Key: "operationType", Value: "insert"}},
			bson.D{
				{Key: "operationType", Value: "update"},
				{Key: "fullDocument." + keyStatus, Value: statusPending},
			},
		}},
	}}},
}

// watcher adapts a mongo.ChangeStream to interfaces.Watcher.
type watcher struct {
	stream *mongodriver.ChangeStream
	events chan interfaces.WatchEvent
	errs   chan error
	done   chan struct{}
}

func (w *watcher) Events() <-chan interfaces.WatchEvent { return w.events }
func (w *watcher) Errors() <-chan error                 { return w.errs }

func (w *watcher) Close(ctx context.Context) error {
	close(w.done)
	return w.stream.Close(ctx)
}

func (w *watcher) pump(ctx context.Context) {
	defer close(w.events)
	defer close(w.errs)

	for w.stream.Next(ctx) {
		select {
		case <-w.done:
			return
		default:
		}

		var doc struct {
			OperationType string `bson:"operationType"`
		}
		if err := w.stream.Decode(&doc); err != nil {
			select {
			case w.errs <- err:
			case <-w.done:
			}
			continue
		}

		// The server-side pipeline already filtered updates to the pending
		// post-image, so every event reaching here is pending-eligible.
		ev := interfaces.WatchEvent{Op: doc.OperationType, Status: statusPending}
		select {
		case w.events <- ev:
		case <-w.done:
			return
		}
	}

	if err := w.stream.Err(); err != nil {
		select {
		case w.errs <- err:
		case <-w.done:
		}
	}
}

// Watch subscribes to inserts and pending-transition updates. It returns
// the errs.ErrChangeStreamsUnavailable sentinel when the deployment cannot
// support change streams (e.g. a standalone mongod), so the caller can
// fall back to polling without treating it as fatal.
func (s *Store) Watch(ctx context.Context) (interfaces.Watcher, error) {
	opts := options.ChangeStream().SetFullDocument(options.UpdateLookup)
	stream, err := s.collection.Watch(ctx, changeStreamPipeline, opts)
	if err != nil {
		if isChangeStreamUnsupported(err) {
			return nil, errs.ErrChangeStreamsUnavailable
		}
		return nil, err
	}

	w := &watcher{
		stream: stream,
		events: make(chan interfaces.WatchEvent, 16),
		errs:   make(chan error, 4),
		done:   make(chan struct{}),
	}
	go w.pump(ctx)
	return w, nil
}

// isChangeStreamUnsupported reports whether err indicates the backing
// deployment lacks replica-set/sharded-cluster support for change
// streams, rather than a transient transport failure.
func isChangeStreamUnsupported(err error) bool {
	var cmdErr mongodriver.CommandError
	if errors.As(err, &cmdErr) {
		// 40573: "The $changeStream stage is only supported on replica sets".
		return cmdErr.Code == 40573
	}
	return false
}
