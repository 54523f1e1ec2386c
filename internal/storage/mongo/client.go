// Package mongo implements interfaces.JobStore against a MongoDB
// collection: one document per job, one atomic findAndModify-style
// operation per mutating call.
package mongo

import (
	"context"
	"fmt"

	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/monque/monque/internal/common"
)

// Config carries the connection details for the backing deployment.
type Config struct {
	URI        string
	Database   string
	Collection string
}

// Store implements interfaces.JobStore over a single MongoDB collection.
type Store struct {
	config     Config
	client     *mongodriver.Client
	database   *mongodriver.Database
	collection *mongodriver.Collection
	logger     *common.Logger
}

// New connects to the configured deployment and returns a ready Store.
// Indexes are not created here; call EnsureIndexes once connected.
func New(ctx context.Context, cfg Config, logger *common.Logger) (*Store, error) {
	client, err := mongodriver.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}

	db := client.Database(cfg.Database)
	s := &Store{
		config:     cfg,
		client:     client,
		database:   db,
		collection: db.Collection(cfg.Collection),
		logger:     logger,
	}
	return s, nil
}

// Ready pings the primary. It is not part of interfaces.JobStore;
// Scheduler.Healthy picks it up through an optional-capability type
// assertion.
func (s *Store) Ready(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

// Close disconnects the underlying client.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// Collection exposes the raw handle for callers that need it outside the
// JobStore contract.
func (s *Store) Collection() *mongodriver.Collection {
	return s.collection
}
