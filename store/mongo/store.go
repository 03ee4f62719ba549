// Package mongo persists dispatch history in a MongoDB collection trimmed to
// a fixed number of documents.
package mongo

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/forwarder"
	"github.com/xraph/forwarder/history"
	"github.com/xraph/forwarder/store"
)

const (
	// DefaultDatabase is used when no database name is given.
	DefaultDatabase = "hookrelay"

	colHistory = "hookrelay_history"

	codeNamespaceExists = 48
)

// Compile-time interface check.
var _ store.Store = (*Store)(nil)

// Store implements store.Store on a collection indexed by arrival sequence.
// Each append deletes the documents that fall outside capacity.
type Store struct {
	client   *mongo.Client
	db       *mongo.Database
	capacity int
}

// New wraps an existing client.
func New(client *mongo.Client, database string, capacity int) *Store {
	if database == "" {
		database = DefaultDatabase
	}
	if capacity <= 0 {
		capacity = history.DefaultCapacity
	}
	return &Store{
		client:   client,
		db:       client.Database(database),
		capacity: capacity,
	}
}

// Connect dials uri and returns a store on database.
func Connect(uri, database string, capacity int) (*Store, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("forwarder/mongo: connect: %w", err)
	}
	return New(client, database, capacity), nil
}

// Migrate creates the history collection and its sequence index.
func (s *Store) Migrate(ctx context.Context) error {
	err := s.db.CreateCollection(ctx, colHistory)
	var cmdErr mongo.CommandError
	if err != nil && !(errors.As(err, &cmdErr) && cmdErr.Code == codeNamespaceExists) {
		return fmt.Errorf("%w: mongo %s: %w", forwarder.ErrMigrationFailed, colHistory, err)
	}

	_, err = s.db.Collection(colHistory).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "seq", Value: -1}},
	})
	if err != nil {
		return fmt.Errorf("%w: mongo %s index: %w", forwarder.ErrMigrationFailed, colHistory, err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Close disconnects the client.
func (s *Store) Close() error {
	return s.client.Disconnect(context.Background())
}

// Append inserts rec, then deletes everything older than the capacity-th
// latest arrival.
func (s *Store) Append(ctx context.Context, rec *history.Record) error {
	rec.EnsureSeq()
	col := s.db.Collection(colHistory)
	if _, err := col.InsertOne(ctx, toRecordModel(rec)); err != nil {
		return fmt.Errorf("forwarder/mongo: append: %w", err)
	}

	var edge struct {
		Seq int64 `bson:"seq"`
	}
	opts := options.FindOne().
		SetSort(bson.D{{Key: "seq", Value: -1}}).
		SetSkip(int64(s.capacity)).
		SetProjection(bson.D{{Key: "seq", Value: 1}})
	err := col.FindOne(ctx, bson.D{}, opts).Decode(&edge)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("forwarder/mongo: trim: %w", err)
	}
	if _, err := col.DeleteMany(ctx, bson.D{{Key: "seq", Value: bson.D{{Key: "$lte", Value: edge.Seq}}}}); err != nil {
		return fmt.Errorf("forwarder/mongo: trim: %w", err)
	}
	return nil
}

// List returns up to limit records, latest arrival first.
func (s *Store) List(ctx context.Context, limit int) ([]*history.Record, error) {
	opts := options.Find().SetSort(bson.D{{Key: "seq", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := s.db.Collection(colHistory).Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, fmt.Errorf("forwarder/mongo: list: %w", err)
	}

	var models []recordModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("forwarder/mongo: decode: %w", err)
	}

	out := make([]*history.Record, 0, len(models))
	for i := range models {
		rec, err := fromRecordModel(&models[i])
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}
