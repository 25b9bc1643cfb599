package rawstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/joseph-ayodele/survey-docparser/internal/common"
)

// MongoStore keeps one document per run in a collection.
type MongoStore struct {
	coll   *mongo.Collection
	logger *slog.Logger
}

// NewMongoStore wraps coll and ensures its indexes.
func NewMongoStore(ctx context.Context, coll *mongo.Collection, logger *slog.Logger) *MongoStore {
	if logger == nil {
		logger = slog.Default()
	}
	s := &MongoStore{coll: coll, logger: logger}
	s.ensureIndexes(ctx)
	return s
}

func (s *MongoStore) ensureIndexes(ctx context.Context) {
	models := []mongo.IndexModel{
		{Keys: bson.D{{Key: "run_id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "file_name", Value: 1}, {Key: "stored_at", Value: -1}}},
	}
	if _, err := s.coll.Indexes().CreateMany(ctx, models); err != nil {
		s.logger.Warn("rawstore.index.failed", "collection", s.coll.Name(), "error", err)
	}
}

func (s *MongoStore) Save(ctx context.Context, rec *Record) error {
	if rec.StoredAt.IsZero() {
		rec.StoredAt = time.Now().UTC()
	}
	opts := options.Replace().SetUpsert(true)
	if _, err := s.coll.ReplaceOne(ctx, bson.M{"run_id": rec.RunID}, rec, opts); err != nil {
		return fmt.Errorf("save raw result %s: %w", rec.RunID, err)
	}
	return nil
}

func (s *MongoStore) Get(ctx context.Context, runID string) (*Record, error) {
	var rec Record
	err := s.coll.FindOne(ctx, bson.M{"run_id": runID}).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, common.NewAppError("RAW_NOT_FOUND", runID, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get raw result %s: %w", runID, err)
	}
	return &rec, nil
}

// Connect opens a Mongo client and pings it.
func Connect(ctx context.Context, uri string, timeout time.Duration) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return client, nil
}
