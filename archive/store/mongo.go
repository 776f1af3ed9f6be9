package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/acauret/infrastructure-agent/archive"
	agenterrors "github.com/acauret/infrastructure-agent/errors"
	"github.com/acauret/infrastructure-agent/event"
)

// MongoStore implements archive.Store using MongoDB.
type MongoStore struct {
	client     *mongo.Client
	collection *mongo.Collection
}

// MongoConfig holds MongoDB connection configuration.
type MongoConfig struct {
	URI        string
	Database   string
	Collection string
}

// DefaultMongoConfig returns default MongoDB configuration.
func DefaultMongoConfig() *MongoConfig {
	return &MongoConfig{
		URI:        "mongodb://localhost:27017",
		Database:   "infra_agent",
		Collection: "runs",
	}
}

// mongoRun is the internal document shape.
type mongoRun struct {
	ID          string            `bson:"_id"`
	Prompt      string            `bson:"prompt"`
	StartedAt   time.Time         `bson:"started_at"`
	CompletedAt time.Time         `bson:"completed_at"`
	Events      []event.WireEvent `bson:"events"`
	Transcript  string            `bson:"transcript"`
}

// NewMongoStore creates a MongoDB-backed run store.
func NewMongoStore(config *MongoConfig) (*MongoStore, error) {
	if config == nil {
		config = DefaultMongoConfig()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(config.URI))
	if err != nil {
		return nil, fmt.Errorf("store: connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("store: ping MongoDB: %w", err)
	}

	s := &MongoStore{
		client:     client,
		collection: client.Database(config.Database).Collection(config.Collection),
	}
	if err := s.createIndexes(context.Background()); err != nil {
		return nil, fmt.Errorf("store: create indexes: %w", err)
	}
	return s, nil
}

func (s *MongoStore) createIndexes(ctx context.Context) error {
	indexModel := mongo.IndexModel{
		Keys: bson.D{{Key: "completed_at", Value: -1}},
	}
	_, err := s.collection.Indexes().CreateOne(ctx, indexModel)
	return err
}

// SaveRun writes a run, replacing any existing run with the same ID.
func (s *MongoStore) SaveRun(ctx context.Context, run *archive.Run) error {
	if run == nil || run.ID == "" {
		return fmt.Errorf("store: run and run ID are required")
	}

	doc := mongoRun{
		ID:          run.ID,
		Prompt:      run.Prompt,
		StartedAt:   run.StartedAt,
		CompletedAt: run.CompletedAt,
		Events:      run.Events,
		Transcript:  run.Transcript,
	}

	opts := options.Replace().SetUpsert(true)
	if _, err := s.collection.ReplaceOne(ctx, bson.M{"_id": run.ID}, doc, opts); err != nil {
		return fmt.Errorf("store: save run: %w", err)
	}
	return nil
}

// LoadRun returns a run by ID.
func (s *MongoStore) LoadRun(ctx context.Context, id string) (*archive.Run, error) {
	var doc mongoRun
	err := s.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("store: run %s: %w", id, agenterrors.ErrRunNotFound)
		}
		return nil, fmt.Errorf("store: load run: %w", err)
	}

	return &archive.Run{
		ID:          doc.ID,
		Prompt:      doc.Prompt,
		StartedAt:   doc.StartedAt,
		CompletedAt: doc.CompletedAt,
		Events:      doc.Events,
		Transcript:  doc.Transcript,
	}, nil
}

// ListRuns returns all run IDs, newest first.
func (s *MongoStore) ListRuns(ctx context.Context) ([]string, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "completed_at", Value: -1}}).
		SetProjection(bson.M{"_id": 1})
	cursor, err := s.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("store: list runs: %w", err)
	}
	defer cursor.Close(ctx)

	var ids []string
	for cursor.Next(ctx) {
		var doc struct {
			ID string `bson:"_id"`
		}
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("store: decode run id: %w", err)
		}
		ids = append(ids, doc.ID)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate runs: %w", err)
	}
	return ids, nil
}

// Ping checks if the MongoDB connection is alive.
func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Close disconnects from MongoDB.
func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
