package storage

import (
	"context"
	"fmt"
	"time"

	"watchtower/core"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// AuditCursor interface for mocking
type AuditCursor interface {
	All(ctx context.Context, results interface{}) error
	Close(ctx context.Context) error
}

// AuditCollection is the subset of *mongo.Collection the audit archive uses
type AuditCollection interface {
	InsertOne(ctx context.Context, document interface{}, opts ...*options.InsertOneOptions) (*mongo.InsertOneResult, error)
	Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (AuditCursor, error)
}

// mongoAuditCollection adapts *mongo.Collection to AuditCollection
type mongoAuditCollection struct {
	*mongo.Collection
}

func (m *mongoAuditCollection) Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (AuditCursor, error) {
	cursor, err := m.Collection.Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	return cursor, nil
}

// MongoDB holds the MongoDB client and database
type MongoDB struct {
	Client   *mongo.Client
	Database *mongo.Database
}

// NewMongoDB creates a new MongoDB connection
func NewMongoDB(uri, dbName string, maxPoolSize uint64, logger *zap.SugaredLogger) (*MongoDB, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	clientOptions := options.Client().ApplyURI(uri).SetMaxPoolSize(maxPoolSize)
	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	logger.Info("Connected to MongoDB successfully")
	return &MongoDB{Client: client, Database: client.Database(dbName)}, nil
}

// Close disconnects the client
func (m *MongoDB) Close(ctx context.Context) error {
	return m.Client.Disconnect(ctx)
}

// MongoAuditStore archives transition records in a MongoDB collection
type MongoAuditStore struct {
	collection AuditCollection
	logger     *zap.SugaredLogger
}

// NewMongoAuditStore creates the store on the "audit_log" collection and
// ensures its lookup index
func NewMongoAuditStore(ctx context.Context, db *MongoDB, logger *zap.SugaredLogger) (*MongoAuditStore, error) {
	coll := db.Database.Collection("audit_log")
	_, err := coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "entity_id", Value: 1}, {Key: "at", Value: 1}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create audit index: %w", err)
	}
	return newMongoAuditStore(&mongoAuditCollection{Collection: coll}, logger), nil
}

func newMongoAuditStore(coll AuditCollection, logger *zap.SugaredLogger) *MongoAuditStore {
	return &MongoAuditStore{collection: coll, logger: logger}
}

// RecordAudit inserts one record
func (s *MongoAuditStore) RecordAudit(ctx context.Context, rec core.AuditRecord) error {
	rec.At = rec.At.UTC()
	if _, err := s.collection.InsertOne(ctx, rec); err != nil {
		return core.NewStorageError("insert audit record", err)
	}
	return nil
}

// ListAudit returns records for entityID oldest first, or the latest
// records overall when entityID is empty
func (s *MongoAuditStore) ListAudit(ctx context.Context, entityID string, limit int) ([]core.AuditRecord, error) {
	if limit <= 0 || limit > core.MaxPageLimit {
		limit = core.DefaultPageLimit
	}
	filter := bson.M{}
	sortDir := -1
	if entityID != "" {
		filter["entity_id"] = entityID
		sortDir = 1
	}
	opts := options.Find().SetSort(bson.D{{Key: "at", Value: sortDir}}).SetLimit(int64(limit))

	cursor, err := s.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, core.NewStorageError("list audit records", err)
	}
	defer cursor.Close(ctx)

	records := []core.AuditRecord{}
	if err := cursor.All(ctx, &records); err != nil {
		return nil, core.NewStorageError("list audit records", err)
	}
	return records, nil
}
