package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/satriahrh/omnichat/server/domain/repositories"
)

const (
	defaultMongoURI        = "mongodb://localhost:27017"
	defaultMongoDatabase   = "omnichat"
	defaultMongoCollection = "preferences"
)

// MongoConfig holds the connection settings
type MongoConfig struct {
	URI      string
	Database string
}

// MongoStore keeps one document per key: {_id: key, value, updated_at}
type MongoStore struct {
	client     *mongo.Client
	collection *mongo.Collection
	logger     *zap.Logger
}

var _ repositories.KeyValueStore = (*MongoStore)(nil)

type keyValueDocument struct {
	Key       string    `bson:"_id"`
	Value     string    `bson:"value"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// NewMongoStore connects to MongoDB and verifies the connection
func NewMongoStore(cfg MongoConfig, logger *zap.Logger) (*MongoStore, error) {
	if cfg.URI == "" {
		cfg.URI = defaultMongoURI
		logger.Info("Using default MongoDB URI", zap.String("uri", cfg.URI))
	}
	if cfg.Database == "" {
		cfg.Database = defaultMongoDatabase
		logger.Info("Using default MongoDB database", zap.String("database", cfg.Database))
	}

	clientOptions := options.Client().
		ApplyURI(cfg.URI).
		SetMaxPoolSize(10).
		SetMinPoolSize(1).
		SetMaxConnIdleTime(30 * time.Minute).
		SetServerSelectionTimeout(5 * time.Second).
		SetConnectTimeout(10 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	logger.Info("Successfully connected to MongoDB", zap.String("database", cfg.Database))

	return newMongoStore(client, client.Database(cfg.Database), logger), nil
}

func newMongoStore(client *mongo.Client, db *mongo.Database, logger *zap.Logger) *MongoStore {
	return &MongoStore{
		client:     client,
		collection: db.Collection(defaultMongoCollection),
		logger:     logger,
	}
}

func (m *MongoStore) Get(ctx context.Context, key string) (string, bool, error) {
	if key == "" {
		return "", false, ErrEmptyKey
	}

	var doc keyValueDocument
	err := m.collection.FindOne(ctx, bson.M{"_id": key}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get %s: %w", key, err)
	}
	return doc.Value, true, nil
}

func (m *MongoStore) Set(ctx context.Context, key, value string) error {
	if key == "" {
		return ErrEmptyKey
	}

	update := bson.M{"$set": bson.M{"value": value, "updated_at": time.Now()}}
	_, err := m.collection.UpdateOne(ctx, bson.M{"_id": key}, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}

func (m *MongoStore) Remove(ctx context.Context, key string) error {
	if key == "" {
		return ErrEmptyKey
	}

	if _, err := m.collection.DeleteOne(ctx, bson.M{"_id": key}); err != nil {
		return fmt.Errorf("failed to remove %s: %w", key, err)
	}
	return nil
}

// Close closes the MongoDB connection
func (m *MongoStore) Close(ctx context.Context) error {
	if err := m.client.Disconnect(ctx); err != nil {
		m.logger.Error("Failed to disconnect from MongoDB", zap.Error(err))
		return err
	}
	m.logger.Info("Disconnected from MongoDB")
	return nil
}
