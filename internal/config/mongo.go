package config

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MaterialsCollection holds one document per uploaded material
const MaterialsCollection = "materials"

func ConnectMongoDB(cfg *Config) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	// Test connection
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	if err := EnsureIndexes(ctx, client.Database(cfg.DBName)); err != nil {
		return nil, fmt.Errorf("failed to create indexes: %w", err)
	}

	return client, nil
}

// MaterialIndexes are the indexes search and the reprocess sweep depend on.
// MongoDB allows a single text index per collection.
func MaterialIndexes() []mongo.IndexModel {
	return []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "title", Value: "text"},
				{Key: "description", Value: "text"},
				{Key: "tags", Value: "text"},
				{Key: "text_content", Value: "text"},
			},
			Options: options.Index().
				SetName("materials_text").
				SetWeights(bson.D{
					{Key: "title", Value: 10},
					{Key: "tags", Value: 5},
					{Key: "description", Value: 3},
					{Key: "text_content", Value: 1},
				}).
				SetDefaultLanguage("portuguese"),
		},
		{Keys: bson.D{{Key: "organization_id", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "processing_status", Value: 1}, {Key: "created_at", Value: 1}}},
		{Keys: bson.D{{Key: "category", Value: 1}}},
		{Keys: bson.D{{Key: "tags", Value: 1}}},
		{Keys: bson.D{{Key: "is_public", Value: 1}}},
	}
}

// EnsureIndexes creates the materials indexes; existing ones are left alone
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	_, err := db.Collection(MaterialsCollection).Indexes().CreateMany(ctx, MaterialIndexes())
	return err
}
