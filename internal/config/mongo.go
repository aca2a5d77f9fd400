package config

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson" // Use bson for index keys
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func ConnectMongoDB(cfg *Config) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	// Test connection
	err = client.Ping(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return client, nil
}

// EnsureIndexes creates the natural-key indexes the import engine and the
// user library rely on. Safe to run repeatedly.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	catalog := []struct {
		collection string
		idField    string
		catField   string
		parent     string
	}{
		{"classes", "classID", "classCategory", ""},
		{"subjects", "subjectID", "subjectCategory", "classID"},
		{"topics", "topicID", "topicCategory", "subjectID"},
		{"lessons", "lessonID", "lessonCategory", "topicID"},
		{"chunks", "chunkID", "chunkCategory", "lessonID"},
	}

	for _, c := range catalog {
		// Classes are shared across categories.
		natural := bson.D{{Key: c.idField, Value: 1}}
		if c.parent != "" {
			natural = append(natural, bson.E{Key: c.catField, Value: 1})
		}
		indexes := []mongo.IndexModel{
			{
				Keys:    natural,
				Options: options.Index().SetUnique(true),
			},
			{
				Keys: bson.D{{Key: "status", Value: 1}, {Key: c.catField, Value: 1}},
			},
		}
		if c.parent != "" {
			indexes = append(indexes, mongo.IndexModel{
				Keys: bson.D{{Key: c.parent, Value: 1}, {Key: c.catField, Value: 1}},
			})
		}
		if _, err := db.Collection(c.collection).Indexes().CreateMany(ctx, indexes); err != nil {
			return fmt.Errorf("create indexes on %s: %w", c.collection, err)
		}
	}

	// Keywords collection indexes
	keywordIndexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "keywordID", Value: 1}, {Key: "chunkID", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "chunkID", Value: 1}},
		},
	}
	if _, err := db.Collection("keywords").Indexes().CreateMany(ctx, keywordIndexes); err != nil {
		return fmt.Errorf("create indexes on keywords: %w", err)
	}

	// Saved chunks: one entry per user, chunk and category
	savedIndexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "username", Value: 1}, {Key: "chunkID", Value: 1}, {Key: "category", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "username", Value: 1}, {Key: "createdAt", Value: -1}},
		},
	}
	if _, err := db.Collection("user_saved_chunks").Indexes().CreateMany(ctx, savedIndexes); err != nil {
		return fmt.Errorf("create indexes on user_saved_chunks: %w", err)
	}

	// Admin audit log
	auditIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "actor", Value: 1}, {Key: "timestamp", Value: 1}}},
		{Keys: bson.D{{Key: "action", Value: 1}}},
		{Keys: bson.D{{Key: "timestamp", Value: -1}}},
	}
	if _, err := db.Collection("audit_logs").Indexes().CreateMany(ctx, auditIndexes); err != nil {
		return fmt.Errorf("create indexes on audit_logs: %w", err)
	}

	return nil
}
