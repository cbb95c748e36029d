package database

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func ConnectMongo(uri string, dbName string) (*mongo.Database, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	return client.Database(dbName), nil
}

// EnsureIndexes creates the indexes the dispatch queries rely on.
// Safe to call from every service at startup; Mongo treats an existing
// identical index as a no-op.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	// 2dsphere on user locations backs the $centerSphere candidate match;
	// the one on emergencies backs the $near listing filter.
	userIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "location", Value: "2dsphere"}}},
		{
			Keys:    bson.D{{Key: "email", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	}
	if _, err := db.Collection("users").Indexes().CreateMany(ctx, userIndexes); err != nil {
		return fmt.Errorf("creating user indexes: %w", err)
	}

	volunteerIndex := mongo.IndexModel{
		Keys:    bson.D{{Key: "user_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	if _, err := db.Collection("volunteers").Indexes().CreateOne(ctx, volunteerIndex); err != nil {
		return fmt.Errorf("creating volunteer index: %w", err)
	}

	emergencyIndex := mongo.IndexModel{
		Keys: bson.D{{Key: "location", Value: "2dsphere"}},
	}
	if _, err := db.Collection("emergencies").Indexes().CreateOne(ctx, emergencyIndex); err != nil {
		return fmt.Errorf("creating emergency index: %w", err)
	}

	return nil
}
