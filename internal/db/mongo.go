package db

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Collection names used by the tracking engine.
const (
	CollSessions      = "tracking_sessions"
	CollPoints        = "tracking_points"
	CollSummaries     = "session_summaries"
	CollSnapshots     = "last_locations"
	CollSnapshotUsers = "last_location_users"
	CollCounters      = "rate_counters"
	CollUsers         = "users"
)

// ConnectMongo connects to MongoDB at the given URI and verifies the
// connection with a ping.
func ConnectMongo(uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(context.Background(), options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo.Connect error: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("mongo.Ping error: %w", err)
	}
	return client, nil
}

// EnsureIndexes creates the indexes the engine relies on: the
// (session_id, event_id) uniqueness that makes ingestion idempotent,
// range-query indexes, and the TTL indexes for the ephemeral stores.
func EnsureIndexes(ctx context.Context, database *mongo.Database) error {
	points := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "session_id", Value: 1}, {Key: "event_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "session_id", Value: 1}, {Key: "device_timestamp", Value: 1}}},
		{Keys: bson.D{{Key: "device_timestamp", Value: 1}}},
	}
	if _, err := database.Collection(CollPoints).Indexes().CreateMany(ctx, points); err != nil {
		return fmt.Errorf("point indexes: %w", err)
	}

	sessions := []mongo.IndexModel{
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "start_time", Value: -1}}},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "last_point_at", Value: 1}}},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "stop_time", Value: 1}}},
	}
	if _, err := database.Collection(CollSessions).Indexes().CreateMany(ctx, sessions); err != nil {
		return fmt.Errorf("session indexes: %w", err)
	}

	ttl := mongo.IndexModel{
		Keys:    bson.D{{Key: "expires_at", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(0),
	}
	if _, err := database.Collection(CollSnapshots).Indexes().CreateOne(ctx, ttl); err != nil {
		return fmt.Errorf("snapshot ttl index: %w", err)
	}
	if _, err := database.Collection(CollCounters).Indexes().CreateOne(ctx, ttl); err != nil {
		return fmt.Errorf("counter ttl index: %w", err)
	}

	users := mongo.IndexModel{
		Keys:    bson.D{{Key: "username", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	if _, err := database.Collection(CollUsers).Indexes().CreateOne(ctx, users); err != nil {
		return fmt.Errorf("user index: %w", err)
	}
	return nil
}
