package db

import (
	"context"
	"time"

	"github.com/rhaen/tracker/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoCounterStore implements CounterStore on a TTL-indexed collection.
// The $inc upsert is a single atomic document operation, so concurrent
// ingest requests from the same user never double-count.
type MongoCounterStore struct {
	Collection *mongo.Collection
}

type counterDoc struct {
	Count int64 `bson:"count"`
}

// IncrementAndGet atomically adds delta to the counter and returns the
// new total. The TTL timestamp is written only on first creation, so it
// marks the end of the window regardless of later increments.
func (s *MongoCounterStore) IncrementAndGet(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	filter := bson.M{"_id": key}
	update := bson.M{
		"$inc":         bson.M{"count": delta},
		"$setOnInsert": bson.M{"expires_at": time.Now().Add(ttl)},
	}
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var doc counterDoc
	if err := s.Collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc); err != nil {
		return 0, err
	}
	return doc.Count, nil
}

// MongoSnapshotStore implements SnapshotStore across two collections:
// TTL-indexed snapshot documents and a plain membership collection.
type MongoSnapshotStore struct {
	Snapshots *mongo.Collection
	Users     *mongo.Collection
}

type snapshotDoc struct {
	models.LastLocationSnapshot `bson:",inline"`
	ExpiresAt                   time.Time `bson:"expires_at"`
}

// Put upserts the snapshot with a fresh TTL and registers the user in
// the membership index.
func (s *MongoSnapshotStore) Put(ctx context.Context, snap models.LastLocationSnapshot, ttl time.Duration) error {
	doc := snapshotDoc{LastLocationSnapshot: snap, ExpiresAt: time.Now().Add(ttl)}
	opts := options.Replace().SetUpsert(true)
	if _, err := s.Snapshots.ReplaceOne(ctx, bson.M{"_id": snap.UserID}, doc, opts); err != nil {
		return err
	}
	_, err := s.Users.UpdateOne(ctx,
		bson.M{"_id": snap.UserID},
		bson.M{"$set": bson.M{"_id": snap.UserID}},
		options.Update().SetUpsert(true))
	return err
}

// Get returns the user's snapshot, treating TTL-lapsed documents the TTL
// monitor has not reaped yet as absent.
func (s *MongoSnapshotStore) Get(ctx context.Context, userID string) (*models.LastLocationSnapshot, error) {
	filter := bson.M{"_id": userID, "expires_at": bson.M{"$gt": time.Now()}}
	var doc snapshotDoc
	err := s.Snapshots.FindOne(ctx, filter).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &doc.LastLocationSnapshot, nil
}

// Members lists all user ids in the membership index.
func (s *MongoSnapshotStore) Members(ctx context.Context) ([]string, error) {
	cursor, err := s.Users.Find(ctx, bson.M{})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []struct {
		ID string `bson:"_id"`
	}
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(docs))
	for _, d := range docs {
		ids = append(ids, d.ID)
	}
	return ids, nil
}

// FetchMembers bulk-fetches live snapshots for the given user ids.
func (s *MongoSnapshotStore) FetchMembers(ctx context.Context, userIDs []string) (map[string]models.LastLocationSnapshot, error) {
	if len(userIDs) == 0 {
		return map[string]models.LastLocationSnapshot{}, nil
	}
	ids := make(bson.A, 0, len(userIDs))
	for _, id := range userIDs {
		ids = append(ids, id)
	}
	filter := bson.M{"_id": bson.M{"$in": ids}, "expires_at": bson.M{"$gt": time.Now()}}
	cursor, err := s.Snapshots.Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []snapshotDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make(map[string]models.LastLocationSnapshot, len(docs))
	for _, d := range docs {
		out[d.UserID] = d.LastLocationSnapshot
	}
	return out, nil
}

// RemoveMembers drops stale entries from the membership index.
func (s *MongoSnapshotStore) RemoveMembers(ctx context.Context, userIDs []string) error {
	if len(userIDs) == 0 {
		return nil
	}
	ids := make(bson.A, 0, len(userIDs))
	for _, id := range userIDs {
		ids = append(ids, id)
	}
	_, err := s.Users.DeleteMany(ctx, bson.M{"_id": bson.M{"$in": ids}})
	return err
}

// Remove evicts a user's snapshot and membership entry.
func (s *MongoSnapshotStore) Remove(ctx context.Context, userID string) error {
	if _, err := s.Snapshots.DeleteOne(ctx, bson.M{"_id": userID}); err != nil {
		return err
	}
	_, err := s.Users.DeleteOne(ctx, bson.M{"_id": userID})
	return err
}
