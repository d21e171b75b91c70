package db

import (
	"context"
	"errors"
	"time"

	"github.com/rhaen/tracker/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoPointCollection implements PointCollection for MongoDB.
type MongoPointCollection struct {
	Collection *mongo.Collection
}

// InsertBatch inserts the points unordered so duplicate-key collisions on
// (session_id, event_id) skip the offending document instead of aborting
// the batch. Duplicate-key errors are swallowed; everything else is
// surfaced.
func (c *MongoPointCollection) InsertBatch(ctx context.Context, points []models.TrackingPoint) (int, error) {
	if len(points) == 0 {
		return 0, nil
	}

	docs := make([]interface{}, 0, len(points))
	for _, p := range points {
		docs = append(docs, p)
	}

	res, err := c.Collection.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
	inserted := 0
	if res != nil {
		inserted = len(res.InsertedIDs)
	}
	if err != nil {
		var bwe mongo.BulkWriteException
		if errors.As(err, &bwe) && onlyDuplicateKeys(bwe) {
			return inserted, nil
		}
		return inserted, err
	}
	return inserted, nil
}

func onlyDuplicateKeys(bwe mongo.BulkWriteException) bool {
	if len(bwe.WriteErrors) == 0 {
		return false
	}
	for _, we := range bwe.WriteErrors {
		if !mongo.IsDuplicateKeyError(we.WriteError) {
			return false
		}
	}
	return true
}

// CountByRange counts a session's points inside the optional window.
func (c *MongoPointCollection) CountByRange(ctx context.Context, sessionID string, from, to *time.Time) (int64, error) {
	return c.Collection.CountDocuments(ctx, rangeFilter(sessionID, from, to))
}

// FindByRange returns a session's points inside the optional window,
// ordered by device timestamp ascending.
func (c *MongoPointCollection) FindByRange(ctx context.Context, sessionID string, from, to *time.Time) ([]models.TrackingPoint, error) {
	opts := options.Find().SetSort(bson.D{{Key: "device_timestamp", Value: 1}})
	cursor, err := c.Collection.Find(ctx, rangeFilter(sessionID, from, to), opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var points []models.TrackingPoint
	if err := cursor.All(ctx, &points); err != nil {
		return nil, err
	}
	return points, nil
}

func rangeFilter(sessionID string, from, to *time.Time) bson.M {
	filter := bson.M{"session_id": sessionID}
	window := bson.M{}
	if from != nil {
		window["$gte"] = *from
	}
	if to != nil {
		window["$lte"] = *to
	}
	if len(window) > 0 {
		filter["device_timestamp"] = window
	}
	return filter
}

// DeleteOlderThan deletes one bounded batch of points older than cutoff,
// oldest first, keeping individual delete operations short.
func (c *MongoPointCollection) DeleteOlderThan(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "device_timestamp", Value: 1}}).
		SetLimit(int64(limit)).
		SetProjection(bson.M{"_id": 1})

	cursor, err := c.Collection.Find(ctx, bson.M{"device_timestamp": bson.M{"$lt": cutoff}}, opts)
	if err != nil {
		return 0, err
	}
	defer cursor.Close(ctx)

	var docs []struct {
		ID interface{} `bson:"_id"`
	}
	if err := cursor.All(ctx, &docs); err != nil {
		return 0, err
	}
	if len(docs) == 0 {
		return 0, nil
	}

	ids := make(bson.A, 0, len(docs))
	for _, d := range docs {
		ids = append(ids, d.ID)
	}
	res, err := c.Collection.DeleteMany(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}
