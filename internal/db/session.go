package db

import (
	"context"
	"time"

	"github.com/rhaen/tracker/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoSessionCollection implements SessionCollection for MongoDB.
type MongoSessionCollection struct {
	Collection *mongo.Collection
}

// Insert inserts a new tracking session.
func (c *MongoSessionCollection) Insert(ctx context.Context, session models.TrackingSession) error {
	_, err := c.Collection.InsertOne(ctx, session)
	return err
}

// FindByID finds a session by its id.
func (c *MongoSessionCollection) FindByID(ctx context.Context, id string) (*models.TrackingSession, error) {
	var session models.TrackingSession
	err := c.Collection.FindOne(ctx, bson.M{"_id": id}).Decode(&session)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// FindActiveByUserID finds the user's ACTIVE session, if any.
func (c *MongoSessionCollection) FindActiveByUserID(ctx context.Context, userID string) (*models.TrackingSession, error) {
	var session models.TrackingSession
	filter := bson.M{"user_id": userID, "status": models.StatusActive}
	err := c.Collection.FindOne(ctx, filter).Decode(&session)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// ListByUserID returns the user's sessions ordered by start time descending.
func (c *MongoSessionCollection) ListByUserID(ctx context.Context, userID string, page, size int) ([]models.TrackingSession, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "start_time", Value: -1}}).
		SetSkip(int64(page * size)).
		SetLimit(int64(size))

	cursor, err := c.Collection.Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var sessions []models.TrackingSession
	if err := cursor.All(ctx, &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

// UpdateLifecycle persists the lifecycle fields of the session.
func (c *MongoSessionCollection) UpdateLifecycle(ctx context.Context, session models.TrackingSession) error {
	update := bson.M{"$set": bson.M{
		"status":     session.Status,
		"stop_time":  session.StopTime,
		"stop_point": session.StopPoint,
		"updated_at": session.UpdatedAt,
	}}
	_, err := c.Collection.UpdateOne(ctx, bson.M{"_id": session.ID}, update)
	return err
}

// SetStartPointIfUnset sets start_point only when it is still missing.
func (c *MongoSessionCollection) SetStartPointIfUnset(ctx context.Context, sessionID string, p models.Location, now time.Time) error {
	filter := bson.M{"_id": sessionID, "start_point": bson.M{"$exists": false}}
	update := bson.M{"$set": bson.M{"start_point": p, "updated_at": now}}
	_, err := c.Collection.UpdateOne(ctx, filter, update)
	return err
}

// AdvanceLastPoint advances last_point/last_point_at with a monotonic
// compare-and-set: a stored timestamp newer than `at` leaves the row
// untouched, which resolves overlapping ingest requests by event time.
func (c *MongoSessionCollection) AdvanceLastPoint(ctx context.Context, sessionID string, p models.Location, at, now time.Time) (bool, error) {
	filter := bson.M{
		"_id": sessionID,
		"$or": bson.A{
			bson.M{"last_point_at": bson.M{"$exists": false}},
			bson.M{"last_point_at": bson.M{"$lt": at}},
		},
	}
	update := bson.M{"$set": bson.M{
		"last_point":    p,
		"last_point_at": at,
		"updated_at":    now,
	}}
	res, err := c.Collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, err
	}
	return res.ModifiedCount > 0, nil
}

// FindInactiveSince pages ACTIVE sessions with a last point before cutoff.
func (c *MongoSessionCollection) FindInactiveSince(ctx context.Context, cutoff time.Time, limit int) ([]models.TrackingSession, error) {
	filter := bson.M{
		"status":        models.StatusActive,
		"last_point_at": bson.M{"$lt": cutoff},
	}
	return c.findPage(ctx, filter, limit)
}

// FindNeverUpdatedSince pages ACTIVE sessions without any point that
// started before cutoff.
func (c *MongoSessionCollection) FindNeverUpdatedSince(ctx context.Context, cutoff time.Time, limit int) ([]models.TrackingSession, error) {
	filter := bson.M{
		"status":        models.StatusActive,
		"last_point_at": bson.M{"$exists": false},
		"start_time":    bson.M{"$lt": cutoff},
	}
	return c.findPage(ctx, filter, limit)
}

func (c *MongoSessionCollection) findPage(ctx context.Context, filter bson.M, limit int) ([]models.TrackingSession, error) {
	cursor, err := c.Collection.Find(ctx, filter, options.Find().SetLimit(int64(limit)))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var sessions []models.TrackingSession
	if err := cursor.All(ctx, &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

// ArchiveFinishedBefore moves up to limit finished sessions to ARCHIVED.
// Bounded in two steps (id page, then update by id) because UpdateMany
// has no limit of its own.
func (c *MongoSessionCollection) ArchiveFinishedBefore(ctx context.Context, cutoff time.Time, limit int, now time.Time) (int64, error) {
	ids, err := c.pageIDs(ctx, bson.M{
		"status":    bson.M{"$in": bson.A{models.StatusStopped, models.StatusExpired}},
		"stop_time": bson.M{"$ne": nil, "$lt": cutoff},
	}, limit)
	if err != nil || len(ids) == 0 {
		return 0, err
	}

	update := bson.M{"$set": bson.M{"status": models.StatusArchived, "updated_at": now}}
	res, err := c.Collection.UpdateMany(ctx, bson.M{"_id": bson.M{"$in": ids}}, update)
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

// FindFinishedBefore returns ids of finished sessions stopped before cutoff.
func (c *MongoSessionCollection) FindFinishedBefore(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	ids, err := c.pageIDs(ctx, bson.M{
		"status":    bson.M{"$in": bson.A{models.StatusStopped, models.StatusExpired, models.StatusArchived}},
		"stop_time": bson.M{"$ne": nil, "$lt": cutoff},
	}, limit)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if s, ok := id.(string); ok {
			out = append(out, s)
		}
	}
	return out, nil
}

func (c *MongoSessionCollection) pageIDs(ctx context.Context, filter bson.M, limit int) (bson.A, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "stop_time", Value: 1}}).
		SetLimit(int64(limit)).
		SetProjection(bson.M{"_id": 1})

	cursor, err := c.Collection.Find(ctx, filter, opts)
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
	ids := make(bson.A, 0, len(docs))
	for _, d := range docs {
		ids = append(ids, d.ID)
	}
	return ids, nil
}
