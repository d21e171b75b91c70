package db

import (
	"context"
	"time"

	"github.com/rhaen/tracker/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoSummaryCollection implements SummaryCollection for MongoDB.
type MongoSummaryCollection struct {
	Collection *mongo.Collection
}

// Replace upserts the summary, fully overwriting any previous document.
func (c *MongoSummaryCollection) Replace(ctx context.Context, summary models.SessionSummary) error {
	opts := options.Replace().SetUpsert(true)
	_, err := c.Collection.ReplaceOne(ctx, bson.M{"_id": summary.SessionID}, summary, opts)
	return err
}

// FindBySessionID finds a summary by session id, (nil, nil) when absent.
func (c *MongoSummaryCollection) FindBySessionID(ctx context.Context, sessionID string) (*models.SessionSummary, error) {
	var summary models.SessionSummary
	err := c.Collection.FindOne(ctx, bson.M{"_id": sessionID}).Decode(&summary)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &summary, nil
}

// MarkPruned stamps raw_points_pruned_at where it is still unset.
func (c *MongoSummaryCollection) MarkPruned(ctx context.Context, sessionIDs []string, now time.Time) (int64, error) {
	if len(sessionIDs) == 0 {
		return 0, nil
	}
	ids := make(bson.A, 0, len(sessionIDs))
	for _, id := range sessionIDs {
		ids = append(ids, id)
	}
	filter := bson.M{
		"_id":                  bson.M{"$in": ids},
		"raw_points_pruned_at": bson.M{"$exists": false},
	}
	update := bson.M{"$set": bson.M{"raw_points_pruned_at": now, "updated_at": now}}
	res, err := c.Collection.UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}
