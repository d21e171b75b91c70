package models

import "time"

// SessionSummary is the durable post-hoc trip summary, 1:1 with a session.
// Every rebuild fully replaces all fields; it is never partially updated.
type SessionSummary struct {
	SessionID          string       `bson:"_id" json:"session_id"`
	PointsCount        int          `bson:"points_count" json:"points_count"`
	DistanceM          float64      `bson:"distance_m" json:"distance_m"`
	DurationS          int64        `bson:"duration_s" json:"duration_s"`
	AvgSpeedMps        float64      `bson:"avg_speed_mps" json:"avg_speed_mps"`
	MaxSpeedMps        float64      `bson:"max_speed_mps" json:"max_speed_mps"`
	StartPoint         *Location    `bson:"start_point,omitempty" json:"start_point,omitempty"`
	EndPoint           *Location    `bson:"end_point,omitempty" json:"end_point,omitempty"`
	BBox               *BoundingBox `bson:"bbox,omitempty" json:"bbox,omitempty"`
	Polyline           string       `bson:"polyline" json:"polyline"`
	SimplifiedPolyline string       `bson:"simplified_polyline" json:"simplified_polyline"`
	RawPointsPrunedAt  *time.Time   `bson:"raw_points_pruned_at,omitempty" json:"raw_points_pruned_at,omitempty"`
	UpdatedAt          time.Time    `bson:"updated_at" json:"updated_at"`
}
