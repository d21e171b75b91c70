package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// TrackingPoint is one raw GPS fix. The (session_id, event_id) pair is
// unique: event_id is the client-supplied idempotency key, so network
// retries never produce a second stored point.
type TrackingPoint struct {
	ID              primitive.ObjectID `bson:"_id,omitempty" json:"-"`
	SessionID       string             `bson:"session_id" json:"session_id"`
	EventID         string             `bson:"event_id" json:"event_id"`
	DeviceTimestamp time.Time          `bson:"device_timestamp" json:"device_timestamp"`
	ReceivedAt      time.Time          `bson:"received_at" json:"received_at"`
	Location        Location           `bson:"location" json:"location"`
	AccuracyM       *float64           `bson:"accuracy_m,omitempty" json:"accuracy_m,omitempty"`
	SpeedMps        *float64           `bson:"speed_mps,omitempty" json:"speed_mps,omitempty"`
	HeadingDeg      *float64           `bson:"heading_deg,omitempty" json:"heading_deg,omitempty"`
	Provider        string             `bson:"provider,omitempty" json:"provider,omitempty"`
	Mock            bool               `bson:"is_mock" json:"is_mock"`
}
