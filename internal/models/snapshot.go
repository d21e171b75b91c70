package models

import "time"

// LastLocationSnapshot is the ephemeral, cache-only latest position of a
// user. One snapshot per user, overwritten on every ingest/stop/expire.
// Active is cache-local and distinct from the session status: a STOPPED or
// EXPIRED session still writes a final, inactive snapshot.
type LastLocationSnapshot struct {
	UserID     string        `bson:"_id" json:"user_id"`
	SessionID  string        `bson:"session_id" json:"session_id"`
	Status     SessionStatus `bson:"status" json:"status"`
	Active     bool          `bson:"active" json:"active"`
	Lat        float64       `bson:"lat" json:"lat"`
	Lon        float64       `bson:"lon" json:"lon"`
	Ts         *time.Time    `bson:"ts,omitempty" json:"ts,omitempty"`
	AccuracyM  *float64      `bson:"accuracy_m,omitempty" json:"accuracy_m,omitempty"`
	SpeedMps   *float64      `bson:"speed_mps,omitempty" json:"speed_mps,omitempty"`
	HeadingDeg *float64      `bson:"heading_deg,omitempty" json:"heading_deg,omitempty"`
}

// LastLocationEvent is a snapshot augmented with the computed stale flag,
// as pushed to live subscribers and returned by the dashboard listing.
type LastLocationEvent struct {
	LastLocationSnapshot `bson:",inline"`
	Stale                bool `json:"stale"`
}
