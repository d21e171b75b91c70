package models

import "time"

// SessionStatus is the lifecycle state of a tracking session.
type SessionStatus string

const (
	StatusActive   SessionStatus = "ACTIVE"
	StatusStopped  SessionStatus = "STOPPED"
	StatusExpired  SessionStatus = "EXPIRED"
	StatusArchived SessionStatus = "ARCHIVED"
	// StatusAborted is a terminal state reachable only through admin tooling.
	StatusAborted SessionStatus = "ABORTED"
)

// Terminal reports whether the status permits no further transitions
// except retention archiving.
func (s SessionStatus) Terminal() bool {
	return s != StatusActive
}

// TrackingSession is one device-tracking run owned by a single user.
// At most one session per user may be ACTIVE at any time.
type TrackingSession struct {
	ID          string        `bson:"_id" json:"id"`
	UserID      string        `bson:"user_id" json:"user_id"`
	Status      SessionStatus `bson:"status" json:"status"`
	StartTime   time.Time     `bson:"start_time" json:"start_time"`
	StopTime    *time.Time    `bson:"stop_time,omitempty" json:"stop_time,omitempty"`
	StartPoint  *Location     `bson:"start_point,omitempty" json:"start_point,omitempty"`
	StopPoint   *Location     `bson:"stop_point,omitempty" json:"stop_point,omitempty"`
	LastPoint   *Location     `bson:"last_point,omitempty" json:"last_point,omitempty"`
	LastPointAt *time.Time    `bson:"last_point_at,omitempty" json:"last_point_at,omitempty"`
	UpdatedAt   time.Time     `bson:"updated_at" json:"updated_at"`
}
