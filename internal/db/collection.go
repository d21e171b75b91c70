package db

import (
	"context"
	"time"

	"github.com/rhaen/tracker/internal/models"
)

// SessionCollection defines the interface for tracking-session storage.
// Lookup methods return (nil, nil) when no document matches.
type SessionCollection interface {
	Insert(ctx context.Context, session models.TrackingSession) error
	FindByID(ctx context.Context, id string) (*models.TrackingSession, error)
	FindActiveByUserID(ctx context.Context, userID string) (*models.TrackingSession, error)
	ListByUserID(ctx context.Context, userID string, page, size int) ([]models.TrackingSession, error)

	// UpdateLifecycle persists status, stop time and stop point.
	UpdateLifecycle(ctx context.Context, session models.TrackingSession) error

	// SetStartPointIfUnset records the first-ever point of the session.
	// The filter makes it a no-op on every later call.
	SetStartPointIfUnset(ctx context.Context, sessionID string, p models.Location, now time.Time) error

	// AdvanceLastPoint moves last_point/last_point_at forward only when
	// the incoming device timestamp is newer than the stored one, so
	// overlapping ingest requests cannot roll the pointer backwards.
	AdvanceLastPoint(ctx context.Context, sessionID string, p models.Location, at, now time.Time) (bool, error)

	// FindInactiveSince pages ACTIVE sessions whose last point is older
	// than cutoff.
	FindInactiveSince(ctx context.Context, cutoff time.Time, limit int) ([]models.TrackingSession, error)

	// FindNeverUpdatedSince pages ACTIVE sessions that never received a
	// point and started before cutoff.
	FindNeverUpdatedSince(ctx context.Context, cutoff time.Time, limit int) ([]models.TrackingSession, error)

	// ArchiveFinishedBefore transitions up to limit STOPPED/EXPIRED
	// sessions with stop_time before cutoff to ARCHIVED.
	ArchiveFinishedBefore(ctx context.Context, cutoff time.Time, limit int, now time.Time) (int64, error)

	// FindFinishedBefore returns ids of finished (STOPPED/EXPIRED/ARCHIVED)
	// sessions with stop_time before cutoff.
	FindFinishedBefore(ctx context.Context, cutoff time.Time, limit int) ([]string, error)
}

// PointCollection defines the interface for raw-point storage.
type PointCollection interface {
	// InsertBatch inserts the points, silently skipping any that collide
	// on (session_id, event_id). Returns the number actually inserted.
	InsertBatch(ctx context.Context, points []models.TrackingPoint) (int, error)

	CountByRange(ctx context.Context, sessionID string, from, to *time.Time) (int64, error)

	// FindByRange returns points ordered by device timestamp ascending.
	FindByRange(ctx context.Context, sessionID string, from, to *time.Time) ([]models.TrackingPoint, error)

	// DeleteOlderThan removes up to limit points with device timestamps
	// before cutoff, oldest first. Returns the number deleted.
	DeleteOlderThan(ctx context.Context, cutoff time.Time, limit int) (int64, error)
}

// SummaryCollection defines the interface for session-summary storage.
type SummaryCollection interface {
	Replace(ctx context.Context, summary models.SessionSummary) error
	FindBySessionID(ctx context.Context, sessionID string) (*models.SessionSummary, error)

	// MarkPruned stamps raw_points_pruned_at on the given summaries where
	// it is still unset. Returns the number marked.
	MarkPruned(ctx context.Context, sessionIDs []string, now time.Time) (int64, error)
}

// CounterStore is the atomic-counter contract backing rate limiting.
type CounterStore interface {
	// IncrementAndGet atomically adds delta to the named counter and
	// returns the new total. The expiry is set only when the counter is
	// created, so a window's counter dies shortly after the window does.
	IncrementAndGet(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error)
}

// SnapshotStore holds last-location snapshots with a TTL plus a
// membership index of user ids. Membership entries do not expire; the
// cache heals them lazily when their snapshot is gone.
type SnapshotStore interface {
	Put(ctx context.Context, snap models.LastLocationSnapshot, ttl time.Duration) error
	Get(ctx context.Context, userID string) (*models.LastLocationSnapshot, error)
	Members(ctx context.Context) ([]string, error)
	FetchMembers(ctx context.Context, userIDs []string) (map[string]models.LastLocationSnapshot, error)
	RemoveMembers(ctx context.Context, userIDs []string) error
	Remove(ctx context.Context, userID string) error
}
