package tracking

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rhaen/tracker/internal/db"
	"github.com/rhaen/tracker/internal/models"
	"github.com/rhaen/tracker/internal/realtime"
	log "github.com/sirupsen/logrus"
)

// Lifecycle owns session state transitions. The state machine is one
// way: ACTIVE -> STOPPED or EXPIRED, then -> ARCHIVED by retention.
type Lifecycle struct {
	sessions db.SessionCollection
	summary  *SummaryBuilder
	cache    *realtime.Cache
	now      func() time.Time
}

// NewLifecycle creates the lifecycle service.
func NewLifecycle(sessions db.SessionCollection, summary *SummaryBuilder, cache *realtime.Cache) *Lifecycle {
	return &Lifecycle{
		sessions: sessions,
		summary:  summary,
		cache:    cache,
		now:      time.Now,
	}
}

// StopRequest carries the optional stop time and coordinates a client
// may attach when ending a session.
type StopRequest struct {
	StopTime *time.Time
	StopLat  *float64
	StopLon  *float64
}

// Start opens a new ACTIVE session for the user. A user may hold at
// most one ACTIVE session; a second start yields ErrConflict.
func (l *Lifecycle) Start(ctx context.Context, userID string) (*models.TrackingSession, error) {
	existing, err := l.sessions.FindActiveByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: user already has ACTIVE session %s", ErrConflict, existing.ID)
	}

	now := l.now()
	session := models.TrackingSession{
		ID:        uuid.NewString(),
		UserID:    userID,
		Status:    models.StatusActive,
		StartTime: now,
		UpdatedAt: now,
	}
	if err := l.sessions.Insert(ctx, session); err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{"session_id": session.ID, "user_id": userID}).
		Info("session started")
	return &session, nil
}

// Stop ends an ACTIVE session owned by the user. The stop point is the
// request coordinates when given, else the already-stored stop point,
// else the last known point. The summary is rebuilt only after the
// session row holds its final state.
func (l *Lifecycle) Stop(ctx context.Context, sessionID, userID string, req StopRequest) error {
	session, err := l.requireOwned(ctx, sessionID, userID)
	if err != nil {
		return err
	}
	if session.Status != models.StatusActive {
		return fmt.Errorf("%w: session is not ACTIVE: %s", ErrBadRequest, session.Status)
	}

	now := l.now()
	stopTime := now
	if req.StopTime != nil {
		stopTime = *req.StopTime
	}

	if req.StopLat != nil && req.StopLon != nil {
		session.StopPoint = &models.Location{Lat: *req.StopLat, Lon: *req.StopLon}
	} else if session.StopPoint == nil && session.LastPoint != nil {
		session.StopPoint = session.LastPoint
	}

	session.Status = models.StatusStopped
	session.StopTime = &stopTime
	session.UpdatedAt = now
	if err := l.sessions.UpdateLifecycle(ctx, *session); err != nil {
		return err
	}

	if err := l.summary.Rebuild(ctx, session); err != nil {
		return err
	}

	l.pushFinalSnapshot(ctx, session, stopTime)
	log.WithFields(log.Fields{"session_id": session.ID, "user_id": userID}).
		Info("session stopped")
	return nil
}

// Expire transitions an ACTIVE session to EXPIRED. A session already
// stopped by a racing call is left untouched; the guard makes sweeps
// safe to repeat.
func (l *Lifecycle) Expire(ctx context.Context, session *models.TrackingSession) error {
	if session.Status != models.StatusActive {
		return nil
	}

	now := l.now()
	if session.LastPoint != nil {
		session.StopPoint = session.LastPoint
	} else if session.StartPoint != nil {
		session.StopPoint = session.StartPoint
	}

	session.Status = models.StatusExpired
	session.StopTime = &now
	session.UpdatedAt = now
	if err := l.sessions.UpdateLifecycle(ctx, *session); err != nil {
		return err
	}

	if err := l.summary.Rebuild(ctx, session); err != nil {
		return err
	}

	ts := now
	if session.LastPointAt != nil {
		ts = *session.LastPointAt
	}
	l.pushFinalSnapshot(ctx, session, ts)
	log.WithFields(log.Fields{"session_id": session.ID, "user_id": session.UserID}).
		Info("session expired")
	return nil
}

// pushFinalSnapshot writes the session's resolved final position to the
// cache with active=false. Best-effort by contract.
func (l *Lifecycle) pushFinalSnapshot(ctx context.Context, session *models.TrackingSession, ts time.Time) {
	p := session.StopPoint
	if p == nil {
		p = session.LastPoint
	}
	if p == nil {
		return
	}
	l.cache.Upsert(ctx, models.LastLocationSnapshot{
		UserID:    session.UserID,
		SessionID: session.ID,
		Status:    session.Status,
		Active:    false,
		Lat:       p.Lat,
		Lon:       p.Lon,
		Ts:        &ts,
	})
}

func (l *Lifecycle) requireOwned(ctx context.Context, sessionID, userID string) (*models.TrackingSession, error) {
	session, err := l.sessions.FindByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, fmt.Errorf("%w: session %s", ErrNotFound, sessionID)
	}
	if session.UserID != userID {
		return nil, fmt.Errorf("%w: session does not belong to user", ErrForbidden)
	}
	return session, nil
}
