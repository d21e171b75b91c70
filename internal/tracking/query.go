package tracking

import (
	"context"
	"fmt"

	"github.com/rhaen/tracker/internal/db"
	"github.com/rhaen/tracker/internal/models"
)

// Queries serves the plain session reads that need no pipeline state.
type Queries struct {
	sessions  db.SessionCollection
	summaries db.SummaryCollection
}

// NewQueries creates the read service.
func NewQueries(sessions db.SessionCollection, summaries db.SummaryCollection) *Queries {
	return &Queries{sessions: sessions, summaries: summaries}
}

// ListSessions pages the user's sessions, newest first. Page is
// zero-based; size is clamped to 1..100.
func (q *Queries) ListSessions(ctx context.Context, userID string, page, size int) ([]models.TrackingSession, error) {
	if page < 0 {
		page = 0
	}
	if size < 1 {
		size = 20
	}
	if size > 100 {
		size = 100
	}
	return q.sessions.ListByUserID(ctx, userID, page, size)
}

// GetSession returns one session. Admins may read any session.
func (q *Queries) GetSession(ctx context.Context, sessionID, userID string, isAdmin bool) (*models.TrackingSession, error) {
	session, err := q.sessions.FindByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, fmt.Errorf("%w: session %s", ErrNotFound, sessionID)
	}
	if session.UserID != userID && !isAdmin {
		return nil, fmt.Errorf("%w: session does not belong to user", ErrForbidden)
	}
	return session, nil
}

// GetSummary returns the session's trip summary. A session that exists
// but was never summarized yields ErrNotFound as well.
func (q *Queries) GetSummary(ctx context.Context, sessionID, userID string, isAdmin bool) (*models.SessionSummary, error) {
	if _, err := q.GetSession(ctx, sessionID, userID, isAdmin); err != nil {
		return nil, err
	}
	summary, err := q.summaries.FindBySessionID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if summary == nil {
		return nil, fmt.Errorf("%w: no summary for session %s", ErrNotFound, sessionID)
	}
	return summary, nil
}
