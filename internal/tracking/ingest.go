package tracking

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rhaen/tracker/internal/db"
	"github.com/rhaen/tracker/internal/models"
	"github.com/rhaen/tracker/internal/ratelimit"
	"github.com/rhaen/tracker/internal/realtime"
	log "github.com/sirupsen/logrus"
)

// PointInput is one point as submitted by a client. EventID is the
// idempotency key: retried requests carrying the same event ids insert
// nothing new.
type PointInput struct {
	EventID         string    `json:"event_id"`
	Lat             float64   `json:"lat"`
	Lon             float64   `json:"lon"`
	DeviceTimestamp time.Time `json:"device_timestamp"`
	AccuracyM       *float64  `json:"accuracy_m,omitempty"`
	SpeedMps        *float64  `json:"speed_mps,omitempty"`
	HeadingDeg      *float64  `json:"heading_deg,omitempty"`
	Provider        string    `json:"provider,omitempty"`
	Mock            bool      `json:"mock,omitempty"`
}

// IngestResult reports how many points passed validation and how many
// were actually inserted. Inserted can be lower when event ids collide
// with previously stored points.
type IngestResult struct {
	Accepted int `json:"accepted"`
	Inserted int `json:"inserted"`
}

// Ingestor runs the point ingestion pipeline.
type Ingestor struct {
	sessions     db.SessionCollection
	points       db.PointCollection
	limiter      *ratelimit.Limiter
	cache        *realtime.Cache
	maxBatchSize int
	now          func() time.Time
}

// NewIngestor creates the ingestion pipeline.
func NewIngestor(sessions db.SessionCollection, points db.PointCollection, limiter *ratelimit.Limiter, cache *realtime.Cache, maxBatchSize int) *Ingestor {
	return &Ingestor{
		sessions:     sessions,
		points:       points,
		limiter:      limiter,
		cache:        cache,
		maxBatchSize: maxBatchSize,
		now:          time.Now,
	}
}

// Ingest validates, deduplicates, rate-limits and persists a batch of
// points for the session, then advances the session pointers and the
// last-location cache.
func (i *Ingestor) Ingest(ctx context.Context, sessionID, userID string, batch []PointInput) (IngestResult, error) {
	session, err := i.requireOwnedActive(ctx, sessionID, userID)
	if err != nil {
		return IngestResult{}, err
	}

	if len(batch) > i.maxBatchSize {
		return IngestResult{}, fmt.Errorf("%w: too many points in one request: %d, max is %d",
			ErrBadRequest, len(batch), i.maxBatchSize)
	}

	rl := i.limiter.Consume(ctx, userID, len(batch))
	if !rl.Allowed {
		log.WithFields(log.Fields{
			"user_id":    userID,
			"session_id": sessionID,
			"current":    rl.Current,
			"attempted":  len(batch),
		}).Warn("point rate limit exceeded")
		return IngestResult{}, &RateLimitError{Current: rl.Current}
	}

	// Points submitted without an event id get one here. They lose retry
	// idempotency but are otherwise accepted.
	for idx := range batch {
		if batch[idx].EventID == "" {
			batch[idx].EventID = uuid.NewString()
		}
	}

	// Collapse client-side retries inside the batch: first occurrence of
	// each event id wins.
	unique := dedupeByEventID(batch)
	if len(unique) == 0 {
		return IngestResult{}, nil
	}

	receivedAt := i.now()
	rows := make([]models.TrackingPoint, 0, len(unique))
	for _, p := range unique {
		rows = append(rows, models.TrackingPoint{
			SessionID:       sessionID,
			EventID:         p.EventID,
			DeviceTimestamp: p.DeviceTimestamp,
			ReceivedAt:      receivedAt,
			Location:        models.Location{Lat: p.Lat, Lon: p.Lon},
			AccuracyM:       p.AccuracyM,
			SpeedMps:        p.SpeedMps,
			HeadingDeg:      p.HeadingDeg,
			Provider:        p.Provider,
			Mock:            p.Mock,
		})
	}

	inserted, err := i.points.InsertBatch(ctx, rows)
	if err != nil {
		return IngestResult{}, err
	}

	// Pointer updates order by device timestamp, not arrival order.
	earliest, latest := unique[0], unique[0]
	for _, p := range unique[1:] {
		if p.DeviceTimestamp.Before(earliest.DeviceTimestamp) {
			earliest = p
		}
		if p.DeviceTimestamp.After(latest.DeviceTimestamp) {
			latest = p
		}
	}

	now := i.now()
	if err := i.sessions.SetStartPointIfUnset(ctx, sessionID,
		models.Location{Lat: earliest.Lat, Lon: earliest.Lon}, now); err != nil {
		return IngestResult{}, err
	}
	if _, err := i.sessions.AdvanceLastPoint(ctx, sessionID,
		models.Location{Lat: latest.Lat, Lon: latest.Lon}, latest.DeviceTimestamp, now); err != nil {
		return IngestResult{}, err
	}

	ts := latest.DeviceTimestamp
	i.cache.Upsert(ctx, models.LastLocationSnapshot{
		UserID:     userID,
		SessionID:  sessionID,
		Status:     session.Status,
		Active:     true,
		Lat:        latest.Lat,
		Lon:        latest.Lon,
		Ts:         &ts,
		AccuracyM:  latest.AccuracyM,
		SpeedMps:   latest.SpeedMps,
		HeadingDeg: latest.HeadingDeg,
	})

	return IngestResult{Accepted: len(batch), Inserted: inserted}, nil
}

func (i *Ingestor) requireOwnedActive(ctx context.Context, sessionID, userID string) (*models.TrackingSession, error) {
	session, err := i.sessions.FindByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, fmt.Errorf("%w: session %s", ErrNotFound, sessionID)
	}
	if session.UserID != userID {
		return nil, fmt.Errorf("%w: session does not belong to user", ErrForbidden)
	}
	if session.Status != models.StatusActive {
		return nil, fmt.Errorf("%w: session is not ACTIVE: %s", ErrBadRequest, session.Status)
	}
	return session, nil
}

func dedupeByEventID(batch []PointInput) []PointInput {
	seen := make(map[string]bool, len(batch))
	out := make([]PointInput, 0, len(batch))
	for _, p := range batch {
		if seen[p.EventID] {
			continue
		}
		seen[p.EventID] = true
		out = append(out, p)
	}
	return out
}
