package tracking

import (
	"context"
	"time"

	"github.com/rhaen/tracker/internal/db"
	"github.com/rhaen/tracker/internal/geo"
	"github.com/rhaen/tracker/internal/models"
	log "github.com/sirupsen/logrus"
)

// SummaryBuilder recomputes trip summaries from raw points. A rebuild
// always replaces the whole document, so it is safe to repeat.
type SummaryBuilder struct {
	points            db.PointCollection
	summaries         db.SummaryCollection
	maxPolylinePoints int
	simplifyEpsilonM  float64
	now               func() time.Time
}

// NewSummaryBuilder creates the summary service.
func NewSummaryBuilder(points db.PointCollection, summaries db.SummaryCollection, maxPolylinePoints int, simplifyEpsilonM float64) *SummaryBuilder {
	return &SummaryBuilder{
		points:            points,
		summaries:         summaries,
		maxPolylinePoints: maxPolylinePoints,
		simplifyEpsilonM:  simplifyEpsilonM,
		now:               time.Now,
	}
}

// Rebuild recomputes the summary for the session from all stored points.
// The raw_points_pruned_at stamp survives rebuilds; everything else is
// derived fresh.
func (b *SummaryBuilder) Rebuild(ctx context.Context, session *models.TrackingSession) error {
	existing, err := b.summaries.FindBySessionID(ctx, session.ID)
	if err != nil {
		return err
	}

	pts, err := b.points.FindByRange(ctx, session.ID, nil, nil)
	if err != nil {
		return err
	}

	summary := b.compute(session, pts)
	if existing != nil {
		summary.RawPointsPrunedAt = existing.RawPointsPrunedAt
	}

	if err := b.summaries.Replace(ctx, summary); err != nil {
		return err
	}

	log.WithFields(log.Fields{
		"session_id":   session.ID,
		"points_count": summary.PointsCount,
		"distance_m":   summary.DistanceM,
	}).Info("session summary rebuilt")
	return nil
}

func (b *SummaryBuilder) compute(session *models.TrackingSession, pts []models.TrackingPoint) models.SessionSummary {
	now := b.now()
	summary := models.SessionSummary{
		SessionID: session.ID,
		UpdatedAt: now,
	}

	// A trip with no points is all zeroes, duration included.
	if len(pts) == 0 {
		return summary
	}

	stop := now
	if session.StopTime != nil {
		stop = *session.StopTime
	}
	if d := stop.Sub(session.StartTime); d > 0 {
		summary.DurationS = int64(d.Seconds())
	}

	summary.PointsCount = len(pts)
	summary.StartPoint = &pts[0].Location
	summary.EndPoint = &pts[len(pts)-1].Location

	bbox := models.NewBoundingBox()
	coords := make([]geo.LatLon, 0, len(pts))
	for _, p := range pts {
		bbox.Extend(p.Location)
		coords = append(coords, geo.LatLon{Lat: p.Location.Lat, Lon: p.Location.Lon})
	}
	summary.BBox = &bbox

	var distance float64
	reportedMax := -1.0
	estimatedMax := 0.0
	for i := 1; i < len(pts); i++ {
		seg := geo.HaversineMeters(
			pts[i-1].Location.Lat, pts[i-1].Location.Lon,
			pts[i].Location.Lat, pts[i].Location.Lon)
		distance += seg

		// Estimated segment speed floors dt at one second so colocated
		// timestamps cannot produce absurd values.
		dt := pts[i].DeviceTimestamp.Sub(pts[i-1].DeviceTimestamp).Seconds()
		if dt < 1 {
			dt = 1
		}
		if v := seg / dt; v > estimatedMax {
			estimatedMax = v
		}
	}
	for _, p := range pts {
		if p.SpeedMps != nil && *p.SpeedMps > reportedMax {
			reportedMax = *p.SpeedMps
		}
	}
	summary.DistanceM = distance
	if reportedMax >= 0 {
		summary.MaxSpeedMps = reportedMax
	} else {
		summary.MaxSpeedMps = estimatedMax
	}
	if summary.DurationS > 0 {
		summary.AvgSpeedMps = distance / float64(summary.DurationS)
	}

	summary.Polyline = geo.EncodePolyline(geo.Downsample(coords, b.maxPolylinePoints))
	summary.SimplifiedPolyline = geo.EncodePolyline(geo.Simplify(coords, b.simplifyEpsilonM))
	return summary
}
