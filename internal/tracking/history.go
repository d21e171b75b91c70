package tracking

import (
	"context"
	"fmt"
	"time"

	"github.com/rhaen/tracker/internal/db"
	"github.com/rhaen/tracker/internal/geo"
	"github.com/rhaen/tracker/internal/models"
)

// HistoryQuery narrows a raw-point read. Zero values mean no bound,
// the default page size and plain head truncation. Downsample switches
// oversized reads to stride sampling, RDP-simplified first when an
// epsilon is given.
type HistoryQuery struct {
	From             *time.Time
	To               *time.Time
	Max              int
	Downsample       bool
	SimplifyEpsilonM float64
}

// HistoryResult is a possibly reduced view of the stored track. Total
// is the full stored count for the range; Truncated flags that the
// returned slice is smaller than that.
type HistoryResult struct {
	Points    []models.TrackingPoint `json:"points"`
	Total     int64                  `json:"total"`
	Truncated bool                   `json:"truncated"`
}

// HistoryReader serves raw-point reads for finished and live sessions.
type HistoryReader struct {
	sessions   db.SessionCollection
	points     db.PointCollection
	defaultMax int
	hardLimit  int
}

// NewHistoryReader creates the history read service.
func NewHistoryReader(sessions db.SessionCollection, points db.PointCollection, defaultMax, hardLimit int) *HistoryReader {
	return &HistoryReader{
		sessions:   sessions,
		points:     points,
		defaultMax: defaultMax,
		hardLimit:  hardLimit,
	}
}

// GetPoints returns the session's points in device-timestamp order,
// reduced to at most the requested maximum. Admins may read any
// session; everyone else only their own.
func (h *HistoryReader) GetPoints(ctx context.Context, sessionID, userID string, isAdmin bool, q HistoryQuery) (HistoryResult, error) {
	session, err := h.sessions.FindByID(ctx, sessionID)
	if err != nil {
		return HistoryResult{}, err
	}
	if session == nil {
		return HistoryResult{}, fmt.Errorf("%w: session %s", ErrNotFound, sessionID)
	}
	if session.UserID != userID && !isAdmin {
		return HistoryResult{}, fmt.Errorf("%w: session does not belong to user", ErrForbidden)
	}

	total, err := h.points.CountByRange(ctx, sessionID, q.From, q.To)
	if err != nil {
		return HistoryResult{}, err
	}
	if total > int64(h.hardLimit) {
		return HistoryResult{}, fmt.Errorf("%w: range holds %d points, over the %d limit; use the summary polyline or a narrower range",
			ErrBadRequest, total, h.hardLimit)
	}

	max := q.Max
	if max <= 0 {
		max = h.defaultMax
	}
	if max > h.hardLimit {
		max = h.hardLimit
	}

	pts, err := h.points.FindByRange(ctx, sessionID, q.From, q.To)
	if err != nil {
		return HistoryResult{}, err
	}

	reduced := reducePoints(pts, max, q.Downsample, q.SimplifyEpsilonM)
	return HistoryResult{
		Points:    reduced,
		Total:     total,
		Truncated: len(reduced) < len(pts),
	}, nil
}

// reducePoints brings pts under max. Without downsampling the read
// behaves like a plain LIMIT. With it the track is stride-sampled so
// the whole span survives the cut, RDP-simplified first when an
// epsilon is given.
func reducePoints(pts []models.TrackingPoint, max int, downsample bool, epsilonM float64) []models.TrackingPoint {
	if len(pts) <= max {
		return pts
	}

	if !downsample {
		return pts[:max]
	}

	if epsilonM > 0 {
		coords := make([]geo.LatLon, len(pts))
		for i, p := range pts {
			coords[i] = geo.LatLon{Lat: p.Location.Lat, Lon: p.Location.Lon}
		}
		if mask := geo.SimplifyMask(coords, epsilonM); mask != nil {
			kept := make([]models.TrackingPoint, 0, len(pts))
			for i, keep := range mask {
				if keep {
					kept = append(kept, pts[i])
				}
			}
			pts = kept
		}
	}
	if len(pts) <= max {
		return pts
	}

	idx := geo.DownsampleIndices(len(pts), max)
	out := make([]models.TrackingPoint, 0, len(idx))
	for _, i := range idx {
		out = append(out, pts[i])
	}
	return out
}
