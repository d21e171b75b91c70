package sweeper

import (
	"context"
	"sync"
	"time"

	"github.com/rhaen/tracker/internal/db"
	log "github.com/sirupsen/logrus"
)

// RetentionStats reports what one retention pass did.
type RetentionStats struct {
	Archived      int64
	PrunedMarked  int64
	PointsDeleted int64
}

// RetentionSweeper archives old finished sessions and prunes their raw
// points once the summary is the only record that matters. Summaries
// themselves are kept forever.
type RetentionSweeper struct {
	sessions  db.SessionCollection
	points    db.PointCollection
	summaries db.SummaryCollection

	archiveAfter     time.Duration
	prunePointsAfter time.Duration
	interval         time.Duration
	sessionBatch     int
	pointBatch       int
	runAtStartup     bool

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
	now      func() time.Time
}

// NewRetentionSweeper creates the retention job.
func NewRetentionSweeper(sessions db.SessionCollection, points db.PointCollection, summaries db.SummaryCollection, archiveAfter, prunePointsAfter, interval time.Duration, sessionBatch, pointBatch int, runAtStartup bool) *RetentionSweeper {
	return &RetentionSweeper{
		sessions:         sessions,
		points:           points,
		summaries:        summaries,
		archiveAfter:     archiveAfter,
		prunePointsAfter: prunePointsAfter,
		interval:         interval,
		sessionBatch:     sessionBatch,
		pointBatch:       pointBatch,
		runAtStartup:     runAtStartup,
		done:             make(chan struct{}),
		now:              time.Now,
	}
}

// Start launches the sweep loop, optionally running one pass
// immediately.
func (r *RetentionSweeper) Start() {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if r.runAtStartup {
			r.runLogged(context.Background())
		}
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.runLogged(context.Background())
			case <-r.done:
				return
			}
		}
	}()
}

// Stop halts the loop and waits for an in-flight pass to finish.
func (r *RetentionSweeper) Stop() {
	r.stopOnce.Do(func() { close(r.done) })
	r.wg.Wait()
}

func (r *RetentionSweeper) runLogged(ctx context.Context) {
	stats, err := r.RunOnce(ctx)
	if err != nil {
		log.WithError(err).Error("retention sweep failed")
		return
	}
	log.WithFields(log.Fields{
		"archived":       stats.Archived,
		"pruned_marked":  stats.PrunedMarked,
		"points_deleted": stats.PointsDeleted,
	}).Info("retention sweep finished")
}

// RunOnce executes one full retention pass: archive, mark summaries
// pruned, then delete old raw points in bounded batches until none
// remain under the cutoff.
func (r *RetentionSweeper) RunOnce(ctx context.Context) (RetentionStats, error) {
	var stats RetentionStats
	now := r.now()

	archived, err := r.sessions.ArchiveFinishedBefore(ctx, now.Add(-r.archiveAfter), r.sessionBatch, now)
	if err != nil {
		return stats, err
	}
	stats.Archived = archived

	pruneCutoff := now.Add(-r.prunePointsAfter)
	ids, err := r.sessions.FindFinishedBefore(ctx, pruneCutoff, r.sessionBatch)
	if err != nil {
		return stats, err
	}
	if len(ids) > 0 {
		marked, err := r.summaries.MarkPruned(ctx, ids, now)
		if err != nil {
			return stats, err
		}
		stats.PrunedMarked = marked
	}

	for {
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		default:
		}
		deleted, err := r.points.DeleteOlderThan(ctx, pruneCutoff, r.pointBatch)
		if err != nil {
			return stats, err
		}
		stats.PointsDeleted += deleted
		if deleted < int64(r.pointBatch) {
			return stats, nil
		}
	}
}
