// Package sweeper hosts the background jobs: expiry of abandoned
// sessions and long-horizon retention of finished ones.
package sweeper

import (
	"context"
	"sync"
	"time"

	"github.com/rhaen/tracker/internal/db"
	"github.com/rhaen/tracker/internal/tracking"
	log "github.com/sirupsen/logrus"
)

// ExpirySweeper periodically expires ACTIVE sessions that stopped
// sending points, and ones that never sent any.
type ExpirySweeper struct {
	sessions  db.SessionCollection
	lifecycle *tracking.Lifecycle

	expireAfter        time.Duration
	noPointExpireAfter time.Duration
	interval           time.Duration
	batchSize          int

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
	now      func() time.Time
}

// NewExpirySweeper creates the sweeper. It does not start ticking until
// Start is called.
func NewExpirySweeper(sessions db.SessionCollection, lifecycle *tracking.Lifecycle, expireAfter, noPointExpireAfter, interval time.Duration, batchSize int) *ExpirySweeper {
	return &ExpirySweeper{
		sessions:           sessions,
		lifecycle:          lifecycle,
		expireAfter:        expireAfter,
		noPointExpireAfter: noPointExpireAfter,
		interval:           interval,
		batchSize:          batchSize,
		done:               make(chan struct{}),
		now:                time.Now,
	}
}

// Start launches the sweep loop.
func (s *ExpirySweeper) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n, err := s.Sweep(context.Background()); err != nil {
					log.WithError(err).Error("session expiry sweep failed")
				} else if n > 0 {
					log.WithField("expired", n).Info("session expiry sweep finished")
				}
			case <-s.done:
				return
			}
		}
	}()
}

// Stop halts the loop and waits for an in-flight sweep to finish.
func (s *ExpirySweeper) Stop() {
	s.stopOnce.Do(func() { close(s.done) })
	s.wg.Wait()
}

// Sweep runs one expiry pass and returns how many sessions it expired.
// Sessions that raced into a terminal state are skipped, so concurrent
// sweeps across instances are harmless.
func (s *ExpirySweeper) Sweep(ctx context.Context) (int, error) {
	now := s.now()
	expired := 0

	stale, err := s.sessions.FindInactiveSince(ctx, now.Add(-s.expireAfter), s.batchSize)
	if err != nil {
		return expired, err
	}
	silent, err := s.sessions.FindNeverUpdatedSince(ctx, now.Add(-s.noPointExpireAfter), s.batchSize)
	if err != nil {
		return expired, err
	}

	for i := range stale {
		if err := s.lifecycle.Expire(ctx, &stale[i]); err != nil {
			log.WithError(err).WithField("session_id", stale[i].ID).
				Error("failed to expire session")
			continue
		}
		expired++
	}
	for i := range silent {
		if err := s.lifecycle.Expire(ctx, &silent[i]); err != nil {
			log.WithError(err).WithField("session_id", silent[i].ID).
				Error("failed to expire session")
			continue
		}
		expired++
	}
	return expired, nil
}
