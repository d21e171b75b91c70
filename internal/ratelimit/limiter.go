// Package ratelimit enforces a fixed-window point budget per user.
//
// The counter lives in the shared store so every instance sees the same
// window totals. Store failures never block ingestion: the limiter fails
// open behind a circuit breaker and reports the count as unknown.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/rhaen/tracker/internal/db"
	log "github.com/sirupsen/logrus"
	gobreaker "github.com/sony/gobreaker/v2"
)

// Result is the outcome of a consume call. Current is the cumulative
// number of points counted in the active window, or -1 when the backing
// store was unavailable and the call was allowed fail-open.
type Result struct {
	Allowed bool
	Current int64
}

// Limiter is a fixed-window rate limiter keyed by user id and window
// bucket.
type Limiter struct {
	counters db.CounterStore
	limit    int64
	window   time.Duration
	breaker  *gobreaker.CircuitBreaker[int64]
	now      func() time.Time
}

// New creates a limiter allowing pointsPerWindow points per window.
func New(counters db.CounterStore, pointsPerWindow int64, window time.Duration) *Limiter {
	settings := gobreaker.Settings{
		Name:    "rate-counter-store",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.WithFields(log.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("rate limiter circuit breaker state changed")
		},
	}

	return &Limiter{
		counters: counters,
		limit:    pointsPerWindow,
		window:   window,
		breaker:  gobreaker.NewCircuitBreaker[int64](settings),
		now:      time.Now,
	}
}

// Consume counts points against the user's current window. When the
// post-increment total exceeds the limit the call is rejected but the
// increment is kept, so over-limit retries keep counting against the
// window. Store or breaker failures allow the call (fail-open) with a
// warning.
func (l *Limiter) Consume(ctx context.Context, userID string, points int) Result {
	bucket := l.now().Unix() / int64(l.window.Seconds())
	key := fmt.Sprintf("rl:points:%s:%d", userID, bucket)

	// TTL slightly beyond the window tolerates clock skew between
	// instances.
	ttl := l.window + 5*time.Second

	total, err := l.breaker.Execute(func() (int64, error) {
		return l.counters.IncrementAndGet(ctx, key, int64(points), ttl)
	})
	if err != nil {
		log.WithError(err).WithField("user_id", userID).
			Warn("rate limiter store unavailable, failing open")
		return Result{Allowed: true, Current: -1}
	}

	if total > l.limit {
		return Result{Allowed: false, Current: total}
	}
	return Result{Allowed: true, Current: total}
}
