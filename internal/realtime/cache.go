package realtime

import (
	"context"
	"time"

	"github.com/rhaen/tracker/internal/db"
	"github.com/rhaen/tracker/internal/models"
	log "github.com/sirupsen/logrus"
)

// Cache is the per-user last-known-location view. The TTL governs how
// long a snapshot exists; the staleness threshold only governs how fresh
// it is displayed as. Cache writes are best-effort: a failed write is
// logged and swallowed so it can never fail an ingest or stop.
type Cache struct {
	store       db.SnapshotStore
	broadcaster *Broadcaster
	ttl         time.Duration
	staleAfter  time.Duration
	now         func() time.Time
}

// NewCache creates the cache over the given snapshot store.
func NewCache(store db.SnapshotStore, broadcaster *Broadcaster, ttl, staleAfter time.Duration) *Cache {
	return &Cache{
		store:       store,
		broadcaster: broadcaster,
		ttl:         ttl,
		staleAfter:  staleAfter,
		now:         time.Now,
	}
}

// Upsert stores the snapshot and pushes it, with its computed stale
// flag, to live subscribers.
func (c *Cache) Upsert(ctx context.Context, snap models.LastLocationSnapshot) {
	if err := c.store.Put(ctx, snap, c.ttl); err != nil {
		log.WithError(err).WithField("user_id", snap.UserID).
			Warn("last-location cache write failed")
	}
	c.broadcaster.Broadcast(Event{Name: "update", Data: c.event(snap)})
}

// Get returns the user's snapshot, or nil when none is cached.
func (c *Cache) Get(ctx context.Context, userID string) (*models.LastLocationSnapshot, error) {
	return c.store.Get(ctx, userID)
}

// GetAll returns all live snapshots with their stale flags. Membership
// entries whose snapshot has TTL-expired are removed along the way, so
// the index heals itself.
func (c *Cache) GetAll(ctx context.Context) ([]models.LastLocationEvent, error) {
	members, err := c.store.Members(ctx)
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return []models.LastLocationEvent{}, nil
	}

	snaps, err := c.store.FetchMembers(ctx, members)
	if err != nil {
		return nil, err
	}

	events := make([]models.LastLocationEvent, 0, len(snaps))
	var missing []string
	for _, id := range members {
		snap, ok := snaps[id]
		if !ok {
			missing = append(missing, id)
			continue
		}
		events = append(events, c.event(snap))
	}

	if len(missing) > 0 {
		if err := c.store.RemoveMembers(ctx, missing); err != nil {
			log.WithError(err).Warn("last-location membership cleanup failed")
		}
	}
	return events, nil
}

// Remove explicitly evicts a user's snapshot (account deletion path).
func (c *Cache) Remove(ctx context.Context, userID string) error {
	return c.store.Remove(ctx, userID)
}

// IsStale reports whether an active snapshot is too old to display as
// fresh. Inactive snapshots are final positions and never stale.
func (c *Cache) IsStale(snap models.LastLocationSnapshot) bool {
	if !snap.Active {
		return false
	}
	if snap.Ts == nil {
		return true
	}
	return c.now().Sub(*snap.Ts) > c.staleAfter
}

func (c *Cache) event(snap models.LastLocationSnapshot) models.LastLocationEvent {
	return models.LastLocationEvent{
		LastLocationSnapshot: snap,
		Stale:                c.IsStale(snap),
	}
}
