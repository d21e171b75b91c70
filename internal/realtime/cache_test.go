package realtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rhaen/tracker/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSnapshotStore struct {
	mu       sync.Mutex
	snaps    map[string]models.LastLocationSnapshot
	members  map[string]bool
	failPuts bool
}

func newFakeSnapshotStore() *fakeSnapshotStore {
	return &fakeSnapshotStore{
		snaps:   make(map[string]models.LastLocationSnapshot),
		members: make(map[string]bool),
	}
}

func (s *fakeSnapshotStore) Put(_ context.Context, snap models.LastLocationSnapshot, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failPuts {
		return errors.New("store down")
	}
	s.snaps[snap.UserID] = snap
	s.members[snap.UserID] = true
	return nil
}

func (s *fakeSnapshotStore) Get(_ context.Context, userID string) (*models.LastLocationSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.snaps[userID]
	if !ok {
		return nil, nil
	}
	return &snap, nil
}

func (s *fakeSnapshotStore) Members(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.members))
	for id := range s.members {
		out = append(out, id)
	}
	return out, nil
}

func (s *fakeSnapshotStore) FetchMembers(_ context.Context, ids []string) (map[string]models.LastLocationSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]models.LastLocationSnapshot)
	for _, id := range ids {
		if snap, ok := s.snaps[id]; ok {
			out[id] = snap
		}
	}
	return out, nil
}

func (s *fakeSnapshotStore) RemoveMembers(_ context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.members, id)
	}
	return nil
}

func (s *fakeSnapshotStore) Remove(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.snaps, userID)
	delete(s.members, userID)
	return nil
}

func newTestCache(store *fakeSnapshotStore) (*Cache, *Broadcaster) {
	b := NewBroadcaster(time.Hour)
	return NewCache(store, b, 15*time.Minute, 90*time.Second), b
}

func activeSnap(userID string, ts time.Time) models.LastLocationSnapshot {
	return models.LastLocationSnapshot{
		UserID:    userID,
		SessionID: "s1",
		Status:    models.StatusActive,
		Active:    true,
		Lat:       41.31,
		Lon:       69.28,
		Ts:        &ts,
	}
}

func TestIsStale(t *testing.T) {
	c, b := newTestCache(newFakeSnapshotStore())
	defer b.Stop()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	recent := now.Add(-30 * time.Second)
	old := now.Add(-5 * time.Minute)

	inactive := activeSnap("u1", old)
	inactive.Active = false
	assert.False(t, c.IsStale(inactive), "inactive snapshot is never stale")

	noTs := activeSnap("u1", now)
	noTs.Ts = nil
	assert.True(t, c.IsStale(noTs), "active without timestamp is stale")

	assert.True(t, c.IsStale(activeSnap("u1", old)))
	assert.False(t, c.IsStale(activeSnap("u1", recent)))
}

func TestUpsert_StoresAndBroadcastsWithStaleFlag(t *testing.T) {
	store := newFakeSnapshotStore()
	c, b := newTestCache(store)
	defer b.Stop()

	sub := b.Subscribe()
	c.Upsert(context.Background(), activeSnap("u1", time.Now()))

	got, err := c.Get(context.Background(), "u1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "u1", got.UserID)

	select {
	case ev := <-sub.Events():
		assert.Equal(t, "update", ev.Name)
		payload, ok := ev.Data.(models.LastLocationEvent)
		require.True(t, ok)
		assert.False(t, payload.Stale)
	case <-time.After(time.Second):
		t.Fatal("no broadcast received")
	}
}

func TestUpsert_StoreFailureStillBroadcasts(t *testing.T) {
	store := newFakeSnapshotStore()
	store.failPuts = true
	c, b := newTestCache(store)
	defer b.Stop()

	sub := b.Subscribe()
	// Must not panic or propagate: cache is a best-effort accelerator.
	c.Upsert(context.Background(), activeSnap("u1", time.Now()))

	select {
	case ev := <-sub.Events():
		assert.Equal(t, "update", ev.Name)
	case <-time.After(time.Second):
		t.Fatal("no broadcast received")
	}
}

func TestGetAll_HealsExpiredMembers(t *testing.T) {
	store := newFakeSnapshotStore()
	c, b := newTestCache(store)
	defer b.Stop()

	c.Upsert(context.Background(), activeSnap("u1", time.Now()))
	c.Upsert(context.Background(), activeSnap("u2", time.Now()))

	// Simulate TTL expiry of u2's snapshot while its membership lingers.
	store.mu.Lock()
	delete(store.snaps, "u2")
	store.mu.Unlock()

	events, err := c.GetAll(context.Background())
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "u1", events[0].UserID)

	members, err := store.Members(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, members)
}

func TestRemove_EvictsSnapshot(t *testing.T) {
	store := newFakeSnapshotStore()
	c, b := newTestCache(store)
	defer b.Stop()

	c.Upsert(context.Background(), activeSnap("u1", time.Now()))
	require.NoError(t, c.Remove(context.Background(), "u1"))

	got, err := c.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.Nil(t, got)
}
