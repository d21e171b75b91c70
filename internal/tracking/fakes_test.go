package tracking

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rhaen/tracker/internal/models"
)

// In-memory stand-ins for the storage interfaces. They mimic the index
// semantics the services rely on: the (session_id, event_id) uniqueness
// on points and the conditional pointer updates on sessions.

type fakeSessions struct {
	mu   sync.Mutex
	rows map[string]models.TrackingSession
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{rows: make(map[string]models.TrackingSession)}
}

func (f *fakeSessions) Insert(_ context.Context, s models.TrackingSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[s.ID] = s
	return nil
}

func (f *fakeSessions) FindByID(_ context.Context, id string) (*models.TrackingSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.rows[id]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (f *fakeSessions) FindActiveByUserID(_ context.Context, userID string) (*models.TrackingSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.rows {
		if s.UserID == userID && s.Status == models.StatusActive {
			out := s
			return &out, nil
		}
	}
	return nil, nil
}

func (f *fakeSessions) ListByUserID(_ context.Context, userID string, page, size int) ([]models.TrackingSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var all []models.TrackingSession
	for _, s := range f.rows {
		if s.UserID == userID {
			all = append(all, s)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].StartTime.After(all[j].StartTime) })
	start := page * size
	if start >= len(all) {
		return nil, nil
	}
	end := start + size
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], nil
}

func (f *fakeSessions) UpdateLifecycle(_ context.Context, s models.TrackingSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	row := f.rows[s.ID]
	row.Status = s.Status
	row.StopTime = s.StopTime
	row.StopPoint = s.StopPoint
	row.UpdatedAt = s.UpdatedAt
	f.rows[s.ID] = row
	return nil
}

func (f *fakeSessions) SetStartPointIfUnset(_ context.Context, sessionID string, p models.Location, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[sessionID]
	if !ok || row.StartPoint != nil {
		return nil
	}
	row.StartPoint = &p
	row.UpdatedAt = now
	f.rows[sessionID] = row
	return nil
}

func (f *fakeSessions) AdvanceLastPoint(_ context.Context, sessionID string, p models.Location, at, now time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[sessionID]
	if !ok {
		return false, nil
	}
	if row.LastPointAt != nil && !row.LastPointAt.Before(at) {
		return false, nil
	}
	row.LastPoint = &p
	row.LastPointAt = &at
	row.UpdatedAt = now
	f.rows[sessionID] = row
	return true, nil
}

func (f *fakeSessions) FindInactiveSince(_ context.Context, cutoff time.Time, limit int) ([]models.TrackingSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.TrackingSession
	for _, s := range f.rows {
		if s.Status == models.StatusActive && s.LastPointAt != nil && s.LastPointAt.Before(cutoff) {
			out = append(out, s)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeSessions) FindNeverUpdatedSince(_ context.Context, cutoff time.Time, limit int) ([]models.TrackingSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.TrackingSession
	for _, s := range f.rows {
		if s.Status == models.StatusActive && s.LastPointAt == nil && s.StartTime.Before(cutoff) {
			out = append(out, s)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeSessions) ArchiveFinishedBefore(_ context.Context, cutoff time.Time, limit int, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for id, s := range f.rows {
		if int(n) == limit {
			break
		}
		if (s.Status == models.StatusStopped || s.Status == models.StatusExpired) &&
			s.StopTime != nil && s.StopTime.Before(cutoff) {
			s.Status = models.StatusArchived
			s.UpdatedAt = now
			f.rows[id] = s
			n++
		}
	}
	return n, nil
}

func (f *fakeSessions) FindFinishedBefore(_ context.Context, cutoff time.Time, limit int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for id, s := range f.rows {
		if len(out) == limit {
			break
		}
		if s.Status != models.StatusActive && s.StopTime != nil && s.StopTime.Before(cutoff) {
			out = append(out, id)
		}
	}
	return out, nil
}

type fakePoints struct {
	mu   sync.Mutex
	rows []models.TrackingPoint
}

func newFakePoints() *fakePoints {
	return &fakePoints{}
}

func (f *fakePoints) InsertBatch(_ context.Context, points []models.TrackingPoint) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	inserted := 0
	for _, p := range points {
		dup := false
		for _, existing := range f.rows {
			if existing.SessionID == p.SessionID && existing.EventID == p.EventID {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		f.rows = append(f.rows, p)
		inserted++
	}
	return inserted, nil
}

func (f *fakePoints) CountByRange(ctx context.Context, sessionID string, from, to *time.Time) (int64, error) {
	pts, err := f.FindByRange(ctx, sessionID, from, to)
	return int64(len(pts)), err
}

func (f *fakePoints) FindByRange(_ context.Context, sessionID string, from, to *time.Time) ([]models.TrackingPoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.TrackingPoint
	for _, p := range f.rows {
		if p.SessionID != sessionID {
			continue
		}
		if from != nil && p.DeviceTimestamp.Before(*from) {
			continue
		}
		if to != nil && p.DeviceTimestamp.After(*to) {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceTimestamp.Before(out[j].DeviceTimestamp) })
	return out, nil
}

func (f *fakePoints) DeleteOlderThan(_ context.Context, cutoff time.Time, limit int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var kept []models.TrackingPoint
	var deleted int64
	for _, p := range f.rows {
		if int(deleted) < limit && p.DeviceTimestamp.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, p)
	}
	f.rows = kept
	return deleted, nil
}

type fakeSummaries struct {
	mu       sync.Mutex
	rows     map[string]models.SessionSummary
	replaces int
}

func newFakeSummaries() *fakeSummaries {
	return &fakeSummaries{rows: make(map[string]models.SessionSummary)}
}

func (f *fakeSummaries) Replace(_ context.Context, s models.SessionSummary) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[s.SessionID] = s
	f.replaces++
	return nil
}

func (f *fakeSummaries) FindBySessionID(_ context.Context, sessionID string) (*models.SessionSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.rows[sessionID]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (f *fakeSummaries) MarkPruned(_ context.Context, sessionIDs []string, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, id := range sessionIDs {
		s, ok := f.rows[id]
		if !ok || s.RawPointsPrunedAt != nil {
			continue
		}
		ts := now
		s.RawPointsPrunedAt = &ts
		f.rows[id] = s
		n++
	}
	return n, nil
}

type fakeCounters struct {
	mu     sync.Mutex
	counts map[string]int64
	err    error
}

func newFakeCounters() *fakeCounters {
	return &fakeCounters{counts: make(map[string]int64)}
}

func (f *fakeCounters) IncrementAndGet(_ context.Context, key string, delta int64, _ time.Duration) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	f.counts[key] += delta
	return f.counts[key], nil
}

type fakeSnapshots struct {
	mu    sync.Mutex
	snaps map[string]models.LastLocationSnapshot
}

func newFakeSnapshots() *fakeSnapshots {
	return &fakeSnapshots{snaps: make(map[string]models.LastLocationSnapshot)}
}

func (f *fakeSnapshots) Put(_ context.Context, snap models.LastLocationSnapshot, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snaps[snap.UserID] = snap
	return nil
}

func (f *fakeSnapshots) Get(_ context.Context, userID string) (*models.LastLocationSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.snaps[userID]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (f *fakeSnapshots) Members(_ context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.snaps))
	for id := range f.snaps {
		out = append(out, id)
	}
	return out, nil
}

func (f *fakeSnapshots) FetchMembers(_ context.Context, ids []string) (map[string]models.LastLocationSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]models.LastLocationSnapshot)
	for _, id := range ids {
		if s, ok := f.snaps[id]; ok {
			out[id] = s
		}
	}
	return out, nil
}

func (f *fakeSnapshots) RemoveMembers(_ context.Context, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		delete(f.snaps, id)
	}
	return nil
}

func (f *fakeSnapshots) Remove(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.snaps, userID)
	return nil
}
