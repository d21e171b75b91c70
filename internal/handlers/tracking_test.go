package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rhaen/tracker/internal/middleware"
	"github.com/rhaen/tracker/internal/models"
	"github.com/rhaen/tracker/internal/ratelimit"
	"github.com/rhaen/tracker/internal/realtime"
	"github.com/rhaen/tracker/internal/tracking"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Compact in-memory storage backing the full handler stack. Only the
// behavior the HTTP tests exercise is modelled faithfully.

type memStore struct {
	mu        sync.Mutex
	sessions  map[string]models.TrackingSession
	points    []models.TrackingPoint
	summaries map[string]models.SessionSummary
	counters  map[string]int64
	snaps     map[string]models.LastLocationSnapshot
}

func newMemStore() *memStore {
	return &memStore{
		sessions:  make(map[string]models.TrackingSession),
		summaries: make(map[string]models.SessionSummary),
		counters:  make(map[string]int64),
		snaps:     make(map[string]models.LastLocationSnapshot),
	}
}

func (m *memStore) Insert(_ context.Context, s models.TrackingSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	return nil
}

func (m *memStore) FindByID(_ context.Context, id string) (*models.TrackingSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (m *memStore) FindActiveByUserID(_ context.Context, userID string) (*models.TrackingSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.UserID == userID && s.Status == models.StatusActive {
			out := s
			return &out, nil
		}
	}
	return nil, nil
}

func (m *memStore) ListByUserID(_ context.Context, userID string, page, size int) ([]models.TrackingSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []models.TrackingSession
	for _, s := range m.sessions {
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

func (m *memStore) UpdateLifecycle(_ context.Context, s models.TrackingSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row := m.sessions[s.ID]
	row.Status = s.Status
	row.StopTime = s.StopTime
	row.StopPoint = s.StopPoint
	row.UpdatedAt = s.UpdatedAt
	m.sessions[s.ID] = row
	return nil
}

func (m *memStore) SetStartPointIfUnset(_ context.Context, sessionID string, p models.Location, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.sessions[sessionID]
	if !ok || row.StartPoint != nil {
		return nil
	}
	row.StartPoint = &p
	row.UpdatedAt = now
	m.sessions[sessionID] = row
	return nil
}

func (m *memStore) AdvanceLastPoint(_ context.Context, sessionID string, p models.Location, at, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.sessions[sessionID]
	if !ok {
		return false, nil
	}
	if row.LastPointAt != nil && !row.LastPointAt.Before(at) {
		return false, nil
	}
	row.LastPoint = &p
	row.LastPointAt = &at
	row.UpdatedAt = now
	m.sessions[sessionID] = row
	return true, nil
}

func (m *memStore) FindInactiveSince(_ context.Context, _ time.Time, _ int) ([]models.TrackingSession, error) {
	return nil, nil
}

func (m *memStore) FindNeverUpdatedSince(_ context.Context, _ time.Time, _ int) ([]models.TrackingSession, error) {
	return nil, nil
}

func (m *memStore) ArchiveFinishedBefore(_ context.Context, _ time.Time, _ int, _ time.Time) (int64, error) {
	return 0, nil
}

func (m *memStore) FindFinishedBefore(_ context.Context, _ time.Time, _ int) ([]string, error) {
	return nil, nil
}

func (m *memStore) InsertBatch(_ context.Context, pts []models.TrackingPoint) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inserted := 0
	for _, p := range pts {
		dup := false
		for _, existing := range m.points {
			if existing.SessionID == p.SessionID && existing.EventID == p.EventID {
				dup = true
				break
			}
		}
		if !dup {
			m.points = append(m.points, p)
			inserted++
		}
	}
	return inserted, nil
}

func (m *memStore) CountByRange(ctx context.Context, sessionID string, from, to *time.Time) (int64, error) {
	pts, _ := m.FindByRange(ctx, sessionID, from, to)
	return int64(len(pts)), nil
}

func (m *memStore) FindByRange(_ context.Context, sessionID string, from, to *time.Time) ([]models.TrackingPoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.TrackingPoint
	for _, p := range m.points {
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

func (m *memStore) DeleteOlderThan(_ context.Context, _ time.Time, _ int) (int64, error) {
	return 0, nil
}

func (m *memStore) Replace(_ context.Context, s models.SessionSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.summaries[s.SessionID] = s
	return nil
}

func (m *memStore) FindBySessionID(_ context.Context, sessionID string) (*models.SessionSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.summaries[sessionID]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (m *memStore) MarkPruned(_ context.Context, _ []string, _ time.Time) (int64, error) {
	return 0, nil
}

func (m *memStore) IncrementAndGet(_ context.Context, key string, delta int64, _ time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[key] += delta
	return m.counters[key], nil
}

func (m *memStore) Put(_ context.Context, snap models.LastLocationSnapshot, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snaps[snap.UserID] = snap
	return nil
}

func (m *memStore) Get(_ context.Context, userID string) (*models.LastLocationSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.snaps[userID]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (m *memStore) Members(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.snaps))
	for id := range m.snaps {
		out = append(out, id)
	}
	return out, nil
}

func (m *memStore) FetchMembers(_ context.Context, ids []string) (map[string]models.LastLocationSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]models.LastLocationSnapshot)
	for _, id := range ids {
		if s, ok := m.snaps[id]; ok {
			out[id] = s
		}
	}
	return out, nil
}

func (m *memStore) RemoveMembers(_ context.Context, _ []string) error { return nil }
func (m *memStore) Remove(_ context.Context, _ string) error          { return nil }

// asUser injects claims the way the auth middleware would.
func asUser(userID string, role models.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := &models.Claims{UserID: userID, Username: userID, Role: role}
			next.ServeHTTP(w, r.WithContext(middleware.ContextWithUser(r.Context(), claims)))
		})
	}
}

func newTrackingTestServer(t *testing.T, userID string, role models.Role) (*httptest.Server, *memStore) {
	t.Helper()
	store := newMemStore()

	b := realtime.NewBroadcaster(time.Hour)
	t.Cleanup(b.Stop)
	cache := realtime.NewCache(store, b, 15*time.Minute, 90*time.Second)
	limiter := ratelimit.New(store, 600, time.Minute)
	builder := tracking.NewSummaryBuilder(store, store, 2000, 15)
	lifecycle := tracking.NewLifecycle(store, builder, cache)
	ingestor := tracking.NewIngestor(store, store, limiter, cache, 200)
	history := tracking.NewHistoryReader(store, store, 1000, 50000)
	queries := tracking.NewQueries(store, store)

	h := NewTrackingHandler(lifecycle, ingestor, history, queries, cache)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/sessions", h.StartSession)
	mux.HandleFunc("GET /api/sessions", h.ListSessions)
	mux.HandleFunc("GET /api/sessions/{id}", h.GetSession)
	mux.HandleFunc("POST /api/sessions/{id}/stop", h.StopSession)
	mux.HandleFunc("POST /api/sessions/{id}/points", h.IngestPoints)
	mux.HandleFunc("GET /api/sessions/{id}/points", h.GetPoints)
	mux.HandleFunc("GET /api/sessions/{id}/summary", h.GetSummary)

	srv := httptest.NewServer(asUser(userID, role)(mux))
	t.Cleanup(srv.Close)
	return srv, store
}

func doJSON(t *testing.T, method, url string, body interface{}) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestTrackingEndpoints_FullSessionFlow(t *testing.T) {
	srv, _ := newTrackingTestServer(t, "u1", models.RoleUser)

	// Start.
	resp := doJSON(t, "POST", srv.URL+"/api/sessions", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var session models.TrackingSession
	decodeBody(t, resp, &session)
	require.NotEmpty(t, session.ID)

	// A second start conflicts.
	resp = doJSON(t, "POST", srv.URL+"/api/sessions", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()

	// Ingest a small batch.
	ts := time.Now().UTC().Truncate(time.Second)
	batch := []map[string]interface{}{
		{"event_id": "e1", "lat": 41.31, "lon": 69.28, "device_timestamp": ts.Format(time.RFC3339)},
		{"event_id": "e2", "lat": 41.32, "lon": 69.29, "device_timestamp": ts.Add(5 * time.Second).Format(time.RFC3339)},
	}
	resp = doJSON(t, "POST", srv.URL+"/api/sessions/"+session.ID+"/points", batch)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var ingest tracking.IngestResult
	decodeBody(t, resp, &ingest)
	assert.Equal(t, 2, ingest.Inserted)

	// Stop with explicit coordinates.
	resp = doJSON(t, "POST", srv.URL+"/api/sessions/"+session.ID+"/stop",
		map[string]float64{"stop_lat": 41.33, "stop_lon": 69.30})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var stopped models.TrackingSession
	decodeBody(t, resp, &stopped)
	assert.Equal(t, models.StatusStopped, stopped.Status)
	require.NotNil(t, stopped.StopPoint)
	assert.Equal(t, 41.33, stopped.StopPoint.Lat)

	// Summary exists now.
	resp = doJSON(t, "GET", srv.URL+"/api/sessions/"+session.ID+"/summary", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var summary models.SessionSummary
	decodeBody(t, resp, &summary)
	assert.Equal(t, 2, summary.PointsCount)
	assert.NotEmpty(t, summary.Polyline)

	// History returns both points.
	resp = doJSON(t, "GET", srv.URL+"/api/sessions/"+session.ID+"/points", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var hist tracking.HistoryResult
	decodeBody(t, resp, &hist)
	assert.Len(t, hist.Points, 2)
	assert.False(t, hist.Truncated)

	// Listing shows the finished session.
	resp = doJSON(t, "GET", srv.URL+"/api/sessions", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var sessions []models.TrackingSession
	decodeBody(t, resp, &sessions)
	require.Len(t, sessions, 1)

	// Further ingestion is refused.
	resp = doJSON(t, "POST", srv.URL+"/api/sessions/"+session.ID+"/points", batch)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestTrackingEndpoints_ForeignSessionHidden(t *testing.T) {
	srv, store := newTrackingTestServer(t, "u2", models.RoleUser)

	// Someone else's session in storage.
	_ = store.Insert(context.Background(), models.TrackingSession{
		ID:        "other-session",
		UserID:    "u1",
		Status:    models.StatusActive,
		StartTime: time.Now(),
	})

	resp := doJSON(t, "GET", srv.URL+"/api/sessions/other-session", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, "GET", srv.URL+"/api/sessions/no-such", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestTrackingEndpoints_AdminReadsForeignSession(t *testing.T) {
	srv, store := newTrackingTestServer(t, "admin", models.RoleAdmin)

	_ = store.Insert(context.Background(), models.TrackingSession{
		ID:        "other-session",
		UserID:    "u1",
		Status:    models.StatusActive,
		StartTime: time.Now(),
	})

	resp := doJSON(t, "GET", srv.URL+"/api/sessions/other-session", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

func TestTrackingEndpoints_InvalidBatchJSON(t *testing.T) {
	srv, _ := newTrackingTestServer(t, "u1", models.RoleUser)

	resp := doJSON(t, "POST", srv.URL+"/api/sessions", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var session models.TrackingSession
	decodeBody(t, resp, &session)

	req, _ := http.NewRequest("POST", srv.URL+"/api/sessions/"+session.ID+"/points",
		bytes.NewBufferString("{not json"))
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}
