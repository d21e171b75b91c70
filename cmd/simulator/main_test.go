package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"testing"
	"time"
)

func TestRandomLocation_NearACity(t *testing.T) {
	for i := 0; i < 20; i++ {
		loc := randomLocation()

		if loc.Lat < -90 || loc.Lat > 90 {
			t.Errorf("Latitude out of range: %f", loc.Lat)
		}
		if loc.Lon < -180 || loc.Lon > 180 {
			t.Errorf("Longitude out of range: %f", loc.Lon)
		}

		// Jitter is 500m, so the point must sit within ~1km of some city.
		near := false
		for _, c := range cities {
			if haversineKm(loc, c) < 1.0 {
				near = true
				break
			}
		}
		if !near {
			t.Errorf("Location %+v not near any seed city", loc)
		}
	}
}

func TestJitterLocation_StaysWithinRadius(t *testing.T) {
	base := Location{Lat: 51.5074, Lon: -0.1278}
	for i := 0; i < 50; i++ {
		j := jitterLocation(base, 100)
		if d := haversineKm(base, j); d > 0.2 {
			t.Errorf("Jittered point %fkm away, expected under 0.2km", d)
		}
	}
}

func TestHaversineKm_KnownDistance(t *testing.T) {
	london := Location{Lat: 51.5074, Lon: -0.1278}
	paris := Location{Lat: 48.8566, Lon: 2.3522}

	d := haversineKm(london, paris)
	if d < 330 || d > 360 {
		t.Errorf("London-Paris distance out of range: %fkm", d)
	}
	if haversineKm(london, london) != 0 {
		t.Error("Distance to self should be zero")
	}
}

func TestLerp(t *testing.T) {
	a := Location{Lat: 0, Lon: 0}
	b := Location{Lat: 10, Lon: 20}

	mid := lerp(a, b, 0.5)
	if mid.Lat != 5 || mid.Lon != 10 {
		t.Errorf("Midpoint wrong: %+v", mid)
	}
	if got := lerp(a, b, 0); got != a {
		t.Errorf("t=0 should return start, got %+v", got)
	}
	if got := lerp(a, b, 1); got != b {
		t.Errorf("t=1 should return end, got %+v", got)
	}
}

func TestStepAlongRoute_AdvancesPosition(t *testing.T) {
	start := Location{Lat: 51.0, Lon: 0.0}
	end := Location{Lat: 51.0, Lon: 0.1} // ~7km east
	s := &TrackerState{
		Position: start,
		SpeedKmh: 36, // 10 m/s
		Route:    &TrackerRoute{Points: []Location{start, end}},
	}

	stepAlongRoute(s, 10) // 100m of travel
	moved := haversineKm(start, s.Position)
	if moved < 0.05 || moved > 0.2 {
		t.Errorf("Expected ~0.1km of movement, got %fkm", moved)
	}
	if s.Position.Lon <= start.Lon {
		t.Errorf("Expected eastward movement, got lon %f", s.Position.Lon)
	}
}

func TestPointFromState(t *testing.T) {
	s := &TrackerState{
		Position: Location{Lat: 41.31, Lon: 69.28},
		SpeedKmh: 36,
	}

	before := time.Now()
	p := pointFromState(s)

	if p.EventID == "" {
		t.Error("Expected generated event id")
	}
	if p.Lat != 41.31 || p.Lon != 69.28 {
		t.Errorf("Coordinates mismatch: %+v", p)
	}
	if p.SpeedMps == nil || *p.SpeedMps != 10 {
		t.Errorf("Expected 10 m/s, got %v", p.SpeedMps)
	}
	if p.AccuracyM == nil || *p.AccuracyM < 3 || *p.AccuracyM > 15 {
		t.Errorf("Accuracy out of range: %v", p.AccuracyM)
	}
	if p.DeviceTimestamp.Before(before) {
		t.Error("Device timestamp in the past")
	}

	p2 := pointFromState(s)
	if p2.EventID == p.EventID {
		t.Error("Event ids must be unique per fix")
	}
}

func TestRegisterOrLogin_FallsBackToLogin(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/auth/register":
			w.WriteHeader(http.StatusConflict)
		case "/api/auth/login":
			json.NewEncoder(w).Encode(map[string]string{"token": "tok-1"})
		default:
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
	}))
	defer server.Close()

	client := newAPIClient(server.URL)
	if err := client.registerOrLogin("sim-1", "simulator-pass-123"); err != nil {
		t.Fatalf("registerOrLogin failed: %v", err)
	}
	if client.token != "tok-1" {
		t.Errorf("Expected token from login, got %q", client.token)
	}
}

func TestStartSessionAndSendBatch(t *testing.T) {
	var gotBatch []Point
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok-1" {
			t.Errorf("Missing bearer token, got %q", r.Header.Get("Authorization"))
		}
		switch r.URL.Path {
		case "/api/sessions":
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(map[string]string{"id": "sess-1"})
		case "/api/sessions/sess-1/points":
			if err := json.NewDecoder(r.Body).Decode(&gotBatch); err != nil {
				t.Errorf("Bad batch payload: %v", err)
			}
			w.WriteHeader(http.StatusOK)
		default:
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
	}))
	defer server.Close()

	client := newAPIClient(server.URL)
	client.token = "tok-1"

	sessionID, err := client.startSession()
	if err != nil {
		t.Fatalf("startSession failed: %v", err)
	}
	if sessionID != "sess-1" {
		t.Errorf("Expected sess-1, got %s", sessionID)
	}

	client.sendBatch(sessionID, []Point{
		{EventID: "e1", Lat: 51.0, Lon: 0.0, DeviceTimestamp: time.Now()},
		{EventID: "e2", Lat: 51.0, Lon: 0.001, DeviceTimestamp: time.Now()},
	})
	if len(gotBatch) != 2 {
		t.Fatalf("Expected 2 points delivered, got %d", len(gotBatch))
	}
	if gotBatch[0].EventID != "e1" {
		t.Errorf("Batch order not preserved: %+v", gotBatch)
	}
}

func TestSendBatch_SurvivesServerErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := newAPIClient(server.URL)
	client.sendBatch("sess-1", []Point{{EventID: "e1"}})

	// Unreachable host must not panic either.
	client = newAPIClient("http://127.0.0.1:1")
	client.sendBatch("sess-1", []Point{{EventID: "e1"}})
}

func TestMainLogic_TrackerCount(t *testing.T) {
	testCases := []struct {
		envValue string
		expected int
	}{
		{"", 5},
		{"3", 3},
		{"invalid", 5},
		{"50", 50},
	}

	for _, tc := range testCases {
		if tc.envValue != "" {
			os.Setenv("TRACKER_COUNT", tc.envValue)
		} else {
			os.Unsetenv("TRACKER_COUNT")
		}

		trackerCount := 5
		if val := os.Getenv("TRACKER_COUNT"); val != "" {
			if n, err := strconv.Atoi(val); err == nil {
				trackerCount = n
			}
		}

		if trackerCount != tc.expected {
			t.Errorf("For env value '%s', expected %d trackers, got %d", tc.envValue, tc.expected, trackerCount)
		}
	}
	os.Unsetenv("TRACKER_COUNT")
}
