// Command simulator registers demo users, starts tracking sessions and
// streams synthetic GPS batches at the API, following real road
// geometry when the routing service is reachable.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// Location represents a geographical location with latitude and longitude coordinates.
type Location struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Point is one GPS fix in an upload batch.
type Point struct {
	EventID         string    `json:"event_id"`
	Lat             float64   `json:"lat"`
	Lon             float64   `json:"lon"`
	DeviceTimestamp time.Time `json:"device_timestamp"`
	SpeedMps        *float64  `json:"speed_mps,omitempty"`
	AccuracyM       *float64  `json:"accuracy_m,omitempty"`
	Provider        string    `json:"provider,omitempty"`
}

// Cities for realistic routes
var cities = []Location{
	{Lat: 51.5074, Lon: -0.1278},  // London
	{Lat: 40.7128, Lon: -74.0060}, // New York
	{Lat: 40.4168, Lon: -3.7038},  // Madrid
	{Lat: 48.8566, Lon: 2.3522},   // Paris
	{Lat: 41.0082, Lon: 28.9784},  // Istanbul
	{Lat: 41.3111, Lon: 69.2797},  // Tashkent
	{Lat: 52.5200, Lon: 13.4050},  // Berlin
	{Lat: 35.6762, Lon: 139.6503}, // Tokyo
	{Lat: 1.3521, Lon: 103.8198},  // Singapore
	{Lat: 43.6532, Lon: -79.3832}, // Toronto
}

func jitterLocation(base Location, meters float64) Location {
	latMetersPerDeg := 111320.0
	lonMetersPerDeg := 111320.0 * math.Cos(base.Lat*math.Pi/180)
	dLat := (rand.Float64()*2 - 1) * (meters / latMetersPerDeg)
	dLon := (rand.Float64()*2 - 1) * (meters / lonMetersPerDeg)
	return Location{Lat: base.Lat + dLat, Lon: base.Lon + dLon}
}

func randomLocation() Location {
	base := cities[rand.Intn(len(cities))]
	return jitterLocation(base, 500) // start close to roads
}

// --- API client ---

type apiClient struct {
	baseURL string
	token   string
	http    *http.Client
}

func newAPIClient(baseURL string) *apiClient {
	return &apiClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *apiClient) post(path string, body interface{}, out interface{}) (int, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, bytes.NewBuffer(data))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, err
		}
	}
	return resp.StatusCode, nil
}

// registerOrLogin provisions a demo account and keeps its token.
func (c *apiClient) registerOrLogin(username, password string) error {
	var resp struct {
		Token string `json:"token"`
	}
	creds := map[string]string{
		"username": username,
		"email":    username + "@example.com",
		"password": password,
	}

	status, err := c.post("/api/auth/register", creds, &resp)
	if err != nil {
		return err
	}
	if status == http.StatusConflict {
		status, err = c.post("/api/auth/login", creds, &resp)
		if err != nil {
			return err
		}
	}
	if resp.Token == "" {
		return fmt.Errorf("auth failed with status %d", status)
	}
	c.token = resp.Token
	return nil
}

func (c *apiClient) startSession() (string, error) {
	var session struct {
		ID string `json:"id"`
	}
	status, err := c.post("/api/sessions", nil, &session)
	if err != nil {
		return "", err
	}
	if session.ID == "" {
		return "", fmt.Errorf("session start failed with status %d", status)
	}
	return session.ID, nil
}

func (c *apiClient) sendBatch(sessionID string, batch []Point) {
	status, err := c.post("/api/sessions/"+sessionID+"/points", batch, nil)
	if err != nil {
		log.WithError(err).Error("Failed to send batch")
		return
	}
	log.WithFields(log.Fields{
		"session_id": sessionID,
		"points":     len(batch),
		"status":     status,
	}).Info("Sent batch")
}

func (c *apiClient) stopSession(sessionID string, at Location) {
	body := map[string]float64{"stop_lat": at.Lat, "stop_lon": at.Lon}
	if _, err := c.post("/api/sessions/"+sessionID+"/stop", body, nil); err != nil {
		log.WithError(err).Error("Failed to stop session")
	}
}

// --- Routing & movement ---

type TrackerRoute struct {
	Points    []Location
	SegIndex  int
	SegOffset float64 // km along current segment
}

type TrackerState struct {
	SessionID string
	Position  Location
	SpeedKmh  float64
	Route     *TrackerRoute
}

func haversineKm(a, b Location) float64 {
	R := 6371.0
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	s := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(s), math.Sqrt(1-s))
	return R * c
}

func lerp(a, b Location, t float64) Location {
	return Location{Lat: a.Lat + (b.Lat-a.Lat)*t, Lon: a.Lon + (b.Lon-a.Lon)*t}
}

func fetchOSRMRoute(start, end Location) ([]Location, error) {
	url := fmt.Sprintf("https://router.project-osrm.org/route/v1/driving/%.6f,%.6f;%.6f,%.6f?overview=full&geometries=geojson", start.Lon, start.Lat, end.Lon, end.Lat)
	resp, err := http.Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("osrm status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var obj struct {
		Routes []struct {
			Geometry struct {
				Coordinates [][]float64 `json:"coordinates"`
			} `json:"geometry"`
		} `json:"routes"`
	}
	if err := json.Unmarshal(body, &obj); err != nil {
		return nil, err
	}
	if len(obj.Routes) == 0 || len(obj.Routes[0].Geometry.Coordinates) < 2 {
		return nil, fmt.Errorf("no route")
	}
	coords := obj.Routes[0].Geometry.Coordinates
	pts := make([]Location, 0, len(coords))
	for _, c := range coords {
		if len(c) < 2 {
			continue
		}
		pts = append(pts, Location{Lat: c[1], Lon: c[0]})
	}
	return pts, nil
}

func planNewRoute(s *TrackerState) {
	start := s.Position
	// pick far city
	var end Location
	for i := 0; i < 10; i++ {
		cand := cities[rand.Intn(len(cities))]
		if haversineKm(start, cand) > 50 {
			end = jitterLocation(cand, 500)
			break
		}
	}
	pts, err := fetchOSRMRoute(start, end)
	if err != nil {
		// fallback small jitter loop
		s.Route = &TrackerRoute{Points: []Location{start, jitterLocation(start, 2000)}, SegIndex: 0, SegOffset: 0}
		return
	}
	s.Route = &TrackerRoute{Points: pts, SegIndex: 0, SegOffset: 0}
}

func stepAlongRoute(s *TrackerState, tickSec float64) {
	if s.Route == nil || len(s.Route.Points) < 2 {
		planNewRoute(s)
	}
	remKm := s.SpeedKmh * (tickSec / 3600.0)
	for remKm > 0 && s.Route.SegIndex < len(s.Route.Points)-1 {
		a := s.Route.Points[s.Route.SegIndex]
		b := s.Route.Points[s.Route.SegIndex+1]
		segLen := haversineKm(a, b)
		leftOnSeg := segLen - s.Route.SegOffset
		if remKm >= leftOnSeg {
			// advance to next segment
			s.Position = b
			s.Route.SegIndex++
			s.Route.SegOffset = 0
			remKm -= leftOnSeg
			continue
		}
		// stay on current segment
		t := (s.Route.SegOffset + remKm) / segLen
		if t < 0 {
			t = 0
		}
		if t > 1 {
			t = 1
		}
		s.Position = lerp(a, b, t)
		s.Route.SegOffset += remKm
		remKm = 0
	}
	// if reached end, plan new
	if s.Route.SegIndex >= len(s.Route.Points)-1 {
		planNewRoute(s)
	}
}

func pointFromState(s *TrackerState) Point {
	speed := s.SpeedKmh / 3.6
	accuracy := 3 + rand.Float64()*12
	return Point{
		EventID:         uuid.NewString(),
		Lat:             s.Position.Lat,
		Lon:             s.Position.Lon,
		DeviceTimestamp: time.Now(),
		SpeedMps:        &speed,
		AccuracyM:       &accuracy,
		Provider:        "gps",
	}
}

func simulateTracker(client *apiClient, s *TrackerState, interval time.Duration, batchSize int) {
	if s.Route == nil {
		planNewRoute(s)
	}
	batch := make([]Point, 0, batchSize)
	tick := time.NewTicker(interval)
	defer tick.Stop()
	for range tick.C {
		// small speed noise
		s.SpeedKmh += (rand.Float64()*2 - 1) * 1.5
		if s.SpeedKmh < 15 {
			s.SpeedKmh = 15
		}
		if s.SpeedKmh > 90 {
			s.SpeedKmh = 90
		}

		stepAlongRoute(s, interval.Seconds())
		batch = append(batch, pointFromState(s))

		if len(batch) >= batchSize {
			client.sendBatch(s.SessionID, batch)
			batch = batch[:0]
		}
	}
}

func main() {
	trackerCount := 5
	if val := os.Getenv("TRACKER_COUNT"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			trackerCount = n
		}
	}

	apiURL := os.Getenv("API_BASE_URL")
	if apiURL == "" {
		apiURL = "http://localhost:8080"
	}

	interval := 2 * time.Second
	if v := os.Getenv("SIM_TICK_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 1 {
			interval = time.Duration(n) * time.Second
		}
	}

	batchSize := 5
	if v := os.Getenv("SIM_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 1 {
			batchSize = n
		}
	}

	log.WithFields(log.Fields{
		"trackers":   trackerCount,
		"api_url":    apiURL,
		"interval":   interval,
		"batch_size": batchSize,
	}).Info("Starting tracking simulation")

	states := make([]*TrackerState, 0, trackerCount)
	clients := make([]*apiClient, 0, trackerCount)
	for i := 0; i < trackerCount; i++ {
		client := newAPIClient(apiURL)
		username := fmt.Sprintf("sim-tracker-%d", i+1)
		if err := client.registerOrLogin(username, "simulator-pass-123"); err != nil {
			log.WithError(err).WithField("username", username).Error("Failed to authenticate")
			continue
		}

		sessionID, err := client.startSession()
		if err != nil {
			log.WithError(err).WithField("username", username).Error("Failed to start session")
			continue
		}

		states = append(states, &TrackerState{
			SessionID: sessionID,
			Position:  randomLocation(),
			SpeedKmh:  30 + rand.Float64()*30,
		})
		clients = append(clients, client)
	}

	log.WithField("active_trackers", len(states)).Info("Session creation completed")
	if len(states) == 0 {
		log.Error("No sessions started. Ensure the API is reachable. Exiting.")
		time.Sleep(2 * time.Second)
		return
	}

	for i, s := range states {
		go simulateTracker(clients[i], s, interval, batchSize)
	}

	log.Info("Point streaming started")
	select {} // Block forever
}
