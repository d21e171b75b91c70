package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rhaen/tracker/internal/middleware"
	"github.com/rhaen/tracker/internal/realtime"
	"github.com/rhaen/tracker/internal/tracking"
)

// TrackingHandler handles session lifecycle, ingestion and read requests.
type TrackingHandler struct {
	lifecycle *tracking.Lifecycle
	ingestor  *tracking.Ingestor
	history   *tracking.HistoryReader
	queries   *tracking.Queries
	cache     *realtime.Cache
}

// NewTrackingHandler creates the tracking handler.
func NewTrackingHandler(lifecycle *tracking.Lifecycle, ingestor *tracking.Ingestor, history *tracking.HistoryReader, queries *tracking.Queries, cache *realtime.Cache) *TrackingHandler {
	return &TrackingHandler{
		lifecycle: lifecycle,
		ingestor:  ingestor,
		history:   history,
		queries:   queries,
		cache:     cache,
	}
}

// StartSession opens a new tracking session for the caller.
func (h *TrackingHandler) StartSession(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.GetUserFromContext(r.Context())
	if !ok {
		http.Error(w, "User context not found", http.StatusUnauthorized)
		return
	}

	session, err := h.lifecycle.Start(r.Context(), claims.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

type stopSessionRequest struct {
	StopTime *time.Time `json:"stop_time,omitempty"`
	StopLat  *float64   `json:"stop_lat,omitempty"`
	StopLon  *float64   `json:"stop_lon,omitempty"`
}

// StopSession ends the caller's session.
func (h *TrackingHandler) StopSession(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.GetUserFromContext(r.Context())
	if !ok {
		http.Error(w, "User context not found", http.StatusUnauthorized)
		return
	}

	var req stopSessionRequest
	if body, err := io.ReadAll(r.Body); err == nil && len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			http.Error(w, "Invalid JSON", http.StatusBadRequest)
			return
		}
	}

	err := h.lifecycle.Stop(r.Context(), r.PathValue("id"), claims.UserID, tracking.StopRequest{
		StopTime: req.StopTime,
		StopLat:  req.StopLat,
		StopLon:  req.StopLon,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	session, err := h.queries.GetSession(r.Context(), r.PathValue("id"), claims.UserID, claims.IsAdmin())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// IngestPoints accepts a batch of GPS points for the session.
func (h *TrackingHandler) IngestPoints(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.GetUserFromContext(r.Context())
	if !ok {
		http.Error(w, "User context not found", http.StatusUnauthorized)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}

	var batch []tracking.PointInput
	if err := json.Unmarshal(body, &batch); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	res, err := h.ingestor.Ingest(r.Context(), r.PathValue("id"), claims.UserID, batch)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ListSessions pages the caller's sessions.
func (h *TrackingHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.GetUserFromContext(r.Context())
	if !ok {
		http.Error(w, "User context not found", http.StatusUnauthorized)
		return
	}

	sessions, err := h.queries.ListSessions(r.Context(), claims.UserID,
		queryInt(r, "page", 0), queryInt(r, "size", 20))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

// GetSession returns one session.
func (h *TrackingHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.GetUserFromContext(r.Context())
	if !ok {
		http.Error(w, "User context not found", http.StatusUnauthorized)
		return
	}

	session, err := h.queries.GetSession(r.Context(), r.PathValue("id"), claims.UserID, claims.IsAdmin())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// GetPoints returns the session's raw track, optionally bounded and
// reduced.
func (h *TrackingHandler) GetPoints(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.GetUserFromContext(r.Context())
	if !ok {
		http.Error(w, "User context not found", http.StatusUnauthorized)
		return
	}

	q := tracking.HistoryQuery{
		Max:              queryInt(r, "max", 0),
		Downsample:       queryBool(r, "downsample", false),
		SimplifyEpsilonM: queryFloat(r, "epsilon_m", 0),
	}
	if v := r.URL.Query().Get("from"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			http.Error(w, "Invalid from timestamp", http.StatusBadRequest)
			return
		}
		q.From = &ts
	}
	if v := r.URL.Query().Get("to"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			http.Error(w, "Invalid to timestamp", http.StatusBadRequest)
			return
		}
		q.To = &ts
	}

	res, err := h.history.GetPoints(r.Context(), r.PathValue("id"), claims.UserID, claims.IsAdmin(), q)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GetSummary returns the session's trip summary.
func (h *TrackingHandler) GetSummary(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.GetUserFromContext(r.Context())
	if !ok {
		http.Error(w, "User context not found", http.StatusUnauthorized)
		return
	}

	summary, err := h.queries.GetSummary(r.Context(), r.PathValue("id"), claims.UserID, claims.IsAdmin())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// GetLastLocations returns every user's latest known position. Admin
// only; routed behind RequireAdmin.
func (h *TrackingHandler) GetLastLocations(w http.ResponseWriter, r *http.Request) {
	events, err := h.cache.GetAll(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}
