// Package handlers exposes the tracking engine over HTTP.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/rhaen/tracker/internal/tracking"
	log "github.com/sirupsen/logrus"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Error("failed to encode response")
	}
}

// writeError maps the engine's error kinds onto HTTP statuses. Unknown
// errors become opaque 500s.
func writeError(w http.ResponseWriter, err error) {
	var rle *tracking.RateLimitError
	if errors.As(err, &rle) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"error":   "rate limit exceeded",
			"current": rle.Current,
		})
		return
	}

	switch {
	case errors.Is(err, tracking.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, tracking.ErrForbidden):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, tracking.ErrConflict):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, tracking.ErrBadRequest):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, tracking.ErrTooManyRequests):
		http.Error(w, err.Error(), http.StatusTooManyRequests)
	default:
		log.WithError(err).Error("request failed")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

func queryInt(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return def
}

func queryFloat(r *http.Request, key string, def float64) float64 {
	if v := r.URL.Query().Get(key); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			return parsed
		}
	}
	return def
}

func queryBool(r *http.Request, key string, def bool) bool {
	if v := r.URL.Query().Get(key); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			return parsed
		}
	}
	return def
}
