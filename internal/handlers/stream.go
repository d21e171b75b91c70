package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rhaen/tracker/internal/auth"
	"github.com/rhaen/tracker/internal/middleware"
	"github.com/rhaen/tracker/internal/realtime"
	log "github.com/sirupsen/logrus"
)

const streamWriteTimeout = 10 * time.Second

// StreamHandler serves the live last-location feed over WebSocket.
// Browsers cannot attach an Authorization header to the handshake, so
// clients first fetch a short-lived scoped token and pass it as a query
// parameter.
type StreamHandler struct {
	authService *auth.Service
	broadcaster *realtime.Broadcaster
	cache       *realtime.Cache
	upgrader    websocket.Upgrader
}

// NewStreamHandler creates the stream handler.
func NewStreamHandler(authService *auth.Service, broadcaster *realtime.Broadcaster, cache *realtime.Cache) *StreamHandler {
	return &StreamHandler{
		authService: authService,
		broadcaster: broadcaster,
		cache:       cache,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The scoped token is the access control; origins vary
			// across dashboard deployments.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Token mints a stream token for the authenticated caller.
func (h *StreamHandler) Token(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.GetUserFromContext(r.Context())
	if !ok {
		http.Error(w, "User context not found", http.StatusUnauthorized)
		return
	}

	token, err := h.authService.GenerateStreamToken(claims)
	if err != nil {
		http.Error(w, "Failed to generate stream token", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// Live upgrades the connection and streams location updates until the
// client goes away or falls too far behind.
func (h *StreamHandler) Live(w http.ResponseWriter, r *http.Request) {
	claims, err := h.authService.ValidateStreamToken(r.URL.Query().Get("token"))
	if err != nil {
		http.Error(w, "Invalid stream token", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Warn("stream upgrade failed")
		return
	}

	sub := h.broadcaster.Subscribe()
	defer h.broadcaster.Unsubscribe(sub)

	log.WithFields(log.Fields{
		"user_id":     claims.UserID,
		"connections": h.broadcaster.Connections(),
	}).Info("stream client connected")

	// Snapshot of everyone's current position before the live tail.
	events, err := h.cache.GetAll(r.Context())
	if err == nil {
		_ = conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
		if err := conn.WriteJSON(realtime.Event{Name: "snapshot", Data: events}); err != nil {
			_ = conn.Close()
			return
		}
	}

	// Reader goroutine only surfaces disconnects; clients send nothing.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	defer conn.Close()
	for {
		select {
		case ev, open := <-sub.Events():
			if !open {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
