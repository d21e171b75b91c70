package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rhaen/tracker/internal/auth"
	"github.com/rhaen/tracker/internal/config"
	"github.com/rhaen/tracker/internal/db"
	"github.com/rhaen/tracker/internal/handlers"
	"github.com/rhaen/tracker/internal/middleware"
	"github.com/rhaen/tracker/internal/mqtt"
	"github.com/rhaen/tracker/internal/ratelimit"
	"github.com/rhaen/tracker/internal/realtime"
	"github.com/rhaen/tracker/internal/sweeper"
	"github.com/rhaen/tracker/internal/tracking"
	log "github.com/sirupsen/logrus"
)

func main() {
	log.SetFormatter(&log.JSONFormatter{})

	cfg := config.Load()

	client, err := db.ConnectMongo(cfg.MongoURI)
	if err != nil {
		log.WithError(err).Fatal("failed to connect to MongoDB")
	}
	defer func() {
		if err := client.Disconnect(context.Background()); err != nil {
			log.WithError(err).Warn("mongo disconnect failed")
		}
	}()
	database := client.Database(cfg.MongoDB)

	indexCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := db.EnsureIndexes(indexCtx, database); err != nil {
		cancel()
		log.WithError(err).Fatal("failed to ensure indexes")
	}
	cancel()
	log.Info("connected to MongoDB, indexes ensured")

	sessions := &db.MongoSessionCollection{Collection: database.Collection(db.CollSessions)}
	points := &db.MongoPointCollection{Collection: database.Collection(db.CollPoints)}
	summaries := &db.MongoSummaryCollection{Collection: database.Collection(db.CollSummaries)}
	counters := &db.MongoCounterStore{Collection: database.Collection(db.CollCounters)}
	snapshots := &db.MongoSnapshotStore{
		Snapshots: database.Collection(db.CollSnapshots),
		Users:     database.Collection(db.CollSnapshotUsers),
	}
	users := &db.MongoUserCollection{Collection: database.Collection(db.CollUsers)}

	broadcaster := realtime.NewBroadcaster(cfg.HeartbeatInterval)
	broadcaster.Start()
	defer broadcaster.Stop()

	cache := realtime.NewCache(snapshots, broadcaster, cfg.CacheTTL, cfg.StaleAfter)
	limiter := ratelimit.New(counters, cfg.PointsPerWindow, time.Duration(cfg.WindowSeconds)*time.Second)

	builder := tracking.NewSummaryBuilder(points, summaries, cfg.SummaryMaxPolylinePoints, cfg.SummarySimplifyEpsilonM)
	lifecycle := tracking.NewLifecycle(sessions, builder, cache)
	ingestor := tracking.NewIngestor(sessions, points, limiter, cache, cfg.MaxBatchSize)
	history := tracking.NewHistoryReader(sessions, points, cfg.HistoryDefaultMaxPoints, cfg.HistoryHardLimitPoints)
	queries := tracking.NewQueries(sessions, summaries)

	expiry := sweeper.NewExpirySweeper(sessions, lifecycle,
		cfg.ExpireAfter, cfg.NoPointExpireAfter, cfg.ExpirySweepEvery, cfg.ExpirySweepBatch)
	expiry.Start()
	defer expiry.Stop()

	retention := sweeper.NewRetentionSweeper(sessions, points, summaries,
		cfg.ArchiveAfter, cfg.PrunePointsAfter, cfg.RetentionSweepEvery,
		cfg.RetentionBatchCount, cfg.RetentionBatchPoints, cfg.RetentionAtStartup)
	retention.Start()
	defer retention.Stop()

	authService := auth.NewService(cfg.JWTSecret, cfg.JWTExpiry, cfg.StreamTokenTTL)
	authMw := middleware.NewAuthMiddleware(authService)
	loginLimiter := middleware.NewRateLimitMiddleware()

	authHandler := handlers.NewAuthHandler(authService, users)
	trackingHandler := handlers.NewTrackingHandler(lifecycle, ingestor, history, queries, cache)
	streamHandler := handlers.NewStreamHandler(authService, broadcaster, cache)

	mux := http.NewServeMux()
	mux.Handle("POST /api/auth/login", loginLimiter.RateLimit(10, 60)(http.HandlerFunc(authHandler.Login)))
	mux.Handle("POST /api/auth/register", loginLimiter.RateLimit(10, 60)(http.HandlerFunc(authHandler.Register)))
	mux.HandleFunc("GET /api/auth/profile", authHandler.GetProfile)

	mux.HandleFunc("POST /api/sessions", trackingHandler.StartSession)
	mux.HandleFunc("GET /api/sessions", trackingHandler.ListSessions)
	mux.HandleFunc("GET /api/sessions/{id}", trackingHandler.GetSession)
	mux.HandleFunc("POST /api/sessions/{id}/stop", trackingHandler.StopSession)
	mux.HandleFunc("POST /api/sessions/{id}/points", trackingHandler.IngestPoints)
	mux.HandleFunc("GET /api/sessions/{id}/points", trackingHandler.GetPoints)
	mux.HandleFunc("GET /api/sessions/{id}/summary", trackingHandler.GetSummary)

	mux.Handle("GET /api/locations", authMw.RequireAdmin(http.HandlerFunc(trackingHandler.GetLastLocations)))

	mux.HandleFunc("GET /api/stream/token", streamHandler.Token)
	mux.HandleFunc("GET /api/stream/live", streamHandler.Live)

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	if cfg.MQTTBroker != "" {
		bridge := mqtt.NewBridge(cfg.MQTTBroker, "tracker-ingest", cfg.MQTTIngestTopic, authService, ingestor)
		if err := bridge.Start(); err != nil {
			log.WithError(err).Fatal("failed to start mqtt ingest bridge")
		}
		defer bridge.Stop()
	}

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: authMw.Authenticate(mux),
	}

	go func() {
		log.WithField("addr", cfg.ListenAddr).Info("http server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("http server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("http shutdown failed")
	}
}
