package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/vdavid/mailsync/internal/api"
	"github.com/vdavid/mailsync/internal/auth"
	"github.com/vdavid/mailsync/internal/config"
	"github.com/vdavid/mailsync/internal/db"
	"github.com/vdavid/mailsync/internal/imap"
	"github.com/vdavid/mailsync/internal/lock"
	"github.com/vdavid/mailsync/internal/mailsync"
	"github.com/vdavid/mailsync/internal/metrics"
	"github.com/vdavid/mailsync/internal/queue"
	"github.com/vdavid/mailsync/internal/scheduler"
	ws "github.com/vdavid/mailsync/internal/websocket"
)

const (
	maxConnectionsPerUser = 10
	shutdownTimeout       = 30 * time.Second
)

func main() {
	log.SetFormatter(&log.JSONFormatter{})

	cfg, err := config.NewConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewConnection(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.CloseConnection(pool)

	log.Info("Successfully connected to database")

	store := db.NewStore(pool)
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(registry)
	hub := ws.NewHub(maxConnectionsPerUser, collector)

	deps := mailsync.Deps{
		Accounts:  store,
		Emails:    store,
		Transport: mailsync.NewIMAPTransport(imap.NewDialer(cfg.IMAPConnectTimeout)),
		Locker:    lock.Noop{},
		Notifier:  hub,
		Recorder:  collector,
	}

	if cfg.RedisURL != "" {
		redisClient, err := lock.Connect(ctx, cfg.RedisURL)
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer func() { _ = redisClient.Close() }()
		deps.Locker = lock.NewRedisLocker(redisClient, lock.DefaultTTL)
		log.Info("Per-account sync locks use Redis")
	}

	if cfg.AMQPURL != "" {
		client, err := queue.NewClient(cfg.AMQPURL)
		if err != nil {
			log.Fatalf("Failed to connect to message broker: %v", err)
		}
		defer func() { _ = client.Close() }()
		if err := queue.DeclareTopology(client); err != nil {
			log.Fatalf("Failed to declare queue topology: %v", err)
		}
		deps.Queue = queue.NewAnalysisPublisher(queue.NewPublisher(client))
		log.Info("New emails are queued for analysis")
	} else {
		log.Warn("MAILSYNC_AMQP_URL is not set, new emails will not be queued for analysis")
	}

	syncer := mailsync.NewSyncer(deps, mailsync.Options{
		EncryptionKey:     cfg.EncryptionKey,
		BatchSize:         cfg.SyncBatchSize,
		DefaultMaxEmails:  cfg.DefaultMaxEmails,
		MaxEmailsLimit:    cfg.MaxEmailsLimit,
		AnalysisBatchSize: cfg.AnalysisBatchSize,
		SentFolderNames:   cfg.SentFolderNames,
		ConnectTimeout:    cfg.IMAPConnectTimeout,
	})

	if cfg.SyncSchedule != "" {
		sched := scheduler.New(store, syncer, cfg.DefaultMaxEmails)
		if err := sched.Start(ctx, cfg.SyncSchedule); err != nil {
			log.Fatalf("Failed to start scheduler: %v", err)
		}
		defer sched.Stop()
	}

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           NewServer(cfg, syncer, hub, registry),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Error("Graceful shutdown failed")
		}
	}()

	log.Infof("Mailsync server starting on %s (environment: %s)", server.Addr, cfg.Environment)

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("Server failed to start: %v", err)
	}
	log.Info("Server stopped")
}

// NewServer creates the HTTP handler for the sync API.
func NewServer(cfg *config.Config, syncer api.Syncer, hub *ws.Hub, gatherer prometheus.Gatherer) http.Handler {
	verifier := auth.NewVerifier(cfg.SessionJWTSecret)
	authenticator := auth.NewAuthenticator(verifier, cfg.InternalAPISecret, cfg.InternalUserAgents)

	syncHandler := api.NewSyncHandler(authenticator, syncer)
	wsHandler := api.NewWebSocketHandler(verifier, hub)

	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", handleRoot)
	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	// The sync handler authenticates itself: internal callers identify the
	// user in the body, so the body has to be read first.
	mux.HandleFunc("POST /api/v1/email/sync", syncHandler.Sync)
	// Browsers can't set headers on WebSocket connections, so the handler
	// also accepts the token as a query parameter.
	mux.HandleFunc("/api/v1/ws", wsHandler.Handle)

	return mux
}

func handleRoot(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "Mailsync API is running")
}
