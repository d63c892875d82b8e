package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/vdavid/mailsync/internal/analysis"
	"github.com/vdavid/mailsync/internal/config"
	"github.com/vdavid/mailsync/internal/db"
	"github.com/vdavid/mailsync/internal/metrics"
	"github.com/vdavid/mailsync/internal/queue"
)

func main() {
	log.SetFormatter(&log.JSONFormatter{})

	cfg, err := config.NewConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.AMQPURL == "" {
		log.Fatal("MAILSYNC_AMQP_URL is required for the analysis worker")
	}
	if cfg.AnalysisWebhookURL == "" {
		log.Fatal("MAILSYNC_ANALYSIS_WEBHOOK_URL is required for the analysis worker")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewConnection(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.CloseConnection(pool)

	client, err := queue.NewClient(cfg.AMQPURL)
	if err != nil {
		log.Fatalf("Failed to connect to message broker: %v", err)
	}
	defer func() { _ = client.Close() }()

	if err := queue.DeclareTopology(client); err != nil {
		log.Fatalf("Failed to declare queue topology: %v", err)
	}

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)
	go serveMetrics(ctx, ":"+cfg.Port, registry)

	worker := analysis.NewWorker(
		db.NewStore(pool),
		analysis.NewWebhookAnalyzer(cfg.AnalysisWebhookURL, cfg.InternalAPISecret, 0),
		queue.NewAnalysisPublisher(queue.NewPublisher(client)),
		cfg.AnalysisMaxAttempts,
		collector,
	)

	log.WithField("queue", queue.AnalysisQueue).Info("Analysis worker started")

	if err := queue.NewConsumer(client, worker).Consume(ctx, queue.AnalysisQueue); err != nil {
		log.Fatalf("Consumer stopped: %v", err)
	}
	log.Info("Analysis worker stopped")
}

func serveMetrics(ctx context.Context, addr string, gatherer prometheus.Gatherer) {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		_ = server.Close()
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.WithError(err).Error("Metrics server failed")
	}
}
