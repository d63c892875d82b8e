package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "mailsync"

// Collector records sync and analysis metrics on a Prometheus registry.
type Collector struct {
	syncs          *prometheus.CounterVec
	syncDuration   *prometheus.HistogramVec
	emailsSaved    *prometheus.CounterVec
	batchFailures  *prometheus.CounterVec
	skipped        *prometheus.CounterVec
	analysisTasks  *prometheus.CounterVec
	activeSessions prometheus.Gauge
}

// NewCollector registers the metrics on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		syncs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "syncs_total",
			Help:      "Sync invocations by outcome.",
		}, []string{"outcome"}),
		syncDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_duration_seconds",
			Help:      "Duration of sync invocations.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"outcome"}),
		emailsSaved: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "emails_saved_total",
			Help:      "Emails written to storage by type.",
		}, []string{"type"}),
		batchFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_failures_total",
			Help:      "Failed persistence steps by stage.",
		}, []string{"stage"}),
		skipped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_skipped_total",
			Help:      "Messages not persisted by reason.",
		}, []string{"reason"}),
		analysisTasks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analysis_tasks_total",
			Help:      "Analysis tasks by outcome.",
		}, []string{"outcome"}),
		activeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_connections",
			Help:      "Open websocket connections.",
		}),
	}
}

func (c *Collector) SyncFinished(outcome string, duration time.Duration) {
	c.syncs.WithLabelValues(outcome).Inc()
	c.syncDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

func (c *Collector) EmailsSaved(emailType string, count int) {
	c.emailsSaved.WithLabelValues(emailType).Add(float64(count))
}

func (c *Collector) BatchFailed(stage string) {
	c.batchFailures.WithLabelValues(stage).Inc()
}

func (c *Collector) MessageSkipped(reason string) {
	c.skipped.WithLabelValues(reason).Inc()
}

func (c *Collector) TaskProcessed(outcome string) {
	c.analysisTasks.WithLabelValues(outcome).Inc()
}

// ConnectionOpened and ConnectionClosed track live websocket clients.
func (c *Collector) ConnectionOpened() {
	c.activeSessions.Inc()
}

func (c *Collector) ConnectionClosed() {
	c.activeSessions.Dec()
}
