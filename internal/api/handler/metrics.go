package handler

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/chainledger/internal/archive"
	"github.com/jmerrifield20/chainledger/internal/ledger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	chainRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chainledger_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	chainRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chainledger_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	chainDispatchActionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chainledger_dispatch_actions_total",
		Help: "Dispatched actions by outcome (ok or error kind).",
	}, []string{"outcome"})

	chainArchiveEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chainledger_archive_events_total",
		Help: "Archival events: provisioned, topped_up, archived, blocked.",
	}, []string{"event"})

	chainWebhookDeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chainledger_webhook_deliveries_total",
		Help: "Webhook delivery attempts by result.",
	}, []string{"result"})

	chainShardAvailable = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "chainledger_shard_available",
		Help: "1 if the shard answered its last probe, 0 otherwise.",
	}, []string{"shard"})

	chainLogLength = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chainledger_log_length",
		Help: "Total number of blocks ever appended.",
	})

	chainLiveBlocks = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chainledger_live_blocks",
		Help: "Blocks held in the ledger's live store.",
	})

	chainArchivedRecords = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chainledger_archived_records",
		Help: "Archived windows recorded in the shard registry.",
	})
)

// PrometheusMiddleware returns a Gin middleware that records per-request metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		method := c.Request.Method
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		chainRequestsTotal.WithLabelValues(method, path, status).Inc()
		chainRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordDispatch counts one dispatched action. It satisfies ledger.DispatchRecordFunc.
func RecordDispatch(outcome string) {
	chainDispatchActionsTotal.WithLabelValues(outcome).Inc()
}

// RecordArchiveEvent satisfies archive.MetricsRecordFunc.
func RecordArchiveEvent(event string) {
	chainArchiveEventsTotal.WithLabelValues(event).Inc()
}

// RecordWebhookDelivery satisfies webhooks.MetricsRecorder.
func RecordWebhookDelivery(success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	chainWebhookDeliveriesTotal.WithLabelValues(result).Inc()
}

// RecordShardStatus satisfies archive.StatusRecordFunc.
func RecordShardStatus(ref archive.ShardRef, available bool) {
	v := 0.0
	if available {
		v = 1
	}
	chainShardAvailable.WithLabelValues(string(ref)).Set(v)
}

// SetLedgerGauges publishes a stats snapshot.
func SetLedgerGauges(s ledger.Stats) {
	chainLogLength.Set(float64(s.LogLength))
	chainLiveBlocks.Set(float64(s.LiveBlocks))
	chainArchivedRecords.Set(float64(s.ArchivedRecords))
}
