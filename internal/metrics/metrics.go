// Package metrics holds the service's Prometheus collectors. They register
// with the default registry at init and are served by promhttp at /metrics.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	operationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vectorstore_operations_total",
			Help: "Vector store lifecycle operations by outcome",
		},
		[]string{"operation", "outcome"},
	)

	operationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vectorstore_operation_duration_seconds",
			Help:    "Duration of vector store lifecycle operations",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 16),
		},
		[]string{"operation"},
	)

	indexedChunks = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vectorstore_indexed_chunks",
		Help: "Number of chunks currently in the vector index",
	})

	rebuildJobs = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vectorstore_rebuild_jobs",
			Help: "Rebuild jobs by status",
		},
		[]string{"status"},
	)

	httpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)

// ObserveOperation records one finished operation. A nil err counts as success.
func ObserveOperation(op string, started time.Time, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	operationsTotal.WithLabelValues(op, outcome).Inc()
	operationDuration.WithLabelValues(op).Observe(time.Since(started).Seconds())
}

func SetIndexedChunks(n int) {
	indexedChunks.Set(float64(n))
}

func RebuildStarted() {
	rebuildJobs.WithLabelValues("processing").Inc()
}

func RebuildFinished(status string) {
	rebuildJobs.WithLabelValues("processing").Dec()
	rebuildJobs.WithLabelValues(status).Inc()
}

func ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	httpDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(elapsed.Seconds())
}
