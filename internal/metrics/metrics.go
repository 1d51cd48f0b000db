package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	syncRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_runs_total",
			Help: "Total number of sync runs by final status.",
		},
		[]string{"resource_type", "status"},
	)
	syncRunDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sync_run_duration_seconds",
			Help:    "Histogram of sync run durations.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"resource_type"},
	)
	syncItemsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_items_total",
			Help: "Total number of items processed by sync runs.",
		},
		[]string{"resource_type", "result"},
	)
	marketplaceRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketplace_requests_total",
			Help: "Total number of marketplace API requests.",
		},
		[]string{"account", "status"},
	)
)

func init() {
	prometheus.MustRegister(syncRunsTotal)
	prometheus.MustRegister(syncRunDuration)
	prometheus.MustRegister(syncItemsTotal)
	prometheus.MustRegister(marketplaceRequestsTotal)
}

// RecordRun records the outcome and duration of one sync run.
func RecordRun(resourceType, status string, duration time.Duration) {
	syncRunsTotal.WithLabelValues(resourceType, status).Inc()
	syncRunDuration.WithLabelValues(resourceType).Observe(duration.Seconds())
}

// RecordItems records per-item outcomes of one sync run.
func RecordItems(resourceType string, created, updated, failed, skipped int) {
	syncItemsTotal.WithLabelValues(resourceType, "created").Add(float64(created))
	syncItemsTotal.WithLabelValues(resourceType, "updated").Add(float64(updated))
	syncItemsTotal.WithLabelValues(resourceType, "failed").Add(float64(failed))
	syncItemsTotal.WithLabelValues(resourceType, "skipped").Add(float64(skipped))
}

// RecordAPIRequest records one marketplace API request by status class.
func RecordAPIRequest(account string, statusCode int) {
	marketplaceRequestsTotal.WithLabelValues(account, classifyStatus(statusCode)).Inc()
}

func classifyStatus(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return "2xx"
	case statusCode >= 300 && statusCode < 400:
		return "3xx"
	case statusCode >= 400 && statusCode < 500:
		return "4xx"
	case statusCode >= 500 && statusCode < 600:
		return "5xx"
	}
	return "unknown"
}

// Handler exposes the prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
