package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	IntegrationFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "linkplane_integration_failed_total",
			Help: "Number of times a package integration has failed",
		},
		[]string{"package", "error_type"},
	)

	IntegrationSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "linkplane_integration_skipped_total",
			Help: "Number of times a package integration was skipped by policy",
		},
		[]string{"package", "reason"},
	)

	IntegrationCount = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "linkplane_integration_count_total",
			Help: "Total number of package integrations run",
		},
	)

	IntegrationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "linkplane_integration_duration_seconds",
			Help:    "Package integration duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.2, 0.5, 1, 2, 5, 10},
		},
		[]string{"package"},
	)

	LastIntegrationStart = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "linkplane_last_integration_start_timestamp",
			Help: "Unix timestamp of when the last integration started",
		},
		[]string{"package"},
	)

	LastIntegrationEnd = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "linkplane_last_integration_end_timestamp",
			Help: "Unix timestamp of when the last integration ended",
		},
		[]string{"package"},
	)
)

func IntegrationSucceeded(pkg string, start time.Time) {
	IntegrationCount.Inc()
	IntegrationDuration.WithLabelValues(pkg).Observe(time.Since(start).Seconds())
	LastIntegrationStart.WithLabelValues(pkg).Set(float64(start.Unix()))
	LastIntegrationEnd.WithLabelValues(pkg).Set(float64(time.Now().Unix()))
}
