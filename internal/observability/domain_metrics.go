package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "text2sql_runs_total",
			Help: "Total number of question runs by terminal outcome.",
		},
		[]string{"outcome"},
	)
	runAttempts = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "text2sql_run_attempts",
			Help:    "Number of executed SQL attempts per run.",
			Buckets: []float64{0, 1, 2, 3, 4, 5, 6, 8, 10},
		},
	)
	runDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "text2sql_run_duration_seconds",
			Help:    "Wall time of a full generate, execute and repair run.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		},
	)
	authRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "text2sql_auth_rejections_total",
			Help: "Requests rejected by API key authentication, by reason.",
		},
		[]string{"reason"},
	)
	schemaTables = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "text2sql_schema_tables",
			Help: "Number of tables in the current schema context.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		runsTotal,
		runAttempts,
		runDurationSeconds,
		authRejectionsTotal,
		schemaTables,
	)
}

func ObserveRun(outcome string, attempts int, elapsed time.Duration) {
	runsTotal.WithLabelValues(outcome).Inc()
	runAttempts.Observe(float64(attempts))
	runDurationSeconds.Observe(elapsed.Seconds())
}

func SetSchemaTables(count int) {
	if count < 0 {
		count = 0
	}
	schemaTables.Set(float64(count))
}

func ObserveAuthRejection(reason string) {
	authRejectionsTotal.WithLabelValues(reason).Inc()
}

// AuthRejections exposes the rejection counter for one reason.
func AuthRejections(reason string) prometheus.Counter {
	return authRejectionsTotal.WithLabelValues(reason)
}
