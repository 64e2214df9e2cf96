package lifecycle

import "github.com/prometheus/client_golang/prometheus"

var (
	shutdownDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "partstock_shutdown_duration_seconds",
			Help:    "Wall time of the shutdown sequence, in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)

	waiterFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "partstock_shutdown_waiter_failures_total",
			Help: "Shutdown waiters that failed or exceeded their budget.",
		},
		[]string{"waiter"},
	)
)

func init() {
	prometheus.MustRegister(shutdownDuration)
	prometheus.MustRegister(waiterFailures)
}
