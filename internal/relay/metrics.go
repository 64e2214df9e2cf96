package relay

import "github.com/prometheus/client_golang/prometheus"

// Event delivery outcomes.
const (
	resultDelivered = "delivered"
	resultMissed    = "missed"
	resultError     = "error"
)

var (
	connectionsOpen = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "partstock_relay_connections",
			Help: "Number of bound subscriber connections.",
		},
	)

	eventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "partstock_relay_events_total",
			Help: "Outbound events by delivery result.",
		},
		[]string{"result"},
	)

	connectsRejected = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "partstock_relay_connects_rejected_total",
			Help: "Connect callbacks rejected as unroutable.",
		},
	)

	hubDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "partstock_relay_hub_dropped_total",
			Help: "Events dropped by the in-process hub for slow subscribers.",
		},
	)
)

func init() {
	prometheus.MustRegister(connectionsOpen)
	prometheus.MustRegister(eventsTotal)
	prometheus.MustRegister(connectsRejected)
	prometheus.MustRegister(hubDropped)

	for _, r := range []string{resultDelivered, resultMissed, resultError} {
		eventsTotal.WithLabelValues(r)
	}
}
