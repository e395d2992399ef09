package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ride_dispatch"

var (
	RidesCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "rides_created_total", Help: "Rides created, by source platform"},
		[]string{"source"},
	)
	Transitions = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "transitions_total", Help: "Ride status transitions committed"},
		[]string{"from", "to"},
	)
	NotificationsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "notifications_total", Help: "Notification records written"},
		[]string{"type"},
	)

	SweepRuns        = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "sweep_runs_total", Help: "Critical sweeps executed"})
	SweepEscalations = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "sweep_escalations_total", Help: "Rides escalated to critical"})
	SweepFailures    = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "sweep_failures_total", Help: "Per-ride escalation failures"})
	SweepDuration    = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "sweep_duration_seconds", Help: "Critical sweep latency seconds"})

	OffersCached = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "offer_searches_cached", Help: "Searches currently held in the offer cache"})

	MarketplaceCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "marketplace_calls_total", Help: "Marketplace operations by platform, operation and outcome"},
		[]string{"platform", "op", "outcome"},
	)

	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "events_published_total", Help: "Domain events handed to publishers"},
		[]string{"sink", "outcome"},
	)
	WSSessions = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "ws_sessions", Help: "Connected websocket sessions"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Outcome is the label value for a marketplace call result.
func Outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
