package snowhttp

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snowhttp_requests_total",
			Help: "Requests dispatched, by method",
		},
		[]string{"method"},
	)

	requestsCompleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "snowhttp_requests_completed_total",
			Help: "Requests whose callback was delivered a body",
		},
	)

	requestsFailed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "snowhttp_requests_failed_total",
			Help: "Requests whose callback was delivered an error",
		},
	)

	requestsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "snowhttp_requests_dropped_total",
			Help: "Do calls refused because the pool was exhausted",
		},
	)

	requestsQueued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "snowhttp_requests_queued_total",
			Help: "Enqueue calls that went to the pending queue",
		},
	)

	requestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "snowhttp_requests_in_flight",
			Help: "Slots currently owning a live connection",
		},
	)

	sessionRenewals = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "snowhttp_session_renewals_total",
			Help: "Session renewal rounds, counted per host",
		},
	)
)
