package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TransitionsAccepted = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "transitions_accepted_total", Help: "Accepted booking status transitions"},
		[]string{"from", "to"},
	)
	TransitionsRejected = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "transitions_rejected_total", Help: "Rejected booking status transition requests"})

	NotificationsSent   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "notifications_sent_total", Help: "Notification sends that succeeded"})
	NotificationsFailed = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "notifications_failed_total", Help: "Notification sends that failed"})

	FeedEventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "feed_events_published_total", Help: "Change feed events published"},
		[]string{"topic"},
	)
	FeedEventsApplied = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "feed_events_applied_total", Help: "Change feed events applied to projections"},
		[]string{"topic"},
	)

	MarkersCreated = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "markers_created_total", Help: "Rendered markers created"})
	MarkersRemoved = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "markers_removed_total", Help: "Rendered markers removed"})

	DriversOnline      = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "ride_dispatch", Name: "drivers_online", Help: "Drivers currently online"})
	LocationsThrottled = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "locations_throttled_total", Help: "Driver location pushes coalesced by the throttle"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ride_dispatch",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
