package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MatchRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "washer_matching", Name: "match_requests_total", Help: "Matching requests by operation and outcome"},
		[]string{"operation", "outcome"},
	)
	MatchLatency         = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: "washer_matching", Name: "match_latency_seconds", Help: "Match latency seconds"})
	CandidatesConsidered = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: "washer_matching", Name: "candidates_considered", Help: "Washers in the pool snapshot per match", Buckets: prometheus.ExponentialBuckets(1, 2, 10)})
	WashersAvailable     = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "washer_matching", Name: "washers_available", Help: "Available washers with a known location"})

	BookingsCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "washer_matching", Name: "bookings_created_total", Help: "Bookings created by washer selection mode"},
		[]string{"mode"},
	)
	BookingFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "washer_matching", Name: "booking_failures_total", Help: "Booking creation failures by reason"},
		[]string{"reason"},
	)
	LocationUpdatesTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: "washer_matching", Name: "location_updates_total", Help: "Washer location updates accepted"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "washer_matching", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "washer_matching",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
