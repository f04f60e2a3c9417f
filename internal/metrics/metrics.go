package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Registry metrics
	LinksCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "links_created_total",
			Help: "Total number of links created",
		},
		[]string{"source"}, // "alias" or "generated"
	)

	LinksResolved = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "links_resolved_total",
			Help: "Total number of successful resolves",
		},
	)

	CodeCollisions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "code_generation_collisions_total",
			Help: "Generated codes that were already taken",
		},
	)

	GenerationExhausted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "code_generation_exhausted_total",
			Help: "Creates that ran out of generation attempts",
		},
	)

	LinksPurged = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "links_purged_total",
			Help: "Expired links removed by the sweeper",
		},
	)

	// Request metrics
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Request duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "status"},
	)

	RequestTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of requests",
		},
		[]string{"method", "status"},
	)
)
