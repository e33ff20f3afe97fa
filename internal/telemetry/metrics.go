// Package telemetry holds the Prometheus collectors for the engine and the API.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	CyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inkframe_cycles_total",
		Help: "Display cycles by trigger reason and outcome.",
	}, []string{"reason", "outcome"})

	CycleDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "inkframe_cycle_duration_seconds",
		Help:    "Time spent holding the orchestration lock per cycle.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
	}, []string{"reason"})

	CyclesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inkframe_cycles_dropped_total",
		Help: "Triggers dropped or coalesced without running their own cycle.",
	}, []string{"reason"})

	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inkframe_cache_lookups_total",
		Help: "Artifact cache lookups by result (hit, miss).",
	}, []string{"result"})

	GenerationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inkframe_generation_failures_total",
		Help: "Generator failures by plugin.",
	}, []string{"plugin"})

	GenerationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "inkframe_generation_duration_seconds",
		Help:    "Generator wall time by plugin.",
		Buckets: prometheus.DefBuckets,
	}, []string{"plugin"})

	PushAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inkframe_push_attempts_total",
		Help: "Display push attempts by result (ok, error).",
	}, []string{"result"})

	DisplayStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "inkframe_display_status",
		Help: "1 for the display's current status, 0 otherwise.",
	}, []string{"status"})

	APIRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inkframe_api_requests_total",
		Help: "API requests by method, route and status code.",
	}, []string{"method", "route", "status"})

	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "inkframe_api_request_duration_seconds",
		Help:    "API request latency by method and route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})
)

// Handler exposes the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetDisplayStatus marks status as the only active display status.
func SetDisplayStatus(status string, all []string) {
	for _, s := range all {
		v := 0.0
		if s == status {
			v = 1
		}
		DisplayStatus.WithLabelValues(s).Set(v)
	}
}
