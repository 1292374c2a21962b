// Package telemetry registers the Prometheus counters/histograms the
// system exposes on /metrics, alongside the request-level instrumentation
// github.com/rakunlabs/ada/middleware/telemetry already wires into the
// webhook mux. This package owns the domain-specific series (posts,
// errors, provider durations, rate-limit hits, active connections); the
// ada middleware owns generic HTTP request metrics.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	PostsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crosspost_posts_total",
		Help: "Total posts dispatched, labeled by provider, account, and outcome.",
	}, []string{"provider", "account", "outcome"})

	ErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crosspost_errors_total",
		Help: "Total errors encountered, labeled by component and kind.",
	}, []string{"component", "kind"})

	ProviderExecutionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "crosspost_provider_execution_duration_seconds",
		Help:    "Time spent generating messages in a provider invocation.",
		Buckets: prometheus.DefBuckets,
	}, []string{"provider"})

	RateLimitHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crosspost_rate_limit_hits_total",
		Help: "Total requests/ticks rejected by a rate limiter, labeled by scope.",
	}, []string{"scope"})

	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "crosspost_active_connections",
		Help: "Current number of in-flight webhook requests.",
	})
)

// Handler returns the standard Prometheus scrape endpoint handler.
func Handler() http.HandlerFunc {
	h := promhttp.Handler()
	return func(w http.ResponseWriter, r *http.Request) {
		h.ServeHTTP(w, r)
	}
}

// TrackConnection increments ActiveConnections and returns a func to
// decrement it; callers defer the returned func for the request's
// lifetime.
func TrackConnection() func() {
	ActiveConnections.Inc()
	return ActiveConnections.Dec
}
